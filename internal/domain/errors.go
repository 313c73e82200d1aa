/**
 * @description
 * This file defines the error taxonomy for the delivery-service. Each error
 * is a sentinel so callers can branch with errors.Is, and each redemption
 * error maps to exactly one audit outcome and one stable HTTP status code.
 *
 * @notes
 * - Validation failures are expected, user-facing outcomes. They are audited
 *   but never logged as application errors.
 * - ErrStoreUnavailable is the only retryable kind; it signals an
 *   infrastructure fault, not a decision about the token.
 */

package domain

import "errors"

var (
	// ErrInvalidToken covers both unknown and malformed tokens. The two are
	// deliberately indistinguishable to avoid an enumeration oracle.
	ErrInvalidToken = errors.New("invalid token")

	// ErrUnauthorized means the token exists but the resolved requester is
	// not the buyer on the owning order.
	ErrUnauthorized = errors.New("requester does not own this entitlement")

	// ErrOrderNotPayable means the owning order's payment status is not
	// completed (pending, failed, or refunded).
	ErrOrderNotPayable = errors.New("order is not in completed payment status")

	// ErrSuperseded means a later regeneration retired this token.
	ErrSuperseded = errors.New("entitlement was superseded by a regeneration")

	// ErrExpired means the entitlement deadline has passed.
	ErrExpired = errors.New("entitlement has expired")

	// ErrLimitExceeded means every permitted use has been consumed,
	// including the case where the limit was hit by a concurrent request.
	ErrLimitExceeded = errors.New("entitlement use limit exceeded")

	// ErrRegenerationLimitExceeded is the issuer-side cap on reissuing
	// entitlements for one order item. It is an anti-abuse brake.
	ErrRegenerationLimitExceeded = errors.New("regeneration limit exceeded for order item")

	// ErrStoreUnavailable wraps failures to reach the persistent store.
	ErrStoreUnavailable = errors.New("entitlement store unavailable")

	// ErrOrderNotFound means the referenced order or order item does not
	// exist. Issuance-side only; redemption folds this into ErrInvalidToken.
	ErrOrderNotFound = errors.New("order not found")

	// ErrNoDeliverableFiles means issuance was requested for an item kind
	// that has no downloadable payload.
	ErrNoDeliverableFiles = errors.New("order item has no deliverable files")
)

// OutcomeForError maps a redemption error to its audit outcome. Unknown
// errors return "" and should be treated as infrastructure faults that
// produce no outcome row of their own.
func OutcomeForError(err error) AuditOutcome {
	switch {
	case errors.Is(err, ErrInvalidToken):
		return OutcomeInvalidToken
	case errors.Is(err, ErrUnauthorized):
		return OutcomeUnauthorized
	case errors.Is(err, ErrOrderNotPayable):
		return OutcomeOrderNotPayable
	case errors.Is(err, ErrSuperseded):
		return OutcomeSuperseded
	case errors.Is(err, ErrExpired):
		return OutcomeExpired
	case errors.Is(err, ErrLimitExceeded):
		return OutcomeLimitExceeded
	default:
		return ""
	}
}
