/**
 * @description
 * This file defines the audit log models. Every redemption attempt, success
 * or failure, produces exactly one AuditRecord. Records are append-only and
 * are the sole input to abuse detection and to customer support tooling.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// AuditOutcome labels the result of one redemption attempt.
type AuditOutcome string

const (
	OutcomeSuccess         AuditOutcome = "success"
	OutcomeInvalidToken    AuditOutcome = "invalid_token"
	OutcomeUnauthorized    AuditOutcome = "unauthorized"
	OutcomeOrderNotPayable AuditOutcome = "order_not_payable"
	OutcomeSuperseded      AuditOutcome = "superseded"
	OutcomeExpired         AuditOutcome = "expired"
	OutcomeLimitExceeded   AuditOutcome = "limit_exceeded"
)

// AuditRecord is the immutable log entry for one redemption attempt.
// Token keeps the raw presented value even when it resolved to nothing, so
// enumeration attempts remain visible. Order and file context are filled in
// only when the token resolved to an entitlement.
type AuditRecord struct {
	ID          uuid.UUID    `json:"id"`
	Token       string       `json:"token"`
	RequesterID *string      `json:"requester_id,omitempty"`
	Origin      string       `json:"origin"`
	Outcome     AuditOutcome `json:"outcome"`
	OrderID     *uuid.UUID   `json:"order_id,omitempty"`
	FileID      *uuid.UUID   `json:"file_id,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// AbuseSignal is the advisory result of scanning a token's audit history.
// It never revokes anything by itself; action is left to support tooling.
type AbuseSignal struct {
	Token           string    `json:"token"`
	WindowStart     time.Time `json:"window_start"`
	WindowEnd       time.Time `json:"window_end"`
	DistinctOrigins int       `json:"distinct_origins"`
	Threshold       int       `json:"threshold"`
	IsSuspicious    bool      `json:"is_suspicious"`
}
