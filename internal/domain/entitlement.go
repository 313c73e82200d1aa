/**
 * @description
 * This file defines the core domain models for the delivery-service.
 * The central entity is the Entitlement: a token-bound right to download a
 * specific purchased file a bounded number of times before a deadline.
 *
 * @notes
 * - Tokens are opaque lookup keys, never self-describing. They are generated
 *   by the internal/token package and are globally unique.
 * - An entitlement is never hard-deleted. It retires by expiry, exhaustion,
 *   or supersession so that audit history stays coherent.
 */

package domain

import (
	"time"

	"github.com/google/uuid"
)

// Entitlement represents one issued download privilege. This struct maps
// directly to the `entitlements` table in the database.
type Entitlement struct {
	ID             uuid.UUID  `json:"id"`
	Token          string     `json:"token"`
	OrderID        uuid.UUID  `json:"order_id"`
	OrderItemID    uuid.UUID  `json:"order_item_id"`
	FileID         uuid.UUID  `json:"file_id"`
	ExpiresAt      time.Time  `json:"expires_at"`
	MaxUses        int        `json:"max_uses"`
	UsedCount      int        `json:"used_count"`
	CreatedAt      time.Time  `json:"created_at"`
	SupersededAt   *time.Time `json:"superseded_at,omitempty"`
	RegenerationOf *uuid.UUID `json:"regeneration_of,omitempty"`
}

// IsExpired reports whether the entitlement can no longer be redeemed
// because its deadline has passed. The boundary is inclusive: a redemption
// at exactly ExpiresAt is already expired.
func (e *Entitlement) IsExpired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// IsExhausted reports whether every permitted use has been consumed.
func (e *Entitlement) IsExhausted() bool {
	return e.UsedCount >= e.MaxUses
}

// IsSuperseded reports whether a later regeneration has retired this token.
func (e *Entitlement) IsSuperseded() bool {
	return e.SupersededAt != nil
}

// IssuancePolicy carries the tunables applied when new entitlements are
// created. Values come from service configuration, not from callers.
type IssuancePolicy struct {
	ExpiryOffset      time.Duration
	MaxUses           int
	RegenerationLimit int
}

// FileAccess is the short-lived reference returned by a successful
// redemption. It is handed to the external file-serving collaborator; the
// delivery-service never exposes raw storage URLs.
type FileAccess struct {
	FileID    uuid.UUID `json:"file_id"`
	Reference string    `json:"reference"`
	ExpiresAt time.Time `json:"expires_at"`
}
