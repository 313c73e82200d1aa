/**
 * @description
 * This file defines the `Repository` interface, the contract for all data
 * access the delivery-service needs. The interface decouples business logic
 * from the PostgreSQL implementation so the service layer can be tested
 * against in-memory fakes.
 *
 * @dependencies
 * - context, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID handling.
 * - internal/domain: For the service's domain models.
 */

package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/kitestore/delivery-service/internal/domain"
)

// Repository defines the set of methods for interacting with the database.
type Repository interface {
	// Order methods (read-only; the order system owns these tables).
	GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error)
	GetOrderItem(ctx context.Context, orderItemID uuid.UUID) (*domain.OrderItem, error)

	// Entitlement methods.
	GetEntitlementByToken(ctx context.Context, tok string) (*domain.Entitlement, error)
	ListLiveEntitlementsByItem(ctx context.Context, orderItemID uuid.UUID) ([]domain.Entitlement, error)
	CountEntitlementsByItemFile(ctx context.Context, orderItemID, fileID uuid.UUID) (int, error)
	// CreateEntitlement inserts a new entitlement. It returns false without
	// inserting when a live (non-superseded) entitlement already exists for
	// the same (order item, file) pair, which makes issuance idempotent.
	CreateEntitlement(ctx context.Context, e *domain.Entitlement) (bool, error)
	SupersedeEntitlement(ctx context.Context, entitlementID uuid.UUID, at time.Time) error
	// ConsumeEntitlement atomically increments used_count if and only if
	// used_count < max_uses. It returns the remaining uses after the
	// increment and whether the increment happened. This single statement is
	// the authoritative gate against concurrent over-consumption.
	ConsumeEntitlement(ctx context.Context, tok string) (remaining int, consumed bool, err error)

	// Audit log methods (append-only).
	CreateAuditRecord(ctx context.Context, rec *domain.AuditRecord) error
	CountDistinctOriginsSince(ctx context.Context, tok string, since time.Time) (int, error)
	ListRedeemedTokensSince(ctx context.Context, since time.Time, limit, offset int) ([]string, error)
}
