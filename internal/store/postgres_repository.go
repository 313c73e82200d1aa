/**
 * @description
 * This file implements the `Repository` interface against PostgreSQL using
 * the pgx driver. All SQL for the delivery-service lives here.
 *
 * Key features:
 * - ConsumeEntitlement is one conditional UPDATE, so concurrent redemptions
 *   of the same token can never push used_count past max_uses.
 * - CreateEntitlement relies on a partial unique index over live
 *   (non-superseded) entitlements to keep issuance idempotent per
 *   (order item, file) without an application-level lock.
 * - Unexpected driver errors are wrapped in domain.ErrStoreUnavailable so
 *   callers can distinguish infrastructure faults from validation outcomes.
 *
 * @dependencies
 * - github.com/jackc/pgx/v5: PostgreSQL driver and connection pooling.
 * - internal/domain: Domain models and the error taxonomy.
 */

package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/kitestore/delivery-service/internal/domain"
)

// uniqueViolation is the SQLSTATE for unique constraint violations.
const uniqueViolation = "23505"

// PostgresRepository is the pgx-backed implementation of Repository.
type PostgresRepository struct {
	db *pgxpool.Pool
}

// NewPostgresRepository creates a new repository from an injected pool. The
// pool's lifecycle (open at startup, close at shutdown) belongs to main.
func NewPostgresRepository(db *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{db: db}
}

// storeErr wraps an unexpected driver error so errors.Is matches
// domain.ErrStoreUnavailable while the original message is preserved.
func storeErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, domain.ErrStoreUnavailable, err)
}

// GetOrder fetches the read-only order record for payment and ownership
// checks.
func (r *PostgresRepository) GetOrder(ctx context.Context, orderID uuid.UUID) (*domain.Order, error) {
	var o domain.Order
	query := `
        SELECT id, buyer_id, payment_status, created_at
        FROM orders
        WHERE id = $1
    `
	err := r.db.QueryRow(ctx, query, orderID).Scan(&o.ID, &o.BuyerID, &o.PaymentStatus, &o.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, storeErr("get order", err)
	}
	return &o, nil
}

// GetOrderItem fetches one purchased line item.
func (r *PostgresRepository) GetOrderItem(ctx context.Context, orderItemID uuid.UUID) (*domain.OrderItem, error) {
	var item domain.OrderItem
	query := `
        SELECT id, order_id, kind, catalog_id
        FROM order_items
        WHERE id = $1
    `
	err := r.db.QueryRow(ctx, query, orderItemID).Scan(&item.ID, &item.OrderID, &item.Kind, &item.CatalogID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrOrderNotFound
		}
		return nil, storeErr("get order item", err)
	}
	return &item, nil
}

// GetEntitlementByToken looks an entitlement up by its opaque token.
func (r *PostgresRepository) GetEntitlementByToken(ctx context.Context, tok string) (*domain.Entitlement, error) {
	var e domain.Entitlement
	query := `
        SELECT id, token, order_id, order_item_id, file_id, expires_at,
               max_uses, used_count, created_at, superseded_at, regeneration_of
        FROM entitlements
        WHERE token = $1
    `
	err := r.db.QueryRow(ctx, query, tok).Scan(
		&e.ID,
		&e.Token,
		&e.OrderID,
		&e.OrderItemID,
		&e.FileID,
		&e.ExpiresAt,
		&e.MaxUses,
		&e.UsedCount,
		&e.CreatedAt,
		&e.SupersededAt,
		&e.RegenerationOf,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, domain.ErrInvalidToken
		}
		return nil, storeErr("get entitlement by token", err)
	}
	return &e, nil
}

// ListLiveEntitlementsByItem returns the non-superseded entitlements for an
// order item, ordered by file so regeneration output is stable.
func (r *PostgresRepository) ListLiveEntitlementsByItem(ctx context.Context, orderItemID uuid.UUID) ([]domain.Entitlement, error) {
	query := `
        SELECT id, token, order_id, order_item_id, file_id, expires_at,
               max_uses, used_count, created_at, superseded_at, regeneration_of
        FROM entitlements
        WHERE order_item_id = $1 AND superseded_at IS NULL
        ORDER BY file_id, created_at
    `
	rows, err := r.db.Query(ctx, query, orderItemID)
	if err != nil {
		return nil, storeErr("list live entitlements", err)
	}
	defer rows.Close()

	var out []domain.Entitlement
	for rows.Next() {
		var e domain.Entitlement
		if err := rows.Scan(
			&e.ID,
			&e.Token,
			&e.OrderID,
			&e.OrderItemID,
			&e.FileID,
			&e.ExpiresAt,
			&e.MaxUses,
			&e.UsedCount,
			&e.CreatedAt,
			&e.SupersededAt,
			&e.RegenerationOf,
		); err != nil {
			return nil, storeErr("scan entitlement", err)
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list live entitlements", err)
	}
	return out, nil
}

// CountEntitlementsByItemFile counts every entitlement ever issued for one
// (order item, file) pair, superseded ones included. The regeneration
// ceiling is enforced against this count.
func (r *PostgresRepository) CountEntitlementsByItemFile(ctx context.Context, orderItemID, fileID uuid.UUID) (int, error) {
	var count int
	query := `
        SELECT COUNT(*)
        FROM entitlements
        WHERE order_item_id = $1 AND file_id = $2
    `
	if err := r.db.QueryRow(ctx, query, orderItemID, fileID).Scan(&count); err != nil {
		return 0, storeErr("count entitlements", err)
	}
	return count, nil
}

// CreateEntitlement inserts a new entitlement. The partial unique index
// entitlements_live_item_file_idx (order_item_id, file_id) WHERE
// superseded_at IS NULL turns a duplicate issuance into a no-op, reported
// as created=false.
func (r *PostgresRepository) CreateEntitlement(ctx context.Context, e *domain.Entitlement) (bool, error) {
	query := `
        INSERT INTO entitlements (
            id, token, order_id, order_item_id, file_id, expires_at,
            max_uses, used_count, created_at, regeneration_of
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
    `
	_, err := r.db.Exec(ctx, query,
		e.ID,
		e.Token,
		e.OrderID,
		e.OrderItemID,
		e.FileID,
		e.ExpiresAt,
		e.MaxUses,
		e.UsedCount,
		e.CreatedAt,
		e.RegenerationOf,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			// A live entitlement for this (item, file) already exists.
			return false, nil
		}
		return false, storeErr("create entitlement", err)
	}
	return true, nil
}

// SupersedeEntitlement retires a token. The WHERE guard keeps supersession
// one-way: an already superseded entitlement is never re-stamped.
func (r *PostgresRepository) SupersedeEntitlement(ctx context.Context, entitlementID uuid.UUID, at time.Time) error {
	query := `
        UPDATE entitlements
        SET superseded_at = $2
        WHERE id = $1 AND superseded_at IS NULL
    `
	if _, err := r.db.Exec(ctx, query, entitlementID, at); err != nil {
		return storeErr("supersede entitlement", err)
	}
	return nil
}

// ConsumeEntitlement is the race-safe consumption step. The condition and
// the increment execute in one statement, so two concurrent requests can
// never both take the last slot.
func (r *PostgresRepository) ConsumeEntitlement(ctx context.Context, tok string) (int, bool, error) {
	var remaining int
	query := `
        UPDATE entitlements
        SET used_count = used_count + 1
        WHERE token = $1 AND used_count < max_uses
        RETURNING max_uses - used_count
    `
	err := r.db.QueryRow(ctx, query, tok).Scan(&remaining)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			// Token unknown or limit already reached; the caller decides
			// which from its earlier validation read.
			return 0, false, nil
		}
		return 0, false, storeErr("consume entitlement", err)
	}
	return remaining, true, nil
}

// CreateAuditRecord appends one redemption attempt to the audit log. The
// insert is synchronous: the record is durable before any response leaves
// the service.
func (r *PostgresRepository) CreateAuditRecord(ctx context.Context, rec *domain.AuditRecord) error {
	query := `
        INSERT INTO audit_records (
            id, token, requester_id, origin, outcome, order_id, file_id, created_at
        )
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
    `
	_, err := r.db.Exec(ctx, query,
		rec.ID,
		rec.Token,
		rec.RequesterID,
		rec.Origin,
		rec.Outcome,
		rec.OrderID,
		rec.FileID,
		rec.CreatedAt,
	)
	if err != nil {
		return storeErr("create audit record", err)
	}
	return nil
}

// CountDistinctOriginsSince counts the distinct network origins among
// successful redemptions of one token inside the trailing window.
func (r *PostgresRepository) CountDistinctOriginsSince(ctx context.Context, tok string, since time.Time) (int, error) {
	var count int
	query := `
        SELECT COUNT(DISTINCT origin)
        FROM audit_records
        WHERE token = $1 AND outcome = 'success' AND created_at >= $2
    `
	if err := r.db.QueryRow(ctx, query, tok, since).Scan(&count); err != nil {
		return 0, storeErr("count distinct origins", err)
	}
	return count, nil
}

// ListRedeemedTokensSince pages through tokens with at least one successful
// redemption in the window, for the scheduled abuse sweep. Pagination keeps
// the sweep from loading unbounded history.
func (r *PostgresRepository) ListRedeemedTokensSince(ctx context.Context, since time.Time, limit, offset int) ([]string, error) {
	query := `
        SELECT DISTINCT token
        FROM audit_records
        WHERE outcome = 'success' AND created_at >= $1
        ORDER BY token
        LIMIT $2 OFFSET $3
    `
	rows, err := r.db.Query(ctx, query, since, limit, offset)
	if err != nil {
		return nil, storeErr("list redeemed tokens", err)
	}
	defer rows.Close()

	var tokens []string
	for rows.Next() {
		var tok string
		if err := rows.Scan(&tok); err != nil {
			return nil, storeErr("scan token", err)
		}
		tokens = append(tokens, tok)
	}
	if err := rows.Err(); err != nil {
		return nil, storeErr("list redeemed tokens", err)
	}
	return tokens, nil
}
