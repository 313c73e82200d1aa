/**
 * @description
 * This file contains the core business logic for the delivery-service. The
 * `Service` struct covers the full entitlement lifecycle: issuance when an
 * order's payment completes, buyer-initiated regeneration, and the
 * validate-then-consume redemption flow.
 *
 * Key features:
 * - Issuance is idempotent per (order item, file): re-invoking returns the
 *   existing live entitlements instead of silently double-issuing.
 * - Redemption validates ownership, payment state, supersession, expiry and
 *   remaining uses, then delegates the mutating step to the repository's
 *   atomic conditional update. A limit lost to a concurrent request is
 *   reported as LimitExceeded even though validation passed moments before.
 * - Every redemption attempt writes exactly one audit record, durably,
 *   before the result is returned.
 *
 * @dependencies
 * - context, errors, time: Standard Go libraries.
 * - github.com/google/uuid: For UUID generation.
 * - internal/domain, internal/store, internal/token: Domain models, data
 *   access, and the token codec.
 */

package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/kitestore/delivery-service/internal/domain"
	"github.com/kitestore/delivery-service/internal/store"
	"github.com/kitestore/delivery-service/internal/token"
)

// EventPublisher is the subset of the message producer the service needs.
type EventPublisher interface {
	Publish(ctx context.Context, exchange, routingKey string, body interface{}) error
}

// Options carries the policy knobs applied by the service. Values come from
// configuration; zero fields fall back to the documented defaults.
type Options struct {
	ExpiryOffset       time.Duration
	MaxUses            int
	RegenerationLimit  int
	FileAccessTTL      time.Duration
	AllowAnonymous     bool
	AbuseWindow        time.Duration
	AbuseThreshold     int
	AbuseSignalRouting string
	AbuseExchange      string
	SweepPageSize      int
}

const (
	defaultExpiryOffset  = 48 * time.Hour
	defaultMaxUses       = 5
	defaultRegenLimit    = 3
	defaultFileAccessTTL = 5 * time.Minute
	defaultAbuseWindow   = 24 * time.Hour
	defaultAbuseThresh   = 3
	defaultSweepPageSize = 200

	// AbuseSignalRoutingKey is the advisory routing key for abuse events.
	AbuseSignalRoutingKey = "abuse.signal.detected"
)

// Service provides the business logic for entitlement management.
type Service struct {
	repo      store.Repository
	publisher EventPublisher
	opts      Options

	// now is injectable so expiry boundaries can be tested exactly.
	now func() time.Time
}

// NewService creates a new delivery service instance.
func NewService(repo store.Repository, publisher EventPublisher, opts Options) *Service {
	if opts.ExpiryOffset <= 0 {
		opts.ExpiryOffset = defaultExpiryOffset
	}
	if opts.MaxUses <= 0 {
		opts.MaxUses = defaultMaxUses
	}
	if opts.RegenerationLimit <= 0 {
		opts.RegenerationLimit = defaultRegenLimit
	}
	if opts.FileAccessTTL <= 0 {
		opts.FileAccessTTL = defaultFileAccessTTL
	}
	if opts.AbuseWindow <= 0 {
		opts.AbuseWindow = defaultAbuseWindow
	}
	if opts.AbuseThreshold <= 0 {
		opts.AbuseThreshold = defaultAbuseThresh
	}
	if opts.SweepPageSize <= 0 {
		opts.SweepPageSize = defaultSweepPageSize
	}
	if opts.AbuseSignalRouting == "" {
		opts.AbuseSignalRouting = AbuseSignalRoutingKey
	}
	return &Service{
		repo:      repo,
		publisher: publisher,
		opts:      opts,
		now:       time.Now,
	}
}

// IssueForOrderItem creates one entitlement per deliverable file for a
// freshly fulfilled order item. Files that already carry a live entitlement
// get the existing one back unchanged; fresh tokens require an explicit
// regeneration.
func (s *Service) IssueForOrderItem(ctx context.Context, orderID, orderItemID uuid.UUID, fileIDs []uuid.UUID) ([]domain.Entitlement, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !order.IsPayable() {
		return nil, domain.ErrOrderNotPayable
	}

	item, err := s.repo.GetOrderItem(ctx, orderItemID)
	if err != nil {
		return nil, err
	}
	if item.OrderID != orderID {
		return nil, domain.ErrOrderNotFound
	}
	if item.Kind != domain.ItemKindProduct {
		// Service line items carry no downloadable payload.
		return nil, domain.ErrNoDeliverableFiles
	}
	if len(fileIDs) == 0 {
		return nil, domain.ErrNoDeliverableFiles
	}

	live, err := s.repo.ListLiveEntitlementsByItem(ctx, orderItemID)
	if err != nil {
		return nil, err
	}
	liveByFile := make(map[uuid.UUID]domain.Entitlement, len(live))
	for _, e := range live {
		liveByFile[e.FileID] = e
	}

	now := s.now()
	out := make([]domain.Entitlement, 0, len(fileIDs))
	for _, fileID := range fileIDs {
		if existing, ok := liveByFile[fileID]; ok {
			out = append(out, existing)
			continue
		}

		e := domain.Entitlement{
			ID:          uuid.New(),
			Token:       token.New(),
			OrderID:     orderID,
			OrderItemID: orderItemID,
			FileID:      fileID,
			ExpiresAt:   now.Add(s.opts.ExpiryOffset),
			MaxUses:     s.opts.MaxUses,
			UsedCount:   0,
			CreatedAt:   now,
		}
		created, err := s.repo.CreateEntitlement(ctx, &e)
		if err != nil {
			return nil, err
		}
		if !created {
			// A concurrent issuance won the insert; return its entitlement.
			refreshed, err := s.repo.ListLiveEntitlementsByItem(ctx, orderItemID)
			if err != nil {
				return nil, err
			}
			for _, r := range refreshed {
				if r.FileID == fileID {
					e = r
					break
				}
			}
		}
		out = append(out, e)
	}
	return out, nil
}

// Regenerate retires every live entitlement on the order item and issues
// fresh tokens with reset counters. The per-file issuance count is capped at
// the original plus the configured regeneration limit; hitting the cap is a
// deliberate anti-abuse brake.
func (s *Service) Regenerate(ctx context.Context, buyerID string, orderID, orderItemID uuid.UUID) ([]domain.Entitlement, error) {
	order, err := s.repo.GetOrder(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if order.BuyerID != buyerID {
		return nil, domain.ErrUnauthorized
	}
	if !order.IsPayable() {
		return nil, domain.ErrOrderNotPayable
	}

	item, err := s.repo.GetOrderItem(ctx, orderItemID)
	if err != nil {
		return nil, err
	}
	if item.OrderID != orderID {
		return nil, domain.ErrOrderNotFound
	}

	live, err := s.repo.ListLiveEntitlementsByItem(ctx, orderItemID)
	if err != nil {
		return nil, err
	}
	if len(live) == 0 {
		return nil, domain.ErrOrderNotFound
	}

	// Check every ceiling before superseding anything, so a partial
	// regeneration is never observable.
	for _, e := range live {
		count, err := s.repo.CountEntitlementsByItemFile(ctx, orderItemID, e.FileID)
		if err != nil {
			return nil, err
		}
		if count >= 1+s.opts.RegenerationLimit {
			return nil, domain.ErrRegenerationLimitExceeded
		}
	}

	now := s.now()
	out := make([]domain.Entitlement, 0, len(live))
	for _, old := range live {
		if err := s.repo.SupersedeEntitlement(ctx, old.ID, now); err != nil {
			return nil, err
		}

		oldID := old.ID
		fresh := domain.Entitlement{
			ID:             uuid.New(),
			Token:          token.New(),
			OrderID:        orderID,
			OrderItemID:    orderItemID,
			FileID:         old.FileID,
			ExpiresAt:      now.Add(s.opts.ExpiryOffset),
			MaxUses:        s.opts.MaxUses,
			UsedCount:      0,
			CreatedAt:      now,
			RegenerationOf: &oldID,
		}
		if _, err := s.repo.CreateEntitlement(ctx, &fresh); err != nil {
			return nil, err
		}
		out = append(out, fresh)
	}
	return out, nil
}

// Redeem runs the full redemption flow: validation in fixed order, then the
// atomic consumption step. Exactly one audit record is written per attempt,
// before any result is returned to the caller.
func (s *Service) Redeem(ctx context.Context, tok string, requesterID *string, origin string) (*domain.FileAccess, error) {
	// Malformed and unknown tokens are indistinguishable to the caller.
	if !token.WellFormed(tok) {
		if err := s.audit(ctx, tok, requesterID, origin, domain.OutcomeInvalidToken, nil); err != nil {
			return nil, err
		}
		return nil, domain.ErrInvalidToken
	}

	e, err := s.repo.GetEntitlementByToken(ctx, tok)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidToken) {
			if auditErr := s.audit(ctx, tok, requesterID, origin, domain.OutcomeInvalidToken, nil); auditErr != nil {
				return nil, auditErr
			}
		}
		return nil, err
	}

	if err := s.validateForRedemption(ctx, e, requesterID); err != nil {
		outcome := domain.OutcomeForError(err)
		if outcome == "" {
			// Infrastructure fault mid-validation; no outcome to record.
			return nil, err
		}
		if auditErr := s.audit(ctx, tok, requesterID, origin, outcome, e); auditErr != nil {
			return nil, auditErr
		}
		return nil, err
	}

	// Authoritative gate: the conditional update either takes a slot or
	// reports the limit was hit concurrently.
	_, consumed, err := s.repo.ConsumeEntitlement(ctx, tok)
	if err != nil {
		return nil, err
	}
	if !consumed {
		if auditErr := s.audit(ctx, tok, requesterID, origin, domain.OutcomeLimitExceeded, e); auditErr != nil {
			return nil, auditErr
		}
		return nil, domain.ErrLimitExceeded
	}

	if err := s.audit(ctx, tok, requesterID, origin, domain.OutcomeSuccess, e); err != nil {
		return nil, err
	}

	return &domain.FileAccess{
		FileID:    e.FileID,
		Reference: token.New(),
		ExpiresAt: s.now().Add(s.opts.FileAccessTTL),
	}, nil
}

// validateForRedemption applies the read-only checks in their fixed order.
// The mutating consumption step is deliberately not here; see Redeem.
func (s *Service) validateForRedemption(ctx context.Context, e *domain.Entitlement, requesterID *string) error {
	order, err := s.repo.GetOrder(ctx, e.OrderID)
	if err != nil {
		if errors.Is(err, domain.ErrOrderNotFound) {
			return fmt.Errorf("entitlement %s references missing order: %w", e.ID, domain.ErrStoreUnavailable)
		}
		return err
	}

	if requesterID != nil {
		if order.BuyerID != *requesterID {
			return domain.ErrUnauthorized
		}
	} else if !s.opts.AllowAnonymous {
		return domain.ErrUnauthorized
	}

	if !order.IsPayable() {
		return domain.ErrOrderNotPayable
	}
	if e.IsSuperseded() {
		return domain.ErrSuperseded
	}
	if e.IsExpired(s.now()) {
		return domain.ErrExpired
	}
	if e.IsExhausted() {
		return domain.ErrLimitExceeded
	}
	return nil
}

// audit appends the single record for this redemption attempt. Order and
// file context are attached only when the token resolved to an entitlement.
func (s *Service) audit(ctx context.Context, tok string, requesterID *string, origin string, outcome domain.AuditOutcome, e *domain.Entitlement) error {
	rec := domain.AuditRecord{
		ID:          uuid.New(),
		Token:       tok,
		RequesterID: requesterID,
		Origin:      origin,
		Outcome:     outcome,
		CreatedAt:   s.now(),
	}
	if e != nil {
		orderID := e.OrderID
		fileID := e.FileID
		rec.OrderID = &orderID
		rec.FileID = &fileID
	}
	return s.repo.CreateAuditRecord(ctx, &rec)
}
