package app

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kitestore/delivery-service/internal/domain"
)

// fakeRepository is a thread-safe in-memory Repository used by the service
// tests. ConsumeEntitlement mirrors the production conditional update: the
// check and the increment happen under one lock.
type fakeRepository struct {
	mu           sync.Mutex
	orders       map[uuid.UUID]domain.Order
	orderItems   map[uuid.UUID]domain.OrderItem
	entitlements map[uuid.UUID]domain.Entitlement
	audits       []domain.AuditRecord

	failConsume  bool
	failListLive bool
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		orders:       make(map[uuid.UUID]domain.Order),
		orderItems:   make(map[uuid.UUID]domain.OrderItem),
		entitlements: make(map[uuid.UUID]domain.Entitlement),
	}
}

func (f *fakeRepository) GetOrder(_ context.Context, orderID uuid.UUID) (*domain.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	o, ok := f.orders[orderID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &o, nil
}

func (f *fakeRepository) GetOrderItem(_ context.Context, orderItemID uuid.UUID) (*domain.OrderItem, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	item, ok := f.orderItems[orderItemID]
	if !ok {
		return nil, domain.ErrOrderNotFound
	}
	return &item, nil
}

func (f *fakeRepository) GetEntitlementByToken(_ context.Context, tok string) (*domain.Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.entitlements {
		if e.Token == tok {
			copied := e
			return &copied, nil
		}
	}
	return nil, domain.ErrInvalidToken
}

func (f *fakeRepository) ListLiveEntitlementsByItem(_ context.Context, orderItemID uuid.UUID) ([]domain.Entitlement, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failListLive {
		return nil, domain.ErrStoreUnavailable
	}
	var out []domain.Entitlement
	for _, e := range f.entitlements {
		if e.OrderItemID == orderItemID && e.SupersededAt == nil {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *fakeRepository) CountEntitlementsByItemFile(_ context.Context, orderItemID, fileID uuid.UUID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, e := range f.entitlements {
		if e.OrderItemID == orderItemID && e.FileID == fileID {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepository) CreateEntitlement(_ context.Context, e *domain.Entitlement) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.entitlements {
		if existing.OrderItemID == e.OrderItemID && existing.FileID == e.FileID && existing.SupersededAt == nil {
			return false, nil
		}
	}
	f.entitlements[e.ID] = *e
	return true, nil
}

func (f *fakeRepository) SupersedeEntitlement(_ context.Context, entitlementID uuid.UUID, at time.Time) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entitlements[entitlementID]
	if !ok || e.SupersededAt != nil {
		return nil
	}
	e.SupersededAt = &at
	f.entitlements[entitlementID] = e
	return nil
}

func (f *fakeRepository) ConsumeEntitlement(_ context.Context, tok string) (int, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failConsume {
		return 0, false, domain.ErrStoreUnavailable
	}
	for id, e := range f.entitlements {
		if e.Token != tok {
			continue
		}
		if e.UsedCount >= e.MaxUses {
			return 0, false, nil
		}
		e.UsedCount++
		f.entitlements[id] = e
		return e.MaxUses - e.UsedCount, true, nil
	}
	return 0, false, nil
}

func (f *fakeRepository) CreateAuditRecord(_ context.Context, rec *domain.AuditRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.audits = append(f.audits, *rec)
	return nil
}

func (f *fakeRepository) CountDistinctOriginsSince(_ context.Context, tok string, since time.Time) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	origins := make(map[string]struct{})
	for _, rec := range f.audits {
		if rec.Token == tok && rec.Outcome == domain.OutcomeSuccess && !rec.CreatedAt.Before(since) {
			origins[rec.Origin] = struct{}{}
		}
	}
	return len(origins), nil
}

func (f *fakeRepository) ListRedeemedTokensSince(_ context.Context, since time.Time, limit, offset int) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	seen := make(map[string]struct{})
	var all []string
	for _, rec := range f.audits {
		if rec.Outcome != domain.OutcomeSuccess || rec.CreatedAt.Before(since) {
			continue
		}
		if _, dup := seen[rec.Token]; dup {
			continue
		}
		seen[rec.Token] = struct{}{}
		all = append(all, rec.Token)
	}
	if offset >= len(all) {
		return nil, nil
	}
	end := offset + limit
	if end > len(all) {
		end = len(all)
	}
	return all[offset:end], nil
}

// fakePublisher records published events.
type fakePublisher struct {
	mu     sync.Mutex
	events []publishedEvent
}

type publishedEvent struct {
	exchange   string
	routingKey string
	body       interface{}
}

func (p *fakePublisher) Publish(_ context.Context, exchange, routingKey string, body interface{}) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, publishedEvent{exchange: exchange, routingKey: routingKey, body: body})
	return nil
}

func (p *fakePublisher) published() []publishedEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]publishedEvent, len(p.events))
	copy(out, p.events)
	return out
}

// seedOrder inserts a paid order with one product item and returns the ids.
func seedOrder(repo *fakeRepository, buyerID string, status domain.PaymentStatus) (uuid.UUID, uuid.UUID) {
	orderID := uuid.New()
	itemID := uuid.New()
	repo.orders[orderID] = domain.Order{
		ID:            orderID,
		BuyerID:       buyerID,
		PaymentStatus: status,
		CreatedAt:     time.Now(),
	}
	repo.orderItems[itemID] = domain.OrderItem{
		ID:        itemID,
		OrderID:   orderID,
		Kind:      domain.ItemKindProduct,
		CatalogID: uuid.New(),
	}
	return orderID, itemID
}

func newTestService(repo *fakeRepository, publisher EventPublisher) *Service {
	return NewService(repo, publisher, Options{
		ExpiryOffset:      48 * time.Hour,
		MaxUses:           5,
		RegenerationLimit: 3,
		AllowAnonymous:    true,
		AbuseWindow:       24 * time.Hour,
		AbuseThreshold:    3,
		AbuseExchange:     "delivery",
	})
}

func TestIssueForOrderItemCreatesOnePerFile(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakePublisher{})
	orderID, itemID := seedOrder(repo, "user_buyer", domain.PaymentCompleted)

	files := []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}
	entitlements, err := svc.IssueForOrderItem(context.Background(), orderID, itemID, files)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(entitlements) != 3 {
		t.Fatalf("expected 3 entitlements, got %d", len(entitlements))
	}
	for _, e := range entitlements {
		if len(e.Token) != 64 {
			t.Fatalf("expected 64-char token, got %d chars", len(e.Token))
		}
		if e.MaxUses != 5 || e.UsedCount != 0 {
			t.Fatalf("expected fresh counters, got max=%d used=%d", e.MaxUses, e.UsedCount)
		}
	}
}

func TestIssueForOrderItemIsIdempotent(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakePublisher{})
	orderID, itemID := seedOrder(repo, "user_buyer", domain.PaymentCompleted)
	fileID := uuid.New()

	first, err := svc.IssueForOrderItem(context.Background(), orderID, itemID, []uuid.UUID{fileID})
	if err != nil {
		t.Fatalf("first issuance failed: %v", err)
	}
	second, err := svc.IssueForOrderItem(context.Background(), orderID, itemID, []uuid.UUID{fileID})
	if err != nil {
		t.Fatalf("second issuance failed: %v", err)
	}
	if first[0].Token != second[0].Token {
		t.Fatalf("expected same live token, got %q then %q", first[0].Token, second[0].Token)
	}
	if len(repo.entitlements) != 1 {
		t.Fatalf("expected 1 stored entitlement, got %d", len(repo.entitlements))
	}
}

func TestIssueForOrderItemRejectsUnpaidOrder(t *testing.T) {
	tests := []struct {
		name   string
		status domain.PaymentStatus
	}{
		{name: "pending", status: domain.PaymentPending},
		{name: "failed", status: domain.PaymentFailed},
		{name: "refunded", status: domain.PaymentRefunded},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepository()
			svc := newTestService(repo, &fakePublisher{})
			orderID, itemID := seedOrder(repo, "user_buyer", tt.status)

			_, err := svc.IssueForOrderItem(context.Background(), orderID, itemID, []uuid.UUID{uuid.New()})
			if !errors.Is(err, domain.ErrOrderNotPayable) {
				t.Fatalf("expected ErrOrderNotPayable, got %v", err)
			}
			if len(repo.entitlements) != 0 {
				t.Fatalf("expected no entitlements created, got %d", len(repo.entitlements))
			}
		})
	}
}

func TestIssueForOrderItemRejectsServiceItems(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakePublisher{})
	orderID, itemID := seedOrder(repo, "user_buyer", domain.PaymentCompleted)

	item := repo.orderItems[itemID]
	item.Kind = domain.ItemKindService
	repo.orderItems[itemID] = item

	_, err := svc.IssueForOrderItem(context.Background(), orderID, itemID, []uuid.UUID{uuid.New()})
	if !errors.Is(err, domain.ErrNoDeliverableFiles) {
		t.Fatalf("expected ErrNoDeliverableFiles, got %v", err)
	}
}

func TestRedeemSuccessDecrementsAndAudits(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakePublisher{})
	orderID, itemID := seedOrder(repo, "user_buyer", domain.PaymentCompleted)

	entitlements, err := svc.IssueForOrderItem(context.Background(), orderID, itemID, []uuid.UUID{uuid.New()})
	if err != nil {
		t.Fatalf("issuance failed: %v", err)
	}
	tok := entitlements[0].Token

	access, err := svc.Redeem(context.Background(), tok, nil, "203.0.113.9")
	if err != nil {
		t.Fatalf("redeem failed: %v", err)
	}
	if access.FileID != entitlements[0].FileID {
		t.Fatalf("expected file %s, got %s", entitlements[0].FileID, access.FileID)
	}
	if access.Reference == "" || access.Reference == tok {
		t.Fatalf("expected fresh access reference, got %q", access.Reference)
	}

	if len(repo.audits) != 1 {
		t.Fatalf("expected exactly 1 audit record, got %d", len(repo.audits))
	}
	rec := repo.audits[0]
	if rec.Outcome != domain.OutcomeSuccess {
		t.Fatalf("expected success outcome, got %s", rec.Outcome)
	}
	if rec.Origin != "203.0.113.9" {
		t.Fatalf("expected audited origin, got %q", rec.Origin)
	}
	if rec.OrderID == nil || *rec.OrderID != orderID {
		t.Fatalf("expected audited order context %s", orderID)
	}
}

func TestRedeemAuditsEveryFailureBranch(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakePublisher{})
	orderID, itemID := seedOrder(repo, "user_buyer", domain.PaymentCompleted)

	entitlements, err := svc.IssueForOrderItem(context.Background(), orderID, itemID, []uuid.UUID{uuid.New()})
	if err != nil {
		t.Fatalf("issuance failed: %v", err)
	}
	tok := entitlements[0].Token
	stranger := "user_stranger"

	tests := []struct {
		name        string
		token       string
		requesterID *string
		setup       func()
		wantErr     error
		wantOutcome domain.AuditOutcome
	}{
		{
			name:        "malformed token",
			token:       "not-a-token",
			wantErr:     domain.ErrInvalidToken,
			wantOutcome: domain.OutcomeInvalidToken,
		},
		{
			name:        "unknown token",
			token:       strings.Repeat("ab", 32),
			wantErr:     domain.ErrInvalidToken,
			wantOutcome: domain.OutcomeInvalidToken,
		},
		{
			name:        "requester mismatch",
			token:       tok,
			requesterID: &stranger,
			wantErr:     domain.ErrUnauthorized,
			wantOutcome: domain.OutcomeUnauthorized,
		},
		{
			name:  "order refunded",
			token: tok,
			setup: func() {
				o := repo.orders[orderID]
				o.PaymentStatus = domain.PaymentRefunded
				repo.orders[orderID] = o
			},
			wantErr:     domain.ErrOrderNotPayable,
			wantOutcome: domain.OutcomeOrderNotPayable,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.setup != nil {
				tt.setup()
			}
			before := len(repo.audits)

			_, err := svc.Redeem(context.Background(), tt.token, tt.requesterID, "198.51.100.4")
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("expected %v, got %v", tt.wantErr, err)
			}
			if len(repo.audits) != before+1 {
				t.Fatalf("expected exactly 1 new audit record, got %d", len(repo.audits)-before)
			}
			if got := repo.audits[len(repo.audits)-1].Outcome; got != tt.wantOutcome {
				t.Fatalf("expected outcome %s, got %s", tt.wantOutcome, got)
			}
		})
	}
}

func TestRedeemExpiryBoundary(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakePublisher{})
	orderID, itemID := seedOrder(repo, "user_buyer", domain.PaymentCompleted)

	entitlements, err := svc.IssueForOrderItem(context.Background(), orderID, itemID, []uuid.UUID{uuid.New()})
	if err != nil {
		t.Fatalf("issuance failed: %v", err)
	}
	tok := entitlements[0].Token
	expiresAt := entitlements[0].ExpiresAt

	// One millisecond before the deadline the link still works.
	svc.now = func() time.Time { return expiresAt.Add(-time.Millisecond) }
	if _, err := svc.Redeem(context.Background(), tok, nil, "203.0.113.9"); err != nil {
		t.Fatalf("expected redemption just before expiry to succeed, got %v", err)
	}

	// At the deadline it is expired; the boundary is inclusive.
	svc.now = func() time.Time { return expiresAt }
	if _, err := svc.Redeem(context.Background(), tok, nil, "203.0.113.9"); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("expected ErrExpired at deadline, got %v", err)
	}

	svc.now = func() time.Time { return expiresAt.Add(time.Hour) }
	if _, err := svc.Redeem(context.Background(), tok, nil, "203.0.113.9"); !errors.Is(err, domain.ErrExpired) {
		t.Fatalf("expected ErrExpired after deadline, got %v", err)
	}
}

func TestRedeemAnonymousBlockedWhenPolicyDisallows(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakePublisher{})
	svc.opts.AllowAnonymous = false
	orderID, itemID := seedOrder(repo, "user_buyer", domain.PaymentCompleted)

	entitlements, err := svc.IssueForOrderItem(context.Background(), orderID, itemID, []uuid.UUID{uuid.New()})
	if err != nil {
		t.Fatalf("issuance failed: %v", err)
	}

	if _, err := svc.Redeem(context.Background(), entitlements[0].Token, nil, "203.0.113.9"); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for anonymous redemption, got %v", err)
	}

	buyer := "user_buyer"
	if _, err := svc.Redeem(context.Background(), entitlements[0].Token, &buyer, "203.0.113.9"); err != nil {
		t.Fatalf("expected buyer redemption to succeed, got %v", err)
	}
}

func TestConcurrentConsumptionNeverOvershoots(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakePublisher{})
	orderID, itemID := seedOrder(repo, "user_buyer", domain.PaymentCompleted)

	entitlements, err := svc.IssueForOrderItem(context.Background(), orderID, itemID, []uuid.UUID{uuid.New()})
	if err != nil {
		t.Fatalf("issuance failed: %v", err)
	}
	tok := entitlements[0].Token
	maxUses := entitlements[0].MaxUses

	const workers = 40
	var wg sync.WaitGroup
	results := make(chan error, workers)
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Redeem(context.Background(), tok, nil, "203.0.113.9")
			results <- err
		}()
	}
	wg.Wait()
	close(results)

	successes, limited := 0, 0
	for err := range results {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, domain.ErrLimitExceeded):
			limited++
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}

	if successes != maxUses {
		t.Fatalf("expected exactly %d successful redemptions, got %d", maxUses, successes)
	}
	if limited != workers-maxUses {
		t.Fatalf("expected %d limit rejections, got %d", workers-maxUses, limited)
	}

	final, err := repo.GetEntitlementByToken(context.Background(), tok)
	if err != nil {
		t.Fatalf("lookup failed: %v", err)
	}
	if final.UsedCount != final.MaxUses {
		t.Fatalf("expected used_count == max_uses, got %d/%d", final.UsedCount, final.MaxUses)
	}
	if len(repo.audits) != workers {
		t.Fatalf("expected %d audit records, got %d", workers, len(repo.audits))
	}
}

func TestRedeemSurfacesStoreFaultsUnchanged(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakePublisher{})
	orderID, itemID := seedOrder(repo, "user_buyer", domain.PaymentCompleted)

	entitlements, err := svc.IssueForOrderItem(context.Background(), orderID, itemID, []uuid.UUID{uuid.New()})
	if err != nil {
		t.Fatalf("issuance failed: %v", err)
	}

	repo.failConsume = true
	_, err = svc.Redeem(context.Background(), entitlements[0].Token, nil, "203.0.113.9")
	if !errors.Is(err, domain.ErrStoreUnavailable) {
		t.Fatalf("expected ErrStoreUnavailable, got %v", err)
	}
}

func TestRegenerateSupersedesOldToken(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakePublisher{})
	orderID, itemID := seedOrder(repo, "user_buyer", domain.PaymentCompleted)

	original, err := svc.IssueForOrderItem(context.Background(), orderID, itemID, []uuid.UUID{uuid.New()})
	if err != nil {
		t.Fatalf("issuance failed: %v", err)
	}

	regenerated, err := svc.Regenerate(context.Background(), "user_buyer", orderID, itemID)
	if err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}
	if len(regenerated) != 1 {
		t.Fatalf("expected 1 regenerated entitlement, got %d", len(regenerated))
	}
	if regenerated[0].Token == original[0].Token {
		t.Fatal("expected a fresh token after regeneration")
	}
	if regenerated[0].UsedCount != 0 {
		t.Fatalf("expected reset counter, got %d", regenerated[0].UsedCount)
	}
	if regenerated[0].RegenerationOf == nil || *regenerated[0].RegenerationOf != original[0].ID {
		t.Fatal("expected regeneration_of back-reference to the superseded entitlement")
	}

	// The retired token fails with Superseded, distinguishable from Expired.
	if _, err := svc.Redeem(context.Background(), original[0].Token, nil, "203.0.113.9"); !errors.Is(err, domain.ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded for old token, got %v", err)
	}
	// The new token works.
	if _, err := svc.Redeem(context.Background(), regenerated[0].Token, nil, "203.0.113.9"); err != nil {
		t.Fatalf("expected new token to redeem, got %v", err)
	}
}

func TestRegenerateEnforcesOwnershipAndLimit(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakePublisher{})
	orderID, itemID := seedOrder(repo, "user_buyer", domain.PaymentCompleted)

	if _, err := svc.IssueForOrderItem(context.Background(), orderID, itemID, []uuid.UUID{uuid.New()}); err != nil {
		t.Fatalf("issuance failed: %v", err)
	}

	if _, err := svc.Regenerate(context.Background(), "user_stranger", orderID, itemID); !errors.Is(err, domain.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized for non-buyer, got %v", err)
	}

	// The ceiling is original + RegenerationLimit issuances per file.
	for i := 0; i < svc.opts.RegenerationLimit; i++ {
		if _, err := svc.Regenerate(context.Background(), "user_buyer", orderID, itemID); err != nil {
			t.Fatalf("regeneration %d failed: %v", i+1, err)
		}
	}
	if _, err := svc.Regenerate(context.Background(), "user_buyer", orderID, itemID); !errors.Is(err, domain.ErrRegenerationLimitExceeded) {
		t.Fatalf("expected ErrRegenerationLimitExceeded, got %v", err)
	}
}

func TestRegenerateBlockedOnceOrderRefunded(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakePublisher{})
	orderID, itemID := seedOrder(repo, "user_buyer", domain.PaymentCompleted)

	if _, err := svc.IssueForOrderItem(context.Background(), orderID, itemID, []uuid.UUID{uuid.New()}); err != nil {
		t.Fatalf("issuance failed: %v", err)
	}

	o := repo.orders[orderID]
	o.PaymentStatus = domain.PaymentRefunded
	repo.orders[orderID] = o

	if _, err := svc.Regenerate(context.Background(), "user_buyer", orderID, itemID); !errors.Is(err, domain.ErrOrderNotPayable) {
		t.Fatalf("expected ErrOrderNotPayable, got %v", err)
	}
}

func TestEndToEndRedemptionLifecycle(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakePublisher{})
	orderID, itemID := seedOrder(repo, "user_buyer", domain.PaymentCompleted)

	entitlements, err := svc.IssueForOrderItem(context.Background(), orderID, itemID, []uuid.UUID{uuid.New()})
	if err != nil {
		t.Fatalf("issuance failed: %v", err)
	}
	e := entitlements[0]
	if e.MaxUses != 5 || e.UsedCount != 0 {
		t.Fatalf("expected fresh entitlement with max_uses=5, got max=%d used=%d", e.MaxUses, e.UsedCount)
	}

	for i := 1; i <= 5; i++ {
		if _, err := svc.Redeem(context.Background(), e.Token, nil, "203.0.113.9"); err != nil {
			t.Fatalf("redemption %d failed: %v", i, err)
		}
		current, err := repo.GetEntitlementByToken(context.Background(), e.Token)
		if err != nil {
			t.Fatalf("lookup failed: %v", err)
		}
		if current.UsedCount != i {
			t.Fatalf("expected used_count %d after redemption %d, got %d", i, i, current.UsedCount)
		}
	}

	if _, err := svc.Redeem(context.Background(), e.Token, nil, "203.0.113.9"); !errors.Is(err, domain.ErrLimitExceeded) {
		t.Fatalf("expected ErrLimitExceeded on 6th redemption, got %v", err)
	}

	regenerated, err := svc.Regenerate(context.Background(), "user_buyer", orderID, itemID)
	if err != nil {
		t.Fatalf("regenerate failed: %v", err)
	}
	if regenerated[0].UsedCount != 0 {
		t.Fatalf("expected reset counter, got %d", regenerated[0].UsedCount)
	}

	if _, err := svc.Redeem(context.Background(), e.Token, nil, "203.0.113.9"); !errors.Is(err, domain.ErrSuperseded) {
		t.Fatalf("expected ErrSuperseded for exhausted original, got %v", err)
	}
	if _, err := svc.Redeem(context.Background(), regenerated[0].Token, nil, "203.0.113.9"); err != nil {
		t.Fatalf("expected regenerated token to redeem, got %v", err)
	}
}
