package app

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/kitestore/delivery-service/internal/domain"
)

func seedAudit(repo *fakeRepository, tok, origin string, outcome domain.AuditOutcome, at time.Time) {
	repo.audits = append(repo.audits, domain.AuditRecord{
		ID:        uuid.New(),
		Token:     tok,
		Origin:    origin,
		Outcome:   outcome,
		CreatedAt: at,
	})
}

func TestScanTokenThreshold(t *testing.T) {
	now := time.Now()

	tests := []struct {
		name           string
		origins        []string
		wantSuspicious bool
	}{
		{
			name:           "four distinct origins crosses threshold of three",
			origins:        []string{"203.0.113.1", "203.0.113.2", "203.0.113.3", "203.0.113.4"},
			wantSuspicious: true,
		},
		{
			name:           "two distinct origins stays clean",
			origins:        []string{"203.0.113.1", "203.0.113.2"},
			wantSuspicious: false,
		},
		{
			name:           "exactly at threshold is not flagged",
			origins:        []string{"203.0.113.1", "203.0.113.2", "203.0.113.3"},
			wantSuspicious: false,
		},
		{
			name:           "repeat origins count once",
			origins:        []string{"203.0.113.1", "203.0.113.1", "203.0.113.1", "203.0.113.1", "203.0.113.1"},
			wantSuspicious: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			repo := newFakeRepository()
			svc := newTestService(repo, &fakePublisher{})
			tok := "deadbeef"
			for _, origin := range tt.origins {
				seedAudit(repo, tok, origin, domain.OutcomeSuccess, now.Add(-time.Hour))
			}

			signal, err := svc.ScanToken(context.Background(), tok, 24*time.Hour)
			if err != nil {
				t.Fatalf("scan failed: %v", err)
			}
			if signal.IsSuspicious != tt.wantSuspicious {
				t.Fatalf("expected suspicious=%t with %d origins, got %t",
					tt.wantSuspicious, signal.DistinctOrigins, signal.IsSuspicious)
			}
		})
	}
}

func TestScanTokenIgnoresFailuresAndOldRecords(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakePublisher{})
	now := time.Now()
	tok := "deadbeef"

	// Failed attempts never count toward sharing detection.
	seedAudit(repo, tok, "203.0.113.1", domain.OutcomeLimitExceeded, now.Add(-time.Hour))
	seedAudit(repo, tok, "203.0.113.2", domain.OutcomeInvalidToken, now.Add(-time.Hour))
	// Successes outside the window are gone too.
	seedAudit(repo, tok, "203.0.113.3", domain.OutcomeSuccess, now.Add(-48*time.Hour))
	// One in-window success.
	seedAudit(repo, tok, "203.0.113.4", domain.OutcomeSuccess, now.Add(-time.Hour))

	signal, err := svc.ScanToken(context.Background(), tok, 24*time.Hour)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	if signal.DistinctOrigins != 1 {
		t.Fatalf("expected 1 counted origin, got %d", signal.DistinctOrigins)
	}
	if signal.IsSuspicious {
		t.Fatal("expected signal not to be suspicious")
	}
}

func TestScanTokenIsIdempotent(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo, &fakePublisher{})
	tok := "deadbeef"
	for i := 0; i < 4; i++ {
		seedAudit(repo, tok, uuid.NewString(), domain.OutcomeSuccess, time.Now().Add(-time.Hour))
	}

	first, err := svc.ScanToken(context.Background(), tok, 24*time.Hour)
	if err != nil {
		t.Fatalf("scan failed: %v", err)
	}
	second, err := svc.ScanToken(context.Background(), tok, 24*time.Hour)
	if err != nil {
		t.Fatalf("second scan failed: %v", err)
	}
	if first.DistinctOrigins != second.DistinctOrigins || first.IsSuspicious != second.IsSuspicious {
		t.Fatal("expected repeated scans to report identical findings")
	}
	if len(repo.audits) != 4 {
		t.Fatalf("expected scan to write nothing, audit log now has %d records", len(repo.audits))
	}
}

func TestSweepRecentTokensPublishesSignals(t *testing.T) {
	repo := newFakeRepository()
	publisher := &fakePublisher{}
	svc := newTestService(repo, publisher)
	now := time.Now()

	// Shared token: five distinct origins inside the window.
	shared := "feedface"
	for i := 0; i < 5; i++ {
		seedAudit(repo, shared, uuid.NewString(), domain.OutcomeSuccess, now.Add(-time.Hour))
	}
	// Normal token: one origin.
	seedAudit(repo, "cafebabe", "203.0.113.1", domain.OutcomeSuccess, now.Add(-time.Hour))

	emitted, err := svc.SweepRecentTokens(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if emitted != 1 {
		t.Fatalf("expected 1 signal emitted, got %d", emitted)
	}

	events := publisher.published()
	if len(events) != 1 {
		t.Fatalf("expected 1 published event, got %d", len(events))
	}
	if events[0].exchange != "delivery" || events[0].routingKey != AbuseSignalRoutingKey {
		t.Fatalf("unexpected event destination %s/%s", events[0].exchange, events[0].routingKey)
	}
	event, ok := events[0].body.(domain.AbuseSignalEvent)
	if !ok {
		t.Fatalf("unexpected event payload type %T", events[0].body)
	}
	if event.Token != shared {
		t.Fatalf("expected signal for token %s, got %s", shared, event.Token)
	}
	if event.DistinctOrigins != 5 {
		t.Fatalf("expected 5 distinct origins, got %d", event.DistinctOrigins)
	}
}

func TestSweepRecentTokensPaginates(t *testing.T) {
	repo := newFakeRepository()
	publisher := &fakePublisher{}
	svc := newTestService(repo, publisher)
	svc.opts.SweepPageSize = 3
	now := time.Now()

	// Ten tokens, each redeemed from four distinct origins: every page of
	// the sweep should contribute signals.
	for i := 0; i < 10; i++ {
		tok := uuid.NewString()
		for j := 0; j < 4; j++ {
			seedAudit(repo, tok, uuid.NewString(), domain.OutcomeSuccess, now.Add(-time.Hour))
		}
	}

	emitted, err := svc.SweepRecentTokens(context.Background())
	if err != nil {
		t.Fatalf("sweep failed: %v", err)
	}
	if emitted != 10 {
		t.Fatalf("expected 10 signals across pages, got %d", emitted)
	}
}
