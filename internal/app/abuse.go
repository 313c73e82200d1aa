/**
 * @description
 * This file implements the abuse detector: a read-only aggregation over the
 * audit log that flags tokens redeemed from an anomalous number of distinct
 * network origins. Findings are advisory; they are published on the abuse
 * signal exchange and never revoke anything by themselves.
 */

package app

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/kitestore/delivery-service/internal/domain"
)

// ScanToken aggregates successful redemptions of one token inside the
// trailing window and compares the distinct-origin count against the
// threshold. The scan is idempotent and side-effect free, so it can run on
// a schedule or on demand.
func (s *Service) ScanToken(ctx context.Context, tok string, window time.Duration) (*domain.AbuseSignal, error) {
	if window <= 0 {
		window = s.opts.AbuseWindow
	}
	end := s.now()
	start := end.Add(-window)

	origins, err := s.repo.CountDistinctOriginsSince(ctx, tok, start)
	if err != nil {
		return nil, err
	}

	return &domain.AbuseSignal{
		Token:           tok,
		WindowStart:     start,
		WindowEnd:       end,
		DistinctOrigins: origins,
		Threshold:       s.opts.AbuseThreshold,
		IsSuspicious:    origins > s.opts.AbuseThreshold,
	}, nil
}

// SweepRecentTokens pages through every token with a successful redemption
// inside the abuse window, scans each one, and publishes an advisory event
// for each suspicious finding. It returns the number of signals emitted.
func (s *Service) SweepRecentTokens(ctx context.Context) (int, error) {
	since := s.now().Add(-s.opts.AbuseWindow)
	emitted := 0

	for offset := 0; ; offset += s.opts.SweepPageSize {
		tokens, err := s.repo.ListRedeemedTokensSince(ctx, since, s.opts.SweepPageSize, offset)
		if err != nil {
			return emitted, err
		}
		if len(tokens) == 0 {
			break
		}

		for _, tok := range tokens {
			signal, err := s.ScanToken(ctx, tok, s.opts.AbuseWindow)
			if err != nil {
				return emitted, err
			}
			if !signal.IsSuspicious {
				continue
			}
			if err := s.publishAbuseSignal(ctx, signal); err != nil {
				// Advisory channel failures must not abort the sweep.
				log.Printf("level=warn component=abuse_sweep msg=\"failed to publish abuse signal\" token=%s err=%v", tok, err)
				continue
			}
			emitted++
		}

		if len(tokens) < s.opts.SweepPageSize {
			break
		}
	}
	return emitted, nil
}

func (s *Service) publishAbuseSignal(ctx context.Context, signal *domain.AbuseSignal) error {
	if s.publisher == nil {
		return errors.New("no abuse signal publisher configured")
	}

	event := domain.AbuseSignalEvent{
		Token:           signal.Token,
		DistinctOrigins: signal.DistinctOrigins,
		Threshold:       signal.Threshold,
		WindowStart:     signal.WindowStart,
		WindowEnd:       signal.WindowEnd,
		DetectedAt:      s.now(),
	}
	// Attach order context when the token still resolves; a deleted or
	// unknown token is still worth reporting.
	if e, err := s.repo.GetEntitlementByToken(ctx, signal.Token); err == nil {
		event.OrderID = e.OrderID
	}

	return s.publisher.Publish(ctx, s.opts.AbuseExchange, s.opts.AbuseSignalRouting, event)
}
