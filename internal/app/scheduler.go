/**
 * @description
 * Cron scheduler setup for the periodic abuse sweep.
 */

package app

import (
	"context"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"
)

// Scheduler manages the cron jobs.
type Scheduler struct {
	cron     *cron.Cron
	service  *Service
	logger   *slog.Logger
	schedule string
}

// NewScheduler creates a new scheduler instance.
func NewScheduler(service *Service, logger *slog.Logger, schedule string) *Scheduler {
	cronLogger := cron.PrintfLogger(slog.NewLogLogger(logger.Handler(), slog.LevelInfo))
	c := cron.New(cron.WithChain(cron.Recover(cronLogger)))

	return &Scheduler{
		cron:     c,
		service:  service,
		logger:   logger,
		schedule: schedule,
	}
}

// Start registers the abuse sweep and starts the cron scheduler.
func (s *Scheduler) Start() {
	if _, err := s.cron.AddFunc(s.schedule, s.runSweep); err != nil {
		s.logger.Error("failed to schedule abuse sweep", "error", err, "schedule", s.schedule)
	} else {
		s.logger.Info("scheduled abuse sweep", "schedule", s.schedule)
	}

	s.cron.Start()
}

// Stop gracefully stops the cron scheduler.
func (s *Scheduler) Stop() context.Context {
	return s.cron.Stop()
}

func (s *Scheduler) runSweep() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	emitted, err := s.service.SweepRecentTokens(ctx)
	if err != nil {
		s.logger.Error("abuse sweep failed", "error", err, "signals_emitted", emitted)
		return
	}
	s.logger.Info("abuse sweep completed", "signals_emitted", emitted)
}
