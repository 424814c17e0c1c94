// Package scheduler triggers ingestion runs on a fixed interval.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// Job is one scheduled unit of work, typically a crawl plus ingestion run.
type Job func(ctx context.Context) error

// Scheduler runs a job immediately and then on every tick. Runs never
// overlap: a tick that fires while a run is in progress is dropped.
type Scheduler struct {
	interval time.Duration
	job      Job
	logger   *zap.Logger
}

// New creates a Scheduler.
func New(interval time.Duration, job Job, logger *zap.Logger) (*Scheduler, error) {
	if interval <= 0 {
		return nil, errors.New("scheduler: interval must be positive")
	}
	if job == nil {
		return nil, errors.New("scheduler: job is required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Scheduler{interval: interval, job: job, logger: logger}, nil
}

// Run blocks until ctx is done. Job errors are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.runOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return
		case <-ticker.C:
			s.runOnce(ctx)
			// Drop a tick that queued up during the run.
			select {
			case <-ticker.C:
				s.logger.Debug("dropped tick during run")
			default:
			}
		}
	}
}

func (s *Scheduler) runOnce(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	start := time.Now()
	s.logger.Info("scheduled run starting")
	if err := s.job(ctx); err != nil {
		s.logger.Error("scheduled run failed", zap.Error(err), zap.Duration("elapsed", time.Since(start)))
		return
	}
	s.logger.Info("scheduled run finished",
		zap.Duration("elapsed", time.Since(start)),
		zap.Duration("next_in", s.interval))
}
