package core

// scheduler.go runs the orphan sweep in the background.
//
// The sweep runs once on start and then every interval until ctx is done.
// A failed sweep is logged and retried at the next tick; it never stops
// the scheduler.

import (
	"context"
	"log/slog"
	"time"
)

// StartSweepScheduler blocks, sweeping orphan samples every interval.
// Run it in its own goroutine and cancel ctx to stop it.
func (s *Service) StartSweepScheduler(ctx context.Context, interval time.Duration) {
	slog.Info("orphan sweep scheduler started", "interval", interval.String())

	s.runSweepJob(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("orphan sweep scheduler stopped")
			return
		case <-ticker.C:
			s.runSweepJob(ctx)
		}
	}
}

// runSweepJob performs one sweep.
func (s *Service) runSweepJob(ctx context.Context) {
	start := time.Now()
	orphans, err := s.SweepOrphans(ctx)
	if err != nil {
		if ctx.Err() == nil {
			slog.Error("orphan sweep failed", "error", err)
		}
		return
	}

	level := slog.LevelDebug
	if len(orphans) > 0 {
		level = slog.LevelWarn
	}
	slog.Log(ctx, level, "orphan sweep completed",
		"samples_removed", len(orphans),
		"duration_ms", time.Since(start).Milliseconds(),
	)
}
