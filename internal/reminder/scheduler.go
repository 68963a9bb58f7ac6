package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// DefaultInterval is the pause between scheduled cycles.
const DefaultInterval = time.Hour

// Cycler runs one scheduled evaluation.
type Cycler interface {
	RunCycle(ctx context.Context) (BatchResult, error)
}

// Scheduler drives a Cycler on a fixed cadence until its context ends.
type Scheduler struct {
	cycler   Cycler
	interval time.Duration
	logger   *slog.Logger
}

// NewScheduler returns a Scheduler. A non-positive interval means DefaultInterval.
func NewScheduler(cycler Cycler, interval time.Duration, logger *slog.Logger) *Scheduler {
	if interval <= 0 {
		interval = DefaultInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{cycler: cycler, interval: interval, logger: logger}
}

// Run evaluates immediately, then waits the interval after each cycle
// finishes. It returns only when ctx is cancelled; cycle errors and panics
// are logged and the loop continues.
func (s *Scheduler) Run(ctx context.Context) {
	s.logger.Info("scheduler started", "interval", s.interval)
	for {
		if ctx.Err() != nil {
			s.logger.Info("scheduler stopped")
			return
		}

		_, _ = s.RunOnce(ctx)

		timer := time.NewTimer(s.interval)
		select {
		case <-ctx.Done():
			timer.Stop()
			s.logger.Info("scheduler stopped")
			return
		case <-timer.C:
		}
	}
}

// RunOnce runs a single cycle, converting a panic into an error.
func (s *Scheduler) RunOnce(ctx context.Context) (res BatchResult, err error) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("scheduler cycle panicked: %v", r)
		}
		if err != nil {
			s.logger.Error("scheduler cycle failed", "error", err)
			return
		}
		s.logger.Info("scheduler cycle",
			"date", res.Date.String(),
			"due", res.Selected,
			"sent", len(res.Sent),
			"failed", len(res.Failures),
			"duration", time.Since(start).Round(time.Millisecond),
		)
	}()
	return s.cycler.RunCycle(ctx)
}
