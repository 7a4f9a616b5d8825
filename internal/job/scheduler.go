// Package job runs the background loops: the sweep scheduler and the outbox
// relay.
package job

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/set-night/chanpay/internal/lock"
	"github.com/set-night/chanpay/internal/service"
)

// ErrSweepSkipped is returned when another replica holds the sweep lock.
var ErrSweepSkipped = errors.New("sweep skipped: lock held elsewhere")

type Sweeper interface {
	RunAll(ctx context.Context) (service.SweepReport, error)
}

type Locker interface {
	Acquire(ctx context.Context) (func(context.Context) error, error)
}

type Scheduler struct {
	sweeper  Sweeper
	locker   Locker
	interval time.Duration
	stopCh   chan struct{}
}

// NewScheduler returns a scheduler that sweeps every interval. locker may be
// nil for a single replica.
func NewScheduler(sweeper Sweeper, locker Locker, interval time.Duration) *Scheduler {
	return &Scheduler{
		sweeper:  sweeper,
		locker:   locker,
		interval: interval,
		stopCh:   make(chan struct{}),
	}
}

// Start sweeps once immediately and then on every tick until ctx is done or
// Stop is called.
func (s *Scheduler) Start(ctx context.Context) {
	slog.Info("sweep scheduler started", "interval", s.interval)

	s.tick(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			slog.Info("sweep scheduler stopped", "reason", ctx.Err())
			return
		case <-s.stopCh:
			slog.Info("sweep scheduler stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

func (s *Scheduler) Stop() {
	close(s.stopCh)
}

func (s *Scheduler) tick(ctx context.Context) {
	report, err := s.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrSweepSkipped):
		slog.Info("sweep skipped, lock held by another replica")
	case err != nil:
		slog.Error("sweep finished with errors", "error", err, "report", report.String())
	default:
		slog.Info("sweep finished", "report", report.String())
	}
}

// RunOnce runs every sweep under the lock.
func (s *Scheduler) RunOnce(ctx context.Context) (service.SweepReport, error) {
	if s.locker != nil {
		release, err := s.locker.Acquire(ctx)
		if errors.Is(err, lock.ErrNotAcquired) {
			return service.SweepReport{}, ErrSweepSkipped
		}
		if err != nil {
			// Every sweep re-checks its predicates, so running unlocked is safe.
			slog.Warn("sweep lock unavailable, running unlocked", "error", err)
		} else {
			defer func() {
				if err := release(context.WithoutCancel(ctx)); err != nil {
					slog.Warn("release sweep lock", "error", err)
				}
			}()
		}
	}
	return s.sweeper.RunAll(ctx)
}
