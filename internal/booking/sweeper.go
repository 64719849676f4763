package booking

import (
	"context"
	"fmt"
	"time"

	"ms-booking/internal/logger"
)

// Sweeper proactively releases expired holds across all listings. Correctness
// never depends on it: every acquire, confirm and availability read sweeps
// lazily first. The sweeper just keeps a quiet listing from accumulating
// stale held rows.
type Sweeper struct {
	Locks    *LockManager
	Interval time.Duration
	Logger   *logger.Logger
}

func NewSweeper(locks *LockManager, interval time.Duration, log *logger.Logger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	return &Sweeper{Locks: locks, Interval: interval, Logger: log}
}

// Run blocks until ctx is cancelled, sweeping on every tick.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			expired, err := s.Locks.SweepExpired(ctx, "")
			if err != nil {
				if s.Logger != nil {
					s.Logger.Error("LOCK", fmt.Sprintf("background sweep failed: %v", err))
				}
				continue
			}
			if expired > 0 && s.Logger != nil {
				s.Logger.Info("LOCK", fmt.Sprintf("background sweep released %d expired hold(s)", expired))
			}
		}
	}
}
