package scheduler

import (
	"context"
)

// Run blocks until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	sweep := s.config.Clock.After(s.config.SweepInterval)
	cleanup := s.config.Clock.After(s.config.CleanupInterval)

	for {
		select {
		case <-ctx.Done():
			return
		case <-sweep:
			s.sweepOnce()
			sweep = s.config.Clock.After(s.config.SweepInterval)
		case <-cleanup:
			s.cleanupOnce()
			cleanup = s.config.Clock.After(s.config.CleanupInterval)
		}
	}
}

func (s *Scheduler) sweepOnce() {
	expired := s.sweeper.SweepExpiredLeases()
	for _, expiry := range expired {
		s.config.Logger.Info(
			"lease timed out",
			"job_id", expiry.JobID,
			"agent_id", expiry.HolderID,
			"agent_name", expiry.HolderName,
		)
	}
}

func (s *Scheduler) cleanupOnce() {
	// Nothing purged is not worth a log line.
	if removed := s.cleaner.PeriodicCleanup(); removed > 0 {
		s.config.Logger.Debug("cooldowns purged", "count", removed)
	}
}
