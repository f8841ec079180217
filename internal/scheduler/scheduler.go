// Package scheduler drives the periodic housekeeping of the dispatcher:
// reclaiming expired leases and purging ended cooldowns.
//
// Both passes are independent of request traffic. Lease expiry is already
// enforced lazily on access, so a delayed sweep only delays notifications.
package scheduler

import (
	"io"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/vin-jex/captain-dispatch/internal/lease"
)

const (
	DefaultSweepInterval   = 10 * time.Second
	DefaultCleanupInterval = 30 * time.Second
)

type Sweeper interface {
	SweepExpiredLeases() []lease.Expiry
}

type Cleaner interface {
	PeriodicCleanup() int
}

type Config struct {
	SweepInterval   time.Duration
	CleanupInterval time.Duration
	Clock           clock.Clock
	Logger          *slog.Logger
}

type Scheduler struct {
	sweeper Sweeper
	cleaner Cleaner
	config  Config
}

func New(
	sweeper Sweeper,
	cleaner Cleaner,
	config Config,
) *Scheduler {
	if config.SweepInterval <= 0 {
		config.SweepInterval = DefaultSweepInterval
	}
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = DefaultCleanupInterval
	}
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Scheduler{
		sweeper: sweeper,
		cleaner: cleaner,
		config:  config,
	}
}
