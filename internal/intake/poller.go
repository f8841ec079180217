// Package intake feeds the coordinator from the order store. New orders
// are tracked, which announces them to online drivers, and orders
// cancelled outside the dispatcher are cancelled in memory too.
package intake

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/juju/clock"

	"github.com/vin-jex/captain-dispatch/internal/lease"
	"github.com/vin-jex/captain-dispatch/internal/store"
)

const (
	DefaultPollInterval = 2 * time.Second
	DefaultBatchSize    = 200
)

type OrderSource interface {
	ListOrdersUpdatedSince(ctx context.Context, since time.Time, limit int) ([]store.Order, error)
}

type Tracker interface {
	TrackJob(ctx context.Context, jobID string) bool
	CancelJob(jobID string) error
}

type Config struct {
	PollInterval time.Duration
	BatchSize    int
	Clock        clock.Clock
	Logger       *slog.Logger
}

type Poller struct {
	source  OrderSource
	tracker Tracker
	config  Config

	// cursor is only touched by the goroutine running PollOnce.
	cursor time.Time
}

func New(source OrderSource, tracker Tracker, config Config) *Poller {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.BatchSize <= 0 {
		config.BatchSize = DefaultBatchSize
	}
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return &Poller{
		source:  source,
		tracker: tracker,
		config:  config,
	}
}

// Run polls once immediately and then every PollInterval until ctx is
// cancelled. Failed polls are retried on the next tick.
func (p *Poller) Run(ctx context.Context) {
	for {
		if _, err := p.PollOnce(ctx); err != nil && ctx.Err() == nil {
			p.config.Logger.Error("order intake failed", "err", err)
		}

		select {
		case <-ctx.Done():
			return
		case <-p.config.Clock.After(p.config.PollInterval):
		}
	}
}

// PollOnce applies one batch of store changes and returns how many orders
// it looked at. The cursor only moves past orders that were fully applied.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	orders, err := p.source.ListOrdersUpdatedSince(ctx, p.cursor, p.config.BatchSize)
	if err != nil {
		return 0, err
	}

	for i, order := range orders {
		if !p.apply(ctx, order) {
			return i, nil
		}
		p.cursor = order.UpdatedAt
	}

	if len(orders) == p.config.BatchSize && orders[0].UpdatedAt.Equal(p.cursor) {
		p.config.Logger.Warn("intake batch shares one timestamp, raise INTAKE_BATCH_SIZE", "size", len(orders))
	}

	return len(orders), nil
}

func (p *Poller) apply(ctx context.Context, order store.Order) bool {
	jobID := order.ID.String()

	switch {
	case store.IsDispatchable(order.Status):
		p.tracker.TrackJob(ctx, jobID)

	case order.Status == store.OrderCancelled:
		err := p.tracker.CancelJob(jobID)
		switch {
		case err == nil:
			p.config.Logger.Info("order cancelled upstream", "job_id", jobID)
		case errors.Is(err, lease.ErrJobNotFound), errors.Is(err, lease.ErrJobFinal):
		case errors.Is(err, lease.ErrCommitInProgress):
			// Retry on the next poll once the commit has settled.
			return false
		default:
			p.config.Logger.Error("upstream cancellation failed", "job_id", jobID, "err", err)
		}
	}

	return true
}
