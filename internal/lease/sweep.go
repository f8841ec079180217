package lease

import (
	"cmp"
	"slices"

	"github.com/vin-jex/captain-dispatch/internal/notify"
)

// Expiry describes one lease reclaimed by a sweep.
type Expiry struct {
	JobID      string
	HolderID   string
	HolderName string
}

// SweepExpiredLeases reopens every job whose lease has run out and tells
// online agents about it. Expired leases are already ignored on access, so
// the sweep only makes the reopening visible sooner.
//
// Committed and cancelled jobs older than the retention window are
// forgotten in the same pass.
func (c *Coordinator) SweepExpiredLeases() []Expiry {
	var fx effects
	defer c.apply(&fx)

	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.config.Clock.Now()
	var expired []Expiry

	for id, job := range c.jobs {
		if job.Status.Final() && now.Sub(job.UpdatedAt) > c.config.Retention {
			delete(c.jobs, id)
			continue
		}

		lease := job.Lease
		if lease == nil || lease.committing || lease.Valid(now) {
			continue
		}

		holderID := lease.HolderID
		holderName := c.agentNameLocked(holderID)

		c.releaseLocked(job, OutcomeTimedOut, now)
		fx.released(id, holderID, CauseExpired)
		fx.broadcast(c.onlineAgentsLocked(holderID), notify.NewEvent(notify.OrderTimeout, id, now, map[string]any{
			"previousHolderName": holderName,
		}))

		expired = append(expired, Expiry{JobID: id, HolderID: holderID, HolderName: holderName})
	}

	slices.SortFunc(expired, func(a, b Expiry) int {
		return cmp.Compare(a.JobID, b.JobID)
	})

	if len(expired) > 0 {
		c.config.Logger.Info("expired leases swept", "count", len(expired))
	}
	return expired
}
