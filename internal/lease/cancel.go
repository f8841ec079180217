package lease

import "github.com/vin-jex/captain-dispatch/internal/notify"

// CancelLease gives up agentID's lease on jobID. Only the holder may cancel,
// and not while its confirmation is being committed.
func (c *Coordinator) CancelLease(jobID, agentID string) bool {
	var fx effects
	defer c.apply(&fx)

	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[jobID]
	if !ok || job.Lease == nil || job.Lease.HolderID != agentID || job.Lease.committing {
		return false
	}

	now := c.config.Clock.Now()
	c.releaseLocked(job, OutcomeFailed, now)
	fx.released(jobID, agentID, CauseCancelled)
	fx.broadcast(c.onlineAgentsLocked(agentID), notify.NewEvent(notify.OrderAvailableAgain, jobID, now, nil))

	c.config.Logger.Info("lease cancelled", "job_id", jobID, "agent_id", agentID)
	return true
}

// ForceRelease drops whatever lease jobID carries regardless of holder.
// It is the emergency unlock and the only way to end someone else's lease.
func (c *Coordinator) ForceRelease(jobID string) bool {
	var fx effects
	defer c.apply(&fx)

	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[jobID]
	if !ok || job.Lease == nil || job.Lease.committing {
		return false
	}

	now := c.config.Clock.Now()
	holderID := job.Lease.HolderID
	c.releaseLocked(job, OutcomeFailed, now)
	fx.released(jobID, holderID, CauseForceCleared)
	fx.broadcast(c.onlineAgentsLocked(holderID), notify.NewEvent(notify.OrderAvailableAgain, jobID, now, nil))

	c.config.Logger.Warn("lease force-released", "job_id", jobID, "agent_id", holderID)
	return true
}
