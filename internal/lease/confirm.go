package lease

import (
	"context"
	"fmt"

	"github.com/vin-jex/captain-dispatch/internal/notify"
)

// ConfirmLease turns agentID's lease on jobID into a durable assignment.
//
// The lease is marked as committing under the lock, the capacity check and
// store write run without it, and the outcome is applied under the lock
// again. If the store refuses or fails, the lease is left exactly as it was
// so the agent may retry, cancel, or let it run out. A job is never marked
// committed unless the store accepted the assignment.
func (c *Coordinator) ConfirmLease(ctx context.Context, jobID, agentID string) ConfirmResult {
	lease, result, ok := c.beginCommit(jobID, agentID)
	if !ok {
		c.metrics.denials.WithLabelValues(string(result.Reason)).Inc()
		return result
	}

	result = c.commit(ctx, jobID, agentID)
	c.finishCommit(jobID, agentID, lease, result)

	if result.Success {
		c.metrics.commits.Inc()
	} else {
		c.metrics.denials.WithLabelValues(string(result.Reason)).Inc()
	}
	return result
}

func (c *Coordinator) beginCommit(jobID, agentID string) (*Lease, ConfirmResult, bool) {
	var fx effects
	defer c.apply(&fx)

	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[jobID]
	if !ok {
		return nil, ConfirmResult{Reason: ReasonNotFound, Message: "order is not tracked"}, false
	}

	if job.Status.Final() {
		return nil, ConfirmResult{
			Reason:  ReasonNotAvailable,
			Message: fmt.Sprintf("order is already %s", job.Status),
		}, false
	}

	lease := job.Lease
	if lease == nil || lease.HolderID != agentID {
		return nil, ConfirmResult{Reason: ReasonNoLease, Message: "driver does not hold the lease"}, false
	}

	if lease.committing {
		return nil, ConfirmResult{Reason: ReasonLocked, Message: "confirmation already in progress"}, false
	}

	now := c.config.Clock.Now()
	if !lease.Valid(now) {
		c.releaseLocked(job, OutcomeTimedOut, now)
		fx.released(jobID, agentID, CauseExpired)
		fx.broadcast(c.onlineAgentsLocked(agentID), notify.NewEvent(notify.OrderTimeout, jobID, now, map[string]any{
			"previousHolderName": c.agentNameLocked(agentID),
		}))
		return nil, ConfirmResult{Reason: ReasonNoLease, Message: "lease expired"}, false
	}

	lease.committing = true
	return lease, ConfirmResult{}, true
}

// commit runs the store side of a confirmation without holding the lock.
func (c *Coordinator) commit(ctx context.Context, jobID, agentID string) ConfirmResult {
	active, err := c.config.Store.ListActiveJobsForAgent(ctx, agentID)
	if err != nil {
		c.config.Logger.Error("active order lookup failed", "job_id", jobID, "agent_id", agentID, "err", err)
		return ConfirmResult{Reason: ReasonSystemError, Message: "could not verify driver capacity"}
	}

	if len(active) >= c.config.MaxActiveJobs {
		return ConfirmResult{
			Reason:  ReasonCapacityExceeded,
			Message: fmt.Sprintf("driver already carries %d active orders", len(active)),
		}
	}

	if err := c.config.Store.AssignJobToAgent(ctx, jobID, agentID); err != nil {
		c.config.Logger.Error("assignment commit failed", "job_id", jobID, "agent_id", agentID, "err", err)
		return ConfirmResult{Reason: ReasonSystemError, Message: "assignment could not be saved"}
	}

	order, err := c.config.Store.GetJob(ctx, jobID)
	if err != nil {
		c.config.Logger.Warn("committed order read-back failed", "job_id", jobID, "err", err)
		order = nil
	}

	return ConfirmResult{Success: true, Order: order}
}

func (c *Coordinator) finishCommit(jobID, agentID string, lease *Lease, result ConfirmResult) {
	var fx effects
	defer c.apply(&fx)

	c.mu.Lock()
	defer c.mu.Unlock()

	// A committing lease cannot be replaced, so the job still carries it.
	job := c.jobs[jobID]

	if !result.Success {
		lease.committing = false
		return
	}

	now := c.config.Clock.Now()
	job.resolveAttempt(agentID, OutcomeSucceeded)
	job.Lease = nil
	job.Status = StatusCommitted
	job.AssignedTo = agentID
	job.UpdatedAt = now

	fx.released(jobID, agentID, CauseCommitted)
	fx.broadcast(c.onlineAgentsLocked(agentID), notify.NewEvent(notify.OrderAssigned, jobID, now, map[string]any{
		"agentId":   agentID,
		"agentName": c.agentNameLocked(agentID),
	}))

	c.config.Logger.Info("assignment committed", "job_id", jobID, "agent_id", agentID)
}
