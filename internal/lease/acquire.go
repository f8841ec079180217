package lease

import (
	"fmt"
	"math"

	"github.com/vin-jex/captain-dispatch/internal/notify"
)

// TryAcquireLease grants agentID a time-bounded exclusive claim on jobID.
// The first caller through the check-and-set wins; there is no queue, so a
// rejected agent retries after RemainingMs or when notified.
func (c *Coordinator) TryAcquireLease(jobID, agentID string) AcquireResult {
	var fx effects
	defer c.apply(&fx)

	c.mu.Lock()
	defer c.mu.Unlock()

	result := c.tryAcquireLocked(jobID, agentID, &fx)
	if result.Granted {
		c.metrics.grants.Inc()
	} else {
		c.metrics.denials.WithLabelValues(string(result.Reason)).Inc()
		c.config.Logger.Debug(
			"lease denied",
			"job_id", jobID,
			"agent_id", agentID,
			"reason", string(result.Reason),
		)
	}

	return result
}

func (c *Coordinator) tryAcquireLocked(jobID, agentID string, fx *effects) AcquireResult {
	job, ok := c.jobs[jobID]
	if !ok {
		return AcquireResult{Reason: ReasonNotFound, Message: "order is not tracked"}
	}

	agent, ok := c.agents[agentID]
	if !ok {
		return AcquireResult{Reason: ReasonNotFound, Message: "driver is not registered"}
	}

	if job.Status.Final() {
		result := AcquireResult{
			Reason:  ReasonNotAvailable,
			Message: fmt.Sprintf("order is already %s", job.Status),
		}
		if job.AssignedTo != "" {
			result.HolderID = job.AssignedTo
			result.HolderName = c.agentNameLocked(job.AssignedTo)
		}
		return result
	}

	if agent.Status != AgentOnline {
		return AcquireResult{
			Reason:  ReasonNotAvailable,
			Message: fmt.Sprintf("driver is %s", agent.Status),
		}
	}

	now := c.config.Clock.Now()

	if job.Lease != nil && !job.Lease.Valid(now) && !job.Lease.committing {
		holderID := job.Lease.HolderID
		c.releaseLocked(job, OutcomeTimedOut, now)
		// A holder asking again is re-granted below and keeps its guard slot.
		if holderID != agentID {
			fx.released(jobID, holderID, CauseExpired)
		}
		c.config.Logger.Info("expired lease reclaimed on access", "job_id", jobID, "agent_id", holderID)
	}

	if lease := job.Lease; lease != nil {
		remaining := lease.Remaining(now)

		if lease.HolderID == agentID && !lease.committing {
			return AcquireResult{
				Granted:     true,
				Message:     "lease already held",
				HolderID:    agentID,
				HolderName:  agent.Name,
				RemainingMs: remaining.Milliseconds(),
			}
		}

		message := fmt.Sprintf("order is locked by %s", c.agentNameLocked(lease.HolderID))
		if lease.committing {
			message = "order is being confirmed"
		}
		return AcquireResult{
			Reason:      ReasonLocked,
			Message:     message,
			HolderID:    lease.HolderID,
			HolderName:  c.agentNameLocked(lease.HolderID),
			RemainingMs: remaining.Milliseconds(),
		}
	}

	if job.failedAttempts(agentID) >= c.config.MaxAttempts {
		return AcquireResult{
			Reason:  ReasonTooManyAttempts,
			Message: fmt.Sprintf("maximum of %d attempts reached for this order", c.config.MaxAttempts),
		}
	}

	lease := &Lease{
		HolderID:  agentID,
		CreatedAt: now,
		ExpiresAt: now.Add(c.config.HoldDuration),
	}
	job.Lease = lease
	job.Status = StatusLeased
	job.UpdatedAt = now
	job.Attempts = append(job.Attempts, Attempt{
		AgentID:   agentID,
		AgentName: agent.Name,
		At:        now,
		Outcome:   OutcomeAttempting,
	})

	fx.broadcast(c.onlineAgentsLocked(agentID), notify.NewEvent(notify.OrderLocked, jobID, now, map[string]any{
		"holderName":       agent.Name,
		"remainingSeconds": int(math.Ceil(c.config.HoldDuration.Seconds())),
	}))

	c.config.Logger.Info("lease granted", "job_id", jobID, "agent_id", agentID, "expires_at", lease.ExpiresAt)

	return AcquireResult{
		Granted:     true,
		HolderID:    agentID,
		HolderName:  agent.Name,
		RemainingMs: c.config.HoldDuration.Milliseconds(),
	}
}
