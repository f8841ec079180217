package lease

import (
	"context"
	"fmt"
)

// AdvanceJob records delivery progress for a committed job. Only the agent
// the job was assigned to may move it, and the store enforces the order
// state machine.
func (c *Coordinator) AdvanceJob(ctx context.Context, jobID, agentID, status string) error {
	c.mu.Lock()
	job, ok := c.jobs[jobID]
	var assignedTo string
	var committed bool
	if ok {
		assignedTo = job.AssignedTo
		committed = job.Status == StatusCommitted
	}
	c.mu.Unlock()

	if !ok {
		return ErrJobNotFound
	}
	if !committed || assignedTo != agentID {
		return ErrNotAssigned
	}

	if err := c.config.Store.SetJobStatus(ctx, jobID, status); err != nil {
		return fmt.Errorf("advance job %s to %s: %w", jobID, status, err)
	}

	c.config.Logger.Info("delivery progressed", "job_id", jobID, "agent_id", agentID, "status", status)
	return nil
}
