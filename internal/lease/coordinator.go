// Package lease owns the in-memory negotiation state for dispatchable
// orders: which driver currently holds exclusive rights to confirm an
// order, for how long, and every attempt made on it.
//
// All state lives behind a single coordinator-wide mutex. Contention on any
// one order is low, and one lock keeps the state machine easy to reason
// about. No store or notification call is made while the lock is held.
package lease

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vin-jex/captain-dispatch/internal/notify"
	"github.com/vin-jex/captain-dispatch/internal/store"
)

const (
	DefaultHoldDuration  = 90 * time.Second
	DefaultMaxAttempts   = 3
	DefaultMaxActiveJobs = 3
	DefaultRetention     = time.Hour
)

// JobStore is the durable order store. The coordinator only talks to it
// when importing an order and when committing an assignment.
type JobStore interface {
	GetJob(ctx context.Context, jobID string) (*store.Order, error)
	AssignJobToAgent(ctx context.Context, jobID, agentID string) error
	SetJobStatus(ctx context.Context, jobID, status string) error
	ListActiveJobsForAgent(ctx context.Context, agentID string) ([]store.Order, error)
}

type Config struct {
	Store    JobStore
	Notifier notify.Notifier
	Observer Observer

	// HoldDuration is how long a granted lease stays valid.
	HoldDuration time.Duration

	// MaxAttempts caps the failed or timed-out attempts one agent may make
	// on one job.
	MaxAttempts int

	// MaxActiveJobs caps the orders an agent may carry at once. It is
	// checked against the store when a lease is confirmed.
	MaxActiveJobs int

	// Retention is how long committed and cancelled jobs are kept for
	// diagnostics before the sweep forgets them.
	Retention time.Duration

	Clock      clock.Clock
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

func (config Config) Validate() error {
	if config.Store == nil {
		return errors.New("missing job store")
	}
	if config.HoldDuration < 0 || config.MaxAttempts < 0 || config.MaxActiveJobs < 0 || config.Retention < 0 {
		return errors.New("lease limits must not be negative")
	}
	return nil
}

func (config Config) withDefaults() Config {
	if config.Notifier == nil {
		config.Notifier = notify.Discard
	}
	if config.HoldDuration == 0 {
		config.HoldDuration = DefaultHoldDuration
	}
	if config.MaxAttempts == 0 {
		config.MaxAttempts = DefaultMaxAttempts
	}
	if config.MaxActiveJobs == 0 {
		config.MaxActiveJobs = DefaultMaxActiveJobs
	}
	if config.Retention == 0 {
		config.Retention = DefaultRetention
	}
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return config
}

type Coordinator struct {
	config  Config
	metrics *metrics

	mu     sync.Mutex
	jobs   map[string]*Job
	agents map[string]*Agent
}

func NewCoordinator(config Config) (*Coordinator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.withDefaults()

	c := &Coordinator{
		config: config,
		jobs:   make(map[string]*Job),
		agents: make(map[string]*Agent),
	}
	collectors, err := newMetrics(config.Registerer, c.activeLeases)
	if err != nil {
		return nil, err
	}
	c.metrics = collectors

	return c, nil
}

// RegisterAgent adds the agent or replaces its name, status and position.
func (c *Coordinator) RegisterAgent(agent Agent) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if agent.Status == "" {
		agent.Status = AgentOnline
	}
	agent.UpdatedAt = c.config.Clock.Now()
	c.agents[agent.ID] = &agent

	c.config.Logger.Debug("agent registered", "agent_id", agent.ID, "status", string(agent.Status))
}

// SetAgentStatus records a presence change. Leaving online does not revoke
// a held lease; it simply runs out.
func (c *Coordinator) SetAgentStatus(agentID string, status AgentStatus) error {
	if !status.Valid() {
		return ErrInvalidAgentState
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := c.agents[agentID]
	if !ok {
		return ErrAgentNotFound
	}

	agent.Status = status
	agent.UpdatedAt = c.config.Clock.Now()
	return nil
}

// DeregisterAgent forgets the agent and reopens every job it was holding.
func (c *Coordinator) DeregisterAgent(agentID string) {
	var fx effects
	defer c.apply(&fx)

	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := c.agents[agentID]
	if !ok {
		return
	}
	delete(c.agents, agentID)

	now := c.config.Clock.Now()
	for _, job := range c.jobs {
		if job.Lease == nil || job.Lease.HolderID != agentID || job.Lease.committing {
			continue
		}

		c.releaseLocked(job, OutcomeFailed, now)
		fx.released(job.ID, agentID, CauseDeregistered)
		fx.broadcast(c.onlineAgentsLocked(), notify.NewEvent(notify.OrderAvailableAgain, job.ID, now, map[string]any{
			"previousHolderName": agent.Name,
		}))
	}

	c.config.Logger.Info("agent deregistered", "agent_id", agentID)
}

func (c *Coordinator) Agent(agentID string) (Agent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	agent, ok := c.agents[agentID]
	if !ok {
		return Agent{}, false
	}
	return *agent, true
}

// TrackJob imports the job from the store the first time it matters.
// Dispatchable jobs open and are announced to every online agent. It
// returns false when the store has no such job or cannot be read.
func (c *Coordinator) TrackJob(ctx context.Context, jobID string) bool {
	c.mu.Lock()
	_, tracked := c.jobs[jobID]
	c.mu.Unlock()
	if tracked {
		return true
	}

	order, err := c.config.Store.GetJob(ctx, jobID)
	if err != nil {
		c.config.Logger.Error("job import failed", "job_id", jobID, "err", err)
		return false
	}
	if order == nil {
		return false
	}

	var fx effects
	defer c.apply(&fx)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, tracked := c.jobs[jobID]; tracked {
		return true
	}

	now := c.config.Clock.Now()
	job := &Job{ID: jobID, UpdatedAt: now}

	switch {
	case store.IsDispatchable(order.Status):
		job.Status = StatusOpen
		fx.broadcast(c.onlineAgentsLocked(), notify.NewEvent(notify.NewOrderAvailable, jobID, now, nil))
	case order.Status == store.OrderCancelled:
		job.Status = StatusCancelled
	default:
		job.Status = StatusCommitted
		if order.DriverID != nil {
			job.AssignedTo = order.DriverID.String()
		}
	}

	c.jobs[jobID] = job
	c.config.Logger.Info("job tracked", "job_id", jobID, "status", string(job.Status))
	return true
}

// Job returns a copy of the tracked job.
func (c *Coordinator) Job(jobID string) (Job, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[jobID]
	if !ok {
		return Job{}, false
	}
	return job.clone(), true
}

// CancelJob applies an external cancellation. Cancelled is terminal.
func (c *Coordinator) CancelJob(jobID string) error {
	var fx effects
	defer c.apply(&fx)

	c.mu.Lock()
	defer c.mu.Unlock()

	job, ok := c.jobs[jobID]
	if !ok {
		return ErrJobNotFound
	}
	if job.Status.Final() {
		return ErrJobFinal
	}
	if job.Lease != nil && job.Lease.committing {
		return ErrCommitInProgress
	}

	now := c.config.Clock.Now()
	if job.Lease != nil {
		holderID := job.Lease.HolderID
		c.releaseLocked(job, OutcomeFailed, now)
		fx.released(jobID, holderID, CauseJobCancelled)
	}

	job.Status = StatusCancelled
	job.UpdatedAt = now

	c.config.Logger.Info("job cancelled", "job_id", jobID)
	return nil
}

func (c *Coordinator) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.config.Clock.Now()
	var stats Stats

	for _, job := range c.jobs {
		switch job.Status {
		case StatusOpen:
			stats.OpenJobs++
		case StatusLeased:
			stats.LeasedJobs++
		case StatusCommitted:
			stats.CommittedJobs++
		case StatusCancelled:
			stats.CancelledJobs++
		}

		if job.Lease == nil {
			continue
		}
		if job.Lease.Valid(now) {
			stats.ActiveLeases++
		} else {
			stats.ExpiredLeases++
		}
	}

	for _, agent := range c.agents {
		switch agent.Status {
		case AgentOnline:
			stats.OnlineAgents++
		case AgentOffline:
			stats.OfflineAgents++
		case AgentBusy:
			stats.BusyAgents++
		case AgentOnDelivery:
			stats.OnDeliveryAgents++
		}
	}

	return stats
}

func (c *Coordinator) activeLeases() float64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.config.Clock.Now()
	active := 0
	for _, job := range c.jobs {
		if job.Lease != nil && job.Lease.Valid(now) {
			active++
		}
	}
	return float64(active)
}

// releaseLocked clears the lease, closes the holder's pending attempt and
// reopens the job.
func (c *Coordinator) releaseLocked(job *Job, outcome Outcome, now time.Time) {
	job.resolveAttempt(job.Lease.HolderID, outcome)
	job.Lease = nil
	job.Status = StatusOpen
	job.UpdatedAt = now
}

// onlineAgentsLocked lists online agents, skipping the excluded ids.
func (c *Coordinator) onlineAgentsLocked(exclude ...string) []string {
	recipients := make([]string, 0, len(c.agents))
	for id, agent := range c.agents {
		if agent.Status != AgentOnline || slices.Contains(exclude, id) {
			continue
		}
		recipients = append(recipients, id)
	}
	slices.Sort(recipients)
	return recipients
}

func (c *Coordinator) agentNameLocked(agentID string) string {
	if agent, ok := c.agents[agentID]; ok && agent.Name != "" {
		return agent.Name
	}
	return agentID
}

// effects collects notifications and observer calls made under the lock so
// they can be delivered after it is released.
type effects struct {
	events   []outbound
	releases []release
}

type outbound struct {
	recipients []string
	event      notify.Event
}

type release struct {
	jobID   string
	agentID string
	cause   ReleaseCause
}

func (fx *effects) broadcast(recipients []string, event notify.Event) {
	if len(recipients) == 0 {
		return
	}
	fx.events = append(fx.events, outbound{recipients: recipients, event: event})
}

func (fx *effects) released(jobID, agentID string, cause ReleaseCause) {
	fx.releases = append(fx.releases, release{jobID: jobID, agentID: agentID, cause: cause})
}

func (c *Coordinator) apply(fx *effects) {
	for _, out := range fx.events {
		c.config.Notifier.Notify(out.recipients, out.event)
	}

	for _, r := range fx.releases {
		c.metrics.releases.WithLabelValues(string(r.cause)).Inc()
		if c.config.Observer != nil {
			c.config.Observer.LeaseEnded(r.jobID, r.agentID, r.cause)
		}
	}
}
