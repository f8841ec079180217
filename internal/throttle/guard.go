// Package throttle decides whether a driver may start negotiating for an
// order. It caps how many drivers negotiate one order at a time and keeps
// a driver out of every order for a cooldown window after a failed attempt.
//
// The guard only knows identifiers. It never reads order or lease state.
package throttle

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	DefaultMaxConcurrent = 5
	DefaultCooldown      = 60 * time.Second
)

type Reason string

const (
	ReasonCooldownActive        Reason = "cooldown_active"
	ReasonConcurrencyCapReached Reason = "concurrency_cap_reached"
)

type Config struct {
	// MaxConcurrent is the number of drivers allowed to negotiate one order
	// at the same time.
	MaxConcurrent int

	// Cooldown is applied to a driver after a failed attempt.
	Cooldown time.Duration

	Clock      clock.Clock
	Logger     *slog.Logger
	Registerer prometheus.Registerer
}

func (config Config) Validate() error {
	if config.MaxConcurrent < 0 {
		return errors.New("max concurrent attempts must not be negative")
	}
	if config.Cooldown < 0 {
		return errors.New("cooldown must not be negative")
	}
	return nil
}

func (config Config) withDefaults() Config {
	if config.MaxConcurrent == 0 {
		config.MaxConcurrent = DefaultMaxConcurrent
	}
	if config.Cooldown == 0 {
		config.Cooldown = DefaultCooldown
	}
	if config.Clock == nil {
		config.Clock = clock.WallClock
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return config
}

// Decision is the answer to an admission check. WaitMs is only set when the
// driver is cooling down.
type Decision struct {
	Allowed bool
	Reason  Reason
	Message string
	WaitMs  int64
}

type Stats struct {
	ActiveAttempts   int
	ContestedJobs    int
	ActiveCooldowns  int
	MaxConcurrent    int
	CooldownDuration time.Duration
}

type Guard struct {
	config  Config
	metrics *metrics

	mu sync.Mutex
	// attempts maps job id to the set of agents currently negotiating it.
	attempts map[string]map[string]struct{}
	// cooldowns maps agent id to the instant its cooldown ends.
	cooldowns map[string]time.Time
}

func New(config Config) (*Guard, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	config = config.withDefaults()

	collectors, err := newMetrics(config.Registerer)
	if err != nil {
		return nil, err
	}

	return &Guard{
		config:    config,
		metrics:   collectors,
		attempts:  make(map[string]map[string]struct{}),
		cooldowns: make(map[string]time.Time),
	}, nil
}

// CanAttempt reports whether agentID may start an attempt on jobID. It does
// not reserve a slot; use Admit when the check and the registration must
// happen together.
func (g *Guard) CanAttempt(agentID, jobID string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.canAttemptLocked(agentID, jobID, g.config.Clock.Now())
}

// RegisterAttempt adds agentID to the set negotiating jobID.
func (g *Guard) RegisterAttempt(agentID, jobID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.registerLocked(agentID, jobID)
}

// Admit checks and registers in one step, so two concurrent callers cannot
// both pass the concurrency cap.
func (g *Guard) Admit(agentID, jobID string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	decision := g.canAttemptLocked(agentID, jobID, g.config.Clock.Now())
	if decision.Allowed {
		g.registerLocked(agentID, jobID)
	}

	g.metrics.observe(decision)
	return decision
}

// ResolveAttempt removes agentID from jobID's negotiation set. A failed
// attempt starts the agent's cooldown.
func (g *Guard) ResolveAttempt(agentID, jobID string, success bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.unregisterLocked(agentID, jobID)

	if success {
		return
	}

	expiry := g.config.Clock.Now().Add(g.config.Cooldown)
	g.cooldowns[agentID] = expiry
	g.config.Logger.Debug("cooldown applied", "agent_id", agentID, "job_id", jobID, "until", expiry)
}

// ReleaseAttempt frees the agent's slot on jobID without judging the
// outcome: no cooldown is applied.
func (g *Guard) ReleaseAttempt(agentID, jobID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.unregisterLocked(agentID, jobID)
}

// PeriodicCleanup drops cooldowns that have ended and returns how many were
// removed.
func (g *Guard) PeriodicCleanup() int {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.config.Clock.Now()
	removed := 0
	for agentID, expiry := range g.cooldowns {
		if !now.Before(expiry) {
			delete(g.cooldowns, agentID)
			removed++
		}
	}

	return removed
}

// ForceClear empties jobID's negotiation set and puts every agent that was
// in it on a half-length cooldown. It returns those agents.
func (g *Guard) ForceClear(jobID string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()

	agents := g.attempts[jobID]
	delete(g.attempts, jobID)

	expiry := g.config.Clock.Now().Add(g.config.Cooldown / 2)
	cleared := make([]string, 0, len(agents))
	for agentID := range agents {
		if current, ok := g.cooldowns[agentID]; !ok || current.Before(expiry) {
			g.cooldowns[agentID] = expiry
		}
		cleared = append(cleared, agentID)
	}

	g.config.Logger.Info("attempts force-cleared", "job_id", jobID, "agents", len(cleared))
	return cleared
}

// ResetCooldown lifts agentID's cooldown. It reports whether one was set.
func (g *Guard) ResetCooldown(agentID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	_, ok := g.cooldowns[agentID]
	delete(g.cooldowns, agentID)

	if ok {
		g.config.Logger.Info("cooldown reset", "agent_id", agentID)
	}
	return ok
}

func (g *Guard) Stats() Stats {
	g.mu.Lock()
	defer g.mu.Unlock()

	now := g.config.Clock.Now()
	stats := Stats{
		ContestedJobs:    len(g.attempts),
		MaxConcurrent:    g.config.MaxConcurrent,
		CooldownDuration: g.config.Cooldown,
	}
	for _, agents := range g.attempts {
		stats.ActiveAttempts += len(agents)
	}
	for _, expiry := range g.cooldowns {
		if now.Before(expiry) {
			stats.ActiveCooldowns++
		}
	}

	return stats
}

func (g *Guard) canAttemptLocked(agentID, jobID string, now time.Time) Decision {
	if expiry, ok := g.cooldowns[agentID]; ok && now.Before(expiry) {
		return Decision{
			Reason:  ReasonCooldownActive,
			Message: "recent attempt failed, wait before trying again",
			WaitMs:  waitMillis(expiry.Sub(now)),
		}
	}

	agents := g.attempts[jobID]
	if _, already := agents[agentID]; already {
		return Decision{Allowed: true}
	}

	if len(agents) >= g.config.MaxConcurrent {
		return Decision{
			Reason:  ReasonConcurrencyCapReached,
			Message: "too many drivers are negotiating this order",
		}
	}

	return Decision{Allowed: true}
}

func (g *Guard) registerLocked(agentID, jobID string) {
	agents, ok := g.attempts[jobID]
	if !ok {
		agents = make(map[string]struct{})
		g.attempts[jobID] = agents
	}
	agents[agentID] = struct{}{}
}

func (g *Guard) unregisterLocked(agentID, jobID string) {
	agents, ok := g.attempts[jobID]
	if !ok {
		return
	}

	delete(agents, agentID)
	if len(agents) == 0 {
		delete(g.attempts, jobID)
	}
}

// waitMillis rounds up so a positive remainder never reports zero.
func waitMillis(d time.Duration) int64 {
	ms := d.Milliseconds()
	if d > time.Duration(ms)*time.Millisecond {
		ms++
	}
	return ms
}
