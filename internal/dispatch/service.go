// Package dispatch is the operation surface request handlers call: it
// admits an attempt through the throttle guard, then negotiates the lease
// with the coordinator, and keeps the guard's bookkeeping in step with how
// each lease ends.
package dispatch

import (
	"context"
	"io"
	"log/slog"

	"github.com/vin-jex/captain-dispatch/internal/lease"
	"github.com/vin-jex/captain-dispatch/internal/store"
	"github.com/vin-jex/captain-dispatch/internal/throttle"
)

type Config struct {
	Lease    lease.Config
	Throttle throttle.Config
	Logger   *slog.Logger
}

// Result is the answer to attempt, confirm and cancel. Reason is empty when
// OK is true. WaitMs is set for cooldowns, RemainingMs for held leases.
type Result struct {
	OK      bool
	Reason  string
	Message string

	WaitMs      int64
	RemainingMs int64
	HolderName  string
	Order       *store.Order
}

type Diagnostics struct {
	Lease    lease.Stats
	Throttle throttle.Stats
}

type ForceClearResult struct {
	ClearedAgents []string
	LeaseReleased bool
}

var _ lease.Observer = (*Service)(nil)

type Service struct {
	coordinator *lease.Coordinator
	guard       *throttle.Guard
	logger      *slog.Logger
}

func New(config Config) (*Service, error) {
	logger := config.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	service := &Service{logger: logger}

	guard, err := throttle.New(config.Throttle)
	if err != nil {
		return nil, err
	}

	leaseConfig := config.Lease
	leaseConfig.Observer = service
	coordinator, err := lease.NewCoordinator(leaseConfig)
	if err != nil {
		return nil, err
	}

	service.guard = guard
	service.coordinator = coordinator
	return service, nil
}

func (s *Service) Coordinator() *lease.Coordinator {
	return s.coordinator
}

func (s *Service) Guard() *throttle.Guard {
	return s.guard
}

// Attempt asks for agentID's lease on jobID. The guard's check and
// registration happen as one step before the coordinator is consulted.
func (s *Service) Attempt(ctx context.Context, jobID, agentID string) Result {
	decision := s.guard.Admit(agentID, jobID)
	if !decision.Allowed {
		return Result{
			Reason:  string(decision.Reason),
			Message: decision.Message,
			WaitMs:  decision.WaitMs,
		}
	}

	if _, tracked := s.coordinator.Job(jobID); !tracked {
		s.coordinator.TrackJob(ctx, jobID)
	}

	acquired := s.coordinator.TryAcquireLease(jobID, agentID)
	if acquired.Granted {
		return Result{
			OK:          true,
			Message:     acquired.Message,
			RemainingMs: acquired.RemainingMs,
			HolderName:  acquired.HolderName,
		}
	}

	switch acquired.Reason {
	case lease.ReasonTooManyAttempts:
		s.guard.ResolveAttempt(agentID, jobID, false)
	default:
		s.guard.ReleaseAttempt(agentID, jobID)
	}

	return Result{
		Reason:      string(acquired.Reason),
		Message:     acquired.Message,
		RemainingMs: acquired.RemainingMs,
		HolderName:  acquired.HolderName,
	}
}

// Confirm commits agentID's lease. A capacity rejection counts as a failed
// attempt for throttling, but the lease itself stays with the agent until
// it cancels or the lease runs out.
func (s *Service) Confirm(ctx context.Context, jobID, agentID string) Result {
	confirmed := s.coordinator.ConfirmLease(ctx, jobID, agentID)
	if confirmed.Success {
		return Result{OK: true, Order: confirmed.Order}
	}

	if confirmed.Reason == lease.ReasonCapacityExceeded {
		s.guard.ResolveAttempt(agentID, jobID, false)
	}

	return Result{Reason: string(confirmed.Reason), Message: confirmed.Message}
}

func (s *Service) Cancel(jobID, agentID string) Result {
	if !s.coordinator.CancelLease(jobID, agentID) {
		return Result{
			Reason:  string(lease.ReasonNoLease),
			Message: "driver does not hold the lease",
		}
	}

	return Result{OK: true}
}

func (s *Service) Diagnostics() Diagnostics {
	return Diagnostics{
		Lease:    s.coordinator.Stats(),
		Throttle: s.guard.Stats(),
	}
}

// ForceClear is the emergency unlock. The guard is cleared first so every
// competing agent, the holder included, receives the half-length cooldown.
func (s *Service) ForceClear(jobID string) ForceClearResult {
	cleared := s.guard.ForceClear(jobID)
	released := s.coordinator.ForceRelease(jobID)

	s.logger.Warn("order force-cleared", "job_id", jobID, "agents", len(cleared), "lease_released", released)
	return ForceClearResult{ClearedAgents: cleared, LeaseReleased: released}
}

func (s *Service) ResetCooldown(agentID string) bool {
	return s.guard.ResetCooldown(agentID)
}

// LeaseEnded keeps the guard in step with the coordinator. A lease the
// agent has already acquired again by the time this runs is left alone.
func (s *Service) LeaseEnded(jobID, agentID string, cause lease.ReleaseCause) {
	if cause != lease.CauseCommitted && s.holdsLease(jobID, agentID) {
		return
	}

	switch cause {
	case lease.CauseCommitted:
		s.guard.ResolveAttempt(agentID, jobID, true)
	case lease.CauseCancelled, lease.CauseExpired:
		s.guard.ResolveAttempt(agentID, jobID, false)
	default:
		s.guard.ReleaseAttempt(agentID, jobID)
	}
}

func (s *Service) holdsLease(jobID, agentID string) bool {
	job, ok := s.coordinator.Job(jobID)
	return ok && job.Lease != nil && job.Lease.HolderID == agentID
}
