package lease

import "time"

type Status string

const (
	StatusOpen      Status = "open"
	StatusLeased    Status = "leased"
	StatusCommitted Status = "committed"
	StatusCancelled Status = "cancelled"
)

// Final reports whether no further transition is allowed.
func (s Status) Final() bool {
	return s == StatusCommitted || s == StatusCancelled
}

type Outcome string

const (
	OutcomeAttempting Outcome = "attempting"
	OutcomeSucceeded  Outcome = "succeeded"
	OutcomeFailed     Outcome = "failed"
	OutcomeTimedOut   Outcome = "timed_out"
)

type AgentStatus string

const (
	AgentOnline     AgentStatus = "online"
	AgentOffline    AgentStatus = "offline"
	AgentBusy       AgentStatus = "busy"
	AgentOnDelivery AgentStatus = "on_delivery"
)

func (s AgentStatus) Valid() bool {
	switch s {
	case AgentOnline, AgentOffline, AgentBusy, AgentOnDelivery:
		return true
	}
	return false
}

// Position is advisory only and never consulted for assignment decisions.
type Position struct {
	Latitude  float64
	Longitude float64
}

type Agent struct {
	ID        string
	Name      string
	Status    AgentStatus
	Position  *Position
	UpdatedAt time.Time
}

type Lease struct {
	HolderID  string
	CreatedAt time.Time
	ExpiresAt time.Time

	// committing is set while ConfirmLease talks to the order store. Such a
	// lease cannot be cancelled, swept or lazily expired.
	committing bool
}

// Valid reports whether the lease still grants exclusivity at now.
func (l Lease) Valid(now time.Time) bool {
	return now.Before(l.ExpiresAt)
}

func (l Lease) Remaining(now time.Time) time.Duration {
	if !l.Valid(now) {
		return 0
	}
	return l.ExpiresAt.Sub(now)
}

type Attempt struct {
	AgentID   string
	AgentName string
	At        time.Time
	Outcome   Outcome
}

type Job struct {
	ID       string
	Status   Status
	Lease    *Lease
	Attempts []Attempt
	// AssignedTo is the committed holder once Status is StatusCommitted.
	AssignedTo string
	UpdatedAt  time.Time
}

func (j *Job) clone() Job {
	out := *j
	if j.Lease != nil {
		lease := *j.Lease
		out.Lease = &lease
	}
	out.Attempts = append([]Attempt(nil), j.Attempts...)
	return out
}

// resolveAttempt closes the agent's pending attempt with outcome.
func (j *Job) resolveAttempt(agentID string, outcome Outcome) {
	for i := len(j.Attempts) - 1; i >= 0; i-- {
		attempt := &j.Attempts[i]
		if attempt.AgentID == agentID && attempt.Outcome == OutcomeAttempting {
			attempt.Outcome = outcome
			return
		}
	}
}

// failedAttempts counts the agent's attempts that ended without a commit.
func (j *Job) failedAttempts(agentID string) int {
	count := 0
	for _, attempt := range j.Attempts {
		if attempt.AgentID != agentID {
			continue
		}
		if attempt.Outcome == OutcomeFailed || attempt.Outcome == OutcomeTimedOut {
			count++
		}
	}
	return count
}

// ReleaseCause says why a lease stopped existing.
type ReleaseCause string

const (
	CauseCommitted    ReleaseCause = "committed"
	CauseCancelled    ReleaseCause = "cancelled"
	CauseExpired      ReleaseCause = "expired"
	CauseJobCancelled ReleaseCause = "job_cancelled"
	CauseDeregistered ReleaseCause = "deregistered"
	CauseForceCleared ReleaseCause = "force_cleared"
)

// Observer is told about every lease that ends, after the coordinator lock
// has been released.
type Observer interface {
	LeaseEnded(jobID, agentID string, cause ReleaseCause)
}
