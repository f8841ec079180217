package lease

import (
	"errors"

	"github.com/vin-jex/captain-dispatch/internal/store"
)

// Reason classifies a rejected operation. Rejections are results, not errors.
type Reason string

const (
	ReasonNotFound         Reason = "not_found"
	ReasonNotAvailable     Reason = "not_available"
	ReasonLocked           Reason = "locked"
	ReasonTooManyAttempts  Reason = "too_many_attempts"
	ReasonCapacityExceeded Reason = "capacity_exceeded"
	ReasonNoLease          Reason = "no_lease"
	ReasonSystemError      Reason = "system_error"
)

var (
	ErrJobNotFound       = errors.New("job not found")
	ErrAgentNotFound     = errors.New("agent not found")
	ErrCommitInProgress  = errors.New("commit in progress")
	ErrJobFinal          = errors.New("job already committed or cancelled")
	ErrInvalidAgentState = errors.New("invalid agent status")
	ErrNotAssigned       = errors.New("job is not assigned to this agent")
)

type AcquireResult struct {
	Granted bool
	Reason  Reason
	Message string

	HolderID    string
	HolderName  string
	RemainingMs int64
}

type ConfirmResult struct {
	Success bool
	Reason  Reason
	Message string

	// Order is the store's view after the commit. It may be nil when the
	// read-back failed; the commit itself is still durable.
	Order *store.Order
}

type Stats struct {
	OpenJobs      int
	LeasedJobs    int
	CommittedJobs int
	CancelledJobs int

	OnlineAgents     int
	OfflineAgents    int
	BusyAgents       int
	OnDeliveryAgents int

	ActiveLeases  int
	ExpiredLeases int
}
