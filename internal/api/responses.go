package api

import (
	"time"
)

type ErrorResponse struct {
	Reason      string `json:"reason"`
	Message     string `json:"message"`
	WaitMs      int64  `json:"wait_ms,omitempty"`
	RemainingMs int64  `json:"remaining_ms,omitempty"`
	HolderName  string `json:"holder_name,omitempty"`
}

type AttemptResponse struct {
	JobID       string `json:"job_id"`
	AgentID     string `json:"agent_id"`
	Message     string `json:"message,omitempty"`
	RemainingMs int64  `json:"remaining_ms"`
}

type ConfirmResponse struct {
	JobID   string         `json:"job_id"`
	AgentID string         `json:"agent_id"`
	Order   *OrderResponse `json:"order,omitempty"`
}

type CancelResponse struct {
	JobID   string `json:"job_id"`
	AgentID string `json:"agent_id"`
}

type OrderResponse struct {
	OrderID    string     `json:"order_id"`
	Status     string     `json:"status"`
	DriverID   *string    `json:"driver_id,omitempty"`
	AssignedAt *time.Time `json:"assigned_at,omitempty"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

type LeaseResponse struct {
	HolderID    string    `json:"holder_id"`
	ExpiresAt   time.Time `json:"expires_at"`
	RemainingMs int64     `json:"remaining_ms"`
}

type AttemptRecord struct {
	AgentID   string    `json:"agent_id"`
	AgentName string    `json:"agent_name"`
	At        time.Time `json:"at"`
	Outcome   string    `json:"outcome"`
}

type JobResponse struct {
	JobID      string          `json:"job_id"`
	Status     string          `json:"status"`
	Lease      *LeaseResponse  `json:"lease,omitempty"`
	AssignedTo string          `json:"assigned_to,omitempty"`
	Attempts   []AttemptRecord `json:"attempts"`
	UpdatedAt  time.Time       `json:"updated_at"`
}

type AgentResponse struct {
	AgentID   string    `json:"agent_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updated_at"`
}

type DiagnosticsResponse struct {
	Jobs     JobCounts      `json:"jobs"`
	Agents   AgentCounts    `json:"agents"`
	Leases   LeaseCounts    `json:"leases"`
	Throttle ThrottleCounts `json:"throttle"`
}

type JobCounts struct {
	Open      int `json:"open"`
	Leased    int `json:"leased"`
	Committed int `json:"committed"`
	Cancelled int `json:"cancelled"`
}

type AgentCounts struct {
	Online     int `json:"online"`
	Offline    int `json:"offline"`
	Busy       int `json:"busy"`
	OnDelivery int `json:"on_delivery"`
}

type LeaseCounts struct {
	Active  int `json:"active"`
	Expired int `json:"expired"`
}

type ThrottleCounts struct {
	ActiveAttempts  int   `json:"active_attempts"`
	ContestedJobs   int   `json:"contested_jobs"`
	ActiveCooldowns int   `json:"active_cooldowns"`
	MaxConcurrent   int   `json:"max_concurrent"`
	CooldownSeconds int64 `json:"cooldown_seconds"`
}

type ForceClearResponse struct {
	JobID         string   `json:"job_id"`
	ClearedAgents []string `json:"cleared_agents"`
	LeaseReleased bool     `json:"lease_released"`
}

type ResetCooldownResponse struct {
	AgentID string `json:"agent_id"`
	Reset   bool   `json:"reset"`
}
