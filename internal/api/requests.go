package api

type AgentRequest struct {
	AgentID string `json:"agent_id"`
}

type RegisterAgentRequest struct {
	AgentID   string   `json:"agent_id"`
	Name      string   `json:"name"`
	Status    string   `json:"status,omitempty"`
	Latitude  *float64 `json:"latitude,omitempty"`
	Longitude *float64 `json:"longitude,omitempty"`
}

type SetAgentStatusRequest struct {
	Status string `json:"status"`
}

type AdvanceJobRequest struct {
	AgentID string `json:"agent_id"`
	Status  string `json:"status"`
}
