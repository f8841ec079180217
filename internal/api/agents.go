package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vin-jex/captain-dispatch/internal/lease"
	"github.com/vin-jex/captain-dispatch/internal/observability"
)

// @Summary Register a driver
// @Description Add or replace a driver. Status defaults to online.
// @Tags Agents
// @Accept json
// @Produce json
// @Param request body RegisterAgentRequest true "Driver"
// @Success 201 {object} AgentResponse
// @Failure 400 {string} string
// @Router /v1/agents [post]
func (s *Server) handleRegisterAgent(
	writer http.ResponseWriter,
	request *http.Request,
) {
	var body RegisterAgentRequest

	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		http.Error(writer, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if body.AgentID == "" || body.Name == "" {
		http.Error(writer, "agent_id and name are required", http.StatusBadRequest)
		return
	}

	status := lease.AgentStatus(body.Status)
	if status != "" && !status.Valid() {
		http.Error(writer, "invalid status", http.StatusBadRequest)
		return
	}

	agent := lease.Agent{ID: body.AgentID, Name: body.Name, Status: status}
	if body.Latitude != nil && body.Longitude != nil {
		agent.Position = &lease.Position{Latitude: *body.Latitude, Longitude: *body.Longitude}
	}

	coordinator := s.service.Coordinator()
	coordinator.RegisterAgent(agent)

	registered, _ := coordinator.Agent(body.AgentID)
	observability.LoggerFromContext(request.Context()).Info("driver registered", "agent_id", body.AgentID)

	writeJSON(writer, http.StatusCreated, agentResponse(registered))
}

// @Summary Deregister a driver
// @Description Remove a driver and release every lease it holds
// @Tags Agents
// @Param agentID path string true "Driver ID"
// @Success 204
// @Failure 404 {string} string
// @Router /v1/agents/{agentID} [delete]
func (s *Server) handleDeregisterAgent(
	writer http.ResponseWriter,
	request *http.Request,
) {
	agentID := mux.Vars(request)["agentID"]
	coordinator := s.service.Coordinator()

	if _, ok := coordinator.Agent(agentID); !ok {
		http.Error(writer, "driver not found", http.StatusNotFound)
		return
	}

	coordinator.DeregisterAgent(agentID)
	observability.LoggerFromContext(request.Context()).Info("driver deregistered", "agent_id", agentID)

	writer.WriteHeader(http.StatusNoContent)
}

// @Summary Update driver presence
// @Description Only online drivers receive broadcasts and may attempt orders
// @Tags Agents
// @Accept json
// @Produce json
// @Param agentID path string true "Driver ID"
// @Param request body SetAgentStatusRequest true "Presence"
// @Success 200 {object} AgentResponse
// @Failure 400 {string} string
// @Failure 404 {string} string
// @Router /v1/agents/{agentID}/status [put]
func (s *Server) handleSetAgentStatus(
	writer http.ResponseWriter,
	request *http.Request,
) {
	agentID := mux.Vars(request)["agentID"]

	var body SetAgentStatusRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		http.Error(writer, "invalid JSON body", http.StatusBadRequest)
		return
	}

	coordinator := s.service.Coordinator()

	err := coordinator.SetAgentStatus(agentID, lease.AgentStatus(body.Status))
	if err != nil {
		if errors.Is(err, lease.ErrAgentNotFound) {
			http.Error(writer, "driver not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, lease.ErrInvalidAgentState) {
			http.Error(writer, "invalid status", http.StatusBadRequest)
			return
		}

		http.Error(writer, "failed to update driver", http.StatusInternalServerError)
		return
	}

	agent, _ := coordinator.Agent(agentID)
	writeJSON(writer, http.StatusOK, agentResponse(agent))
}

// @Summary Driver event stream
// @Description Websocket stream of order_event messages addressed to the driver
// @Tags Agents
// @Param agentID path string true "Driver ID"
// @Success 101
// @Failure 404 {string} string
// @Router /v1/agents/{agentID}/events [get]
func (s *Server) handleAgentEvents(
	writer http.ResponseWriter,
	request *http.Request,
) {
	agentID := mux.Vars(request)["agentID"]

	if _, ok := s.service.Coordinator().Agent(agentID); !ok {
		http.Error(writer, "driver not found", http.StatusNotFound)
		return
	}

	s.hub.ServeAgent(writer, request, agentID)
}

func agentResponse(agent lease.Agent) AgentResponse {
	return AgentResponse{
		AgentID:   agent.ID,
		Name:      agent.Name,
		Status:    string(agent.Status),
		UpdatedAt: agent.UpdatedAt,
	}
}
