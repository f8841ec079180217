package api

import (
	"errors"
	"net/http"

	"github.com/gorilla/mux"

	"github.com/vin-jex/captain-dispatch/internal/lease"
	"github.com/vin-jex/captain-dispatch/internal/observability"
)

// @Summary Force-clear an order
// @Description Emergency unlock. Releases the lease and puts every competing driver on a half-length cooldown.
// @Tags Admin
// @Produce json
// @Param jobID path string true "Order ID"
// @Success 200 {object} ForceClearResponse
// @Router /admin/jobs/{jobID}/force-clear [post]
func (s *Server) handleForceClear(
	writer http.ResponseWriter,
	request *http.Request,
) {
	jobID := mux.Vars(request)["jobID"]

	result := s.service.ForceClear(jobID)

	cleared := result.ClearedAgents
	if cleared == nil {
		cleared = []string{}
	}

	writeJSON(writer, http.StatusOK, ForceClearResponse{
		JobID:         jobID,
		ClearedAgents: cleared,
		LeaseReleased: result.LeaseReleased,
	})
}

// @Summary Cancel an order upstream
// @Description Apply a cancellation made outside the dispatcher. Cancelled is terminal.
// @Tags Admin
// @Param jobID path string true "Order ID"
// @Success 204
// @Failure 404 {string} string
// @Failure 409 {string} string
// @Router /admin/jobs/{jobID}/external-cancel [post]
func (s *Server) handleExternalCancel(
	writer http.ResponseWriter,
	request *http.Request,
) {
	jobID := mux.Vars(request)["jobID"]

	err := s.service.Coordinator().CancelJob(jobID)
	if err != nil {
		switch {
		case errors.Is(err, lease.ErrJobNotFound):
			http.Error(writer, "order is not tracked", http.StatusNotFound)
		case errors.Is(err, lease.ErrJobFinal):
			http.Error(writer, "order is already final", http.StatusConflict)
		case errors.Is(err, lease.ErrCommitInProgress):
			http.Error(writer, "order is being confirmed", http.StatusConflict)
		default:
			http.Error(writer, "failed to cancel order", http.StatusInternalServerError)
		}
		return
	}

	observability.LoggerFromContext(request.Context()).Info("order cancelled by operator", "job_id", jobID)
	writer.WriteHeader(http.StatusNoContent)
}

// @Summary Reset a driver cooldown
// @Tags Admin
// @Produce json
// @Param agentID path string true "Driver ID"
// @Success 200 {object} ResetCooldownResponse
// @Router /admin/agents/{agentID}/cooldown/reset [post]
func (s *Server) handleResetCooldown(
	writer http.ResponseWriter,
	request *http.Request,
) {
	agentID := mux.Vars(request)["agentID"]

	writeJSON(writer, http.StatusOK, ResetCooldownResponse{
		AgentID: agentID,
		Reset:   s.service.ResetCooldown(agentID),
	})
}
