package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vin-jex/captain-dispatch/internal/lease"
	"github.com/vin-jex/captain-dispatch/internal/observability"
	"github.com/vin-jex/captain-dispatch/internal/store"
)

// handleHealth godoc
// @Summary      Liveness probe
// @Description  Indicates whether the process is alive
// @Tags         ops
// @Produce      text/plain
// @Success      200 {string} string "ok"
// @Router       /healthz [get]
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ok"))
}

// handleReady godoc
// @Summary      Readiness probe
// @Description  Indicates whether the order store is reachable
// @Tags         ops
// @Produce      text/plain
// @Success      200 {string} string "ready"
// @Failure      503 {string} string "not ready"
// @Router       /readyz [get]
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), time.Second)
	defer cancel()

	if s.store != nil {
		if err := s.store.Ping(ctx); err != nil {
			http.Error(w, "not ready", http.StatusServiceUnavailable)
			return
		}
	}

	w.WriteHeader(http.StatusOK)
	w.Write([]byte("ready"))
}

// handleMetrics godoc
// @Summary      Prometheus metrics
// @Description  Exposes service metrics in Prometheus format
// @Tags         ops
// @Produce      text/plain
// @Success      200 {string} string
// @Router       /metrics [get]
func (s *Server) handleMetrics() http.Handler {
	return promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})
}

// @Summary Get order dispatch state
// @Description Status, current lease and attempt history of a tracked order
// @Tags Jobs
// @Produce json
// @Param jobID path string true "Order ID"
// @Success 200 {object} JobResponse
// @Failure 404 {string} string
// @Router /v1/jobs/{jobID} [get]
func (s *Server) handleGetJob(
	writer http.ResponseWriter,
	request *http.Request,
) {
	jobID := mux.Vars(request)["jobID"]

	job, ok := s.service.Coordinator().Job(jobID)
	if !ok {
		http.Error(writer, "order is not tracked", http.StatusNotFound)
		return
	}

	writeJSON(writer, http.StatusOK, s.jobResponse(job))
}

// @Summary Track an order
// @Description Import an order from the store and announce it if it is dispatchable
// @Tags Jobs
// @Produce json
// @Param jobID path string true "Order ID"
// @Success 200 {object} JobResponse
// @Failure 404 {string} string
// @Router /v1/jobs/{jobID}/track [post]
func (s *Server) handleTrackJob(
	writer http.ResponseWriter,
	request *http.Request,
) {
	jobID := mux.Vars(request)["jobID"]
	coordinator := s.service.Coordinator()

	if !coordinator.TrackJob(request.Context(), jobID) {
		http.Error(writer, "order not found", http.StatusNotFound)
		return
	}

	job, _ := coordinator.Job(jobID)
	writeJSON(writer, http.StatusOK, s.jobResponse(job))
}

// @Summary Attempt an order
// @Description Ask for the exclusive lease on an order for a driver
// @Tags Jobs
// @Accept json
// @Produce json
// @Param jobID path string true "Order ID"
// @Param request body AgentRequest true "Driver"
// @Success 200 {object} AttemptResponse
// @Failure 400 {string} string
// @Failure 404 {object} ErrorResponse
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 429 {object} ErrorResponse
// @Router /v1/jobs/{jobID}/attempt [post]
func (s *Server) handleAttempt(
	writer http.ResponseWriter,
	request *http.Request,
) {
	jobID := mux.Vars(request)["jobID"]

	agentID, ok := decodeAgentID(writer, request)
	if !ok {
		return
	}

	result := s.service.Attempt(request.Context(), jobID, agentID)
	if !result.OK {
		writeRejection(writer, result)
		return
	}

	observability.LoggerFromContext(request.Context()).Info("lease granted", "job_id", jobID, "agent_id", agentID)
	writeJSON(writer, http.StatusOK, AttemptResponse{
		JobID:       jobID,
		AgentID:     agentID,
		Message:     result.Message,
		RemainingMs: result.RemainingMs,
	})
}

// @Summary Confirm an order
// @Description Turn the driver's lease into a durable assignment
// @Tags Jobs
// @Accept json
// @Produce json
// @Param jobID path string true "Order ID"
// @Param request body AgentRequest true "Driver"
// @Success 200 {object} ConfirmResponse
// @Failure 400 {string} string
// @Failure 409 {object} ErrorResponse
// @Failure 410 {object} ErrorResponse
// @Failure 422 {object} ErrorResponse
// @Failure 500 {object} ErrorResponse
// @Router /v1/jobs/{jobID}/confirm [post]
func (s *Server) handleConfirm(
	writer http.ResponseWriter,
	request *http.Request,
) {
	jobID := mux.Vars(request)["jobID"]

	agentID, ok := decodeAgentID(writer, request)
	if !ok {
		return
	}

	result := s.service.Confirm(request.Context(), jobID, agentID)
	if !result.OK {
		writeRejection(writer, result)
		return
	}

	writeJSON(writer, http.StatusOK, ConfirmResponse{
		JobID:   jobID,
		AgentID: agentID,
		Order:   orderResponse(result.Order),
	})
}

// @Summary Cancel a lease
// @Description Give up the driver's lease so others may attempt the order
// @Tags Jobs
// @Accept json
// @Produce json
// @Param jobID path string true "Order ID"
// @Param request body AgentRequest true "Driver"
// @Success 200 {object} CancelResponse
// @Failure 400 {string} string
// @Failure 409 {object} ErrorResponse
// @Router /v1/jobs/{jobID}/cancel [post]
func (s *Server) handleCancel(
	writer http.ResponseWriter,
	request *http.Request,
) {
	jobID := mux.Vars(request)["jobID"]

	agentID, ok := decodeAgentID(writer, request)
	if !ok {
		return
	}

	result := s.service.Cancel(jobID, agentID)
	if !result.OK {
		writeRejection(writer, result)
		return
	}

	writeJSON(writer, http.StatusOK, CancelResponse{JobID: jobID, AgentID: agentID})
}

// @Summary Dispatch diagnostics
// @Description Counts of orders, drivers, leases and throttling state
// @Tags ops
// @Produce json
// @Success 200 {object} DiagnosticsResponse
// @Router /v1/diagnostics [get]
func (s *Server) handleDiagnostics(
	writer http.ResponseWriter,
	_ *http.Request,
) {
	diagnostics := s.service.Diagnostics()
	leaseStats := diagnostics.Lease
	throttleStats := diagnostics.Throttle

	writeJSON(writer, http.StatusOK, DiagnosticsResponse{
		Jobs: JobCounts{
			Open:      leaseStats.OpenJobs,
			Leased:    leaseStats.LeasedJobs,
			Committed: leaseStats.CommittedJobs,
			Cancelled: leaseStats.CancelledJobs,
		},
		Agents: AgentCounts{
			Online:     leaseStats.OnlineAgents,
			Offline:    leaseStats.OfflineAgents,
			Busy:       leaseStats.BusyAgents,
			OnDelivery: leaseStats.OnDeliveryAgents,
		},
		Leases: LeaseCounts{
			Active:  leaseStats.ActiveLeases,
			Expired: leaseStats.ExpiredLeases,
		},
		Throttle: ThrottleCounts{
			ActiveAttempts:  throttleStats.ActiveAttempts,
			ContestedJobs:   throttleStats.ContestedJobs,
			ActiveCooldowns: throttleStats.ActiveCooldowns,
			MaxConcurrent:   throttleStats.MaxConcurrent,
			CooldownSeconds: int64(throttleStats.CooldownDuration / time.Second),
		},
	})
}

func decodeAgentID(writer http.ResponseWriter, request *http.Request) (string, bool) {
	var body AgentRequest

	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		http.Error(writer, "invalid JSON body", http.StatusBadRequest)
		return "", false
	}

	if body.AgentID == "" {
		http.Error(writer, "agent_id is required", http.StatusBadRequest)
		return "", false
	}

	return body.AgentID, true
}

func (s *Server) jobResponse(job lease.Job) JobResponse {
	response := JobResponse{
		JobID:      job.ID,
		Status:     string(job.Status),
		AssignedTo: job.AssignedTo,
		Attempts:   make([]AttemptRecord, 0, len(job.Attempts)),
		UpdatedAt:  job.UpdatedAt,
	}

	if job.Lease != nil {
		response.Lease = &LeaseResponse{
			HolderID:    job.Lease.HolderID,
			ExpiresAt:   job.Lease.ExpiresAt,
			RemainingMs: job.Lease.Remaining(s.clock.Now()).Milliseconds(),
		}
	}

	for _, attempt := range job.Attempts {
		response.Attempts = append(response.Attempts, AttemptRecord{
			AgentID:   attempt.AgentID,
			AgentName: attempt.AgentName,
			At:        attempt.At,
			Outcome:   string(attempt.Outcome),
		})
	}

	return response
}

func orderResponse(order *store.Order) *OrderResponse {
	if order == nil {
		return nil
	}

	response := &OrderResponse{
		OrderID:    order.ID.String(),
		Status:     order.Status,
		AssignedAt: order.AssignedAt,
		UpdatedAt:  order.UpdatedAt,
	}

	if order.DriverID != nil {
		driverID := order.DriverID.String()
		response.DriverID = &driverID
	}

	return response
}

// @Summary Report delivery progress
// @Description Move an assigned order to picked_up or delivered. Only the assigned driver may do so.
// @Tags Jobs
// @Accept json
// @Param jobID path string true "Order ID"
// @Param request body AdvanceJobRequest true "Driver and new status"
// @Success 204
// @Failure 400 {string} string
// @Failure 403 {string} string
// @Failure 404 {string} string
// @Failure 409 {string} string
// @Router /v1/jobs/{jobID}/status [put]
func (s *Server) handleAdvanceJob(
	writer http.ResponseWriter,
	request *http.Request,
) {
	jobID := mux.Vars(request)["jobID"]

	var body AdvanceJobRequest
	if err := json.NewDecoder(request.Body).Decode(&body); err != nil {
		http.Error(writer, "invalid JSON body", http.StatusBadRequest)
		return
	}

	if body.AgentID == "" || body.Status == "" {
		http.Error(writer, "agent_id and status are required", http.StatusBadRequest)
		return
	}

	err := s.service.Coordinator().AdvanceJob(request.Context(), jobID, body.AgentID, body.Status)
	if err != nil {
		switch {
		case errors.Is(err, lease.ErrJobNotFound):
			http.Error(writer, "order is not tracked", http.StatusNotFound)
		case errors.Is(err, lease.ErrNotAssigned):
			http.Error(writer, "order is not assigned to this driver", http.StatusForbidden)
		case errors.Is(err, store.ErrInvalidStateTransition):
			http.Error(writer, "order cannot move to that status", http.StatusConflict)
		default:
			observability.LoggerFromContext(request.Context()).Error("delivery progress failed", "job_id", jobID, "err", err)
			http.Error(writer, "failed to update order", http.StatusInternalServerError)
		}
		return
	}

	writer.WriteHeader(http.StatusNoContent)
}
