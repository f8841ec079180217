package api

import (
	"net/http"

	"github.com/gorilla/mux"
	httpSwagger "github.com/swaggo/http-swagger"
)

func (s *Server) registerRoutes() {
	r := mux.NewRouter()
	r.Use(s.withRequestID, s.withRequestLogging)

	r.PathPrefix("/swagger/").Handler(httpSwagger.WrapHandler)

	r.Handle("/metrics", s.handleMetrics()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", s.handleHealth).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.handleReady).Methods(http.MethodGet)

	v1 := r.PathPrefix("/v1").Subrouter()
	if s.limiter != nil {
		v1.Use(s.limiter.Middleware)
	}

	v1.HandleFunc("/jobs/{jobID}", s.handleGetJob).Methods(http.MethodGet)
	v1.HandleFunc("/jobs/{jobID}/track", s.handleTrackJob).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{jobID}/attempt", s.handleAttempt).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{jobID}/confirm", s.handleConfirm).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{jobID}/cancel", s.handleCancel).Methods(http.MethodPost)
	v1.HandleFunc("/jobs/{jobID}/status", s.handleAdvanceJob).Methods(http.MethodPut)

	v1.HandleFunc("/agents", s.handleRegisterAgent).Methods(http.MethodPost)
	v1.HandleFunc("/agents/{agentID}", s.handleDeregisterAgent).Methods(http.MethodDelete)
	v1.HandleFunc("/agents/{agentID}/status", s.handleSetAgentStatus).Methods(http.MethodPut)
	v1.HandleFunc("/agents/{agentID}/events", s.handleAgentEvents).Methods(http.MethodGet)

	v1.HandleFunc("/diagnostics", s.handleDiagnostics).Methods(http.MethodGet)

	admin := r.PathPrefix("/admin").Subrouter()
	admin.HandleFunc("/jobs/{jobID}/force-clear", s.handleForceClear).Methods(http.MethodPost)
	admin.HandleFunc("/jobs/{jobID}/external-cancel", s.handleExternalCancel).Methods(http.MethodPost)
	admin.HandleFunc("/agents/{agentID}/cooldown/reset", s.handleResetCooldown).Methods(http.MethodPost)

	s.router = r
}
