package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/juju/clock"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/vin-jex/captain-dispatch/internal/dispatch"
	"github.com/vin-jex/captain-dispatch/internal/notify"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type Config struct {
	Service *dispatch.Service
	Hub     *notify.Hub
	Store   Pinger
	Logger  *slog.Logger
	Clock   clock.Clock

	// Gatherer backs /metrics. Defaults to the global registry.
	Gatherer prometheus.Gatherer

	RateLimitRPS   int
	RateLimitBurst int
}

type Server struct {
	service  *dispatch.Service
	hub      *notify.Hub
	store    Pinger
	logger   *slog.Logger
	clock    clock.Clock
	gatherer prometheus.Gatherer
	limiter  *rateLimiter
	router   *mux.Router
}

func NewServer(config Config) *Server {
	server := &Server{
		service:  config.Service,
		hub:      config.Hub,
		store:    config.Store,
		logger:   config.Logger,
		clock:    config.Clock,
		gatherer: config.Gatherer,
	}

	if server.logger == nil {
		server.logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	if server.clock == nil {
		server.clock = clock.WallClock
	}
	if server.gatherer == nil {
		server.gatherer = prometheus.DefaultGatherer
	}
	if config.RateLimitRPS > 0 {
		server.limiter = newRateLimiter(config.RateLimitRPS, config.RateLimitBurst)
	}

	server.registerRoutes()

	return server
}

func (s *Server) Handler() http.Handler {
	return s.router
}
