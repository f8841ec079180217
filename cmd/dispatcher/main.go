// Dispatcher is the long-running process that negotiates which delivery
// captain gets each order.
//
// Responsibilities:
//   - Import dispatchable orders from the store and announce them
//   - Grant short exclusive leases and commit confirmed assignments
//   - Throttle drivers that fail or abandon attempts
//   - Reclaim expired leases and push order events to connected drivers
//
// Lease and throttle state is held in memory, so exactly one dispatcher
// should run against a given order store.
package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/vin-jex/captain-dispatch/internal/api"
	"github.com/vin-jex/captain-dispatch/internal/config"
	"github.com/vin-jex/captain-dispatch/internal/dispatch"
	"github.com/vin-jex/captain-dispatch/internal/intake"
	"github.com/vin-jex/captain-dispatch/internal/lease"
	"github.com/vin-jex/captain-dispatch/internal/notify"
	"github.com/vin-jex/captain-dispatch/internal/observability"
	"github.com/vin-jex/captain-dispatch/internal/scheduler"
	"github.com/vin-jex/captain-dispatch/internal/store"
	"github.com/vin-jex/captain-dispatch/internal/throttle"
)

// @title Captain Dispatch API
// @version 1.0
// @description Lease-based assignment of delivery orders to captains.

// @contact.name Okereke Vincent
// @contact.url https://github.com/vin-jex
// @contact.email vincentcode0@gmail.com

// @license.name MIT
// @license.url https://opensource.org/licenses/MIT

// @BasePath /
// @schemes http
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatal(err)
	}

	logger := observability.NewLogger("dispatcher", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(
		context.Background(),
		syscall.SIGINT,
		syscall.SIGTERM,
	)
	defer stop()

	storeLayer, err := store.NewStore(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal(err)
	}
	defer storeLayer.Close()

	if err := storeLayer.Migrate(ctx); err != nil {
		log.Fatal(err)
	}

	hub := notify.NewHub(logger)

	service, err := dispatch.New(dispatch.Config{
		Lease: lease.Config{
			Store:         storeLayer,
			Notifier:      hub,
			HoldDuration:  cfg.LeaseHoldDuration,
			MaxAttempts:   cfg.LeaseMaxAttempts,
			MaxActiveJobs: cfg.AgentMaxActiveJobs,
			Logger:        logger,
			Registerer:    prometheus.DefaultRegisterer,
		},
		Throttle: throttle.Config{
			MaxConcurrent: cfg.ThrottleMaxConcurrent,
			Cooldown:      cfg.ThrottleCooldown,
			Logger:        logger,
			Registerer:    prometheus.DefaultRegisterer,
		},
		Logger: logger,
	})
	if err != nil {
		log.Fatal(err)
	}

	housekeeping := scheduler.New(service.Coordinator(), service.Guard(), scheduler.Config{
		SweepInterval:   cfg.LeaseSweepInterval,
		CleanupInterval: cfg.ThrottleCleanupInterval,
		Logger:          logger,
	})

	poller := intake.New(storeLayer, service.Coordinator(), intake.Config{
		PollInterval: cfg.IntakePollInterval,
		BatchSize:    cfg.IntakeBatchSize,
		Logger:       logger,
	})

	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		housekeeping.Run(ctx)
	}()
	go func() {
		defer background.Done()
		poller.Run(ctx)
	}()

	server := api.NewServer(api.Config{
		Service:        service,
		Hub:            hub,
		Store:          storeLayer,
		Logger:         logger,
		RateLimitRPS:   cfg.HTTPRateLimitRPS,
		RateLimitBurst: cfg.HTTPRateLimitBurst,
	})

	// No WriteTimeout: driver event streams stay open indefinitely.
	httpServer := &http.Server{
		Addr:        cfg.HTTPAddr,
		Handler:     server.Handler(),
		ReadTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server listening", "addr", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal(err)
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_ = httpServer.Shutdown(shutdownCtx)
	background.Wait()
}
