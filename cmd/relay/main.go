package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	outboxApp "github.com/cassiomorais/printqueue/internal/application/outbox"
	"github.com/cassiomorais/printqueue/internal/application/relay"
	"github.com/cassiomorais/printqueue/internal/bootstrap"
	"github.com/cassiomorais/printqueue/internal/controller"
	infraNATS "github.com/cassiomorais/printqueue/internal/infrastructure/nats"
	infraRedis "github.com/cassiomorais/printqueue/internal/infrastructure/redis"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "printqueue-relay", "printqueue_relay")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	cfg := app.Config
	relayCfg := cfg.Relay

	nc, err := infraNATS.Connect(cfg.NATS, "printqueue-relay-"+cfg.InstanceID, app.Logger)
	if err != nil {
		app.Logger.Error().Err(err).Msg("Failed to connect to NATS")
		return
	}
	defer nc.Close()

	if err := nc.EnsureStream(ctx, relayCfg.StreamName, relayCfg.SubjectPrefix, relayCfg.DuplicateWindow); err != nil {
		app.Logger.Error().Err(err).Str("stream", relayCfg.StreamName).Msg("Failed to ensure JetStream stream")
		return
	}

	// --- Relay ---
	publisher := infraNATS.NewPublisher(nc.JS, infraNATS.PublisherConfig{
		SubjectPrefix:    relayCfg.SubjectPrefix,
		PublishTimeout:   relayCfg.PublishTimeout,
		BreakerThreshold: uint32(relayCfg.CircuitBreakerThreshold),
		BreakerTimeout:   relayCfg.CircuitBreakerTimeout,
	}, app.Metrics, app.Logger)
	handler := relay.NewHandler(publisher, relayCfg.EventSource, relayCfg.PublishConcurrency, app.Metrics, app.Logger)
	lease := infraRedis.NewLease(app.Redis, relayCfg.ConsumerName, cfg.InstanceID, relayCfg.LockTTL)
	runner := relay.NewRunner(app.Store, app.Store, handler, lease, relay.RunnerConfig{
		Consumer:    relayCfg.ConsumerName,
		BatchSize:   relayCfg.BatchSize,
		LeaseTTL:    relayCfg.LockTTL,
		MaxAttempts: relayCfg.MaxAttempts,
	}, app.Logger)

	// --- Retention ---
	sweeper := outboxApp.NewSweeper(app.Store, app.Coordinators, app.Outbox, cfg.Outbox.SweepBatchSize, app.Metrics, app.Logger)

	// --- Ops endpoints ---
	health := controller.NewHealthController(
		controller.Dependency{Name: "database", Ping: app.Store.Ping},
		controller.Dependency{Name: "redis", Ping: app.PingRedis},
		controller.Dependency{Name: "nats", Ping: nc.Ping},
	)
	mux := chi.NewRouter()
	mux.Get("/health/live", health.Liveness)
	mux.Get("/health/ready", health.Readiness)
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	app.Logger.Info().
		Str("consumer", relayCfg.ConsumerName).
		Str("stream", relayCfg.StreamName).
		Str("subject_prefix", relayCfg.SubjectPrefix).
		Msg("Relay started")

	g, gCtx := errgroup.WithContext(ctx)

	// 1. Change feed relay (only the lease holder reads).
	g.Go(func() error {
		return runner.Run(gCtx, relayCfg.PollInterval)
	})

	// 2. Outbox retention sweeper.
	g.Go(func() error {
		return sweeper.Run(gCtx, cfg.Outbox.SweepInterval)
	})

	// 3. Ops server.
	g.Go(func() error {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("ops server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gCtx.Done()
		app.Logger.Info().Msg("Shutting down relay...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		app.Logger.Error().Err(err).Msg("Relay error")
	}
	app.Logger.Info().Msg("Relay exited")
}
