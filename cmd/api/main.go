package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	printerApp "github.com/cassiomorais/printqueue/internal/application/printer"
	printjobApp "github.com/cassiomorais/printqueue/internal/application/printjob"
	"github.com/cassiomorais/printqueue/internal/bootstrap"
	"github.com/cassiomorais/printqueue/internal/controller"
	infraRedis "github.com/cassiomorais/printqueue/internal/infrastructure/redis"
	"golang.org/x/crypto/bcrypt"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, "printqueue-api", "printqueue")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to bootstrap: %v\n", err)
		os.Exit(1)
	}
	defer app.Close()

	cfg := app.Config

	// --- Use cases ---
	submitUC := printjobApp.NewSubmitPrintJobUseCase(app.PrintJobs, app.Printers, app.OutboxWriter, app.Coordinators, app.Metrics)
	getUC := printjobApp.NewGetPrintJobUseCase(app.PrintJobs)
	claimUC := printjobApp.NewClaimPrintJobsUseCase(app.PrintJobs, app.Printers, app.OutboxWriter, app.Coordinators,
		cfg.Printer.DefaultMaxJobs, app.Metrics, app.Logger)
	ackUC := printjobApp.NewAcknowledgePrintJobUseCase(app.PrintJobs, app.Printers, app.OutboxWriter, app.Coordinators,
		app.Metrics, app.Logger)
	registerUC := printerApp.NewRegisterPrinterUseCase(app.Printers, app.OutboxWriter, app.Coordinators, bcrypt.DefaultCost)
	statusesUC := printerApp.NewListPrinterStatusesUseCase(app.Printers, cfg.Printer.OnlineWindow)
	var keyCache printerApp.KeyCache
	if cfg.Auth.PrinterKeyCacheTTL > 0 {
		keyCache = infraRedis.NewKeyCache(app.Redis, cfg.Auth.PrinterKeyCacheTTL)
	}
	authUC := printerApp.NewAuthenticatePrinterUseCase(app.Printers, keyCache)

	// --- Router ---
	router := controller.NewRouter(controller.RouterDeps{
		PrintJobs: controller.NewPrintJobController(submitUC, getUC),
		Printers:  controller.NewPrinterController(registerUC, statusesUC),
		Devices:   controller.NewDeviceController(claimUC, ackUC),
		Health: controller.NewHealthController(
			controller.Dependency{Name: "database", Ping: app.Store.Ping},
			controller.Dependency{Name: "redis", Ping: app.PingRedis},
		),
		PrinterAuth:      authUC,
		IdempotencyStore: infraRedis.NewIdempotencyStore(app.Redis, cfg.Server.IdempotencyTTL),
		Metrics:          app.Metrics,
		Server:           cfg.Server,
		Auth:             cfg.Auth,
		Logger:           app.Logger,
	})

	// --- HTTP server ---
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		app.Logger.Info().Str("addr", addr).Msg("Starting HTTP server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			app.Logger.Error().Err(err).Msg("HTTP server failed")
			stop()
		}
	}()

	<-ctx.Done()

	app.Logger.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		app.Logger.Error().Err(err).Msg("Server forced to shutdown")
	}
	app.Logger.Info().Msg("Server exited")
}
