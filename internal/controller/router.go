package controller

import (
	"net/http"
	"time"

	"github.com/cassiomorais/printqueue/internal/infrastructure/config"
	"github.com/cassiomorais/printqueue/internal/infrastructure/observability"
	customMW "github.com/cassiomorais/printqueue/internal/middleware"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

type RouterDeps struct {
	PrintJobs        *PrintJobController
	Printers         *PrinterController
	Devices          *DeviceController
	Health           *HealthController
	PrinterAuth      customMW.PrinterAuthenticator
	IdempotencyStore customMW.IdempotencyStore
	Metrics          *observability.Metrics
	MetricsHandler   http.Handler
	Server           config.ServerConfig
	Auth             config.AuthConfig
	Logger           zerolog.Logger
}

func NewRouter(deps RouterDeps) *chi.Mux {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(customMW.Tracing())
	r.Use(chimw.RealIP)
	r.Use(chimw.Logger)
	r.Use(chimw.Recoverer)
	r.Use(chimw.Timeout(60 * time.Second))
	r.Use(customMW.SecurityHeaders())
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.Server.CORS.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "Idempotency-Key", customMW.PrinterKeyHeader},
		ExposedHeaders:   []string{"X-Trace-Id", "X-Idempotency-Replayed"},
		AllowCredentials: deps.Server.CORS.AllowCredentials,
		MaxAge:           300,
	}))
	r.Use(customMW.Metrics(deps.Metrics))

	r.Get("/health", deps.Health.Health)
	r.Get("/health/live", deps.Health.Liveness)
	r.Get("/health/ready", deps.Health.Readiness)

	metricsHandler := deps.MetricsHandler
	if metricsHandler == nil {
		metricsHandler = promhttp.Handler()
	}
	r.Handle("/metrics", metricsHandler)

	r.Route("/api/v1", func(r chi.Router) {
		// Operator and user endpoints.
		r.Group(func(r chi.Router) {
			if deps.Server.RateLimitPerMinute > 0 {
				r.Use(customMW.RateLimit(deps.Server.RateLimitPerMinute))
			}
			r.Use(customMW.RequireAuth(deps.Auth.JWTSecret))

			submit := http.HandlerFunc(deps.PrintJobs.Submit)
			if deps.IdempotencyStore != nil {
				r.With(customMW.Idempotency(deps.IdempotencyStore, deps.Logger)).Post("/print-jobs", submit)
			} else {
				r.Post("/print-jobs", submit)
			}
			r.Get("/print-jobs/{id}", deps.PrintJobs.Get)

			r.Post("/printers", deps.Printers.Register)
			r.Get("/events/{eventName}/printers", deps.Printers.ListStatuses)
		})

		// Device endpoints, authenticated by printer key.
		r.Route("/printer", func(r chi.Router) {
			r.Use(customMW.RequirePrinterKey(deps.PrinterAuth))
			if deps.Server.RateLimitPerMinute > 0 {
				r.Use(customMW.PrinterRateLimit(deps.Server.RateLimitPerMinute))
			}
			r.Post("/jobs/claim", deps.Devices.Claim)
			r.Post("/jobs/{id}/ack", deps.Devices.Acknowledge)
		})
	})

	return r
}
