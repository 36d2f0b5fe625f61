package bootstrap

import (
	"context"
	"fmt"
	"os"

	outboxApp "github.com/cassiomorais/printqueue/internal/application/outbox"
	"github.com/cassiomorais/printqueue/internal/infrastructure/config"
	"github.com/cassiomorais/printqueue/internal/infrastructure/observability"
	infraRedis "github.com/cassiomorais/printqueue/internal/infrastructure/redis"
	"github.com/cassiomorais/printqueue/internal/repository"
	"github.com/cassiomorais/printqueue/internal/storage"
	"github.com/cassiomorais/printqueue/internal/storage/postgres"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// App holds the infrastructure shared by every printqueue process.
type App struct {
	Config  *config.Config
	Logger  zerolog.Logger
	Pool    *pgxpool.Pool
	Store   *postgres.Store
	Redis   *redis.Client
	Metrics *observability.Metrics

	Coordinators *storage.CoordinatorFactory
	PrintJobs    *repository.PrintJobRepository
	Printers     *repository.PrinterRepository
	Outbox       *repository.OutboxRepository
	OutboxWriter *outboxApp.Writer

	tracer *sdktrace.TracerProvider
}

func New(ctx context.Context, serviceName string, metricsNamespace string) (*App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.InitLogger(cfg.Observability.LogLevel, serviceName, os.Stdout)
	log.Logger = logger
	logger.Info().Str("instance", cfg.InstanceID).Msg("Starting")

	var tp *sdktrace.TracerProvider
	if cfg.Observability.EnableTracing {
		tp, err = observability.InitTracer(serviceName, cfg.Observability.JaegerEndpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("Failed to initialize tracer, continuing without tracing")
		} else {
			logger.Info().Msg("Tracing enabled")
		}
	}

	metrics := observability.NewMetrics(metricsNamespace, nil)

	pool, err := postgres.NewPool(ctx, &cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}
	logger.Info().Msg("Connected to PostgreSQL")

	redisClient, err := infraRedis.NewClient(ctx, &cfg.Redis, logger)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	logger.Info().Msg("Connected to Redis")

	store := postgres.NewStore(pool)
	coordinators := storage.NewCoordinatorFactory(store, logger,
		storage.WithMaxItems(cfg.Outbox.MaxTransactionItems),
		storage.WithMetrics(metrics),
	)
	outboxRepo := repository.NewOutboxRepository(cfg.Outbox.Table)

	return &App{
		Config:       cfg,
		Logger:       logger,
		Pool:         pool,
		Store:        store,
		Redis:        redisClient,
		Metrics:      metrics,
		Coordinators: coordinators,
		PrintJobs:    repository.NewPrintJobRepository(store, cfg.Outbox.Table),
		Printers:     repository.NewPrinterRepository(store, cfg.Outbox.Table),
		Outbox:       outboxRepo,
		OutboxWriter: outboxApp.NewWriter(outboxRepo, cfg.Outbox.Retention),
		tracer:       tp,
	}, nil
}

// PingRedis adapts the Redis client to a readiness check.
func (a *App) PingRedis(ctx context.Context) error {
	return a.Redis.Ping(ctx).Err()
}

func (a *App) Close() {
	if a.tracer != nil {
		observability.Shutdown(context.Background(), a.tracer, a.Logger)
	}
	if err := a.Redis.Close(); err != nil {
		a.Logger.Warn().Err(err).Msg("Failed to close Redis client")
	}
	a.Pool.Close()
}
