// Command api runs the HTTP server together with the parse worker
// pool, the retention scheduler, and the websocket event hub.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/loghawk/device-log-analysis-backend/internal/api/rest"
	"github.com/loghawk/device-log-analysis-backend/internal/api/websocket"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/auth"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/cache"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/config"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/database"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/geo"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/objectstore"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/repository"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/telemetry"
	"github.com/loghawk/device-log-analysis-backend/internal/service/analysisflow"
	"github.com/loghawk/device-log-analysis-backend/internal/service/auditlog"
	"github.com/loghawk/device-log-analysis-backend/internal/service/authsvc"
	"github.com/loghawk/device-log-analysis-backend/internal/service/ingest"
	"github.com/loghawk/device-log-analysis-backend/internal/service/parsing"
	"github.com/loghawk/device-log-analysis-backend/internal/service/retention"
)

func main() {
	configPath := flag.String("config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	logger, err := telemetry.SetupLogger(cfg.Logging.Level)
	if err != nil {
		slog.Error("failed to setup logger", "error", err)
		os.Exit(1)
	}
	slog.SetDefault(logger)

	zapLogger, err := buildZapLogger(&cfg.Logging)
	if err != nil {
		slog.Error("failed to setup zap logger", "error", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.Telemetry.Enabled {
		provider, err := telemetry.InitializeOpenTelemetry(ctx, &telemetry.Config{
			ServiceName:    "device-log-analysis-backend",
			ServiceVersion: cfg.Version,
			Environment:    cfg.Environment,
			OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
			Enabled:        true,
			SamplingRate:   cfg.Telemetry.SamplingRate,
			ExportTimeout:  cfg.Telemetry.ExportTimeout,
			BatchTimeout:   cfg.Telemetry.BatchTimeout,
		})
		if err != nil {
			slog.Error("failed to initialize telemetry", "error", err)
			os.Exit(1)
		}
		defer provider.Shutdown(context.Background())
	}

	if err := run(ctx, cfg, logger, zapLogger); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger, zapLogger *zap.Logger) error {
	// Infrastructure.
	pool, err := database.NewConnectionPool(&cfg.Database, zapLogger)
	if err != nil {
		return err
	}
	defer pool.Close()

	redisClient, err := cache.NewRedisClient(&cfg.Redis, zapLogger)
	if err != nil {
		return err
	}
	defer redisClient.Close()

	store, err := objectstore.New(&cfg.Storage, zapLogger)
	if err != nil {
		return err
	}

	resolver, err := geo.NewResolver(&cfg.Geo, zapLogger)
	if err != nil {
		return err
	}
	defer resolver.Close()

	if err := os.MkdirAll(cfg.Storage.ScratchDir, 0o700); err != nil {
		return err
	}

	repos := repository.New(pool)
	progress := cache.NewProgressStore(redisClient, zapLogger)
	limiter := cache.NewRateLimiter(redisClient, zapLogger)
	metrics := promMetrics{}

	// Services.
	auditSvc := auditlog.NewService(repos.Audit, resolver, zapLogger)
	defer auditSvc.Close()

	authSvc := authsvc.NewService(repos.Principals, repos.Sessions,
		auth.NewHasher(cfg.Auth.BcryptCost), auditSvc, zapLogger, cfg.Auth.TokenTTL)

	registry := parsing.NewRegistry(repos.Parsers, cfg.Parsers.Binaries, zapLogger)
	runner := parsing.NewRunner(cfg.Storage.ScratchDir, zapLogger)
	executor := parsing.NewExecutor(registry, runner,
		cfg.Parsers.DefaultTimeout, cfg.Parsers.MemoryLimitBytes, zapLogger)

	ingestSvc := ingest.NewService(pool, repos, registry, store, progress, auditSvc,
		cfg.Storage.ScratchDir, cfg.Upload.MaxBytes, cfg.Upload.URLFetchTimeout, zapLogger)

	retentionSvc := retention.NewService(pool, repos, store, auditSvc, &cfg.Retention, zapLogger)

	hub := websocket.NewHub(cfg.Server.CORSOrigins, zapLogger)
	defer hub.Close()

	coordinator := analysisflow.NewCoordinator(analysisflow.Options{
		Pool:       pool,
		Analyses:   repos.Analyses,
		LogFiles:   repos.LogFiles,
		Store:      store,
		Progress:   progress,
		Executor:   executor,
		Registry:   registry,
		Audit:      auditSvc,
		Publisher:  hub,
		Observer:   metrics,
		Logger:     zapLogger,
		ScratchDir: cfg.Storage.ScratchDir,
		Workers:    cfg.ParserWorkers(),
	})
	coordinator.SetFileDeleter(retentionSvc)
	coordinator.Start()
	defer coordinator.Stop()

	// Background jobs.
	scheduler := retention.NewScheduler(zapLogger)
	scheduler.Register(retention.Job{
		Name:     "soft_sweep",
		Interval: cfg.Retention.SoftInterval,
		Run: func(ctx context.Context) error {
			stats, err := retentionSvc.SoftSweep(ctx, false)
			if err == nil {
				metrics.SweepDeleted("soft", stats.Deleted)
			}
			return err
		},
	})
	scheduler.Register(retention.Job{
		Name:     "hard_sweep",
		Interval: cfg.Retention.HardInterval,
		Run: func(ctx context.Context) error {
			stats, err := retentionSvc.HardSweep(ctx, false)
			if err == nil {
				metrics.SweepDeleted("hard", stats.Deleted)
			}
			return err
		},
	})
	scheduler.Register(retention.Job{
		Name:     "session_purge",
		Interval: cfg.Auth.SessionPurgeInterval,
		Run: func(ctx context.Context) error {
			_, err := authSvc.PurgeExpiredSessions(ctx)
			return err
		},
	})
	scheduler.Start()
	defer scheduler.Stop()

	server := rest.NewServer(rest.Deps{
		Config:         cfg,
		Logger:         logger,
		Auth:           authSvc,
		Ingest:         ingestSvc,
		Flow:           coordinator,
		Registry:       registry,
		Audit:          auditSvc,
		Progress:       progress,
		Limiter:        limiter,
		Metrics:        metrics,
		WSHandler:      hub,
		MetricsHandler: metricsHandler(),
		Probes: []rest.HealthProbe{
			{Name: "database", Check: pool.HealthCheck},
			{Name: "redis", Check: progress.HealthCheck},
			{Name: "objectstore", Check: store.HealthCheck},
		},
	})

	return server.Start(ctx)
}

func buildZapLogger(cfg *config.LoggingConfig) (*zap.Logger, error) {
	var zc zap.Config
	if cfg.Format == "console" {
		zc = zap.NewDevelopmentConfig()
	} else {
		zc = zap.NewProductionConfig()
	}
	if lvl, err := zap.ParseAtomicLevel(cfg.Level); err == nil {
		zc.Level = lvl
	}
	return zc.Build()
}
