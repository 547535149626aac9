// Command sweeper runs retention sweeps once and exits, for manual
// operations and cron-style deployments.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"

	"go.uber.org/zap"

	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/config"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/database"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/geo"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/objectstore"
	"github.com/loghawk/device-log-analysis-backend/internal/infrastructure/repository"
	"github.com/loghawk/device-log-analysis-backend/internal/service/auditlog"
	"github.com/loghawk/device-log-analysis-backend/internal/service/retention"
)

func main() {
	var (
		mode       = flag.String("mode", "both", "Sweep mode: soft, hard, both")
		dryRun     = flag.Bool("dry-run", false, "Report what would be deleted without deleting")
		batch      = flag.Int("batch", 0, "Batch size override (0 = configured value)")
		configPath = flag.String("config", "", "Path to configuration file")
	)
	flag.Parse()

	if *mode != "soft" && *mode != "hard" && *mode != "both" {
		slog.Error("invalid mode", "mode", *mode)
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}
	if *batch > 0 {
		cfg.Retention.BatchSize = *batch
	}

	zapLogger, err := zap.NewProduction()
	if err != nil {
		slog.Error("failed to setup logger", "error", err)
		os.Exit(1)
	}
	defer zapLogger.Sync()

	if err := run(context.Background(), cfg, zapLogger, *mode, *dryRun); err != nil {
		slog.Error("sweep failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, zapLogger *zap.Logger, mode string, dryRun bool) error {
	pool, err := database.NewConnectionPool(&cfg.Database, zapLogger)
	if err != nil {
		return err
	}
	defer pool.Close()

	store, err := objectstore.New(&cfg.Storage, zapLogger)
	if err != nil {
		return err
	}

	resolver, err := geo.NewResolver(&cfg.Geo, zapLogger)
	if err != nil {
		return err
	}
	defer resolver.Close()

	repos := repository.New(pool)
	auditSvc := auditlog.NewService(repos.Audit, resolver, zapLogger)
	defer auditSvc.Close()

	svc := retention.NewService(pool, repos, store, auditSvc, &cfg.Retention, zapLogger)

	if mode == "soft" || mode == "both" {
		stats, err := svc.SoftSweep(ctx, dryRun)
		if err != nil {
			return err
		}
		slog.Info("soft sweep", "examined", stats.Examined, "deleted", stats.Deleted,
			"skipped", stats.Skipped, "dry_run", stats.DryRun)
	}
	if mode == "hard" || mode == "both" {
		stats, err := svc.HardSweep(ctx, dryRun)
		if err != nil {
			return err
		}
		slog.Info("hard sweep", "examined", stats.Examined, "deleted", stats.Deleted,
			"skipped", stats.Skipped, "dry_run", stats.DryRun)
	}
	return nil
}
