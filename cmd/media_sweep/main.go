package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/media_fetcher/internal/cleanup"
	"github.com/italolelis/media_fetcher/internal/logctx"
	"github.com/italolelis/media_fetcher/internal/storage/sqlite"
	"github.com/kelseyhightower/envconfig"
)

type sweepConfig struct {
	Path          string `envconfig:"SWEEP_PATH" default:"downloads"`
	Days          int    `envconfig:"SWEEP_DAYS" default:"7"`
	DateDirPrefix string `envconfig:"DATE_DIR_PREFIX" default:"media"`
	DBPath        string `envconfig:"DB_PATH"`
	LogLevel      string `envconfig:"LOG_LEVEL" default:"INFO"`
}

func main() {
	var cfg sweepConfig
	if err := envconfig.Process("", &cfg); err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	var level slog.Level
	if err := level.UnmarshalText([]byte(cfg.LogLevel)); err != nil {
		level = slog.LevelInfo
	}

	logger := slog.New(logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level})))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		logger.Error("sweep failed", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg sweepConfig) error {
	logger := logctx.LoggerFromContext(ctx)

	if cfg.Days < 0 {
		return fmt.Errorf("sweep days cannot be negative, got %d", cfg.Days)
	}

	base, err := filepath.Abs(cfg.Path)
	if err != nil {
		return fmt.Errorf("failed to resolve sweep path: %w", err)
	}

	keep := time.Duration(cfg.Days) * 24 * time.Hour
	start := time.Now()

	logger.Info("starting sweep", "path", base, "keep_days", cfg.Days, "cutoff", humanize.Time(start.Add(-keep)))

	var protect []string
	if cfg.DBPath != "" {
		protect = append(protect, cfg.DBPath)
	}

	res, err := cleanup.Sweep(ctx, base, keep, cfg.DateDirPrefix, protect...)
	if err != nil {
		return err
	}

	if cfg.DBPath != "" {
		if err := pruneLedger(ctx, cfg.DBPath, start.Add(-keep)); err != nil {
			return err
		}
	}

	logger.Info("sweep complete",
		"files", res.Files,
		"dirs", res.Dirs,
		"elapsed", time.Since(start).Round(time.Millisecond).String(),
	)

	return nil
}

func pruneLedger(ctx context.Context, path string, cutoff time.Time) error {
	if _, err := os.Stat(path); err != nil {
		logctx.LoggerFromContext(ctx).Info("no ledger to prune", "path", path)

		return nil
	}

	db, err := sqlite.InitDB(path)
	if err != nil {
		return fmt.Errorf("failed to open ledger: %w", err)
	}
	defer db.Close()

	pruned, err := sqlite.NewDownloadRepository(db).DeleteDownloadedBefore(ctx, cutoff)
	if err != nil {
		return fmt.Errorf("failed to prune ledger: %w", err)
	}

	logctx.LoggerFromContext(ctx).Info("ledger pruned", "rows", pruned)

	return nil
}
