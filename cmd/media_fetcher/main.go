package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/italolelis/media_fetcher/internal/cleanup"
	"github.com/italolelis/media_fetcher/internal/config"
	"github.com/italolelis/media_fetcher/internal/history"
	"github.com/italolelis/media_fetcher/internal/http/rest"
	"github.com/italolelis/media_fetcher/internal/logctx"
	"github.com/italolelis/media_fetcher/internal/notifier"
	"github.com/italolelis/media_fetcher/internal/orchestrator"
	"github.com/italolelis/media_fetcher/internal/state"
	"github.com/italolelis/media_fetcher/internal/storage"
	"github.com/italolelis/media_fetcher/internal/storage/sqlite"
	"github.com/italolelis/media_fetcher/internal/telemetry"
)

var version = "dev"

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		slog.Error("config error", "err", err)
		os.Exit(1)
	}

	handler := logctx.NewTraceHandler(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.SlogLevel()}))
	logger := slog.New(handler).With("run_id", uuid.NewString())
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger.Info("media fetcher starting...", "log_level", cfg.LogLevel, "version", version)

	if err := run(logctx.WithLogger(ctx, logger), cfg); err != nil {
		logger.Error("fatal error", "err", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config) error {
	logger := logctx.LoggerFromContext(ctx)
	started := time.Now()

	// abort reports the zero counters of a run that never reached the workers.
	abort := func(err error) error {
		orchestrator.LogSummary(ctx, orchestrator.EmptyStatus(started))

		return err
	}

	// =========================================================================
	// Start Telemetry
	tel, err := telemetry.New(ctx, telemetry.Config{
		Enabled:        cfg.Telemetry.Enabled,
		ServiceName:    cfg.Telemetry.ServiceName,
		ServiceVersion: version,
		OTLPEndpoint:   cfg.Telemetry.OTLPEndpoint,
	})
	if err != nil {
		return abort(fmt.Errorf("failed to initialize telemetry: %w", err))
	}

	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.Web.ShutdownTimeout)
		defer cancel()

		if err := tel.Shutdown(shutdownCtx); err != nil {
			logger.Error("failed to shutdown telemetry", "err", err)
		}
	}()

	// =========================================================================
	// Prepare Output Directory
	outputDir, err := orchestrator.PrepareOutputDir(ctx, cfg.TargetDir(time.Now()), cfg.FallbackDir)
	if err != nil {
		return abort(err)
	}

	// =========================================================================
	// Start Database
	ledgerPath := cfg.LedgerPath(outputDir)

	database, err := sqlite.InitDB(ledgerPath)
	if err != nil {
		return abort(fmt.Errorf("failed to open ledger: %w", err))
	}
	defer database.Close()

	ledger := sqlite.NewInstrumentedDownloadRepository(database, tel)

	// =========================================================================
	// Load History
	store := history.NewStore(outputDir)

	snap, err := store.Load(ctx)
	if err != nil {
		logger.Warn("failed to load history, starting empty", "path", store.Path(), "err", err)
	}

	st := state.New(state.Options{
		Endpoints:        cfg.Endpoints,
		FailureThreshold: cfg.FailureThreshold,
		MaxDownloads:     cfg.MaxDownloads,
	}, snap)

	pool := orchestrator.New(st, store, ledger, tel, orchestrator.OptionsFromConfig(cfg, outputDir))

	// =========================================================================
	// Start API Service
	serverErrors := make(chan error, 1)

	var server *http.Server
	if cfg.Web.BindAddress != "" {
		server = setupServer(ctx, pool, ledger, tel, cfg)

		go func() {
			logger.Info("Initializing status API", "host", cfg.Web.BindAddress)
			serverErrors <- server.ListenAndServe()
		}()
	}

	// =========================================================================
	// Start Cleanup
	setupCleanup(ctx, ledger, outputDir, ledgerPath, cfg)

	logger.Info("fetching media...",
		"output_dir", outputDir,
		"workers", cfg.Workers,
		"max_downloads", cfg.MaxDownloads,
		"endpoints", len(cfg.Endpoints),
	)

	// =========================================================================
	// Start Workers
	poolCtx, stopPool := context.WithCancel(ctx)
	defer stopPool()

	type poolResult struct {
		status orchestrator.Status
		err    error
	}

	poolDone := make(chan poolResult, 1)

	go func() {
		status, err := pool.Run(poolCtx)
		poolDone <- poolResult{status: status, err: err}
	}()

	var res poolResult

	select {
	case res = <-poolDone:
	case err := <-serverErrors:
		logger.Error("status server stopped", "err", err)
		stopPool()

		res = <-poolDone
	}

	shutdownServer(ctx, server, cfg.Web.ShutdownTimeout)

	notify(ctx, notifier.New(cfg.DiscordWebhookURL), res.status)

	return res.err
}

// setupServer prepares the status routes. Errors from ListenAndServe reach run through serverErrors.
func setupServer(
	ctx context.Context,
	provider rest.StatusProvider,
	ledger storage.DownloadReadRepository,
	tel *telemetry.Telemetry,
	cfg *config.Config,
) *http.Server {
	r := chi.NewRouter()
	r.Mount("/", rest.NewStatusHandler(provider, ledger, tel).Routes())

	return &http.Server{
		Addr:         cfg.Web.BindAddress,
		ReadTimeout:  cfg.Web.ReadTimeout,
		WriteTimeout: cfg.Web.WriteTimeout,
		IdleTimeout:  cfg.Web.IdleTimeout,
		Handler:      r,
		BaseContext: func(net.Listener) context.Context {
			return ctx
		},
	}
}

func shutdownServer(ctx context.Context, server *http.Server, timeout time.Duration) {
	if server == nil {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	// Give outstanding requests a deadline for completion.
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("failed to gracefully shutdown the server", "err", err)

		if err := server.Close(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("could not stop server", "err", err)
		}
	}
}

func notify(ctx context.Context, n notifier.Notifier, status orchestrator.Status) {
	notifyCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	if err := n.Notify(notifyCtx, status.Summary()); err != nil {
		logctx.LoggerFromContext(ctx).Error("failed to send notification", "err", err)
	}
}

// setupCleanup sweeps expired files and ledger rows every CleanupInterval while the run lasts.
func setupCleanup(ctx context.Context, ledger storage.DownloadWriteRepository, outputDir, ledgerPath string, cfg *config.Config) {
	logger := logctx.LoggerFromContext(ctx)

	if cfg.KeepDownloadedFor <= 0 || cfg.CleanupInterval <= 0 {
		return
	}

	// Dated subdirectories live under OutputDir, so sweep from there unless the fallback is in use.
	sweepDir := cfg.OutputDir
	if outputDir == cfg.FallbackDir {
		sweepDir = outputDir
	}

	go func() {
		cleanupTicker := time.NewTicker(cfg.CleanupInterval)
		defer cleanupTicker.Stop()

		for {
			select {
			case <-ctx.Done():
				logger.Info("cleanup goroutine shutting down.")

				return
			case <-cleanupTicker.C:
				if _, err := cleanup.Sweep(ctx, sweepDir, cfg.KeepDownloadedFor, cfg.DateDirPrefix, outputDir, ledgerPath); err != nil {
					logger.Error("failed to sweep expired files", "err", err)
				}

				pruned, err := ledger.DeleteDownloadedBefore(ctx, time.Now().Add(-cfg.KeepDownloadedFor))
				if err != nil {
					logger.Error("failed to prune ledger", "err", err)

					continue
				}

				logger.Debug("ledger pruned", "rows", pruned)
			}
		}
	}()
}
