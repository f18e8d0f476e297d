// Package orchestrator runs the fixed worker pool: each worker picks an
// endpoint, resolves it and downloads the result, until the download limit is
// reached or the run is stopped.
package orchestrator

import (
	"context"
	"fmt"
	"math/rand/v2"
	"runtime/debug"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/media_fetcher/internal/config"
	"github.com/italolelis/media_fetcher/internal/downloader"
	"github.com/italolelis/media_fetcher/internal/history"
	"github.com/italolelis/media_fetcher/internal/logctx"
	"github.com/italolelis/media_fetcher/internal/resolver"
	"github.com/italolelis/media_fetcher/internal/session"
	"github.com/italolelis/media_fetcher/internal/state"
	"github.com/italolelis/media_fetcher/internal/storage"
	"github.com/italolelis/media_fetcher/internal/telemetry"
	"golang.org/x/sync/errgroup"
)

// Resolver turns an endpoint into a media URL.
type Resolver interface {
	Resolve(ctx context.Context, endpoint string) (string, bool)
}

// Fetcher downloads one media URL.
type Fetcher interface {
	Fetch(ctx context.Context, url string) downloader.Outcome
}

type worker struct {
	id       int
	resolver Resolver
	fetcher  Fetcher
}

type Options struct {
	Workers     int
	Session     session.Options
	ResolveTier config.Tier
	// Download is the per-worker pipeline template; WorkerID is set per worker.
	Download downloader.Options

	NoEndpointPause  time.Duration
	DownloadPause    time.Duration
	ResolveMissPause time.Duration
	PanicPause       time.Duration
	StatusInterval   time.Duration
}

// OptionsFromConfig maps the runtime configuration onto pool options for dir.
func OptionsFromConfig(cfg *config.Config, dir string) Options {
	return Options{
		Workers: cfg.Workers,
		Session: session.Options{
			RetryMax:      cfg.RetryMax,
			RetryBackoff:  cfg.RetryBackoff,
			InsecureHosts: cfg.InsecureEndpoints,
			Instrument:    cfg.Telemetry.Enabled,
		},
		ResolveTier: cfg.ResolveTier(),
		Download: downloader.Options{
			Dir:               dir,
			ChunkSize:         cfg.ChunkSize,
			CompletenessRatio: cfg.CompletenessRatio,
			HashAlgorithm:     cfg.HashAlgorithm,
			ProbeTier:         cfg.ProbeTier(),
			TransferTier:      cfg.TransferTier(),
		},
		NoEndpointPause:  cfg.NoEndpointPause,
		DownloadPause:    cfg.DownloadPause,
		ResolveMissPause: cfg.ResolveMissPause,
		PanicPause:       cfg.PanicPause,
		StatusInterval:   cfg.StatusInterval,
	}
}

type Orchestrator struct {
	state     *state.State
	history   *history.Store
	ledger    storage.DownloadWriteRepository
	telemetry *telemetry.Telemetry
	opts      Options
	started   time.Time

	newWorker func(id int) *worker
}

// New builds the pool. ledger and tel may be nil.
func New(
	st *state.State,
	hist *history.Store,
	ledger storage.DownloadWriteRepository,
	tel *telemetry.Telemetry,
	opts Options,
) *Orchestrator {
	if opts.Workers < 1 {
		opts.Workers = 1
	}

	o := &Orchestrator{
		state:     st,
		history:   hist,
		ledger:    ledger,
		telemetry: tel,
		opts:      opts,
		started:   time.Now(),
	}

	o.newWorker = o.buildWorker

	return o
}

// buildWorker gives every worker its own client, so no connection state is shared.
func (o *Orchestrator) buildWorker(id int) *worker {
	client := session.New(o.opts.Session)

	dlOpts := o.opts.Download
	dlOpts.WorkerID = id

	return &worker{
		id:       id,
		resolver: resolver.New(client, o.state, o.opts.ResolveTier, o.telemetry),
		fetcher:  downloader.New(client, o.state, o.ledger, o.telemetry, dlOpts),
	}
}

// Run starts the workers and the status reporter and blocks until every
// worker has stopped, because ctx was cancelled or the download limit was
// reached. The history is flushed before Run returns, in both cases.
func (o *Orchestrator) Run(ctx context.Context) (Status, error) {
	logger := logctx.LoggerFromContext(ctx)

	ctx, stop := context.WithCancel(ctx)
	defer stop()

	logger.Info("starting workers", "workers", o.opts.Workers, "endpoints", o.state.EndpointCount())

	reporterCtx, stopReporter := context.WithCancel(ctx)
	reporterDone := make(chan struct{})

	go func() {
		defer close(reporterDone)
		o.reportStatus(reporterCtx)
	}()

	g, gctx := errgroup.WithContext(ctx)

	for i := 1; i <= o.opts.Workers; i++ {
		w := o.newWorker(i)

		g.Go(func() error {
			o.runWorker(gctx, w, stop)

			return nil
		})
	}

	_ = g.Wait()

	stopReporter()
	<-reporterDone

	logger.Info("all workers stopped")

	// The flush must complete even though ctx is already cancelled.
	flushErr := o.Flush(context.WithoutCancel(ctx))

	final := o.Status()
	o.telemetry.RecordEndpointsAvailable(ctx, final.EndpointsAvailable)

	LogSummary(ctx, final)

	return final, flushErr
}

// Flush writes the in-memory dedup history to disk.
func (o *Orchestrator) Flush(ctx context.Context) error {
	if o.history == nil {
		return nil
	}

	snap := o.state.Snapshot()

	if err := o.history.Save(ctx, snap); err != nil {
		return fmt.Errorf("failed to flush history: %w", err)
	}

	logctx.LoggerFromContext(ctx).Info("history flushed",
		"path", o.history.Path(), "hashes", len(snap.Hashes), "urls", len(snap.URLs))

	return nil
}

func (o *Orchestrator) runWorker(ctx context.Context, w *worker, stop context.CancelFunc) {
	ctx = logctx.WithWorker(ctx, w.id)
	logger := logctx.LoggerFromContext(ctx)

	logger.Debug("worker started")

	for {
		if ctx.Err() != nil {
			logger.Debug("worker stopped", "reason", "shutdown")

			return
		}

		if o.state.LimitReached() {
			logger.Info("download limit reached, stopping")
			stop()

			return
		}

		if !sleep(ctx, o.iterate(ctx, w)) {
			logger.Debug("worker stopped", "reason", "shutdown")

			return
		}
	}
}

// iterate runs one resolve/download round and returns how long to pause
// before the next one. A panic is logged, counted and turned into a pause.
func (o *Orchestrator) iterate(ctx context.Context, w *worker) (pause time.Duration) {
	defer func() {
		if r := recover(); r != nil {
			logctx.LoggerFromContext(ctx).Error("worker panic",
				"panic", r,
				"stack", string(debug.Stack()))

			o.state.AddError()
			o.telemetry.RecordWorkerPanic(ctx)

			pause = o.opts.PanicPause
		}
	}()

	available := o.state.ListAvailable()
	if len(available) == 0 {
		logctx.LoggerFromContext(ctx).Debug("no endpoint available, backing off", "pause", o.opts.NoEndpointPause)

		// Cool down first, then decay; only the first worker to wake decays.
		if sleep(ctx, o.opts.NoEndpointPause) && o.state.DecayIfExhausted() {
			logctx.LoggerFromContext(ctx).Debug("endpoint failures decayed")
		}

		return 0
	}

	endpoint := available[rand.IntN(len(available))]

	mediaURL, ok := w.resolver.Resolve(ctx, endpoint)
	if !ok {
		return o.opts.ResolveMissPause
	}

	w.fetcher.Fetch(ctx, mediaURL)

	return o.opts.DownloadPause
}

func (o *Orchestrator) reportStatus(ctx context.Context) {
	if o.opts.StatusInterval <= 0 {
		return
	}

	logger := logctx.LoggerFromContext(ctx)

	ticker := time.NewTicker(o.opts.StatusInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s := o.Status()
			o.telemetry.RecordEndpointsAvailable(ctx, s.EndpointsAvailable)

			logger.Info("status",
				"stored", s.Stored,
				"duplicates", s.Duplicates,
				"errors", s.Errors,
				"bytes", humanize.Bytes(uint64(s.Bytes)),
				"endpoints", fmt.Sprintf("%d/%d", s.EndpointsAvailable, s.EndpointsTotal),
			)
		}
	}
}

// sleep waits for d or until ctx is done. It reports whether ctx is still live.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}

	t := time.NewTimer(d)
	defer t.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
