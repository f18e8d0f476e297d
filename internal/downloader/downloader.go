// Package downloader fetches one media URL into the output directory: probe,
// resumable streamed transfer, completeness check, atomic publish and content
// dedup.
package downloader

import (
	"context"
	"crypto/md5" //nolint:gosec // content fingerprint, not a security boundary
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"hash"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"runtime/debug"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/italolelis/media_fetcher/internal/config"
	"github.com/italolelis/media_fetcher/internal/downloader/progress"
	"github.com/italolelis/media_fetcher/internal/logctx"
	"github.com/italolelis/media_fetcher/internal/session"
	"github.com/italolelis/media_fetcher/internal/storage"
	"github.com/italolelis/media_fetcher/internal/telemetry"
)

const (
	filePerm = 0o644

	defaultChunkSize = 8192
	defaultRatio     = 0.8

	progressInterval = 16 << 20 // 16MB
)

// Result classifies a download attempt.
type Result int

const (
	ResultStored Result = iota
	ResultDuplicate
	ResultFailed
)

func (r Result) String() string {
	switch r {
	case ResultStored:
		return telemetry.StatusStored
	case ResultDuplicate:
		return telemetry.StatusDuplicate
	default:
		return telemetry.StatusFailed
	}
}

// Outcome describes a finished attempt. Err is set for failures only.
type Outcome struct {
	Result   Result
	URL      string
	FileName string
	Path     string
	Bytes    int64
	Hash     string
	Err      error
}

// Record is the per-attempt working state. It is owned by a single worker.
type Record struct {
	URL         string
	ContentType string
	Ext         string
	FileName    string
	TempPath    string
	FinalPath   string
	Total       int64 // declared size, 0 when unknown
	Offset      int64 // bytes already on disk when the transfer started
	Written     int64 // bytes on disk when the transfer ended
}

// Bookkeeper is the shared state the pipeline reads and commits to.
type Bookkeeper interface {
	SeenURL(url string) bool
	Commit(url, hash string, size int64) bool
	AddDuplicate()
	AddError()
	NextFilename(workerID int, ext string) string
}

type Options struct {
	Dir               string
	WorkerID          int
	ChunkSize         int
	CompletenessRatio float64
	HashAlgorithm     string // md5 or sha256
	ProbeTier         config.Tier
	TransferTier      config.Tier
}

type Downloader struct {
	client    *http.Client
	book      Bookkeeper
	ledger    storage.DownloadWriteRepository
	telemetry *telemetry.Telemetry
	opts      Options
}

// New builds a pipeline for one worker. ledger may be nil.
func New(
	client *http.Client,
	book Bookkeeper,
	ledger storage.DownloadWriteRepository,
	tel *telemetry.Telemetry,
	opts Options,
) *Downloader {
	if opts.ChunkSize <= 0 {
		opts.ChunkSize = defaultChunkSize
	}

	if opts.CompletenessRatio <= 0 || opts.CompletenessRatio > 1 {
		opts.CompletenessRatio = defaultRatio
	}

	return &Downloader{
		client:    client,
		book:      book,
		ledger:    ledger,
		telemetry: tel,
		opts:      opts,
	}
}

// Fetch downloads url and classifies the attempt. It never returns an error;
// failures are reported through Outcome.Err.
func (d *Downloader) Fetch(ctx context.Context, url string) Outcome {
	var out Outcome

	d.telemetry.InstrumentDownload(ctx, func(ctx context.Context) (string, int64) {
		out = d.fetch(ctx, url)

		return out.Result.String(), out.Bytes
	})

	d.logOutcome(ctx, out)

	return out
}

func (d *Downloader) fetch(ctx context.Context, url string) (out Outcome) {
	if d.book.SeenURL(url) {
		d.book.AddDuplicate()

		return Outcome{Result: ResultDuplicate, URL: url}
	}

	rec := &Record{URL: url}

	defer func() {
		if r := recover(); r != nil {
			logctx.LoggerFromContext(ctx).Error("panic during download",
				"url", url, "panic", r, "stack", string(debug.Stack()))

			if rec.TempPath != "" {
				removeQuiet(rec.TempPath)
			}

			d.book.AddError()

			out = Outcome{Result: ResultFailed, URL: url, FileName: rec.FileName, Err: fmt.Errorf("panic: %v", r)}
		}
	}()

	if err := d.probe(ctx, rec); err != nil {
		return d.fail(ctx, rec, err)
	}

	rec.FileName = d.book.NextFilename(d.opts.WorkerID, rec.Ext)
	rec.FinalPath = filepath.Join(d.opts.Dir, rec.FileName)
	rec.TempPath = rec.FinalPath + ".tmp"

	d.checkResume(ctx, rec)

	if err := d.transfer(ctx, rec); err != nil {
		// A stop keeps the partial file for a later resume.
		if !errors.Is(err, ErrCancelled) {
			removeQuiet(rec.TempPath)
		}

		return d.fail(ctx, rec, err)
	}

	if rec.Total > 0 && float64(rec.Written) < float64(rec.Total)*d.opts.CompletenessRatio {
		removeQuiet(rec.TempPath)

		return d.fail(ctx, rec, &IncompleteError{Written: rec.Written, Expected: rec.Total, Ratio: d.opts.CompletenessRatio})
	}

	if err := os.Rename(rec.TempPath, rec.FinalPath); err != nil {
		removeQuiet(rec.TempPath)

		return d.fail(ctx, rec, &PublishError{TempPath: rec.TempPath, FinalPath: rec.FinalPath, Err: err})
	}

	sum, err := d.hashFile(rec.FinalPath)
	if err != nil {
		removeQuiet(rec.FinalPath)

		return d.fail(ctx, rec, fmt.Errorf("failed to hash file: %w", err))
	}

	if !d.book.Commit(url, sum, rec.Written) {
		removeQuiet(rec.FinalPath)

		return Outcome{Result: ResultDuplicate, URL: url, FileName: rec.FileName, Hash: sum}
	}

	d.track(ctx, rec, sum)

	return Outcome{
		Result:   ResultStored,
		URL:      url,
		FileName: rec.FileName,
		Path:     rec.FinalPath,
		Bytes:    rec.Written,
		Hash:     sum,
	}
}

// fail classifies err. A stop request is not counted as a download error.
func (d *Downloader) fail(ctx context.Context, rec *Record, err error) Outcome {
	if ctx.Err() != nil && !errors.Is(err, ErrCancelled) {
		err = fmt.Errorf("%w: %w", ErrCancelled, err)
	}

	if !errors.Is(err, ErrCancelled) {
		d.book.AddError()
	}

	return Outcome{Result: ResultFailed, URL: rec.URL, FileName: rec.FileName, Err: err}
}

func (d *Downloader) probe(ctx context.Context, rec *Record) error {
	ctx, cancel := session.Bounded(ctx, d.opts.ProbeTier)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rec.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create probe request: %w", err)
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to probe: %w", err)
	}

	resp.Body.Close()

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return &StatusError{Operation: "probe", StatusCode: resp.StatusCode}
	}

	if n, err := strconv.ParseInt(resp.Header.Get("Content-Length"), 10, 64); err == nil && n > 0 {
		rec.Total = n
	} else if resp.ContentLength > 0 {
		rec.Total = resp.ContentLength
	}

	rec.ContentType = resp.Header.Get("Content-Type")
	rec.Ext = extensionFor(rec.ContentType)

	return nil
}

// checkResume picks up an existing partial file unless it already covers the declared size.
func (d *Downloader) checkResume(ctx context.Context, rec *Record) {
	info, err := os.Stat(rec.TempPath)
	if err != nil {
		return
	}

	if rec.Total > 0 && info.Size() >= rec.Total {
		logctx.LoggerFromContext(ctx).Debug("discarding oversized partial file", "file", rec.TempPath, "size", info.Size())
		removeQuiet(rec.TempPath)

		return
	}

	rec.Offset = info.Size()
}

func (d *Downloader) transfer(ctx context.Context, rec *Record) error {
	logger := logctx.LoggerFromContext(ctx)

	stream := session.NewStream(ctx, d.opts.TransferTier)
	defer stream.Stop()

	req, err := http.NewRequestWithContext(stream.Context(), http.MethodGet, rec.URL, nil)
	if err != nil {
		return fmt.Errorf("failed to create transfer request: %w", err)
	}

	if rec.Offset > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", rec.Offset))
	}

	resp, err := d.client.Do(req)
	if err != nil {
		return d.streamErr(ctx, stream, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
		if rec.Offset > 0 {
			logger.Debug("range not honoured, restarting transfer", "url", rec.URL, "offset", rec.Offset)
			rec.Offset = 0
		}
	case http.StatusPartialContent:
	default:
		return &StatusError{Operation: "transfer", StatusCode: resp.StatusCode}
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if rec.Offset > 0 {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}

	out, err := os.OpenFile(rec.TempPath, flags, filePerm)
	if err != nil {
		return fmt.Errorf("failed to open temp file: %w", err)
	}

	pr := progress.NewReader(stream.Reader(resp.Body), rec.Offset, rec.Total, progressInterval, func(written, total int64) {
		if total > 0 {
			logger.Debug("download progress",
				"file", rec.FileName,
				"downloaded", humanize.Bytes(uint64(written)),
				"total", humanize.Bytes(uint64(total)),
				"percent", humanize.FtoaWithDigits(float64(written)*100/float64(total), 2))
		} else {
			logger.Debug("download progress", "file", rec.FileName, "downloaded", humanize.Bytes(uint64(written)))
		}
	})

	copyErr := d.copyChunks(ctx, stream, out, pr)
	rec.Written = pr.Written()

	if err := out.Close(); err != nil && copyErr == nil {
		copyErr = fmt.Errorf("failed to close temp file: %w", err)
	}

	return copyErr
}

// copyChunks streams src to dst one chunk at a time, checking for a stop between chunks.
func (d *Downloader) copyChunks(ctx context.Context, stream *session.Stream, dst io.Writer, src io.Reader) error {
	buf := make([]byte, d.opts.ChunkSize)

	for {
		if ctx.Err() != nil {
			return ErrCancelled
		}

		n, err := src.Read(buf)
		if n > 0 {
			if _, werr := dst.Write(buf[:n]); werr != nil {
				return fmt.Errorf("failed to write chunk: %w", werr)
			}
		}

		if errors.Is(err, io.EOF) {
			return nil
		}

		if err != nil {
			return d.streamErr(ctx, stream, err)
		}
	}
}

func (d *Downloader) streamErr(ctx context.Context, stream *session.Stream, err error) error {
	switch {
	case ctx.Err() != nil:
		return ErrCancelled
	case stream.TimedOut():
		return fmt.Errorf("transfer stalled for %s: %w", d.opts.TransferTier.Read, err)
	default:
		return fmt.Errorf("failed to read transfer: %w", err)
	}
}

func (d *Downloader) hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := newHash(d.opts.HashAlgorithm)
	if _, err := io.CopyBuffer(h, f, make([]byte, d.opts.ChunkSize)); err != nil {
		return "", err
	}

	return hex.EncodeToString(h.Sum(nil)), nil
}

// track writes the ledger row. The ledger is informational; failures never change the outcome.
func (d *Downloader) track(ctx context.Context, rec *Record, sum string) {
	if d.ledger == nil {
		return
	}

	err := d.ledger.TrackDownload(ctx, storage.DownloadRecord{
		FileName:     rec.FileName,
		SourceURL:    rec.URL,
		ContentHash:  sum,
		Size:         rec.Written,
		DownloadedAt: time.Now().UTC().Format(time.RFC3339),
	})

	logger := logctx.LoggerFromContext(ctx)

	switch {
	case errors.Is(err, storage.ErrDownloaded):
		logger.Debug("ledger already has this content", "file", rec.FileName)
	case err != nil:
		logger.Warn("failed to record download in ledger", "file", rec.FileName, "err", err)
	}
}

func (d *Downloader) logOutcome(ctx context.Context, out Outcome) {
	logger := logctx.LoggerFromContext(ctx)

	switch {
	case out.Result == ResultStored:
		logger.Info("stored file", "file", out.FileName, "size", humanize.Bytes(uint64(out.Bytes)))
	case out.Result == ResultDuplicate:
		logger.Debug("duplicate skipped", "url", out.URL, "file", out.FileName)
	case errors.Is(out.Err, ErrCancelled):
		logger.Info("download interrupted", "url", out.URL, "file", out.FileName)
	default:
		logger.Warn("download failed", "url", out.URL, "err", out.Err)
	}
}

func extensionFor(contentType string) string {
	ct := strings.ToLower(contentType)

	switch {
	case strings.Contains(ct, "avi"), strings.Contains(ct, "msvideo"):
		return ".avi"
	case strings.Contains(ct, "mov"), strings.Contains(ct, "quicktime"):
		return ".mov"
	case strings.Contains(ct, "webm"):
		return ".webm"
	default:
		return ".mp4"
	}
}

func newHash(algorithm string) hash.Hash {
	if strings.EqualFold(algorithm, "sha256") {
		return sha256.New()
	}

	return md5.New() //nolint:gosec // content fingerprint
}

func removeQuiet(path string) {
	_ = os.Remove(path)
}
