package sqlite

import (
	"context"
	"database/sql"
	"time"

	"github.com/italolelis/media_fetcher/internal/storage"
	"github.com/italolelis/media_fetcher/internal/telemetry"
)

// InstrumentedDownloadRepository wraps DownloadRepository with telemetry.
type InstrumentedDownloadRepository struct {
	repo      *DownloadRepository
	telemetry *telemetry.Telemetry
}

var _ storage.DownloadRepository = (*InstrumentedDownloadRepository)(nil)

// NewInstrumentedDownloadRepository creates a new instrumented download repository.
func NewInstrumentedDownloadRepository(dbConn *sql.DB, tel *telemetry.Telemetry) *InstrumentedDownloadRepository {
	return &InstrumentedDownloadRepository{
		repo:      NewDownloadRepository(dbConn),
		telemetry: tel,
	}
}

func (r *InstrumentedDownloadRepository) TrackDownload(ctx context.Context, rec storage.DownloadRecord) error {
	return r.telemetry.InstrumentDBOperation(ctx, "track_download", func(ctx context.Context) error {
		return r.repo.TrackDownload(ctx, rec)
	})
}

func (r *InstrumentedDownloadRepository) GetDownloads(ctx context.Context) ([]storage.DownloadRecord, error) {
	var result []storage.DownloadRecord

	err := r.telemetry.InstrumentDBOperation(ctx, "get_downloads", func(ctx context.Context) error {
		var err error
		result, err = r.repo.GetDownloads(ctx)

		return err
	})
	if err != nil {
		return nil, err
	}

	return result, nil
}

func (r *InstrumentedDownloadRepository) Count(ctx context.Context) (int, error) {
	var n int

	err := r.telemetry.InstrumentDBOperation(ctx, "count", func(ctx context.Context) error {
		var err error
		n, err = r.repo.Count(ctx)

		return err
	})

	return n, err
}

func (r *InstrumentedDownloadRepository) DeleteDownloadedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	var n int64

	err := r.telemetry.InstrumentDBOperation(ctx, "delete_downloaded_before", func(ctx context.Context) error {
		var err error
		n, err = r.repo.DeleteDownloadedBefore(ctx, cutoff)

		return err
	})

	return n, err
}
