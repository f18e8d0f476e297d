package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/italolelis/media_fetcher/internal/storage"
	sqlite3 "github.com/mattn/go-sqlite3"
)

type DownloadRepository struct {
	db *sql.DB
}

func NewDownloadRepository(dbConn *sql.DB) *DownloadRepository {
	return &DownloadRepository{db: dbConn}
}

var _ storage.DownloadRepository = (*DownloadRepository)(nil)

// TrackDownload inserts a stored file. A second record for the same content
// hash yields storage.ErrDownloaded.
func (r *DownloadRepository) TrackDownload(ctx context.Context, rec storage.DownloadRecord) error {
	if rec.DownloadedAt == "" {
		rec.DownloadedAt = time.Now().UTC().Format(time.RFC3339)
	}

	_, err := r.db.ExecContext(ctx,
		`INSERT INTO downloads (file_name, source_url, content_hash, size, downloaded_at) VALUES (?, ?, ?, ?, ?)`,
		rec.FileName, rec.SourceURL, rec.ContentHash, rec.Size, rec.DownloadedAt,
	)

	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique {
		return storage.ErrDownloaded
	}

	return err
}

func (r *DownloadRepository) GetDownloads(ctx context.Context) ([]storage.DownloadRecord, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT file_name, source_url, content_hash, size, downloaded_at FROM downloads ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var downloads []storage.DownloadRecord

	for rows.Next() {
		var record storage.DownloadRecord
		if err := rows.Scan(&record.FileName, &record.SourceURL, &record.ContentHash, &record.Size, &record.DownloadedAt); err != nil {
			return nil, err
		}

		downloads = append(downloads, record)
	}

	return downloads, rows.Err()
}

func (r *DownloadRepository) Count(ctx context.Context) (int, error) {
	var n int

	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM downloads`).Scan(&n)

	return n, err
}

// DeleteDownloadedBefore prunes records older than cutoff.
func (r *DownloadRepository) DeleteDownloadedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx,
		`DELETE FROM downloads WHERE downloaded_at < ?`, cutoff.UTC().Format(time.RFC3339))
	if err != nil {
		return 0, err
	}

	return res.RowsAffected()
}
