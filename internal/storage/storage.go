package storage

import (
	"context"
	"errors"
	"time"
)

// ErrDownloaded is returned when a record for the same content already exists.
var ErrDownloaded = errors.New("content already tracked")

// DownloadRecord represents a file stored in the output directory.
type DownloadRecord struct {
	FileName     string `json:"file_name"`
	SourceURL    string `json:"source_url"`
	ContentHash  string `json:"content_hash"`
	Size         int64  `json:"size"`
	DownloadedAt string `json:"downloaded_at"` // RFC3339
}

type DownloadReadRepository interface {
	GetDownloads(ctx context.Context) ([]DownloadRecord, error)
	Count(ctx context.Context) (int, error)
}

type DownloadWriteRepository interface {
	TrackDownload(ctx context.Context, rec DownloadRecord) error
	DeleteDownloadedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

type DownloadRepository interface {
	DownloadReadRepository
	DownloadWriteRepository
}
