package sqlite

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/italolelis/media_fetcher/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRepo(t *testing.T) *InstrumentedDownloadRepository {
	t.Helper()

	db, err := InitDB(filepath.Join(t.TempDir(), "nested", "ledger.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewInstrumentedDownloadRepository(db, nil)
}

func TestTrackAndGetDownloads(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.TrackDownload(ctx, storage.DownloadRecord{
		FileName:     "video_1.mp4",
		SourceURL:    "http://x/a.mp4",
		ContentHash:  "h1",
		Size:         1000,
		DownloadedAt: "2026-10-01T10:00:00Z",
	}))
	require.NoError(t, repo.TrackDownload(ctx, storage.DownloadRecord{
		FileName:    "video_2.mp4",
		SourceURL:   "http://x/b.mp4",
		ContentHash: "h2",
		Size:        2000,
	}))

	records, err := repo.GetDownloads(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)

	assert.Equal(t, "video_1.mp4", records[0].FileName)
	assert.Equal(t, int64(1000), records[0].Size)
	assert.Equal(t, "2026-10-01T10:00:00Z", records[0].DownloadedAt)
	assert.NotEmpty(t, records[1].DownloadedAt, "a missing timestamp is filled in")

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestTrackDownload_DuplicateHash(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	rec := storage.DownloadRecord{FileName: "a.mp4", SourceURL: "http://x/a.mp4", ContentHash: "same"}
	require.NoError(t, repo.TrackDownload(ctx, rec))

	rec.SourceURL = "http://y/a.mp4"
	assert.ErrorIs(t, repo.TrackDownload(ctx, rec), storage.ErrDownloaded)
}

func TestDeleteDownloadedBefore(t *testing.T) {
	repo := newTestRepo(t)
	ctx := context.Background()

	now := time.Date(2026, 10, 15, 0, 0, 0, 0, time.UTC)

	for i, age := range []time.Duration{10 * 24 * time.Hour, 8 * 24 * time.Hour, time.Hour} {
		require.NoError(t, repo.TrackDownload(ctx, storage.DownloadRecord{
			FileName:     "f",
			SourceURL:    "u",
			ContentHash:  string(rune('a' + i)),
			DownloadedAt: now.Add(-age).Format(time.RFC3339),
		}))
	}

	deleted, err := repo.DeleteDownloadedBefore(ctx, now.Add(-7*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(2), deleted)

	n, err := repo.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}
