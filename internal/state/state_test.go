package state

import (
	"sync"
	"testing"
	"time"

	"github.com/italolelis/media_fetcher/internal/history"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_SeedsHistory(t *testing.T) {
	s := New(Options{}, history.Snapshot{
		Hashes: []string{"h1", "h2", "h1"},
		URLs:   []string{"http://x/a.mp4"},
	})

	assert.True(t, s.SeenHash("h2"))
	assert.True(t, s.SeenURL("http://x/a.mp4"))
	assert.False(t, s.SeenURL("http://x/b.mp4"))
	assert.Equal(t, []string{"h1", "h2"}, s.Snapshot().Hashes)
}

func TestCommit_StoresAndCounts(t *testing.T) {
	s := New(Options{}, history.Snapshot{})

	require.True(t, s.Commit("http://x/a.mp4", "h1", 1000))
	require.True(t, s.Commit("http://x/b.mp4", "h2", 500))

	c := s.Counters()
	assert.Equal(t, int64(2), c.Stored)
	assert.Equal(t, int64(1500), c.Bytes)
	assert.Equal(t, history.Snapshot{
		Hashes: []string{"h1", "h2"},
		URLs:   []string{"http://x/a.mp4", "http://x/b.mp4"},
	}, s.Snapshot())
}

func TestCommit_SameContentIsDuplicate(t *testing.T) {
	s := New(Options{}, history.Snapshot{})

	require.True(t, s.Commit("http://x/a.mp4", "h1", 1000))
	assert.False(t, s.Commit("http://y/other.mp4", "h1", 1000))

	c := s.Counters()
	assert.Equal(t, int64(1), c.Stored)
	assert.Equal(t, int64(1), c.Duplicates)
	assert.False(t, s.SeenURL("http://y/other.mp4"), "duplicate source is not recorded")
}

func TestCommit_ConcurrentSameHashCommitsOnce(t *testing.T) {
	s := New(Options{}, history.Snapshot{})

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		committed int
	)

	for i := 0; i < 16; i++ {
		wg.Add(1)

		go func() {
			defer wg.Done()

			if s.Commit("http://x/a.mp4", "same", 10) {
				mu.Lock()
				committed++
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	assert.Equal(t, 1, committed)
	assert.Equal(t, int64(15), s.Counters().Duplicates)
}

func TestLimitReached(t *testing.T) {
	unlimited := New(Options{}, history.Snapshot{})
	unlimited.Commit("u", "h", 1)
	assert.False(t, unlimited.LimitReached())

	limited := New(Options{MaxDownloads: 2}, history.Snapshot{})
	limited.Commit("u1", "h1", 1)
	assert.False(t, limited.LimitReached())

	limited.Commit("u2", "h2", 1)
	assert.True(t, limited.LimitReached())
}

func TestCounters_ErrorsAndDuplicates(t *testing.T) {
	s := New(Options{}, history.Snapshot{})

	s.AddError()
	s.AddError()
	s.AddDuplicate()

	assert.Equal(t, Counters{Errors: 2, Duplicates: 1}, s.Counters())
}

func TestNextFilename_UniqueAndFormatted(t *testing.T) {
	s := New(Options{}, history.Snapshot{})
	s.now = func() time.Time { return time.Date(2026, 10, 15, 8, 9, 10, 0, time.UTC) }

	assert.Equal(t, "video_20261015_080910_2_000001.mp4", s.NextFilename(2, ".mp4"))
	assert.Equal(t, "video_20261015_080910_3_000002.webm", s.NextFilename(3, ".webm"))

	seen := make(map[string]struct{})

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)

	for w := 0; w < 8; w++ {
		wg.Add(1)

		go func(w int) {
			defer wg.Done()

			for i := 0; i < 50; i++ {
				name := s.NextFilename(1, ".mp4")

				mu.Lock()
				seen[name] = struct{}{}
				mu.Unlock()
			}
		}(w)
	}

	wg.Wait()

	assert.Len(t, seen, 400)
}
