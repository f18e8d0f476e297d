package orchestrator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/italolelis/media_fetcher/internal/config"
	"github.com/italolelis/media_fetcher/internal/downloader"
	"github.com/italolelis/media_fetcher/internal/history"
	"github.com/italolelis/media_fetcher/internal/logctx"
	"github.com/italolelis/media_fetcher/internal/state"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testTier = config.Tier{Connect: time.Second, Read: 2 * time.Second}

// newMediaHost serves distinct content for every path.
func newMediaHost(t *testing.T) *httptest.Server {
	t.Helper()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body := []byte("payload for " + r.URL.Path)

		w.Header().Set("Content-Type", "video/mp4")
		w.Header().Set("Content-Length", strconv.Itoa(len(body)))

		if r.Method == http.MethodHead {
			return
		}

		_, _ = w.Write(body)
	}))
	t.Cleanup(srv.Close)

	return srv
}

// newEndpoint returns a fresh media URL on every call.
func newEndpoint(t *testing.T, mediaURL string) *httptest.Server {
	t.Helper()

	var n atomic.Int32

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]string{
			"url": fmt.Sprintf("%s/v/%d.mp4", mediaURL, n.Add(1)),
		})
	}))
	t.Cleanup(srv.Close)

	return srv
}

func testOptions(dir string, workers int) Options {
	return Options{
		Workers:     workers,
		ResolveTier: testTier,
		Download: downloader.Options{
			Dir:           dir,
			ChunkSize:     64,
			HashAlgorithm: "md5",
			ProbeTier:     testTier,
			TransferTier:  testTier,
		},
		NoEndpointPause:  20 * time.Millisecond,
		DownloadPause:    time.Millisecond,
		ResolveMissPause: 5 * time.Millisecond,
		PanicPause:       time.Millisecond,
		StatusInterval:   10 * time.Millisecond,
	}
}

func TestRun_StopsAtMaxDownloads(t *testing.T) {
	media := newMediaHost(t)
	endpoint := newEndpoint(t, media.URL)
	dir := t.TempDir()

	st := state.New(state.Options{Endpoints: []string{endpoint.URL}, MaxDownloads: 3}, history.Snapshot{})
	store := history.NewStore(dir)

	o := New(st, store, nil, nil, testOptions(dir, 1))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	final, err := o.Run(ctx)
	require.NoError(t, err)
	require.NoError(t, ctx.Err(), "the pool exits on its own once the limit is reached")

	assert.Equal(t, int64(3), final.Stored)
	assert.Equal(t, int64(0), final.Errors)

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, st.Snapshot(), saved)
	assert.Len(t, saved.Hashes, 3)
	assert.Len(t, saved.URLs, 3)

	entries, err := os.ReadDir(dir)
	require.NoError(t, err)

	var videos int

	for _, e := range entries {
		if filepath.Ext(e.Name()) == ".mp4" {
			videos++
		}
	}

	assert.Equal(t, 3, videos)
}

func TestRun_ShutdownFlushesHistory(t *testing.T) {
	media := newMediaHost(t)
	endpoint := newEndpoint(t, media.URL)
	dir := t.TempDir()

	st := state.New(state.Options{Endpoints: []string{endpoint.URL}}, history.Snapshot{})
	store := history.NewStore(dir)

	o := New(st, store, nil, nil, testOptions(dir, 3))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	type result struct {
		status Status
		err    error
	}

	done := make(chan result, 1)

	go func() {
		s, err := o.Run(ctx)
		done <- result{status: s, err: err}
	}()

	require.Eventually(t, func() bool { return st.Counters().Stored >= 2 }, 5*time.Second, 5*time.Millisecond)
	cancel()

	var res result
	select {
	case res = <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	require.NoError(t, res.err)

	saved, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, st.Snapshot(), saved, "flushed history equals the in-memory sets")
	assert.GreaterOrEqual(t, len(saved.Hashes), 2)
	assert.Equal(t, res.status.Stored, int64(len(saved.Hashes)))
}

type panickingResolver struct{}

func (panickingResolver) Resolve(context.Context, string) (string, bool) {
	panic("boom")
}

type missResolver struct{ calls atomic.Int32 }

func (m *missResolver) Resolve(context.Context, string) (string, bool) {
	m.calls.Add(1)

	return "", false
}

type countingFetcher struct{ calls atomic.Int32 }

func (c *countingFetcher) Fetch(_ context.Context, url string) downloader.Outcome {
	c.calls.Add(1)

	return downloader.Outcome{Result: downloader.ResultFailed, URL: url}
}

func TestIterate_RecoversPanic(t *testing.T) {
	st := state.New(state.Options{Endpoints: []string{"http://a.test"}}, history.Snapshot{})
	opts := testOptions(t.TempDir(), 1)
	opts.PanicPause = 42 * time.Millisecond

	o := New(st, nil, nil, nil, opts)

	pause := o.iterate(context.Background(), &worker{id: 1, resolver: panickingResolver{}, fetcher: &countingFetcher{}})

	assert.Equal(t, 42*time.Millisecond, pause)
	assert.Equal(t, int64(1), st.Counters().Errors)
}

func TestIterate_Pacing(t *testing.T) {
	st := state.New(state.Options{Endpoints: []string{"http://a.test"}}, history.Snapshot{})
	opts := testOptions(t.TempDir(), 1)
	o := New(st, nil, nil, nil, opts)

	miss := &missResolver{}
	fetcher := &countingFetcher{}

	pause := o.iterate(context.Background(), &worker{id: 1, resolver: miss, fetcher: fetcher})
	assert.Equal(t, opts.ResolveMissPause, pause)
	assert.Equal(t, int32(0), fetcher.calls.Load(), "nothing to fetch without a url")
}

func TestIterate_NoEndpointDecaysAfterPause(t *testing.T) {
	st := state.New(state.Options{Endpoints: []string{"http://a.test"}, FailureThreshold: 1}, history.Snapshot{})
	st.RecordFailure("http://a.test")
	require.Empty(t, st.ListAvailable())

	opts := testOptions(t.TempDir(), 1)
	o := New(st, nil, nil, nil, opts)

	miss := &missResolver{}
	start := time.Now()
	pause := o.iterate(context.Background(), &worker{id: 1, resolver: miss, fetcher: &countingFetcher{}})

	assert.Zero(t, pause)
	assert.GreaterOrEqual(t, time.Since(start), opts.NoEndpointPause, "the pause comes before the decay")
	assert.Equal(t, int32(0), miss.calls.Load())
	assert.Equal(t, []string{"http://a.test"}, st.ListAvailable(), "a decay pass restores the endpoint")
}

func TestIterate_NoEndpointCancelledSkipsDecay(t *testing.T) {
	st := state.New(state.Options{Endpoints: []string{"http://a.test"}, FailureThreshold: 1}, history.Snapshot{})
	st.RecordFailure("http://a.test")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	o := New(st, nil, nil, nil, testOptions(t.TempDir(), 1))
	o.iterate(ctx, &worker{id: 1, resolver: &missResolver{}, fetcher: &countingFetcher{}})

	assert.Equal(t, 1, st.Failures("http://a.test"))
}

func TestRun_WorkersSurvivePanics(t *testing.T) {
	st := state.New(state.Options{Endpoints: []string{"http://a.test"}}, history.Snapshot{})
	o := New(st, history.NewStore(t.TempDir()), nil, nil, testOptions(t.TempDir(), 2))
	o.newWorker = func(id int) *worker {
		return &worker{id: id, resolver: panickingResolver{}, fetcher: &countingFetcher{}}
	}

	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		defer close(done)
		_, _ = o.Run(ctx)
	}()

	require.Eventually(t, func() bool { return st.Counters().Errors >= 5 }, 5*time.Second, 5*time.Millisecond)
	cancel()
	<-done
}

func TestSleep(t *testing.T) {
	assert.True(t, sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, sleep(ctx, time.Hour))
	assert.False(t, sleep(ctx, 0))
}

func TestStatus_Summary(t *testing.T) {
	s := Status{
		Counters:     state.Counters{Stored: 1200, Duplicates: 3, Errors: 1, Bytes: 2_000_000},
		BytesHuman:   "2.0 MB",
		ElapsedHuman: "1m0s",
	}

	assert.Equal(t, "media_fetcher finished: 1,200 stored, 3 duplicates, 1 errors, 2.0 MB in 1m0s", s.Summary())

	out, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(out), `"stored":1200`)
	assert.Contains(t, string(out), `"bytes_human":"2.0 MB"`)
}

func TestEmptyStatus_LogsZeroSummary(t *testing.T) {
	var buf bytes.Buffer
	ctx := logctx.WithLogger(context.Background(), slog.New(slog.NewJSONHandler(&buf, nil)))

	s := EmptyStatus(time.Now().Add(-2 * time.Second))

	assert.Equal(t, state.Counters{}, s.Counters)
	assert.Equal(t, "0 B", s.BytesHuman)
	assert.Equal(t, "2s", s.ElapsedHuman)

	LogSummary(ctx, s)

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "final summary", entry["msg"])
	assert.Equal(t, float64(0), entry["stored"])
	assert.Equal(t, float64(0), entry["errors"])
	assert.Equal(t, "0 B", entry["bytes"])
	assert.Equal(t, "2s", entry["elapsed"])
}
