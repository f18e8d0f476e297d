// Package state holds the bookkeeping shared by every worker: endpoint health,
// the dedup history and the run counters. All of it lives behind a single
// mutex; no method holds the lock across I/O.
package state

import (
	"fmt"
	"sync"
	"time"

	"github.com/italolelis/media_fetcher/internal/history"
)

// DefaultFailureThreshold is the failure count at which an endpoint stops being selected.
const DefaultFailureThreshold = 5

// Options configures a State.
type Options struct {
	Endpoints        []string
	FailureThreshold int
	MaxDownloads     int // 0 means unlimited
}

type State struct {
	mu sync.Mutex

	endpoints []string
	failures  map[string]int
	threshold int

	hashes    map[string]struct{}
	hashOrder []string
	urls      map[string]struct{}
	urlOrder  []string

	counters     Counters
	maxDownloads int
	seq          uint64

	now func() time.Time
}

// New builds a State seeded with a previously persisted history.
func New(opts Options, snap history.Snapshot) *State {
	threshold := opts.FailureThreshold
	if threshold <= 0 {
		threshold = DefaultFailureThreshold
	}

	s := &State{
		endpoints:    append([]string(nil), opts.Endpoints...),
		failures:     make(map[string]int, len(opts.Endpoints)),
		threshold:    threshold,
		hashes:       make(map[string]struct{}, len(snap.Hashes)),
		urls:         make(map[string]struct{}, len(snap.URLs)),
		maxDownloads: opts.MaxDownloads,
		now:          time.Now,
	}

	for _, ep := range s.endpoints {
		s.failures[ep] = 0
	}

	for _, h := range snap.Hashes {
		s.addHashLocked(h)
	}

	for _, u := range snap.URLs {
		s.addURLLocked(u)
	}

	return s
}

// NextFilename returns "video_<timestamp>_<worker>_<seq>" plus ext. The
// sequence is process-wide, so names never repeat within a run.
func (s *State) NextFilename(workerID int, ext string) string {
	s.mu.Lock()
	s.seq++
	seq := s.seq
	ts := s.now().Format("20060102_150405")
	s.mu.Unlock()

	return fmt.Sprintf("video_%s_%d_%06d%s", ts, workerID, seq, ext)
}
