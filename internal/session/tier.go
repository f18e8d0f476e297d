package session

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/italolelis/media_fetcher/internal/config"
)

type ctxKey string

const connectTimeoutKey ctxKey = "connect_timeout"

// WithConnectTimeout bounds the dial of any connection opened for requests made with ctx.
func WithConnectTimeout(ctx context.Context, d time.Duration) context.Context {
	if d <= 0 {
		return ctx
	}

	return context.WithValue(ctx, connectTimeoutKey, d)
}

func connectTimeout(ctx context.Context) (time.Duration, bool) {
	d, ok := ctx.Value(connectTimeoutKey).(time.Duration)

	return d, ok
}

// Bounded is for short exchanges (liveness and metadata calls): the dial is
// bounded by tier.Connect and the whole exchange, body included, by Connect+Read.
func Bounded(ctx context.Context, tier config.Tier) (context.Context, context.CancelFunc) {
	ctx = WithConnectTimeout(ctx, tier.Connect)

	return context.WithTimeout(ctx, tier.Connect+tier.Read)
}

// Stream guards a bulk transfer. The dial is bounded by tier.Connect and the
// request is cancelled whenever no progress is reported for tier.Read (the
// first deadline also covers the connect phase).
type Stream struct {
	ctx    context.Context
	cancel context.CancelFunc
	idle   time.Duration

	mu       sync.Mutex
	timer    *time.Timer
	timedOut bool
}

// NewStream starts the idle watchdog. Callers must call Stop.
func NewStream(parent context.Context, tier config.Tier) *Stream {
	ctx, cancel := context.WithCancel(WithConnectTimeout(parent, tier.Connect))

	s := &Stream{ctx: ctx, cancel: cancel, idle: tier.Read}

	if tier.Read > 0 {
		s.timer = time.AfterFunc(tier.Connect+tier.Read, s.expire)
	}

	return s
}

func (s *Stream) expire() {
	s.mu.Lock()
	s.timedOut = true
	s.mu.Unlock()

	s.cancel()
}

// Context is the context to issue the request with.
func (s *Stream) Context() context.Context {
	return s.ctx
}

// Kick pushes the idle deadline forward.
func (s *Stream) Kick() {
	if s.timer != nil {
		s.timer.Reset(s.idle)
	}
}

// TimedOut reports whether the watchdog fired.
func (s *Stream) TimedOut() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.timedOut
}

// Stop releases the watchdog and cancels the context.
func (s *Stream) Stop() {
	if s.timer != nil {
		s.timer.Stop()
	}

	s.cancel()
}

// Reader returns r wrapped so that every successful read counts as progress.
func (s *Stream) Reader(r io.Reader) io.Reader {
	return &kickReader{r: r, s: s}
}

type kickReader struct {
	r io.Reader
	s *Stream
}

func (k *kickReader) Read(p []byte) (int, error) {
	n, err := k.r.Read(p)
	if n > 0 {
		k.s.Kick()
	}

	return n, err
}
