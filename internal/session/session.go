// Package session builds the HTTP clients workers use. Every worker owns one
// client for its lifetime; nothing in it is shared with other workers.
package session

import (
	"context"
	"crypto/tls"
	"net"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

const (
	defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

	maxIdleConnsPerHost = 10
	idleConnTimeout     = 90 * time.Second
	tlsHandshakeTimeout = 10 * time.Second
	fallbackDialTimeout = 30 * time.Second
)

// Options configures the clients handed out by New.
type Options struct {
	// RetryMax is the number of extra attempts for idempotent requests.
	RetryMax     uint
	RetryBackoff time.Duration

	// InsecureHosts lists host substrings whose TLS certificates are not verified.
	InsecureHosts []string

	UserAgent  string
	Instrument bool
}

// New returns a fresh client with its own connection pool.
func New(opts Options) *http.Client {
	if opts.UserAgent == "" {
		opts.UserAgent = defaultUserAgent
	}

	var rt http.RoundTripper = &hostRouter{
		insecureHosts: opts.InsecureHosts,
		verified:      newTransport(false),
		unverified:    newTransport(true),
	}

	rt = &headerTransport{next: rt, userAgent: opts.UserAgent}
	rt = &retryTransport{next: rt, maxRetries: opts.RetryMax, backoff: opts.RetryBackoff}

	if opts.Instrument {
		rt = otelhttp.NewTransport(rt)
	}

	return &http.Client{Transport: rt}
}

func newTransport(skipVerify bool) *http.Transport {
	dialer := &net.Dialer{KeepAlive: 30 * time.Second}

	t := &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: func(ctx context.Context, network, addr string) (net.Conn, error) {
			timeout, ok := connectTimeout(ctx)
			if !ok {
				timeout = fallbackDialTimeout
			}

			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			return dialer.DialContext(ctx, network, addr)
		},
		MaxIdleConnsPerHost: maxIdleConnsPerHost,
		IdleConnTimeout:     idleConnTimeout,
		TLSHandshakeTimeout: tlsHandshakeTimeout,
		ForceAttemptHTTP2:   true,
	}

	if skipVerify {
		t.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per host
	}

	return t
}

// hostRouter sends requests for configured hosts through a transport that
// skips certificate verification.
type hostRouter struct {
	insecureHosts []string
	verified      *http.Transport
	unverified    *http.Transport
}

func (r *hostRouter) RoundTrip(req *http.Request) (*http.Response, error) {
	host := req.URL.Hostname()

	for _, h := range r.insecureHosts {
		if h != "" && strings.Contains(host, h) {
			return r.unverified.RoundTrip(req)
		}
	}

	return r.verified.RoundTrip(req)
}

type headerTransport struct {
	next      http.RoundTripper
	userAgent string
}

func (t *headerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.Header.Get("User-Agent") != "" && req.Header.Get("Accept") != "" {
		return t.next.RoundTrip(req)
	}

	req = req.Clone(req.Context())

	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", t.userAgent)
	}

	if req.Header.Get("Accept") == "" {
		req.Header.Set("Accept", "*/*")
	}

	return t.next.RoundTrip(req)
}
