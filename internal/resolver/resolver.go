// Package resolver turns a resolution endpoint response into a direct media URL.
package resolver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/italolelis/media_fetcher/internal/config"
	"github.com/italolelis/media_fetcher/internal/logctx"
	"github.com/italolelis/media_fetcher/internal/session"
	"github.com/italolelis/media_fetcher/internal/telemetry"
)

const (
	// maxTextURLLen bounds a plain-text body that is taken as a URL.
	maxTextURLLen = 500
	// maxBodyBytes bounds how much of a response is inspected.
	maxBodyBytes = 64 << 10
)

// Resolution outcome labels.
const (
	statusResolved  = "resolved"
	statusNoMatch   = "no_match"
	statusBadStatus = "bad_status"
	statusTransport = "transport_error"
)

// urlFields are the structured-body keys that may hold the media URL, in priority order.
var urlFields = []string{"url", "video_url", "data", "video", "mp4"}

var errNoMatch = errors.New("no media url in response")

// HealthRecorder receives the outcome of every endpoint call.
type HealthRecorder interface {
	RecordSuccess(endpoint string)
	RecordFailure(endpoint string)
}

type Resolver struct {
	client    *http.Client
	health    HealthRecorder
	tier      config.Tier
	telemetry *telemetry.Telemetry
}

func New(client *http.Client, health HealthRecorder, tier config.Tier, tel *telemetry.Telemetry) *Resolver {
	return &Resolver{
		client:    client,
		health:    health,
		tier:      tier,
		telemetry: tel,
	}
}

// Resolve calls endpoint and extracts a media URL from its response. Every
// failure is recorded against the endpoint and reported as ok == false.
func (r *Resolver) Resolve(ctx context.Context, endpoint string) (string, bool) {
	logger := logctx.LoggerFromContext(ctx).With("endpoint", endpoint)

	mediaURL, status, err := r.resolve(ctx, endpoint)

	r.telemetry.RecordResolution(ctx, status)

	if err != nil {
		r.health.RecordFailure(endpoint)
		logger.Debug("endpoint resolution failed", "status", status, "err", err)

		return "", false
	}

	logger.Debug("endpoint resolved", "media_url", mediaURL)

	return mediaURL, true
}

func (r *Resolver) resolve(ctx context.Context, endpoint string) (string, string, error) {
	ctx, cancel := session.Bounded(ctx, r.tier)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return "", statusTransport, fmt.Errorf("failed to create request: %w", err)
	}

	resp, err := r.client.Do(req)
	if err != nil {
		return "", statusTransport, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", statusBadStatus, fmt.Errorf("endpoint returned status %d", resp.StatusCode)
	}

	r.health.RecordSuccess(endpoint)

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		return "", statusTransport, fmt.Errorf("failed to read body: %w", err)
	}

	if len(body) > maxBodyBytes {
		body = nil
	}

	if u, ok := Extract(body, resp.Header.Get("Content-Type"), resp.Request.URL.String()); ok {
		return u, statusResolved, nil
	}

	return "", statusNoMatch, errNoMatch
}

// Extract applies the extraction chain to a 200 response: a known field of a
// JSON object, then a short plain-text URL body, then the final request URL
// when the response is itself video content.
func Extract(body []byte, contentType, finalURL string) (string, bool) {
	if u, ok := fromJSON(body); ok {
		return u, true
	}

	if text := strings.TrimSpace(string(body)); isHTTP(text) && len(text) < maxTextURLLen {
		return text, true
	}

	if strings.Contains(strings.ToLower(contentType), "video") && finalURL != "" {
		return finalURL, true
	}

	return "", false
}

func fromJSON(body []byte) (string, bool) {
	var doc map[string]any
	if err := json.Unmarshal(body, &doc); err != nil {
		return "", false
	}

	for _, key := range urlFields {
		s, ok := doc[key].(string)
		if !ok {
			continue
		}

		if s = strings.TrimSpace(s); isHTTP(s) {
			return s, true
		}
	}

	return "", false
}

func isHTTP(s string) bool {
	return strings.HasPrefix(s, "http")
}
