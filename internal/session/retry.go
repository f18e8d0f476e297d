package session

import (
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v5"
)

const maxDrainBytes = 64 << 10

// retryStatuses are the responses worth a second attempt.
var retryStatuses = map[int]struct{}{
	http.StatusTooManyRequests:     {},
	http.StatusInternalServerError: {},
	http.StatusBadGateway:          {},
	http.StatusServiceUnavailable:  {},
	http.StatusGatewayTimeout:      {},
}

type retryableStatusError struct {
	status int
}

func (e *retryableStatusError) Error() string {
	return fmt.Sprintf("retryable status %d", e.status)
}

// retryTransport retries idempotent requests on transport errors and on
// retryStatuses. The last attempt's response is returned as is.
type retryTransport struct {
	next       http.RoundTripper
	maxRetries uint
	backoff    time.Duration
}

func (t *retryTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.maxRetries == 0 || !isIdempotent(req.Method) || req.Body != nil && req.GetBody == nil {
		return t.next.RoundTrip(req)
	}

	ctx := req.Context()

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = t.backoff
	b.RandomizationFactor = 0
	b.Multiplier = 2

	var attempt uint

	return backoff.Retry(ctx, func() (*http.Response, error) {
		attempt++
		last := attempt > t.maxRetries

		r := req
		if attempt > 1 {
			r = req.Clone(ctx)

			if req.GetBody != nil {
				body, err := req.GetBody()
				if err != nil {
					return nil, backoff.Permanent(err)
				}

				r.Body = body
			}
		}

		resp, err := t.next.RoundTrip(r)
		if err != nil {
			if ctx.Err() != nil {
				return nil, backoff.Permanent(err)
			}

			return nil, err
		}

		if _, retry := retryStatuses[resp.StatusCode]; retry && !last {
			_, _ = io.CopyN(io.Discard, resp.Body, maxDrainBytes)
			resp.Body.Close()

			return nil, &retryableStatusError{status: resp.StatusCode}
		}

		return resp, nil
	}, backoff.WithBackOff(b), backoff.WithMaxTries(t.maxRetries+1))
}

func isIdempotent(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	default:
		return false
	}
}
