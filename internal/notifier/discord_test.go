package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiscordNotifier_Notify(t *testing.T) {
	var got map[string]string

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	n := New(srv.URL)

	require.NoError(t, n.Notify(context.Background(), "media_fetcher finished: 3 stored"))
	assert.Equal(t, "media_fetcher finished: 3 stored", got["content"])
}

func TestDiscordNotifier_BadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer srv.Close()

	err := (&DiscordNotifier{WebhookURL: srv.URL}).Notify(context.Background(), "x")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 429")
}

func TestDiscordNotifier_MissingURL(t *testing.T) {
	err := (&DiscordNotifier{}).Notify(context.Background(), "x")

	assert.EqualError(t, err, "webhook URL is not set")
}

func TestNew_EmptyURLIsNop(t *testing.T) {
	n := New("")

	assert.IsType(t, Nop{}, n)
	assert.NoError(t, n.Notify(context.Background(), "ignored"))
}
