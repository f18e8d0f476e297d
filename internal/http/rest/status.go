package rest

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/italolelis/media_fetcher/internal/logctx"
	"github.com/italolelis/media_fetcher/internal/orchestrator"
	"github.com/italolelis/media_fetcher/internal/storage"
	"github.com/italolelis/media_fetcher/internal/telemetry"
)

// StatusProvider exposes the live run snapshot.
type StatusProvider interface {
	Status() orchestrator.Status
}

type StatusHandler struct {
	provider  StatusProvider
	ledger    storage.DownloadReadRepository
	telemetry *telemetry.Telemetry
}

type statusResponse struct {
	orchestrator.Status

	LedgerRows *int `json:"ledger_rows,omitempty"`
}

// NewStatusHandler creates the handler for the status, ledger and metrics routes. ledger may be nil.
func NewStatusHandler(provider StatusProvider, ledger storage.DownloadReadRepository, t *telemetry.Telemetry) *StatusHandler {
	return &StatusHandler{
		provider:  provider,
		ledger:    ledger,
		telemetry: t,
	}
}

func (h *StatusHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(telemetry.RequestID)
	r.Use(telemetry.NewHTTPMiddleware(h.telemetry).Middleware)

	r.Get("/status", h.HandleStatus)
	r.Get("/downloads", h.HandleDownloads)
	r.Get("/healthz", h.HandleHealth)
	r.Method(http.MethodGet, "/metrics", h.telemetry.Handler())

	return r
}

// HandleStatus returns the counters, endpoint availability and ledger size as JSON.
func (h *StatusHandler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	resp := statusResponse{Status: h.provider.Status()}

	if h.ledger != nil {
		n, err := h.ledger.Count(r.Context())
		if err != nil {
			logger.Warn("failed to count ledger rows", "err", err)
		} else {
			resp.LedgerRows = &n
		}
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logger.Error("failed to encode status", "err", err)
	}
}

// HandleDownloads lists the files recorded in the ledger.
func (h *StatusHandler) HandleDownloads(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	if h.ledger == nil {
		http.Error(w, "ledger not configured", http.StatusNotFound)

		return
	}

	records, err := h.ledger.GetDownloads(r.Context())
	if err != nil {
		logger.Error("failed to list downloads", "err", err)
		http.Error(w, "failed to list downloads", http.StatusInternalServerError)

		return
	}

	if records == nil {
		records = []storage.DownloadRecord{}
	}

	w.Header().Set("Content-Type", "application/json")

	if err := json.NewEncoder(w).Encode(records); err != nil {
		logger.Error("failed to encode downloads", "err", err)
	}
}

func (h *StatusHandler) HandleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = w.Write([]byte("ok"))
}
