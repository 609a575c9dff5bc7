package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/nullform/llmgateway/internal/convert"
)

// HealthHandler answers liveness checks and, when a metrics registry is
// attached, surfaces per-(kind,from,to) conversion counters so an operator
// can see conversion volume and latency without a separate metrics backend
// (there is none in this deployment's scope). The error counter is reported
// too, but registry conversions never increment it; see convert.Metrics.
type HealthHandler struct {
	logger    *slog.Logger
	metrics   *convert.Metrics
	providers []string
}

func NewHealthHandlerWithMetrics(logger *slog.Logger, metrics *convert.Metrics) *HealthHandler {
	return &HealthHandler{logger: logger, metrics: metrics}
}

// WithProviders attaches the known provider names to include in verbose
// health responses, returning h for chaining at construction time.
func (h *HealthHandler) WithProviders(names []string) *HealthHandler {
	h.providers = names
	return h
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.metrics == nil || r.URL.Query().Get("metrics") == "" {
		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(map[string]any{
		"status":    "ok",
		"metrics":   h.metrics.Snapshot(),
		"providers": h.providers,
	})
}