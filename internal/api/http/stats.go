package http

import (
	"net/http"
	"time"

	"github.com/datagen/datagen/internal/observability"
)

// StatsHandler handles GET /v1/stats.
type StatsHandler struct {
	stats *observability.GenerationStats
}

// NewStatsHandler creates a new stats handler.
func NewStatsHandler(stats *observability.GenerationStats) *StatsHandler {
	return &StatsHandler{stats: stats}
}

// ServeHTTP writes a snapshot of the generation counters.
func (h *StatsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed", GetRequestID(r.Context()))
		return
	}
	writeJSON(w, http.StatusOK, h.stats.Snapshot())
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string `json:"status"`
	Service   string `json:"service"`
	Version   string `json:"version,omitempty"`
	Timestamp string `json:"timestamp"`
}

// HealthHandler reports liveness. It answers 503 once shuttingDown returns true.
func HealthHandler(service, version string, shuttingDown func() bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{
			Status:    "healthy",
			Service:   service,
			Version:   version,
			Timestamp: time.Now().UTC().Format(time.RFC3339),
		}
		status := http.StatusOK
		if shuttingDown != nil && shuttingDown() {
			resp.Status = "shutting_down"
			status = http.StatusServiceUnavailable
		}
		writeJSON(w, status, resp)
	}
}
