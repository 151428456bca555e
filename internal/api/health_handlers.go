package api

import (
	"database/sql"
	"net/http"
	"time"

	"github.com/smartpark/sp-park/internal/data"
)

type HealthHandler struct {
	DB      *sql.DB
	Version string
}

// GET /
func (h *HealthHandler) Root(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"service": "SmartPark API",
		"version": h.Version,
		"status":  "running",
	})
}

// GET /health
func (h *HealthHandler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := data.GetStats(r.Context(), h.DB)
	if err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{
			"status":    "degraded",
			"database":  "unreachable",
			"timestamp": time.Now().UTC(),
		})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{
		"status":    "healthy",
		"database":  stats,
		"timestamp": time.Now().UTC(),
	})
}

// GET /health/live
func (h *HealthHandler) Live(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{"status": "alive"})
}

// GET /health/ready
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	var one int
	if err := h.DB.QueryRowContext(r.Context(), "SELECT 1").Scan(&one); err != nil {
		respondJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	respondJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}
