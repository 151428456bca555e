package api

import (
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/smartpark/sp-park/internal/monitoring"
)

// LockCounter reports how many ingest idempotency keys are live.
type LockCounter interface {
	ActiveLocks() int
}

type MonitoringHandler struct {
	State     *monitoring.State
	Floors    FloorReader
	Locks     LockCounter
	FramesDir string
}

// GET /monitoring/metrics
func (h *MonitoringHandler) Metrics(w http.ResponseWriter, r *http.Request) {
	snap := h.State.Snapshot()
	payload := map[string]any{
		"success": true,
		"metrics": snap,
	}
	if h.Locks != nil {
		payload["active_locks"] = h.Locks.ActiveLocks()
	}
	respondJSON(w, http.StatusOK, payload)
}

// GET /monitoring/alerts
func (h *MonitoringHandler) Alerts(w http.ResponseWriter, r *http.Request) {
	floors, err := h.Floors.GetAllActive(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load floors")
		return
	}

	avail := make([]monitoring.FloorAvailability, 0, len(floors))
	for _, f := range floors {
		avail = append(avail, monitoring.FloorAvailability{
			Name:       f.Name,
			Available:  f.AvailableSlots(),
			TotalSlots: f.TotalSlots,
		})
	}

	alerts := monitoring.EvaluateAlerts(h.State.Snapshot(), avail)
	respondJSON(w, http.StatusOK, map[string]any{
		"success":     true,
		"alert_count": len(alerts),
		"alerts":      alerts,
		"checked_at":  time.Now().UTC(),
	})
}

var frameExtensions = map[string]string{
	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
}

// GET /camera/latest-frame serves the newest saved frame image.
func (h *MonitoringHandler) LatestFrame(w http.ResponseWriter, r *http.Request) {
	entries, err := os.ReadDir(h.FramesDir)
	if err != nil {
		respondError(w, http.StatusNotFound, "no frames available")
		return
	}

	var newest string
	var newestMod time.Time
	var contentType string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		ext := strings.ToLower(filepath.Ext(entry.Name()))
		ct, ok := frameExtensions[ext]
		if !ok {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		if newest == "" || info.ModTime().After(newestMod) {
			newest = entry.Name()
			newestMod = info.ModTime()
			contentType = ct
		}
	}
	if newest == "" {
		respondError(w, http.StatusNotFound, "no frames available")
		return
	}

	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", "no-store")
	http.ServeFile(w, r, filepath.Join(h.FramesDir, newest))
}
