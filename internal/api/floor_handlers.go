package api

import (
	"context"
	"net/http"
	"sort"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/smartpark/sp-park/internal/data"
)

// FloorReader is the read-side slice of the floor model.
type FloorReader interface {
	GetByID(ctx context.Context, id int64) (*data.Floor, error)
	GetAllActive(ctx context.Context) ([]*data.Floor, error)
}

type FloorHandler struct {
	Floors FloorReader
}

func floorPayload(f *data.Floor) map[string]any {
	return map[string]any{
		"id":                   f.ID,
		"name":                 f.Name,
		"description":          f.Description,
		"total_slots":          f.TotalSlots,
		"current_vehicles":     f.CurrentVehicles,
		"available_slots":      f.AvailableSlots(),
		"occupancy_percentage": f.OccupancyPercentage(),
		"is_active":            f.IsActive,
		"updated_at":           f.UpdatedAt,
	}
}

// GET /floors
func (h *FloorHandler) List(w http.ResponseWriter, r *http.Request) {
	floors, err := h.Floors.GetAllActive(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load floors")
		return
	}

	var capacity, vehicles int
	payloads := make([]map[string]any, 0, len(floors))
	for _, f := range floors {
		capacity += f.TotalSlots
		vehicles += f.CurrentVehicles
		payloads = append(payloads, floorPayload(f))
	}
	avgOccupancy := 0.0
	if capacity > 0 {
		avgOccupancy = float64(vehicles) / float64(capacity) * 100
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":           true,
		"total_floors":      len(floors),
		"total_capacity":    capacity,
		"total_vehicles":    vehicles,
		"total_available":   capacity - vehicles,
		"average_occupancy": avgOccupancy,
		"floors":            payloads,
	})
}

// GET /floors/{id}
func (h *FloorHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id < 1 {
		respondValidation(w, "floor id must be a positive integer")
		return
	}

	floor, err := h.Floors.GetByID(r.Context(), id)
	if err != nil {
		if err == data.ErrRecordNotFound {
			respondError(w, http.StatusNotFound, "floor not found")
			return
		}
		respondError(w, http.StatusInternalServerError, "failed to load floor")
		return
	}

	payload := floorPayload(floor)
	payload["success"] = true
	respondJSON(w, http.StatusOK, payload)
}

func recommendationReason(occupancy float64) string {
	switch {
	case occupancy < 30:
		return "plenty of space available"
	case occupancy < 50:
		return "moderately occupied"
	case occupancy < 70:
		return "getting busy, but slots remain"
	default:
		return "limited space, arrive soon"
	}
}

// GET /recommend
func (h *FloorHandler) Recommend(w http.ResponseWriter, r *http.Request) {
	floors, err := h.Floors.GetAllActive(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load floors")
		return
	}
	if len(floors) == 0 {
		respondError(w, http.StatusNotFound, "no active floors available")
		return
	}

	best := floors[0]
	for _, f := range floors[1:] {
		if f.AvailableSlots() > best.AvailableSlots() {
			best = f
		}
	}
	if best.AvailableSlots() <= 0 {
		respondError(w, http.StatusNotFound, "all floors are full")
		return
	}

	// Alternatives: the other floors with space, least occupied first.
	var alternatives []*data.Floor
	for _, f := range floors {
		if f.ID != best.ID && f.AvailableSlots() > 0 {
			alternatives = append(alternatives, f)
		}
	}
	sort.Slice(alternatives, func(i, j int) bool {
		return alternatives[i].OccupancyPercentage() < alternatives[j].OccupancyPercentage()
	})
	if len(alternatives) > 3 {
		alternatives = alternatives[:3]
	}

	altPayloads := make([]map[string]any, 0, len(alternatives))
	for _, f := range alternatives {
		altPayloads = append(altPayloads, floorPayload(f))
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":                true,
		"recommended_floor":      floorPayload(best),
		"reason":                 recommendationReason(best.OccupancyPercentage()),
		"available_alternatives": altPayloads,
	})
}
