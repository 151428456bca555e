package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/smartpark/sp-park/internal/data"
	"github.com/smartpark/sp-park/internal/ingest"
)

// EventRecorder is the slice of the ingest service the handler needs.
type EventRecorder interface {
	RecordEvent(ctx context.Context, req ingest.Request) (*ingest.Result, error)
}

// EventLister lists stored events for the query endpoint.
type EventLister interface {
	ListFiltered(ctx context.Context, f data.EventFilter) ([]*data.Event, int, int, error)
}

// IngestObserver counts outcomes; satisfied by the metrics collector.
type IngestObserver interface {
	IngestOutcome(outcome string)
}

type EventHandler struct {
	Recorder EventRecorder
	Lister   EventLister
	Observer IngestObserver
}

type eventCreateRequest struct {
	CameraID    string     `json:"camera_id"`
	FloorID     int64      `json:"floor_id"`
	TrackID     string     `json:"track_id"`
	VehicleType string     `json:"vehicle_type"`
	Direction   string     `json:"direction"`
	Confidence  *float64   `json:"confidence"`
	Timestamp   *time.Time `json:"timestamp"`
}

func (req *eventCreateRequest) validate() string {
	if l := len(req.CameraID); l < 1 || l > 50 {
		return "camera_id must be 1-50 characters"
	}
	if req.FloorID <= 0 {
		return "floor_id must be a positive integer"
	}
	if l := len(req.TrackID); l < 1 || l > 100 {
		return "track_id must be 1-100 characters"
	}
	if req.VehicleType == "" {
		return "vehicle_type is required"
	}
	if req.Direction == "" {
		return "direction is required"
	}
	if req.Confidence != nil && (*req.Confidence < 0 || *req.Confidence > 1) {
		return "confidence must be between 0 and 1"
	}
	return ""
}

func (h *EventHandler) observe(outcome string) {
	if h.Observer != nil {
		h.Observer.IngestOutcome(outcome)
	}
}

// POST /event
func (h *EventHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req eventCreateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "malformed JSON body")
		return
	}
	if detail := req.validate(); detail != "" {
		h.observe("rejected")
		respondValidation(w, detail)
		return
	}

	confidence := 0.95
	if req.Confidence != nil {
		confidence = *req.Confidence
	}
	var ts time.Time
	if req.Timestamp != nil {
		ts = *req.Timestamp
	}

	res, err := h.Recorder.RecordEvent(r.Context(), ingest.Request{
		CameraID:    req.CameraID,
		FloorID:     req.FloorID,
		TrackID:     req.TrackID,
		VehicleType: req.VehicleType,
		Direction:   req.Direction,
		Confidence:  confidence,
		Timestamp:   ts,
	})
	if err != nil {
		switch {
		case errors.Is(err, ingest.ErrInvalidDirection), errors.Is(err, ingest.ErrInvalidVehicleType):
			h.observe("rejected")
			respondValidation(w, err.Error())
		case errors.Is(err, ingest.ErrFloorNotFound):
			h.observe("rejected")
			respondError(w, http.StatusBadRequest, err.Error())
		case errors.Is(err, ingest.ErrCapacityExceeded), errors.Is(err, ingest.ErrCapacityUnderflow):
			h.observe("rejected")
			respondError(w, http.StatusConflict, err.Error())
		default:
			h.observe("rejected")
			respondError(w, http.StatusInternalServerError, "failed to record event")
		}
		return
	}

	status := http.StatusCreated
	message := "event recorded"
	outcome := "accepted"
	if res.Duplicate {
		status = http.StatusOK
		message = "duplicate event ignored"
		outcome = "duplicate"
	}
	h.observe(outcome)

	respondJSON(w, status, map[string]any{
		"success":              true,
		"message":              message,
		"duplicate":            res.Duplicate,
		"event_id":             res.Event.ID,
		"floor_id":             res.Floor.ID,
		"current_vehicles":     res.Floor.CurrentVehicles,
		"available_slots":      res.Floor.AvailableSlots(),
		"occupancy_percentage": res.Floor.OccupancyPercentage(),
	})
}

// maxLookbackHours caps the /events window at one year.
const maxLookbackHours = 365 * 24

// GET /events?hours=&limit=&offset=&camera_id=&floor_id=&direction=&vehicle_type=
func (h *EventHandler) List(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	hours := 24
	if v := q.Get("hours"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > maxLookbackHours {
			respondValidation(w, "hours must be between 1 and 8760")
			return
		}
		hours = n
	}
	limit := 100
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 1000 {
			respondValidation(w, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	offset := 0
	if v := q.Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			respondValidation(w, "offset must not be negative")
			return
		}
		offset = n
	}

	filter := data.EventFilter{
		Since:     time.Now().Add(-time.Duration(hours) * time.Hour).UTC(),
		CameraID:  q.Get("camera_id"),
		Direction: q.Get("direction"),
		Limit:     limit,
		Offset:    offset,
	}
	if v := q.Get("floor_id"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil || id < 1 {
			respondValidation(w, "floor_id must be a positive integer")
			return
		}
		filter.FloorID = id
	}
	if v := q.Get("vehicle_type"); v != "" {
		if !ingest.ValidVehicleType(v) {
			respondValidation(w, "vehicle_type must be one of car, motorcycle, bus, truck")
			return
		}
		filter.VehicleType = v
	}

	events, total, filtered, err := h.Lister.ListFiltered(r.Context(), filter)
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to list events")
		return
	}
	if events == nil {
		events = []*data.Event{}
	}

	respondJSON(w, http.StatusOK, map[string]any{
		"success":        true,
		"total_count":    total,
		"filtered_count": filtered,
		"limit":          limit,
		"offset":         offset,
		"events":         events,
	})
}
