package crossing

import (
	"log"
	"math"
	"time"

	"github.com/smartpark/sp-park/internal/vision/detect"
	"github.com/smartpark/sp-park/internal/vision/track"
)

// DefaultDirectionMapping translates raw motion into parking semantics for
// a typical overhead camera with the line across the lane.
var DefaultDirectionMapping = map[string]string{
	"up":       "entry",
	"down":     "exit",
	"left":     "entry",
	"right":    "exit",
	"positive": "entry",
	"negative": "exit",
}

type Config struct {
	LineStart                 detect.Point
	LineEnd                   detect.Point
	AreaThreshold             int
	CameraID                  string
	FloorID                   int64
	DirectionMapping          map[string]string
	DuplicateCooldownFrames   int
	OcclusionToleranceFrames  int
	MinCrossingDistancePx     int
	ReversalSuppressionFrames int
}

// Event is one detected line crossing, ready for transmission.
type Event struct {
	TrackID       string
	Direction     string
	Timestamp     time.Time
	CrossingPoint detect.Point
	CameraID      string
	FloorID       int64
	VehicleType   string
	Confidence    float64
	FrameID       int
}

type trackPos struct {
	pos     detect.Point
	frameID int
}

type lastCrossing struct {
	direction string
	frameID   int
}

// Engine turns tracked object motion into entry/exit events. One instance
// per camera; not safe for concurrent use.
type Engine struct {
	cfg      Config
	history  map[string]trackPos
	crossing map[string]lastCrossing
	logger   *log.Logger
}

func NewEngine(cfg Config) *Engine {
	if cfg.DirectionMapping == nil {
		cfg.DirectionMapping = DefaultDirectionMapping
	}
	if cfg.DuplicateCooldownFrames < 1 {
		cfg.DuplicateCooldownFrames = 1
	}
	if cfg.OcclusionToleranceFrames < 1 {
		cfg.OcclusionToleranceFrames = 1
	}
	if cfg.MinCrossingDistancePx < 0 {
		cfg.MinCrossingDistancePx = 0
	}
	if cfg.ReversalSuppressionFrames < 1 {
		cfg.ReversalSuppressionFrames = 1
	}
	return &Engine{
		cfg:      cfg,
		history:  make(map[string]trackPos),
		crossing: make(map[string]lastCrossing),
		logger:   log.New(log.Writer(), "[Crossing:"+cfg.CameraID+"] ", log.LstdFlags),
	}
}

// ProcessFrame examines each tracked object and returns any crossings.
// A zero timestamp means "now".
func (e *Engine) ProcessFrame(objects []track.TrackedObject, frameID int, ts time.Time) []Event {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	var events []Event
	for _, obj := range objects {
		if obj.Box.Area() < e.cfg.AreaThreshold {
			continue
		}
		if obj.TrackID == "" {
			continue
		}

		if ev, ok := e.detect(obj.TrackID, obj.Centroid(), frameID, ts); ok {
			ev.CameraID = e.cfg.CameraID
			ev.FloorID = e.cfg.FloorID
			ev.VehicleType = obj.ClassName
			ev.Confidence = obj.Confidence
			ev.FrameID = frameID
			events = append(events, ev)
			e.logger.Printf("track %s crossed: %s at (%d,%d) frame %d",
				ev.TrackID, ev.Direction, ev.CrossingPoint.X, ev.CrossingPoint.Y, frameID)
		}
	}
	return events
}

func (e *Engine) detect(trackID string, pos detect.Point, frameID int, ts time.Time) (Event, bool) {
	prev, hadPrev := e.history[trackID]
	e.history[trackID] = trackPos{pos: pos, frameID: frameID}

	if !hadPrev {
		return Event{}, false
	}
	// After a long occlusion the old position is stale; the track restarts
	// from the fresh baseline instead of producing a phantom crossing.
	if frameID-prev.frameID > e.cfg.OcclusionToleranceFrames {
		return Event{}, false
	}
	if movementDistance(prev.pos, pos) < float64(e.cfg.MinCrossingDistancePx) {
		return Event{}, false
	}

	point, sign, crossed := e.checkCrossing(prev.pos, pos)
	if !crossed {
		return Event{}, false
	}

	direction := e.mapDirection(prev.pos, pos, sign)
	if e.reversalSuppressed(trackID, direction, frameID) {
		return Event{}, false
	}
	if !e.uniqueCrossing(trackID, frameID) {
		return Event{}, false
	}

	e.crossing[trackID] = lastCrossing{direction: direction, frameID: frameID}
	return Event{
		TrackID:       trackID,
		Direction:     direction,
		Timestamp:     ts,
		CrossingPoint: point,
	}, true
}

func (e *Engine) sideOf(p detect.Point) int {
	a := e.cfg.LineStart
	b := e.cfg.LineEnd
	return (b.X-a.X)*(p.Y-a.Y) - (b.Y-a.Y)*(p.X-a.X)
}

// checkCrossing requires a strict side change; touching the line is not a
// crossing.
func (e *Engine) checkCrossing(prev, curr detect.Point) (detect.Point, string, bool) {
	prevSide := e.sideOf(prev)
	currSide := e.sideOf(curr)
	if prevSide*currSide >= 0 {
		return detect.Point{}, "", false
	}
	point := detect.Point{X: (prev.X + curr.X) / 2, Y: (prev.Y + curr.Y) / 2}
	sign := "negative"
	if currSide > 0 {
		sign = "positive"
	}
	return point, sign, true
}

// mapDirection keys on the dominant motion axis relative to the line
// orientation, then falls back to the crossing sign, then to entry.
func (e *Engine) mapDirection(prev, curr detect.Point, sign string) string {
	lineDX := abs(e.cfg.LineEnd.X - e.cfg.LineStart.X)
	lineDY := abs(e.cfg.LineEnd.Y - e.cfg.LineStart.Y)

	var primary string
	if lineDX >= lineDY {
		if curr.Y-prev.Y > 0 {
			primary = "down"
		} else {
			primary = "up"
		}
	} else {
		if curr.X-prev.X > 0 {
			primary = "right"
		} else {
			primary = "left"
		}
	}

	if d, ok := e.cfg.DirectionMapping[primary]; ok && d != "" {
		return d
	}
	if d, ok := e.cfg.DirectionMapping[sign]; ok && d != "" {
		return d
	}
	return "entry"
}

func (e *Engine) reversalSuppressed(trackID, direction string, frameID int) bool {
	prev, ok := e.crossing[trackID]
	if !ok || prev.direction == "" {
		return false
	}
	opposite := (prev.direction == "entry" && direction == "exit") ||
		(prev.direction == "exit" && direction == "entry")
	if !opposite {
		return false
	}
	return frameID-prev.frameID <= e.cfg.ReversalSuppressionFrames
}

// uniqueCrossing blocks any repeated crossing inside the cooldown window,
// regardless of direction, to suppress oscillation jitter.
func (e *Engine) uniqueCrossing(trackID string, frameID int) bool {
	prev, ok := e.crossing[trackID]
	if !ok {
		return true
	}
	return frameID-prev.frameID > e.cfg.DuplicateCooldownFrames
}

// ClearOldTracks drops state for tracks not seen within maxAge frames.
func (e *Engine) ClearOldTracks(maxAge, currentFrame int) {
	for id, st := range e.history {
		if currentFrame-st.frameID > maxAge {
			delete(e.history, id)
			delete(e.crossing, id)
		}
	}
}

// TrackedCount reports how many tracks have crossing state.
func (e *Engine) TrackedCount() int { return len(e.history) }

func movementDistance(a, b detect.Point) float64 {
	return math.Hypot(float64(b.X-a.X), float64(b.Y-a.Y))
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
