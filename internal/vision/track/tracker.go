package track

import (
	"fmt"

	"github.com/smartpark/sp-park/internal/vision/detect"
)

const historyLimit = 50

// TrackedObject is a detection with a stable identity.
type TrackedObject struct {
	detect.Detection
	TrackID string
	FrameID int
}

type trackState struct {
	hits      int
	misses    int
	lastFrame int
	history   []detect.Point
}

// Tracker wraps a Backend with lifecycle bookkeeping: hit/miss counts,
// bounded centroid history and eviction once a track has been gone longer
// than the buffer allows.
type Tracker struct {
	backend     Backend
	trackBuffer int
	states      map[string]*trackState
	totalHits   int
}

func New(backend Backend, trackBuffer int) *Tracker {
	return &Tracker{
		backend:     backend,
		trackBuffer: trackBuffer,
		states:      make(map[string]*trackState),
	}
}

func (t *Tracker) Update(dets []detect.Detection, frameID int) []TrackedObject {
	ids := t.backend.Assign(dets, frameID)

	out := make([]TrackedObject, 0, len(dets))
	seen := make(map[string]bool, len(dets))
	for i, d := range dets {
		id := ids[i]
		if id == "" {
			// Backend punted; a frame-local id still lets the crossing
			// logic see the detection.
			id = fmt.Sprintf("track_%d_%d", frameID, i)
		}
		st, ok := t.states[id]
		if !ok {
			st = &trackState{}
			t.states[id] = st
		}
		st.hits++
		st.misses = 0
		st.lastFrame = frameID
		st.history = append(st.history, d.Centroid())
		if len(st.history) > historyLimit {
			st.history = st.history[len(st.history)-historyLimit:]
		}
		t.totalHits++
		seen[id] = true

		out = append(out, TrackedObject{Detection: d, TrackID: id, FrameID: frameID})
	}

	for id, st := range t.states {
		if seen[id] {
			continue
		}
		st.misses++
		if st.misses > t.trackBuffer {
			delete(t.states, id)
		}
	}
	return out
}

// History returns the recorded centroids for a live track.
func (t *Tracker) History(id string) []detect.Point {
	if st, ok := t.states[id]; ok {
		return st.history
	}
	return nil
}

func (t *Tracker) ActiveTracks() int { return len(t.states) }
func (t *Tracker) TotalHits() int    { return t.totalHits }

func (t *Tracker) Reset() {
	t.states = make(map[string]*trackState)
}
