package track

import (
	"fmt"
	"sort"

	"github.com/smartpark/sp-park/internal/vision/detect"
)

// Backend assigns stable ids to per-frame detections. Returned slice is
// index-aligned with dets; an empty string means the backend could not
// place the detection.
type Backend interface {
	Assign(dets []detect.Detection, frameID int) []string
}

type iouTrack struct {
	box       detect.BBox
	lastFrame int
}

// IOUBackend is a greedy IoU matcher: best-overlap pairs first, new ids
// for whatever remains. Good enough for a fixed camera watching a
// crossing line.
type IOUBackend struct {
	iouThreshold float64
	maxAge       int
	nextID       int
	tracks       map[string]*iouTrack
}

func NewIOUBackend(iouThreshold float64, maxAge int) *IOUBackend {
	return &IOUBackend{
		iouThreshold: iouThreshold,
		maxAge:       maxAge,
		tracks:       make(map[string]*iouTrack),
	}
}

type candidate struct {
	trackID string
	detIdx  int
	overlap float64
}

func (b *IOUBackend) Assign(dets []detect.Detection, frameID int) []string {
	ids := make([]string, len(dets))

	var cands []candidate
	for id, tr := range b.tracks {
		for i, d := range dets {
			if ov := detect.IoU(tr.box, d.Box); ov >= b.iouThreshold {
				cands = append(cands, candidate{trackID: id, detIdx: i, overlap: ov})
			}
		}
	}
	sort.Slice(cands, func(i, j int) bool { return cands[i].overlap > cands[j].overlap })

	usedTrack := make(map[string]bool)
	usedDet := make(map[int]bool)
	for _, c := range cands {
		if usedTrack[c.trackID] || usedDet[c.detIdx] {
			continue
		}
		usedTrack[c.trackID] = true
		usedDet[c.detIdx] = true
		ids[c.detIdx] = c.trackID
		b.tracks[c.trackID].box = dets[c.detIdx].Box
		b.tracks[c.trackID].lastFrame = frameID
	}

	for i := range dets {
		if usedDet[i] {
			continue
		}
		b.nextID++
		id := fmt.Sprintf("v%d", b.nextID)
		ids[i] = id
		b.tracks[id] = &iouTrack{box: dets[i].Box, lastFrame: frameID}
	}

	for id, tr := range b.tracks {
		if frameID-tr.lastFrame > b.maxAge {
			delete(b.tracks, id)
		}
	}
	return ids
}
