package camera

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/smartpark/sp-park/internal/vision/detect"
)

// Camera is one entry from the cameras.json registry file.
type Camera struct {
	CameraID           string            `json:"camera_id"`
	FloorID            int64             `json:"floor_id"`
	VideoType          string            `json:"video_type"`
	VideoSource        string            `json:"video_source"`
	LineCrossingPoints [][]int           `json:"line_crossing_points"`
	DirectionMapping   map[string]string `json:"direction_mapping"`
}

// Line returns the crossing line endpoints, falling back to the default
// horizontal line when the entry carries fewer than two points.
func (c Camera) Line() (detect.Point, detect.Point) {
	if len(c.LineCrossingPoints) >= 2 &&
		len(c.LineCrossingPoints[0]) >= 2 && len(c.LineCrossingPoints[1]) >= 2 {
		return detect.Point{X: c.LineCrossingPoints[0][0], Y: c.LineCrossingPoints[0][1]},
			detect.Point{X: c.LineCrossingPoints[1][0], Y: c.LineCrossingPoints[1][1]}
	}
	return detect.Point{X: 0, Y: 360}, detect.Point{X: 1280, Y: 360}
}

// Load reads the registry file and keys the entries by camera id. A missing
// file is not an error; the caller falls back to environment settings.
func Load(path string) (map[string]Camera, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return map[string]Camera{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading camera config: %w", err)
	}

	var entries []Camera
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parsing camera config: %w", err)
	}

	cameras := make(map[string]Camera, len(entries))
	for _, c := range entries {
		if c.CameraID == "" {
			continue
		}
		cameras[c.CameraID] = c
	}
	return cameras, nil
}

// Watch reports registry file changes on the returned channel until stop is
// closed. Editors replace rather than rewrite the file, so the parent
// directory is watched and events are debounced.
func Watch(path string, stop <-chan struct{}) (<-chan struct{}, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", filepath.Dir(path), err)
	}

	logger := log.New(log.Writer(), "[CameraConfig] ", log.LstdFlags)
	changed := make(chan struct{}, 1)
	base := filepath.Base(path)

	go func() {
		defer watcher.Close()
		var debounce *time.Timer
		for {
			select {
			case <-stop:
				return
			case ev, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Base(ev.Name) != base {
					continue
				}
				if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
					continue
				}
				if debounce != nil {
					debounce.Stop()
				}
				debounce = time.AfterFunc(200*time.Millisecond, func() {
					logger.Printf("registry changed: %s", path)
					select {
					case changed <- struct{}{}:
					default:
					}
				})
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Printf("watch error: %v", err)
			}
		}
	}()
	return changed, nil
}
