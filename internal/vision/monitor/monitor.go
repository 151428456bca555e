package monitor

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// Camera health states.
const (
	StatusInitializing = "initializing"
	StatusRunning      = "running"
	StatusDegraded     = "degraded"
	StatusOffline      = "offline"
)

const (
	degradedAfterFailures = 1
	offlineAfterFailures  = 5
)

// CameraStatus tracks the read health of one camera. Consecutive read
// failures walk it through running -> degraded -> offline; one good frame
// brings it straight back to running.
type CameraStatus struct {
	mu                      sync.Mutex
	cameraID                string
	source                  string
	status                  string
	lastFrameAt             time.Time
	consecutiveReadFailures int
}

func NewCameraStatus(cameraID, source string) *CameraStatus {
	return &CameraStatus{
		cameraID: cameraID,
		source:   source,
		status:   StatusInitializing,
	}
}

func (c *CameraStatus) FrameOK(at time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.lastFrameAt = at
	c.consecutiveReadFailures = 0
	c.status = StatusRunning
}

func (c *CameraStatus) FrameFailed() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.consecutiveReadFailures++
	switch {
	case c.consecutiveReadFailures >= offlineAfterFailures:
		c.status = StatusOffline
	case c.consecutiveReadFailures >= degradedAfterFailures:
		c.status = StatusDegraded
	}
}

func (c *CameraStatus) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

func (c *CameraStatus) snapshot() cameraSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	var last float64
	if !c.lastFrameAt.IsZero() {
		last = float64(c.lastFrameAt.UnixNano()) / 1e9
	}
	return cameraSnapshot{
		CameraID:                c.cameraID,
		Source:                  c.source,
		Status:                  c.status,
		LastFrameAt:             last,
		ConsecutiveReadFailures: c.consecutiveReadFailures,
	}
}

type cameraSnapshot struct {
	CameraID                string  `json:"camera_id"`
	Source                  string  `json:"source"`
	Status                  string  `json:"status"`
	LastFrameAt             float64 `json:"last_frame_at"`
	ConsecutiveReadFailures int     `json:"consecutive_read_failures"`
}

// Pipeline stages with tracked latency.
const (
	StageDetect   = "detect"
	StageTrack    = "track"
	StageEvent    = "event"
	StageTransmit = "transmit"
)

// Counter names accumulated by the pipeline.
const (
	TotalFrames            = "frames"
	TotalDetections        = "detections"
	TotalTrackedObjects    = "tracked_objects"
	TotalEventsGenerated   = "events_generated"
	TotalEventsTransmitted = "events_transmitted"
	TotalEventsQueued      = "events_queued"
)

// PerformanceMonitor accumulates pipeline counters and per-stage latency
// and periodically writes a dashboard JSON file for external scraping.
type PerformanceMonitor struct {
	mu            sync.Mutex
	dashboardPath string
	startedAt     time.Time
	now           func() time.Time
	totals        map[string]int64
	stageSumMs    map[string]float64
}

func NewPerformanceMonitor(dashboardPath string) (*PerformanceMonitor, error) {
	if err := os.MkdirAll(filepath.Dir(dashboardPath), 0o755); err != nil {
		return nil, fmt.Errorf("creating dashboard directory: %w", err)
	}
	m := &PerformanceMonitor{
		dashboardPath: dashboardPath,
		now:           time.Now,
		totals: map[string]int64{
			TotalFrames: 0, TotalDetections: 0, TotalTrackedObjects: 0,
			TotalEventsGenerated: 0, TotalEventsTransmitted: 0, TotalEventsQueued: 0,
		},
		stageSumMs: map[string]float64{
			StageDetect: 0, StageTrack: 0, StageEvent: 0, StageTransmit: 0,
		},
	}
	m.startedAt = m.now()
	return m, nil
}

func (m *PerformanceMonitor) Add(counter string, n int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.totals[counter]; ok {
		m.totals[counter] += n
	}
}

func (m *PerformanceMonitor) RecordStageLatency(stage string, d time.Duration) {
	if d < 0 {
		d = 0
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.stageSumMs[stage]; ok {
		m.stageSumMs[stage] += float64(d) / float64(time.Millisecond)
	}
}

func (m *PerformanceMonitor) Total(counter string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.totals[counter]
}

type dashboard struct {
	Timestamp             float64            `json:"timestamp"`
	UptimeSeconds         float64            `json:"uptime_seconds"`
	AverageFPS            float64            `json:"average_fps"`
	Camera                cameraSnapshot     `json:"camera"`
	BackendOnline         bool               `json:"backend_online"`
	QueueSize             int                `json:"queue_size"`
	Totals                map[string]int64   `json:"totals"`
	AverageStageLatencyMs map[string]float64 `json:"average_stage_latency_ms"`
}

// WriteDashboard renders current state to the dashboard file. Averages are
// per processed frame.
func (m *PerformanceMonitor) WriteDashboard(frameCount int64, camera *CameraStatus, backendOnline bool, queueSize int) error {
	m.mu.Lock()
	now := m.now()
	uptime := now.Sub(m.startedAt).Seconds()
	if uptime <= 0 {
		uptime = 1e-6
	}

	totals := make(map[string]int64, len(m.totals))
	for k, v := range m.totals {
		totals[k] = v
	}
	avgLatency := make(map[string]float64, len(m.stageSumMs))
	for stage, sum := range m.stageSumMs {
		if frameCount > 0 {
			avgLatency[stage] = sum / float64(frameCount)
		} else {
			avgLatency[stage] = 0
		}
	}
	m.mu.Unlock()

	payload := dashboard{
		Timestamp:             float64(now.UnixNano()) / 1e9,
		UptimeSeconds:         uptime,
		AverageFPS:            float64(frameCount) / uptime,
		Camera:                camera.snapshot(),
		BackendOnline:         backendOnline,
		QueueSize:             queueSize,
		Totals:                totals,
		AverageStageLatencyMs: avgLatency,
	}

	data, err := json.MarshalIndent(payload, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(m.dashboardPath, data, 0o644)
}
