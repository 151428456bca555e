package transmit

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/smartpark/sp-park/internal/vision/crossing"
)

// Payload is the wire schema the ingestion API accepts.
type Payload struct {
	CameraID    string  `json:"camera_id"`
	FloorID     int64   `json:"floor_id"`
	TrackID     string  `json:"track_id"`
	VehicleType string  `json:"vehicle_type"`
	Direction   string  `json:"direction"`
	Confidence  float64 `json:"confidence"`
}

type Config struct {
	EventURL      string
	APIKey        string
	Timeout       time.Duration
	RetryAttempts int
	RetryDelay    time.Duration
	LocalLogPath  string
	QueuePath     string
}

// Client posts crossing events to the backend, keeps a local audit log and
// buffers failed submissions in a durable on-disk queue so nothing is lost
// while the backend is unreachable.
type Client struct {
	cfg    Config
	http   *http.Client
	logger *log.Logger
	sleep  func(time.Duration)

	mu     sync.Mutex
	queue  []Payload
	online bool
}

func NewClient(cfg Config) (*Client, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 5 * time.Second
	}
	if cfg.RetryAttempts < 1 {
		cfg.RetryAttempts = 3
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	if cfg.LocalLogPath == "" {
		cfg.LocalLogPath = "./logs/events_local.jsonl"
	}
	if cfg.QueuePath == "" {
		cfg.QueuePath = "./logs/events_queue.jsonl"
	}
	for _, p := range []string{cfg.LocalLogPath, cfg.QueuePath} {
		if err := os.MkdirAll(filepath.Dir(p), 0o755); err != nil {
			return nil, fmt.Errorf("creating log directory: %w", err)
		}
	}

	c := &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: cfg.Timeout},
		logger: log.New(log.Writer(), "[Transmit] ", log.LstdFlags),
		sleep:  time.Sleep,
		online: true,
	}
	c.queue = c.loadQueue()
	c.logger.Printf("client ready for %s, queued events loaded: %d", cfg.EventURL, len(c.queue))
	return c, nil
}

// NormalizePayload maps an internal crossing event onto the API schema,
// filling the defaults the backend expects.
func NormalizePayload(ev crossing.Event) Payload {
	p := Payload{
		CameraID:    ev.CameraID,
		FloorID:     ev.FloorID,
		TrackID:     ev.TrackID,
		VehicleType: ev.VehicleType,
		Direction:   ev.Direction,
		Confidence:  ev.Confidence,
	}
	if p.VehicleType == "" || p.VehicleType == "unknown" {
		p.VehicleType = "car"
	}
	if p.Direction == "" {
		p.Direction = "entry"
	}
	if p.Confidence == 0 {
		p.Confidence = 0.8
	}
	return p
}

// ProcessEvent logs the raw event to the local audit trail, then submits
// the normalized payload, queueing it on failure.
func (c *Client) ProcessEvent(ev crossing.Event) bool {
	c.logLocally(ev)
	return c.Submit(NormalizePayload(ev), true)
}

// Submit posts the payload with retries. 200 and 201 both count as success
// (201 recorded, 200 duplicate already absorbed by the backend).
func (c *Client) Submit(p Payload, queueOnFailure bool) bool {
	body, err := json.Marshal(p)
	if err != nil {
		c.logger.Printf("marshal payload: %v", err)
		return false
	}

	for attempt := 1; attempt <= c.cfg.RetryAttempts; attempt++ {
		req, err := http.NewRequest(http.MethodPost, c.cfg.EventURL, bytes.NewReader(body))
		if err != nil {
			c.logger.Printf("build request: %v", err)
			return false
		}
		req.Header.Set("Content-Type", "application/json")
		if c.cfg.APIKey != "" {
			req.Header.Set("X-API-Key", c.cfg.APIKey)
		}

		resp, err := c.http.Do(req)
		if err != nil {
			c.logger.Printf("event submission failed (attempt %d): %v", attempt, err)
		} else {
			status := resp.StatusCode
			resp.Body.Close()
			if status == http.StatusOK || status == http.StatusCreated {
				c.setOnline(true)
				return true
			}
			c.logger.Printf("backend returned status %d (attempt %d)", status, attempt)
		}

		if attempt < c.cfg.RetryAttempts {
			c.sleep(c.cfg.RetryDelay)
		}
	}

	c.setOnline(false)
	if queueOnFailure {
		c.enqueue(p)
	}
	return false
}

// FlushQueued retries up to max queued payloads and rewrites the queue file
// with whatever is still pending.
func (c *Client) FlushQueued(max int) (flushed, failed int) {
	c.mu.Lock()
	pending := c.queue
	c.mu.Unlock()
	if len(pending) == 0 {
		return 0, 0
	}

	var remaining []Payload
	for i, p := range pending {
		if i >= max {
			remaining = append(remaining, pending[i:]...)
			break
		}
		if c.Submit(p, false) {
			flushed++
		} else {
			failed++
			remaining = append(remaining, p)
		}
	}

	c.mu.Lock()
	// Payloads enqueued while we were submitting sit past the snapshot; keep
	// them behind whatever is still pending.
	tail := c.queue[len(pending):]
	c.queue = append(remaining, tail...)
	left := len(c.queue)
	c.rewriteQueueLocked()
	c.mu.Unlock()

	if flushed > 0 || failed > 0 {
		c.logger.Printf("queue flush: flushed=%d failed=%d remaining=%d", flushed, failed, left)
	}
	return flushed, failed
}

// HealthCheck probes the backend /health endpoint next to the event URL.
func (c *Client) HealthCheck() bool {
	base := c.cfg.EventURL
	if i := strings.LastIndex(base, "/"); i > 0 {
		base = base[:i]
	}
	resp, err := c.http.Get(base + "/health")
	if err != nil {
		c.logger.Printf("health check error: %v", err)
		c.setOnline(false)
		return false
	}
	defer resp.Body.Close()
	healthy := resp.StatusCode == http.StatusOK
	c.setOnline(healthy)
	if !healthy {
		c.logger.Printf("health check failed: %d", resp.StatusCode)
	}
	return healthy
}

func (c *Client) QueueSize() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.queue)
}

func (c *Client) IsOnline() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.online
}

func (c *Client) setOnline(v bool) {
	c.mu.Lock()
	c.online = v
	c.mu.Unlock()
}

func (c *Client) logLocally(ev crossing.Event) {
	envelope := map[string]any{
		"logged_at": float64(time.Now().UnixNano()) / 1e9,
		"event": map[string]any{
			"camera_id":    ev.CameraID,
			"floor_id":     ev.FloorID,
			"track_id":     ev.TrackID,
			"vehicle_type": ev.VehicleType,
			"direction":    ev.Direction,
			"confidence":   ev.Confidence,
			"frame_id":     ev.FrameID,
			"timestamp":    ev.Timestamp.UTC().Format(time.RFC3339Nano),
		},
	}
	if err := appendJSONL(c.cfg.LocalLogPath, envelope); err != nil {
		c.logger.Printf("local event log: %v", err)
	}
}

func (c *Client) enqueue(p Payload) {
	c.mu.Lock()
	c.queue = append(c.queue, p)
	size := len(c.queue)
	c.mu.Unlock()
	if err := appendJSONL(c.cfg.QueuePath, p); err != nil {
		c.logger.Printf("queue append: %v", err)
	}
	c.logger.Printf("event queued for retry, queue_size=%d", size)
}

func (c *Client) loadQueue() []Payload {
	f, err := os.Open(c.cfg.QueuePath)
	if err != nil {
		return nil
	}
	defer f.Close()

	var queue []Payload
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}
		var p Payload
		if err := json.Unmarshal([]byte(line), &p); err != nil {
			c.logger.Printf("skipping malformed queued event line")
			continue
		}
		queue = append(queue, p)
	}
	return queue
}

func (c *Client) rewriteQueueLocked() {
	f, err := os.Create(c.cfg.QueuePath)
	if err != nil {
		c.logger.Printf("rewrite queue: %v", err)
		return
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	for _, p := range c.queue {
		if err := enc.Encode(p); err != nil {
			c.logger.Printf("rewrite queue: %v", err)
			return
		}
	}
}

func appendJSONL(path string, v any) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	defer f.Close()
	return json.NewEncoder(f).Encode(v)
}
