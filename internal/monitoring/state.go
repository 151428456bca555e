package monitoring

import (
	"sync"
	"time"
)

// State keeps a rolling window of request outcomes for the monitoring
// endpoints. Independent of prometheus: this feeds the JSON snapshot and
// the alert evaluation, not the scrape target.
type State struct {
	mu        sync.Mutex
	startedAt time.Time
	window    int

	totalRequests int64
	totalErrors   int64
	latencies     []float64 // ms, ring buffer
	errored       []bool    // same ring positions as latencies
	next          int
	filled        bool
}

func NewState(window int) *State {
	if window <= 0 {
		window = 100
	}
	return &State{
		startedAt: time.Now(),
		window:    window,
		latencies: make([]float64, window),
		errored:   make([]bool, window),
	}
}

// Record adds one request outcome to the rolling window.
func (s *State) Record(latency time.Duration, isError bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.totalRequests++
	if isError {
		s.totalErrors++
	}
	s.latencies[s.next] = float64(latency.Milliseconds())
	s.errored[s.next] = isError
	s.next = (s.next + 1) % s.window
	if s.next == 0 {
		s.filled = true
	}
}

// Snapshot is the payload behind /monitoring/metrics.
type Snapshot struct {
	UptimeSeconds  float64 `json:"uptime_seconds"`
	TotalRequests  int64   `json:"total_requests"`
	TotalErrors    int64   `json:"total_errors"`
	ErrorRate      float64 `json:"error_rate"`
	AvgLatencyMs   float64 `json:"avg_latency_ms"`
	WindowRequests int     `json:"window_requests"`
}

func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := s.next
	if s.filled {
		n = s.window
	}
	var sum float64
	windowErrors := 0
	for i := 0; i < n; i++ {
		sum += s.latencies[i]
		if s.errored[i] {
			windowErrors++
		}
	}
	avg := 0.0
	rate := 0.0
	if n > 0 {
		avg = sum / float64(n)
		// Error rate over the rolling window, not lifetime totals, so the
		// alert clears once the burst ages out.
		rate = float64(windowErrors) / float64(n)
	}
	return Snapshot{
		UptimeSeconds:  time.Since(s.startedAt).Seconds(),
		TotalRequests:  s.totalRequests,
		TotalErrors:    s.totalErrors,
		ErrorRate:      rate,
		AvgLatencyMs:   avg,
		WindowRequests: n,
	}
}

// Middleware-friendly hook: the api router calls this per request.
func (s *State) Observe(latency time.Duration, status int) {
	s.Record(latency, status >= 500)
}
