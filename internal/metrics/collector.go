package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smartpark/sp-park/internal/data"
)

// Collector owns a private registry so tests can run several instances
// without MustRegister panics.
type Collector struct {
	registry *prometheus.Registry

	httpRequests *prometheus.CounterVec
	httpDuration *prometheus.HistogramVec
	ingestEvents *prometheus.CounterVec
	rateLimited  prometheus.Counter

	floorOccupancy *prometheus.GaugeVec
	floorCapacity  *prometheus.GaugeVec
	wsClients      prometheus.Gauge
}

func NewCollector() *Collector {
	reg := prometheus.NewRegistry()
	c := &Collector{registry: reg}

	c.httpRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smartpark_http_requests_total",
		Help: "HTTP requests by method, route and status",
	}, []string{"method", "route", "status"})
	reg.MustRegister(c.httpRequests)

	c.httpDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "smartpark_http_request_duration_seconds",
		Help:    "HTTP request latency by route",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	reg.MustRegister(c.httpDuration)

	c.ingestEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "smartpark_ingest_events_total",
		Help: "Crossing events by outcome (accepted, duplicate, rejected)",
	}, []string{"outcome"})
	reg.MustRegister(c.ingestEvents)

	c.rateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "smartpark_rate_limited_total",
		Help: "Requests refused by the rate limiter",
	})
	reg.MustRegister(c.rateLimited)

	c.floorOccupancy = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "smartpark_floor_vehicles",
		Help: "Current vehicle count per floor",
	}, []string{"floor"})
	reg.MustRegister(c.floorOccupancy)

	c.floorCapacity = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "smartpark_floor_capacity",
		Help: "Total slots per floor",
	}, []string{"floor"})
	reg.MustRegister(c.floorCapacity)

	c.wsClients = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "smartpark_ws_clients",
		Help: "Connected websocket subscribers",
	})
	reg.MustRegister(c.wsClients)

	return c
}

func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

func (c *Collector) ObserveHTTP(method, route string, status int, d time.Duration) {
	c.httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	c.httpDuration.WithLabelValues(route).Observe(d.Seconds())
}

func (c *Collector) IngestOutcome(outcome string) {
	c.ingestEvents.WithLabelValues(outcome).Inc()
}

func (c *Collector) RateLimited() {
	c.rateLimited.Inc()
}

func (c *Collector) SetFloor(f *data.Floor) {
	c.floorOccupancy.WithLabelValues(f.Name).Set(float64(f.CurrentVehicles))
	c.floorCapacity.WithLabelValues(f.Name).Set(float64(f.TotalSlots))
}

func (c *Collector) WSClientDelta(d int) {
	c.wsClients.Add(float64(d))
}

// EventAccepted lets the collector ride the ingest fan-out so floor gauges
// track every accepted crossing.
func (c *Collector) EventAccepted(_ *data.Event, f *data.Floor) {
	c.SetFloor(f)
}
