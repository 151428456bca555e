package api

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/smartpark/sp-park/internal/bus"
	"github.com/smartpark/sp-park/internal/middleware"
	"github.com/smartpark/sp-park/internal/monitoring"
	"github.com/smartpark/sp-park/internal/ratelimit"
)

// RouterConfig collects everything the HTTP surface needs. Optional fields
// (Hub, RateLimiter, MetricsHandler, Observer) may be nil and the matching
// routes or middlewares are skipped.
type RouterConfig struct {
	Health      *HealthHandler
	Events      *EventHandler
	Floors      *FloorHandler
	Monitoring  *MonitoringHandler
	Hub         *bus.Hub
	Auth        *middleware.APIKeyAuth
	RateLimiter ratelimit.Limiter
	RateConfig  ratelimit.LimitConfig
	OnRateDrop  func()
	State       *monitoring.State
	HTTPMetrics middleware.HTTPObserver
	PromHandler http.Handler
	CORSOrigins []string
}

func NewRouter(cfg RouterConfig) http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.Recoverer)
	r.Use(middleware.RequestLogger)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   cfg.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Content-Type", "X-API-Key"},
		AllowCredentials: false,
		MaxAge:           300,
	}))
	if cfg.HTTPMetrics != nil {
		r.Use(middleware.Metrics(cfg.HTTPMetrics))
	}
	if cfg.State != nil {
		r.Use(stateObserver(cfg.State))
	}
	if cfg.Auth != nil {
		r.Use(cfg.Auth.Middleware)
	}
	if cfg.RateLimiter != nil {
		r.Use(middleware.NewRateLimitMiddleware(cfg.RateLimiter, cfg.RateConfig, cfg.OnRateDrop).Middleware)
	}

	r.Get("/", cfg.Health.Root)
	r.Get("/health", cfg.Health.Health)
	r.Get("/health/live", cfg.Health.Live)
	r.Get("/health/ready", cfg.Health.Ready)

	r.Post("/event", cfg.Events.Create)
	r.Get("/events", cfg.Events.List)

	r.Get("/floors", cfg.Floors.List)
	r.Get("/floors/{id}", cfg.Floors.Get)
	r.Get("/recommend", cfg.Floors.Recommend)

	r.Get("/monitoring/metrics", cfg.Monitoring.Metrics)
	r.Get("/monitoring/alerts", cfg.Monitoring.Alerts)
	r.Get("/camera/latest-frame", cfg.Monitoring.LatestFrame)

	if cfg.PromHandler != nil {
		r.Handle("/metrics", cfg.PromHandler)
	}
	if cfg.Hub != nil {
		r.Get("/ws", cfg.Hub.ServeWS)
	}

	return r
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (rec *statusRecorder) WriteHeader(code int) {
	rec.status = code
	rec.ResponseWriter.WriteHeader(code)
}

func stateObserver(state *monitoring.State) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)
			state.Observe(time.Since(start), rec.status)
		})
	}
}
