package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"

	"github.com/smartpark/sp-park/internal/api"
	"github.com/smartpark/sp-park/internal/bus"
	"github.com/smartpark/sp-park/internal/config"
	"github.com/smartpark/sp-park/internal/data"
	"github.com/smartpark/sp-park/internal/ingest"
	"github.com/smartpark/sp-park/internal/metrics"
	"github.com/smartpark/sp-park/internal/middleware"
	"github.com/smartpark/sp-park/internal/monitoring"
	"github.com/smartpark/sp-park/internal/ratelimit"
)

const version = "1.0.0"

func main() {
	cfg, err := config.LoadServer()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Database
	db, driver, err := data.Open(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("DB open error: %v", err)
	}
	defer db.Close()
	if err := db.PingContext(ctx); err != nil {
		log.Fatalf("DB ping error: %v", err)
	}

	if cfg.MigrateOnStart {
		if err := data.MigrateUp(db, driver); err != nil {
			log.Fatalf("migration error: %v", err)
		}
		log.Printf("migrations applied (%s)", driver)
	}
	if cfg.SeedOnStart {
		if err := data.Seed(ctx, db); err != nil {
			log.Fatalf("seed error: %v", err)
		}
	}

	collector := metrics.NewCollector()

	// Optional NATS fan-out. The service degrades to local-only delivery
	// when the broker is unreachable.
	var sinks bus.Fanout
	if cfg.NATSURL != "" {
		nc, err := nats.Connect(cfg.NATSURL, nats.Name("smartpark-server"))
		if err != nil {
			log.Printf("Warning: NATS connect failed: %v. Event publishing disabled.", err)
		} else {
			defer nc.Close()
			sinks = append(sinks, bus.NewNATSPublisher(nc, 3))
			log.Printf("connected to NATS at %s", cfg.NATSURL)
		}
	}

	hub := bus.NewHub(collector.WSClientDelta)
	sinks = append(sinks, hub, collector)

	svc, err := ingest.NewService(db, cfg.DedupWindow, sinks)
	if err != nil {
		log.Fatalf("ingest init error: %v", err)
	}

	// Rate limiting: Redis-backed when configured, otherwise in-memory
	// sliding windows.
	var limiter ratelimit.Limiter = ratelimit.NewMemoryLimiter()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Printf("Warning: Redis unreachable at %s: %v. Using in-memory limiter.", cfg.RedisAddr, err)
		} else {
			limiter = ratelimit.NewRedisLimiter(rdb)
			defer rdb.Close()
		}
	}

	floorModel := data.FloorModel{DB: db}
	state := monitoring.NewState(1000)

	router := api.NewRouter(api.RouterConfig{
		Health: &api.HealthHandler{DB: db, Version: version},
		Events: &api.EventHandler{
			Recorder: svc,
			Lister:   data.EventModel{DB: db},
			Observer: collector,
		},
		Floors: &api.FloorHandler{Floors: floorModel},
		Monitoring: &api.MonitoringHandler{
			State:     state,
			Floors:    floorModel,
			Locks:     svc,
			FramesDir: cfg.FramesDir,
		},
		Hub:         hub,
		Auth:        middleware.NewAPIKeyAuth(cfg.APIKeys),
		RateLimiter: limiter,
		RateConfig: ratelimit.LimitConfig{
			Rate:   cfg.RateLimit,
			Window: cfg.RateWindow,
		},
		OnRateDrop:  collector.RateLimited,
		State:       state,
		HTTPMetrics: collector,
		PromHandler: collector.Handler(),
		CORSOrigins: cfg.CORSOrigins,
	})

	// Retention sweep
	go runRetentionSweep(ctx, data.EventModel{DB: db}, cfg.RetentionDays, cfg.SweepInterval)

	server := &http.Server{
		Addr:         cfg.Addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		log.Printf("SmartPark API listening on %s", cfg.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutdown requested")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown error: %v", err)
	}
	log.Printf("server stopped")
}

// runRetentionSweep deletes events older than the retention window on a
// fixed interval.
func runRetentionSweep(ctx context.Context, events data.EventModel, retentionDays int, interval time.Duration) {
	if retentionDays <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
			deleted, err := events.DeleteOlderThan(ctx, cutoff)
			if err != nil {
				log.Printf("retention sweep failed: %v", err)
				continue
			}
			if deleted > 0 {
				log.Printf("retention sweep removed %d events older than %s", deleted, cutoff.Format(time.RFC3339))
			}
		}
	}
}
