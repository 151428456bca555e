package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/smartpark/sp-park/internal/config"
	"github.com/smartpark/sp-park/internal/vision"
	"github.com/smartpark/sp-park/internal/vision/camera"
	"github.com/smartpark/sp-park/internal/vision/crossing"
	"github.com/smartpark/sp-park/internal/vision/detect"
	"github.com/smartpark/sp-park/internal/vision/monitor"
	"github.com/smartpark/sp-park/internal/vision/source"
	"github.com/smartpark/sp-park/internal/vision/track"
	"github.com/smartpark/sp-park/internal/vision/transmit"
)

func main() {
	cfg, err := config.LoadVision()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	log.Printf("SmartPark Vision Service starting (camera %s)", cfg.CameraID)

	detector, err := detect.NewONNXDetector(detect.ModelConfig{
		ModelPath:           cfg.ModelPath,
		LibraryPath:         cfg.ONNXLibraryPath,
		ConfidenceThreshold: cfg.ConfidenceThreshold,
		IOUThreshold:        cfg.IOUThreshold,
		TargetClasses:       cfg.TargetClassNames(),
		LowLight: detect.LowLightConfig{
			BrightnessThreshold: cfg.DarkBrightnessThreshold,
			ConfidenceFactor:    cfg.LowLightConfFactor,
			MinConfidence:       cfg.LowLightMinConfidence,
			Enhance:             cfg.LowLightEnhance,
		},
	})
	if err != nil {
		log.Fatalf("detector init error: %v", err)
	}
	defer detector.Close()
	if err := detector.Warmup(); err != nil {
		log.Printf("Warning: detector warmup failed: %v", err)
	}

	client, err := transmit.NewClient(transmit.Config{
		EventURL:      cfg.EventURL(),
		APIKey:        cfg.BackendAPIKey,
		Timeout:       cfg.APITimeout,
		RetryAttempts: cfg.APIRetryAttempts,
		RetryDelay:    cfg.APIRetryDelay,
		LocalLogPath:  cfg.LocalLogPath,
		QueuePath:     cfg.QueuePath,
	})
	if err != nil {
		log.Fatalf("transmit client error: %v", err)
	}
	if !client.HealthCheck() {
		log.Printf("Warning: backend health check failed, will retry on first event")
	}

	perf, err := monitor.NewPerformanceMonitor(cfg.DashboardPath)
	if err != nil {
		log.Fatalf("monitor init error: %v", err)
	}

	// Registry changes restart the pipeline with the fresh camera entry.
	watchStop := make(chan struct{})
	defer close(watchStop)
	changed, err := camera.Watch(cfg.CameraConfigPath, watchStop)
	if err != nil {
		log.Printf("Warning: camera config watch disabled: %v", err)
		changed = nil
	}

	for {
		runCtx, cancel := context.WithCancel(ctx)
		go func() {
			select {
			case <-changed:
				log.Printf("camera config changed, restarting pipeline")
				cancel()
			case <-runCtx.Done():
			}
		}()

		err := runPipeline(runCtx, cfg, detector, client, perf)
		cancel()

		if errors.Is(err, context.Canceled) && ctx.Err() == nil {
			continue
		}
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Fatalf("pipeline error: %v", err)
		}
		break
	}
	log.Printf("Vision Service stopped")
}

// runPipeline wires one pipeline run from the current camera registry entry
// and processes frames until the source ends or the context is cancelled.
func runPipeline(ctx context.Context, cfg *config.Vision, detector detect.Detector, client *transmit.Client, perf *monitor.PerformanceMonitor) error {
	cameras, err := camera.Load(cfg.CameraConfigPath)
	if err != nil {
		return err
	}

	videoSource := cfg.VideoInputPath
	videoType := source.Type(cfg.VideoInputType)
	cameraID := cfg.CameraID
	floorID := cfg.FloorID
	lineStart, lineEnd := camera.Camera{}.Line()
	var directionMapping map[string]string

	if cam, ok := cameras[cfg.CameraID]; ok {
		log.Printf("using camera config: id=%s type=%s source=%s", cam.CameraID, cam.VideoType, cam.VideoSource)
		if cam.VideoSource != "" {
			videoSource = cam.VideoSource
		}
		if cam.VideoType != "" {
			videoType = source.Type(cam.VideoType)
		}
		cameraID = cam.CameraID
		if cam.FloorID > 0 {
			floorID = cam.FloorID
		}
		lineStart, lineEnd = cam.Line()
		directionMapping = cam.DirectionMapping
	} else {
		log.Printf("no camera config entry for %s, using VIDEO_INPUT_* settings", cfg.CameraID)
	}

	reader := source.New(source.Config{
		Source:         videoSource,
		Type:           videoType,
		Width:          cfg.FrameWidth,
		Height:         cfg.FrameHeight,
		TargetFPS:      cfg.VideoFPS,
		ReconnectDelay: cfg.ReconnectDelay,
	})

	tracker := track.New(track.NewIOUBackend(cfg.IOUThreshold, cfg.TrackBuffer), cfg.TrackBuffer)
	engine := crossing.NewEngine(crossing.Config{
		LineStart:                 lineStart,
		LineEnd:                   lineEnd,
		AreaThreshold:             cfg.AreaThreshold,
		CameraID:                  cameraID,
		FloorID:                   floorID,
		DirectionMapping:          directionMapping,
		DuplicateCooldownFrames:   cfg.DuplicateCooldownFrames,
		OcclusionToleranceFrames:  cfg.OcclusionToleranceFrames,
		MinCrossingDistancePx:     cfg.MinCrossingDistancePx,
		ReversalSuppressionFrames: cfg.ReversalSuppressionFrames,
	})
	status := monitor.NewCameraStatus(cameraID, videoSource)

	pipeline := vision.NewPipeline(
		reader,
		vision.NewRegulator(cfg.VideoFPS),
		detector,
		tracker,
		engine,
		client,
		status,
		perf,
		vision.Options{
			SourceType:                videoType,
			FlushIntervalFrames:       cfg.FlushIntervalFrames,
			FlushBatchSize:            cfg.FlushBatchSize,
			HealthCheckIntervalFrames: cfg.HealthCheckIntervalFrames,
			DashboardIntervalFrames:   cfg.DashboardIntervalFrames,
			LogIntervalFrames:         cfg.VideoFPS,
			TrackBuffer:               cfg.TrackBuffer,
			MaxFrames:                 cfg.MaxFrames,
			SaveFrames:                cfg.SaveFrames,
			FrameOutputDir:            cfg.FrameOutputDir,
		},
	)

	started := time.Now()
	err = pipeline.Run(ctx)
	log.Printf("pipeline run finished after %s", time.Since(started).Round(time.Second))
	return err
}
