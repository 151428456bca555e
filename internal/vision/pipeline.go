package vision

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/smartpark/sp-park/internal/vision/crossing"
	"github.com/smartpark/sp-park/internal/vision/detect"
	"github.com/smartpark/sp-park/internal/vision/monitor"
	"github.com/smartpark/sp-park/internal/vision/source"
	"github.com/smartpark/sp-park/internal/vision/track"
)

// FrameReader yields decoded frames from a video source.
type FrameReader interface {
	Read() (*source.Frame, error)
	Close() error
}

// EventClient transmits crossing events to the backend.
type EventClient interface {
	ProcessEvent(ev crossing.Event) bool
	FlushQueued(max int) (flushed, failed int)
	HealthCheck() bool
	QueueSize() int
	IsOnline() bool
}

// Regulator paces the acquisition loop to the target frame rate.
type Regulator interface {
	Wait()
}

type Options struct {
	SourceType                source.Type
	FlushIntervalFrames       int
	FlushBatchSize            int
	HealthCheckIntervalFrames int
	DashboardIntervalFrames   int
	LogIntervalFrames         int
	TrackBuffer               int
	MaxFrames                 int
	SaveFrames                bool
	FrameOutputDir            string
}

// Pipeline runs the per-camera processing loop: pace, read, detect, track,
// detect crossings, transmit. Periodic work (queue flush, health check,
// dashboard write) is keyed off the frame counter.
type Pipeline struct {
	reader    FrameReader
	regulator Regulator
	detector  detect.Detector
	tracker   *track.Tracker
	engine    *crossing.Engine
	client    EventClient
	status    *monitor.CameraStatus
	perf      *monitor.PerformanceMonitor
	opts      Options
	logger    *log.Logger
	now       func() time.Time
}

func NewPipeline(
	reader FrameReader,
	regulator Regulator,
	detector detect.Detector,
	tracker *track.Tracker,
	engine *crossing.Engine,
	client EventClient,
	status *monitor.CameraStatus,
	perf *monitor.PerformanceMonitor,
	opts Options,
) *Pipeline {
	if opts.FlushIntervalFrames < 1 {
		opts.FlushIntervalFrames = 150
	}
	if opts.FlushBatchSize < 1 {
		opts.FlushBatchSize = 50
	}
	if opts.HealthCheckIntervalFrames < 1 {
		opts.HealthCheckIntervalFrames = 300
	}
	if opts.DashboardIntervalFrames < 1 {
		opts.DashboardIntervalFrames = 30
	}
	if opts.LogIntervalFrames < 1 {
		opts.LogIntervalFrames = 15
	}
	return &Pipeline{
		reader:    reader,
		regulator: regulator,
		detector:  detector,
		tracker:   tracker,
		engine:    engine,
		client:    client,
		status:    status,
		perf:      perf,
		opts:      opts,
		logger:    log.New(log.Writer(), "[Pipeline] ", log.LstdFlags),
		now:       time.Now,
	}
}

// Run processes frames until the source ends, MaxFrames is reached or the
// context is cancelled. A final dashboard write records the end state.
func (p *Pipeline) Run(ctx context.Context) error {
	defer p.reader.Close()

	frameCount := 0
	startedAt := p.now()

	for {
		if err := ctx.Err(); err != nil {
			p.writeDashboard(frameCount)
			return err
		}

		p.regulator.Wait()

		frame, err := p.reader.Read()
		if err != nil {
			if errors.Is(err, source.ErrEndOfStream) {
				p.logger.Printf("source exhausted after %d frames", frameCount)
				break
			}
			p.status.FrameFailed()
			p.logger.Printf("frame read failed: %v", err)
			if p.opts.SourceType == source.TypeFile {
				break
			}
			continue
		}
		p.status.FrameOK(frame.ReadAt)
		frameCount++

		detectStart := p.now()
		detections, err := p.detector.Detect(frame.Image)
		p.perf.RecordStageLatency(monitor.StageDetect, p.now().Sub(detectStart))
		if err != nil {
			// Still run the tracker so misses age out and periodic work fires.
			p.logger.Printf("detection failed on frame %d: %v", frameCount, err)
			detections = nil
		}

		trackStart := p.now()
		tracked := p.tracker.Update(detections, frameCount)
		p.perf.RecordStageLatency(monitor.StageTrack, p.now().Sub(trackStart))

		eventStart := p.now()
		events := p.engine.ProcessFrame(tracked, frameCount, frame.ReadAt)
		p.perf.RecordStageLatency(monitor.StageEvent, p.now().Sub(eventStart))
		p.engine.ClearOldTracks(maxTrackAge(p.opts.TrackBuffer), frameCount)

		p.perf.Add(monitor.TotalFrames, 1)
		p.perf.Add(monitor.TotalDetections, int64(len(detections)))
		p.perf.Add(monitor.TotalTrackedObjects, int64(len(tracked)))
		p.perf.Add(monitor.TotalEventsGenerated, int64(len(events)))

		transmitted := 0
		txStart := p.now()
		for _, ev := range events {
			if p.client.ProcessEvent(ev) {
				transmitted++
			}
		}
		p.perf.RecordStageLatency(monitor.StageTransmit, p.now().Sub(txStart))
		p.perf.Add(monitor.TotalEventsTransmitted, int64(transmitted))

		if frameCount%p.opts.FlushIntervalFrames == 0 {
			flushed, failed := p.client.FlushQueued(p.opts.FlushBatchSize)
			if flushed > 0 || failed > 0 {
				p.logger.Printf("queue flush: flushed=%d failed=%d remaining=%d",
					flushed, failed, p.client.QueueSize())
			}
		}
		if frameCount%p.opts.HealthCheckIntervalFrames == 0 {
			p.client.HealthCheck()
		}

		if p.opts.SaveFrames && frame.Image != nil {
			if err := saveAnnotatedFrame(p.opts.FrameOutputDir, frameCount, frame.Image, tracked); err != nil {
				p.logger.Printf("annotated frame save failed: %v", err)
			}
		}

		if frameCount%p.opts.LogIntervalFrames == 0 {
			elapsed := p.now().Sub(startedAt).Seconds()
			if elapsed <= 0 {
				elapsed = 1e-6
			}
			p.logger.Printf(
				"frames=%d avg_fps=%.2f detections=%d tracked=%d active_tracks=%d events=%d tx_ok=%d queued=%d camera=%s",
				frameCount, float64(frameCount)/elapsed, len(detections), len(tracked),
				p.tracker.ActiveTracks(), len(events), transmitted, p.client.QueueSize(), p.status.Status(),
			)
		}

		if frameCount%p.opts.DashboardIntervalFrames == 0 {
			p.writeDashboard(frameCount)
		}

		if p.opts.MaxFrames > 0 && frameCount >= p.opts.MaxFrames {
			p.logger.Printf("reached frame limit %d, stopping", p.opts.MaxFrames)
			break
		}
	}

	p.writeDashboard(frameCount)
	return nil
}

func (p *Pipeline) writeDashboard(frameCount int) {
	queued := p.client.QueueSize()
	p.perf.Add(monitor.TotalEventsQueued, int64(queued)-p.perf.Total(monitor.TotalEventsQueued))
	if err := p.perf.WriteDashboard(int64(frameCount), p.status, p.client.IsOnline(), queued); err != nil {
		p.logger.Printf("dashboard write failed: %v", err)
	}
}

// maxTrackAge keeps crossing state long enough to outlive tracker eviction.
func maxTrackAge(trackBuffer int) int {
	if age := trackBuffer * 2; age > 120 {
		return age
	}
	return 120
}

// nopRegulator disables pacing when no target FPS is configured.
type nopRegulator struct{}

func (nopRegulator) Wait() {}

// NewRegulator builds a pacing regulator for the target FPS, or a no-op
// when fps is zero.
func NewRegulator(fps int) Regulator {
	if fps <= 0 {
		return nopRegulator{}
	}
	return source.NewFrameRateRegulator(fps)
}
