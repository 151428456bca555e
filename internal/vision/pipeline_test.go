package vision

import (
	"context"
	"image"
	"image/color"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smartpark/sp-park/internal/vision/crossing"
	"github.com/smartpark/sp-park/internal/vision/detect"
	"github.com/smartpark/sp-park/internal/vision/monitor"
	"github.com/smartpark/sp-park/internal/vision/source"
	"github.com/smartpark/sp-park/internal/vision/track"
)

type scriptedReader struct {
	frames []*source.Frame
	errs   []error
	n      int
	closed bool
}

func (r *scriptedReader) Read() (*source.Frame, error) {
	if r.n >= len(r.frames) {
		return nil, source.ErrEndOfStream
	}
	f, err := r.frames[r.n], r.errs[r.n]
	r.n++
	if err != nil {
		return nil, err
	}
	return f, nil
}

func (r *scriptedReader) Close() error {
	r.closed = true
	return nil
}

// scriptedDetector returns one fixed detection set per frame.
type scriptedDetector struct {
	perFrame [][]detect.Detection
	n        int
}

func (d *scriptedDetector) Detect(image.Image) ([]detect.Detection, error) {
	if d.n >= len(d.perFrame) {
		return nil, nil
	}
	dets := d.perFrame[d.n]
	d.n++
	return dets, nil
}

type fakeClient struct {
	processed   []crossing.Event
	accept      bool
	flushCalls  int
	healthCalls int
	queued      int
}

func (c *fakeClient) ProcessEvent(ev crossing.Event) bool {
	c.processed = append(c.processed, ev)
	if !c.accept {
		c.queued++
	}
	return c.accept
}
func (c *fakeClient) FlushQueued(max int) (int, int) { c.flushCalls++; return 0, 0 }
func (c *fakeClient) HealthCheck() bool              { c.healthCalls++; return true }
func (c *fakeClient) QueueSize() int                 { return c.queued }
func (c *fakeClient) IsOnline() bool                 { return c.accept }

func testFrame() *source.Frame {
	img := image.NewRGBA(image.Rect(0, 0, 1280, 720))
	return &source.Frame{Image: img, ReadAt: time.Date(2026, 8, 24, 12, 0, 0, 0, time.UTC)}
}

func carAt(cy int) detect.Detection {
	return detect.Detection{
		ClassID: 2, ClassName: "car", Confidence: 0.9,
		Box: detect.BBox{X1: 590, Y1: cy - 50, X2: 690, Y2: cy + 50},
	}
}

func newTestPipeline(reader FrameReader, det detect.Detector, client EventClient, dir string, opts Options) *Pipeline {
	tracker := track.New(track.NewIOUBackend(0.2, 30), 30)
	engine := crossing.NewEngine(crossing.Config{
		LineStart: detect.Point{X: 0, Y: 360},
		LineEnd:   detect.Point{X: 1280, Y: 360},
		CameraID:  "cam_001",
		FloorID:   1,
	})
	status := monitor.NewCameraStatus("cam_001", "test.mp4")
	perf, _ := monitor.NewPerformanceMonitor(filepath.Join(dir, "dash.json"))
	return NewPipeline(reader, NewRegulator(0), det, tracker, engine, client, status, perf, opts)
}

func TestPipelineDetectsAndTransmitsCrossing(t *testing.T) {
	dir := t.TempDir()
	// The car moves from above the line to below it across two frames.
	reader := &scriptedReader{
		frames: []*source.Frame{testFrame(), testFrame()},
		errs:   []error{nil, nil},
	}
	det := &scriptedDetector{perFrame: [][]detect.Detection{
		{carAt(330)},
		{carAt(390)},
	}}
	client := &fakeClient{accept: true}

	p := newTestPipeline(reader, det, client, dir, Options{SourceType: source.TypeFile})
	require.NoError(t, p.Run(context.Background()))

	require.Len(t, client.processed, 1)
	ev := client.processed[0]
	assert.Equal(t, "exit", ev.Direction)
	assert.Equal(t, "cam_001", ev.CameraID)
	assert.Equal(t, int64(1), ev.FloorID)
	assert.True(t, reader.closed)

	assert.Equal(t, int64(2), p.perf.Total(monitor.TotalFrames))
	assert.Equal(t, int64(2), p.perf.Total(monitor.TotalDetections))
	assert.Equal(t, int64(1), p.perf.Total(monitor.TotalEventsGenerated))
	assert.Equal(t, int64(1), p.perf.Total(monitor.TotalEventsTransmitted))

	// Final dashboard write happens even without hitting the interval.
	_, err := os.Stat(filepath.Join(dir, "dash.json"))
	assert.NoError(t, err)
}

func TestPipelineStopsAtMaxFrames(t *testing.T) {
	frames := make([]*source.Frame, 10)
	errs := make([]error, 10)
	for i := range frames {
		frames[i] = testFrame()
	}
	reader := &scriptedReader{frames: frames, errs: errs}
	det := &scriptedDetector{}
	client := &fakeClient{accept: true}

	p := newTestPipeline(reader, det, client, t.TempDir(), Options{
		SourceType: source.TypeFile,
		MaxFrames:  3,
	})
	require.NoError(t, p.Run(context.Background()))
	assert.Equal(t, int64(3), p.perf.Total(monitor.TotalFrames))
}

func TestPipelinePeriodicFlushAndHealthCheck(t *testing.T) {
	frames := make([]*source.Frame, 6)
	errs := make([]error, 6)
	for i := range frames {
		frames[i] = testFrame()
	}
	reader := &scriptedReader{frames: frames, errs: errs}
	client := &fakeClient{accept: true}

	p := newTestPipeline(reader, &scriptedDetector{}, client, t.TempDir(), Options{
		SourceType:                source.TypeFile,
		FlushIntervalFrames:       2,
		HealthCheckIntervalFrames: 3,
	})
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, 3, client.flushCalls, "every 2 frames over 6 frames")
	assert.Equal(t, 2, client.healthCalls, "every 3 frames over 6 frames")
}

func TestPipelineFileReadErrorStopsLoop(t *testing.T) {
	reader := &scriptedReader{
		frames: []*source.Frame{testFrame(), nil, testFrame()},
		errs:   []error{nil, assert.AnError, nil},
	}
	client := &fakeClient{accept: true}

	p := newTestPipeline(reader, &scriptedDetector{}, client, t.TempDir(), Options{
		SourceType: source.TypeFile,
	})
	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, int64(1), p.perf.Total(monitor.TotalFrames))
	assert.Equal(t, monitor.StatusDegraded, p.status.Status())
}

// failingDetector succeeds once, then errors on every later frame.
type failingDetector struct {
	first []detect.Detection
	n     int
}

func (d *failingDetector) Detect(image.Image) ([]detect.Detection, error) {
	d.n++
	if d.n == 1 {
		return d.first, nil
	}
	return nil, assert.AnError
}

func TestPipelineDetectorErrorStillAgesTracks(t *testing.T) {
	frames := make([]*source.Frame, 5)
	errs := make([]error, 5)
	for i := range frames {
		frames[i] = testFrame()
	}
	reader := &scriptedReader{frames: frames, errs: errs}
	det := &failingDetector{first: []detect.Detection{carAt(330)}}
	client := &fakeClient{accept: true}

	dir := t.TempDir()
	tracker := track.New(track.NewIOUBackend(0.2, 2), 2)
	engine := crossing.NewEngine(crossing.Config{
		LineStart: detect.Point{X: 0, Y: 360},
		LineEnd:   detect.Point{X: 1280, Y: 360},
		CameraID:  "cam_001",
		FloorID:   1,
	})
	status := monitor.NewCameraStatus("cam_001", "test.mp4")
	perf, _ := monitor.NewPerformanceMonitor(filepath.Join(dir, "dash.json"))
	p := NewPipeline(reader, NewRegulator(0), det, tracker, engine, client, status, perf, Options{
		SourceType:          source.TypeFile,
		FlushIntervalFrames: 2,
		TrackBuffer:         2,
	})

	require.NoError(t, p.Run(context.Background()))

	assert.Equal(t, int64(5), p.perf.Total(monitor.TotalFrames), "failed detections still count the frame")
	assert.Equal(t, 0, tracker.ActiveTracks(), "misses accumulate through detector errors")
	assert.Equal(t, 2, client.flushCalls, "periodic flush keeps firing")
}

func TestPipelineContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	reader := &scriptedReader{frames: []*source.Frame{testFrame()}, errs: []error{nil}}
	p := newTestPipeline(reader, &scriptedDetector{}, &fakeClient{}, t.TempDir(), Options{})

	err := p.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, reader.closed)
}

func TestPipelineSavesAnnotatedFrames(t *testing.T) {
	dir := t.TempDir()
	framesDir := filepath.Join(dir, "frames")

	reader := &scriptedReader{
		frames: []*source.Frame{testFrame()},
		errs:   []error{nil},
	}
	det := &scriptedDetector{perFrame: [][]detect.Detection{{carAt(330)}}}

	p := newTestPipeline(reader, det, &fakeClient{accept: true}, dir, Options{
		SourceType:     source.TypeFile,
		SaveFrames:     true,
		FrameOutputDir: framesDir,
	})
	require.NoError(t, p.Run(context.Background()))

	_, err := os.Stat(filepath.Join(framesDir, "frame_000001.jpg"))
	assert.NoError(t, err)
}

func TestDrawRectStaysInsideBounds(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 10, 10))
	drawRect(img, -5, -5, 20, 20)
	assert.Equal(t, color.RGBA{}, img.RGBAAt(5, 5), "interior untouched")
}
