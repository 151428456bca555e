package detect

import (
	"fmt"
	"image"
	"log"

	ort "github.com/yalue/onnxruntime_go"
)

type ModelConfig struct {
	ModelPath           string
	LibraryPath         string // onnxruntime shared library, optional
	ConfidenceThreshold float64
	IOUThreshold        float64
	TargetClasses       []string
	LowLight            LowLightConfig
}

// ONNXDetector runs a YOLOv8 vehicle model through onnxruntime.
type ONNXDetector struct {
	cfg     ModelConfig
	session *ort.DynamicAdvancedSession
	targets map[string]bool
	logger  *log.Logger
}

func NewONNXDetector(cfg ModelConfig) (*ONNXDetector, error) {
	if cfg.LibraryPath != "" {
		ort.SetSharedLibraryPath(cfg.LibraryPath)
	}
	if !ort.IsInitialized() {
		if err := ort.InitializeEnvironment(); err != nil {
			return nil, fmt.Errorf("onnxruntime init: %w", err)
		}
	}

	session, err := ort.NewDynamicAdvancedSession(
		cfg.ModelPath,
		[]string{"images"},
		[]string{"output0"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("load model %s: %w", cfg.ModelPath, err)
	}

	targets := make(map[string]bool, len(cfg.TargetClasses))
	for _, name := range cfg.TargetClasses {
		targets[name] = true
	}

	return &ONNXDetector{
		cfg:     cfg,
		session: session,
		targets: targets,
		logger:  log.New(log.Writer(), "[Detect] ", log.LstdFlags),
	}, nil
}

func (d *ONNXDetector) Detect(img image.Image) ([]Detection, error) {
	bounds := img.Bounds()
	brightness := MeanBrightness(img)
	threshold := effectiveThreshold(d.cfg.ConfidenceThreshold, brightness, d.cfg.LowLight)
	if brightness < d.cfg.LowLight.BrightnessThreshold {
		d.logger.Printf("dark frame (brightness %.1f), threshold lowered to %.2f", brightness, threshold)
		if d.cfg.LowLight.Enhance {
			img = EqualizeBrightness(img)
		}
	}

	lp := newLetterbox(bounds.Dx(), bounds.Dy())
	input, err := ort.NewTensor(ort.NewShape(1, 3, inputSize, inputSize), letterboxTensor(img, lp))
	if err != nil {
		return nil, fmt.Errorf("input tensor: %w", err)
	}
	defer input.Destroy()

	outputs := []ort.Value{nil}
	if err := d.session.Run([]ort.Value{input}, outputs); err != nil {
		return nil, fmt.Errorf("inference: %w", err)
	}
	out := outputs[0].(*ort.Tensor[float32])
	defer out.Destroy()

	shape := out.GetShape()
	rows := int(shape[len(shape)-1])

	dets := decodeDetections(out.GetData(), rows, lp, threshold, d.targets)
	return nonMaxSuppression(dets, d.cfg.IOUThreshold), nil
}

// Warmup runs one inference on a blank frame so the first real frame does
// not pay the session setup cost.
func (d *ONNXDetector) Warmup() error {
	blank := image.NewRGBA(image.Rect(0, 0, inputSize, inputSize))
	_, err := d.Detect(blank)
	return err
}

func (d *ONNXDetector) Close() {
	if d.session != nil {
		d.session.Destroy()
	}
}
