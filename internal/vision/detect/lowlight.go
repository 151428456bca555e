package detect

import (
	"image"
	"image/color"
)

// LowLightConfig controls the dark-frame handling: below the brightness
// threshold the confidence bar drops (but never under the minimum), and the
// frame is optionally histogram-equalized before inference.
type LowLightConfig struct {
	BrightnessThreshold float64
	ConfidenceFactor    float64
	MinConfidence       float64
	Enhance             bool
}

// effectiveThreshold lowers the base confidence threshold for dark frames.
func effectiveThreshold(base, brightness float64, cfg LowLightConfig) float64 {
	if brightness >= cfg.BrightnessThreshold {
		return base
	}
	t := base * cfg.ConfidenceFactor
	if t < cfg.MinConfidence {
		t = cfg.MinConfidence
	}
	return t
}

func luma(c color.Color) uint8 {
	r, g, b, _ := c.RGBA()
	// ITU-R BT.601 weights over 8-bit channels.
	y := (299*(r>>8) + 587*(g>>8) + 114*(b>>8)) / 1000
	return uint8(y)
}

// MeanBrightness is the average luma over the frame, 0-255.
func MeanBrightness(img image.Image) float64 {
	bounds := img.Bounds()
	if bounds.Empty() {
		return 0
	}
	var sum uint64
	var count uint64
	for y := bounds.Min.Y; y < bounds.Max.Y; y += 2 {
		for x := bounds.Min.X; x < bounds.Max.X; x += 2 {
			sum += uint64(luma(img.At(x, y)))
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return float64(sum) / float64(count)
}

// EqualizeBrightness spreads the luma histogram across the full range and
// rescales each channel accordingly. Output is a new RGBA image.
func EqualizeBrightness(img image.Image) image.Image {
	bounds := img.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return img
	}

	var hist [256]int
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			hist[luma(img.At(x, y))]++
		}
	}

	var cdf [256]float64
	running := 0
	for i := 0; i < 256; i++ {
		running += hist[i]
		cdf[i] = float64(running) / float64(total)
	}

	out := image.NewRGBA(bounds)
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, a := img.At(x, y).RGBA()
			oldY := luma(img.At(x, y))
			newY := cdf[oldY] * 255.0

			ratio := 1.0
			if oldY > 0 {
				ratio = newY / float64(oldY)
			}
			out.SetRGBA(x, y, color.RGBA{
				R: scaleChannel(r, ratio),
				G: scaleChannel(g, ratio),
				B: scaleChannel(b, ratio),
				A: uint8(a >> 8),
			})
		}
	}
	return out
}

func scaleChannel(v uint32, ratio float64) uint8 {
	scaled := float64(v>>8) * ratio
	if scaled > 255 {
		scaled = 255
	}
	return uint8(scaled)
}
