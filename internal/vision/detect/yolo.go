package detect

import (
	"image"
	"sort"
)

const (
	inputSize   = 640
	numClasses  = 80
	padValue    = float32(114.0 / 255.0)
)

// letterboxParams records how a source frame was fitted into the square
// model input so boxes can be mapped back.
type letterboxParams struct {
	scale float64
	padX  int
	padY  int
	srcW  int
	srcH  int
}

func newLetterbox(srcW, srcH int) letterboxParams {
	scale := float64(inputSize) / float64(srcW)
	if s := float64(inputSize) / float64(srcH); s < scale {
		scale = s
	}
	newW := int(float64(srcW) * scale)
	newH := int(float64(srcH) * scale)
	return letterboxParams{
		scale: scale,
		padX:  (inputSize - newW) / 2,
		padY:  (inputSize - newH) / 2,
		srcW:  srcW,
		srcH:  srcH,
	}
}

// letterboxTensor resamples img into a 1x3x640x640 CHW float tensor,
// gray-padding the borders. Nearest neighbor is plenty for detection input.
func letterboxTensor(img image.Image, lp letterboxParams) []float32 {
	bounds := img.Bounds()
	data := make([]float32, 3*inputSize*inputSize)
	for i := range data {
		data[i] = padValue
	}

	newW := int(float64(lp.srcW) * lp.scale)
	newH := int(float64(lp.srcH) * lp.scale)

	for y := 0; y < newH; y++ {
		srcY := bounds.Min.Y + int(float64(y)/lp.scale)
		for x := 0; x < newW; x++ {
			srcX := bounds.Min.X + int(float64(x)/lp.scale)
			r, g, b, _ := img.At(srcX, srcY).RGBA()

			tx := x + lp.padX
			ty := y + lp.padY
			idx := ty*inputSize + tx
			data[idx] = float32(r>>8) / 255.0
			data[inputSize*inputSize+idx] = float32(g>>8) / 255.0
			data[2*inputSize*inputSize+idx] = float32(b>>8) / 255.0
		}
	}
	return data
}

// decodeDetections parses YOLOv8 output0 (1 x 84 x rows: cx, cy, w, h
// followed by 80 class scores) and keeps target vehicle classes above the
// confidence threshold, mapped back to source pixel coordinates.
func decodeDetections(raw []float32, rows int, lp letterboxParams, threshold float64, targets map[string]bool) []Detection {
	var dets []Detection
	at := func(c, i int) float64 { return float64(raw[c*rows+i]) }

	for i := 0; i < rows; i++ {
		bestClass := -1
		bestScore := 0.0
		for c, name := range cocoVehicles {
			if len(targets) > 0 && !targets[name] {
				continue
			}
			if score := at(4+c, i); score > bestScore {
				bestScore = score
				bestClass = c
			}
		}
		if bestClass < 0 || bestScore < threshold {
			continue
		}

		cx := at(0, i)
		cy := at(1, i)
		w := at(2, i)
		h := at(3, i)

		box := BBox{
			X1: clamp(int((cx-w/2-float64(lp.padX))/lp.scale), 0, lp.srcW-1),
			Y1: clamp(int((cy-h/2-float64(lp.padY))/lp.scale), 0, lp.srcH-1),
			X2: clamp(int((cx+w/2-float64(lp.padX))/lp.scale), 0, lp.srcW-1),
			Y2: clamp(int((cy+h/2-float64(lp.padY))/lp.scale), 0, lp.srcH-1),
		}
		if box.Width() <= 0 || box.Height() <= 0 {
			continue
		}
		dets = append(dets, Detection{
			ClassID:    bestClass,
			ClassName:  cocoVehicles[bestClass],
			Confidence: bestScore,
			Box:        box,
		})
	}
	return dets
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func IoU(a, b BBox) float64 {
	x1 := max(a.X1, b.X1)
	y1 := max(a.Y1, b.Y1)
	x2 := min(a.X2, b.X2)
	y2 := min(a.Y2, b.Y2)
	if x2 <= x1 || y2 <= y1 {
		return 0
	}
	inter := float64((x2 - x1) * (y2 - y1))
	union := float64(a.Area()+b.Area()) - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// nonMaxSuppression keeps the highest-confidence box per overlapping
// cluster, per class.
func nonMaxSuppression(dets []Detection, iouThreshold float64) []Detection {
	sort.Slice(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	var kept []Detection
	suppressed := make([]bool, len(dets))
	for i := range dets {
		if suppressed[i] {
			continue
		}
		kept = append(kept, dets[i])
		for j := i + 1; j < len(dets); j++ {
			if suppressed[j] || dets[j].ClassID != dets[i].ClassID {
				continue
			}
			if IoU(dets[i].Box, dets[j].Box) > iouThreshold {
				suppressed[j] = true
			}
		}
	}
	return kept
}
