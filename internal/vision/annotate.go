package vision

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"os"
	"path/filepath"

	"github.com/smartpark/sp-park/internal/vision/track"
)

var boxColor = color.RGBA{R: 0, G: 200, B: 0, A: 255}

// saveAnnotatedFrame writes the frame with tracked boxes drawn on it to
// frameDir/frame_%06d.jpg.
func saveAnnotatedFrame(frameDir string, frameCount int, src image.Image, tracked []track.TrackedObject) error {
	if err := os.MkdirAll(frameDir, 0o755); err != nil {
		return err
	}

	annotated := image.NewRGBA(src.Bounds())
	draw.Draw(annotated, annotated.Bounds(), src, src.Bounds().Min, draw.Src)
	for _, obj := range tracked {
		drawRect(annotated, obj.Box.X1, obj.Box.Y1, obj.Box.X2, obj.Box.Y2)
	}

	path := filepath.Join(frameDir, fmt.Sprintf("frame_%06d.jpg", frameCount))
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return jpeg.Encode(f, annotated, &jpeg.Options{Quality: 85})
}

func drawRect(img *image.RGBA, x1, y1, x2, y2 int) {
	for x := x1; x <= x2; x++ {
		setIfInside(img, x, y1)
		setIfInside(img, x, y2)
	}
	for y := y1; y <= y2; y++ {
		setIfInside(img, x1, y)
		setIfInside(img, x2, y)
	}
}

func setIfInside(img *image.RGBA, x, y int) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, boxColor)
	}
}
