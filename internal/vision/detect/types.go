package detect

import "image"

type Point struct {
	X int `json:"x"`
	Y int `json:"y"`
}

// BBox is an axis-aligned box in pixel coordinates, corners inclusive.
type BBox struct {
	X1 int `json:"x1"`
	Y1 int `json:"y1"`
	X2 int `json:"x2"`
	Y2 int `json:"y2"`
}

func (b BBox) Width() int  { return b.X2 - b.X1 }
func (b BBox) Height() int { return b.Y2 - b.Y1 }
func (b BBox) Area() int   { return b.Width() * b.Height() }

func (b BBox) Centroid() Point {
	return Point{X: (b.X1 + b.X2) / 2, Y: (b.Y1 + b.Y2) / 2}
}

type Detection struct {
	ClassID    int     `json:"class_id"`
	ClassName  string  `json:"class_name"`
	Confidence float64 `json:"confidence"`
	Box        BBox    `json:"box"`
}

func (d Detection) Centroid() Point { return d.Box.Centroid() }

// Detector finds vehicles in a frame. Implementations log and return an
// error on inference failure; callers treat that as an empty result.
type Detector interface {
	Detect(img image.Image) ([]Detection, error)
}

// cocoVehicles maps the COCO class ids this system cares about.
var cocoVehicles = map[int]string{
	2: "car",
	3: "motorcycle",
	5: "bus",
	7: "truck",
}
