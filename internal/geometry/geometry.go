// Package geometry provides coordinate conversion between the document's
// native EMU units and slide-relative percentages, plus rectangle math used
// by the coordinate validator.
package geometry

import "math"

// EMU (English Metric Units) are the native coordinate unit of OOXML
// documents: 914400 per inch. Pixel conversion assumes 96 DPI.
const (
	EMUPerInch  = 914400
	EMUPerPixel = 9525
)

// PxFromEMU converts an EMU length to pixels at 96 DPI.
func PxFromEMU(v int64) int {
	return int(v / EMUPerPixel)
}

// Rect is an axis-aligned rectangle. The pipeline uses it both for
// percentage-of-slide geometry and for SVG viewport coordinates; the unit is
// whatever the caller put in.
type Rect struct {
	X float64
	Y float64
	W float64
	H float64
}

// PercentRect converts an EMU-space box to percentages of the slide.
func PercentRect(x, y, cx, cy, slideW, slideH int64) Rect {
	if slideW <= 0 || slideH <= 0 {
		return Rect{}
	}
	return Rect{
		X: float64(x) / float64(slideW) * 100,
		Y: float64(y) / float64(slideH) * 100,
		W: float64(cx) / float64(slideW) * 100,
		H: float64(cy) / float64(slideH) * 100,
	}
}

// IoU returns the intersection-over-union of two rectangles, in [0,1].
func IoU(a, b Rect) float64 {
	ix := math.Max(a.X, b.X)
	iy := math.Max(a.Y, b.Y)
	ix2 := math.Min(a.X+a.W, b.X+b.W)
	iy2 := math.Min(a.Y+a.H, b.Y+b.H)
	if ix2 <= ix || iy2 <= iy {
		return 0
	}
	inter := (ix2 - ix) * (iy2 - iy)
	union := a.W*a.H + b.W*b.H - inter
	if union <= 0 {
		return 0
	}
	return inter / union
}

// Union returns the smallest rectangle covering both inputs.
func (r Rect) Union(o Rect) Rect {
	x := math.Min(r.X, o.X)
	y := math.Min(r.Y, o.Y)
	x2 := math.Max(r.X+r.W, o.X+o.W)
	y2 := math.Max(r.Y+r.H, o.Y+o.H)
	return Rect{X: x, Y: y, W: x2 - x, H: y2 - y}
}

// Contained reports whether the rectangle fits inside [0,100] x [0,100].
func (r Rect) Contained() bool {
	return r.X >= 0 && r.Y >= 0 && r.X+r.W <= 100 && r.Y+r.H <= 100
}

// Clamp returns the rectangle clipped to [0,100] x [0,100] and whether any
// clipping was necessary.
func (r Rect) Clamp() (Rect, bool) {
	c := r
	clipped := false
	if c.X < 0 {
		c.W += c.X
		c.X = 0
		clipped = true
	}
	if c.Y < 0 {
		c.H += c.Y
		c.Y = 0
		clipped = true
	}
	if c.X+c.W > 100 {
		c.W = 100 - c.X
		clipped = true
	}
	if c.Y+c.H > 100 {
		c.H = 100 - c.Y
		clipped = true
	}
	if c.W < 0 {
		c.W = 0
	}
	if c.H < 0 {
		c.H = 0
	}
	return c, clipped
}
