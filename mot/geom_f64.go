package mot

import (
	"image"
	"math"
)

// Rectangle is an axis-aligned bounding box in pixels.
// X and Y are coordinates of the top-left corner.
type Rectangle struct {
	X      float64
	Y      float64
	Width  float64
	Height float64
}

// NewRect creates rectangle from top-left corner and size
func NewRect(x, y, width, height float64) Rectangle {
	return Rectangle{
		X:      x,
		Y:      y,
		Width:  width,
		Height: height,
	}
}

// NewRectFromCorners creates rectangle from detector-style corners [x1, y1, x2, y2]
func NewRectFromCorners(x1, y1, x2, y2 float64) Rectangle {
	return Rectangle{
		X:      x1,
		Y:      y1,
		Width:  x2 - x1,
		Height: y2 - y1,
	}
}

// NewRectFrom converts image.Rectangle
func NewRectFrom(rect image.Rectangle) Rectangle {
	return Rectangle{
		X:      float64(rect.Min.X),
		Y:      float64(rect.Min.Y),
		Width:  float64(rect.Dx()),
		Height: float64(rect.Dy()),
	}
}

// Center returns midpoint of the rectangle
func (r Rectangle) Center() Point {
	return Point{
		X: r.X + r.Width/2.0,
		Y: r.Y + r.Height/2.0,
	}
}

// Corners returns [x1, y1, x2, y2]
func (r Rectangle) Corners() [4]float64 {
	return [4]float64{r.X, r.Y, r.X + r.Width, r.Y + r.Height}
}

// Contains reports whether point lies inside the rectangle (borders included)
func (r Rectangle) Contains(p Point) bool {
	return p.X >= r.X && p.X <= r.X+r.Width && p.Y >= r.Y && p.Y <= r.Y+r.Height
}

// Validate checks that rectangle is finite and non-degenerate.
// Returns reason tag usable as metric label, or empty string when rectangle is fine.
func (r Rectangle) Validate() string {
	for _, v := range [4]float64{r.X, r.Y, r.Width, r.Height} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return "non_finite"
		}
	}
	if r.Width <= 0 || r.Height <= 0 {
		return "degenerate"
	}
	return ""
}

// ImageRect clamps rectangle to [0, width) x [0, height) and converts it to image.Rectangle.
// Non-positive width or height disables clamping on that axis.
func (r Rectangle) ImageRect(width, height int) image.Rectangle {
	x1, y1, x2, y2 := int(r.X), int(r.Y), int(r.X+r.Width), int(r.Y+r.Height)
	x1 = maxInt(0, x1)
	y1 = maxInt(0, y1)
	if width > 0 {
		x2 = minInt(width, x2)
	}
	if height > 0 {
		y2 = minInt(height, y2)
	}
	if x2 <= x1 || y2 <= y1 {
		return image.Rectangle{}
	}
	return image.Rectangle{Min: image.Point{X: x1, Y: y1}, Max: image.Point{X: x2, Y: y2}}
}

type Point struct {
	X float64
	Y float64
}

func NewPoint(x, y float64) Point {
	return Point{
		X: x,
		Y: y,
	}
}

func NewPointFrom(point image.Point) Point {
	return Point{
		X: float64(point.X),
		Y: float64(point.Y),
	}
}

func euclideanDistance(p1, p2 Point) float64 {
	return math.Hypot(p1.X-p2.X, p1.Y-p2.Y)
}
