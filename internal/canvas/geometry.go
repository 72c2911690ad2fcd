package canvas

import (
	"errors"
	"math"
)

// ErrInvalidView indicates a view transform with a non-positive or non-finite scale.
var ErrInvalidView = errors.New("canvas: invalid view")

// Point is a position, either in document or in screen coordinates.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Rect is an axis-aligned rectangle.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// RectFromPoints normalises two corner points into a rectangle with
// non-negative size.
func RectFromPoints(a, b Point) Rect {
	return Rect{
		X:      math.Min(a.X, b.X),
		Y:      math.Min(a.Y, b.Y),
		Width:  math.Abs(b.X - a.X),
		Height: math.Abs(b.Y - a.Y),
	}
}

// Center returns the rectangle center.
func (r Rect) Center() Point {
	return Point{X: r.X + r.Width/2, Y: r.Y + r.Height/2}
}

// Union returns the smallest rectangle covering both rectangles.
func (r Rect) Union(other Rect) Rect {
	minX := math.Min(r.X, other.X)
	minY := math.Min(r.Y, other.Y)
	maxX := math.Max(r.X+r.Width, other.X+other.Width)
	maxY := math.Max(r.Y+r.Height, other.Y+other.Height)
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}

// View is a per-user pan/zoom transform. Screen = document*scale + offset.
type View struct {
	Scale   float64 `json:"scale"`
	OffsetX float64 `json:"offsetX"`
	OffsetY float64 `json:"offsetY"`
}

// DefaultView returns the identity transform.
func DefaultView() View {
	return View{Scale: 1}
}

// Validate reports whether the view can be used for projection.
func (v View) Validate() error {
	if v.Scale <= 0 || math.IsNaN(v.Scale) || math.IsInf(v.Scale, 0) {
		return ErrInvalidView
	}
	if math.IsNaN(v.OffsetX) || math.IsInf(v.OffsetX, 0) || math.IsNaN(v.OffsetY) || math.IsInf(v.OffsetY, 0) {
		return ErrInvalidView
	}
	return nil
}

// ToScreen projects a document point into this view's screen space.
func (v View) ToScreen(p Point) Point {
	return Point{X: p.X*v.Scale + v.OffsetX, Y: p.Y*v.Scale + v.OffsetY}
}

// ToDocument maps a screen point back into document coordinates.
func (v View) ToDocument(p Point) Point {
	scale := v.Scale
	if scale == 0 {
		scale = 1
	}
	return Point{X: (p.X - v.OffsetX) / scale, Y: (p.Y - v.OffsetY) / scale}
}

// RectToScreen projects a document rectangle into screen space.
func (v View) RectToScreen(r Rect) Rect {
	origin := v.ToScreen(Point{X: r.X, Y: r.Y})
	return Rect{X: origin.X, Y: origin.Y, Width: r.Width * v.Scale, Height: r.Height * v.Scale}
}
