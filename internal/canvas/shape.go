// Package canvas holds the shape model and wire formats shared by the
// canvas server and its clients.
package canvas

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// ShapeType enumerates the drawable primitives.
type ShapeType string

const (
	ShapeRect    ShapeType = "rect"
	ShapeEllipse ShapeType = "ellipse"
	ShapeLine    ShapeType = "line"
	ShapeArrow   ShapeType = "arrow"
	ShapeText    ShapeType = "text"
	ShapeSticky  ShapeType = "sticky"
)

// StrokeKind enumerates stroke dash styles.
type StrokeKind string

const (
	StrokeSolid  StrokeKind = "solid"
	StrokeDashed StrokeKind = "dashed"
	StrokeDotted StrokeKind = "dotted"
)

const maxIdentifierLength = 190

var (
	// ErrInvalidShape indicates a shape payload that cannot be stored or rendered.
	ErrInvalidShape = errors.New("canvas: invalid shape")
)

// Stroke describes the outline of a shape.
type Stroke struct {
	Kind  StrokeKind `json:"kind"`
	Color string     `json:"color"`
	Width float64    `json:"width"`
}

// TextPayload carries the optional text of a shape and its typography.
type TextPayload struct {
	Content    string  `json:"content"`
	FontFamily string  `json:"fontFamily,omitempty"`
	FontSize   float64 `json:"fontSize,omitempty"`
	Align      string  `json:"align,omitempty"`
}

// Shape is the durable description of one element on a canvas.
// Version is assigned by the server; clients never increment it.
type Shape struct {
	ID       string       `json:"id"`
	Type     ShapeType    `json:"type"`
	X        float64      `json:"x"`
	Y        float64      `json:"y"`
	Width    float64      `json:"width"`
	Height   float64      `json:"height"`
	Rotation float64      `json:"rotation"`
	Stroke   Stroke       `json:"stroke"`
	Fill     string       `json:"fill,omitempty"`
	Opacity  float64      `json:"opacity"`
	Text     *TextPayload `json:"text,omitempty"`
	Locked   bool         `json:"locked,omitempty"`
	Hidden   bool         `json:"hidden,omitempty"`
	Deleted  bool         `json:"deleted,omitempty"`
	Version  int64        `json:"version"`
}

// Clone returns a deep copy of the shape.
func (s Shape) Clone() Shape {
	clone := s
	if s.Text != nil {
		text := *s.Text
		clone.Text = &text
	}
	return clone
}

// Validate reports whether the shape is structurally sound.
func (s Shape) Validate() error {
	id := strings.TrimSpace(s.ID)
	if id == "" {
		return fmt.Errorf("%w: empty id", ErrInvalidShape)
	}
	if len(id) > maxIdentifierLength {
		return fmt.Errorf("%w: id exceeds %d characters", ErrInvalidShape, maxIdentifierLength)
	}
	switch s.Type {
	case ShapeRect, ShapeEllipse, ShapeLine, ShapeArrow, ShapeText, ShapeSticky:
	default:
		return fmt.Errorf("%w: unknown type %q", ErrInvalidShape, s.Type)
	}
	for _, value := range []float64{s.X, s.Y, s.Width, s.Height, s.Rotation, s.Opacity, s.Stroke.Width} {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return fmt.Errorf("%w: non-finite number", ErrInvalidShape)
		}
	}
	if s.Width < 0 || s.Height < 0 {
		return fmt.Errorf("%w: negative size", ErrInvalidShape)
	}
	if s.Opacity < 0 || s.Opacity > 1 {
		return fmt.Errorf("%w: opacity %v out of range", ErrInvalidShape, s.Opacity)
	}
	return nil
}

// Bounds returns the axis-aligned box enclosing the shape after rotation
// about its center.
func (s Shape) Bounds() Rect {
	box := Rect{X: s.X, Y: s.Y, Width: s.Width, Height: s.Height}
	if math.Mod(s.Rotation, 360) == 0 {
		return box
	}
	center := box.Center()
	radians := s.Rotation * math.Pi / 180
	sin, cos := math.Sincos(radians)
	corners := []Point{
		{X: box.X, Y: box.Y},
		{X: box.X + box.Width, Y: box.Y},
		{X: box.X + box.Width, Y: box.Y + box.Height},
		{X: box.X, Y: box.Y + box.Height},
	}
	minX, minY := math.Inf(1), math.Inf(1)
	maxX, maxY := math.Inf(-1), math.Inf(-1)
	for _, corner := range corners {
		dx, dy := corner.X-center.X, corner.Y-center.Y
		x := center.X + dx*cos - dy*sin
		y := center.Y + dx*sin + dy*cos
		minX, maxX = math.Min(minX, x), math.Max(maxX, x)
		minY, maxY = math.Min(minY, y), math.Max(maxY, y)
	}
	return Rect{X: minX, Y: minY, Width: maxX - minX, Height: maxY - minY}
}
