package board

import "github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"

const (
	defaultTextWidth  = 160
	defaultTextHeight = 32
	defaultHistory    = 100
)

// ToolDefaults is the style applied to newly drawn shapes.
type ToolDefaults struct {
	Stroke  canvas.Stroke
	Fill    string
	Opacity float64
	Text    canvas.TextPayload
}

// DefaultToolDefaults returns the stock drawing style.
func DefaultToolDefaults() ToolDefaults {
	return ToolDefaults{
		Stroke:  canvas.Stroke{Kind: canvas.StrokeSolid, Color: "#1f2937", Width: 2},
		Fill:    "transparent",
		Opacity: 1,
		Text:    canvas.TextPayload{FontFamily: "Inter", FontSize: 16, Align: "left"},
	}
}

func (d ToolDefaults) newShape(id string, shapeType canvas.ShapeType, at canvas.Point) canvas.Shape {
	shape := canvas.Shape{
		ID:      id,
		Type:    shapeType,
		X:       at.X,
		Y:       at.Y,
		Stroke:  d.Stroke,
		Fill:    d.Fill,
		Opacity: d.Opacity,
	}
	if shapeType == canvas.ShapeText || shapeType == canvas.ShapeSticky {
		text := d.Text
		shape.Text = &text
	}
	return shape
}
