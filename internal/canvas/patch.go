package canvas

// Patch is a partial shape update. Nil fields are left untouched.
type Patch struct {
	X        *float64     `json:"x,omitempty"`
	Y        *float64     `json:"y,omitempty"`
	Width    *float64     `json:"width,omitempty"`
	Height   *float64     `json:"height,omitempty"`
	Rotation *float64     `json:"rotation,omitempty"`
	Stroke   *Stroke      `json:"stroke,omitempty"`
	Fill     *string      `json:"fill,omitempty"`
	Opacity  *float64     `json:"opacity,omitempty"`
	Text     *TextPayload `json:"text,omitempty"`
	Locked   *bool        `json:"locked,omitempty"`
	Hidden   *bool        `json:"hidden,omitempty"`
}

// Float returns a pointer to value, for building patches.
func Float(value float64) *float64 {
	return &value
}

// Bool returns a pointer to value, for building patches.
func Bool(value bool) *bool {
	return &value
}

// String returns a pointer to value, for building patches.
func String(value string) *string {
	return &value
}

// MovePatch positions a shape at x,y.
func MovePatch(x, y float64) Patch {
	return Patch{X: Float(x), Y: Float(y)}
}

// FramePatch sets position and size.
func FramePatch(r Rect) Patch {
	return Patch{X: Float(r.X), Y: Float(r.Y), Width: Float(r.Width), Height: Float(r.Height)}
}

// IsEmpty reports whether the patch changes nothing.
func (p Patch) IsEmpty() bool {
	return p.X == nil && p.Y == nil && p.Width == nil && p.Height == nil && p.Rotation == nil &&
		p.Stroke == nil && p.Fill == nil && p.Opacity == nil && p.Text == nil &&
		p.Locked == nil && p.Hidden == nil
}

// TouchesGeometry reports whether the patch moves, resizes or rotates.
func (p Patch) TouchesGeometry() bool {
	return p.X != nil || p.Y != nil || p.Width != nil || p.Height != nil || p.Rotation != nil
}

// Apply returns a copy of shape with the patch applied.
func (p Patch) Apply(shape Shape) Shape {
	out := shape.Clone()
	if p.X != nil {
		out.X = *p.X
	}
	if p.Y != nil {
		out.Y = *p.Y
	}
	if p.Width != nil {
		out.Width = *p.Width
	}
	if p.Height != nil {
		out.Height = *p.Height
	}
	if p.Rotation != nil {
		out.Rotation = *p.Rotation
	}
	if p.Stroke != nil {
		out.Stroke = *p.Stroke
	}
	if p.Fill != nil {
		out.Fill = *p.Fill
	}
	if p.Opacity != nil {
		out.Opacity = *p.Opacity
	}
	if p.Text != nil {
		text := *p.Text
		out.Text = &text
	}
	if p.Locked != nil {
		out.Locked = *p.Locked
	}
	if p.Hidden != nil {
		out.Hidden = *p.Hidden
	}
	return out
}

// Merge overlays next on top of p; fields set in next win.
func (p Patch) Merge(next Patch) Patch {
	out := p
	if next.X != nil {
		out.X = next.X
	}
	if next.Y != nil {
		out.Y = next.Y
	}
	if next.Width != nil {
		out.Width = next.Width
	}
	if next.Height != nil {
		out.Height = next.Height
	}
	if next.Rotation != nil {
		out.Rotation = next.Rotation
	}
	if next.Stroke != nil {
		out.Stroke = next.Stroke
	}
	if next.Fill != nil {
		out.Fill = next.Fill
	}
	if next.Opacity != nil {
		out.Opacity = next.Opacity
	}
	if next.Text != nil {
		out.Text = next.Text
	}
	if next.Locked != nil {
		out.Locked = next.Locked
	}
	if next.Hidden != nil {
		out.Hidden = next.Hidden
	}
	return out
}
