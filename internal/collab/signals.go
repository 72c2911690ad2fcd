package collab

import (
	"sort"
	"sync"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
)

// Cursors keeps the last known document position of every remote cursor.
type Cursors struct {
	mu     sync.RWMutex
	points map[string]canvas.Point
}

// NewCursors returns an empty cursor set.
func NewCursors() *Cursors {
	return &Cursors{points: make(map[string]canvas.Point)}
}

// Move records a position; the latest value wins.
func (c *Cursors) Move(userID string, point canvas.Point) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.points[userID] = point
}

// Remove drops a user's cursor.
func (c *Cursors) Remove(userID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.points, userID)
}

// Document returns a cursor in document coordinates.
func (c *Cursors) Document(userID string) (canvas.Point, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	point, ok := c.points[userID]
	return point, ok
}

// Project returns every cursor in the viewer's screen space.
func (c *Cursors) Project(view canvas.View) map[string]canvas.Point {
	c.mu.RLock()
	defer c.mu.RUnlock()
	projected := make(map[string]canvas.Point, len(c.points))
	for userID, point := range c.points {
		projected[userID] = view.ToScreen(point)
	}
	return projected
}

// Selections keeps the shape ids each remote user has selected.
type Selections struct {
	mu       sync.RWMutex
	selected map[string][]string
}

// NewSelections returns an empty selection set.
func NewSelections() *Selections {
	return &Selections{selected: make(map[string][]string)}
}

// Update replaces a user's selection. An empty list clears it.
func (s *Selections) Update(userID string, shapeIDs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(shapeIDs) == 0 {
		delete(s.selected, userID)
		return
	}
	s.selected[userID] = append([]string(nil), shapeIDs...)
}

// Clear drops a user's selection.
func (s *Selections) Clear(userID string) {
	s.Update(userID, nil)
}

// Of returns a user's selected ids.
func (s *Selections) Of(userID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]string(nil), s.selected[userID]...)
}

// Users lists users with a non-empty selection.
func (s *Selections) Users() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]string, 0, len(s.selected))
	for userID := range s.selected {
		users = append(users, userID)
	}
	sort.Strings(users)
	return users
}

// Bounds is the box enclosing a user's selected shapes, computed from the
// shapes' current geometry so it follows later moves. Ids the lookup does
// not know are skipped; ok is false when nothing is left.
func (s *Selections) Bounds(userID string, lookup func(id string) (canvas.Shape, bool)) (canvas.Rect, bool) {
	var (
		bounds canvas.Rect
		found  bool
	)
	for _, id := range s.Of(userID) {
		shape, ok := lookup(id)
		if !ok || shape.Hidden {
			continue
		}
		if !found {
			bounds = shape.Bounds()
			found = true
			continue
		}
		bounds = bounds.Union(shape.Bounds())
	}
	return bounds, found
}

type preview struct {
	userID string
	patch  canvas.Patch
}

// Previews holds patches peers are applying mid-gesture. They change what
// is drawn, never the store, and are discarded when the durable commit
// for the shape arrives.
type Previews struct {
	mu      sync.RWMutex
	byShape map[string]preview
}

// NewPreviews returns an empty preview set.
func NewPreviews() *Previews {
	return &Previews{byShape: make(map[string]preview)}
}

// Apply merges a patch into the shape's preview. A preview from a
// different user replaces the previous one.
func (p *Previews) Apply(userID, shapeID string, patch canvas.Patch) {
	p.mu.Lock()
	defer p.mu.Unlock()
	current, ok := p.byShape[shapeID]
	if ok && current.userID == userID {
		patch = current.patch.Merge(patch)
	}
	p.byShape[shapeID] = preview{userID: userID, patch: patch}
}

// Discard drops the preview of a shape.
func (p *Previews) Discard(shapeID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.byShape, shapeID)
}

// DiscardUser drops every preview a user owns.
func (p *Previews) DiscardUser(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for shapeID, current := range p.byShape {
		if current.userID == userID {
			delete(p.byShape, shapeID)
		}
	}
}

// Has reports whether a shape has a preview.
func (p *Previews) Has(shapeID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.byShape[shapeID]
	return ok
}

// Render returns shape with its preview applied, if any.
func (p *Previews) Render(shape canvas.Shape) canvas.Shape {
	p.mu.RLock()
	defer p.mu.RUnlock()
	current, ok := p.byShape[shape.ID]
	if !ok {
		return shape
	}
	return current.patch.Apply(shape)
}
