package board

import (
	"fmt"
	"reflect"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
)

// GestureKind names the interaction in progress.
type GestureKind string

const (
	GestureNone   GestureKind = ""
	GestureDraw   GestureKind = "draw"
	GestureDrag   GestureKind = "drag"
	GestureResize GestureKind = "resize"
	GesturePan    GestureKind = "pan"
	GestureEdit   GestureKind = "edit"
)

// Handle identifies a resize grip by compass direction.
type Handle string

const (
	HandleN  Handle = "n"
	HandleS  Handle = "s"
	HandleE  Handle = "e"
	HandleW  Handle = "w"
	HandleNE Handle = "ne"
	HandleNW Handle = "nw"
	HandleSE Handle = "se"
	HandleSW Handle = "sw"
)

type gestureState struct {
	kind      GestureKind
	origin    canvas.Point
	ids       []string
	start     map[string]canvas.Shape
	created   map[string]bool
	handle    Handle
	startView canvas.View
}

func (g gestureState) involves(id string) bool {
	if g.kind == GestureNone {
		return false
	}
	_, ok := g.start[id]
	return ok
}

// Gesture returns the kind of the active gesture.
func (s *Store) Gesture() GestureKind {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gesture.kind
}

func (s *Store) beginLocked(kind GestureKind, origin canvas.Point) error {
	if s.gesture.kind != GestureNone {
		return fmt.Errorf("%w: %s", ErrGestureActive, s.gesture.kind)
	}
	s.gesture = gestureState{
		kind:      kind,
		origin:    origin,
		start:     make(map[string]canvas.Shape),
		created:   make(map[string]bool),
		startView: s.view,
	}
	return nil
}

func (s *Store) requireLocked(kind GestureKind) error {
	if s.gesture.kind != kind {
		return fmt.Errorf("%w: want %s, have %q", ErrNoGesture, kind, s.gesture.kind)
	}
	return nil
}

func (s *Store) trackLocked(id string, created bool) {
	s.gesture.ids = append(s.gesture.ids, id)
	s.gesture.start[id] = s.entries[id].Shape.Clone()
	if created {
		s.gesture.created[id] = true
	}
}

// BeginDraw starts drawing a new shape at a document point and returns
// its id. The shape is rendered immediately but not committed.
func (s *Store) BeginDraw(shapeType canvas.ShapeType, at canvas.Point) (string, error) {
	id := s.newID()
	err := s.mutate(func() ([]Change, error) {
		if err := s.beginLocked(GestureDraw, at); err != nil {
			return nil, err
		}
		s.insertLocked(s.defaults.newShape(id, shapeType, at))
		s.trackLocked(id, true)
		return []Change{{Kind: ChangeGesture}, {Kind: ChangeShapes, ShapeIDs: []string{id}}}, nil
	})
	if err != nil {
		return "", err
	}
	return id, nil
}

// DrawTo stretches the shape being drawn to a document point.
func (s *Store) DrawTo(at canvas.Point) error {
	return s.mutate(func() ([]Change, error) {
		if err := s.requireLocked(GestureDraw); err != nil {
			return nil, err
		}
		id := s.gesture.ids[0]
		frame := canvas.RectFromPoints(s.gesture.origin, at)
		if err := s.applyLocked(id, canvas.FramePatch(frame)); err != nil {
			return nil, err
		}
		return []Change{{Kind: ChangeShapes, ShapeIDs: []string{id}}}, nil
	})
}

// EndDraw commits the drawn shape as new and selects it. A shape with no
// area is discarded, except text which takes a default frame; the returned
// id is empty in that case.
func (s *Store) EndDraw() (string, error) {
	var id string
	err := s.mutate(func() ([]Change, error) {
		if err := s.requireLocked(GestureDraw); err != nil {
			return nil, err
		}
		id = s.gesture.ids[0]
		entry := s.entries[id]
		if entry.Shape.Width == 0 && entry.Shape.Height == 0 {
			if entry.Shape.Type != canvas.ShapeText && entry.Shape.Type != canvas.ShapeSticky {
				s.discardCreatedLocked(id)
				s.gesture = gestureState{}
				id = ""
				return []Change{{Kind: ChangeGesture}, {Kind: ChangeShapes}}, nil
			}
			entry.Shape.Width, entry.Shape.Height = defaultTextWidth, defaultTextHeight
		}
		changes := s.finishGestureLocked()
		s.selectLocked([]string{id})
		return append(changes, Change{Kind: ChangeSelection}), nil
	})
	return id, err
}

// BeginDrag starts moving shapes from a document point. With no ids the
// current selection is dragged. With duplicate set, copies are spawned at
// gesture start and the copies are dragged; their ids are returned.
func (s *Store) BeginDrag(at canvas.Point, duplicate bool, ids ...string) ([]string, error) {
	var dragged []string
	err := s.mutate(func() ([]Change, error) {
		if len(ids) == 0 {
			ids = s.selectionLocked()
		}
		movable := make([]string, 0, len(ids))
		for _, id := range ids {
			entry, ok := s.entries[id]
			if !ok || entry.Status == StatusDeleted {
				return nil, fmt.Errorf("%w: %s", ErrShapeNotFound, id)
			}
			if !entry.Shape.Locked || duplicate {
				movable = append(movable, id)
			}
		}
		if len(movable) == 0 {
			return nil, ErrShapeLocked
		}
		if err := s.beginLocked(GestureDrag, at); err != nil {
			return nil, err
		}
		for _, id := range movable {
			if duplicate {
				clone := s.cloneLocked(id)
				s.insertLocked(clone)
				s.trackLocked(clone.ID, true)
				dragged = append(dragged, clone.ID)
				continue
			}
			s.trackLocked(id, false)
			dragged = append(dragged, id)
		}
		if duplicate {
			s.selectLocked(dragged)
		}
		return []Change{{Kind: ChangeGesture}, {Kind: ChangeShapes, ShapeIDs: dragged}, {Kind: ChangeSelection}}, nil
	})
	if err != nil {
		return nil, err
	}
	return dragged, nil
}

// DragTo moves the dragged shapes so they are offset from their starting
// positions by the distance from the gesture origin to at.
func (s *Store) DragTo(at canvas.Point) error {
	return s.mutate(func() ([]Change, error) {
		if err := s.requireLocked(GestureDrag); err != nil {
			return nil, err
		}
		dx, dy := at.X-s.gesture.origin.X, at.Y-s.gesture.origin.Y
		for _, id := range s.gesture.ids {
			start := s.gesture.start[id]
			s.entries[id].Shape = canvas.MovePatch(start.X+dx, start.Y+dy).Apply(s.entries[id].Shape)
		}
		return []Change{{Kind: ChangeShapes, ShapeIDs: append([]string(nil), s.gesture.ids...)}}, nil
	})
}

// EndDrag commits moved shapes as updated and spawned copies as new.
func (s *Store) EndDrag() error {
	return s.mutate(func() ([]Change, error) {
		if err := s.requireLocked(GestureDrag); err != nil {
			return nil, err
		}
		return s.finishGestureLocked(), nil
	})
}

// BeginResize starts resizing one shape by a handle.
func (s *Store) BeginResize(id string, handle Handle, at canvas.Point) error {
	return s.mutate(func() ([]Change, error) {
		entry, ok := s.entries[id]
		if !ok || entry.Status == StatusDeleted {
			return nil, fmt.Errorf("%w: %s", ErrShapeNotFound, id)
		}
		if entry.Shape.Locked {
			return nil, fmt.Errorf("%w: %s", ErrShapeLocked, id)
		}
		if err := s.beginLocked(GestureResize, at); err != nil {
			return nil, err
		}
		s.gesture.handle = handle
		s.trackLocked(id, false)
		return []Change{{Kind: ChangeGesture}}, nil
	})
}

// ResizeTo drags the active handle to a document point. Dragging past
// the opposite edge flips the frame instead of producing a negative size.
func (s *Store) ResizeTo(at canvas.Point) error {
	return s.mutate(func() ([]Change, error) {
		if err := s.requireLocked(GestureResize); err != nil {
			return nil, err
		}
		id := s.gesture.ids[0]
		start := s.gesture.start[id]
		dx, dy := at.X-s.gesture.origin.X, at.Y-s.gesture.origin.Y
		left, top := start.X, start.Y
		right, bottom := start.X+start.Width, start.Y+start.Height
		switch s.gesture.handle {
		case HandleN:
			top += dy
		case HandleS:
			bottom += dy
		case HandleE:
			right += dx
		case HandleW:
			left += dx
		case HandleNE:
			top, right = top+dy, right+dx
		case HandleNW:
			top, left = top+dy, left+dx
		case HandleSE:
			bottom, right = bottom+dy, right+dx
		case HandleSW:
			bottom, left = bottom+dy, left+dx
		}
		frame := canvas.RectFromPoints(canvas.Point{X: left, Y: top}, canvas.Point{X: right, Y: bottom})
		s.entries[id].Shape = canvas.FramePatch(frame).Apply(s.entries[id].Shape)
		return []Change{{Kind: ChangeShapes, ShapeIDs: []string{id}}}, nil
	})
}

// EndResize commits the resized shape.
func (s *Store) EndResize() error {
	return s.mutate(func() ([]Change, error) {
		if err := s.requireLocked(GestureResize); err != nil {
			return nil, err
		}
		return s.finishGestureLocked(), nil
	})
}

// BeginEdit starts a text or property edit on one shape. Intermediate
// changes go through ApplyLocal; EndEdit commits them once.
func (s *Store) BeginEdit(id string) error {
	return s.mutate(func() ([]Change, error) {
		entry, ok := s.entries[id]
		if !ok || entry.Status == StatusDeleted {
			return nil, fmt.Errorf("%w: %s", ErrShapeNotFound, id)
		}
		if err := s.beginLocked(GestureEdit, canvas.Point{}); err != nil {
			return nil, err
		}
		s.trackLocked(id, false)
		return []Change{{Kind: ChangeGesture}}, nil
	})
}

// EndEdit commits the edited shape if it changed.
func (s *Store) EndEdit() error {
	return s.mutate(func() ([]Change, error) {
		if err := s.requireLocked(GestureEdit); err != nil {
			return nil, err
		}
		return s.finishGestureLocked(), nil
	})
}

// BeginPan starts panning from a screen point.
func (s *Store) BeginPan(at canvas.Point) error {
	return s.mutate(func() ([]Change, error) {
		if err := s.beginLocked(GesturePan, at); err != nil {
			return nil, err
		}
		return []Change{{Kind: ChangeGesture}}, nil
	})
}

// PanTo moves the view so the content follows the pointer.
func (s *Store) PanTo(at canvas.Point) error {
	return s.mutate(func() ([]Change, error) {
		if err := s.requireLocked(GesturePan); err != nil {
			return nil, err
		}
		s.view.OffsetX = s.gesture.startView.OffsetX + at.X - s.gesture.origin.X
		s.view.OffsetY = s.gesture.startView.OffsetY + at.Y - s.gesture.origin.Y
		return []Change{{Kind: ChangeView}}, nil
	})
}

// EndPan ends panning. Views are persisted separately from shapes.
func (s *Store) EndPan() error {
	return s.mutate(func() ([]Change, error) {
		if err := s.requireLocked(GesturePan); err != nil {
			return nil, err
		}
		s.gesture = gestureState{}
		return []Change{{Kind: ChangeGesture}, {Kind: ChangeView}}, nil
	})
}

// CancelGesture abandons the active gesture, restoring pre-gesture state
// without committing anything.
func (s *Store) CancelGesture() {
	_ = s.mutate(func() ([]Change, error) {
		if s.gesture.kind == GestureNone {
			return nil, nil
		}
		ids := append([]string(nil), s.gesture.ids...)
		for _, id := range ids {
			if s.gesture.created[id] {
				s.discardCreatedLocked(id)
				continue
			}
			if entry, ok := s.entries[id]; ok {
				entry.Shape = s.gesture.start[id].Clone()
			}
		}
		if s.gesture.kind == GesturePan {
			s.view = s.gesture.startView
		}
		s.gesture = gestureState{}
		return []Change{{Kind: ChangeGesture}, {Kind: ChangeShapes, ShapeIDs: ids}, {Kind: ChangeView}}, nil
	})
}

func (s *Store) discardCreatedLocked(id string) {
	s.purgeLocked(id)
	if s.retired[id] == 0 {
		delete(s.retired, id)
	}
}

// finishGestureLocked commits every shape the gesture created or changed
// and records one history step.
func (s *Store) finishGestureLocked() []Change {
	changes := make([]historyChange, 0, len(s.gesture.ids))
	committed := make([]string, 0, len(s.gesture.ids))
	for _, id := range s.gesture.ids {
		entry, ok := s.entries[id]
		if !ok {
			continue
		}
		if s.gesture.created[id] {
			s.commitLocked(id, canvas.CommitNew)
			changes = append(changes, historyChange{id: id, after: shapePtr(entry.Shape)})
			committed = append(committed, id)
			continue
		}
		before := s.gesture.start[id]
		if reflect.DeepEqual(before, entry.Shape) {
			continue
		}
		s.commitLocked(id, canvas.CommitUpdated)
		changes = append(changes, historyChange{id: id, before: shapePtr(before), after: shapePtr(entry.Shape)})
		committed = append(committed, id)
	}
	s.recordLocked(changes)
	s.gesture = gestureState{}
	return []Change{{Kind: ChangeGesture}, {Kind: ChangeCommit, ShapeIDs: committed}}
}
