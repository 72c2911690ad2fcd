package board

import (
	"sort"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
)

// Selection returns the selected shape ids, sorted.
func (s *Store) Selection() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.selectionLocked()
}

func (s *Store) selectionLocked() []string {
	ids := make([]string, 0, len(s.selection))
	for id := range s.selection {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Select replaces the selection. Unknown and deleted ids are ignored.
func (s *Store) Select(ids ...string) {
	_ = s.mutate(func() ([]Change, error) {
		s.selectLocked(ids)
		return []Change{{Kind: ChangeSelection, ShapeIDs: s.selectionLocked()}}, nil
	})
}

// Toggle adds or removes one shape from the selection.
func (s *Store) Toggle(id string) {
	_ = s.mutate(func() ([]Change, error) {
		if _, selected := s.selection[id]; selected {
			delete(s.selection, id)
		} else if s.selectable(id) {
			s.selection[id] = struct{}{}
		}
		return []Change{{Kind: ChangeSelection, ShapeIDs: s.selectionLocked()}}, nil
	})
}

// SelectAll selects every visible shape.
func (s *Store) SelectAll() {
	_ = s.mutate(func() ([]Change, error) {
		s.selectLocked(s.order)
		return []Change{{Kind: ChangeSelection, ShapeIDs: s.selectionLocked()}}, nil
	})
}

// ClearSelection empties the selection.
func (s *Store) ClearSelection() {
	_ = s.mutate(func() ([]Change, error) {
		s.selection = make(map[string]struct{})
		return []Change{{Kind: ChangeSelection}}, nil
	})
}

func (s *Store) selectLocked(ids []string) {
	s.selection = make(map[string]struct{}, len(ids))
	for _, id := range ids {
		if s.selectable(id) {
			s.selection[id] = struct{}{}
		}
	}
}

func (s *Store) selectable(id string) bool {
	entry, ok := s.entries[id]
	return ok && entry.Status != StatusDeleted && !entry.Shape.Hidden
}

// View returns the current view transform.
func (s *Store) View() canvas.View {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.view
}

// SetView replaces the view transform.
func (s *Store) SetView(view canvas.View) error {
	if err := view.Validate(); err != nil {
		return err
	}
	return s.mutate(func() ([]Change, error) {
		s.view = view
		return []Change{{Kind: ChangeView}}, nil
	})
}

// Zoom scales the view by factor while keeping the document point under
// the screen point anchor fixed.
func (s *Store) Zoom(factor float64, anchor canvas.Point) error {
	return s.mutate(func() ([]Change, error) {
		next := s.view
		next.Scale = s.view.Scale * factor
		if err := next.Validate(); err != nil {
			return nil, err
		}
		document := s.view.ToDocument(anchor)
		next.OffsetX = anchor.X - document.X*next.Scale
		next.OffsetY = anchor.Y - document.Y*next.Scale
		s.view = next
		return []Change{{Kind: ChangeView}}, nil
	})
}

// Defaults returns the current tool defaults.
func (s *Store) Defaults() ToolDefaults {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.defaults
}

// SetDefaults replaces the tool defaults used for new shapes.
func (s *Store) SetDefaults(defaults ToolDefaults) {
	s.mu.Lock()
	s.defaults = defaults
	s.mu.Unlock()
}
