package board

import "github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"

// historyChange holds the images of one shape around an action. A nil
// before means the action created the shape; a nil after means it deleted it.
type historyChange struct {
	id     string
	before *canvas.Shape
	after  *canvas.Shape
}

type history struct {
	undo  [][]historyChange
	redo  [][]historyChange
	limit int
}

func (s *Store) recordLocked(changes []historyChange) {
	if s.replaying || len(changes) == 0 {
		return
	}
	s.history.undo = append(s.history.undo, changes)
	if overflow := len(s.history.undo) - s.history.limit; overflow > 0 {
		s.history.undo = s.history.undo[overflow:]
	}
	s.history.redo = nil
}

// CanUndo reports whether an action can be undone.
func (s *Store) CanUndo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history.undo) > 0 && s.gesture.kind == GestureNone
}

// CanRedo reports whether an undone action can be replayed.
func (s *Store) CanRedo() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history.redo) > 0 && s.gesture.kind == GestureNone
}

// Undo reverts the most recent action by committing the shapes' previous
// images. It reports whether anything was undone.
func (s *Store) Undo() bool {
	done := false
	_ = s.mutate(func() ([]Change, error) {
		if len(s.history.undo) == 0 || s.gesture.kind != GestureNone {
			return nil, nil
		}
		last := len(s.history.undo) - 1
		step := s.history.undo[last]
		s.history.undo = s.history.undo[:last]
		ids := s.replayLocked(step, false)
		s.history.redo = append(s.history.redo, step)
		done = true
		return []Change{{Kind: ChangeCommit, ShapeIDs: ids}, {Kind: ChangeSelection}}, nil
	})
	return done
}

// Redo replays the most recently undone action.
func (s *Store) Redo() bool {
	done := false
	_ = s.mutate(func() ([]Change, error) {
		if len(s.history.redo) == 0 || s.gesture.kind != GestureNone {
			return nil, nil
		}
		last := len(s.history.redo) - 1
		step := s.history.redo[last]
		s.history.redo = s.history.redo[:last]
		ids := s.replayLocked(step, true)
		s.history.undo = append(s.history.undo, step)
		done = true
		return []Change{{Kind: ChangeCommit, ShapeIDs: ids}, {Kind: ChangeSelection}}, nil
	})
	return done
}

func (s *Store) replayLocked(step []historyChange, forward bool) []string {
	s.replaying = true
	defer func() { s.replaying = false }()
	ids := make([]string, 0, len(step))
	for index := range step {
		change := step[index]
		image := change.before
		if forward {
			image = change.after
		} else {
			change = step[len(step)-1-index]
			image = change.before
		}
		if s.restoreLocked(change.id, image) {
			ids = append(ids, change.id)
		}
	}
	return ids
}

// restoreLocked makes the shape match image (nil meaning absent) and
// commits the difference.
func (s *Store) restoreLocked(id string, image *canvas.Shape) bool {
	entry, exists := s.entries[id]
	if image == nil {
		if !exists || entry.Status == StatusDeleted {
			return false
		}
		s.commitLocked(id, canvas.CommitDeleted)
		return true
	}
	if !exists {
		s.insertLocked(image.Clone())
		s.commitLocked(id, canvas.CommitNew)
		return true
	}
	restored := image.Clone()
	restored.Version = entry.Shape.Version
	restored.Deleted = false
	wasDeleted := entry.Status == StatusDeleted
	entry.Shape = restored
	if wasDeleted && (!entry.OnServer || entry.InFlightVersion > 0) {
		s.commitLocked(id, canvas.CommitNew)
		return true
	}
	s.commitLocked(id, canvas.CommitUpdated)
	return true
}
