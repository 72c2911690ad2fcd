package board

import (
	"math"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
)

// MergeRemote folds a peer's durable commit into the store. Shapes with
// pending local commits or taking part in the current gesture are left
// alone; the local flush will meet the server's state instead. It reports
// whether the store changed.
func (s *Store) MergeRemote(kind canvas.CommitKind, shapeID string, shape *canvas.Shape, version int64) bool {
	changed := false
	_ = s.mutate(func() ([]Change, error) {
		if s.gesture.involves(shapeID) {
			return nil, nil
		}
		entry, exists := s.entries[shapeID]
		if exists && entry.Pending() {
			return nil, nil
		}
		if kind == canvas.CommitDeleted {
			if !exists {
				return nil, nil
			}
			s.purgeLocked(shapeID)
			changed = true
			return []Change{{Kind: ChangeRemote, ShapeIDs: []string{shapeID}}, {Kind: ChangeSelection}}, nil
		}
		if shape == nil {
			return nil, nil
		}
		incoming := shape.Clone()
		incoming.Version = version
		if exists {
			if version <= entry.Shape.Version {
				return nil, nil
			}
			entry.Shape = incoming
			entry.OnServer = true
			s.confirmLocked(entry)
			changed = true
			return []Change{{Kind: ChangeRemote, ShapeIDs: []string{shapeID}}}, nil
		}
		s.confirmLocked(s.insertRemoteLocked(incoming))
		changed = true
		return []Change{{Kind: ChangeRemote, ShapeIDs: []string{shapeID}}}, nil
	})
	return changed
}

// Generation returns the store's confirmation counter. Capture it before
// fetching a snapshot and pass it to ReconcileSince.
func (s *Store) Generation() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Reconcile aligns every non-pending shape with a full server snapshot
// known to be current: missing shapes are added, stale ones replaced, and
// shapes the server no longer holds are purged.
func (s *Store) Reconcile(shapes map[string]canvas.Shape) []string {
	return s.ReconcileSince(shapes, math.MaxInt64)
}

// ReconcileSince is Reconcile for a snapshot fetched after the store was
// at generation since. Shapes acknowledged or merged after that point are
// not purged for being absent; the snapshot may predate them. It is used
// for hydration and periodic resync.
func (s *Store) ReconcileSince(shapes map[string]canvas.Shape, since int64) []string {
	var touched []string
	_ = s.mutate(func() ([]Change, error) {
		for id, entry := range s.entries {
			if entry.Pending() || s.gesture.involves(id) {
				continue
			}
			server, ok := shapes[id]
			if !ok {
				if entry.OnServer && entry.confirmedAt <= since {
					s.purgeLocked(id)
					touched = append(touched, id)
				}
				continue
			}
			if server.Version > entry.Shape.Version {
				entry.Shape = server.Clone()
				touched = append(touched, id)
			}
			entry.OnServer = true
		}
		for id, server := range shapes {
			if _, ok := s.entries[id]; ok {
				continue
			}
			s.insertRemoteLocked(server.Clone())
			touched = append(touched, id)
		}
		if len(touched) == 0 {
			return nil, nil
		}
		return []Change{{Kind: ChangeRemote, ShapeIDs: touched}, {Kind: ChangeSelection}}, nil
	})
	return touched
}

func (s *Store) insertRemoteLocked(shape canvas.Shape) *Entry {
	entry := s.insertLocked(shape)
	entry.Status = StatusSynced
	entry.Phase = PhasePristine
	entry.OnServer = true
	return entry
}

func (s *Store) confirmLocked(entry *Entry) {
	s.generation++
	entry.confirmedAt = s.generation
}
