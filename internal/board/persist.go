package board

import "github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"

// BeginFlush marks the listed commit versions as in flight.
func (s *Store) BeginFlush(operations []canvas.AppliedOperation) {
	_ = s.mutate(func() ([]Change, error) {
		ids := make([]string, 0, len(operations))
		for _, operation := range operations {
			entry, ok := s.entries[operation.ShapeID]
			if !ok {
				continue
			}
			entry.beginFlush(operation.CommitVersion)
			ids = append(ids, operation.ShapeID)
		}
		return []Change{{Kind: ChangePersist, ShapeIDs: ids}}, nil
	})
}

// Acknowledge records server-confirmed commit versions. Shapes whose
// delete was acknowledged are purged; their ids are returned.
func (s *Store) Acknowledge(applied []canvas.AppliedOperation) []string {
	var purged []string
	_ = s.mutate(func() ([]Change, error) {
		ids := make([]string, 0, len(applied))
		for _, ack := range applied {
			entry, ok := s.entries[ack.ShapeID]
			if !ok {
				continue
			}
			synced := entry.acknowledge(ack.CommitVersion)
			s.confirmLocked(entry)
			if synced && entry.Status == StatusDeleted {
				s.purgeLocked(ack.ShapeID)
				purged = append(purged, ack.ShapeID)
			}
			ids = append(ids, ack.ShapeID)
		}
		return []Change{{Kind: ChangePersist, ShapeIDs: ids}}, nil
	})
	return purged
}

// FailFlush returns in-flight shapes to dirty after a failed request.
func (s *Store) FailFlush(ids []string) {
	_ = s.mutate(func() ([]Change, error) {
		for _, id := range ids {
			entry, ok := s.entries[id]
			if !ok {
				continue
			}
			entry.failFlush()
			if entry.Status == StatusDeleted && !entry.OnServer {
				s.purgeLocked(id)
			}
		}
		return []Change{{Kind: ChangePersist, ShapeIDs: ids}}, nil
	})
}

// ForceResync replaces a shape whose operation the server rejected with
// the server's copy, abandoning the local commits up to rejectedVersion.
// A nil server shape means the server has no live row and the shape is
// purged locally.
func (s *Store) ForceResync(id string, rejectedVersion int64, server *canvas.Shape) {
	_ = s.mutate(func() ([]Change, error) {
		entry, ok := s.entries[id]
		if !ok {
			return nil, nil
		}
		if entry.CommitVersion > rejectedVersion {
			// A newer local commit is already queued; let it meet the server.
			entry.InFlightVersion = 0
			return nil, nil
		}
		if server == nil {
			s.purgeLocked(id)
			return []Change{{Kind: ChangeRemote, ShapeIDs: []string{id}}, {Kind: ChangePersist, ShapeIDs: []string{id}}}, nil
		}
		entry.Shape = server.Clone()
		entry.LastPersistedVersion = entry.CommitVersion
		entry.InFlightVersion = 0
		entry.Status = StatusSynced
		entry.Phase = PhaseAcknowledged
		entry.OnServer = true
		s.confirmLocked(entry)
		return []Change{{Kind: ChangeRemote, ShapeIDs: []string{id}}, {Kind: ChangePersist, ShapeIDs: []string{id}}}, nil
	})
}
