package board

import "github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"

// PersistStatus describes a shape's relationship to the durable store.
type PersistStatus string

const (
	StatusNew     PersistStatus = "new"
	StatusUpdated PersistStatus = "updated"
	StatusDeleted PersistStatus = "deleted"
	StatusSynced  PersistStatus = "synced"
)

// Phase is the position of a shape in the persistence state machine.
//
//	pristine|acknowledged --commit--> dirty
//	dirty --begin flush--> inFlight
//	inFlight --ack(commitVersion)--> acknowledged
//	inFlight --ack(older)|fail--> dirty
type Phase int

const (
	PhasePristine Phase = iota
	PhaseDirty
	PhaseInFlight
	PhaseAcknowledged
)

func (p Phase) String() string {
	switch p {
	case PhaseDirty:
		return "dirty"
	case PhaseInFlight:
		return "in_flight"
	case PhaseAcknowledged:
		return "acknowledged"
	default:
		return "pristine"
	}
}

// Entry is the client-side record of a shape: the rendered copy plus its
// version tracking.
type Entry struct {
	Shape                canvas.Shape
	CommitVersion        int64
	LastPersistedVersion int64
	InFlightVersion      int64
	Status               PersistStatus
	Phase                Phase
	// OnServer is true once the durable store is known to hold a live row.
	OnServer bool
	// confirmedAt is the store generation of the last server confirmation.
	confirmedAt int64
}

// Dirty reports whether the entry has commits the server has not acknowledged.
func (e Entry) Dirty() bool {
	return e.CommitVersion > e.LastPersistedVersion
}

// Pending reports whether local state may be ahead of the server.
func (e Entry) Pending() bool {
	return e.Dirty() || e.InFlightVersion > 0
}

// Kind returns the commit kind the next flush must send for this entry.
func (e Entry) Kind() canvas.CommitKind {
	switch e.Status {
	case StatusDeleted:
		return canvas.CommitDeleted
	case StatusNew:
		if e.OnServer {
			return canvas.CommitUpdated
		}
		return canvas.CommitNew
	default:
		if !e.OnServer {
			return canvas.CommitNew
		}
		return canvas.CommitUpdated
	}
}

func (e *Entry) commit(kind canvas.CommitKind) {
	e.CommitVersion++
	switch kind {
	case canvas.CommitNew:
		e.Status = StatusNew
	case canvas.CommitDeleted:
		e.Status = StatusDeleted
	default:
		if e.OnServer {
			e.Status = StatusUpdated
		} else {
			e.Status = StatusNew
		}
	}
	e.Phase = PhaseDirty
}

func (e *Entry) beginFlush(version int64) {
	e.InFlightVersion = version
	e.Phase = PhaseInFlight
}

// acknowledge records a durable commit version and reports whether the
// entry is now fully synced.
func (e *Entry) acknowledge(version int64) bool {
	if version > e.CommitVersion {
		version = e.CommitVersion
	}
	if version > e.LastPersistedVersion {
		e.LastPersistedVersion = version
	}
	if e.InFlightVersion <= version {
		e.InFlightVersion = 0
	}
	// An acknowledged version older than a pending delete was a create or update.
	if e.Status != StatusDeleted || version < e.CommitVersion {
		e.OnServer = true
	}
	if e.Dirty() {
		e.Phase = PhaseDirty
		if e.Status == StatusNew {
			e.Status = StatusUpdated
		}
		return false
	}
	e.Phase = PhaseAcknowledged
	if e.Status != StatusDeleted {
		e.Status = StatusSynced
	}
	return true
}

func (e *Entry) failFlush() {
	e.InFlightVersion = 0
	if e.Dirty() {
		e.Phase = PhaseDirty
	}
}
