// Package board is the client-side shape store: the rendered copy of a
// room's shapes, the local selection, gesture state, view transform and
// undo history, plus the per-shape version tracking the flush pipeline
// reasons about.
//
// Two mutation paths exist and must not be conflated. ApplyLocal changes
// only the rendered copy and may run on every pointer event. Commit runs
// once per completed gesture, bumps the shape's commitVersion and makes it
// eligible for persistence.
package board

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"github.com/google/uuid"
)

var (
	// ErrShapeNotFound indicates an unknown or already purged shape id.
	ErrShapeNotFound = errors.New("board: shape not found")
	// ErrShapeLocked indicates a geometry change on a locked shape.
	ErrShapeLocked = errors.New("board: shape locked")
	// ErrGestureActive indicates a gesture was started while another is running.
	ErrGestureActive = errors.New("board: gesture already active")
	// ErrNoGesture indicates a gesture update without a matching start.
	ErrNoGesture = errors.New("board: no active gesture")
)

// ChangeKind classifies store notifications.
type ChangeKind string

const (
	ChangeShapes    ChangeKind = "shapes"
	ChangeCommit    ChangeKind = "commit"
	ChangePersist   ChangeKind = "persist"
	ChangeRemote    ChangeKind = "remote"
	ChangeSelection ChangeKind = "selection"
	ChangeView      ChangeKind = "view"
	ChangeGesture   ChangeKind = "gesture"
)

// Change describes one notification.
type Change struct {
	Kind     ChangeKind
	ShapeIDs []string
}

// Listener observes store changes. Listeners run after the store lock is
// released and may call back into the store.
type Listener func(Change)

// Option configures a Store.
type Option func(*Store)

// WithIDGenerator overrides shape id generation.
func WithIDGenerator(generate func() string) Option {
	return func(s *Store) {
		if generate != nil {
			s.newID = generate
		}
	}
}

// WithDefaults sets the initial tool defaults.
func WithDefaults(defaults ToolDefaults) Option {
	return func(s *Store) {
		s.defaults = defaults
	}
}

// WithHistoryLimit bounds the number of undoable actions.
func WithHistoryLimit(limit int) Option {
	return func(s *Store) {
		if limit > 0 {
			s.history.limit = limit
		}
	}
}

// Store owns the client's view of one room.
type Store struct {
	mu        sync.Mutex
	entries   map[string]*Entry
	order     []string
	retired   map[string]int64
	selection map[string]struct{}
	gesture   gestureState
	view      canvas.View
	history   history
	defaults  ToolDefaults
	replaying bool
	newID     func() string
	// generation counts server confirmations applied outside Reconcile.
	generation int64

	listenersMu  sync.RWMutex
	listeners    map[int]Listener
	nextListener int
}

// New constructs an empty store.
func New(options ...Option) *Store {
	store := &Store{
		entries:   make(map[string]*Entry),
		retired:   make(map[string]int64),
		selection: make(map[string]struct{}),
		view:      canvas.DefaultView(),
		history:   history{limit: defaultHistory},
		defaults:  DefaultToolDefaults(),
		newID:     func() string { return uuid.NewString() },
		listeners: make(map[int]Listener),
	}
	for _, option := range options {
		option(store)
	}
	return store
}

// Subscribe registers a listener and returns its cancel function.
func (s *Store) Subscribe(listener Listener) func() {
	s.listenersMu.Lock()
	id := s.nextListener
	s.nextListener++
	s.listeners[id] = listener
	s.listenersMu.Unlock()
	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

func (s *Store) notify(changes []Change) {
	if len(changes) == 0 {
		return
	}
	s.listenersMu.RLock()
	listeners := make([]Listener, 0, len(s.listeners))
	for _, listener := range s.listeners {
		listeners = append(listeners, listener)
	}
	s.listenersMu.RUnlock()
	for _, change := range changes {
		for _, listener := range listeners {
			listener(change)
		}
	}
}

// mutate runs fn under the store lock and delivers its changes afterwards.
func (s *Store) mutate(fn func() ([]Change, error)) error {
	s.mu.Lock()
	changes, err := fn()
	s.mu.Unlock()
	s.notify(changes)
	return err
}

// Entry returns a copy of the entry for id.
func (s *Store) Entry(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.entries[id]
	if !ok {
		return Entry{}, false
	}
	return copyEntry(entry), true
}

// Shape returns the rendered copy of a shape.
func (s *Store) Shape(id string) (canvas.Shape, bool) {
	entry, ok := s.Entry(id)
	if !ok {
		return canvas.Shape{}, false
	}
	return entry.Shape, true
}

// Shapes returns the renderable shapes in z-order. Shapes awaiting a
// delete acknowledgement are excluded.
func (s *Store) Shapes() []canvas.Shape {
	s.mu.Lock()
	defer s.mu.Unlock()
	shapes := make([]canvas.Shape, 0, len(s.order))
	for _, id := range s.order {
		entry := s.entries[id]
		if entry.Status == StatusDeleted {
			continue
		}
		shapes = append(shapes, entry.Shape.Clone())
	}
	return shapes
}

// Entries returns a copy of every entry in z-order, including pending deletes.
func (s *Store) Entries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := make([]Entry, 0, len(s.order))
	for _, id := range s.order {
		entries = append(entries, copyEntry(s.entries[id]))
	}
	return entries
}

// DirtyEntries returns entries whose commitVersion exceeds their
// lastPersistedVersion, sorted by shape id.
func (s *Store) DirtyEntries() []Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	dirty := make([]Entry, 0)
	for _, entry := range s.entries {
		if entry.Dirty() {
			dirty = append(dirty, copyEntry(entry))
		}
	}
	sort.Slice(dirty, func(i, j int) bool { return dirty[i].Shape.ID < dirty[j].Shape.ID })
	return dirty
}

// Busy reports whether a gesture or a history replay is underway. Both
// produce transient states that must not be persisted.
func (s *Store) Busy() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gesture.kind != GestureNone || s.replaying
}

// ApplyLocal updates the rendered copy only.
func (s *Store) ApplyLocal(id string, patch canvas.Patch) error {
	return s.mutate(func() ([]Change, error) {
		if err := s.applyLocked(id, patch); err != nil {
			return nil, err
		}
		return []Change{{Kind: ChangeShapes, ShapeIDs: []string{id}}}, nil
	})
}

func (s *Store) applyLocked(id string, patch canvas.Patch) error {
	entry, ok := s.entries[id]
	if !ok || entry.Status == StatusDeleted {
		return fmt.Errorf("%w: %s", ErrShapeNotFound, id)
	}
	if entry.Shape.Locked && patch.TouchesGeometry() {
		return fmt.Errorf("%w: %s", ErrShapeLocked, id)
	}
	entry.Shape = patch.Apply(entry.Shape)
	return nil
}

// Commit concludes a gesture on one shape: it increments commitVersion,
// sets persistStatus and makes the shape eligible for flushing. It does
// not record undo history; gesture and action methods do that.
func (s *Store) Commit(id string, kind canvas.CommitKind) error {
	return s.mutate(func() ([]Change, error) {
		if _, ok := s.entries[id]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrShapeNotFound, id)
		}
		s.commitLocked(id, kind)
		return []Change{{Kind: ChangeCommit, ShapeIDs: []string{id}}}, nil
	})
}

func (s *Store) commitLocked(id string, kind canvas.CommitKind) {
	entry := s.entries[id]
	if kind == canvas.CommitDeleted && !entry.OnServer && entry.InFlightVersion == 0 {
		// Never reached the server: nothing to delete remotely.
		entry.CommitVersion++
		s.purgeLocked(id)
		return
	}
	entry.commit(kind)
	entry.Shape.Deleted = kind == canvas.CommitDeleted
	if kind == canvas.CommitDeleted {
		delete(s.selection, id)
	}
}

// Edit applies a discrete change (style, lock, text) and commits it as
// one undoable action.
func (s *Store) Edit(id string, patch canvas.Patch) error {
	return s.mutate(func() ([]Change, error) {
		entry, ok := s.entries[id]
		if !ok || entry.Status == StatusDeleted {
			return nil, fmt.Errorf("%w: %s", ErrShapeNotFound, id)
		}
		before := entry.Shape.Clone()
		if err := s.applyLocked(id, patch); err != nil {
			return nil, err
		}
		s.commitLocked(id, canvas.CommitUpdated)
		s.recordLocked([]historyChange{{id: id, before: &before, after: shapePtr(entry.Shape)}})
		return []Change{{Kind: ChangeCommit, ShapeIDs: []string{id}}}, nil
	})
}

// Insert adds a fully formed shape and commits it as new.
func (s *Store) Insert(shape canvas.Shape) (string, error) {
	if shape.ID == "" {
		shape.ID = s.newID()
	}
	if err := shape.Validate(); err != nil {
		return "", err
	}
	err := s.mutate(func() ([]Change, error) {
		if existing, ok := s.entries[shape.ID]; ok && existing.Status != StatusDeleted {
			return nil, fmt.Errorf("board: shape %s already exists", shape.ID)
		}
		s.insertLocked(shape)
		s.commitLocked(shape.ID, canvas.CommitNew)
		s.recordLocked([]historyChange{{id: shape.ID, after: shapePtr(shape)}})
		return []Change{{Kind: ChangeCommit, ShapeIDs: []string{shape.ID}}}, nil
	})
	if err != nil {
		return "", err
	}
	return shape.ID, nil
}

// Delete commits a delete for each shape as one undoable action.
func (s *Store) Delete(ids ...string) error {
	return s.mutate(func() ([]Change, error) {
		changes := make([]historyChange, 0, len(ids))
		for _, id := range ids {
			entry, ok := s.entries[id]
			if !ok || entry.Status == StatusDeleted {
				return nil, fmt.Errorf("%w: %s", ErrShapeNotFound, id)
			}
			if entry.Shape.Locked {
				return nil, fmt.Errorf("%w: %s", ErrShapeLocked, id)
			}
		}
		for _, id := range ids {
			before := s.entries[id].Shape.Clone()
			s.commitLocked(id, canvas.CommitDeleted)
			changes = append(changes, historyChange{id: id, before: &before})
		}
		s.recordLocked(changes)
		return []Change{{Kind: ChangeCommit, ShapeIDs: ids}, {Kind: ChangeSelection}}, nil
	})
}

// Duplicate copies shapes at an offset, commits the copies as new and
// selects them.
func (s *Store) Duplicate(offset canvas.Point, ids ...string) ([]string, error) {
	var created []string
	err := s.mutate(func() ([]Change, error) {
		for _, id := range ids {
			entry, ok := s.entries[id]
			if !ok || entry.Status == StatusDeleted {
				return nil, fmt.Errorf("%w: %s", ErrShapeNotFound, id)
			}
		}
		changes := make([]historyChange, 0, len(ids))
		for _, id := range ids {
			clone := s.cloneLocked(id)
			clone.X += offset.X
			clone.Y += offset.Y
			s.insertLocked(clone)
			s.commitLocked(clone.ID, canvas.CommitNew)
			created = append(created, clone.ID)
			changes = append(changes, historyChange{id: clone.ID, after: shapePtr(clone)})
		}
		s.recordLocked(changes)
		s.selectLocked(created)
		return []Change{{Kind: ChangeCommit, ShapeIDs: created}, {Kind: ChangeSelection}}, nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *Store) cloneLocked(id string) canvas.Shape {
	clone := s.entries[id].Shape.Clone()
	clone.ID = s.newID()
	clone.Version = 0
	clone.Locked = false
	clone.Deleted = false
	return clone
}

// insertLocked adds a shape that exists only locally. A previously purged
// id resumes from its retired commitVersion so versions stay monotonic.
func (s *Store) insertLocked(shape canvas.Shape) *Entry {
	shape.Deleted = false
	if entry, ok := s.entries[shape.ID]; ok {
		entry.Shape = shape
		return entry
	}
	retired := s.retired[shape.ID]
	delete(s.retired, shape.ID)
	entry := &Entry{
		Shape:                shape,
		CommitVersion:        retired,
		LastPersistedVersion: retired,
		Status:               StatusNew,
		Phase:                PhasePristine,
	}
	s.entries[shape.ID] = entry
	s.order = append(s.order, shape.ID)
	return entry
}

func (s *Store) purgeLocked(id string) {
	entry, ok := s.entries[id]
	if !ok {
		return
	}
	s.retired[id] = entry.CommitVersion
	delete(s.entries, id)
	delete(s.selection, id)
	for index, candidate := range s.order {
		if candidate == id {
			s.order = append(s.order[:index], s.order[index+1:]...)
			break
		}
	}
}

func copyEntry(entry *Entry) Entry {
	out := *entry
	out.Shape = entry.Shape.Clone()
	return out
}

func shapePtr(shape canvas.Shape) *canvas.Shape {
	clone := shape.Clone()
	return &clone
}
