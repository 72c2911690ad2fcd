package collab

import (
	"errors"
	"sync"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/board"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"go.uber.org/zap"
)

// ErrNotConnected is returned when a signal is sent before a connection
// was attached.
var ErrNotConnected = errors.New("collab: not connected")

// Sender delivers a message to the room.
type Sender interface {
	Send(message canvas.Message) error
}

// Session routes inbound realtime messages: ephemeral families update the
// presence, cursor, selection and preview state; durable commits go to the
// shape store. It also publishes the local user's selection and gesture
// previews while a sender is attached.
type Session struct {
	store      *board.Store
	selfUserID string
	presence   *Presence
	cursors    *Cursors
	selections *Selections
	previews   *Previews
	logger     *zap.Logger

	mu     sync.RWMutex
	sender Sender
}

// NewSession constructs a session for the user identified by selfUserID.
func NewSession(store *board.Store, selfUserID string, logger *zap.Logger) *Session {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		store:      store,
		selfUserID: selfUserID,
		presence:   NewPresence(),
		cursors:    NewCursors(),
		selections: NewSelections(),
		previews:   NewPreviews(),
		logger:     logger,
	}
}

func (s *Session) Presence() *Presence     { return s.presence }
func (s *Session) Cursors() *Cursors       { return s.cursors }
func (s *Session) Selections() *Selections { return s.selections }
func (s *Session) Previews() *Previews     { return s.previews }

// ConnectionID is the server-side id of the attached socket, or "" before
// the first presence snapshot. Batch requests carry it so the author is
// not sent its own commits.
func (s *Session) ConnectionID() string {
	return s.presence.ConnectionID()
}

// Attach starts publishing local signals through sender. The returned
// function detaches it.
func (s *Session) Attach(sender Sender) func() {
	s.mu.Lock()
	s.sender = sender
	s.mu.Unlock()

	unsubscribe := s.store.Subscribe(s.publish)
	return func() {
		unsubscribe()
		s.mu.Lock()
		if s.sender == sender {
			s.sender = nil
		}
		s.mu.Unlock()
		s.presence.Reset()
	}
}

// Dispatch applies one inbound message. Unknown types are ignored.
func (s *Session) Dispatch(message canvas.Message) {
	switch message.Type {
	case canvas.MessagePresenceSnapshot:
		s.presence.ApplySnapshot(message.ConnectionID, message.Users)
	case canvas.MessagePresenceJoin:
		s.presence.Join(canvas.PresenceEntry{UserID: message.UserID, Color: message.Color})
	case canvas.MessagePresenceLeave:
		s.forget(message.UserID)
	case canvas.MessageShapeCommit:
		s.previews.Discard(message.ShapeID)
		s.store.MergeRemote(message.CommitType, message.ShapeID, message.Shape, message.Version)
	default:
		if message.Type.Relayable() {
			s.dispatchSignal(message)
			return
		}
		s.logger.Debug("realtime message ignored", zap.String("type", string(message.Type)))
	}
}

func (s *Session) dispatchSignal(message canvas.Message) {
	if message.UserID == "" || message.UserID == s.selfUserID {
		return
	}
	switch message.Type {
	case canvas.MessageCursorMove:
		if message.Point != nil {
			s.cursors.Move(message.UserID, *message.Point)
		}
	case canvas.MessageCursorLeave:
		s.cursors.Remove(message.UserID)
	case canvas.MessageSelectionUpdate:
		s.selections.Update(message.UserID, message.ShapeIDs)
	case canvas.MessageSelectionClear:
		s.selections.Clear(message.UserID)
	case canvas.MessageShapePreview:
		if message.ShapeID != "" && message.Patch != nil {
			s.previews.Apply(message.UserID, message.ShapeID, *message.Patch)
		}
	}
}

func (s *Session) forget(userID string) {
	s.presence.Leave(userID)
	s.cursors.Remove(userID)
	s.selections.Clear(userID)
	s.previews.DiscardUser(userID)
}

// MoveCursor publishes the local cursor in document coordinates.
func (s *Session) MoveCursor(point canvas.Point) error {
	return s.send(canvas.CursorMoveMessage(point))
}

// LeaveCursor tells peers the local cursor left the canvas.
func (s *Session) LeaveCursor() error {
	return s.send(canvas.CursorLeaveMessage(s.selfUserID))
}

// SelectionBounds is the box around a remote user's selection, following
// the current geometry of the selected shapes.
func (s *Session) SelectionBounds(userID string) (canvas.Rect, bool) {
	return s.selections.Bounds(userID, func(id string) (canvas.Shape, bool) {
		shape, ok := s.store.Shape(id)
		if !ok {
			return canvas.Shape{}, false
		}
		return s.previews.Render(shape), true
	})
}

// CursorPositions returns remote cursors in the local screen space.
func (s *Session) CursorPositions() map[string]canvas.Point {
	return s.cursors.Project(s.store.View())
}

// RenderShapes returns the shapes to draw: the store's shapes with peer
// previews overlaid.
func (s *Session) RenderShapes() []canvas.Shape {
	shapes := s.store.Shapes()
	for index, shape := range shapes {
		shapes[index] = s.previews.Render(shape)
	}
	return shapes
}

func (s *Session) publish(change board.Change) {
	switch change.Kind {
	case board.ChangeSelection:
		selection := s.store.Selection()
		if len(selection) == 0 {
			s.trySend(canvas.SelectionClearMessage())
			return
		}
		s.trySend(canvas.SelectionUpdateMessage(selection))
	case board.ChangeShapes:
		// A shape being drawn has no copy on peers to overlay, so only
		// drags and resizes are previewed.
		switch s.store.Gesture() {
		case board.GestureDrag, board.GestureResize:
		default:
			return
		}
		for _, id := range change.ShapeIDs {
			shape, ok := s.store.Shape(id)
			if !ok {
				continue
			}
			patch := canvas.FramePatch(canvas.Rect{X: shape.X, Y: shape.Y, Width: shape.Width, Height: shape.Height})
			s.trySend(canvas.ShapePreviewMessage(id, patch))
		}
	}
}

func (s *Session) trySend(message canvas.Message) {
	if err := s.send(message); err != nil && !errors.Is(err, ErrNotConnected) {
		s.logger.Debug("realtime signal dropped", zap.String("type", string(message.Type)), zap.Error(err))
	}
}

func (s *Session) send(message canvas.Message) error {
	s.mu.RLock()
	sender := s.sender
	s.mu.RUnlock()
	if sender == nil {
		return ErrNotConnected
	}
	return sender.Send(message)
}
