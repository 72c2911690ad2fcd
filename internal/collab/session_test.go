package collab

import (
	"sync"
	"testing"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/board"
	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSender struct {
	mu       sync.Mutex
	messages []canvas.Message
}

func (r *recordingSender) Send(message canvas.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = append(r.messages, message)
	return nil
}

func (r *recordingSender) ofType(messageType canvas.MessageType) []canvas.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	var matched []canvas.Message
	for _, message := range r.messages {
		if message.Type == messageType {
			matched = append(matched, message)
		}
	}
	return matched
}

func rect(id string, x, y float64) canvas.Shape {
	return canvas.Shape{ID: id, Type: canvas.ShapeRect, X: x, Y: y, Width: 40, Height: 20, Opacity: 1}
}

func TestPresenceJoinBeforeSnapshotIsDropped(t *testing.T) {
	session := NewSession(board.New(), "alice", nil)

	session.Dispatch(canvas.PresenceJoinMessage(canvas.PresenceEntry{UserID: "bob", Color: "#f00"}))
	assert.Empty(t, session.Presence().Users())
	assert.False(t, session.Presence().Ready())

	session.Dispatch(canvas.PresenceSnapshotMessage("conn-1", []canvas.PresenceEntry{{UserID: "alice", Color: "#0f0"}, {UserID: "bob", Color: "#f00"}}))
	session.Dispatch(canvas.PresenceJoinMessage(canvas.PresenceEntry{UserID: "carol", Color: "#00f"}))

	users := session.Presence().Users()
	require.Len(t, users, 3)
	assert.Equal(t, "carol", users[2].UserID)
	assert.Equal(t, "conn-1", session.ConnectionID())
	color, ok := session.Presence().Color("bob")
	require.True(t, ok)
	assert.Equal(t, "#f00", color)
}

func TestPresenceLeaveClearsUserSignals(t *testing.T) {
	store := board.New()
	_, err := store.Insert(rect("s1", 0, 0))
	require.NoError(t, err)
	session := NewSession(store, "alice", nil)
	session.Dispatch(canvas.PresenceSnapshotMessage("conn-1", []canvas.PresenceEntry{{UserID: "alice"}, {UserID: "bob"}}))

	stamp := func(message canvas.Message) canvas.Message {
		message.UserID = "bob"
		return message
	}
	session.Dispatch(stamp(canvas.CursorMoveMessage(canvas.Point{X: 5, Y: 6})))
	session.Dispatch(stamp(canvas.SelectionUpdateMessage([]string{"s1"})))
	session.Dispatch(stamp(canvas.ShapePreviewMessage("s1", canvas.MovePatch(100, 100))))
	require.True(t, session.Previews().Has("s1"))

	leave := canvas.PresenceLeaveMessage("bob")
	session.Dispatch(leave)

	_, ok := session.Cursors().Document("bob")
	assert.False(t, ok)
	assert.Empty(t, session.Selections().Of("bob"))
	assert.False(t, session.Previews().Has("s1"))
	assert.Len(t, session.Presence().Users(), 1)
}

func TestOwnSignalsAreIgnored(t *testing.T) {
	session := NewSession(board.New(), "alice", nil)

	move := canvas.CursorMoveMessage(canvas.Point{X: 1, Y: 1})
	move.UserID = "alice"
	session.Dispatch(move)
	anonymous := canvas.CursorMoveMessage(canvas.Point{X: 1, Y: 1})
	session.Dispatch(anonymous)

	assert.Empty(t, session.CursorPositions())
}

func TestCommitDiscardsPreviewAndMergesShape(t *testing.T) {
	store := board.New()
	session := NewSession(store, "alice", nil)

	preview := canvas.ShapePreviewMessage("s1", canvas.MovePatch(50, 50))
	preview.UserID = "bob"
	session.Dispatch(preview)
	require.True(t, session.Previews().Has("s1"))

	shape := rect("s1", 10, 10)
	session.Dispatch(canvas.ShapeCommitMessage(canvas.CommitNew, "s1", &shape, 1))

	assert.False(t, session.Previews().Has("s1"))
	merged, ok := store.Shape("s1")
	require.True(t, ok)
	assert.Equal(t, 10.0, merged.X)
	assert.Equal(t, int64(1), merged.Version)

	session.Dispatch(canvas.ShapeCommitMessage(canvas.CommitDeleted, "s1", nil, 2))
	_, ok = store.Shape("s1")
	assert.False(t, ok)
}

func TestPreviewsOverlayRenderedShapes(t *testing.T) {
	store := board.New()
	shape := rect("s1", 0, 0)
	session := NewSession(store, "alice", nil)
	session.Dispatch(canvas.ShapeCommitMessage(canvas.CommitNew, "s1", &shape, 1))

	for _, x := range []float64{20, 30} {
		preview := canvas.ShapePreviewMessage("s1", canvas.Patch{X: canvas.Float(x)})
		preview.UserID = "bob"
		session.Dispatch(preview)
	}
	resize := canvas.ShapePreviewMessage("s1", canvas.Patch{Width: canvas.Float(80)})
	resize.UserID = "bob"
	session.Dispatch(resize)

	rendered := session.RenderShapes()
	require.Len(t, rendered, 1)
	assert.Equal(t, 30.0, rendered[0].X)
	assert.Equal(t, 80.0, rendered[0].Width)

	stored, _ := store.Shape("s1")
	assert.Equal(t, 0.0, stored.X, "previews never reach the store")

	takeover := canvas.ShapePreviewMessage("s1", canvas.Patch{Y: canvas.Float(9)})
	takeover.UserID = "carol"
	session.Dispatch(takeover)
	rendered = session.RenderShapes()
	assert.Equal(t, 0.0, rendered[0].X)
	assert.Equal(t, 9.0, rendered[0].Y)
}

func TestRemoteSelectionBoundsFollowShapes(t *testing.T) {
	store := board.New()
	session := NewSession(store, "alice", nil)
	first, second := rect("s1", 0, 0), rect("s2", 100, 50)
	session.Dispatch(canvas.ShapeCommitMessage(canvas.CommitNew, "s1", &first, 1))
	session.Dispatch(canvas.ShapeCommitMessage(canvas.CommitNew, "s2", &second, 1))

	selection := canvas.SelectionUpdateMessage([]string{"s1", "s2", "missing"})
	selection.UserID = "bob"
	session.Dispatch(selection)

	bounds, ok := session.SelectionBounds("bob")
	require.True(t, ok)
	assert.Equal(t, canvas.Rect{X: 0, Y: 0, Width: 140, Height: 70}, bounds)

	moved := rect("s2", 200, 50)
	session.Dispatch(canvas.ShapeCommitMessage(canvas.CommitUpdated, "s2", &moved, 2))
	bounds, ok = session.SelectionBounds("bob")
	require.True(t, ok)
	assert.Equal(t, 240.0, bounds.Width)

	cleared := canvas.SelectionClearMessage()
	cleared.UserID = "bob"
	session.Dispatch(cleared)
	_, ok = session.SelectionBounds("bob")
	assert.False(t, ok)
}

func TestCursorPositionsFollowLocalView(t *testing.T) {
	store := board.New()
	require.NoError(t, store.SetView(canvas.View{Scale: 2, OffsetX: 10, OffsetY: -5}))
	session := NewSession(store, "alice", nil)

	move := canvas.CursorMoveMessage(canvas.Point{X: 3, Y: 4})
	move.UserID = "bob"
	session.Dispatch(move)

	assert.Equal(t, map[string]canvas.Point{"bob": {X: 16, Y: 3}}, session.CursorPositions())
}

func TestAttachPublishesSelectionAndGesturePreviews(t *testing.T) {
	store := board.New()
	_, err := store.Insert(rect("s1", 0, 0))
	require.NoError(t, err)
	session := NewSession(store, "alice", nil)
	sender := &recordingSender{}

	assert.ErrorIs(t, session.MoveCursor(canvas.Point{}), ErrNotConnected)

	detach := session.Attach(sender)
	store.Select("s1")
	_, err = store.BeginDrag(canvas.Point{X: 5, Y: 5}, false, "s1")
	require.NoError(t, err)
	require.NoError(t, store.DragTo(canvas.Point{X: 15, Y: 25}))
	require.NoError(t, store.EndDrag())
	require.NoError(t, session.MoveCursor(canvas.Point{X: 1, Y: 2}))
	store.ClearSelection()

	updates := sender.ofType(canvas.MessageSelectionUpdate)
	require.NotEmpty(t, updates)
	assert.Equal(t, []string{"s1"}, updates[0].ShapeIDs)

	previews := sender.ofType(canvas.MessageShapePreview)
	require.NotEmpty(t, previews)
	last := previews[len(previews)-1]
	assert.Equal(t, "s1", last.ShapeID)
	require.NotNil(t, last.Patch)
	assert.Equal(t, 10.0, *last.Patch.X)
	assert.Equal(t, 20.0, *last.Patch.Y)

	assert.Len(t, sender.ofType(canvas.MessageCursorMove), 1)
	assert.Len(t, sender.ofType(canvas.MessageSelectionClear), 1)

	detach()
	sent := len(sender.messages)
	store.Select("s1")
	assert.Len(t, sender.messages, sent)
	assert.ErrorIs(t, session.LeaveCursor(), ErrNotConnected)
}

func TestDrawInProgressIsNotPreviewed(t *testing.T) {
	store := board.New()
	session := NewSession(store, "alice", nil)
	sender := &recordingSender{}
	detach := session.Attach(sender)
	defer detach()

	_, err := store.BeginDraw(canvas.ShapeRect, canvas.Point{X: 0, Y: 0})
	require.NoError(t, err)
	require.NoError(t, store.DrawTo(canvas.Point{X: 30, Y: 30}))
	require.NoError(t, store.DrawTo(canvas.Point{X: 60, Y: 40}))
	_, err = store.EndDraw()
	require.NoError(t, err)

	assert.Empty(t, sender.ofType(canvas.MessageShapePreview))
}
