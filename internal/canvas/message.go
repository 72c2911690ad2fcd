package canvas

// MessageType discriminates realtime messages.
type MessageType string

const (
	MessagePresenceSnapshot MessageType = "presence:snapshot"
	MessagePresenceJoin     MessageType = "presence:join"
	MessagePresenceLeave    MessageType = "presence:leave"
	MessageCursorMove       MessageType = "cursor:move"
	MessageCursorLeave      MessageType = "cursor:leave"
	MessageSelectionUpdate  MessageType = "selection:update"
	MessageSelectionClear   MessageType = "selection:clear"
	MessageShapePreview     MessageType = "shape:preview"
	MessageShapeCommit      MessageType = "shape:commit"
)

// Relayable reports whether a client may send this type for fan-out to
// the rest of its room. Presence and durable commits originate on the
// server only.
func (t MessageType) Relayable() bool {
	switch t {
	case MessageCursorMove, MessageCursorLeave, MessageSelectionUpdate, MessageSelectionClear, MessageShapePreview:
		return true
	default:
		return false
	}
}

// Ephemeral reports whether the message bypasses versioning.
func (t MessageType) Ephemeral() bool {
	return t != MessageShapeCommit && t != ""
}

// PresenceEntry is one connected user.
type PresenceEntry struct {
	UserID string `json:"userId"`
	Color  string `json:"color"`
}

// Message is the single envelope multiplexed over a realtime connection.
// Fields irrelevant to Type are omitted on the wire.
type Message struct {
	Type         MessageType     `json:"type"`
	UserID       string          `json:"userId,omitempty"`
	Color        string          `json:"color,omitempty"`
	ConnectionID string          `json:"connectionId,omitempty"`
	Users        []PresenceEntry `json:"users,omitempty"`
	Point        *Point          `json:"point,omitempty"`
	ShapeIDs     []string        `json:"shapeIds,omitempty"`
	ShapeID      string          `json:"shapeId,omitempty"`
	Patch        *Patch          `json:"patch,omitempty"`
	Shape        *Shape          `json:"shape,omitempty"`
	CommitType   CommitKind      `json:"commitType,omitempty"`
	Version      int64           `json:"version,omitempty"`
}

// PresenceSnapshotMessage lists every connected user. connectionID tells
// the receiving socket its own server-side identity.
func PresenceSnapshotMessage(connectionID string, users []PresenceEntry) Message {
	return Message{Type: MessagePresenceSnapshot, ConnectionID: connectionID, Users: users}
}

// PresenceJoinMessage announces a new member.
func PresenceJoinMessage(entry PresenceEntry) Message {
	return Message{Type: MessagePresenceJoin, UserID: entry.UserID, Color: entry.Color}
}

// PresenceLeaveMessage announces a departed member.
func PresenceLeaveMessage(userID string) Message {
	return Message{Type: MessagePresenceLeave, UserID: userID}
}

// CursorMoveMessage carries a cursor position in document coordinates.
func CursorMoveMessage(point Point) Message {
	return Message{Type: MessageCursorMove, Point: &point}
}

// CursorLeaveMessage removes a user's cursor.
func CursorLeaveMessage(userID string) Message {
	return Message{Type: MessageCursorLeave, UserID: userID}
}

// SelectionUpdateMessage carries the sender's selected shape ids.
func SelectionUpdateMessage(shapeIDs []string) Message {
	return Message{Type: MessageSelectionUpdate, ShapeIDs: shapeIDs}
}

// SelectionClearMessage clears the sender's selection.
func SelectionClearMessage() Message {
	return Message{Type: MessageSelectionClear}
}

// ShapePreviewMessage carries a partial patch for a shape mid-gesture.
func ShapePreviewMessage(shapeID string, patch Patch) Message {
	return Message{Type: MessageShapePreview, ShapeID: shapeID, Patch: &patch}
}

// ShapeCommitMessage announces a durable change. shape is nil for deletes.
func ShapeCommitMessage(kind CommitKind, shapeID string, shape *Shape, version int64) Message {
	return Message{Type: MessageShapeCommit, ShapeID: shapeID, Shape: shape, CommitType: kind, Version: version}
}
