// Package realtime is the room registry: it tracks the sockets connected
// to each room and fans presence, ephemeral signals and durable commit
// events out to them.
package realtime

import (
	"sort"
	"sync"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const defaultBufferSize = 64

// Member is one connected socket in a room.
type Member struct {
	ConnectionID string
	RoomID       string
	UserID       string
	Color        string
	send         chan canvas.Message
}

// Messages is the member's outbound queue. It is closed when the member
// leaves.
func (m *Member) Messages() <-chan canvas.Message {
	return m.send
}

// HubOption customizes a Hub.
type HubOption func(*Hub)

// WithBufferSize sets the per-connection outbound queue length.
func WithBufferSize(size int) HubOption {
	return func(h *Hub) {
		if size > 0 {
			h.bufferSize = size
		}
	}
}

// WithLogger sets the hub logger.
func WithLogger(logger *zap.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// Hub tracks room membership. Delivery is at most once: a member whose
// queue is full misses the message.
type Hub struct {
	mu         sync.RWMutex
	rooms      map[string]map[string]*Member
	bufferSize int
	logger     *zap.Logger
}

// NewHub constructs an empty Hub.
func NewHub(options ...HubOption) *Hub {
	hub := &Hub{
		rooms:      make(map[string]map[string]*Member),
		bufferSize: defaultBufferSize,
		logger:     zap.NewNop(),
	}
	for _, option := range options {
		option(hub)
	}
	return hub
}

// Join registers an authenticated socket. The new member receives the
// full presence list, itself included, before anyone else hears of it;
// the rest of the room then receives a presence join.
func (h *Hub) Join(roomID, userID string) *Member {
	member := &Member{
		ConnectionID: uuid.NewString(),
		RoomID:       roomID,
		UserID:       userID,
		Color:        ColorFor(userID),
		send:         make(chan canvas.Message, h.bufferSize),
	}

	h.mu.Lock()
	room, ok := h.rooms[roomID]
	if !ok {
		room = make(map[string]*Member)
		h.rooms[roomID] = room
	}
	room[member.ConnectionID] = member
	snapshot := canvas.PresenceSnapshotMessage(member.ConnectionID, presenceLocked(room))
	h.enqueueLocked(member, snapshot)
	h.broadcastLocked(roomID, canvas.PresenceJoinMessage(canvas.PresenceEntry{UserID: userID, Color: member.Color}), member.ConnectionID)
	h.mu.Unlock()

	h.logger.Debug("realtime member joined",
		zap.String("room_id", roomID),
		zap.String("user_id", userID),
		zap.String("connection_id", member.ConnectionID))
	return member
}

// Leave removes a member and closes its queue. Remaining members receive
// a cursor leave followed by a presence leave, unless the same user is
// still connected through another socket.
func (h *Hub) Leave(member *Member) {
	if member == nil {
		return
	}
	h.mu.Lock()
	room := h.rooms[member.RoomID]
	if _, ok := room[member.ConnectionID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(room, member.ConnectionID)
	close(member.send)
	stillPresent := false
	for _, other := range room {
		if other.UserID == member.UserID {
			stillPresent = true
			break
		}
	}
	if !stillPresent {
		h.broadcastLocked(member.RoomID, canvas.CursorLeaveMessage(member.UserID), "")
		h.broadcastLocked(member.RoomID, canvas.PresenceLeaveMessage(member.UserID), "")
	}
	if len(room) == 0 {
		delete(h.rooms, member.RoomID)
	}
	h.mu.Unlock()

	h.logger.Debug("realtime member left",
		zap.String("room_id", member.RoomID),
		zap.String("user_id", member.UserID),
		zap.String("connection_id", member.ConnectionID))
}

// Relay forwards a client-originated ephemeral message to the rest of the
// sender's room, stamped with the sender's identity. Types a client may
// not originate are dropped; the return value reports whether the message
// was relayed.
func (h *Hub) Relay(sender *Member, message canvas.Message) bool {
	if sender == nil || !message.Type.Relayable() {
		return false
	}
	message.UserID = sender.UserID
	message.Color = sender.Color
	message.ConnectionID = ""
	message.Users = nil
	message.Shape = nil
	message.CommitType = ""
	message.Version = 0
	if message.Type == canvas.MessageCursorLeave || message.Type == canvas.MessageSelectionClear {
		message.Point = nil
		message.ShapeIDs = nil
	}
	h.Broadcast(sender.RoomID, message, sender.ConnectionID)
	return true
}

// Broadcast enqueues message for every member of the room except the
// connection named by exclude.
func (h *Hub) Broadcast(roomID string, message canvas.Message, exclude string) {
	h.mu.RLock()
	h.broadcastLocked(roomID, message, exclude)
	h.mu.RUnlock()
}

// Member looks up a connected member of a room.
func (h *Hub) Member(roomID, connectionID string) (*Member, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	member, ok := h.rooms[roomID][connectionID]
	return member, ok
}

// Presence lists the users connected to a room, one entry per user,
// sorted by user id.
func (h *Hub) Presence(roomID string) []canvas.PresenceEntry {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return presenceLocked(h.rooms[roomID])
}

// Connections returns the number of sockets connected to a room.
func (h *Hub) Connections(roomID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[roomID])
}

func (h *Hub) broadcastLocked(roomID string, message canvas.Message, exclude string) {
	for connectionID, member := range h.rooms[roomID] {
		if connectionID == exclude {
			continue
		}
		h.enqueueLocked(member, message)
	}
}

func (h *Hub) enqueueLocked(member *Member, message canvas.Message) {
	select {
	case member.send <- message:
	default:
		h.logger.Debug("realtime queue full, message dropped",
			zap.String("room_id", member.RoomID),
			zap.String("connection_id", member.ConnectionID),
			zap.String("type", string(message.Type)))
	}
}

func presenceLocked(room map[string]*Member) []canvas.PresenceEntry {
	seen := make(map[string]struct{}, len(room))
	entries := make([]canvas.PresenceEntry, 0, len(room))
	for _, member := range room {
		if _, ok := seen[member.UserID]; ok {
			continue
		}
		seen[member.UserID] = struct{}{}
		entries = append(entries, canvas.PresenceEntry{UserID: member.UserID, Color: member.Color})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].UserID < entries[j].UserID })
	return entries
}
