// Package collab holds the client's view of everyone else in the room:
// presence, live cursors, remote selections and in-flight previews, plus
// the session that routes realtime messages into them and into the shape
// store.
package collab

import (
	"sort"
	"sync"

	"github.com/MarcoPoloResearchLab/sketchboard/internal/canvas"
)

// Presence is the set of users connected to the room. It is rebuilt from
// every presence snapshot; joins that arrive before the first snapshot are
// dropped because the snapshot will include them.
type Presence struct {
	mu           sync.RWMutex
	ready        bool
	connectionID string
	users        map[string]canvas.PresenceEntry
}

// NewPresence returns an empty, not yet hydrated, presence list.
func NewPresence() *Presence {
	return &Presence{users: make(map[string]canvas.PresenceEntry)}
}

// ApplySnapshot replaces the list and records this socket's connection id.
func (p *Presence) ApplySnapshot(connectionID string, users []canvas.PresenceEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = make(map[string]canvas.PresenceEntry, len(users))
	for _, user := range users {
		p.users[user.UserID] = user
	}
	if connectionID != "" {
		p.connectionID = connectionID
	}
	p.ready = true
}

// Join adds a user. It reports whether the join was applied.
func (p *Presence) Join(entry canvas.PresenceEntry) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.ready || entry.UserID == "" {
		return false
	}
	p.users[entry.UserID] = entry
	return true
}

// Leave removes a user.
func (p *Presence) Leave(userID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.users, userID)
}

// Reset forgets everything; used when the socket reconnects.
func (p *Presence) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = make(map[string]canvas.PresenceEntry)
	p.connectionID = ""
	p.ready = false
}

// Users lists connected users sorted by id.
func (p *Presence) Users() []canvas.PresenceEntry {
	p.mu.RLock()
	defer p.mu.RUnlock()
	users := make([]canvas.PresenceEntry, 0, len(p.users))
	for _, user := range p.users {
		users = append(users, user)
	}
	sort.Slice(users, func(i, j int) bool { return users[i].UserID < users[j].UserID })
	return users
}

// Color returns a connected user's color.
func (p *Presence) Color(userID string) (string, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	user, ok := p.users[userID]
	return user.Color, ok
}

// ConnectionID is this socket's server-side identity, known once the
// first snapshot arrived.
func (p *Presence) ConnectionID() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.connectionID
}

// Ready reports whether a snapshot has been applied.
func (p *Presence) Ready() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.ready
}
