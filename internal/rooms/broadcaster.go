// ABOUTME: In-memory room multicast for conversation, identity and agent-group fan-out
// ABOUTME: Delivery is non-blocking: a member whose queue is full misses the event

package rooms

import (
	"log/slog"
	"sync"
)

// Well-known room names.
const (
	AgentsRoom = "agents"
)

// ConversationRoom is the room of everyone viewing a conversation.
func ConversationRoom(conversationID string) string {
	return "conversation:" + conversationID
}

// UserRoom is the private room of one identity's connections.
func UserRoom(identityID string) string {
	return "user:" + identityID
}

// Event is a named payload pushed to room members.
type Event struct {
	Name    string
	Payload any
}

// Member receives events. Deliver must not block; it returns false when the
// event was dropped.
type Member interface {
	MemberID() string
	Deliver(evt *Event) bool
}

// Broadcaster tracks room membership and fans events out to members.
type Broadcaster struct {
	mu          sync.RWMutex
	rooms       map[string]map[string]Member   // room -> memberID -> member
	memberships map[string]map[string]struct{} // memberID -> rooms
	logger      *slog.Logger
}

// NewBroadcaster creates a broadcaster. Pass nil logger for default.
func NewBroadcaster(logger *slog.Logger) *Broadcaster {
	if logger == nil {
		logger = slog.Default()
	}
	return &Broadcaster{
		rooms:       make(map[string]map[string]Member),
		memberships: make(map[string]map[string]struct{}),
		logger:      logger.With("component", "rooms"),
	}
}

// Join adds m to room. Joining twice is a no-op.
func (b *Broadcaster) Join(room string, m Member) {
	id := m.MemberID()

	b.mu.Lock()
	defer b.mu.Unlock()

	members, ok := b.rooms[room]
	if !ok {
		members = make(map[string]Member)
		b.rooms[room] = members
	}
	members[id] = m

	joined, ok := b.memberships[id]
	if !ok {
		joined = make(map[string]struct{})
		b.memberships[id] = joined
	}
	joined[room] = struct{}{}
}

// Leave removes memberID from room. Leaving a room not joined is a no-op.
func (b *Broadcaster) Leave(room, memberID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.leaveLocked(room, memberID)
}

// LeaveAll removes memberID from every room and returns the rooms it left.
func (b *Broadcaster) LeaveAll(memberID string) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	joined := b.memberships[memberID]
	left := make([]string, 0, len(joined))
	for room := range joined {
		left = append(left, room)
	}
	for _, room := range left {
		b.leaveLocked(room, memberID)
	}
	return left
}

func (b *Broadcaster) leaveLocked(room, memberID string) {
	if members, ok := b.rooms[room]; ok {
		delete(members, memberID)
		if len(members) == 0 {
			delete(b.rooms, room)
		}
	}
	if joined, ok := b.memberships[memberID]; ok {
		delete(joined, room)
		if len(joined) == 0 {
			delete(b.memberships, memberID)
		}
	}
}

// Publish delivers evt to every member of room except excludeID, returning
// how many members accepted it.
func (b *Broadcaster) Publish(room string, evt *Event, excludeID string) int {
	b.mu.RLock()
	members, ok := b.rooms[room]
	if !ok || len(members) == 0 {
		b.mu.RUnlock()
		return 0
	}

	// Copy targets under read lock to avoid holding it during delivery.
	targets := make([]Member, 0, len(members))
	for id, m := range members {
		if excludeID != "" && id == excludeID {
			continue
		}
		targets = append(targets, m)
	}
	b.mu.RUnlock()

	delivered := 0
	for _, m := range targets {
		if m.Deliver(evt) {
			delivered++
			continue
		}
		b.logger.Debug("dropped event for slow member",
			"room", room,
			"event", evt.Name,
			"member_id", m.MemberID())
	}
	return delivered
}

// Members returns the number of members in room.
func (b *Broadcaster) Members(room string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.rooms[room])
}

// Rooms returns the rooms memberID belongs to.
func (b *Broadcaster) Rooms(memberID string) []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	out := make([]string, 0, len(b.memberships[memberID]))
	for room := range b.memberships[memberID] {
		out = append(out, room)
	}
	return out
}
