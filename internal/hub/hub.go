package hub

import (
	"sort"
	"sync"

	"github.com/devaloi/relay/internal/protocol"
)

// Member is what the hub expects from a connected session: a claimed
// nickname and a write handle for delivering encoded lines.
type Member interface {
	Nick() string
	WriteLine(data []byte) error
}

// RoomInfo is a point-in-time summary of one room.
type RoomInfo struct {
	Name    string `json:"name"`
	Members int    `json:"members"`
}

// Hub owns the two registries: nickname to member and room name to Room.
// Every mutation of either registry or of any room's membership happens
// under the hub's single lock, held only for the mutation itself, never
// across network I/O. Roster reads take the read lock; they are
// presentation-grade snapshots, not correctness decisions.
type Hub struct {
	mu    sync.RWMutex
	nicks map[string]Member
	rooms map[string]*Room
}

// New creates an empty hub.
func New() *Hub {
	return &Hub{
		nicks: make(map[string]Member),
		rooms: make(map[string]*Room),
	}
}

// Join claims the member's nickname and adds it to the named room,
// creating the room if needed. It reports false, without side effects,
// when the nickname is already held by a live member.
func (h *Hub) Join(m Member, room string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, taken := h.nicks[m.Nick()]; taken {
		return false
	}
	h.nicks[m.Nick()] = m
	r := h.roomLocked(room)
	r.members[m] = struct{}{}
	return true
}

// Leave releases the member's nickname and removes it from the named
// room's membership. Either half is a no-op if already absent; room may
// be empty for a member that never bound one.
func (h *Hub) Leave(m Member, room string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.nicks, m.Nick())
	if r, ok := h.rooms[room]; ok {
		delete(r.members, m)
	}
}

// Move transfers the member from oldRoom to newRoom in one critical
// section, creating newRoom if needed. After Move returns the member is
// absent from oldRoom's membership and present in newRoom's, so a
// subsequent announcement to oldRoom cannot reach it.
func (h *Hub) Move(m Member, oldRoom, newRoom string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if r, ok := h.rooms[oldRoom]; ok {
		delete(r.members, m)
	}
	r := h.roomLocked(newRoom)
	r.members[m] = struct{}{}
}

// GetOrCreateRoom returns the named room, creating it and starting its
// dispatcher on first reference. Idempotent by name.
func (h *Hub) GetOrCreateRoom(name string) *Room {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.roomLocked(name)
}

// Lookup finds the live member holding a nickname.
func (h *Hub) Lookup(nick string) (Member, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	m, ok := h.nicks[nick]
	return m, ok
}

// Roster returns the sorted nicknames of the room's current members,
// or an empty list for an unknown room.
func (h *Hub) Roster(room string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[room]
	if !ok {
		return []string{}
	}
	users := make([]string, 0, len(r.members))
	for m := range r.members {
		users = append(users, m.Nick())
	}
	sort.Strings(users)
	return users
}

// RoomInfo summarizes one room, reporting false for an unknown name.
func (h *Hub) RoomInfo(name string) (RoomInfo, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	r, ok := h.rooms[name]
	if !ok {
		return RoomInfo{}, false
	}
	return RoomInfo{Name: r.name, Members: len(r.members)}, true
}

// Announce enqueues an envelope for broadcast to the named room, creating
// the room if absent. It never blocks the caller beyond the enqueue; the
// per-room queue is unbounded.
func (h *Hub) Announce(room string, env protocol.Envelope) {
	h.GetOrCreateRoom(room).Enqueue(env)
}

// Rooms summarizes all rooms, sorted by name.
func (h *Hub) Rooms() []RoomInfo {
	h.mu.RLock()
	defer h.mu.RUnlock()
	infos := make([]RoomInfo, 0, len(h.rooms))
	for _, r := range h.rooms {
		infos = append(infos, RoomInfo{Name: r.name, Members: len(r.members)})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos
}

// Stop terminates every room dispatcher. Rooms are never retired while
// the server runs; this exists for orderly shutdown and tests.
func (h *Hub) Stop() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, r := range h.rooms {
		r.stop()
	}
}

// roomLocked returns or creates a room. Callers hold h.mu.
func (h *Hub) roomLocked(name string) *Room {
	r, ok := h.rooms[name]
	if !ok {
		r = newRoom(name, h)
		h.rooms[name] = r
		go r.run()
	}
	return r
}
