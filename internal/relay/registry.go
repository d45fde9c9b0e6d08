package relay

import (
	"errors"
	"sync"

	"github.com/BioHazard786/Warpcall/internal/signaling"
)

var (
	// ErrRelayDeliveryMiss means the room had no member other than the sender.
	// It is an ordinary race (peer not joined yet, or already gone).
	ErrRelayDeliveryMiss = errors.New("no peer in room")

	// ErrDeliveryDropped means a peer was present but its send queue was full.
	ErrDeliveryDropped = errors.New("peer send queue full")
)

// Member is a connection that can receive relayed messages.
type Member interface {
	ID() string
	// Deliver queues msg without blocking and reports whether it was accepted.
	Deliver(msg *signaling.Message) bool
}

// Registry tracks which members belong to which rooms. A room exists while it
// has at least one member; there is no explicit create or destroy.
type Registry struct {
	mu      sync.RWMutex
	rooms   map[string]map[Member]struct{}
	members map[Member]map[string]struct{}
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms:   make(map[string]map[Member]struct{}),
		members: make(map[Member]map[string]struct{}),
	}
}

// Join adds m to roomID. It reports false if m was already a member.
func (r *Registry) Join(m Member, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	room, ok := r.rooms[roomID]
	if !ok {
		room = make(map[Member]struct{})
		r.rooms[roomID] = room
	}
	if _, ok := room[m]; ok {
		return false
	}
	room[m] = struct{}{}

	joined, ok := r.members[m]
	if !ok {
		joined = make(map[string]struct{})
		r.members[m] = joined
	}
	joined[roomID] = struct{}{}
	return true
}

// LeaveRoom removes m from a single room.
func (r *Registry) LeaveRoom(m Member, roomID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.removeLocked(m, roomID)
}

// Leave removes m from every room it belonged to and returns those rooms.
// Remaining members are not notified.
func (r *Registry) Leave(m Member) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	joined := r.members[m]
	left := make([]string, 0, len(joined))
	for roomID := range joined {
		left = append(left, roomID)
	}
	for _, roomID := range left {
		r.removeLocked(m, roomID)
	}
	return left
}

func (r *Registry) removeLocked(m Member, roomID string) bool {
	room, ok := r.rooms[roomID]
	if !ok {
		return false
	}
	if _, ok := room[m]; !ok {
		return false
	}
	delete(room, m)
	if len(room) == 0 {
		delete(r.rooms, roomID)
	}
	if joined, ok := r.members[m]; ok {
		delete(joined, roomID)
		if len(joined) == 0 {
			delete(r.members, m)
		}
	}
	return true
}

// Relay forwards msg to every member of msg.RoomID except sender. Delivery is
// best effort: nothing is buffered for members that have not joined yet.
func (r *Registry) Relay(sender Member, msg *signaling.Message) (int, error) {
	r.mu.RLock()
	var targets []Member
	for m := range r.rooms[msg.RoomID] {
		if m != sender {
			targets = append(targets, m)
		}
	}
	r.mu.RUnlock()

	if len(targets) == 0 {
		return 0, ErrRelayDeliveryMiss
	}

	delivered := 0
	for _, m := range targets {
		if m.Deliver(msg) {
			delivered++
		}
	}
	if delivered < len(targets) {
		return delivered, ErrDeliveryDropped
	}
	return delivered, nil
}

// Rooms returns the number of non-empty rooms.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Members returns the number of members in roomID.
func (r *Registry) Members(roomID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[roomID])
}

// RoomsOf returns the number of rooms m belongs to.
func (r *Registry) RoomsOf(m Member) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.members[m])
}
