// Package rooms implements the bidirectional room <-> client membership
// map described in spec.md §4.1.
package rooms

import "strings"

// Manager maintains room -> client-set and client -> room-set mappings.
// It is not safe for concurrent use by multiple goroutines; callers
// (the Hub actor) must serialize access.
type Manager struct {
	byRoom   map[string]map[string]struct{}
	byClient map[string]map[string]struct{}
}

// New returns an empty Manager.
func New() *Manager {
	return &Manager{
		byRoom:   make(map[string]map[string]struct{}),
		byClient: make(map[string]map[string]struct{}),
	}
}

func canonical(room string) string {
	return strings.ToLower(room)
}

// Join adds clientID to room. A blank room name is a no-op.
func (m *Manager) Join(room, clientID string) {
	if room == "" {
		return
	}
	room = canonical(room)

	members, ok := m.byRoom[room]
	if !ok {
		members = make(map[string]struct{})
		m.byRoom[room] = members
	}
	members[clientID] = struct{}{}

	owned, ok := m.byClient[clientID]
	if !ok {
		owned = make(map[string]struct{})
		m.byClient[clientID] = owned
	}
	owned[room] = struct{}{}
}

// Leave removes clientID from room, garbage-collecting the room if it
// becomes empty.
func (m *Manager) Leave(room, clientID string) {
	if room == "" {
		return
	}
	room = canonical(room)

	if members, ok := m.byRoom[room]; ok {
		delete(members, clientID)
		if len(members) == 0 {
			delete(m.byRoom, room)
		}
	}
	if owned, ok := m.byClient[clientID]; ok {
		delete(owned, room)
		if len(owned) == 0 {
			delete(m.byClient, clientID)
		}
	}
}

// LeaveAll removes clientID from every room it belongs to.
func (m *Manager) LeaveAll(clientID string) {
	owned, ok := m.byClient[clientID]
	if !ok {
		return
	}
	for room := range owned {
		if members, ok := m.byRoom[room]; ok {
			delete(members, clientID)
			if len(members) == 0 {
				delete(m.byRoom, room)
			}
		}
	}
	delete(m.byClient, clientID)
}

// List returns the client ids currently in room, or an empty slice if
// the room is unknown.
func (m *Manager) List(room string) []string {
	members, ok := m.byRoom[canonical(room)]
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(members))
	for id := range members {
		out = append(out, id)
	}
	return out
}

// RoomsFor returns the rooms clientID currently belongs to.
func (m *Manager) RoomsFor(clientID string) []string {
	owned, ok := m.byClient[clientID]
	if !ok {
		return []string{}
	}
	out := make([]string, 0, len(owned))
	for room := range owned {
		out = append(out, room)
	}
	return out
}

// RoomCount returns the number of non-empty rooms, used for metrics.
func (m *Manager) RoomCount() int {
	return len(m.byRoom)
}

// MemberCounts returns the current member count of every non-empty
// room, used to drive the per-room metrics gauge.
func (m *Manager) MemberCounts() map[string]int {
	out := make(map[string]int, len(m.byRoom))
	for room, members := range m.byRoom {
		out[room] = len(members)
	}
	return out
}
