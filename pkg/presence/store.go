// Package presence implements the process-local directory of connected
// clients described in spec.md §4.2.
package presence

import "github.com/relaymesh/kernel/pkg/types"

// Store holds the current Snapshot for every connected client. It is not
// safe for concurrent use; callers (the Hub actor) must serialize access.
type Store struct {
	byID map[types.ClientID]types.Snapshot
}

// New returns an empty Store.
func New() *Store {
	return &Store{byID: make(map[types.ClientID]types.Snapshot)}
}

// Connect inserts a fresh snapshot, overwriting any stale entry for the
// same id.
func (s *Store) Connect(snapshot types.Snapshot) {
	s.byID[snapshot.ID] = snapshot
}

// Disconnect removes the snapshot for id, if any.
func (s *Store) Disconnect(id types.ClientID) {
	delete(s.byID, id)
}

// Get returns the snapshot for id and whether it was found.
func (s *Store) Get(id types.ClientID) (types.Snapshot, bool) {
	snap, ok := s.byID[id]
	return snap, ok
}

// List returns a copy of every known snapshot. Order is unspecified.
func (s *Store) List() []types.Snapshot {
	out := make([]types.Snapshot, 0, len(s.byID))
	for _, snap := range s.byID {
		out = append(out, snap.Clone())
	}
	return out
}

// Update shallow-merges metadata into the id's snapshot. It is a no-op
// if the client is unknown — it must never recreate a deleted entry.
func (s *Store) Update(id types.ClientID, metadata map[string]string) {
	snap, ok := s.byID[id]
	if !ok {
		return
	}
	if snap.Metadata == nil {
		snap.Metadata = make(map[string]string, len(metadata))
	}
	for k, v := range metadata {
		snap.Metadata[k] = v
	}
	s.byID[id] = snap
}

// SyncRooms replaces the rooms list on id's snapshot. No-op if unknown.
func (s *Store) SyncRooms(id types.ClientID, rooms []string) {
	snap, ok := s.byID[id]
	if !ok {
		return
	}
	cp := make([]string, len(rooms))
	copy(cp, rooms)
	snap.Rooms = cp
	s.byID[id] = snap
}
