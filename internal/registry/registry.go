// Package registry holds the in-memory session state shared by all
// connections: the per-connection attribute registry and the room membership
// index. Compound operations take a single critical section so callers always
// observe membership snapshots that are consistent with the mutation they just
// committed.
package registry

import (
	"errors"
	"sync"
)

var (
	// ErrUnknownConnection is returned when the connection has no registry
	// entry (it was never registered or has already been removed).
	ErrUnknownConnection = errors.New("unknown connection")

	// ErrClientIDTaken is returned when another member of the target room
	// already holds the claimed client id.
	ErrClientIDTaken = errors.New("client id already in use in room")

	// ErrClientIDMismatch is returned when a connection tries to change its
	// previously committed client id.
	ErrClientIDMismatch = errors.New("client id already set to a different value")
)

// RoomID derives the deterministic room identifier from the caller-supplied
// triple. Identity is purely derived; rooms are never allocated separately.
func RoomID(hostName, serverName, roomName string) string {
	return hostName + "-" + serverName + "-" + roomName
}

// Member is a point-in-time view of a room member's session attributes.
// ClientID is nil when the member has not claimed an identity.
type Member struct {
	ClientID *int64
}

type attrs struct {
	clientID *int64
	roomID   string
}

// Store is the owned state container for connection attributes and room
// membership. All methods are safe for concurrent use.
type Store struct {
	mu    sync.RWMutex
	conns map[string]*attrs
	rooms map[string]map[string]struct{}
}

func NewStore() *Store {
	return &Store{
		conns: make(map[string]*attrs),
		rooms: make(map[string]map[string]struct{}),
	}
}

// Register creates an empty registry entry for a new connection. Registering
// an already known connection is a no-op.
func (s *Store) Register(connID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.conns[connID]; !ok {
		s.conns[connID] = &attrs{}
	}
}

// Get returns the connection's current attributes.
func (s *Store) Get(connID string) (m Member, roomID string, ok bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.conns[connID]
	if !ok {
		return Member{}, "", false
	}
	return memberOf(a), a.roomID, true
}

// MembersOf returns a snapshot of the room's member connection ids. Unknown
// rooms yield an empty slice.
func (s *Store) MembersOf(roomID string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	members := make([]string, 0, len(s.rooms[roomID]))
	for id := range s.rooms[roomID] {
		members = append(members, id)
	}
	return members
}

// Len returns the number of registered connections.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.conns)
}

// Join atomically performs the spoofing check against the target room and, if
// it passes, moves the connection into the room, commits its claimed client
// id, and returns a snapshot of the room's other members as of the commit.
//
// It fails with ErrClientIDTaken when a distinct member already holds the
// claimed id, and with ErrClientIDMismatch when the joining connection itself
// previously committed a different id. On failure nothing is mutated.
func (s *Store) Join(connID, roomID string, clientID int64) (map[string]Member, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.conns[connID]
	if !ok {
		return nil, ErrUnknownConnection
	}
	if a.clientID != nil && *a.clientID != clientID {
		return nil, ErrClientIDMismatch
	}
	for id := range s.rooms[roomID] {
		if id == connID {
			continue
		}
		if m := s.conns[id]; m != nil && m.clientID != nil && *m.clientID == clientID {
			return nil, ErrClientIDTaken
		}
	}

	if a.roomID != "" && a.roomID != roomID {
		s.removeFromRoomLocked(a.roomID, connID)
	}
	s.addToRoomLocked(roomID, connID)

	id := clientID
	a.clientID = &id
	a.roomID = roomID

	snapshot := make(map[string]Member, len(s.rooms[roomID])-1)
	for mid := range s.rooms[roomID] {
		if mid == connID {
			continue
		}
		snapshot[mid] = memberOf(s.conns[mid])
	}
	return snapshot, nil
}

// SetClientID commits the connection's claimed identity. Re-confirming the
// same value is a no-op; changing a committed value fails with
// ErrClientIDMismatch, and claiming an id held by a current room peer fails
// with ErrClientIDTaken. On success it returns the connection's room (empty
// when not joined) and the room's other members as of the commit.
func (s *Store) SetClientID(connID string, clientID int64) (roomID string, peers []string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.conns[connID]
	if !ok {
		return "", nil, ErrUnknownConnection
	}
	if a.clientID != nil && *a.clientID != clientID {
		return "", nil, ErrClientIDMismatch
	}
	if a.roomID != "" {
		for id := range s.rooms[a.roomID] {
			if id == connID {
				continue
			}
			if m := s.conns[id]; m != nil && m.clientID != nil && *m.clientID == clientID {
				return "", nil, ErrClientIDTaken
			}
		}
	}

	id := clientID
	a.clientID = &id

	for mid := range s.rooms[a.roomID] {
		if mid == connID {
			continue
		}
		peers = append(peers, mid)
	}
	return a.roomID, peers, nil
}

// Leave clears the connection's room membership. The registry entry survives
// so the connection can rejoin later. Leaving with no current room is a
// harmless no-op.
func (s *Store) Leave(connID string) (roomID string, left bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.conns[connID]
	if !ok || a.roomID == "" {
		return "", false
	}
	roomID = a.roomID
	s.removeFromRoomLocked(roomID, connID)
	a.roomID = ""
	return roomID, true
}

// Remove atomically removes the connection from its room (if any) and deletes
// its registry entry. It returns the room the connection was a member of, and
// is idempotent with respect to repeated cleanup.
func (s *Store) Remove(connID string) (roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.conns[connID]
	if !ok {
		return ""
	}
	roomID = a.roomID
	if roomID != "" {
		s.removeFromRoomLocked(roomID, connID)
	}
	delete(s.conns, connID)
	return roomID
}

func (s *Store) addToRoomLocked(roomID, connID string) {
	room := s.rooms[roomID]
	if room == nil {
		room = make(map[string]struct{})
		s.rooms[roomID] = room
	}
	room[connID] = struct{}{}
}

func (s *Store) removeFromRoomLocked(roomID, connID string) {
	room := s.rooms[roomID]
	delete(room, connID)
	if len(room) == 0 {
		delete(s.rooms, roomID)
	}
}

func memberOf(a *attrs) Member {
	if a == nil || a.clientID == nil {
		return Member{}
	}
	id := *a.clientID
	return Member{ClientID: &id}
}
