package registry

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"testing"
)

func TestRoomID(t *testing.T) {
	if got := RoomID("host1", "srv1", "room1"); got != "host1-srv1-room1" {
		t.Fatalf("RoomID=%q", got)
	}
	if RoomID("a", "b", "c") == RoomID("a", "b", "d") {
		t.Fatalf("distinct triples must derive distinct room ids")
	}
	// Case-sensitive concatenation.
	if RoomID("A", "b", "c") == RoomID("a", "b", "c") {
		t.Fatalf("room ids must be case sensitive")
	}
}

func TestJoinAndSnapshot(t *testing.T) {
	s := NewStore()
	s.Register("a")
	s.Register("b")

	others, err := s.Join("a", "r1", 5)
	if err != nil {
		t.Fatalf("join a: %v", err)
	}
	if len(others) != 0 {
		t.Fatalf("first join saw %d peers", len(others))
	}

	others, err = s.Join("b", "r1", 6)
	if err != nil {
		t.Fatalf("join b: %v", err)
	}
	if len(others) != 1 {
		t.Fatalf("second join saw %d peers", len(others))
	}
	m, ok := others["a"]
	if !ok || m.ClientID == nil || *m.ClientID != 5 {
		t.Fatalf("snapshot of a: %+v", m)
	}

	members := s.MembersOf("r1")
	sort.Strings(members)
	if fmt.Sprint(members) != "[a b]" {
		t.Fatalf("members=%v", members)
	}
}

func TestJoinRejectsDuplicateClientID(t *testing.T) {
	s := NewStore()
	s.Register("a")
	s.Register("c")
	if _, err := s.Join("a", "r1", 5); err != nil {
		t.Fatalf("join a: %v", err)
	}

	_, err := s.Join("c", "r1", 5)
	if !errors.Is(err, ErrClientIDTaken) {
		t.Fatalf("err=%v, want ErrClientIDTaken", err)
	}
	// No partial effects: c is not a member and has no room.
	for _, id := range s.MembersOf("r1") {
		if id == "c" {
			t.Fatalf("c was added to the room despite rejection")
		}
	}
	if _, roomID, _ := s.Get("c"); roomID != "" {
		t.Fatalf("c got roomID=%q", roomID)
	}
}

func TestJoinSameIDDifferentRooms(t *testing.T) {
	s := NewStore()
	s.Register("a")
	s.Register("b")
	if _, err := s.Join("a", "r1", 5); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if _, err := s.Join("b", "r2", 5); err != nil {
		t.Fatalf("same client id in a different room must be allowed: %v", err)
	}
}

func TestJoinMovesBetweenRooms(t *testing.T) {
	s := NewStore()
	s.Register("a")
	if _, err := s.Join("a", "r1", 5); err != nil {
		t.Fatalf("join r1: %v", err)
	}
	if _, err := s.Join("a", "r2", 5); err != nil {
		t.Fatalf("join r2: %v", err)
	}
	if len(s.MembersOf("r1")) != 0 {
		t.Fatalf("a still a member of r1")
	}
	if len(s.MembersOf("r2")) != 1 {
		t.Fatalf("a not a member of r2")
	}
	if _, roomID, _ := s.Get("a"); roomID != "r2" {
		t.Fatalf("roomID=%q", roomID)
	}
}

func TestJoinRejectsChangedClientID(t *testing.T) {
	s := NewStore()
	s.Register("a")
	if _, _, err := s.SetClientID("a", 5); err != nil {
		t.Fatalf("set: %v", err)
	}
	_, err := s.Join("a", "r1", 6)
	if !errors.Is(err, ErrClientIDMismatch) {
		t.Fatalf("err=%v, want ErrClientIDMismatch", err)
	}
}

func TestSetClientID(t *testing.T) {
	s := NewStore()
	s.Register("a")

	roomID, peers, err := s.SetClientID("a", 7)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if roomID != "" || len(peers) != 0 {
		t.Fatalf("roomID=%q peers=%v before joining", roomID, peers)
	}

	// Confirming the same value is fine.
	if _, _, err := s.SetClientID("a", 7); err != nil {
		t.Fatalf("confirm: %v", err)
	}

	// Changing it is not.
	if _, _, err := s.SetClientID("a", 8); !errors.Is(err, ErrClientIDMismatch) {
		t.Fatalf("err=%v, want ErrClientIDMismatch", err)
	}
	if m, _, _ := s.Get("a"); m.ClientID == nil || *m.ClientID != 7 {
		t.Fatalf("client id mutated to %v", m.ClientID)
	}
}

func TestSetClientIDReturnsRoomPeers(t *testing.T) {
	s := NewStore()
	s.Register("a")
	s.Register("b")
	if _, err := s.Join("a", "r1", 1); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if _, err := s.Join("b", "r1", 2); err != nil {
		t.Fatalf("join b: %v", err)
	}

	roomID, peers, err := s.SetClientID("b", 2)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if roomID != "r1" {
		t.Fatalf("roomID=%q", roomID)
	}
	if len(peers) != 1 || peers[0] != "a" {
		t.Fatalf("peers=%v", peers)
	}
}

func TestSetClientIDRejectsPeerID(t *testing.T) {
	s := NewStore()
	s.Register("a")
	s.Register("b")
	if _, err := s.Join("a", "r1", 1); err != nil {
		t.Fatalf("join a: %v", err)
	}
	if _, err := s.Join("b", "r1", 2); err != nil {
		t.Fatalf("join b: %v", err)
	}

	// b committed id 2 on join; claiming a's id is a change, not a claim.
	if _, _, err := s.SetClientID("b", 1); !errors.Is(err, ErrClientIDMismatch) {
		t.Fatalf("err=%v, want ErrClientIDMismatch", err)
	}
}

func TestLeave(t *testing.T) {
	s := NewStore()
	s.Register("a")
	if _, err := s.Join("a", "r1", 5); err != nil {
		t.Fatalf("join: %v", err)
	}

	roomID, left := s.Leave("a")
	if !left || roomID != "r1" {
		t.Fatalf("leave: roomID=%q left=%v", roomID, left)
	}
	if len(s.MembersOf("r1")) != 0 {
		t.Fatalf("room still has members")
	}
	// Registry entry survives a leave; identity is retained.
	m, roomID, ok := s.Get("a")
	if !ok || roomID != "" {
		t.Fatalf("entry gone or still roomed: ok=%v roomID=%q", ok, roomID)
	}
	if m.ClientID == nil || *m.ClientID != 5 {
		t.Fatalf("client id lost on leave: %v", m.ClientID)
	}

	// Leaving again is a harmless no-op.
	if _, left := s.Leave("a"); left {
		t.Fatalf("second leave reported a room")
	}
}

func TestRemove(t *testing.T) {
	s := NewStore()
	s.Register("a")
	if _, err := s.Join("a", "r1", 5); err != nil {
		t.Fatalf("join: %v", err)
	}

	if roomID := s.Remove("a"); roomID != "r1" {
		t.Fatalf("Remove roomID=%q", roomID)
	}
	if _, _, ok := s.Get("a"); ok {
		t.Fatalf("entry survived removal")
	}
	if len(s.MembersOf("r1")) != 0 {
		t.Fatalf("membership survived removal")
	}
	// Idempotent cleanup.
	if roomID := s.Remove("a"); roomID != "" {
		t.Fatalf("second Remove roomID=%q", roomID)
	}
}

func TestMembersOfUnknownRoom(t *testing.T) {
	s := NewStore()
	if members := s.MembersOf("nope"); len(members) != 0 {
		t.Fatalf("members=%v", members)
	}
}

// Concurrent joins to the same room must never commit two members with the
// same client id, and every successful join's snapshot must be consistent
// with the final membership.
func TestConcurrentJoinsKeepClientIDsUnique(t *testing.T) {
	s := NewStore()

	const workers = 64
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		connID := fmt.Sprintf("conn-%d", i)
		s.Register(connID)
		wg.Add(1)
		go func(connID string, i int) {
			defer wg.Done()
			// Half the workers contend for the same client id.
			_, _ = s.Join(connID, "contended", int64(i%(workers/2)))
		}(connID, i)
	}
	wg.Wait()

	seen := make(map[int64]string)
	for _, id := range s.MembersOf("contended") {
		m, _, ok := s.Get(id)
		if !ok || m.ClientID == nil {
			t.Fatalf("member %s has no registry entry", id)
		}
		if prev, dup := seen[*m.ClientID]; dup {
			t.Fatalf("client id %d held by both %s and %s", *m.ClientID, prev, id)
		}
		seen[*m.ClientID] = id
	}
}
