package events

import (
	"encoding/json"
	"testing"
)

func TestRoomEventJSON(t *testing.T) {
	id := int64(7)
	data, err := json.Marshal(RoomEvent{
		Event:    Joined,
		ConnID:   "abc",
		RoomID:   "h-s-r",
		ClientID: &id,
	})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"event":"join","connId":"abc","roomId":"h-s-r","clientId":7}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
}

func TestRoomEventOmitsEmptyFields(t *testing.T) {
	data, err := json.Marshal(RoomEvent{Event: Disconnected, ConnID: "abc"})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	want := `{"event":"disconnect","connId":"abc"}`
	if string(data) != want {
		t.Fatalf("got %s, want %s", data, want)
	}
}

func TestNopImplementsSink(t *testing.T) {
	var s Sink = Nop{}
	s.Publish(RoomEvent{Event: Left, ConnID: "abc"})
}
