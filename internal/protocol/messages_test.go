package protocol

import (
	"strings"
	"testing"
)

func TestParseClientMessage_Join(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"join","hostName":"host1","serverName":"srv1","roomName":"room1","id":5}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Type != MessageTypeJoin {
		t.Fatalf("type=%q", msg.Type)
	}
	if msg.HostName != "host1" || msg.ServerName != "srv1" || msg.RoomName != "room1" {
		t.Fatalf("names=%q %q %q", msg.HostName, msg.ServerName, msg.RoomName)
	}
	if msg.ID == nil || *msg.ID != 5 {
		t.Fatalf("id=%v", msg.ID)
	}
}

func TestParseClientMessage_Identify(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"id","id":-3}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.ID == nil || *msg.ID != -3 {
		t.Fatalf("id=%v", msg.ID)
	}
}

func TestParseClientMessage_Leave(t *testing.T) {
	if _, err := ParseClientMessage([]byte(`{"type":"leave"}`)); err != nil {
		t.Fatalf("parse: %v", err)
	}
}

func TestParseClientMessage_Signal(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"signal","signal":{"data":{"sdp":"x"},"to":"abc"}}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Signal.To != "abc" {
		t.Fatalf("to=%q", msg.Signal.To)
	}
	if string(msg.Signal.Data) != `{"sdp":"x"}` {
		t.Fatalf("data=%s", msg.Signal.Data)
	}
}

func TestParseClientMessage_Rejects(t *testing.T) {
	cases := map[string]string{
		"unknown type":          `{"type":"ping"}`,
		"missing type":          `{"id":1}`,
		"join without id":       `{"type":"join","hostName":"h","serverName":"s","roomName":"r"}`,
		"join id not a number":  `{"type":"join","hostName":"h","serverName":"s","roomName":"r","id":"5"}`,
		"join name not string":  `{"type":"join","hostName":7,"serverName":"s","roomName":"r","id":5}`,
		"join with signal":      `{"type":"join","hostName":"h","serverName":"s","roomName":"r","id":5,"signal":{"data":1,"to":"x"}}`,
		"id without id":         `{"type":"id"}`,
		"id with room fields":   `{"type":"id","id":1,"roomName":"r"}`,
		"leave with id":         `{"type":"leave","id":1}`,
		"signal without signal": `{"type":"signal"}`,
		"signal without data":   `{"type":"signal","signal":{"to":"abc"}}`,
		"signal null data":      `{"type":"signal","signal":{"data":null,"to":"abc"}}`,
		"signal without to":     `{"type":"signal","signal":{"data":"x"}}`,
		"signal sets from":      `{"type":"signal","signal":{"data":"x","to":"abc","from":"me"}}`,
		"unknown field":         `{"type":"leave","extra":true}`,
		"trailing data":         `{"type":"leave"}{"type":"leave"}`,
		"not an object":         `[1,2,3]`,
	}
	for name, raw := range cases {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Errorf("%s: expected error for %s", name, raw)
		}
	}
}

func TestParseServerMessage_RoundTrip(t *testing.T) {
	raw := `{"type":"setClient","from":"abc","client":{"clientId":7}}`
	msg, err := ParseServerMessage([]byte(raw))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Type != MessageTypeSetClient || msg.From != "abc" {
		t.Fatalf("got %+v", msg)
	}
	if msg.Client == nil || msg.Client.ClientID == nil || *msg.Client.ClientID != 7 {
		t.Fatalf("client=%+v", msg.Client)
	}
}

func TestParseServerMessage_RejectsUnknownField(t *testing.T) {
	_, err := ParseServerMessage([]byte(`{"type":"error","code":"x","message":"y","bogus":1}`))
	if err == nil || !strings.Contains(err.Error(), "bogus") {
		t.Fatalf("err=%v", err)
	}
}
