package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

type MessageType string

const (
	// Client-to-server events.
	MessageTypeJoin     MessageType = "join"
	MessageTypeIdentify MessageType = "id"
	MessageTypeLeave    MessageType = "leave"
	MessageTypeSignal   MessageType = "signal"

	// Server-to-client events. MessageTypeJoin and MessageTypeSignal are used
	// in both directions.
	MessageTypeSetClients MessageType = "setClients"
	MessageTypeSetClient  MessageType = "setClient"
	MessageTypeError      MessageType = "error"
)

// SignalPayload is an opaque payload relayed verbatim between two connections.
// Clients set To; the server replaces it with From before delivery.
type SignalPayload struct {
	Data json.RawMessage `json:"data,omitempty"`
	To   string          `json:"to,omitempty"`
	From string          `json:"from,omitempty"`
}

// ClientInfo is the announced session identity of a connection. ClientID is
// nil for connections that have not claimed an identity yet.
type ClientInfo struct {
	ClientID *int64 `json:"clientId,omitempty"`
}

// ClientMessage is a client-issued event. Exactly the fields belonging to the
// declared type may be present; anything else is a protocol violation fatal to
// the connection.
type ClientMessage struct {
	Type MessageType `json:"type"`

	// join
	HostName   string `json:"hostName,omitempty"`
	ServerName string `json:"serverName,omitempty"`
	RoomName   string `json:"roomName,omitempty"`

	// join, id
	ID *int64 `json:"id,omitempty"`

	// signal
	Signal *SignalPayload `json:"signal,omitempty"`
}

// ParseClientMessage decodes and validates a client event. Unknown fields,
// trailing data and shape violations are all errors; the caller treats any
// error as a malformed command and terminates the connection.
func ParseClientMessage(data []byte) (ClientMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg ClientMessage
	if err := dec.Decode(&msg); err != nil {
		return ClientMessage{}, err
	}
	if err := msg.validate(); err != nil {
		return ClientMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return ClientMessage{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}

func (m ClientMessage) validate() error {
	switch m.Type {
	case MessageTypeJoin:
		if m.ID == nil {
			return fmt.Errorf("join message missing id")
		}
		if m.Signal != nil {
			return fmt.Errorf("join message has unexpected fields")
		}
	case MessageTypeIdentify:
		if m.ID == nil {
			return fmt.Errorf("id message missing id")
		}
		if m.HostName != "" || m.ServerName != "" || m.RoomName != "" || m.Signal != nil {
			return fmt.Errorf("id message has unexpected fields")
		}
	case MessageTypeLeave:
		if m.ID != nil || m.HostName != "" || m.ServerName != "" || m.RoomName != "" || m.Signal != nil {
			return fmt.Errorf("leave message has unexpected fields")
		}
	case MessageTypeSignal:
		if m.Signal == nil {
			return fmt.Errorf("signal message missing signal")
		}
		if len(m.Signal.Data) == 0 || bytes.Equal(m.Signal.Data, []byte("null")) {
			return fmt.Errorf("signal message missing data")
		}
		if m.Signal.To == "" {
			return fmt.Errorf("signal message missing destination")
		}
		if m.Signal.From != "" {
			return fmt.Errorf("signal message must not set from")
		}
		if m.ID != nil || m.HostName != "" || m.ServerName != "" || m.RoomName != "" {
			return fmt.Errorf("signal message has unexpected fields")
		}
	default:
		return fmt.Errorf("unsupported message type %q", m.Type)
	}
	return nil
}

// ServerMessage is a server-emitted event.
type ServerMessage struct {
	Type MessageType `json:"type"`

	// join, setClient: the connection the update is about.
	From   string      `json:"from,omitempty"`
	Client *ClientInfo `json:"client,omitempty"`

	// setClients: snapshot of the joined room's other members.
	Clients map[string]ClientInfo `json:"clients,omitempty"`

	// signal
	Signal *SignalPayload `json:"signal,omitempty"`

	// error
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// ParseServerMessage decodes a server event. It exists for test clients; the
// server itself only marshals ServerMessage.
func ParseServerMessage(data []byte) (ServerMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()

	var msg ServerMessage
	if err := dec.Decode(&msg); err != nil {
		return ServerMessage{}, err
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return ServerMessage{}, fmt.Errorf("unexpected trailing data")
	}
	return msg, nil
}
