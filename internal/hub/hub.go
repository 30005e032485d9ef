// Package hub implements the session lifecycle for signaling connections:
// join, identify, leave, signal relay and disconnect. The hub owns the shared
// registry and the set of live peers; each peer's events are handled in
// arrival order by that peer's own read loop.
package hub

import (
	"log/slog"
	"sync"

	"github.com/peermesh/rendezvous/internal/events"
	"github.com/peermesh/rendezvous/internal/metrics"
	"github.com/peermesh/rendezvous/internal/protocol"
	"github.com/peermesh/rendezvous/internal/registry"
)

// Error codes sent in the terminal error event of a forced disconnect.
const (
	CodeMalformedCommand = "malformed_command"
	CodeSpoofingAttempt  = "spoofing_attempt"
	CodeRateLimited      = "rate_limited"
	CodeSlowConsumer     = "slow_consumer"
)

// Peer is one live connection attached to the hub.
//
// Send delivers a server event; it reports false when the peer can no longer
// accept messages. Terminate sends a terminal error event followed by a close
// frame; it must be safe to call from any goroutine and more than once.
type Peer interface {
	ID() string
	Send(msg *protocol.ServerMessage) bool
	Terminate(code, message string)
}

type Hub struct {
	log     *slog.Logger
	metrics *metrics.Metrics
	store   *registry.Store
	events  events.Sink

	mu    sync.Mutex
	peers map[string]Peer
}

func New(logger *slog.Logger, m *metrics.Metrics, sink events.Sink) *Hub {
	if m == nil {
		m = metrics.New()
	}
	if sink == nil {
		sink = events.Nop{}
	}
	return &Hub{
		log:     logger,
		metrics: m,
		store:   registry.NewStore(),
		events:  sink,
		peers:   make(map[string]Peer),
	}
}

func (h *Hub) Metrics() *metrics.Metrics { return h.metrics }

// ConnectionCount returns the number of attached peers.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.peers)
}

// Attach registers a new connection. The peer has no room and no identity
// until it issues join/id events.
func (h *Hub) Attach(p Peer) {
	h.store.Register(p.ID())
	h.mu.Lock()
	h.peers[p.ID()] = p
	h.mu.Unlock()

	h.metrics.Inc(metrics.ConnectionsTotal)
	h.metrics.Inc(metrics.ConnectionsOpen)
	h.log.Info("connection established", "conn_id", p.ID())
}

// Detach removes the connection from its room (if any) and from the registry,
// atomically with respect to other lifecycle events. Repeated detaches of the
// same peer are no-ops.
func (h *Hub) Detach(p Peer) {
	h.mu.Lock()
	cur, ok := h.peers[p.ID()]
	if !ok || cur != p {
		h.mu.Unlock()
		return
	}
	delete(h.peers, p.ID())
	h.mu.Unlock()

	roomID := h.store.Remove(p.ID())
	h.metrics.Dec(metrics.ConnectionsOpen)
	h.events.Publish(events.RoomEvent{Event: events.Disconnected, ConnID: p.ID(), RoomID: roomID})
	h.log.Info("connection closed", "conn_id", p.ID(), "room_id", roomID)
}

// Handle processes one raw client event. Events for a given peer must be
// passed in arrival order; ordering across peers is unconstrained.
func (h *Hub) Handle(p Peer, data []byte) {
	msg, err := protocol.ParseClientMessage(data)
	if err != nil {
		h.metrics.Inc(metrics.MalformedCommand)
		h.log.Warn("malformed command",
			"conn_id", p.ID(),
			"err", err,
			"payload", truncate(data, 512),
		)
		p.Terminate(CodeMalformedCommand, "malformed command")
		return
	}

	switch msg.Type {
	case protocol.MessageTypeJoin:
		h.join(p, msg)
	case protocol.MessageTypeIdentify:
		h.identify(p, *msg.ID)
	case protocol.MessageTypeLeave:
		h.leave(p)
	case protocol.MessageTypeSignal:
		h.signal(p, msg.Signal)
	}
}

func (h *Hub) join(p Peer, msg protocol.ClientMessage) {
	roomID := registry.RoomID(msg.HostName, msg.ServerName, msg.RoomName)
	clientID := *msg.ID

	others, err := h.store.Join(p.ID(), roomID, clientID)
	if err != nil {
		h.metrics.Inc(metrics.SpoofingAttempt)
		h.log.Warn("join rejected",
			"conn_id", p.ID(),
			"room_id", roomID,
			"client_id", clientID,
			"err", err,
		)
		p.Terminate(CodeSpoofingAttempt, "client id conflict")
		return
	}
	h.metrics.Inc(metrics.Joins)
	h.log.Info("joined room", "conn_id", p.ID(), "room_id", roomID, "client_id", clientID, "peers", len(others))

	announced := clientID
	peerIDs := make([]string, 0, len(others))
	clients := make(map[string]protocol.ClientInfo, len(others))
	for id, m := range others {
		peerIDs = append(peerIDs, id)
		clients[id] = protocol.ClientInfo{ClientID: m.ClientID}
	}

	h.broadcast(peerIDs, &protocol.ServerMessage{
		Type:   protocol.MessageTypeJoin,
		From:   p.ID(),
		Client: &protocol.ClientInfo{ClientID: &announced},
	})
	h.deliver(p.ID(), &protocol.ServerMessage{
		Type:    protocol.MessageTypeSetClients,
		Clients: clients,
	})
	h.events.Publish(events.RoomEvent{Event: events.Joined, ConnID: p.ID(), RoomID: roomID, ClientID: &announced})
}

func (h *Hub) identify(p Peer, clientID int64) {
	roomID, peerIDs, err := h.store.SetClientID(p.ID(), clientID)
	if err != nil {
		h.metrics.Inc(metrics.SpoofingAttempt)
		h.log.Warn("identify rejected",
			"conn_id", p.ID(),
			"client_id", clientID,
			"err", err,
		)
		p.Terminate(CodeSpoofingAttempt, "client id conflict")
		return
	}
	if roomID == "" {
		return
	}
	announced := clientID
	h.broadcast(peerIDs, &protocol.ServerMessage{
		Type:   protocol.MessageTypeSetClient,
		From:   p.ID(),
		Client: &protocol.ClientInfo{ClientID: &announced},
	})
}

func (h *Hub) leave(p Peer) {
	roomID, left := h.store.Leave(p.ID())
	if !left {
		return
	}
	h.metrics.Inc(metrics.Leaves)
	h.log.Info("left room", "conn_id", p.ID(), "room_id", roomID)
	h.events.Publish(events.RoomEvent{Event: events.Left, ConnID: p.ID(), RoomID: roomID})
}

// signal relays an opaque payload to the named destination. Delivery is fire
// and forget: an unknown destination drops the payload silently. Destinations
// are resolved across all live connections, not just the sender's room.
func (h *Hub) signal(p Peer, sig *protocol.SignalPayload) {
	h.mu.Lock()
	dst := h.peers[sig.To]
	h.mu.Unlock()

	if dst == nil {
		h.metrics.Inc(metrics.SignalTargetMissing)
		return
	}
	h.metrics.Inc(metrics.SignalsRelayed)
	h.send(dst, &protocol.ServerMessage{
		Type: protocol.MessageTypeSignal,
		Signal: &protocol.SignalPayload{
			Data: sig.Data,
			From: p.ID(),
		},
	})
}

func (h *Hub) deliver(connID string, msg *protocol.ServerMessage) {
	h.mu.Lock()
	p := h.peers[connID]
	h.mu.Unlock()
	if p != nil {
		h.send(p, msg)
	}
}

func (h *Hub) broadcast(peerIDs []string, msg *protocol.ServerMessage) {
	for _, id := range peerIDs {
		h.deliver(id, msg)
	}
}

func (h *Hub) send(p Peer, msg *protocol.ServerMessage) {
	if p.Send(msg) {
		return
	}
	h.metrics.Inc(metrics.SlowConsumerDropped)
	h.log.Warn("dropping unresponsive connection", "conn_id", p.ID())
	p.Terminate(CodeSlowConsumer, "connection not consuming messages")
}

func truncate(data []byte, n int) string {
	if len(data) <= n {
		return string(data)
	}
	return string(data[:n]) + "..."
}
