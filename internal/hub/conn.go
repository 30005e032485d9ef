package hub

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/peermesh/rendezvous/internal/metrics"
	"github.com/peermesh/rendezvous/internal/protocol"
	"github.com/peermesh/rendezvous/internal/ratelimit"
)

const writeWait = 1 * time.Second

// conn adapts a gorilla WebSocket connection to the hub's Peer interface.
//
// Writes are serialized by writeMu with a bounded deadline, so a stuck peer
// can stall a broadcast for at most writeWait before Send reports failure and
// the hub drops the connection.
type conn struct {
	id  string
	hub *Hub
	ws  *websocket.Conn
	log *slog.Logger

	limiter         *ratelimit.Limiter
	maxMessageBytes int64
	idleTimeout     time.Duration
	pingInterval    time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
	done      chan struct{}
}

func newConn(id string, h *Hub, ws *websocket.Conn, logger *slog.Logger, cfg ServerConfig) *conn {
	return &conn{
		id:              id,
		hub:             h,
		ws:              ws,
		log:             logger,
		limiter:         ratelimit.New(nil, cfg.MessagesPerSecond, cfg.MessagesPerSecond),
		maxMessageBytes: cfg.MaxMessageBytes,
		idleTimeout:     cfg.IdleTimeout,
		pingInterval:    cfg.PingInterval,
		done:            make(chan struct{}),
	}
}

func (c *conn) ID() string { return c.id }

func (c *conn) Send(msg *protocol.ServerMessage) bool {
	data, err := json.Marshal(msg)
	if err != nil {
		return false
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(websocket.TextMessage, data) == nil
}

// Terminate implements forced disconnection on protocol violations: a
// terminal error event, then a close frame. The read loop observes the closed
// socket and runs the normal detach path.
func (c *conn) Terminate(code, message string) {
	_ = c.Send(&protocol.ServerMessage{
		Type:    protocol.MessageTypeError,
		Code:    code,
		Message: message,
	})
	c.closeWith(websocket.ClosePolicyViolation, code)
}

func (c *conn) closeWith(closeCode int, reason string) {
	c.closeOnce.Do(func() {
		c.writeMu.Lock()
		_ = c.ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(closeCode, reason),
			time.Now().Add(writeWait))
		c.writeMu.Unlock()
		close(c.done)
		_ = c.ws.Close()
	})
}

// run reads client events until the connection dies, dispatching each one to
// the hub in arrival order. It blocks the caller's goroutine.
func (c *conn) run() {
	defer func() {
		c.closeWith(websocket.CloseNormalClosure, "")
		c.hub.Detach(c)
	}()

	go c.keepalive()

	c.ws.SetReadLimit(c.maxMessageBytes)
	_ = c.ws.SetReadDeadline(time.Now().Add(c.idleTimeout))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(c.idleTimeout))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			return
		}
		_ = c.ws.SetReadDeadline(time.Now().Add(c.idleTimeout))

		if !c.limiter.Allow() {
			c.hub.Metrics().Inc(metrics.RateLimited)
			c.log.Warn("message rate limit exceeded", "conn_id", c.id)
			c.Terminate(CodeRateLimited, "message rate limit exceeded")
			return
		}

		c.hub.Handle(c, data)
	}
}

func (c *conn) keepalive() {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
			c.writeMu.Unlock()
			if err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}
