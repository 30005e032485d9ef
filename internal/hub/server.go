package hub

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/peermesh/rendezvous/internal/metrics"
	"github.com/peermesh/rendezvous/internal/origin"
	"github.com/peermesh/rendezvous/internal/protocol"
)

// ServerConfig carries the transport knobs for the WebSocket endpoint.
type ServerConfig struct {
	// Gate validates the client-declared version string before the upgrade.
	// Nil disables version gating (tests only).
	Gate *protocol.VersionGate

	AllowedOrigins []string

	MaxMessageBytes   int64
	MessagesPerSecond int64
	IdleTimeout       time.Duration
	PingInterval      time.Duration
}

func (cfg ServerConfig) withDefaults() ServerConfig {
	if cfg.MaxMessageBytes <= 0 {
		cfg.MaxMessageBytes = 64 * 1024
	}
	if cfg.MessagesPerSecond <= 0 {
		cfg.MessagesPerSecond = 50
	}
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 60 * time.Second
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = 20 * time.Second
	}
	return cfg
}

// Server implements the signaling WebSocket endpoint. The version gate runs
// against the upgrade request's User-Agent header; rejected clients receive
// the structured handshake error as the HTTP response body and never reach
// the session layer.
type Server struct {
	hub      *Hub
	log      *slog.Logger
	cfg      ServerConfig
	upgrader websocket.Upgrader
}

func NewServer(h *Hub, logger *slog.Logger, cfg ServerConfig) *Server {
	s := &Server{
		hub: h,
		log: logger,
		cfg: cfg.withDefaults(),
	}
	s.upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return origin.Allowed(r.Header.Get("Origin"), r.Host, s.cfg.AllowedOrigins)
		},
	}
	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Gate != nil {
		if rej := s.cfg.Gate.Check(r.Header.Get("User-Agent")); rej != nil {
			s.hub.Metrics().Inc(metrics.HandshakeRejected)
			s.log.Info("handshake rejected",
				"remote_addr", r.RemoteAddr,
				"user_agent", r.Header.Get("User-Agent"),
			)
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusBadRequest)
			_ = json.NewEncoder(w).Encode(rej)
			return
		}
	}

	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	c := newConn(uuid.NewString(), s.hub, ws, s.log, s.cfg)
	s.hub.Attach(c)
	c.run()
}
