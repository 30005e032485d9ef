// Package events publishes room lifecycle notifications to an AMQP exchange
// for external consumers (matchmaking dashboards, audit trails). Publishing
// is best effort: failures are logged and counted, never surfaced to clients.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/peermesh/rendezvous/internal/metrics"
)

type Kind string

const (
	Joined       Kind = "join"
	Left         Kind = "leave"
	Disconnected Kind = "disconnect"
)

// RoomEvent describes one membership change.
type RoomEvent struct {
	Event    Kind   `json:"event"`
	ConnID   string `json:"connId"`
	RoomID   string `json:"roomId,omitempty"`
	ClientID *int64 `json:"clientId,omitempty"`
}

// Sink consumes room events. Implementations must not block the caller
// beyond a bounded publish timeout.
type Sink interface {
	Publish(ev RoomEvent)
}

// Nop discards all events. Used when no message queue is configured.
type Nop struct{}

func (Nop) Publish(RoomEvent) {}

const publishTimeout = 5 * time.Second

// Publisher sends room events to a topic exchange, one routing key per event
// kind.
type Publisher struct {
	log      *slog.Logger
	metrics  *metrics.Metrics
	conn     *amqp.Connection
	ch       *amqp.Channel
	exchange string
}

// Dial connects to the broker and declares the exchange.
func Dial(url, exchange string, logger *slog.Logger, m *metrics.Metrics) (*Publisher, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("dial message queue: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("open channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, fmt.Errorf("declare exchange %q: %w", exchange, err)
	}
	return &Publisher{
		log:      logger,
		metrics:  m,
		conn:     conn,
		ch:       ch,
		exchange: exchange,
	}, nil
}

func (p *Publisher) Publish(ev RoomEvent) {
	body, err := json.Marshal(ev)
	if err != nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()

	err = p.ch.PublishWithContext(ctx, p.exchange, string(ev.Event), false, false, amqp.Publishing{
		ContentType: "application/json",
		Body:        body,
	})
	if err != nil {
		if p.metrics != nil {
			p.metrics.Inc(metrics.EventPublishFailed)
		}
		p.log.Warn("failed to publish room event", "event", ev.Event, "room_id", ev.RoomID, "err", err)
	}
}

func (p *Publisher) Close() error {
	return p.conn.Close()
}
