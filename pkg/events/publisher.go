// Package events mirrors persisted message lifecycle events onto a
// RabbitMQ topic exchange for downstream consumers (the notification
// service). The mirror is optional and strictly best-effort: publish
// failures are logged by callers and never fail the triggering
// operation.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rabbitmq/amqp091-go"
)

// Meta carries event identity and correlation.
type Meta struct {
	ID            string    `json:"id"`
	CorrelationID string    `json:"correlation_id,omitempty"`
	OccurredAt    time.Time `json:"occurred_at"`
}

// Envelope is the published frame.
type Envelope struct {
	Meta    Meta   `json:"meta"`
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Routing keys for the lifecycle mirror.
const (
	KeyMessageCreated = "chat.message.created"
	KeyMessageRead    = "chat.message.read"
	KeyMessageDeleted = "chat.message.deleted"
	KeyActorBlocked   = "chat.actor.blocked"
	KeyActorUnblocked = "chat.actor.unblocked"
)

// Publisher mirrors envelopes onto an exchange.
type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
	Close() error
}

type rmqClient struct {
	conn     *amqp091.Connection
	exchange string
}

// NewAMQP dials the broker and declares a durable topic exchange.
func NewAMQP(url, exchange string) (Publisher, error) {
	conn, err := amqp091.Dial(url)
	if err != nil {
		return nil, err
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}
	defer ch.Close()
	if err := ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil); err != nil {
		conn.Close()
		return nil, err
	}
	return &rmqClient{conn: conn, exchange: exchange}, nil
}

func (r *rmqClient) Publish(ctx context.Context, key string, env Envelope) error {
	ch, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer ch.Close()
	if env.Meta.ID == "" {
		env.Meta.ID = uuid.NewString()
	}
	if env.Meta.OccurredAt.IsZero() {
		env.Meta.OccurredAt = time.Now().UTC()
	}
	body, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return ch.PublishWithContext(ctx, r.exchange, key, false, false, amqp091.Publishing{
		ContentType:   "application/json",
		MessageId:     env.Meta.ID,
		CorrelationId: env.Meta.CorrelationID,
		Timestamp:     env.Meta.OccurredAt,
		Body:          body,
	})
}

func (r *rmqClient) Close() error { return r.conn.Close() }
