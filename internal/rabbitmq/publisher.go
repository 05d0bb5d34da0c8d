package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ignite/property-imports/internal/domain"
)

// ErrNacked is returned when the broker refuses a published message.
var ErrNacked = errors.New("message nacked by broker")

// confirmChannel is the part of *amqp.Channel used to publish.
type confirmChannel interface {
	PublishWithDeferredConfirmWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) (*amqp.DeferredConfirmation, error)
}

// Publisher sends messages to queues through the default exchange and waits
// for the broker confirmation of each one.
type Publisher struct {
	ch confirmChannel
}

// NewPublisher puts ch into confirm mode.
func NewPublisher(ch *amqp.Channel) (*Publisher, error) {
	if err := ch.Confirm(false); err != nil {
		return nil, fmt.Errorf("enable publisher confirms: %w", err)
	}
	return &Publisher{ch: ch}, nil
}

// Publish sends body to queue as a persistent JSON message. It returns once
// the broker confirmed it, or an error when it was nacked or ctx expired.
func (p *Publisher) Publish(ctx context.Context, queue string, body []byte, headers amqp.Table) error {
	dc, err := p.ch.PublishWithDeferredConfirmWithContext(ctx, "", queue, false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		Timestamp:    time.Now(),
		Headers:      headers,
		Body:         body,
	})
	if err != nil {
		return fmt.Errorf("publish to %s: %w", queue, err)
	}
	if dc == nil {
		// Channel is not in confirm mode.
		return nil
	}
	acked, err := dc.WaitContext(ctx)
	if err != nil {
		return fmt.Errorf("wait confirm from %s: %w", queue, err)
	}
	if !acked {
		return fmt.Errorf("publish to %s: %w", queue, ErrNacked)
	}
	return nil
}

// PublishBatch implements imports.BatchPublisher on QueueBatch.
func (p *Publisher) PublishBatch(ctx context.Context, msg *domain.BatchMessage) error {
	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("encode batch: %w", err)
	}
	return p.Publish(ctx, QueueBatch, body, nil)
}
