package rabbitmq

import (
	"context"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

// DeadLetterPublisher sends a message body to a queue.
type DeadLetterPublisher interface {
	Publish(ctx context.Context, queue string, body []byte, headers amqp.Table) error
}

// Delivery wraps one amqp.Delivery and settles it the way the import
// consumer expects.
type Delivery struct {
	d   amqp.Delivery
	dlq DeadLetterPublisher
}

func NewDelivery(d amqp.Delivery, dlq DeadLetterPublisher) *Delivery {
	return &Delivery{d: d, dlq: dlq}
}

func (d *Delivery) Body() []byte { return d.d.Body }

// Redeliveries is how many times this message was already rejected.
func (d *Delivery) Redeliveries() int { return DeathCount(d.d.Headers) }

func (d *Delivery) Ack() error { return d.d.Ack(false) }

// Reject discards the delivery without requeue, handing it to the queue's
// dead-letter routing.
func (d *Delivery) Reject() error { return d.d.Reject(false) }

// DeadLetter copies the message into QueueDLQ and then acknowledges the
// original. If the copy fails the original is rejected instead, so it goes
// round the retry queues and the copy is attempted again on its next
// delivery. The delivery is settled either way.
func (d *Delivery) DeadLetter(ctx context.Context) error {
	if err := d.dlq.Publish(ctx, QueueDLQ, d.d.Body, d.d.Headers); err != nil {
		if rerr := d.Reject(); rerr != nil {
			return fmt.Errorf("dead-letter: %w (reject: %v)", err, rerr)
		}
		return fmt.Errorf("dead-letter: %w", err)
	}
	return d.Ack()
}

// DeathCount sums the x-death counts recorded for rejections. Expiry
// entries added by the retry queues are ignored, so a message on its n-th
// attempt reports n-1.
func DeathCount(headers amqp.Table) int {
	deaths, ok := headers["x-death"].([]interface{})
	if !ok {
		return 0
	}
	total := 0
	for _, entry := range deaths {
		death, ok := entry.(amqp.Table)
		if !ok {
			continue
		}
		if reason, _ := death["reason"].(string); reason != "rejected" {
			continue
		}
		total += toInt(death["count"])
	}
	return total
}

func toInt(v interface{}) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case int32:
		return int(n)
	case int:
		return n
	case int16:
		return int(n)
	case uint8:
		return int(n)
	default:
		return 0
	}
}
