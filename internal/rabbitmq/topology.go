// Package rabbitmq carries import batches over RabbitMQ: queue topology,
// confirmed publishing, delivery settlement and the consumer runner.
package rabbitmq

import (
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/ignite/property-imports/internal/pkg/logger"
)

// Queue names. A rejected batch dead-letters from QueueBatch into
// QueueRetry10s and returns to QueueBatch when its TTL expires.
const (
	QueueBatch    = "imports.batch"
	QueueRetry10s = "imports.retry.10s"
	QueueRetry60s = "imports.retry.60s"
	QueueDLQ      = "imports.batch.dlq"
)

// QueueSpec describes one durable queue.
type QueueSpec struct {
	Name string
	Args amqp.Table
}

// Topology returns the queues of the import pipeline in declaration order.
func Topology() []QueueSpec {
	return []QueueSpec{
		{
			Name: QueueBatch,
			Args: amqp.Table{
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": QueueRetry10s,
			},
		},
		{
			Name: QueueRetry10s,
			Args: amqp.Table{
				"x-message-ttl":             int32(10000),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": QueueBatch,
			},
		},
		{
			// Slower lane for callers that route to it explicitly.
			Name: QueueRetry60s,
			Args: amqp.Table{
				"x-message-ttl":             int32(60000),
				"x-dead-letter-exchange":    "",
				"x-dead-letter-routing-key": QueueBatch,
			},
		},
		{Name: QueueDLQ},
	}
}

// QueueDeclarer is the part of *amqp.Channel used to assert queues.
type QueueDeclarer interface {
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
}

// DeclareTopology asserts every queue of Topology on ch.
func DeclareTopology(ch QueueDeclarer) error {
	for _, q := range Topology() {
		if _, err := ch.QueueDeclare(q.Name, true, false, false, false, q.Args); err != nil {
			return fmt.Errorf("declare queue %s: %w", q.Name, err)
		}
	}
	return nil
}

// EnsureTopology dials url on a short-lived connection and declares the
// topology. An empty url or an unreachable broker is logged and skipped,
// since the queues may already exist from an earlier deployment.
func EnsureTopology(url string) {
	log := logger.Component("rabbitmq.topology")
	if url == "" {
		log.Warn("broker url not configured, skipping topology assertion")
		return
	}

	conn, err := amqp.Dial(url)
	if err != nil {
		log.Warn("broker unreachable, skipping topology assertion", "error", err)
		return
	}
	defer func() {
		if err := conn.Close(); err != nil {
			log.Error("failed to close topology connection", "error", err)
		}
	}()

	ch, err := conn.Channel()
	if err != nil {
		log.Warn("failed to open channel, skipping topology assertion", "error", err)
		return
	}
	defer ch.Close()

	if err := DeclareTopology(ch); err != nil {
		log.Error("failed to assert topology", "error", err)
		return
	}
	log.Info("topology asserted", "queues", len(Topology()))
}
