package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/ignite/property-imports/internal/domain"
	"github.com/ignite/property-imports/internal/metrics"
	"github.com/ignite/property-imports/internal/pkg/logger"
	"github.com/ignite/property-imports/internal/rabbitmq"
	"github.com/ignite/property-imports/internal/service/imports"
)

// =============================================================================
// IMPORT BATCH WORKER - Broker deliveries to the batch consumer
// =============================================================================
// Decodes each delivery of the batch queue and hands it to the consumer,
// which dedups, applies and settles it. Payloads that cannot be decoded are
// copied to the dead-letter queue at once, since no retry can fix them.

// BatchHandler applies one batch delivery and settles it.
type BatchHandler interface {
	HandleBatch(ctx context.Context, msg *domain.BatchMessage, redeliveries int, ack imports.Acknowledger) imports.Result
}

// ImportBatchWorker consumes the import batch queue.
type ImportBatchWorker struct {
	handler BatchHandler
	log     *logger.Logger
}

// NewImportBatchWorker creates a worker that delegates to handler.
func NewImportBatchWorker(handler BatchHandler) *ImportBatchWorker {
	return &ImportBatchWorker{
		handler: handler,
		log:     logger.Component("worker.import_batch"),
	}
}

// Register adds the worker to the runner's dispatch table.
func (w *ImportBatchWorker) Register(r *rabbitmq.Runner) {
	r.Handle(rabbitmq.QueueBatch, w.Handle)
}

// Handle processes one delivery.
func (w *ImportBatchWorker) Handle(ctx context.Context, d *rabbitmq.Delivery) {
	msg, err := DecodeBatch(d.Body())
	if err != nil {
		w.log.Error("poison batch message, dead-lettering", "error", err, "bytes", len(d.Body()))
		metrics.RecordBatch(metrics.ResultPoison)
		if derr := d.DeadLetter(ctx); derr != nil {
			w.log.Error("failed to dead-letter poison message", "error", derr)
		}
		return
	}

	res := w.handler.HandleBatch(ctx, msg, d.Redeliveries(), d)
	w.log.Debug("batch handled",
		"job_id", msg.JobID,
		"seq", msg.Seq,
		"outcome", res.Outcome.String(),
		"lock", res.Guard.String(),
	)
}

// DecodeBatch parses and checks a batch message body.
func DecodeBatch(body []byte) (*domain.BatchMessage, error) {
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, errors.New("empty body")
	}
	var msg domain.BatchMessage
	if err := json.Unmarshal(body, &msg); err != nil {
		return nil, fmt.Errorf("decode batch: %w", err)
	}
	if _, err := uuid.Parse(msg.JobID); err != nil {
		return nil, fmt.Errorf("invalid jobId %q", msg.JobID)
	}
	if msg.TenantID == "" {
		return nil, errors.New("missing tenantId")
	}
	if msg.Seq < 0 {
		return nil, fmt.Errorf("invalid seq %d", msg.Seq)
	}
	return &msg, nil
}
