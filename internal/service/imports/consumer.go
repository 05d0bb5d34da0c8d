package imports

import (
	"context"
	"fmt"

	"github.com/ignite/property-imports/internal/domain"
	"github.com/ignite/property-imports/internal/metrics"
	"github.com/ignite/property-imports/internal/pkg/distlock"
	"github.com/ignite/property-imports/internal/pkg/logger"
)

// DefaultMaxRetries is the redelivery ceiling after which a batch is
// dead-lettered.
const DefaultMaxRetries = 5

// Acknowledger settles one delivery with the broker.
type Acknowledger interface {
	// Ack removes the delivery from the work queue.
	Ack() error
	// Reject discards the delivery without requeue so the broker's
	// dead-letter routing moves it into the retry queue.
	Reject() error
	// DeadLetter publishes the message to the dead-letter queue and then
	// acknowledges the original delivery. When the publish fails it rejects
	// the original instead, so the delivery is settled either way.
	DeadLetter(ctx context.Context) error
}

// Outcome is how a delivery was settled.
type Outcome int

const (
	OutcomeProcessed Outcome = iota
	OutcomeDuplicate
	OutcomeRetried
	OutcomeDeadLettered
)

func (o Outcome) String() string {
	switch o {
	case OutcomeProcessed:
		return metrics.ResultOK
	case OutcomeDuplicate:
		return metrics.ResultDuplicate
	case OutcomeRetried:
		return metrics.ResultRetry
	case OutcomeDeadLettered:
		return metrics.ResultDLQ
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result describes one HandleBatch call.
type Result struct {
	Outcome Outcome
	// Guard tells whether the critical section ran under the job lock.
	Guard distlock.Guard
	// Err is the processing error that sent the batch to retry or DLQ.
	Err error
	// Completed is set when this batch moved the job to completed.
	Completed bool
}

// ConsumerConfig tunes the consumer.
type ConsumerConfig struct {
	MaxRetries int
}

// Consumer applies batch messages to the store. It holds no per-message
// state and is safe for concurrent use.
type Consumer struct {
	jobs       JobRepository
	ledger     BatchLedger
	properties PropertyRepository
	locker     distlock.Locker
	maxRetries int
	log        *logger.Logger
}

// NewConsumer creates a consumer. locker may be nil, in which case every
// batch runs unlocked.
func NewConsumer(jobs JobRepository, ledger BatchLedger, properties PropertyRepository, locker distlock.Locker, cfg ConsumerConfig) *Consumer {
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	return &Consumer{
		jobs:       jobs,
		ledger:     ledger,
		properties: properties,
		locker:     locker,
		maxRetries: cfg.MaxRetries,
		log:        logger.Component("imports.consumer"),
	}
}

// LockName is the per-job lock key.
func LockName(jobID string) string {
	return "imports:job:" + jobID
}

// HandleBatch processes one delivery of msg. redeliveries is how many times
// the message already failed. The delivery is always settled through ack
// before HandleBatch returns.
func (c *Consumer) HandleBatch(ctx context.Context, msg *domain.BatchMessage, redeliveries int, ack Acknowledger) Result {
	log := c.log.With("job_id", msg.JobID, "seq", msg.Seq)

	var res Result
	guard, err := distlock.RunGuarded(ctx, c.locker, LockName(msg.JobID), func(ctx context.Context) error {
		var err error
		res, err = c.apply(ctx, msg)
		return err
	})
	res.Guard = guard
	if !guard.Held() {
		metrics.LockDegraded.Inc()
	}

	if err == nil {
		if res.Outcome == OutcomeDuplicate {
			log.Warn("duplicate batch ignored")
		}
		if aerr := ack.Ack(); aerr != nil {
			log.Error("failed to ack batch", "error", aerr)
		}
		metrics.RecordBatch(res.Outcome.String())
		return res
	}

	res.Err = err
	if redeliveries >= c.maxRetries {
		log.Error("batch failed permanently, dead-lettering", "attempts", redeliveries+1, "error", err)
		res.Outcome = OutcomeDeadLettered
		if derr := ack.DeadLetter(ctx); derr != nil {
			log.Error("failed to dead-letter batch, rejected for another round", "error", derr)
			res.Outcome = OutcomeRetried
		}
	} else {
		log.Warn("batch failed, retry with backoff", "attempt", redeliveries+1, "error", err)
		res.Outcome = OutcomeRetried
		if rerr := ack.Reject(); rerr != nil {
			log.Error("failed to reject batch", "error", rerr)
		}
	}
	metrics.RecordBatch(res.Outcome.String())
	return res
}

// apply is the per-job critical section. The ledger row is written only
// after the counters, so a crash in between re-applies the batch once on
// redelivery instead of losing it. Duplicates skip straight to the
// completion check, which closes the gap left by a crash after the ledger
// write.
func (c *Consumer) apply(ctx context.Context, msg *domain.BatchMessage) (Result, error) {
	seen, err := c.ledger.IsProcessed(ctx, msg.JobID, msg.Seq)
	if err != nil {
		return Result{}, fmt.Errorf("check ledger: %w", err)
	}

	res := Result{Outcome: OutcomeDuplicate}
	if !seen {
		if err := c.applyRows(ctx, msg); err != nil {
			return Result{}, err
		}
		res.Outcome = OutcomeProcessed
	}

	res.Completed, err = c.completeIfDone(ctx, msg.JobID)
	if err != nil {
		return Result{}, err
	}
	return res, nil
}

func (c *Consumer) applyRows(ctx context.Context, msg *domain.BatchMessage) error {
	ok, ko, err := c.properties.UpsertRows(ctx, msg.TenantID, msg.Rows)
	if err != nil {
		return fmt.Errorf("persist rows: %w", err)
	}
	metrics.RecordRows(ok, ko)

	delta := domain.Counters{
		Processed: int64(len(msg.Rows)),
		Succeeded: int64(ok),
		Failed:    int64(ko),
	}
	if err := c.jobs.Increment(ctx, msg.JobID, delta); err != nil {
		return fmt.Errorf("update counters: %w", err)
	}

	if _, err := c.ledger.MarkProcessed(ctx, msg.JobID, msg.Seq); err != nil {
		return fmt.Errorf("record batch: %w", err)
	}
	return nil
}

// completeIfDone re-reads the job and completes it once it is published and
// every announced row is processed. Failed jobs are left alone.
func (c *Consumer) completeIfDone(ctx context.Context, jobID string) (bool, error) {
	job, err := c.jobs.GetByID(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("reload job: %w", err)
	}
	if job.Status != domain.ImportProcessing || !job.Done() {
		return false, nil
	}
	completed, err := c.jobs.MarkCompleted(ctx, jobID)
	if err != nil {
		return false, fmt.Errorf("complete job: %w", err)
	}
	if completed {
		c.log.Info("import completed",
			"job_id", job.ID,
			"processed", job.Processed,
			"succeeded", job.Succeeded,
			"failed", job.Failed,
		)
	}
	return completed, nil
}
