package imports

import (
	"context"

	"github.com/ignite/property-imports/internal/domain"
)

// JobRepository defines the data access contract for import jobs. Every
// counter change is a single store-level increment.
type JobRepository interface {
	// CreateOrGet inserts job unless one already exists for its
	// (tenant, idempotency key). It returns the stored job and whether this
	// call created it.
	CreateOrGet(ctx context.Context, job *domain.ImportJob) (*domain.ImportJob, bool, error)

	// FindByKey returns the job for (tenant, idempotency key) or ErrNotFound.
	FindByKey(ctx context.Context, tenantID, key string) (*domain.ImportJob, error)

	// Get returns a job owned by tenantID or ErrNotFound.
	Get(ctx context.Context, tenantID, id string) (*domain.ImportJob, error)

	// GetByID returns a job regardless of tenant or ErrNotFound.
	GetByID(ctx context.Context, id string) (*domain.ImportJob, error)

	// Increment adds delta to the job counters in one statement.
	Increment(ctx context.Context, id string, delta domain.Counters) error

	// MarkPublished sets published and, in the same statement, completes a
	// processing job whose processed count already covers total_estimated.
	MarkPublished(ctx context.Context, id string) (completed bool, err error)

	// MarkCompleted moves a processing job to completed.
	MarkCompleted(ctx context.Context, id string) (bool, error)

	// MarkFailed moves a job to failed and records reason.
	MarkFailed(ctx context.Context, id, reason string) error
}

// BatchLedger records which (job, seq) batches have been applied.
type BatchLedger interface {
	IsProcessed(ctx context.Context, jobID string, seq int) (bool, error)

	// MarkProcessed inserts the ledger row, ignoring an existing one.
	MarkProcessed(ctx context.Context, jobID string, seq int) (inserted bool, err error)
}

// PropertyRepository persists validated rows for a tenant.
type PropertyRepository interface {
	// UpsertRows inserts rows skipping conflicts. A row that cannot be
	// stored is counted in failed; err is reserved for failures that leave
	// the whole batch unapplied.
	UpsertRows(ctx context.Context, tenantID string, rows []domain.PropertyRow) (succeeded, failed int, err error)
}

// BatchPublisher delivers batch messages to the work queue. PublishBatch
// returns once the broker has confirmed the message.
type BatchPublisher interface {
	PublishBatch(ctx context.Context, msg *domain.BatchMessage) error
}
