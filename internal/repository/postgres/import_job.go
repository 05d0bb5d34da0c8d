package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/ignite/property-imports/internal/domain"
	"github.com/ignite/property-imports/internal/service/imports"
)

const jobColumns = `id, tenant_id, idempotency_key, status, processed, succeeded, failed,
	total_estimated, published, COALESCE(error, ''), created_at, updated_at`

// JobRepo implements imports.JobRepository against PostgreSQL.
type JobRepo struct{ db *sql.DB }

// NewJobRepo creates a Postgres-backed import job repository.
func NewJobRepo(db *sql.DB) *JobRepo { return &JobRepo{db: db} }

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanJob(s rowScanner) (*domain.ImportJob, error) {
	j := &domain.ImportJob{}
	err := s.Scan(
		&j.ID, &j.TenantID, &j.IdempotencyKey, &j.Status, &j.Processed, &j.Succeeded, &j.Failed,
		&j.TotalEstimated, &j.Published, &j.Error, &j.CreatedAt, &j.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (r *JobRepo) CreateOrGet(ctx context.Context, job *domain.ImportJob) (*domain.ImportJob, bool, error) {
	created, err := scanJob(r.db.QueryRowContext(ctx, `
		INSERT INTO imports (id, tenant_id, idempotency_key, status)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (tenant_id, idempotency_key) DO NOTHING
		RETURNING `+jobColumns,
		job.ID, job.TenantID, job.IdempotencyKey, job.Status,
	))
	if err == nil {
		return created, true, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, false, fmt.Errorf("create import: %w", err)
	}

	// Lost the race to a concurrent request with the same key.
	existing, err := r.FindByKey(ctx, job.TenantID, job.IdempotencyKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *JobRepo) FindByKey(ctx context.Context, tenantID, key string) (*domain.ImportJob, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM imports
		WHERE tenant_id = $1 AND idempotency_key = $2
	`, tenantID, key))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, imports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find import by key: %w", err)
	}
	return j, nil
}

func (r *JobRepo) Get(ctx context.Context, tenantID, id string) (*domain.ImportJob, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM imports
		WHERE id = $1 AND tenant_id = $2
	`, id, tenantID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, imports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get import: %w", err)
	}
	return j, nil
}

func (r *JobRepo) GetByID(ctx context.Context, id string) (*domain.ImportJob, error) {
	j, err := scanJob(r.db.QueryRowContext(ctx, `
		SELECT `+jobColumns+`
		FROM imports
		WHERE id = $1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, imports.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get import: %w", err)
	}
	return j, nil
}

func (r *JobRepo) Increment(ctx context.Context, id string, d domain.Counters) error {
	if d.IsZero() {
		return nil
	}
	res, err := r.db.ExecContext(ctx, `
		UPDATE imports SET
			processed = processed + $2,
			succeeded = succeeded + $3,
			failed = failed + $4,
			total_estimated = total_estimated + $5
		WHERE id = $1
	`, id, d.Processed, d.Succeeded, d.Failed, d.TotalEstimated)
	if err != nil {
		return fmt.Errorf("increment import counters: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return imports.ErrNotFound
	}
	return nil
}

// MarkPublished reports completed only when this statement moved the job
// out of processing.
func (r *JobRepo) MarkPublished(ctx context.Context, id string) (bool, error) {
	var before, after domain.ImportStatus
	err := r.db.QueryRowContext(ctx, `
		WITH prev AS (
			SELECT status FROM imports WHERE id = $1 FOR UPDATE
		)
		UPDATE imports i SET
			published = true,
			status = CASE
				WHEN i.status = 'processing' AND i.processed >= i.total_estimated THEN 'completed'
				ELSE i.status
			END
		FROM prev
		WHERE i.id = $1
		RETURNING prev.status, i.status
	`, id).Scan(&before, &after)
	if errors.Is(err, sql.ErrNoRows) {
		return false, imports.ErrNotFound
	}
	if err != nil {
		return false, fmt.Errorf("mark import published: %w", err)
	}
	return before == domain.ImportProcessing && after == domain.ImportCompleted, nil
}

func (r *JobRepo) MarkCompleted(ctx context.Context, id string) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		UPDATE imports SET status = 'completed'
		WHERE id = $1
		  AND status = 'processing'
		  AND published
		  AND processed >= total_estimated
	`, id)
	if err != nil {
		return false, fmt.Errorf("complete import: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (r *JobRepo) MarkFailed(ctx context.Context, id, reason string) error {
	res, err := r.db.ExecContext(ctx, `
		UPDATE imports SET status = 'failed', error = $2
		WHERE id = $1 AND status <> 'completed'
	`, id, reason)
	if err != nil {
		return fmt.Errorf("fail import: %w", err)
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return imports.ErrNotFound
	}
	return nil
}
