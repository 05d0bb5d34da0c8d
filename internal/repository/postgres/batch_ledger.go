package postgres

import (
	"context"
	"database/sql"
	"fmt"
)

// BatchLedgerRepo implements imports.BatchLedger on the import_batches table.
type BatchLedgerRepo struct{ db *sql.DB }

func NewBatchLedgerRepo(db *sql.DB) *BatchLedgerRepo { return &BatchLedgerRepo{db: db} }

func (r *BatchLedgerRepo) IsProcessed(ctx context.Context, jobID string, seq int) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM import_batches WHERE job_id = $1 AND seq = $2)`,
		jobID, seq,
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check batch ledger: %w", err)
	}
	return exists, nil
}

func (r *BatchLedgerRepo) MarkProcessed(ctx context.Context, jobID string, seq int) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO import_batches (job_id, seq, processed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (job_id, seq) DO NOTHING
	`, jobID, seq)
	if err != nil {
		return false, fmt.Errorf("insert batch ledger: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
