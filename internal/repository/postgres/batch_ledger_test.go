package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchLedger_IsProcessed(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBatchLedgerRepo(db)

	mock.ExpectQuery(`SELECT EXISTS\(SELECT 1 FROM import_batches WHERE job_id = \$1 AND seq = \$2\)`).
		WithArgs(testJobID, 4).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	seen, err := repo.IsProcessed(context.Background(), testJobID, 4)
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestBatchLedger_IsProcessed_Error(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBatchLedgerRepo(db)

	mock.ExpectQuery(`FROM import_batches`).WillReturnError(errors.New("connection refused"))

	_, err := repo.IsProcessed(context.Background(), testJobID, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "check batch ledger")
}

func TestBatchLedger_MarkProcessed(t *testing.T) {
	db, mock := newMock(t)
	repo := NewBatchLedgerRepo(db)

	query := `INSERT INTO import_batches \(job_id, seq, processed_at\)`
	mock.ExpectExec(query).WithArgs(testJobID, 2).WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(query).WithArgs(testJobID, 2).WillReturnResult(sqlmock.NewResult(0, 0))

	inserted, err := repo.MarkProcessed(context.Background(), testJobID, 2)
	require.NoError(t, err)
	assert.True(t, inserted)

	inserted, err = repo.MarkProcessed(context.Background(), testJobID, 2)
	require.NoError(t, err)
	assert.False(t, inserted, "a second insert for the same batch is ignored")
}
