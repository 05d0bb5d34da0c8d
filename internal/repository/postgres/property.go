package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ignite/property-imports/internal/domain"
	"github.com/ignite/property-imports/internal/pkg/logger"
)

// PropertyRepo implements imports.PropertyRepository.
type PropertyRepo struct {
	db  *sql.DB
	log *logger.Logger
}

func NewPropertyRepo(db *sql.DB) *PropertyRepo {
	return &PropertyRepo{db: db, log: logger.Component("postgres.properties")}
}

const insertProperty = `
	INSERT INTO properties (tenant_id, address, sector, type, price, valuation, location)
	VALUES ($1, $2, $3, $4, $5, $5, ST_SetSRID(ST_MakePoint($6, $7), 4326))
	ON CONFLICT DO NOTHING`

// UpsertRows writes rows in one transaction with a savepoint around each
// insert. A row that errors or hits a conflict counts as failed and the rest
// of the batch continues.
func (r *PropertyRepo) UpsertRows(ctx context.Context, tenantID string, rows []domain.PropertyRow) (int, int, error) {
	if len(rows) == 0 {
		return 0, 0, nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, 0, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	var ok, ko int
	for i, row := range rows {
		inserted, err := r.insertRow(ctx, tx, tenantID, row)
		if err != nil {
			if ctx.Err() != nil {
				return 0, 0, ctx.Err()
			}
			r.log.Debug("property row failed", "tenant_id", tenantID, "index", i, "error", err)
			ko++
			continue
		}
		if inserted {
			ok++
		} else {
			ko++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, 0, fmt.Errorf("commit properties: %w", err)
	}
	return ok, ko, nil
}

func (r *PropertyRepo) insertRow(ctx context.Context, tx *sql.Tx, tenantID string, row domain.PropertyRow) (bool, error) {
	if _, err := tx.ExecContext(ctx, "SAVEPOINT property_row"); err != nil {
		return false, fmt.Errorf("savepoint: %w", err)
	}
	res, err := tx.ExecContext(ctx, insertProperty, tenantID, row.Address, row.Sector, row.Type, row.Price, row.Longitude, row.Latitude)
	if err != nil {
		if _, rerr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT property_row"); rerr != nil {
			return false, fmt.Errorf("rollback savepoint: %w", rerr)
		}
		return false, err
	}
	if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT property_row"); err != nil {
		return false, fmt.Errorf("release savepoint: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}
