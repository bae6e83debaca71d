package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"waste_reminder_bot/internal/domain/address"

	"github.com/lib/pq"
)

// PostgresIndexRepository persists the address index. A save replaces the
// whole index in one transaction.
type PostgresIndexRepository struct {
	db *sql.DB
}

func NewPostgresIndexRepository(db *sql.DB) *PostgresIndexRepository {
	return &PostgresIndexRepository{db: db}
}

func (r *PostgresIndexRepository) LoadIndex(ctx context.Context) (*address.Index, error) {
	var builtAt time.Time
	err := r.db.QueryRowContext(ctx, `SELECT built_at FROM address_index_meta WHERE id = 1`).Scan(&builtAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading address index metadata: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `SELECT location_id, raw_text, street, house_number, postal_code, district
        FROM address_index ORDER BY raw_text`)
	if err != nil {
		return nil, fmt.Errorf("error listing address index: %w", err)
	}
	defer rows.Close()

	records := make([]address.Record, 0)
	for rows.Next() {
		var rec address.Record
		if err := rows.Scan(&rec.LocationID, &rec.RawText, &rec.Fields.Street, &rec.Fields.HouseNumber,
			&rec.Fields.PostalCode, &rec.Fields.District); err != nil {
			return nil, fmt.Errorf("error scanning address record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating address index: %w", err)
	}
	return address.NewIndex(records, builtAt), nil
}

// SaveIndex bulk loads the records with COPY.
func (r *PostgresIndexRepository) SaveIndex(ctx context.Context, idx *address.Index) error {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for address index: %w", err)
	}
	defer txn.Rollback()

	if _, err := txn.ExecContext(ctx, `DELETE FROM address_index`); err != nil {
		return fmt.Errorf("error clearing address index: %w", err)
	}

	stmt, err := txn.PrepareContext(ctx, pq.CopyIn("address_index",
		"location_id", "raw_text", "street", "house_number", "postal_code", "district"))
	if err != nil {
		return fmt.Errorf("failed to prepare address index copy: %w", err)
	}
	for _, rec := range idx.Records {
		if _, err := stmt.ExecContext(ctx, rec.LocationID, rec.RawText, rec.Fields.Street, rec.Fields.HouseNumber,
			rec.Fields.PostalCode, rec.Fields.District); err != nil {
			stmt.Close()
			return fmt.Errorf("error copying address record %s: %w", rec.LocationID, err)
		}
	}
	if _, err := stmt.ExecContext(ctx); err != nil {
		stmt.Close()
		return fmt.Errorf("error flushing address index copy: %w", err)
	}
	if err := stmt.Close(); err != nil {
		return fmt.Errorf("error closing address index copy: %w", err)
	}

	if _, err := txn.ExecContext(ctx, `INSERT INTO address_index_meta (id, built_at) VALUES (1, $1)
        ON CONFLICT (id) DO UPDATE SET built_at = EXCLUDED.built_at`, idx.BuiltAt); err != nil {
		return fmt.Errorf("error writing address index metadata: %w", err)
	}
	return txn.Commit()
}
