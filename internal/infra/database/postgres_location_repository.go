// internal/infra/database/postgres_location_repository.go
package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"waste_reminder_bot/internal/domain/pickup"

	"github.com/lib/pq"
)

// PostgresLocationRepository stores location state in PostgreSQL. A location
// is written in one transaction that replaces all of its rows.
type PostgresLocationRepository struct {
	db *sql.DB
}

func NewPostgresLocationRepository(db *sql.DB) *PostgresLocationRepository {
	return &PostgresLocationRepository{db: db}
}

func (r *PostgresLocationRepository) SaveLocation(ctx context.Context, st *pickup.LocationState) error {
	txn, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction for location %s: %w", st.LocationID, err)
	}
	defer txn.Rollback() // no-op after commit

	var fetchID sql.NullString
	var from, to, fetchedAt sql.NullTime
	if st.Snapshot != nil {
		fetchID = sql.NullString{String: st.Snapshot.SourceFetchID, Valid: true}
		from = sql.NullTime{Time: st.Snapshot.From, Valid: true}
		to = sql.NullTime{Time: st.Snapshot.To, Valid: true}
		fetchedAt = sql.NullTime{Time: st.Snapshot.FetchedAt, Valid: true}
	}
	_, err = txn.ExecContext(ctx, `INSERT INTO locations (location_id, address, snapshot_fetch_id, snapshot_from, snapshot_to,
            snapshot_fetched_at, last_fetch_at, last_success_at, last_error, last_error_at, updated_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
        ON CONFLICT (location_id) DO UPDATE SET
            address = EXCLUDED.address,
            snapshot_fetch_id = EXCLUDED.snapshot_fetch_id,
            snapshot_from = EXCLUDED.snapshot_from,
            snapshot_to = EXCLUDED.snapshot_to,
            snapshot_fetched_at = EXCLUDED.snapshot_fetched_at,
            last_fetch_at = EXCLUDED.last_fetch_at,
            last_success_at = EXCLUDED.last_success_at,
            last_error = EXCLUDED.last_error,
            last_error_at = EXCLUDED.last_error_at,
            updated_at = NOW()`,
		st.LocationID, st.Address, fetchID, from, to, fetchedAt,
		nullTime(st.Status.LastFetchAt), nullTime(st.Status.LastSuccessAt), st.Status.LastError, nullTime(st.Status.LastErrorAt))
	if err != nil {
		return fmt.Errorf("error upserting location %s: %w", st.LocationID, err)
	}

	for _, table := range []string{"pickup_events", "subscriptions", "reminders"} {
		if _, err := txn.ExecContext(ctx, "DELETE FROM "+table+" WHERE location_id = $1", st.LocationID); err != nil {
			return fmt.Errorf("error clearing %s for location %s: %w", table, st.LocationID, err)
		}
	}

	if st.Snapshot != nil && len(st.Snapshot.Events) > 0 {
		stmt, err := txn.PrepareContext(ctx, `INSERT INTO pickup_events (location_id, category, pickup_date, source_fetch_id)
                                              VALUES ($1, $2, $3, $4)`)
		if err != nil {
			return fmt.Errorf("failed to prepare event insert: %w", err)
		}
		defer stmt.Close()
		for _, ev := range st.Snapshot.Events {
			if _, err := stmt.ExecContext(ctx, st.LocationID, ev.Category, ev.Date.Format(pickup.DateLayout), ev.SourceFetchID); err != nil {
				return fmt.Errorf("error inserting event %s: %w", ev.Key(), err)
			}
		}
	}

	if len(st.Subscriptions) > 0 {
		stmt, err := txn.PrepareContext(ctx, `INSERT INTO subscriptions (location_id, destination, address, lead_times, created_at)
                                              VALUES ($1, $2, $3, $4, $5)`)
		if err != nil {
			return fmt.Errorf("failed to prepare subscription insert: %w", err)
		}
		defer stmt.Close()
		for _, sub := range st.Subscriptions {
			if _, err := stmt.ExecContext(ctx, st.LocationID, sub.Destination, sub.Address, pq.Array(sub.LeadTimes), sub.CreatedAt); err != nil {
				return fmt.Errorf("error inserting subscription of %d: %w", sub.Destination, err)
			}
		}
	}

	if len(st.Reminders) > 0 {
		stmt, err := txn.PrepareContext(ctx, `INSERT INTO reminders (location_id, category, pickup_date, destination, lead, fire_at,
                                                  status, delivered_at, attempt_count, retry_at, claimed_at, last_error, updated_at)
                                              VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`)
		if err != nil {
			return fmt.Errorf("failed to prepare reminder insert: %w", err)
		}
		defer stmt.Close()
		for _, rm := range st.Reminders {
			k := rm.Key
			_, err := stmt.ExecContext(ctx, st.LocationID, k.Event.Category, k.Event.Date, k.Destination, k.Lead, rm.FireAt,
				rm.Status, nullTime(rm.DeliveredAt), rm.AttemptCount, nullTime(rm.RetryAt), nullTime(rm.ClaimedAt), rm.LastError, rm.UpdatedAt)
			if err != nil {
				return fmt.Errorf("error inserting reminder %s: %w", k, err)
			}
		}
	}

	return txn.Commit()
}

func (r *PostgresLocationRepository) DeleteLocation(ctx context.Context, locationID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM locations WHERE location_id = $1`, locationID); err != nil {
		return fmt.Errorf("error deleting location %s: %w", locationID, err)
	}
	return nil
}

// LoadLocations reads every location with its events, subscriptions and
// reminders. All reads happen in one read-only transaction.
func (r *PostgresLocationRepository) LoadLocations(ctx context.Context) ([]*pickup.LocationState, error) {
	txn, err := r.db.BeginTx(ctx, &sql.TxOptions{ReadOnly: true, Isolation: sql.LevelRepeatableRead})
	if err != nil {
		return nil, fmt.Errorf("failed to begin read transaction: %w", err)
	}
	defer txn.Rollback()

	byID := make(map[string]*pickup.LocationState)
	var order []*pickup.LocationState

	rows, err := txn.QueryContext(ctx, `SELECT location_id, address, snapshot_fetch_id, snapshot_from, snapshot_to, snapshot_fetched_at,
            last_fetch_at, last_success_at, last_error, last_error_at
        FROM locations ORDER BY location_id`)
	if err != nil {
		return nil, fmt.Errorf("error listing locations: %w", err)
	}
	for rows.Next() {
		st := &pickup.LocationState{}
		var fetchID sql.NullString
		var from, to, fetchedAt, lastFetch, lastSuccess, lastErrorAt sql.NullTime
		if err := rows.Scan(&st.LocationID, &st.Address, &fetchID, &from, &to, &fetchedAt,
			&lastFetch, &lastSuccess, &st.Status.LastError, &lastErrorAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("error scanning location: %w", err)
		}
		if fetchID.Valid {
			st.Snapshot = &pickup.Snapshot{
				LocationID:    st.LocationID,
				SourceFetchID: fetchID.String,
				From:          pickup.DateOf(from.Time),
				To:            pickup.DateOf(to.Time),
				FetchedAt:     fetchedAt.Time,
			}
		}
		st.Status.LastFetchAt = timePtr(lastFetch)
		st.Status.LastSuccessAt = timePtr(lastSuccess)
		st.Status.LastErrorAt = timePtr(lastErrorAt)
		byID[st.LocationID] = st
		order = append(order, st)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating locations: %w", err)
	}

	if err := loadEvents(ctx, txn, byID); err != nil {
		return nil, err
	}
	if err := loadSubscriptions(ctx, txn, byID); err != nil {
		return nil, err
	}
	if err := loadReminders(ctx, txn, byID); err != nil {
		return nil, err
	}
	return order, nil
}

func loadEvents(ctx context.Context, txn *sql.Tx, byID map[string]*pickup.LocationState) error {
	rows, err := txn.QueryContext(ctx, `SELECT location_id, category, pickup_date, source_fetch_id
        FROM pickup_events ORDER BY location_id, pickup_date, category`)
	if err != nil {
		return fmt.Errorf("error listing events: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var ev pickup.Event
		if err := rows.Scan(&ev.LocationID, &ev.Category, &ev.Date, &ev.SourceFetchID); err != nil {
			return fmt.Errorf("error scanning event: %w", err)
		}
		ev.Date = pickup.DateOf(ev.Date)
		st, ok := byID[ev.LocationID]
		if !ok || st.Snapshot == nil {
			continue
		}
		st.Snapshot.Events = append(st.Snapshot.Events, ev)
	}
	return rows.Err()
}

func loadSubscriptions(ctx context.Context, txn *sql.Tx, byID map[string]*pickup.LocationState) error {
	rows, err := txn.QueryContext(ctx, `SELECT location_id, destination, address, lead_times, created_at
        FROM subscriptions ORDER BY location_id, created_at`)
	if err != nil {
		return fmt.Errorf("error listing subscriptions: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var sub pickup.Subscription
		if err := rows.Scan(&sub.LocationID, &sub.Destination, &sub.Address, pq.Array(&sub.LeadTimes), &sub.CreatedAt); err != nil {
			return fmt.Errorf("error scanning subscription: %w", err)
		}
		if st, ok := byID[sub.LocationID]; ok {
			st.Subscriptions = append(st.Subscriptions, sub)
		}
	}
	return rows.Err()
}

func loadReminders(ctx context.Context, txn *sql.Tx, byID map[string]*pickup.LocationState) error {
	rows, err := txn.QueryContext(ctx, `SELECT location_id, category, pickup_date, destination, lead, fire_at, status,
            delivered_at, attempt_count, retry_at, claimed_at, last_error, updated_at
        FROM reminders ORDER BY location_id, fire_at`)
	if err != nil {
		return fmt.Errorf("error listing reminders: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var rm pickup.Reminder
		var date time.Time
		var delivered, retry, claimed sql.NullTime
		if err := rows.Scan(&rm.Key.Event.LocationID, &rm.Key.Event.Category, &date, &rm.Key.Destination, &rm.Key.Lead,
			&rm.FireAt, &rm.Status, &delivered, &rm.AttemptCount, &retry, &claimed, &rm.LastError, &rm.UpdatedAt); err != nil {
			return fmt.Errorf("error scanning reminder: %w", err)
		}
		rm.Key.Event.Date = date.Format(pickup.DateLayout)
		rm.DeliveredAt = timePtr(delivered)
		rm.RetryAt = timePtr(retry)
		rm.ClaimedAt = timePtr(claimed)
		if st, ok := byID[rm.Key.Event.LocationID]; ok {
			st.Reminders = append(st.Reminders, rm)
		}
	}
	return rows.Err()
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time
	return &v
}
