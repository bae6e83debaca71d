package database

import (
	"context"
	"database/sql"
	"fmt"
)

// schema is applied idempotently at startup.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS locations (
		location_id         TEXT PRIMARY KEY,
		address             TEXT NOT NULL DEFAULT '',
		snapshot_fetch_id   TEXT,
		snapshot_from       DATE,
		snapshot_to         DATE,
		snapshot_fetched_at TIMESTAMPTZ,
		last_fetch_at       TIMESTAMPTZ,
		last_success_at     TIMESTAMPTZ,
		last_error          TEXT NOT NULL DEFAULT '',
		last_error_at       TIMESTAMPTZ,
		updated_at          TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS pickup_events (
		location_id     TEXT NOT NULL REFERENCES locations(location_id) ON DELETE CASCADE,
		category        TEXT NOT NULL,
		pickup_date     DATE NOT NULL,
		source_fetch_id TEXT NOT NULL,
		PRIMARY KEY (location_id, category, pickup_date)
	)`,
	`CREATE TABLE IF NOT EXISTS subscriptions (
		location_id TEXT NOT NULL REFERENCES locations(location_id) ON DELETE CASCADE,
		destination BIGINT NOT NULL,
		address     TEXT NOT NULL DEFAULT '',
		lead_times  TEXT[] NOT NULL,
		created_at  TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (location_id, destination)
	)`,
	`CREATE TABLE IF NOT EXISTS reminders (
		location_id   TEXT NOT NULL REFERENCES locations(location_id) ON DELETE CASCADE,
		category      TEXT NOT NULL,
		pickup_date   DATE NOT NULL,
		destination   BIGINT NOT NULL,
		lead          TEXT NOT NULL,
		fire_at       TIMESTAMPTZ NOT NULL,
		status        TEXT NOT NULL,
		delivered_at  TIMESTAMPTZ,
		attempt_count INTEGER NOT NULL DEFAULT 0,
		retry_at      TIMESTAMPTZ,
		claimed_at    TIMESTAMPTZ,
		last_error    TEXT NOT NULL DEFAULT '',
		updated_at    TIMESTAMPTZ NOT NULL,
		PRIMARY KEY (location_id, category, pickup_date, destination, lead)
	)`,
	`CREATE INDEX IF NOT EXISTS reminders_pending_idx ON reminders (fire_at) WHERE status = 'PENDING'`,
	`CREATE TABLE IF NOT EXISTS address_index (
		location_id  TEXT NOT NULL,
		raw_text     TEXT NOT NULL,
		street       TEXT NOT NULL DEFAULT '',
		house_number TEXT NOT NULL DEFAULT '',
		postal_code  TEXT NOT NULL DEFAULT '',
		district     TEXT NOT NULL DEFAULT ''
	)`,
	`CREATE TABLE IF NOT EXISTS address_index_meta (
		id       SMALLINT PRIMARY KEY DEFAULT 1 CHECK (id = 1),
		built_at TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the tables if they do not exist yet.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}
