// Package storage opens the persistence backend selected by STORE_DRIVER.
package storage

import (
	"context"
	"database/sql"
	"fmt"

	"waste_reminder_bot/internal/domain/address"
	"waste_reminder_bot/internal/domain/pickup"
	"waste_reminder_bot/internal/infra/config"
	idb "waste_reminder_bot/internal/infra/database"
	"waste_reminder_bot/internal/infra/filestore"

	"github.com/sirupsen/logrus"
)

// Backend bundles the location repository and the address index cache of
// one storage driver.
type Backend struct {
	Locations pickup.Repository
	Index     address.IndexCache
	db        *sql.DB
}

// Open connects to the configured backend.
func Open(ctx context.Context, cfg *config.AppConfig, logger *logrus.Entry) (*Backend, error) {
	switch cfg.StoreDriver {
	case config.StoreDriverPostgres:
		db, err := idb.NewPostgresConnection(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("could not connect to database: %w", err)
		}
		logger.Info("Database connection established, schema ensured")
		return &Backend{
			Locations: idb.NewPostgresLocationRepository(db),
			Index:     idb.NewPostgresIndexRepository(db),
			db:        db,
		}, nil
	case config.StoreDriverFile:
		fs, err := filestore.New(cfg.StateFile, cfg.IndexFile, logger)
		if err != nil {
			return nil, fmt.Errorf("could not open state file: %w", err)
		}
		logger.WithField("state_file", cfg.StateFile).Info("Using file storage")
		return &Backend{Locations: fs, Index: fs}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.StoreDriver)
	}
}

// Close releases the database connection, if any.
func (b *Backend) Close() error {
	if b.db == nil {
		return nil
	}
	return b.db.Close()
}
