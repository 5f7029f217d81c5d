package store

import (
	"errors"
	"fmt"

	"github.com/creativecareer/ccai/internal/store/migrations"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

// MigrateResult is the schema state after Migrate.
type MigrateResult struct {
	Version uint
	Dirty   bool
	// Changed is false when the schema was already current.
	Changed bool
}

// Migrate applies the embedded journal migrations.
func (db *DB) Migrate() (*MigrateResult, error) {
	m, err := db.migrator()
	if err != nil {
		return nil, err
	}

	res := &MigrateResult{Changed: true}
	switch err := m.Up(); {
	case errors.Is(err, migrate.ErrNoChange):
		res.Changed = false
	case err != nil:
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	if res.Version, res.Dirty, err = m.Version(); err != nil {
		return nil, fmt.Errorf("read schema version: %w", err)
	}
	return res, nil
}

// migrator binds the embedded migrations to this connection. The returned
// instance must not be closed: that would close db.
func (db *DB) migrator() (*migrate.Migrate, error) {
	src, err := iofs.New(migrations.FS, ".")
	if err != nil {
		return nil, fmt.Errorf("load migrations: %w", err)
	}
	drv, err := sqlite3.WithInstance(db.DB, &sqlite3.Config{})
	if err != nil {
		return nil, fmt.Errorf("sqlite3 migrate driver: %w", err)
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", drv)
	if err != nil {
		return nil, fmt.Errorf("init migrate: %w", err)
	}
	return m, nil
}
