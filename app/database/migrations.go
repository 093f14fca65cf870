package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// storeTables must exist once migrations have run.
var storeTables = []string{"identities", "payments"}

// SchemaState is the migration version the store was left at.
type SchemaState struct {
	Version uint
	Tables  []string
}

// Migrate brings the identity and payment tables up to date. A store left
// dirty by an interrupted migration is refused and has to be repaired by hand.
func Migrate(db *DB) (SchemaState, error) {
	driver, err := sqlite.WithInstance(db.DB, &sqlite.Config{})
	if err != nil {
		return SchemaState{}, fmt.Errorf("failed to create sqlite driver: %w", err)
	}

	source, err := iofs.New(migrationFS, "migrations")
	if err != nil {
		return SchemaState{}, fmt.Errorf("failed to open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite", driver)
	if err != nil {
		return SchemaState{}, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	err = m.Up()
	var dirtyErr migrate.ErrDirty
	if errors.As(err, &dirtyErr) {
		return SchemaState{}, fmt.Errorf("store schema is dirty at version %d, fix it and force the version", dirtyErr.Version)
	}
	if err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return SchemaState{}, fmt.Errorf("failed to run migrations: %w", err)
	}

	version, _, err := m.Version()
	if err != nil {
		return SchemaState{}, fmt.Errorf("failed to get migration version: %w", err)
	}

	state := SchemaState{Version: version}
	for _, table := range storeTables {
		var name string
		err := db.QueryRow(`SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?`, table).Scan(&name)
		if err != nil {
			return SchemaState{}, fmt.Errorf("table %s missing after migrations: %w", table, err)
		}
		state.Tables = append(state.Tables, name)
	}

	return state, nil
}
