package database

import (
	"embed"
	"errors"
	"fmt"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/stemsi/exstem-proctor/internal/config"
)

//go:embed migrations
var migrationsFS embed.FS

// NewMigrator builds a migrator for the configured SQL store driver.
// Only the sqlite and postgres drivers carry a schema.
func NewMigrator(cfg *config.Config) (*migrate.Migrate, error) {
	var dir, dbURL string
	switch cfg.StoreDriver {
	case "postgres":
		dir, dbURL = "migrations/postgres", cfg.DatabaseURL
	case "sqlite":
		dir, dbURL = "migrations/sqlite", "sqlite://"+cfg.SQLitePath
	default:
		return nil, fmt.Errorf("store driver %q has no migrations", cfg.StoreDriver)
	}

	src, err := iofs.New(migrationsFS, dir)
	if err != nil {
		return nil, fmt.Errorf("open embedded migrations: %w", err)
	}

	m, err := migrate.NewWithSourceInstance("iofs", src, dbURL)
	if err != nil {
		return nil, fmt.Errorf("init migrator: %w", err)
	}
	return m, nil
}

// MigrateUp applies every pending migration. ErrNoChange is not an error.
func MigrateUp(cfg *config.Config) error {
	m, err := NewMigrator(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate up: %w", err)
	}
	return nil
}

// MigrateDown rolls back the most recent migration step.
func MigrateDown(cfg *config.Config) error {
	m, err := NewMigrator(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Steps(-1); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("migrate down: %w", err)
	}
	return nil
}

// MigrateVersion reports the applied schema version. A database without any
// applied migration reports version 0.
func MigrateVersion(cfg *config.Config) (uint, bool, error) {
	m, err := NewMigrator(cfg)
	if err != nil {
		return 0, false, err
	}
	defer m.Close()

	v, dirty, err := m.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("migrate version: %w", err)
	}
	return v, dirty, nil
}

// MigrateForce marks version as applied without running it, clearing a dirty flag.
func MigrateForce(cfg *config.Config, version int) error {
	m, err := NewMigrator(cfg)
	if err != nil {
		return err
	}
	defer m.Close()

	if err := m.Force(version); err != nil {
		return fmt.Errorf("migrate force: %w", err)
	}
	return nil
}
