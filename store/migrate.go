package store

import (
	"errors"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/golang-migrate/migrate/v4"
	_ "github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/database/sqlite3"
	_ "github.com/golang-migrate/migrate/v4/source/file"

	"github.com/liamcoop/checkers/internal/logger"
)

// Migration commands
const (
	MigrateUp      = "up"
	MigrateDown    = "down"
	MigrateVersion = "version"
	MigrateForce   = "force"
)

// MigrationURL converts a store DSN into a golang-migrate database URL
func MigrationURL(driver, dsn string) string {
	if driver == DriverSQLite && !strings.HasPrefix(dsn, "sqlite3://") {
		return "sqlite3://" + strings.TrimPrefix(dsn, "file:")
	}
	return dsn
}

// Migrate runs command against the database using the migrations in
// dir/<driver>. version is only used by force.
func Migrate(driver, dsn, dir, command string, version int) error {
	source := fmt.Sprintf("file://%s", filepath.ToSlash(filepath.Join(dir, driver)))
	m, err := migrate.New(source, MigrationURL(driver, dsn))
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}
	defer m.Close()

	switch command {
	case MigrateUp:
		err = m.Up()
		if errors.Is(err, migrate.ErrNoChange) {
			logger.Info("no migrations to run, database is up to date")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}
		logger.Info("migrations completed")

	case MigrateDown:
		err = m.Down()
		if err != nil && !errors.Is(err, migrate.ErrNoChange) {
			return fmt.Errorf("failed to rollback migrations: %w", err)
		}
		logger.Info("rollback completed")

	case MigrateVersion:
		v, dirty, err := m.Version()
		if errors.Is(err, migrate.ErrNilVersion) {
			logger.Info("no migrations applied")
			return nil
		}
		if err != nil {
			return fmt.Errorf("failed to get version: %w", err)
		}
		logger.Info("current migration version", "version", v, "dirty", dirty)

	case MigrateForce:
		if err := m.Force(version); err != nil {
			return fmt.Errorf("failed to force version: %w", err)
		}
		logger.Info("forced migration version", "version", version)

	default:
		return fmt.Errorf("unknown command: %s (use: up, down, version, force)", command)
	}
	return nil
}
