package db

import (
	"embed"
	"errors"
	"fmt"
	"log"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	"github.com/golang-migrate/migrate/v4/source/iofs"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// RunMigrations applies all pending migrations from the embedded migrations directory.
func RunMigrations(dsn string, logger *log.Logger) error {
	m, closeFn, err := newMigrate(dsn)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("run migrations: %w", err)
	}

	logVersion(m, logger)
	return nil
}

// RollbackMigrations reverts the given number of applied migrations.
func RollbackMigrations(dsn string, steps int, logger *log.Logger) error {
	if steps <= 0 {
		return fmt.Errorf("steps must be positive, got %d", steps)
	}

	m, closeFn, err := newMigrate(dsn)
	if err != nil {
		return err
	}
	defer closeFn()

	if err := m.Steps(-steps); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("rollback migrations: %w", err)
	}

	logVersion(m, logger)
	return nil
}

func newMigrate(dsn string) (*migrate.Migrate, func(), error) {
	conn, err := sqlOpen(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("open db for migrations: %w", err)
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("create migration source: %w", err)
	}

	dbDriver, err := postgres.WithInstance(conn, &postgres.Config{})
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("create migration db driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "postgres", dbDriver)
	if err != nil {
		_ = conn.Close()
		return nil, nil, fmt.Errorf("create migrate instance: %w", err)
	}

	return m, func() { _, _ = m.Close() }, nil
}

func logVersion(m *migrate.Migrate, logger *log.Logger) {
	version, dirty, err := m.Version()
	switch {
	case errors.Is(err, migrate.ErrNilVersion):
		logger.Printf("migrations: no version applied")
	case dirty:
		logger.Printf("migrations: at version %d (dirty)", version)
	default:
		logger.Printf("migrations: at version %d", version)
	}
}
