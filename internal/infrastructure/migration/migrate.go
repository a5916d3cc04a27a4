// Package migration applies the versioned SQL migrations under migrations/<driver>.
package migration

import (
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"

	_ "github.com/go-sql-driver/mysql"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database"
	"github.com/golang-migrate/migrate/v4/database/mysql"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/storefront/backend/internal/infrastructure/config"
)

// ErrUnsupportedDriver is returned for drivers without shipped SQL migrations
var ErrUnsupportedDriver = errors.New("migration: no SQL migrations for driver")

// Migrator handles database migrations using golang-migrate
type Migrator struct {
	migrate *migrate.Migrate
	logger  *zap.Logger
}

// Dir returns the migrations directory of a driver below root
func Dir(root, driver string) string {
	return filepath.Join(root, driver)
}

// Open opens a plain database/sql connection for migrating. Postgres goes
// through lib/pq; mysql needs multiStatements since a migration file holds
// several statements. The connection is not verified.
func Open(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case config.DriverPostgres:
		return sql.Open("postgres", cfg.DSN())
	case config.DriverMySQL:
		return sql.Open("mysql", cfg.DSN()+"&multiStatements=true")
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedDriver, cfg.Driver)
	}
}

// New creates a Migrator over an open connection. The driver selects both
// the golang-migrate database driver and the migrations subdirectory.
func New(db *sql.DB, driver, migrationsRoot string, logger *zap.Logger) (*Migrator, error) {
	var (
		instance database.Driver
		err      error
	)
	switch driver {
	case config.DriverPostgres:
		instance, err = postgres.WithInstance(db, &postgres.Config{})
	case config.DriverMySQL:
		instance, err = mysql.WithInstance(db, &mysql.Config{})
	default:
		return nil, fmt.Errorf("%w %q", ErrUnsupportedDriver, driver)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create %s migration driver: %w", driver, err)
	}

	m, err := migrate.NewWithDatabaseInstance("file://"+Dir(migrationsRoot, driver), driver, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to create migrate instance: %w", err)
	}

	return &Migrator{migrate: m, logger: logger}, nil
}

// Up runs all pending migrations
func (m *Migrator) Up() error {
	m.logger.Info("Running migrations up")
	return m.finish("up", m.migrate.Up())
}

// Down rolls back all migrations
func (m *Migrator) Down() error {
	m.logger.Info("Running migrations down")
	return m.finish("down", m.migrate.Down())
}

// Steps applies n migrations (positive = up, negative = down)
func (m *Migrator) Steps(n int) error {
	m.logger.Info("Running migration steps", zap.Int("steps", n))
	return m.finish("steps", m.migrate.Steps(n))
}

// GoTo migrates to a specific version
func (m *Migrator) GoTo(version uint) error {
	m.logger.Info("Migrating to version", zap.Uint("target_version", version))
	return m.finish("goto", m.migrate.Migrate(version))
}

// finish treats ErrNoChange as success and logs the resulting version
func (m *Migrator) finish(op string, err error) error {
	if errors.Is(err, migrate.ErrNoChange) {
		m.logger.Info("No migrations to apply", zap.String("op", op))
		return nil
	}
	if err != nil {
		return fmt.Errorf("migration %s failed: %w", op, err)
	}

	version, dirty, err := m.Version()
	if err != nil {
		return err
	}
	m.logger.Info("Migrations completed",
		zap.String("op", op),
		zap.Uint("version", version),
		zap.Bool("dirty", dirty),
	)
	return nil
}

// Version returns the current migration version, 0 when none was applied
func (m *Migrator) Version() (uint, bool, error) {
	version, dirty, err := m.migrate.Version()
	if errors.Is(err, migrate.ErrNilVersion) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("failed to get migration version: %w", err)
	}
	return version, dirty, nil
}

// Force sets the migration version without running migrations.
// Only for clearing a dirty state after a failed migration.
func (m *Migrator) Force(version int) error {
	m.logger.Warn("Forcing migration version", zap.Int("version", version))
	if err := m.migrate.Force(version); err != nil {
		return fmt.Errorf("failed to force version %d: %w", version, err)
	}
	return nil
}

// Close closes the migrator and releases resources
func (m *Migrator) Close() error {
	sourceErr, dbErr := m.migrate.Close()
	if sourceErr != nil {
		return fmt.Errorf("failed to close source: %w", sourceErr)
	}
	if dbErr != nil {
		return fmt.Errorf("failed to close database: %w", dbErr)
	}
	return nil
}
