package persistence

import (
	"fmt"
	"time"

	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/storefront/backend/internal/infrastructure/config"
	"github.com/storefront/backend/internal/infrastructure/logger"
	"github.com/storefront/backend/internal/infrastructure/persistence/models"
	"github.com/storefront/backend/internal/infrastructure/telemetry"
)

// Database holds the database connection and provides methods for database operations
type Database struct {
	DB     *gorm.DB
	Driver string
}

// Option configures NewDatabase
type Option func(*options)

type options struct {
	logger  *zap.Logger
	tracing *telemetry.DBTracingPlugin
}

// WithLogger routes gorm logging through zap
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithTracing registers the otelgorm plugin after the connection opens
func WithTracing(p *telemetry.DBTracingPlugin) Option {
	return func(o *options) { o.tracing = p }
}

// Dialector returns the gorm dialector for the configured driver
func Dialector(cfg *config.DatabaseConfig) (gorm.Dialector, error) {
	switch cfg.Driver {
	case config.DriverPostgres, "":
		return postgres.Open(cfg.DSN()), nil
	case config.DriverMySQL:
		return mysql.Open(cfg.DSN()), nil
	case config.DriverSQLite:
		return sqlite.Open(cfg.DSN()), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}
}

// NewDatabase opens a connection with the given configuration
func NewDatabase(cfg *config.DatabaseConfig, opts ...Option) (*Database, error) {
	o := &options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(o)
	}

	dialector, err := Dialector(cfg)
	if err != nil {
		return nil, err
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:                 logger.NewGormLogger(o.logger, logger.MapGormLogLevel(cfg.LogLevel)),
		SkipDefaultTransaction: true,
		PrepareStmt:            cfg.Driver != config.DriverSQLite,
		TranslateError:         true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if o.tracing != nil {
		if err := o.tracing.RegisterOtelGorm(db); err != nil {
			return nil, fmt.Errorf("failed to register database tracing: %w", err)
		}
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}

	if cfg.Driver == config.DriverSQLite {
		// a single writer avoids SQLITE_BUSY under concurrent dispatches
		sqlDB.SetMaxOpenConns(1)
	} else {
		sqlDB.SetMaxOpenConns(cfg.MaxOpenConns)
		sqlDB.SetMaxIdleConns(cfg.MaxIdleConns)
	}
	sqlDB.SetConnMaxLifetime(time.Duration(cfg.ConnMaxLifetime) * time.Minute)
	sqlDB.SetConnMaxIdleTime(time.Duration(cfg.ConnMaxIdleTime) * time.Minute)

	if err := sqlDB.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Database{DB: db, Driver: cfg.Driver}, nil
}

// Close closes the database connection
func (d *Database) Close() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Close()
}

// Ping checks if the database connection is alive
func (d *Database) Ping() error {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	return sqlDB.Ping()
}

// Stats returns database connection pool statistics
func (d *Database) Stats() (ConnectionStats, error) {
	sqlDB, err := d.DB.DB()
	if err != nil {
		return ConnectionStats{}, fmt.Errorf("failed to get underlying sql.DB: %w", err)
	}
	stats := sqlDB.Stats()
	return ConnectionStats{
		MaxOpenConnections: stats.MaxOpenConnections,
		OpenConnections:    stats.OpenConnections,
		InUse:              stats.InUse,
		Idle:               stats.Idle,
		WaitCount:          stats.WaitCount,
		WaitDuration:       stats.WaitDuration,
	}, nil
}

// ConnectionStats holds database connection pool statistics
type ConnectionStats struct {
	MaxOpenConnections int
	OpenConnections    int
	InUse              int
	Idle               int
	WaitCount          int64
	WaitDuration       time.Duration
}

// Transaction executes a function within a database transaction
func (d *Database) Transaction(fn func(tx *gorm.DB) error) error {
	return d.DB.Transaction(fn)
}

// AutoMigrate creates the delivery tables directly from the models.
// Used for the sqlite driver, where SQL migrations are not shipped.
func (d *Database) AutoMigrate() error {
	return d.DB.AutoMigrate(&models.DeliveryCompanyModel{}, &models.DeliveryOrderModel{}, &models.OrderSnapshotModel{})
}
