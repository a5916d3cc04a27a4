package telemetry

import (
	"context"
	"errors"
	"time"

	"github.com/uptrace/opentelemetry-go-extra/otelgorm"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// DBTracingConfig configures statement spans
type DBTracingConfig struct {
	Enabled bool
	// LogFullSQL keeps bind variables in db.statement. Development only.
	LogFullSQL      bool
	SlowQueryThresh time.Duration
	DBSystem        string
}

// DefaultDBTracingConfig is disabled, hides variables and flags statements over 200ms
func DefaultDBTracingConfig() DBTracingConfig {
	return DBTracingConfig{
		SlowQueryThresh: 200 * time.Millisecond,
		DBSystem:        "postgresql",
	}
}

// DBSystemForDriver maps a config driver name to the otel db.system value
func DBSystemForDriver(driver string) string {
	switch driver {
	case "mysql", "sqlite":
		return driver
	default:
		return "postgresql"
	}
}

// DBTracingPlugin registers otelgorm plus slow statement and error marking
type DBTracingPlugin struct {
	config DBTracingConfig
	logger *zap.Logger
}

// NewDBTracingPlugin creates a DBTracingPlugin
func NewDBTracingPlugin(cfg DBTracingConfig, logger *zap.Logger) *DBTracingPlugin {
	return &DBTracingPlugin{config: cfg, logger: logger}
}

// RegisterOtelGorm installs the plugin on db. It does nothing when disabled.
func (p *DBTracingPlugin) RegisterOtelGorm(db *gorm.DB) error {
	if !p.config.Enabled {
		return nil
	}

	opts := []otelgorm.Option{otelgorm.WithDBName(p.config.DBSystem)}
	if !p.config.LogFullSQL {
		opts = append(opts, otelgorm.WithoutQueryVariables())
	}
	if err := db.Use(otelgorm.NewPlugin(opts...)); err != nil {
		return err
	}
	if err := p.registerCallbacks(db); err != nil {
		return err
	}

	p.logger.Info("Database tracing enabled",
		zap.String("db_system", p.config.DBSystem),
		zap.Duration("slow_query_threshold", p.config.SlowQueryThresh),
	)
	return nil
}

// registerCallbacks stamps a start time before each gorm operation and
// inspects the otelgorm span after it, before otelgorm ends that span.
func (p *DBTracingPlugin) registerCallbacks(db *gorm.DB) error {
	cb := db.Callback()
	for _, op := range []string{"create", "query", "update", "delete", "row", "raw"} {
		gormStep, otelEnd := "gorm:"+op, "otel:after_"+op
		stamp, check := "otel_timing:before_"+op, "otel_slow_query:"+op

		var err error
		switch op {
		case "create":
			if err = cb.Create().Before(gormStep).Register(stamp, stampQueryStart); err == nil {
				err = cb.Create().After(gormStep).Before(otelEnd).Register(check, p.inspect)
			}
		case "query":
			if err = cb.Query().Before(gormStep).Register(stamp, stampQueryStart); err == nil {
				err = cb.Query().After(gormStep).Before(otelEnd).Register(check, p.inspect)
			}
		case "update":
			if err = cb.Update().Before(gormStep).Register(stamp, stampQueryStart); err == nil {
				err = cb.Update().After(gormStep).Before(otelEnd).Register(check, p.inspect)
			}
		case "delete":
			if err = cb.Delete().Before(gormStep).Register(stamp, stampQueryStart); err == nil {
				err = cb.Delete().After(gormStep).Before(otelEnd).Register(check, p.inspect)
			}
		case "row":
			if err = cb.Row().Before(gormStep).Register(stamp, stampQueryStart); err == nil {
				err = cb.Row().After(gormStep).Before(otelEnd).Register(check, p.inspect)
			}
		case "raw":
			if err = cb.Raw().Before(gormStep).Register(stamp, stampQueryStart); err == nil {
				err = cb.Raw().After(gormStep).Before(otelEnd).Register(check, p.inspect)
			}
		}
		if err != nil {
			return err
		}
	}
	return nil
}

type queryStartKey struct{}

func stampQueryStart(db *gorm.DB) {
	if db.Statement.Context != nil {
		db.Statement.Context = context.WithValue(db.Statement.Context, queryStartKey{}, time.Now())
	}
}

func (p *DBTracingPlugin) inspect(db *gorm.DB) {
	ctx := db.Statement.Context
	if ctx == nil {
		return
	}
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}

	span.SetAttributes(attribute.Int64("db.rows_affected", db.Statement.RowsAffected))
	if db.Statement.Table != "" {
		span.SetAttributes(attribute.String("db.sql.table", db.Statement.Table))
	}
	if db.Error != nil && !errors.Is(db.Error, gorm.ErrRecordNotFound) {
		span.RecordError(db.Error)
		span.SetStatus(codes.Error, db.Error.Error())
	}

	start, ok := ctx.Value(queryStartKey{}).(time.Time)
	if !ok {
		return
	}
	if elapsed := time.Since(start); elapsed > p.config.SlowQueryThresh {
		span.SetAttributes(
			attribute.Bool("db.slow_query", true),
			attribute.Int64("db.query_duration_ms", elapsed.Milliseconds()),
		)
		span.AddEvent("slow_query", trace.WithAttributes(
			attribute.Int64("threshold_ms", p.config.SlowQueryThresh.Milliseconds()),
		))
	}
}
