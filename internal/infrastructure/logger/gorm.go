package logger

import (
	"context"
	"errors"
	"strconv"
	"time"

	"go.uber.org/zap"
	gormlogger "gorm.io/gorm/logger"
)

// DefaultMaxSQLLength caps logged statements. Delivery rows carry carrier
// payloads and raw responses, so full statements can be large.
const DefaultMaxSQLLength = 2048

// GormLogger routes gorm statement logs to zap
type GormLogger struct {
	logger        *zap.Logger
	level         gormlogger.LogLevel
	slowThreshold time.Duration
	maxSQLLength  int
}

// GormLoggerOption configures a GormLogger
type GormLoggerOption func(*GormLogger)

// WithSlowThreshold sets the duration above which statements log at warn.
// Zero disables slow statement warnings.
func WithSlowThreshold(d time.Duration) GormLoggerOption {
	return func(l *GormLogger) { l.slowThreshold = d }
}

// WithMaxSQLLength truncates logged statements to n bytes. Zero keeps them whole.
func WithMaxSQLLength(n int) GormLoggerOption {
	return func(l *GormLogger) { l.maxSQLLength = n }
}

// NewGormLogger creates a GormLogger named "gorm"
func NewGormLogger(zapLogger *zap.Logger, level gormlogger.LogLevel, opts ...GormLoggerOption) *GormLogger {
	l := &GormLogger{
		logger:        zapLogger.Named("gorm"),
		level:         level,
		slowThreshold: 200 * time.Millisecond,
		maxSQLLength:  DefaultMaxSQLLength,
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// LogMode returns a copy at level
func (l *GormLogger) LogMode(level gormlogger.LogLevel) gormlogger.Interface {
	cp := *l
	cp.level = level
	return &cp
}

func (l *GormLogger) Info(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Info {
		l.logger.Sugar().Infof(msg, data...)
	}
}

func (l *GormLogger) Warn(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Warn {
		l.logger.Sugar().Warnf(msg, data...)
	}
}

func (l *GormLogger) Error(ctx context.Context, msg string, data ...any) {
	if l.level >= gormlogger.Error {
		l.logger.Sugar().Errorf(msg, data...)
	}
}

// Trace logs one statement with the request and dispatch identifiers of ctx.
// Record-not-found is an expected lookup outcome and is never logged as an error.
func (l *GormLogger) Trace(ctx context.Context, begin time.Time, fc func() (sql string, rowsAffected int64), err error) {
	if l.level <= gormlogger.Silent {
		return
	}
	elapsed := time.Since(begin)
	failed := err != nil && !errors.Is(err, gormlogger.ErrRecordNotFound)
	slow := l.slowThreshold > 0 && elapsed > l.slowThreshold

	var level = gormlogger.Info
	switch {
	case failed:
		level = gormlogger.Error
	case err != nil:
		return
	case slow:
		level = gormlogger.Warn
	}
	if l.level < level {
		return
	}

	sql, rows := fc()
	fields := append([]zap.Field{
		zap.Duration("elapsed", elapsed),
		zap.Int64("rows", rows),
		zap.String("sql", l.truncate(sql)),
	}, contextFields(ctx)...)

	switch level {
	case gormlogger.Error:
		l.logger.Error("SQL Error", append(fields, zap.Error(err))...)
	case gormlogger.Warn:
		l.logger.Warn("Slow SQL", append(fields, zap.Duration("threshold", l.slowThreshold))...)
	default:
		l.logger.Debug("SQL Query", fields...)
	}
}

func (l *GormLogger) truncate(sql string) string {
	if l.maxSQLLength <= 0 || len(sql) <= l.maxSQLLength {
		return sql
	}
	return sql[:l.maxSQLLength] + "...(" + strconv.Itoa(len(sql)-l.maxSQLLength) + " more bytes)"
}

// MapGormLogLevel maps a config level name to a gorm level. Unknown names map to warn.
func MapGormLogLevel(level string) gormlogger.LogLevel {
	switch level {
	case "silent":
		return gormlogger.Silent
	case "error":
		return gormlogger.Error
	case "info", "debug":
		return gormlogger.Info
	default:
		return gormlogger.Warn
	}
}
