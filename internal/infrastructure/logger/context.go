package logger

import (
	"context"

	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

type contextKey string

const (
	loggerKey    contextKey = "logger"
	requestIDKey contextKey = "request_id"
	orderIDKey   contextKey = "order_id"
	companyIDKey contextKey = "company_id"
)

// WithContext returns a new context with the logger attached
func WithContext(ctx context.Context, logger *zap.Logger) context.Context {
	return context.WithValue(ctx, loggerKey, logger)
}

// FromContext retrieves the logger from context, or a no-op logger
func FromContext(ctx context.Context) *zap.Logger {
	if logger, ok := ctx.Value(loggerKey).(*zap.Logger); ok {
		return logger
	}
	return zap.NewNop()
}

// WithRequestID stores the request id in ctx
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// WithDispatch stores the order and carrier of a dispatch in ctx so every
// log line and SQL trace of that dispatch can be correlated.
func WithDispatch(ctx context.Context, orderID, companyID string) context.Context {
	ctx = context.WithValue(ctx, orderIDKey, orderID)
	return context.WithValue(ctx, companyIDKey, companyID)
}

// GetRequestID retrieves the request id from context
func GetRequestID(ctx context.Context) string {
	return stringValue(ctx, requestIDKey)
}

// GetOrderID retrieves the dispatched order id from context
func GetOrderID(ctx context.Context) string {
	return stringValue(ctx, orderIDKey)
}

// GetCompanyID retrieves the dispatched carrier id from context
func GetCompanyID(ctx context.Context) string {
	return stringValue(ctx, companyIDKey)
}

func stringValue(ctx context.Context, key contextKey) string {
	if v, ok := ctx.Value(key).(string); ok {
		return v
	}
	return ""
}

// contextFields collects the correlation fields present in ctx
func contextFields(ctx context.Context) []zap.Field {
	fields := make([]zap.Field, 0, 5)
	if sc := trace.SpanContextFromContext(ctx); sc.IsValid() {
		fields = append(fields,
			zap.String("trace_id", sc.TraceID().String()),
			zap.String("span_id", sc.SpanID().String()),
		)
	}
	if v := GetRequestID(ctx); v != "" {
		fields = append(fields, zap.String("request_id", v))
	}
	if v := GetOrderID(ctx); v != "" {
		fields = append(fields, zap.String("order_id", v))
	}
	if v := GetCompanyID(ctx); v != "" {
		fields = append(fields, zap.String("company_id", v))
	}
	return fields
}

// ContextLogger logs with the correlation fields of its context
type ContextLogger struct {
	ctx    context.Context
	logger *zap.Logger
}

// L returns a ContextLogger for ctx using the logger stored in it.
//
//	logger.L(ctx).Info("Carrier acknowledged", zap.String("external_order_id", id))
func L(ctx context.Context) *ContextLogger {
	return &ContextLogger{ctx: ctx, logger: FromContext(ctx)}
}

// For returns a ContextLogger for ctx using base instead of the stored logger
func For(ctx context.Context, base *zap.Logger) *ContextLogger {
	if base == nil {
		base = zap.NewNop()
	}
	return &ContextLogger{ctx: ctx, logger: base}
}

// With creates a child ContextLogger with additional fields
func (cl *ContextLogger) With(fields ...zap.Field) *ContextLogger {
	return &ContextLogger{ctx: cl.ctx, logger: cl.logger.With(fields...)}
}

// Zap returns the underlying logger with the context fields attached
func (cl *ContextLogger) Zap() *zap.Logger {
	return cl.logger.With(contextFields(cl.ctx)...)
}

func (cl *ContextLogger) Debug(msg string, fields ...zap.Field) { cl.Zap().Debug(msg, fields...) }
func (cl *ContextLogger) Info(msg string, fields ...zap.Field)  { cl.Zap().Info(msg, fields...) }
func (cl *ContextLogger) Warn(msg string, fields ...zap.Field)  { cl.Zap().Warn(msg, fields...) }
func (cl *ContextLogger) Error(msg string, fields ...zap.Field) { cl.Zap().Error(msg, fields...) }
