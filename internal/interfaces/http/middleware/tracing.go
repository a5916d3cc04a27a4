package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/storefront/backend/internal/infrastructure/telemetry"
)

// TracingConfig holds configuration for the tracing middleware
type TracingConfig struct {
	ServiceName string
	Enabled     bool
	// TracerProvider defaults to the global provider
	TracerProvider trace.TracerProvider
}

// TracingWithConfig returns the otelgin server middleware. Span names follow
// "METHOD route", e.g. "PUT /api/v1/delivery/orders/:id/status".
func TracingWithConfig(cfg TracingConfig) gin.HandlerFunc {
	if !cfg.Enabled {
		return func(c *gin.Context) { c.Next() }
	}

	var opts []otelgin.Option
	if cfg.TracerProvider != nil {
		opts = append(opts, otelgin.WithTracerProvider(cfg.TracerProvider))
	}
	return otelgin.Middleware(cfg.ServiceName, opts...)
}

// SpanAttributes runs inside the traced chain and annotates the server span.
// It must be registered after TracingWithConfig.
func SpanAttributes() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		if span.IsRecording() {
			if id := GetRequestID(c); id != "" {
				span.SetAttributes(attribute.String("request_id", id))
			}
			if id := c.Param("id"); id != "" && isUUID(id) {
				span.SetAttributes(attribute.String("path.id", id))
			}
			if orderID := c.Query("orderId"); orderID != "" && len(orderID) <= MaxRequestIDLength {
				span.SetAttributes(attribute.String(telemetry.SpanAttrOrderID, orderID))
			}
		}

		c.Next()

		if !span.IsRecording() {
			return
		}
		status := c.Writer.Status()
		if status >= http.StatusInternalServerError {
			span.SetStatus(codes.Error, http.StatusText(status))
		}
	}
}

func isUUID(s string) bool {
	_, err := uuid.Parse(s)
	return err == nil
}
