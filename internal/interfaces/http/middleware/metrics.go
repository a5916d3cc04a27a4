package middleware

import (
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/storefront/backend/internal/infrastructure/telemetry"
)

type httpMetrics struct {
	requestTotal    *telemetry.Counter
	requestDuration *telemetry.Histogram
	activeRequests  metric.Int64UpDownCounter
}

func newHTTPMetrics(meter metric.Meter) (*httpMetrics, error) {
	requestTotal, err := telemetry.NewCounter(meter,
		"http_server_request_total", "Total number of HTTP requests", "{request}")
	if err != nil {
		return nil, err
	}
	requestDuration, err := telemetry.NewHistogram(meter, telemetry.HistogramOpts{
		Name:        "http_server_request_duration_seconds",
		Description: "HTTP request latency distribution in seconds",
		Unit:        "s",
		Boundaries:  telemetry.HTTPDurationBuckets,
	})
	if err != nil {
		return nil, err
	}
	activeRequests, err := meter.Int64UpDownCounter("http_server_active_requests",
		metric.WithDescription("Number of currently active HTTP requests"),
		metric.WithUnit("{request}"))
	if err != nil {
		return nil, err
	}
	return &httpMetrics{
		requestTotal:    requestTotal,
		requestDuration: requestDuration,
		activeRequests:  activeRequests,
	}, nil
}

// HTTPMetrics records request count, latency and concurrency per route.
// A nil meter disables it.
func HTTPMetrics(meter metric.Meter) (gin.HandlerFunc, error) {
	if meter == nil {
		return func(c *gin.Context) { c.Next() }, nil
	}
	m, err := newHTTPMetrics(meter)
	if err != nil {
		return nil, err
	}

	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()
		m.activeRequests.Add(ctx, 1)
		defer m.activeRequests.Add(ctx, -1)

		c.Next()

		route := c.FullPath()
		if route == "" {
			route = "unmatched"
		}
		attrs := []attribute.KeyValue{
			attribute.String("method", c.Request.Method),
			attribute.String("route", route),
		}
		m.requestDuration.RecordDuration(ctx, time.Since(start), attrs...)
		m.requestTotal.Inc(ctx, append(attrs, attribute.String("status_code", strconv.Itoa(c.Writer.Status())))...)
	}, nil
}
