package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"
)

// MetricsConfig configures metric export
type MetricsConfig struct {
	Enabled           bool
	CollectorEndpoint string
	// ExportInterval defaults to one minute
	ExportInterval time.Duration
	ServiceName    string
	Insecure       bool
}

// MeterProvider owns the SDK meter provider. Disabled, it hands out meters
// from the global provider.
type MeterProvider struct {
	provider *sdkmetric.MeterProvider
	logger   *zap.Logger
}

// NewMeterProvider installs a periodic OTLP/gRPC meter provider as the global one
func NewMeterProvider(ctx context.Context, cfg MetricsConfig, logger *zap.Logger) (*MeterProvider, error) {
	mp := &MeterProvider{logger: logger}
	if !cfg.Enabled {
		logger.Info("Metrics disabled")
		return mp, nil
	}

	interval := cfg.ExportInterval
	if interval <= 0 {
		interval = time.Minute
	}
	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.CollectorEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create metric exporter: %w", err)
	}
	res, err := newResource(cfg.ServiceName, "")
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	mp.provider = sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(interval))),
	)
	otel.SetMeterProvider(mp.provider)

	logger.Info("Metrics enabled",
		zap.String("collector_endpoint", cfg.CollectorEndpoint),
		zap.Duration("export_interval", interval),
	)
	return mp, nil
}

// Shutdown flushes pending measurements
func (mp *MeterProvider) Shutdown(ctx context.Context) error {
	if mp.provider == nil {
		return nil
	}
	ctx, cancel := context.WithTimeout(ctx, shutdownTimeout)
	defer cancel()
	if err := mp.provider.Shutdown(ctx); err != nil {
		return fmt.Errorf("shutdown meter provider: %w", err)
	}
	mp.logger.Info("Meter provider stopped")
	return nil
}

// Meter returns a named meter
func (mp *MeterProvider) Meter(name string, opts ...metric.MeterOption) metric.Meter {
	if mp.provider == nil {
		return otel.GetMeterProvider().Meter(name, opts...)
	}
	return mp.provider.Meter(name, opts...)
}

// IsEnabled reports whether measurements are exported
func (mp *MeterProvider) IsEnabled() bool { return mp.provider != nil }

// ---------------------------------------------------------------------------
// Instruments
// ---------------------------------------------------------------------------

// Counter is a monotonic int64 counter
type Counter struct {
	counter metric.Int64Counter
}

// NewCounter registers a counter on meter
func NewCounter(meter metric.Meter, name, description, unit string) (*Counter, error) {
	c, err := meter.Int64Counter(name, metric.WithDescription(description), metric.WithUnit(unit))
	if err != nil {
		return nil, fmt.Errorf("create counter %s: %w", name, err)
	}
	return &Counter{counter: c}, nil
}

// Inc adds one
func (c *Counter) Inc(ctx context.Context, attrs ...attribute.KeyValue) {
	c.counter.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// Histogram records float64 distributions
type Histogram struct {
	histogram metric.Float64Histogram
}

// HistogramOpts describes a histogram. Empty Boundaries keep the SDK defaults.
type HistogramOpts struct {
	Name        string
	Description string
	Unit        string
	Boundaries  []float64
}

// NewHistogram registers a histogram on meter
func NewHistogram(meter metric.Meter, opts HistogramOpts) (*Histogram, error) {
	hOpts := []metric.Float64HistogramOption{
		metric.WithDescription(opts.Description),
		metric.WithUnit(opts.Unit),
	}
	if len(opts.Boundaries) > 0 {
		hOpts = append(hOpts, metric.WithExplicitBucketBoundaries(opts.Boundaries...))
	}
	h, err := meter.Float64Histogram(opts.Name, hOpts...)
	if err != nil {
		return nil, fmt.Errorf("create histogram %s: %w", opts.Name, err)
	}
	return &Histogram{histogram: h}, nil
}

// RecordDuration records d in seconds
func (h *Histogram) RecordDuration(ctx context.Context, d time.Duration, attrs ...attribute.KeyValue) {
	h.histogram.Record(ctx, d.Seconds(), metric.WithAttributes(attrs...))
}

// Attribute keys shared by delivery metrics
var (
	AttrAPIFormat   = attribute.Key("api_format")
	AttrOutcome     = attribute.Key("outcome")
	AttrFailureKind = attribute.Key("failure_kind")
	AttrIsResend    = attribute.Key("is_resend")
)

// CarrierDurationBuckets bound outbound carrier call durations in seconds
var CarrierDurationBuckets = []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}

// HTTPDurationBuckets bound inbound request durations in seconds. A send
// waits on the carrier, so the tail is long.
var HTTPDurationBuckets = []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60}
