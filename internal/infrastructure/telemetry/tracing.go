package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// TracerName names the tracer used for service spans
const TracerName = "storefront-delivery"

// Span attribute keys used by the delivery service
const (
	SpanAttrOrderID         = "order_id"
	SpanAttrCompanyID       = "company_id"
	SpanAttrDeliveryOrderID = "delivery_order_id"
	SpanAttrAPIFormat       = "api_format"
	SpanAttrIsResend        = "is_resend"
	SpanAttrAttemptNumber   = "attempt_number"
	SpanAttrStatusCode      = "carrier.status_code"
	SpanAttrFailureKind     = "carrier.failure_kind"
)

// SpanOption configures StartSpan
type SpanOption func(*spanOptions)

type spanOptions struct {
	attributes []attribute.KeyValue
	kind       trace.SpanKind
}

// WithAttribute adds a start attribute
func WithAttribute(key string, value any) SpanOption {
	return func(o *spanOptions) {
		o.attributes = append(o.attributes, toAttribute(key, value))
	}
}

// WithSpanKind overrides the default internal span kind
func WithSpanKind(kind trace.SpanKind) SpanOption {
	return func(o *spanOptions) { o.kind = kind }
}

// StartSpan starts a span on the global tracer provider. The caller ends it.
//
//	ctx, span := telemetry.StartSpan(ctx, "delivery.persist")
//	defer span.End()
func StartSpan(ctx context.Context, name string, opts ...SpanOption) (context.Context, trace.Span) {
	o := &spanOptions{kind: trace.SpanKindInternal}
	for _, opt := range opts {
		opt(o)
	}
	startOpts := []trace.SpanStartOption{trace.WithSpanKind(o.kind)}
	if len(o.attributes) > 0 {
		startOpts = append(startOpts, trace.WithAttributes(o.attributes...))
	}
	return otel.GetTracerProvider().Tracer(TracerName).Start(ctx, name, startOpts...)
}

// StartServiceSpan starts a span named "{service}.{method}"
func StartServiceSpan(ctx context.Context, service, method string, opts ...SpanOption) (context.Context, trace.Span) {
	return StartSpan(ctx, service+"."+method, opts...)
}

// SetAttributes sets alternating key, value pairs. Non-string keys and a
// trailing key without value are skipped.
func SetAttributes(span trace.Span, keyValues ...any) {
	if span == nil {
		return
	}
	span.SetAttributes(pairs(keyValues)...)
}

// SetAttribute sets one attribute
func SetAttribute(span trace.Span, key string, value any) {
	if span == nil {
		return
	}
	span.SetAttributes(toAttribute(key, value))
}

// RecordError records err and marks the span failed. A nil err is ignored.
func RecordError(span trace.Span, err error, opts ...trace.EventOption) {
	if span == nil || err == nil {
		return
	}
	span.RecordError(err, opts...)
	span.SetStatus(codes.Error, err.Error())
}

// SetOK marks the span successful
func SetOK(span trace.Span) {
	if span == nil {
		return
	}
	span.SetStatus(codes.Ok, "")
}

// AddEvent adds a timestamped event with alternating key, value attributes
func AddEvent(span trace.Span, name string, keyValues ...any) {
	if span == nil {
		return
	}
	span.AddEvent(name, trace.WithAttributes(pairs(keyValues)...))
}

// GetTraceID returns the trace id of the span in ctx, or "" if none is recording
func GetTraceID(ctx context.Context) string {
	id := trace.SpanContextFromContext(ctx).TraceID()
	if !id.IsValid() {
		return ""
	}
	return id.String()
}

// GetSpanID returns the span id of the span in ctx, or ""
func GetSpanID(ctx context.Context) string {
	id := trace.SpanContextFromContext(ctx).SpanID()
	if !id.IsValid() {
		return ""
	}
	return id.String()
}

func pairs(keyValues []any) []attribute.KeyValue {
	attrs := make([]attribute.KeyValue, 0, len(keyValues)/2)
	for i := 0; i+1 < len(keyValues); i += 2 {
		if key, ok := keyValues[i].(string); ok {
			attrs = append(attrs, toAttribute(key, keyValues[i+1]))
		}
	}
	return attrs
}

func toAttribute(key string, value any) attribute.KeyValue {
	switch v := value.(type) {
	case string:
		return attribute.String(key, v)
	case int:
		return attribute.Int(key, v)
	case int64:
		return attribute.Int64(key, v)
	case float64:
		return attribute.Float64(key, v)
	case bool:
		return attribute.Bool(key, v)
	case []string:
		return attribute.StringSlice(key, v)
	case fmt.Stringer:
		return attribute.String(key, v.String())
	default:
		return attribute.String(key, fmt.Sprint(v))
	}
}
