package telemetry_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"go.opentelemetry.io/otel/trace"

	"github.com/storefront/backend/internal/infrastructure/telemetry"
)

// setupTestTracer installs an in-memory span recorder as the global provider
func setupTestTracer(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()

	sr := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(sr))

	original := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(original)
		_ = tp.Shutdown(context.Background())
	})
	return sr
}

func TestStartServiceSpan(t *testing.T) {
	sr := setupTestTracer(t)
	companyID := uuid.New()

	ctx, span := telemetry.StartServiceSpan(context.Background(), "delivery", "dispatch",
		telemetry.WithAttribute(telemetry.SpanAttrOrderID, "SO-1"),
		telemetry.WithAttribute(telemetry.SpanAttrCompanyID, companyID),
		telemetry.WithSpanKind(trace.SpanKindClient),
	)
	telemetry.SetAttributes(span, telemetry.SpanAttrAttemptNumber, 2, telemetry.SpanAttrIsResend, true, "dangling")
	telemetry.AddEvent(span, "dispatch_lock_acquired", "dispatch_key", "SO-1:"+companyID.String())
	assert.NotEmpty(t, telemetry.GetTraceID(ctx))
	assert.NotEmpty(t, telemetry.GetSpanID(ctx))
	span.End()

	spans := sr.Ended()
	require.Len(t, spans, 1)
	got := spans[0]
	assert.Equal(t, "delivery.dispatch", got.Name())
	assert.Equal(t, trace.SpanKindClient, got.SpanKind())

	attrs := map[string]string{}
	for _, kv := range got.Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "SO-1", attrs["order_id"])
	assert.Equal(t, companyID.String(), attrs["company_id"])
	assert.Equal(t, "2", attrs["attempt_number"])
	assert.Equal(t, "true", attrs["is_resend"])
	require.Len(t, got.Events(), 1)
	assert.Equal(t, "dispatch_lock_acquired", got.Events()[0].Name)
}

func TestRecordError(t *testing.T) {
	sr := setupTestTracer(t)

	_, span := telemetry.StartSpan(context.Background(), "delivery.persist")
	telemetry.RecordError(span, errors.New("db down"))
	telemetry.RecordError(span, nil)
	span.End()

	got := sr.Ended()[0]
	assert.Equal(t, codes.Error, got.Status().Code)
	assert.Equal(t, "db down", got.Status().Description)
}

func TestHelpers_NilSpan(t *testing.T) {
	assert.NotPanics(t, func() {
		telemetry.SetAttributes(nil, "k", "v")
		telemetry.SetAttribute(nil, "k", "v")
		telemetry.RecordError(nil, errors.New("x"))
		telemetry.SetOK(nil)
		telemetry.AddEvent(nil, "e")
	})
	assert.Empty(t, telemetry.GetTraceID(context.Background()))
}
