package telemetry

import (
	"context"
	"errors"
	"time"

	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// ErrMeterNil is returned when a metrics set is built without a meter
var ErrMeterNil = errors.New("telemetry: meter cannot be nil")

// Attempt outcomes recorded on delivery_dispatch_attempts_total
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// DispatchMetrics records carrier dispatch activity
type DispatchMetrics struct {
	logger *zap.Logger

	attemptsTotal      *Counter
	attemptDuration    *Histogram
	validationRejected *Counter
	lockContention     *Counter
	detachedCompletion *Counter
}

// NewDispatchMetrics creates the dispatch instruments on meter
func NewDispatchMetrics(meter metric.Meter, logger *zap.Logger) (*DispatchMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	dm := &DispatchMetrics{logger: logger}
	var err error

	dm.attemptsTotal, err = NewCounter(meter,
		"delivery_dispatch_attempts_total",
		"Carrier dispatch attempts by API format and outcome",
		"{attempts}",
	)
	if err != nil {
		return nil, err
	}

	dm.attemptDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "delivery_dispatch_duration_seconds",
		Description: "Duration of outbound carrier calls",
		Unit:        "s",
		Boundaries:  CarrierDurationBuckets,
	})
	if err != nil {
		return nil, err
	}

	dm.validationRejected, err = NewCounter(meter,
		"delivery_mapping_rejected_total",
		"Dispatches blocked by mapping validation before any carrier call",
		"{dispatches}",
	)
	if err != nil {
		return nil, err
	}

	dm.lockContention, err = NewCounter(meter,
		"delivery_dispatch_lock_contention_total",
		"Dispatches rejected because the same order and carrier pair was already in flight",
		"{dispatches}",
	)
	if err != nil {
		return nil, err
	}

	dm.detachedCompletion, err = NewCounter(meter,
		"delivery_dispatch_detached_total",
		"Attempts that finished after the caller had given up",
		"{attempts}",
	)
	if err != nil {
		return nil, err
	}

	return dm, nil
}

// RecordAttempt counts one carrier call and its duration
func (m *DispatchMetrics) RecordAttempt(ctx context.Context, apiFormat string, success bool, failureKind string, isResend bool, d time.Duration) {
	outcome := OutcomeSuccess
	if !success {
		outcome = OutcomeFailure
	}
	m.attemptsTotal.Inc(ctx,
		AttrAPIFormat.String(apiFormat),
		AttrOutcome.String(outcome),
		AttrFailureKind.String(failureKind),
		AttrIsResend.Bool(isResend),
	)
	m.attemptDuration.RecordDuration(ctx, d,
		AttrAPIFormat.String(apiFormat),
		AttrOutcome.String(outcome),
	)
}

// RecordValidationRejected counts a dispatch blocked by mapping validation
func (m *DispatchMetrics) RecordValidationRejected(ctx context.Context, apiFormat string) {
	m.validationRejected.Inc(ctx, AttrAPIFormat.String(apiFormat))
}

// RecordLockContention counts a dispatch rejected by the per-pair lock
func (m *DispatchMetrics) RecordLockContention(ctx context.Context) {
	m.lockContention.Inc(ctx)
}

// RecordDetachedCompletion counts an attempt that outlived its caller
func (m *DispatchMetrics) RecordDetachedCompletion(ctx context.Context, apiFormat string) {
	m.detachedCompletion.Inc(ctx, AttrAPIFormat.String(apiFormat))
}
