package delivery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/storefront/backend/internal/domain/delivery"
	"github.com/storefront/backend/internal/infrastructure/logger"
	"github.com/storefront/backend/internal/infrastructure/telemetry"
)

// CredentialManager resolves and updates a carrier's sealed credentials
type CredentialManager interface {
	delivery.CredentialResolver
	Update(ctx context.Context, companyID uuid.UUID, update delivery.CredentialUpdate) (*delivery.DeliveryCompany, error)
}

// DispatchMetricsRecorder receives dispatch measurements
type DispatchMetricsRecorder interface {
	RecordAttempt(ctx context.Context, apiFormat string, success bool, failureKind string, isResend bool, d time.Duration)
	RecordValidationRejected(ctx context.Context, apiFormat string)
	RecordLockContention(ctx context.Context)
	RecordDetachedCompletion(ctx context.Context, apiFormat string)
}

// Ensure telemetry.DispatchMetrics implements DispatchMetricsRecorder
var _ DispatchMetricsRecorder = (*telemetry.DispatchMetrics)(nil)

type noopMetrics struct{}

func (noopMetrics) RecordAttempt(context.Context, string, bool, string, bool, time.Duration) {}
func (noopMetrics) RecordValidationRejected(context.Context, string)                         {}
func (noopMetrics) RecordLockContention(context.Context)                                     {}
func (noopMetrics) RecordDetachedCompletion(context.Context, string)                         {}

type noopPublisher struct{}

func (noopPublisher) PublishAttemptRecorded(context.Context, *delivery.AttemptRecordedEvent) error {
	return nil
}

// Config bounds a dispatch attempt
type Config struct {
	// AdapterTimeout caps a single carrier call, independent of the caller
	AdapterTimeout time.Duration
	// LockTTL must exceed AdapterTimeout so the lock outlives the attempt
	LockTTL time.Duration
}

const (
	defaultAdapterTimeout = 30 * time.Second
	lockTTLMargin         = 15 * time.Second
	// persistTimeout bounds the bookkeeping after a carrier call
	persistTimeout = 10 * time.Second
)

func (c Config) withDefaults() Config {
	if c.AdapterTimeout <= 0 {
		c.AdapterTimeout = defaultAdapterTimeout
	}
	if c.LockTTL <= c.AdapterTimeout {
		c.LockTTL = c.AdapterTimeout + lockTTLMargin
	}
	return c
}

// ServiceOption configures a DispatchService
type ServiceOption func(*DispatchService)

// WithLogger sets the service logger
func WithLogger(l *zap.Logger) ServiceOption {
	return func(s *DispatchService) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithEventPublisher sets the publisher of attempt events
func WithEventPublisher(p delivery.AttemptEventPublisher) ServiceOption {
	return func(s *DispatchService) {
		if p != nil {
			s.publisher = p
		}
	}
}

// WithMetrics sets the metrics recorder
func WithMetrics(m DispatchMetricsRecorder) ServiceOption {
	return func(s *DispatchService) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithClock overrides time.Now, for tests
func WithClock(now func() time.Time) ServiceOption {
	return func(s *DispatchService) {
		if now != nil {
			s.now = now
		}
	}
}

// DispatchService sends orders to carriers and manages their mapping
// configuration and delivery records.
type DispatchService struct {
	companies delivery.DeliveryCompanyRepository
	orders    delivery.DeliveryOrderRepository
	snapshots delivery.OrderSnapshotProvider
	creds     CredentialManager
	adapters  delivery.AdapterRegistry
	locker    delivery.DispatchLocker
	engine    *delivery.FieldMappingEngine

	publisher delivery.AttemptEventPublisher
	metrics   DispatchMetricsRecorder
	logger    *zap.Logger
	now       func() time.Time
	cfg       Config
}

// NewDispatchService creates a new DispatchService
func NewDispatchService(
	companies delivery.DeliveryCompanyRepository,
	orders delivery.DeliveryOrderRepository,
	snapshots delivery.OrderSnapshotProvider,
	creds CredentialManager,
	adapters delivery.AdapterRegistry,
	locker delivery.DispatchLocker,
	cfg Config,
	opts ...ServiceOption,
) *DispatchService {
	s := &DispatchService{
		companies: companies,
		orders:    orders,
		snapshots: snapshots,
		creds:     creds,
		adapters:  adapters,
		locker:    locker,
		engine:    delivery.NewFieldMappingEngine(),
		publisher: noopPublisher{},
		metrics:   noopMetrics{},
		logger:    zap.NewNop(),
		now:       time.Now,
		cfg:       cfg.withDefaults(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

// attempt is everything the detached carrier call needs
type attempt struct {
	cmd     DispatchCommand
	company *delivery.DeliveryCompany
	adapter delivery.ProviderAdapter
	creds   *delivery.Credentials
	payload map[string]any
	order   *delivery.DeliveryOrder
	key     string
	token   string
}

type attemptOutcome struct {
	result *DispatchResult
	err    error
}

// Dispatch validates the mapped order and, when it is send-eligible, performs
// one carrier call for the (order, carrier) pair and records it.
//
// A mapping that fails validation returns *MappingValidationError without any
// side effect. A failed carrier call is not an error: the attempt is recorded
// and returned with Success=false. If ctx ends before the carrier answers,
// ErrDispatchStillRunning is returned and the attempt is still recorded.
func (s *DispatchService) Dispatch(ctx context.Context, cmd DispatchCommand) (*DispatchResult, error) {
	cmd.OrderID = strings.TrimSpace(cmd.OrderID)
	if cmd.OrderID == "" {
		return nil, delivery.ErrInvalidOrderID
	}
	if cmd.CompanyID == uuid.Nil {
		return nil, delivery.ErrInvalidCompanyID
	}
	if cmd.DeliveryFee.IsNegative() {
		return nil, delivery.ErrInvalidDeliveryFee
	}

	ctx = logger.WithDispatch(ctx, cmd.OrderID, cmd.CompanyID.String())
	ctx, span := telemetry.StartServiceSpan(ctx, "DispatchService", "Dispatch",
		telemetry.WithAttribute(telemetry.SpanAttrOrderID, cmd.OrderID),
		telemetry.WithAttribute(telemetry.SpanAttrCompanyID, cmd.CompanyID.String()),
		telemetry.WithAttribute(telemetry.SpanAttrIsResend, cmd.IsResend),
	)
	defer span.End()
	log := logger.For(ctx, s.logger)

	company, adapter, err := s.loadCarrier(ctx, cmd.CompanyID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	telemetry.SetAttribute(span, telemetry.SpanAttrAPIFormat, company.APIFormat.String())

	outcome, validation, err := s.mapOrder(ctx, company, cmd.OrderID, nil, nil, nil)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	if !validation.IsValid {
		s.metrics.RecordValidationRejected(ctx, company.APIFormat.String())
		log.Info("Dispatch blocked by mapping validation",
			zap.Int("missing_fields", len(validation.MissingFields)),
			zap.Int("invalid_fields", len(validation.InvalidFields)))
		return nil, &MappingValidationError{Result: validation}
	}

	creds, err := s.creds.Resolve(ctx, company.ID)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}
	handedOff := false
	defer func() {
		if !handedOff {
			creds.Wipe()
		}
	}()
	if err := creds.UsableFor(company.APIFormat); err != nil {
		return nil, err
	}

	key := delivery.DispatchKey(cmd.OrderID, cmd.CompanyID)
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !ok {
		s.metrics.RecordLockContention(ctx)
		log.Info("Dispatch rejected, pair already in flight")
		return nil, delivery.ErrDispatchInProgress
	}
	telemetry.AddEvent(span, "dispatch_lock_acquired", "dispatch_key", key)
	locked := true
	defer func() {
		if locked {
			s.release(context.WithoutCancel(ctx), key, token)
		}
	}()

	order, err := s.prepareOrder(ctx, cmd)
	if err != nil {
		telemetry.RecordError(span, err)
		return nil, err
	}

	a := &attempt{
		cmd:     cmd,
		company: company,
		adapter: adapter,
		creds:   creds,
		payload: outcome.Payload,
		order:   order,
		key:     key,
		token:   token,
	}

	done := make(chan attemptOutcome, 1)
	detached := context.WithoutCancel(ctx)
	handedOff, locked = true, false
	go func() {
		res, err := s.runAttempt(detached, a)
		done <- attemptOutcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			telemetry.RecordError(span, out.err)
		} else {
			telemetry.SetAttributes(span,
				telemetry.SpanAttrDeliveryOrderID, out.result.DeliveryOrder.ID.String(),
				telemetry.SpanAttrStatusCode, out.result.Attempt.StatusCode,
				telemetry.SpanAttrFailureKind, string(out.result.Attempt.FailureKind),
				telemetry.SpanAttrAttemptNumber, out.result.DeliveryOrder.ResendAttempts+1,
			)
			telemetry.SetOK(span)
		}
		return out.result, out.err
	case <-ctx.Done():
		log.Warn("Caller left before carrier answered, attempt continues",
			zap.Error(ctx.Err()))
		go func() {
			<-done
			s.metrics.RecordDetachedCompletion(detached, company.APIFormat.String())
		}()
		telemetry.RecordError(span, delivery.ErrDispatchStillRunning)
		return nil, delivery.ErrDispatchStillRunning
	}
}

// loadCarrier returns the company with the adapter for its format, or a
// configuration error.
func (s *DispatchService) loadCarrier(ctx context.Context, companyID uuid.UUID) (*delivery.DeliveryCompany, delivery.ProviderAdapter, error) {
	company, err := s.companies.FindByID(ctx, companyID)
	if err != nil {
		return nil, nil, err
	}
	if err := company.CheckDispatchable(); err != nil {
		return nil, nil, err
	}
	adapter, err := s.adapters.Adapter(company.APIFormat)
	if err != nil {
		return nil, nil, err
	}
	return company, adapter, nil
}

// prepareOrder loads the pair's record for a resend or creates the first one
func (s *DispatchService) prepareOrder(ctx context.Context, cmd DispatchCommand) (*delivery.DeliveryOrder, error) {
	existing, err := s.orders.FindByOrderAndCompany(ctx, cmd.OrderID, cmd.CompanyID)
	switch {
	case errors.Is(err, delivery.ErrDeliveryOrderNotFound):
		if cmd.IsResend {
			return nil, delivery.ErrNothingToResend
		}
		return delivery.NewDeliveryOrder(cmd.OrderID, cmd.CompanyID, cmd.DeliveryFee)
	case err != nil:
		return nil, err
	}

	if !cmd.IsResend {
		return nil, delivery.ErrDeliveryAlreadyDispatched
	}
	if !existing.Status.IsResendable() {
		return nil, fmt.Errorf("%w: status %s", delivery.ErrDeliveryNotResendable, existing.Status)
	}
	return existing, nil
}

// runAttempt performs the carrier call and the bookkeeping after it. It owns
// the lock and the credentials of the attempt and releases both.
func (s *DispatchService) runAttempt(ctx context.Context, a *attempt) (*DispatchResult, error) {
	defer a.creds.Wipe()
	defer s.release(ctx, a.key, a.token)

	log := logger.For(ctx, s.logger).With(zap.String("api_format", a.company.APIFormat.String()))

	if err := a.order.BeginAttempt(); err != nil {
		return nil, err
	}

	sendCtx, cancel := context.WithTimeout(ctx, s.cfg.AdapterTimeout)
	started := s.now()
	result := a.adapter.Send(sendCtx, &delivery.SendRequest{
		CompanyID:   a.company.ID,
		OrderID:     a.cmd.OrderID,
		BaseURL:     a.company.APIBaseURL,
		Payload:     a.payload,
		Credentials: a.creds,
	})
	cancel()
	if result == nil {
		result = delivery.Failed(delivery.FailureUnexpectedShape, 0, "", "carrier adapter returned no result")
	}
	if result.Duration == 0 {
		result.Duration = s.now().Sub(started)
	}

	now := s.now()
	if err := a.order.ApplyOutcome(result, now); err != nil {
		return nil, err
	}
	if a.cmd.IsResend {
		a.order.RecordResend(result, a.cmd.Notes, now)
	}

	persistCtx, cancelPersist := context.WithTimeout(ctx, persistTimeout)
	defer cancelPersist()
	if err := s.orders.Save(persistCtx, a.order); err != nil {
		log.Error("Failed to record dispatch attempt", zap.Error(err),
			zap.Bool("carrier_success", result.Success))
		return nil, fmt.Errorf("record dispatch attempt: %w", err)
	}

	event := delivery.NewAttemptRecordedEvent(a.order, a.company.APIFormat, a.cmd.IsResend, result)
	if err := s.publisher.PublishAttemptRecorded(persistCtx, event); err != nil {
		log.Warn("Failed to publish attempt event", zap.Error(err))
	}
	s.metrics.RecordAttempt(ctx, a.company.APIFormat.String(), result.Success,
		string(result.FailureKind), a.cmd.IsResend, result.Duration)

	fields := []zap.Field{
		zap.String("delivery_order_id", a.order.ID.String()),
		zap.String("status", a.order.Status.String()),
		zap.Int("carrier_status", result.StatusCode),
		zap.Duration("duration", result.Duration),
		zap.Bool("is_resend", a.cmd.IsResend),
	}
	if result.Success {
		log.Info("Dispatch attempt acknowledged", fields...)
	} else {
		log.Warn("Dispatch attempt failed", append(fields,
			zap.String("failure_kind", string(result.FailureKind)),
			zap.String("error", result.ErrorMessage))...)
	}

	return &DispatchResult{
		Success:       result.Success,
		IsResend:      a.cmd.IsResend,
		DeliveryOrder: ToDeliveryOrderResponse(a.order),
		Attempt: AttemptSummary{
			Success:         result.Success,
			FailureKind:     result.FailureKind,
			StatusCode:      result.StatusCode,
			ErrorMessage:    result.ErrorMessage,
			RawResponse:     result.RawResponse,
			DurationMillis:  result.Duration.Milliseconds(),
			ExternalOrderID: result.ExternalOrderID,
		},
	}, nil
}

func (s *DispatchService) release(ctx context.Context, key, token string) {
	if err := s.locker.Unlock(ctx, key, token); err != nil {
		logger.For(ctx, s.logger).Warn("Failed to release dispatch lock", zap.String("key", key), zap.Error(err))
	}
}

// ---------------------------------------------------------------------------
// Mapping configuration
// ---------------------------------------------------------------------------

// mapOrder runs the engine and validator. A nil snapshot is loaded by orderID;
// nil mappings fall back to the company's stored configuration.
func (s *DispatchService) mapOrder(
	ctx context.Context,
	company *delivery.DeliveryCompany,
	orderID string,
	snapshot map[string]any,
	mappings []delivery.FieldMapping,
	customFields map[string]any,
) (*delivery.MappingOutcome, *delivery.MappingValidationResult, error) {
	if snapshot == nil {
		if strings.TrimSpace(orderID) == "" {
			return nil, nil, delivery.ErrInvalidOrderID
		}
		var err error
		snapshot, err = s.snapshots.Snapshot(ctx, orderID)
		if err != nil {
			return nil, nil, err
		}
	}
	if mappings == nil {
		mappings = company.EnabledFieldMappings()
		if customFields == nil {
			customFields = company.CustomFields
		}
	}

	outcome := s.engine.Apply(snapshot, mappings, customFields)
	validation := delivery.NewMappingValidator(company.ValidationRules).Validate(outcome)
	return outcome, validation, nil
}

// ValidateFieldMappings maps the stored order with the carrier's configuration
// and reports whether the result could be sent. Read-only.
func (s *DispatchService) ValidateFieldMappings(ctx context.Context, orderID string, companyID uuid.UUID) (*delivery.MappingValidationResult, error) {
	if companyID == uuid.Nil {
		return nil, delivery.ErrInvalidCompanyID
	}
	company, err := s.companies.FindByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	_, validation, err := s.mapOrder(ctx, company, orderID, nil, nil, nil)
	if err != nil {
		return nil, err
	}
	return validation, nil
}

// PreviewMapping shows the payload a configuration would produce without
// dispatching or saving anything.
func (s *DispatchService) PreviewMapping(ctx context.Context, cmd PreviewCommand) (*PreviewResult, error) {
	if cmd.CompanyID == uuid.Nil {
		return nil, delivery.ErrInvalidCompanyID
	}
	company, err := s.companies.FindByID(ctx, cmd.CompanyID)
	if err != nil {
		return nil, err
	}

	mappings := cmd.FieldMappings
	if mappings != nil {
		normalized := make([]delivery.FieldMapping, len(mappings))
		for i, m := range mappings {
			normalized[i] = delivery.NormalizeFieldMapping(m)
		}
		if err := delivery.ValidateFieldMappings(normalized); err != nil {
			return nil, err
		}
		mappings = normalized
	}

	outcome, validation, err := s.mapOrder(ctx, company, cmd.OrderID, cmd.Snapshot, mappings, cmd.CustomFields)
	if err != nil {
		return nil, err
	}
	return &PreviewResult{
		Payload:     outcome.Payload,
		Diagnostics: outcome.Diagnostics,
		Validation:  validation,
	}, nil
}

// UpdateFieldMappings replaces and persists the carrier's mapping configuration
func (s *DispatchService) UpdateFieldMappings(ctx context.Context, companyID uuid.UUID, cmd UpdateFieldMappingsCommand) (*CompanyMappingResponse, error) {
	company, err := s.companies.FindByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	if err := company.ReplaceFieldMappings(cmd.FieldMappings, cmd.CustomFields); err != nil {
		return nil, err
	}
	if cmd.ValidationRules != nil {
		if err := company.ReplaceValidationRules(cmd.ValidationRules); err != nil {
			return nil, err
		}
	}
	if err := s.companies.Save(ctx, company); err != nil {
		return nil, err
	}

	logger.For(ctx, s.logger).Info("Field mappings updated",
		zap.String("company_id", companyID.String()),
		zap.Int("mappings", len(company.FieldMappings)))
	resp := ToCompanyMappingResponse(company)
	return &resp, nil
}

// UpdateCredentials merges a credential update into the sealed set
func (s *DispatchService) UpdateCredentials(ctx context.Context, companyID uuid.UUID, update delivery.CredentialUpdate) (*CompanyMappingResponse, error) {
	company, err := s.creds.Update(ctx, companyID, update)
	if err != nil {
		return nil, err
	}
	logger.For(ctx, s.logger).Info("Carrier credentials updated",
		zap.String("company_id", companyID.String()),
		zap.String("api_format", company.APIFormat.String()))
	resp := ToCompanyMappingResponse(company)
	if creds, err := s.creds.Resolve(ctx, companyID); err == nil {
		presence := creds.Presence()
		resp.Credentials = &presence
		creds.Wipe()
	} else {
		logger.For(ctx, s.logger).Warn("Stored credentials unreadable after update",
			zap.String("company_id", companyID.String()), zap.Error(err))
	}
	return &resp, nil
}

// ---------------------------------------------------------------------------
// Delivery records
// ---------------------------------------------------------------------------

// GetDeliveryOrder returns the record of one (order, carrier) pair
func (s *DispatchService) GetDeliveryOrder(ctx context.Context, orderID string, companyID uuid.UUID) (*DeliveryOrderResponse, error) {
	order, err := s.orders.FindByOrderAndCompany(ctx, orderID, companyID)
	if err != nil {
		return nil, err
	}
	resp := ToDeliveryOrderResponse(order)
	return &resp, nil
}

// ListDeliveryOrders returns every carrier record of an order
func (s *DispatchService) ListDeliveryOrders(ctx context.Context, orderID string) ([]DeliveryOrderResponse, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, delivery.ErrInvalidOrderID
	}
	orders, err := s.orders.FindByOrderID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	resp := make([]DeliveryOrderResponse, len(orders))
	for i := range orders {
		resp[i] = ToDeliveryOrderResponse(&orders[i])
	}
	return resp, nil
}

// UpdateDeliveryStatus advances a record along the carrier-driven lifecycle.
// Statuses owned by the send path (pending, sent) are rejected.
func (s *DispatchService) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status delivery.DeliveryStatus, externalStatus string) (*DeliveryOrderResponse, error) {
	order, err := s.mutateLocked(ctx, id, func(order *delivery.DeliveryOrder) error {
		if status != order.Status {
			if err := order.AdvanceCarrierStatus(status); err != nil {
				return err
			}
		}
		if externalStatus != "" {
			order.SetExternalStatus(externalStatus)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	resp := ToDeliveryOrderResponse(order)
	return &resp, nil
}

// CancelDelivery cancels a delivery record
func (s *DispatchService) CancelDelivery(ctx context.Context, id uuid.UUID) (*DeliveryOrderResponse, error) {
	order, err := s.mutateLocked(ctx, id, func(order *delivery.DeliveryOrder) error {
		return order.Cancel()
	})
	if err != nil {
		return nil, err
	}
	logger.For(ctx, s.logger).Info("Delivery cancelled", zap.String("delivery_order_id", id.String()))
	resp := ToDeliveryOrderResponse(order)
	return &resp, nil
}

// mutateLocked applies fn to a delivery record while holding its pair's
// dispatch lock, so it cannot interleave with a send or resend. The record
// is re-read under the lock before fn runs.
func (s *DispatchService) mutateLocked(ctx context.Context, id uuid.UUID, fn func(*delivery.DeliveryOrder) error) (*delivery.DeliveryOrder, error) {
	order, err := s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	key := order.Key()
	token, ok, err := s.locker.TryLock(ctx, key, s.cfg.LockTTL)
	if err != nil {
		return nil, fmt.Errorf("acquire dispatch lock: %w", err)
	}
	if !ok {
		s.metrics.RecordLockContention(ctx)
		return nil, delivery.ErrDispatchInProgress
	}
	defer s.release(context.WithoutCancel(ctx), key, token)

	order, err = s.orders.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(order); err != nil {
		return nil, err
	}
	if err := s.orders.Save(ctx, order); err != nil {
		return nil, err
	}
	return order, nil
}

// QuoteDeliveryFee computes the carrier's fee for a shipment
func (s *DispatchService) QuoteDeliveryFee(ctx context.Context, companyID uuid.UUID, cmd QuoteCommand) (*QuoteResult, error) {
	company, err := s.companies.FindByID(ctx, companyID)
	if err != nil {
		return nil, err
	}
	fee, err := company.Pricing.Quote(cmd.Region, cmd.WeightKg, cmd.DistanceKm)
	if err != nil {
		return nil, err
	}
	return &QuoteResult{
		CompanyID: company.ID,
		Mode:      string(company.Pricing.Mode),
		Region:    cmd.Region,
		Fee:       fee,
	}, nil
}
