package delivery

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v7"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/storefront/backend/internal/domain/delivery"
	"github.com/storefront/backend/internal/domain/shared"
)

// ---------------------------------------------------------------------------
// Mocks
// ---------------------------------------------------------------------------

// MockDeliveryCompanyRepository is a mock implementation of DeliveryCompanyRepository
type MockDeliveryCompanyRepository struct {
	mock.Mock
}

func (m *MockDeliveryCompanyRepository) FindByID(ctx context.Context, id uuid.UUID) (*delivery.DeliveryCompany, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*delivery.DeliveryCompany), args.Error(1)
}

func (m *MockDeliveryCompanyRepository) Save(ctx context.Context, company *delivery.DeliveryCompany) error {
	args := m.Called(ctx, company)
	return args.Error(0)
}

// MockDeliveryOrderRepository is a mock implementation of DeliveryOrderRepository
type MockDeliveryOrderRepository struct {
	mock.Mock
}

func (m *MockDeliveryOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*delivery.DeliveryOrder, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*delivery.DeliveryOrder), args.Error(1)
}

func (m *MockDeliveryOrderRepository) FindByOrderAndCompany(ctx context.Context, orderID string, companyID uuid.UUID) (*delivery.DeliveryOrder, error) {
	args := m.Called(ctx, orderID, companyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*delivery.DeliveryOrder), args.Error(1)
}

func (m *MockDeliveryOrderRepository) FindByOrderID(ctx context.Context, orderID string) ([]delivery.DeliveryOrder, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]delivery.DeliveryOrder), args.Error(1)
}

func (m *MockDeliveryOrderRepository) Save(ctx context.Context, order *delivery.DeliveryOrder) error {
	args := m.Called(ctx, order)
	return args.Error(0)
}

// MockOrderSnapshotProvider is a mock implementation of OrderSnapshotProvider
type MockOrderSnapshotProvider struct {
	mock.Mock
}

func (m *MockOrderSnapshotProvider) Snapshot(ctx context.Context, orderID string) (map[string]any, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]any), args.Error(1)
}

// MockCredentialManager is a mock implementation of CredentialManager
type MockCredentialManager struct {
	mock.Mock
}

func (m *MockCredentialManager) Resolve(ctx context.Context, companyID uuid.UUID) (*delivery.Credentials, error) {
	args := m.Called(ctx, companyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*delivery.Credentials), args.Error(1)
}

func (m *MockCredentialManager) Update(ctx context.Context, companyID uuid.UUID, update delivery.CredentialUpdate) (*delivery.DeliveryCompany, error) {
	args := m.Called(ctx, companyID, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*delivery.DeliveryCompany), args.Error(1)
}

// MockAdapterRegistry is a mock implementation of AdapterRegistry
type MockAdapterRegistry struct {
	mock.Mock
}

func (m *MockAdapterRegistry) Adapter(format delivery.APIFormat) (delivery.ProviderAdapter, error) {
	args := m.Called(format)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(delivery.ProviderAdapter), args.Error(1)
}

// MockProviderAdapter is a mock implementation of ProviderAdapter
type MockProviderAdapter struct {
	mock.Mock
}

func (m *MockProviderAdapter) Format() delivery.APIFormat {
	args := m.Called()
	return args.Get(0).(delivery.APIFormat)
}

func (m *MockProviderAdapter) Send(ctx context.Context, req *delivery.SendRequest) *delivery.SendResult {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil
	}
	return args.Get(0).(*delivery.SendResult)
}

// MockDispatchLocker is a mock implementation of DispatchLocker
type MockDispatchLocker struct {
	mock.Mock
}

func (m *MockDispatchLocker) TryLock(ctx context.Context, key string, ttl time.Duration) (string, bool, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Bool(1), args.Error(2)
}

func (m *MockDispatchLocker) Unlock(ctx context.Context, key, token string) error {
	args := m.Called(ctx, key, token)
	return args.Error(0)
}

// MockAttemptEventPublisher is a mock implementation of AttemptEventPublisher
type MockAttemptEventPublisher struct {
	mock.Mock
}

func (m *MockAttemptEventPublisher) PublishAttemptRecorded(ctx context.Context, event *delivery.AttemptRecordedEvent) error {
	args := m.Called(ctx, event)
	return args.Error(0)
}

// MockDispatchMetrics is a mock implementation of DispatchMetricsRecorder
type MockDispatchMetrics struct {
	mock.Mock
}

func (m *MockDispatchMetrics) RecordAttempt(ctx context.Context, apiFormat string, success bool, failureKind string, isResend bool, d time.Duration) {
	m.Called(ctx, apiFormat, success, failureKind, isResend, d)
}

func (m *MockDispatchMetrics) RecordValidationRejected(ctx context.Context, apiFormat string) {
	m.Called(ctx, apiFormat)
}

func (m *MockDispatchMetrics) RecordLockContention(ctx context.Context) {
	m.Called(ctx)
}

func (m *MockDispatchMetrics) RecordDetachedCompletion(ctx context.Context, apiFormat string) {
	m.Called(ctx, apiFormat)
}

// ---------------------------------------------------------------------------
// Fixture
// ---------------------------------------------------------------------------

type dispatchFixture struct {
	companies *MockDeliveryCompanyRepository
	orders    *MockDeliveryOrderRepository
	snapshots *MockOrderSnapshotProvider
	creds     *MockCredentialManager
	registry  *MockAdapterRegistry
	adapter   *MockProviderAdapter
	locker    *MockDispatchLocker
	publisher *MockAttemptEventPublisher
	metrics   *MockDispatchMetrics
	service   *DispatchService

	company *delivery.DeliveryCompany
	orderID string
	key     string
	now     time.Time
}

func newDispatchFixture(t *testing.T) *dispatchFixture {
	t.Helper()

	company, err := delivery.NewDeliveryCompany(gofakeit.Company(), "https://carrier.example.com/api/orders", delivery.APIFormatREST)
	require.NoError(t, err)
	require.NoError(t, company.ReplaceFieldMappings([]delivery.FieldMapping{
		{SourceField: "customer.name", TargetField: "recipient_name", Required: true, Enabled: true, Transform: delivery.TransformTrim},
		{SourceField: "customer.phone", TargetField: "recipient_phone", Required: true, Enabled: true, Transform: delivery.TransformPhoneDigits},
		{SourceField: "shipping.city", TargetField: "city", Enabled: true, DefaultValue: "Unknown"},
	}, map[string]any{"service_type": "express"}))

	f := &dispatchFixture{
		companies: new(MockDeliveryCompanyRepository),
		orders:    new(MockDeliveryOrderRepository),
		snapshots: new(MockOrderSnapshotProvider),
		creds:     new(MockCredentialManager),
		registry:  new(MockAdapterRegistry),
		adapter:   new(MockProviderAdapter),
		locker:    new(MockDispatchLocker),
		publisher: new(MockAttemptEventPublisher),
		metrics:   new(MockDispatchMetrics),
		company:   company,
		orderID:   gofakeit.Numerify("ORD-######"),
		now:       time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC),
	}
	f.key = delivery.DispatchKey(f.orderID, company.ID)
	f.service = NewDispatchService(
		f.companies, f.orders, f.snapshots, f.creds, f.registry, f.locker,
		Config{AdapterTimeout: 2 * time.Second, LockTTL: 5 * time.Second},
		WithEventPublisher(f.publisher),
		WithMetrics(f.metrics),
		WithClock(func() time.Time { return f.now }),
	)
	return f
}

func (f *dispatchFixture) snapshot() map[string]any {
	return map[string]any{
		"id": f.orderID,
		"customer": map[string]any{
			"name":  "  " + gofakeit.Name() + " ",
			"phone": "+1 (555) 010-2030",
		},
		"shipping": map[string]any{"city": gofakeit.City()},
	}
}

// expectReady sets up everything a dispatch reads before the lock
func (f *dispatchFixture) expectReady() {
	f.companies.On("FindByID", mock.Anything, f.company.ID).Return(f.company, nil)
	f.registry.On("Adapter", delivery.APIFormatREST).Return(f.adapter, nil)
	f.snapshots.On("Snapshot", mock.Anything, f.orderID).Return(f.snapshot(), nil)
	f.creds.On("Resolve", mock.Anything, f.company.ID).Return(&delivery.Credentials{APIKey: "sk-test"}, nil)
}

func (f *dispatchFixture) expectLock() {
	f.locker.On("TryLock", mock.Anything, f.key, 5*time.Second).Return("tok-1", true, nil)
	f.locker.On("Unlock", mock.Anything, f.key, "tok-1").Return(nil)
}

func (f *dispatchFixture) assertAll(t *testing.T) {
	t.Helper()
	f.companies.AssertExpectations(t)
	f.orders.AssertExpectations(t)
	f.snapshots.AssertExpectations(t)
	f.creds.AssertExpectations(t)
	f.registry.AssertExpectations(t)
	f.adapter.AssertExpectations(t)
	f.locker.AssertExpectations(t)
	f.publisher.AssertExpectations(t)
	f.metrics.AssertExpectations(t)
}

func acknowledged() *delivery.SendResult {
	return &delivery.SendResult{
		Success:         true,
		ExternalOrderID: "EXT-1001",
		ExternalStatus:  "accepted",
		TrackingNumber:  "TRK-1001",
		RawResponse:     `{"id":"EXT-1001","status":"accepted","trackingNumber":"TRK-1001"}`,
		StatusCode:      201,
		Duration:        120 * time.Millisecond,
	}
}

// ---------------------------------------------------------------------------
// Dispatch
// ---------------------------------------------------------------------------

func TestDispatchService_Dispatch_FirstAttemptAcknowledged(t *testing.T) {
	f := newDispatchFixture(t)
	f.expectReady()
	f.expectLock()
	f.orders.On("FindByOrderAndCompany", mock.Anything, f.orderID, f.company.ID).Return(nil, delivery.ErrDeliveryOrderNotFound)

	var sent *delivery.SendRequest
	f.adapter.On("Send", mock.Anything, mock.AnythingOfType("*delivery.SendRequest")).
		Run(func(args mock.Arguments) { sent = args.Get(1).(*delivery.SendRequest) }).
		Return(acknowledged())
	f.orders.On("Save", mock.Anything, mock.MatchedBy(func(o *delivery.DeliveryOrder) bool {
		return o.Status == delivery.DeliveryStatusAcknowledged && o.ResendAttempts == 0
	})).Return(nil)
	f.publisher.On("PublishAttemptRecorded", mock.Anything, mock.MatchedBy(func(e *delivery.AttemptRecordedEvent) bool {
		return e.Success && !e.IsResend && e.OrderID == f.orderID
	})).Return(nil)
	f.metrics.On("RecordAttempt", mock.Anything, "REST", true, "", false, 120*time.Millisecond).Return()

	fee := decimal.NewFromFloat(12.5)
	result, err := f.service.Dispatch(context.Background(), DispatchCommand{
		OrderID:     f.orderID,
		CompanyID:   f.company.ID,
		DeliveryFee: fee,
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.False(t, result.IsResend)
	assert.Equal(t, "TRK-1001", result.DeliveryOrder.TrackingNumber)
	assert.False(t, result.DeliveryOrder.TrackingIsLocal)
	assert.Equal(t, "acknowledged", result.DeliveryOrder.Status)
	assert.Equal(t, "EXT-1001", result.DeliveryOrder.ExternalOrderID)
	assert.True(t, fee.Equal(result.DeliveryOrder.DeliveryFee))
	assert.Empty(t, result.DeliveryOrder.ResendHistory)

	require.NotNil(t, sent)
	assert.Equal(t, f.company.APIBaseURL, sent.BaseURL)
	assert.Equal(t, "15550102030", sent.Payload["recipient_phone"])
	assert.Equal(t, "express", sent.Payload["service_type"])
	// credentials are wiped once the attempt is over
	assert.True(t, sent.Credentials.IsEmpty())
	f.assertAll(t)
}

func TestDispatchService_Dispatch_ValidationFailureHasNoSideEffects(t *testing.T) {
	f := newDispatchFixture(t)
	f.companies.On("FindByID", mock.Anything, f.company.ID).Return(f.company, nil)
	f.registry.On("Adapter", delivery.APIFormatREST).Return(f.adapter, nil)
	f.snapshots.On("Snapshot", mock.Anything, f.orderID).Return(map[string]any{
		"customer": map[string]any{"name": "", "phone": "12-34"},
	}, nil)
	f.metrics.On("RecordValidationRejected", mock.Anything, "REST").Return()

	result, err := f.service.Dispatch(context.Background(), DispatchCommand{OrderID: f.orderID, CompanyID: f.company.ID})

	assert.Nil(t, result)
	var verr *MappingValidationError
	require.ErrorAs(t, err, &verr)
	assert.False(t, verr.Result.IsValid)
	assert.NotEmpty(t, verr.Result.MissingFields)
	assert.NotEmpty(t, verr.Result.InvalidFields)
	assert.Equal(t, CodeMappingInvalid, verr.Code())

	f.locker.AssertNotCalled(t, "TryLock", mock.Anything, mock.Anything, mock.Anything)
	f.creds.AssertNotCalled(t, "Resolve", mock.Anything, mock.Anything)
	f.orders.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	f.assertAll(t)
}

func TestDispatchService_Dispatch_ConfigurationErrors(t *testing.T) {
	t.Run("inactive carrier", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.company.Deactivate()
		f.companies.On("FindByID", mock.Anything, f.company.ID).Return(f.company, nil)

		_, err := f.service.Dispatch(context.Background(), DispatchCommand{OrderID: f.orderID, CompanyID: f.company.ID})
		assert.ErrorIs(t, err, delivery.ErrCarrierInactive)
		f.registry.AssertNotCalled(t, "Adapter", mock.Anything)
	})

	t.Run("missing base url", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.company.APIBaseURL = ""
		f.companies.On("FindByID", mock.Anything, f.company.ID).Return(f.company, nil)

		_, err := f.service.Dispatch(context.Background(), DispatchCommand{OrderID: f.orderID, CompanyID: f.company.ID})
		assert.ErrorIs(t, err, delivery.ErrCarrierNotConfigured)
	})

	t.Run("unusable credentials", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.company.APIFormat = delivery.APIFormatJSONRPC
		f.companies.On("FindByID", mock.Anything, f.company.ID).Return(f.company, nil)
		f.registry.On("Adapter", delivery.APIFormatJSONRPC).Return(f.adapter, nil)
		f.snapshots.On("Snapshot", mock.Anything, f.orderID).Return(f.snapshot(), nil)
		creds := &delivery.Credentials{Login: "ops"}
		f.creds.On("Resolve", mock.Anything, f.company.ID).Return(creds, nil)

		_, err := f.service.Dispatch(context.Background(), DispatchCommand{OrderID: f.orderID, CompanyID: f.company.ID})
		assert.ErrorIs(t, err, delivery.ErrCredentialsUnusable)
		assert.True(t, creds.IsEmpty())
		f.locker.AssertNotCalled(t, "TryLock", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("code maps to carrier not configured", func(t *testing.T) {
		var de *shared.DomainError
		require.ErrorAs(t, delivery.ErrCarrierInactive, &de)
		assert.Equal(t, delivery.CodeCarrierNotConfigured, de.Code)
	})
}

func TestDispatchService_Dispatch_InputValidation(t *testing.T) {
	f := newDispatchFixture(t)

	_, err := f.service.Dispatch(context.Background(), DispatchCommand{OrderID: "  ", CompanyID: f.company.ID})
	assert.ErrorIs(t, err, delivery.ErrInvalidOrderID)

	_, err = f.service.Dispatch(context.Background(), DispatchCommand{OrderID: f.orderID})
	assert.ErrorIs(t, err, delivery.ErrInvalidCompanyID)

	_, err = f.service.Dispatch(context.Background(), DispatchCommand{OrderID: f.orderID, CompanyID: f.company.ID, DeliveryFee: decimal.NewFromInt(-1)})
	assert.ErrorIs(t, err, delivery.ErrInvalidDeliveryFee)
}

func TestDispatchService_Dispatch_LockContention(t *testing.T) {
	f := newDispatchFixture(t)
	f.expectReady()
	f.locker.On("TryLock", mock.Anything, f.key, 5*time.Second).Return("", false, nil)
	f.metrics.On("RecordLockContention", mock.Anything).Return()

	_, err := f.service.Dispatch(context.Background(), DispatchCommand{OrderID: f.orderID, CompanyID: f.company.ID})

	assert.ErrorIs(t, err, delivery.ErrDispatchInProgress)
	f.adapter.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
	f.locker.AssertNotCalled(t, "Unlock", mock.Anything, mock.Anything, mock.Anything)
	f.assertAll(t)
}

func TestDispatchService_Dispatch_FirstAttemptAndResendRules(t *testing.T) {
	t.Run("duplicate first attempt", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.expectReady()
		f.expectLock()
		existing, err := delivery.NewDeliveryOrder(f.orderID, f.company.ID, decimal.Zero)
		require.NoError(t, err)
		f.orders.On("FindByOrderAndCompany", mock.Anything, f.orderID, f.company.ID).Return(existing, nil)

		_, err = f.service.Dispatch(context.Background(), DispatchCommand{OrderID: f.orderID, CompanyID: f.company.ID})
		assert.ErrorIs(t, err, delivery.ErrDeliveryAlreadyDispatched)
		f.adapter.AssertNotCalled(t, "Send", mock.Anything, mock.Anything)
		f.locker.AssertExpectations(t)
	})

	t.Run("resend without record", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.expectReady()
		f.expectLock()
		f.orders.On("FindByOrderAndCompany", mock.Anything, f.orderID, f.company.ID).Return(nil, delivery.ErrDeliveryOrderNotFound)

		_, err := f.service.Dispatch(context.Background(), DispatchCommand{OrderID: f.orderID, CompanyID: f.company.ID, IsResend: true})
		assert.ErrorIs(t, err, delivery.ErrNothingToResend)
		f.locker.AssertExpectations(t)
	})

	t.Run("resend of acknowledged delivery", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.expectReady()
		f.expectLock()
		existing, err := delivery.NewDeliveryOrder(f.orderID, f.company.ID, decimal.Zero)
		require.NoError(t, err)
		require.NoError(t, existing.BeginAttempt())
		require.NoError(t, existing.ApplyOutcome(acknowledged(), f.now))
		f.orders.On("FindByOrderAndCompany", mock.Anything, f.orderID, f.company.ID).Return(existing, nil)

		_, err = f.service.Dispatch(context.Background(), DispatchCommand{OrderID: f.orderID, CompanyID: f.company.ID, IsResend: true})
		assert.ErrorIs(t, err, delivery.ErrDeliveryNotResendable)
	})
}

func TestDispatchService_Dispatch_ResendAppendsHistory(t *testing.T) {
	f := newDispatchFixture(t)
	f.expectReady()
	f.expectLock()

	existing, err := delivery.NewDeliveryOrder(f.orderID, f.company.ID, decimal.NewFromInt(9))
	require.NoError(t, err)
	require.NoError(t, existing.BeginAttempt())
	require.NoError(t, existing.ApplyOutcome(delivery.Failed(delivery.FailureRejected, 422, `{"error":"bad zip"}`, "bad zip"), f.now.Add(-time.Hour)))
	localTracking := existing.TrackingNumber
	require.True(t, existing.TrackingIsLocal)

	f.orders.On("FindByOrderAndCompany", mock.Anything, f.orderID, f.company.ID).Return(existing, nil)
	f.adapter.On("Send", mock.Anything, mock.Anything).Return(acknowledged())
	f.orders.On("Save", mock.Anything, existing).Return(nil)
	f.publisher.On("PublishAttemptRecorded", mock.Anything, mock.MatchedBy(func(e *delivery.AttemptRecordedEvent) bool {
		return e.IsResend && e.AttemptNumber == 1
	})).Return(nil)
	f.metrics.On("RecordAttempt", mock.Anything, "REST", true, "", true, mock.Anything).Return()

	result, err := f.service.Dispatch(context.Background(), DispatchCommand{
		OrderID:     f.orderID,
		CompanyID:   f.company.ID,
		DeliveryFee: decimal.NewFromInt(20),
		IsResend:    true,
		Notes:       "fixed zip code",
	})

	require.NoError(t, err)
	assert.True(t, result.Success)
	assert.True(t, result.IsResend)
	assert.Equal(t, 1, result.DeliveryOrder.ResendAttempts)
	require.Len(t, result.DeliveryOrder.ResendHistory, 1)
	entry := result.DeliveryOrder.ResendHistory[0]
	assert.Equal(t, 1, entry.AttemptNumber)
	assert.True(t, entry.Success)
	assert.Equal(t, "fixed zip code", entry.Notes)
	assert.Equal(t, delivery.DeliveryStatusAcknowledged, entry.Status)
	assert.Equal(t, f.now, *result.DeliveryOrder.LastResendAt)
	// carrier tracking replaces the local one; the fee stays from the first attempt
	assert.NotEqual(t, localTracking, result.DeliveryOrder.TrackingNumber)
	assert.True(t, decimal.NewFromInt(9).Equal(result.DeliveryOrder.DeliveryFee))
	assert.NoError(t, existing.CheckHistory())
	f.assertAll(t)
}

func TestDispatchService_Dispatch_CarrierFailureIsRecorded(t *testing.T) {
	f := newDispatchFixture(t)
	f.expectReady()
	f.expectLock()
	f.orders.On("FindByOrderAndCompany", mock.Anything, f.orderID, f.company.ID).Return(nil, delivery.ErrDeliveryOrderNotFound)

	failure := delivery.Failed(delivery.FailureTransport, 0, "", "dial tcp: connection refused")
	failure.Duration = 40 * time.Millisecond
	f.adapter.On("Send", mock.Anything, mock.Anything).Return(failure)
	f.orders.On("Save", mock.Anything, mock.MatchedBy(func(o *delivery.DeliveryOrder) bool {
		return o.Status == delivery.DeliveryStatusRejected && o.LastError == "dial tcp: connection refused"
	})).Return(nil)
	f.publisher.On("PublishAttemptRecorded", mock.Anything, mock.Anything).Return(errors.New("broker down"))
	f.metrics.On("RecordAttempt", mock.Anything, "REST", false, "transport", false, 40*time.Millisecond).Return()

	result, err := f.service.Dispatch(context.Background(), DispatchCommand{OrderID: f.orderID, CompanyID: f.company.ID})

	require.NoError(t, err, "a failed carrier call is a recorded attempt, not an error")
	assert.False(t, result.Success)
	assert.Equal(t, delivery.FailureTransport, result.Attempt.FailureKind)
	assert.Equal(t, "rejected", result.DeliveryOrder.Status)
	assert.True(t, result.DeliveryOrder.TrackingIsLocal)
	assert.Regexp(t, `^DLV-20261016-[0-9A-F]{8}$`, result.DeliveryOrder.TrackingNumber)
	f.assertAll(t)
}

func TestDispatchService_Dispatch_SaveFailureReleasesLock(t *testing.T) {
	f := newDispatchFixture(t)
	f.expectReady()
	f.expectLock()
	f.orders.On("FindByOrderAndCompany", mock.Anything, f.orderID, f.company.ID).Return(nil, delivery.ErrDeliveryOrderNotFound)
	f.adapter.On("Send", mock.Anything, mock.Anything).Return(acknowledged())
	f.orders.On("Save", mock.Anything, mock.Anything).Return(delivery.ErrDeliveryAlreadyDispatched)

	_, err := f.service.Dispatch(context.Background(), DispatchCommand{OrderID: f.orderID, CompanyID: f.company.ID})

	assert.ErrorIs(t, err, delivery.ErrDeliveryAlreadyDispatched)
	f.publisher.AssertNotCalled(t, "PublishAttemptRecorded", mock.Anything, mock.Anything)
	f.locker.AssertExpectations(t)
}

func TestDispatchService_Dispatch_CallerLeavesAttemptContinues(t *testing.T) {
	f := newDispatchFixture(t)
	f.expectReady()
	f.orders.On("FindByOrderAndCompany", mock.Anything, f.orderID, f.company.ID).Return(nil, delivery.ErrDeliveryOrderNotFound)
	f.locker.On("TryLock", mock.Anything, f.key, 5*time.Second).Return("tok-1", true, nil)

	release := make(chan struct{})
	unlocked := make(chan struct{})
	detached := make(chan struct{})

	f.adapter.On("Send", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			sendCtx := args.Get(0).(context.Context)
			<-release
			assert.NoError(t, sendCtx.Err(), "carrier call must not inherit caller cancellation")
		}).
		Return(acknowledged())
	f.orders.On("Save", mock.Anything, mock.Anything).Return(nil)
	f.publisher.On("PublishAttemptRecorded", mock.Anything, mock.Anything).Return(nil)
	f.metrics.On("RecordAttempt", mock.Anything, "REST", true, "", false, mock.Anything).Return()
	f.metrics.On("RecordDetachedCompletion", mock.Anything, "REST").
		Run(func(mock.Arguments) { close(detached) }).Return()
	f.locker.On("Unlock", mock.Anything, f.key, "tok-1").
		Run(func(mock.Arguments) { close(unlocked) }).Return(nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := f.service.Dispatch(ctx, DispatchCommand{OrderID: f.orderID, CompanyID: f.company.ID})
	assert.Nil(t, result)
	assert.ErrorIs(t, err, delivery.ErrDispatchStillRunning)

	close(release)
	for _, ch := range []chan struct{}{unlocked, detached} {
		select {
		case <-ch:
		case <-time.After(2 * time.Second):
			t.Fatal("detached attempt did not finish")
		}
	}
	f.orders.AssertCalled(t, "Save", mock.Anything, mock.Anything)
}

// ---------------------------------------------------------------------------
// Mapping configuration
// ---------------------------------------------------------------------------

func TestDispatchService_ValidateFieldMappings(t *testing.T) {
	f := newDispatchFixture(t)
	f.companies.On("FindByID", mock.Anything, f.company.ID).Return(f.company, nil)
	f.snapshots.On("Snapshot", mock.Anything, f.orderID).Return(f.snapshot(), nil)

	result, err := f.service.ValidateFieldMappings(context.Background(), f.orderID, f.company.ID)

	require.NoError(t, err)
	assert.True(t, result.IsValid)
	assert.Empty(t, result.Errors)
	f.orders.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestDispatchService_ValidateFieldMappings_UnknownOrder(t *testing.T) {
	f := newDispatchFixture(t)
	f.companies.On("FindByID", mock.Anything, f.company.ID).Return(f.company, nil)
	f.snapshots.On("Snapshot", mock.Anything, "ORD-missing").Return(nil, delivery.ErrOrderNotFound)

	_, err := f.service.ValidateFieldMappings(context.Background(), "ORD-missing", f.company.ID)
	assert.ErrorIs(t, err, delivery.ErrOrderNotFound)
}

func TestDispatchService_PreviewMapping(t *testing.T) {
	t.Run("inline order and mappings", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.companies.On("FindByID", mock.Anything, f.company.ID).Return(f.company, nil)

		result, err := f.service.PreviewMapping(context.Background(), PreviewCommand{
			CompanyID: f.company.ID,
			Snapshot:  map[string]any{"customer": map[string]any{"email": "ADA@EXAMPLE.COM"}},
			FieldMappings: []delivery.FieldMapping{
				{SourceField: "customer.email", TargetField: "email", Enabled: true, Transform: delivery.TransformLowercase},
			},
			CustomFields: map[string]any{"channel": "web"},
		})

		require.NoError(t, err)
		assert.Equal(t, "ada@example.com", result.Payload["email"])
		assert.Equal(t, "web", result.Payload["channel"])
		require.Len(t, result.Diagnostics, 1)
		assert.True(t, result.Validation.IsValid)
		f.snapshots.AssertNotCalled(t, "Snapshot", mock.Anything, mock.Anything)
	})

	t.Run("stored configuration", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.companies.On("FindByID", mock.Anything, f.company.ID).Return(f.company, nil)
		f.snapshots.On("Snapshot", mock.Anything, f.orderID).Return(map[string]any{}, nil)

		result, err := f.service.PreviewMapping(context.Background(), PreviewCommand{CompanyID: f.company.ID, OrderID: f.orderID})

		require.NoError(t, err)
		assert.Equal(t, "Unknown", result.Payload["city"])
		assert.Len(t, result.Diagnostics, 3)
		assert.False(t, result.Validation.IsValid)
	})

	t.Run("rejects duplicate targets", func(t *testing.T) {
		f := newDispatchFixture(t)
		f.companies.On("FindByID", mock.Anything, f.company.ID).Return(f.company, nil)

		_, err := f.service.PreviewMapping(context.Background(), PreviewCommand{
			CompanyID: f.company.ID,
			Snapshot:  map[string]any{},
			FieldMappings: []delivery.FieldMapping{
				{SourceField: "a", TargetField: "x", Enabled: true},
				{SourceField: "b", TargetField: "x", Enabled: true},
			},
		})
		assert.ErrorIs(t, err, delivery.ErrDuplicateTargetField)
	})
}

func TestDispatchService_UpdateFieldMappings(t *testing.T) {
	f := newDispatchFixture(t)
	f.companies.On("FindByID", mock.Anything, f.company.ID).Return(f.company, nil)
	f.companies.On("Save", mock.Anything, f.company).Return(nil)

	resp, err := f.service.UpdateFieldMappings(context.Background(), f.company.ID, UpdateFieldMappingsCommand{
		FieldMappings: []delivery.FieldMapping{
			{SourceField: "customer.email", TargetField: "email", Required: true, Enabled: true},
		},
		ValidationRules: []delivery.ValueRule{{TargetField: "email", Kind: delivery.ValueRuleEmail}},
	})

	require.NoError(t, err)
	assert.Len(t, resp.FieldMappings, 1)
	assert.Len(t, resp.ValidationRules, 1)
	assert.NotNil(t, resp.CustomFields)
	f.companies.AssertExpectations(t)
}

func TestDispatchService_UpdateFieldMappings_InvalidNotSaved(t *testing.T) {
	f := newDispatchFixture(t)
	f.companies.On("FindByID", mock.Anything, f.company.ID).Return(f.company, nil)

	_, err := f.service.UpdateFieldMappings(context.Background(), f.company.ID, UpdateFieldMappingsCommand{
		FieldMappings: []delivery.FieldMapping{{TargetField: "email", Enabled: true}},
	})

	assert.ErrorIs(t, err, delivery.ErrMappingSourceRequired)
	f.companies.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestDispatchService_UpdateCredentials(t *testing.T) {
	f := newDispatchFixture(t)
	f.company.SetCredentialBlob("sealed")
	update := delivery.CredentialUpdate{APIKey: delivery.SetString("sk-new")}
	f.creds.On("Update", mock.Anything, f.company.ID, update).Return(f.company, nil)
	stored := &delivery.Credentials{APIKey: "sk-new"}
	f.creds.On("Resolve", mock.Anything, f.company.ID).Return(stored, nil)

	resp, err := f.service.UpdateCredentials(context.Background(), f.company.ID, update)

	require.NoError(t, err)
	assert.True(t, resp.HasCredentials)
	require.NotNil(t, resp.Credentials)
	assert.Equal(t, delivery.CredentialPresence{HasAPIKey: true}, *resp.Credentials)
	assert.Empty(t, stored.APIKey, "resolved secrets are wiped")
	f.creds.AssertExpectations(t)
}

// ---------------------------------------------------------------------------
// Delivery records
// ---------------------------------------------------------------------------

func TestDispatchService_UpdateDeliveryStatus(t *testing.T) {
	f := newDispatchFixture(t)
	order, err := delivery.NewDeliveryOrder(f.orderID, f.company.ID, decimal.Zero)
	require.NoError(t, err)
	require.NoError(t, order.BeginAttempt())
	require.NoError(t, order.ApplyOutcome(acknowledged(), f.now))

	f.expectLock()
	f.orders.On("FindByID", mock.Anything, order.ID).Return(order, nil)
	f.orders.On("Save", mock.Anything, order).Return(nil)

	resp, err := f.service.UpdateDeliveryStatus(context.Background(), order.ID, delivery.DeliveryStatusInTransit, "out_for_delivery")
	require.NoError(t, err)
	assert.Equal(t, "in_transit", resp.Status)
	assert.Equal(t, "out_for_delivery", resp.ExternalStatus)

	_, err = f.service.UpdateDeliveryStatus(context.Background(), order.ID, delivery.DeliveryStatusPending, "")
	assert.ErrorIs(t, err, delivery.ErrInvalidStatusTransition)
	f.orders.AssertNumberOfCalls(t, "Save", 1)
	f.locker.AssertNumberOfCalls(t, "Unlock", 2)
}

func TestDispatchService_UpdateDeliveryStatus_SentIsNotACarrierStatus(t *testing.T) {
	f := newDispatchFixture(t)
	order, err := delivery.NewDeliveryOrder(f.orderID, f.company.ID, decimal.Zero)
	require.NoError(t, err)
	require.NoError(t, order.BeginAttempt())
	require.NoError(t, order.ApplyOutcome(delivery.Failed(delivery.FailureRejected, 422, "", "bad zip"), f.now))

	f.expectLock()
	f.orders.On("FindByID", mock.Anything, order.ID).Return(order, nil)

	_, err = f.service.UpdateDeliveryStatus(context.Background(), order.ID, delivery.DeliveryStatusSent, "")

	assert.ErrorIs(t, err, delivery.ErrInvalidStatusTransition)
	assert.Equal(t, delivery.DeliveryStatusRejected, order.Status)
	assert.Equal(t, 0, order.ResendAttempts)
	f.orders.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
}

func TestDispatchService_CancelDelivery(t *testing.T) {
	f := newDispatchFixture(t)
	order, err := delivery.NewDeliveryOrder(f.orderID, f.company.ID, decimal.Zero)
	require.NoError(t, err)
	f.expectLock()
	f.orders.On("FindByID", mock.Anything, order.ID).Return(order, nil)
	f.orders.On("Save", mock.Anything, order).Return(nil)

	resp, err := f.service.CancelDelivery(context.Background(), order.ID)
	require.NoError(t, err)
	assert.Equal(t, "cancelled", resp.Status)

	_, err = f.service.CancelDelivery(context.Background(), order.ID)
	assert.ErrorIs(t, err, delivery.ErrInvalidStatusTransition)

	missing := uuid.New()
	f.orders.On("FindByID", mock.Anything, missing).Return(nil, delivery.ErrDeliveryOrderNotFound)
	_, err = f.service.CancelDelivery(context.Background(), missing)
	assert.ErrorIs(t, err, delivery.ErrDeliveryOrderNotFound)
	f.locker.AssertNumberOfCalls(t, "TryLock", 2)
}

func TestDispatchService_CancelDelivery_WhileResendInFlight(t *testing.T) {
	f := newDispatchFixture(t)
	order, err := delivery.NewDeliveryOrder(f.orderID, f.company.ID, decimal.Zero)
	require.NoError(t, err)
	require.NoError(t, order.BeginAttempt())
	require.NoError(t, order.ApplyOutcome(delivery.Failed(delivery.FailureRejected, 422, "", "bad zip"), f.now))

	// a resend holds the pair's dispatch lock
	f.orders.On("FindByID", mock.Anything, order.ID).Return(order, nil)
	f.locker.On("TryLock", mock.Anything, f.key, 5*time.Second).Return("", false, nil)
	f.metrics.On("RecordLockContention", mock.Anything).Return()

	_, err = f.service.CancelDelivery(context.Background(), order.ID)

	assert.ErrorIs(t, err, delivery.ErrDispatchInProgress)
	assert.Equal(t, delivery.DeliveryStatusRejected, order.Status)
	f.orders.AssertNotCalled(t, "Save", mock.Anything, mock.Anything)
	f.locker.AssertNotCalled(t, "Unlock", mock.Anything, mock.Anything, mock.Anything)
	f.assertAll(t)
}

func TestDispatchService_CancelDelivery_StaleWriteSurfaces(t *testing.T) {
	f := newDispatchFixture(t)
	order, err := delivery.NewDeliveryOrder(f.orderID, f.company.ID, decimal.Zero)
	require.NoError(t, err)
	f.expectLock()
	f.orders.On("FindByID", mock.Anything, order.ID).Return(order, nil)
	f.orders.On("Save", mock.Anything, order).Return(shared.ErrOptimisticLock)

	_, err = f.service.CancelDelivery(context.Background(), order.ID)

	assert.ErrorIs(t, err, shared.ErrOptimisticLock)
	f.locker.AssertCalled(t, "Unlock", mock.Anything, f.key, "tok-1")
}

func TestDispatchService_ListAndGetDeliveryOrders(t *testing.T) {
	f := newDispatchFixture(t)
	order, err := delivery.NewDeliveryOrder(f.orderID, f.company.ID, decimal.Zero)
	require.NoError(t, err)
	f.orders.On("FindByOrderID", mock.Anything, f.orderID).Return([]delivery.DeliveryOrder{*order}, nil)
	f.orders.On("FindByOrderAndCompany", mock.Anything, f.orderID, f.company.ID).Return(order, nil)

	list, err := f.service.ListDeliveryOrders(context.Background(), f.orderID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "pending", list[0].Status)
	assert.NotNil(t, list[0].ResendHistory)

	one, err := f.service.GetDeliveryOrder(context.Background(), f.orderID, f.company.ID)
	require.NoError(t, err)
	assert.Equal(t, order.ID, one.ID)

	_, err = f.service.ListDeliveryOrders(context.Background(), "")
	assert.ErrorIs(t, err, delivery.ErrInvalidOrderID)
}

func TestDispatchService_QuoteDeliveryFee(t *testing.T) {
	f := newDispatchFixture(t)
	f.company.Pricing = delivery.PricingSettings{
		Mode:             delivery.PricingModeWeight,
		BasePrice:        decimal.NewFromInt(5),
		RatePerUnit:      decimal.RequireFromString("1.25"),
		SupportedRegions: []string{"north"},
	}
	f.companies.On("FindByID", mock.Anything, f.company.ID).Return(f.company, nil)

	quote, err := f.service.QuoteDeliveryFee(context.Background(), f.company.ID, QuoteCommand{
		Region:   "North",
		WeightKg: decimal.NewFromInt(4),
	})
	require.NoError(t, err)
	assert.True(t, decimal.NewFromInt(10).Equal(quote.Fee), quote.Fee.String())
	assert.Equal(t, "weight", quote.Mode)

	_, err = f.service.QuoteDeliveryFee(context.Background(), f.company.ID, QuoteCommand{Region: "south"})
	assert.ErrorIs(t, err, delivery.ErrRegionNotSupported)
}

func TestConfig_WithDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	assert.Equal(t, defaultAdapterTimeout, cfg.AdapterTimeout)
	assert.Greater(t, cfg.LockTTL, cfg.AdapterTimeout)

	cfg = Config{AdapterTimeout: 10 * time.Second, LockTTL: time.Second}.withDefaults()
	assert.Equal(t, 25*time.Second, cfg.LockTTL)
}
