package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	appdelivery "github.com/storefront/backend/internal/application/delivery"
	"github.com/storefront/backend/internal/domain/delivery"
	"github.com/storefront/backend/internal/domain/shared"
	"github.com/storefront/backend/internal/interfaces/http/dto"
	"github.com/storefront/backend/internal/interfaces/http/middleware"
)

func init() {
	gin.SetMode(gin.TestMode)
	middleware.SetupValidator()
}

// MockDeliveryService is a mock implementation of DeliveryService
type MockDeliveryService struct {
	mock.Mock
}

func (m *MockDeliveryService) Dispatch(ctx context.Context, cmd appdelivery.DispatchCommand) (*appdelivery.DispatchResult, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appdelivery.DispatchResult), args.Error(1)
}

func (m *MockDeliveryService) ValidateFieldMappings(ctx context.Context, orderID string, companyID uuid.UUID) (*delivery.MappingValidationResult, error) {
	args := m.Called(ctx, orderID, companyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*delivery.MappingValidationResult), args.Error(1)
}

func (m *MockDeliveryService) PreviewMapping(ctx context.Context, cmd appdelivery.PreviewCommand) (*appdelivery.PreviewResult, error) {
	args := m.Called(ctx, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appdelivery.PreviewResult), args.Error(1)
}

func (m *MockDeliveryService) UpdateFieldMappings(ctx context.Context, companyID uuid.UUID, cmd appdelivery.UpdateFieldMappingsCommand) (*appdelivery.CompanyMappingResponse, error) {
	args := m.Called(ctx, companyID, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appdelivery.CompanyMappingResponse), args.Error(1)
}

func (m *MockDeliveryService) UpdateCredentials(ctx context.Context, companyID uuid.UUID, update delivery.CredentialUpdate) (*appdelivery.CompanyMappingResponse, error) {
	args := m.Called(ctx, companyID, update)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appdelivery.CompanyMappingResponse), args.Error(1)
}

func (m *MockDeliveryService) GetDeliveryOrder(ctx context.Context, orderID string, companyID uuid.UUID) (*appdelivery.DeliveryOrderResponse, error) {
	args := m.Called(ctx, orderID, companyID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appdelivery.DeliveryOrderResponse), args.Error(1)
}

func (m *MockDeliveryService) ListDeliveryOrders(ctx context.Context, orderID string) ([]appdelivery.DeliveryOrderResponse, error) {
	args := m.Called(ctx, orderID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]appdelivery.DeliveryOrderResponse), args.Error(1)
}

func (m *MockDeliveryService) UpdateDeliveryStatus(ctx context.Context, id uuid.UUID, status delivery.DeliveryStatus, externalStatus string) (*appdelivery.DeliveryOrderResponse, error) {
	args := m.Called(ctx, id, status, externalStatus)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appdelivery.DeliveryOrderResponse), args.Error(1)
}

func (m *MockDeliveryService) CancelDelivery(ctx context.Context, id uuid.UUID) (*appdelivery.DeliveryOrderResponse, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appdelivery.DeliveryOrderResponse), args.Error(1)
}

func (m *MockDeliveryService) QuoteDeliveryFee(ctx context.Context, companyID uuid.UUID, cmd appdelivery.QuoteCommand) (*appdelivery.QuoteResult, error) {
	args := m.Called(ctx, companyID, cmd)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*appdelivery.QuoteResult), args.Error(1)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

var companyID = uuid.MustParse("7f9c2a64-1e43-4c36-9a51-0d6e1f3b8c20")

func setupDeliveryEngine(svc *MockDeliveryService) *gin.Engine {
	h := NewDeliveryHandler(svc)
	engine := gin.New()
	engine.Use(middleware.RequestID())
	g := engine.Group("/api/v1/delivery")
	g.POST("/send", h.Send)
	g.POST("/validate-field-mappings", h.ValidateFieldMappings)
	g.POST("/preview-mapping", h.PreviewMapping)
	g.PUT("/companies/:id/field-mappings", h.UpdateFieldMappings)
	g.PUT("/companies/:id/credentials", h.UpdateCredentials)
	g.POST("/companies/:id/quote", h.QuoteFee)
	g.GET("/orders", h.ListOrders)
	g.PUT("/orders/:id/status", h.UpdateStatus)
	g.POST("/orders/:id/cancel", h.Cancel)
	return engine
}

func doJSON(engine *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			_ = json.NewEncoder(&buf).Encode(b)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	engine.ServeHTTP(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return body
}

func errorCode(t *testing.T, w *httptest.ResponseRecorder) string {
	t.Helper()
	body := decodeBody(t, w)
	e, ok := body["error"].(map[string]any)
	require.True(t, ok, "error object expected in %s", w.Body.String())
	return e["code"].(string)
}

func sampleOrder(status delivery.DeliveryStatus) appdelivery.DeliveryOrderResponse {
	now := time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)
	return appdelivery.DeliveryOrderResponse{
		ID:             uuid.MustParse("0b8f6c1e-9a4d-4f7e-8c2b-5d3a1e6f7a90"),
		OrderID:        "ORD-1001",
		CompanyID:      companyID,
		TrackingNumber: "TRK-88",
		Status:         string(status),
		DeliveryFee:    decimal.NewFromInt(9),
		ResendHistory:  []delivery.ResendEntry{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// ---------------------------------------------------------------------------
// Send
// ---------------------------------------------------------------------------

func TestDeliveryHandler_Send(t *testing.T) {
	validBody := map[string]any{
		"orderId":     "ORD-1001",
		"companyId":   companyID.String(),
		"deliveryFee": "9",
	}
	expectedCmd := appdelivery.DispatchCommand{
		OrderID:     "ORD-1001",
		CompanyID:   companyID,
		DeliveryFee: decimal.NewFromInt(9),
	}
	cmdMatcher := mock.MatchedBy(func(cmd appdelivery.DispatchCommand) bool {
		return cmd.OrderID == expectedCmd.OrderID &&
			cmd.CompanyID == expectedCmd.CompanyID &&
			cmd.DeliveryFee.Equal(expectedCmd.DeliveryFee) &&
			!cmd.IsResend
	})

	t.Run("carrier accepted", func(t *testing.T) {
		svc := new(MockDeliveryService)
		order := sampleOrder(delivery.DeliveryStatusAcknowledged)
		order.ExternalOrderID = "EXT-5"
		svc.On("Dispatch", mock.Anything, cmdMatcher).Return(&appdelivery.DispatchResult{
			Success:       true,
			DeliveryOrder: order,
			Attempt:       appdelivery.AttemptSummary{Success: true, StatusCode: 200, RawResponse: `{"id":"EXT-5"}`, ExternalOrderID: "EXT-5"},
		}, nil)

		w := doJSON(setupDeliveryEngine(svc), http.MethodPost, "/api/v1/delivery/send", validBody)

		require.Equal(t, http.StatusOK, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, true, body["success"])
		data := body["data"].(map[string]any)
		assert.Equal(t, "TRK-88", data["trackingNumber"])
		assert.Equal(t, "EXT-5", data["externalOrderId"])
		assert.Equal(t, `{"id":"EXT-5"}`, data["deliveryCompanyResponse"])
		assert.Equal(t, false, data["isResend"])
		svc.AssertExpectations(t)
	})

	t.Run("carrier did not accept", func(t *testing.T) {
		svc := new(MockDeliveryService)
		svc.On("Dispatch", mock.Anything, cmdMatcher).Return(&appdelivery.DispatchResult{
			Success:       false,
			DeliveryOrder: sampleOrder(delivery.DeliveryStatusRejected),
			Attempt: appdelivery.AttemptSummary{
				FailureKind:  delivery.FailureRejected,
				StatusCode:   422,
				ErrorMessage: "unknown city",
				RawResponse:  `{"error":"unknown city"}`,
			},
		}, nil)

		w := doJSON(setupDeliveryEngine(svc), http.MethodPost, "/api/v1/delivery/send", validBody)

		require.Equal(t, http.StatusBadGateway, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, false, body["success"])
		e := body["error"].(map[string]any)
		assert.Equal(t, dto.ErrCodeCarrierFailed, e["code"])
		assert.Contains(t, e["message"], "unknown city")
		assert.NotEmpty(t, e["requestId"])
		data := body["data"].(map[string]any)
		assert.Equal(t, string(delivery.DeliveryStatusRejected), data["status"])
		assert.Equal(t, "carrier_rejected", data["attempt"].(map[string]any)["failureKind"])
	})

	t.Run("mapping invalid", func(t *testing.T) {
		svc := new(MockDeliveryService)
		svc.On("Dispatch", mock.Anything, cmdMatcher).Return(nil, &appdelivery.MappingValidationError{
			Result: &delivery.MappingValidationResult{
				IsValid:       false,
				MissingFields: []delivery.MissingField{{SourceField: "customer.phone", TargetField: "recipient_phone"}},
				InvalidFields: []delivery.InvalidField{},
				Errors:        []string{"recipient_phone is required"},
			},
		})

		w := doJSON(setupDeliveryEngine(svc), http.MethodPost, "/api/v1/delivery/send", validBody)

		require.Equal(t, http.StatusBadRequest, w.Code)
		body := decodeBody(t, w)
		assert.Equal(t, appdelivery.CodeMappingInvalid, body["error"].(map[string]any)["code"])
		missing := body["missingFields"].([]any)
		require.Len(t, missing, 1)
		assert.Equal(t, "recipient_phone", missing[0].(map[string]any)["targetField"])
		assert.Equal(t, []any{"recipient_phone is required"}, body["errors"])
	})

	errorCases := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"in progress", delivery.ErrDispatchInProgress, http.StatusConflict, delivery.CodeDispatchInProgress},
		{"still running", delivery.ErrDispatchStillRunning, http.StatusGatewayTimeout, delivery.CodeDispatchTimeout},
		{"already dispatched", delivery.ErrDeliveryAlreadyDispatched, http.StatusConflict, dto.ErrCodeAlreadyExists},
		{"carrier inactive", fmt.Errorf("load carrier: %w", delivery.ErrCarrierInactive), http.StatusBadRequest, delivery.CodeCarrierNotConfigured},
		{"company not found", delivery.ErrDeliveryCompanyNotFound, http.StatusNotFound, dto.ErrCodeNotFound},
		{"unexpected", errors.New("disk on fire"), http.StatusInternalServerError, dto.ErrCodeInternal},
	}
	for _, tc := range errorCases {
		t.Run(tc.name, func(t *testing.T) {
			svc := new(MockDeliveryService)
			svc.On("Dispatch", mock.Anything, mock.Anything).Return(nil, tc.err)

			w := doJSON(setupDeliveryEngine(svc), http.MethodPost, "/api/v1/delivery/send", validBody)

			assert.Equal(t, tc.wantStatus, w.Code)
			assert.Equal(t, tc.wantCode, errorCode(t, w))
		})
	}

	t.Run("invalid body never reaches the service", func(t *testing.T) {
		svc := new(MockDeliveryService)
		engine := setupDeliveryEngine(svc)

		w := doJSON(engine, http.MethodPost, "/api/v1/delivery/send", map[string]any{"companyId": "not-a-uuid"})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeValidation, errorCode(t, w))

		w = doJSON(engine, http.MethodPost, "/api/v1/delivery/send", `{"orderId":`)
		assert.Equal(t, http.StatusBadRequest, w.Code)

		svc.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything)
	})
}

// ---------------------------------------------------------------------------
// Mapping configuration
// ---------------------------------------------------------------------------

func TestDeliveryHandler_ValidateFieldMappings(t *testing.T) {
	svc := new(MockDeliveryService)
	svc.On("ValidateFieldMappings", mock.Anything, "ORD-1001", companyID).Return(&delivery.MappingValidationResult{
		IsValid:       true,
		MissingFields: []delivery.MissingField{},
		InvalidFields: []delivery.InvalidField{},
		Errors:        []string{},
	}, nil)

	w := doJSON(setupDeliveryEngine(svc), http.MethodPost, "/api/v1/delivery/validate-field-mappings", map[string]any{
		"orderId":   "ORD-1001",
		"companyId": companyID.String(),
	})

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]any)
	assert.Equal(t, true, data["isValid"])
	svc.AssertExpectations(t)
}

func TestDeliveryHandler_PreviewMapping(t *testing.T) {
	t.Run("inline order and mappings", func(t *testing.T) {
		svc := new(MockDeliveryService)
		svc.On("PreviewMapping", mock.Anything, mock.MatchedBy(func(cmd appdelivery.PreviewCommand) bool {
			return cmd.CompanyID == companyID &&
				cmd.Snapshot["customer_name"] == "Ada" &&
				len(cmd.FieldMappings) == 1 &&
				cmd.FieldMappings[0].Enabled &&
				cmd.FieldMappings[0].Transform == delivery.TransformName("trim")
		})).Return(&appdelivery.PreviewResult{
			Payload: map[string]any{"recipient_name": "Ada"},
		}, nil)

		w := doJSON(setupDeliveryEngine(svc), http.MethodPost, "/api/v1/delivery/preview-mapping", map[string]any{
			"companyId": companyID.String(),
			"order":     map[string]any{"customer_name": "Ada"},
			"fieldMappings": []map[string]any{
				{"sourceField": "customer_name", "targetField": "recipient_name", "transform": "trim"},
			},
		})

		require.Equal(t, http.StatusOK, w.Code)
		data := decodeBody(t, w)["data"].(map[string]any)
		assert.Equal(t, "Ada", data["payload"].(map[string]any)["recipient_name"])
		svc.AssertExpectations(t)
	})

	t.Run("order or orderId required", func(t *testing.T) {
		svc := new(MockDeliveryService)
		w := doJSON(setupDeliveryEngine(svc), http.MethodPost, "/api/v1/delivery/preview-mapping", map[string]any{
			"companyId": companyID.String(),
		})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeBadRequest, errorCode(t, w))
		svc.AssertNotCalled(t, "PreviewMapping", mock.Anything, mock.Anything)
	})
}

func TestDeliveryHandler_UpdateFieldMappings(t *testing.T) {
	t.Run("replaces mappings", func(t *testing.T) {
		svc := new(MockDeliveryService)
		svc.On("UpdateFieldMappings", mock.Anything, companyID, mock.MatchedBy(func(cmd appdelivery.UpdateFieldMappingsCommand) bool {
			return len(cmd.FieldMappings) == 1 &&
				!cmd.FieldMappings[0].Enabled &&
				cmd.ValidationRules == nil &&
				cmd.CustomFields["service_type"] == "express"
		})).Return(&appdelivery.CompanyMappingResponse{ID: companyID, Name: "FastShip", HasCredentials: true}, nil)

		w := doJSON(setupDeliveryEngine(svc), http.MethodPut, "/api/v1/delivery/companies/"+companyID.String()+"/field-mappings", map[string]any{
			"fieldMappings": []map[string]any{
				{"sourceField": "city", "targetField": "city", "enabled": false},
			},
			"customFields": map[string]any{"service_type": "express"},
		})

		require.Equal(t, http.StatusOK, w.Code)
		data := decodeBody(t, w)["data"].(map[string]any)
		assert.Equal(t, "FastShip", data["name"])
		svc.AssertExpectations(t)
	})

	t.Run("bad path id", func(t *testing.T) {
		svc := new(MockDeliveryService)
		w := doJSON(setupDeliveryEngine(svc), http.MethodPut, "/api/v1/delivery/companies/abc/field-mappings", map[string]any{})
		assert.Equal(t, http.StatusBadRequest, w.Code)
		svc.AssertNotCalled(t, "UpdateFieldMappings", mock.Anything, mock.Anything, mock.Anything)
	})

	t.Run("rejected configuration", func(t *testing.T) {
		svc := new(MockDeliveryService)
		svc.On("UpdateFieldMappings", mock.Anything, companyID, mock.Anything).
			Return(nil, fmt.Errorf("mapping 2: %w", delivery.ErrDuplicateTargetField))

		w := doJSON(setupDeliveryEngine(svc), http.MethodPut, "/api/v1/delivery/companies/"+companyID.String()+"/field-mappings", map[string]any{
			"fieldMappings": []map[string]any{},
		})

		assert.Equal(t, http.StatusBadRequest, w.Code)
		assert.Equal(t, dto.ErrCodeInvalidInput, errorCode(t, w))
	})
}

func TestDeliveryHandler_UpdateCredentials(t *testing.T) {
	svc := new(MockDeliveryService)
	svc.On("UpdateCredentials", mock.Anything, companyID, mock.MatchedBy(func(u delivery.CredentialUpdate) bool {
		return u.APIKey.Present && u.APIKey.Value == "k-123" &&
			u.Password.Present && u.Password.Null &&
			!u.Login.Present &&
			u.APIFormat == delivery.APIFormatREST
	})).Return(&appdelivery.CompanyMappingResponse{ID: companyID, HasCredentials: true}, nil)

	w := doJSON(setupDeliveryEngine(svc), http.MethodPut, "/api/v1/delivery/companies/"+companyID.String()+"/credentials",
		`{"apiKey":"k-123","password":null,"apiFormat":"REST"}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "k-123", "secrets are never echoed")
	svc.AssertExpectations(t)

	w = doJSON(setupDeliveryEngine(svc), http.MethodPut, "/api/v1/delivery/companies/"+companyID.String()+"/credentials",
		`{"apiFormat":"XML"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, dto.ErrCodeInvalidInput, errorCode(t, w))
}

func TestDeliveryHandler_UpdateCredentials_FormatSpellings(t *testing.T) {
	svc := new(MockDeliveryService)
	svc.On("UpdateCredentials", mock.Anything, companyID, mock.MatchedBy(func(u delivery.CredentialUpdate) bool {
		return u.APIFormat == delivery.APIFormatJSONRPC
	})).Return(&appdelivery.CompanyMappingResponse{ID: companyID}, nil).Once()
	svc.On("UpdateCredentials", mock.Anything, companyID, mock.MatchedBy(func(u delivery.CredentialUpdate) bool {
		return u.APIFormat == delivery.APIFormatGraphQL
	})).Return(&appdelivery.CompanyMappingResponse{ID: companyID}, nil).Once()
	svc.On("UpdateCredentials", mock.Anything, companyID, mock.MatchedBy(func(u delivery.CredentialUpdate) bool {
		return u.APIFormat == "" && u.Login.Present
	})).Return(&appdelivery.CompanyMappingResponse{ID: companyID}, nil).Once()
	engine := setupDeliveryEngine(svc)
	path := "/api/v1/delivery/companies/" + companyID.String() + "/credentials"

	for _, body := range []string{
		`{"login":"odoo","password":"pw","database":"prod","apiFormat":"json-rpc"}`,
		`{"apiKey":"k-9","apiFormat":" graphql "}`,
		`{"login":"odoo"}`,
	} {
		w := doJSON(engine, http.MethodPut, path, body)
		assert.Equal(t, http.StatusOK, w.Code, body)
	}
	svc.AssertExpectations(t)
}

func TestDeliveryHandler_QuoteFee(t *testing.T) {
	svc := new(MockDeliveryService)
	svc.On("QuoteDeliveryFee", mock.Anything, companyID, mock.MatchedBy(func(cmd appdelivery.QuoteCommand) bool {
		return cmd.Region == "north" && cmd.WeightKg.Equal(decimal.NewFromInt(4))
	})).Return(&appdelivery.QuoteResult{CompanyID: companyID, Mode: "weight", Region: "north", Fee: decimal.NewFromInt(10)}, nil)

	w := doJSON(setupDeliveryEngine(svc), http.MethodPost, "/api/v1/delivery/companies/"+companyID.String()+"/quote", map[string]any{
		"region":   "north",
		"weightKg": "4",
	})

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]any)
	assert.Equal(t, "10", data["fee"])
	assert.Equal(t, "weight", data["mode"])

	svc.On("QuoteDeliveryFee", mock.Anything, companyID, mock.MatchedBy(func(cmd appdelivery.QuoteCommand) bool {
		return cmd.Region == "mars"
	})).Return(nil, delivery.ErrRegionNotSupported)

	w = doJSON(setupDeliveryEngine(svc), http.MethodPost, "/api/v1/delivery/companies/"+companyID.String()+"/quote", map[string]any{
		"region": "mars",
	})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, dto.ErrCodeBusinessRule, errorCode(t, w))
}

// ---------------------------------------------------------------------------
// Delivery records
// ---------------------------------------------------------------------------

func TestDeliveryHandler_ListOrders(t *testing.T) {
	t.Run("all carriers", func(t *testing.T) {
		svc := new(MockDeliveryService)
		svc.On("ListDeliveryOrders", mock.Anything, "ORD-1001").Return([]appdelivery.DeliveryOrderResponse{
			sampleOrder(delivery.DeliveryStatusAcknowledged),
			sampleOrder(delivery.DeliveryStatusRejected),
		}, nil)

		w := doJSON(setupDeliveryEngine(svc), http.MethodGet, "/api/v1/delivery/orders?orderId=ORD-1001", nil)

		require.Equal(t, http.StatusOK, w.Code)
		assert.Len(t, decodeBody(t, w)["data"].([]any), 2)
	})

	t.Run("single pair", func(t *testing.T) {
		svc := new(MockDeliveryService)
		order := sampleOrder(delivery.DeliveryStatusAcknowledged)
		svc.On("GetDeliveryOrder", mock.Anything, "ORD-1001", companyID).Return(&order, nil)

		w := doJSON(setupDeliveryEngine(svc), http.MethodGet, "/api/v1/delivery/orders?orderId=ORD-1001&companyId="+companyID.String(), nil)

		require.Equal(t, http.StatusOK, w.Code)
		data := decodeBody(t, w)["data"].([]any)
		require.Len(t, data, 1)
		assert.Equal(t, "TRK-88", data[0].(map[string]any)["trackingNumber"])
		svc.AssertNotCalled(t, "ListDeliveryOrders", mock.Anything, mock.Anything)
	})

	t.Run("pair not found", func(t *testing.T) {
		svc := new(MockDeliveryService)
		svc.On("GetDeliveryOrder", mock.Anything, "ORD-1001", companyID).Return(nil, delivery.ErrDeliveryOrderNotFound)

		w := doJSON(setupDeliveryEngine(svc), http.MethodGet, "/api/v1/delivery/orders?orderId=ORD-1001&companyId="+companyID.String(), nil)
		assert.Equal(t, http.StatusNotFound, w.Code)
	})

	t.Run("orderId required", func(t *testing.T) {
		svc := new(MockDeliveryService)
		w := doJSON(setupDeliveryEngine(svc), http.MethodGet, "/api/v1/delivery/orders?companyId=x", nil)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})

	t.Run("malformed companyId is a bad request", func(t *testing.T) {
		svc := new(MockDeliveryService)
		for _, raw := range []string{"not-a-uuid", "12345678-1234-1234-1234-12345678901z"} {
			w := doJSON(setupDeliveryEngine(svc), http.MethodGet, "/api/v1/delivery/orders?orderId=ORD-1001&companyId="+raw, nil)
			assert.Equal(t, http.StatusBadRequest, w.Code, raw)
		}
		svc.AssertNotCalled(t, "GetDeliveryOrder", mock.Anything, mock.Anything, mock.Anything)
	})
}

func TestDeliveryHandler_UpdateStatus(t *testing.T) {
	id := uuid.New()
	svc := new(MockDeliveryService)
	order := sampleOrder(delivery.DeliveryStatusInTransit)
	svc.On("UpdateDeliveryStatus", mock.Anything, id, delivery.DeliveryStatusInTransit, "picked_up").Return(&order, nil)
	svc.On("UpdateDeliveryStatus", mock.Anything, id, delivery.DeliveryStatusDelivered, "").
		Return(nil, delivery.ErrInvalidStatusTransition)
	engine := setupDeliveryEngine(svc)

	w := doJSON(engine, http.MethodPut, "/api/v1/delivery/orders/"+id.String()+"/status", map[string]any{
		"status":         "in_transit",
		"externalStatus": "picked_up",
	})
	require.Equal(t, http.StatusOK, w.Code)

	w = doJSON(engine, http.MethodPut, "/api/v1/delivery/orders/"+id.String()+"/status", map[string]any{"status": "delivered"})
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, dto.ErrCodeInvalidState, errorCode(t, w))

	// send-path and cancel statuses never reach the service
	for _, status := range []string{"lost", "pending", "sent", "cancelled"} {
		w = doJSON(engine, http.MethodPut, "/api/v1/delivery/orders/"+id.String()+"/status", map[string]any{"status": status})
		assert.Equal(t, http.StatusBadRequest, w.Code, status)
	}
	svc.AssertExpectations(t)
	svc.AssertNumberOfCalls(t, "UpdateDeliveryStatus", 2)
}

func TestDeliveryHandler_Cancel(t *testing.T) {
	id := uuid.New()
	svc := new(MockDeliveryService)
	order := sampleOrder(delivery.DeliveryStatusCancelled)
	svc.On("CancelDelivery", mock.Anything, id).Return(&order, nil)

	w := doJSON(setupDeliveryEngine(svc), http.MethodPost, "/api/v1/delivery/orders/"+id.String()+"/cancel", nil)

	require.Equal(t, http.StatusOK, w.Code)
	data := decodeBody(t, w)["data"].(map[string]any)
	assert.Equal(t, "cancelled", data["status"])
}

func TestDeliveryHandler_Cancel_Conflicts(t *testing.T) {
	busy, stale := uuid.New(), uuid.New()
	svc := new(MockDeliveryService)
	svc.On("CancelDelivery", mock.Anything, busy).Return(nil, delivery.ErrDispatchInProgress)
	svc.On("CancelDelivery", mock.Anything, stale).Return(nil, shared.ErrOptimisticLock)
	engine := setupDeliveryEngine(svc)

	w := doJSON(engine, http.MethodPost, "/api/v1/delivery/orders/"+busy.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, delivery.CodeDispatchInProgress, errorCode(t, w))

	w = doJSON(engine, http.MethodPost, "/api/v1/delivery/orders/"+stale.String()+"/cancel", nil)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.Equal(t, dto.ErrCodeOptimisticLock, errorCode(t, w))
}
