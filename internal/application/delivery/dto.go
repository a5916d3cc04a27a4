package delivery

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/storefront/backend/internal/domain/delivery"
)

// ---------------------------------------------------------------------------
// Commands
// ---------------------------------------------------------------------------

// DispatchCommand asks for one attempt of sending an order to a carrier
type DispatchCommand struct {
	OrderID     string
	CompanyID   uuid.UUID
	DeliveryFee decimal.Decimal
	IsResend    bool
	// Notes are stored on the resend history entry
	Notes string
}

// PreviewCommand previews a mapping without dispatching. Snapshot wins over
// OrderID; FieldMappings and CustomFields default to the company's stored ones.
type PreviewCommand struct {
	CompanyID     uuid.UUID
	OrderID       string
	Snapshot      map[string]any
	FieldMappings []delivery.FieldMapping
	CustomFields  map[string]any
}

// UpdateFieldMappingsCommand replaces a carrier's mapping configuration.
// A nil ValidationRules keeps the stored rules.
type UpdateFieldMappingsCommand struct {
	FieldMappings   []delivery.FieldMapping
	CustomFields    map[string]any
	ValidationRules []delivery.ValueRule
}

// QuoteCommand asks for a delivery fee
type QuoteCommand struct {
	Region     string
	WeightKg   decimal.Decimal
	DistanceKm decimal.Decimal
}

// ---------------------------------------------------------------------------
// Results
// ---------------------------------------------------------------------------

// DeliveryOrderResponse is the external view of a dispatch lineage
type DeliveryOrderResponse struct {
	ID              uuid.UUID              `json:"id"`
	OrderID         string                 `json:"orderId"`
	CompanyID       uuid.UUID              `json:"companyId"`
	TrackingNumber  string                 `json:"trackingNumber"`
	TrackingIsLocal bool                   `json:"trackingIsLocal"`
	Status          string                 `json:"status"`
	ExternalStatus  string                 `json:"externalStatus,omitempty"`
	ExternalOrderID string                 `json:"externalOrderId,omitempty"`
	DeliveryFee     decimal.Decimal        `json:"deliveryFee"`
	ResendAttempts  int                    `json:"resendAttempts"`
	LastResendAt    *time.Time             `json:"lastResendAt,omitempty"`
	ResendHistory   []delivery.ResendEntry `json:"resendHistory"`
	LastError       string                 `json:"lastError,omitempty"`
	CreatedAt       time.Time              `json:"createdAt"`
	UpdatedAt       time.Time              `json:"updatedAt"`
}

// ToDeliveryOrderResponse converts a domain DeliveryOrder
func ToDeliveryOrderResponse(o *delivery.DeliveryOrder) DeliveryOrderResponse {
	history := o.ResendHistory
	if history == nil {
		history = []delivery.ResendEntry{}
	}
	return DeliveryOrderResponse{
		ID:              o.ID,
		OrderID:         o.OrderID,
		CompanyID:       o.CompanyID,
		TrackingNumber:  o.TrackingNumber,
		TrackingIsLocal: o.TrackingIsLocal,
		Status:          o.Status.String(),
		ExternalStatus:  o.ExternalStatus,
		ExternalOrderID: o.ExternalOrderID,
		DeliveryFee:     o.DeliveryFee,
		ResendAttempts:  o.ResendAttempts,
		LastResendAt:    o.LastResendAt,
		ResendHistory:   history,
		LastError:       o.LastError,
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
	}
}

// AttemptSummary describes the carrier call of a dispatch
type AttemptSummary struct {
	Success         bool                 `json:"success"`
	FailureKind     delivery.FailureKind `json:"failureKind,omitempty"`
	StatusCode      int                  `json:"statusCode,omitempty"`
	ErrorMessage    string               `json:"errorMessage,omitempty"`
	RawResponse     string               `json:"rawResponse"`
	DurationMillis  int64                `json:"durationMs"`
	ExternalOrderID string               `json:"externalOrderId,omitempty"`
}

// DispatchResult is the outcome of Dispatch. A failed carrier call still
// carries the recorded DeliveryOrder.
type DispatchResult struct {
	Success       bool                  `json:"success"`
	IsResend      bool                  `json:"isResend"`
	DeliveryOrder DeliveryOrderResponse `json:"deliveryOrder"`
	Attempt       AttemptSummary        `json:"attempt"`
}

// PreviewResult is the mapped payload of a preview with its validation
type PreviewResult struct {
	Payload     map[string]any                    `json:"payload"`
	Diagnostics []delivery.FieldDiagnostic        `json:"diagnostics"`
	Validation  *delivery.MappingValidationResult `json:"validation"`
}

// CompanyMappingResponse is a carrier's mapping configuration
type CompanyMappingResponse struct {
	ID             uuid.UUID `json:"id"`
	Name           string    `json:"name"`
	APIFormat      string    `json:"apiFormat"`
	IsActive       bool      `json:"isActive"`
	HasCredentials bool      `json:"hasCredentials"`
	// Credentials is set by credential updates only
	Credentials     *delivery.CredentialPresence `json:"credentials,omitempty"`
	FieldMappings   []delivery.FieldMapping      `json:"fieldMappings"`
	CustomFields    map[string]any               `json:"customFields"`
	ValidationRules []delivery.ValueRule         `json:"validationRules"`
	UpdatedAt       time.Time                    `json:"updatedAt"`
}

// ToCompanyMappingResponse converts a domain DeliveryCompany. Secrets are
// reported only as present or absent.
func ToCompanyMappingResponse(c *delivery.DeliveryCompany) CompanyMappingResponse {
	return CompanyMappingResponse{
		ID:              c.ID,
		Name:            c.Name,
		APIFormat:       c.APIFormat.String(),
		IsActive:        c.IsActive,
		HasCredentials:  c.CredentialBlob != "",
		FieldMappings:   c.FieldMappings,
		CustomFields:    c.CustomFields,
		ValidationRules: c.ValidationRules,
		UpdatedAt:       c.UpdatedAt,
	}
}

// QuoteResult is a computed delivery fee
type QuoteResult struct {
	CompanyID uuid.UUID       `json:"companyId"`
	Mode      string          `json:"mode"`
	Region    string          `json:"region,omitempty"`
	Fee       decimal.Decimal `json:"fee"`
}
