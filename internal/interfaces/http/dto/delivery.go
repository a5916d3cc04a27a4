package dto

import (
	"strings"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	appdelivery "github.com/storefront/backend/internal/application/delivery"
	"github.com/storefront/backend/internal/domain/delivery"
)

// ---------------------------------------------------------------------------
// Requests
// ---------------------------------------------------------------------------

// SendDeliveryRequest asks for an order to be sent to a carrier
type SendDeliveryRequest struct {
	OrderID     string          `json:"orderId" binding:"required,max=64"`
	CompanyID   string          `json:"companyId" binding:"required,uuid"`
	DeliveryFee decimal.Decimal `json:"deliveryFee"`
	IsResend    bool            `json:"isResend"`
	Notes       string          `json:"notes" binding:"max=500"`
}

// ToCommand converts the request into a dispatch command
func (r SendDeliveryRequest) ToCommand() (appdelivery.DispatchCommand, error) {
	id, err := uuid.Parse(r.CompanyID)
	if err != nil {
		return appdelivery.DispatchCommand{}, err
	}
	return appdelivery.DispatchCommand{
		OrderID:     r.OrderID,
		CompanyID:   id,
		DeliveryFee: r.DeliveryFee,
		IsResend:    r.IsResend,
		Notes:       r.Notes,
	}, nil
}

// OrderCompanyRequest names an (order, carrier) pair
type OrderCompanyRequest struct {
	OrderID   string `json:"orderId" binding:"required,max=64"`
	CompanyID string `json:"companyId" binding:"required,uuid"`
}

// FieldMappingRequest is one mapping rule as sent by API clients
type FieldMappingRequest struct {
	SourceField string `json:"sourceField" binding:"max=255"`
	TargetField string `json:"targetField" binding:"required,max=255"`
	Required    bool   `json:"required"`
	// Enabled defaults to true when omitted
	Enabled              *bool  `json:"enabled"`
	Transform            string `json:"transform" binding:"max=64"`
	DefaultValue         string `json:"defaultValue" binding:"max=1024"`
	DefaultValuePriority bool   `json:"defaultValuePriority"`
	Description          string `json:"description" binding:"max=500"`
}

// ToDomain converts the request into a domain FieldMapping
func (r FieldMappingRequest) ToDomain() delivery.FieldMapping {
	enabled := true
	if r.Enabled != nil {
		enabled = *r.Enabled
	}
	return delivery.FieldMapping{
		SourceField:          r.SourceField,
		TargetField:          r.TargetField,
		Required:             r.Required,
		Enabled:              enabled,
		Transform:            delivery.TransformName(r.Transform),
		DefaultValue:         r.DefaultValue,
		DefaultValuePriority: r.DefaultValuePriority,
		Description:          r.Description,
	}
}

// ValueRuleRequest is a per-target shape check
type ValueRuleRequest struct {
	TargetField string `json:"targetField" binding:"required"`
	Kind        string `json:"kind" binding:"required,oneof=phone email numeric pattern min_length"`
	MinDigits   int    `json:"minDigits" binding:"gte=0"`
	MinLength   int    `json:"minLength" binding:"gte=0"`
	Pattern     string `json:"pattern" binding:"max=512"`
}

// ToDomain converts the request into a domain ValueRule
func (r ValueRuleRequest) ToDomain() delivery.ValueRule {
	return delivery.ValueRule{
		TargetField: r.TargetField,
		Kind:        delivery.ValueRuleKind(r.Kind),
		MinDigits:   r.MinDigits,
		MinLength:   r.MinLength,
		Pattern:     r.Pattern,
	}
}

// UpdateFieldMappingsRequest replaces a carrier's mapping configuration.
// Omitting validationRules keeps the stored ones.
type UpdateFieldMappingsRequest struct {
	FieldMappings   []FieldMappingRequest `json:"fieldMappings" binding:"dive"`
	CustomFields    map[string]any        `json:"customFields"`
	ValidationRules []ValueRuleRequest    `json:"validationRules" binding:"omitempty,dive"`
}

// ToCommand converts the request into an application command
func (r UpdateFieldMappingsRequest) ToCommand() appdelivery.UpdateFieldMappingsCommand {
	cmd := appdelivery.UpdateFieldMappingsCommand{
		FieldMappings: ToFieldMappings(r.FieldMappings),
		CustomFields:  r.CustomFields,
	}
	if cmd.FieldMappings == nil {
		cmd.FieldMappings = []delivery.FieldMapping{}
	}
	if r.ValidationRules != nil {
		cmd.ValidationRules = make([]delivery.ValueRule, len(r.ValidationRules))
		for i, rule := range r.ValidationRules {
			cmd.ValidationRules[i] = rule.ToDomain()
		}
	}
	return cmd
}

// PreviewMappingRequest previews a mapping. Order overrides orderId;
// fieldMappings and customFields default to the carrier's stored ones.
type PreviewMappingRequest struct {
	CompanyID     string                `json:"companyId" binding:"required,uuid"`
	OrderID       string                `json:"orderId" binding:"max=64"`
	Order         map[string]any        `json:"order"`
	FieldMappings []FieldMappingRequest `json:"fieldMappings" binding:"omitempty,dive"`
	CustomFields  map[string]any        `json:"customFields"`
}

// ToFieldMappings converts mapping requests, keeping nil as nil
func ToFieldMappings(reqs []FieldMappingRequest) []delivery.FieldMapping {
	if reqs == nil {
		return nil
	}
	mappings := make([]delivery.FieldMapping, len(reqs))
	for i, r := range reqs {
		mappings[i] = r.ToDomain()
	}
	return mappings
}

// UpdateCredentialsRequest is a partial credential update. An absent key keeps
// the stored secret, null clears it.
type UpdateCredentialsRequest struct {
	APIKey    delivery.OptionalString `json:"apiKey"`
	Login     delivery.OptionalString `json:"login"`
	Password  delivery.OptionalString `json:"password"`
	Database  delivery.OptionalString `json:"database"`
	APIFormat string                  `json:"apiFormat" binding:"max=20"`
}

// ToDomain converts the request into a domain CredentialUpdate. The API
// format accepts common spellings such as "json-rpc" or "graphql".
func (r UpdateCredentialsRequest) ToDomain() (delivery.CredentialUpdate, error) {
	update := delivery.CredentialUpdate{
		APIKey:   r.APIKey,
		Login:    r.Login,
		Password: r.Password,
		Database: r.Database,
	}
	if strings.TrimSpace(r.APIFormat) != "" {
		format, err := delivery.ParseAPIFormat(r.APIFormat)
		if err != nil {
			return delivery.CredentialUpdate{}, err
		}
		update.APIFormat = format
	}
	return update, nil
}

// UpdateDeliveryStatusRequest reports a carrier-side status change.
// Sending and cancelling have their own endpoints.
type UpdateDeliveryStatusRequest struct {
	Status         string `json:"status" binding:"required,oneof=acknowledged rejected in_transit delivered delivery_failed returned"`
	ExternalStatus string `json:"externalStatus" binding:"max=100"`
}

// QuoteRequest asks for a delivery fee
type QuoteRequest struct {
	Region     string          `json:"region" binding:"max=100"`
	WeightKg   decimal.Decimal `json:"weightKg"`
	DistanceKm decimal.Decimal `json:"distanceKm"`
}

// ListDeliveryOrdersQuery filters delivery records
type ListDeliveryOrdersQuery struct {
	OrderID   string `form:"orderId" binding:"required,max=64"`
	CompanyID string `form:"companyId" binding:"omitempty,uuid"`
}

// ---------------------------------------------------------------------------
// Responses
// ---------------------------------------------------------------------------

// SendDeliveryResponse is the data of a send call
type SendDeliveryResponse struct {
	DeliveryOrderID         string                            `json:"deliveryOrderId"`
	TrackingNumber          string                            `json:"trackingNumber"`
	Status                  string                            `json:"status"`
	ExternalStatus          string                            `json:"externalStatus"`
	ExternalOrderID         string                            `json:"externalOrderId"`
	IsResend                bool                              `json:"isResend"`
	ResendAttempts          int                               `json:"resendAttempts"`
	ResendHistory           []delivery.ResendEntry            `json:"resendHistory"`
	DeliveryCompanyResponse string                            `json:"deliveryCompanyResponse"`
	Attempt                 appdelivery.AttemptSummary        `json:"attempt"`
	DeliveryOrder           appdelivery.DeliveryOrderResponse `json:"deliveryOrder"`
}

// NewSendDeliveryResponse flattens a dispatch result
func NewSendDeliveryResponse(r *appdelivery.DispatchResult) SendDeliveryResponse {
	o := r.DeliveryOrder
	return SendDeliveryResponse{
		DeliveryOrderID:         o.ID.String(),
		TrackingNumber:          o.TrackingNumber,
		Status:                  o.Status,
		ExternalStatus:          o.ExternalStatus,
		ExternalOrderID:         o.ExternalOrderID,
		IsResend:                r.IsResend,
		ResendAttempts:          o.ResendAttempts,
		ResendHistory:           o.ResendHistory,
		DeliveryCompanyResponse: r.Attempt.RawResponse,
		Attempt:                 r.Attempt,
		DeliveryOrder:           o,
	}
}

// SendDeliveryFailure is the body of a recorded attempt the carrier did not accept
type SendDeliveryFailure struct {
	Success bool                 `json:"success"`
	Error   *ErrorInfo           `json:"error"`
	Data    SendDeliveryResponse `json:"data"`
}

// HealthResponse reports service liveness
type HealthResponse struct {
	Status  string            `json:"status"`
	Version string            `json:"version"`
	Uptime  string            `json:"uptime"`
	Checks  map[string]string `json:"checks"`
}
