package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/datatypes"

	"github.com/storefront/backend/internal/domain/delivery"
	"github.com/storefront/backend/internal/domain/shared"
)

// ---------------------------------------------------------------------------
// JSON column records
// ---------------------------------------------------------------------------

// fieldMappingRecord is the stored shape of one field mapping
type fieldMappingRecord struct {
	SourceField          string `json:"source_field"`
	TargetField          string `json:"target_field"`
	Required             bool   `json:"required"`
	Enabled              bool   `json:"enabled"`
	Transform            string `json:"transform,omitempty"`
	DefaultValue         string `json:"default_value,omitempty"`
	DefaultValuePriority bool   `json:"default_value_priority,omitempty"`
	Description          string `json:"description,omitempty"`
}

// valueRuleRecord is the stored shape of one value rule
type valueRuleRecord struct {
	TargetField string `json:"target_field"`
	Kind        string `json:"kind"`
	MinDigits   int    `json:"min_digits,omitempty"`
	MinLength   int    `json:"min_length,omitempty"`
	Pattern     string `json:"pattern,omitempty"`
}

// ---------------------------------------------------------------------------
// DeliveryCompanyModel
// ---------------------------------------------------------------------------

// DeliveryCompanyModel is the persistence model for the DeliveryCompany aggregate
type DeliveryCompanyModel struct {
	BaseModel
	Name             string             `gorm:"type:varchar(200);not null"`
	Code             string             `gorm:"type:varchar(50);index"`
	APIBaseURL       string             `gorm:"column:api_base_url;type:varchar(500);not null"`
	APIFormat        delivery.APIFormat `gorm:"column:api_format;type:varchar(20);not null"`
	IsActive         bool               `gorm:"not null;default:true"`
	PricingMode      string             `gorm:"type:varchar(20);not null;default:'fixed'"`
	BasePrice        decimal.Decimal    `gorm:"type:decimal(18,4);not null;default:0"`
	RatePerUnit      decimal.Decimal    `gorm:"type:decimal(18,4);not null;default:0"`
	SupportedRegions datatypes.JSON     `gorm:"type:json"`
	FieldMappings    datatypes.JSON     `gorm:"type:json"`
	CustomFields     datatypes.JSON     `gorm:"type:json"`
	ValidationRules  datatypes.JSON     `gorm:"type:json"`
	CredentialBlob   string             `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (DeliveryCompanyModel) TableName() string {
	return "delivery_companies"
}

// ToDomain converts the persistence model to a domain DeliveryCompany
func (m *DeliveryCompanyModel) ToDomain() (*delivery.DeliveryCompany, error) {
	company := &delivery.DeliveryCompany{
		BaseEntity:     m.BaseModel.ToDomain(),
		Name:           m.Name,
		Code:           m.Code,
		APIBaseURL:     m.APIBaseURL,
		APIFormat:      m.APIFormat,
		IsActive:       m.IsActive,
		CredentialBlob: m.CredentialBlob,
		Pricing: delivery.PricingSettings{
			Mode:        delivery.PricingMode(m.PricingMode),
			BasePrice:   m.BasePrice,
			RatePerUnit: m.RatePerUnit,
		},
		FieldMappings:   make([]delivery.FieldMapping, 0),
		CustomFields:    make(map[string]any),
		ValidationRules: make([]delivery.ValueRule, 0),
	}

	if err := unmarshalColumn(m.SupportedRegions, &company.Pricing.SupportedRegions); err != nil {
		return nil, fmt.Errorf("supported_regions of company %s: %w", m.ID, err)
	}

	var mappings []fieldMappingRecord
	if err := unmarshalColumn(m.FieldMappings, &mappings); err != nil {
		return nil, fmt.Errorf("field_mappings of company %s: %w", m.ID, err)
	}
	for _, r := range mappings {
		company.FieldMappings = append(company.FieldMappings, delivery.FieldMapping{
			SourceField:          r.SourceField,
			TargetField:          r.TargetField,
			Required:             r.Required,
			Enabled:              r.Enabled,
			Transform:            delivery.TransformName(r.Transform),
			DefaultValue:         r.DefaultValue,
			DefaultValuePriority: r.DefaultValuePriority,
			Description:          r.Description,
		})
	}

	if err := unmarshalColumn(m.CustomFields, &company.CustomFields); err != nil {
		return nil, fmt.Errorf("custom_fields of company %s: %w", m.ID, err)
	}
	if company.CustomFields == nil {
		company.CustomFields = make(map[string]any)
	}

	var rules []valueRuleRecord
	if err := unmarshalColumn(m.ValidationRules, &rules); err != nil {
		return nil, fmt.Errorf("validation_rules of company %s: %w", m.ID, err)
	}
	for _, r := range rules {
		company.ValidationRules = append(company.ValidationRules, delivery.ValueRule{
			TargetField: r.TargetField,
			Kind:        delivery.ValueRuleKind(r.Kind),
			MinDigits:   r.MinDigits,
			MinLength:   r.MinLength,
			Pattern:     r.Pattern,
		})
	}

	return company, nil
}

// FromDomain populates the persistence model from a domain DeliveryCompany
func (m *DeliveryCompanyModel) FromDomain(c *delivery.DeliveryCompany) error {
	m.FromDomainBaseEntity(c.BaseEntity)
	m.Name = c.Name
	m.Code = c.Code
	m.APIBaseURL = c.APIBaseURL
	m.APIFormat = c.APIFormat
	m.IsActive = c.IsActive
	m.CredentialBlob = c.CredentialBlob
	m.PricingMode = string(c.Pricing.Mode)
	if m.PricingMode == "" {
		m.PricingMode = string(delivery.PricingModeFixed)
	}
	m.BasePrice = c.Pricing.BasePrice
	m.RatePerUnit = c.Pricing.RatePerUnit

	regions := c.Pricing.SupportedRegions
	if regions == nil {
		regions = []string{}
	}

	mappings := make([]fieldMappingRecord, 0, len(c.FieldMappings))
	for _, fm := range c.FieldMappings {
		mappings = append(mappings, fieldMappingRecord{
			SourceField:          fm.SourceField,
			TargetField:          fm.TargetField,
			Required:             fm.Required,
			Enabled:              fm.Enabled,
			Transform:            string(fm.Transform),
			DefaultValue:         fm.DefaultValue,
			DefaultValuePriority: fm.DefaultValuePriority,
			Description:          fm.Description,
		})
	}

	custom := c.CustomFields
	if custom == nil {
		custom = map[string]any{}
	}

	rules := make([]valueRuleRecord, 0, len(c.ValidationRules))
	for _, r := range c.ValidationRules {
		rules = append(rules, valueRuleRecord{
			TargetField: r.TargetField,
			Kind:        string(r.Kind),
			MinDigits:   r.MinDigits,
			MinLength:   r.MinLength,
			Pattern:     r.Pattern,
		})
	}

	var err error
	if m.SupportedRegions, err = marshalColumn(regions); err != nil {
		return err
	}
	if m.FieldMappings, err = marshalColumn(mappings); err != nil {
		return err
	}
	if m.CustomFields, err = marshalColumn(custom); err != nil {
		return err
	}
	if m.ValidationRules, err = marshalColumn(rules); err != nil {
		return err
	}
	return nil
}

// DeliveryCompanyModelFromDomain creates a new persistence model from a domain DeliveryCompany
func DeliveryCompanyModelFromDomain(c *delivery.DeliveryCompany) (*DeliveryCompanyModel, error) {
	m := &DeliveryCompanyModel{}
	if err := m.FromDomain(c); err != nil {
		return nil, err
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// DeliveryOrderModel
// ---------------------------------------------------------------------------

// DeliveryOrderModel is the persistence model for the DeliveryOrder aggregate.
// One row exists per (order_id, company_id) pair.
type DeliveryOrderModel struct {
	BaseModel
	Version         int                     `gorm:"not null;default:1"`
	OrderID         string                  `gorm:"type:varchar(100);not null;uniqueIndex:uk_delivery_order_pair"`
	CompanyID       uuid.UUID               `gorm:"type:uuid;not null;uniqueIndex:uk_delivery_order_pair"`
	TrackingNumber  string                  `gorm:"type:varchar(100);index"`
	TrackingIsLocal bool                    `gorm:"not null;default:false"`
	Status          delivery.DeliveryStatus `gorm:"type:varchar(30);not null;index"`
	ExternalStatus  string                  `gorm:"type:varchar(100)"`
	ExternalOrderID string                  `gorm:"type:varchar(100)"`
	DeliveryFee     decimal.Decimal         `gorm:"type:decimal(18,4);not null;default:0"`
	ResendAttempts  int                     `gorm:"not null;default:0"`
	LastResendAt    *time.Time
	ResendHistory   datatypes.JSON `gorm:"type:json"`
	LastResponse    string         `gorm:"type:text"`
	LastError       string         `gorm:"type:text"`
}

// TableName returns the table name for GORM
func (DeliveryOrderModel) TableName() string {
	return "delivery_orders"
}

// ToDomain converts the persistence model to a domain DeliveryOrder
func (m *DeliveryOrderModel) ToDomain() (*delivery.DeliveryOrder, error) {
	order := &delivery.DeliveryOrder{
		BaseAggregateRoot: shared.BaseAggregateRoot{
			BaseEntity: m.BaseModel.ToDomain(),
			Version:    m.Version,
		},
		OrderID:         m.OrderID,
		CompanyID:       m.CompanyID,
		TrackingNumber:  m.TrackingNumber,
		TrackingIsLocal: m.TrackingIsLocal,
		Status:          m.Status,
		ExternalStatus:  m.ExternalStatus,
		ExternalOrderID: m.ExternalOrderID,
		DeliveryFee:     m.DeliveryFee,
		ResendAttempts:  m.ResendAttempts,
		LastResendAt:    m.LastResendAt,
		LastResponse:    m.LastResponse,
		LastError:       m.LastError,
	}
	if err := unmarshalColumn(m.ResendHistory, &order.ResendHistory); err != nil {
		return nil, fmt.Errorf("resend_history of delivery order %s: %w", m.ID, err)
	}
	if order.ResendHistory == nil {
		order.ResendHistory = make([]delivery.ResendEntry, 0)
	}
	return order, nil
}

// FromDomain populates the persistence model from a domain DeliveryOrder
func (m *DeliveryOrderModel) FromDomain(o *delivery.DeliveryOrder) error {
	m.FromDomainBaseEntity(o.BaseEntity)
	m.Version = o.Version
	m.OrderID = o.OrderID
	m.CompanyID = o.CompanyID
	m.TrackingNumber = o.TrackingNumber
	m.TrackingIsLocal = o.TrackingIsLocal
	m.Status = o.Status
	m.ExternalStatus = o.ExternalStatus
	m.ExternalOrderID = o.ExternalOrderID
	m.DeliveryFee = o.DeliveryFee
	m.ResendAttempts = o.ResendAttempts
	m.LastResendAt = o.LastResendAt
	m.LastResponse = o.LastResponse
	m.LastError = o.LastError

	history := o.ResendHistory
	if history == nil {
		history = []delivery.ResendEntry{}
	}
	var err error
	m.ResendHistory, err = marshalColumn(history)
	return err
}

// DeliveryOrderModelFromDomain creates a new persistence model from a domain DeliveryOrder
func DeliveryOrderModelFromDomain(o *delivery.DeliveryOrder) (*DeliveryOrderModel, error) {
	m := &DeliveryOrderModel{}
	if err := m.FromDomain(o); err != nil {
		return nil, err
	}
	return m, nil
}

// ---------------------------------------------------------------------------
// helpers
// ---------------------------------------------------------------------------

func marshalColumn(v any) (datatypes.JSON, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("marshal json column: %w", err)
	}
	return datatypes.JSON(b), nil
}

func unmarshalColumn(col datatypes.JSON, dst any) error {
	if len(col) == 0 || string(col) == "null" {
		return nil
	}
	return json.Unmarshal(col, dst)
}
