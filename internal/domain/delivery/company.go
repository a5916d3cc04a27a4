package delivery

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/storefront/backend/internal/domain/shared"
)

// ---------------------------------------------------------------------------
// APIFormat
// ---------------------------------------------------------------------------

// APIFormat selects the transport a carrier speaks
type APIFormat string

const (
	APIFormatREST    APIFormat = "REST"
	APIFormatJSONRPC APIFormat = "JSON_RPC"
	APIFormatSOAP    APIFormat = "SOAP"
	APIFormatGraphQL APIFormat = "GRAPHQL"
)

// IsValid returns true if the API format is valid
func (f APIFormat) IsValid() bool {
	switch f {
	case APIFormatREST, APIFormatJSONRPC, APIFormatSOAP, APIFormatGraphQL:
		return true
	default:
		return false
	}
}

// String returns the string representation of the API format
func (f APIFormat) String() string {
	return string(f)
}

// AllAPIFormats returns all valid API formats
func AllAPIFormats() []APIFormat {
	return []APIFormat{APIFormatREST, APIFormatJSONRPC, APIFormatSOAP, APIFormatGraphQL}
}

// ParseAPIFormat accepts the canonical names and common spellings ("json-rpc", "graphql")
func ParseAPIFormat(s string) (APIFormat, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	normalized = strings.NewReplacer("-", "_", " ", "_").Replace(normalized)
	if normalized == "JSONRPC" {
		normalized = string(APIFormatJSONRPC)
	}
	f := APIFormat(normalized)
	if !f.IsValid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidAPIFormat, s)
	}
	return f, nil
}

// ---------------------------------------------------------------------------
// Pricing
// ---------------------------------------------------------------------------

// PricingMode is how a carrier computes its delivery fee
type PricingMode string

const (
	PricingModeFixed    PricingMode = "fixed"
	PricingModeWeight   PricingMode = "weight"
	PricingModeDistance PricingMode = "distance"
)

// IsValid returns true if the pricing mode is valid
func (m PricingMode) IsValid() bool {
	switch m {
	case PricingModeFixed, PricingModeWeight, PricingModeDistance:
		return true
	default:
		return false
	}
}

// PricingSettings configures a carrier's fee calculation
type PricingSettings struct {
	Mode      PricingMode
	BasePrice decimal.Decimal
	// RatePerUnit is charged per kg (weight mode) or per km (distance mode)
	RatePerUnit      decimal.Decimal
	SupportedRegions []string
}

// SupportsRegion reports whether the carrier serves the region.
// An empty region list means every region.
func (p PricingSettings) SupportsRegion(region string) bool {
	if len(p.SupportedRegions) == 0 {
		return true
	}
	for _, r := range p.SupportedRegions {
		if strings.EqualFold(strings.TrimSpace(r), strings.TrimSpace(region)) {
			return true
		}
	}
	return false
}

// Quote computes the delivery fee, rounded to two decimals
func (p PricingSettings) Quote(region string, weightKg, distanceKm decimal.Decimal) (decimal.Decimal, error) {
	if weightKg.IsNegative() || distanceKm.IsNegative() {
		return decimal.Zero, ErrInvalidQuoteInput
	}
	if !p.SupportsRegion(region) {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrRegionNotSupported, region)
	}

	fee := p.BasePrice
	switch p.Mode {
	case PricingModeWeight:
		fee = fee.Add(p.RatePerUnit.Mul(weightKg))
	case PricingModeDistance:
		fee = fee.Add(p.RatePerUnit.Mul(distanceKm))
	}
	return fee.Round(2), nil
}

// ---------------------------------------------------------------------------
// DeliveryCompany Aggregate
// ---------------------------------------------------------------------------

// DeliveryCompany is a configured carrier. It owns its field mappings,
// custom fields and value rules; credentials are held encrypted.
type DeliveryCompany struct {
	shared.BaseEntity
	Name            string
	Code            string
	APIBaseURL      string
	APIFormat       APIFormat
	IsActive        bool
	Pricing         PricingSettings
	FieldMappings   []FieldMapping
	CustomFields    map[string]any
	ValidationRules []ValueRule
	// CredentialBlob is the vault-sealed credential set
	CredentialBlob string
}

// NewDeliveryCompany creates a new active carrier
func NewDeliveryCompany(name, baseURL string, format APIFormat) (*DeliveryCompany, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, ErrInvalidCompanyName
	}
	if !format.IsValid() {
		return nil, ErrInvalidAPIFormat
	}
	if err := validateBaseURL(baseURL); err != nil {
		return nil, err
	}

	return &DeliveryCompany{
		BaseEntity:    shared.NewBaseEntity(),
		Name:          name,
		APIBaseURL:    strings.TrimSpace(baseURL),
		APIFormat:     format,
		IsActive:      true,
		Pricing:       PricingSettings{Mode: PricingModeFixed, BasePrice: decimal.Zero, RatePerUnit: decimal.Zero},
		FieldMappings: make([]FieldMapping, 0),
		CustomFields:  make(map[string]any),
	}, nil
}

func validateBaseURL(raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	u, err := url.Parse(raw)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("%w: %s", ErrInvalidBaseURL, raw)
	}
	return nil
}

// CheckDispatchable reports configuration problems that must stop a dispatch
// before any network call.
func (c *DeliveryCompany) CheckDispatchable() error {
	if !c.IsActive {
		return fmt.Errorf("%w: %s", ErrCarrierInactive, c.Name)
	}
	if strings.TrimSpace(c.APIBaseURL) == "" {
		return fmt.Errorf("%w: %s has no api base url", ErrCarrierNotConfigured, c.Name)
	}
	if !c.APIFormat.IsValid() {
		return fmt.Errorf("%w: %s has api format %q", ErrCarrierNotConfigured, c.Name, c.APIFormat)
	}
	return nil
}

// ReplaceFieldMappings swaps the mapping configuration after validating it
func (c *DeliveryCompany) ReplaceFieldMappings(mappings []FieldMapping, customFields map[string]any) error {
	normalized := make([]FieldMapping, len(mappings))
	for i, m := range mappings {
		normalized[i] = NormalizeFieldMapping(m)
	}
	if err := ValidateFieldMappings(normalized); err != nil {
		return err
	}

	if customFields == nil {
		customFields = make(map[string]any)
	}
	c.FieldMappings = normalized
	c.CustomFields = customFields
	c.touch()
	return nil
}

// ReplaceValidationRules swaps the per-target value rules
func (c *DeliveryCompany) ReplaceValidationRules(rules []ValueRule) error {
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return err
		}
	}
	c.ValidationRules = rules
	c.touch()
	return nil
}

// ChangeAPIFormat switches the carrier's transport. The format is immutable
// unless the credentials to be used with it are supplied and usable.
func (c *DeliveryCompany) ChangeAPIFormat(format APIFormat, revalidated *Credentials) error {
	if !format.IsValid() {
		return ErrInvalidAPIFormat
	}
	if format == c.APIFormat {
		return nil
	}
	if revalidated == nil {
		return ErrAPIFormatLocked
	}
	if err := revalidated.UsableFor(format); err != nil {
		return err
	}
	c.APIFormat = format
	c.touch()
	return nil
}

// SetCredentialBlob stores a newly sealed credential set
func (c *DeliveryCompany) SetCredentialBlob(blob string) {
	c.CredentialBlob = blob
	c.touch()
}

// Deactivate hides the carrier from dispatch while keeping its history
func (c *DeliveryCompany) Deactivate() {
	if !c.IsActive {
		return
	}
	c.IsActive = false
	c.touch()
}

// Activate makes the carrier available for dispatch again
func (c *DeliveryCompany) Activate() {
	if c.IsActive {
		return
	}
	c.IsActive = true
	c.touch()
}

// EnabledFieldMappings returns the enabled rules in order
func (c *DeliveryCompany) EnabledFieldMappings() []FieldMapping {
	return EnabledMappings(c.FieldMappings)
}

func (c *DeliveryCompany) touch() {
	c.UpdatedAt = time.Now()
}
