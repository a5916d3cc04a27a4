package delivery

import (
	"fmt"
	"strings"
)

// ---------------------------------------------------------------------------
// FieldMapping Value Object
// ---------------------------------------------------------------------------

// FieldMapping translates one order snapshot field into one carrier API field.
// It is owned by a DeliveryCompany and has no identity of its own.
type FieldMapping struct {
	// SourceField is a dot path into the order snapshot, e.g. "shippingAddress.city"
	SourceField string
	// TargetField is the key sent to the carrier API
	TargetField string
	// Required rules without a usable value block dispatch
	Required bool
	// Enabled rules take part in mapping; disabled ones are kept for reference only
	Enabled bool
	// Transform normalises the source value; defaults are never transformed
	Transform TransformName
	// DefaultValue fills the target when the source is empty
	DefaultValue string
	// DefaultValuePriority makes the default win over the source value
	DefaultValuePriority bool
	// Description is shown to operators when the rule fails validation
	Description string
}

// HasDefault reports whether the rule carries a usable default value
func (m FieldMapping) HasDefault() bool {
	return m.DefaultValue != ""
}

// Validate checks a single rule in isolation
func (m FieldMapping) Validate() error {
	if strings.TrimSpace(m.TargetField) == "" {
		return ErrMappingTargetRequired
	}
	if strings.TrimSpace(m.SourceField) == "" && !m.HasDefault() {
		return fmt.Errorf("%w: %s", ErrMappingSourceRequired, m.TargetField)
	}
	return nil
}

// ValidateFieldMappings checks every rule and enforces target field uniqueness
// within the enabled set.
func ValidateFieldMappings(mappings []FieldMapping) error {
	seen := make(map[string]struct{}, len(mappings))
	for i, m := range mappings {
		if err := m.Validate(); err != nil {
			return fmt.Errorf("mapping %d: %w", i, err)
		}
		if !m.Enabled {
			continue
		}
		if _, dup := seen[m.TargetField]; dup {
			return fmt.Errorf("%w: %s", ErrDuplicateTargetField, m.TargetField)
		}
		seen[m.TargetField] = struct{}{}
	}
	return nil
}

// EnabledMappings returns the enabled rules preserving their order
func EnabledMappings(mappings []FieldMapping) []FieldMapping {
	enabled := make([]FieldMapping, 0, len(mappings))
	for _, m := range mappings {
		if m.Enabled {
			enabled = append(enabled, m)
		}
	}
	return enabled
}

// NormalizeFieldMapping trims the textual attributes of a rule
func NormalizeFieldMapping(m FieldMapping) FieldMapping {
	m.SourceField = strings.TrimSpace(m.SourceField)
	m.TargetField = strings.TrimSpace(m.TargetField)
	m.Transform = TransformName(strings.TrimSpace(string(m.Transform)))
	return m
}
