package delivery

import (
	"fmt"
	"regexp"
	"strings"
	"unicode"

	"github.com/shopspring/decimal"
)

// ---------------------------------------------------------------------------
// Validation result
// ---------------------------------------------------------------------------

// MissingField describes a required rule that produced no value
type MissingField struct {
	SourceField     string `json:"sourceField"`
	TargetField     string `json:"targetField"`
	HasDefaultValue bool   `json:"hasDefaultValue"`
	Description     string `json:"description"`
}

// InvalidField describes a source value that failed its target's value rule
type InvalidField struct {
	SourceField string `json:"sourceField"`
	TargetField string `json:"targetField"`
	Value       any    `json:"value"`
	Reason      string `json:"reason"`
}

// MappingValidationResult is produced fresh on every validation and never persisted
type MappingValidationResult struct {
	IsValid       bool           `json:"isValid"`
	MissingFields []MissingField `json:"missingFields"`
	InvalidFields []InvalidField `json:"invalidFields"`
	Errors        []string       `json:"errors"`
}

// ---------------------------------------------------------------------------
// Value rules
// ---------------------------------------------------------------------------

// ValueRuleKind selects the shape check applied to a target field
type ValueRuleKind string

const (
	ValueRulePhone     ValueRuleKind = "phone"
	ValueRuleEmail     ValueRuleKind = "email"
	ValueRuleNumeric   ValueRuleKind = "numeric"
	ValueRulePattern   ValueRuleKind = "pattern"
	ValueRuleMinLength ValueRuleKind = "min_length"
)

// DefaultPhoneMinDigits is the digit floor for phone-like targets
const DefaultPhoneMinDigits = 7

// IsValid returns true if the rule kind is valid
func (k ValueRuleKind) IsValid() bool {
	switch k {
	case ValueRulePhone, ValueRuleEmail, ValueRuleNumeric, ValueRulePattern, ValueRuleMinLength:
		return true
	default:
		return false
	}
}

// ValueRule is a per-target shape check configured on a carrier
type ValueRule struct {
	TargetField string
	Kind        ValueRuleKind
	MinDigits   int
	MinLength   int
	Pattern     string
}

// Validate checks the rule definition itself
func (r ValueRule) Validate() error {
	if strings.TrimSpace(r.TargetField) == "" {
		return fmt.Errorf("%w: target field is required", ErrInvalidValueRule)
	}
	if !r.Kind.IsValid() {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidValueRule, r.Kind)
	}
	if r.Kind == ValueRulePattern {
		if _, err := regexp.Compile(r.Pattern); err != nil || r.Pattern == "" {
			return fmt.Errorf("%w: bad pattern for %s", ErrInvalidValueRule, r.TargetField)
		}
	}
	if r.MinDigits < 0 || r.MinLength < 0 {
		return fmt.Errorf("%w: negative bound for %s", ErrInvalidValueRule, r.TargetField)
	}
	return nil
}

var emailPattern = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)

type compiledRule struct {
	ValueRule
	re *regexp.Regexp
}

// check returns an empty reason when the value passes
func (r compiledRule) check(value any) string {
	s := Stringify(value)
	switch r.Kind {
	case ValueRulePhone:
		minDigits := r.MinDigits
		if minDigits == 0 {
			minDigits = DefaultPhoneMinDigits
		}
		if n := len(PhoneDigits(s)); n < minDigits {
			return fmt.Sprintf("expected at least %d digits, got %d", minDigits, n)
		}
	case ValueRuleEmail:
		if !emailPattern.MatchString(strings.TrimSpace(s)) {
			return "expected an email address"
		}
	case ValueRuleNumeric:
		if _, err := decimal.NewFromString(strings.TrimSpace(s)); err != nil {
			return "expected a number"
		}
	case ValueRulePattern:
		if r.re != nil && !r.re.MatchString(s) {
			return fmt.Sprintf("does not match pattern %s", r.Pattern)
		}
	case ValueRuleMinLength:
		if n := len([]rune(strings.TrimSpace(s))); n < r.MinLength {
			return fmt.Sprintf("expected at least %d characters, got %d", r.MinLength, n)
		}
	}
	return ""
}

// DefaultValuePolicy supplies the rule used when a carrier configures none for
// a target: phone-like targets need DefaultPhoneMinDigits digits. "tel" only
// counts as a whole word so that names like hotel_name are left alone.
func DefaultValuePolicy(targetField string) (ValueRule, bool) {
	lower := strings.ToLower(targetField)
	if strings.Contains(lower, "phone") || strings.Contains(lower, "mobile") || hasNameWord(targetField, "tel") {
		return ValueRule{TargetField: targetField, Kind: ValueRulePhone, MinDigits: DefaultPhoneMinDigits}, true
	}
	return ValueRule{}, false
}

// hasNameWord reports whether a snake, kebab, dotted or camel case name
// contains word, compared case-insensitively.
func hasNameWord(name, word string) bool {
	var b strings.Builder
	prevLower := false
	for _, r := range name {
		switch {
		case unicode.IsUpper(r):
			if prevLower {
				b.WriteByte(' ')
			}
			b.WriteRune(unicode.ToLower(r))
			prevLower = false
		case unicode.IsLetter(r) || unicode.IsDigit(r):
			b.WriteRune(r)
			prevLower = true
		default:
			b.WriteByte(' ')
			prevLower = false
		}
	}
	for _, w := range strings.Fields(b.String()) {
		if w == word {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// MappingValidator
// ---------------------------------------------------------------------------

// MappingValidator decides send-eligibility from mapping diagnostics
type MappingValidator struct {
	rules map[string]compiledRule
}

// NewMappingValidator builds a validator from carrier-specific rules.
// Rules that fail Validate are ignored; carriers validate them on save.
func NewMappingValidator(rules []ValueRule) *MappingValidator {
	v := &MappingValidator{rules: make(map[string]compiledRule, len(rules))}
	for _, r := range rules {
		if r.Validate() != nil {
			continue
		}
		cr := compiledRule{ValueRule: r}
		if r.Kind == ValueRulePattern {
			cr.re = regexp.MustCompile(r.Pattern)
		}
		v.rules[strings.ToLower(r.TargetField)] = cr
	}
	return v
}

func (v *MappingValidator) ruleFor(target string) (compiledRule, bool) {
	if r, ok := v.rules[strings.ToLower(target)]; ok {
		return r, true
	}
	if r, ok := DefaultValuePolicy(target); ok {
		return compiledRule{ValueRule: r}, true
	}
	return compiledRule{}, false
}

// Validate classifies missing and invalid fields. Non-required rules never
// make the result invalid by being empty.
func (v *MappingValidator) Validate(outcome *MappingOutcome) *MappingValidationResult {
	result := &MappingValidationResult{
		MissingFields: make([]MissingField, 0),
		InvalidFields: make([]InvalidField, 0),
		Errors:        make([]string, 0),
	}

	for _, d := range outcome.Diagnostics {
		if d.Required && !d.Present {
			desc := d.Description
			if desc == "" {
				desc = fmt.Sprintf("required field %s has no value from %s", d.TargetField, d.SourceField)
			}
			result.MissingFields = append(result.MissingFields, MissingField{
				SourceField:     d.SourceField,
				TargetField:     d.TargetField,
				HasDefaultValue: d.HasDefault,
				Description:     desc,
			})
			result.Errors = append(result.Errors, desc)
			continue
		}

		if !d.ResolvedFromSource || d.ResolvedFromCustomField {
			continue
		}
		rule, ok := v.ruleFor(d.TargetField)
		if !ok {
			continue
		}
		if reason := rule.check(d.FinalValue); reason != "" {
			result.InvalidFields = append(result.InvalidFields, InvalidField{
				SourceField: d.SourceField,
				TargetField: d.TargetField,
				Value:       d.FinalValue,
				Reason:      reason,
			})
			result.Errors = append(result.Errors, fmt.Sprintf("field %s: %s", d.TargetField, reason))
		}
	}

	result.IsValid = len(result.MissingFields) == 0 && len(result.InvalidFields) == 0
	return result
}
