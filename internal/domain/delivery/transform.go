package delivery

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// TransformName identifies a value normalisation applied by a field mapping
type TransformName string

const (
	TransformNone          TransformName = ""
	TransformUppercase     TransformName = "uppercase"
	TransformLowercase     TransformName = "lowercase"
	TransformTrim          TransformName = "trim"
	TransformPhoneDigits   TransformName = "phone_digits"
	TransformPhoneLast10   TransformName = "phone_last10"
	TransformFullName      TransformName = "full_name"
	TransformFormatAddress TransformName = "format_address"
)

// IsKnown returns true if the transform has an implementation.
// Unknown names are kept on the mapping and behave as no transform.
func (t TransformName) IsKnown() bool {
	switch t {
	case TransformUppercase, TransformLowercase, TransformTrim, TransformPhoneDigits,
		TransformPhoneLast10, TransformFullName, TransformFormatAddress:
		return true
	default:
		return false
	}
}

// String returns the string representation of the transform name
func (t TransformName) String() string {
	return string(t)
}

// AllTransforms returns every known transform name
func AllTransforms() []TransformName {
	return []TransformName{
		TransformUppercase,
		TransformLowercase,
		TransformTrim,
		TransformPhoneDigits,
		TransformPhoneLast10,
		TransformFullName,
		TransformFormatAddress,
	}
}

// ApplyTransform runs the named transform on value.
// Unknown names return the value stringified and otherwise untouched.
func ApplyTransform(name TransformName, value any) string {
	switch name {
	case TransformUppercase:
		return Uppercase(value)
	case TransformLowercase:
		return Lowercase(value)
	case TransformTrim:
		return Trim(value)
	case TransformPhoneDigits:
		return PhoneDigits(value)
	case TransformPhoneLast10:
		return PhoneLast10(value)
	case TransformFullName:
		return FullName(value)
	case TransformFormatAddress:
		return FormatAddress(value)
	default:
		return Stringify(value)
	}
}

// Uppercase maps the value to upper case using Unicode rules
func Uppercase(value any) string {
	return cases.Upper(language.Und).String(Stringify(value))
}

// Lowercase maps the value to lower case using Unicode rules
func Lowercase(value any) string {
	return cases.Lower(language.Und).String(Stringify(value))
}

// Trim removes leading and trailing whitespace
func Trim(value any) string {
	return strings.TrimSpace(Stringify(value))
}

// PhoneDigits strips every character that is not an ASCII digit
func PhoneDigits(value any) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, Stringify(value))
}

// PhoneLast10 keeps the last ten digits of the phone number, or all of them if shorter
func PhoneLast10(value any) string {
	digits := PhoneDigits(value)
	if len(digits) <= 10 {
		return digits
	}
	return digits[len(digits)-10:]
}

var (
	firstNameKeys = []string{"firstName", "first_name", "firstname", "givenName"}
	lastNameKeys  = []string{"lastName", "last_name", "lastname", "familyName", "surname"}
	nameKeys      = []string{"fullName", "full_name", "name"}

	streetKeys  = []string{"street", "address", "addressLine1", "line1"}
	cityKeys    = []string{"city"}
	stateKeys   = []string{"state", "province", "region"}
	zipKeys     = []string{"zip", "zipCode", "postalCode", "postcode"}
	countryKeys = []string{"country"}
)

// FullName joins first and last name with a single space, skipping empty parts.
// Accepts an object carrying name keys, a list of parts, or a plain string.
func FullName(value any) string {
	switch v := value.(type) {
	case map[string]any:
		parts := joinNonEmpty(" ", firstOf(v, firstNameKeys), firstOf(v, lastNameKeys))
		if parts == "" {
			return strings.TrimSpace(firstOf(v, nameKeys))
		}
		return parts
	case []any:
		parts := make([]string, 0, len(v))
		for _, p := range v {
			parts = append(parts, Stringify(p))
		}
		return joinNonEmpty(" ", parts...)
	default:
		return joinNonEmpty(" ", strings.Fields(Stringify(value))...)
	}
}

// FormatAddress joins street, city, state, zip and country with ", ", skipping empty parts.
// Accepts an object carrying address keys or a plain string.
func FormatAddress(value any) string {
	v, ok := value.(map[string]any)
	if !ok {
		return strings.TrimSpace(Stringify(value))
	}
	return joinNonEmpty(", ",
		firstOf(v, streetKeys),
		firstOf(v, cityKeys),
		firstOf(v, stateKeys),
		firstOf(v, zipKeys),
		firstOf(v, countryKeys),
	)
}

// Stringify renders a snapshot value as a string. Nil becomes "".
func Stringify(value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return v
	case json.Number:
		return v.String()
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case bool:
		return strconv.FormatBool(v)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return fmt.Sprintf("%d", v)
	case fmt.Stringer:
		return v.String()
	case map[string]any, []any:
		b, err := json.Marshal(v)
		if err != nil {
			return ""
		}
		return string(b)
	default:
		return fmt.Sprint(v)
	}
}

func firstOf(m map[string]any, keys []string) string {
	for _, k := range keys {
		if s := strings.TrimSpace(Stringify(m[k])); s != "" {
			return s
		}
	}
	return ""
}

func joinNonEmpty(sep string, parts ...string) string {
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, sep)
}
