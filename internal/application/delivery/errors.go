package delivery

import (
	"strings"

	"github.com/storefront/backend/internal/domain/delivery"
)

// CodeMappingInvalid marks a dispatch blocked by mapping validation
const CodeMappingInvalid = "MAPPING_INVALID"

// MappingValidationError is returned by Dispatch when the mapped payload is not
// send-eligible. Nothing was sent or persisted.
type MappingValidationError struct {
	Result *delivery.MappingValidationResult
}

func (e *MappingValidationError) Error() string {
	if e.Result == nil || len(e.Result.Errors) == 0 {
		return "delivery: field mapping validation failed"
	}
	return "delivery: field mapping validation failed: " + strings.Join(e.Result.Errors, "; ")
}

// Code returns the error code used in API responses
func (e *MappingValidationError) Code() string {
	return CodeMappingInvalid
}
