package dto

import (
	"net/http"

	appdelivery "github.com/storefront/backend/internal/application/delivery"
	"github.com/storefront/backend/internal/domain/delivery"
	"github.com/storefront/backend/internal/domain/shared"
)

// General error codes
const (
	ErrCodeInternal     = "INTERNAL_ERROR"
	ErrCodeBadRequest   = "BAD_REQUEST"
	ErrCodeValidation   = "VALIDATION_ERROR"
	ErrCodeInvalidInput = shared.CodeInvalidInput
	ErrCodeRateLimited  = "RATE_LIMIT_EXCEEDED"
	ErrCodeTooLarge     = "REQUEST_TOO_LARGE"
)

// Domain error codes, as carried by shared.DomainError
const (
	ErrCodeNotFound       = shared.CodeNotFound
	ErrCodeAlreadyExists  = shared.CodeAlreadyExists
	ErrCodeInvalidState   = shared.CodeInvalidState
	ErrCodeBusinessRule   = shared.CodeBusinessRule
	ErrCodeOptimisticLock = shared.CodeOptimisticLock
	// ErrCodeCarrierFailed marks a recorded attempt the carrier did not accept
	ErrCodeCarrierFailed = "CARRIER_FAILED"
)

// ErrorCodeHTTPStatus maps error codes to HTTP status codes
var ErrorCodeHTTPStatus = map[string]int{
	ErrCodeInternal:     http.StatusInternalServerError,
	ErrCodeBadRequest:   http.StatusBadRequest,
	ErrCodeValidation:   http.StatusBadRequest,
	ErrCodeInvalidInput: http.StatusBadRequest,
	ErrCodeRateLimited:  http.StatusTooManyRequests,
	ErrCodeTooLarge:     http.StatusRequestEntityTooLarge,

	ErrCodeNotFound:       http.StatusNotFound,
	ErrCodeAlreadyExists:  http.StatusConflict,
	ErrCodeInvalidState:   http.StatusUnprocessableEntity,
	ErrCodeBusinessRule:   http.StatusUnprocessableEntity,
	ErrCodeCarrierFailed:  http.StatusBadGateway,
	ErrCodeOptimisticLock: http.StatusConflict,

	// Configuration problems are the caller's to fix
	delivery.CodeCarrierNotConfigured: http.StatusBadRequest,
	delivery.CodeDispatchInProgress:   http.StatusConflict,
	delivery.CodeDispatchTimeout:      http.StatusGatewayTimeout,
	appdelivery.CodeMappingInvalid:    http.StatusBadRequest,
}

// GetHTTPStatus returns the HTTP status code for an error code
// Returns 500 Internal Server Error if the error code is not found
func GetHTTPStatus(code string) int {
	if status, ok := ErrorCodeHTTPStatus[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}
