package dto

import (
	"github.com/storefront/backend/internal/domain/delivery"
)

// Response represents a standard API response
type Response struct {
	Success bool       `json:"success"`
	Data    any        `json:"data,omitempty"`
	Error   *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo represents error details
type ErrorInfo struct {
	Code      string             `json:"code"`
	Message   string             `json:"message"`
	RequestID string             `json:"request_id,omitempty"`
	Details   []ValidationDetail `json:"details,omitempty"`
}

// ValidationDetail describes one rejected request field
type ValidationDetail struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// NewSuccessResponse creates a success response
func NewSuccessResponse(data any) Response {
	return Response{
		Success: true,
		Data:    data,
	}
}

// NewErrorResponse creates an error response
func NewErrorResponse(code, message string) Response {
	return Response{
		Success: false,
		Error: &ErrorInfo{
			Code:    code,
			Message: message,
		},
	}
}

// NewErrorResponseWithRequestID creates an error response tagged with the request id
func NewErrorResponseWithRequestID(code, message, requestID string) Response {
	resp := NewErrorResponse(code, message)
	resp.Error.RequestID = requestID
	return resp
}

// NewValidationErrorResponse creates a 400 body listing the rejected fields
func NewValidationErrorResponse(message, requestID string, details []ValidationDetail) Response {
	resp := NewErrorResponseWithRequestID(ErrCodeValidation, message, requestID)
	resp.Error.Details = details
	return resp
}

// MappingErrorResponse is returned when a mapped order is not send-eligible
type MappingErrorResponse struct {
	Success       bool                    `json:"success"`
	Error         *ErrorInfo              `json:"error"`
	Errors        []string                `json:"errors"`
	MissingFields []delivery.MissingField `json:"missingFields"`
	InvalidFields []delivery.InvalidField `json:"invalidFields"`
}

// NewMappingErrorResponse flattens a validation result into the error body
func NewMappingErrorResponse(code, requestID string, result *delivery.MappingValidationResult) MappingErrorResponse {
	resp := MappingErrorResponse{
		Success:       false,
		Error:         &ErrorInfo{Code: code, Message: "Field mapping validation failed", RequestID: requestID},
		Errors:        []string{},
		MissingFields: []delivery.MissingField{},
		InvalidFields: []delivery.InvalidField{},
	}
	if result != nil {
		resp.Errors = result.Errors
		resp.MissingFields = result.MissingFields
		resp.InvalidFields = result.InvalidFields
	}
	return resp
}
