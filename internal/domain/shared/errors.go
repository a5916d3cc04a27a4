package shared

// Common domain error codes
const (
	CodeNotFound       = "NOT_FOUND"
	CodeAlreadyExists  = "ALREADY_EXISTS"
	CodeInvalidInput   = "INVALID_INPUT"
	CodeInvalidState   = "INVALID_STATE"
	CodeBusinessRule   = "BUSINESS_RULE"
	CodeOptimisticLock = "OPTIMISTIC_LOCK_FAILED"
)

// DomainError represents a domain-level error
type DomainError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface
func (e *DomainError) Error() string {
	return e.Message
}

// NewDomainError creates a new domain error
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// Common domain errors
var (
	ErrNotFound       = NewDomainError(CodeNotFound, "Resource not found")
	ErrInvalidInput   = NewDomainError(CodeInvalidInput, "Invalid input provided")
	ErrInvalidState   = NewDomainError(CodeInvalidState, "Operation not allowed in current state")
	ErrOptimisticLock = NewDomainError(CodeOptimisticLock, "Record was modified by another transaction")
)
