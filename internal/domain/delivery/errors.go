package delivery

import "github.com/storefront/backend/internal/domain/shared"

// ---------------------------------------------------------------------------
// Delivery Errors
// ---------------------------------------------------------------------------

// Error codes specific to the delivery context. Generic codes come from shared.
const (
	CodeCarrierNotConfigured = "CARRIER_NOT_CONFIGURED"
	CodeDispatchInProgress   = "DISPATCH_IN_PROGRESS"
	CodeDispatchTimeout      = "DISPATCH_TIMEOUT"
)

var (
	// Configuration errors, raised before any network call
	ErrCarrierNotConfigured = shared.NewDomainError(CodeCarrierNotConfigured, "delivery: carrier not configured")
	ErrCarrierInactive      = shared.NewDomainError(CodeCarrierNotConfigured, "delivery: carrier is inactive")
	ErrCredentialsUnusable  = shared.NewDomainError(CodeCarrierNotConfigured, "delivery: carrier credentials unusable")
	ErrUnsupportedAPIFormat = shared.NewDomainError(CodeCarrierNotConfigured, "delivery: no adapter for api format")

	// Entity validation errors
	ErrInvalidCompanyName    = shared.NewDomainError(shared.CodeInvalidInput, "delivery: company name is required")
	ErrInvalidAPIFormat      = shared.NewDomainError(shared.CodeInvalidInput, "delivery: invalid api format")
	ErrInvalidBaseURL        = shared.NewDomainError(shared.CodeInvalidInput, "delivery: invalid api base url")
	ErrAPIFormatLocked       = shared.NewDomainError(shared.CodeInvalidState, "delivery: api format can only change together with revalidated credentials")
	ErrMappingTargetRequired = shared.NewDomainError(shared.CodeInvalidInput, "delivery: field mapping target field is required")
	ErrMappingSourceRequired = shared.NewDomainError(shared.CodeInvalidInput, "delivery: field mapping needs a source field or a default value")
	ErrDuplicateTargetField  = shared.NewDomainError(shared.CodeInvalidInput, "delivery: duplicate target field among enabled mappings")
	ErrInvalidValueRule      = shared.NewDomainError(shared.CodeInvalidInput, "delivery: invalid value rule")
	ErrInvalidOrderID        = shared.NewDomainError(shared.CodeInvalidInput, "delivery: order id is required")
	ErrInvalidCompanyID      = shared.NewDomainError(shared.CodeInvalidInput, "delivery: company id is required")
	ErrInvalidDeliveryFee    = shared.NewDomainError(shared.CodeInvalidInput, "delivery: delivery fee cannot be negative")
	ErrInvalidDeliveryStatus = shared.NewDomainError(shared.CodeInvalidInput, "delivery: invalid delivery status")
	ErrInvalidQuoteInput     = shared.NewDomainError(shared.CodeInvalidInput, "delivery: weight and distance cannot be negative")
	ErrRegionNotSupported    = shared.NewDomainError(shared.CodeBusinessRule, "delivery: region not supported by carrier")

	// Lifecycle errors
	ErrInvalidStatusTransition   = shared.NewDomainError(shared.CodeInvalidState, "delivery: invalid status transition")
	ErrDeliveryAlreadyDispatched = shared.NewDomainError(shared.CodeAlreadyExists, "delivery: order already dispatched to this carrier, use resend")
	ErrNothingToResend           = shared.NewDomainError(shared.CodeNotFound, "delivery: no previous dispatch to resend")
	ErrDeliveryNotResendable     = shared.NewDomainError(shared.CodeInvalidState, "delivery: delivery order is not in a resendable state")
	ErrDispatchInProgress        = shared.NewDomainError(CodeDispatchInProgress, "delivery: another dispatch for this order and carrier is in progress")
	ErrDispatchStillRunning      = shared.NewDomainError(CodeDispatchTimeout, "delivery: request timed out, the carrier call is still running and will be recorded")

	// Lookup errors
	ErrDeliveryCompanyNotFound = shared.NewDomainError(shared.CodeNotFound, "delivery: delivery company not found")
	ErrDeliveryOrderNotFound   = shared.NewDomainError(shared.CodeNotFound, "delivery: delivery order not found")
	ErrOrderNotFound           = shared.NewDomainError(shared.CodeNotFound, "delivery: order not found")
)
