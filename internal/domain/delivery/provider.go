package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// ---------------------------------------------------------------------------
// ProviderAdapter port
// ---------------------------------------------------------------------------

// FailureKind classifies a failed send. Every transport maps onto these kinds
// so callers never branch on the carrier's API format.
type FailureKind string

const (
	FailureNone FailureKind = ""
	// FailureTransport covers network errors and timeouts
	FailureTransport FailureKind = "transport"
	// FailureRejected is a well-formed failure response from the carrier
	FailureRejected FailureKind = "carrier_rejected"
	// FailureUnexpectedShape is a response that is neither clear success nor clear failure
	FailureUnexpectedShape FailureKind = "unexpected_shape"
)

// SendRequest is everything an adapter needs for one carrier call
type SendRequest struct {
	CompanyID   uuid.UUID
	OrderID     string
	BaseURL     string
	Payload     map[string]any
	Credentials *Credentials
}

// SendResult is the normalised outcome of one carrier call
type SendResult struct {
	Success         bool
	ExternalOrderID string
	ExternalStatus  string
	TrackingNumber  string
	RawResponse     string
	StatusCode      int
	ErrorMessage    string
	FailureKind     FailureKind
	Duration        time.Duration
}

// Failed builds a failure result
func Failed(kind FailureKind, statusCode int, raw, message string) *SendResult {
	return &SendResult{
		Success:      false,
		StatusCode:   statusCode,
		RawResponse:  raw,
		ErrorMessage: message,
		FailureKind:  kind,
	}
}

// ProviderAdapter sends a mapped payload to one kind of carrier API.
// Send never returns transport problems as Go errors; they are folded into
// a failed SendResult.
type ProviderAdapter interface {
	Format() APIFormat
	Send(ctx context.Context, req *SendRequest) *SendResult
}

// AdapterRegistry selects the adapter for an API format
type AdapterRegistry interface {
	Adapter(format APIFormat) (ProviderAdapter, error)
}
