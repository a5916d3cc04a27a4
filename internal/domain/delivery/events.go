package delivery

import (
	"github.com/google/uuid"

	"github.com/storefront/backend/internal/domain/shared"
)

// EventTypeAttemptRecorded is published after each persisted dispatch attempt
const EventTypeAttemptRecorded = "delivery.attempt_recorded"

// AggregateTypeDeliveryOrder names DeliveryOrder in event envelopes
const AggregateTypeDeliveryOrder = "DeliveryOrder"

// AttemptRecordedEvent describes one persisted dispatch attempt
type AttemptRecordedEvent struct {
	shared.BaseDomainEvent
	OrderID         string         `json:"order_id"`
	CompanyID       uuid.UUID      `json:"company_id"`
	APIFormat       APIFormat      `json:"api_format"`
	AttemptNumber   int            `json:"attempt_number"`
	IsResend        bool           `json:"is_resend"`
	Success         bool           `json:"success"`
	Status          DeliveryStatus `json:"status"`
	ExternalStatus  string         `json:"external_status,omitempty"`
	ExternalOrderID string         `json:"external_order_id,omitempty"`
	TrackingNumber  string         `json:"tracking_number"`
	FailureKind     FailureKind    `json:"failure_kind,omitempty"`
}

// NewAttemptRecordedEvent builds the event for the order's latest attempt.
// The aggregate is the delivery order; it occurred when the order was last updated.
func NewAttemptRecordedEvent(order *DeliveryOrder, format APIFormat, isResend bool, result *SendResult) *AttemptRecordedEvent {
	return &AttemptRecordedEvent{
		BaseDomainEvent: shared.NewBaseDomainEvent(EventTypeAttemptRecorded, AggregateTypeDeliveryOrder, order.ID, order.UpdatedAt),
		OrderID:         order.OrderID,
		CompanyID:       order.CompanyID,
		APIFormat:       format,
		AttemptNumber:   order.ResendAttempts,
		IsResend:        isResend,
		Success:         result.Success,
		Status:          order.Status,
		ExternalStatus:  order.ExternalStatus,
		ExternalOrderID: order.ExternalOrderID,
		TrackingNumber:  order.TrackingNumber,
		FailureKind:     result.FailureKind,
	}
}

// Ensure AttemptRecordedEvent implements DomainEvent
var _ shared.DomainEvent = (*AttemptRecordedEvent)(nil)
