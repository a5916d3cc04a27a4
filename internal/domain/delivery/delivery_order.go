package delivery

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/storefront/backend/internal/domain/shared"
)

// ---------------------------------------------------------------------------
// DeliveryStatus
// ---------------------------------------------------------------------------

// DeliveryStatus is the internal lifecycle of a delivery order
type DeliveryStatus string

const (
	DeliveryStatusPending        DeliveryStatus = "pending"
	DeliveryStatusSent           DeliveryStatus = "sent"
	DeliveryStatusAcknowledged   DeliveryStatus = "acknowledged"
	DeliveryStatusRejected       DeliveryStatus = "rejected"
	DeliveryStatusInTransit      DeliveryStatus = "in_transit"
	DeliveryStatusDelivered      DeliveryStatus = "delivered"
	DeliveryStatusDeliveryFailed DeliveryStatus = "delivery_failed"
	DeliveryStatusReturned       DeliveryStatus = "returned"
	DeliveryStatusCancelled      DeliveryStatus = "cancelled"
)

var deliveryTransitions = map[DeliveryStatus][]DeliveryStatus{
	DeliveryStatusPending:        {DeliveryStatusSent},
	DeliveryStatusSent:           {DeliveryStatusAcknowledged, DeliveryStatusRejected},
	DeliveryStatusAcknowledged:   {DeliveryStatusInTransit, DeliveryStatusDeliveryFailed},
	DeliveryStatusInTransit:      {DeliveryStatusDelivered, DeliveryStatusDeliveryFailed},
	DeliveryStatusRejected:       {DeliveryStatusSent},
	DeliveryStatusDeliveryFailed: {DeliveryStatusReturned, DeliveryStatusSent},
}

// IsValid returns true if the status is valid
func (s DeliveryStatus) IsValid() bool {
	switch s {
	case DeliveryStatusPending, DeliveryStatusSent, DeliveryStatusAcknowledged, DeliveryStatusRejected,
		DeliveryStatusInTransit, DeliveryStatusDelivered, DeliveryStatusDeliveryFailed,
		DeliveryStatusReturned, DeliveryStatusCancelled:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status
func (s DeliveryStatus) String() string {
	return string(s)
}

// IsResendable reports whether a new attempt may start from this status
func (s DeliveryStatus) IsResendable() bool {
	return s == DeliveryStatusRejected || s == DeliveryStatusDeliveryFailed
}

// CanTransitionTo reports whether the lifecycle allows moving to target.
// Every status except cancelled itself may move to cancelled.
func (s DeliveryStatus) CanTransitionTo(target DeliveryStatus) bool {
	if target == DeliveryStatusCancelled {
		return s != DeliveryStatusCancelled
	}
	for _, next := range deliveryTransitions[s] {
		if next == target {
			return true
		}
	}
	return false
}

// ---------------------------------------------------------------------------
// ResendEntry
// ---------------------------------------------------------------------------

// ResendEntry is one appended resend attempt. Entries are never modified.
type ResendEntry struct {
	AttemptNumber  int            `json:"attemptNumber"`
	Timestamp      time.Time      `json:"timestamp"`
	RawResponse    string         `json:"rawResponse"`
	Status         DeliveryStatus `json:"status"`
	ExternalStatus string         `json:"externalStatus,omitempty"`
	Success        bool           `json:"success"`
	Notes          string         `json:"notes,omitempty"`
}

// ---------------------------------------------------------------------------
// DeliveryOrder Aggregate
// ---------------------------------------------------------------------------

// DeliveryOrder is the dispatch lineage of one (order, carrier) pair
type DeliveryOrder struct {
	shared.BaseAggregateRoot
	OrderID        string
	CompanyID      uuid.UUID
	TrackingNumber string
	// TrackingIsLocal is true while the tracking number was generated here
	TrackingIsLocal bool
	Status          DeliveryStatus
	ExternalStatus  string
	ExternalOrderID string
	DeliveryFee     decimal.Decimal
	ResendAttempts  int
	LastResendAt    *time.Time
	ResendHistory   []ResendEntry
	LastResponse    string
	LastError       string
}

// NewDeliveryOrder creates a pending delivery order for the pair
func NewDeliveryOrder(orderID string, companyID uuid.UUID, fee decimal.Decimal) (*DeliveryOrder, error) {
	if strings.TrimSpace(orderID) == "" {
		return nil, ErrInvalidOrderID
	}
	if companyID == uuid.Nil {
		return nil, ErrInvalidCompanyID
	}
	if fee.IsNegative() {
		return nil, ErrInvalidDeliveryFee
	}

	return &DeliveryOrder{
		BaseAggregateRoot: shared.NewBaseAggregateRoot(),
		OrderID:           orderID,
		CompanyID:         companyID,
		Status:            DeliveryStatusPending,
		DeliveryFee:       fee,
		ResendHistory:     make([]ResendEntry, 0),
	}, nil
}

// DispatchKey identifies the (order, carrier) pair for serialisation
func DispatchKey(orderID string, companyID uuid.UUID) string {
	return orderID + ":" + companyID.String()
}

// Key returns the dispatch key of this delivery order
func (o *DeliveryOrder) Key() string {
	return DispatchKey(o.OrderID, o.CompanyID)
}

// TransitionTo moves the order along its lifecycle
func (o *DeliveryOrder) TransitionTo(target DeliveryStatus) error {
	if !target.IsValid() {
		return ErrInvalidDeliveryStatus
	}
	if !o.Status.CanTransitionTo(target) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidStatusTransition, o.Status, target)
	}
	o.Status = target
	o.UpdatedAt = time.Now()
	return nil
}

// Cancel moves the order to cancelled from any other status
func (o *DeliveryOrder) Cancel() error {
	return o.TransitionTo(DeliveryStatusCancelled)
}

// AdvanceCarrierStatus applies a carrier-reported status. Sent is only
// entered through BeginAttempt and cancellation through Cancel, so pending,
// sent and cancelled are not accepted here.
func (o *DeliveryOrder) AdvanceCarrierStatus(target DeliveryStatus) error {
	switch target {
	case DeliveryStatusPending, DeliveryStatusSent, DeliveryStatusCancelled:
		return fmt.Errorf("%w: %s is not a carrier status", ErrInvalidStatusTransition, target)
	}
	return o.TransitionTo(target)
}

// BeginAttempt enters sent for a new attempt. The first attempt starts from
// pending, resends from a resendable status.
func (o *DeliveryOrder) BeginAttempt() error {
	if o.Status != DeliveryStatusPending && !o.Status.IsResendable() {
		return fmt.Errorf("%w: status %s", ErrDeliveryNotResendable, o.Status)
	}
	return o.TransitionTo(DeliveryStatusSent)
}

// ApplyOutcome settles an attempt that is in sent: acknowledged on success,
// rejected otherwise. The carrier's identifiers replace earlier ones when given.
func (o *DeliveryOrder) ApplyOutcome(result *SendResult, now time.Time) error {
	target := DeliveryStatusRejected
	if result.Success {
		target = DeliveryStatusAcknowledged
	}
	if err := o.TransitionTo(target); err != nil {
		return err
	}

	if result.ExternalOrderID != "" {
		o.ExternalOrderID = result.ExternalOrderID
	}
	if result.ExternalStatus != "" {
		o.ExternalStatus = result.ExternalStatus
	}
	o.assignTrackingNumber(result, now)
	o.LastResponse = result.RawResponse
	o.LastError = result.ErrorMessage
	o.UpdatedAt = now
	return nil
}

// RecordResend appends the history entry of a settled resend attempt
func (o *DeliveryOrder) RecordResend(result *SendResult, notes string, now time.Time) {
	o.ResendAttempts++
	o.ResendHistory = append(o.ResendHistory, ResendEntry{
		AttemptNumber:  o.ResendAttempts,
		Timestamp:      now,
		RawResponse:    result.RawResponse,
		Status:         o.Status,
		ExternalStatus: result.ExternalStatus,
		Success:        result.Success,
		Notes:          notes,
	})
	o.LastResendAt = &now
	o.UpdatedAt = now
}

// SetExternalStatus records the carrier's own status vocabulary
func (o *DeliveryOrder) SetExternalStatus(status string) {
	o.ExternalStatus = status
	o.UpdatedAt = time.Now()
}

// CheckHistory verifies the resend history invariants
func (o *DeliveryOrder) CheckHistory() error {
	if len(o.ResendHistory) != o.ResendAttempts {
		return fmt.Errorf("delivery: history length %d does not match %d resend attempts", len(o.ResendHistory), o.ResendAttempts)
	}
	for i := 1; i < len(o.ResendHistory); i++ {
		if o.ResendHistory[i].AttemptNumber <= o.ResendHistory[i-1].AttemptNumber {
			return fmt.Errorf("delivery: resend attempt numbers not increasing at entry %d", i)
		}
	}
	return nil
}

func (o *DeliveryOrder) assignTrackingNumber(result *SendResult, now time.Time) {
	carrierNumber := result.TrackingNumber
	if carrierNumber == "" {
		carrierNumber = result.ExternalOrderID
	}
	switch {
	case carrierNumber != "":
		o.TrackingNumber = carrierNumber
		o.TrackingIsLocal = false
	case o.TrackingNumber == "":
		o.TrackingNumber = GenerateTrackingNumber(now)
		o.TrackingIsLocal = true
	}
}

// GenerateTrackingNumber builds a local tracking number: DLV-YYYYMMDD-XXXXXXXX
func GenerateTrackingNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return fmt.Sprintf("DLV-%s-%s", now.Format("20060102"), suffix)
}
