package shared

import (
	"time"

	"github.com/google/uuid"
)

// DomainEvent is something that happened to an aggregate
type DomainEvent interface {
	EventID() uuid.UUID
	EventType() string
	OccurredAt() time.Time
	AggregateID() uuid.UUID
	AggregateType() string
	SchemaVersion() int
}

// BaseDomainEvent carries the envelope fields of every event
type BaseDomainEvent struct {
	ID        uuid.UUID `json:"id"`
	Type      string    `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	AggID     uuid.UUID `json:"aggregate_id"`
	AggType   string    `json:"aggregate_type"`
	Version   int       `json:"schema_version"`
}

// EventID returns the unique event identifier
func (e *BaseDomainEvent) EventID() uuid.UUID { return e.ID }

// EventType returns the type of the event
func (e *BaseDomainEvent) EventType() string { return e.Type }

// OccurredAt returns when the event occurred
func (e *BaseDomainEvent) OccurredAt() time.Time { return e.Timestamp }

// AggregateID returns the ID of the aggregate that produced this event
func (e *BaseDomainEvent) AggregateID() uuid.UUID { return e.AggID }

// AggregateType returns the type of the aggregate
func (e *BaseDomainEvent) AggregateType() string { return e.AggType }

// SchemaVersion returns the payload version, 1 when unset
func (e *BaseDomainEvent) SchemaVersion() int {
	if e.Version == 0 {
		return 1
	}
	return e.Version
}

// NewBaseDomainEvent creates an envelope at schema version 1
func NewBaseDomainEvent(eventType, aggType string, aggID uuid.UUID, at time.Time) BaseDomainEvent {
	return BaseDomainEvent{
		ID:        uuid.New(),
		Type:      eventType,
		Timestamp: at,
		AggID:     aggID,
		AggType:   aggType,
		Version:   1,
	}
}
