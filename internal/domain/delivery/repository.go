package delivery

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// DeliveryCompanyRepository persists carrier configuration
type DeliveryCompanyRepository interface {
	// FindByID returns ErrDeliveryCompanyNotFound when the carrier does not exist
	FindByID(ctx context.Context, id uuid.UUID) (*DeliveryCompany, error)
	Save(ctx context.Context, company *DeliveryCompany) error
}

// DeliveryOrderRepository persists dispatch lineages
type DeliveryOrderRepository interface {
	// FindByID returns ErrDeliveryOrderNotFound when the record does not exist
	FindByID(ctx context.Context, id uuid.UUID) (*DeliveryOrder, error)
	// FindByOrderAndCompany returns ErrDeliveryOrderNotFound when the pair was never dispatched
	FindByOrderAndCompany(ctx context.Context, orderID string, companyID uuid.UUID) (*DeliveryOrder, error)
	FindByOrderID(ctx context.Context, orderID string) ([]DeliveryOrder, error)
	Save(ctx context.Context, order *DeliveryOrder) error
}

// OrderSnapshotProvider returns the nested order document used as mapping input.
// It returns ErrOrderNotFound for unknown orders.
type OrderSnapshotProvider interface {
	Snapshot(ctx context.Context, orderID string) (map[string]any, error)
}

// CredentialResolver decrypts a carrier's credentials for a single dispatch.
// Callers own the returned value and should Wipe it when done.
type CredentialResolver interface {
	Resolve(ctx context.Context, companyID uuid.UUID) (*Credentials, error)
}

// DispatchLocker serialises dispatch attempts for the same (order, carrier) pair
type DispatchLocker interface {
	// TryLock returns a release token, or ok=false when the key is already held
	TryLock(ctx context.Context, key string, ttl time.Duration) (token string, ok bool, err error)
	// Unlock releases the key only if token still owns it
	Unlock(ctx context.Context, key, token string) error
}

// AttemptEventPublisher announces every recorded dispatch attempt
type AttemptEventPublisher interface {
	PublishAttemptRecorded(ctx context.Context, event *AttemptRecordedEvent) error
}
