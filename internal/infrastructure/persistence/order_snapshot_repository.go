package persistence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/storefront/backend/internal/domain/delivery"
	"github.com/storefront/backend/internal/infrastructure/persistence/models"
)

// GormOrderSnapshotProvider reads order documents from the order_snapshots table
type GormOrderSnapshotProvider struct {
	db *gorm.DB
}

// NewGormOrderSnapshotProvider creates a new GormOrderSnapshotProvider
func NewGormOrderSnapshotProvider(db *gorm.DB) *GormOrderSnapshotProvider {
	return &GormOrderSnapshotProvider{db: db}
}

// Snapshot returns the nested order document
func (p *GormOrderSnapshotProvider) Snapshot(ctx context.Context, orderID string) (map[string]any, error) {
	var model models.OrderSnapshotModel
	if err := p.db.WithContext(ctx).First(&model, "order_id = ?", orderID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %s", delivery.ErrOrderNotFound, orderID)
		}
		return nil, err
	}
	doc, err := model.ToDocument()
	if err != nil {
		return nil, fmt.Errorf("decode snapshot of order %s: %w", orderID, err)
	}
	return doc, nil
}

// Put stores or replaces an order document
func (p *GormOrderSnapshotProvider) Put(ctx context.Context, orderID string, document map[string]any) error {
	raw, err := json.Marshal(document)
	if err != nil {
		return fmt.Errorf("encode snapshot of order %s: %w", orderID, err)
	}
	model := &models.OrderSnapshotModel{
		OrderID:   orderID,
		Document:  datatypes.JSON(raw),
		UpdatedAt: time.Now(),
	}
	return p.db.WithContext(ctx).Save(model).Error
}

// Ensure GormOrderSnapshotProvider implements OrderSnapshotProvider
var _ delivery.OrderSnapshotProvider = (*GormOrderSnapshotProvider)(nil)
