package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storefront/backend/internal/domain/delivery"
	"github.com/storefront/backend/internal/domain/shared"
	"github.com/storefront/backend/internal/infrastructure/persistence/models"
)

// GormDeliveryOrderRepository implements DeliveryOrderRepository using GORM
type GormDeliveryOrderRepository struct {
	db *gorm.DB
}

// NewGormDeliveryOrderRepository creates a new GormDeliveryOrderRepository
func NewGormDeliveryOrderRepository(db *gorm.DB) *GormDeliveryOrderRepository {
	return &GormDeliveryOrderRepository{db: db}
}

// FindByID finds a delivery order by its ID
func (r *GormDeliveryOrderRepository) FindByID(ctx context.Context, id uuid.UUID) (*delivery.DeliveryOrder, error) {
	var model models.DeliveryOrderModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, delivery.ErrDeliveryOrderNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// FindByOrderAndCompany finds the dispatch lineage of one (order, carrier) pair
func (r *GormDeliveryOrderRepository) FindByOrderAndCompany(ctx context.Context, orderID string, companyID uuid.UUID) (*delivery.DeliveryOrder, error) {
	var model models.DeliveryOrderModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ? AND company_id = ?", orderID, companyID).
		First(&model).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, delivery.ErrDeliveryOrderNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// FindByOrderID lists every carrier lineage of an order, oldest first
func (r *GormDeliveryOrderRepository) FindByOrderID(ctx context.Context, orderID string) ([]delivery.DeliveryOrder, error) {
	var rows []models.DeliveryOrderModel
	if err := r.db.WithContext(ctx).
		Where("order_id = ?", orderID).
		Order("created_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}

	orders := make([]delivery.DeliveryOrder, 0, len(rows))
	for i := range rows {
		o, err := rows[i].ToDomain()
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, nil
}

// Save creates or updates a delivery order. A second row for the same pair
// is rejected by the unique index and reported as already dispatched.
// Updates are conditional on the loaded version; a stale copy fails with
// shared.ErrOptimisticLock and leaves the stored row untouched.
func (r *GormDeliveryOrderRepository) Save(ctx context.Context, order *delivery.DeliveryOrder) error {
	if err := order.CheckHistory(); err != nil {
		return err
	}
	model, err := models.DeliveryOrderModelFromDomain(order)
	if err != nil {
		return fmt.Errorf("map delivery order: %w", err)
	}

	db := r.db.WithContext(ctx)
	var existing int64
	if err := db.Model(&models.DeliveryOrderModel{}).Where("id = ?", model.ID).Count(&existing).Error; err != nil {
		return err
	}
	if existing > 0 {
		model.Version = order.Version + 1
		result := db.Model(model).
			Where("version = ?", order.Version).
			Select("*").Omit("created_at").
			Updates(model)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return shared.ErrOptimisticLock
		}
		order.IncrementVersion()
		return nil
	}

	if model.Version < 1 {
		model.Version = 1
	}
	// plain insert so every driver reports the pair conflict instead of upserting
	if err := db.Create(model).Error; err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return delivery.ErrDeliveryAlreadyDispatched
		}
		return err
	}
	order.Version = model.Version
	return nil
}

// Ensure GormDeliveryOrderRepository implements DeliveryOrderRepository
var _ delivery.DeliveryOrderRepository = (*GormDeliveryOrderRepository)(nil)
