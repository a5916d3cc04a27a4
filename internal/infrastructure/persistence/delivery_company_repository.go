package persistence

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/storefront/backend/internal/domain/delivery"
	"github.com/storefront/backend/internal/infrastructure/persistence/models"
)

// GormDeliveryCompanyRepository implements DeliveryCompanyRepository using GORM
type GormDeliveryCompanyRepository struct {
	db *gorm.DB
}

// NewGormDeliveryCompanyRepository creates a new GormDeliveryCompanyRepository
func NewGormDeliveryCompanyRepository(db *gorm.DB) *GormDeliveryCompanyRepository {
	return &GormDeliveryCompanyRepository{db: db}
}

// FindByID finds a delivery company by its ID
func (r *GormDeliveryCompanyRepository) FindByID(ctx context.Context, id uuid.UUID) (*delivery.DeliveryCompany, error) {
	var model models.DeliveryCompanyModel
	if err := r.db.WithContext(ctx).First(&model, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, delivery.ErrDeliveryCompanyNotFound
		}
		return nil, err
	}
	return model.ToDomain()
}

// Save creates or updates a delivery company
func (r *GormDeliveryCompanyRepository) Save(ctx context.Context, company *delivery.DeliveryCompany) error {
	model, err := models.DeliveryCompanyModelFromDomain(company)
	if err != nil {
		return fmt.Errorf("map delivery company: %w", err)
	}
	return r.db.WithContext(ctx).Save(model).Error
}

// Ensure GormDeliveryCompanyRepository implements DeliveryCompanyRepository
var _ delivery.DeliveryCompanyRepository = (*GormDeliveryCompanyRepository)(nil)
