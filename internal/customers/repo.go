package customers

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
)

// Repository reads account holders and stores their gateway customer ids.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to customer lookups.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Get loads a customer by id.
func (r *Repository) Get(ctx context.Context, id uint64) (*models.Customer, error) {
	var customer models.Customer
	if err := r.db.WithContext(ctx).First(&customer, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found").
				WithDetails(map[string]any{"customer_id": id})
		}
		return nil, err
	}
	return &customer, nil
}

// SetGatewayCustomerID records the gateway's id for the customer if none is
// stored yet.
func (r *Repository) SetGatewayCustomerID(ctx context.Context, id uint64, gatewayID string) error {
	return r.db.WithContext(ctx).
		Model(&models.Customer{}).
		Where("id = ? AND gateway_customer_id IS NULL", id).
		Update("gateway_customer_id", gatewayID).Error
}
