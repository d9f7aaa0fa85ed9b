package employees

import (
	"context"
	"errors"

	"gorm.io/gorm"

	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
)

// Repository reads back-office staff rows.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to employee lookups.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Get loads an employee by id. Pass tx to read inside a ledger transaction.
func (r *Repository) Get(ctx context.Context, tx *gorm.DB, id uint64) (*models.Employee, error) {
	conn := tx
	if conn == nil {
		conn = r.db.WithContext(ctx)
	}
	var employee models.Employee
	if err := conn.First(&employee, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "employee not found").
				WithDetails(map[string]any{"employee_id": id})
		}
		return nil, err
	}
	return &employee, nil
}
