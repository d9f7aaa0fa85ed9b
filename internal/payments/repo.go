package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/gridpay-backend/pkg/db"
	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
)

// Repository persists ledger rows.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to ledger persistence.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

// Create inserts a ledger row. Unique-index violations surface as Conflict.
func (r *Repository) Create(ctx context.Context, tx *gorm.DB, payment *models.Payment) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	if payment.CreatedAt.IsZero() {
		payment.CreatedAt = time.Now().UTC()
	}
	payment.PaymentDate = payment.PaymentDate.UTC()
	if err := tx.Omit(clause.Associations).Create(payment).Error; err != nil {
		if db.IsUniqueViolation(err, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, err, "payment reference already recorded").
				WithDetails(map[string]any{"transaction_ref": payment.Ref(), "bill_id": payment.BillID})
		}
		return err
	}
	return nil
}

// Get loads a row with its bill, customer and employee.
func (r *Repository) Get(ctx context.Context, id uint64) (*models.Payment, error) {
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Preload("Bill").
		Preload("Bill.LineItems").
		Preload("Bill.Payments", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Customer").
		Preload("Employee").
		First(&payment, "id = ?", id).Error
	if err != nil {
		return nil, mapNotFound(err, id)
	}
	return &payment, nil
}

// Find loads a bare row, inside tx when given.
func (r *Repository) Find(ctx context.Context, tx *gorm.DB, id uint64) (*models.Payment, error) {
	var payment models.Payment
	if err := r.conn(ctx, tx).First(&payment, "id = ?", id).Error; err != nil {
		return nil, mapNotFound(err, id)
	}
	return &payment, nil
}

// GetForUpdate loads and row-locks a payment inside tx.
func (r *Repository) GetForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*models.Payment, error) {
	if tx == nil {
		return nil, gorm.ErrInvalidTransaction
	}
	var payment models.Payment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&payment, "id = ?", id).Error
	if err != nil {
		return nil, mapNotFound(err, id)
	}
	return &payment, nil
}

// RefExists reports whether any row carries ref, ignoring exceptID when set.
func (r *Repository) RefExists(ctx context.Context, tx *gorm.DB, ref string, exceptID uint64) (bool, error) {
	q := r.conn(ctx, tx).Model(&models.Payment{}).Where("transaction_ref = ?", ref)
	if exceptID != 0 {
		q = q.Where("id <> ?", exceptID)
	}
	var count int64
	if err := q.Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// RefundedAmount sums |amount| over the REFUND-<id>-* rows of a payment.
func (r *Repository) RefundedAmount(ctx context.Context, tx *gorm.DB, originalID uint64) (decimal.Decimal, error) {
	var rows []models.Payment
	err := r.conn(ctx, tx).
		Select("id", "payment_amount").
		Where("transaction_ref LIKE ?", RefundRefPrefix(originalID)+"%").
		Find(&rows).Error
	if err != nil {
		return decimal.Zero, err
	}
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.Amount.Abs())
	}
	return total, nil
}

// RefundCount counts the REFUND-<id>-* rows of a payment.
func (r *Repository) RefundCount(ctx context.Context, tx *gorm.DB, originalID uint64) (int, error) {
	var count int64
	err := r.conn(ctx, tx).
		Model(&models.Payment{}).
		Where("transaction_ref LIKE ?", RefundRefPrefix(originalID)+"%").
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}

// Reversals lists the rows that reverse originalID.
func (r *Repository) Reversals(ctx context.Context, tx *gorm.DB, originalID uint64) ([]models.Payment, error) {
	var rows []models.Payment
	err := r.conn(ctx, tx).Where("reversal_of_id = ?", originalID).Order("id").Find(&rows).Error
	return rows, err
}

// UpdateColumns writes the given columns on a single row.
func (r *Repository) UpdateColumns(ctx context.Context, tx *gorm.DB, id uint64, columns map[string]any) error {
	if tx == nil {
		return gorm.ErrInvalidTransaction
	}
	res := tx.Model(&models.Payment{}).Where("id = ?", id).Updates(columns)
	if res.Error != nil {
		if db.IsUniqueViolation(res.Error, "") {
			return pkgerrors.Wrap(pkgerrors.CodeConflict, res.Error, "payment reference already recorded")
		}
		return res.Error
	}
	if res.RowsAffected == 0 {
		return mapNotFound(gorm.ErrRecordNotFound, id)
	}
	return nil
}

// ListByGatewayRef returns rows correlated to a gateway object, locked for
// update. column is one of the gateway correlation columns.
func (r *Repository) ListByGatewayRef(ctx context.Context, tx *gorm.DB, column GatewayColumn, value string) ([]models.Payment, error) {
	if tx == nil {
		return nil, gorm.ErrInvalidTransaction
	}
	if !column.valid() {
		return nil, fmt.Errorf("unsupported gateway column %q", column)
	}
	var rows []models.Payment
	err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).
		Where(string(column)+" = ?", value).
		Where("reversal_of_id IS NULL").
		Order("id").
		Find(&rows).Error
	return rows, err
}

// ListPendingBefore returns ids of pending rows created before cutoff.
func (r *Repository) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]uint64, error) {
	var ids []uint64
	q := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Where("payment_status = ? AND created_at < ?", enums.PaymentStatusPending, cutoff.UTC()).
		Order("id")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Pluck("id", &ids).Error; err != nil {
		return nil, err
	}
	return ids, nil
}

// ListBetween returns rows whose payment date falls in [from, to).
func (r *Repository) ListBetween(ctx context.Context, from, to time.Time, filter ListFilter) ([]models.Payment, error) {
	q := r.db.WithContext(ctx).
		Where("payment_date >= ? AND payment_date < ?", from.UTC(), to.UTC())
	if filter.EmployeeID != nil {
		q = q.Where("employee_id = ?", *filter.EmployeeID)
	}
	if len(filter.Statuses) > 0 {
		q = q.Where("payment_status IN ?", filter.Statuses)
	}
	if len(filter.Methods) > 0 {
		q = q.Where("payment_method IN ?", filter.Methods)
	}
	if filter.MissingRef {
		q = q.Where("(transaction_ref IS NULL OR TRIM(transaction_ref) = '')")
	}
	var rows []models.Payment
	if err := q.Order("payment_date, id").Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}

// ListFilter narrows ListBetween.
type ListFilter struct {
	EmployeeID *uint64
	Statuses   []enums.PaymentStatus
	Methods    []enums.PaymentMethod
	MissingRef bool
}

// GatewayColumn names a gateway correlation column on payments.
type GatewayColumn string

const (
	ColumnPaymentIntent   GatewayColumn = "gateway_payment_intent_id"
	ColumnCharge          GatewayColumn = "gateway_charge_id"
	ColumnCheckoutSession GatewayColumn = "checkout_session_id"
)

func (c GatewayColumn) valid() bool {
	switch c {
	case ColumnPaymentIntent, ColumnCharge, ColumnCheckoutSession:
		return true
	}
	return false
}

func mapNotFound(err error, id uint64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return pkgerrors.New(pkgerrors.CodeNotFound, "payment not found").
			WithDetails(map[string]any{"payment_id": id})
	}
	return err
}
