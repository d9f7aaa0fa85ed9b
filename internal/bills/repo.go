package bills

import (
	"context"
	"errors"
	"sort"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
)

// Repository reads the bill aggregate the ledger writes against. Bills are
// never modified here; their balances derive from the payment rows.
type Repository struct {
	db *gorm.DB
}

// NewRepository binds a GORM DB to bill reads.
func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) conn(ctx context.Context, tx *gorm.DB) *gorm.DB {
	if tx != nil {
		return tx
	}
	return r.db.WithContext(ctx)
}

func withAggregate(q *gorm.DB) *gorm.DB {
	return q.
		Preload("LineItems", func(db *gorm.DB) *gorm.DB { return db.Order("id") }).
		Preload("Payments", func(db *gorm.DB) *gorm.DB { return db.Order("id") })
}

// Get loads a bill with its line items and payments.
func (r *Repository) Get(ctx context.Context, id uint64) (*models.Bill, error) {
	var bill models.Bill
	if err := withAggregate(r.db.WithContext(ctx)).First(&bill, "id = ?", id).Error; err != nil {
		return nil, mapNotFound(err, id)
	}
	return &bill, nil
}

// LoadForUpdate loads the aggregate inside tx holding a row lock on the bill,
// serialising concurrent ledger writes against it.
func (r *Repository) LoadForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*models.Bill, error) {
	if tx == nil {
		return nil, gorm.ErrInvalidTransaction
	}
	var bill models.Bill
	err := withAggregate(tx.Clauses(clause.Locking{Strength: "UPDATE"})).
		First(&bill, "id = ?", id).Error
	if err != nil {
		return nil, mapNotFound(err, id)
	}
	return &bill, nil
}

// LoadManyForUpdate locks the bills in ascending id order and returns them in
// the caller's order. Any missing id fails NotFound.
func (r *Repository) LoadManyForUpdate(ctx context.Context, tx *gorm.DB, ids []uint64) ([]models.Bill, error) {
	if tx == nil {
		return nil, gorm.ErrInvalidTransaction
	}
	sorted := append([]uint64(nil), ids...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var rows []models.Bill
	err := withAggregate(tx.Clauses(clause.Locking{Strength: "UPDATE"})).
		Where("id IN ?", sorted).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	byID := make(map[uint64]models.Bill, len(rows))
	for _, row := range rows {
		byID[row.ID] = row
	}
	out := make([]models.Bill, 0, len(ids))
	for _, id := range ids {
		bill, ok := byID[id]
		if !ok {
			return nil, notFound(id)
		}
		out = append(out, bill)
	}
	return out, nil
}

// ResolveCustomerForBill returns the customer owning the bill's connection.
func (r *Repository) ResolveCustomerForBill(ctx context.Context, tx *gorm.DB, billID uint64) (uint64, error) {
	var customerIDs []uint64
	err := r.conn(ctx, tx).
		Table("bills").
		Joins("JOIN connections ON connections.id = bills.connection_id").
		Where("bills.id = ?", billID).
		Limit(1).
		Pluck("connections.customer_id", &customerIDs).Error
	if err != nil {
		return 0, err
	}
	if len(customerIDs) == 0 {
		return 0, pkgerrors.New(pkgerrors.CodeNotFound, "customer not found for bill").
			WithDetails(map[string]any{"bill_id": billID})
	}
	return customerIDs[0], nil
}

// ListWithCountedPayments returns every bill carrying at least one payment
// that counts toward its balance. Overpayment detection scans this set.
func (r *Repository) ListWithCountedPayments(ctx context.Context) ([]models.Bill, error) {
	var rows []models.Bill
	sub := r.db.WithContext(ctx).
		Model(&models.Payment{}).
		Select("DISTINCT bill_id").
		Where("payment_status IN ?", enums.BalanceStatuses())
	err := withAggregate(r.db.WithContext(ctx)).
		Where("id IN (?)", sub).
		Order("id").
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func mapNotFound(err error, id uint64) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return notFound(id)
	}
	return err
}

func notFound(id uint64) error {
	return pkgerrors.New(pkgerrors.CodeNotFound, "bill not found").
		WithDetails(map[string]any{"bill_id": id})
}
