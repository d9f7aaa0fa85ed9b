package models

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gridpay-backend/pkg/enums"
)

// Payment is one ledger row: money received against a bill (positive) or a
// reversal of an earlier row (negative).
type Payment struct {
	ID                     uint64                `gorm:"column:id;primaryKey;autoIncrement"`
	BillID                 uint64                `gorm:"column:bill_id;not null"`
	CustomerID             *uint64               `gorm:"column:customer_id"`
	EmployeeID             *uint64               `gorm:"column:employee_id"`
	PaymentDate            time.Time             `gorm:"column:payment_date;not null"`
	Amount                 decimal.Decimal       `gorm:"column:payment_amount;type:numeric(12,2);not null"`
	Method                 enums.PaymentMethod   `gorm:"column:payment_method;not null"`
	Channel                *enums.PaymentChannel `gorm:"column:payment_channel"`
	Status                 enums.PaymentStatus   `gorm:"column:payment_status;not null"`
	TransactionRef         *string               `gorm:"column:transaction_ref"`
	GatewayPaymentIntentID *string               `gorm:"column:gateway_payment_intent_id"`
	GatewayChargeID        *string               `gorm:"column:gateway_charge_id"`
	GatewayCustomerID      *string               `gorm:"column:gateway_customer_id"`
	CheckoutSessionID      *string               `gorm:"column:checkout_session_id"`
	ReversalOfID           *uint64               `gorm:"column:reversal_of_id"`
	Notes                  *string               `gorm:"column:notes"`
	Audit                  PaymentAudit          `gorm:"column:metadata;type:jsonb"`
	CreatedAt              time.Time             `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt              time.Time             `gorm:"column:updated_at;autoUpdateTime"`

	Bill     *Bill     `gorm:"foreignKey:BillID"`
	Customer *Customer `gorm:"foreignKey:CustomerID"`
	Employee *Employee `gorm:"foreignKey:EmployeeID"`
}

// ReceiptNumber derives the printed receipt identifier. It is never stored.
func (p Payment) ReceiptNumber() string {
	return fmt.Sprintf("RCP-%d-%05d", p.PaymentDate.Year(), p.ID)
}

// RequiresTransactionRef reports whether the row's method needs an external ref.
func (p Payment) RequiresTransactionRef() bool {
	return p.Method.RequiresTransactionRef()
}

// IsReversal reports whether the row undoes an earlier payment.
func (p Payment) IsReversal() bool {
	return p.Amount.IsNegative()
}

// IsRefundable reports whether a refund or void may target this row.
func (p Payment) IsRefundable() bool {
	return p.Status == enums.PaymentStatusCompleted
}

// Ref returns the transaction ref or an empty string.
func (p Payment) Ref() string {
	if p.TransactionRef == nil {
		return ""
	}
	return *p.TransactionRef
}
