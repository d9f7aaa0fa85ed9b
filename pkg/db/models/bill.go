package models

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gridpay-backend/pkg/enums"
)

// Bill is a computed utility bill for one connection and billing period.
// Line items are produced by tariff calculation upstream and treated as final.
type Bill struct {
	ID           uint64    `gorm:"column:id;primaryKey;autoIncrement"`
	ConnectionID uint64    `gorm:"column:connection_id;not null"`
	BillNumber   string    `gorm:"column:bill_number;not null"`
	PeriodStart  time.Time `gorm:"column:period_start;not null"`
	PeriodEnd    time.Time `gorm:"column:period_end;not null"`
	DueDate      time.Time `gorm:"column:due_date;not null"`
	IssuedAt     time.Time `gorm:"column:issued_at;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`

	Connection *Connection    `gorm:"foreignKey:ConnectionID"`
	LineItems  []BillLineItem `gorm:"foreignKey:BillID"`
	Payments   []Payment      `gorm:"foreignKey:BillID"`
}

// BillLineItem is one charge or credit on a bill.
type BillLineItem struct {
	ID          uint64                 `gorm:"column:id;primaryKey;autoIncrement"`
	BillID      uint64                 `gorm:"column:bill_id;not null"`
	Kind        enums.BillLineItemKind `gorm:"column:kind;not null"`
	Description string                 `gorm:"column:description"`
	Amount      decimal.Decimal        `gorm:"column:amount;type:numeric(12,2);not null"`
}

// TotalAmount sums charges and taxes less subsidies and credits, floored at zero.
func (b Bill) TotalAmount() decimal.Decimal {
	total := decimal.Zero
	for _, item := range b.LineItems {
		if item.Kind.IsCredit() {
			total = total.Sub(item.Amount.Abs())
			continue
		}
		total = total.Add(item.Amount)
	}
	if total.IsNegative() {
		return decimal.Zero
	}
	return total
}

// TotalPaid sums every row that counts toward the balance, reversals included.
func (b Bill) TotalPaid() decimal.Decimal {
	paid := decimal.Zero
	for _, p := range b.Payments {
		if p.Status.CountsTowardBalance() {
			paid = paid.Add(p.Amount)
		}
	}
	return paid
}

// RawOutstanding is TotalAmount minus TotalPaid without flooring; it is
// negative for overpaid bills.
func (b Bill) RawOutstanding() decimal.Decimal {
	return b.TotalAmount().Sub(b.TotalPaid())
}

// OutstandingBalance is the amount still owed, never negative.
func (b Bill) OutstandingBalance() decimal.Decimal {
	out := b.RawOutstanding()
	if out.IsNegative() {
		return decimal.Zero
	}
	return out
}

// PendingAmount sums gateway rows awaiting confirmation.
func (b Bill) PendingAmount() decimal.Decimal {
	pending := decimal.Zero
	for _, p := range b.Payments {
		if p.Status == enums.PaymentStatusPending {
			pending = pending.Add(p.Amount)
		}
	}
	return pending
}

// PayableBalance is the outstanding balance not already claimed by an
// in-flight gateway payment.
func (b Bill) PayableBalance() decimal.Decimal {
	payable := b.OutstandingBalance().Sub(b.PendingAmount())
	if payable.IsNegative() {
		return decimal.Zero
	}
	return payable
}

// IsPaid reports whether the bill has been settled in full.
func (b Bill) IsPaid() bool {
	return b.TotalPaid().GreaterThanOrEqual(b.TotalAmount())
}

// IsOverdue reports whether the bill is unpaid past its due date.
func (b Bill) IsOverdue(asOf time.Time) bool {
	return !b.IsPaid() && asOf.After(b.DueDate)
}

// LatestPositivePayment returns the most recent counted payment, if any.
func (b Bill) LatestPositivePayment() *Payment {
	var latest *Payment
	for i := range b.Payments {
		p := &b.Payments[i]
		if !p.Status.CountsTowardBalance() || !p.Amount.IsPositive() {
			continue
		}
		if latest == nil || p.PaymentDate.After(latest.PaymentDate) ||
			(p.PaymentDate.Equal(latest.PaymentDate) && p.ID > latest.ID) {
			latest = p
		}
	}
	return latest
}
