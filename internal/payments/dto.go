package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gridpay-backend/pkg/enums"
)

// RecordInput describes money received against a single bill.
type RecordInput struct {
	BillID         uint64
	Amount         decimal.Decimal
	Method         enums.PaymentMethod
	Channel        *enums.PaymentChannel
	TransactionRef *string
	PaymentDate    *time.Time
	EmployeeID     *uint64
	Notes          *string
}

// UpdateInput corrects the mutable fields of a ledger row. Nil fields are
// left unchanged; an empty TransactionRef clears the ref.
type UpdateInput struct {
	TransactionRef *string
	PaymentDate    *time.Time
	Notes          *string
	CorrectedBy    *uint64
}

// AllocateInput spreads one payment across several bills in caller order.
type AllocateInput struct {
	Amount         decimal.Decimal
	BillIDs        []uint64
	Method         enums.PaymentMethod
	Channel        *enums.PaymentChannel
	EmployeeID     *uint64
	TransactionRef *string
	PaymentDate    *time.Time
}

// Allocation reports the share of an allocation applied to one bill.
type Allocation struct {
	BillID            uint64          `json:"billId"`
	PaymentID         uint64          `json:"paymentId"`
	ReceiptNumber     string          `json:"receiptNumber"`
	OutstandingBefore decimal.Decimal `json:"outstandingBefore"`
	AllocatedAmount   decimal.Decimal `json:"allocatedAmount"`
	OutstandingAfter  decimal.Decimal `json:"outstandingAfter"`
	IsFullyPaid       bool            `json:"isFullyPaid"`
}

// AllocationResult is the outcome of Allocate.
type AllocationResult struct {
	Allocations  []Allocation    `json:"allocations"`
	ExcessAmount decimal.Decimal `json:"excessAmount"`
}

// VoidInput reverses a payment in full.
type VoidInput struct {
	PaymentID  uint64
	Reason     string
	EmployeeID uint64
}

// RefundInput reverses part or all of a payment.
type RefundInput struct {
	PaymentID  uint64
	Amount     decimal.Decimal
	Reason     string
	Method     *enums.PaymentMethod
	EmployeeID uint64
}

// RefundRequest is handed to the gateway before the local reversal is written.
type RefundRequest struct {
	PaymentID       uint64
	Method          enums.PaymentMethod
	PaymentIntentID string
	ChargeID        string
	TransactionRef  string
	Amount          decimal.Decimal
	Reason          string
	IdempotencyKey  string
}

// RefundResult is the gateway's acknowledgement of a refund.
type RefundResult struct {
	RefundID string
	Status   string
}
