package payloads

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gridpay-backend/pkg/enums"
)

// PaymentRecordedEvent is emitted when money is received against a bill.
type PaymentRecordedEvent struct {
	PaymentID         uint64                `json:"payment_id"`
	BillID            uint64                `json:"bill_id"`
	CustomerID        *uint64               `json:"customer_id,omitempty"`
	EmployeeID        *uint64               `json:"employee_id,omitempty"`
	ReceiptNumber     string                `json:"receipt_number"`
	Amount            decimal.Decimal       `json:"amount"`
	Method            enums.PaymentMethod   `json:"method"`
	Channel           *enums.PaymentChannel `json:"channel,omitempty"`
	TransactionRef    *string               `json:"transaction_ref,omitempty"`
	PaymentDate       time.Time             `json:"payment_date"`
	OverpaymentAmount *decimal.Decimal      `json:"overpayment_amount,omitempty"`
	AllocationRef     *string               `json:"allocation_ref,omitempty"`
}

// PaymentCorrectedEvent reports a correction of ref, date or notes.
type PaymentCorrectedEvent struct {
	PaymentID      uint64    `json:"payment_id"`
	BillID         uint64    `json:"bill_id"`
	TransactionRef *string   `json:"transaction_ref,omitempty"`
	PaymentDate    time.Time `json:"payment_date"`
	CorrectedBy    *uint64   `json:"corrected_by,omitempty"`
}

// PaymentReversedEvent is emitted for both voids and refunds.
type PaymentReversedEvent struct {
	OriginalPaymentID uint64              `json:"original_payment_id"`
	ReversalPaymentID uint64              `json:"reversal_payment_id"`
	BillID            uint64              `json:"bill_id"`
	Amount            decimal.Decimal     `json:"amount"`
	Method            enums.PaymentMethod `json:"method"`
	Reason            string              `json:"reason"`
	FullyReversed     bool                `json:"fully_reversed"`
	GatewayRefundID   string              `json:"gateway_refund_id,omitempty"`
}

// PaymentStatusChangedEvent reports a gateway state machine transition.
type PaymentStatusChangedEvent struct {
	PaymentID      uint64              `json:"payment_id"`
	BillID         uint64              `json:"bill_id"`
	From           enums.PaymentStatus `json:"from"`
	To             enums.PaymentStatus `json:"to"`
	Amount         decimal.Decimal     `json:"amount"`
	WebhookEventID string              `json:"webhook_event_id,omitempty"`
	Reason         string              `json:"reason,omitempty"`
}
