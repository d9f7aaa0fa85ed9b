package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
)

// PaymentResponse is the API shape of a ledger row.
type PaymentResponse struct {
	ID                     uint64                `json:"id"`
	ReceiptNumber          string                `json:"receiptNumber"`
	BillID                 uint64                `json:"billId"`
	CustomerID             *uint64               `json:"customerId,omitempty"`
	EmployeeID             *uint64               `json:"employeeId,omitempty"`
	PaymentDate            time.Time             `json:"paymentDate"`
	Amount                 decimal.Decimal       `json:"amount"`
	Method                 enums.PaymentMethod   `json:"method"`
	Channel                *enums.PaymentChannel `json:"channel,omitempty"`
	Status                 enums.PaymentStatus   `json:"status"`
	TransactionRef         *string               `json:"transactionRef,omitempty"`
	GatewayPaymentIntentID *string               `json:"gatewayPaymentIntentId,omitempty"`
	GatewayChargeID        *string               `json:"gatewayChargeId,omitempty"`
	CheckoutSessionID      *string               `json:"checkoutSessionId,omitempty"`
	ReversalOfID           *uint64               `json:"reversalOfId,omitempty"`
	Notes                  *string               `json:"notes,omitempty"`
	Metadata               models.PaymentAudit   `json:"metadata"`
	CreatedAt              time.Time             `json:"createdAt"`
	UpdatedAt              time.Time             `json:"updatedAt"`
}

func NewPaymentResponse(p models.Payment) PaymentResponse {
	return PaymentResponse{
		ID:                     p.ID,
		ReceiptNumber:          p.ReceiptNumber(),
		BillID:                 p.BillID,
		CustomerID:             p.CustomerID,
		EmployeeID:             p.EmployeeID,
		PaymentDate:            p.PaymentDate,
		Amount:                 p.Amount,
		Method:                 p.Method,
		Channel:                p.Channel,
		Status:                 p.Status,
		TransactionRef:         p.TransactionRef,
		GatewayPaymentIntentID: p.GatewayPaymentIntentID,
		GatewayChargeID:        p.GatewayChargeID,
		CheckoutSessionID:      p.CheckoutSessionID,
		ReversalOfID:           p.ReversalOfID,
		Notes:                  p.Notes,
		Metadata:               p.Audit,
		CreatedAt:              p.CreatedAt,
		UpdatedAt:              p.UpdatedAt,
	}
}

// NewPaymentResponses maps a slice of rows, preserving order.
func NewPaymentResponses(rows []models.Payment) []PaymentResponse {
	out := make([]PaymentResponse, 0, len(rows))
	for _, row := range rows {
		out = append(out, NewPaymentResponse(row))
	}
	return out
}
