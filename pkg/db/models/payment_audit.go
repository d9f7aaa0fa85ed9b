package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// PaymentAudit is the typed audit trail stored alongside each ledger row.
type PaymentAudit struct {
	RefundReason        string           `json:"refundReason,omitempty"`
	VoidReason          string           `json:"voidReason,omitempty"`
	FailureReason       string           `json:"failureReason,omitempty"`
	OriginalPaymentID   *uint64          `json:"originalPaymentId,omitempty"`
	ReversalPaymentIDs  []uint64         `json:"reversalPaymentIds,omitempty"`
	WebhookEventID      string           `json:"webhookEventId,omitempty"`
	ExpiredAt           *time.Time       `json:"expiredAt,omitempty"`
	OverpaymentAmount   *decimal.Decimal `json:"overpaymentAmount,omitempty"`
	GatewayRefundID     string           `json:"gatewayRefundId,omitempty"`
	Reconstructed       bool             `json:"reconstructedFromWebhook,omitempty"`
	SupersedesPaymentID *uint64          `json:"supersedesPaymentId,omitempty"`
	CorrectedBy         *uint64          `json:"correctedBy,omitempty"`
	CorrectedAt         *time.Time       `json:"correctedAt,omitempty"`
}

// AddReversal records a reversal row id once.
func (a *PaymentAudit) AddReversal(id uint64) {
	for _, existing := range a.ReversalPaymentIDs {
		if existing == id {
			return
		}
	}
	a.ReversalPaymentIDs = append(a.ReversalPaymentIDs, id)
}

// Value implements driver.Valuer.
func (a PaymentAudit) Value() (driver.Value, error) {
	raw, err := json.Marshal(a)
	if err != nil {
		return nil, err
	}
	return string(raw), nil
}

// Scan implements sql.Scanner.
func (a *PaymentAudit) Scan(src any) error {
	*a = PaymentAudit{}
	var raw []byte
	switch v := src.(type) {
	case nil:
		return nil
	case []byte:
		raw = v
	case string:
		raw = []byte(v)
	default:
		return fmt.Errorf("unsupported payment audit type %T", src)
	}
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, a)
}
