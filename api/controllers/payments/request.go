package payments

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gridpay-backend/api/validators"
	"github.com/angelmondragon/gridpay-backend/internal/payments"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
)

const maxTextLen = 500

type recordPaymentRequest struct {
	BillID         uint64                `json:"billId" validate:"required"`
	Amount         decimal.Decimal       `json:"amount"`
	Method         enums.PaymentMethod   `json:"method" validate:"required"`
	Channel        *enums.PaymentChannel `json:"channel,omitempty"`
	TransactionRef *string               `json:"transactionRef,omitempty"`
	PaymentDate    *time.Time            `json:"paymentDate,omitempty"`
	Notes          *string               `json:"notes,omitempty"`
}

func (r recordPaymentRequest) toInput(employeeID uint64) payments.RecordInput {
	return payments.RecordInput{
		BillID:         r.BillID,
		Amount:         r.Amount,
		Method:         r.Method,
		Channel:        r.Channel,
		TransactionRef: r.TransactionRef,
		PaymentDate:    r.PaymentDate,
		EmployeeID:     employeePtr(employeeID),
		Notes:          sanitize(r.Notes),
	}
}

type updatePaymentRequest struct {
	TransactionRef *string    `json:"transactionRef,omitempty"`
	PaymentDate    *time.Time `json:"paymentDate,omitempty"`
	Notes          *string    `json:"notes,omitempty"`
}

func (r updatePaymentRequest) toInput(employeeID uint64) payments.UpdateInput {
	return payments.UpdateInput{
		TransactionRef: r.TransactionRef,
		PaymentDate:    r.PaymentDate,
		Notes:          sanitize(r.Notes),
		CorrectedBy:    employeePtr(employeeID),
	}
}

type allocateRequest struct {
	Amount         decimal.Decimal       `json:"amount"`
	BillIDs        []uint64              `json:"billIds" validate:"required,min=1,unique,dive,required"`
	Method         enums.PaymentMethod   `json:"method" validate:"required"`
	Channel        *enums.PaymentChannel `json:"channel,omitempty"`
	TransactionRef *string               `json:"transactionRef,omitempty"`
	PaymentDate    *time.Time            `json:"paymentDate,omitempty"`
}

func (r allocateRequest) toInput(employeeID uint64) payments.AllocateInput {
	return payments.AllocateInput{
		Amount:         r.Amount,
		BillIDs:        r.BillIDs,
		Method:         r.Method,
		Channel:        r.Channel,
		EmployeeID:     employeePtr(employeeID),
		TransactionRef: r.TransactionRef,
		PaymentDate:    r.PaymentDate,
	}
}

type voidRequest struct {
	Reason string `json:"reason" validate:"required,max=500"`
}

type refundRequest struct {
	Amount decimal.Decimal      `json:"amount"`
	Reason string               `json:"reason" validate:"required,max=500"`
	Method *enums.PaymentMethod `json:"method,omitempty"`
}

func employeePtr(id uint64) *uint64 {
	if id == 0 {
		return nil
	}
	return &id
}

func sanitize(value *string) *string {
	if value == nil {
		return nil
	}
	clean := validators.SanitizeString(*value, maxTextLen)
	return &clean
}
