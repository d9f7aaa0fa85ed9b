package reconciliation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
)

const dateLayout = "2006-01-02"

// MethodTotal is the sum collected through one payment method.
type MethodTotal struct {
	Method enums.PaymentMethod `json:"method"`
	Count  int                 `json:"count"`
	Total  decimal.Decimal     `json:"total"`
}

// DailyCollection is one employee's takings for a day.
type DailyCollection struct {
	EmployeeID       uint64          `json:"employeeId"`
	EmployeeName     string          `json:"employeeName"`
	Date             string          `json:"date"`
	PaymentCount     int             `json:"paymentCount"`
	ByMethod         []MethodTotal   `json:"byMethod"`
	TotalCollected   decimal.Decimal `json:"totalCollected"`
	CashCollected    decimal.Decimal `json:"cashCollected"`
	NonCashCollected decimal.Decimal `json:"nonCashCollected"`
	OpeningBalance   decimal.Decimal `json:"openingBalance"`
	ClosingBalance   decimal.Decimal `json:"closingBalance"`
}

// ReconcileInput carries the externally counted figures for a day.
type ReconcileInput struct {
	Date           time.Time
	ExpectedAmount decimal.Decimal
	ActualAmount   decimal.Decimal
	EmployeeID     *uint64
}

// VarianceCheck compares the actual amount against one reference figure.
type VarianceCheck struct {
	Reference   decimal.Decimal `json:"reference"`
	Variance    decimal.Decimal `json:"variance"`
	Percentage  decimal.Decimal `json:"percentage"`
	Significant bool            `json:"significant"`
}

// Result is the outcome of Reconcile.
type Result struct {
	ID             string                     `json:"id"`
	Date           string                     `json:"date"`
	ExpectedAmount decimal.Decimal            `json:"expectedAmount"`
	ActualAmount   decimal.Decimal            `json:"actualAmount"`
	SystemTotal    decimal.Decimal            `json:"systemTotal"`
	PaymentCount   int                        `json:"paymentCount"`
	ByMethod       []MethodTotal              `json:"byMethod"`
	VsExpected     VarianceCheck              `json:"vsExpected"`
	VsSystem       VarianceCheck              `json:"vsSystem"`
	Status         enums.ReconciliationStatus `json:"status"`
	ReconciledBy   *uint64                    `json:"reconciledBy,omitempty"`
	ReconciledAt   time.Time                  `json:"reconciledAt"`
}

// PendingItem is a payment missing the reference its method requires.
type PendingItem struct {
	PaymentID     uint64              `json:"paymentId"`
	ReceiptNumber string              `json:"receiptNumber"`
	BillID        uint64              `json:"billId"`
	EmployeeID    *uint64             `json:"employeeId,omitempty"`
	Amount        decimal.Decimal     `json:"amount"`
	Method        enums.PaymentMethod `json:"method"`
	Status        enums.PaymentStatus `json:"status"`
	PaymentDate   time.Time           `json:"paymentDate"`
}

// RefundCandidate is the payment suggested for returning an overpayment.
type RefundCandidate struct {
	PaymentID     uint64              `json:"paymentId"`
	ReceiptNumber string              `json:"receiptNumber"`
	Amount        decimal.Decimal     `json:"amount"`
	Method        enums.PaymentMethod `json:"method"`
	PaymentDate   time.Time           `json:"paymentDate"`
}

// Overpayment is a bill whose counted payments exceed its total.
type Overpayment struct {
	BillID          uint64           `json:"billId"`
	BillNumber      string           `json:"billNumber"`
	TotalAmount     decimal.Decimal  `json:"totalAmount"`
	TotalPaid       decimal.Decimal  `json:"totalPaid"`
	OverpaidAmount  decimal.Decimal  `json:"overpaidAmount"`
	RefundCandidate *RefundCandidate `json:"refundCandidate,omitempty"`
}

func pendingItem(p models.Payment) PendingItem {
	return PendingItem{
		PaymentID:     p.ID,
		ReceiptNumber: p.ReceiptNumber(),
		BillID:        p.BillID,
		EmployeeID:    p.EmployeeID,
		Amount:        p.Amount,
		Method:        p.Method,
		Status:        p.Status,
		PaymentDate:   p.PaymentDate,
	}
}

// groupByMethod totals rows per method in declaration order.
func groupByMethod(rows []models.Payment) []MethodTotal {
	totals := map[enums.PaymentMethod]*MethodTotal{}
	for _, p := range rows {
		entry, ok := totals[p.Method]
		if !ok {
			entry = &MethodTotal{Method: p.Method, Total: decimal.Zero}
			totals[p.Method] = entry
		}
		entry.Count++
		entry.Total = entry.Total.Add(p.Amount)
	}
	out := make([]MethodTotal, 0, len(totals))
	for _, method := range enums.PaymentMethods() {
		if entry, ok := totals[method]; ok {
			out = append(out, *entry)
		}
	}
	return out
}
