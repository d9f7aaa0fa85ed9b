package reconciliation

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/gridpay-backend/internal/payments"
	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
)

type paymentLister interface {
	ListBetween(ctx context.Context, from, to time.Time, filter payments.ListFilter) ([]models.Payment, error)
}

type billLister interface {
	ListWithCountedPayments(ctx context.Context) ([]models.Bill, error)
}

type employeeGetter interface {
	Get(ctx context.Context, tx *gorm.DB, id uint64) (*models.Employee, error)
}

// Archive stores reconciliation results outside the ledger database.
type Archive interface {
	Save(ctx context.Context, result Result) error
}

type ServiceParams struct {
	Logger    *logger.Logger
	Payments  paymentLister
	Bills     billLister
	Employees employeeGetter
	Archive   Archive
	Policy    Policy
	Now       func() time.Time
}

// Service produces read-only ledger reports. It never writes payment rows.
type Service struct {
	logg      *logger.Logger
	payments  paymentLister
	bills     billLister
	employees employeeGetter
	archive   Archive
	policy    Policy
	now       func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payment lister required")
	}
	if params.Bills == nil {
		return nil, fmt.Errorf("bill lister required")
	}
	if params.Employees == nil {
		return nil, fmt.Errorf("employee lookup required")
	}
	policy := params.Policy
	if policy.Location == nil {
		policy.Location = time.UTC
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:      params.Logger,
		payments:  params.Payments,
		bills:     params.Bills,
		employees: params.Employees,
		archive:   params.Archive,
		policy:    policy,
		now:       now,
	}, nil
}

// DailyCollectionReport sums one employee's completed takings for the day.
// Reversals are excluded; the closing cash balance is the opening balance
// plus cash collected.
func (s *Service) DailyCollectionReport(ctx context.Context, employeeID uint64, date time.Time, opening decimal.Decimal) (*DailyCollection, error) {
	if employeeID == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "employee id required")
	}
	if date.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "date required")
	}
	employee, err := s.employees.Get(ctx, nil, employeeID)
	if err != nil {
		return nil, err
	}

	from, to := s.policy.DayBounds(date)
	rows, err := s.payments.ListBetween(ctx, from, to, payments.ListFilter{
		EmployeeID: &employeeID,
		Statuses:   []enums.PaymentStatus{enums.PaymentStatusCompleted},
	})
	if err != nil {
		return nil, err
	}

	collected := make([]models.Payment, 0, len(rows))
	for _, p := range rows {
		if p.Amount.IsPositive() && !p.IsReversal() {
			collected = append(collected, p)
		}
	}

	report := &DailyCollection{
		EmployeeID:       employee.ID,
		EmployeeName:     employee.Name,
		Date:             from.Format(dateLayout),
		PaymentCount:     len(collected),
		ByMethod:         groupByMethod(collected),
		TotalCollected:   decimal.Zero,
		CashCollected:    decimal.Zero,
		NonCashCollected: decimal.Zero,
		OpeningBalance:   opening,
	}
	for _, p := range collected {
		report.TotalCollected = report.TotalCollected.Add(p.Amount)
		if p.Method.IsCash() {
			report.CashCollected = report.CashCollected.Add(p.Amount)
		} else {
			report.NonCashCollected = report.NonCashCollected.Add(p.Amount)
		}
	}
	report.ClosingBalance = opening.Add(report.CashCollected)
	return report, nil
}

// Reconcile compares the counted amount for a day against the business
// supplied expectation and against the ledger's own net total.
func (s *Service) Reconcile(ctx context.Context, input ReconcileInput) (*Result, error) {
	if input.Date.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "date required")
	}
	if input.ExpectedAmount.IsNegative() || input.ActualAmount.IsNegative() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "reconciliation amounts must not be negative").
			WithDetails(map[string]any{
				"expected_amount": input.ExpectedAmount.String(),
				"actual_amount":   input.ActualAmount.String(),
			})
	}

	from, to := s.policy.DayBounds(input.Date)
	rows, err := s.payments.ListBetween(ctx, from, to, payments.ListFilter{
		Statuses: enums.BalanceStatuses(),
	})
	if err != nil {
		return nil, err
	}
	system := decimal.Zero
	for _, p := range rows {
		system = system.Add(p.Amount)
	}

	result := &Result{
		ID:             uuid.NewString(),
		Date:           from.Format(dateLayout),
		ExpectedAmount: input.ExpectedAmount,
		ActualAmount:   input.ActualAmount,
		SystemTotal:    system,
		PaymentCount:   len(rows),
		ByMethod:       groupByMethod(rows),
		VsExpected:     s.policy.check(input.ActualAmount, input.ExpectedAmount),
		VsSystem:       s.policy.check(input.ActualAmount, system),
		ReconciledBy:   input.EmployeeID,
		ReconciledAt:   s.now().UTC(),
	}
	switch {
	case result.VsExpected.Variance.IsZero() && result.VsSystem.Variance.IsZero():
		result.Status = enums.ReconciliationBalanced
	case result.VsExpected.Significant || result.VsSystem.Significant:
		result.Status = enums.ReconciliationDiscrepancyFound
	default:
		result.Status = enums.ReconciliationNeedsReview
	}

	ctx = s.logg.WithFields(ctx, map[string]any{
		"reconciliation_id": result.ID,
		"business_date":     result.Date,
		"status":            string(result.Status),
		"system_total":      system.StringFixed(2),
	})
	if result.Status == enums.ReconciliationDiscrepancyFound {
		s.logg.Warn(ctx, "reconciliation found a discrepancy")
	} else {
		s.logg.Info(ctx, "reconciliation completed")
	}

	if s.archive != nil {
		if err := s.archive.Save(ctx, *result); err != nil {
			s.logg.Error(ctx, "archive reconciliation result", err)
		}
	}
	return result, nil
}

// PendingReconciliation lists the day's payments whose method requires a
// reference that was never captured. They stay listed until corrected.
func (s *Service) PendingReconciliation(ctx context.Context, date time.Time) ([]PendingItem, error) {
	if date.IsZero() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "date required")
	}
	methods := make([]enums.PaymentMethod, 0)
	for _, m := range enums.PaymentMethods() {
		if m.RequiresTransactionRef() {
			methods = append(methods, m)
		}
	}
	from, to := s.policy.DayBounds(date)
	rows, err := s.payments.ListBetween(ctx, from, to, payments.ListFilter{
		Methods:    methods,
		MissingRef: true,
	})
	if err != nil {
		return nil, err
	}
	out := make([]PendingItem, 0, len(rows))
	for _, p := range rows {
		out = append(out, pendingItem(p))
	}
	return out, nil
}

// Overpayments lists every bill paid beyond its total, with the latest
// positive payment as the candidate for a refund.
func (s *Service) Overpayments(ctx context.Context) ([]Overpayment, error) {
	bills, err := s.bills.ListWithCountedPayments(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Overpayment, 0)
	for _, bill := range bills {
		total := bill.TotalAmount()
		paid := bill.TotalPaid()
		if !paid.GreaterThan(total) {
			continue
		}
		entry := Overpayment{
			BillID:         bill.ID,
			BillNumber:     bill.BillNumber,
			TotalAmount:    total,
			TotalPaid:      paid,
			OverpaidAmount: paid.Sub(total),
		}
		if latest := bill.LatestPositivePayment(); latest != nil {
			entry.RefundCandidate = &RefundCandidate{
				PaymentID:     latest.ID,
				ReceiptNumber: latest.ReceiptNumber(),
				Amount:        latest.Amount,
				Method:        latest.Method,
				PaymentDate:   latest.PaymentDate,
			}
		}
		out = append(out, entry)
	}
	return out, nil
}
