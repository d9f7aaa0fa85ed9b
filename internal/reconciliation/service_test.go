package reconciliation

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/gridpay-backend/internal/bills"
	"github.com/angelmondragon/gridpay-backend/internal/employees"
	"github.com/angelmondragon/gridpay-backend/internal/payments"
	"github.com/angelmondragon/gridpay-backend/pkg/db/dbtest"
	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
)

var (
	reportDay = time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	testNow   = time.Date(2026, 3, 6, 8, 0, 0, 0, time.UTC)
)

type fakeArchive struct {
	saved []Result
	err   error
}

func (f *fakeArchive) Save(ctx context.Context, result Result) error {
	f.saved = append(f.saved, result)
	return f.err
}

type reportHarness struct {
	fx       *dbtest.Fixture
	svc      *Service
	archive  *fakeArchive
	cashier  models.Employee
	other    models.Employee
	conn     models.Connection
	customer models.Customer
}

func newReportHarness(t *testing.T) *reportHarness {
	t.Helper()
	client := dbtest.Open(t)
	fx := dbtest.NewFixture(t, client)
	customer, conn := fx.Customer("Katherine Johnson")
	archive := &fakeArchive{}
	svc, err := NewService(ServiceParams{
		Logger:    logger.New(logger.Options{ServiceName: "reports-test"}),
		Payments:  payments.NewRepository(client.DB()),
		Bills:     bills.NewRepository(client.DB()),
		Employees: employees.NewRepository(client.DB()),
		Archive:   archive,
		Policy:    DefaultPolicy(),
		Now:       func() time.Time { return testNow },
	})
	require.NoError(t, err)
	return &reportHarness{
		fx:       fx,
		svc:      svc,
		archive:  archive,
		cashier:  fx.Employee("Dorothy Vaughan", enums.EmployeeRoleCashier),
		other:    fx.Employee("Mary Jackson", enums.EmployeeRoleCashier),
		conn:     conn,
		customer: customer,
	}
}

func (h *reportHarness) pay(t *testing.T, billID uint64, amount string, method enums.PaymentMethod, employee *models.Employee, at time.Time, ref string) models.Payment {
	t.Helper()
	p := models.Payment{
		BillID:      billID,
		Amount:      decimal.RequireFromString(amount),
		Method:      method,
		PaymentDate: at,
	}
	if employee != nil {
		p.EmployeeID = &employee.ID
	}
	if ref != "" {
		p.TransactionRef = &ref
	}
	return h.fx.Payment(p)
}

func dec(v string) decimal.Decimal { return decimal.RequireFromString(v) }

func TestDailyCollectionReportSplitsCash(t *testing.T) {
	h := newReportHarness(t)
	bill := h.fx.Bill(h.conn.ID, "5000")
	morning := reportDay.Add(9 * time.Hour)

	h.pay(t, bill.ID, "300", enums.PaymentMethodCashAtOffice, &h.cashier, morning, "")
	h.pay(t, bill.ID, "200", enums.PaymentMethodCashAtOffice, &h.cashier, morning.Add(time.Hour), "")
	h.pay(t, bill.ID, "450", enums.PaymentMethodCardTerminal, &h.cashier, morning.Add(2*time.Hour), "TERM-1")
	h.pay(t, bill.ID, "999", enums.PaymentMethodCashAtOffice, &h.other, morning, "")
	h.pay(t, bill.ID, "120", enums.PaymentMethodCashAtOffice, &h.cashier, morning.AddDate(0, 0, 1), "")
	h.pay(t, bill.ID, "80", enums.PaymentMethodCheque, &h.cashier, morning, "")
	h.fx.Payment(models.Payment{
		BillID:      bill.ID,
		Amount:      dec("60"),
		Method:      enums.PaymentMethodCheque,
		Status:      enums.PaymentStatusFailed,
		EmployeeID:  &h.cashier.ID,
		PaymentDate: morning,
	})

	report, err := h.svc.DailyCollectionReport(context.Background(), h.cashier.ID, reportDay.Add(15*time.Hour), dec("100"))
	require.NoError(t, err)

	assert.Equal(t, "2026-03-05", report.Date)
	assert.Equal(t, 4, report.PaymentCount)
	assert.True(t, report.TotalCollected.Equal(dec("1030")))
	assert.True(t, report.CashCollected.Equal(dec("500")))
	assert.True(t, report.NonCashCollected.Equal(dec("530")))
	assert.True(t, report.OpeningBalance.Equal(dec("100")))
	assert.True(t, report.ClosingBalance.Equal(dec("600")))

	require.Len(t, report.ByMethod, 3)
	assert.Equal(t, enums.PaymentMethodCashAtOffice, report.ByMethod[0].Method)
	assert.Equal(t, 2, report.ByMethod[0].Count)
	assert.Equal(t, enums.PaymentMethodCardTerminal, report.ByMethod[1].Method)
	assert.Equal(t, enums.PaymentMethodCheque, report.ByMethod[2].Method)
}

func TestDailyCollectionReportExcludesReversals(t *testing.T) {
	h := newReportHarness(t)
	bill := h.fx.Bill(h.conn.ID, "1000")
	at := reportDay.Add(10 * time.Hour)
	original := h.pay(t, bill.ID, "400", enums.PaymentMethodCashAtOffice, &h.cashier, at, "")
	h.fx.Payment(models.Payment{
		BillID:       bill.ID,
		Amount:       dec("-150"),
		Method:       enums.PaymentMethodCashAtOffice,
		EmployeeID:   &h.cashier.ID,
		PaymentDate:  at.Add(time.Hour),
		ReversalOfID: &original.ID,
	})

	report, err := h.svc.DailyCollectionReport(context.Background(), h.cashier.ID, reportDay, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, 1, report.PaymentCount)
	assert.True(t, report.CashCollected.Equal(dec("400")))
}

func TestDailyCollectionReportUnknownEmployee(t *testing.T) {
	h := newReportHarness(t)
	_, err := h.svc.DailyCollectionReport(context.Background(), 9999, reportDay, decimal.Zero)
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeNotFound, pkgerrors.CodeOf(err))
}

func TestReconcileStatuses(t *testing.T) {
	tests := []struct {
		name     string
		expected string
		actual   string
		status   enums.ReconciliationStatus
	}{
		{name: "balanced", expected: "1000", actual: "1000", status: enums.ReconciliationBalanced},
		{name: "small variance", expected: "1000", actual: "995", status: enums.ReconciliationNeedsReview},
		{name: "large variance", expected: "1000", actual: "950", status: enums.ReconciliationDiscrepancyFound},
		{name: "expected disagrees with ledger", expected: "1200", actual: "1000", status: enums.ReconciliationDiscrepancyFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newReportHarness(t)
			bill := h.fx.Bill(h.conn.ID, "5000")
			at := reportDay.Add(11 * time.Hour)
			h.pay(t, bill.ID, "600", enums.PaymentMethodCashAtOffice, &h.cashier, at, "")
			h.pay(t, bill.ID, "400", enums.PaymentMethodBankTransfer, &h.other, at, "TXN-1")

			result, err := h.svc.Reconcile(context.Background(), ReconcileInput{
				Date:           reportDay,
				ExpectedAmount: dec(tt.expected),
				ActualAmount:   dec(tt.actual),
			})
			require.NoError(t, err)
			assert.Equal(t, tt.status, result.Status)
			assert.True(t, result.SystemTotal.Equal(dec("1000")))
			assert.Equal(t, 2, result.PaymentCount)
		})
	}
}

func TestReconcileNetsReversalsAndArchives(t *testing.T) {
	h := newReportHarness(t)
	bill := h.fx.Bill(h.conn.ID, "2000")
	at := reportDay.Add(12 * time.Hour)
	original := h.pay(t, bill.ID, "1000", enums.PaymentMethodCashAtOffice, &h.cashier, at, "")
	h.fx.Payment(models.Payment{
		BillID:       bill.ID,
		Amount:       dec("-250"),
		Method:       enums.PaymentMethodCashAtOffice,
		EmployeeID:   &h.cashier.ID,
		PaymentDate:  at.Add(time.Hour),
		ReversalOfID: &original.ID,
	})
	h.fx.Payment(models.Payment{
		BillID:      bill.ID,
		Amount:      dec("300"),
		Method:      enums.PaymentMethodGatewayCard,
		Status:      enums.PaymentStatusPending,
		PaymentDate: at,
	})

	result, err := h.svc.Reconcile(context.Background(), ReconcileInput{
		Date:           reportDay,
		ExpectedAmount: dec("750"),
		ActualAmount:   dec("750"),
	})
	require.NoError(t, err)
	assert.True(t, result.SystemTotal.Equal(dec("750")))
	assert.Equal(t, enums.ReconciliationBalanced, result.Status)
	require.Len(t, result.ByMethod, 1)
	assert.Equal(t, 2, result.ByMethod[0].Count)

	require.Len(t, h.archive.saved, 1)
	assert.Equal(t, result.ID, h.archive.saved[0].ID)
	assert.Equal(t, testNow, result.ReconciledAt)
}

func TestReconcileToleratesArchiveFailure(t *testing.T) {
	h := newReportHarness(t)
	h.archive.err = errors.New("bigquery unavailable")

	result, err := h.svc.Reconcile(context.Background(), ReconcileInput{
		Date:           reportDay,
		ExpectedAmount: decimal.Zero,
		ActualAmount:   decimal.Zero,
	})
	require.NoError(t, err)
	assert.Equal(t, enums.ReconciliationBalanced, result.Status)
}

func TestReconcileRejectsNegativeAmounts(t *testing.T) {
	h := newReportHarness(t)
	_, err := h.svc.Reconcile(context.Background(), ReconcileInput{
		Date:           reportDay,
		ExpectedAmount: dec("-1"),
		ActualAmount:   dec("10"),
	})
	require.Error(t, err)
	assert.Equal(t, pkgerrors.CodeInvalidAmount, pkgerrors.CodeOf(err))
}

func TestPendingReconciliationListsMissingRefs(t *testing.T) {
	h := newReportHarness(t)
	bill := h.fx.Bill(h.conn.ID, "5000")
	at := reportDay.Add(14 * time.Hour)

	missing := h.pay(t, bill.ID, "100", enums.PaymentMethodBankTransfer, &h.cashier, at, "")
	h.pay(t, bill.ID, "100", enums.PaymentMethodBankTransfer, &h.cashier, at, "TXN-OK")
	h.pay(t, bill.ID, "100", enums.PaymentMethodCashAtOffice, &h.cashier, at, "")
	h.pay(t, bill.ID, "100", enums.PaymentMethodMobileMoney, &h.cashier, at.AddDate(0, 0, 1), "")

	items, err := h.svc.PendingReconciliation(context.Background(), reportDay)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, missing.ID, items[0].PaymentID)
	assert.Equal(t, missing.ReceiptNumber(), items[0].ReceiptNumber)
}

func TestOverpaymentsSurfacesLatestPayment(t *testing.T) {
	h := newReportHarness(t)
	overpaid := h.fx.Bill(h.conn.ID, "1000")
	settled := h.fx.Bill(h.conn.ID, "500")
	at := reportDay.Add(9 * time.Hour)

	h.pay(t, overpaid.ID, "700", enums.PaymentMethodCashAtOffice, &h.cashier, at, "")
	latest := h.pay(t, overpaid.ID, "400", enums.PaymentMethodBankTransfer, &h.cashier, at.Add(time.Hour), "TXN-9")
	h.pay(t, settled.ID, "500", enums.PaymentMethodCashAtOffice, &h.cashier, at, "")

	items, err := h.svc.Overpayments(context.Background())
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, overpaid.ID, items[0].BillID)
	assert.True(t, items[0].OverpaidAmount.Equal(dec("100")))
	require.NotNil(t, items[0].RefundCandidate)
	assert.Equal(t, latest.ID, items[0].RefundCandidate.PaymentID)
}

func TestPolicyDayBoundsUsesTimezone(t *testing.T) {
	loc := time.FixedZone("UTC+3", 3*60*60)
	policy := Policy{VarianceThreshold: dec("0.01"), Location: loc}

	from, to := policy.DayBounds(time.Date(2026, 3, 4, 22, 30, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, loc), from)
	assert.Equal(t, 24*time.Hour, to.Sub(from))
}

func TestPolicyCheckAgainstZeroReference(t *testing.T) {
	check := DefaultPolicy().check(dec("10"), decimal.Zero)
	assert.True(t, check.Significant)
	assert.True(t, check.Percentage.Equal(dec("100")))

	check = DefaultPolicy().check(dec("1010"), dec("1000"))
	assert.False(t, check.Significant)
	assert.True(t, check.Percentage.Equal(dec("1")))
}
