package reports

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/gridpay-backend/api/middleware"
	"github.com/angelmondragon/gridpay-backend/internal/reconciliation"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
)

type fakeReports struct {
	employeeID uint64
	date       time.Time
	opening    decimal.Decimal
	reconcile  reconciliation.ReconcileInput
}

func (f *fakeReports) DailyCollectionReport(_ context.Context, employeeID uint64, date time.Time, opening decimal.Decimal) (*reconciliation.DailyCollection, error) {
	f.employeeID, f.date, f.opening = employeeID, date, opening
	return &reconciliation.DailyCollection{EmployeeID: employeeID}, nil
}

func (f *fakeReports) Reconcile(_ context.Context, input reconciliation.ReconcileInput) (*reconciliation.Result, error) {
	f.reconcile = input
	return &reconciliation.Result{Status: enums.ReconciliationBalanced}, nil
}

func (f *fakeReports) PendingReconciliation(_ context.Context, date time.Time) ([]reconciliation.PendingItem, error) {
	f.date = date
	return nil, nil
}

func (f *fakeReports) Overpayments(context.Context) ([]reconciliation.Overpayment, error) {
	return nil, nil
}

func asEmployee(req *http.Request, id uint64, role enums.EmployeeRole) *http.Request {
	return req.WithContext(middleware.WithEmployee(req.Context(), id, role))
}

func TestDailyCollectionDefaultsToCaller(t *testing.T) {
	svc := &fakeReports{}
	req := asEmployee(httptest.NewRequest(http.MethodGet, "/?date=2026-03-05&openingBalance=50.00", nil), 7, enums.EmployeeRoleCashier)
	rec := httptest.NewRecorder()
	DailyCollection(svc, time.UTC, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, uint64(7), svc.employeeID)
	assert.Equal(t, time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC), svc.date)
	assert.True(t, svc.opening.Equal(decimal.NewFromInt(50)))
}

func TestDailyCollectionCashierCannotReadOthers(t *testing.T) {
	req := asEmployee(httptest.NewRequest(http.MethodGet, "/?date=2026-03-05&employeeId=8", nil), 7, enums.EmployeeRoleCashier)
	rec := httptest.NewRecorder()
	DailyCollection(&fakeReports{}, time.UTC, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)
}

func TestDailyCollectionSupervisorReadsOthers(t *testing.T) {
	svc := &fakeReports{}
	req := asEmployee(httptest.NewRequest(http.MethodGet, "/?date=2026-03-05&employeeId=8", nil), 7, enums.EmployeeRoleSupervisor)
	rec := httptest.NewRecorder()
	DailyCollection(svc, time.UTC, nil).ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, uint64(8), svc.employeeID)
}

func TestDailyCollectionRequiresDate(t *testing.T) {
	req := asEmployee(httptest.NewRequest(http.MethodGet, "/", nil), 7, enums.EmployeeRoleCashier)
	rec := httptest.NewRecorder()
	DailyCollection(&fakeReports{}, time.UTC, nil).ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestReconcileRecordsCaller(t *testing.T) {
	svc := &fakeReports{}
	req := asEmployee(httptest.NewRequest(http.MethodPost, "/", strings.NewReader(
		`{"date":"2026-03-05","expectedAmount":"1000.00","actualAmount":"995.00"}`)), 9, enums.EmployeeRoleSupervisor)
	rec := httptest.NewRecorder()
	Reconcile(svc, time.UTC, nil).ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NotNil(t, svc.reconcile.EmployeeID)
	assert.Equal(t, uint64(9), *svc.reconcile.EmployeeID)
	assert.True(t, svc.reconcile.ActualAmount.Equal(decimal.NewFromInt(995)))
}

func TestListsRenderEmptyArrays(t *testing.T) {
	rec := httptest.NewRecorder()
	PendingReconciliation(&fakeReports{}, time.UTC, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/?date=2026-03-05", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())

	rec = httptest.NewRecorder()
	Overpayments(&fakeReports{}, nil).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"data":[]}`, rec.Body.String())
}
