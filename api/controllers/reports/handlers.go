package reports

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gridpay-backend/api/middleware"
	"github.com/angelmondragon/gridpay-backend/api/responses"
	"github.com/angelmondragon/gridpay-backend/api/validators"
	"github.com/angelmondragon/gridpay-backend/internal/reconciliation"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
)

// Service is the read-only reporting surface.
type Service interface {
	DailyCollectionReport(ctx context.Context, employeeID uint64, date time.Time, opening decimal.Decimal) (*reconciliation.DailyCollection, error)
	Reconcile(ctx context.Context, input reconciliation.ReconcileInput) (*reconciliation.Result, error)
	PendingReconciliation(ctx context.Context, date time.Time) ([]reconciliation.PendingItem, error)
	Overpayments(ctx context.Context) ([]reconciliation.Overpayment, error)
}

type reconcileRequest struct {
	Date           string          `json:"date" validate:"required"`
	ExpectedAmount decimal.Decimal `json:"expectedAmount"`
	ActualAmount   decimal.Decimal `json:"actualAmount"`
}

// DailyCollection reports one employee's takings for a day. Cashiers may
// only read their own report; employeeId defaults to the caller.
func DailyCollection(svc Service, loc *time.Location, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "report service unavailable"))
			return
		}

		caller := middleware.EmployeeIDFromContext(ctx)
		employeeID := caller
		if strings.TrimSpace(r.URL.Query().Get("employeeId")) != "" {
			id, err := validators.ParseQueryUint64(r, "employeeId")
			if err != nil {
				responses.WriteError(ctx, logg, w, err)
				return
			}
			employeeID = id
		}
		if employeeID != caller && middleware.RoleFromContext(ctx) == enums.EmployeeRoleCashier {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeForbidden, "cashiers may only view their own collection"))
			return
		}

		date, err := validators.ParseQueryDate(r, "date", loc)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		opening, err := validators.ParseQueryDecimal(r, "openingBalance", decimal.Zero)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		report, err := svc.DailyCollectionReport(ctx, employeeID, date, opening)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, report)
	}
}

// Reconcile compares the counted takings for a day against the expected
// figure and the ledger.
func Reconcile(svc Service, loc *time.Location, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "report service unavailable"))
			return
		}

		var req reconcileRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		date, err := validators.ParseDate(req.Date, "date", loc)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		input := reconciliation.ReconcileInput{
			Date:           date,
			ExpectedAmount: req.ExpectedAmount,
			ActualAmount:   req.ActualAmount,
		}
		if caller := middleware.EmployeeIDFromContext(ctx); caller != 0 {
			input.EmployeeID = &caller
		}

		result, err := svc.Reconcile(ctx, input)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		responses.WriteSuccess(w, result)
	}
}

func PendingReconciliation(svc Service, loc *time.Location, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "report service unavailable"))
			return
		}

		date, err := validators.ParseQueryDate(r, "date", loc)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}

		items, err := svc.PendingReconciliation(ctx, date)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if items == nil {
			items = []reconciliation.PendingItem{}
		}
		responses.WriteSuccess(w, items)
	}
}

func Overpayments(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if svc == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "report service unavailable"))
			return
		}

		items, err := svc.Overpayments(ctx)
		if err != nil {
			responses.WriteError(ctx, logg, w, err)
			return
		}
		if items == nil {
			items = []reconciliation.Overpayment{}
		}
		responses.WriteSuccess(w, items)
	}
}
