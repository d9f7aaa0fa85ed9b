package payments

import (
	"context"
	"net/http"

	"github.com/angelmondragon/gridpay-backend/api/middleware"
	"github.com/angelmondragon/gridpay-backend/api/responses"
	"github.com/angelmondragon/gridpay-backend/api/validators"
	"github.com/angelmondragon/gridpay-backend/internal/payments"
	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
)

// Service is the ledger surface the payment handlers need.
type Service interface {
	Get(ctx context.Context, id uint64) (*models.Payment, error)
	Record(ctx context.Context, input payments.RecordInput) (*models.Payment, error)
	Update(ctx context.Context, id uint64, input payments.UpdateInput) (*models.Payment, error)
	Allocate(ctx context.Context, input payments.AllocateInput) (*payments.AllocationResult, error)
	Void(ctx context.Context, input payments.VoidInput) (*models.Payment, error)
	Refund(ctx context.Context, input payments.RefundInput) (*models.Payment, error)
}

// RecordPayment records money received against a single bill.
func RecordPayment(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		var req recordPaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Record(r.Context(), req.toInput(middleware.EmployeeIDFromContext(r.Context())))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, NewPaymentResponse(*payment))
	}
}

func GetPayment(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		id, err := validators.ParsePathUint64(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Get(r.Context(), id)
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, NewPaymentResponse(*payment))
	}
}

// UpdatePayment corrects the ref, date or notes of a ledger row.
func UpdatePayment(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		id, err := validators.ParsePathUint64(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req updatePaymentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		payment, err := svc.Update(r.Context(), id, req.toInput(middleware.EmployeeIDFromContext(r.Context())))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccess(w, NewPaymentResponse(*payment))
	}
}

// AllocatePayment spreads one amount across bills in request order.
func AllocatePayment(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		var req allocateRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.Allocate(r.Context(), req.toInput(middleware.EmployeeIDFromContext(r.Context())))
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, result)
	}
}

// VoidPayment reverses a payment in full, refunding gateway payments first.
func VoidPayment(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		id, err := validators.ParsePathUint64(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req voidRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reversal, err := svc.Void(r.Context(), payments.VoidInput{
			PaymentID:  id,
			Reason:     validators.SanitizeString(req.Reason, maxTextLen),
			EmployeeID: middleware.EmployeeIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, NewPaymentResponse(*reversal))
	}
}

// RefundPayment reverses part or all of a payment, returning the reversal row.
func RefundPayment(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "payment service unavailable"))
			return
		}

		id, err := validators.ParsePathUint64(r, "paymentId")
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		var req refundRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		reversal, err := svc.Refund(r.Context(), payments.RefundInput{
			PaymentID:  id,
			Amount:     req.Amount,
			Reason:     validators.SanitizeString(req.Reason, maxTextLen),
			Method:     req.Method,
			EmployeeID: middleware.EmployeeIDFromContext(r.Context()),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}
		responses.WriteSuccessStatus(w, http.StatusCreated, NewPaymentResponse(*reversal))
	}
}
