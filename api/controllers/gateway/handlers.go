package gateway

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	paymentcontrollers "github.com/angelmondragon/gridpay-backend/api/controllers/payments"
	"github.com/angelmondragon/gridpay-backend/api/responses"
	"github.com/angelmondragon/gridpay-backend/api/validators"
	"github.com/angelmondragon/gridpay-backend/internal/gateway"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
)

// Service starts customer self-service payments at the gateway.
type Service interface {
	CreateCheckout(ctx context.Context, input gateway.CheckoutInput) (*gateway.CheckoutResult, error)
	CreatePaymentIntent(ctx context.Context, input gateway.IntentInput) (*gateway.IntentResult, error)
}

type checkoutRequest struct {
	BillIDs    []uint64 `json:"billIds" validate:"required,min=1,unique,dive,required"`
	CustomerID uint64   `json:"customerId" validate:"required"`
	SuccessURL string   `json:"successUrl" validate:"required,url"`
	CancelURL  string   `json:"cancelUrl" validate:"required,url"`
}

type intentRequest struct {
	BillIDs    []uint64 `json:"billIds" validate:"required,min=1,unique,dive,required"`
	CustomerID uint64   `json:"customerId" validate:"required"`
}

type checkoutResponse struct {
	SessionID string                               `json:"sessionId"`
	URL       string                               `json:"url"`
	ExpiresAt *time.Time                           `json:"expiresAt,omitempty"`
	Amount    decimal.Decimal                      `json:"amount"`
	Payments  []paymentcontrollers.PaymentResponse `json:"payments"`
}

type intentResponse struct {
	PaymentIntentID string                               `json:"paymentIntentId"`
	ClientSecret    string                               `json:"clientSecret"`
	Amount          decimal.Decimal                      `json:"amount"`
	Payments        []paymentcontrollers.PaymentResponse `json:"payments"`
}

// CreateCheckoutSession opens a hosted Stripe checkout for the customer's
// bills and returns the redirect url.
func CreateCheckoutSession(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "gateway service unavailable"))
			return
		}

		var req checkoutRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreateCheckout(r.Context(), gateway.CheckoutInput{
			BillIDs:        req.BillIDs,
			CustomerID:     req.CustomerID,
			SuccessURL:     req.SuccessURL,
			CancelURL:      req.CancelURL,
			IdempotencyKey: idempotencyKey(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, checkoutResponse{
			SessionID: result.SessionID,
			URL:       result.URL,
			ExpiresAt: result.ExpiresAt,
			Amount:    result.Amount,
			Payments:  paymentcontrollers.NewPaymentResponses(result.Payments),
		})
	}
}

// CreatePaymentIntent starts a direct card payment and returns the client
// secret for the browser to confirm.
func CreatePaymentIntent(svc Service, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if svc == nil {
			responses.WriteError(r.Context(), logg, w, pkgerrors.New(pkgerrors.CodeInternal, "gateway service unavailable"))
			return
		}

		var req intentRequest
		if err := validators.DecodeJSONBody(r, &req); err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		result, err := svc.CreatePaymentIntent(r.Context(), gateway.IntentInput{
			BillIDs:        req.BillIDs,
			CustomerID:     req.CustomerID,
			IdempotencyKey: idempotencyKey(r),
		})
		if err != nil {
			responses.WriteError(r.Context(), logg, w, err)
			return
		}

		responses.WriteSuccessStatus(w, http.StatusCreated, intentResponse{
			PaymentIntentID: result.PaymentIntentID,
			ClientSecret:    result.ClientSecret,
			Amount:          result.Amount,
			Payments:        paymentcontrollers.NewPaymentResponses(result.Payments),
		})
	}
}

// idempotencyKey forwards the client's key so a retried request reuses the
// same Stripe object.
func idempotencyKey(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("Idempotency-Key"))
}
