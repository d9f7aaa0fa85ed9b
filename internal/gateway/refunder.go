package gateway

import (
	"context"
	"strings"

	"github.com/angelmondragon/gridpay-backend/internal/payments"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
	"github.com/angelmondragon/gridpay-backend/pkg/square"
	pkgstripe "github.com/angelmondragon/gridpay-backend/pkg/stripe"
)

// StripeRefunds issues card gateway refunds.
type StripeRefunds interface {
	RefundPayment(ctx context.Context, req pkgstripe.RefundRequest) (*pkgstripe.Refund, error)
}

// TerminalRefunds issues card-terminal refunds.
type TerminalRefunds interface {
	RefundPayment(ctx context.Context, params square.RefundParams) (*square.Refund, error)
}

// RefunderParams wires the gateway refunder. Either processor may be nil.
type RefunderParams struct {
	Logger   *logger.Logger
	Stripe   StripeRefunds
	Terminal TerminalRefunds
	Currency string
}

// Refunder routes ledger refunds to the processor that took the money.
type Refunder struct {
	logg     *logger.Logger
	stripe   StripeRefunds
	terminal TerminalRefunds
	currency string
}

// NewRefunder builds a Refunder.
func NewRefunder(params RefunderParams) *Refunder {
	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Refunder{
		logg:     params.Logger,
		stripe:   params.Stripe,
		terminal: params.Terminal,
		currency: currency,
	}
}

// Refund implements payments.GatewayRefunder.
func (r *Refunder) Refund(ctx context.Context, req payments.RefundRequest) (*payments.RefundResult, error) {
	switch {
	case req.Method.IsGateway():
		return r.refundCard(ctx, req)
	case req.Method == enums.PaymentMethodCardTerminal:
		return r.refundTerminal(ctx, req)
	default:
		return nil, nil
	}
}

func (r *Refunder) refundCard(ctx context.Context, req payments.RefundRequest) (*payments.RefundResult, error) {
	if r.stripe == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway refunds are not configured")
	}
	if req.ChargeID == "" && req.PaymentIntentID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "payment has no gateway charge or intent id").
			WithDetails(map[string]any{"payment_id": req.PaymentID})
	}
	refund, err := r.stripe.RefundPayment(ctx, pkgstripe.RefundRequest{
		ChargeID:        req.ChargeID,
		PaymentIntentID: req.PaymentIntentID,
		AmountMinor:     ToMinorUnits(req.Amount),
		Reason:          req.Reason,
		Metadata:        map[string]string{"ledger_refund_ref": req.IdempotencyKey},
		IdempotencyKey:  req.IdempotencyKey,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "stripe refund failed").
			WithDetails(map[string]any{"payment_id": req.PaymentID})
	}
	r.logRefund(ctx, "stripe", req, refund.ID)
	return &payments.RefundResult{RefundID: refund.ID, Status: refund.Status}, nil
}

func (r *Refunder) refundTerminal(ctx context.Context, req payments.RefundRequest) (*payments.RefundResult, error) {
	if r.terminal == nil {
		return nil, nil
	}
	if strings.TrimSpace(req.TransactionRef) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidState, "terminal payment has no processor reference").
			WithDetails(map[string]any{"payment_id": req.PaymentID})
	}
	refund, err := r.terminal.RefundPayment(ctx, square.RefundParams{
		PaymentID:      req.TransactionRef,
		AmountCents:    ToMinorUnits(req.Amount),
		Currency:       r.currency,
		Reason:         req.Reason,
		IdempotencyKey: req.IdempotencyKey,
	})
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "terminal refund failed").
			WithDetails(map[string]any{"payment_id": req.PaymentID})
	}
	r.logRefund(ctx, "square", req, refund.ID)
	return &payments.RefundResult{RefundID: refund.ID, Status: refund.Status}, nil
}

func (r *Refunder) logRefund(ctx context.Context, processor string, req payments.RefundRequest, refundID string) {
	if r.logg == nil {
		return
	}
	r.logg.Info(r.logg.WithFields(ctx, map[string]any{
		"processor":  processor,
		"payment_id": req.PaymentID,
		"refund_id":  refundID,
		"amount":     req.Amount.StringFixed(2),
	}), "gateway refund issued")
}
