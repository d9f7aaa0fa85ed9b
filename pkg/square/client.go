// Package square issues card-terminal refunds through Square.
package square

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	sq "github.com/square/square-go-sdk"
	sqclient "github.com/square/square-go-sdk/client"
	sqoption "github.com/square/square-go-sdk/option"

	"github.com/angelmondragon/gridpay-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
)

var baseURLs = map[string]string{
	"sandbox":    "https://connect.squareupsandbox.com",
	"production": "https://connect.squareup.com",
}

var (
	errAccessTokenRequired = errors.New("square access token is required")
	errPaymentIDRequired   = errors.New("square payment id is required")
	errAmountRequired      = errors.New("square refund amount must be positive")
)

// refundsAPI is the slice of the SDK the client drives.
type refundsAPI interface {
	RefundPayment(ctx context.Context, req *sq.RefundPaymentRequest, opts ...sqoption.RequestOption) (*sq.RefundPaymentResponse, error)
}

// Client refunds terminal payments.
type Client struct {
	refunds refundsAPI
	env     string
	logg    *logger.Logger
}

// NewClient validates the credentials and builds the SDK client.
func NewClient(ctx context.Context, cfg config.SquareConfig, logg *logger.Logger) (*Client, error) {
	env := cfg.Environment()
	baseURL, ok := baseURLs[env]
	if !ok {
		return nil, fmt.Errorf("square environment %q is not sandbox or production", env)
	}
	token := strings.TrimSpace(cfg.AccessToken)
	if token == "" {
		return nil, errAccessTokenRequired
	}

	sdk := sqclient.NewClient(sqoption.WithBaseURL(baseURL), sqoption.WithToken(token))
	c := &Client{refunds: sdk.Refunds, env: env, logg: logg}
	if logg != nil {
		logg.Info(logg.WithField(ctx, "square_env", env), "square client ready")
	}
	return c, nil
}

// Environment reports sandbox or production.
func (c *Client) Environment() string {
	if c == nil {
		return ""
	}
	return c.env
}

// RefundPayment returns AmountCents of a terminal payment to the card. A
// blank idempotency key is replaced with a generated one.
func (c *Client) RefundPayment(ctx context.Context, params RefundParams) (*Refund, error) {
	if c == nil || c.refunds == nil {
		return nil, errAccessTokenRequired
	}
	req, err := params.request()
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "invalid terminal refund")
	}

	ctx = c.withFields(ctx, map[string]any{
		"square_payment_id": *req.PaymentID,
		"amount_cents":      params.AmountCents,
	})
	resp, err := c.refunds.RefundPayment(ctx, req)
	if err != nil {
		mapped := mapError(err, "refund payment")
		if c.logg != nil {
			c.logg.Error(ctx, "square refund failed", mapped)
		}
		return nil, mapped
	}
	refund := resp.GetRefund()
	if refund == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "square refund response missing refund")
	}

	out := &Refund{ID: refund.GetID()}
	if status := refund.GetStatus(); status != nil {
		out.Status = *status
	}
	if c.logg != nil {
		c.logg.Info(c.withFields(ctx, map[string]any{"refund_id": out.ID, "refund_status": out.Status}), "square refund created")
	}
	return out, nil
}

func (c *Client) withFields(ctx context.Context, fields map[string]any) context.Context {
	if c.logg == nil {
		return ctx
	}
	return c.logg.WithFields(ctx, fields)
}

// RefundParams identifies the terminal payment to refund and how much.
type RefundParams struct {
	PaymentID      string
	AmountCents    int64
	Currency       string
	Reason         string
	IdempotencyKey string
}

// Refund is the part of a Square refund the ledger keeps.
type Refund struct {
	ID     string
	Status string
}

func (p RefundParams) request() (*sq.RefundPaymentRequest, error) {
	paymentID := strings.TrimSpace(p.PaymentID)
	if paymentID == "" {
		return nil, errPaymentIDRequired
	}
	if p.AmountCents <= 0 {
		return nil, errAmountRequired
	}
	currency := sq.Currency(strings.ToUpper(strings.TrimSpace(p.Currency)))
	if currency == "" {
		currency = sq.Currency("USD")
	}
	key := strings.TrimSpace(p.IdempotencyKey)
	if key == "" {
		key = "refund-" + uuid.NewString()
	}

	amount := p.AmountCents
	req := &sq.RefundPaymentRequest{
		IdempotencyKey: key,
		PaymentID:      &paymentID,
		AmountMoney:    &sq.Money{Amount: &amount, Currency: &currency},
	}
	if reason := strings.TrimSpace(p.Reason); reason != "" {
		req.Reason = &reason
	}
	return req, nil
}
