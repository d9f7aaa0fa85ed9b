package stripe

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/checkout/session"
	"github.com/stripe/stripe-go/v84/paymentintent"
	"github.com/stripe/stripe-go/v84/refund"
)

// LineItem is one priced row of a hosted checkout page.
type LineItem struct {
	Name        string
	AmountMinor int64
}

// CheckoutSessionRequest describes a one-off hosted payment page.
type CheckoutSessionRequest struct {
	Currency              string
	SuccessURL            string
	CancelURL             string
	CustomerID            string
	CustomerEmail         string
	ClientReferenceID     string
	LineItems             []LineItem
	Metadata              map[string]string
	PaymentIntentMetadata map[string]string
	IdempotencyKey        string
}

// CheckoutSession is the subset of the Stripe session the ledger keeps.
type CheckoutSession struct {
	ID              string
	URL             string
	PaymentIntentID string
	ExpiresAt       time.Time
}

// PaymentIntentRequest describes a direct card charge.
type PaymentIntentRequest struct {
	AmountMinor    int64
	Currency       string
	CustomerID     string
	Metadata       map[string]string
	IdempotencyKey string
}

// PaymentIntent is the subset of the Stripe intent the ledger keeps.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
}

// RefundRequest returns money on a charge, or on the latest charge of an intent.
type RefundRequest struct {
	ChargeID        string
	PaymentIntentID string
	AmountMinor     int64
	Reason          string
	Metadata        map[string]string
	IdempotencyKey  string
}

// Refund is the subset of the Stripe refund the ledger keeps.
type Refund struct {
	ID     string
	Status string
}

// CreateCheckoutSession opens a payment-mode checkout session.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutSessionRequest) (*CheckoutSession, error) {
	if len(req.LineItems) == 0 {
		return nil, errors.New("checkout session requires line items")
	}
	params := &stripe.CheckoutSessionParams{
		Mode:       stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL: stripe.String(req.SuccessURL),
		CancelURL:  stripe.String(req.CancelURL),
		Metadata:   req.Metadata,
		PaymentIntentData: &stripe.CheckoutSessionPaymentIntentDataParams{
			Metadata: req.PaymentIntentMetadata,
		},
	}
	params.Context = ctx
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	} else if req.CustomerEmail != "" {
		params.CustomerEmail = stripe.String(req.CustomerEmail)
	}
	if req.ClientReferenceID != "" {
		params.ClientReferenceID = stripe.String(req.ClientReferenceID)
	}
	currency := strings.ToLower(req.Currency)
	for _, item := range req.LineItems {
		params.LineItems = append(params.LineItems, &stripe.CheckoutSessionLineItemParams{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:   stripe.String(currency),
				UnitAmount: stripe.Int64(item.AmountMinor),
				ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
					Name: stripe.String(item.Name),
				},
			},
		})
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	created, err := session.New(params)
	if err != nil {
		return nil, err
	}
	out := &CheckoutSession{ID: created.ID, URL: created.URL}
	if created.PaymentIntent != nil {
		out.PaymentIntentID = created.PaymentIntent.ID
	}
	if created.ExpiresAt > 0 {
		out.ExpiresAt = time.Unix(created.ExpiresAt, 0).UTC()
	}
	return out, nil
}

// CreatePaymentIntent creates an intent confirmed later by the client.
func (c *Client) CreatePaymentIntent(ctx context.Context, req PaymentIntentRequest) (*PaymentIntent, error) {
	if req.AmountMinor <= 0 {
		return nil, errors.New("payment intent amount must be positive")
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Currency: stripe.String(strings.ToLower(req.Currency)),
		Metadata: req.Metadata,
		AutomaticPaymentMethods: &stripe.PaymentIntentAutomaticPaymentMethodsParams{
			Enabled: stripe.Bool(true),
		},
	}
	params.Context = ctx
	if req.CustomerID != "" {
		params.Customer = stripe.String(req.CustomerID)
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	intent, err := paymentintent.New(params)
	if err != nil {
		return nil, err
	}
	return &PaymentIntent{
		ID:           intent.ID,
		ClientSecret: intent.ClientSecret,
		Status:       string(intent.Status),
	}, nil
}

// RefundPayment refunds part or all of a charge.
func (c *Client) RefundPayment(ctx context.Context, req RefundRequest) (*Refund, error) {
	if req.ChargeID == "" && req.PaymentIntentID == "" {
		return nil, errors.New("refund requires a charge or payment intent id")
	}
	params := &stripe.RefundParams{
		Amount:   stripe.Int64(req.AmountMinor),
		Metadata: req.Metadata,
		Reason:   stripe.String(string(stripe.RefundReasonRequestedByCustomer)),
	}
	params.Context = ctx
	if req.ChargeID != "" {
		params.Charge = stripe.String(req.ChargeID)
	} else {
		params.PaymentIntent = stripe.String(req.PaymentIntentID)
	}
	if req.Reason != "" {
		if params.Metadata == nil {
			params.Metadata = map[string]string{}
		}
		params.Metadata["reason"] = req.Reason
	}
	if req.IdempotencyKey != "" {
		params.SetIdempotencyKey(req.IdempotencyKey)
	}

	created, err := refund.New(params)
	if err != nil {
		return nil, err
	}
	return &Refund{ID: created.ID, Status: string(created.Status)}, nil
}
