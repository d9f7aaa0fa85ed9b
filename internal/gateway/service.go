package gateway

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/gridpay-backend/internal/payments"
	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
	"github.com/angelmondragon/gridpay-backend/pkg/metrics"
	"github.com/angelmondragon/gridpay-backend/pkg/outbox"
	pkgstripe "github.com/angelmondragon/gridpay-backend/pkg/stripe"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// CheckoutAPI is the slice of the Stripe client used to start payments.
type CheckoutAPI interface {
	CreateCheckoutSession(ctx context.Context, req pkgstripe.CheckoutSessionRequest) (*pkgstripe.CheckoutSession, error)
	CreatePaymentIntent(ctx context.Context, req pkgstripe.PaymentIntentRequest) (*pkgstripe.PaymentIntent, error)
}

type billReader interface {
	Get(ctx context.Context, id uint64) (*models.Bill, error)
	LoadForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*models.Bill, error)
	LoadManyForUpdate(ctx context.Context, tx *gorm.DB, ids []uint64) ([]models.Bill, error)
	ResolveCustomerForBill(ctx context.Context, tx *gorm.DB, billID uint64) (uint64, error)
}

type customerReader interface {
	Get(ctx context.Context, id uint64) (*models.Customer, error)
}

// ServiceParams wires the gateway service.
type ServiceParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Payments  *payments.Repository
	Bills     billReader
	Customers customerReader
	Stripe    CheckoutAPI
	Outbox    outbox.Emitter
	Metrics   *metrics.LedgerMetrics
	Currency  string
	Now       func() time.Time
}

// Service starts gateway payments and drives their rows through the
// pending -> completed/failed/cancelled/refunded state machine.
type Service struct {
	logg      *logger.Logger
	db        txRunner
	payments  *payments.Repository
	bills     billReader
	customers customerReader
	stripe    CheckoutAPI
	outbox    outbox.Emitter
	metrics   *metrics.LedgerMetrics
	currency  string
	now       func() time.Time
}

// NewService validates and builds the gateway service. Stripe may be nil
// for processes that only apply webhooks and sweeps.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Bills == nil {
		return nil, fmt.Errorf("bill reader required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	currency := strings.ToLower(strings.TrimSpace(params.Currency))
	if currency == "" {
		currency = "usd"
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:      params.Logger,
		db:        params.DB,
		payments:  params.Payments,
		bills:     params.Bills,
		customers: params.Customers,
		stripe:    params.Stripe,
		outbox:    params.Outbox,
		metrics:   params.Metrics,
		currency:  currency,
		now:       now,
	}, nil
}

// CheckoutInput starts a hosted checkout for a customer's bills.
type CheckoutInput struct {
	BillIDs        []uint64
	CustomerID     uint64
	SuccessURL     string
	CancelURL      string
	IdempotencyKey string
}

// CheckoutResult carries the redirect target and the pending rows.
type CheckoutResult struct {
	SessionID string           `json:"sessionId"`
	URL       string           `json:"url"`
	ExpiresAt *time.Time       `json:"expiresAt,omitempty"`
	Amount    decimal.Decimal  `json:"amount"`
	Payments  []models.Payment `json:"payments"`
}

// IntentInput starts a direct card payment for a customer's bills.
type IntentInput struct {
	BillIDs        []uint64
	CustomerID     uint64
	IdempotencyKey string
}

// IntentResult carries the client secret and the pending rows.
type IntentResult struct {
	PaymentIntentID string           `json:"paymentIntentId"`
	ClientSecret    string           `json:"clientSecret"`
	Amount          decimal.Decimal  `json:"amount"`
	Payments        []models.Payment `json:"payments"`
}

// CreateCheckout opens a Stripe checkout session covering the payable
// balance of each bill and records one pending row per bill.
func (s *Service) CreateCheckout(ctx context.Context, input CheckoutInput) (*CheckoutResult, error) {
	if strings.TrimSpace(input.SuccessURL) == "" || strings.TrimSpace(input.CancelURL) == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "success and cancel urls are required")
	}
	customer, shares, bills, err := s.prepare(ctx, input.BillIDs, input.CustomerID)
	if err != nil {
		return nil, err
	}
	if s.stripe == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway is not configured")
	}

	items := make([]pkgstripe.LineItem, 0, len(shares))
	for i, share := range shares {
		items = append(items, pkgstripe.LineItem{
			Name:        fmt.Sprintf("Bill %s", bills[i].BillNumber),
			AmountMinor: ToMinorUnits(share.Amount),
		})
	}
	req := pkgstripe.CheckoutSessionRequest{
		Currency:              s.currency,
		SuccessURL:            input.SuccessURL,
		CancelURL:             input.CancelURL,
		ClientReferenceID:     fmt.Sprintf("customer-%d", customer.ID),
		LineItems:             items,
		Metadata:              encodeMetadata(customer.ID, shares, ""),
		PaymentIntentMetadata: encodeMetadata(customer.ID, shares, sourceCheckout),
		IdempotencyKey:        input.IdempotencyKey,
	}
	if customer.GatewayCustomerID != nil {
		req.CustomerID = *customer.GatewayCustomerID
	} else if customer.Email != nil {
		req.CustomerEmail = *customer.Email
	}
	session, err := s.stripe.CreateCheckoutSession(ctx, req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create checkout session")
	}

	ctx = s.logg.WithField(ctx, "checkout_session_id", session.ID)
	rows, err := s.insertPending(ctx, customer, shares, func(p *models.Payment) {
		p.TransactionRef = strPtr(session.ID)
		p.CheckoutSessionID = strPtr(session.ID)
		if session.PaymentIntentID != "" {
			p.GatewayPaymentIntentID = strPtr(session.PaymentIntentID)
		}
	})
	if err != nil {
		s.logg.Error(ctx, "checkout session created but pending rows not recorded", err)
		return nil, internalAfterGateway(err, "checkout_session_id", session.ID)
	}

	result := &CheckoutResult{
		SessionID: session.ID,
		URL:       session.URL,
		Amount:    sumShares(shares),
		Payments:  rows,
	}
	if !session.ExpiresAt.IsZero() {
		expires := session.ExpiresAt
		result.ExpiresAt = &expires
	}
	s.logg.Info(s.logg.WithField(ctx, "amount", result.Amount.StringFixed(2)), "checkout session created")
	return result, nil
}

// CreatePaymentIntent creates one Stripe intent for the combined payable
// balance and records one pending row per bill keyed by the intent id.
func (s *Service) CreatePaymentIntent(ctx context.Context, input IntentInput) (*IntentResult, error) {
	customer, shares, _, err := s.prepare(ctx, input.BillIDs, input.CustomerID)
	if err != nil {
		return nil, err
	}
	if s.stripe == nil {
		return nil, pkgerrors.New(pkgerrors.CodeDependency, "gateway is not configured")
	}

	total := sumShares(shares)
	req := pkgstripe.PaymentIntentRequest{
		AmountMinor:    ToMinorUnits(total),
		Currency:       s.currency,
		Metadata:       encodeMetadata(customer.ID, shares, sourceIntent),
		IdempotencyKey: input.IdempotencyKey,
	}
	if customer.GatewayCustomerID != nil {
		req.CustomerID = *customer.GatewayCustomerID
	}
	intent, err := s.stripe.CreatePaymentIntent(ctx, req)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "create payment intent")
	}

	ctx = s.logg.WithField(ctx, "payment_intent_id", intent.ID)
	rows, err := s.insertPending(ctx, customer, shares, func(p *models.Payment) {
		p.TransactionRef = strPtr(intent.ID)
		p.GatewayPaymentIntentID = strPtr(intent.ID)
	})
	if err != nil {
		s.logg.Error(ctx, "payment intent created but pending rows not recorded", err)
		return nil, internalAfterGateway(err, "payment_intent_id", intent.ID)
	}

	s.logg.Info(s.logg.WithField(ctx, "amount", total.StringFixed(2)), "payment intent created")
	return &IntentResult{
		PaymentIntentID: intent.ID,
		ClientSecret:    intent.ClientSecret,
		Amount:          total,
		Payments:        rows,
	}, nil
}

// prepare runs the read-only checks shared by checkout and intents and
// returns each bill's payable share in caller order.
func (s *Service) prepare(ctx context.Context, billIDs []uint64, customerID uint64) (*models.Customer, []billShare, []models.Bill, error) {
	if len(billIDs) == 0 {
		return nil, nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one bill is required")
	}
	seen := make(map[uint64]struct{}, len(billIDs))
	for _, id := range billIDs {
		if _, dup := seen[id]; dup {
			return nil, nil, nil, pkgerrors.New(pkgerrors.CodeValidation, "bill ids must be unique").
				WithDetails(map[string]any{"bill_id": id})
		}
		seen[id] = struct{}{}
	}
	if s.customers == nil {
		return nil, nil, nil, pkgerrors.New(pkgerrors.CodeInternal, "customer reader not configured")
	}
	customer, err := s.customers.Get(ctx, customerID)
	if err != nil {
		return nil, nil, nil, err
	}

	shares := make([]billShare, 0, len(billIDs))
	bills := make([]models.Bill, 0, len(billIDs))
	for _, id := range billIDs {
		bill, err := s.bills.Get(ctx, id)
		if err != nil {
			return nil, nil, nil, err
		}
		owner, err := s.bills.ResolveCustomerForBill(ctx, nil, id)
		if err != nil {
			return nil, nil, nil, err
		}
		if owner != customer.ID {
			return nil, nil, nil, pkgerrors.New(pkgerrors.CodeForbidden, "bill does not belong to customer").
				WithDetails(map[string]any{"bill_id": id, "customer_id": customer.ID})
		}
		payable := bill.PayableBalance()
		if !payable.IsPositive() {
			return nil, nil, nil, pkgerrors.New(pkgerrors.CodeInvalidState, "bill has no payable balance").
				WithDetails(map[string]any{
					"bill_id":     id,
					"outstanding": bill.OutstandingBalance().StringFixed(2),
					"pending":     bill.PendingAmount().StringFixed(2),
				})
		}
		shares = append(shares, billShare{BillID: id, Amount: payable})
		bills = append(bills, *bill)
	}
	return customer, shares, bills, nil
}

// insertPending writes one pending row per share. Each bill is re-locked so
// a concurrent checkout cannot claim the same balance twice.
func (s *Service) insertPending(ctx context.Context, customer *models.Customer, shares []billShare, stamp func(*models.Payment)) ([]models.Payment, error) {
	ids := make([]uint64, len(shares))
	for i, share := range shares {
		ids[i] = share.BillID
	}
	now := s.now().UTC()
	channel := enums.PaymentChannelSelfService
	rows := make([]models.Payment, 0, len(shares))
	err := s.db.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.bills.LoadManyForUpdate(ctx, tx, ids)
		if err != nil {
			return err
		}
		for i, share := range shares {
			if locked[i].PayableBalance().LessThan(share.Amount) {
				return pkgerrors.New(pkgerrors.CodeConflict, "bill balance changed while starting payment").
					WithDetails(map[string]any{
						"bill_id": share.BillID,
						"payable": locked[i].PayableBalance().StringFixed(2),
					})
			}
			customerID := customer.ID
			row := models.Payment{
				BillID:            share.BillID,
				CustomerID:        &customerID,
				PaymentDate:       now,
				Amount:            share.Amount,
				Method:            enums.PaymentMethodGatewayCard,
				Channel:           &channel,
				Status:            enums.PaymentStatusPending,
				GatewayCustomerID: customer.GatewayCustomerID,
				CreatedAt:         now,
			}
			stamp(&row)
			if err := s.payments.Create(ctx, tx, &row); err != nil {
				return err
			}
			rows = append(rows, row)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

func internalAfterGateway(err error, key, id string) error {
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "gateway payment started but not recorded").
		WithDetails(map[string]any{key: id})
}

func sumShares(shares []billShare) decimal.Decimal {
	total := decimal.Zero
	for _, share := range shares {
		total = total.Add(share.Amount)
	}
	return total
}

func strPtr(v string) *string {
	return &v
}
