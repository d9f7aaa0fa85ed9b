package stripewebhook

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v84"
	"gorm.io/gorm"

	"github.com/angelmondragon/gridpay-backend/internal/gateway"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
	"github.com/angelmondragon/gridpay-backend/pkg/metrics"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type eventMarker interface {
	MarkProcessed(ctx context.Context, tx *gorm.DB, provider, eventID, eventType string, at time.Time) (bool, error)
}

// Transitions is the gateway state machine driven by webhook events.
type Transitions interface {
	ConfirmFromWebhook(ctx context.Context, tx *gorm.DB, c gateway.Confirmation) (int, error)
	FailIntent(ctx context.Context, tx *gorm.DB, intentID, reason, eventID string) (int, error)
	CompleteSession(ctx context.Context, tx *gorm.DB, c gateway.SessionCompletion) (int, error)
	ExpireSession(ctx context.Context, tx *gorm.DB, sessionID, eventID string, at time.Time) (int, error)
	ApplyChargeRefund(ctx context.Context, tx *gorm.DB, r gateway.ChargeRefund) (int, error)
}

type ServiceParams struct {
	Logger            *logger.Logger
	TransactionRunner txRunner
	Events            eventMarker
	Gateway           Transitions
	Now               func() time.Time
}

// Service applies verified Stripe events to the ledger exactly once.
type Service struct {
	logg     *logger.Logger
	txRunner txRunner
	events   eventMarker
	gateway  Transitions
	now      func() time.Time
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "logger required")
	}
	if params.TransactionRunner == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "transaction runner required")
	}
	if params.Events == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "processed events repository required")
	}
	if params.Gateway == nil {
		return nil, pkgerrors.New(pkgerrors.CodeInternal, "gateway transitions required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:     params.Logger,
		txRunner: params.TransactionRunner,
		events:   params.Events,
		gateway:  params.Gateway,
		now:      now,
	}, nil
}

// Handles reports whether the event type drives a ledger transition.
func Handles(eventType stripe.EventType) bool {
	switch eventType {
	case stripe.EventTypePaymentIntentSucceeded,
		stripe.EventTypePaymentIntentPaymentFailed,
		stripe.EventTypeCheckoutSessionCompleted,
		stripe.EventTypeCheckoutSessionExpired,
		stripe.EventTypeChargeRefunded:
		return true
	}
	return false
}

// HandleEvent records the event id and applies its effect in one
// transaction. A redelivered event finds its marker and is a no-op. The
// returned outcome is one of the metrics.WebhookOutcome values.
func (s *Service) HandleEvent(ctx context.Context, event *stripe.Event) (string, error) {
	if event == nil || event.Data == nil || event.ID == "" {
		return metrics.WebhookOutcomeFailed, pkgerrors.New(pkgerrors.CodeValidation, "stripe event data required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"stripe_event_id":   event.ID,
		"stripe_event_type": string(event.Type),
	})
	if !Handles(event.Type) {
		return metrics.WebhookOutcomeIgnored, nil
	}

	outcome := metrics.WebhookOutcomeApplied
	rows := 0
	err := s.txRunner.WithTx(ctx, func(tx *gorm.DB) error {
		fresh, err := s.events.MarkProcessed(ctx, tx, ProviderStripe, event.ID, string(event.Type), s.now())
		if err != nil {
			return fmt.Errorf("record webhook event: %w", err)
		}
		if !fresh {
			outcome = metrics.WebhookOutcomeDuplicate
			return nil
		}
		rows, err = s.apply(ctx, tx, event)
		return err
	})
	if err != nil {
		return metrics.WebhookOutcomeFailed, err
	}

	if outcome == metrics.WebhookOutcomeDuplicate {
		s.logg.Info(ctx, "stripe event already processed")
	} else {
		s.logg.Info(s.logg.WithField(ctx, "rows", rows), "stripe event applied")
	}
	return outcome, nil
}

func (s *Service) apply(ctx context.Context, tx *gorm.DB, event *stripe.Event) (int, error) {
	at := eventTime(event)
	switch event.Type {
	case stripe.EventTypePaymentIntentSucceeded:
		var intent stripe.PaymentIntent
		if err := decode(event, &intent); err != nil {
			return 0, err
		}
		amount := intent.AmountReceived
		if amount == 0 {
			amount = intent.Amount
		}
		return s.gateway.ConfirmFromWebhook(ctx, tx, gateway.Confirmation{
			PaymentIntentID: intent.ID,
			ChargeID:        latestChargeID(&intent),
			AmountMinor:     amount,
			Currency:        string(intent.Currency),
			Metadata:        intent.Metadata,
			EventID:         event.ID,
			ConfirmedAt:     at,
		})
	case stripe.EventTypePaymentIntentPaymentFailed:
		var intent stripe.PaymentIntent
		if err := decode(event, &intent); err != nil {
			return 0, err
		}
		return s.gateway.FailIntent(ctx, tx, intent.ID, failureReason(&intent), event.ID)
	case stripe.EventTypeCheckoutSessionCompleted:
		var session stripe.CheckoutSession
		if err := decode(event, &session); err != nil {
			return 0, err
		}
		intentID := ""
		if session.PaymentIntent != nil {
			intentID = session.PaymentIntent.ID
		}
		return s.gateway.CompleteSession(ctx, tx, gateway.SessionCompletion{
			SessionID:       session.ID,
			PaymentIntentID: intentID,
			PaymentStatus:   string(session.PaymentStatus),
			AmountMinor:     session.AmountTotal,
			Metadata:        session.Metadata,
			EventID:         event.ID,
			CompletedAt:     at,
		})
	case stripe.EventTypeCheckoutSessionExpired:
		var session stripe.CheckoutSession
		if err := decode(event, &session); err != nil {
			return 0, err
		}
		return s.gateway.ExpireSession(ctx, tx, session.ID, event.ID, at)
	case stripe.EventTypeChargeRefunded:
		var charge stripe.Charge
		if err := decode(event, &charge); err != nil {
			return 0, err
		}
		refund := gateway.ChargeRefund{
			ChargeID:            charge.ID,
			AmountMinor:         charge.Amount,
			AmountRefundedMinor: charge.AmountRefunded,
			FullyRefunded:       charge.Refunded || (charge.Amount > 0 && charge.AmountRefunded >= charge.Amount),
			RefundID:            latestRefundID(&charge),
			EventID:             event.ID,
			RefundedAt:          at,
		}
		if charge.PaymentIntent != nil {
			refund.PaymentIntentID = charge.PaymentIntent.ID
		}
		return s.gateway.ApplyChargeRefund(ctx, tx, refund)
	}
	return 0, nil
}

func decode(event *stripe.Event, target any) error {
	if err := json.Unmarshal(event.Data.Raw, target); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeValidation, err, fmt.Sprintf("decode %s payload", event.Type))
	}
	return nil
}

func eventTime(event *stripe.Event) time.Time {
	if event.Created <= 0 {
		return time.Time{}
	}
	return time.Unix(event.Created, 0).UTC()
}

func latestChargeID(intent *stripe.PaymentIntent) string {
	if intent.LatestCharge != nil {
		return intent.LatestCharge.ID
	}
	return ""
}

func latestRefundID(charge *stripe.Charge) string {
	if charge.Refunds == nil || len(charge.Refunds.Data) == 0 {
		return ""
	}
	latest := charge.Refunds.Data[0]
	for _, refund := range charge.Refunds.Data[1:] {
		if refund != nil && (latest == nil || refund.Created > latest.Created) {
			latest = refund
		}
	}
	if latest == nil {
		return ""
	}
	return latest.ID
}

func failureReason(intent *stripe.PaymentIntent) string {
	if intent.LastPaymentError == nil {
		return ""
	}
	if intent.LastPaymentError.Msg != "" {
		return intent.LastPaymentError.Msg
	}
	return string(intent.LastPaymentError.Code)
}
