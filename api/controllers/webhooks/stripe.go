package webhooks

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/stripe/stripe-go/v84"
	"github.com/stripe/stripe-go/v84/webhook"

	"github.com/angelmondragon/gridpay-backend/api/middleware"
	"github.com/angelmondragon/gridpay-backend/api/responses"
	stripewebhook "github.com/angelmondragon/gridpay-backend/internal/webhooks/stripe"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
)

const maxWebhookBody = 64 << 10

type eventQueue interface {
	Enqueue(ctx context.Context, event *stripe.Event) error
}

type signingSecretProvider interface {
	SigningSecret() string
}

// StripeWebhook verifies the Stripe signature, queues the event for the
// dispatcher and acknowledges immediately. Processing outcomes never reach
// the response; a full queue answers 503 so Stripe redelivers.
func StripeWebhook(queue eventQueue, client signingSecretProvider, logg *logger.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()

		if queue == nil || client == nil {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeInternal, "stripe webhooks unavailable"))
			return
		}

		payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "read request body"))
			return
		}

		sigHeader := r.Header.Get("Stripe-Signature")
		if sigHeader == "" {
			responses.WriteError(ctx, logg, w, pkgerrors.New(pkgerrors.CodeValidation, "stripe signature missing"))
			return
		}

		event, err := webhook.ConstructEvent(payload, sigHeader, client.SigningSecret())
		if err != nil {
			responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "verify signature"))
			return
		}

		queueCtx := stripewebhook.WithRequestID(ctx, middleware.RequestIDFromContext(ctx))
		if err := queue.Enqueue(queueCtx, &event); err != nil {
			if errors.Is(err, stripewebhook.ErrQueueFull) || errors.Is(err, stripewebhook.ErrDispatcherClosed) {
				responses.WriteError(ctx, logg, w, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "webhook queue unavailable").
					WithDetails(map[string]any{"event_id": event.ID}))
				return
			}
			responses.WriteError(ctx, logg, w, err)
			return
		}

		if logg != nil {
			logg.Info(logg.WithFields(ctx, map[string]any{
				"stripe_event_id":   event.ID,
				"stripe_event_type": string(event.Type),
			}), "stripe.webhook.accepted")
		}
		responses.WriteSuccess(w, map[string]bool{"received": true})
	}
}
