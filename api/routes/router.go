package routes

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/gridpay-backend/api/controllers"
	gatewaycontrollers "github.com/angelmondragon/gridpay-backend/api/controllers/gateway"
	paymentcontrollers "github.com/angelmondragon/gridpay-backend/api/controllers/payments"
	reportcontrollers "github.com/angelmondragon/gridpay-backend/api/controllers/reports"
	webhookcontrollers "github.com/angelmondragon/gridpay-backend/api/controllers/webhooks"
	"github.com/angelmondragon/gridpay-backend/api/middleware"
	"github.com/angelmondragon/gridpay-backend/pkg/config"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
	"github.com/angelmondragon/gridpay-backend/pkg/metrics"
)

type webhookQueue interface {
	Enqueue(ctx context.Context, event *stripe.Event) error
}

type signingSecretProvider interface {
	SigningSecret() string
}

// Dependencies are the services and stores the API surface is built on.
// Nil stores disable the middleware that uses them.
type Dependencies struct {
	Tokens           middleware.TokenVerifier
	Payments         paymentcontrollers.Service
	Gateway          gatewaycontrollers.Service
	Reports          reportcontrollers.Service
	Webhooks         webhookQueue
	Stripe           signingSecretProvider
	IdempotencyStore middleware.IdempotencyStore
	RateLimitStore   middleware.RateLimitStore
	HTTPMetrics      *metrics.HTTPMetrics
	MetricsHandler   http.Handler
	Ready            map[string]controllers.Pinger
	ReportLocation   *time.Location
}

var (
	supervisors = []enums.EmployeeRole{enums.EmployeeRoleSupervisor, enums.EmployeeRoleManager, enums.EmployeeRoleAdmin}
)

func NewRouter(cfg *config.Config, logg *logger.Logger, deps Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(
		middleware.Recoverer(logg),
		middleware.RequestID(logg),
		middleware.AccessLog(logg),
		middleware.Metrics(deps.HTTPMetrics),
		middleware.CORS(cfg.App.CORSOrigins),
	)

	loc := deps.ReportLocation
	if loc == nil {
		loc = time.UTC
	}

	r.Route("/health", func(r chi.Router) {
		r.Get("/live", controllers.HealthLive(cfg))
		r.Get("/ready", controllers.HealthReady(cfg, logg, deps.Ready))
	})
	if deps.MetricsHandler != nil {
		r.Method(http.MethodGet, "/metrics", deps.MetricsHandler)
	}

	r.Route("/api/v1/webhooks", func(r chi.Router) {
		r.Post("/stripe", webhookcontrollers.StripeWebhook(deps.Webhooks, deps.Stripe, logg))
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(middleware.Auth(deps.Tokens, logg))
		r.Use(middleware.Idempotency(deps.IdempotencyStore, cfg.Redis.IdempotencyTTL, logg))
		r.Use(middleware.RateLimit(middleware.RateLimitPolicyFromConfig("api", cfg.RateLimit), deps.RateLimitStore, logg))

		r.Route("/payments", func(r chi.Router) {
			r.Post("/", paymentcontrollers.RecordPayment(deps.Payments, logg))
			r.Post("/allocations", paymentcontrollers.AllocatePayment(deps.Payments, logg))
			r.Get("/{paymentId}", paymentcontrollers.GetPayment(deps.Payments, logg))
			r.Patch("/{paymentId}", paymentcontrollers.UpdatePayment(deps.Payments, logg))
			r.With(middleware.RequireRole(logg, supervisors...)).
				Post("/{paymentId}/void", paymentcontrollers.VoidPayment(deps.Payments, logg))
			r.Post("/{paymentId}/refunds", paymentcontrollers.RefundPayment(deps.Payments, logg))
		})

		r.Route("/gateway", func(r chi.Router) {
			r.Post("/checkout-sessions", gatewaycontrollers.CreateCheckoutSession(deps.Gateway, logg))
			r.Post("/payment-intents", gatewaycontrollers.CreatePaymentIntent(deps.Gateway, logg))
		})

		r.Route("/reports", func(r chi.Router) {
			r.Get("/daily-collection", reportcontrollers.DailyCollection(deps.Reports, loc, logg))
			r.Group(func(r chi.Router) {
				r.Use(middleware.RequireRole(logg, supervisors...))
				r.Post("/reconciliation", reportcontrollers.Reconcile(deps.Reports, loc, logg))
				r.Get("/pending-reconciliation", reportcontrollers.PendingReconciliation(deps.Reports, loc, logg))
				r.Get("/overpayments", reportcontrollers.Overpayments(deps.Reports, logg))
			})
		})
	})

	return r
}
