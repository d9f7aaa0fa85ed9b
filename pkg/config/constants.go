package config

const (
	EnvPrefix = "GRIDPAY"

	AppEnvDev  = "dev"
	AppEnvProd = "prod"
)

const (
	EnvAppEnv   = "GRIDPAY_APP_ENV"
	EnvPort     = "GRIDPAY_APP_PORT"
	EnvLogLevel = "GRIDPAY_LOG_LEVEL"

	EnvDBDSN  = "GRIDPAY_DB_DSN"
	EnvDBHost = "GRIDPAY_DB_HOST"
	EnvDBUser = "GRIDPAY_DB_USER"
	EnvDBName = "GRIDPAY_DB_NAME"

	EnvRedisURL = "GRIDPAY_REDIS_URL"

	EnvJWTSecret  = "GRIDPAY_JWT_SECRET"
	EnvJWTIssuer  = "GRIDPAY_JWT_ISSUER"
	EnvJWTExpMins = "GRIDPAY_JWT_EXPIRATION_MINUTES"

	EnvGCPProjectID        = "GRIDPAY_GCP_PROJECT_ID"
	EnvPubSubLedgerTopic   = "GRIDPAY_PUBSUB_LEDGER_TOPIC"
	EnvStripeAPIKey        = "GRIDPAY_STRIPE_API_KEY"
	EnvStripeSecret        = "GRIDPAY_STRIPE_SECRET"
	EnvSquareAccessToken   = "GRIDPAY_SQUARE_ACCESS_TOKEN"
	EnvWebhookRetention    = "GRIDPAY_WEBHOOK_EVENT_RETENTION"
	EnvLedgerReportTZ      = "GRIDPAY_LEDGER_REPORT_TIMEZONE"
	EnvLedgerPendingTTL    = "GRIDPAY_LEDGER_PENDING_PAYMENT_TTL"
	EnvLedgerAllowPaidBill = "GRIDPAY_LEDGER_ALLOW_PAID_BILL_OVERPAYMENT"

	EnvLedgerOverpaymentTolerance = "GRIDPAY_LEDGER_OVERPAYMENT_TOLERANCE"
	EnvLedgerVarianceThreshold    = "GRIDPAY_LEDGER_VARIANCE_THRESHOLD"
	EnvLedgerRefundApproval       = "GRIDPAY_LEDGER_REFUND_APPROVAL_THRESHOLD"
)

// legacyDBEnvVars are required when no DSN is supplied.
var legacyDBEnvVars = []string{EnvDBHost, EnvDBUser, EnvDBName}
