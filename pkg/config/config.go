package config

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

type Config struct {
	App          AppConfig
	DB           DBConfig
	Redis        RedisConfig
	JWT          JWTConfig
	FeatureFlags FeatureFlagsConfig
	GCP          GCPConfig
	PubSub       PubSubConfig
	BigQuery     BigQueryConfig
	Stripe       StripeConfig
	Square       SquareConfig
	Outbox       OutboxConfig
	Ledger       LedgerConfig
	Webhooks     WebhooksConfig
	Cron         CronConfig
	RateLimit    RateLimitConfig
}

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process(EnvPrefix, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.DB.ensureDSN(); err != nil {
		return nil, err
	}
	if err := cfg.Ledger.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type AppConfig struct {
	Env          string   `envconfig:"GRIDPAY_APP_ENV" required:"true"`
	Port         string   `envconfig:"GRIDPAY_APP_PORT" required:"true"`
	LogLevel     string   `envconfig:"GRIDPAY_LOG_LEVEL" default:"info"`
	LogWarnStack bool     `envconfig:"GRIDPAY_LOG_WARN_STACK" default:"false"`
	LogFormat    string   `envconfig:"GRIDPAY_LOG_FORMAT" default:"json"`
	CORSOrigins  []string `envconfig:"GRIDPAY_CORS_ORIGINS" default:"http://localhost:3000"`
}

// ConsoleLogs reports whether logs should be human readable.
func (a AppConfig) ConsoleLogs() bool {
	return strings.EqualFold(a.LogFormat, "console")
}

func (a AppConfig) IsDev() bool {
	return strings.EqualFold(a.Env, AppEnvDev) || strings.EqualFold(a.Env, "development")
}

func (a AppConfig) IsProd() bool {
	return strings.EqualFold(a.Env, AppEnvProd) || strings.EqualFold(a.Env, "production")
}

type DBConfig struct {
	DSN    string `envconfig:"GRIDPAY_DB_DSN"`
	Driver string `envconfig:"GRIDPAY_DB_DRIVER" default:"postgres"`

	LegacyHost     string `envconfig:"GRIDPAY_DB_HOST"`
	LegacyPort     int    `envconfig:"GRIDPAY_DB_PORT" default:"5432"`
	LegacyUser     string `envconfig:"GRIDPAY_DB_USER"`
	LegacyPassword string `envconfig:"GRIDPAY_DB_PASSWORD"`
	LegacyName     string `envconfig:"GRIDPAY_DB_NAME"`
	LegacySSLMode  string `envconfig:"GRIDPAY_DB_SSLMODE" default:"disable"`

	MaxOpenConns    int           `envconfig:"GRIDPAY_DB_MAX_OPEN_CONNS" default:"20"`
	MaxIdleConns    int           `envconfig:"GRIDPAY_DB_MAX_IDLE_CONNS" default:"10"`
	ConnMaxLifetime time.Duration `envconfig:"GRIDPAY_DB_CONN_MAX_LIFETIME" default:"1h"`
	ConnMaxIdleTime time.Duration `envconfig:"GRIDPAY_DB_CONN_MAX_IDLE_TIME" default:"10m"`
	SlowQuery       time.Duration `envconfig:"GRIDPAY_DB_SLOW_QUERY" default:"500ms"`
}

type RedisConfig struct {
	URL            string        `envconfig:"GRIDPAY_REDIS_URL" required:"true"`
	Address        string        `envconfig:"GRIDPAY_REDIS_ADDR"`
	Password       string        `envconfig:"GRIDPAY_REDIS_PASSWORD"`
	DB             int           `envconfig:"GRIDPAY_REDIS_DB" default:"0"`
	PoolSize       int           `envconfig:"GRIDPAY_REDIS_POOL_SIZE" default:"10"`
	MinIdleConns   int           `envconfig:"GRIDPAY_REDIS_MIN_IDLE_CONNS" default:"2"`
	DialTimeout    time.Duration `envconfig:"GRIDPAY_REDIS_DIAL_TIMEOUT" default:"5s"`
	ReadTimeout    time.Duration `envconfig:"GRIDPAY_REDIS_READ_TIMEOUT" default:"5s"`
	WriteTimeout   time.Duration `envconfig:"GRIDPAY_REDIS_WRITE_TIMEOUT" default:"5s"`
	IdempotencyTTL time.Duration `envconfig:"GRIDPAY_REDIS_IDEMPOTENCY_TTL" default:"24h"`
}

type JWTConfig struct {
	Secret            string `envconfig:"GRIDPAY_JWT_SECRET" required:"true"`
	Issuer            string `envconfig:"GRIDPAY_JWT_ISSUER" required:"true"`
	ExpirationMinutes int    `envconfig:"GRIDPAY_JWT_EXPIRATION_MINUTES" required:"true"`
}

type FeatureFlagsConfig struct {
	AutoMigrate       bool `envconfig:"GRIDPAY_AUTO_MIGRATE" default:"false"`
	ArchiveReconciles bool `envconfig:"GRIDPAY_FEATURE_ARCHIVE_RECONCILIATION" default:"false"`
}

type GCPConfig struct {
	ProjectID              string `envconfig:"GRIDPAY_GCP_PROJECT_ID"`
	CredentialsJSON        string `envconfig:"GRIDPAY_GCP_CREDENTIALS_JSON"`
	ApplicationCredentials string `envconfig:"GRIDPAY_GOOGLE_APPLICATION_CREDENTIALS"`
}

type PubSubConfig struct {
	LedgerTopic string `envconfig:"GRIDPAY_PUBSUB_LEDGER_TOPIC" default:"gridpay-ledger-events"`
}

type BigQueryConfig struct {
	Dataset             string `envconfig:"GRIDPAY_BIGQUERY_DATASET" default:"gridpay"`
	ReconciliationTable string `envconfig:"GRIDPAY_BIGQUERY_RECONCILIATION_TABLE" default:"reconciliation_results"`
}

type OutboxConfig struct {
	BatchSize       int           `envconfig:"GRIDPAY_OUTBOX_PUBLISH_BATCH_SIZE" default:"50"`
	PollIntervalMS  int           `envconfig:"GRIDPAY_OUTBOX_PUBLISH_POLL_MS" default:"500"`
	MaxAttempts     int           `envconfig:"GRIDPAY_OUTBOX_MAX_ATTEMPTS" default:"10"`
	RetentionWindow time.Duration `envconfig:"GRIDPAY_OUTBOX_RETENTION" default:"720h"`
}

type StripeConfig struct {
	APIKey string `envconfig:"GRIDPAY_STRIPE_API_KEY"`
	Secret string `envconfig:"GRIDPAY_STRIPE_SECRET"`
	Env    string `envconfig:"GRIDPAY_STRIPE_ENV" default:"test"`
}

// Environment returns the normalized Stripe environment (test/live).
func (s StripeConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "test"
	}
	return env
}

type SquareConfig struct {
	AccessToken string `envconfig:"GRIDPAY_SQUARE_ACCESS_TOKEN"`
	Env         string `envconfig:"GRIDPAY_SQUARE_ENV" default:"sandbox"`
}

// Environment returns the normalized Square environment (sandbox/production).
func (s SquareConfig) Environment() string {
	env := strings.TrimSpace(strings.ToLower(s.Env))
	if env == "" {
		return "sandbox"
	}
	return env
}

// Enabled reports whether card-terminal refunds can be routed to Square.
func (s SquareConfig) Enabled() bool {
	return strings.TrimSpace(s.AccessToken) != ""
}

// LedgerConfig carries the money thresholds applied by the ledger services.
type LedgerConfig struct {
	Currency                 string          `envconfig:"GRIDPAY_LEDGER_CURRENCY" default:"usd"`
	OverpaymentTolerance     decimal.Decimal `envconfig:"GRIDPAY_LEDGER_OVERPAYMENT_TOLERANCE" default:"0.10"`
	AllowPaidBillOverpayment bool            `envconfig:"GRIDPAY_LEDGER_ALLOW_PAID_BILL_OVERPAYMENT" default:"true"`
	RefundApprovalThreshold  decimal.Decimal `envconfig:"GRIDPAY_LEDGER_REFUND_APPROVAL_THRESHOLD" default:"500.00"`
	VarianceThreshold        decimal.Decimal `envconfig:"GRIDPAY_LEDGER_VARIANCE_THRESHOLD" default:"0.01"`
	PendingPaymentTTL        time.Duration   `envconfig:"GRIDPAY_LEDGER_PENDING_PAYMENT_TTL" default:"24h"`
	ReportTimezone           string          `envconfig:"GRIDPAY_LEDGER_REPORT_TIMEZONE" default:"UTC"`
}

// Location resolves the timezone used for day boundaries in reports.
func (l LedgerConfig) Location() (*time.Location, error) {
	name := strings.TrimSpace(l.ReportTimezone)
	if name == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return nil, fmt.Errorf("loading report timezone %q: %w", name, err)
	}
	return loc, nil
}

func (l LedgerConfig) validate() error {
	if l.OverpaymentTolerance.IsNegative() {
		return fmt.Errorf("%s must not be negative", EnvLedgerOverpaymentTolerance)
	}
	if l.VarianceThreshold.IsNegative() {
		return fmt.Errorf("%s must not be negative", EnvLedgerVarianceThreshold)
	}
	if l.RefundApprovalThreshold.IsNegative() {
		return fmt.Errorf("%s must not be negative", EnvLedgerRefundApproval)
	}
	if l.PendingPaymentTTL <= 0 {
		return fmt.Errorf("%s must be positive", EnvLedgerPendingTTL)
	}
	if _, err := l.Location(); err != nil {
		return err
	}
	return nil
}

type WebhooksConfig struct {
	Workers         int           `envconfig:"GRIDPAY_WEBHOOK_WORKERS" default:"4"`
	QueueSize       int           `envconfig:"GRIDPAY_WEBHOOK_QUEUE_SIZE" default:"256"`
	EventRetention  time.Duration `envconfig:"GRIDPAY_WEBHOOK_EVENT_RETENTION" default:"720h"`
	ProcessTimeout  time.Duration `envconfig:"GRIDPAY_WEBHOOK_PROCESS_TIMEOUT" default:"30s"`
	ShutdownTimeout time.Duration `envconfig:"GRIDPAY_WEBHOOK_SHUTDOWN_TIMEOUT" default:"10s"`
}

type CronConfig struct {
	Interval time.Duration `envconfig:"GRIDPAY_CRON_INTERVAL" default:"5m"`
}

// RateLimitConfig throttles ledger writes per client IP and per employee.
type RateLimitConfig struct {
	Window      time.Duration `envconfig:"GRIDPAY_RATE_LIMIT_WINDOW" default:"1m"`
	PerIP       int           `envconfig:"GRIDPAY_RATE_LIMIT_PER_IP" default:"120"`
	PerEmployee int           `envconfig:"GRIDPAY_RATE_LIMIT_PER_EMPLOYEE" default:"60"`
}

func (db *DBConfig) ensureDSN() error {
	if db.DSN != "" {
		return nil
	}

	missing := []string{}
	legacyValues := map[string]string{
		EnvDBHost: db.LegacyHost,
		EnvDBUser: db.LegacyUser,
		EnvDBName: db.LegacyName,
	}
	for _, env := range legacyDBEnvVars {
		if legacyValues[env] == "" {
			missing = append(missing, env)
		}
	}

	if len(missing) > 0 {
		return fmt.Errorf("either %s or %s are required", EnvDBDSN, strings.Join(missing, ", "))
	}

	userInfo := url.User(db.LegacyUser)
	if db.LegacyPassword != "" {
		userInfo = url.UserPassword(db.LegacyUser, db.LegacyPassword)
	}

	u := &url.URL{
		Scheme: "postgres",
		User:   userInfo,
		Host:   fmt.Sprintf("%s:%d", db.LegacyHost, db.LegacyPort),
		Path:   db.LegacyName,
	}

	if db.LegacySSLMode != "" {
		q := u.Query()
		q.Set("sslmode", db.LegacySSLMode)
		u.RawQuery = q.Encode()
	}

	db.DSN = u.String()
	return nil
}
