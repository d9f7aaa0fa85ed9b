package routes

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v84"

	"github.com/angelmondragon/gridpay-backend/api/controllers"
	"github.com/angelmondragon/gridpay-backend/internal/gateway"
	"github.com/angelmondragon/gridpay-backend/internal/payments"
	"github.com/angelmondragon/gridpay-backend/internal/reconciliation"
	pkgAuth "github.com/angelmondragon/gridpay-backend/pkg/auth"
	"github.com/angelmondragon/gridpay-backend/pkg/config"
	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
)

type stubPinger struct{}

func (stubPinger) Ping(context.Context) error { return nil }

type stubPayments struct {
	recorded int
}

func (s *stubPayments) Get(_ context.Context, id uint64) (*models.Payment, error) {
	return &models.Payment{ID: id, Amount: decimal.NewFromInt(10), Status: enums.PaymentStatusCompleted}, nil
}

func (s *stubPayments) Record(_ context.Context, input payments.RecordInput) (*models.Payment, error) {
	s.recorded++
	return &models.Payment{ID: uint64(s.recorded), BillID: input.BillID, Amount: input.Amount, Status: enums.PaymentStatusCompleted}, nil
}

func (s *stubPayments) Update(_ context.Context, id uint64, _ payments.UpdateInput) (*models.Payment, error) {
	return &models.Payment{ID: id}, nil
}

func (s *stubPayments) Allocate(context.Context, payments.AllocateInput) (*payments.AllocationResult, error) {
	return &payments.AllocationResult{}, nil
}

func (s *stubPayments) Void(_ context.Context, input payments.VoidInput) (*models.Payment, error) {
	return &models.Payment{ID: 99, ReversalOfID: &input.PaymentID}, nil
}

func (s *stubPayments) Refund(_ context.Context, input payments.RefundInput) (*models.Payment, error) {
	return &models.Payment{ID: 98, ReversalOfID: &input.PaymentID}, nil
}

type stubGateway struct{}

func (stubGateway) CreateCheckout(context.Context, gateway.CheckoutInput) (*gateway.CheckoutResult, error) {
	return &gateway.CheckoutResult{SessionID: "cs_1"}, nil
}

func (stubGateway) CreatePaymentIntent(context.Context, gateway.IntentInput) (*gateway.IntentResult, error) {
	return &gateway.IntentResult{PaymentIntentID: "pi_1"}, nil
}

type stubReports struct{}

func (stubReports) DailyCollectionReport(_ context.Context, employeeID uint64, _ time.Time, _ decimal.Decimal) (*reconciliation.DailyCollection, error) {
	return &reconciliation.DailyCollection{EmployeeID: employeeID}, nil
}

func (stubReports) Reconcile(context.Context, reconciliation.ReconcileInput) (*reconciliation.Result, error) {
	return &reconciliation.Result{Status: enums.ReconciliationBalanced}, nil
}

func (stubReports) PendingReconciliation(context.Context, time.Time) ([]reconciliation.PendingItem, error) {
	return nil, nil
}

func (stubReports) Overpayments(context.Context) ([]reconciliation.Overpayment, error) {
	return nil, nil
}

type stubQueue struct{}

func (stubQueue) Enqueue(context.Context, *stripe.Event) error { return nil }

type stubSigner struct{}

func (stubSigner) SigningSecret() string { return "whsec_test" }

type memoryStore struct {
	data map[string]string
}

func (m *memoryStore) Get(_ context.Context, key string) (string, error) {
	if v, ok := m.data[key]; ok {
		return v, nil
	}
	return "", redis.Nil
}

func (m *memoryStore) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	if _, ok := m.data[key]; ok {
		return false, nil
	}
	m.data[key], _ = value.(string)
	return true, nil
}

func (m *memoryStore) Set(_ context.Context, key string, value any, _ time.Duration) error {
	m.data[key], _ = value.(string)
	return nil
}

func (m *memoryStore) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *memoryStore) IdempotencyKey(scope, id string) string {
	return scope + ":" + id
}

func testConfig() *config.Config {
	return &config.Config{
		App:   config.AppConfig{Env: "test"},
		JWT:   config.JWTConfig{Secret: "secret", Issuer: "gridpay", ExpirationMinutes: 60},
		Redis: config.RedisConfig{IdempotencyTTL: time.Hour},
	}
}

func newTestRouter(t *testing.T, svc *stubPayments) (http.Handler, *pkgAuth.Tokens) {
	t.Helper()
	cfg := testConfig()
	tokens, err := pkgAuth.NewTokens(cfg.JWT)
	require.NoError(t, err)
	handler := NewRouter(cfg, logger.New(logger.Options{ServiceName: "test"}), Dependencies{
		Tokens:           tokens,
		Payments:         svc,
		Gateway:          stubGateway{},
		Reports:          stubReports{},
		Webhooks:         stubQueue{},
		Stripe:           stubSigner{},
		IdempotencyStore: &memoryStore{data: map[string]string{}},
		Ready:            map[string]controllers.Pinger{"db": stubPinger{}},
	})
	return handler, tokens
}

func bearer(t *testing.T, tokens *pkgAuth.Tokens, role enums.EmployeeRole) string {
	t.Helper()
	token, err := tokens.Mint(time.Now(), pkgAuth.Session{EmployeeID: 7, Role: role})
	require.NoError(t, err)
	return "Bearer " + token
}

func TestHealthRoutesArePublic(t *testing.T) {
	handler, _ := newTestRouter(t, &stubPayments{})
	for _, path := range []string{"/health/live", "/health/ready"} {
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
		assert.Equal(t, http.StatusOK, rec.Code, path)
		assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))
	}
}

func TestLedgerRoutesRequireAuth(t *testing.T) {
	handler, _ := newTestRouter(t, &stubPayments{})
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/payments/1", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRecordPaymentReplaysWithIdempotencyKey(t *testing.T) {
	svc := &stubPayments{}
	handler, tokens := newTestRouter(t, svc)

	send := func() *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"billId":3,"amount":"25.00","method":"cash-at-office"}`))
		req.Header.Set("Authorization", bearer(t, tokens, enums.EmployeeRoleCashier))
		req.Header.Set("Idempotency-Key", "rec-1")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	first := send()
	require.Equal(t, http.StatusCreated, first.Code, first.Body.String())
	second := send()
	require.Equal(t, http.StatusCreated, second.Code)
	assert.Equal(t, first.Body.String(), second.Body.String())
	assert.Equal(t, 1, svc.recorded)
}

func TestRecordPaymentRequiresIdempotencyKey(t *testing.T) {
	handler, tokens := newTestRouter(t, &stubPayments{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments", strings.NewReader(`{"billId":3,"amount":"25.00","method":"cash-at-office"}`))
	req.Header.Set("Authorization", bearer(t, tokens, enums.EmployeeRoleCashier))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestVoidRequiresSupervisor(t *testing.T) {
	handler, tokens := newTestRouter(t, &stubPayments{})

	for role, want := range map[enums.EmployeeRole]int{
		enums.EmployeeRoleCashier:    http.StatusForbidden,
		enums.EmployeeRoleSupervisor: http.StatusCreated,
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/5/void", strings.NewReader(`{"reason":"duplicate entry"}`))
		req.Header.Set("Authorization", bearer(t, tokens, role))
		req.Header.Set("Idempotency-Key", "void-"+string(role))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, string(role))
	}
}

func TestReportRoutes(t *testing.T) {
	handler, tokens := newTestRouter(t, &stubPayments{})

	req := httptest.NewRequest(http.MethodGet, "/api/v1/reports/daily-collection?date=2026-03-05", nil)
	req.Header.Set("Authorization", bearer(t, tokens, enums.EmployeeRoleCashier))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	req = httptest.NewRequest(http.MethodGet, "/api/v1/reports/overpayments", nil)
	req.Header.Set("Authorization", bearer(t, tokens, enums.EmployeeRoleCashier))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	req = httptest.NewRequest(http.MethodPost, "/api/v1/reports/reconciliation", strings.NewReader(`{"date":"2026-03-05","expectedAmount":"10","actualAmount":"10"}`))
	req.Header.Set("Authorization", bearer(t, tokens, enums.EmployeeRoleManager))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
}

func TestStripeWebhookSkipsAuth(t *testing.T) {
	handler, _ := newTestRouter(t, &stubPayments{})
	req := httptest.NewRequest(http.MethodPost, "/api/v1/webhooks/stripe", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	// missing signature, not missing credentials
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
