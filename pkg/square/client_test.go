package square

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"testing"

	sq "github.com/square/square-go-sdk"
	sqcore "github.com/square/square-go-sdk/core"
	sqoption "github.com/square/square-go-sdk/option"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/gridpay-backend/pkg/config"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
)

type fakeRefunds struct {
	got  *sq.RefundPaymentRequest
	resp *sq.RefundPaymentResponse
	err  error
}

func (f *fakeRefunds) RefundPayment(_ context.Context, req *sq.RefundPaymentRequest, _ ...sqoption.RequestOption) (*sq.RefundPaymentResponse, error) {
	f.got = req
	return f.resp, f.err
}

func TestNewClientValidatesConfig(t *testing.T) {
	ctx := context.Background()

	_, err := NewClient(ctx, config.SquareConfig{AccessToken: "tok", Env: "staging"}, nil)
	assert.Error(t, err)

	_, err = NewClient(ctx, config.SquareConfig{Env: "production"}, nil)
	assert.ErrorIs(t, err, errAccessTokenRequired)

	c, err := NewClient(ctx, config.SquareConfig{AccessToken: "tok", Env: " Production "}, nil)
	require.NoError(t, err)
	assert.Equal(t, "production", c.Environment())
}

func TestRefundPaymentBuildsRequest(t *testing.T) {
	status := "PENDING"
	fake := &fakeRefunds{resp: &sq.RefundPaymentResponse{Refund: &sq.PaymentRefund{ID: "rf_1", Status: &status}}}
	c := &Client{refunds: fake}

	refund, err := c.RefundPayment(context.Background(), RefundParams{
		PaymentID:      " sq-pay-1 ",
		AmountCents:    40000,
		Currency:       "usd",
		Reason:         "meter misread",
		IdempotencyKey: "refund-key",
	})
	require.NoError(t, err)
	assert.Equal(t, &Refund{ID: "rf_1", Status: "PENDING"}, refund)

	req := fake.got
	require.NotNil(t, req)
	assert.Equal(t, "refund-key", req.IdempotencyKey)
	assert.Equal(t, "sq-pay-1", *req.PaymentID)
	assert.Equal(t, int64(40000), *req.AmountMoney.Amount)
	assert.Equal(t, sq.Currency("USD"), *req.AmountMoney.Currency)
	assert.Equal(t, "meter misread", *req.Reason)
}

func TestRefundPaymentGeneratesIdempotencyKey(t *testing.T) {
	fake := &fakeRefunds{resp: &sq.RefundPaymentResponse{Refund: &sq.PaymentRefund{ID: "rf_2"}}}
	c := &Client{refunds: fake}

	_, err := c.RefundPayment(context.Background(), RefundParams{PaymentID: "sq-pay-2", AmountCents: 100})
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(fake.got.IdempotencyKey, "refund-"))
	assert.Nil(t, fake.got.Reason)
}

func TestRefundPaymentRejectsBadParams(t *testing.T) {
	c := &Client{refunds: &fakeRefunds{}}

	_, err := c.RefundPayment(context.Background(), RefundParams{AmountCents: 100})
	assert.ErrorIs(t, err, errPaymentIDRequired)
	assert.Equal(t, pkgerrors.CodeValidation, pkgerrors.CodeOf(err))

	_, err = c.RefundPayment(context.Background(), RefundParams{PaymentID: "sq-pay-3"})
	assert.ErrorIs(t, err, errAmountRequired)

	var nilClient *Client
	_, err = nilClient.RefundPayment(context.Background(), RefundParams{PaymentID: "p", AmountCents: 1})
	assert.ErrorIs(t, err, errAccessTokenRequired)
}

func TestRefundPaymentMissingRefund(t *testing.T) {
	c := &Client{refunds: &fakeRefunds{resp: &sq.RefundPaymentResponse{}}}
	_, err := c.RefundPayment(context.Background(), RefundParams{PaymentID: "p", AmountCents: 1})
	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(err))
}

func TestMapError(t *testing.T) {
	cases := []struct {
		name   string
		status int
		body   string
		want   pkgerrors.Code
	}{
		{"authentication", http.StatusUnauthorized, `{"errors":[{"category":"AUTHENTICATION_ERROR","code":"UNAUTHORIZED"}]}`, pkgerrors.CodeUnauthorized},
		{"idempotency reuse", http.StatusBadRequest, `{"errors":[{"category":"INVALID_REQUEST_ERROR","code":"IDEMPOTENCY_KEY_REUSED"}]}`, pkgerrors.CodeIdempotency},
		{"refund rejected", http.StatusBadRequest, `{"errors":[{"category":"REFUND_ERROR","code":"REFUND_AMOUNT_INVALID"}]}`, pkgerrors.CodeInvalidState},
		{"status fallback", http.StatusNotFound, `not json`, pkgerrors.CodeNotFound},
		{"server error", http.StatusBadGateway, `{"errors":[{"category":"API_ERROR","code":"BAD_GATEWAY"}]}`, pkgerrors.CodeDependency},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := mapError(sqcore.NewAPIError(tc.status, errors.New(tc.body)), "refund payment")
			assert.Equal(t, tc.want, pkgerrors.CodeOf(err))
		})
	}

	assert.Equal(t, pkgerrors.CodeDependency, pkgerrors.CodeOf(mapError(errors.New("dial tcp: timeout"), "refund payment")))
}
