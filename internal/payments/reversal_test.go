package payments

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
)

func TestRefundBeyondRemainingIsRejected(t *testing.T) {
	h := newHarness(t)
	bill := h.fx.Bill(h.conn.ID, "1000")
	original := h.fx.Payment(models.Payment{BillID: bill.ID, Amount: dec("1000")})
	ctx := context.Background()

	refund, err := h.svc.Refund(ctx, RefundInput{
		PaymentID:  original.ID,
		Amount:     dec("400"),
		Reason:     "meter misread",
		EmployeeID: h.cashier.ID,
	})
	require.NoError(t, err)
	assert.True(t, refund.Amount.Equal(dec("-400")))
	assert.True(t, strings.HasPrefix(refund.Ref(), RefundRefPrefix(original.ID)))
	require.NotNil(t, refund.ReversalOfID)
	assert.Equal(t, original.ID, *refund.ReversalOfID)
	assert.Equal(t, "meter misread", refund.Audit.RefundReason)

	_, err = h.svc.Refund(ctx, RefundInput{
		PaymentID:  original.ID,
		Amount:     dec("700"),
		Reason:     "second attempt",
		EmployeeID: h.manager.ID,
	})
	assertCode(t, err, pkgerrors.CodeInvalidAmount)

	stored, err := h.svc.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, stored.Status, "partial refund keeps the original completed")
	assert.Equal(t, []uint64{refund.ID}, stored.Audit.ReversalPaymentIDs)

	got := h.bill(t, bill.ID)
	assert.True(t, got.TotalPaid().Equal(dec("600")))
	assert.True(t, got.OutstandingBalance().Equal(dec("400")))
	assert.Empty(t, h.refunder.requests, "cash refunds never reach the gateway")
}

func TestRefundInFullMarksOriginalRefunded(t *testing.T) {
	h := newHarness(t)
	bill := h.fx.Bill(h.conn.ID, "300")
	original := h.fx.Payment(models.Payment{BillID: bill.ID, Amount: dec("300")})
	ctx := context.Background()

	_, err := h.svc.Refund(ctx, RefundInput{PaymentID: original.ID, Amount: dec("100"), Reason: "part", EmployeeID: h.cashier.ID})
	require.NoError(t, err)
	h.svc.now = func() time.Time { return testNow.Add(time.Second) }
	_, err = h.svc.Refund(ctx, RefundInput{PaymentID: original.ID, Amount: dec("200"), Reason: "rest", EmployeeID: h.cashier.ID})
	require.NoError(t, err)

	stored, err := h.svc.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, stored.Status)
	assert.Len(t, stored.Audit.ReversalPaymentIDs, 2)
	assert.True(t, h.bill(t, bill.ID).TotalPaid().IsZero())

	_, err = h.svc.Refund(ctx, RefundInput{PaymentID: original.ID, Amount: dec("1"), Reason: "again", EmployeeID: h.cashier.ID})
	assertCode(t, err, pkgerrors.CodeInvalidState)
}

func TestRefundApprovalThreshold(t *testing.T) {
	h := newHarness(t)
	bill := h.fx.Bill(h.conn.ID, "2000")
	original := h.fx.Payment(models.Payment{BillID: bill.ID, Amount: dec("2000")})
	ctx := context.Background()

	_, err := h.svc.Refund(ctx, RefundInput{PaymentID: original.ID, Amount: dec("500.01"), Reason: "dispute", EmployeeID: h.cashier.ID})
	assertCode(t, err, pkgerrors.CodeForbidden)

	_, err = h.svc.Refund(ctx, RefundInput{PaymentID: original.ID, Amount: dec("500.00"), Reason: "dispute", EmployeeID: h.cashier.ID})
	require.NoError(t, err, "threshold itself needs no approval")

	h.svc.now = func() time.Time { return testNow.Add(time.Second) }
	_, err = h.svc.Refund(ctx, RefundInput{PaymentID: original.ID, Amount: dec("900"), Reason: "dispute", EmployeeID: h.manager.ID})
	require.NoError(t, err)
}

func TestRefundValidation(t *testing.T) {
	h := newHarness(t)
	bill := h.fx.Bill(h.conn.ID, "100")
	original := h.fx.Payment(models.Payment{BillID: bill.ID, Amount: dec("100")})
	pending := h.fx.Payment(models.Payment{BillID: bill.ID, Amount: dec("50"), Status: enums.PaymentStatusPending, Method: enums.PaymentMethodGatewayCard})

	cases := []struct {
		name  string
		input RefundInput
		code  pkgerrors.Code
	}{
		{"zero", RefundInput{PaymentID: original.ID, Amount: dec("0"), Reason: "r", EmployeeID: h.cashier.ID}, pkgerrors.CodeInvalidAmount},
		{"missing payment", RefundInput{PaymentID: 999, Amount: dec("1"), Reason: "r", EmployeeID: h.cashier.ID}, pkgerrors.CodeNotFound},
		{"not completed", RefundInput{PaymentID: pending.ID, Amount: dec("1"), Reason: "r", EmployeeID: h.cashier.ID}, pkgerrors.CodeInvalidState},
		{"exceeds original", RefundInput{PaymentID: original.ID, Amount: dec("100.01"), Reason: "r", EmployeeID: h.cashier.ID}, pkgerrors.CodeInvalidAmount},
		{"missing employee", RefundInput{PaymentID: original.ID, Amount: dec("1"), Reason: "r", EmployeeID: 999}, pkgerrors.CodeNotFound},
		{"blank reason", RefundInput{PaymentID: original.ID, Amount: dec("1"), Reason: " ", EmployeeID: h.cashier.ID}, pkgerrors.CodeValidation},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := h.svc.Refund(context.Background(), tc.input)
			assertCode(t, err, tc.code)
		})
	}
}

func TestRefundsWithinOneMillisecondGetDistinctRefs(t *testing.T) {
	h := newHarness(t)
	bill := h.fx.Bill(h.conn.ID, "500")
	original := h.fx.Payment(models.Payment{BillID: bill.ID, Amount: dec("500")})
	ctx := context.Background()

	first, err := h.svc.Refund(ctx, RefundInput{PaymentID: original.ID, Amount: dec("100"), Reason: "first", EmployeeID: h.cashier.ID})
	require.NoError(t, err)
	second, err := h.svc.Refund(ctx, RefundInput{PaymentID: original.ID, Amount: dec("100"), Reason: "second", EmployeeID: h.cashier.ID})
	require.NoError(t, err)

	assert.NotEqual(t, first.Ref(), second.Ref())
	assert.True(t, strings.HasPrefix(second.Ref(), RefundRefPrefix(original.ID)))
	assert.True(t, h.bill(t, bill.ID).TotalPaid().Equal(dec("300")))
}

func TestRefundGatewayPaymentCallsGatewayFirst(t *testing.T) {
	h := newHarness(t)
	bill := h.fx.Bill(h.conn.ID, "250")
	original := h.fx.Payment(models.Payment{
		BillID:                 bill.ID,
		Amount:                 dec("250"),
		Method:                 enums.PaymentMethodGatewayCard,
		TransactionRef:         strPtr("cs_test_1"),
		CheckoutSessionID:      strPtr("cs_test_1"),
		GatewayPaymentIntentID: strPtr("pi_test_1"),
		GatewayChargeID:        strPtr("ch_test_1"),
	})

	refund, err := h.svc.Refund(context.Background(), RefundInput{
		PaymentID:  original.ID,
		Amount:     dec("100.50"),
		Reason:     "duplicate charge",
		EmployeeID: h.cashier.ID,
	})
	require.NoError(t, err)
	require.Len(t, h.refunder.requests, 1)
	req := h.refunder.requests[0]
	assert.Equal(t, "ch_test_1", req.ChargeID)
	assert.Equal(t, "pi_test_1", req.PaymentIntentID)
	assert.True(t, req.Amount.Equal(dec("100.50")))
	assert.Equal(t, refund.Ref(), req.IdempotencyKey)
	assert.Equal(t, "re_test_1", refund.Audit.GatewayRefundID)
}

func TestRefundGatewayFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.refunder.err = errors.New("card_declined")
	bill := h.fx.Bill(h.conn.ID, "250")
	original := h.fx.Payment(models.Payment{
		BillID:                 bill.ID,
		Amount:                 dec("250"),
		Method:                 enums.PaymentMethodGatewayWallet,
		TransactionRef:         strPtr("pi_wallet"),
		GatewayPaymentIntentID: strPtr("pi_wallet"),
	})

	_, err := h.svc.Refund(context.Background(), RefundInput{PaymentID: original.ID, Amount: dec("10"), Reason: "r", EmployeeID: h.cashier.ID})
	assertCode(t, err, pkgerrors.CodeDependency)

	reversals, err := h.svc.payments.Reversals(context.Background(), nil, original.ID)
	require.NoError(t, err)
	assert.Empty(t, reversals)
}

func TestVoidGatewayPaymentRefundsAtGatewayFirst(t *testing.T) {
	h := newHarness(t)
	bill := h.fx.Bill(h.conn.ID, "250")
	original := h.fx.Payment(models.Payment{
		BillID:                 bill.ID,
		Amount:                 dec("250"),
		Method:                 enums.PaymentMethodGatewayCard,
		TransactionRef:         strPtr("pi_v"),
		GatewayPaymentIntentID: strPtr("pi_v"),
		GatewayChargeID:        strPtr("ch_v"),
	})

	reversal, err := h.svc.Void(context.Background(), VoidInput{PaymentID: original.ID, Reason: "charged twice", EmployeeID: h.cashier.ID})
	require.NoError(t, err)
	require.Len(t, h.refunder.requests, 1)
	req := h.refunder.requests[0]
	assert.Equal(t, "ch_v", req.ChargeID)
	assert.Equal(t, "pi_v", req.PaymentIntentID)
	assert.True(t, req.Amount.Equal(dec("250")))
	assert.Equal(t, VoidRef(original.ID), req.IdempotencyKey)
	assert.Equal(t, "re_test_1", reversal.Audit.GatewayRefundID)
	assert.True(t, reversal.Amount.Equal(dec("-250")))
	assert.True(t, h.bill(t, bill.ID).TotalPaid().IsZero())
}

func TestVoidGatewayFailureWritesNothing(t *testing.T) {
	h := newHarness(t)
	h.refunder.err = errors.New("charge_disputed")
	bill := h.fx.Bill(h.conn.ID, "250")
	original := h.fx.Payment(models.Payment{
		BillID:                 bill.ID,
		Amount:                 dec("250"),
		Method:                 enums.PaymentMethodGatewayCard,
		TransactionRef:         strPtr("pi_v"),
		GatewayPaymentIntentID: strPtr("pi_v"),
		GatewayChargeID:        strPtr("ch_v"),
	})
	ctx := context.Background()

	_, err := h.svc.Void(ctx, VoidInput{PaymentID: original.ID, Reason: "charged twice", EmployeeID: h.cashier.ID})
	assertCode(t, err, pkgerrors.CodeDependency)

	reversals, err := h.svc.payments.Reversals(ctx, nil, original.ID)
	require.NoError(t, err)
	assert.Empty(t, reversals)
	stored, err := h.svc.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusCompleted, stored.Status)
}

func TestVoidReversesPaymentOnce(t *testing.T) {
	h := newHarness(t)
	bill := h.fx.Bill(h.conn.ID, "500")
	original := h.fx.Payment(models.Payment{BillID: bill.ID, Amount: dec("500")})
	ctx := context.Background()

	reversal, err := h.svc.Void(ctx, VoidInput{PaymentID: original.ID, Reason: "posted to wrong bill", EmployeeID: h.cashier.ID})
	require.NoError(t, err)
	assert.Equal(t, VoidRef(original.ID), reversal.Ref())
	assert.True(t, reversal.Amount.Equal(dec("-500")))
	assert.Equal(t, "posted to wrong bill", reversal.Audit.VoidReason)

	stored, err := h.svc.Get(ctx, original.ID)
	require.NoError(t, err)
	assert.Equal(t, enums.PaymentStatusRefunded, stored.Status)
	assert.True(t, h.bill(t, bill.ID).TotalPaid().IsZero())

	_, err = h.svc.Void(ctx, VoidInput{PaymentID: original.ID, Reason: "again", EmployeeID: h.cashier.ID})
	assertCode(t, err, pkgerrors.CodeInvalidState)

	_, err = h.svc.Void(ctx, VoidInput{PaymentID: reversal.ID, Reason: "undo the void", EmployeeID: h.cashier.ID})
	assertCode(t, err, pkgerrors.CodeInvalidState)
}

func TestVoidOfRefundIsRejected(t *testing.T) {
	h := newHarness(t)
	bill := h.fx.Bill(h.conn.ID, "500")
	original := h.fx.Payment(models.Payment{BillID: bill.ID, Amount: dec("500")})
	ctx := context.Background()

	refund, err := h.svc.Refund(ctx, RefundInput{PaymentID: original.ID, Amount: dec("50"), Reason: "goodwill", EmployeeID: h.cashier.ID})
	require.NoError(t, err)

	_, err = h.svc.Void(ctx, VoidInput{PaymentID: refund.ID, Reason: "oops", EmployeeID: h.cashier.ID})
	assertCode(t, err, pkgerrors.CodeInvalidState)

	_, err = h.svc.Void(ctx, VoidInput{PaymentID: original.ID, Reason: "oops", EmployeeID: h.cashier.ID})
	assertCode(t, err, pkgerrors.CodeInvalidState)
}

func TestVoidValidation(t *testing.T) {
	h := newHarness(t)
	bill := h.fx.Bill(h.conn.ID, "500")
	original := h.fx.Payment(models.Payment{BillID: bill.ID, Amount: dec("500")})

	_, err := h.svc.Void(context.Background(), VoidInput{PaymentID: original.ID, Reason: "", EmployeeID: h.cashier.ID})
	assertCode(t, err, pkgerrors.CodeValidation)
	_, err = h.svc.Void(context.Background(), VoidInput{PaymentID: original.ID, Reason: "r", EmployeeID: 4040})
	assertCode(t, err, pkgerrors.CodeNotFound)
	_, err = h.svc.Void(context.Background(), VoidInput{PaymentID: 4040, Reason: "r", EmployeeID: h.cashier.ID})
	assertCode(t, err, pkgerrors.CodeNotFound)
}

func TestLedgerSumInvariantAcrossOperations(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	a := h.fx.Bill(h.conn.ID, "1000")
	b := h.fx.Bill(h.conn.ID, "400")

	p1, err := h.svc.Record(ctx, RecordInput{BillID: a.ID, Amount: dec("600"), Method: enums.PaymentMethodCashAtOffice})
	require.NoError(t, err)
	_, err = h.svc.Allocate(ctx, AllocateInput{Amount: dec("600"), BillIDs: []uint64{a.ID, b.ID}, Method: enums.PaymentMethodCheque})
	require.NoError(t, err)
	_, err = h.svc.Refund(ctx, RefundInput{PaymentID: p1.ID, Amount: dec("150.25"), Reason: "adjust", EmployeeID: h.cashier.ID})
	require.NoError(t, err)
	p4, err := h.svc.Record(ctx, RecordInput{BillID: b.ID, Amount: dec("200"), Method: enums.PaymentMethodCashAtOffice})
	require.NoError(t, err)
	_, err = h.svc.Void(ctx, VoidInput{PaymentID: p4.ID, Reason: "duplicate", EmployeeID: h.cashier.ID})
	require.NoError(t, err)

	// 600 + 400 - 150.25 on a, 200 + 200 - 200 on b
	assert.True(t, h.bill(t, a.ID).TotalPaid().Equal(dec("849.75")))
	assert.True(t, h.bill(t, a.ID).OutstandingBalance().Equal(dec("150.25")))
	assert.True(t, h.bill(t, b.ID).TotalPaid().Equal(dec("200")))
}
