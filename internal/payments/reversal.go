package payments

import (
	"context"
	"strings"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
	"github.com/angelmondragon/gridpay-backend/pkg/outbox"
	"github.com/angelmondragon/gridpay-backend/pkg/outbox/payloads"
)

const (
	reversalKindVoid   = "void"
	reversalKindRefund = "refund"
)

// Void reverses a completed payment in full with a single VOID-<id> row.
// Payments that were already partially refunded cannot be voided. Gateway
// and terminal payments are refunded in full at the processor first.
func (s *Service) Void(ctx context.Context, input VoidInput) (_ *models.Payment, err error) {
	defer func() { s.observeRejection(err) }()

	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "void reason is required")
	}
	employee, err := s.employees.Get(ctx, nil, input.EmployeeID)
	if err != nil {
		return nil, err
	}

	ctx = s.logg.WithPaymentID(ctx, input.PaymentID)
	original, err := s.payments.Find(ctx, nil, input.PaymentID)
	if err != nil {
		return nil, err
	}
	if err := s.checkVoidable(ctx, nil, original); err != nil {
		return nil, err
	}

	ref := VoidRef(original.ID)
	gatewayRefundID, err := s.refundAtGateway(ctx, original, original.Amount, reason, ref)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	var reversal models.Payment
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.payments.GetForUpdate(ctx, tx, original.ID)
		if err != nil {
			return err
		}
		if err := s.checkVoidable(ctx, tx, locked); err != nil {
			return err
		}

		originalID := locked.ID
		reversal = models.Payment{
			BillID:         locked.BillID,
			CustomerID:     locked.CustomerID,
			EmployeeID:     &employee.ID,
			PaymentDate:    now,
			Amount:         locked.Amount.Neg(),
			Method:         locked.Method,
			Channel:        locked.Channel,
			Status:         enums.PaymentStatusCompleted,
			TransactionRef: &ref,
			ReversalOfID:   &originalID,
			Audit: models.PaymentAudit{
				VoidReason:        reason,
				OriginalPaymentID: &originalID,
				GatewayRefundID:   gatewayRefundID,
			},
			CreatedAt: now,
		}
		if err := s.payments.Create(ctx, tx, &reversal); err != nil {
			return err
		}
		if err := s.markReversed(ctx, tx, locked, reversal.ID, true); err != nil {
			return err
		}
		return s.emitReversal(ctx, tx, enums.EventPaymentVoided, employee, *locked, reversal, reason, true)
	})
	if err != nil {
		return nil, s.unrecordedGatewayRefund(ctx, err, original.ID, gatewayRefundID, "void")
	}

	s.metrics.Reversal(reversalKindVoid)
	s.logg.Info(s.logg.WithField(ctx, "reversal_id", reversal.ID), "payment voided")
	return s.payments.Get(ctx, reversal.ID)
}

// checkVoidable rejects reversal rows, non-completed payments, payments that
// already carry a void and payments with any refund against them.
func (s *Service) checkVoidable(ctx context.Context, tx *gorm.DB, original *models.Payment) error {
	if err := ensureReversible(original); err != nil {
		return err
	}
	voided, err := s.payments.RefExists(ctx, tx, VoidRef(original.ID), 0)
	if err != nil {
		return err
	}
	if voided {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "payment already voided").
			WithDetails(map[string]any{"payment_id": original.ID})
	}
	refunded, err := s.payments.RefundedAmount(ctx, tx, original.ID)
	if err != nil {
		return err
	}
	if refunded.IsPositive() {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "partially refunded payments cannot be voided").
			WithDetails(map[string]any{
				"payment_id":       original.ID,
				"already_refunded": refunded.StringFixed(2),
			})
	}
	return nil
}

// unrecordedGatewayRefund turns a failed ledger write into an internal error
// once money has already moved at the processor.
func (s *Service) unrecordedGatewayRefund(ctx context.Context, err error, paymentID uint64, gatewayRefundID, kind string) error {
	if gatewayRefundID == "" {
		return err
	}
	s.logg.Error(s.logg.WithField(ctx, "gateway_refund_id", gatewayRefundID),
		"gateway refund succeeded but ledger write failed", err)
	return pkgerrors.Wrap(pkgerrors.CodeInternal, err, kind+" issued at gateway but not recorded").
		WithDetails(map[string]any{
			"payment_id":        paymentID,
			"gateway_refund_id": gatewayRefundID,
		})
}

// Refund reverses part or all of a completed payment. Gateway payments are
// refunded at the processor first; the local reversal row follows.
func (s *Service) Refund(ctx context.Context, input RefundInput) (_ *models.Payment, err error) {
	defer func() { s.observeRejection(err) }()

	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "refund amount must be positive").
			WithDetails(map[string]any{"amount": input.Amount})
	}
	reason := strings.TrimSpace(input.Reason)
	if reason == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "refund reason is required")
	}
	if input.Method != nil && !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown refund method").
			WithDetails(map[string]any{"method": *input.Method})
	}

	ctx = s.logg.WithPaymentID(ctx, input.PaymentID)
	original, err := s.payments.Find(ctx, nil, input.PaymentID)
	if err != nil {
		return nil, err
	}
	if err := ensureReversible(original); err != nil {
		return nil, err
	}
	if input.Amount.GreaterThan(original.Amount) {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "refund exceeds original payment").
			WithDetails(map[string]any{
				"payment_id": original.ID,
				"amount":     input.Amount.StringFixed(2),
				"original":   original.Amount.StringFixed(2),
			})
	}
	refunded, err := s.payments.RefundedAmount(ctx, nil, original.ID)
	if err != nil {
		return nil, err
	}
	if err := checkRefundable(original, refunded, input.Amount); err != nil {
		return nil, err
	}
	employee, err := s.employees.Get(ctx, nil, input.EmployeeID)
	if err != nil {
		return nil, err
	}
	if s.policy.RequiresApproval(input.Amount) && !employee.Role.CanApproveRefunds() {
		return nil, pkgerrors.New(pkgerrors.CodeForbidden, "refund requires manager approval").
			WithDetails(map[string]any{
				"amount":    input.Amount.StringFixed(2),
				"threshold": s.policy.RefundApprovalThreshold.StringFixed(2),
				"role":      employee.Role,
			})
	}

	seq, err := s.payments.RefundCount(ctx, nil, original.ID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	ref := RefundRef(original.ID, now, seq)
	gatewayRefundID, err := s.refundAtGateway(ctx, original, input.Amount, reason, ref)
	if err != nil {
		return nil, err
	}

	method := original.Method
	if input.Method != nil {
		method = *input.Method
	}
	var reversal models.Payment
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		locked, err := s.payments.GetForUpdate(ctx, tx, original.ID)
		if err != nil {
			return err
		}
		if err := ensureReversible(locked); err != nil {
			return err
		}
		already, err := s.payments.RefundedAmount(ctx, tx, locked.ID)
		if err != nil {
			return err
		}
		if err := checkRefundable(locked, already, input.Amount); err != nil {
			return err
		}

		originalID := locked.ID
		reversal = models.Payment{
			BillID:         locked.BillID,
			CustomerID:     locked.CustomerID,
			EmployeeID:     &employee.ID,
			PaymentDate:    now,
			Amount:         input.Amount.Neg(),
			Method:         method,
			Channel:        locked.Channel,
			Status:         enums.PaymentStatusCompleted,
			TransactionRef: &ref,
			ReversalOfID:   &originalID,
			Audit: models.PaymentAudit{
				RefundReason:      reason,
				OriginalPaymentID: &originalID,
				GatewayRefundID:   gatewayRefundID,
			},
			CreatedAt: now,
		}
		if err := s.payments.Create(ctx, tx, &reversal); err != nil {
			return err
		}
		full := already.Add(input.Amount).Equal(locked.Amount)
		if err := s.markReversed(ctx, tx, locked, reversal.ID, full); err != nil {
			return err
		}
		return s.emitReversal(ctx, tx, enums.EventPaymentRefunded, employee, *locked, reversal, reason, full)
	})
	if err != nil {
		return nil, s.unrecordedGatewayRefund(ctx, err, original.ID, gatewayRefundID, "refund")
	}

	s.metrics.Reversal(reversalKindRefund)
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"reversal_id": reversal.ID,
		"amount":      input.Amount.StringFixed(2),
	})
	s.logg.Info(logCtx, "payment refunded")
	return s.payments.Get(ctx, reversal.ID)
}

func (s *Service) refundAtGateway(ctx context.Context, original *models.Payment, amount decimal.Decimal, reason, key string) (string, error) {
	if !needsGatewayRefund(original.Method) {
		return "", nil
	}
	if s.refunder == nil {
		if original.Method.IsGateway() {
			return "", pkgerrors.New(pkgerrors.CodeDependency, "gateway refunds are not configured")
		}
		return "", nil
	}
	res, err := s.refunder.Refund(ctx, RefundRequest{
		PaymentID:       original.ID,
		Method:          original.Method,
		PaymentIntentID: deref(original.GatewayPaymentIntentID),
		ChargeID:        deref(original.GatewayChargeID),
		TransactionRef:  original.Ref(),
		Amount:          amount,
		Reason:          reason,
		IdempotencyKey:  key,
	})
	if err != nil {
		if pkgerrors.As(err) != nil {
			return "", err
		}
		return "", pkgerrors.Wrap(pkgerrors.CodeDependency, err, "gateway refund failed")
	}
	if res == nil {
		return "", nil
	}
	return res.RefundID, nil
}

// markReversed links the reversal on the original and, once fully reversed,
// moves it to refunded.
func (s *Service) markReversed(ctx context.Context, tx *gorm.DB, original *models.Payment, reversalID uint64, full bool) error {
	original.Audit.AddReversal(reversalID)
	columns := map[string]any{"metadata": original.Audit}
	if full {
		if !original.Status.CanTransitionTo(enums.PaymentStatusRefunded) {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "payment cannot be marked refunded").
				WithDetails(map[string]any{"payment_id": original.ID, "status": original.Status})
		}
		original.Status = enums.PaymentStatusRefunded
		columns["payment_status"] = original.Status
	}
	return s.payments.UpdateColumns(ctx, tx, original.ID, columns)
}

func (s *Service) emitReversal(ctx context.Context, tx *gorm.DB, eventType enums.OutboxEventType, employee *models.Employee, original, reversal models.Payment, reason string, full bool) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     eventType,
		AggregateType: enums.AggregatePayment,
		AggregateID:   original.ID,
		Actor:         actorFor(employee),
		OccurredAt:    reversal.CreatedAt,
		Data: payloads.PaymentReversedEvent{
			OriginalPaymentID: original.ID,
			ReversalPaymentID: reversal.ID,
			BillID:            original.BillID,
			Amount:            reversal.Amount,
			Method:            reversal.Method,
			Reason:            reason,
			FullyReversed:     full,
			GatewayRefundID:   reversal.Audit.GatewayRefundID,
		},
	})
}

func ensureReversible(p *models.Payment) error {
	if p.IsReversal() || p.ReversalOfID != nil {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "reversal rows cannot be reversed").
			WithDetails(map[string]any{"payment_id": p.ID})
	}
	if !p.IsRefundable() {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "only completed payments can be reversed").
			WithDetails(map[string]any{"payment_id": p.ID, "status": p.Status})
	}
	return nil
}

func checkRefundable(original *models.Payment, alreadyRefunded, amount decimal.Decimal) error {
	remaining := original.Amount.Sub(alreadyRefunded)
	if amount.GreaterThan(remaining) {
		return pkgerrors.New(pkgerrors.CodeInvalidAmount, "refund exceeds remaining refundable amount").
			WithDetails(map[string]any{
				"payment_id":       original.ID,
				"amount":           amount.StringFixed(2),
				"already_refunded": alreadyRefunded.StringFixed(2),
				"remaining":        remaining.StringFixed(2),
			})
	}
	return nil
}

func needsGatewayRefund(method enums.PaymentMethod) bool {
	return method.IsGateway() || method == enums.PaymentMethodCardTerminal
}

func deref(v *string) string {
	if v == nil {
		return ""
	}
	return *v
}
