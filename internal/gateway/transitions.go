package gateway

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/gridpay-backend/internal/payments"
	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
	"github.com/angelmondragon/gridpay-backend/pkg/outbox"
	"github.com/angelmondragon/gridpay-backend/pkg/outbox/payloads"
)

const (
	webhookActor = "stripe-webhook"
	sweepActor   = "pending-payment-expiry"

	reasonReconstructed = "reconstructed from webhook metadata"
	reasonLateCapture   = "captured after the pending row closed"
	reasonGatewayRefund = "refunded at gateway"
	reasonExpired       = "pending payment expired"
	reasonSessionExpiry = "checkout session expired"

	lateRefSuffix = "-late"
)

var errLateCapture = errors.New("late gateway capture")

// Confirmation describes a succeeded payment intent.
type Confirmation struct {
	PaymentIntentID string
	ChargeID        string
	AmountMinor     int64
	Currency        string
	Metadata        map[string]string
	EventID         string
	ConfirmedAt     time.Time
}

// SessionCompletion describes a completed checkout session.
type SessionCompletion struct {
	SessionID       string
	PaymentIntentID string
	PaymentStatus   string
	AmountMinor     int64
	Metadata        map[string]string
	EventID         string
	CompletedAt     time.Time
}

// ChargeRefund describes a refund observed on a gateway charge.
type ChargeRefund struct {
	ChargeID            string
	PaymentIntentID     string
	AmountMinor         int64
	AmountRefundedMinor int64
	FullyRefunded       bool
	RefundID            string
	EventID             string
	RefundedAt          time.Time
}

// ConfirmFromWebhook completes the pending rows of a succeeded intent inside
// tx. With no rows for the intent, rows are rebuilt from the metadata unless
// the intent belongs to a checkout session. It returns the rows changed.
func (s *Service) ConfirmFromWebhook(ctx context.Context, tx *gorm.DB, c Confirmation) (int, error) {
	if c.PaymentIntentID == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	at := s.eventTime(c.ConfirmedAt)
	ctx = s.logg.WithField(ctx, "payment_intent_id", c.PaymentIntentID)

	rows, err := s.payments.ListByGatewayRef(ctx, tx, payments.ColumnPaymentIntent, c.PaymentIntentID)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		if isCheckoutSourced(c.Metadata) {
			s.logg.Info(ctx, "intent belongs to a checkout session; awaiting session completion")
			return 0, nil
		}
		return s.reconstruct(ctx, tx, reconstruction{
			Ref:             c.PaymentIntentID,
			PaymentIntentID: c.PaymentIntentID,
			ChargeID:        c.ChargeID,
			Metadata:        c.Metadata,
			EventID:         c.EventID,
			At:              at,
		})
	}

	changed := 0
	confirmed := decimal.Zero
	var closed []models.Payment
	for i := range rows {
		row := &rows[i]
		switch row.Status {
		case enums.PaymentStatusPending:
			columns := map[string]any{"payment_date": at}
			if c.ChargeID != "" {
				row.GatewayChargeID = strPtr(c.ChargeID)
				columns["gateway_charge_id"] = c.ChargeID
			}
			row.PaymentDate = at
			row.Audit.WebhookEventID = c.EventID
			if err := s.transition(ctx, tx, row, enums.PaymentStatusCompleted, columns, c.EventID, ""); err != nil {
				return changed, err
			}
			changed++
			confirmed = confirmed.Add(row.Amount)
		case enums.PaymentStatusCompleted:
			confirmed = confirmed.Add(row.Amount)
			if row.GatewayChargeID == nil && c.ChargeID != "" {
				if err := s.payments.UpdateColumns(ctx, tx, row.ID, map[string]any{"gateway_charge_id": c.ChargeID}); err != nil {
					return changed, err
				}
				changed++
			}
		case enums.PaymentStatusCancelled, enums.PaymentStatusFailed:
			closed = append(closed, *row)
		default:
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"payment_id": row.ID,
				"status":     row.Status,
			}), "intent succeeded for a row that can no longer complete")
		}
	}
	if changed == 0 && confirmed.IsZero() && len(closed) > 0 {
		return s.recordLateCapture(ctx, tx, closed, reconstruction{
			Ref:             c.PaymentIntentID + lateRefSuffix,
			PaymentIntentID: c.PaymentIntentID,
			ChargeID:        c.ChargeID,
			EventID:         c.EventID,
			At:              at,
		}, sourceIntent)
	}
	s.checkConfirmedAmount(ctx, c.AmountMinor, confirmed)
	return changed, nil
}

// FailIntent marks the pending rows of a failed intent as failed.
func (s *Service) FailIntent(ctx context.Context, tx *gorm.DB, intentID, reason, eventID string) (int, error) {
	if intentID == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "payment intent id required")
	}
	if reason == "" {
		reason = "payment failed"
	}
	ctx = s.logg.WithField(ctx, "payment_intent_id", intentID)
	rows, err := s.payments.ListByGatewayRef(ctx, tx, payments.ColumnPaymentIntent, intentID)
	if err != nil {
		return 0, err
	}
	changed := 0
	for i := range rows {
		row := &rows[i]
		if row.Status != enums.PaymentStatusPending {
			continue
		}
		row.Audit.FailureReason = reason
		row.Audit.WebhookEventID = eventID
		if err := s.transition(ctx, tx, row, enums.PaymentStatusFailed, map[string]any{}, eventID, reason); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// CompleteSession completes the pending rows of a paid checkout session and
// stamps the intent id onto them.
func (s *Service) CompleteSession(ctx context.Context, tx *gorm.DB, c SessionCompletion) (int, error) {
	if c.SessionID == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "checkout session id required")
	}
	ctx = s.logg.WithField(ctx, "checkout_session_id", c.SessionID)
	if c.PaymentStatus != "paid" {
		s.logg.Info(s.logg.WithField(ctx, "payment_status", c.PaymentStatus), "checkout session completed without payment")
		return 0, nil
	}
	at := s.eventTime(c.CompletedAt)

	rows, err := s.payments.ListByGatewayRef(ctx, tx, payments.ColumnCheckoutSession, c.SessionID)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return s.reconstruct(ctx, tx, reconstruction{
			Ref:               c.SessionID,
			CheckoutSessionID: c.SessionID,
			PaymentIntentID:   c.PaymentIntentID,
			Metadata:          c.Metadata,
			EventID:           c.EventID,
			At:                at,
		})
	}

	changed := 0
	confirmed := decimal.Zero
	var closed []models.Payment
	for i := range rows {
		row := &rows[i]
		columns := map[string]any{}
		if c.PaymentIntentID != "" && row.GatewayPaymentIntentID == nil {
			row.GatewayPaymentIntentID = strPtr(c.PaymentIntentID)
			columns["gateway_payment_intent_id"] = c.PaymentIntentID
		}
		switch row.Status {
		case enums.PaymentStatusPending:
			row.PaymentDate = at
			row.Audit.WebhookEventID = c.EventID
			columns["payment_date"] = at
			if err := s.transition(ctx, tx, row, enums.PaymentStatusCompleted, columns, c.EventID, ""); err != nil {
				return changed, err
			}
			changed++
			confirmed = confirmed.Add(row.Amount)
		case enums.PaymentStatusCompleted:
			confirmed = confirmed.Add(row.Amount)
			if len(columns) > 0 {
				if err := s.payments.UpdateColumns(ctx, tx, row.ID, columns); err != nil {
					return changed, err
				}
				changed++
			}
		case enums.PaymentStatusCancelled, enums.PaymentStatusFailed:
			closed = append(closed, *row)
		default:
			s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
				"payment_id": row.ID,
				"status":     row.Status,
			}), "session completed for a row that can no longer complete")
		}
	}
	if changed == 0 && confirmed.IsZero() && len(closed) > 0 {
		return s.recordLateCapture(ctx, tx, closed, reconstruction{
			Ref:               c.SessionID + lateRefSuffix,
			CheckoutSessionID: c.SessionID,
			PaymentIntentID:   c.PaymentIntentID,
			EventID:           c.EventID,
			At:                at,
		}, sourceCheckout)
	}
	s.checkConfirmedAmount(ctx, c.AmountMinor, confirmed)
	return changed, nil
}

// ExpireSession cancels the pending rows of an expired checkout session.
func (s *Service) ExpireSession(ctx context.Context, tx *gorm.DB, sessionID, eventID string, at time.Time) (int, error) {
	if sessionID == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "checkout session id required")
	}
	at = s.eventTime(at)
	ctx = s.logg.WithField(ctx, "checkout_session_id", sessionID)
	rows, err := s.payments.ListByGatewayRef(ctx, tx, payments.ColumnCheckoutSession, sessionID)
	if err != nil {
		return 0, err
	}
	changed := 0
	for i := range rows {
		row := &rows[i]
		if row.Status != enums.PaymentStatusPending {
			continue
		}
		expired := at
		row.Audit.ExpiredAt = &expired
		row.Audit.WebhookEventID = eventID
		if err := s.transition(ctx, tx, row, enums.PaymentStatusCancelled, map[string]any{}, eventID, reasonSessionExpiry); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// ApplyChargeRefund marks the rows of a fully refunded charge as refunded.
// Any amount not yet reversed in the ledger is written as a compensating
// refund row so the bill's paid total matches the gateway.
func (s *Service) ApplyChargeRefund(ctx context.Context, tx *gorm.DB, r ChargeRefund) (int, error) {
	if r.ChargeID == "" && r.PaymentIntentID == "" {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "charge or payment intent id required")
	}
	ctx = s.logg.WithFields(ctx, map[string]any{
		"charge_id":         r.ChargeID,
		"payment_intent_id": r.PaymentIntentID,
	})
	if !r.FullyRefunded {
		s.logg.Info(s.logg.WithField(ctx, "amount_refunded_minor", r.AmountRefundedMinor), "partial charge refund; ledger unchanged")
		return 0, nil
	}
	at := s.eventTime(r.RefundedAt)

	var rows []models.Payment
	var err error
	if r.ChargeID != "" {
		rows, err = s.payments.ListByGatewayRef(ctx, tx, payments.ColumnCharge, r.ChargeID)
		if err != nil {
			return 0, err
		}
	}
	if len(rows) == 0 && r.PaymentIntentID != "" {
		rows, err = s.payments.ListByGatewayRef(ctx, tx, payments.ColumnPaymentIntent, r.PaymentIntentID)
		if err != nil {
			return 0, err
		}
	}
	if len(rows) == 0 {
		s.logg.Warn(ctx, "charge refunded for unknown payment")
		return 0, nil
	}

	changed := 0
	for i := range rows {
		row := &rows[i]
		if row.Status != enums.PaymentStatusCompleted {
			continue
		}
		if err := s.compensate(ctx, tx, row, r, at); err != nil {
			return changed, err
		}
		row.Audit.WebhookEventID = r.EventID
		if err := s.transition(ctx, tx, row, enums.PaymentStatusRefunded, map[string]any{}, r.EventID, reasonGatewayRefund); err != nil {
			return changed, err
		}
		changed++
	}
	return changed, nil
}

// compensate writes a refund row for whatever part of row has not yet been
// reversed locally.
func (s *Service) compensate(ctx context.Context, tx *gorm.DB, row *models.Payment, r ChargeRefund, at time.Time) error {
	reversals, err := s.payments.Reversals(ctx, tx, row.ID)
	if err != nil {
		return err
	}
	reversed := decimal.Zero
	for _, rev := range reversals {
		reversed = reversed.Add(rev.Amount.Abs())
	}
	remaining := row.Amount.Sub(reversed)
	if !remaining.IsPositive() {
		return nil
	}

	ref := payments.RefundRef(row.ID, at, len(reversals))
	originalID := row.ID
	reversal := models.Payment{
		BillID:          row.BillID,
		CustomerID:      row.CustomerID,
		PaymentDate:     at,
		Amount:          remaining.Neg(),
		Method:          row.Method,
		Channel:         row.Channel,
		Status:          enums.PaymentStatusCompleted,
		TransactionRef:  &ref,
		ReversalOfID:    &originalID,
		Audit: models.PaymentAudit{
			RefundReason:      reasonGatewayRefund,
			OriginalPaymentID: &originalID,
			GatewayRefundID:   r.RefundID,
			WebhookEventID:    r.EventID,
		},
		CreatedAt: s.now().UTC(),
	}
	if err := s.payments.Create(ctx, tx, &reversal); err != nil {
		return err
	}
	row.Audit.AddReversal(reversal.ID)

	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"payment_id":  row.ID,
		"reversal_id": reversal.ID,
		"amount":      remaining.StringFixed(2),
	}), "recorded compensating refund for gateway-initiated refund")

	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentRefunded,
		AggregateType: enums.AggregatePayment,
		AggregateID:   row.ID,
		Actor:         outbox.SystemActor(webhookActor),
		OccurredAt:    at,
		Data: payloads.PaymentReversedEvent{
			OriginalPaymentID: row.ID,
			ReversalPaymentID: reversal.ID,
			BillID:            row.BillID,
			Amount:            reversal.Amount,
			Method:            reversal.Method,
			Reason:            reasonGatewayRefund,
			FullyReversed:     true,
			GatewayRefundID:   r.RefundID,
		},
	})
}

type reconstruction struct {
	Ref               string
	PaymentIntentID   string
	ChargeID          string
	CheckoutSessionID string
	Metadata          map[string]string
	EventID           string
	At                time.Time

	// Set for late captures: the split and origin come from the closed rows.
	Shares     []billShare
	CustomerID *uint64
	Method     enums.PaymentMethod
	Supersedes map[uint64]uint64
}

// recordLateCapture books money the gateway captured after the sweep or a
// failure closed the pending rows. Closed rows stay terminal; each bill gets a
// new completed row that points back at the row it supersedes.
func (s *Service) recordLateCapture(ctx context.Context, tx *gorm.DB, closed []models.Payment, r reconstruction, source string) (int, error) {
	exists, err := s.payments.RefExists(ctx, tx, r.Ref, 0)
	if err != nil {
		return 0, err
	}
	if exists {
		return 0, nil
	}

	r.Method = closed[0].Method
	r.CustomerID = closed[0].CustomerID
	r.Supersedes = make(map[uint64]uint64, len(closed))
	for _, row := range closed {
		if _, seen := r.Supersedes[row.BillID]; seen {
			continue
		}
		r.Supersedes[row.BillID] = row.ID
		r.Shares = append(r.Shares, billShare{BillID: row.BillID, Amount: row.Amount})
	}

	n, err := s.reconstruct(ctx, tx, r)
	if err != nil {
		return n, err
	}
	s.metrics.LateCapture(source)
	s.logg.Error(s.logg.WithFields(ctx, map[string]any{
		"rows":       n,
		"ref":        r.Ref,
		"superseded": len(closed),
	}), "gateway captured payment after its ledger rows closed", errLateCapture)
	return n, nil
}

// reconstruct writes completed rows straight from gateway metadata when the
// pending rows were never recorded, or from r.Shares for a late capture.
func (s *Service) reconstruct(ctx context.Context, tx *gorm.DB, r reconstruction) (int, error) {
	shares := r.Shares
	customerID := r.CustomerID
	if shares == nil {
		decoded, err := decodeShares(r.Metadata)
		if err != nil {
			s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "gateway payment has no ledger rows and no usable metadata")
			return 0, pkgerrors.Wrap(pkgerrors.CodeValidation, err, "cannot reconstruct gateway payment")
		}
		shares = decoded
		customerID = customerFromMetadata(r.Metadata)
	}
	method := r.Method
	if method == "" {
		method = enums.PaymentMethodGatewayCard
	}
	reason := reasonReconstructed
	if r.Supersedes != nil {
		reason = reasonLateCapture
	}
	channel := enums.PaymentChannelSelfService
	now := s.now().UTC()

	for _, share := range shares {
		bill, err := s.bills.LoadForUpdate(ctx, tx, share.BillID)
		if err != nil {
			return 0, err
		}
		owner := customerID
		if owner == nil {
			if resolved, err := s.bills.ResolveCustomerForBill(ctx, tx, bill.ID); err == nil {
				owner = &resolved
			}
		}
		row := models.Payment{
			BillID:         bill.ID,
			CustomerID:     owner,
			PaymentDate:    r.At,
			Amount:         share.Amount,
			Method:         method,
			Channel:        &channel,
			Status:         enums.PaymentStatusCompleted,
			TransactionRef: strPtr(r.Ref),
			Audit: models.PaymentAudit{
				WebhookEventID: r.EventID,
				Reconstructed:  r.Supersedes == nil,
			},
			CreatedAt: now,
		}
		if supersedes, ok := r.Supersedes[bill.ID]; ok {
			row.Audit.SupersedesPaymentID = &supersedes
		}
		if r.PaymentIntentID != "" {
			row.GatewayPaymentIntentID = strPtr(r.PaymentIntentID)
		}
		if r.ChargeID != "" {
			row.GatewayChargeID = strPtr(r.ChargeID)
		}
		if r.CheckoutSessionID != "" {
			row.CheckoutSessionID = strPtr(r.CheckoutSessionID)
		}
		if err := s.payments.Create(ctx, tx, &row); err != nil {
			return 0, err
		}
		if err := s.emitStatusChanged(ctx, tx, row, enums.PaymentStatusPending, r.EventID, reason, webhookActor); err != nil {
			return 0, err
		}
	}
	if r.Supersedes == nil {
		s.logg.Warn(s.logg.WithField(ctx, "rows", len(shares)), "reconstructed gateway payment from webhook metadata")
	}
	return len(shares), nil
}

// transition moves row to next, writing columns plus the status and audit.
func (s *Service) transition(ctx context.Context, tx *gorm.DB, row *models.Payment, next enums.PaymentStatus, columns map[string]any, eventID, reason string) error {
	from := row.Status
	if !from.CanTransitionTo(next) {
		return pkgerrors.New(pkgerrors.CodeInvalidState, "invalid payment status transition").
			WithDetails(map[string]any{"payment_id": row.ID, "from": from, "to": next})
	}
	row.Status = next
	columns["payment_status"] = next
	columns["metadata"] = row.Audit
	if err := s.payments.UpdateColumns(ctx, tx, row.ID, columns); err != nil {
		return err
	}
	actor := webhookActor
	if eventID == "" {
		actor = sweepActor
	}
	return s.emitStatusChanged(ctx, tx, *row, from, eventID, reason, actor)
}

func (s *Service) emitStatusChanged(ctx context.Context, tx *gorm.DB, row models.Payment, from enums.PaymentStatus, eventID, reason, actor string) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentStatusChanged,
		AggregateType: enums.AggregatePayment,
		AggregateID:   row.ID,
		Actor:         outbox.SystemActor(actor),
		OccurredAt:    s.now().UTC(),
		Data: payloads.PaymentStatusChangedEvent{
			PaymentID:      row.ID,
			BillID:         row.BillID,
			From:           from,
			To:             row.Status,
			Amount:         row.Amount,
			WebhookEventID: eventID,
			Reason:         reason,
		},
	})
}

func (s *Service) checkConfirmedAmount(ctx context.Context, amountMinor int64, confirmed decimal.Decimal) {
	if amountMinor <= 0 {
		return
	}
	received := FromMinorUnits(amountMinor)
	if received.Equal(confirmed) {
		return
	}
	s.logg.Warn(s.logg.WithFields(ctx, map[string]any{
		"gateway_amount": received.StringFixed(2),
		"ledger_amount":  confirmed.StringFixed(2),
	}), "gateway amount differs from ledger rows")
}

func (s *Service) eventTime(at time.Time) time.Time {
	if at.IsZero() {
		return s.now().UTC()
	}
	return at.UTC()
}
