package payments

import (
	"context"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
)

// Allocate spreads one amount over bills in the order given, settling each
// bill's outstanding balance before moving on. The whole allocation commits
// or rolls back as a unit; what is left after the last bill is returned as
// excess and not recorded.
func (s *Service) Allocate(ctx context.Context, input AllocateInput) (_ *AllocationResult, err error) {
	defer func() { s.observeRejection(err) }()

	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "allocation amount must be positive").
			WithDetails(map[string]any{"amount": input.Amount})
	}
	if len(input.BillIDs) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "at least one bill is required")
	}
	seen := make(map[uint64]struct{}, len(input.BillIDs))
	for _, id := range input.BillIDs {
		if _, dup := seen[id]; dup {
			return nil, pkgerrors.New(pkgerrors.CodeValidation, "bill ids must be distinct").
				WithDetails(map[string]any{"bill_id": id})
		}
		seen[id] = struct{}{}
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method").
			WithDetails(map[string]any{"method": input.Method})
	}
	if input.Channel != nil && !input.Channel.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment channel").
			WithDetails(map[string]any{"channel": *input.Channel})
	}
	baseRef := normalizeRef(input.TransactionRef)
	if baseRef == nil && input.Method.RequiresTransactionRef() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction reference is required for this payment method").
			WithDetails(map[string]any{"method": input.Method})
	}
	now := s.now().UTC()
	paymentDate, err := s.resolvePaymentDate(input.PaymentDate, now)
	if err != nil {
		return nil, err
	}

	result := &AllocationResult{}
	var created []models.Payment
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		employee, err := s.loadEmployee(ctx, tx, input.EmployeeID)
		if err != nil {
			return err
		}
		bills, err := s.bills.LoadManyForUpdate(ctx, tx, input.BillIDs)
		if err != nil {
			return err
		}

		payable := make([]models.Bill, 0, len(bills))
		for _, bill := range bills {
			if bill.OutstandingBalance().IsPositive() {
				payable = append(payable, bill)
			}
		}
		if len(payable) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "none of the bills has an outstanding balance").
				WithDetails(map[string]any{"bill_ids": input.BillIDs})
		}

		remaining := input.Amount
		for _, bill := range payable {
			if !remaining.IsPositive() {
				break
			}
			before := bill.OutstandingBalance()
			share := decimal.Min(remaining, before)

			var ref *string
			if baseRef != nil {
				derived := AllocationRef(*baseRef, bill.ID)
				ref = &derived
				if err := s.checkRef(ctx, tx, input.Method, ref, 0); err != nil {
					return err
				}
			}

			payment := models.Payment{
				BillID:         bill.ID,
				CustomerID:     s.customerSnapshot(ctx, tx, bill.ID),
				EmployeeID:     input.EmployeeID,
				PaymentDate:    paymentDate,
				Amount:         share,
				Method:         input.Method,
				Channel:        input.Channel,
				Status:         enums.PaymentStatusCompleted,
				TransactionRef: ref,
				CreatedAt:      now,
			}
			if err := s.payments.Create(ctx, tx, &payment); err != nil {
				return err
			}
			if err := s.emitRecorded(ctx, tx, payment, employee, baseRef); err != nil {
				return err
			}
			created = append(created, payment)

			after := before.Sub(share)
			result.Allocations = append(result.Allocations, Allocation{
				BillID:            bill.ID,
				PaymentID:         payment.ID,
				ReceiptNumber:     payment.ReceiptNumber(),
				OutstandingBefore: before,
				AllocatedAmount:   share,
				OutstandingAfter:  after,
				IsFullyPaid:       !after.IsPositive(),
			})
			remaining = remaining.Sub(share)
		}
		result.ExcessAmount = remaining
		return nil
	})
	if err != nil {
		return nil, err
	}

	for _, p := range created {
		s.metrics.PaymentRecorded(string(p.Method), p.Amount)
	}
	logCtx := s.logg.WithFields(ctx, map[string]any{
		"amount":    input.Amount.StringFixed(2),
		"bills":     len(result.Allocations),
		"excess":    result.ExcessAmount.StringFixed(2),
		"requested": len(input.BillIDs),
	})
	s.logg.Info(logCtx, "payment allocated")
	return result, nil
}
