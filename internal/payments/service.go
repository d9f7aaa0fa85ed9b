package payments

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"gorm.io/gorm"

	"github.com/angelmondragon/gridpay-backend/pkg/db/models"
	"github.com/angelmondragon/gridpay-backend/pkg/enums"
	pkgerrors "github.com/angelmondragon/gridpay-backend/pkg/errors"
	"github.com/angelmondragon/gridpay-backend/pkg/logger"
	"github.com/angelmondragon/gridpay-backend/pkg/metrics"
	"github.com/angelmondragon/gridpay-backend/pkg/outbox"
	"github.com/angelmondragon/gridpay-backend/pkg/outbox/payloads"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type billLoader interface {
	LoadForUpdate(ctx context.Context, tx *gorm.DB, id uint64) (*models.Bill, error)
	LoadManyForUpdate(ctx context.Context, tx *gorm.DB, ids []uint64) ([]models.Bill, error)
	ResolveCustomerForBill(ctx context.Context, tx *gorm.DB, billID uint64) (uint64, error)
}

type employeeLoader interface {
	Get(ctx context.Context, tx *gorm.DB, id uint64) (*models.Employee, error)
}

// GatewayRefunder returns money through the processor that took it. A nil
// result with a nil error means no gateway call applies to the method.
type GatewayRefunder interface {
	Refund(ctx context.Context, req RefundRequest) (*RefundResult, error)
}

// ServiceParams wires the ledger service.
type ServiceParams struct {
	Logger    *logger.Logger
	DB        txRunner
	Payments  *Repository
	Bills     billLoader
	Employees employeeLoader
	Outbox    outbox.Emitter
	Refunder  GatewayRefunder
	Policy    Policy
	Metrics   *metrics.LedgerMetrics
	Now       func() time.Time
}

// Service records, corrects, allocates and reverses ledger rows.
type Service struct {
	logg      *logger.Logger
	db        txRunner
	payments  *Repository
	bills     billLoader
	employees employeeLoader
	outbox    outbox.Emitter
	refunder  GatewayRefunder
	policy    Policy
	metrics   *metrics.LedgerMetrics
	now       func() time.Time
}

// NewService validates and builds the ledger service.
func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, fmt.Errorf("logger required")
	}
	if params.DB == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if params.Payments == nil {
		return nil, fmt.Errorf("payments repository required")
	}
	if params.Bills == nil {
		return nil, fmt.Errorf("bill loader required")
	}
	if params.Employees == nil {
		return nil, fmt.Errorf("employee loader required")
	}
	if params.Outbox == nil {
		return nil, fmt.Errorf("outbox emitter required")
	}
	now := params.Now
	if now == nil {
		now = time.Now
	}
	return &Service{
		logg:      params.Logger,
		db:        params.DB,
		payments:  params.Payments,
		bills:     params.Bills,
		employees: params.Employees,
		outbox:    params.Outbox,
		refunder:  params.Refunder,
		policy:    params.Policy,
		metrics:   params.Metrics,
		now:       now,
	}, nil
}

// Get returns a payment with its relations.
func (s *Service) Get(ctx context.Context, id uint64) (*models.Payment, error) {
	return s.payments.Get(ctx, id)
}

// Record writes a completed payment against a bill.
func (s *Service) Record(ctx context.Context, input RecordInput) (_ *models.Payment, err error) {
	defer func() { s.observeRejection(err) }()

	if !input.Amount.IsPositive() {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "payment amount must be positive").
			WithDetails(map[string]any{"amount": input.Amount})
	}
	if !input.Method.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment method").
			WithDetails(map[string]any{"method": input.Method})
	}
	if input.Channel != nil && !input.Channel.IsValid() {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "unknown payment channel").
			WithDetails(map[string]any{"channel": *input.Channel})
	}
	now := s.now().UTC()
	paymentDate, err := s.resolvePaymentDate(input.PaymentDate, now)
	if err != nil {
		return nil, err
	}
	ref := normalizeRef(input.TransactionRef)

	ctx = s.logg.WithField(ctx, "bill_id", input.BillID)
	var created models.Payment
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		bill, err := s.bills.LoadForUpdate(ctx, tx, input.BillID)
		if err != nil {
			return err
		}

		outstanding := bill.RawOutstanding()
		overpayment, err := s.checkTolerance(bill, outstanding, input.Amount)
		if err != nil {
			return err
		}

		if err := s.checkRef(ctx, tx, input.Method, ref, 0); err != nil {
			return err
		}
		employee, err := s.loadEmployee(ctx, tx, input.EmployeeID)
		if err != nil {
			return err
		}

		created = models.Payment{
			BillID:         bill.ID,
			CustomerID:     s.customerSnapshot(ctx, tx, bill.ID),
			EmployeeID:     input.EmployeeID,
			PaymentDate:    paymentDate,
			Amount:         input.Amount,
			Method:         input.Method,
			Channel:        input.Channel,
			Status:         enums.PaymentStatusCompleted,
			TransactionRef: ref,
			Notes:          input.Notes,
			CreatedAt:      now,
		}
		if overpayment != nil {
			created.Audit.OverpaymentAmount = overpayment
			warnCtx := s.logg.WithFields(ctx, map[string]any{
				"amount":      input.Amount.StringFixed(2),
				"outstanding": outstanding.StringFixed(2),
				"overpayment": overpayment.StringFixed(2),
			})
			s.logg.Warn(warnCtx, "payment exceeds outstanding balance")
		}
		if err := s.payments.Create(ctx, tx, &created); err != nil {
			return err
		}
		return s.emitRecorded(ctx, tx, created, employee, nil)
	})
	if err != nil {
		return nil, err
	}

	s.metrics.PaymentRecorded(string(created.Method), created.Amount)
	logCtx := s.logg.WithPaymentID(ctx, created.ID)
	s.logg.Info(s.logg.WithField(logCtx, "receipt_number", created.ReceiptNumber()), "payment recorded")
	return s.payments.Get(ctx, created.ID)
}

// Update corrects the ref, date or notes of a payment. Amount and method are
// immutable; reversal rows cannot be corrected.
func (s *Service) Update(ctx context.Context, id uint64, input UpdateInput) (_ *models.Payment, err error) {
	defer func() { s.observeRejection(err) }()

	now := s.now().UTC()
	if input.PaymentDate != nil && input.PaymentDate.After(now) {
		return nil, futureDateError(*input.PaymentDate)
	}

	ctx = s.logg.WithPaymentID(ctx, id)
	err = s.db.WithTx(ctx, func(tx *gorm.DB) error {
		payment, err := s.payments.GetForUpdate(ctx, tx, id)
		if err != nil {
			return err
		}
		if payment.IsReversal() || payment.ReversalOfID != nil {
			return pkgerrors.New(pkgerrors.CodeInvalidState, "reversal rows cannot be corrected").
				WithDetails(map[string]any{"payment_id": id})
		}
		employee, err := s.loadEmployee(ctx, tx, input.CorrectedBy)
		if err != nil {
			return err
		}

		columns := map[string]any{}
		if input.TransactionRef != nil {
			ref := normalizeRef(input.TransactionRef)
			if err := s.checkRef(ctx, tx, payment.Method, ref, payment.ID); err != nil {
				return err
			}
			payment.TransactionRef = ref
			columns["transaction_ref"] = ref
		}
		if input.PaymentDate != nil {
			payment.PaymentDate = input.PaymentDate.UTC()
			columns["payment_date"] = payment.PaymentDate
		}
		if input.Notes != nil {
			payment.Notes = input.Notes
			columns["notes"] = *input.Notes
		}
		if len(columns) == 0 {
			return pkgerrors.New(pkgerrors.CodeValidation, "no correctable fields supplied")
		}
		payment.Audit.CorrectedBy = input.CorrectedBy
		payment.Audit.CorrectedAt = &now
		columns["metadata"] = payment.Audit
		if err := s.payments.UpdateColumns(ctx, tx, payment.ID, columns); err != nil {
			return err
		}

		return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
			EventType:     enums.EventPaymentCorrected,
			AggregateType: enums.AggregatePayment,
			AggregateID:   payment.ID,
			Actor:         actorFor(employee),
			OccurredAt:    now,
			Data: payloads.PaymentCorrectedEvent{
				PaymentID:      payment.ID,
				BillID:         payment.BillID,
				TransactionRef: payment.TransactionRef,
				PaymentDate:    payment.PaymentDate,
				CorrectedBy:    input.CorrectedBy,
			},
		})
	})
	if err != nil {
		return nil, err
	}
	s.logg.Info(ctx, "payment corrected")
	return s.payments.Get(ctx, id)
}

// checkTolerance enforces the overpayment policy and returns the overpaid
// amount when the payment exceeds what is owed.
func (s *Service) checkTolerance(bill *models.Bill, outstanding, amount decimal.Decimal) (*decimal.Decimal, error) {
	if outstanding.IsPositive() {
		limit := s.policy.MaxAcceptable(outstanding)
		if amount.GreaterThan(limit) {
			return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "payment exceeds outstanding balance beyond tolerance").
				WithDetails(map[string]any{
					"bill_id":     bill.ID,
					"amount":      amount.StringFixed(2),
					"outstanding": outstanding.StringFixed(2),
					"max_allowed": limit.StringFixed(2),
				})
		}
	} else if !s.policy.AllowPaidBillOverpayment {
		return nil, pkgerrors.New(pkgerrors.CodeInvalidAmount, "bill has no outstanding balance").
			WithDetails(map[string]any{
				"bill_id":     bill.ID,
				"outstanding": outstanding.StringFixed(2),
			})
	}
	if !amount.GreaterThan(outstanding) {
		return nil, nil
	}
	owed := decimal.Max(outstanding, decimal.Zero)
	over := amount.Sub(owed)
	return &over, nil
}

// checkRef validates presence and uniqueness of a transaction ref.
func (s *Service) checkRef(ctx context.Context, tx *gorm.DB, method enums.PaymentMethod, ref *string, exceptID uint64) error {
	if ref == nil {
		if method.RequiresTransactionRef() {
			return pkgerrors.New(pkgerrors.CodeValidation, "transaction reference is required for this payment method").
				WithDetails(map[string]any{"method": method})
		}
		return nil
	}
	exists, err := s.payments.RefExists(ctx, tx, *ref, exceptID)
	if err != nil {
		return err
	}
	if exists {
		return pkgerrors.New(pkgerrors.CodeConflict, "transaction reference already recorded").
			WithDetails(map[string]any{"transaction_ref": *ref})
	}
	return nil
}

func (s *Service) loadEmployee(ctx context.Context, tx *gorm.DB, id *uint64) (*models.Employee, error) {
	if id == nil {
		return nil, nil
	}
	return s.employees.Get(ctx, tx, *id)
}

// customerSnapshot resolves the bill's customer. Failures are logged and
// stored as null; they never block the payment.
func (s *Service) customerSnapshot(ctx context.Context, tx *gorm.DB, billID uint64) *uint64 {
	customerID, err := s.bills.ResolveCustomerForBill(ctx, tx, billID)
	if err != nil {
		s.logg.Warn(s.logg.WithField(ctx, "error", err.Error()), "customer snapshot unavailable")
		return nil
	}
	return &customerID
}

func (s *Service) resolvePaymentDate(requested *time.Time, now time.Time) (time.Time, error) {
	if requested == nil || requested.IsZero() {
		return now, nil
	}
	if requested.After(now) {
		return time.Time{}, futureDateError(*requested)
	}
	return requested.UTC(), nil
}

func (s *Service) emitRecorded(ctx context.Context, tx *gorm.DB, p models.Payment, employee *models.Employee, allocationRef *string) error {
	return s.outbox.Emit(ctx, tx, outbox.DomainEvent{
		EventType:     enums.EventPaymentRecorded,
		AggregateType: enums.AggregatePayment,
		AggregateID:   p.ID,
		Actor:         actorFor(employee),
		OccurredAt:    p.CreatedAt,
		Data: payloads.PaymentRecordedEvent{
			PaymentID:         p.ID,
			BillID:            p.BillID,
			CustomerID:        p.CustomerID,
			EmployeeID:        p.EmployeeID,
			ReceiptNumber:     p.ReceiptNumber(),
			Amount:            p.Amount,
			Method:            p.Method,
			Channel:           p.Channel,
			TransactionRef:    p.TransactionRef,
			PaymentDate:       p.PaymentDate,
			OverpaymentAmount: p.Audit.OverpaymentAmount,
			AllocationRef:     allocationRef,
		},
	})
}

func (s *Service) observeRejection(err error) {
	if err == nil {
		return
	}
	switch code := pkgerrors.CodeOf(err); code {
	case pkgerrors.CodeInternal, pkgerrors.CodeDependency:
	default:
		s.metrics.Rejected(string(code))
	}
}

func actorFor(employee *models.Employee) *outbox.ActorRef {
	if employee == nil {
		return nil
	}
	return outbox.EmployeeActor(employee.ID, string(employee.Role))
}

func futureDateError(at time.Time) error {
	return pkgerrors.New(pkgerrors.CodeValidation, "payment date cannot be in the future").
		WithDetails(map[string]any{"payment_date": at.UTC()})
}
