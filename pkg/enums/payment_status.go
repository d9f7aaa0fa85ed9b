package enums

import "fmt"

// PaymentStatus tracks the lifecycle of a ledger row.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusCompleted PaymentStatus = "completed"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusRefunded  PaymentStatus = "refunded"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

var validPaymentStatuses = []PaymentStatus{
	PaymentStatusPending,
	PaymentStatusCompleted,
	PaymentStatusFailed,
	PaymentStatusRefunded,
	PaymentStatusCancelled,
}

var paymentStatusTransitions = map[PaymentStatus][]PaymentStatus{
	PaymentStatusPending:   {PaymentStatusCompleted, PaymentStatusFailed, PaymentStatusCancelled},
	PaymentStatusCompleted: {PaymentStatusRefunded},
}

// String implements fmt.Stringer.
func (p PaymentStatus) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentStatus.
func (p PaymentStatus) IsValid() bool {
	for _, candidate := range validPaymentStatuses {
		if candidate == p {
			return true
		}
	}
	return false
}

// CanTransitionTo reports whether the state machine allows moving to next.
func (p PaymentStatus) CanTransitionTo(next PaymentStatus) bool {
	for _, candidate := range paymentStatusTransitions[p] {
		if candidate == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible.
func (p PaymentStatus) IsTerminal() bool {
	return len(paymentStatusTransitions[p]) == 0
}

// CountsTowardBalance reports whether rows in this status contribute to a
// bill's paid total. Refunded originals stay counted; their reversal rows
// carry the offsetting negative amount.
func (p PaymentStatus) CountsTowardBalance() bool {
	return p == PaymentStatusCompleted || p == PaymentStatusRefunded
}

// BalanceStatuses lists the statuses that contribute to paid totals.
func BalanceStatuses() []PaymentStatus {
	return []PaymentStatus{PaymentStatusCompleted, PaymentStatusRefunded}
}

// ParsePaymentStatus converts raw input into a PaymentStatus.
func ParsePaymentStatus(value string) (PaymentStatus, error) {
	for _, candidate := range validPaymentStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment status %q", value)
}
