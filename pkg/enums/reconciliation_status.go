package enums

import "fmt"

// ReconciliationStatus is the verdict of an end-of-day reconciliation.
type ReconciliationStatus string

const (
	ReconciliationBalanced         ReconciliationStatus = "balanced"
	ReconciliationNeedsReview      ReconciliationStatus = "needs_review"
	ReconciliationDiscrepancyFound ReconciliationStatus = "discrepancy_found"
)

var validReconciliationStatuses = []ReconciliationStatus{
	ReconciliationBalanced,
	ReconciliationNeedsReview,
	ReconciliationDiscrepancyFound,
}

// String implements fmt.Stringer.
func (s ReconciliationStatus) String() string {
	return string(s)
}

// IsValid reports whether the value is a known ReconciliationStatus.
func (s ReconciliationStatus) IsValid() bool {
	for _, candidate := range validReconciliationStatuses {
		if candidate == s {
			return true
		}
	}
	return false
}

// ParseReconciliationStatus converts raw input into a ReconciliationStatus.
func ParseReconciliationStatus(value string) (ReconciliationStatus, error) {
	for _, candidate := range validReconciliationStatuses {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid reconciliation status %q", value)
}
