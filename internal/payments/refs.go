package payments

import (
	"fmt"
	"strings"
	"time"
)

// VoidRef is the transaction ref of the single void row for a payment.
func VoidRef(originalID uint64) string {
	return fmt.Sprintf("VOID-%d", originalID)
}

// RefundRefPrefix prefixes every refund row of a payment.
func RefundRefPrefix(originalID uint64) string {
	return fmt.Sprintf("REFUND-%d-", originalID)
}

// RefundRef builds a refund row ref stamped with the refund time and the
// number of refunds already recorded against the payment.
func RefundRef(originalID uint64, at time.Time, seq int) string {
	return fmt.Sprintf("%s%d-%d", RefundRefPrefix(originalID), at.UnixMilli(), seq)
}

// AllocationRef derives the per-bill ref of an allocated payment.
func AllocationRef(base string, billID uint64) string {
	return fmt.Sprintf("%s-%d", base, billID)
}

func normalizeRef(ref *string) *string {
	if ref == nil {
		return nil
	}
	trimmed := strings.TrimSpace(*ref)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}
