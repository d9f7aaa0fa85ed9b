package gateway

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/shopspring/decimal"
)

const (
	metaBillIDs     = "bill_ids"
	metaBillAmounts = "bill_amounts"
	metaCustomerID  = "customer_id"
	metaSource      = "source"

	sourceCheckout = "checkout"
	sourceIntent   = "payment_intent"
)

// billShare is one bill's part of a gateway payment.
type billShare struct {
	BillID uint64
	Amount decimal.Decimal
}

func encodeMetadata(customerID uint64, shares []billShare, source string) map[string]string {
	ids := make([]string, 0, len(shares))
	amounts := make([]string, 0, len(shares))
	for _, share := range shares {
		ids = append(ids, strconv.FormatUint(share.BillID, 10))
		amounts = append(amounts, share.Amount.StringFixed(2))
	}
	meta := map[string]string{
		metaBillIDs:     strings.Join(ids, ","),
		metaBillAmounts: strings.Join(amounts, ","),
		metaCustomerID:  strconv.FormatUint(customerID, 10),
	}
	if source != "" {
		meta[metaSource] = source
	}
	return meta
}

// decodeShares rebuilds the per-bill split carried in gateway metadata.
func decodeShares(meta map[string]string) ([]billShare, error) {
	rawIDs := strings.TrimSpace(meta[metaBillIDs])
	rawAmounts := strings.TrimSpace(meta[metaBillAmounts])
	if rawIDs == "" || rawAmounts == "" {
		return nil, fmt.Errorf("metadata missing %s or %s", metaBillIDs, metaBillAmounts)
	}
	ids := strings.Split(rawIDs, ",")
	amounts := strings.Split(rawAmounts, ",")
	if len(ids) != len(amounts) {
		return nil, fmt.Errorf("metadata has %d bill ids but %d amounts", len(ids), len(amounts))
	}
	shares := make([]billShare, 0, len(ids))
	for i := range ids {
		id, err := strconv.ParseUint(strings.TrimSpace(ids[i]), 10, 64)
		if err != nil || id == 0 {
			return nil, fmt.Errorf("invalid bill id %q", ids[i])
		}
		amount, err := decimal.NewFromString(strings.TrimSpace(amounts[i]))
		if err != nil || !amount.IsPositive() {
			return nil, fmt.Errorf("invalid bill amount %q", amounts[i])
		}
		shares = append(shares, billShare{BillID: id, Amount: amount})
	}
	return shares, nil
}

func customerFromMetadata(meta map[string]string) *uint64 {
	id, err := strconv.ParseUint(strings.TrimSpace(meta[metaCustomerID]), 10, 64)
	if err != nil || id == 0 {
		return nil
	}
	return &id
}

func isCheckoutSourced(meta map[string]string) bool {
	return meta[metaSource] == sourceCheckout
}
