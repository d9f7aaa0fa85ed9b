package enums

import "fmt"

// BillLineItemKind classifies the components of a computed bill.
type BillLineItemKind string

const (
	BillLineItemEnergyCharge BillLineItemKind = "energy-charge"
	BillLineItemFixedCharge  BillLineItemKind = "fixed-charge"
	BillLineItemTax          BillLineItemKind = "tax"
	BillLineItemSubsidy      BillLineItemKind = "subsidy"
	BillLineItemSolarCredit  BillLineItemKind = "solar-credit"
)

var validBillLineItemKinds = []BillLineItemKind{
	BillLineItemEnergyCharge,
	BillLineItemFixedCharge,
	BillLineItemTax,
	BillLineItemSubsidy,
	BillLineItemSolarCredit,
}

// String implements fmt.Stringer.
func (k BillLineItemKind) String() string {
	return string(k)
}

// IsValid reports whether the value is a known BillLineItemKind.
func (k BillLineItemKind) IsValid() bool {
	for _, candidate := range validBillLineItemKinds {
		if candidate == k {
			return true
		}
	}
	return false
}

// IsCredit reports whether the line item reduces the bill total.
func (k BillLineItemKind) IsCredit() bool {
	return k == BillLineItemSubsidy || k == BillLineItemSolarCredit
}

// ParseBillLineItemKind converts raw input into a BillLineItemKind.
func ParseBillLineItemKind(value string) (BillLineItemKind, error) {
	for _, candidate := range validBillLineItemKinds {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid bill line item kind %q", value)
}
