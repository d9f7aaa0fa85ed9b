package gateway

import "github.com/shopspring/decimal"

// minorUnitExponent converts two-decimal currencies to the gateway's
// smallest unit (x100).
const minorUnitExponent = 2

// ToMinorUnits converts a ledger amount to the gateway's smallest currency
// unit, rounding half away from zero.
func ToMinorUnits(amount decimal.Decimal) int64 {
	return amount.Shift(minorUnitExponent).Round(0).IntPart()
}

// FromMinorUnits converts a gateway amount back to a ledger amount.
func FromMinorUnits(minor int64) decimal.Decimal {
	return decimal.New(minor, -minorUnitExponent)
}
