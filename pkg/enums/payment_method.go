package enums

import "fmt"

// PaymentMethod describes how money reached (or left) the utility.
type PaymentMethod string

const (
	PaymentMethodCashAtOffice  PaymentMethod = "cash-at-office"
	PaymentMethodCardTerminal  PaymentMethod = "card-terminal"
	PaymentMethodBankTransfer  PaymentMethod = "bank-transfer"
	PaymentMethodCheque        PaymentMethod = "cheque"
	PaymentMethodGatewayCard   PaymentMethod = "gateway-card"
	PaymentMethodGatewayWallet PaymentMethod = "gateway-wallet"
	PaymentMethodMobileMoney   PaymentMethod = "mobile-money"
	PaymentMethodLegacyCard    PaymentMethod = "legacy-card"
	PaymentMethodLegacyOnline  PaymentMethod = "legacy-online"
)

var validPaymentMethods = []PaymentMethod{
	PaymentMethodCashAtOffice,
	PaymentMethodCardTerminal,
	PaymentMethodBankTransfer,
	PaymentMethodCheque,
	PaymentMethodGatewayCard,
	PaymentMethodGatewayWallet,
	PaymentMethodMobileMoney,
	PaymentMethodLegacyCard,
	PaymentMethodLegacyOnline,
}

// String implements fmt.Stringer.
func (p PaymentMethod) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentMethod.
func (p PaymentMethod) IsValid() bool {
	for _, candidate := range validPaymentMethods {
		if candidate == p {
			return true
		}
	}
	return false
}

// RequiresTransactionRef reports whether payments of this method must carry
// an external reference that ties them to a bank, terminal or gateway record.
func (p PaymentMethod) RequiresTransactionRef() bool {
	switch p {
	case PaymentMethodGatewayCard,
		PaymentMethodGatewayWallet,
		PaymentMethodLegacyOnline,
		PaymentMethodBankTransfer,
		PaymentMethodMobileMoney,
		PaymentMethodCardTerminal:
		return true
	default:
		return false
	}
}

// IsGateway reports whether refunds must be issued through the card gateway.
func (p PaymentMethod) IsGateway() bool {
	return p == PaymentMethodGatewayCard || p == PaymentMethodGatewayWallet
}

// IsCash reports whether the method counts toward the cash drawer.
func (p PaymentMethod) IsCash() bool {
	return p == PaymentMethodCashAtOffice
}

// PaymentMethods returns every known method in declaration order.
func PaymentMethods() []PaymentMethod {
	out := make([]PaymentMethod, len(validPaymentMethods))
	copy(out, validPaymentMethods)
	return out
}

// ParsePaymentMethod converts raw input into a PaymentMethod.
func ParsePaymentMethod(value string) (PaymentMethod, error) {
	for _, candidate := range validPaymentMethods {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment method %q", value)
}
