package enums

import "fmt"

// PaymentChannel records where a payment was taken.
type PaymentChannel string

const (
	PaymentChannelSelfService   PaymentChannel = "customer-self-service"
	PaymentChannelCashierOffice PaymentChannel = "cashier-office"
	PaymentChannelMobileApp     PaymentChannel = "mobile-app"
	PaymentChannelLegacyOffice  PaymentChannel = "legacy-office"
	PaymentChannelLegacyWebsite PaymentChannel = "legacy-website"
	PaymentChannelBank          PaymentChannel = "bank"
	PaymentChannelATM           PaymentChannel = "atm"
)

var validPaymentChannels = []PaymentChannel{
	PaymentChannelSelfService,
	PaymentChannelCashierOffice,
	PaymentChannelMobileApp,
	PaymentChannelLegacyOffice,
	PaymentChannelLegacyWebsite,
	PaymentChannelBank,
	PaymentChannelATM,
}

// String implements fmt.Stringer.
func (p PaymentChannel) String() string {
	return string(p)
}

// IsValid reports whether the value is a known PaymentChannel.
func (p PaymentChannel) IsValid() bool {
	for _, candidate := range validPaymentChannels {
		if candidate == p {
			return true
		}
	}
	return false
}

// ParsePaymentChannel converts raw input into a PaymentChannel.
func ParsePaymentChannel(value string) (PaymentChannel, error) {
	for _, candidate := range validPaymentChannels {
		if string(candidate) == value {
			return candidate, nil
		}
	}
	return "", fmt.Errorf("invalid payment channel %q", value)
}
