package payments

import (
	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gridpay-backend/pkg/config"
)

// Policy carries the configurable ledger thresholds.
type Policy struct {
	// OverpaymentTolerance is the fraction above the outstanding balance a
	// single payment may exceed it by.
	OverpaymentTolerance decimal.Decimal
	// AllowPaidBillOverpayment accepts payments against bills whose
	// outstanding balance is already zero or negative.
	AllowPaidBillOverpayment bool
	// RefundApprovalThreshold is the refund amount above which only managers
	// and admins may issue refunds.
	RefundApprovalThreshold decimal.Decimal
}

// DefaultPolicy mirrors the configuration defaults.
func DefaultPolicy() Policy {
	return Policy{
		OverpaymentTolerance:     decimal.RequireFromString("0.10"),
		AllowPaidBillOverpayment: true,
		RefundApprovalThreshold:  decimal.RequireFromString("500.00"),
	}
}

// PolicyFromConfig builds the policy from the ledger settings.
func PolicyFromConfig(cfg config.LedgerConfig) Policy {
	return Policy{
		OverpaymentTolerance:     cfg.OverpaymentTolerance,
		AllowPaidBillOverpayment: cfg.AllowPaidBillOverpayment,
		RefundApprovalThreshold:  cfg.RefundApprovalThreshold,
	}
}

// MaxAcceptable is the largest single payment accepted against outstanding.
func (p Policy) MaxAcceptable(outstanding decimal.Decimal) decimal.Decimal {
	return outstanding.Mul(decimal.NewFromInt(1).Add(p.OverpaymentTolerance))
}

// RequiresApproval reports whether a refund of amount needs a manager or admin.
func (p Policy) RequiresApproval(amount decimal.Decimal) bool {
	return amount.GreaterThan(p.RefundApprovalThreshold)
}
