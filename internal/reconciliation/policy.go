package reconciliation

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/angelmondragon/gridpay-backend/pkg/config"
)

// Policy carries the reporting thresholds.
type Policy struct {
	// VarianceThreshold is the relative variance above which a reconciliation
	// check is significant.
	VarianceThreshold decimal.Decimal
	// Location fixes the day boundaries for date-scoped reports.
	Location *time.Location
}

func DefaultPolicy() Policy {
	return Policy{
		VarianceThreshold: decimal.RequireFromString("0.01"),
		Location:          time.UTC,
	}
}

// PolicyFromConfig builds the policy from the ledger settings.
func PolicyFromConfig(cfg config.LedgerConfig) (Policy, error) {
	loc, err := cfg.Location()
	if err != nil {
		return Policy{}, err
	}
	return Policy{
		VarianceThreshold: cfg.VarianceThreshold,
		Location:          loc,
	}, nil
}

// DayBounds returns the half-open interval covering the calendar day of date
// in the policy's timezone.
func (p Policy) DayBounds(date time.Time) (time.Time, time.Time) {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	local := date.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}

// check compares actual against base.
func (p Policy) check(actual, base decimal.Decimal) VarianceCheck {
	variance := actual.Sub(base)
	out := VarianceCheck{
		Reference: base,
		Variance:  variance,
	}
	switch {
	case variance.IsZero():
		out.Percentage = decimal.Zero
	case base.IsZero():
		out.Percentage = decimal.NewFromInt(100)
		out.Significant = true
	default:
		relative := variance.Abs().Div(base.Abs())
		out.Percentage = relative.Mul(decimal.NewFromInt(100)).Round(2)
		out.Significant = relative.GreaterThan(p.VarianceThreshold)
	}
	return out
}
