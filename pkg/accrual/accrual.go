// Package accrual computes stake rewards.
//
// Rewards accrue linearly: a stake of principal P at rate R earns P*R over one
// full period and a proportional share of that for any other elapsed duration.
// Nothing compounds and nothing is capped, so an interval of several periods
// earns several periods' worth. Keeping elapsed gaps bounded is the scheduler's
// concern.
package accrual

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	// DefaultPeriod is the duration over which the full reward rate applies.
	DefaultPeriod = 24 * time.Hour
	// DefaultPrecision is the number of decimal places of the ledger's minimum unit.
	DefaultPrecision int32 = 6

	// divisionPlaces is the quotient scale of RewardOwed; it must exceed any
	// Calculator.Precision.
	divisionPlaces int32 = 24
)

// DefaultRate is 30% of principal per period.
var DefaultRate = decimal.RequireFromString("0.30")

// RewardOwed returns principal * rate * elapsed / period, exact for
// terminating quotients and otherwise carried to 24 places.
// It is zero when elapsed <= 0 or period <= 0.
func RewardOwed(principal, rate decimal.Decimal, elapsed, period time.Duration) decimal.Decimal {
	if elapsed <= 0 || period <= 0 {
		return decimal.Zero
	}
	numerator := principal.Mul(rate).Mul(decimal.NewFromInt(int64(elapsed)))
	return numerator.DivRound(decimal.NewFromInt(int64(period)), divisionPlaces)
}

// Round rounds an amount to the ledger's minimum unit with round-half-even.
// Call it once, where the reward is recorded.
func Round(amount decimal.Decimal, places int32) decimal.Decimal {
	return amount.RoundBank(places)
}

// Calculator binds a rate, period and precision so callers compute and round
// rewards consistently.
type Calculator struct {
	Rate      decimal.Decimal
	Period    time.Duration
	Precision int32
}

// NewCalculator returns a calculator with the default rate, period and precision.
func NewCalculator() Calculator {
	return Calculator{Rate: DefaultRate, Period: DefaultPeriod, Precision: DefaultPrecision}
}

// Reward returns the rounded reward a stake of principal at rate has earned
// between from and to.
func (c Calculator) Reward(principal, rate decimal.Decimal, from, to time.Time) decimal.Decimal {
	return Round(RewardOwed(principal, rate, to.Sub(from), c.Period), c.Precision)
}

// Due reports whether at least one full period separates lastAccrued and asOf.
func (c Calculator) Due(lastAccrued, asOf time.Time) bool {
	return asOf.Sub(lastAccrued) >= c.Period
}
