// Package outcome implements the outcome policy for fixed-duration option
// contracts: the pure mapping from (entry price, exit price, direction) to a
// win/lose result, the admin override on top of it, and the duration-tier →
// payout-rate table used to size reservations and profits.
package outcome

import (
	"errors"
	"fmt"
	"sort"

	"github.com/shopspring/decimal"

	"github.com/optx/option-engine/internal/model"
	"github.com/optx/option-engine/internal/override"
)

// ErrUnknownTier is returned when a requested duration has no payout rate.
var ErrUnknownTier = errors.New("outcome: unknown duration tier")

// TierTable maps a contract duration in seconds to its payout rate.
// The rate in force at creation time is captured onto the contract, so
// editing this table never changes in-flight contracts.
type TierTable map[int]decimal.Decimal

// DefaultTiers returns the standard duration tiers: 30s→10%, 60s→15%, 90s→20%.
func DefaultTiers() TierTable {
	return TierTable{
		30: decimal.NewFromFloat(0.10),
		60: decimal.NewFromFloat(0.15),
		90: decimal.NewFromFloat(0.20),
	}
}

// Rate returns the payout rate for a duration tier.
func (t TierTable) Rate(durationSeconds int) (decimal.Decimal, error) {
	rate, ok := t[durationSeconds]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %ds (known: %v)", ErrUnknownTier, durationSeconds, t.Durations())
	}
	return rate, nil
}

// Durations returns the known tiers in ascending order.
func (t TierTable) Durations() []int {
	out := make([]int, 0, len(t))
	for d := range t {
		out = append(out, d)
	}
	sort.Ints(out)
	return out
}

// Decide computes the natural, market-derived result.
// Up wins when exit > entry; down wins when exit < entry.
// An exact tie resolves to lose — deterministic by convention, never a refund.
func Decide(direction model.Direction, entryPrice, exitPrice decimal.Decimal) model.Result {
	switch direction {
	case model.DirectionUp:
		if exitPrice.GreaterThan(entryPrice) {
			return model.ResultWin
		}
	case model.DirectionDown:
		if exitPrice.LessThan(entryPrice) {
			return model.ResultWin
		}
	}
	return model.ResultLose
}

// Apply overlays the admin override directive on a natural result.
// ForceWin and ForceLose replace the result outright; Normal passes through.
func Apply(natural model.Result, directive override.Directive) model.Result {
	switch directive {
	case override.ForceWin:
		return model.ResultWin
	case override.ForceLose:
		return model.ResultLose
	default:
		return natural
	}
}

// Profit computes the signed settlement profit for a result: the reserved
// profit slice is won or lost in full, never the whole wager.
func Profit(result model.Result, reserved decimal.Decimal) decimal.Decimal {
	if result == model.ResultWin {
		return reserved
	}
	return reserved.Neg()
}
