// Package risk enforces open-exposure limits on contract creation.
//
// Exposure here is the reserved profit slice of active contracts. A user
// stacking many contracts on one symbol has concentrated risk; this package
// caps both the per-symbol reservation and the aggregate across all symbols.
package risk

import (
	"errors"

	"github.com/shopspring/decimal"
)

var (
	// ErrPerSymbolLimitExceeded is returned when a contract would push a
	// user's open reservation on one symbol beyond the per-symbol maximum.
	ErrPerSymbolLimitExceeded = errors.New("risk: per-symbol exposure limit exceeded")

	// ErrTotalLimitExceeded is returned when a contract would push a user's
	// aggregate open reservation across all symbols beyond the total maximum.
	ErrTotalLimitExceeded = errors.New("risk: total exposure limit exceeded")
)

// ExposureLimiter enforces reservation limits per symbol and in aggregate.
type ExposureLimiter struct {
	// MaxPerSymbol is the maximum open reservation on any single symbol.
	MaxPerSymbol decimal.Decimal

	// MaxTotal is the maximum open reservation summed over all symbols.
	MaxTotal decimal.Decimal
}

// NewExposureLimiter creates a limiter with the given per-symbol and
// aggregate reservation limits.
func NewExposureLimiter(maxPerSymbol, maxTotal decimal.Decimal) *ExposureLimiter {
	return &ExposureLimiter{
		MaxPerSymbol: maxPerSymbol,
		MaxTotal:     maxTotal,
	}
}

// Check validates whether an additional reservation respects the limits.
//
// Parameters:
//   - symbol: the symbol of the contract being opened
//   - reservation: the profit slice the new contract would escrow
//   - existing: map of symbol → current open reservation for this user
//
// Returns nil if within limits, or an error describing the violation.
func (l *ExposureLimiter) Check(
	symbol string,
	reservation decimal.Decimal,
	existing map[string]decimal.Decimal,
) error {
	inSymbol := existing[symbol].Add(reservation)
	if inSymbol.GreaterThan(l.MaxPerSymbol) {
		return ErrPerSymbolLimitExceeded
	}

	total := reservation
	for _, open := range existing {
		total = total.Add(open)
	}
	if total.GreaterThan(l.MaxTotal) {
		return ErrTotalLimitExceeded
	}

	return nil
}
