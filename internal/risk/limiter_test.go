package risk

import (
	"testing"

	"github.com/shopspring/decimal"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func TestCheck_WithinLimits(t *testing.T) {
	limiter := NewExposureLimiter(d(1000), d(5000))

	if err := limiter.Check("BTCUSDT", d(100), nil); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheck_PerSymbolExceeded(t *testing.T) {
	limiter := NewExposureLimiter(d(1000), d(5000))

	// Existing reservation of 950 + new 100 = 1050 > 1000.
	existing := map[string]decimal.Decimal{
		"BTCUSDT": d(950),
	}

	if err := limiter.Check("BTCUSDT", d(100), existing); err != ErrPerSymbolLimitExceeded {
		t.Errorf("expected ErrPerSymbolLimitExceeded, got %v", err)
	}
}

func TestCheck_OtherSymbolsDontCountPerSymbol(t *testing.T) {
	limiter := NewExposureLimiter(d(1000), d(5000))

	existing := map[string]decimal.Decimal{
		"ETHUSDT": d(950),
	}

	if err := limiter.Check("BTCUSDT", d(100), existing); err != nil {
		t.Errorf("expected no error, got %v", err)
	}
}

func TestCheck_TotalExceeded(t *testing.T) {
	limiter := NewExposureLimiter(d(1000), d(2000))

	// Per-symbol fine everywhere, but 800 + 800 + 300 + 200 = 2100 > 2000.
	existing := map[string]decimal.Decimal{
		"BTCUSDT": d(800),
		"ETHUSDT": d(800),
		"SOLUSDT": d(300),
	}

	if err := limiter.Check("XRPUSDT", d(200), existing); err != ErrTotalLimitExceeded {
		t.Errorf("expected ErrTotalLimitExceeded, got %v", err)
	}
}

func TestCheck_AtLimitAllowed(t *testing.T) {
	limiter := NewExposureLimiter(d(1000), d(2000))

	existing := map[string]decimal.Decimal{
		"BTCUSDT": d(900),
	}

	// Exactly at both limits: 900 + 100 = 1000 per symbol, total 1000.
	if err := limiter.Check("BTCUSDT", d(100), existing); err != nil {
		t.Errorf("reservation at the limit should be allowed, got %v", err)
	}
}

func TestCheck_NilExposures(t *testing.T) {
	limiter := NewExposureLimiter(d(1000), d(5000))

	if err := limiter.Check("BTCUSDT", d(500), nil); err != nil {
		t.Errorf("nil exposures should be treated as empty, got %v", err)
	}
}
