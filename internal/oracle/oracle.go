// Package oracle defines the price oracle boundary: a read-only source of
// the current reference price for a symbol. The oracle may be unavailable;
// callers decide between failing the operation (contract open) and the
// retry-then-void path (settlement).
package oracle

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/shopspring/decimal"
)

// ErrUnavailable is returned when no price can be obtained for a symbol.
var ErrUnavailable = errors.New("oracle: price unavailable")

// Oracle supplies a current reference price for a symbol on demand.
type Oracle interface {
	GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
}

// HTTPOracle fetches prices from a Binance-compatible ticker endpoint:
// GET {base}/api/v3/ticker/price?symbol={symbol} → {"symbol":..,"price":".."}.
type HTTPOracle struct {
	base   string
	client *http.Client
}

// NewHTTPOracle creates an oracle against the given base URL.
func NewHTTPOracle(base string, timeout time.Duration) *HTTPOracle {
	if timeout <= 0 {
		timeout = 3 * time.Second
	}
	return &HTTPOracle{
		base:   base,
		client: &http.Client{Timeout: timeout},
	}
}

func (o *HTTPOracle) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s/api/v3/ticker/price?symbol=%s", o.base, url.QueryEscape(symbol))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	resp, err := o.client.Do(req)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return decimal.Decimal{}, fmt.Errorf("%w: %s returned %d", ErrUnavailable, symbol, resp.StatusCode)
	}

	var body struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	price, err := decimal.NewFromString(body.Price)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("%w: bad price %q", ErrUnavailable, body.Price)
	}
	return price, nil
}

// StaticOracle serves prices from an in-memory table. Used for tests and
// local development. A symbol with no entry is unavailable.
type StaticOracle struct {
	mu     sync.RWMutex
	prices map[string]decimal.Decimal
	down   bool
}

// NewStaticOracle creates an oracle with the given initial prices.
func NewStaticOracle(prices map[string]decimal.Decimal) *StaticOracle {
	cp := make(map[string]decimal.Decimal, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &StaticOracle{prices: cp}
}

// SetPrice updates the price for a symbol.
func (o *StaticOracle) SetPrice(symbol string, price decimal.Decimal) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.prices[symbol] = price
}

// SetDown simulates a total oracle outage when down is true.
func (o *StaticOracle) SetDown(down bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.down = down
}

func (o *StaticOracle) GetPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	o.mu.RLock()
	defer o.mu.RUnlock()
	if o.down {
		return decimal.Decimal{}, ErrUnavailable
	}
	price, ok := o.prices[symbol]
	if !ok {
		return decimal.Decimal{}, fmt.Errorf("%w: %s", ErrUnavailable, symbol)
	}
	return price, nil
}
