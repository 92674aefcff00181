// Package engine orchestrates the option contract lifecycle: reservation at
// creation, scheduled expiry, outcome computation, ledger adjustment, and
// the single Active→Settled (or Active→Voided) transition.
//
// Settle is the one idempotent entry point for every completion trigger —
// expiry timer, reconciliation sweeper, and admin manual-complete. The
// at-most-once guarantee comes from the store-level compare-and-swap on
// contract status, not from any in-process lock: no lock is held across an
// oracle call or a store write.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/optx/option-engine/internal/metrics"
	"github.com/optx/option-engine/internal/model"
	"github.com/optx/option-engine/internal/notify"
	"github.com/optx/option-engine/internal/oracle"
	"github.com/optx/option-engine/internal/outcome"
	"github.com/optx/option-engine/internal/override"
	"github.com/optx/option-engine/internal/risk"
	"github.com/optx/option-engine/internal/store"
)

var (
	// ErrInvalidUser is returned for a missing user reference.
	ErrInvalidUser = errors.New("engine: user id required")

	// ErrInvalidWager is returned for a zero or negative wager amount.
	ErrInvalidWager = errors.New("engine: wager must be positive")

	// ErrInvalidDirection is returned for a direction other than up/down.
	ErrInvalidDirection = errors.New("engine: direction must be up or down")

	// ErrInvalidSymbol is returned for a malformed trading symbol.
	ErrInvalidSymbol = errors.New("engine: invalid symbol")

	// ErrInsufficientBalance is returned when the user's balance cannot
	// cover the wager.
	ErrInsufficientBalance = errors.New("engine: insufficient balance")

	// ErrPricingUnavailable is returned when the oracle cannot supply an
	// entry price at contract creation. No contract is persisted.
	ErrPricingUnavailable = errors.New("engine: pricing unavailable")
)

// symbolRegex matches uppercase ticker symbols, e.g. BTCUSDT.
var symbolRegex = regexp.MustCompile(`^[A-Z0-9]{2,20}$`)

// Config holds the engine's tunables.
type Config struct {
	// Tiers maps duration seconds to payout rates.
	Tiers outcome.TierTable

	// OracleAttempts bounds exit-price fetches at settlement before the
	// contract is voided and refunded.
	OracleAttempts int

	// OracleBackoff is the initial delay between oracle retries; doubles
	// per attempt.
	OracleBackoff time.Duration

	// LedgerAttempts bounds retries of the post-CAS ledger write.
	LedgerAttempts int
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		Tiers:          outcome.DefaultTiers(),
		OracleAttempts: 3,
		OracleBackoff:  250 * time.Millisecond,
		LedgerAttempts: 3,
	}
}

// Publisher receives settlement events for fan-out to live sessions.
// *notify.Dispatcher implements it.
type Publisher interface {
	Publish(userID string, ev notify.Event)
}

// Engine is the settlement engine. Safe for concurrent use; many contracts
// settle concurrently on independent timers.
type Engine struct {
	store     store.Store
	oracle    oracle.Oracle
	overrides override.Source
	limiter   *risk.ExposureLimiter
	publisher Publisher
	cfg       Config

	mu     sync.Mutex
	timers map[string]*time.Timer
	closed bool
}

// New creates a settlement engine. limiter and publisher may be nil to
// disable exposure limits and push notifications respectively.
func New(st store.Store, orc oracle.Oracle, overrides override.Source, limiter *risk.ExposureLimiter, publisher Publisher, cfg Config) *Engine {
	if cfg.Tiers == nil {
		cfg.Tiers = outcome.DefaultTiers()
	}
	if cfg.OracleAttempts < 1 {
		cfg.OracleAttempts = 1
	}
	if cfg.LedgerAttempts < 1 {
		cfg.LedgerAttempts = 1
	}
	return &Engine{
		store:     st,
		oracle:    orc,
		overrides: overrides,
		limiter:   limiter,
		publisher: publisher,
		cfg:       cfg,
		timers:    make(map[string]*time.Timer),
	}
}

// OpenContract validates and creates a contract: captures the entry price,
// escrows the profit slice (wager × payout rate), persists the contract in
// Active status, and schedules its expiry. Validation and pricing failures
// are synchronous; nothing is persisted on any error path.
func (e *Engine) OpenContract(ctx context.Context, userID, symbol string, direction model.Direction, wager decimal.Decimal, durationSeconds int) (*model.Contract, error) {
	if userID == "" {
		return nil, ErrInvalidUser
	}
	if !symbolRegex.MatchString(symbol) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidSymbol, symbol)
	}
	if direction != model.DirectionUp && direction != model.DirectionDown {
		return nil, fmt.Errorf("%w: %q", ErrInvalidDirection, direction)
	}
	if !wager.IsPositive() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidWager, wager)
	}

	rate, err := e.cfg.Tiers.Rate(durationSeconds)
	if err != nil {
		return nil, err
	}
	reserved := wager.Mul(rate)

	balance, err := e.store.GetBalance(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("check balance: %w", err)
	}
	if balance.LessThan(wager) {
		return nil, fmt.Errorf("%w: have %s, wager %s", ErrInsufficientBalance, balance, wager)
	}

	if e.limiter != nil {
		open, err := e.store.GetOpenReservations(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("check exposure: %w", err)
		}
		if err := e.limiter.Check(symbol, reserved, open); err != nil {
			return nil, err
		}
	}

	entryPrice, err := e.oracle.GetPrice(ctx, symbol)
	if err != nil {
		metrics.OracleFailures.Inc()
		return nil, fmt.Errorf("%w: %v", ErrPricingUnavailable, err)
	}

	now := time.Now().UTC()
	c := &model.Contract{
		ID:              uuid.New().String(),
		UserID:          userID,
		Symbol:          symbol,
		Direction:       direction,
		Wager:           wager,
		PayoutRate:      rate,
		Reserved:        reserved,
		DurationSeconds: durationSeconds,
		EntryPrice:      entryPrice,
		Status:          model.StatusActive,
		CreatedAt:       now,
		ExpiresAt:       now.Add(time.Duration(durationSeconds) * time.Second),
	}

	// Escrow the profit slice, then persist. If the contract write fails,
	// the debit is compensated so no funds are ever silently held.
	if _, err := e.store.AdjustBalance(ctx, userID, reserved.Neg(), model.ReasonReserve, c.ID); err != nil {
		return nil, fmt.Errorf("reserve funds: %w", err)
	}
	if err := e.store.CreateContract(ctx, c); err != nil {
		if _, rerr := e.store.AdjustBalance(ctx, userID, reserved, model.ReasonVoidRefund, c.ID); rerr != nil {
			slog.Error("reservation rollback failed",
				"contract", c.ID, "user", userID, "amount", reserved.String(), "err", rerr)
		}
		return nil, fmt.Errorf("create contract: %w", err)
	}

	e.schedule(c.ID, time.Until(c.ExpiresAt))

	metrics.ContractsOpened.WithLabelValues(string(direction)).Inc()
	slog.Info("contract opened",
		"contract", c.ID,
		"user", userID,
		"symbol", symbol,
		"direction", string(direction),
		"wager", wager.String(),
		"reserved", reserved.String(),
		"entry_price", entryPrice.String(),
		"expires_at", c.ExpiresAt,
	)

	return c, nil
}

// GetContract returns a contract by ID.
func (e *Engine) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	return e.store.GetContract(ctx, id)
}

// ManuallyComplete forces immediate settlement ahead of natural expiry.
// Routes through the same idempotent Settle path as the expiry timer.
func (e *Engine) ManuallyComplete(ctx context.Context, id string) error {
	return e.Settle(ctx, id)
}

// Settle drives one contract through settlement. Idempotent: a contract
// that is no longer Active is a success no-op, so the expiry timer, the
// sweeper, and a manual-complete call can all race here safely — at most
// one wins the status compare-and-swap and performs the ledger write.
func (e *Engine) Settle(ctx context.Context, id string) error {
	c, err := e.store.GetContract(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != model.StatusActive {
		e.dropTimer(id)
		return nil
	}

	exitPrice, err := e.fetchExitPrice(ctx, c.Symbol)
	if err != nil {
		return e.void(ctx, c)
	}

	natural := outcome.Decide(c.Direction, c.EntryPrice, exitPrice)
	directive := override.Normal
	if e.overrides != nil {
		directive, err = e.overrides.GetDirective(ctx, c.UserID)
		if err != nil {
			// A directive lookup failure must not stall settlement.
			slog.Warn("override lookup failed, settling naturally", "contract", id, "err", err)
			directive = override.Normal
		}
	}
	result := outcome.Apply(natural, directive)
	profit := outcome.Profit(result, c.Reserved)

	settledAt := time.Now().UTC()
	applied, err := e.store.TransitionToSettled(ctx, id, result, exitPrice, profit, settledAt)
	if err != nil {
		return fmt.Errorf("settle %s: %w", id, err)
	}
	if !applied {
		// Another trigger won the race; its ledger write covers this one.
		e.dropTimer(id)
		return nil
	}

	reason := model.ReasonSettleWin
	if result == model.ResultLose {
		reason = model.ReasonSettleLose
	}
	// delta returns the reservation and applies the net profit or loss in
	// one ledger movement: 2×reserved on win, 0 on lose.
	delta := c.Reserved.Add(profit)
	balance := e.adjustWithRetry(ctx, c.UserID, delta, reason, id)

	e.dropTimer(id)
	metrics.Settlements.WithLabelValues(string(result)).Inc()
	if lag := settledAt.Sub(c.ExpiresAt); lag > 0 {
		metrics.SettlementLatency.Observe(lag.Seconds())
	}
	slog.Info("contract settled",
		"contract", id,
		"user", c.UserID,
		"result", string(result),
		"natural", string(natural),
		"directive", string(directive),
		"exit_price", exitPrice.String(),
		"profit", profit.String(),
		"delta", delta.String(),
	)

	if e.publisher != nil {
		e.publisher.Publish(c.UserID, notify.Event{
			Type:       "contract_settled",
			ContractID: id,
			UserID:     c.UserID,
			Symbol:     c.Symbol,
			Result:     string(result),
			ExitPrice:  exitPrice.String(),
			Profit:     profit.String(),
			Balance:    balance.String(),
		})
	}

	return nil
}

// void transitions a contract to Voided and refunds the reservation in
// full. Taken only after oracle retries are exhausted; the contract must
// never stay Active indefinitely.
func (e *Engine) void(ctx context.Context, c *model.Contract) error {
	applied, err := e.store.TransitionToVoided(ctx, c.ID, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("void %s: %w", c.ID, err)
	}
	if !applied {
		e.dropTimer(c.ID)
		return nil
	}

	balance := e.adjustWithRetry(ctx, c.UserID, c.Reserved, model.ReasonVoidRefund, c.ID)

	e.dropTimer(c.ID)
	metrics.ContractsVoided.Inc()
	slog.Warn("contract voided, reservation refunded",
		"contract", c.ID,
		"user", c.UserID,
		"refund", c.Reserved.String(),
	)

	if e.publisher != nil {
		e.publisher.Publish(c.UserID, notify.Event{
			Type:       "contract_voided",
			ContractID: c.ID,
			UserID:     c.UserID,
			Symbol:     c.Symbol,
			Balance:    balance.String(),
		})
	}

	return nil
}

// fetchExitPrice retries the oracle with doubling backoff up to the
// configured attempt bound.
func (e *Engine) fetchExitPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	backoff := e.cfg.OracleBackoff
	var lastErr error

	for attempt := 0; attempt < e.cfg.OracleAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return decimal.Decimal{}, ctx.Err()
			}
			backoff *= 2
		}
		price, err := e.oracle.GetPrice(ctx, symbol)
		if err == nil {
			return price, nil
		}
		metrics.OracleFailures.Inc()
		lastErr = err
	}

	return decimal.Decimal{}, fmt.Errorf("%w: %v", ErrPricingUnavailable, lastErr)
}

// adjustWithRetry performs the post-CAS ledger write. The CAS has already
// been won by this caller, so the write must eventually land; failures are
// retried, then logged for operator reconciliation (see DESIGN.md).
func (e *Engine) adjustWithRetry(ctx context.Context, userID string, delta decimal.Decimal, reason, contractID string) decimal.Decimal {
	var lastErr error
	for attempt := 0; attempt < e.cfg.LedgerAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(e.cfg.OracleBackoff):
			case <-ctx.Done():
			}
		}
		balance, err := e.store.AdjustBalance(ctx, userID, delta, reason, contractID)
		if err == nil {
			return balance
		}
		lastErr = err
	}

	slog.Error("ledger adjustment failed after status transition, manual reconciliation required",
		"contract", contractID,
		"user", userID,
		"delta", delta.String(),
		"reason", reason,
		"err", lastErr,
	)
	return decimal.Decimal{}
}

// --- Expiry timers ---

// schedule arms an in-process timer for a contract's expiry. Timers are not
// durable; the reconciliation sweeper re-drives anything lost to a restart.
func (e *Engine) schedule(id string, in time.Duration) {
	if in < 0 {
		in = 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return
	}
	e.timers[id] = time.AfterFunc(in, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := e.Settle(ctx, id); err != nil {
			slog.Error("timer settlement failed, sweeper will retry", "contract", id, "err", err)
		}
	})
}

func (e *Engine) dropTimer(id string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if t, ok := e.timers[id]; ok {
		t.Stop()
		delete(e.timers, id)
	}
}

// Close stops all pending expiry timers. In-flight settlements finish;
// contracts whose timers are dropped are recovered by the sweeper on the
// next boot.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closed = true
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
}
