// Package store defines the persistence interfaces for the option engine.
// Implementations include PostgreSQL (source of truth) and in-memory (for
// testing and development).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optx/option-engine/internal/model"
)

// ErrNotFound is returned when a requested contract does not exist.
var ErrNotFound = errors.New("store: not found")

// LedgerStore holds per-user available balances. Balances are mutated only
// through signed delta adjustments; every adjustment appends the paired
// Transaction record in the same atomic operation.
type LedgerStore interface {
	// AdjustBalance applies a signed delta to a user's balance and appends
	// the paired Transaction, atomically, returning the new balance.
	// A ledger entry is created implicitly on first reference.
	AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal, reason, contractID string) (decimal.Decimal, error)

	// GetBalance returns a user's current available balance.
	GetBalance(ctx context.Context, userID string) (decimal.Decimal, error)

	// GetTransactionsByUser returns a user's transaction history, oldest first.
	GetTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error)
}

// ContractStore holds option contracts. Status changes go through
// compare-and-swap transitions: only the caller that observes Active wins,
// all others see applied=false.
type ContractStore interface {
	// CreateContract persists a new contract in Active status.
	CreateContract(ctx context.Context, c *model.Contract) error

	// GetContract retrieves a contract by ID.
	GetContract(ctx context.Context, id string) (*model.Contract, error)

	// ListContractsByUser returns a user's contracts, newest first.
	ListContractsByUser(ctx context.Context, userID string) ([]model.Contract, error)

	// TransitionToSettled moves a contract Active→Settled, populating the
	// settlement fields. Returns applied=false if the contract was not
	// Active (another caller already won the race).
	TransitionToSettled(ctx context.Context, id string, result model.Result, exitPrice, profit decimal.Decimal, settledAt time.Time) (bool, error)

	// TransitionToVoided moves a contract Active→Voided. Same CAS contract
	// as TransitionToSettled.
	TransitionToVoided(ctx context.Context, id string, voidedAt time.Time) (bool, error)

	// ListExpiredActive returns contracts still Active past their expiry.
	// The reconciliation sweeper drives these through settlement.
	ListExpiredActive(ctx context.Context, now time.Time) ([]model.Contract, error)

	// GetOpenReservations returns a user's open reserved amounts per symbol,
	// used by the exposure limiter at contract creation.
	GetOpenReservations(ctx context.Context, userID string) (map[string]decimal.Decimal, error)
}

// Store combines both stores. PostgreSQL implements them over one pool so
// cross-store consistency hazards stay confined to a single database.
type Store interface {
	LedgerStore
	ContractStore
}
