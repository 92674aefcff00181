package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/optx/option-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing and
// development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu           sync.RWMutex
	balances     map[string]decimal.Decimal
	transactions []model.Transaction
	contracts    map[string]*model.Contract
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		balances:  make(map[string]decimal.Decimal),
		contracts: make(map[string]*model.Contract),
	}
}

// --- LedgerStore ---

func (s *MemoryStore) AdjustBalance(_ context.Context, userID string, delta decimal.Decimal, reason, contractID string) (decimal.Decimal, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	newBalance := s.balances[userID].Add(delta)
	s.balances[userID] = newBalance

	s.transactions = append(s.transactions, model.Transaction{
		ID:               uuid.New().String(),
		UserID:           userID,
		ContractID:       contractID,
		Delta:            delta,
		Reason:           reason,
		ResultingBalance: newBalance,
		CreatedAt:        time.Now().UTC(),
	})

	return newBalance, nil
}

func (s *MemoryStore) GetBalance(_ context.Context, userID string) (decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balances[userID], nil
}

func (s *MemoryStore) GetTransactionsByUser(_ context.Context, userID string) ([]model.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Transaction
	for _, t := range s.transactions {
		if t.UserID == userID {
			result = append(result, t)
		}
	}
	return result, nil
}

// --- ContractStore ---

func (s *MemoryStore) CreateContract(_ context.Context, c *model.Contract) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.contracts[c.ID]; exists {
		return fmt.Errorf("contract %s already exists", c.ID)
	}

	// Store a copy to avoid external mutation.
	cp := *c
	s.contracts[c.ID] = &cp
	return nil
}

func (s *MemoryStore) GetContract(_ context.Context, id string) (*model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.contracts[id]
	if !ok {
		return nil, fmt.Errorf("%w: contract %s", ErrNotFound, id)
	}
	cp := *c
	return &cp, nil
}

func (s *MemoryStore) ListContractsByUser(_ context.Context, userID string) ([]model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Contract
	for _, c := range s.contracts {
		if c.UserID == userID {
			result = append(result, *c)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].CreatedAt.After(result[j].CreatedAt)
	})
	return result, nil
}

func (s *MemoryStore) TransitionToSettled(_ context.Context, id string, result model.Result, exitPrice, profit decimal.Decimal, settledAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[id]
	if !ok {
		return false, fmt.Errorf("%w: contract %s", ErrNotFound, id)
	}
	if c.Status != model.StatusActive {
		return false, nil
	}

	c.Status = model.StatusSettled
	c.Result = result
	c.ExitPrice = exitPrice
	c.Profit = profit
	at := settledAt
	c.SettledAt = &at
	return true, nil
}

func (s *MemoryStore) TransitionToVoided(_ context.Context, id string, voidedAt time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.contracts[id]
	if !ok {
		return false, fmt.Errorf("%w: contract %s", ErrNotFound, id)
	}
	if c.Status != model.StatusActive {
		return false, nil
	}

	c.Status = model.StatusVoided
	at := voidedAt
	c.SettledAt = &at
	return true, nil
}

func (s *MemoryStore) ListExpiredActive(_ context.Context, now time.Time) ([]model.Contract, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Contract
	for _, c := range s.contracts {
		if c.Status == model.StatusActive && c.ExpiresAt.Before(now) {
			result = append(result, *c)
		}
	}
	return result, nil
}

func (s *MemoryStore) GetOpenReservations(_ context.Context, userID string) (map[string]decimal.Decimal, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	open := make(map[string]decimal.Decimal)
	for _, c := range s.contracts {
		if c.UserID == userID && c.Status == model.StatusActive {
			open[c.Symbol] = open[c.Symbol].Add(c.Reserved)
		}
	}
	return open, nil
}
