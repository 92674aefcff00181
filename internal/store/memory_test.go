package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/optx/option-engine/internal/model"
)

func d(f float64) decimal.Decimal {
	return decimal.NewFromFloat(f)
}

func activeContract(id string, expiresAt time.Time) *model.Contract {
	return &model.Contract{
		ID:              id,
		UserID:          "user1",
		Symbol:          "BTCUSDT",
		Direction:       model.DirectionUp,
		Wager:           d(10000),
		PayoutRate:      d(0.10),
		Reserved:        d(1000),
		DurationSeconds: 30,
		EntryPrice:      d(100),
		Status:          model.StatusActive,
		CreatedAt:       expiresAt.Add(-30 * time.Second),
		ExpiresAt:       expiresAt,
	}
}

func TestAdjustBalance_PairsTransaction(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	balance, err := s.AdjustBalance(ctx, "user1", d(500), "deposit", "")
	if err != nil {
		t.Fatalf("adjust failed: %v", err)
	}
	if !balance.Equal(d(500)) {
		t.Errorf("expected balance 500, got %s", balance)
	}

	balance, _ = s.AdjustBalance(ctx, "user1", d(-200), model.ReasonReserve, "c1")
	if !balance.Equal(d(300)) {
		t.Errorf("expected balance 300, got %s", balance)
	}

	txns, _ := s.GetTransactionsByUser(ctx, "user1")
	if len(txns) != 2 {
		t.Fatalf("expected 2 transactions, got %d", len(txns))
	}
	if !txns[1].ResultingBalance.Equal(d(300)) {
		t.Errorf("expected resulting_balance 300, got %s", txns[1].ResultingBalance)
	}
	if txns[1].ContractID != "c1" {
		t.Errorf("expected contract_id c1, got %s", txns[1].ContractID)
	}
}

func TestTransitionToSettled_CASAppliesOnce(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.CreateContract(ctx, activeContract("c1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	applied, err := s.TransitionToSettled(ctx, "c1", model.ResultWin, d(105), d(1000), now)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if !applied {
		t.Fatal("first transition should apply")
	}

	// Second caller lost the race: applied=false, no error.
	applied, err = s.TransitionToSettled(ctx, "c1", model.ResultLose, d(95), d(-1000), now)
	if err != nil {
		t.Fatalf("transition: %v", err)
	}
	if applied {
		t.Fatal("second transition must not apply")
	}

	c, _ := s.GetContract(ctx, "c1")
	if c.Result != model.ResultWin {
		t.Errorf("loser overwrote settlement fields: %s", c.Result)
	}
	if c.SettledAt == nil {
		t.Error("expected settled_at to be set")
	}
}

func TestTransitionToVoided_OnlyFromActive(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := s.CreateContract(ctx, activeContract("c1", now)); err != nil {
		t.Fatalf("create: %v", err)
	}

	if applied, _ := s.TransitionToSettled(ctx, "c1", model.ResultWin, d(105), d(1000), now); !applied {
		t.Fatal("settle should apply")
	}
	if applied, _ := s.TransitionToVoided(ctx, "c1", now); applied {
		t.Error("void must not apply to a settled contract")
	}
}

func TestListExpiredActive_FiltersByStatusAndExpiry(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	s.CreateContract(ctx, activeContract("expired", now.Add(-time.Minute)))
	s.CreateContract(ctx, activeContract("pending", now.Add(time.Hour)))
	s.CreateContract(ctx, activeContract("settled", now.Add(-time.Minute)))
	s.TransitionToSettled(ctx, "settled", model.ResultLose, d(95), d(-1000), now)

	expired, err := s.ListExpiredActive(ctx, now)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(expired) != 1 {
		t.Fatalf("expected 1 expired active contract, got %d", len(expired))
	}
	if expired[0].ID != "expired" {
		t.Errorf("expected contract 'expired', got %s", expired[0].ID)
	}
}

func TestGetOpenReservations_GroupsActiveBySymbol(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	now := time.Now().UTC()

	c1 := activeContract("c1", now.Add(time.Hour))
	c2 := activeContract("c2", now.Add(time.Hour))
	c3 := activeContract("c3", now.Add(time.Hour))
	c3.Symbol = "ETHUSDT"
	c3.Reserved = d(250)
	for _, c := range []*model.Contract{c1, c2, c3} {
		if err := s.CreateContract(ctx, c); err != nil {
			t.Fatalf("create %s: %v", c.ID, err)
		}
	}
	s.TransitionToSettled(ctx, "c2", model.ResultWin, d(105), d(1000), now)

	open, err := s.GetOpenReservations(ctx, "user1")
	if err != nil {
		t.Fatalf("reservations: %v", err)
	}
	if !open["BTCUSDT"].Equal(d(1000)) {
		t.Errorf("expected BTCUSDT open 1000 (settled excluded), got %s", open["BTCUSDT"])
	}
	if !open["ETHUSDT"].Equal(d(250)) {
		t.Errorf("expected ETHUSDT open 250, got %s", open["ETHUSDT"])
	}
}

func TestGetContract_NotFound(t *testing.T) {
	s := NewMemoryStore()
	if _, err := s.GetContract(context.Background(), "missing"); err == nil {
		t.Error("expected error for missing contract")
	}
}
