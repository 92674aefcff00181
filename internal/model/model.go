// Package model defines the core domain types shared across the option engine.
// All monetary values use shopspring/decimal — never float64 for money.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Direction is the side of an up/down option contract.
type Direction string

const (
	DirectionUp   Direction = "up"
	DirectionDown Direction = "down"
)

// Status is the lifecycle state of a contract.
// Active → Settled (normal path) or Active → Voided (oracle failure path).
// Both Settled and Voided are terminal.
type Status string

const (
	StatusActive  Status = "active"
	StatusSettled Status = "settled"
	StatusVoided  Status = "voided"
)

// Result is the settlement outcome. Empty until the contract settles;
// a Voided contract never gets a result.
type Result string

const (
	ResultWin  Result = "win"
	ResultLose Result = "lose"
)

// Contract is one fixed-duration up/down option trade.
//
// PayoutRate and Reserved are captured at creation from the tier table in
// force at that moment, so later configuration changes never drift the
// settlement arithmetic. Reserved always equals Wager * PayoutRate: the
// profit slice escrowed up front, either returned doubled (win) or
// forfeited (lose).
//
// ExitPrice, Result, Profit and SettledAt are all-or-nothing: unset while
// Active, all populated by the single Active→Settled transition.
type Contract struct {
	ID              string          `json:"id" db:"id"`
	UserID          string          `json:"user_id" db:"user_id"`
	Symbol          string          `json:"symbol" db:"symbol"`
	Direction       Direction       `json:"direction" db:"direction"`
	Wager           decimal.Decimal `json:"wager" db:"wager"`
	PayoutRate      decimal.Decimal `json:"payout_rate" db:"payout_rate"`
	Reserved        decimal.Decimal `json:"reserved" db:"reserved"`
	DurationSeconds int             `json:"duration_seconds" db:"duration_seconds"`
	EntryPrice      decimal.Decimal `json:"entry_price" db:"entry_price"`
	ExitPrice       decimal.Decimal `json:"exit_price" db:"exit_price"`
	Status          Status          `json:"status" db:"status"`
	Result          Result          `json:"result,omitempty" db:"result"`
	Profit          decimal.Decimal `json:"profit" db:"profit"`
	CreatedAt       time.Time       `json:"created_at" db:"created_at"`
	ExpiresAt       time.Time       `json:"expires_at" db:"expires_at"`
	SettledAt       *time.Time      `json:"settled_at,omitempty" db:"settled_at"`
}

// Transaction is an immutable audit record paired 1:1 with every balance
// adjustment. Once created, these are never modified or deleted. Summing
// all deltas for a user must equal that user's current balance.
type Transaction struct {
	ID               string          `json:"id" db:"id"`
	UserID           string          `json:"user_id" db:"user_id"`
	ContractID       string          `json:"contract_id,omitempty" db:"contract_id"`
	Delta            decimal.Decimal `json:"delta" db:"delta"`
	Reason           string          `json:"reason" db:"reason"`
	ResultingBalance decimal.Decimal `json:"resulting_balance" db:"resulting_balance"`
	CreatedAt        time.Time       `json:"created_at" db:"created_at"`
}

// Ledger adjustment reasons written by the settlement engine.
const (
	ReasonReserve    = "contract-reserve"
	ReasonSettleWin  = "contract-settle-win"
	ReasonSettleLose = "contract-settle-lose"
	ReasonVoidRefund = "contract-void-refund"
)
