package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/optx/option-engine/internal/model"
)

// PostgresStore implements Store using PostgreSQL as the source of truth.
// All monetary values are stored as NUMERIC for exact decimal precision.
//
// Schema:
//
//	balances     (user_id PK, available NUMERIC)
//	transactions (id PK, user_id, contract_id NULL, delta NUMERIC, reason,
//	              resulting_balance NUMERIC, created_at)
//	contracts    (id PK, user_id, symbol, direction, wager NUMERIC,
//	              payout_rate NUMERIC, reserved NUMERIC, duration_seconds,
//	              entry_price NUMERIC, exit_price NUMERIC NULL, status,
//	              result NULL, profit NUMERIC NULL, created_at, expires_at,
//	              settled_at NULL)
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// --- LedgerStore ---

// AdjustBalance upserts the balance row and appends the paired transaction
// in one database transaction. The upsert is the atomic adjust-by-delta
// primitive: the engine never reads-then-writes a balance around it.
func (s *PostgresStore) AdjustBalance(ctx context.Context, userID string, delta decimal.Decimal, reason, contractID string) (decimal.Decimal, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("adjust balance %s: %w", userID, err)
	}
	defer tx.Rollback(ctx)

	var balanceS string
	err = tx.QueryRow(ctx,
		`INSERT INTO balances (user_id, available)
		 VALUES ($1, $2::NUMERIC)
		 ON CONFLICT (user_id)
		 DO UPDATE SET available = balances.available + EXCLUDED.available
		 RETURNING available::TEXT`,
		userID, delta.String()).Scan(&balanceS)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("adjust balance %s: %w", userID, err)
	}

	var cid any
	if contractID != "" {
		cid = contractID
	}
	_, err = tx.Exec(ctx,
		`INSERT INTO transactions (id, user_id, contract_id, delta, reason, resulting_balance, created_at)
		 VALUES ($1, $2, $3, $4::NUMERIC, $5, $6::NUMERIC, $7)`,
		uuid.New().String(), userID, cid, delta.String(), reason, balanceS, time.Now().UTC())
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("record transaction for %s: %w", userID, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return decimal.Decimal{}, fmt.Errorf("adjust balance %s: %w", userID, err)
	}

	balance, _ := decimal.NewFromString(balanceS)
	return balance, nil
}

func (s *PostgresStore) GetBalance(ctx context.Context, userID string) (decimal.Decimal, error) {
	var balanceS string
	err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(
		   (SELECT available FROM balances WHERE user_id = $1), 0
		 )::TEXT`, userID).Scan(&balanceS)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("get balance %s: %w", userID, err)
	}
	balance, _ := decimal.NewFromString(balanceS)
	return balance, nil
}

func (s *PostgresStore) GetTransactionsByUser(ctx context.Context, userID string) ([]model.Transaction, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, user_id, COALESCE(contract_id, ''),
		        delta::TEXT, reason, resulting_balance::TEXT, created_at
		 FROM transactions WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var txns []model.Transaction
	for rows.Next() {
		var t model.Transaction
		var deltaS, balanceS string
		if err := rows.Scan(&t.ID, &t.UserID, &t.ContractID,
			&deltaS, &t.Reason, &balanceS, &t.CreatedAt); err != nil {
			return nil, err
		}
		t.Delta, _ = decimal.NewFromString(deltaS)
		t.ResultingBalance, _ = decimal.NewFromString(balanceS)
		txns = append(txns, t)
	}
	return txns, rows.Err()
}

// --- ContractStore ---

func (s *PostgresStore) CreateContract(ctx context.Context, c *model.Contract) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO contracts
		   (id, user_id, symbol, direction, wager, payout_rate, reserved,
		    duration_seconds, entry_price, status, created_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC, $6::NUMERIC, $7::NUMERIC,
		         $8, $9::NUMERIC, $10, $11, $12)`,
		c.ID, c.UserID, c.Symbol, string(c.Direction),
		c.Wager.String(), c.PayoutRate.String(), c.Reserved.String(),
		c.DurationSeconds, c.EntryPrice.String(),
		string(c.Status), c.CreatedAt, c.ExpiresAt)
	return err
}

const contractColumns = `id, user_id, symbol, direction,
       wager::TEXT, payout_rate::TEXT, reserved::TEXT,
       duration_seconds, entry_price::TEXT, exit_price::TEXT,
       status, result, profit::TEXT, created_at, expires_at, settled_at`

func (s *PostgresStore) GetContract(ctx context.Context, id string) (*model.Contract, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+contractColumns+` FROM contracts WHERE id = $1`, id)

	c, err := scanContract(row)
	if err == pgx.ErrNoRows {
		return nil, fmt.Errorf("%w: contract %s", ErrNotFound, id)
	}
	if err != nil {
		return nil, fmt.Errorf("get contract %s: %w", id, err)
	}
	return c, nil
}

func (s *PostgresStore) ListContractsByUser(ctx context.Context, userID string) ([]model.Contract, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+contractColumns+` FROM contracts
		 WHERE user_id = $1 ORDER BY created_at DESC`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanContracts(rows)
}

// TransitionToSettled is the compare-and-swap at the heart of idempotent
// settlement: the WHERE status clause guarantees at most one caller ever
// observes applied=true for a given contract.
func (s *PostgresStore) TransitionToSettled(ctx context.Context, id string, result model.Result, exitPrice, profit decimal.Decimal, settledAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contracts
		 SET status = $2, result = $3, exit_price = $4::NUMERIC,
		     profit = $5::NUMERIC, settled_at = $6
		 WHERE id = $1 AND status = $7`,
		id, string(model.StatusSettled), string(result),
		exitPrice.String(), profit.String(), settledAt,
		string(model.StatusActive))
	if err != nil {
		return false, fmt.Errorf("settle contract %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) TransitionToVoided(ctx context.Context, id string, voidedAt time.Time) (bool, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE contracts
		 SET status = $2, settled_at = $3
		 WHERE id = $1 AND status = $4`,
		id, string(model.StatusVoided), voidedAt, string(model.StatusActive))
	if err != nil {
		return false, fmt.Errorf("void contract %s: %w", id, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PostgresStore) ListExpiredActive(ctx context.Context, now time.Time) ([]model.Contract, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+contractColumns+` FROM contracts
		 WHERE status = $1 AND expires_at < $2 ORDER BY expires_at`,
		string(model.StatusActive), now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanContracts(rows)
}

func (s *PostgresStore) GetOpenReservations(ctx context.Context, userID string) (map[string]decimal.Decimal, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT symbol, COALESCE(SUM(reserved), 0)::TEXT
		 FROM contracts WHERE user_id = $1 AND status = $2
		 GROUP BY symbol`, userID, string(model.StatusActive))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	open := make(map[string]decimal.Decimal)
	for rows.Next() {
		var symbol, reservedS string
		if err := rows.Scan(&symbol, &reservedS); err != nil {
			return nil, err
		}
		open[symbol], _ = decimal.NewFromString(reservedS)
	}
	return open, rows.Err()
}

// --- Scan helpers ---

type pgxRow interface {
	Scan(dest ...interface{}) error
}

func scanContract(row pgxRow) (*model.Contract, error) {
	var c model.Contract
	var direction, status string
	var wagerS, rateS, reservedS, entryS string
	var exitS, resultS, profitS *string

	err := row.Scan(&c.ID, &c.UserID, &c.Symbol, &direction,
		&wagerS, &rateS, &reservedS,
		&c.DurationSeconds, &entryS, &exitS,
		&status, &resultS, &profitS,
		&c.CreatedAt, &c.ExpiresAt, &c.SettledAt)
	if err != nil {
		return nil, err
	}

	c.Direction = model.Direction(direction)
	c.Status = model.Status(status)
	c.Wager, _ = decimal.NewFromString(wagerS)
	c.PayoutRate, _ = decimal.NewFromString(rateS)
	c.Reserved, _ = decimal.NewFromString(reservedS)
	c.EntryPrice, _ = decimal.NewFromString(entryS)
	if exitS != nil {
		c.ExitPrice, _ = decimal.NewFromString(*exitS)
	}
	if resultS != nil {
		c.Result = model.Result(*resultS)
	}
	if profitS != nil {
		c.Profit, _ = decimal.NewFromString(*profitS)
	}

	return &c, nil
}

func scanContracts(rows pgx.Rows) ([]model.Contract, error) {
	var contracts []model.Contract
	for rows.Next() {
		c, err := scanContract(rows)
		if err != nil {
			return nil, err
		}
		contracts = append(contracts, *c)
	}
	return contracts, rows.Err()
}
