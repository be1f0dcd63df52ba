package store

import (
	"context"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/papertrade/limit-engine/internal/model"
)

//go:embed schema.sql
var schemaSQL string

// PostgresStore implements Store using PostgreSQL as the source of truth.
// Cash and prices are BIGINT minor units; average cost is NUMERIC.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Migrate creates the tables if they do not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaSQL); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

const orderColumns = `id, account_id, stock_code, stock_name, kind, side,
	quantity, limit_price, status, created_at, executed_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanOrder(row rowScanner) (*model.Order, error) {
	var o model.Order
	err := row.Scan(&o.ID, &o.AccountID, &o.StockCode, &o.StockName, &o.Kind, &o.Side,
		&o.Quantity, &o.LimitPrice, &o.Status, &o.CreatedAt, &o.ExecutedAt)
	if err != nil {
		return nil, err
	}
	return &o, nil
}

func (s *PostgresStore) CreateAccount(ctx context.Context, a *model.Account) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx,
			`INSERT INTO accounts (id, cash) VALUES ($1, $2)`, a.ID, a.Cash); err != nil {
			return err
		}
		for _, h := range a.Holdings {
			if err := upsertHolding(ctx, tx, a.ID, h); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *PostgresStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	return loadAccount(ctx, s.pool, id, "")
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// loadAccount reads the account and its holdings. lockClause is appended to
// both queries ("FOR UPDATE" inside a fill transaction).
func loadAccount(ctx context.Context, q querier, id, lockClause string) (*model.Account, error) {
	a := &model.Account{ID: id, Holdings: make(map[string]*model.Holding)}
	err := q.QueryRow(ctx, `SELECT cash FROM accounts WHERE id = $1 `+lockClause, id).Scan(&a.Cash)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get account %s: %w", id, err)
	}

	rows, err := q.Query(ctx,
		`SELECT stock_code, stock_name, quantity, avg_cost::TEXT
		 FROM holdings WHERE account_id = $1 AND quantity > 0 `+lockClause, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	for rows.Next() {
		var h model.Holding
		var avgS string
		if err := rows.Scan(&h.StockCode, &h.StockName, &h.Quantity, &avgS); err != nil {
			return nil, err
		}
		avg, err := decimal.NewFromString(avgS)
		if err != nil {
			return nil, fmt.Errorf("account %s holding %s avg_cost %q: %w", id, h.StockCode, avgS, err)
		}
		h.AvgCost = avg
		a.Holdings[h.StockCode] = &h
	}
	return a, rows.Err()
}

func upsertHolding(ctx context.Context, tx pgx.Tx, accountID string, h *model.Holding) error {
	_, err := tx.Exec(ctx,
		`INSERT INTO holdings (account_id, stock_code, stock_name, quantity, avg_cost)
		 VALUES ($1, $2, $3, $4, $5::NUMERIC)
		 ON CONFLICT (account_id, stock_code)
		 DO UPDATE SET stock_name = EXCLUDED.stock_name,
		               quantity = EXCLUDED.quantity,
		               avg_cost = EXCLUDED.avg_cost`,
		accountID, h.StockCode, h.StockName, h.Quantity, h.AvgCost.String())
	return err
}

func (s *PostgresStore) PlaceOrder(ctx context.Context, o *model.Order) error {
	if err := validateOrder(o); err != nil {
		return err
	}
	stored := *o
	stored.Status = model.StatusPending
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var cash int64
		err := tx.QueryRow(ctx, `SELECT cash FROM accounts WHERE id = $1 FOR UPDATE`, o.AccountID).Scan(&cash)
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("account %s: %w", o.AccountID, ErrNotFound)
		}
		if err != nil {
			return err
		}

		switch o.Side {
		case model.SideBuy:
			frozen := o.FrozenAmount()
			if cash < frozen {
				return ErrInsufficientFunds
			}
			if _, err := tx.Exec(ctx,
				`UPDATE accounts SET cash = cash - $2 WHERE id = $1`, o.AccountID, frozen); err != nil {
				return err
			}
		case model.SideSell:
			var held int64
			err := tx.QueryRow(ctx,
				`SELECT quantity FROM holdings WHERE account_id = $1 AND stock_code = $2 FOR UPDATE`,
				o.AccountID, o.StockCode).Scan(&held)
			if err != nil && !errors.Is(err, pgx.ErrNoRows) {
				return err
			}
			// The account row lock above serializes placements, so the
			// committed quantity cannot change before the insert.
			var committed int64
			if err := tx.QueryRow(ctx,
				`SELECT COALESCE(SUM(quantity), 0)::BIGINT FROM orders
				 WHERE account_id = $1 AND stock_code = $2 AND side = $3 AND status = $4`,
				o.AccountID, o.StockCode, model.SideSell, model.StatusPending).Scan(&committed); err != nil {
				return err
			}
			if held-committed < o.Quantity {
				return ErrInsufficientHoldings
			}
		}

		_, err = tx.Exec(ctx,
			`INSERT INTO orders (`+orderColumns+`)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NULL)`,
			stored.ID, stored.AccountID, stored.StockCode, stored.StockName, stored.Kind, stored.Side,
			stored.Quantity, stored.LimitPrice, stored.Status, stored.CreatedAt)
		return err
	})
	if err != nil {
		return err
	}
	*o = stored
	return nil
}

func (s *PostgresStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := scanOrder(s.pool.QueryRow(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (s *PostgresStore) FindPendingLimitOrders(ctx context.Context) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+orderColumns+` FROM orders
		 WHERE status = $1 AND kind = $2
		 ORDER BY created_at, id`, model.StatusPending, model.KindLimit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orders []model.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		orders = append(orders, *o)
	}
	return orders, rows.Err()
}

func (s *PostgresStore) CancelOrder(ctx context.Context, id string) (*model.Order, error) {
	var out *model.Order
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, id))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("order %s: %w", id, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if !o.Pending() {
			return ErrOrderNotPending
		}
		if _, err := tx.Exec(ctx,
			`UPDATE orders SET status = $2 WHERE id = $1`, id, model.StatusCancelled); err != nil {
			return err
		}
		if frozen := o.FrozenAmount(); frozen > 0 {
			if _, err := tx.Exec(ctx,
				`UPDATE accounts SET cash = cash + $2 WHERE id = $1`, o.AccountID, frozen); err != nil {
				return err
			}
		}
		o.Status = model.StatusCancelled
		out = o
		return nil
	})
	return out, err
}

// ExecuteFill runs the order transition, trade insert and ledger update in a
// single transaction. The order row is locked first, so a concurrent cancel
// or a second fill of the same order observes a non-PENDING status.
func (s *PostgresStore) ExecuteFill(ctx context.Context, fill model.Fill) (*model.Trade, error) {
	var trade model.Trade
	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		o, err := scanOrder(tx.QueryRow(ctx,
			`SELECT `+orderColumns+` FROM orders WHERE id = $1 FOR UPDATE`, fill.Order.ID))
		if errors.Is(err, pgx.ErrNoRows) {
			return fmt.Errorf("order %s: %w", fill.Order.ID, ErrNotFound)
		}
		if err != nil {
			return err
		}
		if !o.Pending() {
			return ErrOrderNotPending
		}

		acct, err := loadAccount(ctx, tx, o.AccountID, "FOR UPDATE")
		if err != nil {
			return err
		}

		fill.Order = *o
		if fill.At.IsZero() {
			fill.At = time.Now().UTC()
		}
		if err := acct.ApplyFill(fill); err != nil {
			return mapFillErr(err)
		}
		trade = fill.Trade(uuid.New().String())

		if _, err := tx.Exec(ctx,
			`UPDATE orders SET status = $2, executed_at = $3 WHERE id = $1`,
			o.ID, model.StatusExecuted, fill.At); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`INSERT INTO trades (id, order_id, account_id, stock_code, stock_name, side, quantity, price, timestamp)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
			trade.ID, trade.OrderID, trade.AccountID, trade.StockCode, trade.StockName,
			trade.Side, trade.Quantity, trade.Price, trade.Timestamp); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx,
			`UPDATE accounts SET cash = $2 WHERE id = $1`, acct.ID, acct.Cash); err != nil {
			return err
		}

		if h, ok := acct.Holdings[o.StockCode]; ok {
			return upsertHolding(ctx, tx, acct.ID, h)
		}
		_, err = tx.Exec(ctx,
			`DELETE FROM holdings WHERE account_id = $1 AND stock_code = $2`, acct.ID, o.StockCode)
		return err
	})
	if err != nil {
		return nil, err
	}
	return &trade, nil
}

func (s *PostgresStore) ListTradesByAccount(ctx context.Context, accountID string) ([]model.Trade, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, account_id, stock_code, stock_name, side, quantity, price, timestamp
		 FROM trades WHERE account_id = $1 ORDER BY timestamp`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var trades []model.Trade
	for rows.Next() {
		var t model.Trade
		if err := rows.Scan(&t.ID, &t.OrderID, &t.AccountID, &t.StockCode, &t.StockName,
			&t.Side, &t.Quantity, &t.Price, &t.Timestamp); err != nil {
			return nil, err
		}
		trades = append(trades, t)
	}
	return trades, rows.Err()
}
