// Package store defines the persistence interface for the limit engine: the
// order store, the account ledger and the trade log. Implementations include
// PostgreSQL (source of truth), Redis (read-through cache), and in-memory
// (for testing).
package store

import (
	"context"
	"errors"
	"math"

	"github.com/papertrade/limit-engine/internal/model"
)

var (
	ErrNotFound             = errors.New("store: not found")
	ErrOrderNotPending      = errors.New("store: order is not pending")
	ErrInsufficientFunds    = errors.New("store: insufficient cash")
	ErrInsufficientHoldings = errors.New("store: insufficient holdings")
	ErrInvalidOrder         = errors.New("store: invalid order")
)

// Compile-time interface checks.
var (
	_ Store = (*MemoryStore)(nil)
	_ Store = (*PostgresStore)(nil)
	_ Store = (*CachedStore)(nil)
)

// Store is the persistence interface. PostgreSQL is the source of truth;
// Redis provides a read-through cache layer for account snapshots.
type Store interface {
	// --- Accounts ---

	// CreateAccount persists a new account with its opening cash balance.
	CreateAccount(ctx context.Context, acct *model.Account) error

	// GetAccount returns the account with its holdings loaded.
	GetAccount(ctx context.Context, id string) (*model.Account, error)

	// --- Orders ---

	// PlaceOrder persists a PENDING order. For BUY it freezes
	// LimitPrice*Quantity from the account's cash; for SELL it checks the
	// held quantity.
	PlaceOrder(ctx context.Context, order *model.Order) error

	// GetOrder returns the current state of an order.
	GetOrder(ctx context.Context, id string) (*model.Order, error)

	// FindPendingLimitOrders returns PENDING LIMIT orders, oldest first.
	FindPendingLimitOrders(ctx context.Context) ([]model.Order, error)

	// CancelOrder moves a PENDING order to CANCELLED and releases any
	// frozen cash. Returns ErrOrderNotPending if the order already left
	// PENDING.
	CancelOrder(ctx context.Context, id string) (*model.Order, error)

	// --- Fills ---

	// ExecuteFill atomically marks the order EXECUTED, appends the trade and
	// applies the fill to the account ledger. Returns ErrOrderNotPending,
	// leaving everything unchanged, if the order already left PENDING.
	ExecuteFill(ctx context.Context, fill model.Fill) (*model.Trade, error)

	// --- Trade log ---

	// ListTradesByAccount returns an account's trades, oldest first.
	ListTradesByAccount(ctx context.Context, accountID string) ([]model.Trade, error)
}

// validateOrder checks the fields placement depends on.
func validateOrder(o *model.Order) error {
	switch {
	case o.ID == "" || o.AccountID == "" || o.StockCode == "":
		return ErrInvalidOrder
	case !o.Side.Valid():
		return ErrInvalidOrder
	case o.Kind != model.KindLimit && o.Kind != model.KindMarket:
		return ErrInvalidOrder
	case o.Quantity <= 0 || o.LimitPrice <= 0:
		return ErrInvalidOrder
	case o.Quantity > math.MaxInt64/o.LimitPrice:
		// LimitPrice*Quantity must fit in int64.
		return ErrInvalidOrder
	}
	return nil
}

// mapFillErr translates ledger arithmetic errors into store errors.
func mapFillErr(err error) error {
	if errors.Is(err, model.ErrInsufficientHoldings) {
		return ErrInsufficientHoldings
	}
	return err
}
