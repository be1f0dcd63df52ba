// Package model defines the core domain types shared across the limit engine.
// Cash and prices are integer currency minor units; average cost uses
// shopspring/decimal so repeated buys do not accumulate rounding drift.
package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// OrderKind distinguishes immediately-priced orders from resting limits.
type OrderKind string

const (
	KindMarket OrderKind = "MARKET"
	KindLimit  OrderKind = "LIMIT"
)

// Side is the trade direction.
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Valid reports whether s is BUY or SELL.
func (s Side) Valid() bool {
	return s == SideBuy || s == SideSell
}

// OrderStatus is the lifecycle state of an order. PENDING is the only
// non-terminal status.
type OrderStatus string

const (
	StatusPending   OrderStatus = "PENDING"
	StatusExecuted  OrderStatus = "EXECUTED"
	StatusCancelled OrderStatus = "CANCELLED"
)

// Order is one resting instruction. Once Status leaves PENDING the order is
// never mutated again.
type Order struct {
	ID         string      `json:"id" db:"id"`
	AccountID  string      `json:"account_id" db:"account_id"`
	StockCode  string      `json:"stock_code" db:"stock_code"`
	StockName  string      `json:"stock_name" db:"stock_name"`
	Kind       OrderKind   `json:"kind" db:"kind"`
	Side       Side        `json:"side" db:"side"`
	Quantity   int64       `json:"quantity" db:"quantity"`
	LimitPrice int64       `json:"limit_price" db:"limit_price"`
	Status     OrderStatus `json:"status" db:"status"`
	CreatedAt  time.Time   `json:"created_at" db:"created_at"`
	ExecutedAt *time.Time  `json:"executed_at,omitempty" db:"executed_at"`
}

// Pending reports whether the order can still be filled or cancelled.
func (o *Order) Pending() bool {
	return o.Status == StatusPending
}

// FillableAt reports whether a quote satisfies the order's limit:
// BUY fills at or below the limit, SELL at or above it.
func (o *Order) FillableAt(price int64) bool {
	switch o.Side {
	case SideBuy:
		return price <= o.LimitPrice
	case SideSell:
		return price >= o.LimitPrice
	}
	return false
}

// FrozenAmount is the cash reserved for a BUY order when it was placed.
// Placement rejects orders whose LimitPrice*Quantity overflows int64.
func (o *Order) FrozenAmount() int64 {
	if o.Side != SideBuy {
		return 0
	}
	return o.LimitPrice * o.Quantity
}

// Trade is an immutable record of one fill. Price is the execution price,
// which may be better than the order's limit.
type Trade struct {
	ID        string    `json:"id" db:"id"`
	OrderID   string    `json:"order_id" db:"order_id"`
	AccountID string    `json:"account_id" db:"account_id"`
	StockCode string    `json:"stock_code" db:"stock_code"`
	StockName string    `json:"stock_name" db:"stock_name"`
	Side      Side      `json:"side" db:"side"`
	Quantity  int64     `json:"quantity" db:"quantity"`
	Price     int64     `json:"price" db:"price"`
	Timestamp time.Time `json:"timestamp" db:"timestamp"`
}

// Amount is the gross value of the trade.
func (t *Trade) Amount() int64 {
	return t.Price * t.Quantity
}

// Holding is an account's position in one stock.
type Holding struct {
	StockCode string          `json:"stock_code" db:"stock_code"`
	StockName string          `json:"stock_name" db:"stock_name"`
	Quantity  int64           `json:"quantity" db:"quantity"`
	AvgCost   decimal.Decimal `json:"avg_cost" db:"avg_cost"`
}

// Account is the financial state a fill acts upon.
type Account struct {
	ID       string              `json:"id" db:"id"`
	Cash     int64               `json:"cash" db:"cash"`
	Holdings map[string]*Holding `json:"holdings"`
}

// Clone returns a deep copy so callers cannot mutate stored state.
func (a *Account) Clone() *Account {
	c := &Account{ID: a.ID, Cash: a.Cash, Holdings: make(map[string]*Holding, len(a.Holdings))}
	for code, h := range a.Holdings {
		hc := *h
		c.Holdings[code] = &hc
	}
	return c
}
