package model

import (
	"errors"
	"math"
	"time"

	"github.com/shopspring/decimal"
)

var (
	// ErrInsufficientHoldings is returned when a sell exceeds the held quantity.
	ErrInsufficientHoldings = errors.New("model: insufficient holdings")

	// ErrNotFillable is returned when the execution price does not satisfy
	// the order's limit.
	ErrNotFillable = errors.New("model: price does not satisfy limit")

	// ErrAmountOverflow is returned when a fill's value or the resulting
	// cash balance does not fit in int64.
	ErrAmountOverflow = errors.New("model: amount overflows int64")
)

// avgCostPlaces bounds the precision persisted for average cost.
const avgCostPlaces = 4

// Fill is a decision to execute Order at Price. It is applied to the ledger
// as one atomic unit by the store.
type Fill struct {
	Order Order
	Price int64
	At    time.Time
}

// Validate checks that the fill is consistent with its order and that
// Price*Quantity is representable.
func (f Fill) Validate() error {
	if !f.Order.FillableAt(f.Price) {
		return ErrNotFillable
	}
	if f.Price < 0 || f.Order.Quantity <= 0 {
		return ErrNotFillable
	}
	if f.Price > 0 && f.Order.Quantity > math.MaxInt64/f.Price {
		return ErrAmountOverflow
	}
	return nil
}

// CashDelta is the change to the account's cash balance. For BUY it is the
// refund of the frozen amount in excess of the actual cost; for SELL it is
// the proceeds. Only meaningful after Validate succeeds.
func (f Fill) CashDelta() int64 {
	actual := f.Price * f.Order.Quantity
	if f.Order.Side == SideBuy {
		return f.Order.FrozenAmount() - actual
	}
	return actual
}

// Trade builds the trade record for this fill.
func (f Fill) Trade(id string) Trade {
	return Trade{
		ID:        id,
		OrderID:   f.Order.ID,
		AccountID: f.Order.AccountID,
		StockCode: f.Order.StockCode,
		StockName: f.Order.StockName,
		Side:      f.Order.Side,
		Quantity:  f.Order.Quantity,
		Price:     f.Price,
		Timestamp: f.At,
	}
}

// Buy returns h after adding qty shares bought at price, with a
// quantity-weighted average cost. A nil h is an empty position.
func (h *Holding) Buy(code, name string, qty, price int64) Holding {
	if h == nil || h.Quantity <= 0 {
		return Holding{
			StockCode: code,
			StockName: name,
			Quantity:  qty,
			AvgCost:   decimal.NewFromInt(price),
		}
	}
	oldQty := decimal.NewFromInt(h.Quantity)
	addQty := decimal.NewFromInt(qty)
	total := h.AvgCost.Mul(oldQty).Add(decimal.NewFromInt(price).Mul(addQty))
	newQty := h.Quantity + qty
	return Holding{
		StockCode: h.StockCode,
		StockName: h.StockName,
		Quantity:  newQty,
		AvgCost:   total.DivRound(decimal.NewFromInt(newQty), avgCostPlaces),
	}
}

// Sell returns h after removing qty shares. Average cost is unchanged by a
// sale.
func (h *Holding) Sell(qty int64) (Holding, error) {
	if h == nil || h.Quantity < qty {
		return Holding{}, ErrInsufficientHoldings
	}
	out := *h
	out.Quantity -= qty
	if out.Quantity == 0 {
		out.AvgCost = decimal.Zero
	}
	return out, nil
}

// ApplyFill mutates a to reflect f. Callers must hold the account's
// serialization lock and persist the result atomically with the order
// transition and the trade.
func (a *Account) ApplyFill(f Fill) error {
	if err := f.Validate(); err != nil {
		return err
	}
	delta := f.CashDelta()
	if delta > 0 && a.Cash > math.MaxInt64-delta {
		return ErrAmountOverflow
	}
	if a.Holdings == nil {
		a.Holdings = make(map[string]*Holding)
	}
	o := f.Order
	cur := a.Holdings[o.StockCode]

	switch o.Side {
	case SideBuy:
		next := cur.Buy(o.StockCode, o.StockName, o.Quantity, f.Price)
		a.Holdings[o.StockCode] = &next
	case SideSell:
		next, err := cur.Sell(o.Quantity)
		if err != nil {
			return err
		}
		if next.Quantity == 0 {
			delete(a.Holdings, o.StockCode)
		} else {
			a.Holdings[o.StockCode] = &next
		}
	}
	a.Cash += delta
	return nil
}
