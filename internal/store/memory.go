package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/papertrade/limit-engine/internal/model"
)

// MemoryStore implements Store with in-memory maps. Used for testing
// and development. Not suitable for production (no persistence).
type MemoryStore struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account
	orders   map[string]*model.Order
	trades   []model.Trade
}

// NewMemoryStore creates a new in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*model.Account),
		orders:   make(map[string]*model.Order),
	}
}

func (s *MemoryStore) CreateAccount(_ context.Context, acct *model.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.accounts[acct.ID]; ok {
		return fmt.Errorf("account %s already exists", acct.ID)
	}
	s.accounts[acct.ID] = acct.Clone()
	return nil
}

func (s *MemoryStore) GetAccount(_ context.Context, id string) (*model.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.accounts[id]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", id, ErrNotFound)
	}
	return a.Clone(), nil
}

func (s *MemoryStore) PlaceOrder(_ context.Context, o *model.Order) error {
	if err := validateOrder(o); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[o.ID]; ok {
		return fmt.Errorf("order %s already exists", o.ID)
	}
	a, ok := s.accounts[o.AccountID]
	if !ok {
		return fmt.Errorf("account %s: %w", o.AccountID, ErrNotFound)
	}

	switch o.Side {
	case model.SideBuy:
		frozen := o.FrozenAmount()
		if a.Cash < frozen {
			return ErrInsufficientFunds
		}
		a.Cash -= frozen
	case model.SideSell:
		var held int64
		if h := a.Holdings[o.StockCode]; h != nil {
			held = h.Quantity
		}
		if held-s.pendingSellQty(o.AccountID, o.StockCode) < o.Quantity {
			return ErrInsufficientHoldings
		}
	}

	stored := *o
	stored.Status = model.StatusPending
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	s.orders[o.ID] = &stored
	*o = stored
	return nil
}

// pendingSellQty is the quantity already committed to PENDING SELL orders.
// Caller holds s.mu.
func (s *MemoryStore) pendingSellQty(accountID, stockCode string) int64 {
	var qty int64
	for _, o := range s.orders {
		if o.AccountID == accountID && o.StockCode == stockCode &&
			o.Side == model.SideSell && o.Pending() {
			qty += o.Quantity
		}
	}
	return qty
}

func (s *MemoryStore) GetOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	copy := *o
	return &copy, nil
}

func (s *MemoryStore) FindPendingLimitOrders(_ context.Context) ([]model.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var orders []model.Order
	for _, o := range s.orders {
		if o.Status == model.StatusPending && o.Kind == model.KindLimit {
			orders = append(orders, *o)
		}
	}
	sort.SliceStable(orders, func(i, j int) bool {
		if orders[i].CreatedAt.Equal(orders[j].CreatedAt) {
			return orders[i].ID < orders[j].ID
		}
		return orders[i].CreatedAt.Before(orders[j].CreatedAt)
	})
	return orders, nil
}

func (s *MemoryStore) CancelOrder(_ context.Context, id string) (*model.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[id]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", id, ErrNotFound)
	}
	if !o.Pending() {
		return nil, ErrOrderNotPending
	}
	if a, ok := s.accounts[o.AccountID]; ok {
		a.Cash += o.FrozenAmount()
	}
	o.Status = model.StatusCancelled
	copy := *o
	return &copy, nil
}

// ExecuteFill applies the whole fill under the store's write lock, so the
// order transition, trade append and ledger update are observed together.
func (s *MemoryStore) ExecuteFill(_ context.Context, fill model.Fill) (*model.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[fill.Order.ID]
	if !ok {
		return nil, fmt.Errorf("order %s: %w", fill.Order.ID, ErrNotFound)
	}
	if !o.Pending() {
		return nil, ErrOrderNotPending
	}
	a, ok := s.accounts[o.AccountID]
	if !ok {
		return nil, fmt.Errorf("account %s: %w", o.AccountID, ErrNotFound)
	}

	// Apply to a copy; the stored account only changes if every step succeeds.
	fill.Order = *o
	next := a.Clone()
	if err := next.ApplyFill(fill); err != nil {
		return nil, mapFillErr(err)
	}

	if fill.At.IsZero() {
		fill.At = time.Now().UTC()
	}
	trade := fill.Trade(uuid.New().String())

	s.accounts[a.ID] = next
	o.Status = model.StatusExecuted
	at := fill.At
	o.ExecutedAt = &at
	s.trades = append(s.trades, trade)
	return &trade, nil
}

func (s *MemoryStore) ListTradesByAccount(_ context.Context, accountID string) ([]model.Trade, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.AccountID == accountID {
			result = append(result, t)
		}
	}
	return result, nil
}

// TradesForOrder returns every trade recorded against an order. Used by
// tests to assert at-most-once execution.
func (s *MemoryStore) TradesForOrder(orderID string) []model.Trade {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []model.Trade
	for _, t := range s.trades {
		if t.OrderID == orderID {
			result = append(result, t)
		}
	}
	return result
}
