package store

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/papertrade/limit-engine/internal/model"
)

// CachedStore wraps a primary Store (PostgreSQL) with a Redis read-through
// cache for account snapshots and trade history. Orders are never cached:
// the execution engine must always see the primary's current status.
type CachedStore struct {
	primary Store
	rdb     *redis.Client
	ttl     time.Duration
}

// NewCachedStore creates a cached wrapper around a primary store.
func NewCachedStore(primary Store, rdb *redis.Client, ttl time.Duration) *CachedStore {
	return &CachedStore{
		primary: primary,
		rdb:     rdb,
		ttl:     ttl,
	}
}

// --- Write-through (write to primary, invalidate cache) ---

func (s *CachedStore) CreateAccount(ctx context.Context, acct *model.Account) error {
	if err := s.primary.CreateAccount(ctx, acct); err != nil {
		return err
	}
	s.rdb.Del(ctx, accountKey(acct.ID))
	return nil
}

func (s *CachedStore) PlaceOrder(ctx context.Context, order *model.Order) error {
	if err := s.primary.PlaceOrder(ctx, order); err != nil {
		return err
	}
	// BUY placement freezes cash.
	s.rdb.Del(ctx, accountKey(order.AccountID))
	return nil
}

func (s *CachedStore) CancelOrder(ctx context.Context, id string) (*model.Order, error) {
	o, err := s.primary.CancelOrder(ctx, id)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, accountKey(o.AccountID))
	return o, nil
}

func (s *CachedStore) ExecuteFill(ctx context.Context, fill model.Fill) (*model.Trade, error) {
	t, err := s.primary.ExecuteFill(ctx, fill)
	if err != nil {
		return nil, err
	}
	s.rdb.Del(ctx, accountKey(t.AccountID), tradesKey(t.AccountID))
	return t, nil
}

// --- Read-through (check cache first) ---

func (s *CachedStore) GetAccount(ctx context.Context, id string) (*model.Account, error) {
	data, err := s.rdb.Get(ctx, accountKey(id)).Bytes()
	if err == nil {
		var a model.Account
		if json.Unmarshal(data, &a) == nil {
			return &a, nil
		}
	}

	a, err := s.primary.GetAccount(ctx, id)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(a); err == nil {
		s.rdb.Set(ctx, accountKey(id), data, s.ttl)
	}
	return a, nil
}

func (s *CachedStore) ListTradesByAccount(ctx context.Context, accountID string) ([]model.Trade, error) {
	data, err := s.rdb.Get(ctx, tradesKey(accountID)).Bytes()
	if err == nil {
		var trades []model.Trade
		if json.Unmarshal(data, &trades) == nil {
			return trades, nil
		}
	}

	trades, err := s.primary.ListTradesByAccount(ctx, accountID)
	if err != nil {
		return nil, err
	}
	if data, err := json.Marshal(trades); err == nil {
		s.rdb.Set(ctx, tradesKey(accountID), data, s.ttl)
	}
	return trades, nil
}

// --- Passthrough (not cached) ---

func (s *CachedStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	return s.primary.GetOrder(ctx, id)
}

func (s *CachedStore) FindPendingLimitOrders(ctx context.Context) ([]model.Order, error) {
	return s.primary.FindPendingLimitOrders(ctx)
}

func accountKey(id string) string { return fmt.Sprintf("account:%s", id) }
func tradesKey(id string) string  { return fmt.Sprintf("trades:%s", id) }
