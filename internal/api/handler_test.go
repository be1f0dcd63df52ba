package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/papertrade/limit-engine/internal/api"
	"github.com/papertrade/limit-engine/internal/market"
	"github.com/papertrade/limit-engine/internal/model"
	"github.com/papertrade/limit-engine/internal/store"
)

type fixedLocks int

func (n fixedLocks) Len() int { return int(n) }

// newTestEnv creates a Handler with an in-memory store behind a chi router.
func newTestEnv(t *testing.T) (*store.MemoryStore, chi.Router) {
	t.Helper()
	ms := store.NewMemoryStore()
	h := api.NewHandler(ms, market.AlwaysOpen{}, fixedLocks(3))

	r := chi.NewRouter()
	r.Get("/health", h.Health)
	r.Route("/api/v1", h.Routes)
	return ms, r
}

func seedFilledAccount(t *testing.T, ms *store.MemoryStore) {
	t.Helper()
	ctx := context.Background()
	acct := &model.Account{ID: "acct1", Cash: 1_000_000, Holdings: map[string]*model.Holding{
		"000660": {StockCode: "000660", StockName: "SK hynix", Quantity: 3, AvgCost: decimal.NewFromInt(150000)},
	}}
	if err := ms.CreateAccount(ctx, acct); err != nil {
		t.Fatalf("failed to seed account: %v", err)
	}
	order := &model.Order{
		ID: "o1", AccountID: "acct1", StockCode: "005930", StockName: "Samsung",
		Kind: model.KindLimit, Side: model.SideBuy, Quantity: 10, LimitPrice: 50000,
	}
	if err := ms.PlaceOrder(ctx, order); err != nil {
		t.Fatalf("failed to seed order: %v", err)
	}
	if _, err := ms.ExecuteFill(ctx, model.Fill{Order: *order, Price: 49000}); err != nil {
		t.Fatalf("failed to fill order: %v", err)
	}
}

func get(t *testing.T, r http.Handler, path string, out any) int {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if out != nil && w.Code == http.StatusOK {
		if err := json.NewDecoder(w.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return w.Code
}

func TestHealth(t *testing.T) {
	_, r := newTestEnv(t)

	var resp api.HealthResponse
	if code := get(t, r, "/health", &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.Status != "ok" || !resp.MarketOpen || resp.LockEntries != 3 {
		t.Errorf("unexpected health: %+v", resp)
	}
}

func TestGetAccount(t *testing.T) {
	ms, r := newTestEnv(t)
	seedFilledAccount(t, ms)

	var resp api.AccountResponse
	if code := get(t, r, "/api/v1/accounts/acct1", &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.Cash != 510_000 {
		t.Errorf("expected cash 510000, got %d", resp.Cash)
	}
	if len(resp.Holdings) != 2 {
		t.Fatalf("expected 2 holdings, got %d", len(resp.Holdings))
	}
	// Sorted by stock code.
	if resp.Holdings[0].StockCode != "000660" || resp.Holdings[1].StockCode != "005930" {
		t.Errorf("unexpected holding order: %+v", resp.Holdings)
	}
	if !resp.Holdings[1].CostBasis.Equal(decimal.NewFromInt(490000)) {
		t.Errorf("expected cost basis 490000, got %s", resp.Holdings[1].CostBasis)
	}
}

func TestGetAccount_NotFound(t *testing.T) {
	_, r := newTestEnv(t)

	if code := get(t, r, "/api/v1/accounts/nobody", nil); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

func TestListTrades(t *testing.T) {
	ms, r := newTestEnv(t)
	seedFilledAccount(t, ms)

	var resp api.TradesResponse
	if code := get(t, r, "/api/v1/accounts/acct1/trades", &resp); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if resp.Count != 1 || resp.Trades[0].OrderID != "o1" || resp.Trades[0].Price != 49000 {
		t.Errorf("unexpected trades: %+v", resp)
	}

	var empty api.TradesResponse
	get(t, r, "/api/v1/accounts/other/trades", &empty)
	if empty.Trades == nil || empty.Count != 0 {
		t.Errorf("expected an empty list, got %+v", empty)
	}
}

func TestGetOrder(t *testing.T) {
	ms, r := newTestEnv(t)
	seedFilledAccount(t, ms)

	var order model.Order
	if code := get(t, r, "/api/v1/orders/o1", &order); code != http.StatusOK {
		t.Fatalf("expected 200, got %d", code)
	}
	if order.Status != model.StatusExecuted || order.ExecutedAt == nil {
		t.Errorf("expected executed order, got %+v", order)
	}
	if code := get(t, r, "/api/v1/orders/missing", nil); code != http.StatusNotFound {
		t.Errorf("expected 404, got %d", code)
	}
}

// failingStore fails every account read.
type failingStore struct {
	store.Store
}

func (failingStore) GetAccount(context.Context, string) (*model.Account, error) {
	return nil, errors.New("connection reset")
}

func TestGetAccount_StoreFailure(t *testing.T) {
	h := api.NewHandler(failingStore{store.NewMemoryStore()}, market.AlwaysOpen{}, nil)
	r := chi.NewRouter()
	r.Route("/api/v1", h.Routes)

	if code := get(t, r, "/api/v1/accounts/acct1", nil); code != http.StatusInternalServerError {
		t.Errorf("expected 500, got %d", code)
	}
}
