// Package api provides the read-only HTTP handlers for operating the limit
// engine: health, account and order lookups, and the trade history.
//
// Order placement is not exposed here.
package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/papertrade/limit-engine/internal/market"
	"github.com/papertrade/limit-engine/internal/model"
	"github.com/papertrade/limit-engine/internal/store"
)

// LockCounter reports the number of live account lock entries.
type LockCounter interface {
	Len() int
}

// Handler serves the operational endpoints.
type Handler struct {
	store store.Store
	gate  market.Gate
	locks LockCounter // optional
	now   func() time.Time
}

// NewHandler creates a handler. Pass nil for locks if the registry size
// should not be reported.
func NewHandler(st store.Store, gate market.Gate, locks LockCounter) *Handler {
	return &Handler{
		store: st,
		gate:  gate,
		locks: locks,
		now:   time.Now,
	}
}

// Routes mounts the /api/v1 lookups on r.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/accounts/{accountID}", h.GetAccount)
	r.Get("/accounts/{accountID}/trades", h.ListTrades)
	r.Get("/orders/{orderID}", h.GetOrder)
}

// --- Response types ---

// HealthResponse is the JSON body returned from GET /health.
type HealthResponse struct {
	Status      string `json:"status"`
	Service     string `json:"service"`
	MarketOpen  bool   `json:"market_open"`
	LockEntries int    `json:"lock_entries"`
}

// AccountResponse is the JSON body returned from GET /accounts/{accountID}.
type AccountResponse struct {
	AccountID string           `json:"account_id"`
	Cash      int64            `json:"cash"`
	Holdings  []HoldingSummary `json:"holdings"`
}

// HoldingSummary is one position in an account response.
type HoldingSummary struct {
	StockCode string          `json:"stock_code"`
	StockName string          `json:"stock_name"`
	Quantity  int64           `json:"quantity"`
	AvgCost   decimal.Decimal `json:"avg_cost"`
	CostBasis decimal.Decimal `json:"cost_basis"`
}

// TradesResponse is the JSON body returned from GET /accounts/{accountID}/trades.
type TradesResponse struct {
	AccountID string        `json:"account_id"`
	Trades    []model.Trade `json:"trades"`
	Count     int           `json:"count"`
}

// --- HTTP Handlers ---

// Health handles GET /health
func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	resp := HealthResponse{
		Status:     "ok",
		Service:    "limit-engine",
		MarketOpen: h.gate.IsOpen(h.now()),
	}
	if h.locks != nil {
		resp.LockEntries = h.locks.Len()
	}
	writeJSON(w, http.StatusOK, resp)
}

// GetAccount handles GET /api/v1/accounts/{accountID}
func (h *Handler) GetAccount(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	acct, err := h.store.GetAccount(r.Context(), accountID)
	if err != nil {
		h.storeError(w, "account", accountID, err)
		return
	}

	resp := AccountResponse{
		AccountID: acct.ID,
		Cash:      acct.Cash,
		Holdings:  make([]HoldingSummary, 0, len(acct.Holdings)),
	}
	for _, hd := range acct.Holdings {
		resp.Holdings = append(resp.Holdings, HoldingSummary{
			StockCode: hd.StockCode,
			StockName: hd.StockName,
			Quantity:  hd.Quantity,
			AvgCost:   hd.AvgCost,
			CostBasis: hd.AvgCost.Mul(decimal.NewFromInt(hd.Quantity)).Round(0),
		})
	}
	sort.Slice(resp.Holdings, func(i, j int) bool {
		return resp.Holdings[i].StockCode < resp.Holdings[j].StockCode
	})

	writeJSON(w, http.StatusOK, resp)
}

// ListTrades handles GET /api/v1/accounts/{accountID}/trades
func (h *Handler) ListTrades(w http.ResponseWriter, r *http.Request) {
	accountID := chi.URLParam(r, "accountID")

	trades, err := h.store.ListTradesByAccount(r.Context(), accountID)
	if err != nil {
		h.storeError(w, "trades", accountID, err)
		return
	}
	if trades == nil {
		trades = []model.Trade{}
	}

	writeJSON(w, http.StatusOK, TradesResponse{
		AccountID: accountID,
		Trades:    trades,
		Count:     len(trades),
	})
}

// GetOrder handles GET /api/v1/orders/{orderID}
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderID")

	order, err := h.store.GetOrder(r.Context(), orderID)
	if err != nil {
		h.storeError(w, "order", orderID, err)
		return
	}
	writeJSON(w, http.StatusOK, order)
}

func (h *Handler) storeError(w http.ResponseWriter, what, id string, err error) {
	if errors.Is(err, store.ErrNotFound) {
		writeError(w, what+" not found", http.StatusNotFound)
		return
	}
	slog.Error("lookup failed", "resource", what, "id", id, "err", err)
	writeError(w, "failed to load "+what, http.StatusInternalServerError)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, message string, status int) {
	writeJSON(w, status, map[string]string{"error": message})
}
