// Package execution runs the limit-order engine: a periodic scan of pending
// limit orders and the per-order evaluation that fills an order at most once
// against the latest quote.
package execution

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/papertrade/limit-engine/internal/accountlock"
	"github.com/papertrade/limit-engine/internal/metrics"
	"github.com/papertrade/limit-engine/internal/model"
	"github.com/papertrade/limit-engine/internal/pricefeed"
	"github.com/papertrade/limit-engine/internal/store"
)

// Notifier receives fills after they are committed. Failures are logged and
// never undo a fill.
type Notifier interface {
	NotifyTrade(ctx context.Context, t model.Trade) error
}

// Outcome is the result of evaluating one order in one tick.
type Outcome string

const (
	OutcomeFilled      Outcome = "filled"
	OutcomeNotPending  Outcome = "not_pending"
	OutcomeMissing     Outcome = "missing"
	OutcomeNotLimit    Outcome = "not_limit"
	OutcomeNoQuote     Outcome = "no_quote"
	OutcomeNotFillable Outcome = "not_fillable"
	OutcomeLockTimeout Outcome = "lock_timeout"
	OutcomeStale       Outcome = "stale"
	OutcomeError       Outcome = "error"
)

// Executor evaluates and fills individual orders. It is safe for concurrent
// use; fills against the same account are serialized by the lock registry.
type Executor struct {
	store       store.Store
	feed        pricefeed.Feed
	locks       *accountlock.Registry
	notifier    Notifier // optional
	lockTimeout time.Duration
	now         func() time.Time
}

// NewExecutor creates an executor. Pass nil for notifier if fills need not
// be broadcast.
func NewExecutor(st store.Store, feed pricefeed.Feed, locks *accountlock.Registry, notifier Notifier, lockTimeout time.Duration) *Executor {
	return &Executor{
		store:       st,
		feed:        feed,
		locks:       locks,
		notifier:    notifier,
		lockTimeout: lockTimeout,
		now:         func() time.Time { return time.Now().UTC() },
	}
}

// Evaluate re-checks one order and fills it if the current quote satisfies
// its limit. It never returns an error or panics: every failure is logged
// with the order id and the order stays PENDING for the next tick.
// The account is not loaded here; ExecuteFill reads it in the same atomic
// step that writes the ledger.
func (e *Executor) Evaluate(ctx context.Context, orderID string) (outcome Outcome) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			slog.Error("order evaluation panicked", "order_id", orderID, "panic", r)
			outcome = OutcomeError
		}
		metrics.Evaluations.WithLabelValues(string(outcome)).Inc()
		metrics.EvaluationLatency.Observe(time.Since(start).Seconds())
	}()

	outcome, err := e.evaluate(ctx, orderID)
	if err != nil {
		slog.Error("order evaluation failed", "order_id", orderID, "err", err)
		return OutcomeError
	}
	return outcome
}

func (e *Executor) evaluate(ctx context.Context, orderID string) (Outcome, error) {
	// Fresh read: the scan snapshot may be stale by now.
	order, outcome, err := e.loadPending(ctx, orderID)
	if order == nil {
		return outcome, err
	}

	price, ok, err := e.feed.LatestPrice(ctx, order.StockCode)
	if err != nil {
		return OutcomeError, err
	}
	if !ok {
		return OutcomeNoQuote, nil
	}
	if !order.FillableAt(price) {
		return OutcomeNotFillable, nil
	}

	var trade *model.Trade
	waitStart := time.Now()
	err = e.locks.WithAccountLock(ctx, order.AccountID, e.lockTimeout, func() error {
		metrics.LockWait.Observe(time.Since(waitStart).Seconds())

		// The order and the quote may both have moved while waiting.
		fresh, o, err := e.loadPending(ctx, orderID)
		if fresh == nil {
			outcome = o
			return err
		}
		price, ok, err := e.feed.LatestPrice(ctx, fresh.StockCode)
		if err != nil {
			return err
		}
		if !ok || !fresh.FillableAt(price) {
			outcome = OutcomeStale
			return nil
		}

		trade, err = e.store.ExecuteFill(ctx, model.Fill{Order: *fresh, Price: price, At: e.now()})
		if errors.Is(err, store.ErrOrderNotPending) {
			outcome = OutcomeNotPending
			return nil
		}
		if err != nil {
			return err
		}
		outcome = OutcomeFilled
		return nil
	})
	if errors.Is(err, accountlock.ErrTimeout) {
		metrics.LockWait.Observe(time.Since(waitStart).Seconds())
		metrics.LockTimeouts.Inc()
		slog.Warn("account lock timeout, retrying next tick",
			"order_id", orderID, "account_id", order.AccountID, "timeout", e.lockTimeout)
		return OutcomeLockTimeout, nil
	}
	if err != nil {
		return OutcomeError, err
	}
	if trade == nil {
		return outcome, nil
	}

	metrics.FillsTotal.WithLabelValues(string(trade.Side)).Inc()
	slog.Info("limit order filled",
		"order_id", orderID,
		"trade_id", trade.ID,
		"account_id", trade.AccountID,
		"stock_code", trade.StockCode,
		"side", trade.Side,
		"qty", trade.Quantity,
		"limit_price", order.LimitPrice,
		"fill_price", trade.Price,
	)
	e.notify(ctx, *trade)
	return OutcomeFilled, nil
}

// loadPending returns the order if it is a PENDING limit order, or the
// outcome explaining why it is not actionable.
func (e *Executor) loadPending(ctx context.Context, orderID string) (*model.Order, Outcome, error) {
	order, err := e.store.GetOrder(ctx, orderID)
	if errors.Is(err, store.ErrNotFound) {
		slog.Debug("order vanished before evaluation", "order_id", orderID)
		return nil, OutcomeMissing, nil
	}
	if err != nil {
		return nil, OutcomeError, err
	}
	if !order.Pending() {
		return nil, OutcomeNotPending, nil
	}
	if order.Kind != model.KindLimit {
		return nil, OutcomeNotLimit, nil
	}
	return order, "", nil
}

func (e *Executor) notify(ctx context.Context, t model.Trade) {
	if e.notifier == nil {
		return
	}
	if err := e.notifier.NotifyTrade(ctx, t); err != nil {
		metrics.NotifyFailures.Inc()
		slog.Warn("trade notification failed", "order_id", t.OrderID, "trade_id", t.ID, "err", err)
	}
}
