package execution_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/papertrade/limit-engine/internal/accountlock"
	"github.com/papertrade/limit-engine/internal/execution"
	"github.com/papertrade/limit-engine/internal/market"
	"github.com/papertrade/limit-engine/internal/model"
	"github.com/papertrade/limit-engine/internal/store"
)

type closedGate struct{}

func (closedGate) IsOpen(time.Time) bool { return false }

// countingScanner counts scans and returns a fixed order list.
type countingScanner struct {
	calls  atomic.Int32
	orders []model.Order
	err    error
}

func (c *countingScanner) FindPendingLimitOrders(context.Context) ([]model.Order, error) {
	c.calls.Add(1)
	return c.orders, c.err
}

// blockingEvaluator parks every evaluation until release is closed and
// tracks how many run at once.
type blockingEvaluator struct {
	release chan struct{}

	mu      sync.Mutex
	running int
	peak    int
	started atomic.Int32
	ended   atomic.Int32
}

func (b *blockingEvaluator) Evaluate(ctx context.Context, _ string) execution.Outcome {
	b.started.Add(1)
	b.mu.Lock()
	b.running++
	if b.running > b.peak {
		b.peak = b.running
	}
	b.mu.Unlock()

	<-b.release

	b.mu.Lock()
	b.running--
	b.mu.Unlock()
	b.ended.Add(1)
	return execution.OutcomeNotFillable
}

func ordersN(n int) []model.Order {
	orders := make([]model.Order, n)
	for i := range orders {
		orders[i] = model.Order{ID: string(rune('a' + i)), Kind: model.KindLimit, Status: model.StatusPending}
	}
	return orders
}

func TestRunCycle_MarketClosedSkipsStore(t *testing.T) {
	scanner := &countingScanner{orders: ordersN(3)}
	eval := &blockingEvaluator{release: make(chan struct{})}
	close(eval.release)

	s := execution.NewScheduler(scanner, closedGate{}, eval, execution.SchedulerConfig{})
	stats := s.RunCycle(context.Background())

	if stats.Result != "closed" {
		t.Errorf("expected closed, got %s", stats.Result)
	}
	if n := scanner.calls.Load(); n != 0 {
		t.Errorf("expected no store reads while closed, got %d", n)
	}
	if n := eval.started.Load(); n != 0 {
		t.Errorf("expected no evaluations while closed, got %d", n)
	}
}

func TestRunCycle_EmptyAndError(t *testing.T) {
	eval := &blockingEvaluator{release: make(chan struct{})}
	close(eval.release)

	s := execution.NewScheduler(&countingScanner{}, market.AlwaysOpen{}, eval, execution.SchedulerConfig{})
	if got := s.RunCycle(context.Background()).Result; got != "empty" {
		t.Errorf("expected empty, got %s", got)
	}

	s = execution.NewScheduler(&countingScanner{err: store.ErrNotFound}, market.AlwaysOpen{}, eval, execution.SchedulerConfig{})
	if got := s.RunCycle(context.Background()).Result; got != "error" {
		t.Errorf("expected error, got %s", got)
	}
}

func TestRunCycle_BatchTimeoutDoesNotCancel(t *testing.T) {
	scanner := &countingScanner{orders: ordersN(4)}
	eval := &blockingEvaluator{release: make(chan struct{})}

	s := execution.NewScheduler(scanner, market.AlwaysOpen{}, eval, execution.SchedulerConfig{
		BatchTimeout: 30 * time.Millisecond,
	})
	stats := s.RunCycle(context.Background())

	if stats.Result != "timeout" {
		t.Fatalf("expected timeout, got %s", stats.Result)
	}
	if stats.Dispatched != 4 || stats.Finished != 0 {
		t.Errorf("expected 4 dispatched and 0 finished, got %+v", stats)
	}

	// The abandoned evaluations keep running and complete once released.
	close(eval.release)
	deadline := time.Now().Add(2 * time.Second)
	for eval.ended.Load() != 4 {
		if time.Now().After(deadline) {
			t.Fatalf("evaluations did not complete after the timeout, ended=%d", eval.ended.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestRunCycle_BoundsConcurrency(t *testing.T) {
	scanner := &countingScanner{orders: ordersN(10)}
	eval := &blockingEvaluator{release: make(chan struct{})}

	s := execution.NewScheduler(scanner, market.AlwaysOpen{}, eval, execution.SchedulerConfig{
		BatchTimeout:   5 * time.Second,
		MaxConcurrency: 3,
	})

	go func() {
		deadline := time.Now().Add(time.Second)
		for eval.started.Load() < 3 && time.Now().Before(deadline) {
			time.Sleep(time.Millisecond)
		}
		time.Sleep(20 * time.Millisecond)
		close(eval.release)
	}()

	stats := s.RunCycle(context.Background())
	if stats.Result != "completed" || stats.Finished != 10 {
		t.Fatalf("expected all 10 to complete, got %+v", stats)
	}
	eval.mu.Lock()
	peak := eval.peak
	eval.mu.Unlock()
	if peak > 3 {
		t.Errorf("expected at most 3 concurrent evaluations, got %d", peak)
	}
}

func TestRunCycle_FillsEndToEnd(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env.store, "acct1", 1_000_000, holding(samsung, 5, 55000))
	seedAccount(t, env.store, "acct2", 1_000_000)
	seedOrder(t, env.store, "buy", "acct2", samsung, model.SideBuy, 10, 50000)
	seedOrder(t, env.store, "sell", "acct1", samsung, model.SideSell, 5, 60000)
	seedOrder(t, env.store, "far", "acct2", samsung, model.SideBuy, 1, 40000)
	env.feed.Set(samsung, 49000)

	s := execution.NewScheduler(env.store, market.AlwaysOpen{}, env.exec, execution.SchedulerConfig{})

	stats := s.RunCycle(context.Background())
	if stats.Result != "completed" || stats.Dispatched != 3 {
		t.Fatalf("unexpected first cycle: %+v", stats)
	}
	if o := mustOrder(t, env.store, "buy"); o.Status != model.StatusExecuted {
		t.Errorf("buy: expected EXECUTED, got %s", o.Status)
	}
	for _, id := range []string{"sell", "far"} {
		if o := mustOrder(t, env.store, id); o.Status != model.StatusPending {
			t.Errorf("%s: expected PENDING, got %s", id, o.Status)
		}
	}

	// The quote crosses the sell limit; the next tick picks it up.
	env.feed.Set(samsung, 60500)
	stats = s.RunCycle(context.Background())
	if stats.Dispatched != 2 {
		t.Errorf("expected 2 pending orders on second cycle, got %d", stats.Dispatched)
	}
	if o := mustOrder(t, env.store, "sell"); o.Status != model.StatusExecuted {
		t.Errorf("sell: expected EXECUTED, got %s", o.Status)
	}
	if n := len(env.store.TradesForOrder("buy")); n != 1 {
		t.Errorf("expected buy to stay filled once, got %d trades", n)
	}
}

// panickyStore panics when loading the poison order.
type panickyStore struct {
	store.Store
	poison string
}

func (p *panickyStore) GetOrder(ctx context.Context, id string) (*model.Order, error) {
	if id == p.poison {
		panic("corrupt row")
	}
	return p.Store.GetOrder(ctx, id)
}

func TestRunCycle_IsolatesPanickingOrder(t *testing.T) {
	env := newTestEnv(t)
	seedAccount(t, env.store, "acct1", 1_000_000)
	seedOrder(t, env.store, "bad", "acct1", samsung, model.SideBuy, 1, 50000)
	seedOrder(t, env.store, "good", "acct1", samsung, model.SideBuy, 1, 50000)
	env.feed.Set(samsung, 49000)

	ps := &panickyStore{Store: env.store, poison: "bad"}
	exec := execution.NewExecutor(ps, env.feed, accountlock.New(), nil, time.Second)
	s := execution.NewScheduler(ps, market.AlwaysOpen{}, exec, execution.SchedulerConfig{})

	if got := s.RunCycle(context.Background()).Result; got != "completed" {
		t.Fatalf("expected completed, got %s", got)
	}
	if o := mustOrder(t, env.store, "good"); o.Status != model.StatusExecuted {
		t.Errorf("good: expected EXECUTED, got %s", o.Status)
	}
	if o := mustOrder(t, env.store, "bad"); o.Status != model.StatusPending {
		t.Errorf("bad: expected PENDING, got %s", o.Status)
	}
}

func TestRun_StopsOnCancel(t *testing.T) {
	scanner := &countingScanner{}
	eval := &blockingEvaluator{release: make(chan struct{})}
	close(eval.release)

	s := execution.NewScheduler(scanner, market.AlwaysOpen{}, eval, execution.SchedulerConfig{
		Interval: 5 * time.Millisecond,
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		s.Run(ctx)
		close(done)
	}()

	deadline := time.Now().Add(2 * time.Second)
	for scanner.calls.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatal("scheduler never ticked")
		}
		time.Sleep(time.Millisecond)
	}
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
