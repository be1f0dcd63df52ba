package execution

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/papertrade/limit-engine/internal/market"
	"github.com/papertrade/limit-engine/internal/metrics"
	"github.com/papertrade/limit-engine/internal/model"
)

// OrderScanner lists the orders a tick should evaluate.
type OrderScanner interface {
	FindPendingLimitOrders(ctx context.Context) ([]model.Order, error)
}

// Evaluator evaluates one order. *Executor is the production implementation.
type Evaluator interface {
	Evaluate(ctx context.Context, orderID string) Outcome
}

// SchedulerConfig holds the scan tunables.
type SchedulerConfig struct {
	Interval       time.Duration // period between ticks
	BatchTimeout   time.Duration // how long one tick waits for its evaluations
	MaxConcurrency int           // evaluations in flight per tick
}

// CycleStats summarises one tick.
type CycleStats struct {
	Result     string // "closed", "empty", "completed", "timeout", "error", "cancelled"
	Dispatched int
	Finished   int
}

// Scheduler fires the scan cycle on a fixed period.
type Scheduler struct {
	orders OrderScanner
	gate   market.Gate
	eval   Evaluator
	cfg    SchedulerConfig
	now    func() time.Time
}

// NewScheduler creates a scheduler. Zero config fields fall back to 1s
// interval, 30s batch timeout and 64 concurrent evaluations.
func NewScheduler(orders OrderScanner, gate market.Gate, eval Evaluator, cfg SchedulerConfig) *Scheduler {
	if cfg.Interval <= 0 {
		cfg.Interval = time.Second
	}
	if cfg.BatchTimeout <= 0 {
		cfg.BatchTimeout = 30 * time.Second
	}
	if cfg.MaxConcurrency <= 0 {
		cfg.MaxConcurrency = 64
	}
	return &Scheduler{
		orders: orders,
		gate:   gate,
		eval:   eval,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Run fires RunCycle every Interval until ctx is done. Ticks that come due
// while a cycle is still waiting are dropped, so cycles never overlap.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.Interval)
	defer ticker.Stop()

	slog.Info("limit order scheduler started",
		"interval", s.cfg.Interval,
		"batch_timeout", s.cfg.BatchTimeout,
		"max_concurrency", s.cfg.MaxConcurrency,
	)
	for {
		select {
		case <-ctx.Done():
			slog.Info("limit order scheduler stopped")
			return
		case <-ticker.C:
			s.RunCycle(ctx)
		}
	}
}

// RunCycle performs one scan: gate check, fetch pending limit orders oldest
// first, fan out one evaluation per order, and wait up to BatchTimeout.
// Evaluations still running at the timeout are not cancelled; whatever they
// leave PENDING is picked up again next tick.
func (s *Scheduler) RunCycle(ctx context.Context) (stats CycleStats) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("scan cycle panicked", "panic", r)
			stats.Result = "error"
		}
		metrics.ScanCycles.WithLabelValues(stats.Result).Inc()
	}()

	if !s.gate.IsOpen(s.now()) {
		stats.Result = "closed"
		return stats
	}

	orders, err := s.orders.FindPendingLimitOrders(ctx)
	if err != nil {
		slog.Error("failed to load pending limit orders", "err", err)
		stats.Result = "error"
		return stats
	}
	if len(orders) == 0 {
		stats.Result = "empty"
		return stats
	}
	stats.Dispatched = len(orders)
	metrics.OrdersScanned.Add(float64(len(orders)))

	var finished atomic.Int64
	done := make(chan struct{})
	go func() {
		defer close(done)
		var g errgroup.Group
		g.SetLimit(s.cfg.MaxConcurrency)
		for _, o := range orders {
			id := o.ID
			g.Go(func() error {
				defer finished.Add(1)
				s.eval.Evaluate(ctx, id)
				return nil
			})
		}
		g.Wait()
	}()

	timer := time.NewTimer(s.cfg.BatchTimeout)
	defer timer.Stop()

	select {
	case <-done:
		stats.Result = "completed"
	case <-timer.C:
		metrics.BatchTimeouts.Inc()
		stats.Result = "timeout"
		slog.Warn("scan batch wait timed out, leaving evaluations running",
			"dispatched", stats.Dispatched,
			"unfinished", int64(stats.Dispatched)-finished.Load(),
			"timeout", s.cfg.BatchTimeout,
		)
	case <-ctx.Done():
		stats.Result = "cancelled"
	}
	stats.Finished = int(finished.Load())
	return stats
}
