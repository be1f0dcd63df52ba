// Package metrics provides Prometheus instrumentation for the limit engine.
package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ScanCycles counts scheduler ticks by result: "closed", "empty",
	// "completed", "timeout", "error", "cancelled".
	ScanCycles = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "limit_engine_scan_cycles_total",
		Help: "Scan cycles by result",
	}, []string{"result"})

	// OrdersScanned counts pending limit orders dispatched for evaluation.
	OrdersScanned = promauto.NewCounter(prometheus.CounterOpts{
		Name: "limit_engine_orders_scanned_total",
		Help: "Pending limit orders dispatched for evaluation",
	})

	// Evaluations counts per-order evaluations by outcome.
	Evaluations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "limit_engine_evaluations_total",
		Help: "Order evaluations by outcome",
	}, []string{"outcome"})

	// EvaluationLatency tracks time spent in one order's evaluation.
	EvaluationLatency = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "limit_engine_evaluation_latency_seconds",
		Help:    "Per-order evaluation latency in seconds",
		Buckets: prometheus.DefBuckets,
	})

	// FillsTotal counts executed fills, partitioned by side.
	FillsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "limit_engine_fills_total",
		Help: "Total number of limit orders filled",
	}, []string{"side"})

	// BatchTimeouts counts ticks that stopped waiting before all
	// evaluations finished.
	BatchTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "limit_engine_batch_timeouts_total",
		Help: "Scan cycles whose batch wait timed out",
	})

	// LockWait tracks time from requesting an account lock to acquiring it
	// or giving up.
	LockWait = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "limit_engine_account_lock_wait_seconds",
		Help:    "Account lock wait in seconds",
		Buckets: []float64{0.0001, 0.001, 0.01, 0.1, 0.5, 1, 5, 15, 30},
	})

	// LockTimeouts counts account lock acquisitions that timed out.
	LockTimeouts = promauto.NewCounter(prometheus.CounterOpts{
		Name: "limit_engine_account_lock_timeouts_total",
		Help: "Account lock acquisitions that timed out",
	})

	// LockRegistrySize tracks live entries in the account lock registry.
	LockRegistrySize = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "limit_engine_account_lock_entries",
		Help: "Live account lock registry entries",
	})

	// NotifyFailures counts trade notifications that could not be delivered.
	NotifyFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "limit_engine_notify_failures_total",
		Help: "Trade notifications that failed",
	})

	// WebSocketClients tracks connected WebSocket clients.
	WebSocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "limit_engine_websocket_clients",
		Help: "Number of connected WebSocket clients",
	})

	// HTTPRequestsTotal counts HTTP requests by method, route, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "limit_engine_http_requests_total",
		Help: "Total HTTP requests",
	}, []string{"method", "path", "status"})

	// HTTPRequestDuration tracks request duration by method and route.
	HTTPRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "limit_engine_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
	}, []string{"method", "path"})
)

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware returns an HTTP middleware that records request metrics.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &statusWriter{ResponseWriter: w, status: 200}
		next.ServeHTTP(wrapped, r)
		duration := time.Since(start).Seconds()

		// Use the route pattern for path label to avoid high cardinality.
		path := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if p := rctx.RoutePattern(); p != "" {
				path = p
			}
		}
		HTTPRequestsTotal.WithLabelValues(r.Method, path, strconv.Itoa(wrapped.status)).Inc()
		HTTPRequestDuration.WithLabelValues(r.Method, path).Observe(duration)
	})
}

// statusWriter wraps http.ResponseWriter to capture the status code.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack lets WebSocket upgrades pass through the middleware.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("metrics: response writer does not support hijacking")
	}
	return h.Hijack()
}
