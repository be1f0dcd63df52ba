package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/cors"

	"github.com/papertrade/limit-engine/internal/accountlock"
	"github.com/papertrade/limit-engine/internal/api"
	"github.com/papertrade/limit-engine/internal/config"
	"github.com/papertrade/limit-engine/internal/execution"
	"github.com/papertrade/limit-engine/internal/market"
	"github.com/papertrade/limit-engine/internal/metrics"
	"github.com/papertrade/limit-engine/internal/notify"
	"github.com/papertrade/limit-engine/internal/pricefeed"
	"github.com/papertrade/limit-engine/internal/store"
)

func main() {
	cfgPath := "config/limit-engine.yaml"
	if p := os.Getenv("LIMIT_ENGINE_CONFIG"); p != "" {
		cfgPath = p
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Logging.Level)}))
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Initialize store and price feed ---
	var st store.Store
	var feed pricefeed.Feed
	var cleanup []func()

	var rdb *redis.Client
	if cfg.Storage.RedisURL != "" {
		opt, err := redis.ParseURL(cfg.Storage.RedisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
	}

	if cfg.Storage.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.Storage.DatabaseURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		pg := store.NewPostgresStore(pool)
		if err := pg.Migrate(ctx); err != nil {
			slog.Error("schema migration failed", "err", err)
			os.Exit(1)
		}
		st = pg
		slog.Info("connected to PostgreSQL")

		// Wrap with Redis read-through cache if configured.
		if rdb != nil {
			st = store.NewCachedStore(st, rdb, cfg.Storage.CacheTTL)
			slog.Info("Redis cache enabled", "ttl", cfg.Storage.CacheTTL)
		}
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	if rdb != nil {
		feed = pricefeed.NewRedisFeed(rdb, "")
		slog.Info("reading quotes from Redis")
	} else {
		slog.Warn("REDIS_URL not set, using in-memory price feed (no quotes until set)")
		feed = pricefeed.NewMemoryFeed()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Market gate ---
	var gate market.Gate = market.AlwaysOpen{}
	if cfg.Market.AlwaysOpen {
		slog.Warn("market calendar disabled, scanning around the clock")
	} else {
		cal, err := market.NewCalendar(cfg.Market.Timezone, cfg.Market.Open, cfg.Market.Close, cfg.Market.Holidays)
		if err != nil {
			slog.Error("invalid market calendar", "err", err)
			os.Exit(1)
		}
		gate = cal
	}

	var wg sync.WaitGroup

	// --- WebSocket hub ---
	hub := notify.NewHub()
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
	}()

	// --- Account locks ---
	locks := accountlock.New()
	wg.Add(1)
	go func() {
		defer wg.Done()
		locks.Run(ctx, cfg.Engine.SweepInterval, func(remaining int) {
			metrics.LockRegistrySize.Set(float64(remaining))
		})
	}()

	// --- Limit order engine ---
	executor := execution.NewExecutor(st, feed, locks, hub, cfg.Engine.LockTimeout)
	scheduler := execution.NewScheduler(st, gate, executor, execution.SchedulerConfig{
		Interval:       cfg.Engine.ScanInterval,
		BatchTimeout:   cfg.Engine.BatchTimeout,
		MaxConcurrency: cfg.Engine.MaxConcurrency,
	})
	wg.Add(1)
	go func() {
		defer wg.Done()
		scheduler.Run(ctx)
	}()

	// --- HTTP router ---
	handler := api.NewHandler(st, gate, locks)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(metrics.Middleware)

	// CORS for dashboards reading the lookups cross-origin.
	r.Use(cors.New(cors.Options{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	}).Handler)

	r.Get("/health", handler.Health)

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for real-time trade fills.
		r.Get("/ws", hub.HandleWS)

		// Account, order and trade lookups; the timeout is scoped here so
		// it does not cut long-lived WebSocket connections.
		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(30 * time.Second))
			handler.Routes(r)
		})
	})

	// --- Server ---
	srv := &http.Server{
		Addr:        ":" + cfg.Server.Port,
		Handler:     r,
		ReadTimeout: 10 * time.Second,
		IdleTimeout: 60 * time.Second,
	}

	go func() {
		slog.Info("limit-engine listening", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down limit-engine...")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	wg.Wait()
	slog.Info("limit-engine stopped")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
