package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/optx/option-engine/internal/api"
	"github.com/optx/option-engine/internal/engine"
	"github.com/optx/option-engine/internal/metrics"
	"github.com/optx/option-engine/internal/notify"
	"github.com/optx/option-engine/internal/oracle"
	"github.com/optx/option-engine/internal/override"
	"github.com/optx/option-engine/internal/risk"
	"github.com/optx/option-engine/internal/store"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	// --- Initialize store ---
	var st store.Store
	var cleanup []func()

	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		pool, err := pgxpool.New(context.Background(), dbURL)
		if err != nil {
			slog.Error("database connection failed", "err", err)
			os.Exit(1)
		}
		cleanup = append(cleanup, pool.Close)
		st = store.NewPostgresStore(pool)
		slog.Info("connected to PostgreSQL")
	} else {
		slog.Warn("DATABASE_URL not set, using in-memory store (data will not persist)")
		st = store.NewMemoryStore()
	}

	defer func() {
		for _, fn := range cleanup {
			fn()
		}
	}()

	// --- Override directive source ---
	// The admin back office writes override:{userID} keys; the engine reads
	// the directive current at settlement time.
	var overrides override.Source
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opt, err := redis.ParseURL(redisURL)
		if err != nil {
			slog.Error("invalid REDIS_URL", "err", err)
			os.Exit(1)
		}
		rdb := redis.NewClient(opt)
		cleanup = append(cleanup, func() { rdb.Close() })
		overrides = override.NewRedisSource(rdb)
		slog.Info("override directives sourced from Redis")
	} else {
		slog.Warn("REDIS_URL not set, override directives disabled")
		overrides = override.NewMemorySource()
	}

	// --- Price oracle ---
	var priceOracle oracle.Oracle
	if oracleURL := os.Getenv("ORACLE_URL"); oracleURL != "" {
		priceOracle = oracle.NewHTTPOracle(oracleURL, 3*time.Second)
		slog.Info("price oracle configured", "url", oracleURL)
	} else {
		slog.Warn("ORACLE_URL not set, using static development prices")
		priceOracle = oracle.NewStaticOracle(map[string]decimal.Decimal{
			"BTCUSDT": decimal.NewFromInt(65000),
			"ETHUSDT": decimal.NewFromInt(3200),
		})
	}

	// --- Exposure limits ---
	limiter := risk.NewExposureLimiter(
		decimal.NewFromInt(10000), // max open reservation per symbol
		decimal.NewFromInt(50000), // max open reservation in aggregate
	)

	// --- Notification path: hub + dedup dispatcher ---
	hub := notify.NewHub()
	go hub.Run()
	dispatcher := notify.NewDispatcher(hub, 5*time.Second, 10*time.Minute)
	defer dispatcher.Close()

	// --- Settlement engine + sweeper ---
	eng := engine.New(st, priceOracle, overrides, limiter, dispatcher, engine.DefaultConfig())
	defer eng.Close()

	sweepInterval := 60 * time.Second
	if v := os.Getenv("SWEEP_INTERVAL"); v != "" {
		if parsed, err := time.ParseDuration(v); err == nil {
			sweepInterval = parsed
		}
	}
	sweepCtx, cancelSweep := context.WithCancel(context.Background())
	defer cancelSweep()
	sweeper := engine.NewSweeper(eng, st, sweepInterval)
	if err := sweeper.Start(sweepCtx); err != nil {
		slog.Error("sweeper start failed", "err", err)
		os.Exit(1)
	}
	defer sweeper.Stop()

	// --- HTTP router ---
	handler := api.NewHandler(eng, st)

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"ok","service":"option-engine"}`))
	})

	// Prometheus metrics endpoint.
	r.Handle("/metrics", metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// WebSocket endpoint for settlement pushes.
		r.Get("/ws", hub.HandleWS)

		// Contract lifecycle.
		r.Post("/contracts", handler.OpenContract)
		r.Get("/contracts/{contractID}", handler.GetContract)

		// User queries.
		r.Get("/users/{userID}/contracts", handler.ListContracts)
		r.Get("/users/{userID}/balance", handler.GetBalance)
		r.Get("/users/{userID}/transactions", handler.GetTransactions)

		// Admin path: force settlement ahead of expiry.
		r.Post("/admin/contracts/{contractID}/complete", handler.ManualComplete)
	})

	// --- Server ---
	srv := &http.Server{
		Addr:         ":" + port,
		Handler:      r,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		slog.Info("option-engine listening", "port", port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("server error", "err", err)
			os.Exit(1)
		}
	}()

	// Graceful shutdown.
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	slog.Info("shutting down option-engine...")
	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("shutdown error", "err", err)
	}
	fmt.Println("option-engine stopped")
}
