// Command server runs the market-data background process: the cron-driven
// Scheduler (realtime refresh + daily batch) wired over KVCache, StockStore,
// PriceSource, and FxService. There is no HTTP surface here — request
// routing is out of scope (spec.md §1) — this process only keeps the cache
// and relational store current so an out-of-process API layer can read them.
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

	"github.com/krxusd/marketdata/internal/activetracker"
	"github.com/krxusd/marketdata/internal/calendar"
	"github.com/krxusd/marketdata/internal/config"
	"github.com/krxusd/marketdata/internal/fxservice"
	"github.com/krxusd/marketdata/internal/httpclient"
	"github.com/krxusd/marketdata/internal/kvcache"
	"github.com/krxusd/marketdata/internal/pricesource"
	"github.com/krxusd/marketdata/internal/pricesource/frankfurterfx"
	"github.com/krxusd/marketdata/internal/pricesource/krxfallback"
	"github.com/krxusd/marketdata/internal/pricesource/krxrest"
	"github.com/krxusd/marketdata/internal/scheduler"
	"github.com/krxusd/marketdata/internal/stockstore"
	"github.com/krxusd/marketdata/internal/syncengine"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	started := time.Now()
	slog.Info("server starting")

	env, err := config.LoadEnv()
	if err != nil {
		return fmt.Errorf("load environment config: %w", err)
	}

	cache, err := kvcache.Connect(ctx, env.KVURL)
	if err != nil {
		return fmt.Errorf("connect kv cache: %w", err)
	}
	defer cache.Close()

	pool, err := stockstore.ConnectDB(ctx, env.DBURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	if err := stockstore.RunMigrations(ctx, pool); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	repo := stockstore.NewRepository(pool)

	cal := calendar.New(calendar.DefaultHolidays())

	source := buildPriceSource(env)
	fxService := fxservice.New(cache, source, repo)
	syncEngine := syncengine.New(source, fxService, repo, syncengine.Config{
		DefaultHistoryDays: env.SyncDefaultHistoryDays,
		MaxHistoryYears:    env.SyncMaxHistoryYears,
	})
	tracker := activetracker.New(cache, time.Duration(env.SchedulerActiveSymbolTTLSec)*time.Second)

	slog.Info("components wired", "elapsed", time.Since(started).Round(time.Millisecond))

	if !env.SchedulerEnabled {
		slog.Info("scheduler disabled, idling until shutdown signal")
		<-ctx.Done()
		return nil
	}

	sched := scheduler.New(cal, tracker, source, fxService, syncEngine, cache, repo, scheduler.Config{
		RealtimeInterval: time.Duration(env.SchedulerRealtimeIntervalSec) * time.Second,
		MaxBatchSize:     env.SchedulerMaxBatchSize,
		DailyBatchHour:   env.SchedulerDailyBatchHour,
		DailyBatchMinute: env.SchedulerDailyBatchMinute,
	})

	if err := sched.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}
	slog.Info("scheduler started")

	<-ctx.Done()
	slog.Info("shutdown signal received, stopping scheduler")
	sched.Stop()
	return nil
}

// buildPriceSource wires the three PriceSource adapters into one Composite,
// tried in order: krxrest (KIS, primary quotes/daily bars), krxfallback (the
// mirror, primary for master listings and marcap/volume rankings, secondary
// for daily bars; it serves no realtime quotes), frankfurterfx (the only FX provider — the first two report FX
// methods unsupported, so the composite falls through to it every time).
func buildPriceSource(env config.Env) *pricesource.Composite {
	kisHTTP := httpclient.NewClient(env.KISBaseURL, nil, &http.Client{Timeout: 10 * time.Second}, 0)
	tokenProvider := krxrest.NewTokenProvider(env.KISBaseURL, env.KISAppKey, env.KISAppSecret, nil)
	kis := krxrest.New(kisHTTP, tokenProvider)

	fallbackHTTP := httpclient.NewClient(env.KRXFallbackBaseURL, nil, nil, 0)
	fallback := krxfallback.New(fallbackHTTP)

	fxHTTP := httpclient.NewClient(env.FrankfurterBaseURL, nil, nil, 0)
	fx := frankfurterfx.New(fxHTTP)

	return pricesource.NewComposite(kis, fallback, fx)
}
