package kvcache_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/krxusd/marketdata/internal/domain"
	"github.com/krxusd/marketdata/internal/kvcache"
	"github.com/shopspring/decimal"
)

func redisURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("KV_TEST_URL")
	if url == "" {
		t.Skip("KV_TEST_URL not set; skipping integration test")
	}
	return url
}

func setupCache(t *testing.T) *kvcache.Cache {
	t.Helper()
	ctx := context.Background()
	c, err := kvcache.Connect(ctx, redisURL(t))
	if err != nil {
		t.Fatalf("connect to redis: %v", err)
	}
	for _, key := range []string{"stock:realtime:005930", "exchange:realtime", "active:symbols", "market:status"} {
		_ = c.Delete(ctx, key)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func TestRealtimeRoundTrip(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()

	if _, found, err := c.GetRealtime(ctx, "005930"); err != nil || found {
		t.Fatalf("expected absent, got found=%v err=%v", found, err)
	}

	quote := kvcache.RealtimePrice{
		Symbol:    "005930",
		Close:     decimal.NewFromInt(71000),
		PriceDate: time.Now(),
		Source:    "krxrest",
		UpdatedAt: time.Now(),
	}
	if err := c.SetRealtime(ctx, "005930", quote); err != nil {
		t.Fatalf("SetRealtime: %v", err)
	}

	got, found, err := c.GetRealtime(ctx, "005930")
	if err != nil || !found {
		t.Fatalf("expected found, got found=%v err=%v", found, err)
	}
	if !got.Close.Equal(quote.Close) {
		t.Errorf("Close = %s, want %s", got.Close, quote.Close)
	}
}

func TestActiveSymbolsTTLWindow(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()

	now := time.Now().Unix()
	if err := c.TouchActiveSymbol(ctx, "000660", now-179); err != nil {
		t.Fatalf("TouchActiveSymbol: %v", err)
	}

	active, err := c.ActiveSymbolsSince(ctx, now-180)
	if err != nil {
		t.Fatalf("ActiveSymbolsSince: %v", err)
	}
	if len(active) != 1 || active[0] != "000660" {
		t.Errorf("ActiveSymbolsSince = %v, want [000660]", active)
	}

	removed, err := c.PurgeActiveSymbolsOlderThan(ctx, now+1)
	if err != nil {
		t.Fatalf("PurgeActiveSymbolsOlderThan: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}
}

func TestPopularRoundTrip(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()

	entries := []kvcache.PopularEntry{{Symbol: "005930", Rank: 1}, {Symbol: "000660", Rank: 2}}
	if err := c.SetPopular(ctx, domain.RankingVolume, entries); err != nil {
		t.Fatalf("SetPopular: %v", err)
	}

	got, found, err := c.GetPopular(ctx, domain.RankingVolume)
	if err != nil || !found {
		t.Fatalf("expected found, got found=%v err=%v", found, err)
	}
	if len(got) != 2 || got[0].Symbol != "005930" {
		t.Errorf("GetPopular = %v, want entries seeded above", got)
	}
}

func TestSchedulerHistoryNewestFirst(t *testing.T) {
	c := setupCache(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		rec := kvcache.SchedulerRunRecord{RunAt: time.Now(), StocksUpdated: i, Success: true}
		if err := c.AppendSchedulerHistory(ctx, rec); err != nil {
			t.Fatalf("AppendSchedulerHistory: %v", err)
		}
	}

	history, err := c.SchedulerHistory(ctx)
	if err != nil {
		t.Fatalf("SchedulerHistory: %v", err)
	}
	if len(history) != 5 {
		t.Fatalf("history length = %d, want 5", len(history))
	}
	if history[0].StocksUpdated != 4 {
		t.Errorf("newest entry StocksUpdated = %d, want 4 (LPUSH puts newest first)", history[0].StocksUpdated)
	}
}
