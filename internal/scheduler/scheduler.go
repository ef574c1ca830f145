// Package scheduler implements Scheduler: the two cron-driven background
// jobs (Job R realtime refresh, Job B daily batch) that keep the KV cache and
// relational store current without a caller-triggered request. Grounded on
// aristath-sentinel's internal/scheduler.Scheduler (robfig/cron/v3, a
// Start/Stop pair, cron.WithSeconds), adapted from that teacher's single
// named-Job registry into the two fixed jobs spec.md §4.8 names, and on this
// module's own teacher's errgroup-based CollectAll fan-out in
// internal/collector/orchestrate.go for bounded-concurrency quote fetching.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/krxusd/marketdata/internal/calendar"
	"github.com/krxusd/marketdata/internal/domain"
	"github.com/krxusd/marketdata/internal/kvcache"
	"github.com/krxusd/marketdata/internal/pricesource"
	"github.com/krxusd/marketdata/internal/syncengine"
	"github.com/robfig/cron/v3"
	"golang.org/x/sync/errgroup"
)

// Config holds the scheduler.* configuration surface of spec.md §6.
type Config struct {
	RealtimeInterval    time.Duration
	MaxBatchSize        int
	DailyBatchHour      int
	DailyBatchMinute    int
	ShutdownDeadline    time.Duration
	BatchChunkSize      int
	BatchInterBatchWait time.Duration
	BatchMaxAttempts    int
	BatchRetryDelay     time.Duration
	PopularMarcapTop    int
	PopularVolumeTop    int
	PopularCacheTop     int
	FanOutLimit         int
}

func (c *Config) applyDefaults() {
	if c.RealtimeInterval <= 0 {
		c.RealtimeInterval = 60 * time.Second
	}
	if c.MaxBatchSize <= 0 {
		c.MaxBatchSize = 20
	}
	if c.DailyBatchMinute < 0 {
		c.DailyBatchMinute = 0
	}
	if c.ShutdownDeadline <= 0 {
		c.ShutdownDeadline = 30 * time.Second
	}
	if c.BatchChunkSize <= 0 {
		c.BatchChunkSize = 10
	}
	if c.BatchInterBatchWait <= 0 {
		c.BatchInterBatchWait = time.Second
	}
	if c.BatchMaxAttempts <= 0 {
		c.BatchMaxAttempts = 3
	}
	if c.BatchRetryDelay <= 0 {
		c.BatchRetryDelay = 60 * time.Second
	}
	if c.PopularMarcapTop <= 0 {
		c.PopularMarcapTop = 100
	}
	if c.PopularVolumeTop <= 0 {
		c.PopularVolumeTop = 50
	}
	if c.PopularCacheTop <= 0 {
		c.PopularCacheTop = 20
	}
	if c.FanOutLimit <= 0 {
		c.FanOutLimit = 8
	}
}

// Calendar is the subset of MarketCalendar this component consumes.
type Calendar interface {
	Phase(t time.Time) calendar.Phase
	IsTradingDay(t time.Time) bool
	IsTradingTime(t time.Time) bool
}

// Tracker is the subset of ActiveSymbolTracker this component consumes.
type Tracker interface {
	Active(ctx context.Context, maxAge time.Duration) ([]string, error)
	Purge(ctx context.Context) (int64, error)
}

// Source is the subset of PriceSource this component consumes.
type Source interface {
	FetchRealtime(ctx context.Context, symbol string) (pricesource.RealtimeQuote, error)
	TopByMarcap(ctx context.Context, n int) ([]string, error)
	TopByVolume(ctx context.Context, n int) ([]string, error)
}

// Fx is the subset of FxService this component consumes.
type Fx interface {
	CurrentRate(ctx context.Context, force bool) (domain.ExchangeRate, error)
}

// SyncEngine is the subset of SyncEngine this component consumes.
type SyncEngine interface {
	EnsureSynced(ctx context.Context, symbol string, autoSync bool) (syncengine.EnsureResult, error)
}

// Cache is the subset of KVCache this component consumes.
type Cache interface {
	SetMarketStatus(ctx context.Context, s kvcache.MarketStatus) error
	SetRealtime(ctx context.Context, symbol string, p kvcache.RealtimePrice) error
	SetSchedulerState(ctx context.Context, s kvcache.SchedulerState) error
	AppendSchedulerHistory(ctx context.Context, rec kvcache.SchedulerRunRecord) error
	SetBatchState(ctx context.Context, s kvcache.BatchState) error
	AppendBatchHistory(ctx context.Context, rec kvcache.BatchHistoryRecord) error
	SetPopular(ctx context.Context, ranking domain.RankingType, entries []kvcache.PopularEntry) error
}

// PopularStore is the subset of StockStore the popular-rankings supplement
// persists to, alongside the popular:* KV cache.
type PopularStore interface {
	GetOrCreateStock(ctx context.Context, symbol, name string, market domain.Market) (domain.Stock, error)
	UpsertPopularRankings(ctx context.Context, rankingType domain.RankingType, snapshotDate time.Time, entries []domain.PopularRanking, symbolToStockID map[string]int64) error
}

// Scheduler implements Scheduler: Job R (realtime refresh, fixed interval)
// and Job B (daily batch, 16:00 KST weekdays), each guaranteed at most one
// concurrent run — a tick arriving while the previous run is still in flight
// is skipped, not queued, which is this component's answer to misfire
// coalescing.
type Scheduler struct {
	cal     Calendar
	tracker Tracker
	source  Source
	fx      Fx
	sync    SyncEngine
	cache   Cache
	store   PopularStore
	cfg     Config
	now     func() time.Time

	cron    *cron.Cron
	jobRRun sync.Mutex
	jobBRun sync.Mutex
}

// New constructs a Scheduler clocked by time.Now. store may be nil: the
// popular-rankings relational supplement is then skipped (KV caching still
// runs).
func New(cal Calendar, tracker Tracker, source Source, fx Fx, sync SyncEngine, cache Cache, store PopularStore, cfg Config) *Scheduler {
	return NewAt(cal, tracker, source, fx, sync, cache, store, cfg, time.Now)
}

// NewAt constructs a Scheduler with an injectable clock, for tests.
func NewAt(cal Calendar, tracker Tracker, source Source, fx Fx, sync SyncEngine, cache Cache, store PopularStore, cfg Config, now func() time.Time) *Scheduler {
	cfg.applyDefaults()
	return &Scheduler{cal: cal, tracker: tracker, source: source, fx: fx, sync: sync, cache: cache, store: store, cfg: cfg, now: now}
}

// Start registers and starts the two cron entries. ctx bounds every job run
// it schedules; cancelling ctx does not stop the cron loop itself — call
// Stop for that.
func (s *Scheduler) Start(ctx context.Context) error {
	s.cron = cron.New(cron.WithSeconds(), cron.WithLocation(calendar.KST()))

	if _, err := s.cron.AddFunc(fmt.Sprintf("@every %s", s.cfg.RealtimeInterval), func() {
		s.runJobR(ctx)
	}); err != nil {
		return fmt.Errorf("register job R: %w", err)
	}

	batchSpec := fmt.Sprintf("0 %d %d * * 1-5", s.cfg.DailyBatchMinute, s.cfg.DailyBatchHour)
	if _, err := s.cron.AddFunc(batchSpec, func() {
		s.runJobB(ctx)
	}); err != nil {
		return fmt.Errorf("register job B: %w", err)
	}

	s.cron.Start()
	slog.Info("scheduler started", "realtimeInterval", s.cfg.RealtimeInterval, "batchSpec", batchSpec)
	return nil
}

// Stop asks cron to finish any in-flight run and waits up to
// ShutdownDeadline before returning, cooperative shutdown with a hard cap.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	stopped := s.cron.Stop()
	select {
	case <-stopped.Done():
		slog.Info("scheduler stopped")
	case <-time.After(s.cfg.ShutdownDeadline):
		slog.Warn("scheduler stop deadline exceeded, returning anyway", "deadline", s.cfg.ShutdownDeadline)
	}
}

// runJobR wraps JobR with the coalescing TryLock and history recording.
func (s *Scheduler) runJobR(ctx context.Context) {
	if !s.jobRRun.TryLock() {
		slog.Warn("job R tick skipped: previous run still in flight")
		return
	}
	defer s.jobRRun.Unlock()

	started := s.now()
	tickCtx, cancel := context.WithTimeout(ctx, s.cfg.RealtimeInterval+30*time.Second)
	defer cancel()

	stocksUpdated, err := s.JobR(tickCtx, started)
	rec := kvcache.SchedulerRunRecord{
		RunID:         uuid.New().String(),
		RunAt:         started,
		DurationMs:    s.now().Sub(started).Milliseconds(),
		StocksUpdated: stocksUpdated,
		Success:       err == nil,
	}
	if err != nil {
		rec.Error = truncate(err.Error(), 500)
		slog.Error("job R failed", "error", err)
	}
	if herr := s.cache.AppendSchedulerHistory(ctx, rec); herr != nil {
		slog.Warn("job R history append failed", "error", herr)
	}
	if serr := s.cache.SetSchedulerState(ctx, kvcache.SchedulerState{
		Running:   false,
		LastRunAt: started,
		NextRunAt: started.Add(s.cfg.RealtimeInterval),
	}); serr != nil {
		slog.Warn("job R state update failed", "error", serr)
	}
}

// JobR implements Job R of spec.md §4.8: market-status refresh (always),
// realtime quote fan-out for active symbols (trading time only), FX cache
// refresh (always — once, reused for both the quote join and the off-hours
// case), active-symbol purge, and run-history recording (done by the caller).
// It never returns an error for a per-symbol fetch or cache-write failure —
// those are logged and skipped — only for a failure that prevented the tick
// from doing any useful work at all.
func (s *Scheduler) JobR(ctx context.Context, now time.Time) (stocksUpdated int, err error) {
	phase := s.cal.Phase(now)
	if err := s.cache.SetMarketStatus(ctx, kvcache.MarketStatus{Status: string(phase), UpdatedAt: now}); err != nil {
		return 0, fmt.Errorf("set market status: %w", err)
	}

	if !s.cal.IsTradingTime(now) {
		if _, err := s.fx.CurrentRate(ctx, false); err != nil {
			slog.Warn("off-hours fx refresh failed", "error", err)
		}
		if _, err := s.tracker.Purge(ctx); err != nil {
			slog.Warn("active symbol purge failed", "error", err)
		}
		return 0, nil
	}

	symbols, err := s.tracker.Active(ctx, 0)
	if err != nil {
		return 0, fmt.Errorf("list active symbols: %w", err)
	}
	if len(symbols) > s.cfg.MaxBatchSize {
		slog.Warn("active symbol set truncated for realtime refresh", "active", len(symbols), "cap", s.cfg.MaxBatchSize)
		symbols = symbols[:s.cfg.MaxBatchSize]
	}

	rate, err := s.fx.CurrentRate(ctx, false)
	if err != nil {
		slog.Warn("realtime refresh: current fx rate unavailable, quotes cached without usd", "error", err)
	}

	var mu sync.Mutex
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.FanOutLimit)
	for _, symbol := range symbols {
		g.Go(func() error {
			if s.refreshRealtime(gctx, symbol, rate) {
				mu.Lock()
				stocksUpdated++
				mu.Unlock()
			}
			return nil
		})
	}
	_ = g.Wait()

	if _, err := s.tracker.Purge(ctx); err != nil {
		slog.Warn("active symbol purge failed", "error", err)
	}

	return stocksUpdated, nil
}

// refreshRealtime fetches symbol's current quote and writes it through the
// cache. Failures are logged and reported as false, never propagated: one
// bad symbol must not abort the fan-out.
func (s *Scheduler) refreshRealtime(ctx context.Context, symbol string, rate domain.ExchangeRate) bool {
	quote, err := s.source.FetchRealtime(ctx, symbol)
	if err != nil {
		slog.Warn("realtime refresh: fetch failed", "symbol", symbol, "error", err)
		return false
	}

	price := kvcache.RealtimePrice{
		Symbol:    symbol,
		Open:      quote.Open,
		High:      quote.High,
		Low:       quote.Low,
		Close:     quote.Close,
		Volume:    quote.Volume,
		Change:    quote.Change,
		ChangePct: quote.ChangePct,
		PriceDate: quote.PriceDate,
		FX:        rate.Rate,
		Source:    quote.Source,
		UpdatedAt: s.now(),
	}
	if !rate.Rate.IsZero() {
		price.CloseUSD = quote.Close.Div(rate.Rate).RoundBank(4)
	}

	if err := s.cache.SetRealtime(ctx, symbol, price); err != nil {
		slog.Warn("realtime refresh: cache write failed", "symbol", symbol, "error", err)
		return false
	}
	return true
}

// runJobB wraps JobB with the coalescing TryLock and the whole-job retry
// policy: up to BatchMaxAttempts attempts, BatchRetryDelay apart. Per-symbol
// failures inside a single JobB attempt are not retried here — JobB itself
// already treats them as non-fatal and records them in the attempt's result.
func (s *Scheduler) runJobB(ctx context.Context) {
	if !s.jobBRun.TryLock() {
		slog.Warn("job B tick skipped: previous run still in flight")
		return
	}
	defer s.jobBRun.Unlock()

	var lastErr error
	for attempt := 1; attempt <= s.cfg.BatchMaxAttempts; attempt++ {
		if err := s.JobB(ctx, s.now()); err != nil {
			lastErr = err
			slog.Error("job B attempt failed", "attempt", attempt, "of", s.cfg.BatchMaxAttempts, "error", err)
			if attempt == s.cfg.BatchMaxAttempts {
				break
			}
			select {
			case <-ctx.Done():
				return
			case <-time.After(s.cfg.BatchRetryDelay):
			}
			continue
		}
		return
	}
	slog.Error("job B exhausted retry attempts", "attempts", s.cfg.BatchMaxAttempts, "error", lastErr)
}

// JobB implements Job B of spec.md §4.8: popular-symbol discovery
// (topByMarcap ∪ topByVolume), chunked EnsureSynced calls with an
// inter-batch delay, BatchState progress tracking, popular-cache and
// popular_stocks relational refresh, and run-history recording. A non-nil
// return is a whole-job failure (discovery or context cancellation); a
// per-symbol sync failure is recorded in the result and does not abort the
// job.
func (s *Scheduler) JobB(ctx context.Context, now time.Time) error {
	if !s.cal.IsTradingDay(now) {
		return nil
	}
	today := calendar.TodayKST(now)

	if err := s.cache.SetBatchState(ctx, kvcache.BatchState{State: kvcache.BatchRunning, StartedAt: now, TargetDate: today}); err != nil {
		return fmt.Errorf("set batch state running: %w", err)
	}

	marcapTop, err := s.source.TopByMarcap(ctx, s.cfg.PopularMarcapTop)
	if err != nil {
		return s.failBatch(ctx, now, fmt.Errorf("discover top by market cap: %w", err))
	}
	volumeTop, err := s.source.TopByVolume(ctx, s.cfg.PopularVolumeTop)
	if err != nil {
		return s.failBatch(ctx, now, fmt.Errorf("discover top by volume: %w", err))
	}
	targets := unionSymbols(marcapTop, volumeTop)

	synced, failed, err := s.syncTargets(ctx, targets, now, today)
	if err != nil {
		return s.failBatch(ctx, now, err)
	}

	if err := s.refreshPopularCaches(ctx, today, marcapTop, volumeTop); err != nil {
		slog.Warn("refresh popular caches failed", "error", err)
	}

	finished := s.now()
	if err := s.cache.SetBatchState(ctx, kvcache.BatchState{
		State: kvcache.BatchCompleted, StartedAt: now, TargetDate: today, Progress: len(targets), Total: len(targets),
	}); err != nil {
		slog.Warn("set batch state completed failed", "error", err)
	}
	if err := s.cache.AppendBatchHistory(ctx, kvcache.BatchHistoryRecord{
		RunID: uuid.New().String(), StartedAt: now, FinishedAt: finished, State: kvcache.BatchCompleted, Synced: synced, Failed: failed,
	}); err != nil {
		slog.Warn("append batch history failed", "error", err)
	}
	return nil
}

// syncTargets runs EnsureSynced over targets in fixed-size chunks, sleeping
// BatchInterBatchWait between chunks, reporting progress after each.
func (s *Scheduler) syncTargets(ctx context.Context, targets []string, startedAt, today time.Time) (synced, failed int, err error) {
	for i := 0; i < len(targets); i += s.cfg.BatchChunkSize {
		end := i + s.cfg.BatchChunkSize
		if end > len(targets) {
			end = len(targets)
		}
		for _, symbol := range targets[i:end] {
			result, serr := s.sync.EnsureSynced(ctx, symbol, true)
			switch {
			case serr != nil:
				failed++
				slog.Warn("batch sync failed", "symbol", symbol, "error", serr)
			case result.SyncError != "":
				failed++
				slog.Warn("batch sync failed", "symbol", symbol, "error", result.SyncError)
			default:
				synced++
			}
		}

		if err := s.cache.SetBatchState(ctx, kvcache.BatchState{
			State: kvcache.BatchRunning, StartedAt: startedAt, TargetDate: today, Progress: end, Total: len(targets),
		}); err != nil {
			slog.Warn("update batch progress failed", "error", err)
		}

		if end < len(targets) {
			select {
			case <-ctx.Done():
				return synced, failed, ctx.Err()
			case <-time.After(s.cfg.BatchInterBatchWait):
			}
		}
	}
	return synced, failed, nil
}

func (s *Scheduler) failBatch(ctx context.Context, startedAt time.Time, cause error) error {
	finished := s.now()
	errMsg := truncate(cause.Error(), 500)
	if err := s.cache.SetBatchState(ctx, kvcache.BatchState{State: kvcache.BatchFailed, StartedAt: startedAt, Error: errMsg}); err != nil {
		slog.Warn("set batch state failed", "error", err)
	}
	if err := s.cache.AppendBatchHistory(ctx, kvcache.BatchHistoryRecord{
		RunID: uuid.New().String(), StartedAt: startedAt, FinishedAt: finished, State: kvcache.BatchFailed, Error: errMsg,
	}); err != nil {
		slog.Warn("append batch history failed", "error", err)
	}
	return cause
}

// refreshPopularCaches writes the popular:market_cap and popular:volume KV
// snapshots (first PopularCacheTop of each ranking) and persists the volume
// ranking relationally — market_cap has no slot in the popular_stocks check
// constraint, so it is cache-only (see domain.RankingMarketCap).
func (s *Scheduler) refreshPopularCaches(ctx context.Context, today time.Time, marcapTop, volumeTop []string) error {
	marcapEntries := popularEntries(marcapTop, s.cfg.PopularCacheTop)
	if err := s.cache.SetPopular(ctx, domain.RankingMarketCap, marcapEntries); err != nil {
		return fmt.Errorf("cache market_cap ranking: %w", err)
	}

	volumeEntries := popularEntries(volumeTop, s.cfg.PopularCacheTop)
	if err := s.cache.SetPopular(ctx, domain.RankingVolume, volumeEntries); err != nil {
		return fmt.Errorf("cache volume ranking: %w", err)
	}

	if s.store == nil {
		return nil
	}

	rankings := make([]domain.PopularRanking, 0, len(volumeEntries))
	symbolToStockID := make(map[string]int64, len(volumeEntries))
	for _, e := range volumeEntries {
		stock, err := s.store.GetOrCreateStock(ctx, e.Symbol, "", "")
		if err != nil {
			slog.Warn("popular ranking: resolve stock failed", "symbol", e.Symbol, "error", err)
			continue
		}
		symbolToStockID[e.Symbol] = stock.ID
		rankings = append(rankings, domain.PopularRanking{RankingType: domain.RankingVolume, Symbol: e.Symbol, Rank: e.Rank, SnapshotAt: today})
	}
	if err := s.store.UpsertPopularRankings(ctx, domain.RankingVolume, today, rankings, symbolToStockID); err != nil {
		return fmt.Errorf("persist volume ranking: %w", err)
	}
	return nil
}

func popularEntries(symbols []string, cap int) []kvcache.PopularEntry {
	if cap > len(symbols) {
		cap = len(symbols)
	}
	entries := make([]kvcache.PopularEntry, 0, cap)
	for i, symbol := range symbols[:cap] {
		entries = append(entries, kvcache.PopularEntry{Symbol: symbol, Rank: i + 1})
	}
	return entries
}

// unionSymbols returns the deduplicated union of a and b, order preserved
// with a's members first.
func unionSymbols(a, b []string) []string {
	seen := make(map[string]struct{}, len(a)+len(b))
	out := make([]string, 0, len(a)+len(b))
	for _, list := range [][]string{a, b} {
		for _, s := range list {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	return out
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
