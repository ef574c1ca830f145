package scheduler_test

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/krxusd/marketdata/internal/calendar"
	"github.com/krxusd/marketdata/internal/domain"
	"github.com/krxusd/marketdata/internal/kvcache"
	"github.com/krxusd/marketdata/internal/pricesource"
	"github.com/krxusd/marketdata/internal/scheduler"
	"github.com/krxusd/marketdata/internal/syncengine"
	"github.com/shopspring/decimal"
)

type fakeCalendar struct {
	phase       calendar.Phase
	tradingTime bool
	tradingDay  bool
}

func (f fakeCalendar) Phase(t time.Time) calendar.Phase   { return f.phase }
func (f fakeCalendar) IsTradingDay(t time.Time) bool      { return f.tradingDay }
func (f fakeCalendar) IsTradingTime(t time.Time) bool     { return f.tradingTime }

type fakeTracker struct {
	active      []string
	purgeCalled int32
}

func (f *fakeTracker) Active(ctx context.Context, maxAge time.Duration) ([]string, error) {
	return f.active, nil
}

func (f *fakeTracker) Purge(ctx context.Context) (int64, error) {
	atomic.AddInt32(&f.purgeCalled, 1)
	return 0, nil
}

type fakeSource struct {
	fetchRealtimeCalls int32
	marcap             []string
	volume             []string
}

func (f *fakeSource) FetchRealtime(ctx context.Context, symbol string) (pricesource.RealtimeQuote, error) {
	atomic.AddInt32(&f.fetchRealtimeCalls, 1)
	return pricesource.RealtimeQuote{Symbol: symbol, Close: decimal.NewFromInt(70000), PriceDate: time.Now()}, nil
}

func (f *fakeSource) TopByMarcap(ctx context.Context, n int) ([]string, error) { return f.marcap, nil }
func (f *fakeSource) TopByVolume(ctx context.Context, n int) ([]string, error) { return f.volume, nil }

type fakeFx struct {
	currentRateCalls int32
	rate             decimal.Decimal
}

func (f *fakeFx) CurrentRate(ctx context.Context, force bool) (domain.ExchangeRate, error) {
	atomic.AddInt32(&f.currentRateCalls, 1)
	return domain.ExchangeRate{Pair: "USD/KRW", Rate: f.rate}, nil
}

type fakeSync struct{}

func (fakeSync) EnsureSynced(ctx context.Context, symbol string, autoSync bool) (syncengine.EnsureResult, error) {
	return syncengine.EnsureResult{Case: domain.CaseUpToDate}, nil
}

type fakeCache struct {
	mu              sync.Mutex
	marketStatus    []kvcache.MarketStatus
	realtimeWrites  []string
	schedulerRuns   []kvcache.SchedulerRunRecord
	batchStates     []kvcache.BatchState
	batchHistory    []kvcache.BatchHistoryRecord
	popular         map[domain.RankingType][]kvcache.PopularEntry
}

func newFakeCache() *fakeCache {
	return &fakeCache{popular: make(map[domain.RankingType][]kvcache.PopularEntry)}
}

func (c *fakeCache) SetMarketStatus(ctx context.Context, s kvcache.MarketStatus) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.marketStatus = append(c.marketStatus, s)
	return nil
}

func (c *fakeCache) SetRealtime(ctx context.Context, symbol string, p kvcache.RealtimePrice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.realtimeWrites = append(c.realtimeWrites, symbol)
	return nil
}

func (c *fakeCache) SetSchedulerState(ctx context.Context, s kvcache.SchedulerState) error { return nil }

func (c *fakeCache) AppendSchedulerHistory(ctx context.Context, rec kvcache.SchedulerRunRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schedulerRuns = append(c.schedulerRuns, rec)
	return nil
}

func (c *fakeCache) SetBatchState(ctx context.Context, s kvcache.BatchState) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchStates = append(c.batchStates, s)
	return nil
}

func (c *fakeCache) AppendBatchHistory(ctx context.Context, rec kvcache.BatchHistoryRecord) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.batchHistory = append(c.batchHistory, rec)
	return nil
}

func (c *fakeCache) SetPopular(ctx context.Context, ranking domain.RankingType, entries []kvcache.PopularEntry) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.popular[ranking] = entries
	return nil
}

// TestJobROffHours covers S4: a tick outside trading time refreshes market
// status and the fx cache, fetches zero symbol quotes, and still purges.
func TestJobROffHours(t *testing.T) {
	cal := fakeCalendar{phase: calendar.MarketClosed, tradingTime: false, tradingDay: true}
	tracker := &fakeTracker{active: []string{"005930", "000660"}}
	source := &fakeSource{}
	fx := &fakeFx{rate: decimal.NewFromInt(1450)}
	cache := newFakeCache()

	s := scheduler.NewAt(cal, tracker, source, fx, fakeSync{}, cache, nil, scheduler.Config{}, time.Now)

	updated, err := s.JobR(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("JobR: %v", err)
	}
	if updated != 0 {
		t.Errorf("expected 0 stocks updated off-hours, got %d", updated)
	}
	if atomic.LoadInt32(&source.fetchRealtimeCalls) != 0 {
		t.Errorf("expected 0 realtime fetches off-hours, got %d", source.fetchRealtimeCalls)
	}
	if atomic.LoadInt32(&fx.currentRateCalls) != 1 {
		t.Errorf("expected fx cache refreshed exactly once, got %d", fx.currentRateCalls)
	}
	if atomic.LoadInt32(&tracker.purgeCalled) != 1 {
		t.Errorf("expected purge called once, got %d", tracker.purgeCalled)
	}
	if len(cache.marketStatus) != 1 || cache.marketStatus[0].Status != string(calendar.MarketClosed) {
		t.Errorf("expected market status cached as MARKET_CLOSED, got %+v", cache.marketStatus)
	}
}

// TestJobRTradingTimeFetchesActiveSymbols covers the trading-time branch:
// every active symbol (within the cap) gets a realtime fetch and cache write.
func TestJobRTradingTimeFetchesActiveSymbols(t *testing.T) {
	cal := fakeCalendar{phase: calendar.MarketOpen, tradingTime: true, tradingDay: true}
	tracker := &fakeTracker{active: []string{"005930", "000660", "035720"}}
	source := &fakeSource{}
	fx := &fakeFx{rate: decimal.NewFromInt(1450)}
	cache := newFakeCache()

	s := scheduler.NewAt(cal, tracker, source, fx, fakeSync{}, cache, nil, scheduler.Config{}, time.Now)

	updated, err := s.JobR(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("JobR: %v", err)
	}
	if updated != 3 {
		t.Errorf("expected 3 stocks updated, got %d", updated)
	}
	if len(cache.realtimeWrites) != 3 {
		t.Errorf("expected 3 realtime cache writes, got %d", len(cache.realtimeWrites))
	}
}

// TestJobRTruncatesOverCap verifies the active-symbol set is capped at
// MaxBatchSize with the overflow simply dropped, not queued.
func TestJobRTruncatesOverCap(t *testing.T) {
	cal := fakeCalendar{phase: calendar.MarketOpen, tradingTime: true, tradingDay: true}
	tracker := &fakeTracker{active: []string{"a", "b", "c", "d", "e"}}
	source := &fakeSource{}
	fx := &fakeFx{rate: decimal.NewFromInt(1450)}
	cache := newFakeCache()

	s := scheduler.NewAt(cal, tracker, source, fx, fakeSync{}, cache, nil, scheduler.Config{MaxBatchSize: 2}, time.Now)

	updated, err := s.JobR(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("JobR: %v", err)
	}
	if updated != 2 {
		t.Errorf("expected cap of 2 stocks updated, got %d", updated)
	}
}

// TestJobBSkipsNonTradingDay verifies the batch job is a no-op on a holiday
// or weekend: no discovery calls, no state writes.
func TestJobBSkipsNonTradingDay(t *testing.T) {
	cal := fakeCalendar{tradingDay: false}
	source := &fakeSource{marcap: []string{"005930"}, volume: []string{"000660"}}
	cache := newFakeCache()

	s := scheduler.NewAt(cal, &fakeTracker{}, source, &fakeFx{}, fakeSync{}, cache, nil, scheduler.Config{}, time.Now)

	if err := s.JobB(context.Background(), time.Now()); err != nil {
		t.Fatalf("JobB: %v", err)
	}
	if len(cache.batchStates) != 0 {
		t.Errorf("expected no batch state writes on a non-trading day, got %d", len(cache.batchStates))
	}
}

// TestJobBDiscoversAndSyncs covers the main batch path: discovery, chunked
// sync, popular-cache refresh, and a completed history record.
func TestJobBDiscoversAndSyncs(t *testing.T) {
	cal := fakeCalendar{tradingDay: true}
	source := &fakeSource{marcap: []string{"005930", "000660"}, volume: []string{"000660", "035720"}}
	cache := newFakeCache()

	cfg := scheduler.Config{BatchChunkSize: 10, BatchInterBatchWait: time.Millisecond}
	s := scheduler.NewAt(cal, &fakeTracker{}, source, &fakeFx{rate: decimal.NewFromInt(1450)}, fakeSync{}, cache, nil, cfg, time.Now)

	if err := s.JobB(context.Background(), time.Now()); err != nil {
		t.Fatalf("JobB: %v", err)
	}

	if len(cache.batchHistory) != 1 || cache.batchHistory[0].State != kvcache.BatchCompleted {
		t.Fatalf("expected one completed batch history record, got %+v", cache.batchHistory)
	}
	if cache.batchHistory[0].Synced != 3 {
		t.Errorf("expected 3 unique symbols synced (union of marcap+volume), got %d", cache.batchHistory[0].Synced)
	}
	if len(cache.popular[domain.RankingMarketCap]) != 2 {
		t.Errorf("expected 2 market_cap ranking entries cached, got %d", len(cache.popular[domain.RankingMarketCap]))
	}
	if len(cache.popular[domain.RankingVolume]) != 2 {
		t.Errorf("expected 2 volume ranking entries cached, got %d", len(cache.popular[domain.RankingVolume]))
	}
}

// TestJobBDiscoveryFailureRecordsFailedHistory verifies a whole-job failure
// (discovery erroring) is recorded as a failed batch, not silently dropped.
type failingSource struct{ fakeSource }

func (failingSource) TopByMarcap(ctx context.Context, n int) ([]string, error) {
	return nil, errDiscovery
}

var errDiscovery = &discoveryErr{}

type discoveryErr struct{}

func (*discoveryErr) Error() string { return "discovery unavailable" }

func TestJobBDiscoveryFailureRecordsFailedHistory(t *testing.T) {
	cal := fakeCalendar{tradingDay: true}
	cache := newFakeCache()
	s := scheduler.NewAt(cal, &fakeTracker{}, &failingSource{}, &fakeFx{}, fakeSync{}, cache, nil, scheduler.Config{}, time.Now)

	err := s.JobB(context.Background(), time.Now())
	if err == nil {
		t.Fatal("expected JobB to return the discovery error")
	}
	if len(cache.batchHistory) != 1 || cache.batchHistory[0].State != kvcache.BatchFailed {
		t.Fatalf("expected one failed batch history record, got %+v", cache.batchHistory)
	}
}

// TestJobRConcurrentFanOutIsRaceFree exercises the errgroup fan-out under
// -race with a source that deliberately overlaps in-flight fetches.
func TestJobRConcurrentFanOutIsRaceFree(t *testing.T) {
	cal := fakeCalendar{phase: calendar.MarketOpen, tradingTime: true, tradingDay: true}
	tracker := &fakeTracker{active: []string{"005930", "000660", "035720", "051910", "006400"}}
	source := &fakeSource{}
	fx := &fakeFx{rate: decimal.NewFromInt(1450)}
	cache := newFakeCache()

	s := scheduler.NewAt(cal, tracker, source, fx, fakeSync{}, cache, nil, scheduler.Config{}, time.Now)

	updated, err := s.JobR(context.Background(), time.Now())
	if err != nil {
		t.Fatalf("JobR: %v", err)
	}
	if updated != 5 {
		t.Errorf("expected 5 stocks updated, got %d", updated)
	}
}
