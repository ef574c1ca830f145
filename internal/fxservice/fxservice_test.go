package fxservice

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/krxusd/marketdata/internal/domain"
	"github.com/krxusd/marketdata/internal/krxerr"
	"github.com/krxusd/marketdata/internal/kvcache"
	"github.com/shopspring/decimal"
)

type fakeSource struct {
	realtimeCalls int
	rangeCalls    int
	realtime      domain.ExchangeRate
	ranged        []domain.ExchangeRate
	err           error
}

func (f *fakeSource) FetchFXRealtime(ctx context.Context) (domain.ExchangeRate, error) {
	f.realtimeCalls++
	if f.err != nil {
		return domain.ExchangeRate{}, f.err
	}
	return f.realtime, nil
}

func (f *fakeSource) FetchFXRates(ctx context.Context, start, end time.Time) ([]domain.ExchangeRate, error) {
	f.rangeCalls++
	if f.err != nil {
		return nil, f.err
	}
	return f.ranged, nil
}

type fakeStore struct {
	rows    []domain.ExchangeRate
	upserts []domain.ExchangeRate
}

func (f *fakeStore) ExchangeRatesInRange(ctx context.Context, start, end time.Time) ([]domain.ExchangeRate, error) {
	var out []domain.ExchangeRate
	for _, r := range f.rows {
		if !r.RateDate.Before(start) && !r.RateDate.After(end) {
			out = append(out, r)
		}
	}
	return out, nil
}

func (f *fakeStore) UpsertExchangeRates(ctx context.Context, rates []domain.ExchangeRate) error {
	f.upserts = append(f.upserts, rates...)
	f.rows = append(f.rows, rates...)
	return nil
}

type fakeCache struct {
	fx       kvcache.FxRealtime
	found    bool
	setCalls int
	samples  int
}

func (f *fakeCache) GetFxRealtime(ctx context.Context) (kvcache.FxRealtime, bool, error) {
	return f.fx, f.found, nil
}

func (f *fakeCache) SetFxRealtime(ctx context.Context, fx kvcache.FxRealtime) error {
	f.fx = fx
	f.found = true
	f.setCalls++
	return nil
}

func (f *fakeCache) AppendFxMinuteSample(ctx context.Context, date string, sample kvcache.FxMinuteSample) error {
	f.samples++
	return nil
}

func mustDecimal(t *testing.T, s string) decimal.Decimal {
	t.Helper()
	d, err := decimal.NewFromString(s)
	if err != nil {
		t.Fatalf("decimal.NewFromString(%q): %v", s, err)
	}
	return d
}

func date(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestCurrentRateCacheHit(t *testing.T) {
	cache := &fakeCache{found: true, fx: kvcache.FxRealtime{Rate: mustDecimal(t, "1380.5"), Pair: pair, Source: "frankfurter", UpdatedAt: date(2025, 6, 2)}}
	source := &fakeSource{}
	svc := New(cache, source, &fakeStore{})

	rate, err := svc.CurrentRate(context.Background(), false)
	if err != nil {
		t.Fatalf("CurrentRate: %v", err)
	}
	if source.realtimeCalls != 0 {
		t.Error("should not call source on cache hit")
	}
	if !rate.Rate.Equal(mustDecimal(t, "1380.5")) {
		t.Errorf("Rate = %s, want 1380.5", rate.Rate)
	}
}

func TestCurrentRateCacheMissFetchesAndCaches(t *testing.T) {
	cache := &fakeCache{}
	source := &fakeSource{realtime: domain.ExchangeRate{Pair: pair, Rate: mustDecimal(t, "1400"), Source: "frankfurter"}}
	svc := New(cache, source, &fakeStore{})

	rate, err := svc.CurrentRate(context.Background(), false)
	if err != nil {
		t.Fatalf("CurrentRate: %v", err)
	}
	if source.realtimeCalls != 1 {
		t.Errorf("realtimeCalls = %d, want 1", source.realtimeCalls)
	}
	if cache.setCalls != 1 {
		t.Errorf("setCalls = %d, want 1", cache.setCalls)
	}
	if cache.samples != 1 {
		t.Errorf("samples = %d, want 1", cache.samples)
	}
	if !rate.Rate.Equal(mustDecimal(t, "1400")) {
		t.Errorf("Rate = %s, want 1400", rate.Rate)
	}
}

func TestCurrentRateForceBypassesCache(t *testing.T) {
	cache := &fakeCache{found: true, fx: kvcache.FxRealtime{Rate: mustDecimal(t, "1380.5")}}
	source := &fakeSource{realtime: domain.ExchangeRate{Pair: pair, Rate: mustDecimal(t, "1400"), Source: "frankfurter"}}
	svc := New(cache, source, &fakeStore{})

	if _, err := svc.CurrentRate(context.Background(), true); err != nil {
		t.Fatalf("CurrentRate: %v", err)
	}
	if source.realtimeCalls != 1 {
		t.Errorf("force=true should call source even on cache hit, realtimeCalls = %d", source.realtimeCalls)
	}
}

func TestHistoricalRatesDenseNoFetch(t *testing.T) {
	store := &fakeStore{rows: []domain.ExchangeRate{
		{Pair: pair, RateDate: date(2025, 3, 17), Rate: mustDecimal(t, "1350")},
	}}
	source := &fakeSource{}
	svc := New(&fakeCache{}, source, store)

	result, err := svc.HistoricalRates(context.Background(), date(2025, 3, 17), date(2025, 3, 17))
	if err != nil {
		t.Fatalf("HistoricalRates: %v", err)
	}
	if source.rangeCalls != 0 {
		t.Error("should not fetch when store already dense")
	}
	if len(result) != 1 {
		t.Fatalf("len(result) = %d, want 1", len(result))
	}
}

func TestHistoricalRatesCarryForward(t *testing.T) {
	// S6: bars exist for 2025-03-17 (Mon); FX missing 2025-03-16/17, present 2025-03-14.
	store := &fakeStore{rows: []domain.ExchangeRate{
		{Pair: pair, RateDate: date(2025, 3, 14), Rate: mustDecimal(t, "1340")},
	}}
	source := &fakeSource{ranged: nil}
	svc := New(&fakeCache{}, source, store)

	result, err := svc.HistoricalRates(context.Background(), date(2025, 3, 17), date(2025, 3, 17))
	if err != nil {
		t.Fatalf("HistoricalRates: %v", err)
	}
	got, ok := result["2025-03-17"]
	if !ok {
		t.Fatal("expected carry-forward rate for 2025-03-17")
	}
	if !got.Rate.Equal(mustDecimal(t, "1340")) {
		t.Errorf("carried-forward Rate = %s, want 1340 (from 2025-03-14)", got.Rate)
	}
}

func TestHistoricalRatesBeyondCarryForwardWindowAbsent(t *testing.T) {
	store := &fakeStore{rows: []domain.ExchangeRate{
		{Pair: pair, RateDate: date(2025, 3, 10), Rate: mustDecimal(t, "1340")},
	}}
	svc := New(&fakeCache{}, &fakeSource{}, store)

	result, err := svc.HistoricalRates(context.Background(), date(2025, 3, 17), date(2025, 3, 17))
	if err != nil {
		t.Fatalf("HistoricalRates: %v", err)
	}
	if _, ok := result["2025-03-17"]; ok {
		t.Error("rate more than 4 days stale should be absent, not carried forward")
	}
}

func TestHistoricalRatesFetchesGapAndUpserts(t *testing.T) {
	store := &fakeStore{}
	source := &fakeSource{ranged: []domain.ExchangeRate{
		{Pair: pair, RateDate: date(2025, 3, 17), Rate: mustDecimal(t, "1360"), Source: "frankfurter"},
	}}
	svc := New(&fakeCache{}, source, store)

	result, err := svc.HistoricalRates(context.Background(), date(2025, 3, 17), date(2025, 3, 17))
	if err != nil {
		t.Fatalf("HistoricalRates: %v", err)
	}
	if source.rangeCalls != 1 {
		t.Errorf("rangeCalls = %d, want 1", source.rangeCalls)
	}
	if len(store.upserts) != 1 {
		t.Errorf("upserts = %d, want 1", len(store.upserts))
	}
	if _, ok := result["2025-03-17"]; !ok {
		t.Error("expected fetched rate in result")
	}
}

func TestChangeNoPriorRateReturnsFxUnavailable(t *testing.T) {
	svc := New(&fakeCache{}, &fakeSource{}, &fakeStore{})
	svc.now = func() time.Time { return date(2025, 3, 17) }

	_, _, ok, err := svc.Change(context.Background(), domain.ExchangeRate{Rate: mustDecimal(t, "1360")})
	if ok {
		t.Fatal("expected ok=false with no prior rate")
	}
	if !errors.Is(err, krxerr.ErrFxUnavailable) {
		t.Errorf("error should wrap ErrFxUnavailable, got: %v", err)
	}
}

func TestChangeComputesDelta(t *testing.T) {
	store := &fakeStore{rows: []domain.ExchangeRate{
		{Pair: pair, RateDate: date(2025, 3, 16), Rate: mustDecimal(t, "1350")},
	}}
	svc := New(&fakeCache{}, &fakeSource{}, store)
	svc.now = func() time.Time { return date(2025, 3, 17) }

	current := domain.ExchangeRate{Rate: mustDecimal(t, "1363.5")}
	changeAmount, changePct, ok, err := svc.Change(context.Background(), current)
	if err != nil {
		t.Fatalf("Change: %v", err)
	}
	if !ok {
		t.Fatal("expected ok=true")
	}
	if changeAmount != 13.5 {
		t.Errorf("changeAmount = %v, want 13.5", changeAmount)
	}
	if changePct <= 0 {
		t.Errorf("changePct = %v, want positive", changePct)
	}
}
