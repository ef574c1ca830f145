// Package fxservice implements FxService: a cache-through view of the
// current USD/KRW rate plus a carry-forward historical lookup backed by
// StockStore. Adapted from the teacher's internal/fx package (Frankfurter
// REST client + gap-aware collection loop in collect.go), generalized from
// "fetch once per run" into "cache-through with TTL, store-backed history".
package fxservice

import (
	"context"
	"fmt"
	"time"

	"github.com/krxusd/marketdata/internal/domain"
	"github.com/krxusd/marketdata/internal/krxerr"
	"github.com/krxusd/marketdata/internal/kvcache"
)

const (
	pair           = "USD/KRW"
	carryForwardMaxDays = 4
)

// RateSource is the subset of pricesource.Source this service consumes.
// Declared locally so fxservice does not import the pricesource package's
// stock-quote surface it never calls.
type RateSource interface {
	FetchFXRates(ctx context.Context, start, end time.Time) ([]domain.ExchangeRate, error)
	FetchFXRealtime(ctx context.Context) (domain.ExchangeRate, error)
}

// RateStore is the subset of StockStore this service consumes.
type RateStore interface {
	ExchangeRatesInRange(ctx context.Context, start, end time.Time) ([]domain.ExchangeRate, error)
	UpsertExchangeRates(ctx context.Context, rates []domain.ExchangeRate) error
}

// Cache is the subset of KVCache this service consumes.
type Cache interface {
	GetFxRealtime(ctx context.Context) (kvcache.FxRealtime, bool, error)
	SetFxRealtime(ctx context.Context, fx kvcache.FxRealtime) error
	AppendFxMinuteSample(ctx context.Context, date string, sample kvcache.FxMinuteSample) error
}

// Service implements FxService.
type Service struct {
	cache  Cache
	source RateSource
	store  RateStore
	now    func() time.Time
}

// New constructs a Service. now defaults to time.Now; override in tests.
func New(cache Cache, source RateSource, store RateStore) *Service {
	return &Service{cache: cache, source: source, store: store, now: time.Now}
}

// CurrentRate returns the live USD/KRW rate, cache-through the FxRealtime
// key (TTL 60s). On miss or force, calls the PriceSource FX adapter, writes
// the cache, and appends a per-minute sample to the day's sorted set.
func (s *Service) CurrentRate(ctx context.Context, force bool) (domain.ExchangeRate, error) {
	if !force {
		cached, found, err := s.cache.GetFxRealtime(ctx)
		if err != nil {
			return domain.ExchangeRate{}, err
		}
		if found {
			return domain.ExchangeRate{Pair: cached.Pair, RateDate: cached.UpdatedAt, Rate: cached.Rate, Source: cached.Source}, nil
		}
	}

	rate, err := s.source.FetchFXRealtime(ctx)
	if err != nil {
		return domain.ExchangeRate{}, fmt.Errorf("fetch realtime fx: %w", err)
	}

	now := s.now()
	cached := kvcache.FxRealtime{Rate: rate.Rate, Pair: pair, Source: rate.Source, UpdatedAt: now}
	if err := s.cache.SetFxRealtime(ctx, cached); err != nil {
		return domain.ExchangeRate{}, err
	}

	sample := kvcache.FxMinuteSample{Rate: rate.Rate, Source: rate.Source, Timestamp: now.Unix()}
	if err := s.cache.AppendFxMinuteSample(ctx, now.Format("2006-01-02"), sample); err != nil {
		return domain.ExchangeRate{}, err
	}

	return domain.ExchangeRate{Pair: pair, RateDate: now, Rate: rate.Rate, Source: rate.Source}, nil
}

// HistoricalRates returns a map keyed by YYYY-MM-DD date for [start,end].
// Reads StockStore first; if the range is not dense (a day in [start,end]
// has no row), fetches all of [start,end] from PriceSource and upserts it.
// Every requested date without an exact rate is resolved via carry-forward:
// the most recent earlier rate within 4 days. Dates with no rate within the
// window are simply absent from the returned map.
func (s *Service) HistoricalRates(ctx context.Context, start, end time.Time) (map[string]domain.ExchangeRate, error) {
	stored, err := s.store.ExchangeRatesInRange(ctx, start.AddDate(0, 0, -carryForwardMaxDays), end)
	if err != nil {
		return nil, fmt.Errorf("read stored fx rates: %w", err)
	}

	byDate := make(map[string]domain.ExchangeRate, len(stored))
	for _, r := range stored {
		byDate[r.RateDate.Format("2006-01-02")] = r
	}

	if !isDense(byDate, start, end) {
		fetched, err := s.source.FetchFXRates(ctx, start, end)
		if err != nil {
			return nil, fmt.Errorf("fetch fx rates %s..%s: %w", start.Format("2006-01-02"), end.Format("2006-01-02"), err)
		}
		if len(fetched) > 0 {
			if err := s.store.UpsertExchangeRates(ctx, fetched); err != nil {
				return nil, fmt.Errorf("upsert fx rates: %w", err)
			}
			for _, r := range fetched {
				byDate[r.RateDate.Format("2006-01-02")] = r
			}
		}
	}

	result := make(map[string]domain.ExchangeRate)
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		rate, ok := carryForward(byDate, d)
		if ok {
			result[d.Format("2006-01-02")] = rate
		}
	}
	return result, nil
}

// carryForward returns the rate for d, or the most recent earlier rate
// within carryForwardMaxDays, or (zero, false) if none exists.
func carryForward(byDate map[string]domain.ExchangeRate, d time.Time) (domain.ExchangeRate, bool) {
	for i := 0; i <= carryForwardMaxDays; i++ {
		candidate := d.AddDate(0, 0, -i)
		if r, ok := byDate[candidate.Format("2006-01-02")]; ok {
			return r, true
		}
	}
	return domain.ExchangeRate{}, false
}

func isDense(byDate map[string]domain.ExchangeRate, start, end time.Time) bool {
	for d := start; !d.After(end); d = d.AddDate(0, 0, 1) {
		if _, ok := byDate[d.Format("2006-01-02")]; !ok {
			return false
		}
	}
	return true
}

// Change compares current against the most recent dated rate strictly
// earlier than now, returning (absolute change, percent change, ok). ok is
// false if no prior rate exists within the carry-forward window.
func (s *Service) Change(ctx context.Context, current domain.ExchangeRate) (changeAmount, changePct float64, ok bool, err error) {
	now := s.now()
	priorDay := now.AddDate(0, 0, -1)
	rates, err := s.HistoricalRates(ctx, priorDay.AddDate(0, 0, -carryForwardMaxDays), priorDay)
	if err != nil {
		return 0, 0, false, err
	}
	prior, found := carryForward(rates, priorDay)
	if !found {
		return 0, 0, false, fmt.Errorf("%w: no prior %s rate within %d days", krxerr.ErrFxUnavailable, pair, carryForwardMaxDays)
	}

	priorFloat, _ := prior.Rate.Float64()
	currentFloat, _ := current.Rate.Float64()
	changeAmount = currentFloat - priorFloat
	if priorFloat != 0 {
		changePct = changeAmount / priorFloat * 100
	}
	return changeAmount, changePct, true, nil
}
