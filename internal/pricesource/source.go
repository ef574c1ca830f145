// Package pricesource implements PriceSource: an adapter interface to one or
// more external KRX market-data providers, composed as an ordered list tried
// in sequence with first-success-wins semantics.
package pricesource

import (
	"context"
	"time"

	"github.com/krxusd/marketdata/internal/domain"
	"github.com/shopspring/decimal"
)

// RealtimeQuote is a single current-price observation from a provider.
type RealtimeQuote struct {
	Symbol    string
	Open      decimal.Decimal
	High      decimal.Decimal
	Low       decimal.Decimal
	Close     decimal.Decimal
	Volume    int64
	Change    decimal.Decimal
	ChangePct decimal.Decimal
	PriceDate time.Time
	Source    string
}

// StockMaster is one entry from a provider's symbol master listing.
type StockMaster struct {
	Symbol Symbol
	Name   string
	Market domain.Market
}

// Symbol is a bare KRX code, e.g. "005930". Suffixing for providers that
// require it (".KS", ".KQ") is the adapter's own responsibility; the core
// never sees a suffixed symbol.
type Symbol = string

// Source is the capability every PriceSource adapter implements.
type Source interface {
	// Name identifies the adapter for logging and SourceExhausted reporting.
	Name() string
	FetchRealtime(ctx context.Context, symbol Symbol) (RealtimeQuote, error)
	FetchDaily(ctx context.Context, symbol Symbol, start, end time.Time) ([]domain.DailyBar, error)
	ListMaster(ctx context.Context, market domain.Market) ([]StockMaster, error)
	TopByMarcap(ctx context.Context, n int) ([]Symbol, error)
	TopByVolume(ctx context.Context, n int) ([]Symbol, error)
	// FetchFXRates returns USD/KRW observations in [start,end], ascending by date.
	FetchFXRates(ctx context.Context, start, end time.Time) ([]domain.ExchangeRate, error)
	// FetchFXRealtime returns the current USD/KRW rate.
	FetchFXRealtime(ctx context.Context) (domain.ExchangeRate, error)
}
