package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// DailyBar is one OHLCV observation returned by a PriceSource, not yet
// materialized to a stock. It carries no USD conversion and no stock ID:
// those are added at write time by SyncEngine.
type DailyBar struct {
	Date         time.Time
	Open         decimal.Decimal
	High         decimal.Decimal
	Low          decimal.Decimal
	Close        decimal.Decimal
	Volume       int64
	TradingValue *decimal.Decimal
	MarketCap    *decimal.Decimal
}

// StockPriceDaily is a stored row, identity (Symbol, PriceDate).
// Invariants: Low <= Open,Close <= High; Volume >= 0; PriceDate <= today.
// ExchangeRate/ClosePriceUSD are denormalized, captured at write time; both
// are nil when no FX rate was available for the date (never fabricated).
type StockPriceDaily struct {
	Symbol          string
	PriceDate       time.Time
	Open            decimal.Decimal
	High            decimal.Decimal
	Low             decimal.Decimal
	Close           decimal.Decimal
	Volume          int64
	TradingValue    *decimal.Decimal
	MarketCap       *decimal.Decimal
	ExchangeRate    *decimal.Decimal
	ClosePriceUSD   *decimal.Decimal
	FetchedAt       time.Time
}

// ExchangeRate is one dated FX observation, identity (Pair, RateDate).
// Invariant: Rate > 0.
type ExchangeRate struct {
	Pair     string
	RateDate time.Time
	Rate     decimal.Decimal
	Source   string
}
