package kvcache

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const realtimeTTLSec = 120

// RealtimePrice is the cached record for stock:realtime:{SYMBOL}.
type RealtimePrice struct {
	Symbol    string          `json:"symbol"`
	Open      decimal.Decimal `json:"o"`
	High      decimal.Decimal `json:"h"`
	Low       decimal.Decimal `json:"l"`
	Close     decimal.Decimal `json:"c"`
	Volume    int64           `json:"volume"`
	Change    decimal.Decimal `json:"change"`
	ChangePct decimal.Decimal `json:"changePct"`
	PriceDate time.Time       `json:"priceDate"`
	FX        decimal.Decimal `json:"fx"`
	CloseUSD  decimal.Decimal `json:"closeUsd"`
	Source    string          `json:"source"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

func realtimeKey(symbol string) string {
	return fmt.Sprintf("stock:realtime:%s", symbol)
}

// GetRealtime returns the cached realtime quote for symbol, if present.
func (c *Cache) GetRealtime(ctx context.Context, symbol string) (RealtimePrice, bool, error) {
	var p RealtimePrice
	found, err := getJSON(ctx, c, realtimeKey(symbol), &p)
	return p, found, err
}

// SetRealtime writes symbol's realtime quote with the 120s TTL.
func (c *Cache) SetRealtime(ctx context.Context, symbol string, p RealtimePrice) error {
	return setJSON(ctx, c, realtimeKey(symbol), p, realtimeTTLSec)
}
