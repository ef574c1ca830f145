package kvcache

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"
)

const stockMinuteTTLSec = 86400

// StockMinuteSample is one per-minute quote sample appended to
// stock:minute:{SYMBOL}:{YYYY-MM-DD}.
type StockMinuteSample struct {
	Close     decimal.Decimal `json:"close"`
	Volume    int64           `json:"volume"`
	Timestamp int64           `json:"timestamp"`
}

func stockMinuteKey(symbol, date string) string {
	return fmt.Sprintf("stock:minute:%s:%s", symbol, date)
}

// AppendStockMinuteSample records one quote sample in a symbol's day series.
func (c *Cache) AppendStockMinuteSample(ctx context.Context, symbol, date string, sample StockMinuteSample) error {
	encoded, err := encodeMember(sample)
	if err != nil {
		return err
	}
	return zAdd(ctx, c, stockMinuteKey(symbol, date), float64(sample.Timestamp), encoded, stockMinuteTTLSec)
}
