package kvcache

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

const (
	fxRealtimeTTLSec  = 60
	fxMinuteTTLSec    = 86400
	fxRealtimeKey     = "exchange:realtime"
)

// FxRealtime is the cached record for exchange:realtime.
type FxRealtime struct {
	Rate      decimal.Decimal `json:"rate"`
	Pair      string          `json:"pair"`
	Source    string          `json:"source"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// GetFxRealtime returns the cached current FX rate, if present.
func (c *Cache) GetFxRealtime(ctx context.Context) (FxRealtime, bool, error) {
	var fx FxRealtime
	found, err := getJSON(ctx, c, fxRealtimeKey, &fx)
	return fx, found, err
}

// SetFxRealtime writes the current FX rate with the 60s TTL.
func (c *Cache) SetFxRealtime(ctx context.Context, fx FxRealtime) error {
	return setJSON(ctx, c, fxRealtimeKey, fx, fxRealtimeTTLSec)
}

// FxMinuteSample is one per-minute FX observation appended to the daily
// sorted set exchange:minute:{YYYY-MM-DD}.
type FxMinuteSample struct {
	Rate      decimal.Decimal `json:"rate"`
	Source    string          `json:"source"`
	Timestamp int64           `json:"timestamp"`
}

func fxMinuteKey(date string) string {
	return fmt.Sprintf("exchange:minute:%s", date)
}

// AppendFxMinuteSample records one FX sample in the day's minute series,
// scored by its unix-second timestamp.
func (c *Cache) AppendFxMinuteSample(ctx context.Context, date string, sample FxMinuteSample) error {
	encoded, err := encodeMember(sample)
	if err != nil {
		return err
	}
	return zAdd(ctx, c, fxMinuteKey(date), float64(sample.Timestamp), encoded, fxMinuteTTLSec)
}
