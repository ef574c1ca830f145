package kvcache

import (
	"context"
	"time"
)

const marketStatusTTLSec = 60
const marketStatusKey = "market:status"

// MarketStatus is the cached record for market:status.
type MarketStatus struct {
	Status    string    `json:"status"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// GetMarketStatus returns the cached market status, if present.
func (c *Cache) GetMarketStatus(ctx context.Context) (MarketStatus, bool, error) {
	var s MarketStatus
	found, err := getJSON(ctx, c, marketStatusKey, &s)
	return s, found, err
}

// SetMarketStatus writes the current market status with the 60s TTL.
func (c *Cache) SetMarketStatus(ctx context.Context, s MarketStatus) error {
	return setJSON(ctx, c, marketStatusKey, s, marketStatusTTLSec)
}
