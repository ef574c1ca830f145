package kvcache

import "context"

const activeSymbolsKey = "active:symbols"

// TouchActiveSymbol upserts symbol's last-touched score in the active:symbols
// sorted set. The ActiveSymbolTracker component owns the TTL policy; this
// method is the raw primitive it builds on.
func (c *Cache) TouchActiveSymbol(ctx context.Context, symbol string, nowUnix int64) error {
	return zAdd(ctx, c, activeSymbolsKey, float64(nowUnix), symbol, 0)
}

// ActiveSymbolsSince returns every symbol whose score is >= sinceUnix.
func (c *Cache) ActiveSymbolsSince(ctx context.Context, sinceUnix int64) ([]string, error) {
	return zRangeByScore(ctx, c, activeSymbolsKey, float64(sinceUnix), maxScore)
}

// PurgeActiveSymbolsOlderThan removes members with score < beforeUnix,
// returning the number removed.
func (c *Cache) PurgeActiveSymbolsOlderThan(ctx context.Context, beforeUnix int64) (int64, error) {
	return zRemRangeByScore(ctx, c, activeSymbolsKey, minScore, float64(beforeUnix-1))
}

// ActiveSymbolScore returns symbol's last-touched unix-second score.
func (c *Cache) ActiveSymbolScore(ctx context.Context, symbol string) (int64, bool, error) {
	score, found, err := zScore(ctx, c, activeSymbolsKey, symbol)
	return int64(score), found, err
}

const (
	minScore = 0
	maxScore = 1 << 62
)
