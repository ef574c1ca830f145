// Package activetracker implements ActiveSymbolTracker: a time-stamped
// membership set of currently-viewed symbols with TTL eviction. Built fresh
// in KVCache's own idiom (a typed helper over its sorted-set capability) —
// the teacher is a batch collector, not a live-tracking server, so no
// teacher file does a version of this.
package activetracker

import (
	"context"
	"fmt"
	"time"
)

// DefaultTTL is the spec-default activeTTL: entries older than this are
// ineligible for the realtime refresh loop.
const DefaultTTL = 180 * time.Second

// Cache is the subset of KVCache this component consumes.
type Cache interface {
	TouchActiveSymbol(ctx context.Context, symbol string, nowUnix int64) error
	ActiveSymbolsSince(ctx context.Context, sinceUnix int64) ([]string, error)
	PurgeActiveSymbolsOlderThan(ctx context.Context, beforeUnix int64) (int64, error)
	ActiveSymbolScore(ctx context.Context, symbol string) (int64, bool, error)
}

// Tracker implements ActiveSymbolTracker over a Cache.
type Tracker struct {
	cache Cache
	ttl   time.Duration
	now   func() time.Time
}

// New constructs a Tracker with the given activeTTL, clocked by time.Now.
func New(cache Cache, ttl time.Duration) *Tracker {
	return NewAt(cache, ttl, time.Now)
}

// NewAt constructs a Tracker with an injectable clock, for tests.
func NewAt(cache Cache, ttl time.Duration, now func() time.Time) *Tracker {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Tracker{cache: cache, ttl: ttl, now: now}
}

// Touch upserts symbol's last-touched score to now. Any read path that
// returns a symbol's data to an end user SHOULD call this — it is how the
// scheduler learns what is "hot".
func (t *Tracker) Touch(ctx context.Context, symbol string) error {
	if err := t.cache.TouchActiveSymbol(ctx, symbol, t.now().Unix()); err != nil {
		return fmt.Errorf("touch active symbol %s: %w", symbol, err)
	}
	return nil
}

// Active returns symbols with score >= now-maxAge. maxAge <= 0 uses the
// tracker's configured TTL.
func (t *Tracker) Active(ctx context.Context, maxAge time.Duration) ([]string, error) {
	if maxAge <= 0 {
		maxAge = t.ttl
	}
	since := t.now().Add(-maxAge).Unix()
	symbols, err := t.cache.ActiveSymbolsSince(ctx, since)
	if err != nil {
		return nil, fmt.Errorf("list active symbols: %w", err)
	}
	return symbols, nil
}

// Purge removes members with score < now-TTL, returning the number removed.
// Idempotent: calling it with nothing to remove is a no-op.
func (t *Tracker) Purge(ctx context.Context) (int64, error) {
	before := t.now().Add(-t.ttl).Unix()
	n, err := t.cache.PurgeActiveSymbolsOlderThan(ctx, before)
	if err != nil {
		return 0, fmt.Errorf("purge active symbols: %w", err)
	}
	return n, nil
}

// IsActive reports whether symbol was touched within the tracker's TTL.
func (t *Tracker) IsActive(ctx context.Context, symbol string) (bool, error) {
	score, found, err := t.cache.ActiveSymbolScore(ctx, symbol)
	if err != nil {
		return false, fmt.Errorf("active symbol score for %s: %w", symbol, err)
	}
	if !found {
		return false, nil
	}
	cutoff := t.now().Add(-t.ttl).Unix()
	return score >= cutoff, nil
}
