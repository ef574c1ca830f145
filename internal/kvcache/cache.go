// Package kvcache implements KVCache: typed wrappers over a keyed KV store
// (Redis) with TTLs. All keys live under the krxusd: prefix; every namespace
// file in this package owns its own sub-prefix and TTL constant.
//
// Error policy: transient store errors surface to the caller as
// krxerr.Transient; a get on a missing key returns absent (found=false),
// never an error.
package kvcache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/krxusd/marketdata/internal/krxerr"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "krxusd:"

// Cache wraps a *redis.Client with the krxusd key namespace and JSON
// encoding. Construct via New; the zero value is not usable.
type Cache struct {
	rdb *redis.Client
}

// New wraps an already-configured *redis.Client.
func New(rdb *redis.Client) *Cache {
	return &Cache{rdb: rdb}
}

// Connect dials a Redis server from a redis:// URL.
func Connect(ctx context.Context, url string) (*Cache, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("reach redis: %w", err)
	}
	return New(rdb), nil
}

// Close releases the underlying connection pool.
func (c *Cache) Close() error {
	return c.rdb.Close()
}

func fullKey(key string) string {
	return keyPrefix + key
}

// getJSON reads key and decodes it into dest. Returns found=false on a
// cache miss without an error; any other redis error is wrapped Transient.
func getJSON(ctx context.Context, c *Cache, key string, dest any) (bool, error) {
	raw, err := c.rdb.Get(ctx, fullKey(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, krxerr.Transient(fmt.Errorf("get %s: %w", key, err))
	}
	if err := json.Unmarshal(raw, dest); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

// setJSON encodes value and writes it with a TTL. TTL is always set at write
// time; the cache never relies on external expiry policies.
func setJSON(ctx context.Context, c *Cache, key string, value any, ttlSeconds int) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	if err := c.rdb.Set(ctx, fullKey(key), raw, secondsToDuration(ttlSeconds)).Err(); err != nil {
		return krxerr.Transient(fmt.Errorf("set %s: %w", key, err))
	}
	return nil
}

// Delete removes key unconditionally; a missing key is not an error.
func (c *Cache) Delete(ctx context.Context, key string) error {
	if err := c.rdb.Del(ctx, fullKey(key)).Err(); err != nil {
		return krxerr.Transient(fmt.Errorf("delete %s: %w", key, err))
	}
	return nil
}

// Exists reports whether key is present.
func (c *Cache) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, fullKey(key)).Result()
	if err != nil {
		return false, krxerr.Transient(fmt.Errorf("exists %s: %w", key, err))
	}
	return n > 0, nil
}

// ScanPrefix returns every key (namespace-relative, without krxusd:) whose
// name starts with prefix.
func (c *Cache) ScanPrefix(ctx context.Context, prefix string) ([]string, error) {
	var keys []string
	iter := c.rdb.Scan(ctx, 0, fullKey(prefix)+"*", 0).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, iter.Val()[len(keyPrefix):])
	}
	if err := iter.Err(); err != nil {
		return nil, krxerr.Transient(fmt.Errorf("scan prefix %s: %w", prefix, err))
	}
	return keys, nil
}
