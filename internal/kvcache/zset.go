package kvcache

import (
	"context"
	"fmt"
	"time"

	"github.com/krxusd/marketdata/internal/krxerr"
	"github.com/redis/go-redis/v9"
)

func secondsToDuration(ttlSeconds int) time.Duration {
	if ttlSeconds <= 0 {
		return 0
	}
	return time.Duration(ttlSeconds) * time.Second
}

// zAdd upserts member's score in the sorted set at key, then (re)sets the
// key's TTL so the whole set expires if untouched — used by the bounded
// per-day minute-series sets.
func zAdd(ctx context.Context, c *Cache, key string, score float64, member string, ttlSeconds int) error {
	if err := c.rdb.ZAdd(ctx, fullKey(key), redis.Z{Score: score, Member: member}).Err(); err != nil {
		return krxerr.Transient(fmt.Errorf("zadd %s: %w", key, err))
	}
	if ttlSeconds > 0 {
		if err := c.rdb.Expire(ctx, fullKey(key), secondsToDuration(ttlSeconds)).Err(); err != nil {
			return krxerr.Transient(fmt.Errorf("expire %s: %w", key, err))
		}
	}
	return nil
}

// zRangeByScore returns members with score in [min, max] inclusive.
func zRangeByScore(ctx context.Context, c *Cache, key string, min, max float64) ([]string, error) {
	members, err := c.rdb.ZRangeByScore(ctx, fullKey(key), &redis.ZRangeBy{
		Min: fmt.Sprintf("%f", min),
		Max: fmt.Sprintf("%f", max),
	}).Result()
	if err != nil {
		return nil, krxerr.Transient(fmt.Errorf("zrangebyscore %s: %w", key, err))
	}
	return members, nil
}

// zRemRangeByScore removes members with score in [min, max] inclusive.
func zRemRangeByScore(ctx context.Context, c *Cache, key string, min, max float64) (int64, error) {
	n, err := c.rdb.ZRemRangeByScore(ctx, fullKey(key), fmt.Sprintf("%f", min), fmt.Sprintf("%f", max)).Result()
	if err != nil {
		return 0, krxerr.Transient(fmt.Errorf("zremrangebyscore %s: %w", key, err))
	}
	return n, nil
}

// zScore returns the member's score, or found=false if absent.
func zScore(ctx context.Context, c *Cache, key, member string) (float64, bool, error) {
	score, err := c.rdb.ZScore(ctx, fullKey(key), member).Result()
	if err == redis.Nil {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, krxerr.Transient(fmt.Errorf("zscore %s: %w", key, err))
	}
	return score, true, nil
}
