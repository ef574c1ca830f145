package kvcache

import (
	"context"
	"fmt"

	"github.com/krxusd/marketdata/internal/krxerr"
)

// pushCapped LPUSHes entry onto key (JSON-encoded), then LTRIMs to cap
// newest-first entries. ttlSeconds of 0 means no expiry.
func pushCapped(ctx context.Context, c *Cache, key string, entry any, cap int, ttlSeconds int) error {
	encoded, err := encodeMember(entry)
	if err != nil {
		return err
	}

	pipe := c.rdb.TxPipeline()
	pipe.LPush(ctx, fullKey(key), encoded)
	pipe.LTrim(ctx, fullKey(key), 0, int64(cap-1))
	if ttlSeconds > 0 {
		pipe.Expire(ctx, fullKey(key), secondsToDuration(ttlSeconds))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return krxerr.Transient(fmt.Errorf("push capped %s: %w", key, err))
	}
	return nil
}

// listAll returns every raw JSON member of key, newest first.
func listAll(ctx context.Context, c *Cache, key string) ([]string, error) {
	members, err := c.rdb.LRange(ctx, fullKey(key), 0, -1).Result()
	if err != nil {
		return nil, krxerr.Transient(fmt.Errorf("lrange %s: %w", key, err))
	}
	return members, nil
}
