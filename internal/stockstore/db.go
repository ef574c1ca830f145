// Package stockstore implements StockStore: the relational persistence
// layer for stocks, daily prices, exchange rates, sync status, and popular
// rankings. Adapted from the teacher's internal/store package: same pool
// connection, same embedded-SQL migration runner, same temp-table +
// CopyFrom + ON CONFLICT upsert shape, generalized to five tables and
// decimal.Decimal money columns instead of float64.
package stockstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ConnectDB opens a pgx connection pool and verifies connectivity.
func ConnectDB(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("reach database: %w", err)
	}

	return pool, nil
}
