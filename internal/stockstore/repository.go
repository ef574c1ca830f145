package stockstore

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/krxusd/marketdata/internal/domain"
	"github.com/krxusd/marketdata/internal/krxerr"
	"github.com/shopspring/decimal"
)

// Repository implements StockStore over a pgx pool.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository wraps an already-connected, already-migrated pool.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// GetOrCreateStock returns the Stock row for symbol, creating it with
// is_active=true on first reference. Symbol is normalized uppercase and
// must be exactly 6 digits, the original source's KRX-code format check.
func (r *Repository) GetOrCreateStock(ctx context.Context, symbol, name string, market domain.Market) (domain.Stock, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !isValidKRXCode(symbol) {
		return domain.Stock{}, krxerr.Invariant("krx symbol format", fmt.Sprintf("%q is not a 6-digit code", symbol))
	}

	var s domain.Stock
	err := r.pool.QueryRow(ctx, `
		SELECT id, symbol, name, name_en, market, sector, industry, listed_shares, listing_date, is_active
		FROM stocks WHERE symbol = $1
	`, symbol).Scan(&s.ID, &s.Symbol, &s.Name, &s.NameEn, &s.Market, &s.Sector, &s.Industry, &s.ListedShares, &s.ListingDate, &s.IsActive)
	if err == nil {
		return s, nil
	}
	if err != pgx.ErrNoRows {
		return domain.Stock{}, fmt.Errorf("lookup stock %s: %w", symbol, err)
	}

	if name == "" {
		name = symbol
	}
	if !domain.ValidMarket(market) {
		market = domain.MarketKOSPI
	}

	err = r.pool.QueryRow(ctx, `
		INSERT INTO stocks (symbol, name, market, is_active)
		VALUES ($1, $2, $3, TRUE)
		ON CONFLICT (symbol) DO UPDATE SET symbol = EXCLUDED.symbol
		RETURNING id, symbol, name, name_en, market, sector, industry, listed_shares, listing_date, is_active
	`, symbol, name, string(market)).Scan(&s.ID, &s.Symbol, &s.Name, &s.NameEn, &s.Market, &s.Sector, &s.Industry, &s.ListedShares, &s.ListingDate, &s.IsActive)
	if err != nil {
		return domain.Stock{}, fmt.Errorf("create stock %s: %w", symbol, err)
	}
	return s, nil
}

func isValidKRXCode(symbol string) bool {
	if len(symbol) != 6 {
		return false
	}
	for _, r := range symbol {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// LastPriceDate returns the most recent stored price_date for stock, or
// nil if no rows exist.
func (r *Repository) LastPriceDate(ctx context.Context, stock domain.Stock) (*time.Time, error) {
	var d *time.Time
	err := r.pool.QueryRow(ctx, `SELECT MAX(price_date) FROM stock_prices WHERE stock_id = $1`, stock.ID).Scan(&d)
	if err != nil {
		return nil, fmt.Errorf("last price date for %s: %w", stock.Symbol, err)
	}
	return d, nil
}

// FirstPriceDate returns the earliest stored price_date for stock, or nil.
func (r *Repository) FirstPriceDate(ctx context.Context, stock domain.Stock) (*time.Time, error) {
	var d *time.Time
	err := r.pool.QueryRow(ctx, `SELECT MIN(price_date) FROM stock_prices WHERE stock_id = $1`, stock.ID).Scan(&d)
	if err != nil {
		return nil, fmt.Errorf("first price date for %s: %w", stock.Symbol, err)
	}
	return d, nil
}

// PriceCount returns the number of stored rows for stock.
func (r *Repository) PriceCount(ctx context.Context, stock domain.Stock) (int, error) {
	var n int
	err := r.pool.QueryRow(ctx, `SELECT COUNT(*) FROM stock_prices WHERE stock_id = $1`, stock.ID).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("price count for %s: %w", stock.Symbol, err)
	}
	return n, nil
}

// UpsertDaily writes bars for stock via temp table + CopyFrom + INSERT ON
// CONFLICT, same shape as the teacher's UpsertPrices. close_price_usd and
// exchange_rate are set only when fxByDate has an entry for the bar's date;
// otherwise both stay NULL (never fabricated). All writes are one
// transaction.
func (r *Repository) UpsertDaily(ctx context.Context, stock domain.Stock, bars []domain.DailyBar, fxByDate map[string]domain.ExchangeRate) (int64, error) {
	if len(bars) == 0 {
		return 0, nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("begin upsert daily for %s: %w", stock.Symbol, err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		CREATE TEMP TABLE tmp_stock_prices (
			stock_id        BIGINT         NOT NULL,
			price_date      DATE           NOT NULL,
			open            NUMERIC(15,2)  NOT NULL,
			high            NUMERIC(15,2)  NOT NULL,
			low             NUMERIC(15,2)  NOT NULL,
			close           NUMERIC(15,2)  NOT NULL,
			volume          BIGINT         NOT NULL,
			trading_value   NUMERIC(20,2),
			market_cap      NUMERIC(20,2),
			exchange_rate   NUMERIC(15,4),
			close_price_usd NUMERIC(15,4)
		) ON COMMIT DROP
	`); err != nil {
		return 0, fmt.Errorf("create temp stock_prices table: %w", err)
	}

	columns := []string{"stock_id", "price_date", "open", "high", "low", "close", "volume", "trading_value", "market_cap", "exchange_rate", "close_price_usd"}
	if _, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"tmp_stock_prices"},
		columns,
		pgx.CopyFromSlice(len(bars), func(i int) ([]any, error) {
			b := bars[i]
			var fxRate, usdClose *decimal.Decimal
			if fx, ok := fxByDate[b.Date.Format("2006-01-02")]; ok {
				fxRate = &fx.Rate
				rounded := b.Close.Div(fx.Rate).RoundBank(4)
				usdClose = &rounded
			}
			return []any{stock.ID, b.Date, b.Open, b.High, b.Low, b.Close, b.Volume, b.TradingValue, b.MarketCap, fxRate, usdClose}, nil
		}),
	); err != nil {
		return 0, fmt.Errorf("copy daily bars to temp table for %s: %w", stock.Symbol, err)
	}

	tag, err := tx.Exec(ctx, `
		INSERT INTO stock_prices (stock_id, price_date, open, high, low, close, volume, trading_value, market_cap, exchange_rate, close_price_usd)
		SELECT stock_id, price_date, open, high, low, close, volume, trading_value, market_cap, exchange_rate, close_price_usd
		FROM tmp_stock_prices
		ON CONFLICT (stock_id, price_date) DO UPDATE SET
			open            = EXCLUDED.open,
			high            = EXCLUDED.high,
			low             = EXCLUDED.low,
			close           = EXCLUDED.close,
			volume          = EXCLUDED.volume,
			trading_value   = EXCLUDED.trading_value,
			market_cap      = EXCLUDED.market_cap,
			exchange_rate   = EXCLUDED.exchange_rate,
			close_price_usd = EXCLUDED.close_price_usd,
			fetched_at      = NOW()
	`)
	if err != nil {
		return 0, fmt.Errorf("upsert daily bars for %s: %w", stock.Symbol, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("commit upsert daily for %s: %w", stock.Symbol, err)
	}

	return tag.RowsAffected(), nil
}

// UpsertSyncStatus writes the (stock, dataType) sync status row.
func (r *Repository) UpsertSyncStatus(ctx context.Context, stock domain.Stock, status domain.SyncStatus) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO sync_status (stock_id, data_type, status, last_sync_date, last_sync_at, error_message)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (stock_id, data_type) DO UPDATE SET
			status         = EXCLUDED.status,
			last_sync_date = EXCLUDED.last_sync_date,
			last_sync_at   = EXCLUDED.last_sync_at,
			error_message  = EXCLUDED.error_message
	`, stock.ID, string(status.DataType), string(status.Status), status.LastSyncDate, status.LastSyncAt, truncate(status.ErrorMessage, 500))
	if err != nil {
		return fmt.Errorf("upsert sync status for %s/%s: %w", stock.Symbol, status.DataType, err)
	}
	return nil
}

// GetSyncStatus returns the (stock, dataType) sync status row, or
// found=false if none has ever been written.
func (r *Repository) GetSyncStatus(ctx context.Context, stock domain.Stock, dataType domain.SyncDataType) (domain.SyncStatus, bool, error) {
	status := domain.SyncStatus{Symbol: stock.Symbol, DataType: dataType}
	err := r.pool.QueryRow(ctx, `
		SELECT status, last_sync_date, last_sync_at, error_message
		FROM sync_status WHERE stock_id = $1 AND data_type = $2
	`, stock.ID, string(dataType)).Scan(&status.Status, &status.LastSyncDate, &status.LastSyncAt, &status.ErrorMessage)
	if err == pgx.ErrNoRows {
		return domain.SyncStatus{}, false, nil
	}
	if err != nil {
		return domain.SyncStatus{}, false, fmt.Errorf("read sync status for %s/%s: %w", stock.Symbol, dataType, err)
	}
	return status, true, nil
}

// DailyPrices returns stored stock_prices rows for stock within
// [start,end], ascending by date.
func (r *Repository) DailyPrices(ctx context.Context, stock domain.Stock, start, end time.Time) ([]domain.StockPriceDaily, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT price_date, open, high, low, close, volume, trading_value, market_cap, exchange_rate, close_price_usd, fetched_at
		FROM stock_prices
		WHERE stock_id = $1 AND price_date >= $2 AND price_date <= $3
		ORDER BY price_date ASC
	`, stock.ID, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch daily prices for %s: %w", stock.Symbol, err)
	}
	defer rows.Close()

	var bars []domain.StockPriceDaily
	for rows.Next() {
		b := domain.StockPriceDaily{Symbol: stock.Symbol}
		if err := rows.Scan(&b.PriceDate, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume, &b.TradingValue, &b.MarketCap, &b.ExchangeRate, &b.ClosePriceUSD, &b.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan daily price row for %s: %w", stock.Symbol, err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate daily price rows for %s: %w", stock.Symbol, err)
	}
	return bars, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// ExchangeRatesInRange returns exchange_rates rows for USD/KRW within
// [start,end], ascending by date.
func (r *Repository) ExchangeRatesInRange(ctx context.Context, start, end time.Time) ([]domain.ExchangeRate, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT pair, rate_date, rate, source
		FROM exchange_rates
		WHERE pair = 'USD/KRW' AND rate_date >= $1 AND rate_date <= $2
		ORDER BY rate_date ASC
	`, start, end)
	if err != nil {
		return nil, fmt.Errorf("fetch exchange rates: %w", err)
	}
	defer rows.Close()

	var rates []domain.ExchangeRate
	for rows.Next() {
		var e domain.ExchangeRate
		if err := rows.Scan(&e.Pair, &e.RateDate, &e.Rate, &e.Source); err != nil {
			return nil, fmt.Errorf("scan exchange rate row: %w", err)
		}
		rates = append(rates, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate exchange rate rows: %w", err)
	}
	return rates, nil
}

// UpsertExchangeRates bulk-writes USD/KRW rates via the same temp-table
// pattern as UpsertDaily.
func (r *Repository) UpsertExchangeRates(ctx context.Context, rates []domain.ExchangeRate) error {
	if len(rates) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert exchange rates: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `
		CREATE TEMP TABLE tmp_exchange_rates (
			pair      TEXT          NOT NULL,
			rate_date DATE          NOT NULL,
			rate      NUMERIC(15,4) NOT NULL,
			source    TEXT          NOT NULL
		) ON COMMIT DROP
	`); err != nil {
		return fmt.Errorf("create temp exchange_rates table: %w", err)
	}

	columns := []string{"pair", "rate_date", "rate", "source"}
	if _, err := tx.CopyFrom(
		ctx,
		pgx.Identifier{"tmp_exchange_rates"},
		columns,
		pgx.CopyFromSlice(len(rates), func(i int) ([]any, error) {
			e := rates[i]
			return []any{e.Pair, e.RateDate, e.Rate, e.Source}, nil
		}),
	); err != nil {
		return fmt.Errorf("copy exchange rates to temp table: %w", err)
	}

	if _, err := tx.Exec(ctx, `
		INSERT INTO exchange_rates (pair, rate_date, rate, source)
		SELECT pair, rate_date, rate, source
		FROM tmp_exchange_rates
		ON CONFLICT (pair, rate_date) DO UPDATE SET
			rate   = EXCLUDED.rate,
			source = EXCLUDED.source
	`); err != nil {
		return fmt.Errorf("upsert exchange rates: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert exchange rates: %w", err)
	}
	return nil
}

// UpsertPopularRankings persists one ranking-type snapshot to
// popular_stocks, the relational counterpart to the popular:* KV cache.
func (r *Repository) UpsertPopularRankings(ctx context.Context, rankingType domain.RankingType, snapshotDate time.Time, entries []domain.PopularRanking, symbolToStockID map[string]int64) error {
	if len(entries) == 0 {
		return nil
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin upsert popular rankings: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, e := range entries {
		stockID, ok := symbolToStockID[e.Symbol]
		if !ok {
			continue
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO popular_stocks (stock_id, ranking_type, rank, snapshot_date)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (ranking_type, snapshot_date, rank) DO UPDATE SET
				stock_id    = EXCLUDED.stock_id,
				recorded_at = NOW()
		`, stockID, string(rankingType), e.Rank, snapshotDate); err != nil {
			return fmt.Errorf("upsert popular ranking %s rank %d: %w", rankingType, e.Rank, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit upsert popular rankings: %w", err)
	}
	return nil
}
