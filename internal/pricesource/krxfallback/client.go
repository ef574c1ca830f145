// Package krxfallback adapts a secondary KRX market-data mirror into
// pricesource.Source. It is the fallback Composite member: used when the
// primary krxrest (KIS) adapter fails or is rate-limited, and the only
// adapter in this deployment that serves master-symbol listings and
// marcap/volume rankings.
package krxfallback

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode"

	"github.com/krxusd/marketdata/internal/domain"
	"github.com/krxusd/marketdata/internal/httpclient"
	"github.com/krxusd/marketdata/internal/pricesource"
	"github.com/krxusd/marketdata/internal/ratelimit"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const sourceName = "krxfallback"

// Why Every(200ms): the mirror has no published quota; conservative to
// avoid tripping its plain-text throttle response.
var defaultLimiter = func() *rate.Limiter { return rate.NewLimiter(rate.Every(200*time.Millisecond), 1) }

var defaultRetryCfg = ratelimit.RetryConfig{
	InitialBackoff: 2 * time.Second,
	MaxAttempts:    3,
	MaxBackoff:     30 * time.Second,
}

// ErrSymbolNotFound signals that the requested symbol does not exist on the mirror.
var ErrSymbolNotFound = errors.New("symbol not found on krx mirror")

// mirrorBar is a single row from the mirror's daily-prices endpoint.
// Why string fields: the mirror, like KIS, serializes prices as strings to
// avoid float precision loss in transit.
type mirrorBar struct {
	Close  string `json:"close"`
	Date   string `json:"date"`
	High   string `json:"high"`
	Low    string `json:"low"`
	Open   string `json:"open"`
	Volume string `json:"volume"`
}

type mirrorMasterRow struct {
	Symbol string `json:"symbol"`
	Name   string `json:"name"`
	Market string `json:"market"`
}

type mirrorRankingRow struct {
	Symbol string `json:"symbol"`
}

type mirrorFXRow struct {
	Date string `json:"date"`
	Rate string `json:"rate"`
}

// Client wraps an httpclient.Client configured for the mirror's REST API.
type Client struct {
	http    *httpclient.Client
	limiter *rate.Limiter
	retry   ratelimit.RetryConfig
}

// New creates a krxfallback Client. httpClient must be pre-configured with
// base URL and any required auth header.
func New(httpClient *httpclient.Client) *Client {
	return &Client{http: httpClient, limiter: defaultLimiter(), retry: defaultRetryCfg}
}

func (c *Client) Name() string { return sourceName }

func (c *Client) FetchDaily(ctx context.Context, symbol pricesource.Symbol, start, end time.Time) ([]domain.DailyBar, error) {
	return ratelimit.FetchWithRateLimit(ctx, c.limiter, c.retry, IsRetryable, func(ctx context.Context) ([]domain.DailyBar, error) {
		return c.fetchDailyOnce(ctx, symbol, start, end)
	})
}

func (c *Client) fetchDailyOnce(ctx context.Context, symbol pricesource.Symbol, start, end time.Time) ([]domain.DailyBar, error) {
	path := fmt.Sprintf("/v1/stocks/%s/prices", symbol)
	body, _, err := c.http.Get(ctx, path,
		httpclient.WithQueryParam("from", start.Format("2006-01-02")),
		httpclient.WithQueryParam("to", end.Format("2006-01-02")),
	)
	if err != nil {
		var apiErr *httpclient.APIError
		if errors.As(err, &apiErr) && apiErr.StatusCode == 404 {
			return nil, fmt.Errorf("symbol %s: %w", symbol, ErrSymbolNotFound)
		}
		return nil, fmt.Errorf("fetch daily prices for %s: %w", symbol, err)
	}

	if err := checkRateLimitBody(body); err != nil {
		return nil, fmt.Errorf("symbol %s: %w", symbol, err)
	}

	var rows []mirrorBar
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parse daily prices for %s: %w", symbol, err)
	}

	bars := make([]domain.DailyBar, 0, len(rows))
	for i, r := range rows {
		bar, err := toDailyBar(r)
		if err != nil {
			return nil, fmt.Errorf("row %d: %w", i, err)
		}
		bars = append(bars, bar)
	}
	return bars, nil
}

func (c *Client) FetchRealtime(ctx context.Context, symbol pricesource.Symbol) (pricesource.RealtimeQuote, error) {
	return pricesource.RealtimeQuote{}, fmt.Errorf("%s: realtime quotes not available from mirror", sourceName)
}

func (c *Client) ListMaster(ctx context.Context, market domain.Market) ([]pricesource.StockMaster, error) {
	return ratelimit.FetchWithRateLimit(ctx, c.limiter, c.retry, IsRetryable, func(ctx context.Context) ([]pricesource.StockMaster, error) {
		return c.listMasterOnce(ctx, market)
	})
}

func (c *Client) listMasterOnce(ctx context.Context, market domain.Market) ([]pricesource.StockMaster, error) {
	body, _, err := c.http.Get(ctx, "/v1/stocks/master",
		httpclient.WithQueryParam("market", string(market)),
	)
	if err != nil {
		return nil, fmt.Errorf("list master for %s: %w", market, err)
	}
	if err := checkRateLimitBody(body); err != nil {
		return nil, err
	}

	var rows []mirrorMasterRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parse master listing: %w", err)
	}

	out := make([]pricesource.StockMaster, 0, len(rows))
	for _, r := range rows {
		out = append(out, pricesource.StockMaster{
			Symbol: r.Symbol,
			Name:   r.Name,
			Market: domain.Market(r.Market),
		})
	}
	return out, nil
}

func (c *Client) TopByMarcap(ctx context.Context, n int) ([]pricesource.Symbol, error) {
	return c.topBy(ctx, "/v1/rankings/marcap", n)
}

func (c *Client) TopByVolume(ctx context.Context, n int) ([]pricesource.Symbol, error) {
	return c.topBy(ctx, "/v1/rankings/volume", n)
}

func (c *Client) topBy(ctx context.Context, path string, n int) ([]pricesource.Symbol, error) {
	return ratelimit.FetchWithRateLimit(ctx, c.limiter, c.retry, IsRetryable, func(ctx context.Context) ([]pricesource.Symbol, error) {
		return c.topByOnce(ctx, path, n)
	})
}

func (c *Client) topByOnce(ctx context.Context, path string, n int) ([]pricesource.Symbol, error) {
	body, _, err := c.http.Get(ctx, path, httpclient.WithQueryParam("limit", fmt.Sprintf("%d", n)))
	if err != nil {
		return nil, fmt.Errorf("fetch ranking %s: %w", path, err)
	}
	if err := checkRateLimitBody(body); err != nil {
		return nil, err
	}

	var rows []mirrorRankingRow
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("parse ranking %s: %w", path, err)
	}

	symbols := make([]pricesource.Symbol, 0, len(rows))
	for _, r := range rows {
		symbols = append(symbols, r.Symbol)
	}
	return symbols, nil
}

// FetchFXRates and FetchFXRealtime are not served by this mirror; the
// frankfurterfx adapter covers FX.
func (c *Client) FetchFXRates(ctx context.Context, start, end time.Time) ([]domain.ExchangeRate, error) {
	return nil, fmt.Errorf("%s: FX rates not available from this adapter", sourceName)
}

func (c *Client) FetchFXRealtime(ctx context.Context) (domain.ExchangeRate, error) {
	return domain.ExchangeRate{}, fmt.Errorf("%s: FX rates not available from this adapter", sourceName)
}

// checkRateLimitBody detects the mirror's rate-limit signature: an HTTP 200
// whose body is not a JSON array/object (plain-text throttle notice).
func checkRateLimitBody(body []byte) error {
	trimmed := bytes.TrimLeftFunc(body, unicode.IsSpace)
	if len(trimmed) == 0 || (trimmed[0] != '[' && trimmed[0] != '{') {
		return httpclient.ErrRateLimited
	}
	return nil
}

func toDailyBar(r mirrorBar) (domain.DailyBar, error) {
	date, err := time.Parse("2006-01-02", r.Date)
	if err != nil {
		return domain.DailyBar{}, fmt.Errorf("parse date %q: %w", r.Date, err)
	}
	open, err := decimal.NewFromString(r.Open)
	if err != nil {
		return domain.DailyBar{}, fmt.Errorf("parse open %q: %w", r.Open, err)
	}
	high, err := decimal.NewFromString(r.High)
	if err != nil {
		return domain.DailyBar{}, fmt.Errorf("parse high %q: %w", r.High, err)
	}
	low, err := decimal.NewFromString(r.Low)
	if err != nil {
		return domain.DailyBar{}, fmt.Errorf("parse low %q: %w", r.Low, err)
	}
	close_, err := decimal.NewFromString(r.Close)
	if err != nil {
		return domain.DailyBar{}, fmt.Errorf("parse close %q: %w", r.Close, err)
	}
	volume, err := decimal.NewFromString(r.Volume)
	if err != nil {
		return domain.DailyBar{}, fmt.Errorf("parse volume %q: %w", r.Volume, err)
	}

	return domain.DailyBar{
		Date:   date,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close_,
		Volume: volume.IntPart(),
	}, nil
}

// IsRetryable determines whether an error from this adapter warrants retry.
func IsRetryable(err error) bool {
	if errors.Is(err, httpclient.ErrRateLimited) {
		return true
	}
	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable
	}
	return false
}
