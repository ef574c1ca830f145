// Package frankfurterfx adapts the Frankfurter exchange-rate API
// (frankfurter.app, ECB reference rates) into pricesource.Source's FX
// methods. It is a free, unauthenticated API: no token provider, no app
// key/secret, unlike the krxrest adapter.
package frankfurterfx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/krxusd/marketdata/internal/domain"
	"github.com/krxusd/marketdata/internal/httpclient"
	"github.com/krxusd/marketdata/internal/pricesource"
	"github.com/krxusd/marketdata/internal/ratelimit"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

const (
	sourceName  = "frankfurter"
	pairUSDKRW  = "USD/KRW"
	baseCcy     = "USD"
	targetCcy   = "KRW"
)

// Why Every(2s): Frankfurter has no published rate limit, but retry with
// backoff guards against transient failures.
var defaultLimiter = func() *rate.Limiter { return rate.NewLimiter(rate.Every(2*time.Second), 1) }

var defaultRetryCfg = ratelimit.RetryConfig{
	InitialBackoff: 2 * time.Second,
	MaxAttempts:    3,
	MaxBackoff:     30 * time.Second,
}

type rangeResponse struct {
	Amount    float64                       `json:"amount"`
	Base      string                        `json:"base"`
	EndDate   string                        `json:"end_date"`
	Rates     map[string]map[string]float64 `json:"rates"`
	StartDate string                        `json:"start_date"`
}

type latestResponse struct {
	Amount float64            `json:"amount"`
	Base   string             `json:"base"`
	Date   string             `json:"date"`
	Rates  map[string]float64 `json:"rates"`
}

// Client wraps an httpclient.Client configured for the Frankfurter API.
type Client struct {
	http    *httpclient.Client
	limiter *rate.Limiter
	retry   ratelimit.RetryConfig
}

// New creates a frankfurterfx Client.
func New(httpClient *httpclient.Client) *Client {
	return &Client{http: httpClient, limiter: defaultLimiter(), retry: defaultRetryCfg}
}

func (c *Client) Name() string { return sourceName }

// FetchFXRates returns USD/KRW observations in [start,end], ascending by date.
func (c *Client) FetchFXRates(ctx context.Context, start, end time.Time) ([]domain.ExchangeRate, error) {
	return ratelimit.FetchWithRateLimit(ctx, c.limiter, c.retry, IsRetryable, func(ctx context.Context) ([]domain.ExchangeRate, error) {
		return c.fetchFXRatesOnce(ctx, start, end)
	})
}

func (c *Client) fetchFXRatesOnce(ctx context.Context, start, end time.Time) ([]domain.ExchangeRate, error) {
	path := fmt.Sprintf("/v1/%s..%s", start.Format("2006-01-02"), end.Format("2006-01-02"))

	body, _, err := c.http.Get(ctx, path,
		httpclient.WithQueryParam("from", baseCcy),
		httpclient.WithQueryParam("to", targetCcy),
	)
	if err != nil {
		return nil, fmt.Errorf("fetch fx rates %s: %w", pairUSDKRW, err)
	}

	var resp rangeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("parse frankfurter range response: %w", err)
	}

	rates := make([]domain.ExchangeRate, 0, len(resp.Rates))
	for dateStr, currencies := range resp.Rates {
		krw, ok := currencies[targetCcy]
		if !ok {
			return nil, fmt.Errorf("target currency %s missing in rates for %s", targetCcy, dateStr)
		}
		date, err := time.Parse("2006-01-02", dateStr)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", dateStr, err)
		}
		rates = append(rates, domain.ExchangeRate{
			Pair:     pairUSDKRW,
			RateDate: date,
			Rate:     decimal.NewFromFloat(krw),
			Source:   sourceName,
		})
	}

	sort.Slice(rates, func(i, j int) bool { return rates[i].RateDate.Before(rates[j].RateDate) })
	return rates, nil
}

// FetchFXRealtime returns the latest published USD/KRW rate. Frankfurter
// publishes once per ECB business day, so "realtime" here means "most
// recent available", same convention as the KV layer's FxRealtime cache.
func (c *Client) FetchFXRealtime(ctx context.Context) (domain.ExchangeRate, error) {
	return ratelimit.FetchWithRateLimit(ctx, c.limiter, c.retry, IsRetryable, func(ctx context.Context) (domain.ExchangeRate, error) {
		return c.fetchFXRealtimeOnce(ctx)
	})
}

func (c *Client) fetchFXRealtimeOnce(ctx context.Context) (domain.ExchangeRate, error) {
	body, _, err := c.http.Get(ctx, "/v1/latest",
		httpclient.WithQueryParam("from", baseCcy),
		httpclient.WithQueryParam("to", targetCcy),
	)
	if err != nil {
		return domain.ExchangeRate{}, fmt.Errorf("fetch latest fx rate %s: %w", pairUSDKRW, err)
	}

	var resp latestResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return domain.ExchangeRate{}, fmt.Errorf("parse frankfurter latest response: %w", err)
	}

	krw, ok := resp.Rates[targetCcy]
	if !ok {
		return domain.ExchangeRate{}, fmt.Errorf("target currency %s missing in latest response", targetCcy)
	}
	date, err := time.Parse("2006-01-02", resp.Date)
	if err != nil {
		return domain.ExchangeRate{}, fmt.Errorf("parse date %q: %w", resp.Date, err)
	}

	return domain.ExchangeRate{
		Pair:     pairUSDKRW,
		RateDate: date,
		Rate:     decimal.NewFromFloat(krw),
		Source:   sourceName,
	}, nil
}

// FetchDaily, FetchRealtime, ListMaster, TopByMarcap, and TopByVolume are
// stock-quote operations this adapter does not serve; it exists solely to
// carry FX in the Composite.
func (c *Client) FetchDaily(ctx context.Context, symbol pricesource.Symbol, start, end time.Time) ([]domain.DailyBar, error) {
	return nil, fmt.Errorf("%s: %w", sourceName, errUnsupported)
}

func (c *Client) FetchRealtime(ctx context.Context, symbol pricesource.Symbol) (pricesource.RealtimeQuote, error) {
	return pricesource.RealtimeQuote{}, fmt.Errorf("%s: %w", sourceName, errUnsupported)
}

func (c *Client) ListMaster(ctx context.Context, market domain.Market) ([]pricesource.StockMaster, error) {
	return nil, fmt.Errorf("%s: %w", sourceName, errUnsupported)
}

func (c *Client) TopByMarcap(ctx context.Context, n int) ([]pricesource.Symbol, error) {
	return nil, fmt.Errorf("%s: %w", sourceName, errUnsupported)
}

func (c *Client) TopByVolume(ctx context.Context, n int) ([]pricesource.Symbol, error) {
	return nil, fmt.Errorf("%s: %w", sourceName, errUnsupported)
}

var errUnsupported = errors.New("frankfurterfx: operation not supported by this adapter")

// IsRetryable classifies errors for retry decisions.
func IsRetryable(err error) bool {
	var apiErr *httpclient.APIError
	if errors.As(err, &apiErr) {
		return apiErr.IsRetryable
	}
	return false
}
