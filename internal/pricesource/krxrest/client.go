package krxrest

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
	dailyChartPath = "/uapi/domestic-stock/v1/quotations/inquire-daily-itemchartprice"
	realtimePath   = "/uapi/domestic-stock/v1/quotations/inquire-price"
	maxPages       = 10
	trIDDailyChart = "FHKST03010100"
	trIDRealtime   = "FHKST01010100"
)

// Why Every(56ms): ~18 req/sec, within KIS personal-account rate limits.
var defaultLimiter = func() *rate.Limiter { return rate.NewLimiter(rate.Every(56*time.Millisecond), 1) }

var defaultRetryCfg = ratelimit.RetryConfig{
	InitialBackoff: 2 * time.Second,
	MaxAttempts:    3,
	MaxBackoff:     30 * time.Second,
}

var ErrMaxPagesReached = errors.New("max pagination pages reached")
var errUnsupported = errors.New("krxrest: operation not supported by this adapter")

type dailyChartResponse struct {
	MsgCode string          `json:"msg_cd"`
	Msg     string          `json:"msg1"`
	Output2 []dailyChartRow `json:"output2"`
	RtCode  string          `json:"rt_cd"`
}

type realtimeResponse struct {
	RtCode string          `json:"rt_cd"`
	Msg    string          `json:"msg1"`
	Output realtimeOutput  `json:"output"`
}

type realtimeOutput struct {
	StckPrpr string `json:"stck_prpr"`
	StckOprc string `json:"stck_oprc"`
	StckHgpr string `json:"stck_hgpr"`
	StckLwpr string `json:"stck_lwpr"`
	AcmlVol  string `json:"acml_vol"`
	PrdyVrss string `json:"prdy_vrss"`
	PrdyCtrt string `json:"prdy_ctrt"`
}

// Client adapts the KIS quotation API into pricesource.Source.
type Client struct {
	http    *httpclient.Client
	token   *TokenProvider
	limiter *rate.Limiter
	retry   ratelimit.RetryConfig
}

// New constructs a Client backed by an already-configured httpclient.Client
// and TokenProvider, rate-limited to KIS's personal-account quota and
// retried with full-jitter exponential backoff.
func New(httpClient *httpclient.Client, tokenProvider *TokenProvider) *Client {
	return &Client{http: httpClient, token: tokenProvider, limiter: defaultLimiter(), retry: defaultRetryCfg}
}

func (c *Client) Name() string { return sourceName }

// FetchDaily fetches all pages of daily bars within [start,end], ascending
// by date. KIS returns newest-first; pagination walks backward in time
// using a date-cursor because httpclient.Client exposes no response headers
// for tr_cont-style cursors.
func (c *Client) FetchDaily(ctx context.Context, symbol pricesource.Symbol, start, end time.Time) ([]domain.DailyBar, error) {
	var allBars []domain.DailyBar
	cursorEnd := end
	hasMore := true

	page := 0
	for ; page < maxPages && hasMore; page++ {
		prevCursorEnd := cursorEnd
		bars, nextEnd, more, err := c.fetchDailyPage(ctx, symbol, start, cursorEnd)
		if err != nil {
			return allBars, fmt.Errorf("page %d for %s: %w", page, symbol, err)
		}
		allBars = append(allBars, bars...)
		cursorEnd, hasMore = nextEnd, more

		if hasMore && cursorEnd.Equal(prevCursorEnd) {
			hasMore = false
			break
		}
	}
	if hasMore {
		return allBars, fmt.Errorf("symbol %s: %w", symbol, ErrMaxPagesReached)
	}

	sort.Slice(allBars, func(i, j int) bool { return allBars[i].Date.Before(allBars[j].Date) })
	return allBars, nil
}

type dailyPage struct {
	bars    []domain.DailyBar
	nextEnd time.Time
	hasMore bool
}

func (c *Client) fetchDailyPage(ctx context.Context, symbol pricesource.Symbol, start, end time.Time) ([]domain.DailyBar, time.Time, bool, error) {
	page, err := ratelimit.FetchWithRateLimit(ctx, c.limiter, c.retry, IsRetryable, func(ctx context.Context) (dailyPage, error) {
		return c.fetchDailyPageOnce(ctx, symbol, start, end)
	})
	return page.bars, page.nextEnd, page.hasMore, err
}

func (c *Client) fetchDailyPageOnce(ctx context.Context, symbol pricesource.Symbol, start, end time.Time) (dailyPage, error) {
	accessToken, err := c.token.Token(ctx)
	if err != nil {
		return dailyPage{}, fmt.Errorf("obtain token: %w", err)
	}

	body, _, err := c.http.Get(ctx, dailyChartPath,
		httpclient.WithHeader("authorization", "Bearer "+accessToken),
		httpclient.WithHeader("tr_id", trIDDailyChart),
		httpclient.WithQueryParam("FID_COND_MRKT_DIV_CODE", "J"),
		httpclient.WithQueryParam("FID_INPUT_DATE_1", start.Format("20060102")),
		httpclient.WithQueryParam("FID_INPUT_DATE_2", end.Format("20060102")),
		httpclient.WithQueryParam("FID_INPUT_ISCD", symbol),
		httpclient.WithQueryParam("FID_ORG_ADJ_PRC", "0"),
		httpclient.WithQueryParam("FID_PERIOD_DIV_CODE", "D"),
	)
	if err != nil {
		return dailyPage{}, err
	}

	var resp dailyChartResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return dailyPage{}, fmt.Errorf("parse response for %s: %w", symbol, err)
	}
	if resp.RtCode != "0" {
		return dailyPage{}, fmt.Errorf("KIS API error for %s (code=%s): %s", symbol, resp.MsgCode, resp.Msg)
	}

	bars := make([]domain.DailyBar, 0, len(resp.Output2))
	for i, row := range resp.Output2 {
		bar, ok, err := toDailyBar(row)
		if err != nil {
			return dailyPage{}, fmt.Errorf("row %d: %w", i, err)
		}
		if ok {
			bars = append(bars, bar)
		}
	}

	if len(bars) == 0 {
		return dailyPage{bars: bars}, nil
	}
	oldest := bars[0].Date
	for _, b := range bars[1:] {
		if b.Date.Before(oldest) {
			oldest = b.Date
		}
	}
	if oldest.After(start) {
		return dailyPage{bars: bars, nextEnd: oldest.AddDate(0, 0, -1), hasMore: true}, nil
	}
	return dailyPage{bars: bars}, nil
}

// FetchRealtime fetches the current quote for symbol.
func (c *Client) FetchRealtime(ctx context.Context, symbol pricesource.Symbol) (pricesource.RealtimeQuote, error) {
	return ratelimit.FetchWithRateLimit(ctx, c.limiter, c.retry, IsRetryable, func(ctx context.Context) (pricesource.RealtimeQuote, error) {
		return c.fetchRealtimeOnce(ctx, symbol)
	})
}

func (c *Client) fetchRealtimeOnce(ctx context.Context, symbol pricesource.Symbol) (pricesource.RealtimeQuote, error) {
	accessToken, err := c.token.Token(ctx)
	if err != nil {
		return pricesource.RealtimeQuote{}, fmt.Errorf("obtain token: %w", err)
	}

	body, _, err := c.http.Get(ctx, realtimePath,
		httpclient.WithHeader("authorization", "Bearer "+accessToken),
		httpclient.WithHeader("tr_id", trIDRealtime),
		httpclient.WithQueryParam("FID_COND_MRKT_DIV_CODE", "J"),
		httpclient.WithQueryParam("FID_INPUT_ISCD", symbol),
	)
	if err != nil {
		return pricesource.RealtimeQuote{}, err
	}

	var resp realtimeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return pricesource.RealtimeQuote{}, fmt.Errorf("parse realtime response for %s: %w", symbol, err)
	}
	if resp.RtCode != "0" {
		return pricesource.RealtimeQuote{}, fmt.Errorf("KIS realtime error for %s: %s", symbol, resp.Msg)
	}

	parse := func(s string) decimal.Decimal {
		d, _ := parseDecimal(s)
		return d
	}
	volume, _ := parseInt64(resp.Output.AcmlVol)

	return pricesource.RealtimeQuote{
		Symbol:    symbol,
		Open:      parse(resp.Output.StckOprc),
		High:      parse(resp.Output.StckHgpr),
		Low:       parse(resp.Output.StckLwpr),
		Close:     parse(resp.Output.StckPrpr),
		Volume:    volume,
		Change:    parse(resp.Output.PrdyVrss),
		ChangePct: parse(resp.Output.PrdyCtrt),
		PriceDate: time.Now(),
		Source:    sourceName,
	}, nil
}

// ListMaster, TopByMarcap, TopByVolume require KIS master-file / ranking
// endpoints outside this adapter's scope; krxfallback serves these via its
// mirror's listing endpoints.
func (c *Client) ListMaster(ctx context.Context, market domain.Market) ([]pricesource.StockMaster, error) {
	return nil, fmt.Errorf("%s: %w", sourceName, errUnsupported)
}

func (c *Client) TopByMarcap(ctx context.Context, n int) ([]pricesource.Symbol, error) {
	return nil, fmt.Errorf("%s: %w", sourceName, errUnsupported)
}

func (c *Client) TopByVolume(ctx context.Context, n int) ([]pricesource.Symbol, error) {
	return nil, fmt.Errorf("%s: %w", sourceName, errUnsupported)
}

// FetchFXRates and FetchFXRealtime are not provided by the KIS quotation
// API in this deployment; the frankfurterfx adapter serves FX.
func (c *Client) FetchFXRates(ctx context.Context, start, end time.Time) ([]domain.ExchangeRate, error) {
	return nil, fmt.Errorf("%s: %w", sourceName, errUnsupported)
}

func (c *Client) FetchFXRealtime(ctx context.Context) (domain.ExchangeRate, error) {
	return domain.ExchangeRate{}, fmt.Errorf("%s: %w", sourceName, errUnsupported)
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

