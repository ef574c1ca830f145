// Package usdview implements UsdView: a stateless read path joining a
// symbol's KRW daily series with the dated FX series to produce a
// USD-converted view. Grounded on the division-plus-rounding shape of
// StockStore.UpsertDaily's own USD materialization, here applied at read
// time instead of write time for ranges whose bars predate carry-forward
// backfill or were written before an FX rate existed.
package usdview

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/krxusd/marketdata/internal/domain"
	"github.com/shopspring/decimal"
)

// Row is one day of the USD-converted history, the output of HistoryUSD.
type Row struct {
	Date     time.Time
	KRWClose decimal.Decimal
	FX       decimal.Decimal
	USDClose decimal.Decimal
}

// Store is the subset of StockStore this component consumes.
type Store interface {
	GetOrCreateStock(ctx context.Context, symbol, name string, market domain.Market) (domain.Stock, error)
	DailyPrices(ctx context.Context, stock domain.Stock, start, end time.Time) ([]domain.StockPriceDaily, error)
}

// FxService is the subset of FxService this component consumes.
type FxService interface {
	HistoricalRates(ctx context.Context, start, end time.Time) (map[string]domain.ExchangeRate, error)
	CurrentRate(ctx context.Context, force bool) (domain.ExchangeRate, error)
}

// RealtimeSource is the subset of the realtime read path this component
// joins against for CurrentUSD.
type RealtimeSource interface {
	CurrentClose(ctx context.Context, symbol string) (decimal.Decimal, time.Time, error)
}

const dateLayout = "2006-01-02"

// View implements UsdView.
type View struct {
	store Store
	fx    FxService
	rt    RealtimeSource
}

// New constructs a View. rt may be nil if CurrentUSD is never called.
func New(store Store, fx FxService, rt RealtimeSource) *View {
	return &View{store: store, fx: fx, rt: rt}
}

// HistoryUSD emits one row per (symbol, date) in [start,end] that has both
// a stored KRW close and a resolvable FX rate (possibly via carry-forward
// within 4 days). Dates failing FX resolution are skipped with a debug log,
// never synthesized.
func (v *View) HistoryUSD(ctx context.Context, symbol string, start, end time.Time) ([]Row, error) {
	stock, err := v.store.GetOrCreateStock(ctx, symbol, "", "")
	if err != nil {
		return nil, fmt.Errorf("resolve stock %s: %w", symbol, err)
	}

	bars, err := v.store.DailyPrices(ctx, stock, start, end)
	if err != nil {
		return nil, fmt.Errorf("load daily prices for %s: %w", symbol, err)
	}

	fxMap, err := v.fx.HistoricalRates(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("load fx rates for %s..%s: %w", start.Format(dateLayout), end.Format(dateLayout), err)
	}

	rows := make([]Row, 0, len(bars))
	for _, bar := range bars {
		rate, ok := fxMap[bar.PriceDate.Format(dateLayout)]
		if !ok {
			slog.Debug("usdview: skipping date with no resolvable fx rate", "symbol", symbol, "date", bar.PriceDate.Format(dateLayout))
			continue
		}
		rows = append(rows, Row{
			Date:     bar.PriceDate,
			KRWClose: bar.Close,
			FX:       rate.Rate,
			USDClose: bar.Close.Div(rate.Rate).RoundBank(4),
		})
	}
	return rows, nil
}

// CurrentUSD joins the current realtime close with the current FX rate.
func (v *View) CurrentUSD(ctx context.Context, symbol string) (Row, error) {
	close, priceDate, err := v.rt.CurrentClose(ctx, symbol)
	if err != nil {
		return Row{}, fmt.Errorf("current close for %s: %w", symbol, err)
	}
	rate, err := v.fx.CurrentRate(ctx, false)
	if err != nil {
		return Row{}, fmt.Errorf("current fx rate: %w", err)
	}
	return Row{
		Date:     priceDate,
		KRWClose: close,
		FX:       rate.Rate,
		USDClose: close.Div(rate.Rate).RoundBank(4),
	}, nil
}
