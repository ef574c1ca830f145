package pricesource

import (
	"context"
	"log/slog"
	"time"

	"github.com/krxusd/marketdata/internal/domain"
	"github.com/krxusd/marketdata/internal/krxerr"
)

// Composite walks an ordered list of adapters, first success wins. Adapters
// are registered at startup; nothing upstream of Composite names them.
type Composite struct {
	adapters []Source
}

// NewComposite builds a Composite from adapters in try-order.
func NewComposite(adapters ...Source) *Composite {
	return &Composite{adapters: adapters}
}

// FetchRealtime tries each adapter in order; on all-fail returns
// SourceExhausted carrying every adapter's reason.
func (c *Composite) FetchRealtime(ctx context.Context, symbol Symbol) (RealtimeQuote, error) {
	var failures []krxerr.SourceFailure
	for _, adapter := range c.adapters {
		quote, err := adapter.FetchRealtime(ctx, symbol)
		if err == nil {
			return quote, nil
		}
		slog.Warn("price source failed", "adapter", adapter.Name(), "symbol", symbol, "error", err)
		failures = append(failures, krxerr.SourceFailure{Adapter: adapter.Name(), Reason: err})
	}
	return RealtimeQuote{}, krxerr.NewSourceExhausted(symbol, failures)
}

// FetchDaily tries each adapter in order; on all-fail returns an empty
// series (not an error) so callers can distinguish "no trading day in
// range" from "fetch failed".
func (c *Composite) FetchDaily(ctx context.Context, symbol Symbol, start, end time.Time) ([]domain.DailyBar, error) {
	for _, adapter := range c.adapters {
		bars, err := adapter.FetchDaily(ctx, symbol, start, end)
		if err == nil {
			return bars, nil
		}
		slog.Warn("price source failed", "adapter", adapter.Name(), "symbol", symbol, "error", err)
	}
	return nil, nil
}

// ListMaster tries each adapter in order; first success wins.
func (c *Composite) ListMaster(ctx context.Context, market domain.Market) ([]StockMaster, error) {
	var failures []krxerr.SourceFailure
	for _, adapter := range c.adapters {
		rows, err := adapter.ListMaster(ctx, market)
		if err == nil {
			return rows, nil
		}
		failures = append(failures, krxerr.SourceFailure{Adapter: adapter.Name(), Reason: err})
	}
	return nil, krxerr.NewSourceExhausted(string(market), failures)
}

// TopByMarcap tries each adapter in order; first success wins.
func (c *Composite) TopByMarcap(ctx context.Context, n int) ([]Symbol, error) {
	var failures []krxerr.SourceFailure
	for _, adapter := range c.adapters {
		symbols, err := adapter.TopByMarcap(ctx, n)
		if err == nil {
			return symbols, nil
		}
		failures = append(failures, krxerr.SourceFailure{Adapter: adapter.Name(), Reason: err})
	}
	return nil, krxerr.NewSourceExhausted("top-by-marcap", failures)
}

// TopByVolume tries each adapter in order; first success wins.
func (c *Composite) TopByVolume(ctx context.Context, n int) ([]Symbol, error) {
	var failures []krxerr.SourceFailure
	for _, adapter := range c.adapters {
		symbols, err := adapter.TopByVolume(ctx, n)
		if err == nil {
			return symbols, nil
		}
		failures = append(failures, krxerr.SourceFailure{Adapter: adapter.Name(), Reason: err})
	}
	return nil, krxerr.NewSourceExhausted("top-by-volume", failures)
}

// FetchFXRates tries each adapter in order; first success wins.
func (c *Composite) FetchFXRates(ctx context.Context, start, end time.Time) ([]domain.ExchangeRate, error) {
	var failures []krxerr.SourceFailure
	for _, adapter := range c.adapters {
		rates, err := adapter.FetchFXRates(ctx, start, end)
		if err == nil {
			return rates, nil
		}
		failures = append(failures, krxerr.SourceFailure{Adapter: adapter.Name(), Reason: err})
	}
	return nil, krxerr.NewSourceExhausted("USD/KRW", failures)
}

// FetchFXRealtime tries each adapter in order; first success wins.
func (c *Composite) FetchFXRealtime(ctx context.Context) (domain.ExchangeRate, error) {
	var failures []krxerr.SourceFailure
	for _, adapter := range c.adapters {
		rate, err := adapter.FetchFXRealtime(ctx)
		if err == nil {
			return rate, nil
		}
		failures = append(failures, krxerr.SourceFailure{Adapter: adapter.Name(), Reason: err})
	}
	return domain.ExchangeRate{}, krxerr.NewSourceExhausted("USD/KRW", failures)
}
