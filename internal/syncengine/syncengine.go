// Package syncengine implements SyncEngine: the Gap-Filling protocol that
// decides and performs the minimal work needed to bring a symbol's stored
// daily series current. Grounded on the teacher's computeStartDate/CollectAll
// shape in internal/kis/collect.go and internal/fx/collect.go (gap-aware
// start-date computation, sequential per-symbol loop, partial-results-on-
// error), generalized into the three-case Analyze decision function and
// wrapped with a per-symbol in-flight guard built the way the teacher's
// kis.TokenProvider guards its own mutable field with sync.Mutex. Bars are
// validated against the OHLCV invariants (internal/validate) before upsert.
package syncengine

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/krxusd/marketdata/internal/calendar"
	"github.com/krxusd/marketdata/internal/domain"
	"github.com/krxusd/marketdata/internal/krxerr"
	"github.com/krxusd/marketdata/internal/validate"
)

// Config holds the sync.* configuration surface of spec.md §6.
type Config struct {
	DefaultHistoryDays int
	MaxHistoryYears    int
}

// PriceSource is the subset of pricesource.Source this component consumes.
type PriceSource interface {
	FetchDaily(ctx context.Context, symbol string, start, end time.Time) ([]domain.DailyBar, error)
}

// FxService is the subset of FxService this component consumes.
type FxService interface {
	HistoricalRates(ctx context.Context, start, end time.Time) (map[string]domain.ExchangeRate, error)
}

// Store is the subset of StockStore this component consumes.
type Store interface {
	GetOrCreateStock(ctx context.Context, symbol, name string, market domain.Market) (domain.Stock, error)
	LastPriceDate(ctx context.Context, stock domain.Stock) (*time.Time, error)
	FirstPriceDate(ctx context.Context, stock domain.Stock) (*time.Time, error)
	PriceCount(ctx context.Context, stock domain.Stock) (int, error)
	UpsertDaily(ctx context.Context, stock domain.Stock, bars []domain.DailyBar, fxByDate map[string]domain.ExchangeRate) (int64, error)
	UpsertSyncStatus(ctx context.Context, stock domain.Stock, status domain.SyncStatus) error
}

// Engine implements SyncEngine.
type Engine struct {
	source PriceSource
	fx     FxService
	store  Store
	cfg    Config
	now    func() time.Time

	inFlight symbolGuard
}

// New constructs an Engine clocked by time.Now.
func New(source PriceSource, fx FxService, store Store, cfg Config) *Engine {
	return NewAt(source, fx, store, cfg, time.Now)
}

// NewAt constructs an Engine with an injectable clock, for tests.
func NewAt(source PriceSource, fx FxService, store Store, cfg Config, now func() time.Time) *Engine {
	if cfg.DefaultHistoryDays <= 0 {
		cfg.DefaultHistoryDays = 365
	}
	if cfg.MaxHistoryYears <= 0 {
		cfg.MaxHistoryYears = 10
	}
	return &Engine{source: source, fx: fx, store: store, cfg: cfg, now: now}
}

// symbolGuard is an in-flight-set keyed directly by symbol, not by a hashed
// stripe: spec.md §5 requires that distinct symbols "may run concurrently"
// with no false rejection, which a striped TryLock table cannot guarantee
// under a hash collision (two distinct symbols landing on the same stripe
// would make the second one observe a spurious AlreadySyncing). Keying the
// guard by the symbol itself makes collisions structurally impossible.
type symbolGuard struct {
	mu   sync.Mutex
	busy map[string]struct{}
}

// tryAcquire reports whether symbol was not already in flight, and if so
// marks it in flight.
func (g *symbolGuard) tryAcquire(symbol string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.busy == nil {
		g.busy = make(map[string]struct{})
	}
	if _, ok := g.busy[symbol]; ok {
		return false
	}
	g.busy[symbol] = struct{}{}
	return true
}

func (g *symbolGuard) release(symbol string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.busy, symbol)
}

// Analyze implements the Case A/B/C decision function of spec.md §4.6,
// pure over its arguments so it is directly testable against the boundary
// scenarios without a store or clock fake. last is the stock's current
// lastPriceDate, or nil for Case A (no rows yet).
func Analyze(now time.Time, stock domain.Stock, last *time.Time, cfg Config) (caseResult domain.Case, start, end time.Time) {
	y := calendar.YesterdayKST(now)
	today := calendar.TodayKST(now)
	end = y

	switch {
	case last == nil:
		caseResult = domain.CaseNoData
		start = noDataStart(today, stock.ListingDate, cfg)
	case !last.Before(y):
		caseResult = domain.CaseUpToDate
		start = last.AddDate(0, 0, 1)
	default:
		caseResult = domain.CaseGap
		start = last.AddDate(0, 0, 1)
	}

	// last and listing_date may be DATE values at UTC midnight, while end is a
	// KST midnight nine hours earlier on the same calendar day; rebase start
	// onto end's zone so the comparison below is by calendar day.
	start = time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, end.Location())

	// Clock skew or a future listing_date can make start > end even for a
	// case that was decided as NoData/Gap above; the spec treats that as
	// Case C (no action), never as "fetch a negative range".
	if end.Before(start) {
		caseResult = domain.CaseUpToDate
	}
	return caseResult, start, end
}

// noDataStart computes start = max(listingDate ?? today-defaultHistoryDays,
// today-maxHistoryYears).
func noDataStart(today time.Time, listingDate *time.Time, cfg Config) time.Time {
	start := today.AddDate(0, 0, -cfg.DefaultHistoryDays)
	if listingDate != nil {
		start = *listingDate
	}
	floor := today.AddDate(-cfg.MaxHistoryYears, 0, 0)
	if floor.After(start) {
		start = floor
	}
	return start
}

// Result is the outcome of Sync.
type Result struct {
	Case          domain.Case
	SyncedCount   int64
	Start, End    time.Time
	NoDataInRange bool
	// RejectedCount is how many provider bars failed the OHLCV invariant
	// check (spec.md §3/§8) and were dropped before upsert. A non-zero value
	// is a partial result, not a failure: the rest of the batch still synced.
	RejectedCount int
}

// Sync runs the Gap-Filling procedure of spec.md §4.6 for symbol. force
// treats the symbol as Case A (full history refetch) regardless of its
// current lastPriceDate. Concurrent calls for the same symbol do not both
// reach the provider: a second caller observes ErrAlreadySyncing instead of
// blocking.
func (e *Engine) Sync(ctx context.Context, symbol string, force bool) (Result, error) {
	if !e.inFlight.tryAcquire(symbol) {
		return Result{}, krxerr.AlreadySyncing(symbol)
	}
	defer e.inFlight.release(symbol)

	stock, err := e.store.GetOrCreateStock(ctx, symbol, "", "")
	if err != nil {
		return Result{}, fmt.Errorf("resolve stock %s: %w", symbol, err)
	}

	var last *time.Time
	if !force {
		last, err = e.store.LastPriceDate(ctx, stock)
		if err != nil {
			return Result{}, fmt.Errorf("last price date for %s: %w", symbol, err)
		}
	}

	caseResult, start, end := Analyze(e.now(), stock, last, e.cfg)
	if caseResult == domain.CaseUpToDate {
		return Result{Case: domain.CaseUpToDate, Start: start, End: end}, nil
	}

	if err := e.setStatus(ctx, stock, domain.SyncSyncing, nil, ""); err != nil {
		return Result{}, err
	}

	bars, err := e.source.FetchDaily(ctx, symbol, start, end)
	if err != nil {
		reason := truncate(err.Error(), 500)
		_ = e.setStatus(ctx, stock, domain.SyncFailed, nil, reason)
		return Result{}, fmt.Errorf("fetch daily bars for %s [%s..%s]: %w", symbol,
			start.Format("2006-01-02"), end.Format("2006-01-02"), err)
	}

	if len(bars) == 0 {
		endCopy := end
		if err := e.setStatus(ctx, stock, domain.SyncCompleted, &endCopy, ""); err != nil {
			return Result{}, err
		}
		return Result{Case: caseResult, Start: start, End: end, NoDataInRange: true}, nil
	}

	// §7 Invariant policy: reject the offending bar, continue with the rest,
	// record partial — never abort the whole symbol over one bad row. The DB
	// CHECK constraints (migrations/1_init.sql) are a backstop, not the
	// enforcement point: letting an invalid bar reach CopyFrom would abort
	// the entire transaction instead of just that bar.
	bars, rejected := validate.Bars(bars)
	for _, r := range rejected {
		slog.Warn("rejecting invariant-violating bar", "symbol", symbol, "date", r.Bar.Date.Format("2006-01-02"),
			"error", krxerr.Invariant("ohlcv", r.Reason))
	}

	if len(bars) == 0 {
		endCopy := end
		if err := e.setStatus(ctx, stock, domain.SyncCompleted, &endCopy, ""); err != nil {
			return Result{}, err
		}
		return Result{Case: caseResult, Start: start, End: end, RejectedCount: len(rejected)}, nil
	}

	minDate, maxDate := bars[0].Date, bars[0].Date
	for _, b := range bars {
		if b.Date.Before(minDate) {
			minDate = b.Date
		}
		if b.Date.After(maxDate) {
			maxDate = b.Date
		}
	}

	fxMap, err := e.fx.HistoricalRates(ctx, minDate, maxDate)
	if err != nil {
		reason := truncate(fmt.Sprintf("historical fx rates: %v", err), 500)
		_ = e.setStatus(ctx, stock, domain.SyncFailed, nil, reason)
		return Result{}, fmt.Errorf("historical fx rates for %s: %w", symbol, err)
	}

	n, err := e.store.UpsertDaily(ctx, stock, bars, fxMap)
	if err != nil {
		reason := truncate(fmt.Sprintf("upsert daily bars: %v", err), 500)
		_ = e.setStatus(ctx, stock, domain.SyncFailed, nil, reason)
		return Result{}, fmt.Errorf("upsert daily bars for %s: %w", symbol, err)
	}

	endCopy := end
	if err := e.setStatus(ctx, stock, domain.SyncCompleted, &endCopy, ""); err != nil {
		return Result{}, err
	}

	return Result{Case: caseResult, SyncedCount: n, Start: start, End: end, RejectedCount: len(rejected)}, nil
}

func (e *Engine) setStatus(ctx context.Context, stock domain.Stock, state domain.SyncState, lastSyncDate *time.Time, errMsg string) error {
	now := e.now()
	status := domain.SyncStatus{
		Symbol:       stock.Symbol,
		DataType:     domain.DataTypeDailyPrice,
		Status:       state,
		LastSyncDate: lastSyncDate,
		ErrorMessage: errMsg,
	}
	if state == domain.SyncCompleted {
		status.LastSyncAt = &now
	}
	if err := e.store.UpsertSyncStatus(ctx, stock, status); err != nil {
		return fmt.Errorf("set sync status %s for %s: %w", state, stock.Symbol, err)
	}
	return nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}

// DataSummary describes the stored daily series for a symbol.
type DataSummary struct {
	FirstDate *time.Time
	LastDate  *time.Time
	Count     int
}

// EnsureResult is the outcome of EnsureSynced.
type EnsureResult struct {
	Case        domain.Case
	NeedsSync   bool
	Synced      int64
	DataSummary DataSummary
	SyncStart   time.Time
	SyncEnd     time.Time
	SyncResult  *Result
	SyncError   string
}

// EnsureSynced runs Analyze for symbol and, if the case is not UpToDate and
// autoSync is true, invokes Sync. With autoSync=false this never mutates
// stock_prices or sync_status: it is a pure read over the current state.
func (e *Engine) EnsureSynced(ctx context.Context, symbol string, autoSync bool) (EnsureResult, error) {
	stock, err := e.store.GetOrCreateStock(ctx, symbol, "", "")
	if err != nil {
		return EnsureResult{}, fmt.Errorf("resolve stock %s: %w", symbol, err)
	}

	last, err := e.store.LastPriceDate(ctx, stock)
	if err != nil {
		return EnsureResult{}, fmt.Errorf("last price date for %s: %w", symbol, err)
	}

	caseResult, start, end := Analyze(e.now(), stock, last, e.cfg)
	result := EnsureResult{
		Case:      caseResult,
		NeedsSync: caseResult != domain.CaseUpToDate,
		SyncStart: start,
		SyncEnd:   end,
	}

	first, err := e.store.FirstPriceDate(ctx, stock)
	if err != nil {
		return EnsureResult{}, fmt.Errorf("first price date for %s: %w", symbol, err)
	}
	count, err := e.store.PriceCount(ctx, stock)
	if err != nil {
		return EnsureResult{}, fmt.Errorf("price count for %s: %w", symbol, err)
	}
	result.DataSummary = DataSummary{FirstDate: first, LastDate: last, Count: count}

	if result.NeedsSync && autoSync {
		syncResult, err := e.Sync(ctx, symbol, false)
		if err != nil {
			result.SyncError = err.Error()
			return result, nil
		}
		result.Synced = syncResult.SyncedCount
		result.SyncResult = &syncResult
	}

	return result, nil
}
