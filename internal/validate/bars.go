// Package validate checks per-row data integrity before a provider's bars
// reach storage. Adapted from the teacher's internal/validate package (price-
// anomaly thresholds over consecutive adj_close values); this repo has no
// "previous close" baseline to compare against at fetch time, so the check is
// repointed at the structural OHLCV invariants spec.md §3/§8 require instead
// of a percentage-change anomaly: low <= open,close <= high; volume >= 0. A
// bar that violates one of these is an Invariant violation (krxerr.go), not a
// retryable fetch failure — it is rejected and the remainder of the batch
// proceeds, per spec.md §7's Invariant propagation policy.
package validate

import (
	"fmt"

	"github.com/krxusd/marketdata/internal/domain"
)

// Rejection records why one bar failed the OHLCV invariant check.
type Rejection struct {
	Bar    domain.DailyBar
	Reason string
}

func (r Rejection) Error() string {
	return fmt.Sprintf("%s: %s", r.Bar.Date.Format("2006-01-02"), r.Reason)
}

// Bars splits bars into the subset that satisfies the OHLCV invariants and
// the subset that doesn't, preserving relative order within each group.
// Nothing is silently dropped: every rejection is returned so the caller can
// surface it (as krxerr.Invariant) and record a partial result instead of
// aborting the whole batch over one bad row.
func Bars(bars []domain.DailyBar) (valid []domain.DailyBar, rejected []Rejection) {
	for _, b := range bars {
		if reason, ok := invalidReason(b); ok {
			rejected = append(rejected, Rejection{Bar: b, Reason: reason})
			continue
		}
		valid = append(valid, b)
	}
	return valid, rejected
}

// invalidReason returns the first OHLCV invariant a bar violates, per
// spec.md §3 ("low <= open,close <= high; volume >= 0").
func invalidReason(b domain.DailyBar) (string, bool) {
	switch {
	case b.Low.GreaterThan(b.Open):
		return "low > open", true
	case b.Open.GreaterThan(b.High):
		return "open > high", true
	case b.Low.GreaterThan(b.Close):
		return "low > close", true
	case b.Close.GreaterThan(b.High):
		return "close > high", true
	case b.Low.GreaterThan(b.High):
		return "low > high", true
	case b.Volume < 0:
		return "volume < 0", true
	default:
		return "", false
	}
}
