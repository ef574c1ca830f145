package krxrest

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/krxusd/marketdata/internal/domain"
	"github.com/shopspring/decimal"
)

const sourceName = "krxrest"

// dailyChartRow is a single row from the KIS daily chart price API output2.
// All numeric values arrive as strings.
type dailyChartRow struct {
	AcmlVol      string `json:"acml_vol"`
	StckBsopDate string `json:"stck_bsop_date"`
	StckClpr     string `json:"stck_clpr"`
	StckHgpr     string `json:"stck_hgpr"`
	StckLwpr     string `json:"stck_lwpr"`
	StckOprc     string `json:"stck_oprc"`
}

func parseDate(s string) (time.Time, error) {
	return time.Parse("20060102", s)
}

// parseDecimal converts a KIS numeric string to decimal.Decimal. Returns
// zero for empty/whitespace strings (blank rows from API).
func parseDecimal(s string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return decimal.Zero, nil
	}
	return decimal.NewFromString(trimmed)
}

func parseInt64(s string) (int64, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return 0, nil
	}
	return strconv.ParseInt(trimmed, 10, 64)
}

// toDailyBar converts a KIS output row to a domain.DailyBar. Returns
// ok=false for empty rows (blank or zero date).
func toDailyBar(row dailyChartRow) (domain.DailyBar, bool, error) {
	if row.StckBsopDate == "" || row.StckBsopDate == "0" {
		return domain.DailyBar{}, false, nil
	}

	date, err := parseDate(row.StckBsopDate)
	if err != nil {
		return domain.DailyBar{}, false, fmt.Errorf("parse date %q: %w", row.StckBsopDate, err)
	}

	close_, err := parseDecimal(row.StckClpr)
	if err != nil {
		return domain.DailyBar{}, false, fmt.Errorf("parse close %q: %w", row.StckClpr, err)
	}
	high, err := parseDecimal(row.StckHgpr)
	if err != nil {
		return domain.DailyBar{}, false, fmt.Errorf("parse high %q: %w", row.StckHgpr, err)
	}
	low, err := parseDecimal(row.StckLwpr)
	if err != nil {
		return domain.DailyBar{}, false, fmt.Errorf("parse low %q: %w", row.StckLwpr, err)
	}
	open, err := parseDecimal(row.StckOprc)
	if err != nil {
		return domain.DailyBar{}, false, fmt.Errorf("parse open %q: %w", row.StckOprc, err)
	}
	volume, err := parseInt64(row.AcmlVol)
	if err != nil {
		return domain.DailyBar{}, false, fmt.Errorf("parse volume %q: %w", row.AcmlVol, err)
	}

	return domain.DailyBar{
		Date:   date,
		Open:   open,
		High:   high,
		Low:    low,
		Close:  close_,
		Volume: volume,
	}, true, nil
}
