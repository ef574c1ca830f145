package krxrest

import (
	"testing"

	"github.com/shopspring/decimal"
)

func TestParseDecimal(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain integer", "72000", "72000"},
		{"blank string", "", "0"},
		{"whitespace only", "   ", "0"},
		{"negative change", "-500", "-500"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseDecimal(tt.in)
			if err != nil {
				t.Fatalf("parseDecimal(%q): %v", tt.in, err)
			}
			want, _ := decimal.NewFromString(tt.want)
			if !got.Equal(want) {
				t.Errorf("parseDecimal(%q) = %s, want %s", tt.in, got, want)
			}
		})
	}
}

func TestParseInt64(t *testing.T) {
	got, err := parseInt64("15000000")
	if err != nil {
		t.Fatalf("parseInt64: %v", err)
	}
	if got != 15000000 {
		t.Errorf("parseInt64 = %d, want 15000000", got)
	}

	if got, err := parseInt64(""); err != nil || got != 0 {
		t.Errorf("parseInt64(blank) = (%d, %v), want (0, nil)", got, err)
	}
}

func TestToDailyBarBlankRow(t *testing.T) {
	_, ok, err := toDailyBar(dailyChartRow{})
	if err != nil {
		t.Fatalf("toDailyBar(blank): %v", err)
	}
	if ok {
		t.Error("toDailyBar(blank row) should report ok=false")
	}
}

func TestToDailyBarValidRow(t *testing.T) {
	row := dailyChartRow{
		StckBsopDate: "20240116",
		StckOprc:     "72000",
		StckHgpr:     "72500",
		StckLwpr:     "71500",
		StckClpr:     "72200",
		AcmlVol:      "15000000",
	}
	bar, ok, err := toDailyBar(row)
	if err != nil {
		t.Fatalf("toDailyBar: %v", err)
	}
	if !ok {
		t.Fatal("toDailyBar(valid row) should report ok=true")
	}
	if bar.Date.Format("2006-01-02") != "2024-01-16" {
		t.Errorf("bar.Date = %s, want 2024-01-16", bar.Date)
	}
	if bar.Volume != 15000000 {
		t.Errorf("bar.Volume = %d, want 15000000", bar.Volume)
	}
	if bar.High.LessThan(bar.Low) {
		t.Error("high should not be less than low")
	}
}

func TestToDailyBarInvalidDecimal(t *testing.T) {
	row := dailyChartRow{StckBsopDate: "20240116", StckOprc: "not-a-number"}
	if _, _, err := toDailyBar(row); err == nil {
		t.Error("expected error parsing invalid open price")
	}
}
