// Package domain holds the shared data model for the krxusd market-data
// service: stocks, daily prices, FX rates, sync status, and the small
// value types the rest of the system passes between packages.
package domain

import "time"

// Market identifies the KRX board a stock is listed on.
type Market string

const (
	MarketKOSPI  Market = "KOSPI"
	MarketKOSDAQ Market = "KOSDAQ"
	MarketKONEX  Market = "KONEX"
)

// ValidMarket reports whether m is one of the three KRX boards.
func ValidMarket(m Market) bool {
	switch m {
	case MarketKOSPI, MarketKOSDAQ, MarketKONEX:
		return true
	default:
		return false
	}
}

// Stock is the master record for one KRX-listed symbol.
// Identity is Symbol, normalized uppercase. Created on first reference by
// SyncEngine (auto-create); never deleted, only soft-flagged via IsActive.
type Stock struct {
	ID            int64
	Symbol        string
	Name          string
	NameEn        string
	Market        Market
	Sector        string
	Industry      string
	ListedShares  int64
	ListingDate   *time.Time
	IsActive      bool
}
