package models

import (
	"time"
)

// Quote is a price snapshot from the data adapter gateway. Stale quotes are a
// degrade-confidence signal, never a hard failure.
type Quote struct {
	Ticker string    `json:"ticker"`
	Price  float64   `json:"price"`
	AsOf   time.Time `json:"as_of"`
	Stale  bool      `json:"stale"`
}

// Fundamentals holds the per-ticker metrics the analysis templates cite.
// Field shape follows the usual fundamentals feeds (P/E, EPS, market cap).
type Fundamentals struct {
	Ticker           string    `json:"ticker"`
	MarketCap        float64   `json:"market_cap"`
	PE               float64   `json:"pe_ratio"`
	EPS              float64   `json:"eps"`
	Beta             float64   `json:"beta"`
	RevenueGrowthYoY float64   `json:"revenue_growth_yoy"` // fraction, 0.15 == +15%
	ProfitMargin     float64   `json:"profit_margin"`      // fraction
	DividendYield    float64   `json:"dividend_yield"`
	Sector           string    `json:"sector"`
	LastUpdated      time.Time `json:"last_updated"`
	Stale            bool      `json:"stale"`
}

// MarketData bundles what the router fetched for one analysis request. Either
// part may be nil when the gateway had nothing for the ticker.
type MarketData struct {
	Ticker       string
	Quote        *Quote
	Fundamentals *Fundamentals
}

// Missing reports whether no usable data was fetched at all.
func (d *MarketData) Missing() bool {
	return d == nil || (d.Quote == nil && d.Fundamentals == nil)
}

// Degraded reports whether any fetched part is marked stale or a part is
// absent, which lowers analysis confidence by one tier.
func (d *MarketData) Degraded() bool {
	if d.Missing() {
		return true
	}
	if d.Quote == nil || d.Quote.Stale {
		return true
	}
	if d.Fundamentals == nil || d.Fundamentals.Stale {
		return true
	}
	return false
}
