package services

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"finadvisor/internal/models"

	cache "github.com/patrickmn/go-cache"
)

// MarketGateway is the data adapter contract the core consumes. A stale
// result is a degrade-confidence signal, never a hard failure; a missing
// ticker returns models.ErrNotFound.
type MarketGateway interface {
	Quote(ctx context.Context, ticker string) (*models.Quote, error)
	Fundamentals(ctx context.Context, ticker string) (*models.Fundamentals, error)
}

// NewMarketGateway selects a gateway implementation by name. Swapping
// providers never touches the reminder store or the evaluator.
func NewMarketGateway(provider string) (MarketGateway, error) {
	switch provider {
	case "", "static":
		return NewStaticGatewayWithDefaults(), nil
	default:
		return nil, fmt.Errorf("unknown market data provider: %s", provider)
	}
}

// StaticGateway serves quotes and fundamentals from an in-process table.
// Used for development deployments and tests; real feeds plug in behind the
// same interface.
type StaticGateway struct {
	mu           sync.RWMutex
	quotes       map[string]*models.Quote
	fundamentals map[string]*models.Fundamentals
	liveAsOf     bool // stamp quotes with the current time on read
}

// NewStaticGateway creates an empty static gateway
func NewStaticGateway() *StaticGateway {
	return &StaticGateway{
		quotes:       make(map[string]*models.Quote),
		fundamentals: make(map[string]*models.Fundamentals),
	}
}

// staticDataset is the development dataset. Figures are plausible
// placeholders in the shape of a real fundamentals feed, not live data.
var staticDataset = []struct {
	ticker    string
	price     float64
	marketCap float64
	pe        float64
	eps       float64
	beta      float64
	growthYoY float64
	margin    float64
	divYield  float64
	sector    string
}{
	{"AAPL", 189.30, 2.95e12, 29.4, 6.44, 1.24, 0.08, 0.26, 0.0051, "Technology"},
	{"MSFT", 415.20, 3.09e12, 35.1, 11.82, 0.90, 0.15, 0.36, 0.0072, "Technology"},
	{"GOOGL", 172.60, 2.13e12, 24.8, 6.97, 1.05, 0.13, 0.27, 0.0047, "Communication Services"},
	{"AMZN", 186.40, 1.94e12, 42.3, 4.41, 1.15, 0.12, 0.08, 0, "Consumer Discretionary"},
	{"NVDA", 131.80, 3.24e12, 55.6, 2.37, 1.68, 0.94, 0.55, 0.0003, "Technology"},
	{"META", 563.10, 1.43e12, 27.2, 20.70, 1.21, 0.22, 0.34, 0.0036, "Communication Services"},
	{"TSLA", 248.50, 0.79e12, 68.9, 3.61, 2.29, 0.15, 0.13, 0, "Consumer Discretionary"},
	{"JPM", 210.40, 0.60e12, 12.1, 17.39, 1.10, 0.09, 0.33, 0.0219, "Financials"},
	{"KO", 62.30, 0.27e12, 22.0, 2.83, 0.59, 0.03, 0.24, 0.0312, "Consumer Staples"},
	{"AMD", 165.90, 0.27e12, 48.7, 3.41, 1.67, 0.18, 0.09, 0, "Technology"},
}

// NewStaticGatewayWithDefaults creates a static gateway seeded with the
// development dataset. Quotes read from it are stamped fresh so price
// triggers stay evaluable.
func NewStaticGatewayWithDefaults() *StaticGateway {
	g := NewStaticGateway()
	g.liveAsOf = true

	now := time.Now().UTC()
	for _, row := range staticDataset {
		g.SetQuote(&models.Quote{
			Ticker: row.ticker,
			Price:  row.price,
			AsOf:   now,
		})
		g.SetFundamentals(&models.Fundamentals{
			Ticker:           row.ticker,
			MarketCap:        row.marketCap,
			PE:               row.pe,
			EPS:              row.eps,
			Beta:             row.beta,
			RevenueGrowthYoY: row.growthYoY,
			ProfitMargin:     row.margin,
			DividendYield:    row.divYield,
			Sector:           row.sector,
			LastUpdated:      now,
		})
	}
	return g
}

// SetQuote seeds or replaces the quote for a ticker.
func (g *StaticGateway) SetQuote(q *models.Quote) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.quotes[q.Ticker] = q
}

// SetFundamentals seeds or replaces the fundamentals for a ticker.
func (g *StaticGateway) SetFundamentals(f *models.Fundamentals) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fundamentals[f.Ticker] = f
}

// Quote returns the seeded quote for a ticker.
func (g *StaticGateway) Quote(ctx context.Context, ticker string) (*models.Quote, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	q, ok := g.quotes[ticker]
	if !ok {
		return nil, fmt.Errorf("quote for %s: %w", ticker, models.ErrNotFound)
	}
	copied := *q
	if g.liveAsOf {
		copied.AsOf = time.Now().UTC()
	}
	return &copied, nil
}

// Fundamentals returns the seeded fundamentals for a ticker.
func (g *StaticGateway) Fundamentals(ctx context.Context, ticker string) (*models.Fundamentals, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	f, ok := g.fundamentals[ticker]
	if !ok {
		return nil, fmt.Errorf("fundamentals for %s: %w", ticker, models.ErrNotFound)
	}
	copied := *f
	return &copied, nil
}

// CachedGateway wraps a MarketGateway with short-lived caching so a burst of
// sweeps or chat requests does not hammer the provider. Quotes are cached
// briefly; fundamentals change slowly and cache longer.
type CachedGateway struct {
	inner        MarketGateway
	quoteCache   *cache.Cache
	fundamentals *cache.Cache
}

// NewCachedGateway wraps inner with the given quote cache TTL.
func NewCachedGateway(inner MarketGateway, quoteTTL time.Duration) *CachedGateway {
	return &CachedGateway{
		inner:        inner,
		quoteCache:   cache.New(quoteTTL, 2*quoteTTL),
		fundamentals: cache.New(15*time.Minute, 30*time.Minute),
	}
}

// Quote returns a cached quote when fresh, otherwise fetches from the inner
// gateway.
func (g *CachedGateway) Quote(ctx context.Context, ticker string) (*models.Quote, error) {
	if cached, found := g.quoteCache.Get(ticker); found {
		q := cached.(models.Quote)
		return &q, nil
	}

	q, err := g.inner.Quote(ctx, ticker)
	if err != nil {
		return nil, err
	}

	g.quoteCache.Set(ticker, *q, cache.DefaultExpiration)
	return q, nil
}

// Fundamentals returns cached fundamentals when fresh, otherwise fetches from
// the inner gateway.
func (g *CachedGateway) Fundamentals(ctx context.Context, ticker string) (*models.Fundamentals, error) {
	if cached, found := g.fundamentals.Get(ticker); found {
		f := cached.(models.Fundamentals)
		return &f, nil
	}

	f, err := g.inner.Fundamentals(ctx, ticker)
	if err != nil {
		return nil, err
	}

	g.fundamentals.Set(ticker, *f, cache.DefaultExpiration)
	return f, nil
}

// FetchMarketData gathers quote and fundamentals for a ticker, tolerating
// partial availability. It only errors on context cancellation.
func FetchMarketData(ctx context.Context, gateway MarketGateway, ticker string) (*models.MarketData, error) {
	data := &models.MarketData{Ticker: ticker}

	quote, err := gateway.Quote(ctx, ticker)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("📉 [MARKET] No quote for %s: %v", ticker, err)
	} else {
		data.Quote = quote
	}

	fundamentals, err := gateway.Fundamentals(ctx, ticker)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		log.Printf("📉 [MARKET] No fundamentals for %s: %v", ticker, err)
	} else {
		data.Fundamentals = fundamentals
	}

	return data, nil
}
