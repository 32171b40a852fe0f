package services

import (
	"fmt"
	"strings"

	"finadvisor/internal/models"
)

// staleCaveat is appended whenever a template's required data is missing or
// marked stale by the gateway.
const staleCaveat = "Note: some of the underlying data is unavailable or stale; treat these figures with caution."

// AnalysisService renders structured analysis responses from an intent and
// already-fetched market data. Rendering is a pure function of its inputs:
// no hidden state, no I/O.
type AnalysisService struct{}

// NewAnalysisService creates a new analysis template engine
func NewAnalysisService() *AnalysisService {
	return &AnalysisService{}
}

// Render produces the analysis response for an intent. Missing or stale data
// never aborts rendering: confidence drops by one tier and an explicit caveat
// is appended. The compliance disclaimer is always attached last.
func (s *AnalysisService) Render(intent models.Intent, data []*models.MarketData) *models.AnalysisResponse {
	var text string
	var citations []string

	switch intent.AnalysisKind {
	case models.AnalysisBullBear:
		text, citations = renderBullBear(intent, data)
	case models.AnalysisEarnings:
		text, citations = renderEarnings(data)
	case models.AnalysisComparison:
		text, citations = renderComparison(data)
	case models.AnalysisRisk:
		text, citations = renderRisk(data)
	default:
		text, citations = renderGeneral(intent)
	}

	confidence := models.ConfidenceHigh
	degraded := len(data) == 0
	for _, d := range data {
		if d.Degraded() {
			degraded = true
		}
	}
	if degraded && intent.AnalysisKind != models.AnalysisGeneral {
		confidence = confidence.Degrade()
		text += "\n\n" + staleCaveat
	}
	if intent.AnalysisKind == models.AnalysisGeneral {
		confidence = models.ConfidenceMedium
	}

	return &models.AnalysisResponse{
		Text:       text,
		Citations:  citations,
		Confidence: confidence,
		Disclaimer: models.Disclaimer,
	}
}

func renderBullBear(intent models.Intent, data []*models.MarketData) (string, []string) {
	ticker := firstTicker(intent, data)

	var b strings.Builder
	fmt.Fprintf(&b, "**Bull/Bear Case for %s**\n\n", ticker)

	b.WriteString("**Bull factors:**\n")
	if f := firstFundamentals(data); f != nil {
		fmt.Fprintf(&b, "- Revenue growth YoY at %+.0f%%\n", f.RevenueGrowthYoY*100)
		fmt.Fprintf(&b, "- Profit margin of %.0f%%\n", f.ProfitMargin*100)
	} else {
		b.WriteString("- Growth trajectory (figures unavailable)\n")
	}
	b.WriteString("- Market position in its core segments\n")

	b.WriteString("\n**Bear factors:**\n")
	if f := firstFundamentals(data); f != nil {
		fmt.Fprintf(&b, "- Valuation at %.1fx earnings leaves little room for disappointment\n", f.PE)
		fmt.Fprintf(&b, "- Beta of %.2f implies above-market drawdowns in a downturn\n", f.Beta)
	} else {
		b.WriteString("- Valuation data unavailable\n")
	}
	b.WriteString("- Competitive pressure in core markets\n")

	return b.String(), buildCitations(data)
}

func renderEarnings(data []*models.MarketData) (string, []string) {
	var b strings.Builder
	for _, d := range data {
		fmt.Fprintf(&b, "**Earnings snapshot for %s**\n\n", d.Ticker)
		if d.Fundamentals != nil {
			fmt.Fprintf(&b, "- EPS: $%.2f\n", d.Fundamentals.EPS)
			fmt.Fprintf(&b, "- Revenue growth YoY: %+.0f%%\n", d.Fundamentals.RevenueGrowthYoY*100)
			fmt.Fprintf(&b, "- Profit margin: %.0f%%\n", d.Fundamentals.ProfitMargin*100)
		} else {
			b.WriteString("- Earnings figures unavailable\n")
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		b.WriteString("I could not find earnings data for that request.")
	}
	return strings.TrimSpace(b.String()), buildCitations(data)
}

func renderComparison(data []*models.MarketData) (string, []string) {
	var b strings.Builder
	b.WriteString("**Comparison**\n\n")
	for _, d := range data {
		fmt.Fprintf(&b, "- %s:", d.Ticker)
		if d.Quote != nil {
			fmt.Fprintf(&b, " $%.2f", d.Quote.Price)
		}
		if d.Fundamentals != nil {
			fmt.Fprintf(&b, ", P/E %.1f, growth %+.0f%%", d.Fundamentals.PE, d.Fundamentals.RevenueGrowthYoY*100)
		}
		b.WriteString("\n")
	}
	if len(data) < 2 {
		b.WriteString("\nName two tickers and I can put them side by side.")
	}
	return b.String(), buildCitations(data)
}

func renderRisk(data []*models.MarketData) (string, []string) {
	var b strings.Builder
	for _, d := range data {
		fmt.Fprintf(&b, "**Risk profile for %s**\n\n", d.Ticker)
		if d.Fundamentals != nil {
			fmt.Fprintf(&b, "- Beta: %.2f\n", d.Fundamentals.Beta)
			fmt.Fprintf(&b, "- Sector exposure: %s\n", d.Fundamentals.Sector)
			fmt.Fprintf(&b, "- Valuation multiple: %.1fx earnings\n", d.Fundamentals.PE)
		} else {
			b.WriteString("- Risk metrics unavailable\n")
		}
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		b.WriteString("I could not find risk metrics for that request.")
	}
	return strings.TrimSpace(b.String()), buildCitations(data)
}

func renderGeneral(intent models.Intent) (string, []string) {
	var context string
	if len(intent.Tickers) > 0 {
		context = fmt.Sprintf(" I can see you're interested in %s.", strings.Join(intent.Tickers, ", "))
	}
	text := "I'm here to help with your investment research." + context +
		" You can ask me about bull/bear cases, earnings analysis, stock comparisons, or risk assessments," +
		" or say something like \"remind me when AAPL drops below $180\"."
	return text, nil
}

// buildCitations derives the citation list from the data actually used.
// Every response that used any data carries at least one citation.
func buildCitations(data []*models.MarketData) []string {
	var citations []string
	for _, d := range data {
		if d.Quote != nil {
			note := ""
			if d.Quote.Stale {
				note = " (stale)"
			}
			citations = append(citations, fmt.Sprintf("%s last price: $%.2f as of %s%s",
				d.Ticker, d.Quote.Price, d.Quote.AsOf.Format("2006-01-02 15:04 MST"), note))
		}
		if d.Fundamentals != nil {
			citations = append(citations, fmt.Sprintf("%s P/E: %.1f", d.Ticker, d.Fundamentals.PE))
			citations = append(citations, fmt.Sprintf("%s revenue growth YoY: %+.0f%%",
				d.Ticker, d.Fundamentals.RevenueGrowthYoY*100))
		}
	}
	return citations
}

func firstTicker(intent models.Intent, data []*models.MarketData) string {
	if len(intent.Tickers) > 0 {
		return intent.Tickers[0]
	}
	if len(data) > 0 {
		return data[0].Ticker
	}
	return "this stock"
}

func firstFundamentals(data []*models.MarketData) *models.Fundamentals {
	for _, d := range data {
		if d.Fundamentals != nil {
			return d.Fundamentals
		}
	}
	return nil
}
