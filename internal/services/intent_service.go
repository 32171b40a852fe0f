package services

import (
	"regexp"
	"strconv"
	"strings"
	"time"

	"finadvisor/internal/models"

	"github.com/robfig/cron/v3"
)

// tickerPattern matches candidate ticker symbols: 1-5 uppercase letters.
var tickerPattern = regexp.MustCompile(`\b[A-Z]{1,5}\b`)

// reminderIDPattern matches reminder IDs in the rem-<8 hex> form.
var reminderIDPattern = regexp.MustCompile(`\brem-[0-9a-f]{8}\b`)

// priceBelowPattern and priceAbovePattern pull the threshold out of phrases
// like "drops below $180" or "rises above 250.50".
var (
	priceBelowPattern = regexp.MustCompile(`(?i)(?:drops?|falls?|dips?|goes|is|sinks?)?\s*(?:below|under)\s*\$?([0-9]+(?:\.[0-9]+)?)`)
	priceAbovePattern = regexp.MustCompile(`(?i)(?:rises?|goes|climbs?|is|breaks?)?\s*(?:above|over|past)\s*\$?([0-9]+(?:\.[0-9]+)?)|(?i)(?:hits?|reach(?:es)?|crosses)\s*\$?([0-9]+(?:\.[0-9]+)?)`)
	priceWordPattern  = regexp.MustCompile(`(?i)\b(below|under|above|over|hits?|reach(?:es)?|crosses|past)\b`)
)

// cronExprPattern finds an explicit five-field cron expression in free text.
var cronExprPattern = regexp.MustCompile(`(?:^|\s)((?:[0-9*/,.\-]+\s+){4}[0-9*/,.\-A-Za-z]+)(?:\s|$)`)

// Words that match the ticker pattern but are plain English, seeded from the
// ticker extraction exclusion list plus our trigger vocabulary.
var excludedTickerWords = map[string]struct{}{
	"I": {}, "A": {}, "MY": {}, "THE": {}, "FOR": {}, "AND": {}, "OR": {},
	"IF": {}, "WHEN": {}, "ME": {}, "AT": {}, "ON": {}, "IN": {}, "TO": {},
	"VS": {}, "USD": {}, "PE": {}, "EPS": {},
}

// cronParser accepts standard five-field expressions (minute through day of
// week), matching what the reminder store validates.
var cronParser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// IntentService maps a raw utterance to a structured intent. Classification
// never fails: ambiguity yields a low-confidence general intent so the router
// can ask a clarifying question instead of guessing.
type IntentService struct {
	symbols         *SymbolService
	confidenceFloor float64
	now             func() time.Time
}

// NewIntentService creates a new intent classifier
func NewIntentService(symbols *SymbolService, confidenceFloor float64) *IntentService {
	return &IntentService{
		symbols:         symbols,
		confidenceFloor: confidenceFloor,
		now:             time.Now,
	}
}

// Classify maps text to an intent given the session context. Below the
// configured confidence floor the result collapses to a general intent even
// when a keyword matched.
func (s *IntentService) Classify(session *models.Session, text string) models.Intent {
	intent := s.classify(session, text)

	if intent.Type != models.IntentGeneral && intent.Confidence < s.confidenceFloor {
		return models.Intent{Type: models.IntentGeneral, Confidence: intent.Confidence}
	}

	return intent
}

func (s *IntentService) classify(session *models.Session, text string) models.Intent {
	lower := strings.ToLower(text)

	// A reminder ID in the message is unambiguous even without a keyword
	if strings.Contains(lower, "remind") || strings.Contains(lower, "alert") ||
		strings.Contains(lower, "notif") || reminderIDPattern.MatchString(lower) {
		return s.classifyReminder(session, text, lower)
	}

	return s.classifyAnalysis(session, text, lower)
}

func (s *IntentService) classifyReminder(session *models.Session, text, lower string) models.Intent {
	// List before cancel: "cancel" inside "show me my reminders so I can
	// cancel one" is rare enough not to special-case.
	if containsAny(lower, "list", "show", "what are") && strings.Contains(lower, "reminder") {
		return models.Intent{Type: models.IntentReminderList, Confidence: 0.9}
	}

	if containsAny(lower, "cancel", "delete", "remove", "stop") {
		if id := reminderIDPattern.FindString(lower); id != "" {
			return models.Intent{Type: models.IntentReminderCancel, ReminderID: id, Confidence: 0.9}
		}
		// Cancel without an ID is answerable only with a clarifying question.
		return models.Intent{Type: models.IntentReminderCancel, Confidence: 0.4}
	}

	ticker := s.extractTicker(session, text)
	trigger, verr := s.extractTrigger(text, lower)

	intent := models.Intent{
		Type:            models.IntentReminderCreate,
		Ticker:          ticker,
		Trigger:         trigger,
		ValidationError: verr,
	}

	switch {
	case verr != nil:
		// Trigger was clearly requested but its parameters did not parse.
		// Classification still succeeds; the caller produces the error.
		intent.Confidence = 0.8
	case trigger == nil:
		intent.Confidence = 0.35
	case ticker == "" && trigger.Type != models.TriggerDate && trigger.Type != models.TriggerCron:
		// Price triggers are meaningless without a subject.
		intent.Confidence = 0.4
	default:
		intent.Confidence = 0.9
	}

	return intent
}

func (s *IntentService) classifyAnalysis(session *models.Session, text, lower string) models.Intent {
	kind := detectAnalysisKind(lower)
	tickers := s.extractTickers(session, text)

	if kind == models.AnalysisGeneral {
		// An explicit analysis cue with a ticker still counts even when no
		// specific flavor was named.
		if len(tickers) > 0 && containsAny(lower, "analy", "look at", "thoughts on", "tell me about", "how is", "how's") {
			return models.Intent{
				Type:         models.IntentAnalysisRequest,
				AnalysisKind: models.AnalysisGeneral,
				Tickers:      tickers,
				Confidence:   0.85,
			}
		}
		return models.Intent{
			Type:         models.IntentGeneral,
			AnalysisKind: models.AnalysisGeneral,
			Tickers:      tickers,
			Confidence:   0.3,
		}
	}

	confidence := 0.85
	if len(tickers) == 0 {
		confidence = 0.45
	} else if len(tickers) == 1 && tickers[0] == session.LastSubject && !containsTickerLiteral(text, tickers[0]) {
		// Subject inherited from context rather than named in the message.
		confidence = 0.7
	}

	return models.Intent{
		Type:         models.IntentAnalysisRequest,
		AnalysisKind: kind,
		Tickers:      tickers,
		Confidence:   confidence,
	}
}

// detectAnalysisKind detects the type of analysis requested from the message.
func detectAnalysisKind(lower string) models.AnalysisKind {
	switch {
	case containsAny(lower, "bull", "bear", "case"):
		return models.AnalysisBullBear
	case containsAny(lower, "earnings", "report"):
		return models.AnalysisEarnings
	case containsAny(lower, "compare", "comparison", "versus", " vs "):
		return models.AnalysisComparison
	case containsAny(lower, "risk", "volatility", "downside"):
		return models.AnalysisRisk
	default:
		return models.AnalysisGeneral
	}
}

// extractTickers pulls ticker symbols out of the message. When the session
// has no last subject, candidates are checked against the known-symbol set;
// with a last subject present, uppercase words are trusted and the last
// subject fills in when nothing matches.
func (s *IntentService) extractTickers(session *models.Session, text string) []string {
	var tickers []string
	seen := make(map[string]struct{})

	for _, match := range tickerPattern.FindAllString(text, -1) {
		if _, excluded := excludedTickerWords[match]; excluded {
			continue
		}
		if session.LastSubject == "" && s.symbols.Count() > 0 && !s.symbols.Known(match) {
			continue
		}
		if _, dup := seen[match]; dup {
			continue
		}
		seen[match] = struct{}{}
		tickers = append(tickers, match)
	}

	if len(tickers) == 0 && session.LastSubject != "" {
		tickers = append(tickers, session.LastSubject)
	}

	return tickers
}

func (s *IntentService) extractTicker(session *models.Session, text string) string {
	tickers := s.extractTickers(session, text)
	if len(tickers) == 0 {
		return ""
	}
	return tickers[0]
}

// extractTrigger parses the trigger condition out of a reminder request.
// A syntactically invalid parameter yields a ValidationError instead of an
// error return, deferring user-facing error production to the caller.
func (s *IntentService) extractTrigger(text, lower string) (*models.Trigger, *models.ValidationError) {
	// Price thresholds first: they are the most explicit form.
	if m := priceBelowPattern.FindStringSubmatch(text); m != nil {
		return s.priceTrigger(models.TriggerPriceBelow, m[1])
	}
	if m := priceAbovePattern.FindStringSubmatch(text); m != nil {
		value := m[1]
		if value == "" {
			value = m[2]
		}
		return s.priceTrigger(models.TriggerPriceAbove, value)
	}
	if priceWordPattern.MatchString(lower) {
		return nil, models.NewValidationError("trigger", "could not parse a price threshold from %q", text)
	}

	// Explicit cron expression.
	if m := cronExprPattern.FindStringSubmatch(text); m != nil {
		expr := strings.TrimSpace(m[1])
		if _, err := cronParser.Parse(expr); err != nil {
			return nil, models.NewValidationError("trigger", "invalid cron expression %q", expr)
		}
		return &models.Trigger{Type: models.TriggerCron, CronExpr: expr}, nil
	}

	// Recurring phrases.
	if containsAny(lower, "every day", "daily") {
		return &models.Trigger{Type: models.TriggerCron, CronExpr: "0 9 * * *"}, nil
	}
	if containsAny(lower, "every week", "weekly") {
		return &models.Trigger{Type: models.TriggerCron, CronExpr: "0 9 * * 1"}, nil
	}
	if containsAny(lower, "every hour", "hourly") {
		return &models.Trigger{Type: models.TriggerCron, CronExpr: "0 * * * *"}, nil
	}

	// Date forms, absolute then relative.
	if t, verr, found := s.extractDate(text, lower); found {
		if verr != nil {
			return nil, verr
		}
		return &models.Trigger{Type: models.TriggerDate, Date: t}, nil
	}

	return nil, nil
}

func (s *IntentService) priceTrigger(triggerType models.TriggerType, raw string) (*models.Trigger, *models.ValidationError) {
	threshold, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return nil, models.NewValidationError("trigger", "unparsable price %q", raw)
	}
	return &models.Trigger{Type: triggerType, Threshold: threshold}, nil
}

var datePattern = regexp.MustCompile(`\b(\d{4}-\d{2}-\d{2}(?:[T ]\d{2}:\d{2}(?::\d{2})?(?:Z|[+-]\d{2}:\d{2})?)?)\b`)
var relativePattern = regexp.MustCompile(`(?i)\bin\s+(\d+)\s+(minute|hour|day|week)s?\b`)

func (s *IntentService) extractDate(text, lower string) (time.Time, *models.ValidationError, bool) {
	if m := datePattern.FindString(text); m != "" {
		layouts := []string{
			time.RFC3339,
			"2006-01-02T15:04",
			"2006-01-02 15:04:05",
			"2006-01-02 15:04",
			"2006-01-02",
		}
		for _, layout := range layouts {
			if t, err := time.Parse(layout, m); err == nil {
				return t.UTC(), nil, true
			}
		}
		return time.Time{}, models.NewValidationError("trigger", "unparsable date %q", m), true
	}

	if m := relativePattern.FindStringSubmatch(lower); m != nil {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return time.Time{}, models.NewValidationError("trigger", "unparsable offset %q", m[1]), true
		}
		var unit time.Duration
		switch m[2] {
		case "minute":
			unit = time.Minute
		case "hour":
			unit = time.Hour
		case "day":
			unit = 24 * time.Hour
		case "week":
			unit = 7 * 24 * time.Hour
		}
		return s.now().UTC().Add(time.Duration(n) * unit), nil, true
	}

	if strings.Contains(lower, "tomorrow") {
		return s.now().UTC().Add(24 * time.Hour), nil, true
	}

	return time.Time{}, nil, false
}

func containsAny(text string, keywords ...string) bool {
	for _, kw := range keywords {
		if strings.Contains(text, kw) {
			return true
		}
	}
	return false
}

func containsTickerLiteral(text, ticker string) bool {
	return strings.Contains(text, ticker)
}
