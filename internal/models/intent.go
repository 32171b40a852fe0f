package models

// IntentType classifies what a user utterance is asking for.
type IntentType string

const (
	IntentAnalysisRequest IntentType = "analysis_request"
	IntentReminderCreate  IntentType = "reminder_create"
	IntentReminderList    IntentType = "reminder_list"
	IntentReminderCancel  IntentType = "reminder_cancel"
	IntentGeneral         IntentType = "general"
)

// AnalysisKind is the flavor of market analysis requested.
type AnalysisKind string

const (
	AnalysisBullBear   AnalysisKind = "bull_bear"
	AnalysisEarnings   AnalysisKind = "earnings"
	AnalysisComparison AnalysisKind = "comparison"
	AnalysisRisk       AnalysisKind = "risk"
	AnalysisGeneral    AnalysisKind = "general"
)

// Intent is the structured classification of a user utterance. It is a closed
// tagged variant: Type selects which of the optional fields are meaningful.
// New capabilities are added by extending the variant, not by runtime
// registration.
type Intent struct {
	Type       IntentType
	Confidence float64 // [0,1]

	// IntentAnalysisRequest
	AnalysisKind AnalysisKind
	Tickers      []string

	// IntentReminderCreate
	Ticker  string
	Trigger *Trigger

	// IntentReminderCancel
	ReminderID string

	// ValidationError is set when a trigger was clearly requested but its
	// parameters did not parse. Classification still succeeds; the caller
	// produces the user-facing error.
	ValidationError *ValidationError
}
