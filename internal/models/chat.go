package models

import (
	"time"
)

// Disclaimer is appended to every rendered analysis response. This is a
// compliance requirement, not a template option.
const Disclaimer = "This is not financial advice. All analysis is for informational purposes only."

// Confidence is the three-tier data quality indicator attached to analysis
// responses.
type Confidence string

const (
	ConfidenceHigh   Confidence = "high"
	ConfidenceMedium Confidence = "medium"
	ConfidenceLow    Confidence = "low"
)

// Degrade lowers the confidence by exactly one tier. Low stays low.
func (c Confidence) Degrade() Confidence {
	switch c {
	case ConfidenceHigh:
		return ConfidenceMedium
	case ConfidenceMedium:
		return ConfidenceLow
	default:
		return ConfidenceLow
	}
}

// Message is a single turn in a conversation.
type Message struct {
	Role      string    `json:"role"` // "user" or "assistant"
	Content   string    `json:"content"`
	Timestamp time.Time `json:"timestamp"`
}

// Session holds per-user conversation state. Sessions are kept in a TTL cache
// and expire after an inactivity window; the core only reads and writes them
// by key.
type Session struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Messages    []Message `json:"messages"`
	LastSubject string    `json:"last_subject,omitempty"` // last analyzed ticker, if any
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// ChatRequest is the inbound payload for POST /api/chat.
type ChatRequest struct {
	Message   string `json:"message"`
	SessionID string `json:"session_id,omitempty"`
	UserID    string `json:"user_id"`
}

// ChatResponse is the outbound payload for POST /api/chat.
type ChatResponse struct {
	Message      string     `json:"message"`
	SessionID    string     `json:"session_id"`
	Timestamp    time.Time  `json:"timestamp"`
	AnalysisType string     `json:"analysis_type,omitempty"`
	Confidence   Confidence `json:"confidence,omitempty"`
	Citations    []string   `json:"citations"`
	Disclaimer   string     `json:"disclaimer"`
}

// AnalysisResponse is the output of the template engine before it is wrapped
// into a ChatResponse.
type AnalysisResponse struct {
	Text       string
	Citations  []string
	Confidence Confidence
	Disclaimer string
}
