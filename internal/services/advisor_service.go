package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"finadvisor/internal/logging"
	"finadvisor/internal/models"
)

// AdvisorService is the conversation router. It owns the chat turn: resolve
// the session, classify the utterance, dispatch to the matching capability,
// and assemble the reply. Classification never fails; unrecognized input is
// answered as general conversation.
type AdvisorService struct {
	sessions  *SessionService
	intents   *IntentService
	analysis  *AnalysisService
	market    MarketGateway
	reminders *ReminderService
	audit     *AuditService
}

// NewAdvisorService creates a new conversation router
func NewAdvisorService(
	sessions *SessionService,
	intents *IntentService,
	analysis *AnalysisService,
	market MarketGateway,
	reminders *ReminderService,
	audit *AuditService,
) *AdvisorService {
	return &AdvisorService{
		sessions:  sessions,
		intents:   intents,
		analysis:  analysis,
		market:    market,
		reminders: reminders,
		audit:     audit,
	}
}

// Chat handles one conversation turn
func (s *AdvisorService) Chat(ctx context.Context, req *models.ChatRequest) (*models.ChatResponse, error) {
	start := time.Now()
	if m := GetMetrics(); m != nil {
		m.ChatRequests.Inc()
		defer func() {
			m.ChatRequestLatency.Observe(time.Since(start).Seconds())
		}()
	}

	session := s.sessions.GetOrCreate(req.SessionID, req.UserID)
	freshSession := len(session.Messages) == 0

	intent := s.intents.Classify(session, req.Message)
	if m := GetMetrics(); m != nil {
		m.Classifications.WithLabelValues(string(intent.Type)).Inc()
	}
	logging.WithSession(session.ID, req.UserID).Debug("classified message",
		"intent", string(intent.Type), "confidence", intent.Confidence)

	payload := fmt.Sprintf("intent=%s confidence=%.2f message_digest=%s",
		intent.Type, intent.Confidence, models.DigestPayload(req.Message))
	if err := s.audit.Record(ctx, models.AuditActorRouter, models.AuditActionClassified, session.ID, payload, false); err != nil {
		return nil, err
	}

	s.sessions.Append(session, "user", req.Message)

	resp, err := s.dispatch(ctx, session, intent)
	if err != nil {
		return nil, err
	}

	// A returning user gets told about reminders that failed to deliver
	// while they were away, once per failure.
	if freshSession {
		if notice := s.failureNotice(ctx, req.UserID); notice != "" {
			resp.Message = notice + "\n\n" + resp.Message
		}
	}

	// Every reply carries the compliance disclaimer, not just analysis.
	if resp.Disclaimer == "" {
		resp.Disclaimer = models.Disclaimer
	}
	resp.SessionID = session.ID
	resp.Timestamp = time.Now().UTC()
	s.sessions.Append(session, "assistant", resp.Message)

	return resp, nil
}

// dispatch routes a classified intent to its capability
func (s *AdvisorService) dispatch(ctx context.Context, session *models.Session, intent models.Intent) (*models.ChatResponse, error) {
	switch intent.Type {
	case models.IntentAnalysisRequest:
		return s.handleAnalysis(ctx, session, intent)
	case models.IntentReminderCreate:
		return s.handleReminderCreate(ctx, session, intent)
	case models.IntentReminderList:
		return s.handleReminderList(ctx, session)
	case models.IntentReminderCancel:
		return s.handleReminderCancel(ctx, session, intent)
	default:
		return s.handleGeneral(), nil
	}
}

func (s *AdvisorService) handleAnalysis(ctx context.Context, session *models.Session, intent models.Intent) (*models.ChatResponse, error) {
	if len(intent.Tickers) == 0 {
		return &models.ChatResponse{
			Message: "Which stock would you like me to look at? Give me a ticker symbol, e.g. AAPL or MSFT.",
		}, nil
	}

	var data []*models.MarketData
	var missing []string
	for _, ticker := range intent.Tickers {
		md, err := FetchMarketData(ctx, s.market, ticker)
		if err != nil {
			return nil, err
		}
		if md.Missing() {
			missing = append(missing, ticker)
			continue
		}
		data = append(data, md)
	}

	if len(data) == 0 {
		log.Printf("⚠️  [ADVISOR] No market data for %v", intent.Tickers)
		return &models.ChatResponse{
			Message: fmt.Sprintf("I don't have market data for %s right now, so I can't run that analysis. Try again in a bit or ask about a different ticker.",
				strings.Join(missing, ", ")),
		}, nil
	}

	analysis := s.analysis.Render(intent, data)

	auditPayload := fmt.Sprintf("kind=%s tickers=%s confidence=%s citations=%d response_digest=%s",
		intent.AnalysisKind, strings.Join(intent.Tickers, ","), analysis.Confidence,
		len(analysis.Citations), models.DigestPayload(analysis.Text))
	if err := s.audit.Record(ctx, models.AuditActorRouter, models.AuditActionAnalysisServed, session.ID, auditPayload, false); err != nil {
		return nil, err
	}

	s.sessions.SetLastSubject(session, data[0].Ticker)

	message := analysis.Text
	if len(missing) > 0 {
		message += fmt.Sprintf("\n\n(No data available for %s, left out of the analysis.)", strings.Join(missing, ", "))
	}

	return &models.ChatResponse{
		Message:      message,
		AnalysisType: string(intent.AnalysisKind),
		Confidence:   analysis.Confidence,
		Citations:    analysis.Citations,
		Disclaimer:   analysis.Disclaimer,
	}, nil
}

func (s *AdvisorService) handleReminderCreate(ctx context.Context, session *models.Session, intent models.Intent) (*models.ChatResponse, error) {
	if intent.ValidationError != nil {
		return &models.ChatResponse{
			Message: fmt.Sprintf("I couldn't set that up: %s. Try something like \"alert me when AAPL drops below 180\" or \"remind me about TSLA tomorrow\".",
				intent.ValidationError.Reason),
		}, nil
	}
	if intent.Trigger == nil {
		return &models.ChatResponse{
			Message: "When should I remind you? I can watch a price level (\"when AAPL drops below 180\"), a date (\"tomorrow\"), or a schedule (\"every day\").",
		}, nil
	}
	if intent.Ticker == "" {
		return &models.ChatResponse{
			Message: "Which ticker should that reminder watch?",
		}, nil
	}

	reminder, err := s.reminders.Create(ctx, session.UserID, &models.CreateReminderRequest{
		Ticker:  intent.Ticker,
		Trigger: *intent.Trigger,
	})
	if err != nil {
		if models.IsValidation(err) {
			return &models.ChatResponse{
				Message: fmt.Sprintf("I couldn't set that up: %s.", err.Error()),
			}, nil
		}
		return nil, err
	}

	return &models.ChatResponse{
		Message: fmt.Sprintf("Done. I'll %s. Reminder ID: %s. Say \"cancel %s\" any time to drop it.",
			describeTrigger(reminder), reminder.ID, reminder.ID),
	}, nil
}

func (s *AdvisorService) handleReminderList(ctx context.Context, session *models.Session) (*models.ChatResponse, error) {
	reminders, err := s.reminders.ListByUser(ctx, session.UserID)
	if err != nil {
		return nil, err
	}

	var live []*models.Reminder
	for _, r := range reminders {
		if !r.Status.Terminal() {
			live = append(live, r)
		}
	}

	if len(live) == 0 {
		return &models.ChatResponse{
			Message: "You have no active reminders. Say something like \"alert me when AAPL drops below 180\" to set one up.",
		}, nil
	}

	var b strings.Builder
	fmt.Fprintf(&b, "You have %d reminder(s):\n", len(live))
	for _, r := range live {
		fmt.Fprintf(&b, "• %s: %s (%s)\n", r.ID, describeTrigger(r), r.Status)
	}
	return &models.ChatResponse{Message: strings.TrimRight(b.String(), "\n")}, nil
}

func (s *AdvisorService) handleReminderCancel(ctx context.Context, session *models.Session, intent models.Intent) (*models.ChatResponse, error) {
	if intent.ReminderID == "" {
		return &models.ChatResponse{
			Message: "Which reminder should I cancel? Say \"list my reminders\" to see their IDs.",
		}, nil
	}

	reminder, err := s.reminders.Cancel(ctx, intent.ReminderID, session.UserID)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrNotFound):
			return &models.ChatResponse{
				Message: fmt.Sprintf("I couldn't find a reminder %s for you. Say \"list my reminders\" to see what's active.", intent.ReminderID),
			}, nil
		case errors.Is(err, models.ErrAlreadyTriggered):
			return &models.ChatResponse{
				Message: fmt.Sprintf("Reminder %s already fired, so there's nothing left to cancel.", intent.ReminderID),
			}, nil
		default:
			return nil, err
		}
	}

	return &models.ChatResponse{
		Message: fmt.Sprintf("Canceled reminder %s (%s).", reminder.ID, describeTrigger(reminder)),
	}, nil
}

func (s *AdvisorService) handleGeneral() *models.ChatResponse {
	return &models.ChatResponse{
		Message: "I can analyze stocks and watch them for you. Try \"analyze AAPL\", \"compare MSFT vs GOOGL\", or \"alert me when TSLA drops below 200\".",
	}
}

// failureNotice builds the one-time notice for reminders that failed to
// deliver, and marks them as noticed.
func (s *AdvisorService) failureNotice(ctx context.Context, userID string) string {
	failed, err := s.reminders.UnnoticedFailures(ctx, userID)
	if err != nil {
		log.Printf("⚠️  [ADVISOR] Failed to load failure notices for %s: %v", userID, err)
		return ""
	}
	if len(failed) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("Heads up: I couldn't deliver some of your reminder notifications:\n")
	for _, r := range failed {
		fmt.Fprintf(&b, "• %s: %s\n", r.ID, describeTrigger(r))
		if err := s.reminders.MarkFailureNoticed(ctx, r.ID); err != nil {
			log.Printf("⚠️  [ADVISOR] Failed to mark notice for %s: %v", r.ID, err)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// describeTrigger renders a trigger as conversational text
func describeTrigger(r *models.Reminder) string {
	switch r.Trigger.Type {
	case models.TriggerPriceAbove:
		return fmt.Sprintf("alert you when %s rises above %.2f", r.Ticker, r.Trigger.Threshold)
	case models.TriggerPriceBelow:
		return fmt.Sprintf("alert you when %s drops below %.2f", r.Ticker, r.Trigger.Threshold)
	case models.TriggerDate:
		return fmt.Sprintf("remind you about %s on %s", r.Ticker, r.Trigger.Date.Format("Jan 2, 2006 at 15:04 MST"))
	case models.TriggerCron:
		return fmt.Sprintf("check in on %s on the schedule %q", r.Ticker, r.Trigger.CronExpr)
	default:
		return fmt.Sprintf("watch %s", r.Ticker)
	}
}
