package services

import (
	"bytes"
	"context"
	"encoding/json"
	"finadvisor/internal/models"
	"fmt"
	"log"
	"net/http"
	"time"
)

// NotificationChannel delivers a triggered-reminder notification to the user.
// Send reports the outcome of a single delivery attempt; transient failures
// are retried by the dispatcher, permanent ones are not.
type NotificationChannel interface {
	Name() string
	Send(ctx context.Context, reminder *models.Reminder, message string) (models.AttemptOutcome, string)
}

// NewNotificationChannel selects a channel implementation by name
func NewNotificationChannel(name, webhookURL string) (NotificationChannel, error) {
	switch name {
	case "", "log":
		return NewLogChannel(), nil
	case "webhook":
		if webhookURL == "" {
			return nil, fmt.Errorf("webhook channel requires WEBHOOK_URL")
		}
		return NewWebhookChannel(webhookURL), nil
	default:
		return nil, fmt.Errorf("unsupported notification channel: %s", name)
	}
}

// LogChannel writes notifications to the application log. It is the default
// channel and never fails.
type LogChannel struct{}

// NewLogChannel creates a log-backed notification channel
func NewLogChannel() *LogChannel {
	return &LogChannel{}
}

func (c *LogChannel) Name() string { return "log" }

func (c *LogChannel) Send(ctx context.Context, reminder *models.Reminder, message string) (models.AttemptOutcome, string) {
	log.Printf("🔔 [NOTIFY] Reminder fired: id=%s user=%s ticker=%s: %s",
		reminder.ID, reminder.UserID, reminder.Ticker, message)
	return models.OutcomeDelivered, ""
}

// WebhookChannel POSTs notifications to a configured HTTP endpoint
type WebhookChannel struct {
	url        string
	httpClient *http.Client
}

// NewWebhookChannel creates a webhook-backed notification channel
func NewWebhookChannel(url string) *WebhookChannel {
	return &WebhookChannel{
		url: url,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

func (c *WebhookChannel) Name() string { return "webhook" }

type webhookPayload struct {
	ReminderID string `json:"reminder_id"`
	UserID     string `json:"user_id"`
	Ticker     string `json:"ticker"`
	Message    string `json:"message"`
	FiredAt    string `json:"fired_at"`
}

func (c *WebhookChannel) Send(ctx context.Context, reminder *models.Reminder, message string) (models.AttemptOutcome, string) {
	payload := webhookPayload{
		ReminderID: reminder.ID,
		UserID:     reminder.UserID,
		Ticker:     reminder.Ticker,
		Message:    message,
		FiredAt:    time.Now().UTC().Format(time.RFC3339),
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return models.OutcomePermanentFailure, fmt.Sprintf("marshal payload: %v", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return models.OutcomePermanentFailure, fmt.Sprintf("build request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		// Timeouts and connection errors are worth retrying
		return models.OutcomeTransientFailure, fmt.Sprintf("request failed: %v", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		return models.OutcomeDelivered, ""
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return models.OutcomeTransientFailure, fmt.Sprintf("endpoint returned %d", resp.StatusCode)
	default:
		return models.OutcomePermanentFailure, fmt.Sprintf("endpoint rejected notification with %d", resp.StatusCode)
	}
}
