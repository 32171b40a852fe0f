package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"finadvisor/internal/logging"
	"finadvisor/internal/models"
)

// NotifierService delivers notifications for triggered reminders. Delivery is
// retried with exponential backoff up to a configured ceiling; every attempt
// is persisted whether it succeeds or not.
type NotifierService struct {
	reminders   *ReminderService
	audit       *AuditService
	channel     NotificationChannel
	maxAttempts int
	backoffBase time.Duration
	sleep       func(time.Duration)
}

// NewNotifierService creates a new notification dispatcher
func NewNotifierService(reminders *ReminderService, audit *AuditService, channel NotificationChannel, maxAttempts int, backoffBase time.Duration) *NotifierService {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &NotifierService{
		reminders:   reminders,
		audit:       audit,
		channel:     channel,
		maxAttempts: maxAttempts,
		backoffBase: backoffBase,
		sleep:       time.Sleep,
	}
}

// Dispatch delivers the notification for a triggered reminder and settles it
// into notified or failed. Calling it for a reminder that already settled is
// a no-op, so a crashed dispatch can be safely retried.
func (s *NotifierService) Dispatch(ctx context.Context, reminderID string) error {
	reminder, err := s.reminders.Get(ctx, reminderID)
	if err != nil {
		return fmt.Errorf("load reminder for dispatch: %w", err)
	}

	switch reminder.Status {
	case models.StatusTriggered:
		// Proceed
	case models.StatusNotified, models.StatusFailed:
		return nil
	default:
		return fmt.Errorf("reminder %s is %s, nothing to dispatch", reminderID, reminder.Status)
	}

	message := notificationMessage(reminder)
	rlog := logging.WithReminder(reminder.ID, reminder.UserID, reminder.Ticker)
	var lastReason string

	for attemptNo := 1; attemptNo <= s.maxAttempts; attemptNo++ {
		outcome, reason := s.channel.Send(ctx, reminder, message)
		lastReason = reason
		rlog.Debug("notification attempt",
			"attempt", attemptNo, "outcome", string(outcome), "reason", reason)

		attempt := &models.NotificationAttempt{
			ReminderID: reminder.ID,
			AttemptNo:  attemptNo,
			Outcome:    outcome,
			Reason:     reason,
			Timestamp:  time.Now().UTC(),
		}
		if err := s.reminders.RecordAttempt(ctx, attempt); err != nil {
			return fmt.Errorf("record notification attempt: %w", err)
		}

		if m := GetMetrics(); m != nil {
			m.DispatchOutcomes.WithLabelValues(string(outcome)).Inc()
		}

		switch outcome {
		case models.OutcomeDelivered:
			return s.settle(ctx, reminder, models.StatusNotified, attemptNo, "")
		case models.OutcomePermanentFailure:
			log.Printf("❌ [NOTIFY] Permanent delivery failure for %s: %s", reminder.ID, reason)
			return s.settle(ctx, reminder, models.StatusFailed, attemptNo, reason)
		case models.OutcomeTransientFailure:
			if attemptNo < s.maxAttempts {
				delay := s.backoffBase << (attemptNo - 1)
				log.Printf("⚠️ [NOTIFY] Attempt %d/%d for %s failed (%s), retrying in %s",
					attemptNo, s.maxAttempts, reminder.ID, reason, delay)
				select {
				case <-ctx.Done():
					return ctx.Err()
				default:
				}
				s.sleep(delay)
			}
		}
	}

	log.Printf("❌ [NOTIFY] Exhausted %d attempts for %s: %s", s.maxAttempts, reminder.ID, lastReason)
	return s.settle(ctx, reminder, models.StatusFailed, s.maxAttempts, lastReason)
}

// settle moves the reminder to its terminal delivery state and records the
// attempt count. A version conflict here means someone else already settled
// it; given the reminder was triggered, that is fine to treat as done.
func (s *NotifierService) settle(ctx context.Context, reminder *models.Reminder, status models.ReminderStatus, attempts int, reason string) error {
	fields := TransitionFields{NotifyAttempts: &attempts}
	updated, err := s.reminders.Transition(ctx, reminder.ID, reminder.Version, status, models.AuditActorDispatcher, fields)
	if err != nil {
		if errors.Is(err, models.ErrVersionConflict) {
			return nil
		}
		return fmt.Errorf("settle reminder %s: %w", reminder.ID, err)
	}

	if status == models.StatusFailed {
		payload := fmt.Sprintf("delivery failed after %d attempts: %s", attempts, reason)
		if err := s.audit.Record(ctx, models.AuditActorDispatcher, models.AuditActionFailureFlagged, reminder.ID, payload, true); err != nil {
			return err
		}
	} else {
		payload := fmt.Sprintf("delivered via %s after %d attempts", s.channel.Name(), attempts)
		if err := s.audit.Record(ctx, models.AuditActorDispatcher, models.AuditActionDispatch, reminder.ID, payload, false); err != nil {
			return err
		}
	}

	log.Printf("✅ [NOTIFY] Reminder %s settled as %s after %d attempt(s)", updated.ID, updated.Status, attempts)
	return nil
}

// notificationMessage renders the user-facing text for a fired reminder
func notificationMessage(reminder *models.Reminder) string {
	switch reminder.Trigger.Type {
	case models.TriggerPriceAbove:
		return fmt.Sprintf("%s crossed above %.2f", reminder.Ticker, reminder.Trigger.Threshold)
	case models.TriggerPriceBelow:
		return fmt.Sprintf("%s dropped below %.2f", reminder.Ticker, reminder.Trigger.Threshold)
	case models.TriggerDate:
		return fmt.Sprintf("Scheduled reminder for %s is due", reminder.Ticker)
	case models.TriggerCron:
		return fmt.Sprintf("Recurring check-in on %s", reminder.Ticker)
	default:
		return fmt.Sprintf("Reminder for %s fired", reminder.Ticker)
	}
}
