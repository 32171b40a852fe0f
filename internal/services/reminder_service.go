package services

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"finadvisor/internal/database"
	"finadvisor/internal/models"

	"github.com/google/uuid"
)

// cancelRetries bounds the CAS retry loop for user cancels racing the sweep.
const cancelRetries = 3

// ReminderService is the durable reminder store and the source of truth for
// the evaluator. After creation, Transition is the sole mutation path; it is
// a compare-and-swap on version, so concurrent evaluators never apply two
// transitions to the same version.
type ReminderService struct {
	db    *database.DB
	audit *AuditService
}

// TransitionFields carries the optional columns a transition may touch
// alongside the status change.
type TransitionFields struct {
	LastEvaluatedAt *time.Time
	NotifyAttempts  *int
	FailureNoticed  *bool
}

// NewReminderService creates a new reminder store
func NewReminderService(db *database.DB, audit *AuditService) *ReminderService {
	return &ReminderService{db: db, audit: audit}
}

func newReminderID() string {
	return fmt.Sprintf("rem-%s", strings.ReplaceAll(uuid.New().String(), "-", "")[:8])
}

// ValidateTrigger checks trigger parameters at creation time. No
// partially-valid reminder is ever persisted.
func ValidateTrigger(trigger *models.Trigger, now time.Time) error {
	if trigger == nil {
		return models.NewValidationError("trigger", "missing trigger")
	}

	switch trigger.Type {
	case models.TriggerPriceAbove, models.TriggerPriceBelow:
		if math.IsNaN(trigger.Threshold) || math.IsInf(trigger.Threshold, 0) {
			return models.NewValidationError("threshold", "price threshold must be finite")
		}
		if trigger.Threshold <= 0 {
			return models.NewValidationError("threshold", "price threshold must be positive")
		}
	case models.TriggerDate:
		if trigger.Date.IsZero() {
			return models.NewValidationError("date", "missing trigger date")
		}
		if !trigger.Date.After(now) {
			return models.NewValidationError("date", "trigger date must be in the future")
		}
	case models.TriggerCron:
		if _, err := cronParser.Parse(trigger.CronExpr); err != nil {
			return models.NewValidationError("cron", "invalid cron expression %q: %v", trigger.CronExpr, err)
		}
	default:
		return models.NewValidationError("trigger", "unknown trigger type %q", trigger.Type)
	}

	return nil
}

// Create validates and persists a new reminder in Pending state. The
// creation audit entry commits in the same transaction.
func (s *ReminderService) Create(ctx context.Context, userID string, req *models.CreateReminderRequest) (*models.Reminder, error) {
	if userID == "" {
		return nil, models.NewValidationError("user_id", "missing user")
	}
	if req.Ticker == "" {
		return nil, models.NewValidationError("ticker", "missing ticker")
	}
	if err := ValidateTrigger(&req.Trigger, time.Now().UTC()); err != nil {
		return nil, err
	}

	reminder := &models.Reminder{
		ID:        newReminderID(),
		UserID:    userID,
		Ticker:    req.Ticker,
		Trigger:   req.Trigger,
		Status:    models.StatusPending,
		Version:   1,
		CreatedAt: time.Now().UTC(),
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var triggerDate interface{}
	if reminder.Trigger.Type == models.TriggerDate {
		triggerDate = reminder.Trigger.Date.UnixNano()
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO reminders
		(id, user_id, ticker, trigger_type, cron_expr, trigger_date, threshold,
		 status, version, notify_attempts, failure_noticed, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, 0, 0, ?)`,
		reminder.ID, reminder.UserID, reminder.Ticker,
		string(reminder.Trigger.Type), reminder.Trigger.CronExpr, triggerDate, reminder.Trigger.Threshold,
		string(reminder.Status), reminder.Version, reminder.CreatedAt.UnixNano(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to insert reminder: %w", err)
	}

	payload := fmt.Sprintf("create:%s:%s:%s", reminder.UserID, reminder.Ticker, reminder.Trigger.Type)
	if err := s.audit.recordTx(tx, models.AuditActorUser, models.AuditActionReminderCreate, reminder.ID, payload, false); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit reminder create: %w", err)
	}

	log.Printf("📌 [REMINDER] Created %s for user %s (%s %s)", reminder.ID, userID, reminder.Ticker, reminder.Trigger.Type)
	return reminder, nil
}

// Get returns a reminder by ID.
func (s *ReminderService) Get(ctx context.Context, id string) (*models.Reminder, error) {
	row := s.db.QueryRowContext(ctx, selectReminder+" WHERE id = ?", id)
	return scanReminder(row)
}

// ListByUser returns all reminders for a user, newest first. Fired reminders
// remain listed as history.
func (s *ReminderService) ListByUser(ctx context.Context, userID string) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx, selectReminder+" WHERE user_id = ? ORDER BY created_at DESC", userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminders: %w", err)
	}
	defer rows.Close()

	return scanReminders(rows)
}

// ListByStatus returns reminders in any of the given states, oldest first, so
// the sweep services long-waiting reminders before fresh ones.
func (s *ReminderService) ListByStatus(ctx context.Context, statuses ...models.ReminderStatus) ([]*models.Reminder, error) {
	if len(statuses) == 0 {
		return nil, nil
	}

	placeholders := strings.TrimSuffix(strings.Repeat("?,", len(statuses)), ",")
	args := make([]interface{}, len(statuses))
	for i, st := range statuses {
		args[i] = string(st)
	}

	rows, err := s.db.QueryContext(ctx,
		selectReminder+" WHERE status IN ("+placeholders+") ORDER BY created_at ASC", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reminders by status: %w", err)
	}
	defer rows.Close()

	return scanReminders(rows)
}

// Transition applies a compare-and-swap status change. It returns
// models.ErrVersionConflict when expectedVersion is stale,
// models.ErrAlreadyTriggered when a cancel arrives at or after Triggered, and
// models.ErrNotFound for unknown IDs. The transition audit entry commits
// atomically with the row update.
func (s *ReminderService) Transition(ctx context.Context, id string, expectedVersion int64, newStatus models.ReminderStatus, actor string, fields TransitionFields) (*models.Reminder, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanReminder(tx.QueryRowContext(ctx, selectReminder+" WHERE id = ?", id))
	if err != nil {
		return nil, err
	}

	if current.Version != expectedVersion {
		return nil, fmt.Errorf("reminder %s at version %d, expected %d: %w",
			id, current.Version, expectedVersion, models.ErrVersionConflict)
	}

	if !current.Status.CanTransitionTo(newStatus) {
		// "Already triggered" is only an honest answer for a cancel that
		// lost to the evaluator; a canceled reminder never fired.
		if newStatus == models.StatusCanceled && current.Status != models.StatusCanceled {
			return nil, fmt.Errorf("reminder %s is %s: %w", id, current.Status, models.ErrAlreadyTriggered)
		}
		return nil, fmt.Errorf("transition %s -> %s not allowed for reminder %s", current.Status, newStatus, id)
	}

	set := []string{"status = ?", "version = version + 1"}
	args := []interface{}{string(newStatus)}

	if fields.LastEvaluatedAt != nil {
		set = append(set, "last_evaluated_at = ?")
		args = append(args, fields.LastEvaluatedAt.UnixNano())
	}
	if fields.NotifyAttempts != nil {
		set = append(set, "notify_attempts = ?")
		args = append(args, *fields.NotifyAttempts)
	}
	if fields.FailureNoticed != nil {
		set = append(set, "failure_noticed = ?")
		args = append(args, boolToInt(*fields.FailureNoticed))
	}

	args = append(args, id, expectedVersion)
	result, err := tx.ExecContext(ctx,
		"UPDATE reminders SET "+strings.Join(set, ", ")+" WHERE id = ? AND version = ?", args...)
	if err != nil {
		return nil, fmt.Errorf("failed to apply transition: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		// Raced between our read and write inside the same store.
		return nil, fmt.Errorf("reminder %s changed underneath transition: %w", id, models.ErrVersionConflict)
	}

	payload := fmt.Sprintf("transition:%s:%s->%s:v%d", id, current.Status, newStatus, expectedVersion+1)
	if err := s.audit.recordTx(tx, actor, models.AuditActionTransition, id, payload, false); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit transition: %w", err)
	}

	updated := *current
	updated.Status = newStatus
	updated.Version = expectedVersion + 1
	if fields.LastEvaluatedAt != nil {
		t := fields.LastEvaluatedAt.UTC()
		updated.LastEvaluatedAt = &t
	}
	if fields.NotifyAttempts != nil {
		updated.NotifyAttempts = *fields.NotifyAttempts
	}
	if fields.FailureNoticed != nil {
		updated.FailureNoticed = *fields.FailureNoticed
	}

	return &updated, nil
}

// Cancel cancels a reminder on behalf of its owner. It races the evaluator
// like any other transition: effective only while the reminder is still
// Pending or Active, otherwise ErrAlreadyTriggered.
func (s *ReminderService) Cancel(ctx context.Context, id, userID string) (*models.Reminder, error) {
	for attempt := 0; attempt < cancelRetries; attempt++ {
		current, err := s.Get(ctx, id)
		if err != nil {
			return nil, err
		}
		if current.UserID != userID {
			return nil, fmt.Errorf("reminder %s: %w", id, models.ErrNotFound)
		}
		if current.Status == models.StatusCanceled {
			// Cancel is idempotent
			return current, nil
		}

		updated, err := s.Transition(ctx, id, current.Version, models.StatusCanceled, models.AuditActorUser, TransitionFields{})
		if err == nil {
			log.Printf("🚫 [REMINDER] Canceled %s for user %s", id, userID)
			return updated, nil
		}
		if errors.Is(err, models.ErrVersionConflict) {
			continue
		}
		return nil, err
	}

	return nil, fmt.Errorf("cancel of %s kept losing the version race: %w", id, models.ErrVersionConflict)
}

// Delete removes a reminder and its attempt history permanently. This is the
// explicit user deletion path; firing never deletes, and the audit trail for
// the reminder stays.
func (s *ReminderService) Delete(ctx context.Context, id, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		"DELETE FROM reminders WHERE id = ? AND user_id = ?", id, userID)
	if err != nil {
		return fmt.Errorf("failed to delete reminder: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("reminder %s: %w", id, models.ErrNotFound)
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM notification_attempts WHERE reminder_id = ?", id); err != nil {
		return fmt.Errorf("failed to delete notification attempts: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit delete: %w", err)
	}

	log.Printf("🗑️  [REMINDER] Deleted %s for user %s", id, userID)
	return nil
}

// RecordAttempt appends one notification attempt row.
func (s *ReminderService) RecordAttempt(ctx context.Context, attempt *models.NotificationAttempt) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_attempts (reminder_id, attempt_no, outcome, reason, timestamp)
		VALUES (?, ?, ?, ?, ?)`,
		attempt.ReminderID, attempt.AttemptNo, string(attempt.Outcome), attempt.Reason, attempt.Timestamp.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("failed to record notification attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the attempt history for a reminder in send order.
func (s *ReminderService) ListAttempts(ctx context.Context, reminderID string) ([]*models.NotificationAttempt, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT reminder_id, attempt_no, outcome, COALESCE(reason, ''), timestamp
		FROM notification_attempts WHERE reminder_id = ? ORDER BY attempt_no ASC`, reminderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*models.NotificationAttempt
	for rows.Next() {
		var a models.NotificationAttempt
		var outcome string
		var ts int64
		if err := rows.Scan(&a.ReminderID, &a.AttemptNo, &outcome, &a.Reason, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan attempt: %w", err)
		}
		a.Outcome = models.AttemptOutcome(outcome)
		a.Timestamp = time.Unix(0, ts).UTC()
		attempts = append(attempts, &a)
	}
	return attempts, rows.Err()
}

// UnnoticedFailures returns failed reminders whose failure notice has not yet
// been shown to the user.
func (s *ReminderService) UnnoticedFailures(ctx context.Context, userID string) ([]*models.Reminder, error) {
	rows, err := s.db.QueryContext(ctx,
		selectReminder+" WHERE user_id = ? AND status = ? AND failure_noticed = 0 ORDER BY created_at ASC",
		userID, string(models.StatusFailed))
	if err != nil {
		return nil, fmt.Errorf("failed to query unnoticed failures: %w", err)
	}
	defer rows.Close()

	return scanReminders(rows)
}

// MarkFailureNoticed records that the user has seen the failure notice. This
// is a bookkeeping flag, not a lifecycle transition.
func (s *ReminderService) MarkFailureNoticed(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE reminders SET failure_noticed = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to mark failure noticed: %w", err)
	}
	return nil
}

// PurgeSettledBefore removes settled reminders created before the cutoff,
// together with their notification attempts. Failed reminders are kept until
// their failure notice has been shown. Audit records are never purged.
func (s *ReminderService) PurgeSettledBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin purge: %w", err)
	}
	defer tx.Rollback()

	where := `created_at < ?
		AND (status IN (?, ?) OR (status = ? AND failure_noticed = 1))`
	args := []interface{}{
		cutoff.UnixNano(),
		string(models.StatusNotified), string(models.StatusCanceled), string(models.StatusFailed),
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM notification_attempts WHERE reminder_id IN (SELECT id FROM reminders WHERE "+where+")",
		args...); err != nil {
		return 0, fmt.Errorf("failed to purge attempts: %w", err)
	}

	res, err := tx.ExecContext(ctx, "DELETE FROM reminders WHERE "+where, args...)
	if err != nil {
		return 0, fmt.Errorf("failed to purge reminders: %w", err)
	}
	purged, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit purge: %w", err)
	}
	return purged, nil
}

// TouchEvaluated stamps last_evaluated_at without changing status or version.
// Used by sweeps for reminders that were inspected but not due.
func (s *ReminderService) TouchEvaluated(ctx context.Context, id string, t time.Time) error {
	_, err := s.db.ExecContext(ctx,
		"UPDATE reminders SET last_evaluated_at = ? WHERE id = ?", t.UnixNano(), id)
	if err != nil {
		return fmt.Errorf("failed to touch reminder: %w", err)
	}
	return nil
}

const selectReminder = `
	SELECT id, user_id, ticker, trigger_type, COALESCE(cron_expr, ''), trigger_date, threshold,
	       status, version, notify_attempts, failure_noticed, created_at, last_evaluated_at
	FROM reminders`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanReminder(row rowScanner) (*models.Reminder, error) {
	var r models.Reminder
	var triggerType, status string
	var triggerDate, lastEvaluated sql.NullInt64
	var failureNoticed int
	var createdAt int64

	err := row.Scan(
		&r.ID, &r.UserID, &r.Ticker, &triggerType, &r.Trigger.CronExpr,
		&triggerDate, &r.Trigger.Threshold, &status, &r.Version,
		&r.NotifyAttempts, &failureNoticed, &createdAt, &lastEvaluated,
	)
	if err == sql.ErrNoRows {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan reminder: %w", err)
	}

	r.Trigger.Type = models.TriggerType(triggerType)
	if triggerDate.Valid {
		r.Trigger.Date = time.Unix(0, triggerDate.Int64).UTC()
	}
	r.Status = models.ReminderStatus(status)
	r.FailureNoticed = failureNoticed != 0
	r.CreatedAt = time.Unix(0, createdAt).UTC()
	if lastEvaluated.Valid {
		t := time.Unix(0, lastEvaluated.Int64).UTC()
		r.LastEvaluatedAt = &t
	}

	return &r, nil
}

func scanReminders(rows *sql.Rows) ([]*models.Reminder, error) {
	var reminders []*models.Reminder
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, err
		}
		reminders = append(reminders, r)
	}
	return reminders, rows.Err()
}
