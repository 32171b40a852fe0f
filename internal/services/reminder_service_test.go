package services

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"finadvisor/internal/database"
	"finadvisor/internal/models"
)

func setupTestStore(t *testing.T) (*ReminderService, *AuditService, func()) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "test_reminders.db")
	db, err := database.New(path)
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	if err := db.Initialize(); err != nil {
		t.Fatalf("Failed to initialize test database: %v", err)
	}

	audit := NewAuditService(db)
	store := NewReminderService(db, audit)

	cleanup := func() {
		db.Close()
	}

	return store, audit, cleanup
}

func createPriceReminder(t *testing.T, store *ReminderService, userID, ticker string, threshold float64) *models.Reminder {
	t.Helper()
	reminder, err := store.Create(context.Background(), userID, &models.CreateReminderRequest{
		Ticker:  ticker,
		Trigger: models.Trigger{Type: models.TriggerPriceBelow, Threshold: threshold},
	})
	if err != nil {
		t.Fatalf("Failed to create reminder: %v", err)
	}
	return reminder
}

func TestCreateAndListRoundTrip(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()

	created := createPriceReminder(t, store, "user-456", "AAPL", 180)

	reminders, err := store.ListByUser(context.Background(), "user-456")
	if err != nil {
		t.Fatalf("Failed to list reminders: %v", err)
	}
	if len(reminders) != 1 {
		t.Fatalf("Expected 1 reminder, got %d", len(reminders))
	}

	got := reminders[0]
	if got.ID != created.ID {
		t.Errorf("Expected ID %s, got %s", created.ID, got.ID)
	}
	if got.Ticker != "AAPL" {
		t.Errorf("Expected ticker AAPL, got %s", got.Ticker)
	}
	if got.Trigger.Type != models.TriggerPriceBelow || got.Trigger.Threshold != 180 {
		t.Errorf("Expected price_below/180 trigger, got %s/%v", got.Trigger.Type, got.Trigger.Threshold)
	}
	if got.Status != models.StatusPending {
		t.Errorf("Expected status pending, got %s", got.Status)
	}
	if got.Version != 1 {
		t.Errorf("Expected version 1, got %d", got.Version)
	}
}

func TestCreateValidation(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()

	tests := []struct {
		name    string
		trigger models.Trigger
	}{
		{"negative price", models.Trigger{Type: models.TriggerPriceBelow, Threshold: -5}},
		{"zero price", models.Trigger{Type: models.TriggerPriceAbove, Threshold: 0}},
		{"past date", models.Trigger{Type: models.TriggerDate, Date: time.Now().Add(-time.Hour)}},
		{"bad cron", models.Trigger{Type: models.TriggerCron, CronExpr: "not a cron"}},
		{"unknown type", models.Trigger{Type: "sometime"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := store.Create(context.Background(), "user-1", &models.CreateReminderRequest{
				Ticker:  "AAPL",
				Trigger: tt.trigger,
			})
			if !models.IsValidation(err) {
				t.Errorf("Expected validation error, got %v", err)
			}
		})
	}

	// Nothing partially valid may have been persisted
	reminders, err := store.ListByUser(context.Background(), "user-1")
	if err != nil {
		t.Fatalf("Failed to list reminders: %v", err)
	}
	if len(reminders) != 0 {
		t.Errorf("Expected no persisted reminders, got %d", len(reminders))
	}
}

func TestTransitionAdvancesVersion(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()

	reminder := createPriceReminder(t, store, "user-1", "AAPL", 180)

	now := time.Now().UTC()
	updated, err := store.Transition(context.Background(), reminder.ID, 1, models.StatusActive,
		models.AuditActorEvaluator, TransitionFields{LastEvaluatedAt: &now})
	if err != nil {
		t.Fatalf("Failed to transition: %v", err)
	}

	if updated.Status != models.StatusActive {
		t.Errorf("Expected status active, got %s", updated.Status)
	}
	if updated.Version != 2 {
		t.Errorf("Expected version 2, got %d", updated.Version)
	}
	if updated.LastEvaluatedAt == nil {
		t.Error("Expected last_evaluated_at to be set")
	}
}

func TestTransitionStaleVersionConflict(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()

	reminder := createPriceReminder(t, store, "user-1", "AAPL", 180)

	if _, err := store.Transition(context.Background(), reminder.ID, 1, models.StatusActive,
		models.AuditActorEvaluator, TransitionFields{}); err != nil {
		t.Fatalf("Failed first transition: %v", err)
	}

	// Stale version must be rejected without mutating state
	_, err := store.Transition(context.Background(), reminder.ID, 1, models.StatusTriggered,
		models.AuditActorEvaluator, TransitionFields{})
	if !errors.Is(err, models.ErrVersionConflict) {
		t.Fatalf("Expected version conflict, got %v", err)
	}

	got, err := store.Get(context.Background(), reminder.ID)
	if err != nil {
		t.Fatalf("Failed to get reminder: %v", err)
	}
	if got.Status != models.StatusActive || got.Version != 2 {
		t.Errorf("Expected untouched active/v2, got %s/v%d", got.Status, got.Version)
	}
}

func TestTransitionUnknownID(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()

	_, err := store.Transition(context.Background(), "rem-missing1", 1, models.StatusActive,
		models.AuditActorEvaluator, TransitionFields{})
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected not found, got %v", err)
	}
}

func TestCancelEffectiveWhilePendingOrActive(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()

	pending := createPriceReminder(t, store, "user-1", "AAPL", 180)
	canceled, err := store.Cancel(context.Background(), pending.ID, "user-1")
	if err != nil {
		t.Fatalf("Failed to cancel pending reminder: %v", err)
	}
	if canceled.Status != models.StatusCanceled {
		t.Errorf("Expected canceled, got %s", canceled.Status)
	}

	active := createPriceReminder(t, store, "user-1", "MSFT", 300)
	if _, err := store.Transition(context.Background(), active.ID, 1, models.StatusActive,
		models.AuditActorEvaluator, TransitionFields{}); err != nil {
		t.Fatalf("Failed to activate: %v", err)
	}
	canceled, err = store.Cancel(context.Background(), active.ID, "user-1")
	if err != nil {
		t.Fatalf("Failed to cancel active reminder: %v", err)
	}
	if canceled.Status != models.StatusCanceled {
		t.Errorf("Expected canceled, got %s", canceled.Status)
	}
}

func TestCancelAfterTriggeredRejected(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()

	reminder := createPriceReminder(t, store, "user-1", "AAPL", 180)
	ctx := context.Background()

	if _, err := store.Transition(ctx, reminder.ID, 1, models.StatusActive, models.AuditActorEvaluator, TransitionFields{}); err != nil {
		t.Fatalf("Failed to activate: %v", err)
	}
	if _, err := store.Transition(ctx, reminder.ID, 2, models.StatusTriggered, models.AuditActorEvaluator, TransitionFields{}); err != nil {
		t.Fatalf("Failed to trigger: %v", err)
	}

	_, err := store.Cancel(ctx, reminder.ID, "user-1")
	if !errors.Is(err, models.ErrAlreadyTriggered) {
		t.Fatalf("Expected already triggered, got %v", err)
	}

	// Status must be left unchanged
	got, err := store.Get(ctx, reminder.ID)
	if err != nil {
		t.Fatalf("Failed to get reminder: %v", err)
	}
	if got.Status != models.StatusTriggered {
		t.Errorf("Expected status triggered, got %s", got.Status)
	}
}

func TestCancelIsIdempotent(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	reminder := createPriceReminder(t, store, "user-1", "AAPL", 180)

	first, err := store.Cancel(ctx, reminder.ID, "user-1")
	if err != nil {
		t.Fatalf("Failed to cancel: %v", err)
	}

	// Canceling again is a no-op, not "already fired"
	second, err := store.Cancel(ctx, reminder.ID, "user-1")
	if err != nil {
		t.Fatalf("Second cancel should succeed, got %v", err)
	}
	if second.Status != models.StatusCanceled {
		t.Errorf("Expected canceled, got %s", second.Status)
	}
	if second.Version != first.Version {
		t.Errorf("Repeated cancel must not advance the version: %d -> %d", first.Version, second.Version)
	}

	// A direct transition attempt on the canceled row is rejected, but not
	// as a fired reminder
	_, err = store.Transition(ctx, reminder.ID, second.Version, models.StatusCanceled, models.AuditActorUser, TransitionFields{})
	if err == nil {
		t.Fatal("Expected an error re-canceling via Transition")
	}
	if errors.Is(err, models.ErrAlreadyTriggered) {
		t.Errorf("Canceled reminder must not report as triggered: %v", err)
	}
}

func TestCancelWrongUserNotFound(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()

	reminder := createPriceReminder(t, store, "user-1", "AAPL", 180)

	_, err := store.Cancel(context.Background(), reminder.ID, "user-2")
	if !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected not found for foreign user, got %v", err)
	}
}

func TestTransitionsAudited(t *testing.T) {
	store, audit, cleanup := setupTestStore(t)
	defer cleanup()

	reminder := createPriceReminder(t, store, "user-1", "AAPL", 180)
	ctx := context.Background()

	if _, err := store.Transition(ctx, reminder.ID, 1, models.StatusActive, models.AuditActorEvaluator, TransitionFields{}); err != nil {
		t.Fatalf("Failed to activate: %v", err)
	}

	trail, err := audit.ListBySubject(ctx, reminder.ID)
	if err != nil {
		t.Fatalf("Failed to read audit trail: %v", err)
	}
	// One create entry plus one transition entry
	if len(trail) != 2 {
		t.Fatalf("Expected 2 audit entries, got %d", len(trail))
	}
	if trail[0].Action != models.AuditActionReminderCreate {
		t.Errorf("Expected first entry %s, got %s", models.AuditActionReminderCreate, trail[0].Action)
	}
	if trail[1].Action != models.AuditActionTransition {
		t.Errorf("Expected second entry %s, got %s", models.AuditActionTransition, trail[1].Action)
	}
}

func TestAttemptRoundTrip(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()

	reminder := createPriceReminder(t, store, "user-1", "AAPL", 180)
	ctx := context.Background()

	for i := 1; i <= 2; i++ {
		outcome := models.OutcomeTransientFailure
		if i == 2 {
			outcome = models.OutcomeDelivered
		}
		err := store.RecordAttempt(ctx, &models.NotificationAttempt{
			ReminderID: reminder.ID,
			AttemptNo:  i,
			Outcome:    outcome,
			Timestamp:  time.Now().UTC(),
		})
		if err != nil {
			t.Fatalf("Failed to record attempt %d: %v", i, err)
		}
	}

	attempts, err := store.ListAttempts(ctx, reminder.ID)
	if err != nil {
		t.Fatalf("Failed to list attempts: %v", err)
	}
	if len(attempts) != 2 {
		t.Fatalf("Expected 2 attempts, got %d", len(attempts))
	}
	if attempts[0].Outcome != models.OutcomeTransientFailure || attempts[1].Outcome != models.OutcomeDelivered {
		t.Errorf("Unexpected attempt outcomes: %v, %v", attempts[0].Outcome, attempts[1].Outcome)
	}
}

func TestDeleteRemovesReminderAndAttempts(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	reminder := createPriceReminder(t, store, "user-1", "AAPL", 180)
	err := store.RecordAttempt(ctx, &models.NotificationAttempt{
		ReminderID: reminder.ID,
		AttemptNo:  1,
		Outcome:    models.OutcomeTransientFailure,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		t.Fatalf("Failed to record attempt: %v", err)
	}

	if err := store.Delete(ctx, reminder.ID, "user-2"); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected not found for foreign user, got %v", err)
	}

	if err := store.Delete(ctx, reminder.ID, "user-1"); err != nil {
		t.Fatalf("Failed to delete: %v", err)
	}
	if _, err := store.Get(ctx, reminder.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("Expected reminder gone, got %v", err)
	}
	attempts, err := store.ListAttempts(ctx, reminder.ID)
	if err != nil {
		t.Fatalf("Failed to list attempts: %v", err)
	}
	if len(attempts) != 0 {
		t.Errorf("Expected attempts removed with the reminder, got %d", len(attempts))
	}
}

func TestPurgeSettledKeepsLiveAndUnnoticed(t *testing.T) {
	store, _, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	live := createPriceReminder(t, store, "user-1", "AAPL", 180)

	canceled := createPriceReminder(t, store, "user-1", "MSFT", 400)
	if _, err := store.Cancel(ctx, canceled.ID, "user-1"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	failed := createPriceReminder(t, store, "user-1", "TSLA", 200)
	if _, err := store.Transition(ctx, failed.ID, 1, models.StatusActive, models.AuditActorEvaluator, TransitionFields{}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	if _, err := store.Transition(ctx, failed.ID, 2, models.StatusTriggered, models.AuditActorEvaluator, TransitionFields{}); err != nil {
		t.Fatalf("trigger: %v", err)
	}
	if _, err := store.Transition(ctx, failed.ID, 3, models.StatusFailed, models.AuditActorDispatcher, TransitionFields{}); err != nil {
		t.Fatalf("fail: %v", err)
	}

	// Cutoff in the future makes every created_at eligible
	purged, err := store.PurgeSettledBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("PurgeSettledBefore: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1 (only the canceled reminder)", purged)
	}

	if _, err := store.Get(ctx, live.ID); err != nil {
		t.Errorf("live reminder should survive purge: %v", err)
	}
	// Failed but unnoticed reminders survive until the user has seen them
	if _, err := store.Get(ctx, failed.ID); err != nil {
		t.Errorf("unnoticed failed reminder should survive purge: %v", err)
	}
	if _, err := store.Get(ctx, canceled.ID); !errors.Is(err, models.ErrNotFound) {
		t.Errorf("canceled reminder should be purged, got %v", err)
	}

	if err := store.MarkFailureNoticed(ctx, failed.ID); err != nil {
		t.Fatalf("MarkFailureNoticed: %v", err)
	}
	purged, err = store.PurgeSettledBefore(ctx, time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("second PurgeSettledBefore: %v", err)
	}
	if purged != 1 {
		t.Errorf("purged = %d, want 1 after notice", purged)
	}
}
