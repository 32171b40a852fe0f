package services

import (
	"context"
	"finadvisor/internal/models"
	"testing"
	"time"
)

// scriptedChannel plays back a fixed sequence of outcomes
type scriptedChannel struct {
	outcomes []models.AttemptOutcome
	calls    int
}

func (c *scriptedChannel) Name() string { return "scripted" }

func (c *scriptedChannel) Send(ctx context.Context, reminder *models.Reminder, message string) (models.AttemptOutcome, string) {
	outcome := c.outcomes[c.calls]
	c.calls++
	if outcome == models.OutcomeDelivered {
		return outcome, ""
	}
	return outcome, "scripted failure"
}

func triggeredReminder(t *testing.T, store *ReminderService) *models.Reminder {
	t.Helper()
	ctx := context.Background()
	reminder := createPriceReminder(t, store, "user-1", "AAPL", 200)
	if _, err := store.Transition(ctx, reminder.ID, 1, models.StatusActive, models.AuditActorEvaluator, TransitionFields{}); err != nil {
		t.Fatalf("activate: %v", err)
	}
	fired, err := store.Transition(ctx, reminder.ID, 2, models.StatusTriggered, models.AuditActorEvaluator, TransitionFields{})
	if err != nil {
		t.Fatalf("trigger: %v", err)
	}
	return fired
}

func newTestNotifier(store *ReminderService, audit *AuditService, ch NotificationChannel, maxAttempts int) (*NotifierService, *[]time.Duration) {
	notifier := NewNotifierService(store, audit, ch, maxAttempts, 100*time.Millisecond)
	var delays []time.Duration
	notifier.sleep = func(d time.Duration) { delays = append(delays, d) }
	return notifier, &delays
}

func TestDispatchDeliveredFirstTry(t *testing.T) {
	store, audit, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	reminder := triggeredReminder(t, store)
	ch := &scriptedChannel{outcomes: []models.AttemptOutcome{models.OutcomeDelivered}}
	notifier, delays := newTestNotifier(store, audit, ch, 5)

	if err := notifier.Dispatch(ctx, reminder.ID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	got, err := store.Get(ctx, reminder.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != models.StatusNotified {
		t.Errorf("status = %s, want %s", got.Status, models.StatusNotified)
	}
	if got.NotifyAttempts != 1 {
		t.Errorf("NotifyAttempts = %d, want 1", got.NotifyAttempts)
	}

	attempts, err := store.ListAttempts(ctx, reminder.ID)
	if err != nil {
		t.Fatalf("ListAttempts: %v", err)
	}
	if len(attempts) != 1 {
		t.Fatalf("got %d attempts, want 1", len(attempts))
	}
	if attempts[0].Outcome != models.OutcomeDelivered {
		t.Errorf("attempt outcome = %s, want %s", attempts[0].Outcome, models.OutcomeDelivered)
	}
	if len(*delays) != 0 {
		t.Errorf("slept %d times, want 0", len(*delays))
	}
}

func TestDispatchRetriesThenDelivers(t *testing.T) {
	store, audit, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	reminder := triggeredReminder(t, store)
	ch := &scriptedChannel{outcomes: []models.AttemptOutcome{
		models.OutcomeTransientFailure,
		models.OutcomeTransientFailure,
		models.OutcomeTransientFailure,
		models.OutcomeDelivered,
	}}
	notifier, delays := newTestNotifier(store, audit, ch, 5)

	if err := notifier.Dispatch(ctx, reminder.ID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	got, _ := store.Get(ctx, reminder.ID)
	if got.Status != models.StatusNotified {
		t.Errorf("status = %s, want %s", got.Status, models.StatusNotified)
	}
	if got.NotifyAttempts != 4 {
		t.Errorf("NotifyAttempts = %d, want 4", got.NotifyAttempts)
	}

	attempts, _ := store.ListAttempts(ctx, reminder.ID)
	if len(attempts) != 4 {
		t.Fatalf("got %d attempts, want 4", len(attempts))
	}

	// Backoff doubles on each retry
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond}
	if len(*delays) != len(want) {
		t.Fatalf("slept %d times, want %d", len(*delays), len(want))
	}
	for i, d := range *delays {
		if d != want[i] {
			t.Errorf("delay[%d] = %s, want %s", i, d, want[i])
		}
	}
}

func TestDispatchExhaustionFlagsAudit(t *testing.T) {
	store, audit, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	reminder := triggeredReminder(t, store)
	ch := &scriptedChannel{outcomes: []models.AttemptOutcome{
		models.OutcomeTransientFailure,
		models.OutcomeTransientFailure,
		models.OutcomeTransientFailure,
	}}
	notifier, _ := newTestNotifier(store, audit, ch, 3)

	if err := notifier.Dispatch(ctx, reminder.ID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	got, _ := store.Get(ctx, reminder.ID)
	if got.Status != models.StatusFailed {
		t.Errorf("status = %s, want %s", got.Status, models.StatusFailed)
	}
	if got.NotifyAttempts != 3 {
		t.Errorf("NotifyAttempts = %d, want 3", got.NotifyAttempts)
	}

	flagged, err := audit.ListFlagged(ctx)
	if err != nil {
		t.Fatalf("ListFlagged: %v", err)
	}
	found := false
	for _, rec := range flagged {
		if rec.SubjectID == reminder.ID && rec.Action == models.AuditActionFailureFlagged {
			found = true
		}
	}
	if !found {
		t.Error("expected a flagged audit record for the exhausted reminder")
	}
}

func TestDispatchPermanentFailureStopsEarly(t *testing.T) {
	store, audit, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	reminder := triggeredReminder(t, store)
	ch := &scriptedChannel{outcomes: []models.AttemptOutcome{models.OutcomePermanentFailure}}
	notifier, delays := newTestNotifier(store, audit, ch, 5)

	if err := notifier.Dispatch(ctx, reminder.ID); err != nil {
		t.Fatalf("Dispatch: %v", err)
	}

	got, _ := store.Get(ctx, reminder.ID)
	if got.Status != models.StatusFailed {
		t.Errorf("status = %s, want %s", got.Status, models.StatusFailed)
	}
	if ch.calls != 1 {
		t.Errorf("channel called %d times, want 1", ch.calls)
	}
	if len(*delays) != 0 {
		t.Errorf("slept %d times, want 0", len(*delays))
	}
}

func TestDispatchIdempotentOnSettled(t *testing.T) {
	store, audit, cleanup := setupTestStore(t)
	defer cleanup()
	ctx := context.Background()

	reminder := triggeredReminder(t, store)
	ch := &scriptedChannel{outcomes: []models.AttemptOutcome{models.OutcomeDelivered, models.OutcomeDelivered}}
	notifier, _ := newTestNotifier(store, audit, ch, 5)

	if err := notifier.Dispatch(ctx, reminder.ID); err != nil {
		t.Fatalf("first Dispatch: %v", err)
	}
	if err := notifier.Dispatch(ctx, reminder.ID); err != nil {
		t.Fatalf("second Dispatch: %v", err)
	}

	if ch.calls != 1 {
		t.Errorf("channel called %d times, want 1", ch.calls)
	}
	attempts, _ := store.ListAttempts(ctx, reminder.ID)
	if len(attempts) != 1 {
		t.Errorf("got %d attempts, want 1", len(attempts))
	}
}
