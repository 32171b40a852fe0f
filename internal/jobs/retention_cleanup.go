package jobs

import (
	"context"
	"finadvisor/internal/services"
	"log"
	"time"
)

// RetentionCleanup prunes settled reminders and their delivery attempts after
// the retention window. The audit log is append-only and is never touched.
type RetentionCleanup struct {
	reminders *services.ReminderService
	retention time.Duration
}

// NewRetentionCleanup creates a new retention cleanup job
func NewRetentionCleanup(reminders *services.ReminderService, retention time.Duration) *RetentionCleanup {
	return &RetentionCleanup{
		reminders: reminders,
		retention: retention,
	}
}

func (j *RetentionCleanup) Name() string { return "retention-cleanup" }

// Run deletes settled reminders older than the retention window
func (j *RetentionCleanup) Run(ctx context.Context) error {
	cutoff := time.Now().UTC().Add(-j.retention)
	purged, err := j.reminders.PurgeSettledBefore(ctx, cutoff)
	if err != nil {
		return err
	}
	if purged > 0 {
		log.Printf("🗑️  [RETENTION] Purged %d settled reminders older than %s", purged, j.retention)
	}
	return nil
}

// NextRun schedules the cleanup hourly
func (j *RetentionCleanup) NextRun() time.Time {
	return time.Now().UTC().Add(1 * time.Hour)
}
