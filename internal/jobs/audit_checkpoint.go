package jobs

import (
	"context"
	"fmt"
	"log"
	"time"

	"finadvisor/internal/models"
	"finadvisor/internal/services"
)

// AuditCheckpoint verifies the audit log daily: records must be append-only
// with intact payload digests. A failed verification is loud but does not
// stop the service.
type AuditCheckpoint struct {
	audit *services.AuditService
}

// NewAuditCheckpoint creates a new audit checkpoint job
func NewAuditCheckpoint(audit *services.AuditService) *AuditCheckpoint {
	return &AuditCheckpoint{audit: audit}
}

func (j *AuditCheckpoint) Name() string { return "audit-checkpoint" }

// Run walks the audit log and verifies its integrity
func (j *AuditCheckpoint) Run(ctx context.Context) error {
	count, err := j.audit.Verify(ctx)
	if err != nil {
		log.Printf("🚨 [AUDIT-CHECKPOINT] Verification failed after %d records: %v", count, err)
		return err
	}
	log.Printf("✅ [AUDIT-CHECKPOINT] Verified %d audit records", count)
	return j.audit.Record(ctx, models.AuditActorSystem, models.AuditActionCheckpoint,
		"audit-log", fmt.Sprintf("verified %d records", count), false)
}

// NextRun schedules the checkpoint for 03:00 UTC daily
func (j *AuditCheckpoint) NextRun() time.Time {
	now := time.Now().UTC()
	next := time.Date(now.Year(), now.Month(), now.Day(), 3, 0, 0, 0, time.UTC)
	if !next.After(now) {
		next = next.Add(24 * time.Hour)
	}
	return next
}
