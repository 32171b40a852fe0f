package services

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"finadvisor/internal/database"
	"finadvisor/internal/models"
)

// AuditService is the append-only compliance log. A failed write is never
// swallowed: the operation that produced the entry is not complete until the
// entry is durable.
type AuditService struct {
	db *database.DB
}

// NewAuditService creates a new audit service
func NewAuditService(db *database.DB) *AuditService {
	return &AuditService{db: db}
}

// Record appends one audit entry. The payload itself is not stored, only its
// digest.
func (s *AuditService) Record(ctx context.Context, actor, action, subjectID, payload string, flagged bool) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (actor, action, subject_id, payload_digest, flagged, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		actor, action, subjectID, models.DigestPayload(payload), boolToInt(flagged), time.Now().UTC().UnixNano(),
	)
	if err != nil {
		log.Printf("🚨 [AUDIT] Write failed for %s/%s on %s: %v", actor, action, subjectID, err)
		if m := GetMetrics(); m != nil {
			m.AuditWriteFailures.Inc()
		}
		return fmt.Errorf("%w: %v", models.ErrAuditWriteFailed, err)
	}
	return nil
}

// recordTx appends an entry inside a store transaction so the entry commits
// atomically with the state change it describes.
func (s *AuditService) recordTx(tx *sql.Tx, actor, action, subjectID, payload string, flagged bool) error {
	_, err := tx.Exec(`
		INSERT INTO audit_log (actor, action, subject_id, payload_digest, flagged, timestamp)
		VALUES (?, ?, ?, ?, ?, ?)`,
		actor, action, subjectID, models.DigestPayload(payload), boolToInt(flagged), time.Now().UTC().UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", models.ErrAuditWriteFailed, err)
	}
	return nil
}

// ListBySubject returns the audit trail for one subject, oldest first.
func (s *AuditService) ListBySubject(ctx context.Context, subjectID string) ([]*models.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor, action, subject_id, payload_digest, flagged, timestamp
		FROM audit_log WHERE subject_id = ? ORDER BY id ASC`, subjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit log: %w", err)
	}
	defer rows.Close()

	return scanAuditRecords(rows)
}

// CountByAction returns the number of entries recorded for an action.
func (s *AuditService) CountByAction(ctx context.Context, action string) (int64, error) {
	var count int64
	err := s.db.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM audit_log WHERE action = ?", action,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("failed to count audit entries: %w", err)
	}
	return count, nil
}

// ListFlagged returns flagged entries, oldest first.
func (s *AuditService) ListFlagged(ctx context.Context) ([]*models.AuditRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, actor, action, subject_id, payload_digest, flagged, timestamp
		FROM audit_log WHERE flagged = 1 ORDER BY id ASC`)
	if err != nil {
		return nil, fmt.Errorf("failed to query flagged audit entries: %w", err)
	}
	defer rows.Close()

	return scanAuditRecords(rows)
}

// Verify walks the whole log checking digest shape and monotonic IDs. Used by
// the daily checkpoint job.
func (s *AuditService) Verify(ctx context.Context) (int64, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT id, payload_digest FROM audit_log ORDER BY id ASC")
	if err != nil {
		return 0, fmt.Errorf("failed to scan audit log: %w", err)
	}
	defer rows.Close()

	var count, lastID int64
	for rows.Next() {
		var id int64
		var digest string
		if err := rows.Scan(&id, &digest); err != nil {
			return count, fmt.Errorf("failed to scan audit row: %w", err)
		}
		if id <= lastID {
			return count, fmt.Errorf("audit log IDs not monotonic at %d", id)
		}
		if len(digest) != 64 {
			return count, fmt.Errorf("audit entry %d has malformed digest", id)
		}
		lastID = id
		count++
	}
	return count, rows.Err()
}

func scanAuditRecords(rows *sql.Rows) ([]*models.AuditRecord, error) {
	var records []*models.AuditRecord
	for rows.Next() {
		var rec models.AuditRecord
		var flagged int
		var ts int64
		if err := rows.Scan(&rec.ID, &rec.Actor, &rec.Action, &rec.SubjectID, &rec.PayloadDigest, &flagged, &ts); err != nil {
			return nil, fmt.Errorf("failed to scan audit row: %w", err)
		}
		rec.Flagged = flagged != 0
		rec.Timestamp = time.Unix(0, ts).UTC()
		records = append(records, &rec)
	}
	return records, rows.Err()
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
