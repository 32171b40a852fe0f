package models

import (
	"crypto/sha256"
	"encoding/hex"
	"time"
)

// Audit actions recorded by the core. Every classification, rendered analysis,
// and reminder state transition produces exactly one entry.
const (
	AuditActionClassified     = "intent_classified"
	AuditActionAnalysisServed = "analysis_served"
	AuditActionReminderCreate = "reminder_created"
	AuditActionTransition     = "reminder_transition"
	AuditActionDispatch       = "notification_dispatched"
	AuditActionDataQuality    = "data_quality_note"
	AuditActionFailureFlagged = "failure_flagged"
	AuditActionCheckpoint     = "audit_checkpoint"
)

// Audit actors.
const (
	AuditActorRouter     = "router"
	AuditActorEvaluator  = "evaluator"
	AuditActorDispatcher = "dispatcher"
	AuditActorUser       = "user"
	AuditActorSystem     = "system"
)

// AuditRecord is one append-only compliance entry. Records are never mutated
// or deleted by the core.
type AuditRecord struct {
	ID            int64     `json:"id"`
	Actor         string    `json:"actor"`
	Action        string    `json:"action"`
	SubjectID     string    `json:"subject_id"`
	PayloadDigest string    `json:"payload_digest"`
	Flagged       bool      `json:"flagged"` // surfaced to the user on next session
	Timestamp     time.Time `json:"timestamp"`
}

// DigestPayload computes the stable digest stored with an audit record. The
// raw payload itself is not persisted.
func DigestPayload(payload string) string {
	sum := sha256.Sum256([]byte(payload))
	return hex.EncodeToString(sum[:])
}
