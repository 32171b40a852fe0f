package models

import (
	"errors"
	"fmt"
)

// Sentinel errors shared across stores and services. Callers branch with
// errors.Is rather than string matching.
var (
	// ErrNotFound indicates the requested record does not exist.
	ErrNotFound = errors.New("not found")

	// ErrVersionConflict indicates a compare-and-swap transition lost the race:
	// the caller's observed version no longer matches the stored version.
	ErrVersionConflict = errors.New("version conflict")

	// ErrAlreadyTriggered indicates a cancel arrived after the reminder fired.
	// The in-flight dispatch is allowed to complete.
	ErrAlreadyTriggered = errors.New("reminder already triggered")

	// ErrDataUnavailable indicates market data is missing or stale. Analysis
	// degrades confidence instead of failing on it.
	ErrDataUnavailable = errors.New("market data unavailable")

	// ErrAuditWriteFailed indicates an audit entry could not be made durable.
	// The operation that produced the entry must not be reported as complete.
	ErrAuditWriteFailed = errors.New("audit write failed")
)

// ValidationError describes malformed user-supplied parameters (trigger
// thresholds, dates, cron expressions). It is surfaced to the user directly
// and never retried.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Reason
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// IsValidation reports whether err is (or wraps) a ValidationError.
func IsValidation(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}
