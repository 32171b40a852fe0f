package models

import (
	"time"
)

// TriggerType identifies the condition family that makes a reminder due.
type TriggerType string

const (
	TriggerCron       TriggerType = "cron"
	TriggerDate       TriggerType = "date"
	TriggerPriceAbove TriggerType = "price_above"
	TriggerPriceBelow TriggerType = "price_below"
)

// Trigger is the condition attached to a reminder. It is immutable once the
// reminder is created; changing a trigger means creating a new reminder.
// Type selects which of the value fields is meaningful.
type Trigger struct {
	Type      TriggerType `json:"type"`
	CronExpr  string      `json:"cron_expr,omitempty"`
	Date      time.Time   `json:"date,omitempty"`
	Threshold float64     `json:"threshold,omitempty"`
}

// ReminderStatus is the lifecycle state of a reminder. Status only moves
// forward: Pending -> Active -> Triggered -> Notified|Failed, with Canceled
// reachable from Pending or Active only.
type ReminderStatus string

const (
	StatusPending   ReminderStatus = "pending"
	StatusActive    ReminderStatus = "active"
	StatusTriggered ReminderStatus = "triggered"
	StatusNotified  ReminderStatus = "notified"
	StatusFailed    ReminderStatus = "failed"
	StatusCanceled  ReminderStatus = "canceled"
)

// Terminal reports whether no further transition is defined out of the status.
func (s ReminderStatus) Terminal() bool {
	switch s {
	case StatusNotified, StatusFailed, StatusCanceled:
		return true
	}
	return false
}

// CanTransitionTo reports whether the state machine defines an edge from s to
// next. The store enforces this before applying any CAS write.
func (s ReminderStatus) CanTransitionTo(next ReminderStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusActive || next == StatusCanceled
	case StatusActive:
		return next == StatusTriggered || next == StatusCanceled
	case StatusTriggered:
		return next == StatusNotified || next == StatusFailed
	default:
		return false
	}
}

// Reminder is the durable record tracked by the scheduler. It is mutated only
// through compare-and-swap transitions on Version after creation.
type Reminder struct {
	ID              string         `json:"id"`
	UserID          string         `json:"user_id"`
	Ticker          string         `json:"ticker"`
	Trigger         Trigger        `json:"trigger"`
	Status          ReminderStatus `json:"status"`
	Version         int64          `json:"version"`
	NotifyAttempts  int            `json:"notify_attempts"`
	FailureNoticed  bool           `json:"failure_noticed"` // failure notice shown to the user
	CreatedAt       time.Time      `json:"created_at"`
	LastEvaluatedAt *time.Time     `json:"last_evaluated_at,omitempty"`
}

// AttemptOutcome is the result of a single notification send.
type AttemptOutcome string

const (
	OutcomeDelivered        AttemptOutcome = "delivered"
	OutcomeTransientFailure AttemptOutcome = "transient_failure"
	OutcomePermanentFailure AttemptOutcome = "permanent_failure"
)

// NotificationAttempt is the append-only record of one delivery try.
type NotificationAttempt struct {
	ReminderID string         `json:"reminder_id"`
	AttemptNo  int            `json:"attempt_no"`
	Outcome    AttemptOutcome `json:"outcome"`
	Reason     string         `json:"reason,omitempty"`
	Timestamp  time.Time      `json:"timestamp"`
}

// CreateReminderRequest is the programmatic mirror of the reminder-create chat
// intent.
type CreateReminderRequest struct {
	Ticker  string  `json:"ticker" validate:"required"`
	Trigger Trigger `json:"trigger" validate:"required"`
}

// ReminderResponse is the API representation of a reminder.
type ReminderResponse struct {
	ID              string         `json:"id"`
	Ticker          string         `json:"ticker"`
	Trigger         Trigger        `json:"trigger"`
	Status          ReminderStatus `json:"status"`
	Version         int64          `json:"version"`
	NotifyAttempts  int            `json:"notifyAttempts"`
	CreatedAt       time.Time      `json:"createdAt"`
	LastEvaluatedAt *time.Time     `json:"lastEvaluatedAt,omitempty"`
}

// ToResponse converts a Reminder to its API representation.
func (r *Reminder) ToResponse() *ReminderResponse {
	return &ReminderResponse{
		ID:              r.ID,
		Ticker:          r.Ticker,
		Trigger:         r.Trigger,
		Status:          r.Status,
		Version:         r.Version,
		NotifyAttempts:  r.NotifyAttempts,
		CreatedAt:       r.CreatedAt,
		LastEvaluatedAt: r.LastEvaluatedAt,
	}
}
