package models

import (
	"encoding/json"
	"time"
)

type GenerationStatus string

const (
	GenerationStatusGenerating GenerationStatus = "generating"
	GenerationStatusSuccess    GenerationStatus = "success"
	GenerationStatusFailed     GenerationStatus = "failed"
)

const (
	UserTypeUser     = "user"
	UserTypeInternal = "internal"
)

// GenerationTask is the local log of a long-running AI generation job.
type GenerationTask struct {
	ID         string           `db:"id" json:"id"`
	TaskID     string           `db:"task_id" json:"task_id"`
	UserID     int64            `db:"user_id" json:"user_id"`
	UserType   string           `db:"user_type" json:"user_type"`
	Model      string           `db:"model" json:"model"`
	Status     GenerationStatus `db:"status" json:"status"`
	Points     int64            `db:"points" json:"points"`
	Prepaid    bool             `db:"prepaid" json:"prepaid"`
	Request    json.RawMessage  `db:"request" json:"request,omitempty"`
	Response   json.RawMessage  `db:"response" json:"response,omitempty"`
	FailReason string           `db:"fail_reason" json:"fail_reason,omitempty"`
	ResultKey  string           `db:"result_key" json:"result_key,omitempty"`
	StartedAt  time.Time        `db:"started_at" json:"started_at"`
	Duration   time.Duration    `db:"duration_ms" json:"duration"`
	CreatedAt  time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time        `db:"updated_at" json:"updated_at"`
}

// Metered reports whether the task's owner is billed in points.
func (t *GenerationTask) Metered() bool {
	return t.UserType == UserTypeUser && t.Points > 0
}

// GenerationCursor marks the last row of a page of generating tasks. The
// zero value starts from the oldest task.
type GenerationCursor struct {
	StartedAt time.Time
	ID        string
}

// After returns the cursor positioned at t.
func (c GenerationCursor) After(t *GenerationTask) GenerationCursor {
	return GenerationCursor{StartedAt: t.StartedAt, ID: t.ID}
}

// GenerationOutcome is the terminal update applied by reconciliation.
type GenerationOutcome struct {
	Status     GenerationStatus
	Response   json.RawMessage
	FailReason string
	ResultKey  string
	Duration   time.Duration
}
