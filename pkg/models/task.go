package models

import (
	"time"

	"github.com/google/uuid"
)

const (
	TaskStatusProcessing = "processing"
	TaskStatusCompleted  = "completed"
	TaskStatusFailed     = "failed"
	TaskStatusRetrying   = "retrying"
	TaskStatusAbandoned  = "abandoned"
)

// Task tracks one embedding job from upload event to persisted segments.
// The worker creates it when a valid video object is detected and updates it on
// every poll of the provider job. Terminal rows (completed, failed, abandoned)
// are retained for audit, never deleted.
type Task struct {
	ID            uuid.UUID `db:"id"              json:"id"`
	MessageID     string    `db:"message_id"      json:"message_id"`
	ProviderJobID string    `db:"provider_job_id" json:"provider_job_id"`
	ObjectRef     ObjectRef `db:"-"               json:"object_ref"`
	Status        string    `db:"status"          json:"status"`
	Attempts      int       `db:"attempts"        json:"attempts"`
	ErrorMessage  *string   `db:"error_message"   json:"error_message,omitempty"`
	CreatedAt     time.Time `db:"created_at"      json:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"      json:"updated_at"`
}

// IsTerminal reports whether the task can never change status again.
func (t *Task) IsTerminal() bool {
	switch t.Status {
	case TaskStatusCompleted, TaskStatusFailed, TaskStatusAbandoned:
		return true
	}
	return false
}
