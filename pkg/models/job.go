package models

import (
	"time"

	"github.com/google/uuid"
)

// JobStatus represents the lifecycle state of a job.
type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusRunning   JobStatus = "running"
	JobStatusCompleted JobStatus = "completed"
	JobStatusFailed    JobStatus = "failed"
)

// IsTerminal returns true if the status allows no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// IsValid returns true if the status is a known job status.
func (s JobStatus) IsValid() bool {
	switch s {
	case JobStatusPending, JobStatusRunning, JobStatusCompleted, JobStatusFailed:
		return true
	default:
		return false
	}
}

// Job anchors one workflow execution or one single-operation invocation.
// Status transitions are monotonic: pending -> running -> completed|failed.
// FinishedAt is set exactly once, at the terminal transition.
type Job struct {
	ID         uuid.UUID      `json:"id"`
	WorkflowID *uuid.UUID     `json:"workflow_id,omitempty"`
	Operation  string         `json:"operation"`
	Status     JobStatus      `json:"status"`
	Request    map[string]any `json:"request,omitempty"`
	Result     map[string]any `json:"result,omitempty"`
	StartedAt  time.Time      `json:"started_at"`
	FinishedAt *time.Time     `json:"finished_at,omitempty"`
}

// JobLogEntry is an append-only log row for one job, ordered by creation
// time. Entries are never updated or deleted; they serve both audit and
// live progress polling.
type JobLogEntry struct {
	ID        uuid.UUID      `json:"id"`
	JobID     uuid.UUID      `json:"job_id"`
	Step      string         `json:"step"`
	Level     string         `json:"level"`
	Message   string         `json:"message"`
	Details   map[string]any `json:"details"`
	CreatedAt time.Time      `json:"created_at"`
}

// Log levels for job log entries.
const (
	LogLevelInfo    = "info"
	LogLevelWarning = "warning"
	LogLevelError   = "error"
)
