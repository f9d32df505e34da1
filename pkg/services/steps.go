package services

import (
	"github.com/google/uuid"

	"github.com/tdmstack/tdm-engine/pkg/models"
)

// StepResult is the successful outcome of one workflow step. The orchestrator
// merges produced identifiers into the job context, writes the log entry and
// records lineage edges.
type StepResult struct {
	// Identifiers produced by the step, if any.
	SchemaVersionID  *uuid.UUID
	DatasetVersionID *uuid.UUID

	Message string
	Details map[string]any

	// Fallbacks triggered inside the step, merged into the job context.
	Fallbacks []models.FallbackEvent

	// Logs are extra log lines the step wants on the job, beyond the
	// started/completed pair the orchestrator writes itself.
	Logs []StepLog

	// Lineage edges produced by the step. JobID is stamped by the
	// orchestrator.
	Lineage []models.LineageEdge
}

// StepLog is one extra log line emitted by a step.
type StepLog struct {
	Level   string
	Message string
}
