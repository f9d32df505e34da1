package models

import (
	"time"

	"github.com/google/uuid"
)

// Artifact types addressable by lineage edges.
const (
	ArtifactSchemaVersion  = "schema_version"
	ArtifactDatasetVersion = "dataset_version"
	ArtifactEnvironment    = "environment"
	ArtifactTestCase       = "test_case"
)

// LineageEdge is an append-only provenance record connecting two addressable
// artifacts via the operation that produced the edge.
type LineageEdge struct {
	ID         uuid.UUID      `json:"id"`
	SourceType string         `json:"source_type"`
	SourceID   string         `json:"source_id"`
	TargetType string         `json:"target_type"`
	TargetID   string         `json:"target_id"`
	Operation  string         `json:"operation"`
	JobID      uuid.UUID      `json:"job_id"`
	Details    map[string]any `json:"details,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}
