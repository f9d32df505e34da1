package models

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

// FallbackEvent records that a degraded strategy ran in place of a preferred
// one, or that a retried attempt eventually succeeded.
type FallbackEvent struct {
	Step    string `json:"step"`
	Reason  string `json:"reason,omitempty"`
	Error   string `json:"error,omitempty"`
	Attempt int    `json:"attempt,omitempty"`
}

// JobContext is the per-run accumulator threaded through every workflow
// step. It is owned by exactly one workflow invocation and never shared
// between goroutines; steps receive it by pointer and the orchestrator
// merges their outputs back sequentially.
type JobContext struct {
	TestCaseID string    `json:"test_case_id,omitempty"`
	JobID      uuid.UUID `json:"job_id"`
	WorkflowID uuid.UUID `json:"workflow_id"`

	// Schema fragments accumulated by discovery/crawl/fusion.
	UISchemas     map[string]any `json:"ui_schemas,omitempty"`
	DBSchemas     map[string]any `json:"db_schemas,omitempty"`
	UnifiedSchema map[string]any `json:"unified_schema,omitempty"`

	DomainPack string `json:"domain_pack,omitempty"`
	Scenario   string `json:"scenario,omitempty"`

	// Operations actually executed, in execution order.
	Operations []Operation `json:"operations"`

	// Fallbacks triggered, for lineage and audit.
	FallbacksUsed []FallbackEvent `json:"fallbacks_used,omitempty"`

	QualityScore  *float64       `json:"quality_score,omitempty"`
	QualityReport map[string]any `json:"quality_report,omitempty"`

	// Identifiers chained between steps.
	SchemaVersionID  *uuid.UUID `json:"schema_version_id,omitempty"`
	DatasetVersionID *uuid.UUID `json:"dataset_version_id,omitempty"`
}

// NewJobContext creates the initial context for one workflow invocation.
// The test-case id is content-derived so identical inputs share an id.
func NewJobContext(jobID, workflowID uuid.UUID, content string, urls []string, domain string) *JobContext {
	return &JobContext{
		TestCaseID: DeriveTestCaseID(content, urls),
		JobID:      jobID,
		WorkflowID: workflowID,
		DomainPack: domain,
		Scenario:   "default",
		Operations: []Operation{},
	}
}

// DeriveTestCaseID returns the first 16 hex characters of the SHA-256 of the
// content, falling back to the joined URLs. Empty inputs yield "".
func DeriveTestCaseID(content string, urls []string) string {
	var material string
	switch {
	case strings.TrimSpace(content) != "":
		material = content
	case len(urls) > 0:
		material = strings.Join(urls, ";")
	default:
		return ""
	}
	sum := sha256.Sum256([]byte(material))
	return hex.EncodeToString(sum[:])[:16]
}

// RecordOperation appends an executed operation, once.
func (c *JobContext) RecordOperation(op Operation) {
	for _, o := range c.Operations {
		if o == op {
			return
		}
	}
	c.Operations = append(c.Operations, op)
}

// RecordFallbacks appends fallback events from a step.
func (c *JobContext) RecordFallbacks(events []FallbackEvent) {
	c.FallbacksUsed = append(c.FallbacksUsed, events...)
}

// ToResult serializes the context into the shape stored in Job.Result.
func (c *JobContext) ToResult() map[string]any {
	ops := make([]string, len(c.Operations))
	for i, op := range c.Operations {
		ops[i] = string(op)
	}
	result := map[string]any{
		"test_case_id": c.TestCaseID,
		"workflow_id":  c.WorkflowID.String(),
		"operations":   ops,
	}
	if len(c.FallbacksUsed) > 0 {
		result["fallbacks_used"] = c.FallbacksUsed
	}
	if c.SchemaVersionID != nil {
		result["schema_version_id"] = c.SchemaVersionID.String()
	}
	if c.DatasetVersionID != nil {
		result["dataset_version_id"] = c.DatasetVersionID.String()
	}
	if c.QualityScore != nil {
		result["quality_score"] = *c.QualityScore
		result["quality_report"] = c.QualityReport
	}
	if c.DomainPack != "" {
		result["domain_pack"] = c.DomainPack
	}
	return result
}
