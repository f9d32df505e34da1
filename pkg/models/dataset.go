package models

import (
	"time"

	"github.com/google/uuid"
)

// Dataset source types describe which operation materialized the version.
const (
	DatasetSourceSubset           = "subset"
	DatasetSourceMasked           = "masked"
	DatasetSourceSynthetic        = "synthetic"
	DatasetSourceSyntheticCrawled = "synthetic_crawled"
)

// DatasetVersion is one immutable materialized tabular artifact. Its content
// lives in the dataset store under PathPrefix, one file per table; the row
// is only metadata.
type DatasetVersion struct {
	ID              uuid.UUID  `json:"id"`
	Name            string     `json:"name"`
	SchemaVersionID *uuid.UUID `json:"schema_version_id,omitempty"`
	SourceType      string     `json:"source_type"`
	Status          string     `json:"status"`
	PathPrefix      string     `json:"path_prefix"`
	CreatedAt       time.Time  `json:"created_at"`
}

// RowCounts maps table name to the number of rows materialized for it.
type RowCounts map[string]int
