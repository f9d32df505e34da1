package models

import (
	"time"

	"github.com/google/uuid"
)

// PII types recognized by the classifier.
const (
	PIITypeEmail    = "email"
	PIITypePhone    = "phone"
	PIITypeName     = "name"
	PIITypeAddress  = "address"
	PIITypeSSN      = "ssn"
	PIITypeCard     = "credit_card"
	PIITypeBirthday = "date_of_birth"
	PIITypeIPAddr   = "ip_address"
)

// Masking techniques applied to classified columns.
const (
	TechniqueRedact = "redact"
	TechniqueHash   = "hash"
	TechniqueNull   = "null"
	TechniqueFake   = "fake"
)

// PIIFinding classifies one column of one schema version as carrying PII.
// Unique per (schema_version_id, table_name, column_name).
type PIIFinding struct {
	ID              uuid.UUID `json:"id"`
	SchemaVersionID uuid.UUID `json:"schema_version_id"`
	TableName       string    `json:"table_name"`
	ColumnName      string    `json:"column_name"`
	PIIType         string    `json:"pii_type"`
	Technique       string    `json:"technique"`
	Confidence      float64   `json:"confidence"`
	CreatedAt       time.Time `json:"created_at"`
}

// Environment is a registered provisioning target.
type Environment struct {
	ID               uuid.UUID `json:"id"`
	Name             string    `json:"name"`
	ConnectionString string    `json:"-"`
	CreatedAt        time.Time `json:"created_at"`
}
