package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tdmstack/tdm-engine/pkg/database"
	"github.com/tdmstack/tdm-engine/pkg/models"
)

// PIIRepository provides data access for PII findings.
type PIIRepository interface {
	// ReplaceFindings replaces all findings for a schema version with the
	// given set transactionally. Re-running classification on the same
	// version is idempotent.
	ReplaceFindings(ctx context.Context, schemaVersionID uuid.UUID, findings []*models.PIIFinding) error

	ListBySchemaVersion(ctx context.Context, schemaVersionID uuid.UUID) ([]*models.PIIFinding, error)
}

type piiRepository struct {
	db *database.DB
}

// NewPIIRepository creates a new PIIRepository.
func NewPIIRepository(db *database.DB) PIIRepository {
	return &piiRepository{db: db}
}

var _ PIIRepository = (*piiRepository)(nil)

func (r *piiRepository) ReplaceFindings(ctx context.Context, schemaVersionID uuid.UUID, findings []*models.PIIFinding) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin pii transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, "DELETE FROM tdm_pii_findings WHERE schema_version_id = $1", schemaVersionID)
	if err != nil {
		return fmt.Errorf("clear previous findings: %w", err)
	}

	now := time.Now()
	for _, f := range findings {
		if f.ID == uuid.Nil {
			f.ID = uuid.New()
		}
		f.SchemaVersionID = schemaVersionID
		f.CreatedAt = now

		_, err = tx.Exec(ctx, `
			INSERT INTO tdm_pii_findings (id, schema_version_id, table_name, column_name, pii_type, technique, confidence, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
			f.ID, f.SchemaVersionID, f.TableName, f.ColumnName, f.PIIType, f.Technique, f.Confidence, f.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert finding %s.%s: %w", f.TableName, f.ColumnName, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit pii findings: %w", err)
	}
	return nil
}

func (r *piiRepository) ListBySchemaVersion(ctx context.Context, schemaVersionID uuid.UUID) ([]*models.PIIFinding, error) {
	const query = `
		SELECT id, schema_version_id, table_name, column_name, pii_type, technique, confidence, created_at
		FROM tdm_pii_findings
		WHERE schema_version_id = $1
		ORDER BY table_name, column_name`

	rows, err := r.db.Query(ctx, query, schemaVersionID)
	if err != nil {
		return nil, fmt.Errorf("query pii findings: %w", err)
	}
	defer rows.Close()

	var findings []*models.PIIFinding
	for rows.Next() {
		var f models.PIIFinding
		if err := rows.Scan(&f.ID, &f.SchemaVersionID, &f.TableName, &f.ColumnName,
			&f.PIIType, &f.Technique, &f.Confidence, &f.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan pii finding: %w", err)
		}
		findings = append(findings, &f)
	}
	return findings, rows.Err()
}
