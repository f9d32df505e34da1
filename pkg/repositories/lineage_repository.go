package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/tdmstack/tdm-engine/pkg/database"
	"github.com/tdmstack/tdm-engine/pkg/models"
)

// LineageRepository provides access to the append-only lineage graph.
// Edges are only ever inserted; there is no update or delete path.
type LineageRepository interface {
	Append(ctx context.Context, edge *models.LineageEdge) error
	ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.LineageEdge, error)

	// ListByArtifact returns every edge that touches the given artifact id,
	// as source or as target, in creation order.
	ListByArtifact(ctx context.Context, artifactID string) ([]*models.LineageEdge, error)
}

type lineageRepository struct {
	db *database.DB
}

// NewLineageRepository creates a new LineageRepository.
func NewLineageRepository(db *database.DB) LineageRepository {
	return &lineageRepository{db: db}
}

var _ LineageRepository = (*lineageRepository)(nil)

func (r *lineageRepository) Append(ctx context.Context, edge *models.LineageEdge) error {
	if edge.ID == uuid.Nil {
		edge.ID = uuid.New()
	}
	edge.CreatedAt = time.Now()

	detailsJSON, err := marshalMap(edge.Details)
	if err != nil {
		return err
	}

	const query = `
		INSERT INTO tdm_lineage_edges (id, source_type, source_id, target_type, target_id, operation, job_id, details, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`

	_, err = r.db.Exec(ctx, query,
		edge.ID, edge.SourceType, edge.SourceID, edge.TargetType, edge.TargetID,
		edge.Operation, edge.JobID, detailsJSON, edge.CreatedAt)
	if err != nil {
		return fmt.Errorf("append lineage edge: %w", err)
	}
	return nil
}

func (r *lineageRepository) ListByJob(ctx context.Context, jobID uuid.UUID) ([]*models.LineageEdge, error) {
	const query = `
		SELECT id, source_type, source_id, target_type, target_id, operation, job_id, details, created_at
		FROM tdm_lineage_edges
		WHERE job_id = $1
		ORDER BY created_at, id`

	return r.queryEdges(ctx, query, jobID)
}

func (r *lineageRepository) ListByArtifact(ctx context.Context, artifactID string) ([]*models.LineageEdge, error) {
	const query = `
		SELECT id, source_type, source_id, target_type, target_id, operation, job_id, details, created_at
		FROM tdm_lineage_edges
		WHERE source_id = $1 OR target_id = $1
		ORDER BY created_at, id`

	return r.queryEdges(ctx, query, artifactID)
}

func (r *lineageRepository) queryEdges(ctx context.Context, query string, args ...any) ([]*models.LineageEdge, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query lineage edges: %w", err)
	}
	defer rows.Close()

	var edges []*models.LineageEdge
	for rows.Next() {
		var (
			e           models.LineageEdge
			detailsJSON []byte
		)
		if err := rows.Scan(&e.ID, &e.SourceType, &e.SourceID, &e.TargetType, &e.TargetID,
			&e.Operation, &e.JobID, &detailsJSON, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan lineage edge: %w", err)
		}
		if e.Details, err = unmarshalMap(detailsJSON); err != nil {
			return nil, err
		}
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}
