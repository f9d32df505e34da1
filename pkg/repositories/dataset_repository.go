package repositories

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tdmstack/tdm-engine/pkg/apperrors"
	"github.com/tdmstack/tdm-engine/pkg/database"
	"github.com/tdmstack/tdm-engine/pkg/models"
)

// DatasetRepository provides data access for dataset versions and their
// row-count metadata.
type DatasetRepository interface {
	// Create persists the dataset version row and its per-table row counts
	// transactionally. Row counts are stored as metadata rows: one
	// "row_count_<table>" entry per table plus a "row_counts" total.
	Create(ctx context.Context, version *models.DatasetVersion, rowCounts models.RowCounts) error

	GetByID(ctx context.Context, id uuid.UUID) (*models.DatasetVersion, error)

	// GetRowCounts reads back the per-table counts for a dataset version.
	GetRowCounts(ctx context.Context, id uuid.UUID) (models.RowCounts, error)
}

type datasetRepository struct {
	db *database.DB
}

// NewDatasetRepository creates a new DatasetRepository.
func NewDatasetRepository(db *database.DB) DatasetRepository {
	return &datasetRepository{db: db}
}

var _ DatasetRepository = (*datasetRepository)(nil)

const rowCountKeyPrefix = "row_count_"

func (r *datasetRepository) Create(ctx context.Context, version *models.DatasetVersion, rowCounts models.RowCounts) error {
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	if version.Status == "" {
		version.Status = "ready"
	}
	version.CreatedAt = time.Now()

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin dataset transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx, `
		INSERT INTO tdm_dataset_versions (id, name, schema_version_id, source_type, status, path_prefix, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		version.ID, version.Name, version.SchemaVersionID, version.SourceType,
		version.Status, version.PathPrefix, version.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert dataset version: %w", err)
	}

	total := 0
	for table, count := range rowCounts {
		total += count
		_, err = tx.Exec(ctx, `
			INSERT INTO tdm_dataset_metadata (id, dataset_version_id, key, value)
			VALUES ($1, $2, $3, $4)`,
			uuid.New(), version.ID, rowCountKeyPrefix+table, strconv.Itoa(count))
		if err != nil {
			return fmt.Errorf("insert row count for %s: %w", table, err)
		}
	}
	_, err = tx.Exec(ctx, `
		INSERT INTO tdm_dataset_metadata (id, dataset_version_id, key, value)
		VALUES ($1, $2, $3, $4)`,
		uuid.New(), version.ID, "row_counts", strconv.Itoa(total))
	if err != nil {
		return fmt.Errorf("insert total row count: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit dataset version: %w", err)
	}
	return nil
}

func (r *datasetRepository) GetByID(ctx context.Context, id uuid.UUID) (*models.DatasetVersion, error) {
	const query = `
		SELECT id, name, schema_version_id, source_type, status, path_prefix, created_at
		FROM tdm_dataset_versions
		WHERE id = $1`

	var v models.DatasetVersion
	err := r.db.QueryRow(ctx, query, id).Scan(
		&v.ID, &v.Name, &v.SchemaVersionID, &v.SourceType, &v.Status, &v.PathPrefix, &v.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrDatasetNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get dataset version: %w", err)
	}
	return &v, nil
}

func (r *datasetRepository) GetRowCounts(ctx context.Context, id uuid.UUID) (models.RowCounts, error) {
	const query = `
		SELECT key, value
		FROM tdm_dataset_metadata
		WHERE dataset_version_id = $1 AND key LIKE 'row\_count\_%'`

	rows, err := r.db.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("query dataset row counts: %w", err)
	}
	defer rows.Close()

	counts := models.RowCounts{}
	for rows.Next() {
		var key, value string
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan dataset metadata: %w", err)
		}
		count, err := strconv.Atoi(value)
		if err != nil {
			return nil, fmt.Errorf("parse row count %q: %w", value, err)
		}
		counts[key[len(rowCountKeyPrefix):]] = count
	}
	return counts, rows.Err()
}
