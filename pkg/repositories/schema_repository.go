package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/tdmstack/tdm-engine/pkg/apperrors"
	"github.com/tdmstack/tdm-engine/pkg/database"
	"github.com/tdmstack/tdm-engine/pkg/models"
)

// SchemaRepository provides data access for source connections and discovered
// schema snapshots.
type SchemaRepository interface {
	// Source connections
	CreateSource(ctx context.Context, source *models.SourceConnection) error
	GetSourceByID(ctx context.Context, id uuid.UUID) (*models.SourceConnection, error)
	GetSourceByName(ctx context.Context, name string) (*models.SourceConnection, error)
	ListSources(ctx context.Context) ([]*models.SourceConnection, error)

	// CreateVersion persists a complete discovered snapshot transactionally:
	// the version row plus its tables, columns and relationships. The version
	// number is assigned here (previous max for the source plus one) and any
	// previously active version for the source is archived.
	CreateVersion(ctx context.Context, sourceID uuid.UUID, graph *models.SchemaGraph) error

	// GetVersion returns one schema version row.
	GetVersion(ctx context.Context, versionID uuid.UUID) (*models.SchemaVersion, error)

	// GetActiveVersion returns the active version for a source.
	GetActiveVersion(ctx context.Context, sourceID uuid.UUID) (*models.SchemaVersion, error)

	// LoadGraph reads a complete schema version back into memory. Tables
	// come back in their persisted order, columns in ordinal order and
	// relationships in insertion order.
	LoadGraph(ctx context.Context, versionID uuid.UUID) (*models.SchemaGraph, error)
}

type schemaRepository struct {
	db *database.DB
}

// NewSchemaRepository creates a new SchemaRepository.
func NewSchemaRepository(db *database.DB) SchemaRepository {
	return &schemaRepository{db: db}
}

var _ SchemaRepository = (*schemaRepository)(nil)

func (r *schemaRepository) CreateSource(ctx context.Context, source *models.SourceConnection) error {
	if source.ID == uuid.Nil {
		source.ID = uuid.New()
	}
	source.CreatedAt = time.Now()

	const query = `
		INSERT INTO tdm_source_connections (id, name, connection_string, driver, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := r.db.Exec(ctx, query,
		source.ID, source.Name, source.ConnectionString, source.Driver, source.CreatedAt)
	if err != nil {
		return fmt.Errorf("create source connection: %w", err)
	}
	return nil
}

func (r *schemaRepository) GetSourceByID(ctx context.Context, id uuid.UUID) (*models.SourceConnection, error) {
	const query = `
		SELECT id, name, connection_string, driver, created_at
		FROM tdm_source_connections
		WHERE id = $1`

	return r.scanSource(r.db.QueryRow(ctx, query, id))
}

func (r *schemaRepository) GetSourceByName(ctx context.Context, name string) (*models.SourceConnection, error) {
	const query = `
		SELECT id, name, connection_string, driver, created_at
		FROM tdm_source_connections
		WHERE name = $1`

	return r.scanSource(r.db.QueryRow(ctx, query, name))
}

func (r *schemaRepository) scanSource(row pgx.Row) (*models.SourceConnection, error) {
	var s models.SourceConnection
	err := row.Scan(&s.ID, &s.Name, &s.ConnectionString, &s.Driver, &s.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get source connection: %w", err)
	}
	return &s, nil
}

func (r *schemaRepository) ListSources(ctx context.Context) ([]*models.SourceConnection, error) {
	const query = `
		SELECT id, name, connection_string, driver, created_at
		FROM tdm_source_connections
		ORDER BY created_at`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("list source connections: %w", err)
	}
	defer rows.Close()

	var sources []*models.SourceConnection
	for rows.Next() {
		var s models.SourceConnection
		if err := rows.Scan(&s.ID, &s.Name, &s.ConnectionString, &s.Driver, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan source connection: %w", err)
		}
		sources = append(sources, &s)
	}
	return sources, rows.Err()
}

func (r *schemaRepository) CreateVersion(ctx context.Context, sourceID uuid.UUID, graph *models.SchemaGraph) error {
	if graph.Version == nil {
		return fmt.Errorf("create schema version: graph has no version")
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin schema version transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	version := graph.Version
	if version.ID == uuid.Nil {
		version.ID = uuid.New()
	}
	version.SchemaID = sourceID
	version.Status = models.SchemaVersionActive
	version.DiscoveredAt = time.Now()

	// Assign the next version number and archive the previous active version
	// in the same transaction so two concurrent discoveries cannot both end
	// up active.
	err = tx.QueryRow(ctx, `
		SELECT COALESCE(MAX(version_number), 0) + 1
		FROM tdm_schema_versions
		WHERE schema_id = $1`, sourceID).Scan(&version.VersionNumber)
	if err != nil {
		return fmt.Errorf("next version number: %w", err)
	}

	_, err = tx.Exec(ctx, `
		UPDATE tdm_schema_versions
		SET status = $1
		WHERE schema_id = $2 AND status = $3`,
		models.SchemaVersionArchived, sourceID, models.SchemaVersionActive)
	if err != nil {
		return fmt.Errorf("archive previous versions: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO tdm_schema_versions (id, schema_id, version_number, status, discovered_at)
		VALUES ($1, $2, $3, $4, $5)`,
		version.ID, version.SchemaID, version.VersionNumber, version.Status, version.DiscoveredAt)
	if err != nil {
		return fmt.Errorf("insert schema version: %w", err)
	}

	for pos, table := range graph.Tables {
		if table.ID == uuid.Nil {
			table.ID = uuid.New()
		}
		table.SchemaVersionID = version.ID
		table.CreatedAt = version.DiscoveredAt

		_, err = tx.Exec(ctx, `
			INSERT INTO tdm_schema_tables (id, schema_version_id, name, namespace, row_count, position, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7)`,
			table.ID, table.SchemaVersionID, table.Name, table.Namespace, table.RowCount, pos, table.CreatedAt)
		if err != nil {
			return fmt.Errorf("insert table %s: %w", table.Name, err)
		}

		for _, col := range graph.Columns[table.ID] {
			if col.ID == uuid.Nil {
				col.ID = uuid.New()
			}
			col.SchemaTableID = table.ID

			_, err = tx.Exec(ctx, `
				INSERT INTO tdm_schema_columns (id, schema_table_id, name, data_type, inferred_type, is_nullable, ordinal_position)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				col.ID, col.SchemaTableID, col.Name, col.DataType, col.InferredType, col.IsNullable, col.OrdinalPosition)
			if err != nil {
				return fmt.Errorf("insert column %s.%s: %w", table.Name, col.Name, err)
			}
		}
	}

	for pos, rel := range graph.Relationships {
		if rel.ID == uuid.Nil {
			rel.ID = uuid.New()
		}
		_, err = tx.Exec(ctx, `
			INSERT INTO tdm_schema_relationships (id, parent_table_id, child_table_id, parent_column_id, child_column_id, position)
			VALUES ($1, $2, $3, $4, $5, $6)`,
			rel.ID, rel.ParentTableID, rel.ChildTableID, rel.ParentColumnID, rel.ChildColumnID, pos)
		if err != nil {
			return fmt.Errorf("insert relationship: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit schema version: %w", err)
	}
	return nil
}

func (r *schemaRepository) GetVersion(ctx context.Context, versionID uuid.UUID) (*models.SchemaVersion, error) {
	const query = `
		SELECT id, schema_id, version_number, status, discovered_at
		FROM tdm_schema_versions
		WHERE id = $1`

	var v models.SchemaVersion
	err := r.db.QueryRow(ctx, query, versionID).Scan(
		&v.ID, &v.SchemaID, &v.VersionNumber, &v.Status, &v.DiscoveredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrSchemaVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get schema version: %w", err)
	}
	return &v, nil
}

func (r *schemaRepository) GetActiveVersion(ctx context.Context, sourceID uuid.UUID) (*models.SchemaVersion, error) {
	const query = `
		SELECT id, schema_id, version_number, status, discovered_at
		FROM tdm_schema_versions
		WHERE schema_id = $1 AND status = $2`

	var v models.SchemaVersion
	err := r.db.QueryRow(ctx, query, sourceID, models.SchemaVersionActive).Scan(
		&v.ID, &v.SchemaID, &v.VersionNumber, &v.Status, &v.DiscoveredAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.ErrSchemaVersionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active schema version: %w", err)
	}
	return &v, nil
}

func (r *schemaRepository) LoadGraph(ctx context.Context, versionID uuid.UUID) (*models.SchemaGraph, error) {
	version, err := r.GetVersion(ctx, versionID)
	if err != nil {
		return nil, err
	}

	graph := &models.SchemaGraph{
		Version: version,
		Columns: make(map[uuid.UUID][]*models.SchemaColumn),
	}

	tableRows, err := r.db.Query(ctx, `
		SELECT id, schema_version_id, name, namespace, row_count, created_at
		FROM tdm_schema_tables
		WHERE schema_version_id = $1
		ORDER BY position`, versionID)
	if err != nil {
		return nil, fmt.Errorf("query schema tables: %w", err)
	}
	defer tableRows.Close()

	for tableRows.Next() {
		var t models.SchemaTable
		if err := tableRows.Scan(&t.ID, &t.SchemaVersionID, &t.Name, &t.Namespace, &t.RowCount, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan schema table: %w", err)
		}
		graph.Tables = append(graph.Tables, &t)
	}
	if err := tableRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema tables: %w", err)
	}

	colRows, err := r.db.Query(ctx, `
		SELECT c.id, c.schema_table_id, c.name, c.data_type, c.inferred_type, c.is_nullable, c.ordinal_position
		FROM tdm_schema_columns c
		JOIN tdm_schema_tables t ON t.id = c.schema_table_id
		WHERE t.schema_version_id = $1
		ORDER BY t.position, c.ordinal_position`, versionID)
	if err != nil {
		return nil, fmt.Errorf("query schema columns: %w", err)
	}
	defer colRows.Close()

	for colRows.Next() {
		var c models.SchemaColumn
		if err := colRows.Scan(&c.ID, &c.SchemaTableID, &c.Name, &c.DataType, &c.InferredType, &c.IsNullable, &c.OrdinalPosition); err != nil {
			return nil, fmt.Errorf("scan schema column: %w", err)
		}
		graph.Columns[c.SchemaTableID] = append(graph.Columns[c.SchemaTableID], &c)
	}
	if err := colRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema columns: %w", err)
	}

	relRows, err := r.db.Query(ctx, `
		SELECT r.id, r.parent_table_id, r.child_table_id, r.parent_column_id, r.child_column_id
		FROM tdm_schema_relationships r
		JOIN tdm_schema_tables t ON t.id = r.child_table_id
		WHERE t.schema_version_id = $1
		ORDER BY r.position`, versionID)
	if err != nil {
		return nil, fmt.Errorf("query schema relationships: %w", err)
	}
	defer relRows.Close()

	for relRows.Next() {
		var rel models.SchemaRelationship
		if err := relRows.Scan(&rel.ID, &rel.ParentTableID, &rel.ChildTableID, &rel.ParentColumnID, &rel.ChildColumnID); err != nil {
			return nil, fmt.Errorf("scan schema relationship: %w", err)
		}
		graph.Relationships = append(graph.Relationships, &rel)
	}
	if err := relRows.Err(); err != nil {
		return nil, fmt.Errorf("iterate schema relationships: %w", err)
	}

	return graph, nil
}
