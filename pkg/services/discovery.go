package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/adapters/datasource"
	"github.com/tdmstack/tdm-engine/pkg/apperrors"
	"github.com/tdmstack/tdm-engine/pkg/logging"
	"github.com/tdmstack/tdm-engine/pkg/models"
	"github.com/tdmstack/tdm-engine/pkg/repositories"
)

// DiscoveryService inspects a source database and persists the result as a
// new immutable schema version.
type DiscoveryService struct {
	schemaRepo repositories.SchemaRepository
	logger     *zap.Logger
}

// NewDiscoveryService creates a DiscoveryService.
func NewDiscoveryService(schemaRepo repositories.SchemaRepository, logger *zap.Logger) *DiscoveryService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DiscoveryService{schemaRepo: schemaRepo, logger: logger.Named("discovery")}
}

// sourceName derives a stable registry name from the connection string so
// repeated discoveries of the same source share one connection record.
func sourceName(connStr string) string {
	sum := sha256.Sum256([]byte(connStr))
	return "source_" + hex.EncodeToString(sum[:])[:12]
}

// Run discovers tables, columns and foreign keys and stores them as a new
// schema version. Per-table stat failures are tolerated; a connection
// failure aborts the step.
func (s *DiscoveryService) Run(ctx context.Context, connStr string, cfg *models.DiscoverConfig) (*StepResult, error) {
	if connStr == "" {
		return nil, fmt.Errorf("discovery: %w", apperrors.ErrMissingConnection)
	}
	if cfg == nil {
		cfg = &models.DiscoverConfig{IncludeStats: true}
	}

	driver, err := datasource.DriverForURL(connStr)
	if err != nil {
		return nil, fmt.Errorf("discovery: %w", err)
	}

	discoverer, err := datasource.NewSchemaDiscoverer(ctx, connStr, s.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to source: %w", err)
	}
	defer discoverer.Close()

	tables, err := discoverer.DiscoverTables(ctx, cfg.Namespaces)
	if err != nil {
		return nil, fmt.Errorf("discover tables: %w", err)
	}

	graph := &models.SchemaGraph{
		Version: &models.SchemaVersion{},
		Columns: make(map[uuid.UUID][]*models.SchemaColumn),
	}

	// Lookup keyed by namespace/table and column name for FK resolution.
	tableIDs := make(map[string]uuid.UUID, len(tables))
	columnIDs := make(map[string]uuid.UUID)
	key := func(ns, table string) string { return ns + "." + table }

	for _, tm := range tables {
		table := &models.SchemaTable{
			ID:        uuid.New(),
			Name:      tm.Name,
			Namespace: tm.Namespace,
		}
		if cfg.IncludeStats {
			count, err := discoverer.CountRows(ctx, tm.Namespace, tm.Name)
			if err != nil {
				s.logger.Warn("Row count failed",
					zap.String("table", tm.Name),
					zap.Error(err))
			} else {
				table.RowCount = &count
			}
		}
		graph.Tables = append(graph.Tables, table)
		tableIDs[key(tm.Namespace, tm.Name)] = table.ID

		columns, err := discoverer.DiscoverColumns(ctx, tm.Namespace, tm.Name)
		if err != nil {
			return nil, fmt.Errorf("discover columns for %s: %w", tm.Name, err)
		}
		for _, cm := range columns {
			col := &models.SchemaColumn{
				ID:              uuid.New(),
				SchemaTableID:   table.ID,
				Name:            cm.Name,
				DataType:        cm.DataType,
				IsNullable:      cm.IsNullable,
				OrdinalPosition: cm.OrdinalPosition,
			}
			if semantic := inferSemanticType(cm.Name); semantic != "" {
				col.InferredType = &semantic
			}
			graph.Columns[table.ID] = append(graph.Columns[table.ID], col)
			columnIDs[key(tm.Namespace, tm.Name)+"."+cm.Name] = col.ID
		}
	}

	fks, err := discoverer.DiscoverForeignKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("discover foreign keys: %w", err)
	}
	for _, fk := range fks {
		parentTableID, okPT := tableIDs[key(fk.ParentNamespace, fk.ParentTable)]
		childTableID, okCT := tableIDs[key(fk.ChildNamespace, fk.ChildTable)]
		parentColID, okPC := columnIDs[key(fk.ParentNamespace, fk.ParentTable)+"."+fk.ParentColumn]
		childColID, okCC := columnIDs[key(fk.ChildNamespace, fk.ChildTable)+"."+fk.ChildColumn]
		if !okPT || !okCT || !okPC || !okCC {
			// FK referencing a table outside the discovered namespaces.
			continue
		}
		graph.Relationships = append(graph.Relationships, &models.SchemaRelationship{
			ID:             uuid.New(),
			ParentTableID:  parentTableID,
			ChildTableID:   childTableID,
			ParentColumnID: parentColID,
			ChildColumnID:  childColID,
		})
	}

	source, err := s.schemaRepo.GetSourceByName(ctx, sourceName(connStr))
	if errors.Is(err, apperrors.ErrNotFound) {
		source = &models.SourceConnection{
			Name:             sourceName(connStr),
			ConnectionString: connStr,
			Driver:           driver,
		}
		if err := s.schemaRepo.CreateSource(ctx, source); err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}

	if err := s.schemaRepo.CreateVersion(ctx, source.ID, graph); err != nil {
		return nil, err
	}

	versionID := graph.Version.ID
	s.logger.Info("Schema discovered",
		zap.String("source", logging.SanitizeConnectionString(connStr)),
		zap.String("schema_version_id", versionID.String()),
		zap.Int("tables", len(graph.Tables)),
		zap.Int("relationships", len(graph.Relationships)))

	return &StepResult{
		SchemaVersionID: &versionID,
		Message:         fmt.Sprintf("Schema discovered: version %d, %d tables", graph.Version.VersionNumber, len(graph.Tables)),
		Details: map[string]any{
			"schema_version_id": versionID.String(),
			"version_number":    graph.Version.VersionNumber,
			"tables_count":      len(graph.Tables),
			"relationships":     len(graph.Relationships),
		},
	}, nil
}

// inferSemanticType guesses a semantic type from the column name, reusing
// the PII classifier's fixed hint order so ambiguous names like ip_address
// resolve the same way on every discovery run. Returns "" when nothing
// matches.
func inferSemanticType(name string) string {
	return classifyColumn(name)
}
