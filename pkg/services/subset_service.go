package services

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/adapters/datasource"
	"github.com/tdmstack/tdm-engine/pkg/apperrors"
	"github.com/tdmstack/tdm-engine/pkg/datastore"
	"github.com/tdmstack/tdm-engine/pkg/models"
	"github.com/tdmstack/tdm-engine/pkg/repositories"
)

// SubsetService runs the FK-aware subsetter against a source database and
// materializes the extracted rows as a new dataset version.
type SubsetService struct {
	schemaRepo  repositories.SchemaRepository
	datasetRepo repositories.DatasetRepository
	store       *datastore.Store
	storePath   string
	subsetter   *Subsetter
	logger      *zap.Logger
}

// NewSubsetService creates a SubsetService.
func NewSubsetService(schemaRepo repositories.SchemaRepository, datasetRepo repositories.DatasetRepository, store *datastore.Store, storePath string, subsetter *Subsetter, logger *zap.Logger) *SubsetService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SubsetService{
		schemaRepo:  schemaRepo,
		datasetRepo: datasetRepo,
		store:       store,
		storePath:   storePath,
		subsetter:   subsetter,
		logger:      logger.Named("subset"),
	}
}

// rowSetTableData converts an extracted row set to storable text rows. Values
// are rendered with %v; NULLs become empty strings.
func rowSetTableData(rs *datasource.RowSet) *datastore.TableData {
	data := &datastore.TableData{Columns: rs.Columns}
	for _, row := range rs.Rows {
		out := make([]string, len(rs.Columns))
		for i, col := range rs.Columns {
			if v, ok := row[col]; ok && v != nil {
				out[i] = fmt.Sprintf("%v", v)
			}
		}
		data.Rows = append(data.Rows, out)
	}
	return data
}

// Run subsets the source database along the schema version's FK graph and
// stores the result. Per-table extraction warnings surface as job log lines;
// only a root-table failure aborts.
func (s *SubsetService) Run(ctx context.Context, schemaVersionID uuid.UUID, connStr string, cfg *models.SubsetConfig) (*StepResult, error) {
	if connStr == "" {
		return nil, fmt.Errorf("subset: %w", apperrors.ErrMissingConnection)
	}

	graph, err := s.schemaRepo.LoadGraph(ctx, schemaVersionID)
	if err != nil {
		return nil, err
	}

	extractor, err := datasource.NewRowExtractor(ctx, connStr, s.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to source: %w", err)
	}
	defer extractor.Close()

	rowSets, notes, err := s.subsetter.Subset(ctx, graph, extractor, cfg)
	if err != nil {
		return nil, err
	}

	versionID := uuid.New()
	rowCounts := models.RowCounts{}
	for table, rs := range rowSets {
		if _, err := s.store.WriteTable(versionID, table, rowSetTableData(rs)); err != nil {
			return nil, fmt.Errorf("writing table %s: %w", table, err)
		}
		rowCounts[table] = len(rs.Rows)
	}

	version := &models.DatasetVersion{
		ID:              versionID,
		Name:            fmt.Sprintf("subset_%s", versionID.String()[:8]),
		SchemaVersionID: &schemaVersionID,
		SourceType:      models.DatasetSourceSubset,
		PathPrefix:      filepath.Join(s.storePath, versionID.String()),
	}
	if err := s.datasetRepo.Create(ctx, version, rowCounts); err != nil {
		return nil, err
	}

	var logs []StepLog
	for _, note := range notes {
		logs = append(logs, StepLog{Level: note.Level, Message: fmt.Sprintf("%s: %s", note.Table, note.Message)})
	}

	s.logger.Info("Subset completed",
		zap.String("schema_version_id", schemaVersionID.String()),
		zap.String("dataset_version_id", versionID.String()),
		zap.Int("tables", len(rowSets)))

	return &StepResult{
		SchemaVersionID:  &schemaVersionID,
		DatasetVersionID: &versionID,
		Message:          fmt.Sprintf("Subset completed. Dataset: %s", versionID),
		Details: map[string]any{
			"dataset_version_id": versionID.String(),
			"tables":             len(rowSets),
			"row_counts":         rowCounts,
		},
		Logs: logs,
		Lineage: []models.LineageEdge{{
			SourceType: models.ArtifactSchemaVersion,
			SourceID:   schemaVersionID.String(),
			TargetType: models.ArtifactDatasetVersion,
			TargetID:   versionID.String(),
			Operation:  string(models.OpSubset),
		}},
	}, nil
}
