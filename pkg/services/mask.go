package services

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/datastore"
	"github.com/tdmstack/tdm-engine/pkg/models"
	"github.com/tdmstack/tdm-engine/pkg/repositories"
)

// maskSalt keys the deterministic hash transforms so masked values are
// stable across runs but cannot be trivially reversed by rehashing the
// original value space.
const maskSalt = "tdm-mask-v1"

// MaskService applies masking transforms to a dataset version, producing a
// new immutable version. The input version is never modified.
type MaskService struct {
	datasetRepo repositories.DatasetRepository
	piiRepo     repositories.PIIRepository
	store       *datastore.Store
	storePath   string
	logger      *zap.Logger
}

// NewMaskService creates a MaskService.
func NewMaskService(datasetRepo repositories.DatasetRepository, piiRepo repositories.PIIRepository, store *datastore.Store, storePath string, logger *zap.Logger) *MaskService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MaskService{
		datasetRepo: datasetRepo,
		piiRepo:     piiRepo,
		store:       store,
		storePath:   storePath,
		logger:      logger.Named("mask"),
	}
}

func maskHash(val string) string {
	sum := sha256.Sum256([]byte(maskSalt + val))
	return hex.EncodeToString(sum[:])[:16]
}

func maskEmail(val string) string {
	if !strings.Contains(val, "@") {
		return "***@***.***"
	}
	return maskHash(val)[:8] + "@masked.local"
}

// applyTechnique transforms one value. Empty values pass through untouched.
func applyTechnique(technique, piiType, val string) string {
	if val == "" {
		return val
	}
	switch technique {
	case models.TechniqueRedact:
		return "REDACTED"
	case models.TechniqueHash:
		if piiType == models.PIITypeEmail {
			return maskEmail(val)
		}
		return maskHash(val)
	case models.TechniqueNull:
		return ""
	case models.TechniqueFake:
		// Deterministic pseudonym so identical inputs mask identically.
		return "user_" + maskHash(val)[:8]
	default:
		return "REDACTED"
	}
}

// maskRule is one resolved column transform.
type maskRule struct {
	technique string
	piiType   string
}

// Mask reads every table of the input dataset version, applies the resolved
// rules and writes a new dataset version. Rules come from the PII findings
// of the dataset's schema version, overridden by any explicit
// "table.column" entries in the config.
func (s *MaskService) Mask(ctx context.Context, datasetVersionID uuid.UUID, cfg *models.MaskConfig) (*StepResult, error) {
	input, err := s.datasetRepo.GetByID(ctx, datasetVersionID)
	if err != nil {
		return nil, err
	}

	rules := map[string]maskRule{}
	if input.SchemaVersionID != nil {
		findings, err := s.piiRepo.ListBySchemaVersion(ctx, *input.SchemaVersionID)
		if err != nil {
			return nil, err
		}
		for _, f := range findings {
			rules[f.TableName+"."+f.ColumnName] = maskRule{technique: f.Technique, piiType: f.PIIType}
		}
	}
	if cfg != nil {
		for key, technique := range cfg.Rules {
			prev := rules[key]
			rules[key] = maskRule{technique: technique, piiType: prev.piiType}
		}
	}

	tables, err := s.store.ListTables(datasetVersionID)
	if err != nil {
		return nil, err
	}

	newVersionID := uuid.New()
	rowCounts := models.RowCounts{}
	maskedColumns := 0

	for _, table := range tables {
		data, err := s.store.ReadTable(datasetVersionID, table)
		if err != nil {
			return nil, err
		}

		for colIdx, colName := range data.Columns {
			rule, ok := rules[table+"."+colName]
			if !ok {
				continue
			}
			maskedColumns++
			for _, row := range data.Rows {
				if colIdx < len(row) {
					row[colIdx] = applyTechnique(rule.technique, rule.piiType, row[colIdx])
				}
			}
		}

		if _, err := s.store.WriteTable(newVersionID, table, data); err != nil {
			return nil, err
		}
		rowCounts[table] = len(data.Rows)
	}

	version := &models.DatasetVersion{
		ID:              newVersionID,
		Name:            fmt.Sprintf("masked_%s", datasetVersionID.String()[:8]),
		SchemaVersionID: input.SchemaVersionID,
		SourceType:      models.DatasetSourceMasked,
		PathPrefix:      filepath.Join(s.storePath, newVersionID.String()),
	}
	if err := s.datasetRepo.Create(ctx, version, rowCounts); err != nil {
		return nil, err
	}

	s.logger.Info("Masking completed",
		zap.String("input_dataset", datasetVersionID.String()),
		zap.String("masked_dataset", newVersionID.String()),
		zap.Int("masked_columns", maskedColumns))

	return &StepResult{
		DatasetVersionID: &newVersionID,
		Message:          fmt.Sprintf("Masking completed. Dataset: %s", newVersionID),
		Details: map[string]any{
			"dataset_version_id": newVersionID.String(),
			"masked_columns":     maskedColumns,
			"row_counts":         rowCounts,
		},
		Lineage: []models.LineageEdge{{
			SourceType: models.ArtifactDatasetVersion,
			SourceID:   datasetVersionID.String(),
			TargetType: models.ArtifactDatasetVersion,
			TargetID:   newVersionID.String(),
			Operation:  string(models.OpMask),
		}},
	}, nil
}
