package services

import (
	"context"
	"math"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/datastore"
)

const (
	qualityDefaultScore   = 85.0
	qualityMaxTables      = 5
	qualityNullOKScore    = 90.0
	qualityNullHighScore  = 70.0
	qualityTypeScore      = 85.0
	qualityNullRatioLimit = 0.5
)

// QualityService scores a materialized dataset version with lightweight
// per-table checks. Scoring is advisory and never fails a workflow.
type QualityService struct {
	store  *datastore.Store
	logger *zap.Logger
}

// NewQualityService creates a QualityService.
func NewQualityService(store *datastore.Store, logger *zap.Logger) *QualityService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QualityService{store: store, logger: logger.Named("quality")}
}

// Compute runs null-ratio and type-consistency checks over at most
// qualityMaxTables tables and returns the mean check score plus a per-table
// report. A dataset with no scorable tables gets the default score.
func (s *QualityService) Compute(ctx context.Context, datasetVersionID uuid.UUID) (float64, map[string]any, error) {
	tables, err := s.store.ListTables(datasetVersionID)
	if err != nil {
		return 0, nil, err
	}
	if len(tables) > qualityMaxTables {
		tables = tables[:qualityMaxTables]
	}

	report := map[string]any{}
	var scores []float64

	for _, table := range tables {
		if err := ctx.Err(); err != nil {
			return 0, nil, err
		}
		data, err := s.store.ReadTable(datasetVersionID, table)
		if err != nil {
			report[table] = map[string]any{"error": err.Error()}
			continue
		}
		if len(data.Rows) == 0 {
			report[table] = map[string]any{"skipped": "no rows"}
			continue
		}

		nullRatio := blankRatio(data)
		nullScore := qualityNullOKScore
		nullStatus := "ok"
		if nullRatio >= qualityNullRatioLimit {
			nullScore = qualityNullHighScore
			nullStatus = "high_null_ratio"
		}

		typeScore := qualityTypeScore
		typeStatus := "ok"
		if !columnsTypeConsistent(data) {
			typeStatus = "mixed_types"
		}

		scores = append(scores, nullScore, typeScore)
		report[table] = map[string]any{
			"null_ratio_check": map[string]any{
				"ratio":  math.Round(nullRatio*1000) / 1000,
				"status": nullStatus,
				"score":  nullScore,
			},
			"type_consistency": map[string]any{
				"status": typeStatus,
				"score":  typeScore,
			},
			"row_count": len(data.Rows),
		}
	}

	score := qualityDefaultScore
	if len(scores) > 0 {
		sum := 0.0
		for _, v := range scores {
			sum += v
		}
		score = sum / float64(len(scores))
	}
	score = math.Max(0, math.Min(100, score))

	report["overall_score"] = score
	report["tables_checked"] = len(tables)

	s.logger.Info("Quality scoring completed",
		zap.String("dataset_version_id", datasetVersionID.String()),
		zap.Float64("score", score),
		zap.Int("tables", len(tables)))

	return score, report, nil
}

// blankRatio is the fraction of empty cells across all rows.
func blankRatio(data *datastore.TableData) float64 {
	total, blank := 0, 0
	for _, row := range data.Rows {
		for _, v := range row {
			total++
			if strings.TrimSpace(v) == "" {
				blank++
			}
		}
	}
	if total == 0 {
		return 0
	}
	return float64(blank) / float64(total)
}

// columnsTypeConsistent reports whether each column's non-empty values all
// parse the same way: every value numeric, or none.
func columnsTypeConsistent(data *datastore.TableData) bool {
	for col := range data.Columns {
		numeric, text := 0, 0
		for _, row := range data.Rows {
			if col >= len(row) || strings.TrimSpace(row[col]) == "" {
				continue
			}
			if _, err := strconv.ParseFloat(row[col], 64); err == nil {
				numeric++
			} else {
				text++
			}
		}
		if numeric > 0 && text > 0 {
			return false
		}
	}
	return true
}
