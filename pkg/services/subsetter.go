package services

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/adapters/datasource"
	"github.com/tdmstack/tdm-engine/pkg/models"
)

// maxFKKeys bounds the number of parent key values used to drive a child
// extraction, keeping the generated IN clause within driver limits.
const maxFKKeys = 10000

// SubsetNote is one per-table progress or warning record produced during
// subsetting. The step layer turns these into job log entries.
type SubsetNote struct {
	Table   string
	Level   string
	Message string
	Rows    int
}

// Subsetter extracts a referentially consistent multi-table sample from a
// source database, driven by the schema graph's foreign-key edges.
//
// The traversal is single-hop and follows the graph's table enumeration
// order: a child is linked to its parent only when the parent appears
// earlier in that order, and only the first FK edge per child table drives
// extraction. Tables with no usable edge are extracted directly, capped and
// unfiltered, which can produce orphan rows but never stalls the pipeline.
type Subsetter struct {
	logger     *zap.Logger
	defaultCap int
}

// NewSubsetter creates a Subsetter. defaultCap bounds per-table extraction
// when the request does not override it; zero falls back to 100000.
func NewSubsetter(defaultCap int, logger *zap.Logger) *Subsetter {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultCap <= 0 {
		defaultCap = 100000
	}
	return &Subsetter{logger: logger.Named("subsetter"), defaultCap: defaultCap}
}

func (s *Subsetter) capFor(table string, cfg *models.SubsetConfig) int {
	if cfg != nil && cfg.MaxRowsPerTable != nil {
		if n, ok := cfg.MaxRowsPerTable[table]; ok {
			return n
		}
		if n, ok := cfg.MaxRowsPerTable["*"]; ok {
			return n
		}
	}
	return s.defaultCap
}

// truncate head-truncates a row set to the cap. Truncation is deterministic:
// first N rows in source order, never sampled.
func truncate(rs *datasource.RowSet, limit int) *datasource.RowSet {
	if limit >= 0 && len(rs.Rows) > limit {
		rs.Rows = rs.Rows[:limit]
	}
	return rs
}

// Subset extracts the root table and every reachable-or-disconnected table
// in the graph. Individual table failures become warning notes and the table
// is omitted; only a root extraction failure aborts the whole operation.
func (s *Subsetter) Subset(ctx context.Context, graph *models.SchemaGraph, extractor datasource.RowExtractor, cfg *models.SubsetConfig) (map[string]*datasource.RowSet, []SubsetNote, error) {
	if len(graph.Tables) == 0 {
		return nil, nil, fmt.Errorf("schema graph has no tables")
	}

	var notes []SubsetNote
	note := func(table, level, msg string, rows int) {
		notes = append(notes, SubsetNote{Table: table, Level: level, Message: msg, Rows: rows})
	}

	rootName := ""
	if cfg != nil {
		rootName = cfg.RootTable
	}
	root := graph.TableByName(rootName)
	if root == nil {
		root = graph.Tables[0]
		note(root.Name, models.LogLevelWarning,
			fmt.Sprintf("root table %q not in schema, falling back to %q", rootName, root.Name), 0)
		s.logger.Warn("Root table not in schema, using first table",
			zap.String("requested", rootName),
			zap.String("fallback", root.Name))
	}

	var rootFilters map[string]string
	if cfg != nil && cfg.Filters != nil {
		rootFilters = cfg.Filters[root.Name]
	}

	rootCap := s.capFor(root.Name, cfg)
	rootRows, err := extractor.ExtractRows(ctx, root.Namespace, root.Name, rootFilters, rootCap)
	if err != nil {
		return nil, notes, fmt.Errorf("extract root table %s: %w", root.Name, err)
	}
	truncate(rootRows, rootCap)

	extracted := map[string]*datasource.RowSet{root.Name: rootRows}
	note(root.Name, models.LogLevelInfo,
		fmt.Sprintf("Root table %s: %d rows", root.Name, len(rootRows.Rows)), len(rootRows.Rows))

	for _, table := range graph.Tables {
		if table.ID == root.ID {
			continue
		}

		edge := graph.FirstEdgeForChild(table.ID)
		tableCap := s.capFor(table.Name, cfg)

		if edge == nil {
			// Edge-less table: extract directly rather than stalling on a
			// disconnected component.
			rs, err := extractor.ExtractRows(ctx, table.Namespace, table.Name, nil, tableCap)
			if err != nil {
				note(table.Name, models.LogLevelWarning,
					fmt.Sprintf("Table %s failed: %v", table.Name, err), 0)
				continue
			}
			truncate(rs, tableCap)
			extracted[table.Name] = rs
			note(table.Name, models.LogLevelInfo,
				fmt.Sprintf("Table %s: %d rows (no FK)", table.Name, len(rs.Rows)), len(rs.Rows))
			continue
		}

		parent := graph.TableByID(edge.ParentTableID)
		parentCol := graph.ColumnByID(edge.ParentColumnID)
		childCol := graph.ColumnByID(edge.ChildColumnID)
		if parent == nil || parentCol == nil || childCol == nil {
			note(table.Name, models.LogLevelWarning,
				fmt.Sprintf("Table %s: FK edge references unknown entities, skipped", table.Name), 0)
			continue
		}

		parentRows, ok := extracted[parent.Name]
		if !ok {
			// Parent not extracted yet (appears later in enumeration order)
			// or was omitted after a failure. The child is skipped, not
			// errored.
			continue
		}

		keys := distinctColumnValues(parentRows, parentCol.Name, maxFKKeys)
		if len(keys) == 0 {
			// Empty parent set propagates emptiness to the child.
			extracted[table.Name] = &datasource.RowSet{Columns: nil}
			note(table.Name, models.LogLevelInfo,
				fmt.Sprintf("Table %s: 0 rows (empty parent set)", table.Name), 0)
			continue
		}

		rs, err := extractor.ExtractRowsByKey(ctx, table.Namespace, table.Name, childCol.Name, keys, tableCap)
		if err != nil {
			note(table.Name, models.LogLevelWarning,
				fmt.Sprintf("Table %s failed: %v", table.Name, err), 0)
			continue
		}
		truncate(rs, tableCap)
		extracted[table.Name] = rs
		note(table.Name, models.LogLevelInfo,
			fmt.Sprintf("Table %s: %d rows", table.Name, len(rs.Rows)), len(rs.Rows))
	}

	return extracted, notes, nil
}

// distinctColumnValues returns the distinct non-null values of a column in
// first-occurrence order, bounded by limit.
func distinctColumnValues(rs *datasource.RowSet, column string, limit int) []any {
	seen := make(map[string]bool)
	var values []any
	for _, row := range rs.Rows {
		v, ok := row[column]
		if !ok || v == nil {
			continue
		}
		key := fmt.Sprintf("%v", v)
		if seen[key] {
			continue
		}
		seen[key] = true
		values = append(values, v)
		if len(values) >= limit {
			break
		}
	}
	return values
}
