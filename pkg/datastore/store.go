package datastore

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/apperrors"
)

// TableData is the materialized content of one table: an ordered header and
// rows of text values. All values are coerced to text on write; consumers
// that need types re-infer them.
type TableData struct {
	Columns []string
	Rows    [][]string
}

// Store persists dataset versions on the local filesystem. Each version gets
// its own directory under the root, with one CSV file per table. Files are
// written once and never mutated afterwards.
type Store struct {
	root   string
	logger *zap.Logger
}

// NewStore creates a store rooted at path, creating the directory if needed.
func NewStore(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := os.MkdirAll(path, 0o755); err != nil {
		return nil, fmt.Errorf("create dataset store root: %w", err)
	}
	return &Store{root: path, logger: logger}, nil
}

// versionDir returns the directory for a dataset version.
func (s *Store) versionDir(versionID uuid.UUID) string {
	return filepath.Join(s.root, versionID.String())
}

func tableFileName(table string) string {
	// Table names come from schema discovery and may contain separators.
	safe := strings.ReplaceAll(table, string(os.PathSeparator), "_")
	return safe + ".csv"
}

// WriteTable writes one table's rows into the version directory, creating the
// directory on first write. Returns the number of rows written.
func (s *Store) WriteTable(versionID uuid.UUID, table string, data *TableData) (int, error) {
	dir := s.versionDir(versionID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return 0, fmt.Errorf("create version dir: %w", err)
	}

	path := filepath.Join(dir, tableFileName(table))
	f, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("create table file: %w", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(data.Columns); err != nil {
		return 0, fmt.Errorf("write header for %s: %w", table, err)
	}
	for _, row := range data.Rows {
		if err := w.Write(row); err != nil {
			return 0, fmt.Errorf("write row for %s: %w", table, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return 0, fmt.Errorf("flush table %s: %w", table, err)
	}

	s.logger.Debug("Wrote dataset table",
		zap.String("dataset_version_id", versionID.String()),
		zap.String("table", table),
		zap.Int("rows", len(data.Rows)))

	return len(data.Rows), nil
}

// ReadTable reads one table's rows from a version directory.
func (s *Store) ReadTable(versionID uuid.UUID, table string) (*TableData, error) {
	path := filepath.Join(s.versionDir(versionID), tableFileName(table))
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("table %s in dataset %s: %w", table, versionID, apperrors.ErrNotFound)
		}
		return nil, fmt.Errorf("open table file: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("read table %s: %w", table, err)
	}
	if len(records) == 0 {
		return &TableData{}, nil
	}
	return &TableData{Columns: records[0], Rows: records[1:]}, nil
}

// ListTables returns the table names stored for a version, sorted.
func (s *Store) ListTables(versionID uuid.UUID) ([]string, error) {
	entries, err := os.ReadDir(s.versionDir(versionID))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("dataset %s: %w", versionID, apperrors.ErrDatasetNotFound)
		}
		return nil, fmt.Errorf("list dataset dir: %w", err)
	}

	var tables []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".csv") {
			continue
		}
		tables = append(tables, strings.TrimSuffix(e.Name(), ".csv"))
	}
	sort.Strings(tables)
	return tables, nil
}

// Exists reports whether any data was stored for a version.
func (s *Store) Exists(versionID uuid.UUID) bool {
	info, err := os.Stat(s.versionDir(versionID))
	return err == nil && info.IsDir()
}

// RowCounts returns the per-table row counts for a version.
func (s *Store) RowCounts(versionID uuid.UUID) (map[string]int, error) {
	tables, err := s.ListTables(versionID)
	if err != nil {
		return nil, err
	}
	counts := make(map[string]int, len(tables))
	for _, table := range tables {
		data, err := s.ReadTable(versionID, table)
		if err != nil {
			return nil, err
		}
		counts[table] = len(data.Rows)
	}
	return counts, nil
}

// Prune removes version directories older than maxAge. Used by maintenance
// tooling; the pipeline itself never deletes data.
func (s *Store) Prune(maxAge time.Duration) (int, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return 0, fmt.Errorf("list store root: %w", err)
	}

	cutoff := time.Now().Add(-maxAge)
	removed := 0
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		if _, err := uuid.Parse(e.Name()); err != nil {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			return removed, fmt.Errorf("remove version dir %s: %w", e.Name(), err)
		}
		removed++
	}
	return removed, nil
}
