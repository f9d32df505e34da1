package datasource

import "context"

// TableMetadata describes a discovered table.
type TableMetadata struct {
	Namespace string `json:"namespace"`
	Name      string `json:"name"`
}

// ColumnMetadata describes a discovered column.
type ColumnMetadata struct {
	Name            string `json:"name"`
	DataType        string `json:"data_type"`
	IsNullable      bool   `json:"is_nullable"`
	OrdinalPosition int    `json:"ordinal_position"`
}

// ForeignKeyMetadata describes a foreign-key constraint: the child column
// references the parent column.
type ForeignKeyMetadata struct {
	ChildNamespace  string `json:"child_namespace"`
	ChildTable      string `json:"child_table"`
	ChildColumn     string `json:"child_column"`
	ParentNamespace string `json:"parent_namespace"`
	ParentTable     string `json:"parent_table"`
	ParentColumn    string `json:"parent_column"`
}

// Row is one extracted row keyed by column name.
type Row map[string]any

// RowSet is an ordered extraction result. Columns preserves the source
// column order so downstream writers produce stable files.
type RowSet struct {
	Columns []string `json:"columns"`
	Rows    []Row    `json:"rows"`
}

// ConnectionTester tests database connectivity.
// Each implementation owns its connection and must be closed when done.
type ConnectionTester interface {
	// TestConnection verifies the database is reachable with valid
	// credentials. Returns nil if the connection is healthy.
	TestConnection(ctx context.Context) error

	// Close releases the database connection.
	Close() error
}

// SchemaDiscoverer discovers source-database structure for metadata
// tracking. Each implementation owns its connection and must be closed when
// done.
type SchemaDiscoverer interface {
	// DiscoverTables returns all user tables in the given namespaces
	// (system schemas excluded). Empty namespaces means the driver default.
	DiscoverTables(ctx context.Context, namespaces []string) ([]TableMetadata, error)

	// DiscoverColumns returns columns for a specific table in ordinal order.
	DiscoverColumns(ctx context.Context, namespace, table string) ([]ColumnMetadata, error)

	// DiscoverForeignKeys returns all foreign-key relationships between
	// user tables.
	DiscoverForeignKeys(ctx context.Context) ([]ForeignKeyMetadata, error)

	// CountRows returns the row count for a table.
	CountRows(ctx context.Context, namespace, table string) (int64, error)

	// Close releases the database connection.
	Close() error
}

// RowExtractor reads rows from a source database for subsetting.
type RowExtractor interface {
	// ExtractRows reads up to limit rows, optionally AND-filtered by
	// column equality. Rows come back in source order; truncation is
	// deterministic (first N).
	ExtractRows(ctx context.Context, namespace, table string, filters map[string]string, limit int) (*RowSet, error)

	// ExtractRowsByKey reads up to limit rows whose keyColumn value is in
	// keys. An empty keys slice yields an empty RowSet without a query.
	ExtractRowsByKey(ctx context.Context, namespace, table, keyColumn string, keys []any, limit int) (*RowSet, error)

	// Close releases the database connection.
	Close() error
}

// Provisioner writes materialized tables into a target environment.
type Provisioner interface {
	// ReplaceTable drops the target table if it exists and recreates it
	// with text columns, then loads the rows in batches. Returns the number
	// of rows written.
	ReplaceTable(ctx context.Context, table string, columns []string, rows [][]string) (int64, error)

	// CountRows verifies a loaded table (smoke check). An empty namespace
	// means the driver default schema.
	CountRows(ctx context.Context, namespace, table string) (int64, error)

	// Close releases the database connection.
	Close() error
}
