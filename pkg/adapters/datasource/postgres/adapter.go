package postgres

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/tdmstack/tdm-engine/pkg/adapters/datasource"
)

// Adapter provides PostgreSQL connectivity for schema discovery, row
// extraction and provisioning. The pool is owned by the adapter and released
// on Close.
type Adapter struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewAdapter connects to the database at connStr and verifies the connection.
// If logger is nil, a no-op logger is used.
func NewAdapter(ctx context.Context, connStr string, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}

	return &Adapter{pool: pool, logger: logger}, nil
}

// Close releases the connection pool.
func (a *Adapter) Close() error {
	if a.pool != nil {
		a.pool.Close()
	}
	return nil
}

// TestConnection verifies the database is reachable with valid credentials.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.pool.Ping(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	var result int
	if err := a.pool.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

// qualifiedTableName returns a properly quoted table reference.
// If namespace is empty, returns just the quoted table name.
func qualifiedTableName(namespace, table string) string {
	quotedTable := pgx.Identifier{table}.Sanitize()
	if namespace == "" {
		return quotedTable
	}
	return pgx.Identifier{namespace}.Sanitize() + "." + quotedTable
}

// DiscoverTables returns all user tables, excluding system schemas. When
// namespaces is non-empty, results are restricted to those schemas.
func (a *Adapter) DiscoverTables(ctx context.Context, namespaces []string) ([]datasource.TableMetadata, error) {
	query := `
		SELECT table_schema, table_name
		FROM information_schema.tables
		WHERE table_type = 'BASE TABLE'
		  AND table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
	`
	var args []any
	if len(namespaces) > 0 {
		query += " AND table_schema = ANY($1)"
		args = append(args, namespaces)
	}
	query += " ORDER BY table_schema, table_name"

	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query tables: %w", err)
	}
	defer rows.Close()

	var tables []datasource.TableMetadata
	for rows.Next() {
		var t datasource.TableMetadata
		if err := rows.Scan(&t.Namespace, &t.Name); err != nil {
			return nil, fmt.Errorf("scan table: %w", err)
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}
	return tables, nil
}

// DiscoverColumns returns columns for a specific table in ordinal order.
func (a *Adapter) DiscoverColumns(ctx context.Context, namespace, table string) ([]datasource.ColumnMetadata, error) {
	const query = `
		SELECT column_name, data_type, is_nullable = 'YES', ordinal_position
		FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2
		ORDER BY ordinal_position
	`

	rows, err := a.pool.Query(ctx, query, namespace, table)
	if err != nil {
		return nil, fmt.Errorf("query columns: %w", err)
	}
	defer rows.Close()

	var columns []datasource.ColumnMetadata
	for rows.Next() {
		var c datasource.ColumnMetadata
		if err := rows.Scan(&c.Name, &c.DataType, &c.IsNullable, &c.OrdinalPosition); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		columns = append(columns, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return columns, nil
}

// DiscoverForeignKeys returns all foreign key relationships between user
// tables.
func (a *Adapter) DiscoverForeignKeys(ctx context.Context) ([]datasource.ForeignKeyMetadata, error) {
	const query = `
		SELECT
			kcu.table_schema,
			kcu.table_name,
			kcu.column_name,
			ccu.table_schema,
			ccu.table_name,
			ccu.column_name
		FROM information_schema.table_constraints tc
		JOIN information_schema.key_column_usage kcu
			ON tc.constraint_name = kcu.constraint_name
			AND tc.table_schema = kcu.table_schema
		JOIN information_schema.constraint_column_usage ccu
			ON tc.constraint_name = ccu.constraint_name
			AND tc.table_schema = ccu.table_schema
		WHERE tc.constraint_type = 'FOREIGN KEY'
		  AND tc.table_schema NOT IN ('pg_catalog', 'information_schema', 'pg_toast')
		ORDER BY kcu.table_schema, kcu.table_name, kcu.column_name
	`

	rows, err := a.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query foreign keys: %w", err)
	}
	defer rows.Close()

	var fks []datasource.ForeignKeyMetadata
	for rows.Next() {
		var fk datasource.ForeignKeyMetadata
		if err := rows.Scan(&fk.ChildNamespace, &fk.ChildTable, &fk.ChildColumn,
			&fk.ParentNamespace, &fk.ParentTable, &fk.ParentColumn); err != nil {
			return nil, fmt.Errorf("scan foreign key: %w", err)
		}
		fks = append(fks, fk)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate foreign keys: %w", err)
	}
	return fks, nil
}

// CountRows returns the exact row count for a table.
func (a *Adapter) CountRows(ctx context.Context, namespace, table string) (int64, error) {
	query := fmt.Sprintf("SELECT COUNT(*) FROM %s", qualifiedTableName(namespace, table))
	var count int64
	if err := a.pool.QueryRow(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows in %s.%s: %w", namespace, table, err)
	}
	return count, nil
}

// ExtractRows reads up to limit rows, AND-filtered by column equality.
// Filters are applied in sorted column order so generated SQL is stable.
func (a *Adapter) ExtractRows(ctx context.Context, namespace, table string, filters map[string]string, limit int) (*datasource.RowSet, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "SELECT * FROM %s", qualifiedTableName(namespace, table))

	var args []any
	if len(filters) > 0 {
		cols := make([]string, 0, len(filters))
		for col := range filters {
			cols = append(cols, col)
		}
		sort.Strings(cols)

		conds := make([]string, 0, len(cols))
		for _, col := range cols {
			args = append(args, filters[col])
			conds = append(conds, fmt.Sprintf("%s::text = $%d", pgx.Identifier{col}.Sanitize(), len(args)))
		}
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	if limit > 0 {
		args = append(args, limit)
		fmt.Fprintf(&sb, " LIMIT $%d", len(args))
	}

	return a.queryRowSet(ctx, sb.String(), args...)
}

// ExtractRowsByKey reads up to limit rows whose keyColumn is in keys.
func (a *Adapter) ExtractRowsByKey(ctx context.Context, namespace, table, keyColumn string, keys []any, limit int) (*datasource.RowSet, error) {
	if len(keys) == 0 {
		return &datasource.RowSet{}, nil
	}

	textKeys := make([]string, len(keys))
	for i, k := range keys {
		textKeys[i] = fmt.Sprintf("%v", k)
	}

	query := fmt.Sprintf("SELECT * FROM %s WHERE %s::text = ANY($1)",
		qualifiedTableName(namespace, table), pgx.Identifier{keyColumn}.Sanitize())
	args := []any{textKeys}
	if limit > 0 {
		query += " LIMIT $2"
		args = append(args, limit)
	}

	return a.queryRowSet(ctx, query, args...)
}

func (a *Adapter) queryRowSet(ctx context.Context, query string, args ...any) (*datasource.RowSet, error) {
	rows, err := a.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("extract rows: %w", err)
	}
	defer rows.Close()

	fields := rows.FieldDescriptions()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name
	}

	result := &datasource.RowSet{Columns: columns}
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, fmt.Errorf("read row values: %w", err)
		}
		row := make(datasource.Row, len(columns))
		for i, col := range columns {
			row[col] = values[i]
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// ReplaceTable drops and recreates the target table with text columns, then
// loads the rows with COPY. Returns the number of rows written.
func (a *Adapter) ReplaceTable(ctx context.Context, table string, columns []string, rows [][]string) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("replace table %s: no columns", table)
	}

	tableRef := pgx.Identifier{table}.Sanitize()
	if _, err := a.pool.Exec(ctx, "DROP TABLE IF EXISTS "+tableRef); err != nil {
		return 0, fmt.Errorf("drop table %s: %w", table, err)
	}

	colDefs := make([]string, len(columns))
	for i, col := range columns {
		colDefs[i] = pgx.Identifier{col}.Sanitize() + " text"
	}
	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)", tableRef, strings.Join(colDefs, ", "))
	if _, err := a.pool.Exec(ctx, createSQL); err != nil {
		return 0, fmt.Errorf("create table %s: %w", table, err)
	}

	if len(rows) == 0 {
		return 0, nil
	}

	copyRows := make([][]any, len(rows))
	for i, r := range rows {
		vals := make([]any, len(columns))
		for j := range columns {
			if j < len(r) {
				vals[j] = r[j]
			}
		}
		copyRows[i] = vals
	}

	written, err := a.pool.CopyFrom(ctx, pgx.Identifier{table}, columns, pgx.CopyFromRows(copyRows))
	if err != nil {
		return 0, fmt.Errorf("load table %s: %w", table, err)
	}
	return written, nil
}

// Compile-time interface checks.
var (
	_ datasource.ConnectionTester = (*Adapter)(nil)
	_ datasource.SchemaDiscoverer = (*Adapter)(nil)
	_ datasource.RowExtractor     = (*Adapter)(nil)
	_ datasource.Provisioner      = (*Adapter)(nil)
)
