package mssql

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver

	"github.com/tdmstack/tdm-engine/pkg/adapters/datasource"
)

// Adapter provides SQL Server connectivity for schema discovery, row
// extraction and provisioning.
type Adapter struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAdapter connects to the database at connStr (sqlserver:// URL) and
// verifies the connection. If logger is nil, a no-op logger is used.
func NewAdapter(ctx context.Context, connStr string, logger *zap.Logger) (*Adapter, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	db, err := sql.Open("sqlserver", connStr)
	if err != nil {
		return nil, fmt.Errorf("open sqlserver connection: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping sqlserver: %w", err)
	}

	return &Adapter{db: db, logger: logger}, nil
}

// Close releases the database connection.
func (a *Adapter) Close() error {
	if a.db != nil {
		return a.db.Close()
	}
	return nil
}

// TestConnection verifies the database is reachable with valid credentials.
func (a *Adapter) TestConnection(ctx context.Context) error {
	if err := a.db.PingContext(ctx); err != nil {
		return fmt.Errorf("ping failed: %w", err)
	}
	var result int
	if err := a.db.QueryRowContext(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("test query failed: %w", err)
	}
	return nil
}

// quoteIdentifier escapes a SQL Server identifier with brackets.
func quoteIdentifier(name string) string {
	return "[" + strings.ReplaceAll(name, "]", "]]") + "]"
}

// qualifiedTableName returns a bracket-quoted table reference. An empty
// namespace defaults to dbo.
func qualifiedTableName(namespace, table string) string {
	if namespace == "" {
		namespace = "dbo"
	}
	return quoteIdentifier(namespace) + "." + quoteIdentifier(table)
}

// DiscoverTables returns all user tables, excluding system schemas. When
// namespaces is non-empty, results are restricted to those schemas.
func (a *Adapter) DiscoverTables(ctx context.Context, namespaces []string) ([]datasource.TableMetadata, error) {
	query := `
		SELECT TABLE_SCHEMA, TABLE_NAME
		FROM INFORMATION_SCHEMA.TABLES
		WHERE TABLE_TYPE = 'BASE TABLE'
		  AND TABLE_SCHEMA NOT IN ('sys', 'INFORMATION_SCHEMA')
	`
	var args []any
	if len(namespaces) > 0 {
		placeholders := make([]string, len(namespaces))
		for i, ns := range namespaces {
			placeholders[i] = fmt.Sprintf("@p%d", i+1)
			args = append(args, ns)
		}
		query += " AND TABLE_SCHEMA IN (" + strings.Join(placeholders, ", ") + ")"
	}
	query += " ORDER BY TABLE_SCHEMA, TABLE_NAME"

	rows, err := a.db.QueryContext(ctx, query, args...)
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
	if namespace == "" {
		namespace = "dbo"
	}
	const query = `
		SELECT COLUMN_NAME, DATA_TYPE,
		       CASE WHEN IS_NULLABLE = 'YES' THEN 1 ELSE 0 END,
		       ORDINAL_POSITION
		FROM INFORMATION_SCHEMA.COLUMNS
		WHERE TABLE_SCHEMA = @p1 AND TABLE_NAME = @p2
		ORDER BY ORDINAL_POSITION
	`

	rows, err := a.db.QueryContext(ctx, query, namespace, table)
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
			cs.name, ct.name, cc.name,
			ps.name, pt.name, pc.name
		FROM sys.foreign_key_columns fkc
		JOIN sys.tables ct ON ct.object_id = fkc.parent_object_id
		JOIN sys.schemas cs ON cs.schema_id = ct.schema_id
		JOIN sys.columns cc ON cc.object_id = fkc.parent_object_id AND cc.column_id = fkc.parent_column_id
		JOIN sys.tables pt ON pt.object_id = fkc.referenced_object_id
		JOIN sys.schemas ps ON ps.schema_id = pt.schema_id
		JOIN sys.columns pc ON pc.object_id = fkc.referenced_object_id AND pc.column_id = fkc.referenced_column_id
		ORDER BY cs.name, ct.name, cc.name
	`

	rows, err := a.db.QueryContext(ctx, query)
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
	query := fmt.Sprintf("SELECT COUNT_BIG(*) FROM %s", qualifiedTableName(namespace, table))
	var count int64
	if err := a.db.QueryRowContext(ctx, query).Scan(&count); err != nil {
		return 0, fmt.Errorf("count rows in %s.%s: %w", namespace, table, err)
	}
	return count, nil
}

// ExtractRows reads up to limit rows, AND-filtered by column equality.
// Filters are applied in sorted column order so generated SQL is stable.
func (a *Adapter) ExtractRows(ctx context.Context, namespace, table string, filters map[string]string, limit int) (*datasource.RowSet, error) {
	var sb strings.Builder
	if limit > 0 {
		fmt.Fprintf(&sb, "SELECT TOP(%d) * FROM %s", limit, qualifiedTableName(namespace, table))
	} else {
		fmt.Fprintf(&sb, "SELECT * FROM %s", qualifiedTableName(namespace, table))
	}

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
			conds = append(conds, fmt.Sprintf("CAST(%s AS nvarchar(max)) = @p%d", quoteIdentifier(col), len(args)))
		}
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}

	return a.queryRowSet(ctx, sb.String(), args...)
}

// ExtractRowsByKey reads up to limit rows whose keyColumn is in keys.
func (a *Adapter) ExtractRowsByKey(ctx context.Context, namespace, table, keyColumn string, keys []any, limit int) (*datasource.RowSet, error) {
	if len(keys) == 0 {
		return &datasource.RowSet{}, nil
	}

	var sb strings.Builder
	if limit > 0 {
		fmt.Fprintf(&sb, "SELECT TOP(%d) * FROM %s", limit, qualifiedTableName(namespace, table))
	} else {
		fmt.Fprintf(&sb, "SELECT * FROM %s", qualifiedTableName(namespace, table))
	}

	placeholders := make([]string, len(keys))
	args := make([]any, len(keys))
	for i, k := range keys {
		placeholders[i] = fmt.Sprintf("@p%d", i+1)
		args[i] = fmt.Sprintf("%v", k)
	}
	fmt.Fprintf(&sb, " WHERE CAST(%s AS nvarchar(max)) IN (%s)",
		quoteIdentifier(keyColumn), strings.Join(placeholders, ", "))

	return a.queryRowSet(ctx, sb.String(), args...)
}

func (a *Adapter) queryRowSet(ctx context.Context, query string, args ...any) (*datasource.RowSet, error) {
	rows, err := a.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("extract rows: %w", err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read column names: %w", err)
	}

	result := &datasource.RowSet{Columns: columns}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(datasource.Row, len(columns))
		for i, col := range columns {
			// database/sql returns []byte for variable-length types.
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return result, nil
}

// ReplaceTable drops and recreates the target table with nvarchar columns,
// then loads the rows with batched inserts. Returns the number of rows
// written.
func (a *Adapter) ReplaceTable(ctx context.Context, table string, columns []string, rows [][]string) (int64, error) {
	if len(columns) == 0 {
		return 0, fmt.Errorf("replace table %s: no columns", table)
	}

	tableRef := qualifiedTableName("", table)
	dropSQL := fmt.Sprintf("IF OBJECT_ID(N'dbo.%s', N'U') IS NOT NULL DROP TABLE %s",
		strings.ReplaceAll(table, "'", "''"), tableRef)
	if _, err := a.db.ExecContext(ctx, dropSQL); err != nil {
		return 0, fmt.Errorf("drop table %s: %w", table, err)
	}

	colDefs := make([]string, len(columns))
	for i, col := range columns {
		colDefs[i] = quoteIdentifier(col) + " nvarchar(max)"
	}
	createSQL := fmt.Sprintf("CREATE TABLE %s (%s)", tableRef, strings.Join(colDefs, ", "))
	if _, err := a.db.ExecContext(ctx, createSQL); err != nil {
		return 0, fmt.Errorf("create table %s: %w", table, err)
	}

	if len(rows) == 0 {
		return 0, nil
	}

	colList := make([]string, len(columns))
	placeholders := make([]string, len(columns))
	for i, col := range columns {
		colList[i] = quoteIdentifier(col)
		placeholders[i] = fmt.Sprintf("@p%d", i+1)
	}
	insertSQL := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		tableRef, strings.Join(colList, ", "), strings.Join(placeholders, ", "))

	tx, err := a.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin load transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, insertSQL)
	if err != nil {
		return 0, fmt.Errorf("prepare insert for %s: %w", table, err)
	}
	defer stmt.Close()

	var written int64
	for _, r := range rows {
		args := make([]any, len(columns))
		for j := range columns {
			if j < len(r) {
				args[j] = r[j]
			}
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return written, fmt.Errorf("insert into %s: %w", table, err)
		}
		written++
	}

	if err := tx.Commit(); err != nil {
		return written, fmt.Errorf("commit load for %s: %w", table, err)
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
