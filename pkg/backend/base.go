package backend

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/leapstack-labs/geomancer/pkg/config"
	"github.com/leapstack-labs/geomancer/pkg/dialect"
	"github.com/leapstack-labs/geomancer/pkg/sqlexpr"
	"github.com/leapstack-labs/geomancer/pkg/table"
)

// BaseSQLBackend provides common database/sql functionality for backends.
// Embed this struct in concrete backend implementations to get standard
// Close, Exec, Query and upload implementations.
type BaseSQLBackend struct {
	DB     *sql.DB
	Logger *slog.Logger
	SQL    *dialect.Dialect
}

// Dialect returns the SQL dialect for this backend.
func (b *BaseSQLBackend) Dialect() *dialect.Dialect {
	return b.SQL
}

// Close closes the database connection.
func (b *BaseSQLBackend) Close() error {
	if b.DB != nil {
		if b.Logger != nil {
			b.Logger.Debug("closing database connection")
		}
		return b.DB.Close()
	}
	return nil
}

// Exec executes a SQL statement that doesn't return rows.
func (b *BaseSQLBackend) Exec(ctx context.Context, sqlStr string, args ...any) error {
	if b.DB == nil {
		return fmt.Errorf("database connection not established")
	}
	_, err := b.DB.ExecContext(ctx, sqlStr, args...)
	if err != nil {
		return fmt.Errorf("failed to execute SQL: %w", err)
	}
	return nil
}

// IsConnected returns true if the database connection is established.
func (b *BaseSQLBackend) IsConnected() bool {
	return b.DB != nil
}

// Query renders a statement with the backend dialect, executes it and
// collects the result rows.
func (b *BaseSQLBackend) Query(ctx context.Context, stmt sqlexpr.Statement) (*table.Table, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	query, args, err := sqlexpr.Render(stmt, b.SQL)
	if err != nil {
		return nil, fmt.Errorf("failed to render query: %w", err)
	}
	b.logger().Debug("executing query", slog.String("sql", query), slog.Int("params", len(args)))
	return b.QueryRaw(ctx, query, args...)
}

// QueryRaw executes SQL text and collects the result rows.
func (b *BaseSQLBackend) QueryRaw(ctx context.Context, query string, args ...any) (*table.Table, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	rows, err := b.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	defer func() { _ = rows.Close() }()

	return ScanRows(rows)
}

// ScanRows reads every row of a result set into a row table.
func ScanRows(rows *sql.Rows) (*table.Table, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("failed to read result columns: %w", err)
	}

	out := table.New(cols...)
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		for i, v := range values {
			values[i] = NormalizeValue(v)
		}
		out.Rows = append(out.Rows, values)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating rows: %w", err)
	}
	return out, nil
}

// NormalizeValue maps driver values onto the row table value set: nil,
// int64, float64, string, bool, time.Time and []byte.
func NormalizeValue(v any) any {
	switch x := v.(type) {
	case int:
		return int64(x)
	case int8:
		return int64(x)
	case int16:
		return int64(x)
	case int32:
		return int64(x)
	case uint8:
		return int64(x)
	case uint16:
		return int64(x)
	case uint32:
		return int64(x)
	case uint64:
		return int64(x) //nolint:gosec // counts and keys stay far below 2^63
	case float32:
		return float64(x)
	case *big.Int:
		if x.IsInt64() {
			return x.Int64()
		}
		f, _ := new(big.Float).SetInt(x).Float64()
		return f
	default:
		return v
	}
}

// UploadTable creates path and inserts every row of tbl, row key included,
// in a single transaction.
func (b *BaseSQLBackend) UploadTable(ctx context.Context, path string, tbl *table.Table, mode config.IfExists) error {
	data := tbl.WithRowKey()
	rows, err := b.CreateTable(ctx, path, data, mode)
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return nil
	}

	tx, err := b.DB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, b.insertSQL(b.SQL.QuotePath(path), data.Columns))
	if err != nil {
		return fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer func() { _ = stmt.Close() }()

	for i, row := range rows {
		if _, err := stmt.ExecContext(ctx, row...); err != nil {
			return fmt.Errorf("failed to insert row %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit upload: %w", err)
	}
	b.logger().Debug("uploaded rows", slog.String("table", path), slog.Int("rows", len(rows)))
	return nil
}

// CreateTable creates path with column types inferred from data, honouring
// mode, and returns the rows of data coerced to those types.
func (b *BaseSQLBackend) CreateTable(ctx context.Context, path string, data *table.Table, mode config.IfExists) ([][]any, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	if !mode.Valid() {
		return nil, fmt.Errorf("%w: invalid if_exists mode %q", ErrConfiguration, mode)
	}

	quoted := b.SQL.QuotePath(path)
	if mode == config.IfExistsReplace {
		if err := b.Exec(ctx, "DROP TABLE IF EXISTS "+quoted); err != nil {
			return nil, fmt.Errorf("failed to drop %s: %w", path, err)
		}
	}

	types, rows := InferSchema(b.SQL.Types, data)
	defs := make([]string, len(data.Columns))
	for i, name := range data.Columns {
		defs[i] = b.SQL.QuoteIdentifier(name) + " " + types[i]
	}

	create := "CREATE TABLE "
	if mode == config.IfExistsAppend {
		create += "IF NOT EXISTS "
	}
	create += quoted + " (" + strings.Join(defs, ", ") + ")"
	b.logger().Debug("creating table", slog.String("sql", create))
	if err := b.Exec(ctx, create); err != nil {
		return nil, fmt.Errorf("failed to create %s: %w", path, err)
	}

	return rows, nil
}

func (b *BaseSQLBackend) insertSQL(quotedPath string, columns []string) string {
	names := make([]string, len(columns))
	marks := make([]string, len(columns))
	for i, name := range columns {
		names[i] = b.SQL.QuoteIdentifier(name)
		marks[i] = b.SQL.FormatPlaceholder(i + 1)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)", quotedPath, strings.Join(names, ", "), strings.Join(marks, ", "))
}

// valueKind is the storage class inferred for an uploaded column.
type valueKind int

const (
	kindNull valueKind = iota
	kindInt
	kindFloat
	kindBool
	kindTime
	kindBlob
	kindText
)

func kindOf(v any) valueKind {
	switch v.(type) {
	case nil:
		return kindNull
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return kindInt
	case float32, float64:
		return kindFloat
	case bool:
		return kindBool
	case time.Time:
		return kindTime
	case []byte:
		return kindBlob
	default:
		return kindText
	}
}

// inferKind picks the storage class of column i. Mixed integers and floats
// widen to float; any other mix, or a column of nulls, is text.
func inferKind(tbl *table.Table, i int) valueKind {
	kind := kindNull
	for _, row := range tbl.Rows {
		k := kindOf(row[i])
		switch {
		case k == kindNull, k == kind:
		case kind == kindNull:
			kind = k
		case (kind == kindInt && k == kindFloat) || (kind == kindFloat && k == kindInt):
			kind = kindFloat
		default:
			kind = kindText
		}
	}
	if kind == kindNull {
		return kindText
	}
	return kind
}

func (k valueKind) typeName(types dialect.TypeNames) string {
	switch k {
	case kindInt:
		return types.Integer
	case kindFloat:
		return types.Float
	case kindBool:
		return types.Boolean
	case kindTime:
		return types.Time
	case kindBlob:
		return types.Blob
	default:
		return types.Text
	}
}

// coerce converts a value for insertion into a column of kind k.
func (k valueKind) coerce(v any) any {
	if v == nil {
		return nil
	}
	switch k {
	case kindText:
		if s, ok := v.(string); ok {
			return s
		}
		return fmt.Sprint(v)
	case kindFloat:
		switch x := v.(type) {
		case int:
			return float64(x)
		case int64:
			return float64(x)
		case int32:
			return float64(x)
		case uint64:
			return float64(x)
		case float32:
			return float64(x)
		}
	}
	return v
}

// InferSchema returns the column types of tbl and its rows with every value
// coerced to its column's type.
func InferSchema(types dialect.TypeNames, tbl *table.Table) ([]string, [][]any) {
	kinds := make([]valueKind, len(tbl.Columns))
	names := make([]string, len(tbl.Columns))
	for i := range tbl.Columns {
		kinds[i] = inferKind(tbl, i)
		names[i] = kinds[i].typeName(types)
	}

	rows := make([][]any, len(tbl.Rows))
	for i, row := range tbl.Rows {
		out := make([]any, len(row))
		for j, v := range row {
			out[j] = kinds[j].coerce(v)
		}
		rows[i] = out
	}
	return names, rows
}

// InferColumnType returns the dialect column type for column i of tbl.
func InferColumnType(types dialect.TypeNames, tbl *table.Table, i int) string {
	return inferKind(tbl, i).typeName(types)
}

// ReflectInformationSchema returns the columns of path from
// information_schema.columns.
func (b *BaseSQLBackend) ReflectInformationSchema(ctx context.Context, path string) (*sqlexpr.Table, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	schema, name := b.SQL.SplitPath(path)

	//nolint:gosec // Placeholders come from dialect.FormatPlaceholder
	query := fmt.Sprintf(`
		SELECT column_name
		FROM information_schema.columns
		WHERE table_schema = %s AND table_name = %s
		ORDER BY ordinal_position
	`, b.SQL.FormatPlaceholder(1), b.SQL.FormatPlaceholder(2))

	rows, err := b.DB.QueryContext(ctx, query, schema, name)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []string
	for rows.Next() {
		var col string
		if err := rows.Scan(&col); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", path)
	}
	return sqlexpr.NewTable(path, columns...), nil
}

func (b *BaseSQLBackend) logger() *slog.Logger {
	if b.Logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return b.Logger
}
