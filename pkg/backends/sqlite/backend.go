// Package sqlite provides a SQLite backend with the SpatiaLite extension.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/mattn/go-sqlite3"

	"github.com/leapstack-labs/geomancer/pkg/backend"
	"github.com/leapstack-labs/geomancer/pkg/config"
	"github.com/leapstack-labs/geomancer/pkg/sqlexpr"
	"github.com/leapstack-labs/geomancer/pkg/table"
)

// Backend implements backend.Backend for SQLite + SpatiaLite.
type Backend struct {
	backend.BaseSQLBackend
	opts config.SQLite
}

// New creates a new SQLite backend instance.
// If logger is nil, a discard logger is used.
func New(opts config.SQLite, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{
		BaseSQLBackend: backend.BaseSQLBackend{Logger: logger, SQL: Dialect},
		opts:           opts,
	}
}

// Connect opens the database file. An empty path or ":memory:" opens an
// in-memory database pinned to a single connection.
func (b *Backend) Connect(ctx context.Context, path string) error {
	if path == "" {
		path = ":memory:"
	}
	b.Logger.Debug("opening sqlite database", slog.String("path", path))

	db, err := sql.Open(driverFor(b.opts.Extensions), path)
	if err != nil {
		return fmt.Errorf("failed to open sqlite connection: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a distinct database.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping sqlite: %w", err)
	}

	b.DB = db
	b.Logger.Debug("sqlite connected", slog.Any("extensions", b.opts.Extensions))
	return nil
}

// Kind implements backend.Backend.
func (b *Backend) Kind() backend.Kind { return backend.KindSQLite }

// Capabilities implements backend.Backend.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{MetricBuffer: true}
}

// Upload stores tbl under a fresh name and returns it.
func (b *Backend) Upload(ctx context.Context, tbl *table.Table) (string, error) {
	name := backend.NewTableName()
	if err := b.UploadTable(ctx, name, tbl, b.opts.IfExists); err != nil {
		return "", err
	}
	return name, nil
}

// Reflect reads the columns of a table or view with PRAGMA table_info.
func (b *Backend) Reflect(ctx context.Context, name string) (*sqlexpr.Table, error) {
	if b.DB == nil {
		return nil, fmt.Errorf("database connection not established")
	}

	schema, rel := Dialect.SplitPath(name)
	query := fmt.Sprintf("PRAGMA %s.table_info(%s)", Dialect.QuoteIdentifier(schema), Dialect.QuoteIdentifier(rel))
	rows, err := b.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query column metadata: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var columns []string
	for rows.Next() {
		var (
			cid     int
			col     string
			typ     sql.NullString
			notNull int
			dflt    any
			pk      int
		)
		if err := rows.Scan(&cid, &col, &typ, &notNull, &dflt, &pk); err != nil {
			return nil, fmt.Errorf("failed to scan column metadata: %w", err)
		}
		columns = append(columns, col)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating column metadata: %w", err)
	}

	if len(columns) == 0 {
		return nil, fmt.Errorf("table %s not found", name)
	}
	return sqlexpr.NewTable(name, columns...), nil
}

// CastGeometry implements backend.Backend.
func (b *Backend) CastGeometry(wkt sqlexpr.Expr) sqlexpr.Expr {
	return sqlexpr.Func("ST_GeomFromText", wkt, sqlexpr.Lit(4326))
}

// Distance implements backend.Backend. The third argument asks SpatiaLite
// for ellipsoidal metres instead of degrees.
func (b *Backend) Distance(x, y sqlexpr.Expr) sqlexpr.Expr {
	return sqlexpr.Func("ST_Distance", x, y, sqlexpr.Lit(1))
}

// extensionLoader is the part of *sqlite3.SQLiteConn used to load SpatiaLite.
type extensionLoader interface {
	LoadExtension(lib string, entry string) error
}

// loadFirst loads the first extension in libs that succeeds.
func loadFirst(conn extensionLoader, libs []string) error {
	if len(libs) == 0 {
		return nil
	}
	var errs []error
	for _, lib := range libs {
		err := conn.LoadExtension(lib, "")
		if err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", lib, err))
	}
	return fmt.Errorf("failed to load spatial extension: %w", errors.Join(errs...))
}

var (
	driversMu sync.Mutex
	drivers   = make(map[string]bool)
)

// driverFor registers, once per extension list, a go-sqlite3 driver whose
// connect hook loads SpatiaLite on every new connection.
func driverFor(extensions []string) string {
	name := "geomancer_sqlite3"
	if len(extensions) > 0 {
		name += "_" + strings.Join(extensions, "_")
	}

	driversMu.Lock()
	defer driversMu.Unlock()
	if !drivers[name] {
		libs := append([]string(nil), extensions...)
		sql.Register(name, &sqlite3.SQLiteDriver{
			ConnectHook: func(conn *sqlite3.SQLiteConn) error {
				return loadFirst(conn, libs)
			},
		})
		drivers[name] = true
	}
	return name
}

// Ensure Backend implements backend.Backend interface
var _ backend.Backend = (*Backend)(nil)
