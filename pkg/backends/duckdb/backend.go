// Package duckdb provides a DuckDB backend with the spatial extension.
package duckdb

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"

	"github.com/marcboeker/go-duckdb"

	"github.com/leapstack-labs/geomancer/pkg/backend"
	"github.com/leapstack-labs/geomancer/pkg/config"
	"github.com/leapstack-labs/geomancer/pkg/sqlexpr"
	"github.com/leapstack-labs/geomancer/pkg/table"
)

// Backend implements backend.Backend for DuckDB.
type Backend struct {
	backend.BaseSQLBackend
	opts config.DuckDB
}

// New creates a new DuckDB backend instance.
// If logger is nil, a discard logger is used.
func New(opts config.DuckDB, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{
		BaseSQLBackend: backend.BaseSQLBackend{Logger: logger, SQL: Dialect},
		opts:           opts,
	}
}

// Connect establishes a connection to DuckDB.
// Use "" or ":memory:" as the path for an in-memory database.
func (b *Backend) Connect(ctx context.Context, path string) error {
	if path == ":memory:" {
		path = ""
	}

	setup, err := b.sessionInit()
	if err != nil {
		return err
	}
	connector, err := duckdb.NewConnector(path, func(execer driver.ExecerContext) error {
		for _, stmt := range setup {
			if _, err := execer.ExecContext(context.Background(), stmt, nil); err != nil {
				return fmt.Errorf("failed to run %q: %w", stmt, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to open duckdb connection: %w", err)
	}

	// Connections from one connector share the same database, in-memory
	// included.
	db := sql.OpenDB(connector)

	// Test the connection
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping duckdb: %w", err)
	}

	b.DB = db
	b.Logger.Debug("duckdb connected",
		slog.String("path", path),
		slog.Any("extensions", b.opts.Extensions))
	return nil
}

var extensionName = regexp.MustCompile(`^[A-Za-z0-9_]+$`)

// sessionInit builds the statements run on every new connection: INSTALL and
// LOAD for each extension, then SET for each setting in key order.
func (b *Backend) sessionInit() ([]string, error) {
	var stmts []string
	for _, ext := range b.opts.Extensions {
		if !extensionName.MatchString(ext) {
			return nil, fmt.Errorf("%w: invalid duckdb extension name %q", backend.ErrConfiguration, ext)
		}
		if b.opts.Install {
			stmts = append(stmts, "INSTALL "+ext)
		}
		stmts = append(stmts, "LOAD "+ext)
	}

	keys := make([]string, 0, len(b.opts.Settings))
	for k := range b.opts.Settings {
		if !extensionName.MatchString(k) {
			return nil, fmt.Errorf("%w: invalid duckdb setting %q", backend.ErrConfiguration, k)
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := strings.ReplaceAll(b.opts.Settings[k], "'", "''")
		stmts = append(stmts, fmt.Sprintf("SET %s = '%s'", k, v))
	}
	return stmts, nil
}

// Kind implements backend.Backend.
func (b *Backend) Kind() backend.Kind { return backend.KindDuckDB }

// Capabilities implements backend.Backend. DuckDB geometries carry no SRID,
// so metric buffering through integer SRIDs is unavailable.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{MetricBuffer: false}
}

// Upload stores tbl under a fresh name and returns it.
func (b *Backend) Upload(ctx context.Context, tbl *table.Table) (string, error) {
	name := backend.NewTableName()
	if err := b.UploadTable(ctx, name, tbl, b.opts.IfExists); err != nil {
		return "", err
	}
	return name, nil
}

// Reflect implements backend.Backend.
func (b *Backend) Reflect(ctx context.Context, name string) (*sqlexpr.Table, error) {
	return b.ReflectInformationSchema(ctx, name)
}

// CastGeometry implements backend.Backend.
func (b *Backend) CastGeometry(wkt sqlexpr.Expr) sqlexpr.Expr {
	return sqlexpr.Func("ST_GeomFromText", wkt)
}

// Distance implements backend.Backend. ST_Distance_Sphere expects
// latitude-first points, so WKT's lon/lat order is flipped first.
func (b *Backend) Distance(x, y sqlexpr.Expr) sqlexpr.Expr {
	return sqlexpr.Func("ST_Distance_Sphere",
		sqlexpr.Func("ST_FlipCoordinates", x),
		sqlexpr.Func("ST_FlipCoordinates", y))
}

// Ensure Backend implements backend.Backend interface
var _ backend.Backend = (*Backend)(nil)
