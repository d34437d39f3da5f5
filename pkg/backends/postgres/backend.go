// Package postgres provides a PostgreSQL backend with the PostGIS extension.
package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"net/url"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"

	"github.com/leapstack-labs/geomancer/pkg/backend"
	"github.com/leapstack-labs/geomancer/pkg/config"
	"github.com/leapstack-labs/geomancer/pkg/sqlexpr"
	"github.com/leapstack-labs/geomancer/pkg/table"
)

// copyFunc bulk-loads rows into an existing table.
type copyFunc func(ctx context.Context, ident pgx.Identifier, columns []string, rows [][]any) (int64, error)

// Backend implements backend.Backend for PostgreSQL + PostGIS.
type Backend struct {
	backend.BaseSQLBackend
	opts     config.Postgres
	copyRows copyFunc
}

// New creates a new PostgreSQL backend instance.
// If logger is nil, a discard logger is used.
func New(opts config.Postgres, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	b := &Backend{
		BaseSQLBackend: backend.BaseSQLBackend{Logger: logger, SQL: Dialect},
		opts:           opts,
	}
	b.copyRows = b.copyFrom
	return b
}

// Connect establishes a connection to PostgreSQL from a postgres:// URL.
func (b *Backend) Connect(ctx context.Context, u *url.URL) error {
	dsn := *u
	dsn.Scheme = "postgres"

	b.Logger.Debug("connecting to postgres",
		slog.String("host", u.Hostname()),
		slog.String("database", u.Path))

	db, err := sql.Open("pgx", dsn.String())
	if err != nil {
		return fmt.Errorf("failed to open postgres connection: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping postgres: %w", err)
	}

	b.DB = db
	return nil
}

// Kind implements backend.Backend.
func (b *Backend) Kind() backend.Kind { return backend.KindPostgres }

// Capabilities implements backend.Backend.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{MetricBuffer: true}
}

// Upload creates schema.<name> and loads tbl with COPY.
func (b *Backend) Upload(ctx context.Context, tbl *table.Table) (string, error) {
	schema := b.opts.Schema
	if schema == "" {
		schema = Dialect.DefaultSchema
	}
	name := backend.NewTableName()
	path := schema + "." + name

	data := tbl.WithRowKey()
	rows, err := b.CreateTable(ctx, path, data, b.opts.IfExists)
	if err != nil {
		return "", err
	}
	if len(rows) > 0 {
		n, err := b.copyRows(ctx, pgx.Identifier{schema, name}, data.Columns, rows)
		if err != nil {
			return "", fmt.Errorf("failed to copy rows into %s: %w", path, err)
		}
		b.Logger.Debug("uploaded rows", slog.String("table", path), slog.Int64("rows", n))
	}
	return path, nil
}

// copyFrom uses PostgreSQL COPY through the underlying pgx connection.
func (b *Backend) copyFrom(ctx context.Context, ident pgx.Identifier, columns []string, rows [][]any) (int64, error) {
	conn, err := b.DB.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get connection: %w", err)
	}
	defer func() { _ = conn.Close() }()

	var n int64
	err = conn.Raw(func(driverConn any) error {
		sc, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		var err error
		n, err = sc.Conn().CopyFrom(ctx, ident, columns, pgx.CopyFromRows(rows))
		return err
	})
	return n, err
}

// Reflect implements backend.Backend.
func (b *Backend) Reflect(ctx context.Context, name string) (*sqlexpr.Table, error) {
	return b.ReflectInformationSchema(ctx, name)
}

// CastGeometry implements backend.Backend.
func (b *Backend) CastGeometry(wkt sqlexpr.Expr) sqlexpr.Expr {
	return sqlexpr.Func("ST_GeomFromText", wkt, sqlexpr.Lit(4326))
}

// Distance implements backend.Backend. Distances between geographies are in
// metres.
func (b *Backend) Distance(x, y sqlexpr.Expr) sqlexpr.Expr {
	return sqlexpr.Func("ST_Distance", sqlexpr.Func("geography", x), sqlexpr.Func("geography", y))
}

// Ensure Backend implements backend.Backend interface
var _ backend.Backend = (*Backend)(nil)
