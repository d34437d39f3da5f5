// Package backend defines the contract every spatial SQL backend implements
// for geomancer: uploading a row table as a temporary relation, reflecting
// relations, executing portable queries and spelling geometry casts.
//
// Concrete backends live in pkg/backends/ subdirectories; pkg/backends
// resolves a database URL to one of them.
package backend

import (
	"context"
	"net/url"
	"strings"

	"github.com/google/uuid"

	"github.com/leapstack-labs/geomancer/pkg/dialect"
	"github.com/leapstack-labs/geomancer/pkg/sqlexpr"
	"github.com/leapstack-labs/geomancer/pkg/table"
)

// Kind identifies a backend implementation.
type Kind string

// Supported backends.
const (
	KindBigQuery Kind = "bigquery"
	KindSQLite   Kind = "sqlite"
	KindPostgres Kind = "postgres"
	KindDuckDB   Kind = "duckdb"
)

// Kinds returns every supported backend kind.
func Kinds() []Kind {
	return []Kind{KindBigQuery, KindDuckDB, KindPostgres, KindSQLite}
}

// Capabilities describes optional spatial features of a backend.
type Capabilities struct {
	// MetricBuffer reports whether geometries can be buffered in metres by
	// reprojecting through an integer SRID (ST_Transform + ST_Buffer).
	MetricBuffer bool
}

// Backend is a connected spatial SQL engine.
type Backend interface {
	// Kind returns the backend kind.
	Kind() Kind

	// Dialect returns the SQL dialect queries are rendered with.
	Dialect() *dialect.Dialect

	// Capabilities reports optional spatial features.
	Capabilities() Capabilities

	// Upload stores a row table under a fresh unique name, adding the row
	// key column, and returns the relation path.
	Upload(ctx context.Context, tbl *table.Table) (string, error)

	// Reflect returns a handle to an existing relation with its columns.
	Reflect(ctx context.Context, name string) (*sqlexpr.Table, error)

	// Query executes a statement and returns its result rows.
	Query(ctx context.Context, stmt sqlexpr.Statement) (*table.Table, error)

	// CastGeometry converts a WKT text expression into the backend's
	// geometry or geography type.
	CastGeometry(wkt sqlexpr.Expr) sqlexpr.Expr

	// Distance returns the distance in metres between two geometries
	// produced by CastGeometry.
	Distance(a, b sqlexpr.Expr) sqlexpr.Expr

	// Close releases the connection.
	Close() error
}

// ParseURL resolves a database URL to a backend kind.
func ParseURL(raw string) (Kind, *url.URL, error) {
	if raw == "" {
		return "", nil, ErrMissingDBURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", nil, &InvalidURLError{URL: raw, Err: err}
	}

	switch strings.ToLower(u.Scheme) {
	case "bigquery":
		return KindBigQuery, u, nil
	case "sqlite", "sqlite3":
		return KindSQLite, u, nil
	case "postgres", "postgresql":
		return KindPostgres, u, nil
	case "duckdb":
		return KindDuckDB, u, nil
	default:
		return "", nil, &UnknownBackendError{Scheme: u.Scheme, Available: Kinds()}
	}
}

// FilePath returns the database file addressed by an embedded-database URL.
// "sqlite:///rel.db" is relative, "sqlite:////abs.db" is absolute and an
// empty path means in-memory.
func FilePath(u *url.URL) string {
	p := u.Path
	if u.Opaque != "" {
		p = u.Opaque
	}
	if u.Host != "" {
		p = u.Host + p
	} else {
		p = strings.TrimPrefix(p, "/")
	}
	return p
}

// NewTableName returns a unique relation name for an upload: 32 lowercase
// hex characters.
func NewTableName() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}
