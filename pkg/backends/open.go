// Package backends resolves a database URL to a connected backend.
package backends

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/geomancer/pkg/backend"
	"github.com/leapstack-labs/geomancer/pkg/backends/bigquery"
	"github.com/leapstack-labs/geomancer/pkg/backends/duckdb"
	"github.com/leapstack-labs/geomancer/pkg/backends/postgres"
	"github.com/leapstack-labs/geomancer/pkg/backends/sqlite"
	"github.com/leapstack-labs/geomancer/pkg/config"
)

// Open connects to the backend addressed by dburl. opts may be nil for the
// backend defaults; otherwise its type must match the URL scheme.
// The logger parameter is passed to the backend constructor (nil uses discard logger).
func Open(ctx context.Context, dburl string, opts config.Options, logger *slog.Logger) (backend.Backend, error) {
	kind, u, err := backend.ParseURL(dburl)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts, err = config.ForBackend(string(kind), nil)
		if err != nil {
			return nil, err
		}
	}
	if opts.Backend() != string(kind) {
		return nil, fmt.Errorf("%w: %s options supplied for a %s url", backend.ErrConfiguration, opts.Backend(), kind)
	}

	switch o := opts.(type) {
	case config.SQLite:
		b := sqlite.New(o, logger)
		if err := b.Connect(ctx, backend.FilePath(u)); err != nil {
			return nil, err
		}
		return b, nil
	case config.DuckDB:
		b := duckdb.New(o, logger)
		if err := b.Connect(ctx, backend.FilePath(u)); err != nil {
			return nil, err
		}
		return b, nil
	case config.Postgres:
		b := postgres.New(o, logger)
		if err := b.Connect(ctx, u); err != nil {
			return nil, err
		}
		return b, nil
	case config.BigQuery:
		b := bigquery.New(o, logger)
		if err := b.Connect(ctx, u); err != nil {
			return nil, err
		}
		return b, nil
	default:
		return nil, fmt.Errorf("%w: unsupported options type %T", backend.ErrConfiguration, opts)
	}
}
