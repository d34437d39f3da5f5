// Package geomancer casts spells onto row tables: it resolves a backend,
// uploads the table, builds the spell's query against the uploaded and
// reference relations and returns the resulting features.
package geomancer

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/geomancer/pkg/backend"
	"github.com/leapstack-labs/geomancer/pkg/backends"
	"github.com/leapstack-labs/geomancer/pkg/config"
	"github.com/leapstack-labs/geomancer/pkg/spell"
	"github.com/leapstack-labs/geomancer/pkg/sqlexpr"
	"github.com/leapstack-labs/geomancer/pkg/table"
)

// DefaultColumn is the geometry column read from row tables.
const DefaultColumn = "WKT"

type castOptions struct {
	dburl        string
	backend      backend.Backend
	column       string
	keepIndex    bool
	featuresOnly bool
	logger       *slog.Logger
}

// CastOption configures a cast.
type CastOption func(*castOptions)

// WithDBURL sets the backend URL, overriding the spell's.
func WithDBURL(dburl string) CastOption {
	return func(o *castOptions) { o.dburl = dburl }
}

// WithBackend casts on an open backend. It takes precedence over any URL
// and is not closed by the cast.
func WithBackend(b backend.Backend) CastOption {
	return func(o *castOptions) { o.backend = b }
}

// WithColumn sets the geometry column of the row table.
func WithColumn(column string) CastOption {
	return func(o *castOptions) { o.column = column }
}

// WithKeepIndex keeps the row key column in the result.
func WithKeepIndex() CastOption {
	return func(o *castOptions) { o.keepIndex = true }
}

// FeaturesOnly returns only the row key and the feature column.
func FeaturesOnly() CastOption {
	return func(o *castOptions) {
		o.featuresOnly = true
		o.keepIndex = true
	}
}

// WithLogger sets the logger passed to backends opened by the cast.
func WithLogger(logger *slog.Logger) CastOption {
	return func(o *castOptions) { o.logger = logger }
}

// Cast applies s to tbl and returns the rows that have a feature value.
// Result rows are ordered by row key.
func Cast(ctx context.Context, s spell.Spell, tbl *table.Table, opts ...CastOption) (*table.Table, error) {
	o := castOptions{column: DefaultColumn}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = slog.New(slog.DiscardHandler)
	}
	p := s.Params()

	b := o.backend
	if b == nil {
		dburl := o.dburl
		if dburl == "" {
			dburl = p.DBURL
		}
		if dburl == "" {
			return nil, backend.ErrMissingDBURL
		}

		var err error
		b, err = GetEngine(ctx, dburl, optionsFor(dburl, p.Options), o.logger)
		if err != nil {
			return nil, err
		}
		defer func() { _ = b.Close() }()
	}

	o.logger.Debug("casting spell",
		slog.String("spell", s.Type()),
		slog.String("feature", p.FeatureName),
		slog.String("backend", string(b.Kind())),
		slog.Int("rows", tbl.Len()))

	source, target, err := GetTables(ctx, b, p.SourceTable, tbl)
	if err != nil {
		return nil, err
	}

	stmt, err := plan(s, b, source, target, o)
	if err != nil {
		return nil, err
	}
	return b.Query(ctx, stmt)
}

// Plan builds the statement Cast would run for s against already reflected
// source and target relations, without executing it. Only the column and
// projection options apply.
func Plan(s spell.Spell, b backend.Backend, source, target *sqlexpr.Table, opts ...CastOption) (*sqlexpr.SelectStmt, error) {
	o := castOptions{column: DefaultColumn}
	for _, opt := range opts {
		opt(&o)
	}
	return plan(s, b, source, target, o)
}

func plan(s spell.Spell, b backend.Backend, source, target *sqlexpr.Table, o castOptions) (*sqlexpr.SelectStmt, error) {
	q, err := s.Query(source, target, b, o.column)
	if err != nil {
		return nil, err
	}

	feature := s.Params().FeatureName
	features := q.Subquery("features")
	var items []sqlexpr.Selectable
	for _, name := range features.ColumnNames() {
		if includeColumn(name, feature, o.keepIndex, o.featuresOnly) {
			items = append(items, features.C(name))
		}
	}
	return sqlexpr.Select(items...).
		SelectFrom(features).
		Order(sqlexpr.Asc(features.C(table.RowKey))), nil
}

func includeColumn(name, feature string, keepIndex, featuresOnly bool) bool {
	switch {
	case featuresOnly:
		return name == table.RowKey || name == feature
	case keepIndex:
		return true
	default:
		return name != table.RowKey
	}
}

// optionsFor returns opts when they apply to the backend of dburl.
func optionsFor(dburl string, opts config.Options) config.Options {
	if opts == nil {
		return nil
	}
	kind, _, err := backend.ParseURL(dburl)
	if err != nil || string(kind) != opts.Backend() {
		return nil
	}
	return opts
}

// GetEngine opens the backend addressed by dburl. opts may be nil for the
// backend defaults.
func GetEngine(ctx context.Context, dburl string, opts config.Options, logger *slog.Logger) (backend.Backend, error) {
	return backends.Open(ctx, dburl, opts, logger)
}

// GetTables uploads tbl and reflects it together with the reference
// relation at sourceURI.
func GetTables(ctx context.Context, b backend.Backend, sourceURI string, tbl *table.Table) (source, target *sqlexpr.Table, err error) {
	path, err := b.Upload(ctx, tbl)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to upload table: %w", err)
	}
	target, err = b.Reflect(ctx, path)
	if err != nil {
		return nil, nil, err
	}
	source, err = b.Reflect(ctx, sourceURI)
	if err != nil {
		return nil, nil, err
	}
	return source, target, nil
}
