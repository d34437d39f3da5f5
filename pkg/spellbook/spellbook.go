// Package spellbook groups spells that are cast together onto one row table
// and stores them as JSON or YAML documents.
package spellbook

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/leapstack-labs/geomancer/pkg/backend"
	"github.com/leapstack-labs/geomancer/pkg/geomancer"
	"github.com/leapstack-labs/geomancer/pkg/spell"
	"github.com/leapstack-labs/geomancer/pkg/table"
)

// SpellBook is an ordered set of spells sharing a geometry column.
type SpellBook struct {
	Spells      []spell.Spell
	Column      string
	Author      string
	Description string
}

// Option configures a SpellBook.
type Option func(*SpellBook)

// WithColumn sets the geometry column spells read.
func WithColumn(column string) Option {
	return func(sb *SpellBook) { sb.Column = column }
}

// WithAuthor sets the author metadata.
func WithAuthor(author string) Option {
	return func(sb *SpellBook) { sb.Author = author }
}

// WithDescription sets the description metadata.
func WithDescription(description string) Option {
	return func(sb *SpellBook) { sb.Description = description }
}

// New creates a spellbook. Feature names must be unique.
func New(spells []spell.Spell, opts ...Option) (*SpellBook, error) {
	sb := &SpellBook{
		Spells: spells,
		Column: geomancer.DefaultColumn,
	}
	for _, opt := range opts {
		opt(sb)
	}
	if err := sb.validate(); err != nil {
		return nil, err
	}
	return sb, nil
}

func (sb *SpellBook) validate() error {
	seen := make(map[string]bool, len(sb.Spells))
	for _, s := range sb.Spells {
		name := s.Params().FeatureName
		if seen[name] {
			return fmt.Errorf("%w: duplicate feature name %q", backend.ErrConfiguration, name)
		}
		seen[name] = true
	}
	return nil
}

// Cast casts every spell onto tbl and returns tbl with one feature column
// per spell. Rows without a feature value get nil.
func (sb *SpellBook) Cast(ctx context.Context, tbl *table.Table, opts ...geomancer.CastOption) (*table.Table, error) {
	keyed := tbl.WithRowKey()
	out := keyed

	for _, s := range sb.Spells {
		castOpts := append([]geomancer.CastOption{}, opts...)
		castOpts = append(castOpts, geomancer.WithColumn(sb.Column), geomancer.FeaturesOnly())

		features, err := geomancer.Cast(ctx, s, keyed, castOpts...)
		if err != nil {
			return nil, fmt.Errorf("failed to cast %s: %w", s.Params().FeatureName, err)
		}
		out, err = out.LeftJoin(features, table.RowKey)
		if err != nil {
			return nil, fmt.Errorf("failed to merge %s: %w", s.Params().FeatureName, err)
		}
	}

	if !tbl.HasColumn(table.RowKey) {
		out = out.Drop(table.RowKey)
	}
	return out, nil
}

// LogValue implements slog.LogValuer.
func (sb *SpellBook) LogValue() slog.Value {
	names := make([]string, len(sb.Spells))
	for i, s := range sb.Spells {
		names[i] = s.Params().FeatureName
	}
	return slog.GroupValue(
		slog.String("column", sb.Column),
		slog.Any("features", names))
}
