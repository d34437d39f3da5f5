package spell

import (
	"github.com/leapstack-labs/geomancer/pkg/backend"
	"github.com/leapstack-labs/geomancer/pkg/sqlexpr"
	"github.com/leapstack-labs/geomancer/pkg/table"
)

// DistanceToNearest computes the distance in metres to the nearest
// reference feature matching the filter. Rows with no feature within the
// radius are left out.
type DistanceToNearest struct {
	params Params
}

// NewDistanceToNearest creates a DistanceToNearest spell for the "column:value"
// filter on.
func NewDistanceToNearest(on string, opts ...Option) (*DistanceToNearest, error) {
	p, err := newParams(on, opts)
	if err != nil {
		return nil, err
	}
	return &DistanceToNearest{params: p}, nil
}

// Type implements Spell.
func (s *DistanceToNearest) Type() string { return "DistanceToNearest" }

// Params implements Spell.
func (s *DistanceToNearest) Params() Params { return s.params }

// Query implements Spell. Candidates within the radius are ranked per row
// by distance, then by identifier, and the first is kept.
func (s *DistanceToNearest) Query(source, target *sqlexpr.Table, b backend.Backend, column string) (*sqlexpr.SelectStmt, error) {
	p := s.params
	src, tgt, err := p.relations(source, target, column)
	if err != nil {
		return nil, err
	}

	pois := p.features(src, "pois")
	distance := b.Distance(b.CastGeometry(tgt.C(column)), b.CastGeometry(pois.C(GeometryColumn)))

	pairItems := sqlexpr.Columns(tgt)
	pairItems = append(pairItems,
		sqlexpr.As(distance, p.FeatureName),
		pois.C(p.SourceID).As(candidateColumn))
	pairs := sqlexpr.Select(pairItems...).
		SelectFrom(tgt, pois).
		Filter(sqlexpr.Lt(distance, sqlexpr.Lit(p.Within))).
		CTE("pairs")

	rank := sqlexpr.RowNumber().Over(sqlexpr.WindowSpec{
		PartitionBy: []sqlexpr.Expr{pairs.C(table.RowKey)},
		OrderBy: []sqlexpr.OrderByItem{
			sqlexpr.Asc(pairs.C(p.FeatureName)),
			sqlexpr.Asc(pairs.C(candidateColumn)),
		},
	})
	rankedItems := sqlexpr.Columns(pairs, candidateColumn)
	rankedItems = append(rankedItems, rank.As(rankColumn))
	ranked := sqlexpr.Select(rankedItems...).SelectFrom(pairs).CTE("ranked")

	return sqlexpr.Select(sqlexpr.Columns(ranked, rankColumn)...).
		SelectFrom(ranked).
		Filter(sqlexpr.Eq(ranked.C(rankColumn), sqlexpr.Lit(1))), nil
}

// Ensure DistanceToNearest implements Spell interface
var _ Spell = (*DistanceToNearest)(nil)
