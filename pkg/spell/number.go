package spell

import (
	"github.com/leapstack-labs/geomancer/pkg/backend"
	"github.com/leapstack-labs/geomancer/pkg/sqlexpr"
)

// NumberOf counts the distinct reference features matching the filter
// within the radius. Rows with no feature within the radius are left out.
type NumberOf struct {
	params Params
}

// NewNumberOf creates a NumberOf spell for the "column:value" filter on.
func NewNumberOf(on string, opts ...Option) (*NumberOf, error) {
	p, err := newParams(on, opts)
	if err != nil {
		return nil, err
	}
	return &NumberOf{params: p}, nil
}

// Type implements Spell.
func (s *NumberOf) Type() string { return "NumberOf" }

// Params implements Spell.
func (s *NumberOf) Params() Params { return s.params }

// Query implements Spell.
func (s *NumberOf) Query(source, target *sqlexpr.Table, b backend.Backend, column string) (*sqlexpr.SelectStmt, error) {
	p := s.params
	src, tgt, err := p.relations(source, target, column)
	if err != nil {
		return nil, err
	}

	pois := p.features(src, "pois")
	distance := b.Distance(b.CastGeometry(tgt.C(column)), b.CastGeometry(pois.C(GeometryColumn)))

	pairItems := sqlexpr.Columns(tgt)
	pairItems = append(pairItems, pois.C(p.SourceID).As(candidateColumn))
	pairs := sqlexpr.Select(pairItems...).
		SelectFrom(tgt, pois).
		Filter(sqlexpr.Lt(distance, sqlexpr.Lit(p.Within))).
		CTE("pairs")

	items := sqlexpr.Columns(pairs, candidateColumn)
	items = append(items, sqlexpr.CountDistinct(pairs.C(candidateColumn)).As(p.FeatureName))
	return sqlexpr.Select(items...).
		SelectFrom(pairs).
		Group(sqlexpr.ColumnExprs(pairs, candidateColumn)...), nil
}

// Ensure NumberOf implements Spell interface
var _ Spell = (*NumberOf)(nil)
