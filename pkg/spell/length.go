package spell

import (
	"github.com/leapstack-labs/geomancer/pkg/backend"
	"github.com/leapstack-labs/geomancer/pkg/sqlexpr"
	"github.com/leapstack-labs/geomancer/pkg/table"
)

// Spatial reference systems used to buffer in metres.
const (
	sridWGS84       = 4326
	sridWebMercator = 3857
)

// LengthOf sums the length in metres of the reference line features
// matching the filter that fall inside a buffer of the radius around each
// row. It needs a backend that can buffer in metres.
type LengthOf struct {
	params Params
}

// NewLengthOf creates a LengthOf spell for the "column:value" filter on.
func NewLengthOf(on string, opts ...Option) (*LengthOf, error) {
	p, err := newParams(on, opts)
	if err != nil {
		return nil, err
	}
	return &LengthOf{params: p}, nil
}

// Type implements Spell.
func (s *LengthOf) Type() string { return "LengthOf" }

// Params implements Spell.
func (s *LengthOf) Params() Params { return s.params }

// Query implements Spell.
func (s *LengthOf) Query(source, target *sqlexpr.Table, b backend.Backend, column string) (*sqlexpr.SelectStmt, error) {
	if !b.Capabilities().MetricBuffer {
		return nil, &backend.IncompatibleBackendError{
			Spell:   s.Type(),
			Backend: b.Kind(),
			Reason:  "geometries cannot be buffered in metres",
		}
	}

	p := s.params
	src, tgt, err := p.relations(source, target, column)
	if err != nil {
		return nil, err
	}

	lois := p.features(src, "lois")

	buffer := sqlexpr.Func("ST_Buffer",
		sqlexpr.Func("ST_Transform", b.CastGeometry(tgt.C(column)), sqlexpr.Lit(sridWebMercator)),
		sqlexpr.Lit(p.Within))
	buffItems := sqlexpr.Columns(tgt)
	buffItems = append(buffItems, buffer.As(bufferColumn))
	buff := sqlexpr.Select(buffItems...).SelectFrom(tgt).CTE("buff")

	line := b.CastGeometry(lois.C(GeometryColumn))
	clipped := sqlexpr.Func("ST_Intersection",
		sqlexpr.Func("ST_Transform", line, sqlexpr.Lit(sridWebMercator)),
		buff.C(bufferColumn))
	clip := sqlexpr.Select(
		buff.C(table.RowKey),
		sqlexpr.Func("ST_Length", clipped).As(lengthColumn),
	).
		SelectFrom(buff, lois).
		Filter(sqlexpr.Func("ST_Intersects", line,
			sqlexpr.Func("ST_Transform", buff.C(bufferColumn), sqlexpr.Lit(sridWGS84)))).
		CTE("clip")

	sumLength := sqlexpr.Select(
		clip.C(table.RowKey),
		sqlexpr.Sum(clip.C(lengthColumn)).As(p.FeatureName),
	).
		SelectFrom(clip).
		Group(clip.C(table.RowKey)).
		CTE("sum_length")

	items := sqlexpr.Columns(buff, bufferColumn)
	items = append(items, sumLength.C(p.FeatureName))
	return sqlexpr.Select(items...).
		SelectFrom(buff, sumLength).
		Filter(sqlexpr.Eq(sumLength.C(table.RowKey), buff.C(table.RowKey))), nil
}

// Ensure LengthOf implements Spell interface
var _ Spell = (*LengthOf)(nil)
