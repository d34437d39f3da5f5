// Package spell defines the feature recipes geomancer casts onto a row
// table. Each spell turns a reference relation and an uploaded target
// relation into a portable query; backend differences only enter through
// backend.Backend's geometry primitives.
package spell

import (
	"fmt"
	"strings"

	"github.com/leapstack-labs/geomancer/pkg/backend"
	"github.com/leapstack-labs/geomancer/pkg/config"
	"github.com/leapstack-labs/geomancer/pkg/sqlexpr"
	"github.com/leapstack-labs/geomancer/pkg/table"
)

// Reference relation defaults.
const (
	DefaultSourceColumn = "fclass"
	DefaultSourceID     = "osm_id"
	DefaultWithin       = 10000.0

	// GeometryColumn is the WKT column of every reference relation.
	GeometryColumn = "WKT"
)

// Internal column names used inside spell queries.
const (
	candidateColumn = "__source_id__"
	rankColumn      = "__rank__"
	bufferColumn    = "__buffer__"
	lengthColumn    = "__len__"
)

// Spell is one feature computation.
type Spell interface {
	// Type returns the variant tag used in spellbook files.
	Type() string

	// Params returns the construction parameters.
	Params() Params

	// Query builds the feature query. source is the reference relation,
	// target the uploaded row table and column its geometry column. The
	// result carries every target column plus the feature column.
	Query(source, target *sqlexpr.Table, b backend.Backend, column string) (*sqlexpr.SelectStmt, error)
}

// Params are the parameters shared by every spell.
type Params struct {
	// On is the "column:value" filter the spell was built with.
	On string

	// SourceColumn and SourceFilter are On split by ExtractColumns.
	SourceColumn string
	SourceFilter string

	SourceTable string
	FeatureName string
	SourceID    string

	// Within is the search radius in metres.
	Within float64

	// DBURL and Options select the backend when a cast does not.
	DBURL   string
	Options config.Options
}

// Option configures spell parameters.
type Option func(*Params)

// WithSourceTable sets the reference relation path.
func WithSourceTable(path string) Option {
	return func(p *Params) { p.SourceTable = path }
}

// WithFeatureName sets the output column name.
func WithFeatureName(name string) Option {
	return func(p *Params) { p.FeatureName = name }
}

// WithSourceID sets the reference relation's identifier column.
func WithSourceID(col string) Option {
	return func(p *Params) { p.SourceID = col }
}

// WithWithin sets the search radius in metres.
func WithWithin(metres float64) Option {
	return func(p *Params) { p.Within = metres }
}

// WithDBURL sets the backend URL used when a cast supplies none.
func WithDBURL(dburl string) Option {
	return func(p *Params) { p.DBURL = dburl }
}

// WithOptions sets the backend options used with the spell's URL.
func WithOptions(opts config.Options) Option {
	return func(p *Params) { p.Options = opts }
}

// ExtractColumns splits a "column:value" filter. Anything that does not
// split into exactly two parts is a value for the default column.
func ExtractColumns(on string) (column, value string) {
	parts := strings.Split(on, ":")
	if len(parts) == 2 {
		return parts[0], parts[1]
	}
	return DefaultSourceColumn, on
}

func newParams(on string, opts []Option) (Params, error) {
	p := Params{
		On:       on,
		SourceID: DefaultSourceID,
		Within:   DefaultWithin,
	}
	for _, opt := range opts {
		opt(&p)
	}
	p.SourceColumn, p.SourceFilter = ExtractColumns(on)

	switch {
	case p.SourceTable == "":
		return Params{}, fmt.Errorf("%w: source_table is required", backend.ErrConfiguration)
	case p.FeatureName == "":
		return Params{}, fmt.Errorf("%w: feature_name is required", backend.ErrConfiguration)
	case p.SourceID == "":
		return Params{}, fmt.Errorf("%w: source_id must not be empty", backend.ErrConfiguration)
	case !(p.Within > 0):
		return Params{}, fmt.Errorf("%w: within must be positive, got %v", backend.ErrConfiguration, p.Within)
	}
	return p, nil
}

// relations aliases the source and target tables and checks the columns
// every spell reads.
func (p Params) relations(source, target *sqlexpr.Table, column string) (*sqlexpr.Table, *sqlexpr.Table, error) {
	src := source.As("source")
	tgt := target.As("target")
	if err := sqlexpr.Require(src, p.SourceID, GeometryColumn, p.SourceColumn); err != nil {
		return nil, nil, err
	}
	if err := sqlexpr.Require(tgt, table.RowKey, column); err != nil {
		return nil, nil, err
	}
	return src, tgt, nil
}

// features selects the identifier and geometry of every reference row
// matching the filter.
func (p Params) features(src *sqlexpr.Table, name string) *sqlexpr.CTE {
	return sqlexpr.Select(src.C(p.SourceID), src.C(GeometryColumn)).
		SelectFrom(src).
		Filter(sqlexpr.Eq(src.C(p.SourceColumn), sqlexpr.Lit(p.SourceFilter))).
		CTE(name)
}
