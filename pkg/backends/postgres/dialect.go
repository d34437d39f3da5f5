package postgres

import "github.com/leapstack-labs/geomancer/pkg/dialect"

// Dialect is the PostgreSQL/PostGIS dialect.
var Dialect = &dialect.Dialect{
	Name: "postgres",
	Identifiers: dialect.IdentifierConfig{
		Quote:    `"`,
		QuoteEnd: `"`,
		Escape:   `""`,
	},
	DefaultSchema: "public",
	Placeholder:   dialect.PlaceholderDollar,
	Types: dialect.TypeNames{
		Integer: "BIGINT",
		Float:   "DOUBLE PRECISION",
		Text:    "TEXT",
		Boolean: "BOOLEAN",
		Time:    "TIMESTAMPTZ",
		Blob:    "BYTEA",
	},
}

func init() {
	dialect.Register(Dialect)
}
