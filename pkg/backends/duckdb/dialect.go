package duckdb

import "github.com/leapstack-labs/geomancer/pkg/dialect"

// Dialect is the DuckDB dialect.
var Dialect = &dialect.Dialect{
	Name: "duckdb",
	Identifiers: dialect.IdentifierConfig{
		Quote:    `"`,
		QuoteEnd: `"`,
		Escape:   `""`,
	},
	DefaultSchema: "main",
	Placeholder:   dialect.PlaceholderQuestion,
	Types: dialect.TypeNames{
		Integer: "BIGINT",
		Float:   "DOUBLE",
		Text:    "VARCHAR",
		Boolean: "BOOLEAN",
		Time:    "TIMESTAMP",
		Blob:    "BLOB",
	},
}

func init() {
	dialect.Register(Dialect)
}
