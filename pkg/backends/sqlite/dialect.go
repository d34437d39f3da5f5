package sqlite

import "github.com/leapstack-labs/geomancer/pkg/dialect"

// Dialect is the SQLite/SpatiaLite dialect.
var Dialect = &dialect.Dialect{
	Name: "sqlite",
	Identifiers: dialect.IdentifierConfig{
		Quote:    `"`,
		QuoteEnd: `"`,
		Escape:   `""`,
	},
	DefaultSchema: "main",
	Placeholder:   dialect.PlaceholderQuestion,
	Types: dialect.TypeNames{
		Integer: "INTEGER",
		Float:   "REAL",
		Text:    "TEXT",
		Boolean: "BOOLEAN",
		Time:    "TIMESTAMP",
		Blob:    "BLOB",
	},
}

func init() {
	dialect.Register(Dialect)
}
