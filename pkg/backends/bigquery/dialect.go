package bigquery

import (
	"cloud.google.com/go/bigquery"

	"github.com/leapstack-labs/geomancer/pkg/dialect"
)

// Dialect is the BigQuery standard SQL dialect. Table paths are quoted
// whole and column types are BigQuery load-schema field types.
var Dialect = &dialect.Dialect{
	Name: "bigquery",
	Identifiers: dialect.IdentifierConfig{
		Quote:  "`",
		Escape: "\\`",
	},
	Placeholder:    dialect.PlaceholderQuestion,
	QuoteWholePath: true,
	Types: dialect.TypeNames{
		Integer: string(bigquery.IntegerFieldType),
		Float:   string(bigquery.FloatFieldType),
		Text:    string(bigquery.StringFieldType),
		Boolean: string(bigquery.BooleanFieldType),
		Time:    string(bigquery.TimestampFieldType),
		Blob:    string(bigquery.BytesFieldType),
	},
}

func init() {
	dialect.Register(Dialect)
}
