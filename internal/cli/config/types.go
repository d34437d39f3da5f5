// Package config loads geomancer CLI settings from defaults, a
// geomancer.yaml file, GEOMANCER_* environment variables and flags.
package config

// Config holds all CLI configuration options.
type Config struct {
	DBURL   string `koanf:"dburl"`
	Column  string `koanf:"column"`
	Format  string `koanf:"format"`
	Verbose bool   `koanf:"verbose"`

	// Backend option sections, decoded onto the backend defaults when the
	// database URL selects that backend.
	BigQuery map[string]any `koanf:"bigquery"`
	SQLite   map[string]any `koanf:"sqlite"`
	DuckDB   map[string]any `koanf:"duckdb"`
	Postgres map[string]any `koanf:"postgres"`
}

// Default configuration values.
const (
	DefaultColumn = "WKT"
	DefaultFormat = "auto" // Auto-detect: TTY=table, non-TTY=csv
)

// Default returns the configuration used when nothing has been loaded.
func Default() *Config {
	return &Config{
		Column: DefaultColumn,
		Format: DefaultFormat,
	}
}
