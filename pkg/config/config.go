// Package config holds the immutable option sets used to talk to each
// database backend.
//
// Every backend has a Default* constructor. Callers that need different
// values build their own struct (usually by copying the default) and pass
// it to the backend constructor; nothing in this package is mutated after
// construction.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-viper/mapstructure/v2"
)

// ErrConfiguration is the root of every configuration error: missing or
// unknown backends, invalid options, incompatible spell/backend pairs and
// invalid spell parameters. Match with errors.Is.
var ErrConfiguration = errors.New("configuration error")

// IfExists controls what an upload does when the target relation exists.
type IfExists string

// IfExists values.
const (
	IfExistsReplace IfExists = "replace"
	IfExistsFail    IfExists = "fail"
	IfExistsAppend  IfExists = "append"
)

// Valid reports whether the value is one of the known modes.
func (m IfExists) Valid() bool {
	switch m {
	case IfExistsReplace, IfExistsFail, IfExistsAppend:
		return true
	}
	return false
}

// Options is implemented by every backend option set.
type Options interface {
	// Backend returns the backend name the options apply to.
	Backend() string
}

// BigQuery configures uploads to a BigQuery project.
type BigQuery struct {
	// DatasetID is the dataset temporary tables are loaded into.
	DatasetID string `mapstructure:"dataset_id"`

	// Expiry is how long an uploaded table lives. Zero disables expiry.
	Expiry time.Duration `mapstructure:"expiry"`

	// MaxRetries bounds how many times a load job is polled.
	MaxRetries int `mapstructure:"max_retries"`

	// RetryInterval is the fixed delay between polls.
	RetryInterval time.Duration `mapstructure:"retry_interval"`
}

// Backend implements Options.
func (BigQuery) Backend() string { return "bigquery" }

// DefaultBigQuery returns the default BigQuery options.
func DefaultBigQuery() BigQuery {
	return BigQuery{
		DatasetID:     "geomancer",
		Expiry:        3 * time.Hour,
		MaxRetries:    10,
		RetryInterval: 10 * time.Second,
	}
}

// SQLite configures a SpatiaLite-enabled SQLite file.
type SQLite struct {
	// IfExists is the write mode for uploaded tables.
	IfExists IfExists `mapstructure:"if_exists"`

	// Extensions are tried in order on every new connection until one loads.
	Extensions []string `mapstructure:"extensions"`
}

// Backend implements Options.
func (SQLite) Backend() string { return "sqlite" }

// DefaultSQLite returns the default SQLite options.
func DefaultSQLite() SQLite {
	return SQLite{
		IfExists:   IfExistsReplace,
		Extensions: []string{"mod_spatialite", "libspatialite"},
	}
}

// DuckDB configures a DuckDB database with the spatial extension.
type DuckDB struct {
	// IfExists is the write mode for uploaded tables.
	IfExists IfExists `mapstructure:"if_exists"`

	// Extensions to load on every new connection (e.g. "spatial", "httpfs").
	Extensions []string `mapstructure:"extensions"`

	// Install runs INSTALL before LOAD for each extension.
	Install bool `mapstructure:"install"`

	// Settings are applied with SET on every new connection (e.g. threads).
	Settings map[string]string `mapstructure:"settings"`
}

// Backend implements Options.
func (DuckDB) Backend() string { return "duckdb" }

// DefaultDuckDB returns the default DuckDB options.
func DefaultDuckDB() DuckDB {
	return DuckDB{
		IfExists:   IfExistsReplace,
		Extensions: []string{"spatial"},
		Install:    true,
	}
}

// Postgres configures a PostGIS-enabled PostgreSQL database.
type Postgres struct {
	// Schema is where uploaded tables are created.
	Schema string `mapstructure:"schema"`

	// IfExists is the write mode for uploaded tables.
	IfExists IfExists `mapstructure:"if_exists"`
}

// Backend implements Options.
func (Postgres) Backend() string { return "postgres" }

// DefaultPostgres returns the default PostgreSQL options.
func DefaultPostgres() Postgres {
	return Postgres{
		Schema:   "public",
		IfExists: IfExistsReplace,
	}
}

// Decode overlays params onto out, which must be a pointer to one of the
// option structs. Durations accept Go duration strings ("3h", "10s").
// Keys absent from params leave the existing field values in place, so
// decoding onto a default yields "default with overrides".
func Decode(params map[string]any, out Options) error {
	if len(params) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		),
		WeaklyTypedInput: true,
		ZeroFields:       true,
		ErrorUnused:      true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("failed to build %s options decoder: %w", out.Backend(), err)
	}
	if err := dec.Decode(params); err != nil {
		return fmt.Errorf("%w: invalid %s options: %w", ErrConfiguration, out.Backend(), err)
	}
	return nil
}

// ForBackend returns the default options for the named backend with params
// decoded on top.
func ForBackend(name string, params map[string]any) (Options, error) {
	var opts Options
	var err error
	switch name {
	case "bigquery":
		o := DefaultBigQuery()
		err = Decode(params, &o)
		opts = o
	case "sqlite":
		o := DefaultSQLite()
		err = Decode(params, &o)
		opts = o
	case "duckdb":
		o := DefaultDuckDB()
		err = Decode(params, &o)
		opts = o
	case "postgres":
		o := DefaultPostgres()
		err = Decode(params, &o)
		opts = o
	default:
		return nil, fmt.Errorf("%w: no options for backend %q", ErrConfiguration, name)
	}
	if err != nil {
		return nil, err
	}
	return opts, nil
}
