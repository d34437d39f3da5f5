package config

import (
	"fmt"
	"slices"

	"github.com/leapstack-labs/geomancer/internal/tableio"
	"github.com/leapstack-labs/geomancer/pkg/backend"
	backendcfg "github.com/leapstack-labs/geomancer/pkg/config"
)

// Validate checks the output format and every backend section.
func (c *Config) Validate() error {
	if c.Format != DefaultFormat && !slices.Contains(tableio.Formats(), c.Format) {
		return fmt.Errorf("invalid format %q: expected auto, table, csv or json", c.Format)
	}
	if c.Column == "" {
		return fmt.Errorf("column must not be empty")
	}
	for _, kind := range backend.Kinds() {
		if _, err := c.optionsFor(kind); err != nil {
			return err
		}
	}
	return nil
}

// BackendOptions returns the options configured for the backend dburl
// selects, or nil when that backend has no section.
func (c *Config) BackendOptions(dburl string) (backendcfg.Options, error) {
	kind, _, err := backend.ParseURL(dburl)
	if err != nil {
		return nil, err
	}
	return c.optionsFor(kind)
}

func (c *Config) optionsFor(kind backend.Kind) (backendcfg.Options, error) {
	var params map[string]any
	switch kind {
	case backend.KindBigQuery:
		params = c.BigQuery
	case backend.KindSQLite:
		params = c.SQLite
	case backend.KindDuckDB:
		params = c.DuckDB
	case backend.KindPostgres:
		params = c.Postgres
	}
	if len(params) == 0 {
		return nil, nil
	}
	return backendcfg.ForBackend(string(kind), params)
}
