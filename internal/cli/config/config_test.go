package config

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	backendcfg "github.com/leapstack-labs/geomancer/pkg/config"
)

func newFlags() *pflag.FlagSet {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	fs.String("dburl", "", "")
	fs.String("column", "", "")
	fs.String("format", "", "")
	fs.BoolP("verbose", "v", false, "")
	fs.String("input", "", "")
	return fs
}

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "geomancer.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_Defaults(t *testing.T) {
	cfg, used, err := Load("", nil)
	require.NoError(t, err)

	assert.Empty(t, used)
	assert.Equal(t, DefaultColumn, cfg.Column)
	assert.Equal(t, DefaultFormat, cfg.Format)
	assert.False(t, cfg.Verbose)
	assert.Empty(t, cfg.DBURL)
}

func TestLoad_Precedence(t *testing.T) {
	path := writeConfig(t, `
dburl: sqlite:///from-file.db
column: geom
format: json
bigquery:
  dataset_id: features
  max_retries: 3
`)

	tests := []struct {
		name      string
		env       map[string]string
		args      []string
		wantDBURL string
		wantCol   string
		wantFmt   string
	}{
		{
			name:      "file over defaults",
			wantDBURL: "sqlite:///from-file.db",
			wantCol:   "geom",
			wantFmt:   "json",
		},
		{
			name:      "env over file",
			env:       map[string]string{"GEOMANCER_DBURL": "duckdb:///env.db", "GEOMANCER_FORMAT": "csv"},
			wantDBURL: "duckdb:///env.db",
			wantCol:   "geom",
			wantFmt:   "csv",
		},
		{
			name:      "flags over env",
			env:       map[string]string{"GEOMANCER_DBURL": "duckdb:///env.db"},
			args:      []string{"--dburl", "postgres://localhost/geo", "--column", "shape"},
			wantDBURL: "postgres://localhost/geo",
			wantCol:   "shape",
			wantFmt:   "json",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.env {
				t.Setenv(k, v)
			}
			flags := newFlags()
			require.NoError(t, flags.Parse(tt.args))

			cfg, used, err := Load(path, flags)
			require.NoError(t, err)
			assert.Equal(t, path, used)
			assert.Equal(t, tt.wantDBURL, cfg.DBURL)
			assert.Equal(t, tt.wantCol, cfg.Column)
			assert.Equal(t, tt.wantFmt, cfg.Format)
		})
	}
}

func TestLoad_UnsetFlagsDoNotOverride(t *testing.T) {
	path := writeConfig(t, "column: geom\n")
	flags := newFlags()
	require.NoError(t, flags.Parse([]string{"--input", "points.csv"}))

	cfg, _, err := Load(path, flags)
	require.NoError(t, err)
	assert.Equal(t, "geom", cfg.Column)
}

func TestLoad_NestedEnv(t *testing.T) {
	t.Setenv("GEOMANCER_DUCKDB__INSTALL", "true")
	t.Setenv("GEOMANCER_VERBOSE", "true")

	cfg, _, err := Load("", nil)
	require.NoError(t, err)
	assert.True(t, cfg.Verbose)

	opts, err := cfg.BackendOptions("duckdb:///geo.db")
	require.NoError(t, err)
	duck, ok := opts.(backendcfg.DuckDB)
	require.True(t, ok)
	assert.True(t, duck.Install)
}

func TestLoad_Errors(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		wantErr string
	}{
		{name: "bad format", body: "format: xml\n", wantErr: `invalid format "xml"`},
		{name: "bad backend section", body: "sqlite:\n  no_such_key: 1\n", wantErr: "invalid sqlite options"},
		{name: "bad yaml", body: "dburl: [\n", wantErr: "error reading config file"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := Load(writeConfig(t, tt.body), nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}

	_, _, err := Load(filepath.Join(t.TempDir(), "missing.yaml"), nil)
	require.Error(t, err)
}

func TestBackendOptions(t *testing.T) {
	cfg := Default()
	cfg.BigQuery = map[string]any{"dataset_id": "features", "expiry": "1h"}

	opts, err := cfg.BackendOptions("bigquery://my-project")
	require.NoError(t, err)
	bq, ok := opts.(backendcfg.BigQuery)
	require.True(t, ok)
	assert.Equal(t, "features", bq.DatasetID)
	assert.Equal(t, time.Hour, bq.Expiry)
	assert.Equal(t, backendcfg.DefaultBigQuery().MaxRetries, bq.MaxRetries)

	opts, err = cfg.BackendOptions("sqlite:///geo.db")
	require.NoError(t, err)
	assert.Nil(t, opts)

	_, err = cfg.BackendOptions("mysql://localhost/geo")
	require.Error(t, err)
}

func TestContext(t *testing.T) {
	ctx := context.Background()
	assert.Equal(t, Default(), FromContext(ctx))
	assert.NotNil(t, GetLogger(ctx))

	cfg := &Config{DBURL: "sqlite:///geo.db"}
	logger := GetLogger(ctx)
	ctx = NewContext(ctx, cfg, logger)
	assert.Same(t, cfg, FromContext(ctx))
	assert.Same(t, logger, GetLogger(ctx))
}
