package commands

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/geomancer/internal/cli/config"
	"github.com/leapstack-labs/geomancer/internal/tableio"
	"github.com/leapstack-labs/geomancer/pkg/backends/sqlite"
	backendcfg "github.com/leapstack-labs/geomancer/pkg/config"
	"github.com/leapstack-labs/geomancer/pkg/geomancer"
	"github.com/leapstack-labs/geomancer/pkg/sqlexpr"
	"github.com/leapstack-labs/geomancer/pkg/table"
)

func TestNewCastCommand(t *testing.T) {
	cmd := NewCastCommand()

	assert.Equal(t, "cast", cmd.Use)
	assert.NotEmpty(t, cmd.Short, "Short should not be empty")
	assert.NotEmpty(t, cmd.Example, "Example should not be empty")

	flags := []string{"spell", "on", "source-table", "feature-name", "source-id", "within",
		"spellbook", "input", "output", "keep-index", "features-only"}
	for _, flag := range flags {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
	assert.Equal(t, "10000", cmd.Flags().Lookup("within").DefValue)
	assert.Equal(t, "osm_id", cmd.Flags().Lookup("source-id").DefValue)
}

func TestNewSQLCommand(t *testing.T) {
	cmd := NewSQLCommand()

	assert.Equal(t, "sql", cmd.Use)
	assert.NotEmpty(t, cmd.Example, "Example should not be empty")
	for _, flag := range []string{"spell", "on", "input", "features-only"} {
		assert.NotNil(t, cmd.Flags().Lookup(flag), "flag %q should exist", flag)
	}
}

func TestCastCommand_FlagErrors(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "no spell or spellbook",
			args:    []string{"--input", "points.csv"},
			wantErr: "spell spellbook",
		},
		{
			name:    "both spell and spellbook",
			args:    []string{"--input", "points.csv", "--spell", "NumberOf", "--spellbook", "book.json"},
			wantErr: "none of the others can be",
		},
		{
			name:    "missing input",
			args:    []string{"--spell", "NumberOf"},
			wantErr: `required flag(s) "input" not set`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewCastCommand()
			cmd.SetArgs(tt.args)
			cmd.SetOut(new(bytes.Buffer))
			cmd.SetErr(new(bytes.Buffer))

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestCastCommand_RunErrors(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "points.csv")
	require.NoError(t, os.WriteFile(input, []byte("id,WKT\n1,POINT(0 0)\n"), 0o600))

	tests := []struct {
		name    string
		args    []string
		wantErr string
	}{
		{
			name:    "unreadable input",
			args:    []string{"--input", filepath.Join(dir, "missing.csv"), "--spell", "NumberOf"},
			wantErr: "failed to read input",
		},
		{
			name:    "unknown spell",
			args:    []string{"--input", input, "--spell", "AreaOf", "--on", "park"},
			wantErr: `unknown spell type "AreaOf"`,
		},
		{
			name:    "missing feature name",
			args:    []string{"--input", input, "--spell", "NumberOf", "--on", "park", "--source-table", "pois"},
			wantErr: "feature_name is required",
		},
		{
			name: "no database url",
			args: []string{"--input", input, "--spell", "NumberOf", "--on", "park",
				"--source-table", "pois", "--feature-name", "n"},
			wantErr: "dburl was not supplied",
		},
		{
			name:    "missing spellbook",
			args:    []string{"--input", input, "--spellbook", filepath.Join(dir, "book.json")},
			wantErr: "failed to open spellbook",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewCastCommand()
			cmd.SetArgs(tt.args)
			cmd.SetOut(new(bytes.Buffer))
			cmd.SetErr(new(bytes.Buffer))

			err := cmd.Execute()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestSQLCommand_RequiresDBURL(t *testing.T) {
	cmd := NewSQLCommand()
	cmd.SetArgs([]string{"--spell", "NumberOf", "--on", "park"})
	cmd.SetOut(new(bytes.Buffer))

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--dburl is required")
}

func TestBuildConfiguredSpell(t *testing.T) {
	cfg := config.Default()
	cfg.DBURL = "duckdb:///geo.duckdb"
	cfg.DuckDB = map[string]any{"install": true}
	cfg.SQLite = map[string]any{"extensions": "mod_spatialite"}

	opts := &SpellOptions{
		Type:        "DistanceToNearest",
		On:          "amenity:embassy",
		SourceTable: "pois",
		FeatureName: "dist_embassy",
		SourceID:    "osm_id",
		Within:      500,
	}
	s, err := buildConfiguredSpell(cfg, opts)
	require.NoError(t, err)

	p := s.Params()
	assert.Equal(t, "amenity", p.SourceColumn)
	assert.Equal(t, "embassy", p.SourceFilter)
	assert.Equal(t, 500.0, p.Within)
	assert.Equal(t, "duckdb:///geo.duckdb", p.DBURL)
	duck, ok := p.Options.(backendcfg.DuckDB)
	require.True(t, ok)
	assert.True(t, duck.Install)

	opts.On = ""
	_, err = buildConfiguredSpell(cfg, opts)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--on is required")
}

func TestPrintStatement(t *testing.T) {
	b := sqlite.New(backendcfg.DefaultSQLite(), nil)
	s, err := (&SpellOptions{
		Type: "NumberOf", On: "embassy", SourceTable: "pois", FeatureName: "n",
		SourceID: "osm_id", Within: 100,
	}).build("", nil)
	require.NoError(t, err)

	source := sqlexpr.NewTable("pois", "osm_id", "fclass", "WKT")
	target := sqlexpr.NewTable(inputRelation, table.RowKey, "WKT")
	stmt, err := geomancer.Plan(s, b, source, target, geomancer.FeaturesOnly())
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, printStatement(&buf, b, stmt))
	out := buf.String()
	assert.Contains(t, out, `FROM "input" AS "target"`)
	assert.Contains(t, out, `ORDER BY "features"."__index_level_0__" ASC;`)
	assert.Contains(t, out, "-- arg 1: embassy\n")
}

func TestResolveFormat(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, tableio.FormatCSV, resolveFormat("auto", &buf))
	assert.Equal(t, tableio.FormatCSV, resolveFormat("", &buf))
	assert.Equal(t, tableio.FormatJSON, resolveFormat("json", &buf))
}

func TestWriteResult(t *testing.T) {
	tbl := table.New("id", "n")
	require.NoError(t, tbl.Append("a", int64(2)))

	dir := t.TempDir()
	tests := []struct {
		path   string
		format string
		want   string
	}{
		{path: "out.csv", format: "auto", want: "id,n\na,2\n"},
		{path: "out.json", format: "auto", want: "[\n  {\"id\": \"a\", \"n\": 2}\n]\n"},
		{path: "forced.json", format: "csv", want: "id,n\na,2\n"},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			path := filepath.Join(dir, tt.path)
			require.NoError(t, writeResult(new(bytes.Buffer), path, tt.format, tbl))
			got, err := os.ReadFile(path)
			require.NoError(t, err)
			assert.Equal(t, tt.want, string(got))
		})
	}

	var buf bytes.Buffer
	require.NoError(t, writeResult(&buf, "", "json", tbl))
	assert.Contains(t, buf.String(), `"n": 2`)
}

func TestSpellsCommand(t *testing.T) {
	cmd := NewSpellsCommand()
	buf := new(bytes.Buffer)
	cmd.SetOut(buf)
	cmd.SetArgs([]string{})
	cmd.SetContext(config.NewContext(context.Background(), &config.Config{Format: "csv"}, nil))

	require.NoError(t, cmd.Execute())
	assert.Equal(t, `type,module
DistanceToNearest,github.com/leapstack-labs/geomancer/pkg/spell
LengthOf,github.com/leapstack-labs/geomancer/pkg/spell
NumberOf,github.com/leapstack-labs/geomancer/pkg/spell
`, buf.String())
}
