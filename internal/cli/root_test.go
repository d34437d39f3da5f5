package cli

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/geomancer/internal/cli/testutil"
	"github.com/leapstack-labs/geomancer/pkg/backends/duckdb"
	"github.com/leapstack-labs/geomancer/pkg/config"
)

func TestRoot_Spells(t *testing.T) {
	stdout, _, err := testutil.RunCommand(t, NewRootCmd(), "spells", "--format", "csv")
	require.NoError(t, err)

	testutil.AssertNoANSI(t, stdout)
	assert.Equal(t, "type,module", strings.SplitN(stdout, "\n", 2)[0])
	assert.Contains(t, stdout, "LengthOf,")
}

func TestRoot_InvalidConfig(t *testing.T) {
	_, _, err := testutil.RunCommand(t, NewRootCmd(), "spells", "--format", "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `invalid format "xml"`)

	_, _, err = testutil.RunCommand(t, NewRootCmd(), "--config", filepath.Join(t.TempDir(), "none.yaml"), "spells")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "error reading config file")
}

func TestRoot_CompletionSkipsConfig(t *testing.T) {
	stdout, _, err := testutil.RunCommand(t, NewRootCmd(), "--format", "xml", "completion", "bash")
	require.NoError(t, err)
	assert.Contains(t, stdout, "geomancer")
}

// createReferenceDB writes an osm_pois table into a DuckDB file, skipping
// the test when the spatial extension is unavailable.
func createReferenceDB(t *testing.T, path string) {
	t.Helper()
	ctx := context.Background()

	b := duckdb.New(config.DefaultDuckDB(), nil)
	if err := b.Connect(ctx, path); err != nil {
		t.Skipf("duckdb spatial extension unavailable: %v", err)
	}
	defer func() { _ = b.Close() }()

	require.NoError(t, b.Exec(ctx, `CREATE TABLE osm_pois (osm_id BIGINT, fclass VARCHAR, "WKT" VARCHAR)`))
	require.NoError(t, b.Exec(ctx, `INSERT INTO osm_pois VALUES
		(1, 'embassy', 'POINT(121.01 14.5)'),
		(2, 'school', 'POINT(122.0 15.0)')`))
}

func TestRoot_CastSpellbook(t *testing.T) {
	dir := testutil.SetupTestProject(t)
	dbPath := filepath.Join(dir, "osm.duckdb")
	createReferenceDB(t, dbPath)

	stdout, stderr, err := testutil.RunCommand(t, NewRootCmd(),
		"--dburl", "duckdb:///"+dbPath,
		"--format", "csv",
		"--verbose",
		"cast",
		"--input", filepath.Join(dir, "points.csv"),
		"--spellbook", filepath.Join(dir, "spellbook.yaml"))
	require.NoError(t, err, stderr)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "id,WKT,dist_embassy,num_embassy", lines[0])

	first := strings.Split(lines[1], ",")
	require.Len(t, first, 4)
	assert.Equal(t, "100", first[0])
	dist, err := strconv.ParseFloat(first[2], 64)
	require.NoError(t, err)
	assert.InDelta(t, 1077.0, dist, 15.0)
	assert.Equal(t, "1", first[3])

	assert.Equal(t, "200,POINT(122.0 15.0),,", lines[2])
	assert.Equal(t, "300,POINT(120.0 13.0),,", lines[3])

	assert.Contains(t, stderr, "level=DEBUG")
	assert.Contains(t, stderr, "cast complete")
}

func TestRoot_CastSpellbookFeaturesOnly(t *testing.T) {
	dir := testutil.SetupTestProject(t)
	dbPath := filepath.Join(dir, "osm.duckdb")
	createReferenceDB(t, dbPath)

	stdout, stderr, err := testutil.RunCommand(t, NewRootCmd(),
		"--dburl", "duckdb:///"+dbPath,
		"--format", "csv",
		"cast",
		"--input", filepath.Join(dir, "points.csv"),
		"--spellbook", filepath.Join(dir, "spellbook.yaml"),
		"--features-only")
	require.NoError(t, err, stderr)

	lines := strings.Split(strings.TrimSpace(stdout), "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "__index_level_0__,dist_embassy,num_embassy", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "0,"), lines[1])
	assert.Equal(t, "1,,", lines[2])
	assert.Equal(t, "2,,", lines[3])
}

func TestRoot_CastSpellbookUsesConfiguredBackendOptions(t *testing.T) {
	dir := testutil.SetupTestProject(t)
	cfgPath := filepath.Join(dir, "geomancer.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("sqlite:\n  extensions: [no_such_spatial_ext]\n"), 0o600))

	_, _, err := testutil.RunCommand(t, NewRootCmd(),
		"--config", cfgPath,
		"--dburl", "sqlite:///"+filepath.Join(dir, "osm.db"),
		"cast",
		"--input", filepath.Join(dir, "points.csv"),
		"--spellbook", filepath.Join(dir, "spellbook.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no_such_spatial_ext")
	assert.NotContains(t, err.Error(), "mod_spatialite")
}
