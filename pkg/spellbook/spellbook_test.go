package spellbook

import (
	"bytes"
	"context"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/geomancer/pkg/backend"
	"github.com/leapstack-labs/geomancer/pkg/backends/sqlite"
	"github.com/leapstack-labs/geomancer/pkg/config"
	"github.com/leapstack-labs/geomancer/pkg/geomancer"
	"github.com/leapstack-labs/geomancer/pkg/spell"
	"github.com/leapstack-labs/geomancer/pkg/sqlexpr"
	"github.com/leapstack-labs/geomancer/pkg/table"
)

// mustSpell wraps a spell constructor call, failing the test on error:
// mustSpell[*spell.NumberOf](t)(spell.NewNumberOf(...)).
func mustSpell[S spell.Spell](t *testing.T) func(S, error) spell.Spell {
	t.Helper()
	return func(s S, err error) spell.Spell {
		t.Helper()
		require.NoError(t, err)
		return s
	}
}

func sampleBook(t *testing.T) *SpellBook {
	t.Helper()
	sb, err := New([]spell.Spell{
		mustSpell[*spell.DistanceToNearest](t)(spell.NewDistanceToNearest("embassy",
			spell.WithSourceTable("geospatial.ph_osm.gis_osm_pois_free_1"),
			spell.WithFeatureName("dist_embassy"),
			spell.WithDBURL("sqlite:///geo.db"),
			spell.WithOptions(config.DefaultSQLite()))),
		mustSpell[*spell.NumberOf](t)(spell.NewNumberOf("amenity:hospital",
			spell.WithSourceTable("geospatial.ph_osm.gis_osm_pois_free_1"),
			spell.WithFeatureName("num_hospital"),
			spell.WithWithin(2500))),
		mustSpell[*spell.LengthOf](t)(spell.NewLengthOf("primary",
			spell.WithSourceTable("geospatial.ph_osm.gis_osm_roads_free_1"),
			spell.WithFeatureName("len_primary"),
			spell.WithSourceID("road_id"))),
	}, WithAuthor("Thinking Machines"), WithDescription("Philippine features"))
	require.NoError(t, err)
	return sb
}

func TestNew_DuplicateFeatureName(t *testing.T) {
	a := mustSpell[*spell.NumberOf](t)(spell.NewNumberOf("embassy", spell.WithSourceTable("pois"), spell.WithFeatureName("f")))
	b := mustSpell[*spell.DistanceToNearest](t)(spell.NewDistanceToNearest("school", spell.WithSourceTable("pois"), spell.WithFeatureName("f")))

	_, err := New([]spell.Spell{a, b})
	require.Error(t, err)
	assert.ErrorIs(t, err, backend.ErrConfiguration)
	assert.Contains(t, err.Error(), `duplicate feature name "f"`)
}

func TestRoundTrip(t *testing.T) {
	for _, format := range []Format{FormatJSON, FormatYAML} {
		t.Run(string(format), func(t *testing.T) {
			sb := sampleBook(t)

			var buf bytes.Buffer
			require.NoError(t, sb.Encode(&buf, format))

			loaded, err := Load(&buf, format)
			require.NoError(t, err)

			assert.Equal(t, sb.Column, loaded.Column)
			assert.Equal(t, sb.Author, loaded.Author)
			assert.Equal(t, sb.Description, loaded.Description)
			require.Len(t, loaded.Spells, len(sb.Spells))
			for i := range sb.Spells {
				assert.Equal(t, sb.Spells[i].Type(), loaded.Spells[i].Type())
				assert.Equal(t, sb.Spells[i].Params(), loaded.Spells[i].Params())
			}
		})
	}
}

func TestExport_DocumentKeys(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, sampleBook(t).Export(&buf))

	out := buf.String()
	for _, key := range []string{
		`"column": "WKT"`,
		`"author": "Thinking Machines"`,
		`"type": "DistanceToNearest"`,
		`"module": "github.com/leapstack-labs/geomancer/pkg/spell"`,
		`"source_column": "amenity"`,
		`"source_filter": "hospital"`,
		`"feature_name": "num_hospital"`,
		`"source_id": "road_id"`,
		`"within": 2500`,
		`"dburl": "sqlite:///geo.db"`,
		`"backend": "sqlite"`,
	} {
		assert.Contains(t, out, key)
	}
}

func TestLoad_WithoutOn(t *testing.T) {
	doc := `{
  "column": "geom",
  "spells": [
    {
      "type": "NumberOf",
      "module": "github.com/leapstack-labs/geomancer/pkg/spell",
      "source_column": "fclass",
      "source_filter": "embassy",
      "source_table": "pois",
      "feature_name": "num_embassy",
      "source_id": "osm_id",
      "within": 10000
    }
  ]
}`
	sb, err := Load(strings.NewReader(doc), FormatJSON)
	require.NoError(t, err)
	assert.Equal(t, "geom", sb.Column)
	require.Len(t, sb.Spells, 1)

	p := sb.Spells[0].Params()
	assert.Equal(t, "fclass:embassy", p.On)
	assert.Equal(t, "fclass", p.SourceColumn)
	assert.Equal(t, "embassy", p.SourceFilter)
	assert.Nil(t, p.Options)
}

func TestJoinFilter(t *testing.T) {
	tests := []struct {
		column  string
		value   string
		want    string
		wantErr bool
	}{
		{column: "fclass", value: "embassy", want: "fclass:embassy"},
		{column: "", value: "embassy", want: "fclass:embassy"},
		{column: "fclass", value: "a:b:c", want: "a:b:c"},
		{column: "amenity", value: "a:b", wantErr: true},
		{column: "fclass", value: "a:b", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.column+"/"+tt.value, func(t *testing.T) {
			got, err := joinFilter(tt.column, tt.value)
			if tt.wantErr {
				require.Error(t, err)
				assert.ErrorIs(t, err, backend.ErrConfiguration)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestLoad_WithoutOnFilterWithColon(t *testing.T) {
	doc := `{"spells": [{"type": "NumberOf", "module": "github.com/leapstack-labs/geomancer/pkg/spell",
		"source_column": "fclass", "source_filter": "a:b:c", "source_table": "pois", "feature_name": "n"}]}`
	sb, err := Load(strings.NewReader(doc), FormatJSON)
	require.NoError(t, err)

	p := sb.Spells[0].Params()
	assert.Equal(t, "fclass", p.SourceColumn)
	assert.Equal(t, "a:b:c", p.SourceFilter)

	doc = strings.Replace(doc, `"a:b:c"`, `"a:b"`, 1)
	_, err = Load(strings.NewReader(doc), FormatJSON)
	require.Error(t, err)
	assert.Contains(t, err.Error(), `filter "a:b" on column "fclass"`)
}

func TestLoad_UnknownSpell(t *testing.T) {
	tests := []struct {
		name string
		doc  string
	}{
		{name: "unknown type", doc: `{"spells": [{"type": "AreaOf", "module": "github.com/leapstack-labs/geomancer/pkg/spell", "on": "park"}]}`},
		{name: "unknown module", doc: `{"spells": [{"type": "NumberOf", "module": "geomancer.spells.number_of", "on": "park"}]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(strings.NewReader(tt.doc), FormatJSON)
			require.Error(t, err)

			var unknown *UnknownSpellError
			require.ErrorAs(t, err, &unknown)
			assert.ErrorIs(t, err, backend.ErrConfiguration)
			assert.Contains(t, unknown.Available, "NumberOf")
		})
	}
}

func TestLoad_InvalidOptions(t *testing.T) {
	doc := `{"spells": [{"type": "NumberOf", "on": "park", "source_table": "pois", "feature_name": "n",
		"options": {"backend": "sqlite", "no_such_key": 1}}]}`
	_, err := Load(strings.NewReader(doc), FormatJSON)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid sqlite options")
}

func TestFiles(t *testing.T) {
	dir := t.TempDir()
	sb := sampleBook(t)

	jsonPath := filepath.Join(dir, "book.json")
	yamlPath := filepath.Join(dir, "book.yml")
	require.NoError(t, sb.ToJSON(jsonPath))
	require.NoError(t, sb.ToYAML(yamlPath))

	for _, path := range []string{jsonPath, yamlPath} {
		loaded, err := ReadFile(path)
		require.NoError(t, err, path)
		assert.Len(t, loaded.Spells, 3)
	}

	assert.Equal(t, FormatYAML, FormatFromPath("a.YAML"))
	assert.Equal(t, FormatJSON, FormatFromPath("a.txt"))

	_, err := ReadFile(filepath.Join(dir, "missing.json"))
	require.Error(t, err)
}

func TestRegistry(t *testing.T) {
	assert.Equal(t, []string{"DistanceToNearest", "LengthOf", "NumberOf"}, Types())
	assert.Equal(t, SpellModule, ModuleOf("NumberOf"))

	ctor, err := Lookup("NumberOf", "")
	require.NoError(t, err)
	s, err := ctor("embassy", spell.WithSourceTable("pois"), spell.WithFeatureName("n"))
	require.NoError(t, err)
	assert.Equal(t, "NumberOf", s.Type())
}

// featureBackend answers every cast with fixed features keyed by row.
type featureBackend struct {
	*sqlite.Backend
	features map[string]*table.Table
}

func (f *featureBackend) Upload(_ context.Context, tbl *table.Table) (string, error) {
	return "tmp", nil
}

func (f *featureBackend) Reflect(_ context.Context, name string) (*sqlexpr.Table, error) {
	if name == "tmp" {
		return sqlexpr.NewTable("tmp", table.RowKey, "WKT"), nil
	}
	return sqlexpr.NewTable(name, "osm_id", "fclass", "WKT"), nil
}

func (f *featureBackend) Query(_ context.Context, stmt sqlexpr.Statement) (*table.Table, error) {
	cols := stmt.ColumnNames()
	return f.features[cols[len(cols)-1]], nil
}

func TestCast_MergesOnRowKey(t *testing.T) {
	dist := table.New(table.RowKey, "dist_embassy")
	require.NoError(t, dist.Append(int64(0), 120.5))
	count := table.New(table.RowKey, "num_school")
	require.NoError(t, count.Append(int64(1), int64(3)))
	require.NoError(t, count.Append(int64(0), int64(1)))

	b := &featureBackend{
		Backend:  sqlite.New(config.DefaultSQLite(), nil),
		features: map[string]*table.Table{"dist_embassy": dist, "num_school": count},
	}

	sb, err := New([]spell.Spell{
		mustSpell[*spell.DistanceToNearest](t)(spell.NewDistanceToNearest("embassy", spell.WithSourceTable("pois"), spell.WithFeatureName("dist_embassy"))),
		mustSpell[*spell.NumberOf](t)(spell.NewNumberOf("school", spell.WithSourceTable("pois"), spell.WithFeatureName("num_school"))),
	})
	require.NoError(t, err)

	pts := table.New("id", "WKT")
	require.NoError(t, pts.Append("a", "POINT(0 0)"))
	require.NoError(t, pts.Append("b", "POINT(1 1)"))
	require.NoError(t, pts.Append("c", "POINT(2 2)"))

	got, err := sb.Cast(context.Background(), pts, geomancer.WithBackend(b))
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "WKT", "dist_embassy", "num_school"}, got.Columns)
	assert.Equal(t, [][]any{
		{"a", "POINT(0 0)", 120.5, int64(1)},
		{"b", "POINT(1 1)", nil, int64(3)},
		{"c", "POINT(2 2)", nil, nil},
	}, got.Rows)
	assert.Equal(t, 3, pts.Len(), "input table is not mutated")
	assert.Equal(t, []string{"id", "WKT"}, pts.Columns)
}
