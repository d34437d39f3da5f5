package tableio

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/parquet-go/parquet-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/leapstack-labs/geomancer/pkg/table"
)

func TestReadCSV(t *testing.T) {
	in := "id,WKT,score,label\n1,POINT(121 14.5),0.25,\n2,POINT(121.1 14.6),3,park\n"

	got, err := ReadCSV(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "WKT", "score", "label"}, got.Columns)
	assert.Equal(t, [][]any{
		{int64(1), "POINT(121 14.5)", 0.25, nil},
		{int64(2), "POINT(121.1 14.6)", int64(3), "park"},
	}, got.Rows)
}

func TestReadCSV_Errors(t *testing.T) {
	_, err := ReadCSV(strings.NewReader(""))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no header row")

	_, err = ReadCSV(strings.NewReader("a,b\n1,2,3\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "line 2")
}

func TestReadJSON(t *testing.T) {
	in := `[{"WKT": "POINT(0 0)", "id": 7}, {"id": 8.5, "WKT": "POINT(1 1)", "name": "b"}]`

	got, err := ReadJSON(strings.NewReader(in))
	require.NoError(t, err)

	assert.Equal(t, []string{"WKT", "id", "name"}, got.Columns)
	assert.Equal(t, [][]any{
		{"POINT(0 0)", int64(7), nil},
		{"POINT(1 1)", 8.5, "b"},
	}, got.Rows)
}

func TestReadJSON_NotObjects(t *testing.T) {
	_, err := ReadJSON(strings.NewReader(`[1, 2]`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "expected a JSON object")
}

func TestReadNDJSON(t *testing.T) {
	in := "{\"id\": 1, \"WKT\": \"POINT(0 0)\"}\n{\"id\": 2, \"WKT\": \"POINT(1 1)\"}\n"

	got, err := ReadNDJSON(strings.NewReader(in))
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "WKT"}, got.Columns)
	assert.Equal(t, 2, got.Len())
}

type pointRow struct {
	ID  int64   `parquet:"id"`
	WKT string  `parquet:"WKT"`
	Pop float64 `parquet:"pop"`
}

func TestReadParquet(t *testing.T) {
	path := filepath.Join(t.TempDir(), "points.parquet")

	f, err := os.Create(path)
	require.NoError(t, err)
	w := parquet.NewGenericWriter[pointRow](f)
	_, err = w.Write([]pointRow{
		{ID: 1, WKT: "POINT(121 14.5)", Pop: 1200},
		{ID: 2, WKT: "POINT(121.1 14.6)", Pop: 35.5},
	})
	require.NoError(t, err)
	require.NoError(t, w.Close())
	require.NoError(t, f.Close())

	got, err := ReadFile(path)
	require.NoError(t, err)

	assert.Equal(t, []string{"id", "WKT", "pop"}, got.Columns)
	assert.Equal(t, [][]any{
		{int64(1), "POINT(121 14.5)", 1200.0},
		{int64(2), "POINT(121.1 14.6)", 35.5},
	}, got.Rows)
}

func TestReadFile(t *testing.T) {
	dir := t.TempDir()
	csvPath := filepath.Join(dir, "in.csv")
	require.NoError(t, os.WriteFile(csvPath, []byte("a\n1\n"), 0o600))

	got, err := ReadFile(csvPath)
	require.NoError(t, err)
	assert.Equal(t, [][]any{{int64(1)}}, got.Rows)

	_, err = ReadFile(filepath.Join(dir, "in.xlsx"))
	require.Error(t, err)

	txtPath := filepath.Join(dir, "in.txt")
	require.NoError(t, os.WriteFile(txtPath, []byte("a"), 0o600))
	_, err = ReadFile(txtPath)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unsupported input format")
}

func sampleFeatures() *table.Table {
	tbl := table.New("id", "WKT", "dist_embassy")
	_ = tbl.Append("a", "POINT(0 0)", 1077.25)
	_ = tbl.Append("b", "POINT(1 1)", nil)
	return tbl
}

func TestWriteCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleFeatures(), FormatCSV))

	assert.Equal(t, "id,WKT,dist_embassy\na,POINT(0 0),1077.25\nb,POINT(1 1),\n", buf.String())
}

func TestWriteJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleFeatures(), FormatJSON))

	want := `[
  {"id": "a", "WKT": "POINT(0 0)", "dist_embassy": 1077.25},
  {"id": "b", "WKT": "POINT(1 1)", "dist_embassy": null}
]
`
	assert.Equal(t, want, buf.String())

	back, err := ReadJSON(&buf)
	require.NoError(t, err)
	assert.Equal(t, sampleFeatures().Rows, back.Rows)
}

func TestWriteJSON_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteJSON(&buf, table.New("a")))
	assert.Equal(t, "[]\n", buf.String())
}

func TestWriteTable(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, sampleFeatures(), ""))

	out := buf.String()
	assert.Contains(t, out, "DIST_EMBASSY")
	assert.Contains(t, out, "1077.25")
	assert.Contains(t, out, "NULL")
	assert.Contains(t, out, "(2 rows)")

	buf.Reset()
	require.NoError(t, WriteTable(&buf, table.New("a")))
	assert.Equal(t, "(0 rows)\n", buf.String())
}

func TestWrite_UnknownFormat(t *testing.T) {
	err := Write(&bytes.Buffer{}, sampleFeatures(), "xml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `unsupported output format "xml"`)
}
