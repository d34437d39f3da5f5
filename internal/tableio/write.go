package tableio

import (
	"bufio"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"time"

	prettytable "github.com/jedib0t/go-pretty/v6/table"

	"github.com/leapstack-labs/geomancer/pkg/table"
)

// Output formats.
const (
	FormatTable = "table"
	FormatCSV   = "csv"
	FormatJSON  = "json"
)

// Formats returns the supported output formats.
func Formats() []string {
	return []string{FormatTable, FormatCSV, FormatJSON}
}

// Write renders tbl in the given format.
func Write(w io.Writer, tbl *table.Table, format string) error {
	switch format {
	case FormatCSV:
		return WriteCSV(w, tbl)
	case FormatJSON:
		return WriteJSON(w, tbl)
	case FormatTable, "":
		return WriteTable(w, tbl)
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}
}

// WriteTable renders tbl as a text table followed by a row count.
func WriteTable(w io.Writer, tbl *table.Table) error {
	if tbl.Len() == 0 {
		_, _ = fmt.Fprintln(w, "(0 rows)")
		return nil
	}

	t := prettytable.NewWriter()
	t.SetOutputMirror(w)
	t.SetStyle(prettytable.StyleLight)

	header := make(prettytable.Row, len(tbl.Columns))
	for i, col := range tbl.Columns {
		header[i] = col
	}
	t.AppendHeader(header)

	for _, row := range tbl.Rows {
		out := make(prettytable.Row, len(row))
		for i, v := range row {
			if v == nil {
				out[i] = "NULL"
				continue
			}
			out[i] = formatValue(v)
		}
		t.AppendRow(out)
	}

	t.Render()
	_, _ = fmt.Fprintf(w, "(%d rows)\n", tbl.Len())
	return nil
}

// WriteCSV writes tbl as CSV with a header row. nil values are empty cells.
func WriteCSV(w io.Writer, tbl *table.Table) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(tbl.Columns); err != nil {
		return err
	}
	record := make([]string, len(tbl.Columns))
	for _, row := range tbl.Rows {
		for i, v := range row {
			record[i] = formatValue(v)
		}
		if err := cw.Write(record); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes tbl as a JSON array of objects with keys in column
// order.
func WriteJSON(w io.Writer, tbl *table.Table) error {
	bw := bufio.NewWriter(w)
	keys := make([][]byte, len(tbl.Columns))
	for i, col := range tbl.Columns {
		k, err := json.Marshal(col)
		if err != nil {
			return err
		}
		keys[i] = k
	}

	_, _ = bw.WriteString("[")
	for r, row := range tbl.Rows {
		if r > 0 {
			_, _ = bw.WriteString(",")
		}
		_, _ = bw.WriteString("\n  {")
		for i, v := range row {
			if i > 0 {
				_, _ = bw.WriteString(", ")
			}
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			val, err := json.Marshal(v)
			if err != nil {
				return fmt.Errorf("row %d column %s: %w", r, tbl.Columns[i], err)
			}
			_, _ = bw.Write(keys[i])
			_, _ = bw.WriteString(": ")
			_, _ = bw.Write(val)
		}
		_, _ = bw.WriteString("}")
	}
	if len(tbl.Rows) > 0 {
		_, _ = bw.WriteString("\n")
	}
	_, _ = bw.WriteString("]\n")
	return bw.Flush()
}

func formatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return x
	case []byte:
		return string(x)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case time.Time:
		return x.Format(time.RFC3339Nano)
	default:
		return fmt.Sprint(x)
	}
}
