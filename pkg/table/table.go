// Package table provides the in-memory row table that flows in and out of
// every geomancer operation.
//
// A Table is a list of named, ordered columns and a slice of rows. Values
// are plain Go values (nil, int64, float64, string, bool, time.Time, []byte)
// as returned by database/sql drivers.
package table

import (
	"fmt"
	"slices"
)

// RowKey is the synthetic row key column materialized on upload and used to
// join feature results back onto the caller's rows.
const RowKey = "__index_level_0__"

// Table is an ordered set of named columns and their rows.
type Table struct {
	Columns []string
	Rows    [][]any
}

// New creates a table with the given columns and no rows.
func New(columns ...string) *Table {
	return &Table{Columns: slices.Clone(columns)}
}

// FromRecords builds a table from records, using columns for the order.
// Keys missing from a record are nil.
func FromRecords(columns []string, records []map[string]any) *Table {
	t := New(columns...)
	for _, rec := range records {
		row := make([]any, len(columns))
		for i, col := range columns {
			row[i] = rec[col]
		}
		t.Rows = append(t.Rows, row)
	}
	return t
}

// Append adds a row. The number of values must match the number of columns.
func (t *Table) Append(values ...any) error {
	if len(values) != len(t.Columns) {
		return fmt.Errorf("row has %d values, table has %d columns", len(values), len(t.Columns))
	}
	t.Rows = append(t.Rows, values)
	return nil
}

// Len returns the number of rows.
func (t *Table) Len() int {
	return len(t.Rows)
}

// Index returns the position of the named column, or -1.
func (t *Table) Index(name string) int {
	return slices.Index(t.Columns, name)
}

// HasColumn reports whether the table has the named column.
func (t *Table) HasColumn(name string) bool {
	return t.Index(name) >= 0
}

// Column returns all values of the named column.
func (t *Table) Column(name string) ([]any, error) {
	idx := t.Index(name)
	if idx < 0 {
		return nil, fmt.Errorf("column %q not found", name)
	}
	values := make([]any, len(t.Rows))
	for i, row := range t.Rows {
		values[i] = row[idx]
	}
	return values, nil
}

// Select returns a new table holding only the named columns, in that order.
func (t *Table) Select(names ...string) (*Table, error) {
	idx := make([]int, len(names))
	for i, name := range names {
		idx[i] = t.Index(name)
		if idx[i] < 0 {
			return nil, fmt.Errorf("column %q not found", name)
		}
	}
	out := New(names...)
	out.Rows = make([][]any, len(t.Rows))
	for r, row := range t.Rows {
		projected := make([]any, len(idx))
		for i, j := range idx {
			projected[i] = row[j]
		}
		out.Rows[r] = projected
	}
	return out, nil
}

// Drop returns a new table without the named columns. Unknown names are ignored.
func (t *Table) Drop(names ...string) *Table {
	keep := make([]string, 0, len(t.Columns))
	for _, col := range t.Columns {
		if !slices.Contains(names, col) {
			keep = append(keep, col)
		}
	}
	out, _ := t.Select(keep...)
	return out
}

// Clone returns a deep copy of the column list and row slices.
func (t *Table) Clone() *Table {
	out := New(t.Columns...)
	out.Rows = make([][]any, len(t.Rows))
	for i, row := range t.Rows {
		out.Rows[i] = slices.Clone(row)
	}
	return out
}

// WithRowKey returns a copy of the table with RowKey prepended. Keys are the
// row positions 0..n-1. If the table already carries RowKey it is returned
// as a copy unchanged.
func (t *Table) WithRowKey() *Table {
	if t.HasColumn(RowKey) {
		return t.Clone()
	}
	out := New(append([]string{RowKey}, t.Columns...)...)
	out.Rows = make([][]any, len(t.Rows))
	for i, row := range t.Rows {
		keyed := make([]any, 0, len(row)+1)
		keyed = append(keyed, int64(i))
		keyed = append(keyed, row...)
		out.Rows[i] = keyed
	}
	return out
}

// LeftJoin returns every row of t extended with the non-key columns of
// right, matched on key. Rows without a match get nil values. Key values are
// compared after integer normalization so int32/int64/float keys coming from
// different drivers still match.
func (t *Table) LeftJoin(right *Table, key string) (*Table, error) {
	leftIdx := t.Index(key)
	if leftIdx < 0 {
		return nil, fmt.Errorf("left table has no column %q", key)
	}
	rightIdx := right.Index(key)
	if rightIdx < 0 {
		return nil, fmt.Errorf("right table has no column %q", key)
	}

	var extra []int
	columns := slices.Clone(t.Columns)
	for i, col := range right.Columns {
		if i == rightIdx {
			continue
		}
		if t.HasColumn(col) {
			return nil, fmt.Errorf("column %q exists in both tables", col)
		}
		extra = append(extra, i)
		columns = append(columns, col)
	}

	lookup := make(map[any][]any, len(right.Rows))
	for _, row := range right.Rows {
		lookup[normalizeKey(row[rightIdx])] = row
	}

	out := New(columns...)
	out.Rows = make([][]any, len(t.Rows))
	for i, row := range t.Rows {
		joined := make([]any, 0, len(columns))
		joined = append(joined, row...)
		match, ok := lookup[normalizeKey(row[leftIdx])]
		for _, j := range extra {
			if ok {
				joined = append(joined, match[j])
			} else {
				joined = append(joined, nil)
			}
		}
		out.Rows[i] = joined
	}
	return out, nil
}

func normalizeKey(v any) any {
	switch k := v.(type) {
	case int:
		return int64(k)
	case int32:
		return int64(k)
	case uint32:
		return int64(k)
	case uint64:
		return int64(k)
	case float64:
		if k == float64(int64(k)) {
			return int64(k)
		}
	case []byte:
		return string(k)
	}
	return v
}
