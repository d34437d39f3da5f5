// Package tableio reads row tables from CSV, Parquet and JSON files and
// writes them as CSV, JSON or a rendered text table.
package tableio

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/parquet-go/parquet-go"

	"github.com/leapstack-labs/geomancer/pkg/backend"
	"github.com/leapstack-labs/geomancer/pkg/table"
)

// ReadFile reads a table from path, choosing the format from its extension:
// .csv, .parquet, .json or .ndjson/.jsonl.
func ReadFile(path string) (*table.Table, error) {
	ext := strings.ToLower(filepath.Ext(path))
	if ext == ".parquet" {
		return ReadParquet(path)
	}

	f, err := os.Open(path) //nolint:gosec // path is caller supplied
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = f.Close() }()

	switch ext {
	case ".csv":
		return ReadCSV(f)
	case ".json":
		return ReadJSON(f)
	case ".ndjson", ".jsonl":
		return ReadNDJSON(f)
	default:
		return nil, fmt.Errorf("unsupported input format %q", ext)
	}
}

// ReadCSV reads a CSV document with a header row. Empty cells are nil and
// cells that parse as integers or floats become int64 or float64.
func ReadCSV(r io.Reader) (*table.Table, error) {
	cr := csv.NewReader(r)
	header, err := cr.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, errors.New("CSV input has no header row")
		}
		return nil, fmt.Errorf("failed to read CSV header: %w", err)
	}

	out := table.New(header...)
	for line := 2; ; line++ {
		record, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read CSV line %d: %w", line, err)
		}
		row := make([]any, len(record))
		for i, cell := range record {
			row[i] = parseCell(cell)
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

func parseCell(s string) any {
	if s == "" {
		return nil
	}
	if i, err := strconv.ParseInt(s, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	return s
}

// ReadParquet reads every row of a Parquet file. Columns follow the file
// schema.
func ReadParquet(path string) (*table.Table, error) {
	file, err := os.Open(path) //nolint:gosec // path is caller supplied
	if err != nil {
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	stat, err := file.Stat()
	if err != nil {
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	pqFile, err := parquet.OpenFile(file, stat.Size())
	if err != nil {
		return nil, fmt.Errorf("failed to open parquet file: %w", err)
	}

	fields := pqFile.Schema().Fields()
	columns := make([]string, len(fields))
	for i, f := range fields {
		columns[i] = f.Name()
	}

	reader := parquet.NewReader(pqFile)
	defer func() { _ = reader.Close() }()

	out := table.New(columns...)
	for {
		record := make(map[string]any)
		if err := reader.Read(&record); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to read row: %w", err)
		}
		row := make([]any, len(columns))
		for i, col := range columns {
			row[i] = backend.NormalizeValue(record[col])
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// ReadJSON reads a JSON array of objects. Columns are ordered by first
// appearance; keys missing from an object are nil.
func ReadJSON(r io.Reader) (*table.Table, error) {
	var raw []json.RawMessage
	if err := json.NewDecoder(r).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to parse JSON records: %w", err)
	}
	return fromRawRecords(raw)
}

// ReadNDJSON reads newline-delimited JSON objects.
func ReadNDJSON(r io.Reader) (*table.Table, error) {
	dec := json.NewDecoder(r)
	var raw []json.RawMessage
	for {
		var msg json.RawMessage
		if err := dec.Decode(&msg); err != nil {
			if errors.Is(err, io.EOF) {
				break
			}
			return nil, fmt.Errorf("failed to parse JSON record %d: %w", len(raw), err)
		}
		raw = append(raw, msg)
	}
	return fromRawRecords(raw)
}

func fromRawRecords(raw []json.RawMessage) (*table.Table, error) {
	var columns []string
	seen := make(map[string]bool)
	records := make([]map[string]any, len(raw))

	for i, msg := range raw {
		keys, err := objectKeys(msg)
		if err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		for _, k := range keys {
			if !seen[k] {
				seen[k] = true
				columns = append(columns, k)
			}
		}

		dec := json.NewDecoder(bytes.NewReader(msg))
		dec.UseNumber()
		var rec map[string]any
		if err := dec.Decode(&rec); err != nil {
			return nil, fmt.Errorf("record %d: %w", i, err)
		}
		for k, v := range rec {
			if n, ok := v.(json.Number); ok {
				rec[k] = numberValue(n)
			}
		}
		records[i] = rec
	}
	return table.FromRecords(columns, records), nil
}

// objectKeys returns the keys of a JSON object in document order.
func objectKeys(msg json.RawMessage) ([]string, error) {
	dec := json.NewDecoder(bytes.NewReader(msg))
	tok, err := dec.Token()
	if err != nil {
		return nil, err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return nil, errors.New("expected a JSON object")
	}

	var keys []string
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return nil, err
		}
		key, ok := tok.(string)
		if !ok {
			return nil, fmt.Errorf("unexpected token %v", tok)
		}
		keys = append(keys, key)

		var skip json.RawMessage
		if err := dec.Decode(&skip); err != nil {
			return nil, err
		}
	}
	return keys, nil
}

func numberValue(n json.Number) any {
	if i, err := n.Int64(); err == nil {
		return i
	}
	if f, err := n.Float64(); err == nil {
		return f
	}
	return n.String()
}
