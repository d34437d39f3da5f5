package commands

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"golang.org/x/term"

	"github.com/leapstack-labs/geomancer/internal/cli/config"
	"github.com/leapstack-labs/geomancer/internal/tableio"
	"github.com/leapstack-labs/geomancer/pkg/table"
)

// resolveFormat turns the auto format into table for terminals and csv
// otherwise.
func resolveFormat(format string, w io.Writer) string {
	if format != "" && format != config.DefaultFormat {
		return format
	}
	if f, ok := w.(*os.File); ok && term.IsTerminal(int(f.Fd())) {
		return tableio.FormatTable
	}
	return tableio.FormatCSV
}

// writeResult writes tbl to path, or to w when path is empty. The format of
// a file defaults to its extension.
func writeResult(w io.Writer, path, format string, tbl *table.Table) (err error) {
	if path == "" {
		return tableio.Write(w, tbl, resolveFormat(format, w))
	}

	if format == "" || format == config.DefaultFormat {
		format = formatFromPath(path)
	}
	f, err := os.Create(path) //nolint:gosec // path is caller supplied
	if err != nil {
		return fmt.Errorf("failed to create output file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}()
	return tableio.Write(f, tbl, format)
}

func formatFromPath(path string) string {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return tableio.FormatJSON
	case ".txt":
		return tableio.FormatTable
	default:
		return tableio.FormatCSV
	}
}
