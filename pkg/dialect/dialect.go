// Package dialect describes how each backend spells SQL: identifier quoting,
// relation paths, bind parameters and column type names.
//
// Dialects are pure data. Backends register theirs from init() so the SQL
// renderer and the CLI can look them up by name.
package dialect

import (
	"errors"
	"sort"
	"strconv"
	"strings"
	"sync"
)

// PlaceholderStyle defines how query parameters are formatted.
type PlaceholderStyle int

const (
	// PlaceholderQuestion uses ? for all parameters (DuckDB, SQLite, BigQuery positional).
	PlaceholderQuestion PlaceholderStyle = iota
	// PlaceholderDollar uses $1, $2, etc. for parameters (PostgreSQL).
	PlaceholderDollar
)

// IdentifierConfig defines how identifiers are quoted.
type IdentifierConfig struct {
	Quote    string // Quote character: " or `
	QuoteEnd string // End quote character (usually same as Quote)
	Escape   string // Escape sequence for an embedded quote: "" or \`
}

// TypeNames maps Go value kinds to column types used when creating tables.
type TypeNames struct {
	Integer string
	Float   string
	Text    string
	Boolean string
	Time    string
	Blob    string
}

// Dialect represents a SQL dialect configuration.
type Dialect struct {
	Name        string
	Identifiers IdentifierConfig

	// DefaultSchema is used when a relation name carries no schema.
	DefaultSchema string

	// Placeholder defines how query parameters are formatted.
	Placeholder PlaceholderStyle

	// QuoteWholePath quotes "a.b.c" as a single identifier (BigQuery table
	// paths) instead of quoting each part.
	QuoteWholePath bool

	// Types are the column type names used for uploads.
	Types TypeNames
}

// ErrDialectRequired is returned when a dialect is required but not provided.
var ErrDialectRequired = errors.New("dialect is required")

// QuoteIdentifier quotes a single identifier.
func (d *Dialect) QuoteIdentifier(name string) string {
	q, end := d.Identifiers.Quote, d.Identifiers.QuoteEnd
	if end == "" {
		end = q
	}
	escaped := strings.ReplaceAll(name, end, d.Identifiers.Escape)
	return q + escaped + end
}

// QuotePath quotes a possibly dotted relation path.
func (d *Dialect) QuotePath(path string) string {
	if d.QuoteWholePath {
		return d.QuoteIdentifier(path)
	}
	parts := strings.Split(path, ".")
	for i, p := range parts {
		parts[i] = d.QuoteIdentifier(p)
	}
	return strings.Join(parts, ".")
}

// FormatPlaceholder returns the bind parameter for the 1-based position n.
func (d *Dialect) FormatPlaceholder(n int) string {
	if d.Placeholder == PlaceholderDollar {
		return "$" + strconv.Itoa(n)
	}
	return "?"
}

// SplitPath splits a relation path into schema and name, falling back to
// the dialect's default schema. Three-part paths drop the catalog.
func (d *Dialect) SplitPath(path string) (schema, name string) {
	parts := strings.Split(path, ".")
	switch len(parts) {
	case 1:
		return d.DefaultSchema, parts[0]
	default:
		return parts[len(parts)-2], parts[len(parts)-1]
	}
}

// Dialect registry
var (
	dialectsMu sync.RWMutex
	dialects   = make(map[string]*Dialect)
)

// Register registers a dialect in the global registry.
// Called by backend implementations in their init() functions.
func Register(d *Dialect) {
	dialectsMu.Lock()
	defer dialectsMu.Unlock()
	dialects[strings.ToLower(d.Name)] = d
}

// Get returns a dialect by name.
func Get(name string) (*Dialect, bool) {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	d, ok := dialects[strings.ToLower(name)]
	return d, ok
}

// List returns all registered dialect names (sorted).
func List() []string {
	dialectsMu.RLock()
	defer dialectsMu.RUnlock()
	names := make([]string, 0, len(dialects))
	for name := range dialects {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
