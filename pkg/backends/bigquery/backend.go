// Package bigquery provides a Google BigQuery backend. Uploads are loaded
// as newline-delimited JSON into a scratch dataset and expire after a
// configurable time.
package bigquery

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/option"

	"github.com/leapstack-labs/geomancer/pkg/backend"
	"github.com/leapstack-labs/geomancer/pkg/config"
	"github.com/leapstack-labs/geomancer/pkg/dialect"
	"github.com/leapstack-labs/geomancer/pkg/sqlexpr"
	"github.com/leapstack-labs/geomancer/pkg/table"
)

// Backend implements backend.Backend for BigQuery.
type Backend struct {
	wh     warehouse
	opts   config.BigQuery
	logger *slog.Logger

	sleep func(ctx context.Context, d time.Duration) error
	now   func() time.Time
}

// New creates a new BigQuery backend instance.
// If logger is nil, a discard logger is used.
func New(opts config.BigQuery, logger *slog.Logger) *Backend {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Backend{
		opts:   opts,
		logger: logger,
		sleep:  sleepContext,
		now:    time.Now,
	}
}

// Connect creates a BigQuery client from a URL of the form
// bigquery://project?location=EU&credentials_path=/path/key.json.
func (b *Backend) Connect(ctx context.Context, u *url.URL) error {
	project := u.Host
	if project == "" {
		return &backend.InvalidURLError{URL: u.String(), Err: errors.New("missing project")}
	}
	q := u.Query()

	b.logger.Debug("connecting to bigquery",
		slog.String("project", project),
		slog.String("location", q.Get("location")))

	var opts []option.ClientOption
	if path := q.Get("credentials_path"); path != "" {
		opts = append(opts, option.WithCredentialsFile(path))
	}
	wh, err := newClientWarehouse(ctx, project, q.Get("location"), opts...)
	if err != nil {
		return err
	}
	b.wh = wh
	return nil
}

// Kind implements backend.Backend.
func (b *Backend) Kind() backend.Kind { return backend.KindBigQuery }

// Dialect implements backend.Backend.
func (b *Backend) Dialect() *dialect.Dialect { return Dialect }

// Capabilities implements backend.Backend. Geography values cannot be
// reprojected, so metric buffers are unavailable.
func (b *Backend) Capabilities() backend.Capabilities {
	return backend.Capabilities{}
}

// Upload loads tbl into <project>.<dataset>.<uuid>, waits for the load job
// and sets the table expiry.
func (b *Backend) Upload(ctx context.Context, tbl *table.Table) (string, error) {
	if b.wh == nil {
		return "", fmt.Errorf("database connection not established")
	}
	ref := tableRef{
		Project: b.wh.Project(),
		Dataset: b.opts.DatasetID,
		Table:   backend.NewTableName(),
	}
	path := ref.String()

	if err := b.wh.EnsureDataset(ctx, ref.Dataset); err != nil {
		return "", err
	}

	data := tbl.WithRowKey()
	types, rows := backend.InferSchema(Dialect.Types, data)
	schema := make(bigquery.Schema, len(data.Columns))
	for i, name := range data.Columns {
		schema[i] = &bigquery.FieldSchema{Name: name, Type: bigquery.FieldType(types[i])}
	}

	body, err := encodeRows(data.Columns, rows)
	if err != nil {
		return "", err
	}

	job, err := b.wh.Load(ctx, ref, schema, body)
	if err != nil {
		return "", err
	}
	if err := b.wait(ctx, path, job); err != nil {
		return "", err
	}

	if b.opts.Expiry > 0 {
		at := b.now().Add(b.opts.Expiry)
		if err := b.wh.SetExpiry(ctx, ref, at); err != nil {
			return "", fmt.Errorf("failed to set expiry on %s: %w", path, err)
		}
	}

	b.logger.Debug("uploaded rows", slog.String("table", path), slog.Int("rows", len(rows)))
	return path, nil
}

// wait polls job until it finishes, sleeping RetryInterval between polls
// at most MaxRetries times.
func (b *Backend) wait(ctx context.Context, path string, job loadJob) error {
	attempts := 0
	for {
		done, err := job.Poll(ctx)
		attempts++
		if err != nil {
			return fmt.Errorf("load into %s failed: %w", path, err)
		}
		if done {
			return nil
		}
		if attempts > b.opts.MaxRetries {
			return &backend.UploadIncompleteError{Path: path, Attempts: attempts}
		}
		b.logger.Debug("waiting for load job",
			slog.String("table", path),
			slog.Int("attempt", attempts),
			slog.Duration("interval", b.opts.RetryInterval))
		if err := b.sleep(ctx, b.opts.RetryInterval); err != nil {
			return err
		}
	}
}

// encodeRows writes rows as newline-delimited JSON objects.
func encodeRows(columns []string, rows [][]any) (*bytes.Buffer, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	for i, row := range rows {
		obj := make(map[string]any, len(columns))
		for j, name := range columns {
			if row[j] != nil {
				obj[name] = row[j]
			}
		}
		if err := enc.Encode(obj); err != nil {
			return nil, fmt.Errorf("failed to encode row %d: %w", i, err)
		}
	}
	return &buf, nil
}

// Reflect implements backend.Backend. Names may be "table", "dataset.table"
// or "project.dataset.table"; missing parts default to the configured
// dataset and the client project.
func (b *Backend) Reflect(ctx context.Context, name string) (*sqlexpr.Table, error) {
	if b.wh == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	ref, err := b.resolve(name)
	if err != nil {
		return nil, err
	}
	cols, err := b.wh.Columns(ctx, ref)
	if err != nil {
		if errors.Is(err, errTableNotFound) {
			return nil, fmt.Errorf("table %s not found", ref)
		}
		return nil, fmt.Errorf("failed to fetch metadata for %s: %w", ref, err)
	}
	return sqlexpr.NewTable(ref.String(), cols...), nil
}

func (b *Backend) resolve(name string) (tableRef, error) {
	parts := strings.Split(name, ".")
	switch len(parts) {
	case 1:
		return tableRef{Project: b.wh.Project(), Dataset: b.opts.DatasetID, Table: parts[0]}, nil
	case 2:
		return tableRef{Project: b.wh.Project(), Dataset: parts[0], Table: parts[1]}, nil
	case 3:
		return tableRef{Project: parts[0], Dataset: parts[1], Table: parts[2]}, nil
	default:
		return tableRef{}, fmt.Errorf("invalid table name %q", name)
	}
}

// Query implements backend.Backend.
func (b *Backend) Query(ctx context.Context, stmt sqlexpr.Statement) (*table.Table, error) {
	if b.wh == nil {
		return nil, fmt.Errorf("database connection not established")
	}
	query, args, err := sqlexpr.Render(stmt, Dialect)
	if err != nil {
		return nil, fmt.Errorf("failed to render query: %w", err)
	}
	b.logger.Debug("executing query", slog.String("sql", query), slog.Int("params", len(args)))

	cols, rows, err := b.wh.Query(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to execute query: %w", err)
	}
	if len(cols) == 0 {
		cols = stmt.ColumnNames()
	}

	out := table.New(cols...)
	for _, row := range rows {
		for i, v := range row {
			row[i] = backend.NormalizeValue(v)
		}
		out.Rows = append(out.Rows, row)
	}
	return out, nil
}

// CastGeometry implements backend.Backend.
func (b *Backend) CastGeometry(wkt sqlexpr.Expr) sqlexpr.Expr {
	return sqlexpr.Func("ST_GEOGFROMTEXT", wkt)
}

// Distance implements backend.Backend. Geography distances are in metres.
func (b *Backend) Distance(x, y sqlexpr.Expr) sqlexpr.Expr {
	return sqlexpr.Func("ST_DISTANCE", x, y)
}

// Close implements backend.Backend.
func (b *Backend) Close() error {
	if b.wh == nil {
		return nil
	}
	b.logger.Debug("closing bigquery client")
	return b.wh.Close()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// Ensure Backend implements backend.Backend interface
var _ backend.Backend = (*Backend)(nil)
