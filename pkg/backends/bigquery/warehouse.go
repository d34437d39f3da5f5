package bigquery

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"time"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
)

// tableRef addresses a BigQuery table.
type tableRef struct {
	Project string
	Dataset string
	Table   string
}

func (r tableRef) String() string {
	return r.Project + "." + r.Dataset + "." + r.Table
}

// loadJob is a running load job.
type loadJob interface {
	// Poll refreshes the job status. A finished job that failed returns
	// done=true and its error.
	Poll(ctx context.Context) (done bool, err error)
}

// warehouse is the subset of the BigQuery API the backend needs.
type warehouse interface {
	Project() string
	EnsureDataset(ctx context.Context, dataset string) error
	Load(ctx context.Context, ref tableRef, schema bigquery.Schema, r io.Reader) (loadJob, error)
	SetExpiry(ctx context.Context, ref tableRef, at time.Time) error
	Columns(ctx context.Context, ref tableRef) ([]string, error)
	Query(ctx context.Context, sql string, args []any) ([]string, [][]any, error)
	Close() error
}

// errTableNotFound is returned by warehouse.Columns for a missing table.
var errTableNotFound = errors.New("table not found")

// clientWarehouse implements warehouse with the BigQuery client.
type clientWarehouse struct {
	client *bigquery.Client
}

func newClientWarehouse(ctx context.Context, project, location string, opts ...option.ClientOption) (*clientWarehouse, error) {
	client, err := bigquery.NewClient(ctx, project, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create bigquery client: %w", err)
	}
	client.Location = location
	return &clientWarehouse{client: client}, nil
}

func (w *clientWarehouse) Project() string { return w.client.Project() }

// EnsureDataset creates the dataset, fetching it instead when it already
// exists.
func (w *clientWarehouse) EnsureDataset(ctx context.Context, dataset string) error {
	ds := w.client.Dataset(dataset)
	err := ds.Create(ctx, &bigquery.DatasetMetadata{Location: w.client.Location})
	if err == nil {
		return nil
	}
	if !isStatus(err, http.StatusConflict) {
		return fmt.Errorf("failed to create dataset %s: %w", dataset, err)
	}
	if _, err := ds.Metadata(ctx); err != nil {
		return fmt.Errorf("failed to fetch dataset %s: %w", dataset, err)
	}
	return nil
}

func (w *clientWarehouse) table(ref tableRef) *bigquery.Table {
	return w.client.DatasetInProject(ref.Project, ref.Dataset).Table(ref.Table)
}

func (w *clientWarehouse) Load(ctx context.Context, ref tableRef, schema bigquery.Schema, r io.Reader) (loadJob, error) {
	src := bigquery.NewReaderSource(r)
	src.SourceFormat = bigquery.JSON
	src.Schema = schema

	loader := w.table(ref).LoaderFrom(src)
	loader.WriteDisposition = bigquery.WriteTruncate

	job, err := loader.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to start load job: %w", err)
	}
	return &clientJob{job: job}, nil
}

func (w *clientWarehouse) SetExpiry(ctx context.Context, ref tableRef, at time.Time) error {
	_, err := w.table(ref).Update(ctx, bigquery.TableMetadataToUpdate{ExpirationTime: at}, "")
	return err
}

func (w *clientWarehouse) Columns(ctx context.Context, ref tableRef) ([]string, error) {
	md, err := w.table(ref).Metadata(ctx)
	if err != nil {
		if isStatus(err, http.StatusNotFound) {
			return nil, errTableNotFound
		}
		return nil, err
	}
	cols := make([]string, len(md.Schema))
	for i, f := range md.Schema {
		cols[i] = f.Name
	}
	return cols, nil
}

func (w *clientWarehouse) Query(ctx context.Context, sql string, args []any) ([]string, [][]any, error) {
	q := w.client.Query(sql)
	for _, a := range args {
		q.Parameters = append(q.Parameters, bigquery.QueryParameter{Value: a})
	}

	it, err := q.Read(ctx)
	if err != nil {
		return nil, nil, err
	}

	var rows [][]any
	for {
		var row []bigquery.Value
		err := it.Next(&row)
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		out := make([]any, len(row))
		for i, v := range row {
			out[i] = normalizeValue(v)
		}
		rows = append(rows, out)
	}

	cols := make([]string, len(it.Schema))
	for i, f := range it.Schema {
		cols[i] = f.Name
	}
	return cols, rows, nil
}

func (w *clientWarehouse) Close() error { return w.client.Close() }

type clientJob struct {
	job *bigquery.Job
}

func (j *clientJob) Poll(ctx context.Context) (bool, error) {
	status, err := j.job.Status(ctx)
	if err != nil {
		return false, fmt.Errorf("failed to fetch job status: %w", err)
	}
	if !status.Done() {
		return false, nil
	}
	return true, status.Err()
}

func isStatus(err error, code int) bool {
	var gerr *googleapi.Error
	return errors.As(err, &gerr) && gerr.Code == code
}

// normalizeValue maps BigQuery values onto the row table value set.
func normalizeValue(v bigquery.Value) any {
	switch x := v.(type) {
	case *big.Rat:
		f, _ := x.Float64()
		return f
	case time.Time:
		return x
	case fmt.Stringer:
		// civil.Date, civil.Time and civil.DateTime
		return x.String()
	default:
		return v
	}
}
