// Package bq wraps the BigQuery REST API with the dataset and table
// operations the backup tools need.
//
// It uses the low level google.golang.org/api/bigquery/v2 types throughout:
// manifests persist the REST representation verbatim, and those types
// round-trip it without loss.
package bq

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/bigquery/v2"
)

const (
	JobStateDone = "DONE"

	pollInitial = 250 * time.Millisecond
	pollMax     = 30 * time.Second
	pollGrowth  = 1.8
)

// Service is the subset of BigQuery the tools call. REST talks to the API;
// bqtest.Fake keeps everything in memory.
type Service interface {
	GetDataset(ctx context.Context, ref *bigquery.DatasetReference) (*bigquery.Dataset, error)
	InsertDataset(ctx context.Context, ds *bigquery.Dataset) (*bigquery.Dataset, error)
	PatchDataset(ctx context.Context, ds *bigquery.Dataset) (*bigquery.Dataset, error)
	DeleteDataset(ctx context.Context, ref *bigquery.DatasetReference, deleteContents bool) error

	ListTables(ctx context.Context, ref *bigquery.DatasetReference) ([]*bigquery.TableReference, error)
	GetTable(ctx context.Context, ref *bigquery.TableReference) (*bigquery.Table, error)
	InsertTable(ctx context.Context, table *bigquery.Table) (*bigquery.Table, error)
	DeleteTable(ctx context.Context, ref *bigquery.TableReference) error

	// RunJob inserts job and blocks until it is DONE. A job that finished
	// with an errorResult is returned along with a *JobError.
	RunJob(ctx context.Context, job *bigquery.Job) (*bigquery.Job, error)
	// QueryRows reads the result rows of a finished query job.
	QueryRows(ctx context.Context, ref *bigquery.JobReference) (*bigquery.TableSchema, []*bigquery.TableRow, error)
}

type REST struct {
	svc *bigquery.Service
	// Project jobs are billed to when the job carries no reference.
	project string
}

func NewREST(svc *bigquery.Service, project string) *REST {
	return &REST{svc: svc, project: project}
}

func (r *REST) GetDataset(ctx context.Context, ref *bigquery.DatasetReference) (*bigquery.Dataset, error) {
	ds, err := r.svc.Datasets.Get(ref.ProjectId, ref.DatasetId).Context(ctx).Do()
	return ds, classify(err)
}

func (r *REST) InsertDataset(ctx context.Context, ds *bigquery.Dataset) (*bigquery.Dataset, error) {
	out, err := r.svc.Datasets.Insert(ds.DatasetReference.ProjectId, ds).Context(ctx).Do()
	return out, classify(err)
}

func (r *REST) PatchDataset(ctx context.Context, ds *bigquery.Dataset) (*bigquery.Dataset, error) {
	ref := ds.DatasetReference
	out, err := r.svc.Datasets.Patch(ref.ProjectId, ref.DatasetId, ds).Context(ctx).Do()
	return out, classify(err)
}

func (r *REST) DeleteDataset(ctx context.Context, ref *bigquery.DatasetReference, deleteContents bool) error {
	return classify(r.svc.Datasets.Delete(ref.ProjectId, ref.DatasetId).DeleteContents(deleteContents).Context(ctx).Do())
}

func (r *REST) ListTables(ctx context.Context, ref *bigquery.DatasetReference) ([]*bigquery.TableReference, error) {
	var refs []*bigquery.TableReference
	err := r.svc.Tables.List(ref.ProjectId, ref.DatasetId).MaxResults(1000).Pages(ctx, func(page *bigquery.TableList) error {
		for _, t := range page.Tables {
			refs = append(refs, t.TableReference)
		}
		return nil
	})
	return refs, classify(err)
}

func (r *REST) GetTable(ctx context.Context, ref *bigquery.TableReference) (*bigquery.Table, error) {
	t, err := r.svc.Tables.Get(ref.ProjectId, ref.DatasetId, ref.TableId).Context(ctx).Do()
	return t, classify(err)
}

func (r *REST) InsertTable(ctx context.Context, table *bigquery.Table) (*bigquery.Table, error) {
	ref := table.TableReference
	t, err := r.svc.Tables.Insert(ref.ProjectId, ref.DatasetId, table).Context(ctx).Do()
	return t, classify(err)
}

func (r *REST) DeleteTable(ctx context.Context, ref *bigquery.TableReference) error {
	return classify(r.svc.Tables.Delete(ref.ProjectId, ref.DatasetId, ref.TableId).Context(ctx).Do())
}

var errJobPending = errors.New("job pending")

func (r *REST) RunJob(ctx context.Context, job *bigquery.Job) (*bigquery.Job, error) {
	project := r.project
	if job.JobReference != nil && job.JobReference.ProjectId != "" {
		project = job.JobReference.ProjectId
	}
	inserted, err := r.svc.Jobs.Insert(project, job).Context(ctx).Do()
	if err != nil {
		return nil, classify(err)
	}
	ref := inserted.JobReference
	current := inserted

	// Polling interval only; a failed Get is not retried.
	poll := backoff.NewExponentialBackOff()
	poll.InitialInterval = pollInitial
	poll.MaxInterval = pollMax
	poll.Multiplier = pollGrowth
	poll.MaxElapsedTime = 0

	err = backoff.Retry(func() error {
		if current.Status != nil && current.Status.State == JobStateDone {
			return nil
		}
		got, err := r.svc.Jobs.Get(ref.ProjectId, ref.JobId).Location(ref.Location).Context(ctx).Do()
		if err != nil {
			return backoff.Permanent(classify(err))
		}
		current = got
		if got.Status == nil || got.Status.State != JobStateDone {
			return errJobPending
		}
		return nil
	}, backoff.WithContext(poll, ctx))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	return current, jobError(current)
}

func (r *REST) QueryRows(ctx context.Context, ref *bigquery.JobReference) (*bigquery.TableSchema, []*bigquery.TableRow, error) {
	var schema *bigquery.TableSchema
	var rows []*bigquery.TableRow
	err := r.svc.Jobs.GetQueryResults(ref.ProjectId, ref.JobId).Location(ref.Location).Pages(ctx, func(resp *bigquery.GetQueryResultsResponse) error {
		if schema == nil {
			schema = resp.Schema
		}
		rows = append(rows, resp.Rows...)
		return nil
	})
	return schema, rows, classify(err)
}

func jobError(job *bigquery.Job) error {
	if job == nil || job.Status == nil || job.Status.ErrorResult == nil {
		return nil
	}
	id := ""
	if job.JobReference != nil {
		id = job.JobReference.JobId
	}
	return &JobError{JobID: id, Reason: job.Status.ErrorResult.Reason, Message: job.Status.ErrorResult.Message}
}
