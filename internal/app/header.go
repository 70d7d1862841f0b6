package app

import (
	"bytes"
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/bigquery/v2"

	"github.com/rowjay/wdlkit/internal/bq"
	"github.com/rowjay/wdlkit/internal/notify"
	"github.com/rowjay/wdlkit/internal/storage"
	"github.com/rowjay/wdlkit/internal/util"
)

// HeaderFiles uploads one CSV holding the comma separated column names of
// each selected table under backupUri, and returns the object URIs.
func (a *App) HeaderFiles(ctx context.Context) ([]string, error) {
	start := time.Now()
	uris, err := a.headerFiles(ctx)
	a.notify(notify.Event{
		Type:    "header_file",
		Message: "header files " + a.datasetExpr(),
		Project: a.Cfg.QuotaProject,
		Dataset: a.Cfg.DatasetName,
		URI:     a.Cfg.BackupURI,
		Tables:  len(uris),
	}, start, err)
	if err != nil {
		return nil, &Error{Op: "header_file", Err: err}
	}
	return uris, nil
}

func (a *App) headerFiles(ctx context.Context) ([]string, error) {
	project, datasetName, tableExpr, err := bq.ParseDatasetExpr(a.datasetExpr())
	if err != nil {
		return nil, err
	}
	filter, err := CompileFilter(tableExpr)
	if err != nil {
		return nil, err
	}
	ctx = a.logContext(ctx, project, datasetName)
	store, base, err := a.Objects.Resolve(a.Cfg.BackupURI)
	if err != nil {
		return nil, err
	}

	refs, err := a.BQ.ListTables(ctx, &bigquery.DatasetReference{ProjectId: project, DatasetId: datasetName})
	if err != nil {
		return nil, err
	}
	var selected []*bigquery.TableReference
	for _, ref := range refs {
		if filter.MatchString(ref.TableId) {
			selected = append(selected, ref)
		}
	}
	return runPool(a.threads(), selected, func(ref *bigquery.TableReference) (string, error) {
		table := bq.NewTable(a.BQ, ref)
		if err := table.Get(ctx); err != nil {
			return "", err
		}
		u := base.Join(util.HeaderFileName(a.Cfg.QuotaProject, ref.DatasetId, ref.TableId))
		body := headerLine(table.Def.Schema, "")
		if _, err := store.Put(ctx, u.Bucket, u.Name, bytes.NewReader(body), storage.PutOptions{ContentType: csvContentType}); err != nil {
			return "", err
		}
		zerolog.Ctx(ctx).Debug().Str("table", ref.TableId).Str("uri", u.String()).Msg("wrote header file")
		return u.String(), nil
	})
}
