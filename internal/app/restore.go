package app

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/api/bigquery/v2"

	"github.com/rowjay/wdlkit/internal/bq"
	"github.com/rowjay/wdlkit/internal/notify"
)

// Restore recreates a backed up dataset, and the tables of it matching the
// filter, under the configured project and dataset.
func (a *App) Restore(ctx context.Context) (*bigquery.DatasetReference, error) {
	start := time.Now()
	ref, tables, err := a.restore(ctx)
	a.notify(notify.Event{
		Type:    "restore",
		Message: "restore " + a.datasetExpr(),
		Project: a.Cfg.QuotaProject,
		Dataset: a.Cfg.DatasetName,
		URI:     a.Cfg.BackupRestoreJSONURI,
		Tables:  tables,
	}, start, err)
	if err != nil {
		return nil, &Error{Op: "restore", Err: err}
	}
	return ref, nil
}

func (a *App) restore(ctx context.Context) (*bigquery.DatasetReference, int, error) {
	project, datasetName, tableExpr, err := bq.ParseDatasetExpr(a.datasetExpr())
	if err != nil {
		return nil, 0, err
	}
	filter, err := CompileFilter(tableExpr)
	if err != nil {
		return nil, 0, err
	}
	guard, err := a.acquire(project, datasetName)
	if err != nil {
		return nil, 0, err
	}
	defer guard.Release()

	ctx = a.logContext(ctx, project, datasetName)
	log := zerolog.Ctx(ctx)
	start := time.Now()

	manifest, err := a.readManifest(ctx, a.Cfg.BackupRestoreJSONURI)
	if err != nil {
		return nil, 0, err
	}
	dataset, err := bq.NewDatasetFromDefinition(a.BQ, manifest.Dataset)
	if err != nil {
		return nil, 0, err
	}
	source := dataset.FullID()
	dataset.Def.DatasetReference = &bigquery.DatasetReference{ProjectId: project, DatasetId: datasetName}
	if a.Cfg.DefaultTableExpiration != nil {
		dataset.Def.DefaultTableExpirationMs = *a.Cfg.DefaultTableExpiration
	}
	if a.Cfg.DefaultPartitionExpiration != nil {
		dataset.Def.DefaultPartitionExpirationMs = *a.Cfg.DefaultPartitionExpiration
	}
	log.Info().Str("source", source).Str("pattern", tableExpr).Msgf("restoring backup%s", describe(a.Cfg.MetadataOnly))

	if err := dataset.Ensure(ctx, a.Cfg.DropDataset); err != nil {
		return nil, 0, err
	}

	type task struct {
		table *bq.Table
		job   *bigquery.Job
	}
	nowMs := time.Now().UnixMilli()
	var tasks []task
	for _, entry := range manifest.Tables {
		table, err := bq.NewTableFromDefinition(a.BQ, entry.Table)
		if err != nil {
			return nil, 0, err
		}
		table.Def.TableReference.ProjectId = project
		table.Def.TableReference.DatasetId = datasetName
		if table.Def.ExpirationTime != 0 && (!a.Cfg.KeepExpiration || table.Def.ExpirationTime < nowMs) {
			table.Def.ExpirationTime = 0
		}
		if !filter.MatchString(table.Def.TableReference.TableId) {
			log.Info().Str("table", table.Def.TableReference.TableId).Str("type", table.Def.Type).Str("pattern", tableExpr).
				Msg("skipping table, it does not match pattern")
			continue
		}
		tasks = append(tasks, task{table: table, job: entry.Job})
	}

	_, err = runPool(a.threads(), tasks, func(t task) (struct{}, error) {
		ctx := zerolog.Ctx(ctx).With().Str("table", t.table.Def.TableReference.TableId).Logger().WithContext(ctx)
		if a.Cfg.MetadataOnly || t.job == nil {
			return struct{}{}, t.table.Create(ctx, a.Cfg.DropTables)
		}
		return struct{}{}, t.table.Load(ctx, t.job, a.Cfg.DropTables)
	})
	if err != nil {
		return nil, len(tasks), err
	}
	log.Info().Dur("elapsed", time.Since(start)).Msgf("restore of dataset complete%s", describe(a.Cfg.MetadataOnly))
	return dataset.Ref(), len(tasks), nil
}
