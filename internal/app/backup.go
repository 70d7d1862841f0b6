package app

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"google.golang.org/api/bigquery/v2"

	"github.com/rowjay/wdlkit/internal/bq"
	"github.com/rowjay/wdlkit/internal/notify"
	"github.com/rowjay/wdlkit/internal/util"
)

type BackupResult struct {
	Dataset   *bigquery.DatasetReference `json:"dataset"`
	BackupURI string                     `json:"backup_uri"`
	Manifest  *Manifest                  `json:"-"`
}

// Backup exports every selected table of the configured dataset and writes
// the manifest describing them.
func (a *App) Backup(ctx context.Context) (*BackupResult, error) {
	start := time.Now()
	res, err := a.backup(ctx)
	event := notify.Event{Type: "backup", Message: "backup " + a.datasetExpr(), Project: a.Cfg.QuotaProject, Dataset: a.Cfg.DatasetName}
	if res != nil {
		event.URI = res.BackupURI
		event.Tables = len(res.Manifest.Tables)
	}
	a.notify(event, start, err)
	if err != nil {
		return nil, &Error{Op: "backup", Err: err}
	}
	return res, nil
}

func (a *App) backup(ctx context.Context) (*BackupResult, error) {
	project, datasetName, tableExpr, err := bq.ParseDatasetExpr(a.datasetExpr())
	if err != nil {
		return nil, err
	}
	filter, err := CompileFilter(tableExpr)
	if err != nil {
		return nil, err
	}
	guard, err := a.acquire(project, datasetName)
	if err != nil {
		return nil, err
	}
	defer guard.Release()

	ctx = a.logContext(ctx, project, datasetName)
	log := zerolog.Ctx(ctx)

	dataset := bq.NewDataset(a.BQ, &bigquery.DatasetReference{ProjectId: project, DatasetId: datasetName})
	if err := dataset.Get(ctx); err != nil {
		return nil, err
	}
	start := time.Now()

	refs, err := a.BQ.ListTables(ctx, dataset.Ref())
	if err != nil {
		return nil, err
	}
	var selected []*bigquery.TableReference
	for _, ref := range refs {
		if !filter.MatchString(ref.TableId) {
			log.Info().Str("table", ref.TableId).Str("pattern", tableExpr).Msg("skipping table, it does not match pattern")
			continue
		}
		selected = append(selected, ref)
	}

	dir, manifestURI := BackupLocation(a.Cfg.BackupURI, project, datasetName)
	log.Info().Int("tables", len(selected)).Str("uri", dir).Msgf("backing up dataset%s", describe(a.Cfg.MetadataOnly))

	opts := bq.ExtractOptions{
		DestinationURI: dir,
		Compression:    a.Cfg.Compression,
		Format:         a.Cfg.DestinationFormat,
		PrintHeader:    a.Cfg.PrintHeader,
		WillMerge:      a.Cfg.MergeCSV,
	}
	entries, err := runPool(a.threads(), selected, func(ref *bigquery.TableReference) (TableEntry, error) {
		return a.backupTable(ctx, ref, opts)
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].TableID() < entries[j].TableID() })

	if a.Cfg.MergeCSV && !a.Cfg.MetadataOnly {
		for i := range entries {
			if err := a.merge(ctx, &entries[i]); err != nil {
				return nil, err
			}
		}
	}

	def, err := dataset.Definition()
	if err != nil {
		return nil, err
	}
	finish := time.Now()
	manifest := &Manifest{
		Dataset:        bq.Scrub(def),
		Tables:         entries,
		StartDate:      isoSeconds(start),
		FinishDate:     isoSeconds(finish),
		SecondsElapsed: int64(finish.Sub(start).Seconds()),
	}
	if err := a.summarize(ctx, manifest); err != nil {
		return nil, err
	}
	if _, err := a.writeManifest(ctx, manifestURI, manifest); err != nil {
		return nil, err
	}
	log.Info().Str("uri", manifestURI).Msgf("backup complete%s", describe(a.Cfg.MetadataOnly))
	return &BackupResult{Dataset: dataset.Ref(), BackupURI: manifestURI, Manifest: manifest}, nil
}

func (a *App) backupTable(ctx context.Context, ref *bigquery.TableReference, opts bq.ExtractOptions) (TableEntry, error) {
	ctx = zerolog.Ctx(ctx).With().Str("table", ref.TableId).Logger().WithContext(ctx)
	table := bq.NewTable(a.BQ, ref)
	var job *bigquery.Job
	if a.Cfg.MetadataOnly {
		if err := table.Get(ctx); err != nil {
			return TableEntry{}, err
		}
	} else {
		var err error
		if job, err = table.Extract(ctx, opts); err != nil {
			return TableEntry{}, err
		}
		if job == nil {
			zerolog.Ctx(ctx).Info().Str("type", table.Def.Type).Msg("no data to extract, saving metadata only")
		}
	}
	def, err := table.Definition()
	if err != nil {
		return TableEntry{}, err
	}
	return TableEntry{Table: bq.Scrub(def), Job: job}, nil
}

// summarize fills in the byte totals. Table and object bytes are both
// counted over the tables that were extracted, so the ratio compares like
// with like.
func (a *App) summarize(ctx context.Context, m *Manifest) error {
	if a.Cfg.MetadataOnly {
		for _, e := range m.Tables {
			m.TableBytes += e.NumBytes()
		}
		return nil
	}

	var stored int64
	for _, e := range m.Tables {
		if e.Job == nil {
			continue
		}
		m.TableBytes += e.NumBytes()
		n, err := a.objectBytes(ctx, bq.ExtractDestination(e.Job))
		if err != nil {
			return err
		}
		stored += n
	}
	m.GCSBytes = &stored
	if m.TableBytes > 0 && stored > 0 {
		ratio := math.Round(float64(m.TableBytes)/float64(stored)*100) / 100
		m.CompressionRatio = &ratio
	}
	zerolog.Ctx(ctx).Info().
		Str("table_bytes", humanize.Bytes(uint64(m.TableBytes))).
		Str("stored_bytes", humanize.Bytes(uint64(stored))).
		Msg("backup size")
	return nil
}

// objectBytes sums the size of every object an extract wrote to uri.
func (a *App) objectBytes(ctx context.Context, uri string) (int64, error) {
	store, u, err := a.Objects.Resolve(uri)
	if err != nil {
		return 0, err
	}
	infos, err := store.List(ctx, u.Bucket, util.SplitPrefix(u.Name), "")
	if err != nil {
		return 0, err
	}
	parts := util.SplitParts(u.Name)
	var n int64
	for _, info := range infos {
		if parts.MatchString(info.Name) {
			n += info.Size
		}
	}
	return n, nil
}
