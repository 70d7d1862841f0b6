package bq

import (
	"context"
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"
	"google.golang.org/api/bigquery/v2"
)

const (
	FormatAVRO    = "AVRO"
	FormatCSV     = "CSV"
	FormatJSON    = "NEWLINE_DELIMITED_JSON"
	FormatParquet = "PARQUET"

	CompressionGzip = "GZIP"

	// SplitThreshold is the largest table the API exports to a single file.
	SplitThreshold = 1_000_000_000
	// SplitMarker is the wildcard that asks for a multi-file export.
	SplitMarker = "-*"
)

type ExtractOptions struct {
	// DestinationURI is the directory exports are written under.
	DestinationURI string
	Compression    string
	Format         string
	PrintHeader    bool
	// WillMerge is set when split CSV output is recomposed afterwards.
	WillMerge bool
}

// ExtractURI returns the deterministic export location for table:
// {dir}/{project}.{dataset}.{table}[-*].{ext}[.gz].
func ExtractURI(table *bigquery.Table, opts ExtractOptions) string {
	ref := table.TableReference
	var b strings.Builder
	b.WriteString(strings.TrimSuffix(opts.DestinationURI, "/"))
	fmt.Fprintf(&b, "/%s.%s.%s", ref.ProjectId, ref.DatasetId, ref.TableId)
	if NeedsSplit(table) {
		b.WriteString(SplitMarker)
	}
	switch opts.Format {
	case FormatAVRO:
		b.WriteString(".avro")
	case FormatCSV:
		b.WriteString(".csv")
	case FormatJSON:
		b.WriteString(".json")
	case FormatParquet:
		b.WriteString(".parquet")
	}
	if opts.Compression == CompressionGzip {
		b.WriteString(".gz")
	}
	return b.String()
}

func NeedsSplit(table *bigquery.Table) bool {
	return table.NumBytes > SplitThreshold
}

// Extractable reports whether the table holds exportable data. Views and
// schema-less tables are backed up as metadata only.
func Extractable(table *bigquery.Table) bool {
	return table.Type != TypeView && table.Schema != nil && len(table.Schema.Fields) > 0
}

// Extract exports the table and waits for the job. The returned job is nil
// when the table is not extractable.
func (t *Table) Extract(ctx context.Context, opts ExtractOptions) (*bigquery.Job, error) {
	if t.Def.CreationTime == 0 {
		if err := t.Get(ctx); err != nil {
			return nil, err
		}
	}
	if !Extractable(t.Def) {
		return nil, nil
	}

	uri := ExtractURI(t.Def, opts)
	cfg := &bigquery.JobConfigurationExtract{
		SourceTable:       t.Def.TableReference,
		DestinationUris:   []string{uri},
		DestinationFormat: opts.Format,
		Compression:       opts.Compression,
	}
	if opts.Format == FormatCSV {
		header := opts.PrintHeader && !(NeedsSplit(t.Def) && opts.WillMerge)
		cfg.PrintHeader = &header
	}
	if opts.Format == FormatAVRO {
		cfg.UseAvroLogicalTypes = true
	}

	zerolog.Ctx(ctx).Info().
		Str("table", t.FullID()).
		Str("uri", uri).
		Str("size", humanize.Bytes(uint64(t.Def.NumBytes))).
		Msg("extracting")

	job := &bigquery.Job{
		JobReference:  &bigquery.JobReference{ProjectId: t.Def.TableReference.ProjectId, Location: t.Def.Location},
		Configuration: &bigquery.JobConfiguration{Extract: cfg},
	}
	done, err := t.svc.RunJob(ctx, job)
	if err != nil {
		return done, fmt.Errorf("extract %s: %w", t.FullID(), err)
	}
	return done, nil
}

// ExtractDestination returns the first destination URI of an extract job.
func ExtractDestination(job *bigquery.Job) string {
	if job == nil || job.Configuration == nil || job.Configuration.Extract == nil {
		return ""
	}
	ext := job.Configuration.Extract
	if len(ext.DestinationUris) > 0 {
		return ext.DestinationUris[0]
	}
	return ext.DestinationUri
}
