package app

import (
	"context"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/api/bigquery/v2"

	"github.com/rowjay/wdlkit/internal/bq"
	"github.com/rowjay/wdlkit/internal/compose"
	"github.com/rowjay/wdlkit/internal/compress"
	"github.com/rowjay/wdlkit/internal/util"
)

const csvContentType = "text/plain"

// merge composes the parts of a split CSV extract into a single object and
// records it on the entry. Entries that were not split are left alone.
func (a *App) merge(ctx context.Context, entry *TableEntry) error {
	if entry.Job == nil || entry.Job.Configuration.Extract.DestinationFormat != bq.FormatCSV {
		return nil
	}
	uri := bq.ExtractDestination(entry.Job)
	if !strings.Contains(uri, bq.SplitMarker) {
		return nil
	}
	store, u, err := a.Objects.Resolve(uri)
	if err != nil {
		return err
	}
	gzipped := strings.HasSuffix(u.Name, ".gz")
	prefix := util.SplitPrefix(u.Name)
	dst := util.MergedName(prefix, gzipped)

	var header []byte
	if a.Cfg.PrintHeader {
		var table bigquery.Table
		if err := bq.FromMap(entry.Table, &table); err != nil {
			return err
		}
		header = headerLine(table.Schema, "\n")
		// Concatenated gzip members are one valid gzip stream.
		if gzipped {
			if header, err = compress.Bytes(compress.TypeGzip, header); err != nil {
				return err
			}
		}
	}

	listed, err := compose.Select(ctx, store, u.Bucket, prefix, "")
	if err != nil {
		return err
	}
	parts := util.SplitParts(u.Name)
	var srcs []string
	for _, name := range listed {
		if parts.MatchString(name) {
			srcs = append(srcs, name)
		}
	}
	info, err := compose.Compose(ctx, store, u.Bucket, dst, srcs, compose.Options{
		Header:      header,
		ContentType: csvContentType,
	})
	if err != nil {
		return err
	}
	u.Name = info.Name
	entry.Merge = &MergeRecord{DestinationURI: u.String(), Header: len(header) > 0}
	zerolog.Ctx(ctx).Info().Str("source", uri).Str("destination", entry.Merge.DestinationURI).Msg("merged split extract")
	return nil
}

// headerLine joins the top-level column names with commas.
func headerLine(schema *bigquery.TableSchema, terminator string) []byte {
	if schema == nil {
		return nil
	}
	names := make([]string, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		names = append(names, f.Name)
	}
	return []byte(strings.Join(names, ",") + terminator)
}
