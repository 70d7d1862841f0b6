package bq

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"google.golang.org/api/bigquery/v2"
)

const (
	TypeDatetime = "DATETIME"

	WriteAppend   = "WRITE_APPEND"
	WriteTruncate = "WRITE_TRUNCATE"
)

// needsStaging reports whether loading format into schema loses the
// DATETIME type. AVRO carries DATETIME as a plain string.
func needsStaging(format string, schema *bigquery.TableSchema) bool {
	if format != FormatAVRO || schema == nil {
		return false
	}
	for _, f := range schema.Fields {
		if f.Type == TypeDatetime {
			return true
		}
	}
	return false
}

// StagingRef returns a uniquely named sibling of ref.
func StagingRef(ref *bigquery.TableReference) *bigquery.TableReference {
	suffix := strings.ReplaceAll(uuid.NewString(), "-", "")[:6]
	return &bigquery.TableReference{
		ProjectId: ref.ProjectId,
		DatasetId: ref.DatasetId,
		TableId:   ref.TableId + "_" + suffix,
	}
}

// CastQuery selects every column of src, casting DATETIME fields of schema
// back from their staged string form.
func CastQuery(schema *bigquery.TableSchema, src *bigquery.TableReference) string {
	cols := make([]string, 0, len(schema.Fields))
	for _, f := range schema.Fields {
		if f.Type == TypeDatetime {
			cols = append(cols, fmt.Sprintf("CAST(%s AS DATETIME) AS %s", f.Name, f.Name))
			continue
		}
		cols = append(cols, f.Name)
	}
	return fmt.Sprintf("SELECT %s FROM `%s.%s`.%s", strings.Join(cols, ","), src.ProjectId, src.DatasetId, src.TableId)
}

// Load creates the table (honoring drop) and fills it from the files of a
// prior extract job. Data is always appended: truncating after create drops
// the table's constraints.
func (t *Table) Load(ctx context.Context, extract *bigquery.Job, drop bool) error {
	if extract == nil || extract.Configuration == nil || extract.Configuration.Extract == nil {
		return errors.New("load requires an extract job record")
	}
	ext := extract.Configuration.Extract
	if err := t.Create(ctx, drop); err != nil {
		return err
	}

	log := zerolog.Ctx(ctx)
	target := t.Def.TableReference
	staged := needsStaging(ext.DestinationFormat, t.Def.Schema)
	if staged {
		target = StagingRef(t.Def.TableReference)
		log.Debug().Str("table", t.FullID()).Str("staging", TableID(target)).Msg("staging load")
	}

	uris := ext.DestinationUris
	if len(uris) == 0 && ext.DestinationUri != "" {
		uris = []string{ext.DestinationUri}
	}
	load := &bigquery.JobConfigurationLoad{
		SourceUris:          uris,
		SourceFormat:        ext.DestinationFormat,
		DestinationTable:    target,
		UseAvroLogicalTypes: ext.UseAvroLogicalTypes,
		WriteDisposition:    WriteAppend,
	}
	if ext.DestinationFormat == FormatCSV && ext.PrintHeader != nil && *ext.PrintHeader {
		load.SkipLeadingRows = 1
	}
	job := &bigquery.Job{
		JobReference:  &bigquery.JobReference{ProjectId: target.ProjectId, Location: t.Def.Location},
		Configuration: &bigquery.JobConfiguration{Load: load},
	}
	if _, err := t.svc.RunJob(ctx, job); err != nil {
		return fmt.Errorf("load %s: %w", TableID(target), err)
	}

	if staged {
		if err := t.castFrom(ctx, target); err != nil {
			return err
		}
		log.Debug().Str("staging", TableID(target)).Msg("deleting staging table")
		if err := t.svc.DeleteTable(ctx, target); err != nil {
			return fmt.Errorf("delete staging table %s: %w", TableID(target), err)
		}
	}
	log.Info().Str("table", t.FullID()).Msg("loaded table")
	return nil
}

func (t *Table) castFrom(ctx context.Context, staging *bigquery.TableReference) error {
	query := CastQuery(t.Def.Schema, staging)
	zerolog.Ctx(ctx).Debug().Str("table", t.FullID()).Str("query", query).Msg("casting staged columns")
	legacy, cache := false, false
	job := &bigquery.Job{
		JobReference: &bigquery.JobReference{ProjectId: t.Def.TableReference.ProjectId, Location: t.Def.Location},
		Configuration: &bigquery.JobConfiguration{Query: &bigquery.JobConfigurationQuery{
			Query:            query,
			DestinationTable: t.Def.TableReference,
			UseLegacySql:     &legacy,
			UseQueryCache:    &cache,
			WriteDisposition: WriteAppend,
			ForceSendFields:  []string{"UseLegacySql", "UseQueryCache"},
		}},
	}
	if _, err := t.svc.RunJob(ctx, job); err != nil {
		return fmt.Errorf("cast %s into %s: %w", TableID(staging), t.FullID(), err)
	}
	return nil
}
