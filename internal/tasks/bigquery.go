package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"google.golang.org/api/bigquery/v2"

	"github.com/rowjay/wdlkit/internal/bq"
	"github.com/rowjay/wdlkit/internal/compose"
)

const (
	createIfNeeded = "CREATE_IF_NEEDED"
	writeEmpty     = "WRITE_EMPTY"
	defaultRegion  = "US"
)

type CreateTableConfig struct {
	Table *bigquery.Table `json:"table"`
	// Drop deletes an existing table first.
	Drop     bool  `json:"drop"`
	ExistsOk *bool `json:"existsOk"`
}

// CreateTable creates a table and writes it to table.json.
func (r *Runner) CreateTable(ctx context.Context, cfg CreateTableConfig) (*bigquery.Table, error) {
	if cfg.Table == nil || cfg.Table.TableReference == nil {
		return nil, errors.New("create_table: table.tableReference is required")
	}
	ref := cfg.Table.TableReference
	if cfg.Drop {
		if err := ignoreNotFound(r.BQ.DeleteTable(ctx, ref)); err != nil {
			return nil, err
		}
	}
	table, err := r.BQ.InsertTable(ctx, cfg.Table)
	if errors.Is(err, bq.ErrConflict) && boolOr(cfg.ExistsOk, true) {
		table, err = r.BQ.GetTable(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	return table, r.writeJSON("table.json", table)
}

type CopyTableConfig struct {
	Sources           []*bigquery.Table `json:"sources"`
	Destination       *bigquery.Table   `json:"destination"`
	CreateDisposition string            `json:"createDisposition"`
	WriteDisposition  string            `json:"writeDisposition"`
}

// CopyTable copies one or more tables into the destination and writes the
// destination to table.json.
func (r *Runner) CopyTable(ctx context.Context, cfg CopyTableConfig) (*bigquery.Table, error) {
	if len(cfg.Sources) == 0 || cfg.Destination == nil || cfg.Destination.TableReference == nil {
		return nil, errors.New("copy_table: sources and destination are required")
	}
	copyCfg := &bigquery.JobConfigurationTableCopy{
		DestinationTable:  cfg.Destination.TableReference,
		CreateDisposition: stringOr(cfg.CreateDisposition, createIfNeeded),
		WriteDisposition:  stringOr(cfg.WriteDisposition, writeEmpty),
	}
	for _, src := range cfg.Sources {
		copyCfg.SourceTables = append(copyCfg.SourceTables, src.TableReference)
	}
	if _, err := r.BQ.RunJob(ctx, &bigquery.Job{Configuration: &bigquery.JobConfiguration{Copy: copyCfg}}); err != nil {
		return nil, err
	}
	table, err := r.BQ.GetTable(ctx, cfg.Destination.TableReference)
	if err != nil {
		return nil, err
	}
	return table, r.writeJSON("table.json", table)
}

type CreateDatasetConfig struct {
	Dataset *bigquery.Dataset `json:"dataset"`
	// Fields names the attributes patched onto an existing dataset, which
	// is then left in place.
	Fields   []string `json:"fields"`
	Drop     bool     `json:"drop"`
	ExistsOk *bool    `json:"existsOk"`
}

// CreateDataset creates a dataset and writes it to dataset.json. An existing
// dataset is patched when Fields is set, or dropped and recreated with Drop.
func (r *Runner) CreateDataset(ctx context.Context, cfg CreateDatasetConfig) (*bigquery.Dataset, error) {
	if cfg.Dataset == nil || cfg.Dataset.DatasetReference == nil {
		return nil, errors.New("create_dataset: dataset.datasetReference is required")
	}
	ref := cfg.Dataset.DatasetReference
	_, err := r.BQ.GetDataset(ctx, ref)
	switch {
	case errors.Is(err, bq.ErrNotFound):
	case err != nil:
		return nil, err
	case cfg.Fields != nil:
		patch, err := patchFields(cfg.Dataset, cfg.Fields)
		if err != nil {
			return nil, err
		}
		ds, err := r.BQ.PatchDataset(ctx, patch)
		if err != nil {
			return nil, err
		}
		return ds, r.writeJSON("dataset.json", ds)
	case cfg.Drop:
		if err := ignoreNotFound(r.BQ.DeleteDataset(ctx, ref, true)); err != nil {
			return nil, err
		}
	}

	ds, err := r.BQ.InsertDataset(ctx, cfg.Dataset)
	if errors.Is(err, bq.ErrConflict) && boolOr(cfg.ExistsOk, true) {
		ds, err = r.BQ.GetDataset(ctx, ref)
	}
	if err != nil {
		return nil, err
	}
	return ds, r.writeJSON("dataset.json", ds)
}

// patchFields keeps only the named attributes of ds. Names may be given in
// REST (defaultTableExpirationMs) or snake case (default_table_expiration_ms).
func patchFields(ds *bigquery.Dataset, fields []string) (*bigquery.Dataset, error) {
	full, err := bq.ToMap(ds)
	if err != nil {
		return nil, err
	}
	subset := map[string]any{"datasetReference": full["datasetReference"]}
	for _, f := range fields {
		key := camelCase(f)
		if v, ok := full[key]; ok {
			subset[key] = v
		}
	}
	out := &bigquery.Dataset{}
	if err := bq.FromMap(subset, out); err != nil {
		return nil, err
	}
	return out, nil
}

func camelCase(name string) string {
	parts := strings.Split(name, "_")
	for i := 1; i < len(parts); i++ {
		if parts[i] != "" {
			parts[i] = strings.ToUpper(parts[i][:1]) + parts[i][1:]
		}
	}
	return strings.Join(parts, "")
}

type DeleteDatasetConfig struct {
	DatasetRef     *bigquery.DatasetReference `json:"datasetRef"`
	DeleteContents bool                       `json:"deleteContents"`
	NotFoundOk     bool                       `json:"notFoundOk"`
}

func (r *Runner) DeleteDataset(ctx context.Context, cfg DeleteDatasetConfig) error {
	if cfg.DatasetRef == nil {
		return errors.New("delete_dataset: datasetRef is required")
	}
	err := r.BQ.DeleteDataset(ctx, cfg.DatasetRef, cfg.DeleteContents)
	if cfg.NotFoundOk {
		err = ignoreNotFound(err)
	}
	return err
}

type ExtractTableConfig struct {
	SourceTable    *bigquery.Table `json:"sourceTable"`
	DestinationURI string          `json:"destinationUri"`
	FileName       string          `json:"fileName"`
	FileFormat     string          `json:"fileFormat"`
	Location       string          `json:"location"`
}

// ExtractTable exports a table to destinationUri/fileName and writes the
// finished job to job.json.
func (r *Runner) ExtractTable(ctx context.Context, cfg ExtractTableConfig) (*bigquery.Job, error) {
	if cfg.SourceTable == nil || cfg.SourceTable.TableReference == nil {
		return nil, errors.New("extract_table: sourceTable.tableReference is required")
	}
	job, err := r.BQ.RunJob(ctx, &bigquery.Job{
		JobReference: &bigquery.JobReference{Location: cfg.Location},
		Configuration: &bigquery.JobConfiguration{Extract: &bigquery.JobConfigurationExtract{
			SourceTable:       cfg.SourceTable.TableReference,
			DestinationUris:   []string{strings.TrimSuffix(cfg.DestinationURI, "/") + "/" + cfg.FileName},
			DestinationFormat: cfg.FileFormat,
		}},
	})
	if err != nil {
		return nil, err
	}
	return job, r.writeJSON("job.json", job)
}

type LoadTableConfig struct {
	Destination *bigquery.TableReference `json:"destination"`
	SourceFile  string                   `json:"sourceFile"`
	SourceURIs  StringList               `json:"sourceUris"`

	SourceBucket    string `json:"sourceBucket"`
	SourcePrefix    string `json:"sourcePrefix"`
	SourceDelimiter string `json:"sourceDelimiter"`

	SchemaFields []*bigquery.TableFieldSchema `json:"schemaFields"`

	// Format is CSV, NEWLINE_DELIMITED_JSON, AVRO or PARQUET; CSV when empty.
	Format            string  `json:"format"`
	SkipLeadingRows   int64   `json:"skipLeadingRows"`
	FieldDelimiter    string  `json:"fieldDelimiter"`
	QuoteCharacter    *string `json:"quoteCharacter"`
	CreateDisposition string  `json:"createDisposition"`
	WriteDisposition  string  `json:"writeDisposition"`
	Autodetect        *bool   `json:"autodetect"`
	Location          string  `json:"location"`
}

// LoadTable loads object URIs, or everything under sourceBucket/sourcePrefix,
// into the destination. It writes job.json and table.json.
func (r *Runner) LoadTable(ctx context.Context, cfg LoadTableConfig) (*bigquery.Job, error) {
	if cfg.Destination == nil {
		return nil, errors.New("load_table: destination is required")
	}
	uris := cfg.SourceURIs
	switch {
	case len(uris) > 0:
	case cfg.SourceBucket != "" && cfg.SourcePrefix != "":
		var err error
		if uris, err = r.bucketObjects(ctx, cfg.SourceBucket, cfg.SourcePrefix, cfg.SourceDelimiter); err != nil {
			return nil, err
		}
	case cfg.SourceFile != "":
		return nil, fmt.Errorf("load_table: loading local file %s is not supported, upload it first", cfg.SourceFile)
	default:
		return nil, errors.New("load_table: a loading source is required")
	}

	load := &bigquery.JobConfigurationLoad{
		DestinationTable:  cfg.Destination,
		SourceUris:        uris,
		SourceFormat:      strings.ToUpper(stringOr(cfg.Format, bq.FormatCSV)),
		CreateDisposition: stringOr(cfg.CreateDisposition, createIfNeeded),
		WriteDisposition:  stringOr(cfg.WriteDisposition, writeEmpty),
		Autodetect:        boolOr(cfg.Autodetect, false),
	}
	if load.SourceFormat == bq.FormatCSV {
		load.FieldDelimiter = stringOr(cfg.FieldDelimiter, ",")
		quote := `"`
		if cfg.QuoteCharacter != nil {
			quote = *cfg.QuoteCharacter
		}
		load.Quote = &quote
		load.SkipLeadingRows = cfg.SkipLeadingRows
	}
	if cfg.SchemaFields != nil {
		load.Schema = &bigquery.TableSchema{Fields: cfg.SchemaFields}
	}

	job, err := r.BQ.RunJob(ctx, &bigquery.Job{
		JobReference:  &bigquery.JobReference{Location: stringOr(cfg.Location, defaultRegion)},
		Configuration: &bigquery.JobConfiguration{Load: load},
	})
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("table", bq.TableID(cfg.Destination)).Int("sources", len(uris)).Msg("table loaded")
	if err := r.writeJSON("job.json", job); err != nil {
		return nil, err
	}
	table, err := r.BQ.GetTable(ctx, cfg.Destination)
	if err != nil {
		return nil, err
	}
	return job, r.writeJSON("table.json", table)
}

func (r *Runner) bucketObjects(ctx context.Context, bucket, prefix, delimiter string) ([]string, error) {
	store, src, err := r.Objects.Resolve(bucketURI(bucket, prefix))
	if err != nil {
		return nil, err
	}
	names, err := compose.Select(ctx, store, src.Bucket, src.Name, delimiter)
	if err != nil {
		return nil, err
	}
	uris := make([]string, 0, len(names))
	for _, name := range names {
		uris = append(uris, bucketURI(bucket, name))
	}
	return uris, nil
}

// StringList accepts either a single JSON string or an array of strings.
type StringList []string

func (l *StringList) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var one string
	if err := json.Unmarshal(data, &one); err == nil {
		*l = StringList{one}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return fmt.Errorf("expected a string or a list of strings: %w", err)
	}
	*l = many
	return nil
}

// Dependency is a table a query reads, referenced as {key} in its text.
type Dependency struct {
	TableReference *bigquery.TableReference `json:"tableReference"`
}

type QueryConfig struct {
	Query        string                `json:"query"`
	Replacements map[string]string     `json:"replacements"`
	Dependencies map[string]Dependency `json:"dependencies"`
	Destination  *bigquery.Table       `json:"destination"`
	// Format prints the rows as csv, json or html.
	Format string `json:"format"`
	// Drop replaces the destination with a fresh table before the query.
	Drop bool `json:"drop"`

	DefaultDataset                     *bigquery.DatasetReference        `json:"defaultDataset"`
	Labels                             map[string]string                 `json:"labels"`
	SchemaUpdateOptions                []string                          `json:"schemaUpdateOptions"`
	ScriptOptions                      *bigquery.ScriptOptions           `json:"scriptOptions"`
	MaximumBytesBilled                 string                            `json:"maximumBytesBilled"`
	DestinationEncryptionConfiguration *bigquery.EncryptionConfiguration `json:"destinationEncryptionConfiguration"`
	CreateDisposition                  string                            `json:"createDisposition"`
	WriteDisposition                   string                            `json:"writeDisposition"`
	QueryPriority                      string                            `json:"queryPriority"`
	UseQueryCache                      *bool                             `json:"useQueryCache"`
	Delimiter                          string                            `json:"delimiter"`
	Header                             *bool                             `json:"header"`
}

// Text returns the query with replacements and dependencies substituted.
// Unknown {keys} are left alone.
func (c QueryConfig) Text() string {
	text := c.Query
	for key, value := range c.Replacements {
		text = strings.ReplaceAll(text, "{"+key+"}", value)
	}
	for key, dep := range c.Dependencies {
		if dep.TableReference == nil {
			continue
		}
		ref := dep.TableReference
		text = strings.ReplaceAll(text, "{"+key+"}", ref.ProjectId+"."+ref.DatasetId+"."+ref.TableId)
	}
	return text
}

// Query runs a standard SQL query, optionally printing its rows. It writes
// job.json and table.json.
func (r *Runner) Query(ctx context.Context, cfg QueryConfig) (*bigquery.Job, error) {
	useCache := boolOr(cfg.UseQueryCache, true)
	query := &bigquery.JobConfigurationQuery{
		Query:                              cfg.Text(),
		UseLegacySql:                       new(bool),
		UseQueryCache:                      &useCache,
		Priority:                           stringOr(cfg.QueryPriority, "INTERACTIVE"),
		DefaultDataset:                     cfg.DefaultDataset,
		ScriptOptions:                      cfg.ScriptOptions,
		DestinationEncryptionConfiguration: cfg.DestinationEncryptionConfiguration,
		ForceSendFields:                    []string{"UseLegacySql"},
	}
	if cfg.MaximumBytesBilled != "" {
		limit, err := strconv.ParseInt(cfg.MaximumBytesBilled, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("query: maximumBytesBilled: %w", err)
		}
		query.MaximumBytesBilled = limit
	}

	if cfg.Destination != nil && cfg.Destination.TableReference != nil {
		query.DestinationTable = cfg.Destination.TableReference
		query.CreateDisposition = stringOr(cfg.CreateDisposition, createIfNeeded)
		query.WriteDisposition = stringOr(cfg.WriteDisposition, writeEmpty)
		if cfg.Drop {
			if err := r.recreate(ctx, cfg.Destination, query); err != nil {
				return nil, err
			}
			if cfg.WriteDisposition == bq.WriteAppend && len(cfg.SchemaUpdateOptions) > 0 {
				query.SchemaUpdateOptions = cfg.SchemaUpdateOptions
			}
		}
	}

	job, err := r.BQ.RunJob(ctx, &bigquery.Job{
		Configuration: &bigquery.JobConfiguration{Query: query, Labels: cfg.Labels},
	})
	if err != nil {
		return nil, err
	}

	if cfg.Format != "" {
		schema, rows, err := r.BQ.QueryRows(ctx, job.JobReference)
		if err != nil {
			return nil, err
		}
		if err := printRows(r.out(), cfg.Format, schema, rows, stringOr(cfg.Delimiter, ","), boolOr(cfg.Header, true)); err != nil {
			return nil, err
		}
	}

	if err := r.writeJSON("job.json", job); err != nil {
		return nil, err
	}
	var dest *bigquery.TableReference
	if job.Configuration != nil && job.Configuration.Query != nil {
		dest = job.Configuration.Query.DestinationTable
	}
	if dest == nil {
		// Nothing to describe, but downstream steps expect the file.
		return job, os.WriteFile(r.path("table.json"), nil, 0o644)
	}
	table, err := r.BQ.GetTable(ctx, dest)
	if err != nil {
		return nil, err
	}
	return job, r.writeJSON("table.json", table)
}

// recreate drops the destination and, when the query may create it, creates
// it from its definition so its constraints survive. The query then appends.
func (r *Runner) recreate(ctx context.Context, dest *bigquery.Table, query *bigquery.JobConfigurationQuery) error {
	if err := ignoreNotFound(r.BQ.DeleteTable(ctx, dest.TableReference)); err != nil {
		return err
	}
	if query.CreateDisposition != createIfNeeded {
		return nil
	}
	if _, err := r.BQ.InsertTable(ctx, dest); err != nil && !errors.Is(err, bq.ErrConflict) {
		return err
	}
	query.WriteDisposition = bq.WriteAppend
	return nil
}
