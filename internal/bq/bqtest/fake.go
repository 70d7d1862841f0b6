// Package bqtest provides an in-memory bq.Service.
//
// Extract jobs write real objects into a storage.Store and load jobs read
// them back, so a backup and a restore can be exercised end to end. CSV is
// written as CSV; every other format is a JSON document holding the schema
// and rows, with AVRO exports downgrading DATETIME columns to STRING the
// way the real format does.
package bqtest

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"google.golang.org/api/bigquery/v2"

	"github.com/rowjay/wdlkit/internal/bq"
	"github.com/rowjay/wdlkit/internal/compress"
	"github.com/rowjay/wdlkit/internal/storage"
)

type table struct {
	def  *bigquery.Table
	rows [][]any
}

type result struct {
	schema *bigquery.TableSchema
	rows   [][]any
}

type Fake struct {
	Objects storage.Store
	// Latency is how long every job takes to run.
	Latency time.Duration

	mu       sync.Mutex
	datasets map[string]*bigquery.Dataset
	tables   map[string]*table
	results  map[string]result
	failures map[string]error
	seq      int
	inflight int

	MaxInFlight int
	Jobs        []*bigquery.Job
}

func NewFake(objects storage.Store) *Fake {
	return &Fake{
		Objects:  objects,
		datasets: map[string]*bigquery.Dataset{},
		tables:   map[string]*table{},
		results:  map[string]result{},
		failures: map[string]error{},
	}
}

func datasetKey(project, dataset string) string { return project + ":" + dataset }

func tableKey(ref *bigquery.TableReference) string { return bq.TableID(ref) }

func clone[T any](v *T) *T {
	if v == nil {
		return nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		panic(err)
	}
	out := new(T)
	if err := json.Unmarshal(data, out); err != nil {
		panic(err)
	}
	return out
}

func cloneRows(rows [][]any) [][]any {
	out := make([][]any, len(rows))
	for i, r := range rows {
		out[i] = append([]any(nil), r...)
	}
	return out
}

// AddDataset seeds a dataset with server-assigned fields filled in.
func (f *Fake) AddDataset(ds *bigquery.Dataset) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.storeDataset(ds)
}

func (f *Fake) storeDataset(ds *bigquery.Dataset) *bigquery.Dataset {
	c := clone(ds)
	ref := c.DatasetReference
	c.Id = datasetKey(ref.ProjectId, ref.DatasetId)
	c.Etag = fmt.Sprintf("etag-%d", time.Now().UnixNano())
	c.SelfLink = "https://bigquery.googleapis.com/bigquery/v2/projects/" + ref.ProjectId + "/datasets/" + ref.DatasetId
	c.CreationTime = time.Now().UnixMilli()
	c.NullFields = nil
	c.ForceSendFields = nil
	f.datasets[c.Id] = c
	return clone(c)
}

// AddTable seeds a table and its rows. NumBytes is derived from the rows
// unless set.
func (f *Fake) AddTable(def *bigquery.Table, rows [][]any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := f.storeTable(def)
	t.rows = cloneRows(rows)
	f.refreshStats(t, def.NumBytes)
}

func (f *Fake) storeTable(def *bigquery.Table) *table {
	c := clone(def)
	if c.Type == "" {
		c.Type = "TABLE"
	}
	c.Id = tableKey(c.TableReference)
	c.Etag = fmt.Sprintf("etag-%d", time.Now().UnixNano())
	c.SelfLink = "https://bigquery.googleapis.com/bigquery/v2/" + c.Id
	c.CreationTime = time.Now().UnixMilli()
	t := &table{def: c}
	f.tables[c.Id] = t
	return t
}

func (f *Fake) refreshStats(t *table, fixedBytes int64) {
	t.def.NumRows = uint64(len(t.rows))
	if fixedBytes > 0 {
		t.def.NumBytes = fixedBytes
		return
	}
	var n int64
	for _, r := range t.rows {
		for _, v := range r {
			n += int64(len(fmt.Sprint(v)))
		}
	}
	t.def.NumBytes = n
}

// FailJob makes every job touching the table fail.
func (f *Fake) FailJob(tableID string, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[tableID] = err
}

// Rows returns the rows of a table.
func (f *Fake) Rows(ref *bigquery.TableReference) ([][]any, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableKey(ref)]
	if !ok {
		return nil, false
	}
	return cloneRows(t.rows), true
}

// TableIDs lists the tables of a dataset, sorted.
func (f *Fake) TableIDs(project, dataset string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var ids []string
	for _, t := range f.tables {
		ref := t.def.TableReference
		if ref.ProjectId == project && ref.DatasetId == dataset {
			ids = append(ids, ref.TableId)
		}
	}
	sort.Strings(ids)
	return ids
}

func (f *Fake) GetDataset(ctx context.Context, ref *bigquery.DatasetReference) (*bigquery.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ds, ok := f.datasets[datasetKey(ref.ProjectId, ref.DatasetId)]
	if !ok {
		return nil, fmt.Errorf("dataset %s:%s: %w", ref.ProjectId, ref.DatasetId, bq.ErrNotFound)
	}
	return clone(ds), nil
}

func (f *Fake) InsertDataset(ctx context.Context, ds *bigquery.Dataset) (*bigquery.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := ds.DatasetReference
	if _, ok := f.datasets[datasetKey(ref.ProjectId, ref.DatasetId)]; ok {
		return nil, fmt.Errorf("dataset %s:%s: %w", ref.ProjectId, ref.DatasetId, bq.ErrConflict)
	}
	return f.storeDataset(ds), nil
}

func (f *Fake) PatchDataset(ctx context.Context, ds *bigquery.Dataset) (*bigquery.Dataset, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	ref := ds.DatasetReference
	cur, ok := f.datasets[datasetKey(ref.ProjectId, ref.DatasetId)]
	if !ok {
		return nil, fmt.Errorf("dataset %s:%s: %w", ref.ProjectId, ref.DatasetId, bq.ErrNotFound)
	}
	cur.DefaultTableExpirationMs = ds.DefaultTableExpirationMs
	cur.DefaultPartitionExpirationMs = ds.DefaultPartitionExpirationMs
	if ds.Description != "" {
		cur.Description = ds.Description
	}
	if ds.Labels != nil {
		cur.Labels = ds.Labels
	}
	return clone(cur), nil
}

func (f *Fake) DeleteDataset(ctx context.Context, ref *bigquery.DatasetReference, deleteContents bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := datasetKey(ref.ProjectId, ref.DatasetId)
	if _, ok := f.datasets[key]; !ok {
		return fmt.Errorf("dataset %s: %w", key, bq.ErrNotFound)
	}
	var owned []string
	for id, t := range f.tables {
		if t.def.TableReference.ProjectId == ref.ProjectId && t.def.TableReference.DatasetId == ref.DatasetId {
			owned = append(owned, id)
		}
	}
	if len(owned) > 0 && !deleteContents {
		return fmt.Errorf("dataset %s is still in use", key)
	}
	for _, id := range owned {
		delete(f.tables, id)
	}
	delete(f.datasets, key)
	return nil
}

func (f *Fake) ListTables(ctx context.Context, ref *bigquery.DatasetReference) ([]*bigquery.TableReference, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.datasets[datasetKey(ref.ProjectId, ref.DatasetId)]; !ok {
		return nil, fmt.Errorf("dataset %s:%s: %w", ref.ProjectId, ref.DatasetId, bq.ErrNotFound)
	}
	var refs []*bigquery.TableReference
	for _, t := range f.tables {
		tr := t.def.TableReference
		if tr.ProjectId == ref.ProjectId && tr.DatasetId == ref.DatasetId {
			refs = append(refs, clone(tr))
		}
	}
	sort.Slice(refs, func(i, j int) bool { return refs[i].TableId < refs[j].TableId })
	return refs, nil
}

func (f *Fake) GetTable(ctx context.Context, ref *bigquery.TableReference) (*bigquery.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableKey(ref)]
	if !ok {
		return nil, fmt.Errorf("table %s: %w", tableKey(ref), bq.ErrNotFound)
	}
	return clone(t.def), nil
}

func (f *Fake) InsertTable(ctx context.Context, def *bigquery.Table) (*bigquery.Table, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, err := f.insertTable(def)
	if err != nil {
		return nil, err
	}
	return clone(t.def), nil
}

func (f *Fake) insertTable(def *bigquery.Table) (*table, error) {
	ref := def.TableReference
	if _, ok := f.datasets[datasetKey(ref.ProjectId, ref.DatasetId)]; !ok {
		return nil, fmt.Errorf("dataset %s:%s: %w", ref.ProjectId, ref.DatasetId, bq.ErrNotFound)
	}
	if _, ok := f.tables[tableKey(ref)]; ok {
		return nil, fmt.Errorf("table %s: %w", tableKey(ref), bq.ErrConflict)
	}
	t := f.storeTable(def)
	f.refreshStats(t, 0)
	return t, nil
}

func (f *Fake) DeleteTable(ctx context.Context, ref *bigquery.TableReference) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.tables[tableKey(ref)]; !ok {
		return fmt.Errorf("table %s: %w", tableKey(ref), bq.ErrNotFound)
	}
	delete(f.tables, tableKey(ref))
	return nil
}

func (f *Fake) RunJob(ctx context.Context, job *bigquery.Job) (*bigquery.Job, error) {
	f.mu.Lock()
	f.seq++
	f.inflight++
	if f.inflight > f.MaxInFlight {
		f.MaxInFlight = f.inflight
	}
	out := clone(job)
	if out.JobReference == nil {
		out.JobReference = &bigquery.JobReference{}
	}
	out.JobReference.JobId = fmt.Sprintf("job_%04d", f.seq)
	out.Id = out.JobReference.ProjectId + ":" + out.JobReference.JobId
	f.mu.Unlock()
	defer func() {
		f.mu.Lock()
		f.inflight--
		f.mu.Unlock()
	}()

	if f.Latency > 0 {
		select {
		case <-time.After(f.Latency):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	var err error
	cfg := out.Configuration
	switch {
	case cfg == nil:
		err = errors.New("job has no configuration")
	case cfg.Extract != nil:
		err = f.extract(ctx, out)
	case cfg.Load != nil:
		err = f.load(ctx, out)
	case cfg.Query != nil:
		err = f.query(out)
	case cfg.Copy != nil:
		err = f.copy(out)
	default:
		err = errors.New("unsupported job type")
	}

	out.Status = &bigquery.JobStatus{State: bq.JobStateDone}
	if err != nil {
		out.Status.ErrorResult = &bigquery.ErrorProto{Reason: "invalid", Message: err.Error()}
	}
	f.mu.Lock()
	f.Jobs = append(f.Jobs, clone(out))
	f.mu.Unlock()
	if err != nil {
		return out, &bq.JobError{JobID: out.JobReference.JobId, Reason: "invalid", Message: err.Error()}
	}
	return out, nil
}

func (f *Fake) failure(ref *bigquery.TableReference) error {
	if ref == nil {
		return nil
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failures[tableKey(ref)]
}

func (f *Fake) QueryRows(ctx context.Context, ref *bigquery.JobReference) (*bigquery.TableSchema, []*bigquery.TableRow, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	res, ok := f.results[ref.JobId]
	if !ok {
		return nil, nil, fmt.Errorf("job %s: %w", ref.JobId, bq.ErrNotFound)
	}
	rows := make([]*bigquery.TableRow, 0, len(res.rows))
	for _, r := range res.rows {
		row := &bigquery.TableRow{}
		for _, v := range r {
			row.F = append(row.F, &bigquery.TableCell{V: v})
		}
		rows = append(rows, row)
	}
	return clone(res.schema), rows, nil
}

type document struct {
	Schema *bigquery.TableSchema `json:"schema"`
	Rows   [][]any               `json:"rows"`
}

func (f *Fake) extract(ctx context.Context, job *bigquery.Job) error {
	cfg := job.Configuration.Extract
	if err := f.failure(cfg.SourceTable); err != nil {
		return err
	}
	f.mu.Lock()
	src, ok := f.tables[tableKey(cfg.SourceTable)]
	var schema *bigquery.TableSchema
	var rows [][]any
	if ok {
		schema = clone(src.def.Schema)
		rows = cloneRows(src.rows)
	}
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("table %s: %w", tableKey(cfg.SourceTable), bq.ErrNotFound)
	}
	if len(cfg.DestinationUris) != 1 {
		return errors.New("extract needs exactly one destination URI")
	}
	uri := cfg.DestinationUris[0]

	parts := [][][]any{rows}
	if strings.Contains(uri, "*") {
		half := len(rows) / 2
		parts = [][][]any{rows[:half], rows[half:]}
	}
	for i, part := range parts {
		var data []byte
		var err error
		if cfg.DestinationFormat == bq.FormatCSV {
			data, err = encodeCSV(schema, part, cfg.PrintHeader == nil || *cfg.PrintHeader)
		} else {
			docSchema := schema
			if cfg.DestinationFormat == bq.FormatAVRO {
				docSchema = downgradeDatetime(schema)
			}
			data, err = json.Marshal(document{Schema: docSchema, Rows: part})
		}
		if err != nil {
			return err
		}
		if cfg.Compression == bq.CompressionGzip {
			if data, err = compress.Bytes(compress.TypeGzip, data); err != nil {
				return err
			}
		}
		name := strings.Replace(uri, "*", fmt.Sprintf("%012d", i), 1)
		u, err := storage.ParseURI(name)
		if err != nil {
			return err
		}
		if _, err := f.Objects.Put(ctx, u.Bucket, u.Name, bytes.NewReader(data), storage.PutOptions{}); err != nil {
			return err
		}
	}
	job.Statistics = &bigquery.JobStatistics{Extract: &bigquery.JobStatistics4{DestinationUriFileCounts: []int64{int64(len(parts))}}}
	return nil
}

func encodeCSV(schema *bigquery.TableSchema, rows [][]any, header bool) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if header {
		names := make([]string, 0, len(schema.Fields))
		for _, fld := range schema.Fields {
			names = append(names, fld.Name)
		}
		if err := w.Write(names); err != nil {
			return nil, err
		}
	}
	for _, r := range rows {
		rec := make([]string, len(r))
		for i, v := range r {
			if v != nil {
				rec[i] = fmt.Sprint(v)
			}
		}
		if err := w.Write(rec); err != nil {
			return nil, err
		}
	}
	w.Flush()
	return buf.Bytes(), w.Error()
}

func downgradeDatetime(schema *bigquery.TableSchema) *bigquery.TableSchema {
	out := clone(schema)
	for _, fld := range out.Fields {
		if fld.Type == bq.TypeDatetime {
			fld.Type = "STRING"
		}
	}
	return out
}

func (f *Fake) load(ctx context.Context, job *bigquery.Job) error {
	cfg := job.Configuration.Load
	if err := f.failure(cfg.DestinationTable); err != nil {
		return err
	}
	var schema *bigquery.TableSchema
	var rows [][]any
	for _, uri := range cfg.SourceUris {
		u, err := storage.ParseURI(uri)
		if err != nil {
			return err
		}
		names := []string{u.Name}
		if prefix, _, wild := strings.Cut(u.Name, "*"); wild {
			infos, err := f.Objects.List(ctx, u.Bucket, prefix, "")
			if err != nil {
				return err
			}
			names = names[:0]
			for _, info := range infos {
				names = append(names, info.Name)
			}
		}
		for _, name := range names {
			s, r, err := f.readObject(ctx, u.Bucket, name, cfg)
			if err != nil {
				return err
			}
			if schema == nil {
				schema = s
			}
			rows = append(rows, r...)
		}
	}
	if cfg.Schema != nil {
		schema = cfg.Schema
	}
	return f.write(cfg.DestinationTable, schema, rows, cfg.CreateDisposition, cfg.WriteDisposition)
}

func (f *Fake) readObject(ctx context.Context, bucket, name string, cfg *bigquery.JobConfigurationLoad) (*bigquery.TableSchema, [][]any, error) {
	rc, err := f.Objects.Get(ctx, bucket, name)
	if err != nil {
		return nil, nil, err
	}
	defer rc.Close()
	r, err := compress.WrapReader(compress.FromPath(name), rc)
	if err != nil {
		return nil, nil, err
	}
	defer r.Close()

	if cfg.SourceFormat == "" || cfg.SourceFormat == bq.FormatCSV {
		cr := csv.NewReader(r)
		cr.FieldsPerRecord = -1
		records, err := cr.ReadAll()
		if err != nil {
			return nil, nil, err
		}
		skip := int(cfg.SkipLeadingRows)
		if skip > len(records) {
			skip = len(records)
		}
		var rows [][]any
		for _, rec := range records[skip:] {
			row := make([]any, len(rec))
			for i, v := range rec {
				row[i] = v
			}
			rows = append(rows, row)
		}
		return nil, rows, nil
	}

	data, err := io.ReadAll(r)
	if err != nil {
		return nil, nil, err
	}
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, nil, fmt.Errorf("decode %s: %w", name, err)
	}
	return doc.Schema, doc.Rows, nil
}

// write applies a job's dispositions to the destination table.
func (f *Fake) write(ref *bigquery.TableReference, schema *bigquery.TableSchema, rows [][]any, createDisposition, writeDisposition string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	t, ok := f.tables[tableKey(ref)]
	if !ok {
		if createDisposition == "CREATE_NEVER" {
			return fmt.Errorf("table %s: %w", tableKey(ref), bq.ErrNotFound)
		}
		if schema == nil {
			return fmt.Errorf("table %s: schema is required to create it", tableKey(ref))
		}
		var err error
		if t, err = f.insertTable(&bigquery.Table{TableReference: ref, Schema: schema}); err != nil {
			return err
		}
	}
	switch writeDisposition {
	case bq.WriteTruncate:
		t.rows = cloneRows(rows)
	case "WRITE_EMPTY":
		if len(t.rows) > 0 {
			return fmt.Errorf("table %s is not empty", tableKey(ref))
		}
		t.rows = cloneRows(rows)
	default:
		t.rows = append(t.rows, cloneRows(rows)...)
	}
	f.refreshStats(t, 0)
	return nil
}

var (
	selectExpr = regexp.MustCompile("(?is)^\\s*SELECT\\s+(.+?)\\s+FROM\\s+([`\\w.:-]+)\\s*;?\\s*$")
	castExpr   = regexp.MustCompile(`(?i)^CAST\((\w+) AS (\w+)\) AS (\w+)$`)
)

// query understands "SELECT cols FROM table" where a column is a name, *,
// or CAST(name AS TYPE) AS alias.
func (f *Fake) query(job *bigquery.Job) error {
	cfg := job.Configuration.Query
	if err := f.failure(cfg.DestinationTable); err != nil {
		return err
	}
	m := selectExpr.FindStringSubmatch(cfg.Query)
	if m == nil {
		return fmt.Errorf("unsupported query: %s", cfg.Query)
	}
	srcRef, err := parseTableName(m[2], cfg.DefaultDataset)
	if err != nil {
		return err
	}

	f.mu.Lock()
	src, ok := f.tables[tableKey(srcRef)]
	var srcSchema *bigquery.TableSchema
	var srcRows [][]any
	if ok {
		srcSchema = clone(src.def.Schema)
		srcRows = cloneRows(src.rows)
	}
	f.mu.Unlock()
	if !ok {
		return fmt.Errorf("table %s: %w", tableKey(srcRef), bq.ErrNotFound)
	}

	index := map[string]int{}
	for i, fld := range srcSchema.Fields {
		index[strings.ToLower(fld.Name)] = i
	}
	schema := &bigquery.TableSchema{}
	var cols []int
	for _, col := range strings.Split(m[1], ",") {
		col = strings.TrimSpace(col)
		if col == "*" {
			for i, fld := range srcSchema.Fields {
				schema.Fields = append(schema.Fields, clone(fld))
				cols = append(cols, i)
			}
			continue
		}
		name, typ, alias := col, "", col
		if c := castExpr.FindStringSubmatch(col); c != nil {
			name, typ, alias = c[1], strings.ToUpper(c[2]), c[3]
		}
		i, ok := index[strings.ToLower(name)]
		if !ok {
			return fmt.Errorf("unrecognized name: %s", name)
		}
		fld := clone(srcSchema.Fields[i])
		fld.Name = alias
		if typ != "" {
			fld.Type = typ
		}
		schema.Fields = append(schema.Fields, fld)
		cols = append(cols, i)
	}
	rows := make([][]any, 0, len(srcRows))
	for _, r := range srcRows {
		out := make([]any, len(cols))
		for j, i := range cols {
			if i < len(r) {
				out[j] = r[i]
			}
		}
		rows = append(rows, out)
	}

	f.mu.Lock()
	f.results[job.JobReference.JobId] = result{schema: schema, rows: rows}
	f.mu.Unlock()
	if cfg.DestinationTable == nil {
		return nil
	}
	return f.write(cfg.DestinationTable, schema, rows, cfg.CreateDisposition, cfg.WriteDisposition)
}

func parseTableName(name string, def *bigquery.DatasetReference) (*bigquery.TableReference, error) {
	name = strings.ReplaceAll(name, "`", "")
	name = strings.Replace(name, ":", ".", 1)
	parts := strings.Split(name, ".")
	switch {
	case len(parts) == 3:
		return &bigquery.TableReference{ProjectId: parts[0], DatasetId: parts[1], TableId: parts[2]}, nil
	case len(parts) == 2 && def != nil:
		return &bigquery.TableReference{ProjectId: def.ProjectId, DatasetId: parts[0], TableId: parts[1]}, nil
	case len(parts) == 1 && def != nil:
		return &bigquery.TableReference{ProjectId: def.ProjectId, DatasetId: def.DatasetId, TableId: parts[0]}, nil
	}
	return nil, fmt.Errorf("cannot resolve table %q", name)
}

func (f *Fake) copy(job *bigquery.Job) error {
	cfg := job.Configuration.Copy
	if err := f.failure(cfg.DestinationTable); err != nil {
		return err
	}
	sources := cfg.SourceTables
	if cfg.SourceTable != nil {
		sources = append([]*bigquery.TableReference{cfg.SourceTable}, sources...)
	}
	var schema *bigquery.TableSchema
	var rows [][]any
	f.mu.Lock()
	for _, ref := range sources {
		t, ok := f.tables[tableKey(ref)]
		if !ok {
			f.mu.Unlock()
			return fmt.Errorf("table %s: %w", tableKey(ref), bq.ErrNotFound)
		}
		if schema == nil {
			schema = clone(t.def.Schema)
		}
		rows = append(rows, cloneRows(t.rows)...)
	}
	f.mu.Unlock()
	return f.write(cfg.DestinationTable, schema, rows, cfg.CreateDisposition, cfg.WriteDisposition)
}
