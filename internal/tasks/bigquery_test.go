package tasks

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/api/bigquery/v2"

	"github.com/rowjay/wdlkit/internal/bq"
	"github.com/rowjay/wdlkit/internal/bq/bqtest"
	"github.com/rowjay/wdlkit/internal/storage/storagetest"
)

var peopleSchema = &bigquery.TableSchema{Fields: []*bigquery.TableFieldSchema{
	{Name: "id", Type: "STRING"},
	{Name: "name", Type: "STRING"},
}}

func newBQRunner(t *testing.T) (*Runner, *bqtest.Fake, *storagetest.Memory, *bytes.Buffer) {
	t.Helper()
	objects := storagetest.NewMemory()
	fake := bqtest.NewFake(objects)
	fake.AddDataset(&bigquery.Dataset{DatasetReference: &bigquery.DatasetReference{ProjectId: "p", DatasetId: "ds"}})
	fake.AddTable(&bigquery.Table{TableReference: ref("people"), Schema: peopleSchema}, [][]any{
		{"1", "ada"},
		{"2", "grace"},
	})
	out := &bytes.Buffer{}
	r := &Runner{BQ: fake, Objects: storagetest.Resolver{Store: objects}, Dir: t.TempDir(), Out: out}
	return r, fake, objects, out
}

func ref(table string) *bigquery.TableReference {
	return &bigquery.TableReference{ProjectId: "p", DatasetId: "ds", TableId: table}
}

func readJSON(t *testing.T, path string, out any) {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read %s: %v", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
}

func TestCreateTableExistsOk(t *testing.T) {
	r, _, _, _ := newBQRunner(t)
	ctx := context.Background()
	def := &bigquery.Table{TableReference: ref("people"), Schema: peopleSchema}

	if _, err := r.CreateTable(ctx, CreateTableConfig{Table: def}); err != nil {
		t.Fatalf("existing table with default existsOk: %v", err)
	}
	var written bigquery.Table
	readJSON(t, filepath.Join(r.Dir, "table.json"), &written)
	if written.NumRows != 2 {
		t.Fatalf("expected the existing table, got %+v", written)
	}

	no := false
	_, err := r.CreateTable(ctx, CreateTableConfig{Table: def, ExistsOk: &no})
	if !errors.Is(err, bq.ErrConflict) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestCreateTableDrop(t *testing.T) {
	r, fake, _, _ := newBQRunner(t)
	table, err := r.CreateTable(context.Background(), CreateTableConfig{
		Table: &bigquery.Table{TableReference: ref("people"), Schema: peopleSchema},
		Drop:  true,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if table.NumRows != 0 {
		t.Fatalf("dropped table should be empty, has %d rows", table.NumRows)
	}
	if rows, _ := fake.Rows(ref("people")); len(rows) != 0 {
		t.Fatalf("rows survived the drop: %v", rows)
	}
}

func TestCopyTable(t *testing.T) {
	r, fake, _, _ := newBQRunner(t)
	_, err := r.CopyTable(context.Background(), CopyTableConfig{
		Sources:     []*bigquery.Table{{TableReference: ref("people")}},
		Destination: &bigquery.Table{TableReference: ref("people_copy")},
	})
	if err != nil {
		t.Fatalf("copy: %v", err)
	}
	rows, ok := fake.Rows(ref("people_copy"))
	if !ok || len(rows) != 2 {
		t.Fatalf("copied rows %v", rows)
	}
	job := fake.Jobs[len(fake.Jobs)-1].Configuration.Copy
	if job.CreateDisposition != "CREATE_IF_NEEDED" || job.WriteDisposition != "WRITE_EMPTY" {
		t.Fatalf("unexpected dispositions %+v", job)
	}
	if _, err := os.Stat(filepath.Join(r.Dir, "table.json")); err != nil {
		t.Fatal(err)
	}
}

func TestCreateDatasetPatchesFields(t *testing.T) {
	r, fake, _, _ := newBQRunner(t)
	ctx := context.Background()
	fake.AddDataset(&bigquery.Dataset{
		DatasetReference: &bigquery.DatasetReference{ProjectId: "p", DatasetId: "other"},
		Description:      "old",
		Labels:           map[string]string{"team": "a"},
	})

	ds, err := r.CreateDataset(ctx, CreateDatasetConfig{
		Dataset: &bigquery.Dataset{
			DatasetReference: &bigquery.DatasetReference{ProjectId: "p", DatasetId: "other"},
			Description:      "new",
			Labels:           map[string]string{"team": "b"},
		},
		Fields: []string{"description"},
	})
	if err != nil {
		t.Fatalf("create_dataset: %v", err)
	}
	if ds.Description != "new" {
		t.Fatalf("description not patched: %q", ds.Description)
	}
	if ds.Labels["team"] != "a" {
		t.Fatalf("labels were not listed but changed: %v", ds.Labels)
	}
	var written bigquery.Dataset
	readJSON(t, filepath.Join(r.Dir, "dataset.json"), &written)
	if written.Description != "new" {
		t.Fatalf("dataset.json %+v", written)
	}
}

func TestCreateDatasetDrop(t *testing.T) {
	r, fake, _, _ := newBQRunner(t)
	_, err := r.CreateDataset(context.Background(), CreateDatasetConfig{
		Dataset: &bigquery.Dataset{DatasetReference: &bigquery.DatasetReference{ProjectId: "p", DatasetId: "ds"}},
		Drop:    true,
	})
	if err != nil {
		t.Fatalf("create_dataset: %v", err)
	}
	if ids := fake.TableIDs("p", "ds"); len(ids) != 0 {
		t.Fatalf("drop should remove the contents, found %v", ids)
	}
}

func TestPatchFieldsAcceptsSnakeCase(t *testing.T) {
	ds := &bigquery.Dataset{
		DatasetReference:         &bigquery.DatasetReference{ProjectId: "p", DatasetId: "d"},
		DefaultTableExpirationMs: 3600000,
		Description:              "kept out",
	}
	patch, err := patchFields(ds, []string{"default_table_expiration_ms"})
	if err != nil {
		t.Fatal(err)
	}
	if patch.DefaultTableExpirationMs != 3600000 || patch.Description != "" || patch.DatasetReference.DatasetId != "d" {
		t.Fatalf("unexpected patch %+v", patch)
	}
}

func TestDeleteDatasetNotFoundOk(t *testing.T) {
	r, _, _, _ := newBQRunner(t)
	ctx := context.Background()
	missing := &bigquery.DatasetReference{ProjectId: "p", DatasetId: "missing"}

	if err := r.DeleteDataset(ctx, DeleteDatasetConfig{DatasetRef: missing}); !errors.Is(err, bq.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
	if err := r.DeleteDataset(ctx, DeleteDatasetConfig{DatasetRef: missing, NotFoundOk: true}); err != nil {
		t.Fatalf("notFoundOk: %v", err)
	}
}

func TestExtractTable(t *testing.T) {
	r, _, objects, _ := newBQRunner(t)
	job, err := r.ExtractTable(context.Background(), ExtractTableConfig{
		SourceTable:    &bigquery.Table{TableReference: ref("people")},
		DestinationURI: "gs://out/exports/",
		FileName:       "people.csv",
		FileFormat:     bq.FormatCSV,
		Location:       "US",
	})
	if err != nil {
		t.Fatalf("extract: %v", err)
	}
	if got := job.Configuration.Extract.DestinationUris[0]; got != "gs://out/exports/people.csv" {
		t.Fatalf("destination %s", got)
	}
	data, ok := objects.Bytes("out", "exports/people.csv")
	if !ok || string(data) != "id,name\n1,ada\n2,grace\n" {
		t.Fatalf("extracted %q", data)
	}
	if _, err := os.Stat(filepath.Join(r.Dir, "job.json")); err != nil {
		t.Fatal(err)
	}
}

func TestLoadTableFromBucketPrefix(t *testing.T) {
	r, fake, objects, _ := newBQRunner(t)
	objects.Set("in", "load/a.csv", []byte("id,name\n3,edsger\n"))
	objects.Set("in", "load/b.csv", []byte("id,name\n4,barbara\n"))

	job, err := r.LoadTable(context.Background(), LoadTableConfig{
		Destination:     ref("loaded"),
		SourceBucket:    "in",
		SourcePrefix:    "load/",
		SchemaFields:    peopleSchema.Fields,
		SkipLeadingRows: 1,
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	load := job.Configuration.Load
	want := []string{"gs://in/load/a.csv", "gs://in/load/b.csv"}
	if diff := cmp.Diff(want, load.SourceUris); diff != "" {
		t.Fatalf("source URIs (-want +got):\n%s", diff)
	}
	if load.SourceFormat != bq.FormatCSV || load.FieldDelimiter != "," || load.Quote == nil || *load.Quote != `"` {
		t.Fatalf("CSV defaults not applied: %+v", load)
	}
	if job.JobReference.Location != "US" {
		t.Fatalf("location %q", job.JobReference.Location)
	}
	rows, _ := fake.Rows(ref("loaded"))
	if diff := cmp.Diff([][]any{{"3", "edsger"}, {"4", "barbara"}}, rows); diff != "" {
		t.Fatalf("loaded rows (-want +got):\n%s", diff)
	}
	var table bigquery.Table
	readJSON(t, filepath.Join(r.Dir, "table.json"), &table)
	if table.NumRows != 2 {
		t.Fatalf("table.json %+v", table)
	}
}

func TestLoadTableCSVOptionsOnlyForCSV(t *testing.T) {
	r, fake, objects, _ := newBQRunner(t)
	doc := `{"schema":{"fields":[{"name":"id","type":"STRING"},{"name":"name","type":"STRING"}]},"rows":[["5","alan"]]}`
	objects.Set("in", "people.avro", []byte(doc))

	_, err := r.LoadTable(context.Background(), LoadTableConfig{
		Destination:     ref("avro_loaded"),
		SourceURIs:      StringList{"gs://in/people.avro"},
		Format:          "avro",
		SkipLeadingRows: 1,
	})
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	load := fake.Jobs[len(fake.Jobs)-1].Configuration.Load
	if load.SourceFormat != bq.FormatAVRO || load.SkipLeadingRows != 0 || load.Quote != nil || load.FieldDelimiter != "" {
		t.Fatalf("CSV options leaked into an AVRO load: %+v", load)
	}
}

func TestLoadTableNeedsSource(t *testing.T) {
	r, _, _, _ := newBQRunner(t)
	if _, err := r.LoadTable(context.Background(), LoadTableConfig{Destination: ref("x")}); err == nil {
		t.Fatal("expected an error without a source")
	}
	_, err := r.LoadTable(context.Background(), LoadTableConfig{Destination: ref("x"), SourceFile: "local.csv"})
	if err == nil || !strings.Contains(err.Error(), "not supported") {
		t.Fatalf("expected local files to be rejected, got %v", err)
	}
}

func TestStringListDecodesBothForms(t *testing.T) {
	var cfg LoadTableConfig
	if err := json.Unmarshal([]byte(`{"sourceUris":"gs://a/x.csv"}`), &cfg); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(StringList{"gs://a/x.csv"}, cfg.SourceURIs); diff != "" {
		t.Fatalf("single (-want +got):\n%s", diff)
	}
	cfg = LoadTableConfig{}
	if err := json.Unmarshal([]byte(`{"sourceUris":["gs://a/1","gs://a/2"]}`), &cfg); err != nil {
		t.Fatal(err)
	}
	if len(cfg.SourceURIs) != 2 {
		t.Fatalf("list %v", cfg.SourceURIs)
	}
	cfg = LoadTableConfig{}
	if err := json.Unmarshal([]byte(`{"sourceUris":null}`), &cfg); err != nil || cfg.SourceURIs != nil {
		t.Fatalf("null %v %v", cfg.SourceURIs, err)
	}
}

func TestQueryText(t *testing.T) {
	cfg := QueryConfig{
		Query:        "SELECT * FROM {src} WHERE day = '{day}' AND {unknown}",
		Replacements: map[string]string{"day": "2024-01-01"},
		Dependencies: map[string]Dependency{"src": {TableReference: ref("people")}},
	}
	want := "SELECT * FROM p.ds.people WHERE day = '2024-01-01' AND {unknown}"
	if got := cfg.Text(); got != want {
		t.Fatalf("Text() = %q, want %q", got, want)
	}
}

func TestQueryPrintsCSV(t *testing.T) {
	r, fake, _, out := newBQRunner(t)
	job, err := r.Query(context.Background(), QueryConfig{
		Query:        "SELECT id FROM {src}",
		Dependencies: map[string]Dependency{"src": {TableReference: ref("people")}},
		Format:       RowsCSV,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if got := out.String(); got != "id\n1\n2\n" {
		t.Fatalf("printed %q", got)
	}
	q := fake.Jobs[len(fake.Jobs)-1].Configuration.Query
	if q.UseLegacySql == nil || *q.UseLegacySql || q.Priority != "INTERACTIVE" || q.UseQueryCache == nil || !*q.UseQueryCache {
		t.Fatalf("unexpected query options %+v", q)
	}
	if job.Configuration.Query.DestinationTable != nil {
		t.Fatal("no destination was requested")
	}
	info, err := os.Stat(filepath.Join(r.Dir, "table.json"))
	if err != nil || info.Size() != 0 {
		t.Fatalf("table.json should exist and be empty: %v", err)
	}
}

func TestQueryDropRecreatesDestination(t *testing.T) {
	r, fake, _, _ := newBQRunner(t)
	fake.AddTable(&bigquery.Table{TableReference: ref("summary"), Schema: peopleSchema}, [][]any{{"9", "stale"}})

	_, err := r.Query(context.Background(), QueryConfig{
		Query:               "SELECT * FROM p.ds.people",
		Destination:         &bigquery.Table{TableReference: ref("summary"), Schema: peopleSchema},
		Drop:                true,
		WriteDisposition:    bq.WriteAppend,
		SchemaUpdateOptions: []string{"ALLOW_FIELD_ADDITION"},
		Labels:              map[string]string{"run": "nightly"},
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	rows, _ := fake.Rows(ref("summary"))
	if diff := cmp.Diff([][]any{{"1", "ada"}, {"2", "grace"}}, rows); diff != "" {
		t.Fatalf("destination rows (-want +got):\n%s", diff)
	}
	job := fake.Jobs[len(fake.Jobs)-1]
	q := job.Configuration.Query
	if q.WriteDisposition != bq.WriteAppend || len(q.SchemaUpdateOptions) != 1 {
		t.Fatalf("unexpected destination options %+v", q)
	}
	if job.Configuration.Labels["run"] != "nightly" {
		t.Fatalf("labels %v", job.Configuration.Labels)
	}
	var table bigquery.Table
	readJSON(t, filepath.Join(r.Dir, "table.json"), &table)
	if table.NumRows != 2 {
		t.Fatalf("table.json %+v", table)
	}
}

func TestQueryDropSwitchesToAppend(t *testing.T) {
	r, fake, _, _ := newBQRunner(t)
	_, err := r.Query(context.Background(), QueryConfig{
		Query:       "SELECT * FROM p.ds.people",
		Destination: &bigquery.Table{TableReference: ref("fresh"), Schema: peopleSchema},
		Drop:        true,
	})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	q := fake.Jobs[len(fake.Jobs)-1].Configuration.Query
	if q.WriteDisposition != bq.WriteAppend || q.SchemaUpdateOptions != nil {
		t.Fatalf("unexpected destination options %+v", q)
	}
}

func TestQueryBadBytesBilled(t *testing.T) {
	r, _, _, _ := newBQRunner(t)
	_, err := r.Query(context.Background(), QueryConfig{Query: "SELECT * FROM p.ds.people", MaximumBytesBilled: "lots"})
	if err == nil {
		t.Fatal("expected a parse error")
	}
}

func TestPrintRowsFormats(t *testing.T) {
	rows := []*bigquery.TableRow{
		{F: []*bigquery.TableCell{{V: "1"}, {V: "a<b"}}},
		{F: []*bigquery.TableCell{{V: "2"}, {V: nil}}},
	}

	var buf bytes.Buffer
	if err := printRows(&buf, RowsCSV, peopleSchema, rows, "|", false); err != nil {
		t.Fatal(err)
	}
	if buf.String() != "1|a<b\n2|\n" {
		t.Fatalf("csv %q", buf.String())
	}

	buf.Reset()
	if err := printRows(&buf, RowsJSON, peopleSchema, rows, ",", true); err != nil {
		t.Fatal(err)
	}
	var records []map[string]any
	if err := json.Unmarshal(buf.Bytes(), &records); err != nil {
		t.Fatal(err)
	}
	want := []map[string]any{{"id": "1", "name": "a<b"}, {"id": "2", "name": nil}}
	if diff := cmp.Diff(want, records); diff != "" {
		t.Fatalf("json (-want +got):\n%s", diff)
	}

	buf.Reset()
	if err := printRows(&buf, RowsHTML, peopleSchema, rows, ",", true); err != nil {
		t.Fatal(err)
	}
	html := buf.String()
	for _, want := range []string{"<th>name</th>", "<td>a&lt;b</td>", "<th>1</th>"} {
		if !strings.Contains(html, want) {
			t.Fatalf("html is missing %s:\n%s", want, html)
		}
	}

	if err := printRows(&buf, "xml", peopleSchema, rows, ",", true); err == nil {
		t.Fatal("expected an unsupported format error")
	}
	if err := printRows(&buf, RowsCSV, peopleSchema, rows, "||", true); err == nil {
		t.Fatal("expected a delimiter error")
	}
}
