package bq

import (
	"testing"

	"github.com/google/go-cmp/cmp"
	"google.golang.org/api/bigquery/v2"
)

func TestScrubRemovesIdentityAtEveryDepth(t *testing.T) {
	in := map[string]any{
		"etag":     "abc",
		"id":       "p:d.t",
		"selfLink": "https://example",
		"kind":     "bigquery#table",
		"tableReference": map[string]any{
			"projectId": "p",
			"id":        "nested",
		},
		"schema": map[string]any{
			"fields": []any{
				map[string]any{"name": "a", "type": "STRING", "etag": "x"},
				map[string]any{"name": "b", "fields": []any{map[string]any{"name": "c", "selfLink": "y"}}},
			},
		},
		"labels": []any{"id", "etag"},
	}
	want := map[string]any{
		"kind": "bigquery#table",
		"tableReference": map[string]any{
			"projectId": "p",
		},
		"schema": map[string]any{
			"fields": []any{
				map[string]any{"name": "a", "type": "STRING"},
				map[string]any{"name": "b", "fields": []any{map[string]any{"name": "c"}}},
			},
		},
		"labels": []any{"id", "etag"},
	}

	got := Scrub(in)
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("scrub mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(got, Scrub(got)); diff != "" {
		t.Fatalf("scrub not idempotent (-first +second):\n%s", diff)
	}
	if _, ok := in["etag"]; !ok {
		t.Fatalf("scrub mutated its input")
	}
}

func TestScrubNil(t *testing.T) {
	if Scrub(nil) != nil {
		t.Fatalf("expected nil")
	}
}

func TestNewTableFromDefinitionScrubs(t *testing.T) {
	def := map[string]any{
		"id":   "p:d.t",
		"etag": "e",
		"tableReference": map[string]any{
			"projectId": "p", "datasetId": "d", "tableId": "t",
		},
		"numBytes": "42",
	}
	table, err := NewTableFromDefinition(nil, def)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if table.Def.Id != "" || table.Def.Etag != "" {
		t.Fatalf("identity fields survived: %+v", table.Def)
	}
	if table.Def.NumBytes != 42 || table.FullID() != "p:d.t" {
		t.Fatalf("unexpected table: %+v", table.Def)
	}
	if _, err := NewTableFromDefinition(nil, map[string]any{"kind": "x"}); err == nil {
		t.Fatalf("expected error without tableReference")
	}
}

func TestParseDatasetExpr(t *testing.T) {
	tests := []struct {
		expr                    string
		project, dataset, table string
		wantErr                 bool
	}{
		{expr: "proj:ds", project: "proj", dataset: "ds", table: ".*"},
		{expr: "proj:ds.orders.*", project: "proj", dataset: "ds", table: "orders.*"},
		{expr: "my-proj:ds_1.^orders$", project: "my-proj", dataset: "ds_1", table: "^orders$"},
		{expr: "ds", wantErr: true},
		{expr: ":ds", wantErr: true},
	}
	for _, tt := range tests {
		p, d, tbl, err := ParseDatasetExpr(tt.expr)
		if tt.wantErr {
			if err == nil {
				t.Fatalf("%s: expected error", tt.expr)
			}
			continue
		}
		if err != nil {
			t.Fatalf("%s: unexpected error: %v", tt.expr, err)
		}
		if p != tt.project || d != tt.dataset || tbl != tt.table {
			t.Fatalf("%s: got %s %s %s", tt.expr, p, d, tbl)
		}
	}
}

func TestExtractURI(t *testing.T) {
	table := &bigquery.Table{TableReference: &bigquery.TableReference{ProjectId: "p", DatasetId: "d", TableId: "t"}}
	tests := []struct {
		bytes int64
		opts  ExtractOptions
		want  string
	}{
		{100, ExtractOptions{DestinationURI: "gs://b/dir", Format: FormatAVRO, Compression: "SNAPPY"}, "gs://b/dir/p.d.t.avro"},
		{100, ExtractOptions{DestinationURI: "gs://b/dir/", Format: FormatCSV, Compression: CompressionGzip}, "gs://b/dir/p.d.t.csv.gz"},
		{SplitThreshold + 1, ExtractOptions{DestinationURI: "gs://b", Format: FormatJSON}, "gs://b/p.d.t-*.json"},
		{SplitThreshold, ExtractOptions{DestinationURI: "gs://b", Format: FormatParquet}, "gs://b/p.d.t.parquet"},
	}
	for _, tt := range tests {
		table.NumBytes = tt.bytes
		if got := ExtractURI(table, tt.opts); got != tt.want {
			t.Fatalf("got %s want %s", got, tt.want)
		}
	}
}

func TestCastQuery(t *testing.T) {
	schema := &bigquery.TableSchema{Fields: []*bigquery.TableFieldSchema{
		{Name: "id", Type: "INTEGER"},
		{Name: "created", Type: TypeDatetime},
	}}
	got := CastQuery(schema, &bigquery.TableReference{ProjectId: "p", DatasetId: "d", TableId: "t_abc123"})
	want := "SELECT id,CAST(created AS DATETIME) AS created FROM `p.d`.t_abc123"
	if got != want {
		t.Fatalf("got %q want %q", got, want)
	}
}

func TestStagingRef(t *testing.T) {
	ref := &bigquery.TableReference{ProjectId: "p", DatasetId: "d", TableId: "t"}
	a, b := StagingRef(ref), StagingRef(ref)
	if len(a.TableId) != len("t_")+6 || a.TableId[:2] != "t_" {
		t.Fatalf("unexpected staging id %s", a.TableId)
	}
	if a.TableId == b.TableId {
		t.Fatalf("staging ids should differ")
	}
}
