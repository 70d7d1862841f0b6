package yaml2wdl

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestToJSONKeepsOrder(t *testing.T) {
	src := `
name: person
query: |
  SELECT *
  FROM ~{dataset}.person
limit: 10
ratio: 0.5
whole: 2.0
enabled: true
missing:
tags: [a, "b"]
`
	got, err := ToJSON([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"name": "person", "query": "SELECT *\nFROM ~{dataset}.person\n", "limit": 10, "ratio": 0.5, "whole": 2.0, "enabled": true, "missing": null, "tags": ["a", "b"]}`
	if got != want {
		t.Fatalf("ToJSON:\n got %s\nwant %s", got, want)
	}
	var v any
	if err := json.Unmarshal([]byte(got), &v); err != nil {
		t.Fatalf("output is not JSON: %v", err)
	}
}

func TestToJSONMergeKeys(t *testing.T) {
	src := `
base: &base
  project: p
  dataset: d
table:
  <<: *base
  dataset: override
  name: t
`
	got, err := ToJSON([]byte(src))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"base": {"project": "p", "dataset": "d"}, "table": {"project": "p", "dataset": "override", "name": "t"}}`
	if got != want {
		t.Fatalf("ToJSON:\n got %s\nwant %s", got, want)
	}
}

func TestToJSONEscapesNonASCII(t *testing.T) {
	got, err := ToJSON([]byte(`greeting: "héllo \"you\" 🙂"`))
	if err != nil {
		t.Fatal(err)
	}
	want := `{"greeting": "h\u00e9llo \"you\" \ud83d\ude42"}`
	if got != want {
		t.Fatalf("got %s, want %s", got, want)
	}
}

func TestToJSONEmpty(t *testing.T) {
	got, err := ToJSON(nil)
	if err != nil || got != "null" {
		t.Fatalf("got %q, %v", got, err)
	}
}

func TestInputs(t *testing.T) {
	doc := `{"q": "SELECT ~{b} FROM ~{a_1}.x JOIN ~{b} ON ~{1bad} ~{}"}`
	if diff := cmp.Diff([]string{"a_1", "b"}, Inputs(doc)); diff != "" {
		t.Fatalf("Inputs (-want +got):\n%s", diff)
	}
}

func TestConvert(t *testing.T) {
	got, err := Convert([]byte("sql: SELECT ~{col} FROM ~{table}\n"), "1.0")
	if err != nil {
		t.Fatal(err)
	}
	want := strings.Join([]string{
		"version 1.0",
		"",
		"task GetYaml {",
		"  input {",
		"    String col",
		"    String table",
		"  }",
		"  command {}",
		"  output {",
		`    File yaml = write_lines(["{\"sql\": \"SELECT ~{col} FROM ~{table}\"}"])`,
		"  }",
		"}",
	}, "\n")
	if diff := cmp.Diff(want, got); diff != "" {
		t.Fatalf("Convert (-want +got):\n%s", diff)
	}
}

func TestConvertWithoutInputs(t *testing.T) {
	got, err := Convert([]byte("a: 1\n"), "")
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(got, "version development\n\ntask GetYaml {\n  command {}") {
		t.Fatalf("unexpected document:\n%s", got)
	}
}

func TestConvertRejectsBadYAML(t *testing.T) {
	if _, err := Convert([]byte("a: [1, 2"), ""); err == nil {
		t.Fatal("expected a parse error")
	}
}
