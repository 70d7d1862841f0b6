package compress

import (
	"bytes"
	"io"
	"testing"
)

func TestFromPath(t *testing.T) {
	cases := map[string]string{
		"gs://b/p.d.json":     TypeNone,
		"gs://b/p.d.json.gz":  TypeGzip,
		"gs://b/p.d.json.zst": TypeZstd,
	}
	for in, want := range cases {
		if got := FromPath(in); got != want {
			t.Fatalf("FromPath(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestBytesRoundTrip(t *testing.T) {
	payload := []byte(`{"dataset":{"datasetReference":{"projectId":"p","datasetId":"d"}}}`)
	for _, kind := range []string{TypeNone, TypeGzip, TypeZstd} {
		packed, err := Bytes(kind, payload)
		if err != nil {
			t.Fatalf("%s: compress: %v", kind, err)
		}
		r, err := WrapReader(kind, bytes.NewReader(packed))
		if err != nil {
			t.Fatalf("%s: reader: %v", kind, err)
		}
		got, err := io.ReadAll(r)
		_ = r.Close()
		if err != nil {
			t.Fatalf("%s: read: %v", kind, err)
		}
		if !bytes.Equal(got, payload) {
			t.Fatalf("%s: payload mismatch: %s", kind, got)
		}
	}
}

func TestUnsupported(t *testing.T) {
	if _, err := WrapWriter("lz4", io.Discard); err == nil {
		t.Fatalf("expected error for unsupported compression")
	}
}

func TestParse(t *testing.T) {
	cases := map[string]string{
		"":      TypeNone,
		"NONE":  TypeNone,
		"GZIP":  TypeGzip,
		"gz":    TypeGzip,
		" zstd": TypeZstd,
	}
	for in, want := range cases {
		got, err := Parse(in)
		if err != nil || got != want {
			t.Fatalf("Parse(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := Parse("SNAPPY"); err == nil {
		t.Fatal("SNAPPY is not a stream codec")
	}
}

func TestTrimSuffix(t *testing.T) {
	cases := map[string]string{
		"a.csv.gz":  "a.csv",
		"a.csv.zst": "a.csv",
		"a.csv":     "a.csv",
		"gz":        "gz",
	}
	for in, want := range cases {
		if got := TrimSuffix(in); got != want {
			t.Fatalf("TrimSuffix(%q) = %q, want %q", in, got, want)
		}
	}
}
