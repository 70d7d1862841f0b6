package storage

import (
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/rowjay/wdlkit/internal/config"
)

func TestLocalPutListCompose(t *testing.T) {
	ctx := context.Background()
	store := NewLocal(t.TempDir())

	for _, name := range []string{"exports/t-000.csv", "exports/t-001.csv", "exports/nested/x.csv", "other.csv"} {
		if _, err := store.Put(ctx, "bkt", name, strings.NewReader(name+"\n"), PutOptions{}); err != nil {
			t.Fatalf("put %s: %v", name, err)
		}
	}

	infos, err := store.List(ctx, "bkt", "exports/", "/")
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(infos) != 2 || infos[0].Name != "exports/t-000.csv" || infos[1].Name != "exports/t-001.csv" {
		t.Fatalf("unexpected list: %+v", infos)
	}
	all, err := store.List(ctx, "bkt", "exports/", "")
	if err != nil {
		t.Fatalf("list recursive: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 recursive entries, got %d", len(all))
	}

	info, err := store.Compose(ctx, "bkt", "exports/t.csv", []string{"exports/t-000.csv", "exports/t-001.csv"}, "text/csv")
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	if info.Size != int64(len("exports/t-000.csv\nexports/t-001.csv\n")) {
		t.Fatalf("unexpected composed size %d", info.Size)
	}
	r, err := store.Get(ctx, "bkt", "exports/t.csv")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	defer r.Close()
	data, _ := io.ReadAll(r)
	if string(data) != "exports/t-000.csv\nexports/t-001.csv\n" {
		t.Fatalf("unexpected content %q", data)
	}
}

func TestLocalMissingObject(t *testing.T) {
	ctx := context.Background()
	store := NewLocal(t.TempDir())
	if _, err := store.Get(ctx, "", "absent"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist from get, got %v", err)
	}
	if err := store.Delete(ctx, "", "absent"); !errors.Is(err, ErrNotExist) {
		t.Fatalf("expected ErrNotExist from delete, got %v", err)
	}
	infos, err := store.List(ctx, "nobucket", "", "")
	if err != nil || len(infos) != 0 {
		t.Fatalf("expected empty list, got %v %v", infos, err)
	}
}

func TestRouterSchemes(t *testing.T) {
	r := NewRouter(nil, config.StorageConfig{Local: t.TempDir()})
	if _, err := r.For(SchemeGCS); err == nil {
		t.Fatalf("expected error without gcs client")
	}
	store, u, err := r.Resolve("some/dir/file.txt")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if _, ok := store.(*Local); !ok || u.Name != "some/dir/file.txt" {
		t.Fatalf("unexpected resolve: %T %+v", store, u)
	}
	if _, err := r.For("ftp"); err == nil {
		t.Fatalf("expected unsupported scheme error")
	}
}
