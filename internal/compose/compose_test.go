package compose

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/rowjay/wdlkit/internal/storage/storagetest"
)

func seed(store *storagetest.Memory, n int) ([]string, string) {
	var names []string
	var want strings.Builder
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("parts/p-%05d.csv", i)
		line := fmt.Sprintf("row %d\n", i)
		store.Set("bkt", name, []byte(line))
		names = append(names, name)
		want.WriteString(line)
	}
	return names, want.String()
}

func TestComposeConcatenatesInOrder(t *testing.T) {
	for _, n := range []int{1, 2, 31, 32, 33, 64, 65, 1025, 1100} {
		t.Run(fmt.Sprint(n), func(t *testing.T) {
			ctx := context.Background()
			store := storagetest.NewMemory()
			srcs, want := seed(store, n)

			if _, err := Compose(ctx, store, "bkt", "out/merged.csv", srcs, Options{ContentType: "text/plain"}); err != nil {
				t.Fatalf("compose: %v", err)
			}
			got, ok := store.Bytes("bkt", "out/merged.csv")
			if !ok || string(got) != want {
				t.Fatalf("content mismatch for n=%d", n)
			}
			if store.MaxFanIn > MaxComposeSources {
				t.Fatalf("compose call with %d sources exceeds limit", store.MaxFanIn)
			}
			for _, name := range store.Names("bkt") {
				if strings.HasSuffix(name, ".tmp") {
					t.Fatalf("temporary left behind: %s", name)
				}
			}
			// Sources are kept unless asked otherwise.
			if len(store.Names("bkt")) != n+1 {
				t.Fatalf("expected %d objects, got %d", n+1, len(store.Names("bkt")))
			}
		})
	}
}

func TestComposeDeleteSources(t *testing.T) {
	ctx := context.Background()
	store := storagetest.NewMemory()
	srcs, want := seed(store, 70)
	if _, err := Compose(ctx, store, "bkt", "merged.csv", srcs, Options{DeleteSources: true}); err != nil {
		t.Fatalf("compose: %v", err)
	}
	names := store.Names("bkt")
	if len(names) != 1 || names[0] != "merged.csv" {
		t.Fatalf("expected only the destination, got %v", names)
	}
	got, _ := store.Bytes("bkt", "merged.csv")
	if string(got) != want {
		t.Fatalf("content mismatch")
	}
}

func TestComposeHeader(t *testing.T) {
	ctx := context.Background()
	store := storagetest.NewMemory()
	store.Set("bkt", "t-000000000000.csv", []byte("1,2\n"))
	store.Set("bkt", "t-000000000001.csv", []byte("3,4\n"))

	_, err := ComposePrefix(ctx, store, "bkt", "t-", "", "t.csv", Options{Header: []byte("a,b\n")})
	if err != nil {
		t.Fatalf("compose: %v", err)
	}
	got, _ := store.Bytes("bkt", "t.csv")
	if string(got) != "a,b\n1,2\n3,4\n" {
		t.Fatalf("unexpected content %q", got)
	}
	if _, ok := store.Bytes("bkt", "t.csv.header"); ok {
		t.Fatalf("header object should be deleted")
	}
}

func TestComposeEmptySelection(t *testing.T) {
	ctx := context.Background()
	store := storagetest.NewMemory()
	_, err := ComposePrefix(ctx, store, "bkt", "nothing/", "/", "out.csv", Options{})
	if !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection, got %v", err)
	}
	if !strings.Contains(err.Error(), `"nothing/"`) || !strings.Contains(err.Error(), `"/"`) {
		t.Fatalf("error should name prefix and delimiter: %v", err)
	}
	if _, err := Compose(ctx, store, "bkt", "out.csv", nil, Options{}); !errors.Is(err, ErrEmptySelection) {
		t.Fatalf("expected ErrEmptySelection for empty list, got %v", err)
	}
}

func TestTempNamesAreSequential(t *testing.T) {
	c := &composer{dst: "out.csv"}
	if a, b := c.tempName(), c.tempName(); a != "out.csv_0000.tmp" || b != "out.csv_0001.tmp" {
		t.Fatalf("unexpected names %s %s", a, b)
	}
}
