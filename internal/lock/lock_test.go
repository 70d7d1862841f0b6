package lock

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
)

func TestAcquireTwice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "locks", "ds.lock")
	first, err := Acquire(path)
	if err != nil {
		t.Fatalf("first acquire: %v", err)
	}
	if first.Path() != path {
		t.Fatalf("path %s", first.Path())
	}
	if _, err := Acquire(path); !errors.Is(err, ErrHeld) {
		t.Fatalf("expected ErrHeld, got %v", err)
	}
	if err := first.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	again, err := Acquire(path)
	if err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
	_ = again.Release()
}

func TestReleaseNil(t *testing.T) {
	var l *Lock
	if err := l.Release(); err != nil {
		t.Fatal(err)
	}
}

func TestPathFor(t *testing.T) {
	p := PathFor("proj", "sales")
	if !strings.HasSuffix(p, "wdlkit-proj.sales.lock") {
		t.Fatalf("unexpected lock path %s", p)
	}
	if p := PathFor("org:proj", "a/b"); !strings.HasSuffix(p, "wdlkit-org_proj.a_b.lock") {
		t.Fatalf("unexpected lock path %s", p)
	}
}
