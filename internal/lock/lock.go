// Package lock keeps two backups or restores of the same dataset from
// running at once on one host.
package lock

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/gofrs/flock"
)

// ErrHeld is returned when another run holds the dataset lock.
var ErrHeld = errors.New("another backup or restore of this dataset is running")

type Lock struct {
	path string
	file *flock.Flock
}

// PathFor returns the default lock path for a dataset.
func PathFor(project, dataset string) string {
	name := strings.NewReplacer(":", "_", "/", "_").Replace(project + "." + dataset)
	return filepath.Join(os.TempDir(), "wdlkit-"+name+".lock")
}

// Acquire takes the lock at path without waiting.
func Acquire(path string) (*Lock, error) {
	if path == "" {
		return nil, errors.New("lock path is required")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("lock dir: %w", err)
	}
	file := flock.New(path)
	ok, err := file.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !ok {
		return nil, fmt.Errorf("%w (lock: %s)", ErrHeld, path)
	}
	return &Lock{path: path, file: file}, nil
}

func (l *Lock) Path() string { return l.path }

// Release frees the lock. It is safe on a nil Lock.
func (l *Lock) Release() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Unlock()
}
