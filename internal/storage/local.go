package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Local is a filesystem-backed Store. Buckets are subdirectories of
// BasePath; an empty bucket addresses BasePath itself.
type Local struct {
	BasePath string
}

func NewLocal(path string) *Local {
	if path == "" {
		path = "."
	}
	return &Local{BasePath: path}
}

func (l *Local) path(bucket, name string) string {
	return filepath.Join(l.BasePath, filepath.FromSlash(bucket), filepath.FromSlash(name))
}

func (l *Local) Put(ctx context.Context, bucket, name string, reader io.Reader, opts PutOptions) (ObjectInfo, error) {
	select {
	case <-ctx.Done():
		return ObjectInfo{}, ctx.Err()
	default:
	}

	target := l.path(bucket, name)
	if err := os.MkdirAll(filepath.Dir(target), 0o750); err != nil {
		return ObjectInfo{}, fmt.Errorf("create directories: %w", err)
	}

	file, err := os.OpenFile(target, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return ObjectInfo{}, err
	}
	if _, err := io.Copy(file, reader); err != nil {
		file.Close()
		return ObjectInfo{}, err
	}
	if err := file.Close(); err != nil {
		return ObjectInfo{}, err
	}
	info, err := l.Stat(ctx, bucket, name)
	info.ContentType = opts.ContentType
	return info, err
}

func (l *Local) Get(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}
	f, err := os.Open(l.path(bucket, name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%s: %w", URI{Scheme: SchemeLocal, Bucket: bucket, Name: name}, ErrNotExist)
	}
	return f, err
}

func (l *Local) Stat(ctx context.Context, bucket, name string) (ObjectInfo, error) {
	select {
	case <-ctx.Done():
		return ObjectInfo{}, ctx.Err()
	default:
	}
	info, err := os.Stat(l.path(bucket, name))
	if errors.Is(err, fs.ErrNotExist) {
		return ObjectInfo{}, fmt.Errorf("%s: %w", URI{Scheme: SchemeLocal, Bucket: bucket, Name: name}, ErrNotExist)
	}
	if err != nil {
		return ObjectInfo{}, err
	}
	return ObjectInfo{Scheme: SchemeLocal, Bucket: bucket, Name: name, Size: info.Size(), Updated: info.ModTime()}, nil
}

func (l *Local) List(ctx context.Context, bucket, prefix, delimiter string) ([]ObjectInfo, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	root := l.path(bucket, "")
	infos := []ObjectInfo{}
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}
		key := filepath.ToSlash(rel)
		if !strings.HasPrefix(key, prefix) {
			return nil
		}
		if delimiter != "" && strings.Contains(key[len(prefix):], delimiter) {
			return nil
		}
		stat, err := d.Info()
		if err != nil {
			return err
		}
		infos = append(infos, ObjectInfo{Scheme: SchemeLocal, Bucket: bucket, Name: key, Size: stat.Size(), Updated: stat.ModTime()})
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (l *Local) Compose(ctx context.Context, bucket, dst string, srcs []string, contentType string) (ObjectInfo, error) {
	readers := make([]io.Reader, 0, len(srcs))
	for _, src := range srcs {
		r, err := l.Get(ctx, bucket, src)
		if err != nil {
			return ObjectInfo{}, err
		}
		defer r.Close()
		readers = append(readers, r)
	}
	// Write to a sibling first: dst may also be one of the sources.
	tmp := dst + ".compose"
	if _, err := l.Put(ctx, bucket, tmp, io.MultiReader(readers...), PutOptions{ContentType: contentType}); err != nil {
		return ObjectInfo{}, err
	}
	if err := os.Rename(l.path(bucket, tmp), l.path(bucket, dst)); err != nil {
		return ObjectInfo{}, err
	}
	info, err := l.Stat(ctx, bucket, dst)
	info.ContentType = contentType
	return info, err
}

func (l *Local) Delete(ctx context.Context, bucket, name string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}
	err := os.Remove(l.path(bucket, name))
	if errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%s: %w", URI{Scheme: SchemeLocal, Bucket: bucket, Name: name}, ErrNotExist)
	}
	return err
}
