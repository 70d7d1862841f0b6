// Package storagetest provides an in-memory storage.Store for tests.
package storagetest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rowjay/wdlkit/internal/storage"
)

type object struct {
	data        []byte
	contentType string
	metadata    map[string]string
	updated     time.Time
}

// Memory is a goroutine-safe Store. It records compose fan-in so tests can
// assert the per-call limit.
type Memory struct {
	Scheme string

	mu           sync.Mutex
	objects      map[string]object
	ComposeCalls int
	MaxFanIn     int
}

func NewMemory() *Memory {
	return &Memory{Scheme: storage.SchemeGCS, objects: map[string]object{}}
}

func key(bucket, name string) string { return bucket + "/" + name }

func (m *Memory) info(bucket, name string, o object) storage.ObjectInfo {
	return storage.ObjectInfo{
		Scheme:      m.Scheme,
		Bucket:      bucket,
		Name:        name,
		Size:        int64(len(o.data)),
		Updated:     o.updated,
		ContentType: o.contentType,
		Metadata:    o.metadata,
	}
}

func (m *Memory) notExist(bucket, name string) error {
	return fmt.Errorf("%s: %w", storage.URI{Scheme: m.Scheme, Bucket: bucket, Name: name}, storage.ErrNotExist)
}

// Set stores data directly.
func (m *Memory) Set(bucket, name string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key(bucket, name)] = object{data: append([]byte(nil), data...), updated: time.Now()}
}

// Bytes returns the content of an object, or false if absent.
func (m *Memory) Bytes(bucket, name string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key(bucket, name)]
	return o.data, ok
}

// Names lists every object name in bucket, sorted.
func (m *Memory) Names(bucket string) []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	var names []string
	for k := range m.objects {
		if b, name, _ := strings.Cut(k, "/"); b == bucket {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	return names
}

func (m *Memory) Put(ctx context.Context, bucket, name string, reader io.Reader, opts storage.PutOptions) (storage.ObjectInfo, error) {
	data, err := io.ReadAll(reader)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	o := object{data: data, contentType: opts.ContentType, metadata: opts.Metadata, updated: time.Now()}
	m.objects[key(bucket, name)] = o
	return m.info(bucket, name, o), nil
}

func (m *Memory) Get(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key(bucket, name)]
	if !ok {
		return nil, m.notExist(bucket, name)
	}
	return io.NopCloser(bytes.NewReader(o.data)), nil
}

func (m *Memory) Stat(ctx context.Context, bucket, name string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.objects[key(bucket, name)]
	if !ok {
		return storage.ObjectInfo{}, m.notExist(bucket, name)
	}
	return m.info(bucket, name, o), nil
}

func (m *Memory) List(ctx context.Context, bucket, prefix, delimiter string) ([]storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := []storage.ObjectInfo{}
	for k, o := range m.objects {
		b, name, _ := strings.Cut(k, "/")
		if b != bucket || !strings.HasPrefix(name, prefix) {
			continue
		}
		if delimiter != "" && strings.Contains(name[len(prefix):], delimiter) {
			continue
		}
		infos = append(infos, m.info(bucket, name, o))
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Name < infos[j].Name })
	return infos, nil
}

func (m *Memory) Compose(ctx context.Context, bucket, dst string, srcs []string, contentType string) (storage.ObjectInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ComposeCalls++
	if len(srcs) > m.MaxFanIn {
		m.MaxFanIn = len(srcs)
	}
	var buf bytes.Buffer
	for _, src := range srcs {
		o, ok := m.objects[key(bucket, src)]
		if !ok {
			return storage.ObjectInfo{}, m.notExist(bucket, src)
		}
		buf.Write(o.data)
	}
	o := object{data: buf.Bytes(), contentType: contentType, updated: time.Now()}
	m.objects[key(bucket, dst)] = o
	return m.info(bucket, dst, o), nil
}

func (m *Memory) Delete(ctx context.Context, bucket, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := key(bucket, name)
	if _, ok := m.objects[k]; !ok {
		return m.notExist(bucket, name)
	}
	delete(m.objects, k)
	return nil
}

// Resolver serves every URI from one Store.
type Resolver struct {
	Store storage.Store
}

func (r Resolver) Resolve(raw string) (storage.Store, storage.URI, error) {
	u, err := storage.ParseURI(raw)
	if err != nil {
		return nil, storage.URI{}, err
	}
	return r.Store, u, nil
}
