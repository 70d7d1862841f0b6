package storage

import (
	"context"
	"errors"
	"io"
	"time"
)

// ErrNotExist is returned (wrapped) when an object or bucket is absent.
var ErrNotExist = errors.New("object does not exist")

type ObjectInfo struct {
	Scheme      string            `json:"-"`
	Bucket      string            `json:"bucket"`
	Name        string            `json:"name"`
	Size        int64             `json:"size"`
	Updated     time.Time         `json:"updated"`
	ContentType string            `json:"contentType,omitempty"`
	ETag        string            `json:"etag,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// URI returns the object's fully qualified location.
func (o ObjectInfo) URI() string {
	return URI{Scheme: o.Scheme, Bucket: o.Bucket, Name: o.Name}.String()
}

type PutOptions struct {
	ContentType string
	Metadata    map[string]string
}

// Store is the object store capability the tools depend on. Implementations
// list objects in lexicographic name order.
type Store interface {
	Put(ctx context.Context, bucket, name string, reader io.Reader, opts PutOptions) (ObjectInfo, error)
	Get(ctx context.Context, bucket, name string) (io.ReadCloser, error)
	Stat(ctx context.Context, bucket, name string) (ObjectInfo, error)
	List(ctx context.Context, bucket, prefix, delimiter string) ([]ObjectInfo, error)
	// Compose concatenates srcs, in order, into dst. Callers keep len(srcs)
	// within the provider's fan-in limit.
	Compose(ctx context.Context, bucket, dst string, srcs []string, contentType string) (ObjectInfo, error)
	Delete(ctx context.Context, bucket, name string) error
}
