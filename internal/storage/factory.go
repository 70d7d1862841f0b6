package storage

import (
	"fmt"
	"sync"

	"github.com/rowjay/wdlkit/internal/config"
)

// Resolver locates the Store serving a URI.
type Resolver interface {
	Resolve(raw string) (Store, URI, error)
}

// Router picks the Store for a URI scheme. The S3 client is built on first
// use so gs:// only runs never need S3 settings.
type Router struct {
	GCS   Store
	Local Store

	s3cfg config.S3Store
	once  sync.Once
	s3    Store
	s3err error
}

func NewRouter(gcsStore Store, cfg config.StorageConfig) *Router {
	return &Router{GCS: gcsStore, Local: NewLocal(cfg.Local), s3cfg: cfg.S3}
}

// WithS3 installs a prebuilt S3 store.
func (r *Router) WithS3(store Store) *Router {
	r.once.Do(func() { r.s3 = store })
	return r
}

func (r *Router) For(scheme string) (Store, error) {
	switch scheme {
	case SchemeGCS:
		if r.GCS == nil {
			return nil, fmt.Errorf("no gcs client configured")
		}
		return r.GCS, nil
	case SchemeS3:
		r.once.Do(func() { r.s3, r.s3err = NewS3(r.s3cfg) })
		return r.s3, r.s3err
	case SchemeLocal, "":
		return r.Local, nil
	default:
		return nil, fmt.Errorf("unsupported storage scheme: %s", scheme)
	}
}

// Resolve parses raw and returns its Store alongside the parsed URI.
func (r *Router) Resolve(raw string) (Store, URI, error) {
	u, err := ParseURI(raw)
	if err != nil {
		return nil, URI{}, err
	}
	store, err := r.For(u.Scheme)
	return store, u, err
}
