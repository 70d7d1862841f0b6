// Package compose concatenates any number of stored objects into one,
// within the store's per-call fan-in limit.
package compose

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/rowjay/wdlkit/internal/storage"
)

// MaxComposeSources is the most objects a single compose call accepts.
const MaxComposeSources = 32

var ErrEmptySelection = errors.New("no objects selected")

type Options struct {
	// DeleteSources removes the inputs once the destination exists.
	DeleteSources bool
	// Header, when non-empty, is stored as <dst>.header and prepended.
	Header      []byte
	ContentType string
}

// Compose writes the ordered concatenation of srcs to dst.
func Compose(ctx context.Context, store storage.Store, bucket, dst string, srcs []string, opts Options) (storage.ObjectInfo, error) {
	if len(srcs) == 0 {
		return storage.ObjectInfo{}, fmt.Errorf("compose %s: %w", dst, ErrEmptySelection)
	}
	log := zerolog.Ctx(ctx)

	blobs := srcs
	header := ""
	if len(opts.Header) > 0 {
		header = dst + ".header"
		if _, err := store.Put(ctx, bucket, header, bytes.NewReader(opts.Header), storage.PutOptions{ContentType: opts.ContentType}); err != nil {
			return storage.ObjectInfo{}, fmt.Errorf("upload header %s: %w", header, err)
		}
		blobs = append([]string{header}, srcs...)
	}

	c := &composer{store: store, bucket: bucket, dst: dst, contentType: opts.ContentType}
	info, err := c.run(ctx, blobs)
	if err != nil {
		return storage.ObjectInfo{}, err
	}

	if header != "" {
		if err := store.Delete(ctx, bucket, header); err != nil {
			return info, fmt.Errorf("delete header %s: %w", header, err)
		}
	}
	if opts.DeleteSources {
		for _, src := range srcs {
			if src == dst {
				continue
			}
			if err := store.Delete(ctx, bucket, src); err != nil {
				return info, fmt.Errorf("delete source %s: %w", src, err)
			}
		}
	}
	log.Debug().Str("destination", dst).Int("sources", len(srcs)).Int("calls", c.calls).Msg("composed objects")
	return info, nil
}

// ComposePrefix composes every object under prefix, in name order.
func ComposePrefix(ctx context.Context, store storage.Store, bucket, prefix, delimiter, dst string, opts Options) (storage.ObjectInfo, error) {
	srcs, err := Select(ctx, store, bucket, prefix, delimiter)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	return Compose(ctx, store, bucket, dst, srcs, opts)
}

// Select lists object names under prefix. An empty result is an
// ErrEmptySelection naming the prefix and delimiter.
func Select(ctx context.Context, store storage.Store, bucket, prefix, delimiter string) ([]string, error) {
	infos, err := store.List(ctx, bucket, prefix, delimiter)
	if err != nil {
		return nil, fmt.Errorf("list %s/%s: %w", bucket, prefix, err)
	}
	if len(infos) == 0 {
		return nil, fmt.Errorf("%w: bucket %q prefix %q delimiter %q", ErrEmptySelection, bucket, prefix, delimiter)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		names = append(names, info.Name)
	}
	return names, nil
}

type composer struct {
	store       storage.Store
	bucket      string
	dst         string
	contentType string
	seq         int
	calls       int
}

func (c *composer) tempName() string {
	name := fmt.Sprintf("%s_%04d.tmp", c.dst, c.seq)
	c.seq++
	return name
}

// run reduces blobs in rounds of MaxComposeSources until one call can
// produce dst. Temporaries from a round are deleted as soon as the next
// round has consumed them.
func (c *composer) run(ctx context.Context, blobs []string) (storage.ObjectInfo, error) {
	var temps []string
	for len(blobs) > MaxComposeSources {
		var next []string
		for start := 0; start < len(blobs); start += MaxComposeSources {
			end := min(start+MaxComposeSources, len(blobs))
			tmp := c.tempName()
			if _, err := c.compose(ctx, tmp, blobs[start:end]); err != nil {
				return storage.ObjectInfo{}, err
			}
			next = append(next, tmp)
		}
		if err := c.delete(ctx, temps); err != nil {
			return storage.ObjectInfo{}, err
		}
		temps = next
		blobs = next
	}

	info, err := c.compose(ctx, c.dst, blobs)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	if err := c.delete(ctx, temps); err != nil {
		return info, err
	}
	return info, nil
}

func (c *composer) compose(ctx context.Context, dst string, srcs []string) (storage.ObjectInfo, error) {
	c.calls++
	info, err := c.store.Compose(ctx, c.bucket, dst, srcs, c.contentType)
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("compose %s from %d objects: %w", dst, len(srcs), err)
	}
	return info, nil
}

func (c *composer) delete(ctx context.Context, names []string) error {
	for _, name := range names {
		if err := c.store.Delete(ctx, c.bucket, name); err != nil {
			return fmt.Errorf("delete temporary %s: %w", name, err)
		}
	}
	return nil
}
