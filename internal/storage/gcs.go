package storage

import (
	"context"
	"errors"
	"fmt"
	"io"

	"cloud.google.com/go/iam/apiv1/iampb"
	gcs "cloud.google.com/go/storage"
	"google.golang.org/api/iterator"
)

// GCS serves gs:// URIs.
type GCS struct {
	Client *gcs.Client
}

func NewGCS(client *gcs.Client) *GCS {
	return &GCS{Client: client}
}

func (g *GCS) Put(ctx context.Context, bucket, name string, reader io.Reader, opts PutOptions) (ObjectInfo, error) {
	w := g.Client.Bucket(bucket).Object(name).NewWriter(ctx)
	w.ContentType = opts.ContentType
	w.Metadata = opts.Metadata
	if _, err := io.Copy(w, reader); err != nil {
		w.Close()
		return ObjectInfo{}, fmt.Errorf("upload %s: %w", URI{Scheme: SchemeGCS, Bucket: bucket, Name: name}, err)
	}
	if err := w.Close(); err != nil {
		return ObjectInfo{}, g.wrap(bucket, name, err)
	}
	return fromAttrs(w.Attrs()), nil
}

func (g *GCS) Get(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	r, err := g.Client.Bucket(bucket).Object(name).NewReader(ctx)
	if err != nil {
		return nil, g.wrap(bucket, name, err)
	}
	return r, nil
}

func (g *GCS) Stat(ctx context.Context, bucket, name string) (ObjectInfo, error) {
	attrs, err := g.Client.Bucket(bucket).Object(name).Attrs(ctx)
	if err != nil {
		return ObjectInfo{}, g.wrap(bucket, name, err)
	}
	return fromAttrs(attrs), nil
}

func (g *GCS) List(ctx context.Context, bucket, prefix, delimiter string) ([]ObjectInfo, error) {
	it := g.Client.Bucket(bucket).Objects(ctx, &gcs.Query{Prefix: prefix, Delimiter: delimiter})
	infos := []ObjectInfo{}
	for {
		attrs, err := it.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, g.wrap(bucket, prefix, err)
		}
		// Synthetic prefix entries carry no object.
		if attrs.Name == "" {
			continue
		}
		infos = append(infos, fromAttrs(attrs))
	}
	return infos, nil
}

func (g *GCS) Compose(ctx context.Context, bucket, dst string, srcs []string, contentType string) (ObjectInfo, error) {
	b := g.Client.Bucket(bucket)
	handles := make([]*gcs.ObjectHandle, 0, len(srcs))
	for _, src := range srcs {
		handles = append(handles, b.Object(src))
	}
	composer := b.Object(dst).ComposerFrom(handles...)
	composer.ContentType = contentType
	attrs, err := composer.Run(ctx)
	if err != nil {
		return ObjectInfo{}, g.wrap(bucket, dst, err)
	}
	return fromAttrs(attrs), nil
}

func (g *GCS) Delete(ctx context.Context, bucket, name string) error {
	return g.wrap(bucket, name, g.Client.Bucket(bucket).Object(name).Delete(ctx))
}

// GrantBucketRole adds member to role on the bucket's IAM policy. Cloud SQL
// imports need the instance service account to read the bucket.
func (g *GCS) GrantBucketRole(ctx context.Context, bucket, role, member string) error {
	handle := g.Client.Bucket(bucket).IAM().V3()
	policy, err := handle.Policy(ctx)
	if err != nil {
		return fmt.Errorf("get IAM policy for %s: %w", bucket, err)
	}
	for _, binding := range policy.Bindings {
		if binding.Role != role {
			continue
		}
		for _, m := range binding.Members {
			if m == member {
				return nil
			}
		}
	}
	policy.Bindings = append(policy.Bindings, &iampb.Binding{Role: role, Members: []string{member}})
	if err := handle.SetPolicy(ctx, policy); err != nil {
		return fmt.Errorf("set IAM policy for %s: %w", bucket, err)
	}
	return nil
}

func (g *GCS) wrap(bucket, name string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, gcs.ErrObjectNotExist) || errors.Is(err, gcs.ErrBucketNotExist) {
		return fmt.Errorf("%s: %w", URI{Scheme: SchemeGCS, Bucket: bucket, Name: name}, ErrNotExist)
	}
	return err
}

func fromAttrs(attrs *gcs.ObjectAttrs) ObjectInfo {
	if attrs == nil {
		return ObjectInfo{Scheme: SchemeGCS}
	}
	return ObjectInfo{
		Scheme:      SchemeGCS,
		Bucket:      attrs.Bucket,
		Name:        attrs.Name,
		Size:        attrs.Size,
		Updated:     attrs.Updated,
		ContentType: attrs.ContentType,
		ETag:        attrs.Etag,
		Metadata:    attrs.Metadata,
	}
}
