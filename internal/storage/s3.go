package storage

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/rowjay/wdlkit/internal/config"
)

// S3 serves s3:// URIs through any S3-compatible endpoint.
type S3 struct {
	Client *minio.Client
}

func NewS3(cfg config.S3Store) (*S3, error) {
	if cfg.Endpoint == "" {
		return nil, fmt.Errorf("s3 endpoint is required")
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	if cfg.TLSInsecureSkip {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}
	lookup := minio.BucketLookupDNS
	if cfg.ForcePathStyle {
		lookup = minio.BucketLookupPath
	}
	client, err := minio.New(cfg.Endpoint, &minio.Options{
		Creds:        credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, cfg.SessionToken),
		Secure:       cfg.UseSSL,
		Region:       cfg.Region,
		Transport:    transport,
		BucketLookup: lookup,
	})
	if err != nil {
		return nil, err
	}
	return &S3{Client: client}, nil
}

func (s *S3) Put(ctx context.Context, bucket, name string, reader io.Reader, opts PutOptions) (ObjectInfo, error) {
	info, err := s.Client.PutObject(ctx, bucket, name, reader, -1, minio.PutObjectOptions{
		ContentType:  opts.ContentType,
		UserMetadata: opts.Metadata,
	})
	if err != nil {
		return ObjectInfo{}, s.wrap(bucket, name, err)
	}
	return ObjectInfo{Scheme: SchemeS3, Bucket: bucket, Name: name, Size: info.Size, Updated: info.LastModified, ETag: info.ETag, ContentType: opts.ContentType}, nil
}

func (s *S3) Get(ctx context.Context, bucket, name string) (io.ReadCloser, error) {
	// GetObject is lazy; stat first so a missing key surfaces here.
	if _, err := s.Stat(ctx, bucket, name); err != nil {
		return nil, err
	}
	obj, err := s.Client.GetObject(ctx, bucket, name, minio.GetObjectOptions{})
	if err != nil {
		return nil, s.wrap(bucket, name, err)
	}
	return obj, nil
}

func (s *S3) Stat(ctx context.Context, bucket, name string) (ObjectInfo, error) {
	stat, err := s.Client.StatObject(ctx, bucket, name, minio.StatObjectOptions{})
	if err != nil {
		return ObjectInfo{}, s.wrap(bucket, name, err)
	}
	return ObjectInfo{
		Scheme:      SchemeS3,
		Bucket:      bucket,
		Name:        name,
		Size:        stat.Size,
		Updated:     stat.LastModified,
		ContentType: stat.ContentType,
		ETag:        stat.ETag,
		Metadata:    stat.UserMetadata,
	}, nil
}

func (s *S3) List(ctx context.Context, bucket, prefix, delimiter string) ([]ObjectInfo, error) {
	// minio only understands "/" as a delimiter.
	ch := s.Client.ListObjects(ctx, bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: delimiter == ""})
	infos := []ObjectInfo{}
	for obj := range ch {
		if obj.Err != nil {
			return nil, s.wrap(bucket, prefix, obj.Err)
		}
		if obj.Size == 0 && len(obj.Key) > 0 && obj.Key[len(obj.Key)-1] == '/' {
			continue
		}
		infos = append(infos, ObjectInfo{Scheme: SchemeS3, Bucket: bucket, Name: obj.Key, Size: obj.Size, Updated: obj.LastModified, ETag: obj.ETag})
	}
	return infos, nil
}

func (s *S3) Compose(ctx context.Context, bucket, dst string, srcs []string, contentType string) (ObjectInfo, error) {
	sources := make([]minio.CopySrcOptions, 0, len(srcs))
	for _, src := range srcs {
		sources = append(sources, minio.CopySrcOptions{Bucket: bucket, Object: src})
	}
	dest := minio.CopyDestOptions{Bucket: bucket, Object: dst}
	if contentType != "" {
		dest.ReplaceMetadata = true
		dest.UserMetadata = map[string]string{"Content-Type": contentType}
	}
	info, err := s.Client.ComposeObject(ctx, dest, sources...)
	if err != nil {
		return ObjectInfo{}, s.wrap(bucket, dst, err)
	}
	return ObjectInfo{Scheme: SchemeS3, Bucket: bucket, Name: dst, Size: info.Size, Updated: info.LastModified, ETag: info.ETag, ContentType: contentType}, nil
}

func (s *S3) Delete(ctx context.Context, bucket, name string) error {
	if _, err := s.Stat(ctx, bucket, name); err != nil {
		return err
	}
	return s.wrap(bucket, name, s.Client.RemoveObject(ctx, bucket, name, minio.RemoveObjectOptions{}))
}

func (s *S3) wrap(bucket, name string, err error) error {
	if err == nil {
		return nil
	}
	switch minio.ToErrorResponse(err).Code {
	case "NoSuchKey", "NoSuchBucket":
		return fmt.Errorf("%s: %w", URI{Scheme: SchemeS3, Bucket: bucket, Name: name}, ErrNotExist)
	}
	return err
}
