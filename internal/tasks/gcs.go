package tasks

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rowjay/wdlkit/internal/compose"
	"github.com/rowjay/wdlkit/internal/compress"
	"github.com/rowjay/wdlkit/internal/cryptoutil"
	"github.com/rowjay/wdlkit/internal/storage"
	"github.com/rowjay/wdlkit/internal/util"
)

type ComposeConfig struct {
	// Destination is the URI of the composed object.
	Destination     string `json:"destination"`
	SourcePrefix    string `json:"sourcePrefix"`
	SourceDelimiter string `json:"sourceDelimiter"`
	DeleteSources   bool   `json:"deleteSources"`
}

// Compose concatenates every object under the prefix, in name order, into
// the destination and prints the destination's attributes.
func (r *Runner) Compose(ctx context.Context, cfg ComposeConfig) (storage.ObjectInfo, error) {
	store, dst, err := r.Objects.Resolve(cfg.Destination)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := compose.ComposePrefix(ctx, store, dst.Bucket, cfg.SourcePrefix, cfg.SourceDelimiter, dst.Name, compose.Options{
		DeleteSources: cfg.DeleteSources,
	})
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	return info, r.printJSON(info)
}

type DownloadConfig struct {
	// SourceBucket is a bucket name or a scheme://bucket URI.
	SourceBucket    string `json:"sourceBucket"`
	SourcePrefix    string `json:"sourcePrefix"`
	SourceDelimiter string `json:"sourceDelimiter"`
	DeleteSources   bool   `json:"deleteSources"`
	// KeepPrefix names a/b/c.txt as a_b_c.txt instead of c.txt.
	KeepPrefix bool `json:"keepPrefix"`
	// EncryptionKey decrypts objects written by an encrypted upload.
	EncryptionKey string `json:"encryptionKey"`
	// Decompress inflates .gz and .zst objects and drops the suffix.
	Decompress bool `json:"decompress"`
}

// Download copies every object under the prefix into Dir and prints the
// local file names.
func (r *Runner) Download(ctx context.Context, cfg DownloadConfig) ([]string, error) {
	store, src, err := r.Objects.Resolve(bucketURI(cfg.SourceBucket, cfg.SourcePrefix))
	if err != nil {
		return nil, err
	}
	names, err := compose.Select(ctx, store, src.Bucket, src.Name, cfg.SourceDelimiter)
	if err != nil {
		return nil, err
	}
	key, err := cryptoutil.OptionalKey(cfg.EncryptionKey)
	if err != nil {
		return nil, err
	}

	// One object at a time; WDL scatters downloads across tasks instead.
	files := make([]string, 0, len(names))
	for _, name := range names {
		local := util.LocalName(name, cfg.KeepPrefix)
		kind := compress.TypeNone
		if cfg.Decompress {
			kind = compress.FromPath(local)
			local = compress.TrimSuffix(local)
		}
		if err := r.downloadObject(ctx, store, src.Bucket, name, local, key, kind); err != nil {
			return nil, err
		}
		zerolog.Ctx(ctx).Debug().Str("object", name).Str("file", local).Msg("downloaded")
		files = append(files, local)
	}

	if cfg.DeleteSources {
		for _, name := range names {
			if err := store.Delete(ctx, src.Bucket, name); err != nil {
				return files, fmt.Errorf("delete source %s: %w", name, err)
			}
		}
	}
	return files, r.printJSON(files)
}

func (r *Runner) downloadObject(ctx context.Context, store storage.Store, bucket, name, local string, key []byte, kind string) error {
	if key == nil {
		info, err := store.Stat(ctx, bucket, name)
		if err != nil {
			return err
		}
		if cryptoutil.IsEncrypted(info.Metadata) {
			return fmt.Errorf("object %s is encrypted and no encryptionKey was given", name)
		}
	}
	reader, err := store.Get(ctx, bucket, name)
	if err != nil {
		return err
	}
	defer reader.Close()

	payload := io.Reader(reader)
	if key != nil {
		if payload, err = cryptoutil.DecryptReader(payload, key); err != nil {
			return fmt.Errorf("decrypt %s: %w", name, err)
		}
	}
	plain, err := compress.WrapReader(kind, payload)
	if err != nil {
		return err
	}
	defer plain.Close()

	f, err := os.Create(r.path(local))
	if err != nil {
		return err
	}
	if _, err := io.Copy(f, plain); err != nil {
		f.Close()
		return fmt.Errorf("download %s: %w", name, err)
	}
	return f.Close()
}

type UploadConfig struct {
	// SourceBucket is a bucket name or a scheme://bucket URI.
	SourceBucket string `json:"sourceBucket"`
	// SourcePrefix is the object name written.
	SourcePrefix string `json:"sourcePrefix"`
	SourceFile   string `json:"sourceFile"`
	// Compression is gzip, zstd or none, in either case.
	Compression   string `json:"compression"`
	EncryptionKey string `json:"encryptionKey"`
}

// Upload streams a local file to the object store, compressing and then
// encrypting it on the way when asked to.
func (r *Runner) Upload(ctx context.Context, cfg UploadConfig) (storage.ObjectInfo, error) {
	store, dst, err := r.Objects.Resolve(bucketURI(cfg.SourceBucket, cfg.SourcePrefix))
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	key, err := cryptoutil.OptionalKey(cfg.EncryptionKey)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	kind, err := compress.Parse(cfg.Compression)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	file, err := os.Open(cfg.SourceFile)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	defer file.Close()

	pipeReader, pipeWriter := io.Pipe()
	eg, egCtx := errgroup.WithContext(ctx)

	var info storage.ObjectInfo
	eg.Go(func() error {
		defer pipeReader.Close()
		var err error
		info, err = store.Put(egCtx, dst.Bucket, dst.Name, pipeReader, storage.PutOptions{
			Metadata: cryptoutil.ObjectMetadata(key != nil),
		})
		return err
	})

	eg.Go(func() error {
		writer := io.Writer(pipeWriter)
		closers := []io.Closer{pipeWriter}
		if key != nil {
			encWriter, err := cryptoutil.EncryptWriter(writer, key)
			if err != nil {
				_ = pipeWriter.CloseWithError(err)
				return err
			}
			writer = encWriter
			closers = append(closers, encWriter)
		}
		if kind != compress.TypeNone {
			compWriter, err := compress.WrapWriter(kind, writer)
			if err != nil {
				_ = pipeWriter.CloseWithError(err)
				return err
			}
			writer = compWriter
			closers = append(closers, compWriter)
		}
		if _, err := io.Copy(writer, file); err != nil {
			_ = pipeWriter.CloseWithError(err)
			return err
		}
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i].Close(); err != nil {
				_ = pipeWriter.CloseWithError(err)
				return err
			}
		}
		return nil
	})

	if err := eg.Wait(); err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("upload %s: %w", cfg.SourceFile, err)
	}
	return info, r.printJSON(info)
}
