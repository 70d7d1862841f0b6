// Package compress wraps manifest and object streams in gzip or zstd. The
// codec is picked from a name suffix (.gz, .zst) or from a configured name.
package compress

import (
	"bytes"
	"compress/gzip"
	"fmt"
	"io"
	"strings"

	"github.com/klauspost/compress/zstd"
)

const (
	TypeNone = "none"
	TypeGzip = "gzip"
	TypeZstd = "zstd"
)

var suffixes = map[string]string{
	TypeGzip: ".gz",
	TypeZstd: ".zst",
}

// Parse normalizes a configured compression name. Upper-case BigQuery
// spellings such as GZIP and NONE are accepted.
func Parse(name string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "", TypeNone:
		return TypeNone, nil
	case TypeGzip, "gz":
		return TypeGzip, nil
	case TypeZstd, "zst":
		return TypeZstd, nil
	}
	return "", fmt.Errorf("unsupported compression: %s", name)
}

// FromPath picks the compression for a file or object name by its suffix.
func FromPath(path string) string {
	for kind, suffix := range suffixes {
		if strings.HasSuffix(path, suffix) {
			return kind
		}
	}
	return TypeNone
}

// TrimSuffix drops a compression suffix from path.
func TrimSuffix(path string) string {
	return strings.TrimSuffix(path, suffixes[FromPath(path)])
}

func WrapWriter(kind string, w io.Writer) (io.WriteCloser, error) {
	kind, err := Parse(kind)
	if err != nil {
		return nil, err
	}
	switch kind {
	case TypeGzip:
		return gzip.NewWriter(w), nil
	case TypeZstd:
		return zstd.NewWriter(w)
	}
	return nopWriteCloser{w}, nil
}

func WrapReader(kind string, r io.Reader) (io.ReadCloser, error) {
	kind, err := Parse(kind)
	if err != nil {
		return nil, err
	}
	switch kind {
	case TypeGzip:
		return gzip.NewReader(r)
	case TypeZstd:
		dec, err := zstd.NewReader(r, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		return dec.IOReadCloser(), nil
	}
	return io.NopCloser(r), nil
}

// Bytes compresses payload in one shot.
func Bytes(kind string, payload []byte) ([]byte, error) {
	var buf bytes.Buffer
	w, err := WrapWriter(kind, &buf)
	if err != nil {
		return nil, err
	}
	if _, err := w.Write(payload); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
