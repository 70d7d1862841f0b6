package storage

import (
	"fmt"
	"path"
	"strings"
)

const (
	SchemeGCS   = "gs"
	SchemeS3    = "s3"
	SchemeLocal = "file"
)

// URI identifies an object as scheme://bucket/name. Bare paths are local files.
type URI struct {
	Scheme string
	Bucket string
	Name   string
}

// ParseURI parses gs://, s3:// and file:// URIs. Anything without a scheme
// is treated as a local path.
func ParseURI(raw string) (URI, error) {
	scheme, rest, ok := strings.Cut(raw, "://")
	if !ok {
		return URI{Scheme: SchemeLocal, Name: raw}, nil
	}
	switch scheme {
	case SchemeGCS, SchemeS3:
	case SchemeLocal:
		return URI{Scheme: SchemeLocal, Name: rest}, nil
	default:
		return URI{}, fmt.Errorf("parse URI %q: unsupported scheme %q", raw, scheme)
	}
	bucket, name, _ := strings.Cut(rest, "/")
	if bucket == "" {
		return URI{}, fmt.Errorf("parse URI %q: no bucket", raw)
	}
	return URI{Scheme: scheme, Bucket: bucket, Name: name}, nil
}

func (u URI) String() string {
	if u.Scheme == SchemeLocal || u.Scheme == "" {
		if u.Bucket == "" {
			return u.Name
		}
		return path.Join(u.Bucket, u.Name)
	}
	return fmt.Sprintf("%s://%s/%s", u.Scheme, u.Bucket, u.Name)
}

// Dir returns the URI of the enclosing "directory", without a trailing slash.
func (u URI) Dir() URI {
	dir := path.Dir(u.Name)
	if strings.HasSuffix(u.Name, "/") {
		dir = strings.TrimSuffix(u.Name, "/")
	}
	if dir == "." {
		dir = ""
	}
	return URI{Scheme: u.Scheme, Bucket: u.Bucket, Name: dir}
}

// Join appends elem to the URI's name.
func (u URI) Join(elem string) URI {
	if u.Name == "" {
		return URI{Scheme: u.Scheme, Bucket: u.Bucket, Name: elem}
	}
	return URI{Scheme: u.Scheme, Bucket: u.Bucket, Name: strings.TrimSuffix(u.Name, "/") + "/" + elem}
}
