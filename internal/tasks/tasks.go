// Package tasks implements the single-call glue commands WDL workflows run
// against BigQuery, object storage and Cloud SQL. Each task takes a decoded
// JSON configuration, writes its result files into Dir and prints anything
// else to Out.
package tasks

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rowjay/wdlkit/internal/bq"
	"github.com/rowjay/wdlkit/internal/cloudsql"
	"github.com/rowjay/wdlkit/internal/storage"
)

// BucketGranter adds an IAM binding on a bucket.
type BucketGranter interface {
	GrantBucketRole(ctx context.Context, bucket, role, member string) error
}

type Runner struct {
	BQ      bq.Service
	SQL     cloudsql.Service
	Objects storage.Resolver
	Buckets BucketGranter

	// Dir receives result files such as table.json; empty means the
	// working directory.
	Dir string
	Out io.Writer
}

func (r *Runner) path(name string) string {
	return filepath.Join(r.Dir, name)
}

func (r *Runner) out() io.Writer {
	if r.Out == nil {
		return os.Stdout
	}
	return r.Out
}

// writeJSON stores v as indented JSON with sorted keys.
func (r *Runner) writeJSON(name string, v any) error {
	data, err := sortedJSON(v)
	if err != nil {
		return err
	}
	if err := os.WriteFile(r.path(name), append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", name, err)
	}
	return nil
}

func (r *Runner) printJSON(v any) error {
	data, err := sortedJSON(v)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(r.out(), string(data))
	return err
}

func sortedJSON(v any) ([]byte, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, err
	}
	return json.MarshalIndent(generic, "", "  ")
}

func boolOr(v *bool, def bool) bool {
	if v == nil {
		return def
	}
	return *v
}

func stringOr(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// bucketURI joins an object name onto a bucket given either as a bare GCS
// bucket name or as a scheme://bucket URI.
func bucketURI(bucket, name string) string {
	if strings.Contains(bucket, "://") {
		return strings.TrimSuffix(bucket, "/") + "/" + name
	}
	return storage.SchemeGCS + "://" + bucket + "/" + name
}

func ignoreNotFound(err error) error {
	if errors.Is(err, bq.ErrNotFound) || errors.Is(err, cloudsql.ErrNotFound) {
		return nil
	}
	return err
}
