package app

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"google.golang.org/api/bigquery/v2"

	"github.com/rowjay/wdlkit/internal/compress"
	"github.com/rowjay/wdlkit/internal/storage"
	"github.com/rowjay/wdlkit/internal/util"
)

// Manifest describes one dataset backup. Table and dataset definitions are
// kept in their REST JSON form.
type Manifest struct {
	Dataset          map[string]any `json:"dataset"`
	Tables           []TableEntry   `json:"tables"`
	StartDate        string         `json:"start_date"`
	FinishDate       string         `json:"finish_date"`
	SecondsElapsed   int64          `json:"seconds_elapsed"`
	TableBytes       int64          `json:"table_bytes"`
	GCSBytes         *int64         `json:"gcs_bytes,omitempty"`
	CompressionRatio *float64       `json:"compression_ratio,omitempty"`
}

type TableEntry struct {
	Table map[string]any `json:"table"`
	// Job is the finished extract job; absent for metadata-only entries.
	Job   *bigquery.Job `json:"job,omitempty"`
	Merge *MergeRecord  `json:"merge,omitempty"`
}

type MergeRecord struct {
	DestinationURI string `json:"destinationUri"`
	Header         bool   `json:"header"`
}

// TableID returns the table's id from its definition.
func (e TableEntry) TableID() string {
	ref, _ := e.Table["tableReference"].(map[string]any)
	id, _ := ref["tableId"].(string)
	return id
}

// NumBytes reads numBytes, which the REST form carries as a string.
func (e TableEntry) NumBytes() int64 {
	var n int64
	switch v := e.Table["numBytes"].(type) {
	case string:
		_, _ = fmt.Sscan(v, &n)
	case float64:
		n = int64(v)
	}
	return n
}

// BackupLocation returns the directory extracts are written under and the
// manifest URI. A backupUri naming a .json, .json.gz or .json.zst file is
// the manifest itself; anything else is a directory.
func BackupLocation(backupURI, project, dataset string) (dir, manifest string) {
	if util.IsManifestName(backupURI) {
		return backupURI[:max(strings.LastIndex(backupURI, "/"), 0)], backupURI
	}
	dir = strings.TrimSuffix(backupURI, "/")
	return dir, dir + "/" + util.ManifestName(project, dataset)
}

func (a *App) writeManifest(ctx context.Context, uri string, manifest *Manifest) (storage.ObjectInfo, error) {
	payload, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	store, u, err := a.Objects.Resolve(uri)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	payload, err = compress.Bytes(compress.FromPath(u.Name), payload)
	if err != nil {
		return storage.ObjectInfo{}, err
	}
	info, err := store.Put(ctx, u.Bucket, u.Name, bytes.NewReader(payload), storage.PutOptions{ContentType: "application/json"})
	if err != nil {
		return storage.ObjectInfo{}, fmt.Errorf("write manifest %s: %w", uri, err)
	}
	return info, nil
}

func (a *App) readManifest(ctx context.Context, uri string) (*Manifest, error) {
	store, u, err := a.Objects.Resolve(uri)
	if err != nil {
		return nil, err
	}
	reader, err := store.Get(ctx, u.Bucket, u.Name)
	if err != nil {
		if errors.Is(err, storage.ErrNotExist) {
			return nil, fmt.Errorf("could not find %s: %w", uri, err)
		}
		return nil, err
	}
	defer reader.Close()
	payload, err := compress.WrapReader(compress.FromPath(u.Name), reader)
	if err != nil {
		return nil, err
	}
	defer payload.Close()
	data, err := io.ReadAll(payload)
	if err != nil {
		return nil, fmt.Errorf("read manifest %s: %w", uri, err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, fmt.Errorf("decode manifest %s: %w", uri, err)
	}
	if manifest.Dataset == nil {
		return nil, fmt.Errorf("manifest %s has no dataset", uri)
	}
	return &manifest, nil
}
