package config

import (
	"bytes"
	"encoding/base64"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadBackupDefaults(t *testing.T) {
	path := writeFile(t, "backup.json", `{
  "quotaProject": "proj",
  "datasetName": "sales.orders.*",
  "backupUri": "gs://bucket/backups/",
  "printHeader": true,
  "mergeCsv": true,
  "destinationFormat": "csv",
  "logLevel": "DEBUG"
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.QuotaProject != "proj" || cfg.DatasetName != "sales.orders.*" {
		t.Fatalf("unexpected identity: %+v", cfg)
	}
	if cfg.Threads != DefaultThreads {
		t.Fatalf("expected default threads, got %d", cfg.Threads)
	}
	if cfg.Compression != "SNAPPY" || cfg.DestinationFormat != "CSV" {
		t.Fatalf("unexpected formats: %s %s", cfg.Compression, cfg.DestinationFormat)
	}
	if !cfg.PrintHeader || !cfg.MergeCSV {
		t.Fatalf("expected header and merge flags")
	}
	if cfg.OperationTimeout != 6*time.Hour {
		t.Fatalf("unexpected timeout %s", cfg.OperationTimeout)
	}
}

func TestLoadRestoreExpirations(t *testing.T) {
	path := writeFile(t, "restore.json", `{
  "quotaProject": "proj",
  "datasetName": "sales_copy",
  "backupRestoreJsonUri": "gs://bucket/backups/proj.sales.json.gz",
  "threads": 4,
  "keepExpiration": true,
  "dropDataset": false,
  "dropTables": true,
  "defaultTableExpiration": 86400000,
  "defaultPartitionExpiration": null
}`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Threads != 4 || !cfg.KeepExpiration || !cfg.DropTables {
		t.Fatalf("unexpected restore flags: %+v", cfg)
	}
	if cfg.DefaultTableExpiration == nil || *cfg.DefaultTableExpiration != 86400000 {
		t.Fatalf("unexpected table expiration: %v", cfg.DefaultTableExpiration)
	}
	if cfg.DefaultPartitionExpiration != nil {
		t.Fatalf("expected no partition expiration, got %v", *cfg.DefaultPartitionExpiration)
	}
}

func TestLoadEncrypted(t *testing.T) {
	key := base64.StdEncoding.EncodeToString(bytes.Repeat([]byte{3}, 32))
	plain := writeFile(t, "backup.json", `{"quotaProject": "secret-proj", "datasetName": "d", "backupUri": "gs://b/"}`)
	sealed, err := EncryptConfigFile(plain, "", key)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if sealed != plain+".enc" {
		t.Fatalf("sealed to %s", sealed)
	}
	t.Setenv("WDLKIT_CONFIG_KEY", key)
	cfg, err := Load(sealed)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.QuotaProject != "secret-proj" {
		t.Fatalf("unexpected project %q", cfg.QuotaProject)
	}
}

func TestEncryptConfigFileChecks(t *testing.T) {
	key := "hex:" + strings.Repeat("0a", 32)
	bad := writeFile(t, "task.json", `{"table": `)
	if _, err := EncryptConfigFile(bad, "", key); err == nil {
		t.Fatal("invalid JSON should not be sealed")
	}
	good := writeFile(t, "task2.json", `{}`)
	if _, err := EncryptConfigFile(good, good, key); err == nil {
		t.Fatal("in-place output should be refused")
	}
	if _, err := EncryptConfigFile(good, good+".out", key); err == nil {
		t.Fatal("output without the .enc suffix should be refused")
	}
}

func TestLoadMissingPath(t *testing.T) {
	if _, err := Load(""); err == nil {
		t.Fatalf("expected error for empty path")
	}
}

func TestDecode(t *testing.T) {
	path := writeFile(t, "compose.json", `{"destination": "gs://b/out.csv", "deleteSources": true}`)
	var out struct {
		Destination   string `json:"destination"`
		DeleteSources bool   `json:"deleteSources"`
	}
	if err := Decode(path, &out); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if out.Destination != "gs://b/out.csv" || !out.DeleteSources {
		t.Fatalf("unexpected decode: %+v", out)
	}
}

func TestLoadStorageFromEnv(t *testing.T) {
	t.Setenv("WDLKIT_STORAGE_S3_ENDPOINT", "minio.local:9000")
	t.Setenv("WDLKIT_STORAGE_S3_FORCE_PATH_STYLE", "true")
	cfg, err := LoadStorage()
	if err != nil {
		t.Fatalf("load storage: %v", err)
	}
	if cfg.S3.Endpoint != "minio.local:9000" || !cfg.S3.ForcePathStyle || !cfg.S3.UseSSL {
		t.Fatalf("unexpected storage config: %+v", cfg.S3)
	}
}
