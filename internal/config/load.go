package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/rowjay/wdlkit/internal/cryptoutil"
)

const (
	envPrefix = "WDLKIT"

	DefaultThreads          = 25
	DefaultOperationTimeout = 6 * time.Hour
)

// Load reads a backup/restore configuration from a file (optionally
// encrypted), env vars, and defaults.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is required")
	}
	vp := newViper()
	setDefaults(vp)
	if err := readInto(vp, path); err != nil {
		return nil, err
	}

	var cfg Config
	if err := vp.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}

	expandEnv(&cfg)
	applyPostLoadDefaults(&cfg)
	return &cfg, nil
}

// LoadStorage reads non-GCS object store settings from WDLKIT_STORAGE_* env vars.
func LoadStorage() (StorageConfig, error) {
	vp := newViper()
	for _, key := range []string{
		"storage.local",
		"storage.s3.endpoint", "storage.s3.region", "storage.s3.access_key", "storage.s3.secret_key",
		"storage.s3.session_token", "storage.s3.use_ssl", "storage.s3.force_path_style", "storage.s3.tls_insecure_skip",
	} {
		if err := vp.BindEnv(key); err != nil {
			return StorageConfig{}, err
		}
	}
	vp.SetDefault("storage.s3.use_ssl", true)
	var out struct {
		Storage StorageConfig `mapstructure:"storage"`
	}
	if err := vp.Unmarshal(&out); err != nil {
		return StorageConfig{}, fmt.Errorf("decode storage config: %w", err)
	}
	out.Storage.S3.AccessKey = os.ExpandEnv(out.Storage.S3.AccessKey)
	out.Storage.S3.SecretKey = os.ExpandEnv(out.Storage.S3.SecretKey)
	return out.Storage, nil
}

// Decode reads a task configuration and JSON-decodes it into out. Task
// configs embed provider REST resources whose field encodings (int64 as
// strings, pointer booleans) are defined by their json tags.
func Decode(path string, out any) error {
	data, err := readFile(path)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func newViper() *viper.Viper {
	vp := viper.New()
	vp.SetEnvPrefix(envPrefix)
	vp.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	vp.AutomaticEnv()
	return vp
}

func readInto(vp *viper.Viper, path string) error {
	if typ := configTypeFromPath(path); typ != "" {
		vp.SetConfigType(typ)
	}
	data, err := readFile(path)
	if err != nil {
		return err
	}
	if err := vp.ReadConfig(bytes.NewReader(data)); err != nil {
		return fmt.Errorf("parse config: %w", err)
	}
	return nil
}

func readFile(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if !isEncryptedPath(path) {
		return data, nil
	}
	key := os.Getenv("WDLKIT_CONFIG_KEY")
	if key == "" {
		return nil, errors.New("config file is encrypted but WDLKIT_CONFIG_KEY is not set")
	}
	plain, err := decryptConfig(data, key)
	if err != nil {
		return nil, fmt.Errorf("decrypt config: %w", err)
	}
	return plain, nil
}

func isEncryptedPath(path string) bool {
	return strings.HasSuffix(path, EncryptedSuffix) || strings.HasSuffix(path, ".encrypted")
}

func configTypeFromPath(path string) string {
	trimmed := strings.TrimSuffix(strings.TrimSuffix(path, ".enc"), ".encrypted")
	switch {
	case strings.HasSuffix(trimmed, ".toml"):
		return "toml"
	case strings.HasSuffix(trimmed, ".yaml") || strings.HasSuffix(trimmed, ".yml"):
		return "yaml"
	default:
		return "json"
	}
}

func setDefaults(vp *viper.Viper) {
	vp.SetDefault("threads", DefaultThreads)
	vp.SetDefault("compression", "SNAPPY")
	vp.SetDefault("destinationFormat", "AVRO")
	vp.SetDefault("logLevel", "INFO")
	vp.SetDefault("logFormat", "json")
	vp.SetDefault("operationTimeout", "6h")
}

func applyPostLoadDefaults(cfg *Config) {
	if cfg.Threads <= 0 {
		cfg.Threads = DefaultThreads
	}
	if cfg.OperationTimeout == 0 {
		cfg.OperationTimeout = DefaultOperationTimeout
	}
	if cfg.Compression == "" {
		cfg.Compression = "SNAPPY"
	}
	if cfg.DestinationFormat == "" {
		cfg.DestinationFormat = "AVRO"
	}
	cfg.Compression = strings.ToUpper(cfg.Compression)
	cfg.DestinationFormat = strings.ToUpper(cfg.DestinationFormat)
}

func expandEnv(cfg *Config) {
	cfg.Notifications = expandNotificationEnv(cfg.Notifications)
}

func expandNotificationEnv(cfg NotificationsConfig) NotificationsConfig {
	for i := range cfg.Webhooks {
		cfg.Webhooks[i].URL = os.ExpandEnv(cfg.Webhooks[i].URL)
	}
	for i := range cfg.SlackWebhooks {
		cfg.SlackWebhooks[i].URL = os.ExpandEnv(cfg.SlackWebhooks[i].URL)
	}
	for i := range cfg.Slack {
		cfg.Slack[i].Token = os.ExpandEnv(cfg.Slack[i].Token)
	}
	return cfg
}

func decryptConfig(ciphertext []byte, key string) ([]byte, error) {
	parsed, err := cryptoutil.ParseKey(key)
	if err != nil {
		return nil, err
	}
	return cryptoutil.DecryptConfig(ciphertext, parsed)
}
