package config

import "time"

// Config is the backup/restore configuration schema. Keys mirror the JSON
// documents WDL tasks hand to the tool.
type Config struct {
	QuotaProject      string `mapstructure:"quotaProject"`
	DatasetName       string `mapstructure:"datasetName"` // dataset[.tableRegex]
	BackupURI         string `mapstructure:"backupUri"`
	Threads           int    `mapstructure:"threads"`
	Compression       string `mapstructure:"compression"`       // NONE, GZIP, SNAPPY, DEFLATE, ZSTD
	DestinationFormat string `mapstructure:"destinationFormat"` // AVRO, CSV, NEWLINE_DELIMITED_JSON, PARQUET
	PrintHeader       bool   `mapstructure:"printHeader"`
	MetadataOnly      bool   `mapstructure:"metadataOnly"`
	MergeCSV          bool   `mapstructure:"mergeCsv"`
	JSON              bool   `mapstructure:"json"`
	LogLevel          string `mapstructure:"logLevel"`
	LogFormat         string `mapstructure:"logFormat"` // json or console

	BackupRestoreJSONURI       string `mapstructure:"backupRestoreJsonUri"`
	KeepExpiration             bool   `mapstructure:"keepExpiration"`
	DropDataset                bool   `mapstructure:"dropDataset"`
	DropTables                 bool   `mapstructure:"dropTables"`
	DefaultTableExpiration     *int64 `mapstructure:"defaultTableExpiration"`     // ms
	DefaultPartitionExpiration *int64 `mapstructure:"defaultPartitionExpiration"` // ms

	LockFile         string        `mapstructure:"lockFile"`
	OperationTimeout time.Duration `mapstructure:"operationTimeout"`
	HTTPPoolSize     int           `mapstructure:"httpPoolSize"`

	Notifications NotificationsConfig `mapstructure:"notifications"`
}

type NotificationsConfig struct {
	Webhooks      []WebhookConfig `mapstructure:"webhooks"`
	SlackWebhooks []SlackWebhook  `mapstructure:"slackWebhooks"`
	Slack         []SlackConfig   `mapstructure:"slack"`
	Mailgun       []MailgunConfig `mapstructure:"mailgun"`
}

type WebhookConfig struct {
	Name    string            `mapstructure:"name"`
	URL     string            `mapstructure:"url"`
	Headers map[string]string `mapstructure:"headers"`
}

type SlackWebhook struct {
	Name string `mapstructure:"name"`
	URL  string `mapstructure:"url"`
}

type SlackConfig struct {
	Name    string `mapstructure:"name"`
	Channel string `mapstructure:"channel"`
	Token   string `mapstructure:"token"` // literal token or gs:// URI holding it
}

type MailgunConfig struct {
	Name      string `mapstructure:"name"`
	APIURL    string `mapstructure:"apiUrl"`
	APIKeyURI string `mapstructure:"apiKeyUri"` // gs:// URI holding the key
	Sender    string `mapstructure:"sender"`
	MailTo    string `mapstructure:"mailto"`
	Subject   string `mapstructure:"subject"`
}

// StorageConfig configures object store backends other than GCS.
type StorageConfig struct {
	S3    S3Store `mapstructure:"s3"`
	Local string  `mapstructure:"local"` // root for bare paths, defaults to cwd
}

type S3Store struct {
	Endpoint        string `mapstructure:"endpoint"`
	Region          string `mapstructure:"region"`
	AccessKey       string `mapstructure:"access_key"`
	SecretKey       string `mapstructure:"secret_key"`
	SessionToken    string `mapstructure:"session_token"`
	UseSSL          bool   `mapstructure:"use_ssl"`
	ForcePathStyle  bool   `mapstructure:"force_path_style"`
	TLSInsecureSkip bool   `mapstructure:"tls_insecure_skip"`
}
