// Package gcpclient resolves credentials and builds the API clients every
// command shares.
package gcpclient

import (
	"context"
	"fmt"
	"net/http"
	"os"

	gcs "cloud.google.com/go/storage"
	"golang.org/x/oauth2/google"
	"google.golang.org/api/bigquery/v2"
	"google.golang.org/api/option"
	"google.golang.org/api/sqladmin/v1beta4"
	htransport "google.golang.org/api/transport/http"
)

// DefaultPoolSize is the idle connection pool per host. The stdlib default
// of 2 starves more than a handful of concurrent table operations.
const DefaultPoolSize = 128

type Options struct {
	ProjectID       string
	CredentialsFile string
	// Threads is the widest worker pool that will share the client.
	Threads int
	// PoolSize overrides the computed pool size when positive.
	PoolSize int
}

// PoolSize returns the idle connection pool size for the given options.
func PoolSize(opts Options) int {
	if opts.PoolSize > 0 {
		return opts.PoolSize
	}
	return max(DefaultPoolSize, opts.Threads)
}

// Clients holds the authenticated HTTP client and the project it resolved.
type Clients struct {
	HTTP    *http.Client
	Project string
}

// New resolves credentials (explicit file, then application default) and
// wraps a resized transport with them.
func New(ctx context.Context, opts Options) (*Clients, error) {
	creds, err := credentials(ctx, opts.CredentialsFile)
	if err != nil {
		return nil, err
	}

	base := http.DefaultTransport.(*http.Transport).Clone()
	size := PoolSize(opts)
	base.MaxIdleConns = size
	base.MaxIdleConnsPerHost = size

	transport, err := htransport.NewTransport(ctx, base, option.WithCredentials(creds))
	if err != nil {
		return nil, fmt.Errorf("build transport: %w", err)
	}

	project := opts.ProjectID
	for _, env := range []string{"GOOGLE_CLOUD_PROJECT", "GCLOUD_PROJECT"} {
		if project == "" {
			project = os.Getenv(env)
		}
	}
	if project == "" {
		project = creds.ProjectID
	}
	return &Clients{HTTP: &http.Client{Transport: transport}, Project: project}, nil
}

func credentials(ctx context.Context, file string) (*google.Credentials, error) {
	if file == "" {
		creds, err := google.FindDefaultCredentials(ctx, bigquery.CloudPlatformScope)
		if err != nil {
			return nil, fmt.Errorf("find default credentials: %w", err)
		}
		return creds, nil
	}
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("read credentials: %w", err)
	}
	creds, err := google.CredentialsFromJSON(ctx, data, bigquery.CloudPlatformScope)
	if err != nil {
		return nil, fmt.Errorf("parse credentials %s: %w", file, err)
	}
	return creds, nil
}

func (c *Clients) BigQuery(ctx context.Context) (*bigquery.Service, error) {
	return bigquery.NewService(ctx, option.WithHTTPClient(c.HTTP))
}

func (c *Clients) Storage(ctx context.Context) (*gcs.Client, error) {
	return gcs.NewClient(ctx, option.WithHTTPClient(c.HTTP))
}

func (c *Clients) SQLAdmin(ctx context.Context) (*sqladmin.Service, error) {
	return sqladmin.NewService(ctx, option.WithHTTPClient(c.HTTP))
}
