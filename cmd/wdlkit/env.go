package main

import (
	"context"
	"sync"

	gcs "cloud.google.com/go/storage"

	"github.com/rowjay/wdlkit/internal/bq"
	"github.com/rowjay/wdlkit/internal/cloudsql"
	"github.com/rowjay/wdlkit/internal/config"
	"github.com/rowjay/wdlkit/internal/gcpclient"
	"github.com/rowjay/wdlkit/internal/storage"
)

// env is the set of API clients one command invocation shares.
type env struct {
	Project string
	BQ      *bq.REST
	SQL     *cloudsql.REST
	GCS     *storage.GCS
	Objects *storage.Router

	gcsClient *gcs.Client
}

func connect(ctx context.Context, root *rootFlags, threads, poolSize int) (*env, error) {
	clients, err := gcpclient.New(ctx, gcpclient.Options{
		ProjectID:       root.ProjectID,
		CredentialsFile: root.Credentials,
		Threads:         threads,
		PoolSize:        poolSize,
	})
	if err != nil {
		return nil, err
	}
	bqSvc, err := clients.BigQuery(ctx)
	if err != nil {
		return nil, err
	}
	sqlSvc, err := clients.SQLAdmin(ctx)
	if err != nil {
		return nil, err
	}
	gcsClient, err := clients.Storage(ctx)
	if err != nil {
		return nil, err
	}
	storeCfg, err := config.LoadStorage()
	if err != nil {
		gcsClient.Close()
		return nil, err
	}
	gcsStore := storage.NewGCS(gcsClient)
	return &env{
		Project:   clients.Project,
		BQ:        bq.NewREST(bqSvc, clients.Project),
		SQL:       cloudsql.NewREST(sqlSvc),
		GCS:       gcsStore,
		Objects:   storage.NewRouter(gcsStore, storeCfg),
		gcsClient: gcsClient,
	}, nil
}

func (e *env) Close() error {
	if e == nil || e.gcsClient == nil {
		return nil
	}
	return e.gcsClient.Close()
}

// lazyObjects connects on the first Resolve, so commands whose secrets are
// literals never need credentials.
type lazyObjects struct {
	ctx  context.Context
	root *rootFlags

	once sync.Once
	env  *env
	err  error
}

func (l *lazyObjects) Resolve(raw string) (storage.Store, storage.URI, error) {
	l.once.Do(func() { l.env, l.err = connect(l.ctx, l.root, 0, 0) })
	if l.err != nil {
		return nil, storage.URI{}, l.err
	}
	return l.env.Objects.Resolve(raw)
}

func (l *lazyObjects) Close() error {
	return l.env.Close()
}
