package app

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/rowjay/wdlkit/internal/bq"
	"github.com/rowjay/wdlkit/internal/config"
	"github.com/rowjay/wdlkit/internal/lock"
	"github.com/rowjay/wdlkit/internal/notify"
	"github.com/rowjay/wdlkit/internal/storage"
)

type App struct {
	Cfg      *config.Config
	BQ       bq.Service
	Objects  storage.Resolver
	Log      zerolog.Logger
	Notifier notify.Notifier
}

func New(cfg *config.Config, svc bq.Service, objects storage.Resolver, log zerolog.Logger, notifier notify.Notifier) *App {
	return &App{Cfg: cfg, BQ: svc, Objects: objects, Log: log, Notifier: notifier}
}

// datasetExpr is the "project:dataset[.tableRegex]" the run operates on.
func (a *App) datasetExpr() string {
	return a.Cfg.QuotaProject + ":" + a.Cfg.DatasetName
}

func (a *App) threads() int {
	if a.Cfg.Threads <= 0 {
		return config.DefaultThreads
	}
	return a.Cfg.Threads
}

func (a *App) acquire(project, dataset string) (*lock.Lock, error) {
	path := a.Cfg.LockFile
	if path == "" {
		path = lock.PathFor(project, dataset)
	}
	return lock.Acquire(path)
}

// logContext attaches the app logger, tagged with the dataset, to ctx.
func (a *App) logContext(ctx context.Context, project, dataset string) context.Context {
	return a.Log.With().Str("dataset", project+":"+dataset).Logger().WithContext(ctx)
}

func (a *App) notify(event notify.Event, start time.Time, err error) {
	if a.Notifier == nil {
		return
	}
	event.Status = statusFromErr(err)
	event.StartedAt = start
	event.EndedAt = time.Now()
	event.Duration = event.EndedAt.Sub(start).String()
	if err != nil {
		event.Error = err.Error()
	}
	if nerr := a.Notifier.Notify(context.Background(), event); nerr != nil {
		a.Log.Warn().Err(nerr).Str("type", event.Type).Msg("notification failed")
	}
}

func statusFromErr(err error) string {
	switch {
	case err == nil:
		return "success"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "failed"
	}
}

func isoSeconds(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05-07:00")
}

func describe(metadataOnly bool) string {
	if metadataOnly {
		return " (metadata only)"
	}
	return ""
}
