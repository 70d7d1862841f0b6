// Package cloudsql drives Cloud SQL instance and database lifecycle calls
// through the sqladmin v1beta4 API, waiting for each long running operation.
package cloudsql

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"google.golang.org/api/googleapi"
	sqladmin "google.golang.org/api/sqladmin/v1beta4"
)

const (
	OperationDone = "DONE"

	pollInitial = time.Second
	pollMax     = 15 * time.Second
	pollGrowth  = 1.5
)

var ErrNotFound = errors.New("not found")

// OperationError reports an operation that finished with errors.
type OperationError struct {
	Operation string
	Errors    []*sqladmin.OperationError
}

func (e *OperationError) Error() string {
	msgs := make([]string, 0, len(e.Errors))
	for _, oe := range e.Errors {
		msgs = append(msgs, fmt.Sprintf("%s: %s", oe.Code, oe.Message))
	}
	return fmt.Sprintf("operation %s failed: %s", e.Operation, strings.Join(msgs, "; "))
}

type Service interface {
	InsertInstance(ctx context.Context, project string, instance *sqladmin.DatabaseInstance) (*sqladmin.Operation, error)
	GetInstance(ctx context.Context, project, name string) (*sqladmin.DatabaseInstance, error)
	DeleteInstance(ctx context.Context, project, name string) (*sqladmin.Operation, error)
	ImportInstance(ctx context.Context, project, name string, req *sqladmin.InstancesImportRequest) (*sqladmin.Operation, error)

	InsertUser(ctx context.Context, project, instance string, user *sqladmin.User) (*sqladmin.Operation, error)

	InsertDatabase(ctx context.Context, project, instance string, db *sqladmin.Database) (*sqladmin.Operation, error)
	GetDatabase(ctx context.Context, project, instance, name string) (*sqladmin.Database, error)
	DeleteDatabase(ctx context.Context, project, instance, name string) (*sqladmin.Operation, error)

	GetOperation(ctx context.Context, project, name string) (*sqladmin.Operation, error)
}

type REST struct {
	svc *sqladmin.Service
}

func NewREST(svc *sqladmin.Service) *REST {
	return &REST{svc: svc}
}

func (r *REST) InsertInstance(ctx context.Context, project string, instance *sqladmin.DatabaseInstance) (*sqladmin.Operation, error) {
	op, err := r.svc.Instances.Insert(project, instance).Context(ctx).Do()
	return op, classify(err)
}

func (r *REST) GetInstance(ctx context.Context, project, name string) (*sqladmin.DatabaseInstance, error) {
	inst, err := r.svc.Instances.Get(project, name).Context(ctx).Do()
	return inst, classify(err)
}

func (r *REST) DeleteInstance(ctx context.Context, project, name string) (*sqladmin.Operation, error) {
	op, err := r.svc.Instances.Delete(project, name).Context(ctx).Do()
	return op, classify(err)
}

func (r *REST) ImportInstance(ctx context.Context, project, name string, req *sqladmin.InstancesImportRequest) (*sqladmin.Operation, error) {
	op, err := r.svc.Instances.Import(project, name, req).Context(ctx).Do()
	return op, classify(err)
}

func (r *REST) InsertUser(ctx context.Context, project, instance string, user *sqladmin.User) (*sqladmin.Operation, error) {
	op, err := r.svc.Users.Insert(project, instance, user).Context(ctx).Do()
	return op, classify(err)
}

func (r *REST) InsertDatabase(ctx context.Context, project, instance string, db *sqladmin.Database) (*sqladmin.Operation, error) {
	op, err := r.svc.Databases.Insert(project, instance, db).Context(ctx).Do()
	return op, classify(err)
}

func (r *REST) GetDatabase(ctx context.Context, project, instance, name string) (*sqladmin.Database, error) {
	db, err := r.svc.Databases.Get(project, instance, name).Context(ctx).Do()
	return db, classify(err)
}

func (r *REST) DeleteDatabase(ctx context.Context, project, instance, name string) (*sqladmin.Operation, error) {
	op, err := r.svc.Databases.Delete(project, instance, name).Context(ctx).Do()
	return op, classify(err)
}

func (r *REST) GetOperation(ctx context.Context, project, name string) (*sqladmin.Operation, error) {
	op, err := r.svc.Operations.Get(project, name).Context(ctx).Do()
	return op, classify(err)
}

var errPending = errors.New("operation pending")

// Wait polls op until it is DONE. An operation that finished with errors is
// returned along with an *OperationError.
func Wait(ctx context.Context, svc Service, project string, op *sqladmin.Operation) (*sqladmin.Operation, error) {
	if op == nil {
		return nil, errors.New("no operation to wait for")
	}
	current := op

	poll := backoff.NewExponentialBackOff()
	poll.InitialInterval = pollInitial
	poll.MaxInterval = pollMax
	poll.Multiplier = pollGrowth
	poll.MaxElapsedTime = 0

	err := backoff.Retry(func() error {
		if current.Status == OperationDone {
			return nil
		}
		got, err := svc.GetOperation(ctx, project, op.Name)
		if err != nil {
			return backoff.Permanent(err)
		}
		current = got
		if got.Status != OperationDone {
			return errPending
		}
		return nil
	}, backoff.WithContext(poll, ctx))
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		return nil, err
	}
	if current.Error != nil && len(current.Error.Errors) > 0 {
		return current, &OperationError{Operation: current.Name, Errors: current.Error.Errors}
	}
	return current, nil
}

func classify(err error) error {
	if err == nil {
		return nil
	}
	var gerr *googleapi.Error
	if errors.As(err, &gerr) && gerr.Code == http.StatusNotFound {
		return fmt.Errorf("%w: %s", ErrNotFound, gerr.Message)
	}
	return err
}
