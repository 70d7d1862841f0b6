// Package cloudsqltest provides an in-memory cloudsql.Service. Operations
// are returned pending and report DONE on the first poll.
package cloudsqltest

import (
	"context"
	"fmt"
	"sync"

	sqladmin "google.golang.org/api/sqladmin/v1beta4"

	"github.com/rowjay/wdlkit/internal/cloudsql"
)

type Fake struct {
	mu         sync.Mutex
	instances  map[string]*sqladmin.DatabaseInstance
	databases  map[string]*sqladmin.Database
	operations map[string]*sqladmin.Operation
	seq        int

	// UserError makes every user insert operation finish with this error.
	UserError *sqladmin.OperationError
	Users     []*sqladmin.User
	Imports   []*sqladmin.InstancesImportRequest
	Polls     int
}

func NewFake() *Fake {
	return &Fake{
		instances:  map[string]*sqladmin.DatabaseInstance{},
		databases:  map[string]*sqladmin.Database{},
		operations: map[string]*sqladmin.Operation{},
	}
}

func (f *Fake) AddInstance(project string, inst *sqladmin.DatabaseInstance) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *inst
	c.Project = project
	f.instances[project+"/"+inst.Name] = &c
}

func (f *Fake) HasInstance(project, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.instances[project+"/"+name]
	return ok
}

func (f *Fake) HasDatabase(project, instance, name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.databases[project+"/"+instance+"/"+name]
	return ok
}

// operation records a pending operation; the caller holds mu.
func (f *Fake) operation(project, kind, target string, failure *sqladmin.OperationError) *sqladmin.Operation {
	f.seq++
	op := &sqladmin.Operation{
		Name:          fmt.Sprintf("op-%04d", f.seq),
		OperationType: kind,
		Status:        "PENDING",
		TargetId:      target,
		TargetProject: project,
	}
	done := *op
	done.Status = cloudsql.OperationDone
	if failure != nil {
		done.Error = &sqladmin.OperationErrors{Errors: []*sqladmin.OperationError{failure}}
	}
	f.operations[project+"/"+op.Name] = &done
	return op
}

func notFound(what string) error {
	return fmt.Errorf("%s: %w", what, cloudsql.ErrNotFound)
}

func (f *Fake) InsertInstance(ctx context.Context, project string, instance *sqladmin.DatabaseInstance) (*sqladmin.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c := *instance
	c.Project = project
	c.State = "RUNNABLE"
	c.ServiceAccountEmailAddress = fmt.Sprintf("p%d-sa@gcp-sa-cloud-sql.iam.gserviceaccount.com", f.seq+1)
	f.instances[project+"/"+instance.Name] = &c
	return f.operation(project, "CREATE", instance.Name, nil), nil
}

func (f *Fake) GetInstance(ctx context.Context, project, name string) (*sqladmin.DatabaseInstance, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	inst, ok := f.instances[project+"/"+name]
	if !ok {
		return nil, notFound("instance " + name)
	}
	c := *inst
	return &c, nil
}

func (f *Fake) DeleteInstance(ctx context.Context, project, name string) (*sqladmin.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.instances[project+"/"+name]; !ok {
		return nil, notFound("instance " + name)
	}
	delete(f.instances, project+"/"+name)
	return f.operation(project, "DELETE", name, nil), nil
}

func (f *Fake) ImportInstance(ctx context.Context, project, name string, req *sqladmin.InstancesImportRequest) (*sqladmin.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.instances[project+"/"+name]; !ok {
		return nil, notFound("instance " + name)
	}
	f.Imports = append(f.Imports, req)
	return f.operation(project, "IMPORT", name, nil), nil
}

func (f *Fake) InsertUser(ctx context.Context, project, instance string, user *sqladmin.User) (*sqladmin.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.instances[project+"/"+instance]; !ok {
		return nil, notFound("instance " + instance)
	}
	f.Users = append(f.Users, user)
	return f.operation(project, "CREATE_USER", instance, f.UserError), nil
}

func (f *Fake) InsertDatabase(ctx context.Context, project, instance string, db *sqladmin.Database) (*sqladmin.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.instances[project+"/"+instance]; !ok {
		return nil, notFound("instance " + instance)
	}
	c := *db
	c.Project, c.Instance = project, instance
	f.databases[project+"/"+instance+"/"+db.Name] = &c
	return f.operation(project, "CREATE_DATABASE", instance, nil), nil
}

func (f *Fake) GetDatabase(ctx context.Context, project, instance, name string) (*sqladmin.Database, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	db, ok := f.databases[project+"/"+instance+"/"+name]
	if !ok {
		return nil, notFound("database " + name)
	}
	c := *db
	return &c, nil
}

func (f *Fake) DeleteDatabase(ctx context.Context, project, instance, name string) (*sqladmin.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := project + "/" + instance + "/" + name
	if _, ok := f.databases[key]; !ok {
		return nil, notFound("database " + name)
	}
	delete(f.databases, key)
	return f.operation(project, "DELETE_DATABASE", instance, nil), nil
}

func (f *Fake) GetOperation(ctx context.Context, project, name string) (*sqladmin.Operation, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Polls++
	op, ok := f.operations[project+"/"+name]
	if !ok {
		return nil, notFound("operation " + name)
	}
	c := *op
	return &c, nil
}
