package tasks

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"
	sqladmin "google.golang.org/api/sqladmin/v1beta4"

	"github.com/rowjay/wdlkit/internal/cloudsql"
)

const bucketReaderRole = "roles/storage.objectViewer"

type InstanceInsertConfig struct {
	DatabaseInstance *sqladmin.DatabaseInstance `json:"databaseInstance"`
	DatabaseUser     *sqladmin.User             `json:"databaseUser"`
}

// InstanceInsert creates a Cloud SQL instance and optional user and writes
// the instance to instance.json. A failed user insert deletes the instance.
// When grantBucket is set, the instance's service account may read it.
func (r *Runner) InstanceInsert(ctx context.Context, cfg InstanceInsertConfig, grantBucket string) (*sqladmin.DatabaseInstance, error) {
	spec := cfg.DatabaseInstance
	if spec == nil || spec.Project == "" || spec.Name == "" {
		return nil, errors.New("instance_insert: databaseInstance.project and name are required")
	}
	log := zerolog.Ctx(ctx).With().Str("instance", spec.Name).Logger()

	op, err := r.SQL.InsertInstance(ctx, spec.Project, spec)
	if err != nil {
		return nil, err
	}
	done, err := cloudsql.Wait(ctx, r.SQL, spec.Project, op)
	if err != nil {
		return nil, err
	}
	project, name := done.TargetProject, done.TargetId
	log.Info().Msg("instance created")

	if cfg.DatabaseUser != nil {
		if err := r.insertUser(ctx, project, name, cfg.DatabaseUser); err != nil {
			log.Warn().Err(err).Msg("user insert failed, deleting instance")
			if derr := r.deleteInstance(ctx, spec.Project, name); derr != nil {
				log.Error().Err(derr).Msg("instance cleanup failed")
			}
			return nil, err
		}
	}

	inst, err := r.SQL.GetInstance(ctx, project, name)
	if err != nil {
		return nil, err
	}
	if err := r.writeJSON("instance.json", inst); err != nil {
		return nil, err
	}

	if grantBucket != "" {
		if r.Buckets == nil {
			return nil, errors.New("instance_insert: no bucket IAM client configured")
		}
		bucket := strings.TrimSuffix(strings.TrimPrefix(grantBucket, "gs://"), "/")
		member := "serviceAccount:" + inst.ServiceAccountEmailAddress
		if err := r.Buckets.GrantBucketRole(ctx, bucket, bucketReaderRole, member); err != nil {
			return nil, fmt.Errorf("grant %s on %s: %w", member, bucket, err)
		}
		log.Info().Str("bucket", bucket).Str("member", member).Msg("bucket access granted")
	}
	return inst, nil
}

func (r *Runner) insertUser(ctx context.Context, project, instance string, user *sqladmin.User) error {
	op, err := r.SQL.InsertUser(ctx, project, instance, user)
	if err != nil {
		return err
	}
	_, err = cloudsql.Wait(ctx, r.SQL, project, op)
	return err
}

func (r *Runner) deleteInstance(ctx context.Context, project, name string) error {
	op, err := r.SQL.DeleteInstance(ctx, project, name)
	if err != nil {
		return err
	}
	_, err = cloudsql.Wait(ctx, r.SQL, project, op)
	return err
}

type InstanceDeleteConfig struct {
	Project string `json:"project"`
	Name    string `json:"name"`
}

// InstanceDelete deletes an instance and writes the finished operation to
// delete_instance.json. A missing instance is reported, not an error.
func (r *Runner) InstanceDelete(ctx context.Context, cfg InstanceDeleteConfig) error {
	if _, err := r.SQL.GetInstance(ctx, cfg.Project, cfg.Name); err != nil {
		if errors.Is(err, cloudsql.ErrNotFound) {
			_, err = fmt.Fprintln(r.out(), "Instance Not Found")
		}
		return err
	}
	op, err := r.SQL.DeleteInstance(ctx, cfg.Project, cfg.Name)
	if err != nil {
		return err
	}
	done, err := cloudsql.Wait(ctx, r.SQL, cfg.Project, op)
	if err != nil {
		return err
	}
	return r.writeJSON("delete_instance.json", done)
}

// DatabaseInsert creates the database described by db, which names its own
// project and instance, and writes it to database.json.
func (r *Runner) DatabaseInsert(ctx context.Context, db *sqladmin.Database) (*sqladmin.Database, error) {
	if db == nil || db.Project == "" || db.Instance == "" || db.Name == "" {
		return nil, errors.New("database_insert: project, instance and name are required")
	}
	op, err := r.SQL.InsertDatabase(ctx, db.Project, db.Instance, db)
	if err != nil {
		return nil, err
	}
	done, err := cloudsql.Wait(ctx, r.SQL, db.Project, op)
	if err != nil {
		return nil, err
	}
	got, err := r.SQL.GetDatabase(ctx, done.TargetProject, done.TargetId, db.Name)
	if err != nil {
		return nil, err
	}
	return got, r.writeJSON("database.json", got)
}

type DatabaseDeleteConfig struct {
	Project  string `json:"project"`
	Instance string `json:"instance"`
	Name     string `json:"name"`
}

func (r *Runner) DatabaseDelete(ctx context.Context, cfg DatabaseDeleteConfig) error {
	if _, err := r.SQL.GetDatabase(ctx, cfg.Project, cfg.Instance, cfg.Name); err != nil {
		if errors.Is(err, cloudsql.ErrNotFound) {
			_, err = fmt.Fprintln(r.out(), "Database Not Found")
		}
		return err
	}
	op, err := r.SQL.DeleteDatabase(ctx, cfg.Project, cfg.Instance, cfg.Name)
	if err != nil {
		return err
	}
	done, err := cloudsql.Wait(ctx, r.SQL, cfg.Project, op)
	if err != nil {
		return err
	}
	return r.writeJSON("delete_database.json", done)
}

// ImportContext is the import request body plus the instance it targets.
type ImportContext struct {
	sqladmin.ImportContext
	Project  string `json:"project"`
	Instance string `json:"instance"`
}

type ImportFileConfig struct {
	ImportContext *ImportContext `json:"importContext"`
}

// ImportFile imports a SQL or CSV file from a bucket into an instance and
// writes the instance to import_file.json.
func (r *Runner) ImportFile(ctx context.Context, cfg ImportFileConfig) (*sqladmin.DatabaseInstance, error) {
	ic := cfg.ImportContext
	if ic == nil || ic.Project == "" || ic.Instance == "" {
		return nil, errors.New("import_file: importContext.project and instance are required")
	}
	req := &sqladmin.InstancesImportRequest{ImportContext: &ic.ImportContext}
	op, err := r.SQL.ImportInstance(ctx, ic.Project, ic.Instance, req)
	if err != nil {
		return nil, err
	}
	done, err := cloudsql.Wait(ctx, r.SQL, ic.Project, op)
	if err != nil {
		return nil, err
	}
	zerolog.Ctx(ctx).Info().Str("instance", ic.Instance).Str("uri", ic.Uri).Msg("file imported")
	inst, err := r.SQL.GetInstance(ctx, done.TargetProject, done.TargetId)
	if err != nil {
		return nil, err
	}
	return inst, r.writeJSON("import_file.json", inst)
}
