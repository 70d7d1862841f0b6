package bq

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/rs/zerolog"
	"google.golang.org/api/bigquery/v2"
)

const TypeView = "VIEW"

// Table is a handle on one table. It lives for a single backup or restore
// task.
type Table struct {
	svc Service
	Def *bigquery.Table
}

func NewTable(svc Service, ref *bigquery.TableReference) *Table {
	return &Table{svc: svc, Def: &bigquery.Table{TableReference: ref}}
}

// NewTableFromDefinition builds a handle from a manifest entry. Identity
// fields are scrubbed first.
func NewTableFromDefinition(svc Service, def map[string]any) (*Table, error) {
	var table bigquery.Table
	if err := FromMap(Scrub(def), &table); err != nil {
		return nil, err
	}
	if table.TableReference == nil {
		return nil, errors.New("table definition has no tableReference")
	}
	return &Table{svc: svc, Def: &table}, nil
}

func (t *Table) Ref() *bigquery.TableReference { return t.Def.TableReference }

// FullID formats the reference as project:dataset.table.
func (t *Table) FullID() string { return TableID(t.Def.TableReference) }

func TableID(ref *bigquery.TableReference) string {
	return fmt.Sprintf("%s:%s.%s", ref.ProjectId, ref.DatasetId, ref.TableId)
}

func (t *Table) Get(ctx context.Context) error {
	table, err := t.svc.GetTable(ctx, t.Def.TableReference)
	if err != nil {
		return fmt.Errorf("get table %s: %w", t.FullID(), err)
	}
	t.Def = table
	return nil
}

// Create inserts the table. An existing table is an ErrConflict unless drop
// is set, in which case it is deleted and the insert retried once.
func (t *Table) Create(ctx context.Context, drop bool) error {
	log := zerolog.Ctx(ctx)
	if t.Def.Type == TypeView {
		t.Def.Schema = nil
	}
	created, err := t.svc.InsertTable(ctx, t.Def)
	if errors.Is(err, ErrConflict) {
		if !drop {
			return fmt.Errorf("table %s already exists, set dropTables to overwrite: %w", t.FullID(), ErrConflict)
		}
		if err := t.svc.DeleteTable(ctx, t.Def.TableReference); err != nil {
			return fmt.Errorf("drop table %s: %w", t.FullID(), err)
		}
		log.Warn().Str("table", t.FullID()).Str("type", t.Def.Type).Msg("dropped existing table")
		created, err = t.svc.InsertTable(ctx, t.Def)
	}
	if err != nil {
		return fmt.Errorf("create table %s: %w", t.FullID(), err)
	}
	t.Def = created
	log.Info().Str("table", t.FullID()).Str("type", t.Def.Type).Msg("created table")
	return nil
}

func (t *Table) Delete(ctx context.Context) error {
	return t.svc.DeleteTable(ctx, t.Def.TableReference)
}

// Definition returns the table in its REST JSON form.
func (t *Table) Definition() (map[string]any, error) {
	return ToMap(t.Def)
}

// Dataset is a handle on one dataset.
type Dataset struct {
	svc Service
	Def *bigquery.Dataset
}

func NewDataset(svc Service, ref *bigquery.DatasetReference) *Dataset {
	return &Dataset{svc: svc, Def: &bigquery.Dataset{DatasetReference: ref}}
}

func NewDatasetFromDefinition(svc Service, def map[string]any) (*Dataset, error) {
	var ds bigquery.Dataset
	if err := FromMap(Scrub(def), &ds); err != nil {
		return nil, err
	}
	if ds.DatasetReference == nil {
		return nil, errors.New("dataset definition has no datasetReference")
	}
	return &Dataset{svc: svc, Def: &ds}, nil
}

func (d *Dataset) Ref() *bigquery.DatasetReference { return d.Def.DatasetReference }

func (d *Dataset) FullID() string {
	return fmt.Sprintf("%s:%s", d.Def.DatasetReference.ProjectId, d.Def.DatasetReference.DatasetId)
}

func (d *Dataset) Get(ctx context.Context) error {
	ds, err := d.svc.GetDataset(ctx, d.Def.DatasetReference)
	if err != nil {
		return fmt.Errorf("get dataset %s: %w", d.FullID(), err)
	}
	d.Def = ds
	return nil
}

// Create inserts the dataset with the same conflict contract as
// Table.Create. Dropping removes the existing dataset and all its tables.
func (d *Dataset) Create(ctx context.Context, drop bool) error {
	log := zerolog.Ctx(ctx)
	created, err := d.svc.InsertDataset(ctx, d.Def)
	if errors.Is(err, ErrConflict) {
		if !drop {
			return fmt.Errorf("dataset %s already exists, set dropDataset to overwrite: %w", d.FullID(), ErrConflict)
		}
		log.Warn().Str("dataset", d.FullID()).Msg("deleting dataset and all contents")
		if err := d.svc.DeleteDataset(ctx, d.Def.DatasetReference, true); err != nil {
			return fmt.Errorf("drop dataset %s: %w", d.FullID(), err)
		}
		created, err = d.svc.InsertDataset(ctx, d.Def)
	}
	if err != nil {
		return fmt.Errorf("create dataset %s: %w", d.FullID(), err)
	}
	d.Def = created
	log.Info().Str("dataset", d.FullID()).Msg("created dataset")
	return nil
}

// Ensure makes the dataset exist for a restore. A missing dataset is
// created; an existing one is recreated when drop is set, and otherwise only
// its default expirations are patched.
func (d *Dataset) Ensure(ctx context.Context, drop bool) error {
	existing, err := d.svc.GetDataset(ctx, d.Def.DatasetReference)
	switch {
	case errors.Is(err, ErrNotFound):
		return d.Create(ctx, false)
	case err != nil:
		return fmt.Errorf("get dataset %s: %w", d.FullID(), err)
	case drop:
		return d.Create(ctx, true)
	}

	zerolog.Ctx(ctx).Warn().Str("dataset", d.FullID()).Msg("dataset already exists, only default expirations are updated")
	patch := &bigquery.Dataset{
		DatasetReference:             d.Def.DatasetReference,
		DefaultTableExpirationMs:     d.Def.DefaultTableExpirationMs,
		DefaultPartitionExpirationMs: d.Def.DefaultPartitionExpirationMs,
	}
	// Zero means "no expiration", which the API spells as null.
	if patch.DefaultTableExpirationMs == 0 {
		patch.NullFields = append(patch.NullFields, "DefaultTableExpirationMs")
	}
	if patch.DefaultPartitionExpirationMs == 0 {
		patch.NullFields = append(patch.NullFields, "DefaultPartitionExpirationMs")
	}
	patched, err := d.svc.PatchDataset(ctx, patch)
	if err != nil {
		return fmt.Errorf("update dataset %s: %w", d.FullID(), err)
	}
	if patched == nil {
		patched = existing
	}
	d.Def = patched
	return nil
}

func (d *Dataset) Delete(ctx context.Context) error {
	return d.svc.DeleteDataset(ctx, d.Def.DatasetReference, true)
}

func (d *Dataset) Definition() (map[string]any, error) {
	return ToMap(d.Def)
}

var datasetExpr = regexp.MustCompile(`^(.*?):(.*?)(?:\.(.*))?$`)

// ParseDatasetExpr splits "project:dataset[.tableRegex]". The table
// expression defaults to ".*".
func ParseDatasetExpr(expr string) (project, dataset, tables string, err error) {
	m := datasetExpr.FindStringSubmatch(expr)
	if m == nil || m[1] == "" || m[2] == "" {
		return "", "", "", fmt.Errorf("invalid dataset expression %q, want project:dataset[.table_regex]", expr)
	}
	tables = m[3]
	if tables == "" {
		tables = ".*"
	}
	return m[1], m[2], tables, nil
}
