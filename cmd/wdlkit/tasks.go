package main

import (
	"context"

	"github.com/spf13/cobra"
	sqladmin "google.golang.org/api/sqladmin/v1beta4"

	"github.com/rowjay/wdlkit/internal/config"
	"github.com/rowjay/wdlkit/internal/logging"
	"github.com/rowjay/wdlkit/internal/tasks"
)

func noResult[C any](fn func(*tasks.Runner, context.Context, C) error) func(*tasks.Runner, context.Context, C) (struct{}, error) {
	return func(r *tasks.Runner, ctx context.Context, cfg C) (struct{}, error) {
		return struct{}{}, fn(r, ctx, cfg)
	}
}

// newTaskCmd decodes the config file named by the single argument into C
// and runs fn against a connected Runner.
func newTaskCmd[C, R any](root *rootFlags, use, short string, fn func(*tasks.Runner, context.Context, C) (R, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <config>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg C
			if err := config.Decode(args[0], &cfg); err != nil {
				return err
			}
			logger := logging.Configure(root.LogLevel, root.LogFormat).With().Str("task", cmd.Parent().Name()+" "+use).Logger()
			ctx := logger.WithContext(cmd.Context())

			env, err := connect(ctx, root, 0, 0)
			if err != nil {
				return err
			}
			defer env.Close()

			runner := &tasks.Runner{
				BQ:      env.BQ,
				SQL:     env.SQL,
				Objects: env.Objects,
				Buckets: env.GCS,
				Out:     cmd.OutOrStdout(),
			}
			if _, err := fn(runner, ctx, cfg); err != nil {
				logger.Error().Err(err).Msg("task failed")
				return err
			}
			return nil
		},
	}
}

func newGCSCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "gcs", Short: "Cloud Storage tasks"}
	cmd.AddCommand(
		newTaskCmd(root, "compose", "Concatenate the objects under a prefix", (*tasks.Runner).Compose),
		newTaskCmd(root, "download", "Download the objects under a prefix", (*tasks.Runner).Download),
		newTaskCmd(root, "upload", "Upload a local file", (*tasks.Runner).Upload),
	)
	return cmd
}

func newBigQueryCmd(root *rootFlags) *cobra.Command {
	cmd := &cobra.Command{Use: "bq", Short: "BigQuery tasks"}
	cmd.AddCommand(
		newTaskCmd(root, "query", "Run a query", (*tasks.Runner).Query),
		newTaskCmd(root, "create_table", "Create a table", (*tasks.Runner).CreateTable),
		newTaskCmd(root, "copy_table", "Copy tables into a destination table", (*tasks.Runner).CopyTable),
		newTaskCmd(root, "load_table", "Load objects into a table", (*tasks.Runner).LoadTable),
		newTaskCmd(root, "extract_table", "Extract a table to object storage", (*tasks.Runner).ExtractTable),
		newTaskCmd(root, "create_dataset", "Create or patch a dataset", (*tasks.Runner).CreateDataset),
		newTaskCmd(root, "delete_dataset", "Delete a dataset", noResult((*tasks.Runner).DeleteDataset)),
	)
	return cmd
}

func newCloudSQLCmd(root *rootFlags) *cobra.Command {
	var grantBucket string
	insert := newTaskCmd(root, "instance_insert", "Create an instance and its user",
		func(r *tasks.Runner, ctx context.Context, cfg tasks.InstanceInsertConfig) (*sqladmin.DatabaseInstance, error) {
			return r.InstanceInsert(ctx, cfg, grantBucket)
		})
	insert.Flags().StringVar(&grantBucket, "grant_bucket", "", "Bucket the instance service account may read")

	cmd := &cobra.Command{Use: "cloudsql", Short: "Cloud SQL tasks"}
	cmd.AddCommand(
		insert,
		newTaskCmd(root, "instance_delete", "Delete an instance", noResult((*tasks.Runner).InstanceDelete)),
		newTaskCmd(root, "database_insert", "Create a database", (*tasks.Runner).DatabaseInsert),
		newTaskCmd(root, "database_delete", "Delete a database", noResult((*tasks.Runner).DatabaseDelete)),
		newTaskCmd(root, "import_file", "Import a CSV or SQL object into a database", (*tasks.Runner).ImportFile),
		newCSVUpdateCmd(root),
	)
	return cmd
}

// csv_update works on local files only and needs no credentials.
func newCSVUpdateCmd(root *rootFlags) *cobra.Command {
	return &cobra.Command{
		Use:   "csv_update <config>",
		Short: "Drop a column, and optionally the header, from a CSV file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var cfg tasks.CSVUpdateConfig
			if err := config.Decode(args[0], &cfg); err != nil {
				return err
			}
			logger := logging.Configure(root.LogLevel, root.LogFormat)
			runner := &tasks.Runner{Out: cmd.OutOrStdout()}
			if err := runner.CSVUpdate(logger.WithContext(cmd.Context()), cfg); err != nil {
				logger.Error().Err(err).Str("task", "cloudsql csv_update").Msg("task failed")
				return err
			}
			return nil
		},
	}
}
