package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/rowjay/wdlkit/internal/app"
	"github.com/rowjay/wdlkit/internal/config"
	"github.com/rowjay/wdlkit/internal/logging"
	"github.com/rowjay/wdlkit/internal/notify"
	"github.com/rowjay/wdlkit/internal/version"
)

type rootFlags struct {
	ProjectID   string
	Credentials string
	LogLevel    string
	LogFormat   string
}

func main() {
	root := &rootFlags{}

	rootCmd := &cobra.Command{
		Use:           "wdlkit",
		Short:         "BigQuery, Cloud Storage and Cloud SQL glue for WDL workflows",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&root.ProjectID, "project_id", "", "Project ID for API clients (default: infer from environment)")
	rootCmd.PersistentFlags().StringVar(&root.Credentials, "credentials", "", "JSON credentials file (default: infer from environment)")
	rootCmd.PersistentFlags().StringVar(&root.LogLevel, "log-level", "", "Log level (debug, info, warning, error, none)")
	rootCmd.PersistentFlags().StringVar(&root.LogFormat, "log-format", "", "Log format (json, console)")

	rootCmd.AddCommand(newDatasetCmd(root, "backup", "Export a dataset's tables and write its manifest",
		func(ctx context.Context, a *app.App) (any, error) { return a.Backup(ctx) }))
	rootCmd.AddCommand(newDatasetCmd(root, "restore", "Recreate a dataset from a backup manifest",
		func(ctx context.Context, a *app.App) (any, error) { return a.Restore(ctx) }))
	rootCmd.AddCommand(newDatasetCmd(root, "header_file", "Upload one column header file per table",
		func(ctx context.Context, a *app.App) (any, error) { return a.HeaderFiles(ctx) }))
	rootCmd.AddCommand(newGCSCmd(root))
	rootCmd.AddCommand(newBigQueryCmd(root))
	rootCmd.AddCommand(newCloudSQLCmd(root))
	rootCmd.AddCommand(newSlackCmd(root))
	rootCmd.AddCommand(newMailCmd(root))
	rootCmd.AddCommand(newYAML2WDLCmd())
	rootCmd.AddCommand(newConfigCmd())
	rootCmd.AddCommand(newVersionCmd())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

// newDatasetCmd builds backup, restore and header_file. They share the
// viper-loaded config, the operation timeout and the notification targets.
func newDatasetCmd(root *rootFlags, use, short string, run func(context.Context, *app.App) (any, error)) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <config>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(root, args[0])
			if err != nil {
				return err
			}
			logger := logging.Configure(cfg.LogLevel, cfg.LogFormat)

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.OperationTimeout)
			defer cancel()
			ctx = logger.WithContext(ctx)

			env, err := connect(ctx, root, cfg.Threads, cfg.HTTPPoolSize)
			if err != nil {
				return err
			}
			defer env.Close()
			if cfg.QuotaProject == "" {
				cfg.QuotaProject = env.Project
			}

			targets, err := notify.FromConfig(ctx, cfg.Notifications, env.Objects)
			if err != nil {
				return err
			}
			var notifier notify.Notifier
			if !targets.Empty() {
				notifier = targets
			}
			appSvc := app.New(cfg, env.BQ, env.Objects, logger, notifier)

			res, err := run(ctx, appSvc)
			if err != nil {
				if errors.Is(err, context.DeadlineExceeded) {
					logger.Error().Err(err).Dur("timeout", cfg.OperationTimeout).Msgf("%s timed out", use)
				} else {
					logger.Error().Err(err).Msgf("%s failed", use)
				}
				return err
			}
			logger.Info().Msgf("%s completed", use)
			if cfg.JSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(res)
			}
			return nil
		},
	}
}

func newConfigCmd() *cobra.Command {
	var input string
	var output string
	var key string

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Config utilities",
	}

	encrypt := &cobra.Command{
		Use:   "encrypt",
		Short: "Encrypt a config file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if input == "" || key == "" {
				return fmt.Errorf("--input and --key are required")
			}
			sealed, err := config.EncryptConfigFile(input, output, key)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), sealed)
			return nil
		},
	}
	encrypt.Flags().StringVar(&input, "input", "", "Input config file")
	encrypt.Flags().StringVar(&output, "output", "", "Output encrypted config file (default: <input>.enc)")
	encrypt.Flags().StringVar(&key, "key", "", "Encryption key (base64:, hex: or env:NAME)")

	cmd.AddCommand(encrypt)
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "wdlkit %s (commit %s, built %s)\n", version.Version, version.Commit, version.Date)
		},
	}
}

func loadConfig(root *rootFlags, path string) (*config.Config, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	applyOverrides(cfg, root)
	return cfg, nil
}

func applyOverrides(cfg *config.Config, root *rootFlags) {
	if root.LogLevel != "" {
		cfg.LogLevel = root.LogLevel
	}
	if root.LogFormat != "" {
		cfg.LogFormat = root.LogFormat
	}
}
