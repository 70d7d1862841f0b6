package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/rowjay/wdlkit/internal/yaml2wdl"
)

func newYAML2WDLCmd() *cobra.Command {
	var wdlVersion string

	cmd := &cobra.Command{
		Use:   "yaml2wdl <yaml_in> <wdl_out>",
		Short: "Embed a YAML document in a WDL GetYaml task",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			src, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			doc, err := yaml2wdl.Convert(src, wdlVersion)
			if err != nil {
				return fmt.Errorf("%s: %w", args[0], err)
			}
			return os.WriteFile(args[1], []byte(doc), 0o644)
		},
	}
	cmd.Flags().StringVar(&wdlVersion, "version", yaml2wdl.DefaultVersion, "WDL version of the generated document")
	return cmd
}
