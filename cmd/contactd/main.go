// Command contactd runs the contact book service and its telemetry tooling.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

type rootOptions struct {
	configPath string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:           "contactd",
		Short:         "Contact book service with OpenTelemetry instrumentation",
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVarP(&opts.configPath, "config", "c", "contactd.yaml",
		"path to the YAML config file (missing file means defaults)")

	cmd.AddCommand(
		newServeCmd(opts),
		newLogsCmd(opts),
		newConfigCmd(opts),
		newHealthCmd(opts),
	)
	return cmd
}
