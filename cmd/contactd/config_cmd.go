package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

func newConfigCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "config",
		Short: "Print the effective configuration",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := LoadConfig(opts.configPath)
			if err != nil {
				return err
			}
			// Export headers usually carry credentials.
			masked := make(map[string]string, len(cfg.Telemetry.Exporter.OTLP.Headers))
			for k := range cfg.Telemetry.Exporter.OTLP.Headers {
				masked[k] = "***"
			}
			cfg.Telemetry.Exporter.OTLP.Headers = masked

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("failed to encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(out)
			return err
		},
	}
}
