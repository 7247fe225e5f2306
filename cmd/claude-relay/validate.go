package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/kadaliao/claude-relay-service/pkg/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate a configuration file",
	Long: `Load the configuration file, apply defaults and environment overrides,
and report any validation errors without starting the server.

Examples:
  # Validate the default config file
  claude-relay validate

  # Validate a specific file
  claude-relay validate --config /etc/claude-relay/config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}

		fmt.Printf("configuration valid: %s\n", cfgFile)
		fmt.Printf("  listen address: %s\n", cfg.Server.ListenAddress)
		fmt.Printf("  store path:     %s\n", cfg.Store.Path)
		fmt.Printf("  strategy:       %s\n", cfg.Scheduler.Strategy)
		fmt.Printf("  max attempts:   %d\n", cfg.Relay.MaxAttempts)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}
