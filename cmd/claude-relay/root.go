package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	cfgFile string
	verbose bool
)

var rootCmd = &cobra.Command{
	Use:   "claude-relay",
	Short: "Claude Relay Service - pooled upstream accounts behind one API",
	Long: `Claude Relay Service exposes a uniform messages API while the backend
manages a pool of upstream AI-provider accounts.

It handles, per request:
  - Account selection with weighted rotation and per-account concurrency caps
  - OAuth token refresh with single-flight deduplication
  - Per-account proxy egress (HTTP, HTTPS, SOCKS5)
  - Streaming relay with token usage capture
  - Rate-limit cooldowns and failover across accounts`,
	Version: Version,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "config.yaml", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
}
