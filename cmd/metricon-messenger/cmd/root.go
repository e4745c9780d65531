// Package cmd provides the CLI commands for metricon-messenger.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/Sayan19951995/metricon-sub002/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "metricon-messenger",
	Short: "Multi-tenant messaging session service",
	Long: `metricon-messenger keeps one chat network session per tenant, pairs new
tenants with a bootstrap token, and sends messages on their behalf.

Quick start:
  1. Create a config file: metricon.yaml
  2. Run: metricon-messenger start

Configuration:
  Config is loaded from metricon.yaml in the current directory,
  $HOME/.metricon/, or /etc/metricon/.

  Environment variables can override config values with the METRICON_ prefix.
  Example: METRICON_SERVER_HTTP_ADDR=:9090

Commands:
  start       Start the service
  stop        Stop the running service
  session     Manage tenant sessions through the HTTP API
  config      Inspect the effective configuration
  hash-key    Generate an argon2id hash for an API key
  version     Print version information`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	cobra.OnInitialize(initConfig)
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./metricon.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
