package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Sayan19951995/metricon-sub002/internal/config"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect the effective configuration",
}

var showSecrets bool

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Print the effective configuration as YAML",
	Long: `Print the configuration after merging the config file, METRICON_*
environment variables and defaults, then validating it.

The postgres DSN is masked unless --show-secrets is given.`,
	RunE: runConfigShow,
}

func init() {
	configShowCmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "print secrets unmasked")
	configCmd.AddCommand(configShowCmd)
	rootCmd.AddCommand(configCmd)
}

func runConfigShow(cmd *cobra.Command, args []string) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}
	if !showSecrets && cfg.Credentials.PostgresDSN != "" {
		cfg.Credentials.PostgresDSN = "********"
	}

	out := cmd.OutOrStdout()
	if f := config.ConfigFileUsed(); f != "" {
		fmt.Fprintf(out, "# config file: %s\n", f)
	}
	enc := yaml.NewEncoder(out)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}
	return enc.Close()
}
