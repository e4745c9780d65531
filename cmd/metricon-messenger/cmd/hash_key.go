package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Sayan19951995/metricon-sub002/internal/domain/auth"
)

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate an argon2id hash for an API key",
	Long: `Generate an argon2id hash of an API key for use in config.

The output can be used directly as server.api_keys[].hash:

  server:
    api_keys:
      - name: ops
        hash: "$argon2id$v=19$m=47104,t=1,p=1$..."

Example:
  metricon-messenger hash-key "my-secret-api-key"

Security note: The key will appear in shell history.
Consider clearing history after use or using an environment variable:
  metricon-messenger hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		hash, err := auth.HashArgon2id(args[0])
		if err != nil {
			return fmt.Errorf("hashing key: %w", err)
		}
		fmt.Fprintln(cmd.OutOrStdout(), hash)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(hashKeyCmd)
}
