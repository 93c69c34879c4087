package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/chalkline-ai/chalkline/internal/domain/auth"
)

var hashKeyArgon2 bool

var hashKeyCmd = &cobra.Command{
	Use:   "hash-key [api-key]",
	Short: "Generate a key hash for an API key",
	Long: `Generate a hash of an API key for use in config.

By default the output is "sha256:<hex>", usable directly in the
auth.api_keys.key_hash field. Pass --argon2id for a memory-hard hash;
lookups for argon2id keys are slower but resist offline cracking of a
leaked config file.

Example:
  chalkline hash-key "my-secret-api-key"
  # Output: sha256:7d5e8c...

Security note: The key will appear in shell history.
Consider clearing history after use or using an environment variable:
  chalkline hash-key "$MY_API_KEY"`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		key := args[0]
		if hashKeyArgon2 {
			hash, err := auth.HashKeyArgon2id(key)
			if err != nil {
				return fmt.Errorf("hashing key: %w", err)
			}
			fmt.Println(hash)
			return nil
		}
		fmt.Printf("sha256:%s\n", auth.HashKey(key))
		return nil
	},
}

func init() {
	hashKeyCmd.Flags().BoolVar(&hashKeyArgon2, "argon2id", false, "use Argon2id instead of SHA-256")
	rootCmd.AddCommand(hashKeyCmd)
}
