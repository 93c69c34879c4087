// Package cmd provides the CLI commands for chalkline.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/chalkline-ai/chalkline/internal/config"
)

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "chalkline",
	Short: "Chalkline - school records assistant",
	Long: `Chalkline answers natural-language questions about school records
through a tool-calling agent. Every tool call passes a role-based
policy check before it can read anything: students see their own
records, teachers see their classes, admins see their school.

Quick start:
  1. Create a config file: chalkline.yaml
  2. Seed a school: chalkline seed --tenant demo_school --file fixtures.yaml
  3. Run: chalkline serve

Configuration:
  Config is loaded from chalkline.yaml in the current directory,
  $HOME/.chalkline/, or /etc/chalkline/.

  Environment variables can override scalar config values with the
  CHALKLINE_ prefix. Example: CHALKLINE_SERVER_HTTP_ADDR=:9090

Commands:
  serve       Start the assistant server
  seed        Load record fixtures into a tenant database
  hash-key    Generate a key hash for an API key
  version     Print version information`,
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
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./chalkline.yaml)")
}

func initConfig() {
	config.InitViper(cfgFile)
}
