package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var configPath string

// buildRootCmd creates the root command with all subcommands attached.
// Kept separate from main so tests can exercise it without calling
// os.Exit.
func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:          "agentcored",
		Short:        "agentcored - OpenAI-compatible agent runtime",
		Version:      fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, date),
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to YAML configuration file (default: $XDG_CONFIG_HOME/agentrt/config.yaml)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildConfigCmd(),
		buildScheduleCmd(),
	)
	return rootCmd
}
