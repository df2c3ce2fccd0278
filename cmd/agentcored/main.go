// Package main provides the CLI entry point for the agentrt agent runtime.
//
// agentcored serves an OpenAI-compatible chat-completions API, manages a
// YAML config file, and runs recipe-driven jobs on a cron schedule.
//
// # Basic usage
//
// Start the server:
//
//	agentcored serve --config config.yaml
//
// Validate a config file:
//
//	agentcored config validate
//
// Manage scheduled jobs:
//
//	agentcored schedule register --id daily-digest --cron "0 9 * * *" --recipe digest.yaml
//	agentcored schedule run-now daily-digest
//
// # Environment variables
//
//   - AGENTCORE_PROVIDER / AGENTCORE_MODEL: override the default LLM
//     provider and model without editing the config file.
//   - AGENTCORE_CONFIG: path to the config file (default: config.yaml in
//     the current directory, or $XDG_CONFIG_HOME/agentrt/config.yaml if
//     that file exists).
package main

import (
	"fmt"
	"log/slog"
	"os"
)

// Build information, populated by ldflags during release builds.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	slog.SetDefault(logger)

	if err := buildRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(exitCodeFor(err))
	}
}

// exitCodeFor maps an error to the process exit code spec.md's external
// interfaces section fixes: 0 success, 2 usage/config error, 70 internal
// error. Any error reaching main() already failed, so this only chooses
// between the two non-zero codes.
func exitCodeFor(err error) int {
	if isUsageError(err) {
		return 2
	}
	return 70
}
