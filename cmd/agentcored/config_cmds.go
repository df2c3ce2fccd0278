package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentrt/core/internal/config"
)

// buildConfigCmd creates the "config" command group: the CLI-side
// counterpart of internal/httpapi's /config/* routes, useful for
// provisioning a host before the server is ever started.
func buildConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Inspect and manage the configuration file",
	}
	cmd.AddCommand(
		buildConfigValidateCmd(),
		buildConfigInitCmd(),
		buildConfigSchemaCmd(),
		buildConfigBackupCmd(),
		buildConfigRecoverCmd(),
	)
	return cmd
}

func buildConfigValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate the configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := config.NewManager(resolveConfigPath(configPath))
			if err := mgr.Validate(); err != nil {
				return wrapUsage(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config is valid")
			return nil
		},
	}
}

func buildConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := config.NewManager(resolveConfigPath(configPath))
			if err := mgr.Init(); err != nil {
				return wrapUsage(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "config initialized:", resolveConfigPath(configPath))
			return nil
		},
	}
}

func buildConfigSchemaCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "schema",
		Short: "Print the configuration JSON schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			schema, err := config.JSONSchema()
			if err != nil {
				return err
			}
			_, err = cmd.OutOrStdout().Write(schema)
			return err
		},
	}
}

func buildConfigBackupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "backup <dest>",
		Short: "Copy the configuration file to dest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := config.NewManager(resolveConfigPath(configPath))
			if err := mgr.Backup(args[0]); err != nil {
				return wrapUsage(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "backed up to", args[0])
			return nil
		},
	}
}

func buildConfigRecoverCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "recover <source>",
		Short: "Restore the configuration file from a prior backup",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			mgr := config.NewManager(resolveConfigPath(configPath))
			if err := mgr.Recover(args[0]); err != nil {
				return wrapUsage(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "recovered from", args[0])
			return nil
		},
	}
}
