package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/agentrt/core/internal/config"
	"github.com/agentrt/core/internal/scheduler"
)

// buildScheduleCmd creates the "schedule" command group, a CLI-side view
// onto the same *scheduler.Scheduler the server process drives — each
// invocation opens the persisted job list, performs one operation, and
// tears back down, the way a cron-adjacent admin tool normally works.
func buildScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage recipe-driven scheduled jobs",
	}
	cmd.AddCommand(
		buildScheduleListCmd(),
		buildScheduleRegisterCmd(),
		buildSchedulePauseCmd(),
		buildScheduleResumeCmd(),
		buildScheduleRemoveCmd(),
		buildScheduleRunNowCmd(),
	)
	return cmd
}

func openScheduler(cmd *cobra.Command) (*scheduler.Scheduler, func(), error) {
	path := resolveConfigPath(configPath)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, nil, wrapUsage(fmt.Errorf("load config %q: %w", path, err))
	}
	store, err := openSessionStore(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("open session store: %w", err)
	}
	storagePath, err := scheduler.DefaultStoragePath()
	if err != nil {
		return nil, nil, err
	}
	recipesDir, err := scheduler.DefaultRecipesDir()
	if err != nil {
		return nil, nil, err
	}
	sched, err := scheduler.New(storagePath, recipesDir, cfg.LLM, store)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() { sched.Stop(cmd.Context()) }
	return sched, cleanup, nil
}

func buildScheduleListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered scheduled jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, cleanup, err := openScheduler(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			jobs := sched.List()
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(jobs)
		},
	}
}

func buildScheduleRegisterCmd() *cobra.Command {
	var id, cronExpr, recipe, timezone string
	cmd := &cobra.Command{
		Use:   "register",
		Short: "Register a new scheduled job",
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, cleanup, err := openScheduler(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			job, err := sched.Register(scheduler.RegisterSpec{
				ID: id, Source: recipe, CronExpr: cronExpr, Timezone: timezone,
			})
			if err != nil {
				return wrapUsage(err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "registered job %q (cron: %s)\n", job.ID, job.CronExpr)
			return nil
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "Unique job id")
	cmd.Flags().StringVar(&cronExpr, "cron", "", "Cron expression (5- or 6-field)")
	cmd.Flags().StringVar(&recipe, "recipe", "", "Path to the recipe file (YAML or JSON)")
	cmd.Flags().StringVar(&timezone, "timezone", "", "IANA timezone name (default: local)")
	_ = cmd.MarkFlagRequired("id")
	_ = cmd.MarkFlagRequired("cron")
	_ = cmd.MarkFlagRequired("recipe")
	return cmd
}

func buildSchedulePauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause <id>",
		Short: "Disarm a job's cron trigger without unregistering it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, cleanup, err := openScheduler(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := sched.Pause(args[0]); err != nil {
				return wrapUsage(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "paused", args[0])
			return nil
		},
	}
}

func buildScheduleResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Re-arm a paused job's cron trigger",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, cleanup, err := openScheduler(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := sched.Resume(args[0]); err != nil {
				return wrapUsage(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "resumed", args[0])
			return nil
		},
	}
}

func buildScheduleRemoveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "remove <id>",
		Short: "Unregister a job and delete its managed recipe copy",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, cleanup, err := openScheduler(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			if err := sched.Remove(args[0]); err != nil {
				return wrapUsage(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "removed", args[0])
			return nil
		},
	}
}

func buildScheduleRunNowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run-now <id>",
		Short: "Execute a job immediately, outside its cron schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, cleanup, err := openScheduler(cmd)
			if err != nil {
				return err
			}
			defer cleanup()
			sessionID, err := sched.RunNow(cmd.Context(), args[0])
			if err != nil {
				return wrapUsage(err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "session:", sessionID)
			return nil
		},
	}
}
