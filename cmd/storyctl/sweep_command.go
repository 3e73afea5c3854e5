package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"storybook/internal/bootstrap"
	"storybook/internal/orchestrator"
)

func newSweepCommand(ctx *commandContext) *cobra.Command {
	var stuckAfter time.Duration
	cmd := &cobra.Command{
		Use:   "sweep",
		Short: "Fail processing jobs that stopped making progress",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd, func(rt *bootstrap.Runtime) error {
				threshold := stuckAfter
				if threshold <= 0 {
					threshold = rt.Config.StuckAfter
				}
				sweeper := orchestrator.NewSweeper(rt.Jobs, threshold, rt.Config.SweepInterval, rt.Logger)
				ids, err := sweeper.SweepOnce(cmd.Context())
				if err != nil {
					return err
				}
				if len(ids) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No stalled jobs")
					return nil
				}
				for _, id := range ids {
					fmt.Fprintf(cmd.OutOrStdout(), "failed %s\n", id)
				}
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&stuckAfter, "stuck-after", 0, "Override STUCK_AFTER_MINUTES")
	return cmd
}

func newMigrateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply the job store schema",
		RunE: func(cmd *cobra.Command, args []string) error {
			// Opening the store applies the idempotent schema.
			return ctx.withJobs(cmd, func(rt *bootstrap.Runtime) error {
				fmt.Fprintf(cmd.OutOrStdout(), "%s schema is up to date\n", rt.Config.StoreDriver)
				return nil
			})
		},
	}
}
