package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"storybook/internal/bootstrap"
	"storybook/internal/domain"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect story jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var (
		owner  string
		limit  int
		offset int
	)
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the jobs of one owner, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd, func(rt *bootstrap.Runtime) error {
				jobs, err := rt.Jobs.ListByOwner(cmd.Context(), owner, limit, offset)
				if err != nil {
					return err
				}
				if len(jobs) == 0 {
					fmt.Fprintln(cmd.OutOrStdout(), "No jobs")
					return nil
				}
				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.ID,
						string(job.Status),
						job.Inputs.ChildName,
						job.Inputs.Genre,
						job.UpdatedAt.Format(time.RFC3339),
					})
				}
				fmt.Fprint(cmd.OutOrStdout(), renderTable(
					[]string{"ID", "Status", "Child", "Genre", "Updated"},
					rows,
					[]columnAlignment{alignLeft, alignLeft, alignLeft, alignLeft, alignRight},
				))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&owner, "owner", "", "Owner id (token subject)")
	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum rows")
	cmd.Flags().IntVar(&offset, "offset", 0, "Rows to skip")
	_ = cmd.MarkFlagRequired("owner")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job with its pages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withJobs(cmd, func(rt *bootstrap.Runtime) error {
				job, err := rt.Jobs.Get(cmd.Context(), args[0])
				if err != nil {
					return fmt.Errorf("job %s: %w", args[0], err)
				}
				out := cmd.OutOrStdout()
				fmt.Fprint(out, renderTable([]string{"Field", "Value"}, jobFields(job), nil))
				if len(job.Pages) > 0 {
					rows := make([][]string, 0, len(job.Pages))
					for i, p := range job.Pages {
						rows = append(rows, []string{strconv.Itoa(i + 1), p.Narration, p.IllustrationURL})
					}
					fmt.Fprint(out, renderTable([]string{"Page", "Narration", "Illustration"}, rows,
						[]columnAlignment{alignRight, alignLeft, alignLeft}))
				}
				return nil
			})
		},
	}
}

func jobFields(job *domain.Job) [][]string {
	rows := [][]string{
		{"id", job.ID},
		{"owner", job.OwnerID},
		{"status", string(job.Status)},
		{"child", fmt.Sprintf("%s (%d, %s)", job.Inputs.ChildName, job.Inputs.Age, job.Inputs.Gender)},
		{"genre", job.Inputs.Genre},
		{"language", job.Inputs.Language},
		{"created", job.CreatedAt.Format(time.RFC3339)},
		{"updated", job.UpdatedAt.Format(time.RFC3339)},
	}
	if job.ArtifactURL != "" {
		rows = append(rows, []string{"artifact", job.ArtifactURL})
	}
	if job.ErrorSummary != "" {
		rows = append(rows, []string{"error", job.ErrorSummary})
	}
	return rows
}
