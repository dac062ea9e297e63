package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"voiceloom/internal/config"
	"voiceloom/internal/store"
)

func newJobsCommand(ctx *commandContext) *cobra.Command {
	jobsCmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect generation jobs",
	}
	jobsCmd.AddCommand(newJobsListCommand(ctx))
	jobsCmd.AddCommand(newJobsShowCommand(ctx))
	return jobsCmd
}

func newJobsListCommand(ctx *commandContext) *cobra.Command {
	var statusFlag string
	var userFlag string

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs, optionally filtered by status or user",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, s *store.Store) error {
				var jobs []*store.Job
				var err error
				switch {
				case strings.TrimSpace(userFlag) != "":
					jobs, err = s.ListJobsForUser(cmd.Context(), strings.TrimSpace(userFlag))
				case strings.TrimSpace(statusFlag) != "":
					status, ok := store.ParseStatus(statusFlag)
					if !ok {
						return fmt.Errorf("unknown status %q", statusFlag)
					}
					jobs, err = s.ListJobs(cmd.Context(), status)
				default:
					jobs, err = s.ListJobs(cmd.Context())
				}
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				if len(jobs) == 0 {
					fmt.Fprintln(out, "No jobs found.")
					return nil
				}

				rows := make([][]string, 0, len(jobs))
				for _, job := range jobs {
					rows = append(rows, []string{
						job.ID,
						job.UID,
						string(job.Kind),
						string(job.Status),
						fmt.Sprintf("%.0f%%", job.ProgressPercent),
						fmt.Sprintf("%.2f", job.CreditsCost),
						job.CreatedAt.Local().Format(time.DateTime),
					})
				}
				fmt.Fprintln(out, renderTable(
					[]column{
						col("ID"), col("User"), col("Kind"), col("Status"),
						numCol("Progress"), numCol("Credits"), col("Created"),
					},
					rows,
				))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&statusFlag, "status", "", "Filter by job status")
	cmd.Flags().StringVar(&userFlag, "user", "", "Filter by user id")
	return cmd
}

func newJobsShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <job-id>",
		Short: "Show one job in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStore(func(_ *config.Config, s *store.Store) error {
				job, err := s.GetJob(cmd.Context(), args[0])
				if err != nil {
					return err
				}

				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Job:       %s\n", job.ID)
				fmt.Fprintf(out, "User:      %s\n", job.UID)
				fmt.Fprintf(out, "Kind:      %s\n", job.Kind)
				fmt.Fprintf(out, "Status:    %s\n", job.Status)
				fmt.Fprintf(out, "Languages: %s -> %s\n", job.SourceLanguage, job.TargetLanguage)
				fmt.Fprintf(out, "Duration:  %.1fs\n", job.DurationSeconds)
				fmt.Fprintf(out, "Credits:   %.2f (reserved=%t confirmed=%t released=%t)\n",
					job.CreditsCost, job.CreditsReserved, job.CreditsConfirmed, job.CreditsReleased)
				if job.ProgressStage != "" {
					fmt.Fprintf(out, "Progress:  %s %.0f%% %s\n", job.ProgressStage, job.ProgressPercent, job.ProgressMessage)
				}
				if job.OutputPath != "" {
					fmt.Fprintf(out, "Output:    %s\n", job.OutputPath)
				}
				if job.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:     %s\n", job.ErrorMessage)
				}

				chunks, err := s.ListChunks(cmd.Context(), job.ID)
				if err != nil {
					return err
				}
				if len(chunks) == 0 {
					return nil
				}

				rows := make([][]string, 0, len(chunks))
				for _, chunk := range chunks {
					rows = append(rows, []string{
						fmt.Sprintf("%d", chunk.Index),
						string(chunk.Status),
						fmt.Sprintf("%.1fs-%.1fs", chunk.StartTime, chunk.EndTime),
						chunk.AudioPath,
					})
				}
				fmt.Fprintln(out)
				fmt.Fprintln(out, renderTable(
					[]column{numCol("Chunk"), col("Status"), col("Window"), col("Audio")},
					rows,
				))
				return nil
			})
		},
	}
}
