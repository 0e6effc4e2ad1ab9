package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/yashugupta786/sp/internal/client"
)

func newJobsCmd() *cobra.Command {
	var filter client.JobFilter
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "List ingestion jobs",
		Long: `List ingestion jobs, newest first.

Examples:
  spingest jobs                      # List recent jobs
  spingest jobs --status failed      # Only failed jobs
  spingest jobs --tenant t1 -o json  # Jobs of one tenant as JSON`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			jobs, err := apiClient.ListJobs(cmd.Context(), filter)
			if err != nil {
				return fmt.Errorf("list jobs: %w", err)
			}
			return render(cmd.OutOrStdout(), jobs, func(w io.Writer) { printJobs(w, jobs, time.Now()) })
		},
	}
	cmd.Flags().StringVar(&filter.TenantID, "tenant", "", "only jobs of this tenant")
	cmd.Flags().StringVar(&filter.EngagementID, "engagement", "", "only jobs of this engagement")
	cmd.Flags().StringVar(&filter.Status, "status", "", "only jobs in this status (pending, complete, failed)")
	cmd.Flags().IntVarP(&filter.Limit, "limit", "n", 0, "maximum number of jobs (server default 50)")
	return cmd
}

func printJobs(w io.Writer, jobs []client.Job, now time.Time) {
	if len(jobs) == 0 {
		fmt.Fprintln(w, "No jobs found")
		return
	}

	fmt.Fprintf(w, "%-26s %-9s %-8s %-12s %-14s %5s  %s\n", "ID", "STATUS", "MODE", "TENANT", "ENGAGEMENT", "DOCS", "CREATED")
	fmt.Fprintln(w, "----------------------------------------------------------------------------------------------")

	for _, job := range jobs {
		created := humanize.RelTime(job.CreatedAt, now, "ago", "from now")
		fmt.Fprintf(w, "%-26s %-9s %-8s %-12s %-14s %5d  %s\n",
			job.ID, job.Status, job.Mode, job.TenantID, job.EngagementID, job.DocumentCount, created)
		if job.Error != "" {
			fmt.Fprintf(w, "  error: %s\n", job.Error)
		}
	}
}
