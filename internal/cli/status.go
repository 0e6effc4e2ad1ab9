package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
	"github.com/yashugupta786/sp/internal/client"
)

// errJobFailed is returned after a failed job has been printed.
var errJobFailed = errors.New("job failed")

func newStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status <job-id>",
		Short: "Show the status of an ingestion job",
		Long: `Poll an ingestion job once.

A finished job lists the documents it stored, grouped by sub-category and
owner. A job that stored nothing new reports an empty result.

Example:
  spingest status 01J9Z6V8Q3T5K2M4N7P0R1S2T3`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := apiClient.Status(cmd.Context(), args[0])
			if err != nil {
				if errors.Is(err, client.ErrNotFound) {
					return fmt.Errorf("job not found: %s", args[0])
				}
				return fmt.Errorf("get status: %w", err)
			}
			return renderStatus(cmd.OutOrStdout(), args[0], st)
		},
	}
}

func newWatchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch <job-id>",
		Short: "Stream status changes of a job until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			w := cmd.OutOrStdout()
			last, err := apiClient.Watch(cmd.Context(), args[0], func(st *client.Status) error {
				if st.Pending() {
					return render(w, st, func(w io.Writer) {
						fmt.Fprintf(w, "[pending] %s\n", st.Message)
					})
				}
				return nil
			})
			if err != nil {
				if errors.Is(err, client.ErrNotFound) {
					return fmt.Errorf("job not found: %s", args[0])
				}
				return fmt.Errorf("watch job: %w", err)
			}
			return renderStatus(w, args[0], last)
		},
	}
}

// renderStatus prints a status frame and returns errJobFailed for failed jobs.
func renderStatus(w io.Writer, jobID string, st *client.Status) error {
	if err := render(w, st, func(w io.Writer) { io.WriteString(w, statusText(jobID, st)) }); err != nil {
		return err
	}
	if st.Failed() {
		return errJobFailed
	}
	return nil
}

// statusText renders a status frame for humans.
func statusText(jobID string, st *client.Status) string {
	var b strings.Builder
	switch {
	case st.Pending():
		fmt.Fprintf(&b, "Job %s is still running: %s\n", jobID, st.Message)
	case st.Failed():
		fmt.Fprintf(&b, "Job %s failed: %s\n", jobID, st.Error)
	case st.Data == nil || st.Data.TotalFiles == 0:
		fmt.Fprintf(&b, "Job %s completed. %s\n", jobID, st.Message)
	default:
		d := st.Data
		fmt.Fprintf(&b, "Job %s completed: %d files in run %s\n", jobID, d.TotalFiles, d.RunID)
		for _, g := range d.Documents {
			fmt.Fprintf(&b, "\n  %s / %s  (%s)\n", g.SubCategory, g.Owner, g.DocRunID)
			for _, f := range g.Files {
				fmt.Fprintf(&b, "    - %s  %s\n", f.OriginalFilename, f.DocID)
			}
		}
	}
	return b.String()
}
