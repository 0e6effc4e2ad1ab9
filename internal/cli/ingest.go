package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/yashugupta786/sp/internal/client"
	"golang.org/x/term"
)

// triggerFlags are shared by the commands that queue a job.
type triggerFlags struct {
	site       string
	folder     string
	tenant     string
	engagement string
	year       int
	quarter    string
	wait       bool
	interval   time.Duration
}

func (f *triggerFlags) register(cmd *cobra.Command, withPeriod bool) {
	cmd.Flags().StringVar(&f.site, "site", "", "site URL or source root (required)")
	cmd.Flags().StringVar(&f.folder, "folder", "", "folder to ingest, relative to the site (required)")
	cmd.Flags().StringVar(&f.tenant, "tenant", "", "tenant id (required)")
	cmd.Flags().StringVar(&f.engagement, "engagement", "", "engagement id (required)")
	cmd.Flags().BoolVarP(&f.wait, "wait", "w", false, "wait for the job to finish")
	cmd.Flags().DurationVar(&f.interval, "interval", time.Second, "poll interval used with --wait")
	for _, name := range []string{"site", "folder", "tenant", "engagement"} {
		_ = cmd.MarkFlagRequired(name)
	}
	if withPeriod {
		cmd.Flags().IntVar(&f.year, "year", 0, "year of the quarter to transfer (required)")
		cmd.Flags().StringVar(&f.quarter, "quarter", "", "quarter to transfer, Q1 to Q4 (required)")
		_ = cmd.MarkFlagRequired("year")
		_ = cmd.MarkFlagRequired("quarter")
	}
}

func (f *triggerFlags) request() client.IngestRequest {
	return client.IngestRequest{
		SiteURL:      f.site,
		FolderPath:   f.folder,
		TenantID:     f.tenant,
		EngagementID: f.engagement,
		Year:         f.year,
		Quarter:      f.quarter,
	}
}

type triggerFunc func(ctx context.Context, req client.IngestRequest) (string, error)

func newIngestCmd() *cobra.Command {
	var flags triggerFlags
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Ingest every quarter below a folder",
		Long: `Queue an ingestion of a folder laid out as
<year/quarter>/<sub-category>/<owner>/<files>.

The folder may also be a single quarter folder such as Q4_2023.

Examples:
  spingest ingest --site https://contoso.sharepoint.com/sites/finance \
    --folder "Shared Documents/Reports" --tenant t1 --engagement e1
  spingest ingest --site file:///exports --folder Q4_2023 --tenant t1 --engagement e1 --wait`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger(cmd, &flags, apiClient.Ingest)
		},
	}
	flags.register(cmd, false)
	return cmd
}

func newDiscoverCmd() *cobra.Command {
	var flags triggerFlags
	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Record the folder taxonomy without copying documents",
		Long: `Walk a folder and merge its year/quarter, sub-category and owner
levels into the run of the tenant/engagement pair. No documents are stored.

Example:
  spingest discover --site file:///exports --folder Reports --tenant t1 --engagement e1`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger(cmd, &flags, apiClient.Discover)
		},
	}
	flags.register(cmd, false)
	return cmd
}

func newIngestQuarterCmd() *cobra.Command {
	var flags triggerFlags
	cmd := &cobra.Command{
		Use:   "ingest-quarter",
		Short: "Transfer one quarter using the recorded taxonomy",
		Long: `Copy the documents of one quarter, visiting only the sub-categories and
owners already recorded for the tenant/engagement pair. Run discover first.

Example:
  spingest ingest-quarter --site file:///exports --folder Reports \
    --tenant t1 --engagement e1 --year 2023 --quarter Q4`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTrigger(cmd, &flags, apiClient.IngestQuarter)
		},
	}
	flags.register(cmd, true)
	return cmd
}

func runTrigger(cmd *cobra.Command, flags *triggerFlags, trigger triggerFunc) error {
	ctx := cmd.Context()
	w := cmd.OutOrStdout()

	jobID, err := trigger(ctx, flags.request())
	if err != nil {
		return fmt.Errorf("queue job: %w", err)
	}

	if !flags.wait {
		return render(w, map[string]string{"jobId": jobID}, func(w io.Writer) {
			fmt.Fprintf(w, "Queued job %s\n", jobID)
			fmt.Fprintf(w, "Use 'spingest status %s' to check progress.\n", jobID)
		})
	}

	if output == outputText && isTerminal(w) {
		return RunJobProgress(apiClient, jobID)
	}

	st, err := apiClient.Wait(ctx, jobID, flags.interval)
	if err != nil {
		return fmt.Errorf("wait for job %s: %w", jobID, err)
	}
	return renderStatus(w, jobID, st)
}

// isTerminal reports whether w is an interactive terminal.
func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
