package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/yashugupta786/sp/internal/client"
)

func newTreeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "tree <tenant-id> <engagement-id>",
		Short: "Show the taxonomy recorded for a tenant/engagement pair",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := apiClient.GetRun(cmd.Context(), args[0], args[1])
			if err != nil {
				if errors.Is(err, client.ErrNotFound) {
					return fmt.Errorf("no run recorded for %s/%s", args[0], args[1])
				}
				return fmt.Errorf("get run: %w", err)
			}
			return render(cmd.OutOrStdout(), run, func(w io.Writer) { printTree(w, run) })
		},
	}
}

func printTree(w io.Writer, run *client.Run) {
	fmt.Fprintf(w, "%s  (%s / %s, version %d, updated %s)\n",
		run.RunID, run.TenantID, run.EngagementID, run.Version, humanize.Time(run.UpdatedAt))
	if len(run.Tree.Periods) == 0 {
		fmt.Fprintln(w, "  (empty)")
		return
	}
	for _, p := range run.Tree.Periods {
		fmt.Fprintf(w, "  %s %d\n", p.Quarter, p.Year)
		for _, sub := range p.SubCategories {
			fmt.Fprintf(w, "    %s\n", sub.Name)
			for _, o := range sub.Owners {
				fmt.Fprintf(w, "      %-30s %s\n", o.Name, o.DocRunID)
			}
		}
	}
}
