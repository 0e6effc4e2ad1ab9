package cli

import (
	"fmt"
	"io"
	"slices"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/yashugupta786/sp/internal/client"
)

func newStatsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show server runtime statistics",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := apiClient.GetServerStats(cmd.Context())
			if err != nil {
				return fmt.Errorf("get server stats: %w", err)
			}
			return render(cmd.OutOrStdout(), stats, func(w io.Writer) { printServerStats(w, stats) })
		},
	}
}

// printServerStats displays server runtime statistics.
func printServerStats(w io.Writer, stats *client.ServerStats) {
	uptime := time.Duration(stats.UptimeSeconds * float64(time.Second))
	fmt.Fprintf(w, "Server Statistics (in-memory, since restart)\n")
	fmt.Fprintf(w, "═══════════════════════════════════════════════\n")
	fmt.Fprintf(w, "Uptime: %s\n", uptime.Round(time.Second))

	ops := []struct {
		name string
		op   *client.OperationStats
	}{
		{"Provider list", stats.ProviderList},
		{"Provider fetch", stats.ProviderFetch},
		{"Store query", stats.StoreQuery},
		{"Jobs", stats.Job},
	}
	for _, o := range ops {
		if o.op == nil {
			continue
		}
		fmt.Fprintf(w, "\n%s:\n", o.name)
		printOpStats(w, o.op)
	}

	if len(stats.Counters) > 0 {
		fmt.Fprintf(w, "\nCounters:\n")
		names := make([]string, 0, len(stats.Counters))
		for name := range stats.Counters {
			names = append(names, name)
		}
		slices.Sort(names)
		for _, name := range names {
			fmt.Fprintf(w, "  %-18s %s\n", name, humanize.Comma(stats.Counters[name]))
		}
	}
}

// printOpStats displays timing statistics for an operation.
func printOpStats(w io.Writer, op *client.OperationStats) {
	fmt.Fprintf(w, "  Calls: %s, Errors: %d, Total: %dms\n", humanize.Comma(op.Count), op.Errors, op.TotalTimeMs)
	fmt.Fprintf(w, "  Time: avg %.1fms, min %dms, max %dms\n",
		op.AvgTimeMs, op.MinTimeMs, op.MaxTimeMs)
}
