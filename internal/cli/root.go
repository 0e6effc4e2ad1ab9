// Package cli provides the command-line interface for spingest.
package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/yashugupta786/sp/internal/client"
	"gopkg.in/yaml.v3"
)

// Output formats accepted by --output.
const (
	outputText = "text"
	outputJSON = "json"
	outputYAML = "yaml"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	serverURL string
	output    string

	apiClient *client.Client
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = newRootCmd()

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spingest",
		Short: "Queue and inspect document ingestion jobs",
		Long: `Spingest talks to a spingest server that copies documents out of a
year/quarter > sub-category > owner folder tree into the document store.

Ingestion runs in the background: commands that start a job print its id,
and --wait follows the job until it finishes.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			switch output {
			case outputText, outputJSON, outputYAML:
			default:
				return fmt.Errorf("invalid --output %q (want text, json or yaml)", output)
			}
			apiClient = client.New(serverURL)
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&serverURL, "server", "", "server URL (default $SPINGEST_SERVER_URL or http://localhost:8484)")
	cmd.PersistentFlags().StringVarP(&output, "output", "o", outputText, "output format: text, json or yaml")

	cmd.AddCommand(newIngestCmd())
	cmd.AddCommand(newDiscoverCmd())
	cmd.AddCommand(newIngestQuarterCmd())
	cmd.AddCommand(newStatusCmd())
	cmd.AddCommand(newWatchCmd())
	cmd.AddCommand(newJobsCmd())
	cmd.AddCommand(newTreeCmd())
	cmd.AddCommand(newStatsCmd())
	cmd.AddCommand(newVersionCmd())
	return cmd
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return rootCmd.ExecuteContext(ctx)
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the client version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "spingest %s\n", Version)
			return nil
		},
	}
}

// render writes v as JSON or YAML when requested, otherwise calls text.
func render(w io.Writer, v any, text func(io.Writer)) error {
	switch output {
	case outputJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case outputYAML:
		// Round-trip through JSON so YAML keys match the API field names.
		raw, err := json.Marshal(v)
		if err != nil {
			return err
		}
		var generic any
		if err := json.Unmarshal(raw, &generic); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(generic); err != nil {
			return err
		}
		return enc.Close()
	default:
		text(w)
		return nil
	}
}
