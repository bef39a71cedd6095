package cli

import (
	"context"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/stockscan/internal/inventory"
)

// ListOptions holds flags for the list command.
type ListOptions struct {
	*RootOptions
	Limit int
}

// ListResult is the JSON payload of the list command.
type ListResult struct {
	Records   []inventory.ScanRecord `json:"records"`
	Total     int                    `json:"total"`
	LoadError string                 `json:"load_error,omitempty"`
}

// NewListCommand creates the list command.
func NewListCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ListOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the recorded inventory",
		Long: `Print the persisted inventory, newest scan first.

Examples:
  stockscan list
  stockscan list --limit 20
  stockscan list --format json`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runList(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().IntVarP(&opts.Limit, "limit", "n", 0, "show at most n records (0 = all)")

	return cmd
}

func runList(ctx context.Context, opts *ListOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	return withInventory(ctx, cfg, func(log *inventory.Log) error {
		records := log.Records()
		result := ListResult{Total: len(records)}
		if err := log.LoadError(); err != nil {
			result.LoadError = err.Error()
		}
		if opts.Limit > 0 && len(records) > opts.Limit {
			records = records[:opts.Limit]
		}
		result.Records = records

		if opts.Format == "json" {
			f := &OutputFormatter{Format: "json", Writer: cmd.OutOrStdout()}
			return f.Success(result)
		}

		w := cmd.OutOrStdout()
		if result.LoadError != "" {
			fmt.Fprintf(w, "Warning: stored inventory was unreadable (%s)\n", result.LoadError)
		}
		if result.Total == 0 {
			fmt.Fprintln(w, "Inventory is empty.")
			return nil
		}
		writeRecords(w, records)
		if len(records) < result.Total {
			fmt.Fprintf(w, "(%d of %d records)\n", len(records), result.Total)
		}
		return nil
	})
}

// writeRecords prints records as an aligned table.
func writeRecords(w io.Writer, records []inventory.ScanRecord) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSYMBOLOGY\tCAPTURED\tPAYLOAD")
	for _, r := range records {
		captured := "-"
		if !r.CapturedAt.IsZero() {
			captured = r.CapturedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.ID, DisplaySymbology(r.SymbologyTag), captured, truncate(r.Payload, 48))
	}
	_ = tw.Flush()
}
