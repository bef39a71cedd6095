package cli

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/roach88/stockscan/internal/export"
	"github.com/roach88/stockscan/internal/inventory"
)

// ExportOptions holds flags for the export command.
type ExportOptions struct {
	*RootOptions
	Output string // local file; "-" writes to stdout
	S3     bool   // also upload to the configured bucket

	// Now stamps the export header. Tests override it.
	Now func() time.Time
}

// ExportResult is the JSON payload of the export command.
type ExportResult struct {
	Records      int      `json:"records"`
	Destinations []string `json:"destinations"`
}

// NewExportCommand creates the export command.
func NewExportCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ExportOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the inventory as JSONL",
		Long: `Export the inventory as JSONL: a header line followed by one line per scan.

The export goes to a local file (--output), to the S3 bucket configured under
[export] (--s3), or both. Without either flag it is written to stdout.

Examples:
  stockscan export
  stockscan export -o inventory.jsonl
  stockscan export --s3`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write to this file (- for stdout)")
	cmd.Flags().BoolVar(&opts.S3, "s3", false, "upload to the configured S3 bucket")

	return cmd
}

func runExport(ctx context.Context, opts *ExportOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	var (
		dests     []export.Destination
		locations []string
	)
	switch opts.Output {
	case "":
		if !opts.S3 {
			dests = append(dests, export.WriterDestination{W: cmd.OutOrStdout()})
		}
	case "-":
		dests = append(dests, export.WriterDestination{W: cmd.OutOrStdout()})
	default:
		dests = append(dests, export.FileDestination{Path: opts.Output})
		locations = append(locations, opts.Output)
	}
	if opts.S3 {
		ec := cfg.Export
		s3dest, err := export.NewS3Destination(ctx, ec.S3Bucket, ec.S3Key, ec.S3Region, ec.S3Endpoint)
		if err != nil {
			return WrapExitError(ExitCommandError, "failed to configure S3 export", err)
		}
		dests = append(dests, s3dest)
		locations = append(locations, s3dest.Location())
	}

	now := time.Now
	if opts.Now != nil {
		now = opts.Now
	}

	return withInventory(ctx, cfg, func(log *inventory.Log) error {
		records := log.Records()
		if err := export.Export(ctx, records, now().UTC(), dests...); err != nil {
			return WrapExitError(ExitFailure, "export failed", err)
		}

		// Inventory went to stdout; a summary would corrupt it.
		if len(locations) == 0 {
			return nil
		}
		out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}
		if opts.Format == "json" {
			return out.Success(ExportResult{Records: len(records), Destinations: locations})
		}
		for _, loc := range locations {
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d records to %s\n", len(records), loc)
		}
		return nil
	})
}
