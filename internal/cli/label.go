package cli

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/roach88/stockscan/internal/inventory"
	"github.com/roach88/stockscan/internal/label"
)

// LabelOptions holds flags for the label command.
type LabelOptions struct {
	*RootOptions
	Output string // PNG path; empty prints the code to the terminal
	Size   int
}

// NewLabelCommand creates the label command.
func NewLabelCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &LabelOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "label <record-id>",
		Short: "Render a recorded scan as a QR code",
		Long: `Render the payload of a recorded scan as a QR code, for relabelling an item.

Without --output the code is drawn in the terminal.

Examples:
  stockscan label 0192f3c4-...
  stockscan label 0192f3c4-... -o label.png --size 512`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runLabel(cmd.Context(), opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "write a PNG to this file")
	cmd.Flags().IntVar(&opts.Size, "size", label.DefaultSize, "PNG size in pixels")

	return cmd
}

func runLabel(ctx context.Context, opts *LabelOptions, id string, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	return withInventory(ctx, cfg, func(log *inventory.Log) error {
		rec, ok := log.Find(id)
		if !ok {
			return NewExitError(ExitCommandError, fmt.Sprintf("no recorded scan with id %s", id))
		}

		w := cmd.OutOrStdout()
		if opts.Output == "" {
			art, err := label.Terminal(rec)
			if err != nil {
				return WrapExitError(ExitFailure, "failed to render label", err)
			}
			fmt.Fprint(w, art)
			fmt.Fprintf(w, "%s  %s\n", DisplaySymbology(rec.SymbologyTag), rec.Payload)
			return nil
		}

		if err := label.WriteFile(opts.Output, rec, opts.Size); err != nil {
			return WrapExitError(ExitFailure, "failed to write label", err)
		}
		out := &OutputFormatter{Format: opts.Format, Writer: w}
		if opts.Format == "json" {
			return out.Success(map[string]string{"id": rec.ID, "path": opts.Output})
		}
		return out.Success(fmt.Sprintf("Wrote label for %s to %s", rec.ID, opts.Output))
	})
}
