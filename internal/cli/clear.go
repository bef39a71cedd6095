package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/roach88/stockscan/internal/inventory"
)

// ClearOptions holds flags for the clear command.
type ClearOptions struct {
	*RootOptions
	Yes bool

	// IsTerminal reports whether stdin is interactive. Tests override it.
	IsTerminal func() bool
}

// NewClearCommand creates the clear command.
func NewClearCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &ClearOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete every recorded scan",
		Long: `Delete the whole inventory from the store.

The command asks for confirmation. When stdin is not a terminal, --yes is
required.

Examples:
  stockscan clear
  stockscan clear --yes`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runClear(cmd.Context(), opts, cmd)
		},
	}

	cmd.Flags().BoolVarP(&opts.Yes, "yes", "y", false, "skip the confirmation prompt")

	return cmd
}

func runClear(ctx context.Context, opts *ClearOptions, cmd *cobra.Command) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := loadConfig(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}

	return withInventory(ctx, cfg, func(log *inventory.Log) error {
		n := log.Len()
		out := &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout()}

		if !opts.Yes {
			if !opts.stdinIsTerminal() {
				return NewExitError(ExitCommandError, "refusing to clear without confirmation: stdin is not a terminal (use --yes)")
			}
			ok, err := confirm(cmd.InOrStdin(), cmd.OutOrStdout(), fmt.Sprintf("Delete %d recorded scans?", n))
			if err != nil {
				return WrapExitError(ExitCommandError, "failed to read confirmation", err)
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "Aborted.")
				return nil
			}
		}

		if err := log.Clear(ctx); err != nil {
			return WrapExitError(ExitFailure, "failed to clear inventory", err)
		}
		if opts.Format == "json" {
			return out.Success(map[string]int{"cleared": n})
		}
		return out.Success(fmt.Sprintf("Cleared %d records.", n))
	})
}

func (o *ClearOptions) stdinIsTerminal() bool {
	if o.IsTerminal != nil {
		return o.IsTerminal()
	}
	return term.IsTerminal(int(os.Stdin.Fd()))
}

// confirm asks a yes/no question and reads one line of answer.
func confirm(in io.Reader, out io.Writer, question string) (bool, error) {
	fmt.Fprintf(out, "%s [y/N] ", question)
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return false, err
	}
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "y", "yes":
		return true, nil
	}
	return false, nil
}
