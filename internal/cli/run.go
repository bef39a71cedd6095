package cli

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/roach88/stockscan/internal/app"
	"github.com/roach88/stockscan/internal/capture"
	"github.com/roach88/stockscan/internal/config"
	"github.com/roach88/stockscan/internal/session"
)

// ShutdownTimeout bounds how long the station gets to close the session and
// drain pending scans on exit.
const ShutdownTimeout = 10 * time.Second

var errQuit = errors.New("quit")

// RunOptions holds flags for the run command.
type RunOptions struct {
	*RootOptions
	Surface string // overrides engine.surface
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run",
		Short: "Start an interactive scan station",
		Long: `Start the scan station and read operator commands from stdin.

The capture engine is initialized at start. Commands:
  open [surface]              attach a view and start scanning
  pause | resume              suppress or re-enable detections
  close                       stop scanning and detach the view
  scan <payload> [symbology]  feed a barcode to the simulated engine
  list                        show the inventory
  clear                       delete the inventory (asks to confirm)
  status                      show session and inventory state
  retry                       retry a failed engine initialization
  quit                        close the session and exit

Example:
  stockscan run
  stockscan run --surface dock -c station.toml`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStation(opts, cmd)
		},
	}

	cmd.Flags().StringVar(&opts.Surface, "surface", "", "default surface for open (overrides config)")

	return cmd
}

func runStation(opts *RunOptions, cmd *cobra.Command) error {
	cfg, err := loadConfig(opts.RootOptions, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	if opts.Surface != "" {
		cfg.Engine.Surface = opts.Surface
	}

	// Use command's context if available (for testing), otherwise create one
	parentCtx := cmd.Context()
	if parentCtx == nil {
		parentCtx = context.Background()
	}
	ctx, stop := signal.NotifyContext(parentCtx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, err := openStore(ctx, cfg.Store)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open store", err)
	}
	defer func() {
		if err := store.Close(); err != nil {
			slog.Error("error closing store", "error", err)
		}
	}()

	engine, err := newEngine(cfg.Engine)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to start capture engine", err)
	}
	defer func() {
		if err := engine.close(); err != nil {
			slog.Error("error closing capture engine", "error", err)
		}
	}()

	notifiers, closeNotifiers, err := newNotifiers(cfg.Feedback, cmd.OutOrStdout())
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to set up feedback", err)
	}
	defer closeNotifiers()

	station, err := app.New(engine.engine, store, cfg.Engine.Settings(),
		app.WithNotifiers(notifiers...),
		app.WithFeedbackBuffer(cfg.Feedback.Buffer),
	)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to build station", err)
	}
	if err := station.Start(ctx); err != nil {
		return WrapExitError(ExitCommandError, "failed to start station", err)
	}

	c := &console{
		station: station,
		sim:     engine.sim,
		cfg:     cfg,
		w:       cmd.OutOrStdout(),
		out:     &OutputFormatter{Format: opts.Format, Writer: cmd.OutOrStdout(), ErrWriter: cmd.ErrOrStderr(), Verbose: opts.Verbose},
	}
	if opts.Format != "json" {
		fmt.Fprintf(c.w, "stockscan station (%s engine, %s store). Type 'help' for commands.\n", cfg.Engine.Kind, cfg.Store.Kind)
	}
	c.reportState(station.Initialize(ctx))

	g, gctx := errgroup.WithContext(ctx)

	// The reader is not part of the group: a blocked read on a terminal
	// cannot be interrupted, and it exits with the process.
	lines := make(chan string)
	go readLines(cmd.InOrStdin(), lines, gctx.Done())

	g.Go(func() error {
		for {
			select {
			case <-gctx.Done():
				return nil
			case line, ok := <-lines:
				if !ok {
					return errQuit
				}
				if quit := c.exec(gctx, line); quit {
					return errQuit
				}
			}
		}
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), ShutdownTimeout)
		defer cancel()
		slog.Debug("shutting down station")
		if err := station.Shutdown(shutdownCtx); err != nil {
			return WrapExitError(ExitFailure, "station did not shut down cleanly", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errQuit) {
		return err
	}
	slog.Info("station stopped")
	return nil
}

func readLines(r io.Reader, lines chan<- string, done <-chan struct{}) {
	defer close(lines)
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		select {
		case lines <- scanner.Text():
		case <-done:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		slog.Error("error reading commands", "error", err)
	}
}

// console executes operator commands against a running station.
type console struct {
	station *app.App
	sim     *capture.SimEngine
	cfg     *config.Config
	w       io.Writer
	out     *OutputFormatter

	confirmClear bool
}

// exec runs one command line and reports whether the operator quit.
func (c *console) exec(ctx context.Context, line string) bool {
	fields := strings.Fields(line)
	if c.confirmClear {
		c.confirmClear = false
		if len(fields) == 1 && (strings.EqualFold(fields[0], "yes") || strings.EqualFold(fields[0], "y")) {
			if err := c.station.ClearInventory(ctx); err != nil {
				c.report(err)
			} else {
				c.say("Inventory cleared.")
			}
			return false
		}
		c.say("Clear cancelled.")
		if len(fields) == 0 || strings.EqualFold(fields[0], "no") || strings.EqualFold(fields[0], "n") {
			return false
		}
	}
	if len(fields) == 0 {
		return false
	}

	verb, args := strings.ToLower(fields[0]), fields[1:]
	switch verb {
	case "open":
		surface := c.cfg.Engine.Surface
		if len(args) > 0 {
			surface = args[0]
		}
		c.reportState(c.station.Open(ctx, surface))
	case "pause":
		c.reportState(c.station.Pause(ctx))
	case "resume":
		c.reportState(c.station.Resume(ctx))
	case "close":
		c.reportState(c.station.Close(ctx))
	case "retry":
		c.reportState(c.station.Retry(ctx))
	case "scan":
		c.scan(ctx, args)
	case "list", "ls":
		c.list()
	case "clear":
		c.confirmClear = true
		c.say(fmt.Sprintf("Delete %d recorded scans? Type 'yes' to confirm.", len(c.station.Inventory())))
	case "status":
		c.status()
	case "help", "?":
		c.say("commands: open [surface], pause, resume, close, scan <payload> [symbology], list, clear, status, retry, quit")
	case "quit", "exit", "q":
		return true
	default:
		_ = c.out.Error("E_UNKNOWN_COMMAND", fmt.Sprintf("unknown command %q (try 'help')", verb), nil)
	}
	return false
}

func (c *console) scan(ctx context.Context, args []string) {
	if c.sim == nil {
		_ = c.out.Error("E_SCAN_UNSUPPORTED", "scan only works with the sim engine", nil)
		return
	}
	if len(args) == 0 {
		_ = c.out.Error("E_USAGE", "usage: scan <payload> [symbology]", nil)
		return
	}
	symbology := c.cfg.Engine.Symbology
	if len(args) > 1 {
		symbology = args[1]
	}

	before := len(c.station.Inventory())
	delivered := c.sim.Inject(args[0], symbology)
	if err := c.station.Sync(ctx); err != nil {
		c.report(err)
		return
	}
	records := c.station.Inventory()
	if !delivered || len(records) == before {
		c.say(fmt.Sprintf("Ignored (session %s).", c.station.State()))
		return
	}
	r := records[0]
	if c.out.Format == "json" {
		_ = c.out.Success(r)
		return
	}
	c.say(fmt.Sprintf("Recorded %s %s (%d in inventory)", DisplaySymbology(r.SymbologyTag), r.Payload, len(records)))
}

func (c *console) list() {
	records := c.station.Inventory()
	if c.out.Format == "json" {
		_ = c.out.Success(ListResult{Records: records, Total: len(records)})
		return
	}
	if len(records) == 0 {
		c.say("Inventory is empty.")
		return
	}
	writeRecords(c.w, records)
}

func (c *console) status() {
	snap := c.station.Snapshot()
	if c.out.Format == "json" {
		_ = c.out.Success(snap)
		return
	}
	s := snap.Session
	fmt.Fprintf(c.w, "session:   %s", s.State)
	if s.Surface != "" {
		fmt.Fprintf(c.w, " on %s (%s)", s.Surface, s.View)
	}
	fmt.Fprintln(c.w)
	fmt.Fprintf(c.w, "inventory: %d records\n", len(c.station.Inventory()))
	if s.LastError != "" {
		fmt.Fprintf(c.w, "last error: %s\n", s.LastError)
	}
	if snap.LoadError != "" {
		fmt.Fprintf(c.w, "load error: %s\n", snap.LoadError)
	}
}

// reportState reports a command's error, or the new session state.
func (c *console) reportState(err error) {
	if err != nil {
		c.report(err)
		return
	}
	state := c.station.State()
	if c.out.Format == "json" {
		_ = c.out.Success(map[string]session.State{"state": state})
		return
	}
	c.say("state: " + state.String())
}

func (c *console) report(err error) {
	if err == nil {
		return
	}
	_ = c.out.Fault(err)
}

func (c *console) say(msg string) {
	if c.out.Format == "json" {
		_ = c.out.Success(map[string]string{"message": msg})
		return
	}
	fmt.Fprintln(c.w, msg)
}
