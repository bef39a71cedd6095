package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"

	"github.com/roach88/stockscan/internal/harness"
)

// Golden trace outcomes reported per scenario.
const (
	GoldenUpdated  = "updated"
	GoldenMatched  = "matched"
	GoldenMissing  = "missing"
	GoldenMismatch = "mismatch"
)

// TestOptions holds flags for the test command.
type TestOptions struct {
	*RootOptions
	Update    bool   // rewrite golden traces from this run
	Filter    string // glob on the scenario file name, without extension
	GoldenDir string // default: "golden" next to the scenarios directory
}

// ScenarioResult is the outcome of one scenario file.
type ScenarioResult struct {
	Name   string   `json:"name"`
	File   string   `json:"file"`
	Pass   bool     `json:"pass"`
	Golden string   `json:"golden,omitempty"`
	Errors []string `json:"errors,omitempty"`
}

// TestResult aggregates a test run.
type TestResult struct {
	Scenarios []ScenarioResult `json:"scenarios"`
	Passed    int              `json:"passed"`
	Failed    int              `json:"failed"`
	Total     int              `json:"total"`
}

func (r *TestResult) add(sr ScenarioResult) {
	r.Scenarios = append(r.Scenarios, sr)
	r.Total++
	if sr.Pass {
		r.Passed++
	} else {
		r.Failed++
	}
}

// NewTestCommand creates the test command.
func NewTestCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &TestOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "test <scenarios-dir>",
		Short: "Run station scenarios",
		Long: `Run YAML station scenarios against a scripted capture engine.

Each scenario's step outcomes and assertions are checked. When a golden
trace exists for a scenario, the run's trace must match it byte for byte.

Exit codes:
  0 - every scenario passed
  1 - at least one scenario failed
  2 - the scenarios directory or filter is unusable

Examples:
  stockscan test ./scenarios
  stockscan test ./scenarios --filter "close_*"
  stockscan test ./scenarios --update
  stockscan test ./scenarios --format json`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTests(opts, args[0], cmd)
		},
	}

	cmd.Flags().BoolVar(&opts.Update, "update", false, "rewrite golden traces from this run")
	cmd.Flags().StringVar(&opts.Filter, "filter", "", "only run scenarios whose file name matches this glob")
	cmd.Flags().StringVar(&opts.GoldenDir, "golden", "", "golden trace directory (default <scenarios-dir>/../golden)")

	return cmd
}

func runTests(opts *TestOptions, dir string, cmd *cobra.Command) error {
	info, err := os.Stat(dir)
	if err != nil || !info.IsDir() {
		return NewExitError(ExitCommandError, fmt.Sprintf("scenarios directory not found: %s", dir))
	}
	goldenDir := opts.GoldenDir
	if goldenDir == "" {
		goldenDir = filepath.Join(filepath.Dir(filepath.Clean(dir)), "golden")
	}

	files, err := findScenarioFiles(dir, opts.Filter)
	if err != nil {
		return WrapExitError(ExitCommandError, "cannot list scenarios", err)
	}

	result := TestResult{Scenarios: []ScenarioResult{}}
	if len(files) == 0 {
		if opts.Format == "json" {
			return reportTestsJSON(cmd, result)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "No scenarios found.")
		return nil
	}

	for _, file := range files {
		sr := runScenario(file, goldenDir, opts.Update)
		if opts.Format != "json" {
			printScenario(cmd, sr)
		}
		result.add(sr)
	}

	if opts.Format == "json" {
		return reportTestsJSON(cmd, result)
	}
	return reportTestsText(cmd, result)
}

// findScenarioFiles returns the .yaml and .yml files under dir, sorted.
func findScenarioFiles(dir, filter string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		ext := filepath.Ext(path)
		if ext != ".yaml" && ext != ".yml" {
			return nil
		}
		if filter != "" {
			ok, err := filepath.Match(filter, strings.TrimSuffix(d.Name(), ext))
			if err != nil {
				return fmt.Errorf("bad --filter %q: %w", filter, err)
			}
			if !ok {
				return nil
			}
		}
		files = append(files, path)
		return nil
	})
	slices.Sort(files)
	return files, err
}

// runScenario loads and runs one scenario file, then checks or rewrites its
// golden trace.
func runScenario(file, goldenDir string, update bool) ScenarioResult {
	sr := ScenarioResult{Name: filepath.Base(file), File: file}

	scenario, err := harness.LoadScenario(file)
	if err != nil {
		return sr.fail(fmt.Sprintf("failed to load scenario: %v", err))
	}
	sr.Name = scenario.Name

	result, err := harness.Run(scenario)
	if err != nil {
		return sr.fail(fmt.Sprintf("scenario did not run: %v", err))
	}
	sr.Pass, sr.Errors = result.Pass, result.Errors

	goldenPath := filepath.Join(goldenDir, scenario.Name+".golden")
	trace := result.TraceText()

	if update {
		if err := writeGolden(goldenPath, trace); err != nil {
			return sr.fail(err.Error())
		}
		sr.Golden = GoldenUpdated
		return sr
	}

	want, err := os.ReadFile(goldenPath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		sr.Golden = GoldenMissing
	case err != nil:
		return sr.fail(fmt.Sprintf("failed to read golden file: %v", err))
	case string(want) != trace:
		sr.Golden = GoldenMismatch
		return sr.fail("trace does not match golden file (run with --update to regenerate)")
	default:
		sr.Golden = GoldenMatched
	}
	return sr
}

func (sr ScenarioResult) fail(msg string) ScenarioResult {
	sr.Pass = false
	sr.Errors = append(sr.Errors, msg)
	return sr
}

func writeGolden(path, trace string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create golden directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(trace), 0644); err != nil {
		return fmt.Errorf("failed to write golden file: %w", err)
	}
	return nil
}

func printScenario(cmd *cobra.Command, sr ScenarioResult) {
	w := cmd.OutOrStdout()
	if sr.Pass {
		if sr.Golden == GoldenUpdated {
			fmt.Fprintf(w, "✓ %s (golden updated)\n", sr.Name)
			return
		}
		fmt.Fprintf(w, "✓ %s\n", sr.Name)
		return
	}
	fmt.Fprintf(w, "✗ %s\n", sr.Name)
	for _, e := range sr.Errors {
		for line := range strings.SplitSeq(strings.TrimRight(e, "\n"), "\n") {
			fmt.Fprintf(w, "  %s\n", line)
		}
	}
}

func reportTestsJSON(cmd *cobra.Command, result TestResult) error {
	resp := CLIResponse{Status: "ok", Data: result}
	var exitErr error
	if result.Failed > 0 {
		msg := fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total)
		resp.Status = "error"
		resp.Error = &CLIError{Code: "E_TEST_FAILED", Message: msg}
		exitErr = NewExitError(ExitFailure, msg)
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	if err := enc.Encode(resp); err != nil {
		return err
	}
	return exitErr
}

func reportTestsText(cmd *cobra.Command, result TestResult) error {
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "\nTest Summary: %d passed, %d failed, %d total\n", result.Passed, result.Failed, result.Total)
	if result.Failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d scenarios failed", result.Failed, result.Total))
	}
	fmt.Fprintln(w, "✓ All scenarios passed")
	return nil
}
