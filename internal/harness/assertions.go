package harness

import (
	"fmt"
	"strings"

	"github.com/roach88/stockscan/internal/session"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string   // Assertion type for categorization
	Expected string   // Human-readable expected outcome
	Actual   string   // Human-readable actual outcome
	Calls    []string // Engine call trace for context
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder

	fmt.Fprintf(&buf, "Assertion failed: %s\n", e.Type)
	fmt.Fprintf(&buf, "  Expected: %s\n", e.Expected)
	fmt.Fprintf(&buf, "  Actual: %s\n", e.Actual)

	if len(e.Calls) > 0 {
		fmt.Fprintf(&buf, "\nEngine calls:\n")
		for i, call := range e.Calls {
			fmt.Fprintf(&buf, "  [%d] %s\n", i+1, call)
		}
	}
	return buf.String()
}

// EvaluateAssertions checks every assertion against the harness's station and
// returns one message per failure.
func EvaluateAssertions(h *Harness, assertions []Assertion) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(h, a); err != nil {
			errs = append(errs, fmt.Sprintf("assertions[%d]: %v", i, err))
		}
	}
	return errs
}

func evaluate(h *Harness, a Assertion) error {
	switch a.Type {
	case AssertFinalState:
		return assertFinalState(h, a)
	case AssertInventoryCount:
		return assertInventoryCount(h, a)
	case AssertInventoryContains:
		return assertInventoryContains(h, a)
	case AssertCallCount:
		return assertCallCount(h, a)
	case AssertCallOrder:
		return assertCallOrder(h.engine.Trace(), a)
	case AssertLoadError:
		return assertLoadError(h, a)
	}
	return fmt.Errorf("unknown assertion type %q", a.Type)
}

func assertFinalState(h *Harness, a Assertion) error {
	want, err := session.ParseState(a.State)
	if err != nil {
		return err
	}
	if got := h.app.State(); got != want {
		return &AssertionError{
			Type:     AssertFinalState,
			Expected: want.String(),
			Actual:   got.String(),
			Calls:    h.engine.Trace(),
		}
	}
	return nil
}

func assertInventoryCount(h *Harness, a Assertion) error {
	records := h.app.Inventory()
	if len(records) != a.Count {
		return &AssertionError{
			Type:     AssertInventoryCount,
			Expected: fmt.Sprintf("%d records", a.Count),
			Actual:   fmt.Sprintf("%d records %s", len(records), describe(records)),
		}
	}
	return nil
}

func assertInventoryContains(h *Harness, a Assertion) error {
	records := h.app.Inventory()
	for _, r := range records {
		if r.Payload != a.Payload {
			continue
		}
		if a.Symbology == "" || r.SymbologyTag == a.Symbology {
			return nil
		}
	}
	return &AssertionError{
		Type:     AssertInventoryContains,
		Expected: fmt.Sprintf("payload %q symbology %q", a.Payload, a.Symbology),
		Actual:   "not found in " + describe(records),
	}
}

func assertCallCount(h *Harness, a Assertion) error {
	if got := h.engine.Count(a.Op); got != a.Count {
		return &AssertionError{
			Type:     AssertCallCount,
			Expected: fmt.Sprintf("%s called %d times", a.Op, a.Count),
			Actual:   fmt.Sprintf("%s called %d times", a.Op, got),
			Calls:    h.engine.Trace(),
		}
	}
	return nil
}

// assertCallOrder checks that the expected calls appear in the trace in
// order. Intervening calls are allowed.
func assertCallOrder(calls []string, a Assertion) error {
	next := 0
	for _, call := range calls {
		if next < len(a.Calls) && call == a.Calls[next] {
			next++
		}
	}
	if next == len(a.Calls) {
		return nil
	}
	return &AssertionError{
		Type:     AssertCallOrder,
		Expected: strings.Join(a.Calls, " -> "),
		Actual:   fmt.Sprintf("missing %q after the first %d calls matched", a.Calls[next], next),
		Calls:    calls,
	}
}

func assertLoadError(h *Harness, a Assertion) error {
	got := h.app.Snapshot().LoadError
	if got == "" {
		return &AssertionError{
			Type:     AssertLoadError,
			Expected: "inventory load failure",
			Actual:   "inventory loaded cleanly",
		}
	}
	if a.Contains != "" && !strings.Contains(got, a.Contains) {
		return &AssertionError{
			Type:     AssertLoadError,
			Expected: fmt.Sprintf("load error containing %q", a.Contains),
			Actual:   got,
		}
	}
	return nil
}
