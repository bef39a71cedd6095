package harness

import (
	"fmt"
	"strings"
	"sync"
)

// Trace event kinds.
const (
	KindStep   = "step"   // a scenario step begins
	KindEngine = "engine" // a capture engine call completed
	KindState  = "state"  // the session settled in a new state
	KindResult = "result" // a command resolved
)

// TraceEvent is one line of a scenario trace.
type TraceEvent struct {
	Kind string `json:"kind"`
	Text string `json:"text"`
}

// String renders the event as it appears in golden files. Everything but
// steps is indented under the step that caused it.
func (e TraceEvent) String() string {
	if e.Kind == KindStep {
		return e.Text
	}
	return fmt.Sprintf("  %s %s", e.Kind, e.Text)
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true if every step expectation and assertion held.
	Pass bool `json:"pass"`

	// Trace is the interleaved record of steps, engine calls, state changes
	// and command results.
	Trace []TraceEvent `json:"trace"`

	// Errors contains validation error messages. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// TraceText renders the trace one event per line with a trailing newline.
func (r *Result) TraceText() string {
	var b strings.Builder
	for _, ev := range r.Trace {
		b.WriteString(ev.String())
		b.WriteByte('\n')
	}
	return b.String()
}

// EngineCalls returns the engine call lines of the trace in order.
func (r *Result) EngineCalls() []string {
	var calls []string
	for _, ev := range r.Trace {
		if ev.Kind == KindEngine {
			calls = append(calls, ev.Text)
		}
	}
	return calls
}

// recorder collects trace events from the harness goroutine and from the
// goroutines running async commands.
type recorder struct {
	mu     sync.Mutex
	events []TraceEvent
	closed bool
}

func (r *recorder) add(kind, text string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return
	}
	r.events = append(r.events, TraceEvent{Kind: kind, Text: text})
}

func (r *recorder) addf(kind, format string, args ...any) {
	r.add(kind, fmt.Sprintf(format, args...))
}

// close stops recording and returns the events.
func (r *recorder) close() []TraceEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	return append([]TraceEvent(nil), r.events...)
}
