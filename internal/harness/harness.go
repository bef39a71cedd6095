package harness

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/roach88/stockscan/internal/app"
	"github.com/roach88/stockscan/internal/capture"
	"github.com/roach88/stockscan/internal/fault"
	"github.com/roach88/stockscan/internal/idgen"
	"github.com/roach88/stockscan/internal/inventory"
	"github.com/roach88/stockscan/internal/router"
	"github.com/roach88/stockscan/internal/session"
	"github.com/roach88/stockscan/internal/testutil"
)

// StepTimeout bounds how long the harness waits for any command to resolve.
const StepTimeout = 5 * time.Second

// expectations maps expect values to the error code a command returns.
var expectations = map[string]fault.Code{
	"ok":          "",
	"rejected":    fault.CodeTransitionRejected,
	"not_ready":   fault.CodeNotReady,
	"engine_init": fault.CodeEngineInit,
	"attach":      fault.CodeAttach,
	"detach":      fault.CodeDetach,
	"camera":      fault.CodeCamera,
	"detection":   fault.CodeDetection,
}

func expectOrOK(expect string) string {
	if expect == "" {
		return "ok"
	}
	return expect
}

// outcome names the result of a command the way scenarios spell it.
func outcome(err error) string {
	if err == nil {
		return "ok"
	}
	if code, ok := fault.CodeOf(err); ok {
		for name, c := range expectations {
			if c == code {
				return name
			}
		}
	}
	return "error"
}

// Harness executes one scenario against a station built from a scripted
// engine and an in-memory store.
type Harness struct {
	app       *app.App
	engine    *testutil.ScriptedEngine
	store     *testutil.FlakyStore
	rec       *recorder
	result    *Result
	symbology string

	held    string
	pending []*pendingCommand
}

type pendingCommand struct {
	index  int
	name   string
	expect string
	done   chan struct{}
	err    error
}

// Run executes a scenario and returns the result.
//
// Each scenario runs on a fresh station. Ids, timestamps and engine views are
// deterministic, so the same scenario always produces the same trace.
//
// Execution flow:
//  1. Seed the store (if the scenario has a snapshot) and start the station
//  2. Execute flow steps, checking each command's outcome
//  3. Wait for async commands still pending
//  4. Evaluate assertions
//  5. Shut the station down
func Run(scenario *Scenario) (*Result, error) {
	h, err := newHarness(scenario)
	if err != nil {
		return nil, err
	}

	ctx := context.Background()
	if err := h.app.Start(ctx); err != nil {
		return nil, fmt.Errorf("failed to start station: %w", err)
	}
	h.rec.addf(KindStep, "start inventory=%d", len(h.app.Inventory()))

	for i, step := range scenario.Flow {
		h.execute(ctx, i, step)
	}
	h.awaitPending()

	for _, msg := range EvaluateAssertions(h, scenario.Assertions) {
		h.result.AddError(msg)
	}
	if n := h.engine.Overlaps(); n > 0 {
		h.result.AddError(fmt.Sprintf("%d engine calls overlapped", n))
	}

	h.result.Trace = h.rec.close()

	shutdownCtx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()
	if err := h.app.Shutdown(shutdownCtx); err != nil && !session.IsDetachError(err) {
		return nil, fmt.Errorf("failed to shut down station: %w", err)
	}
	return h.result, nil
}

func newHarness(scenario *Scenario) (*Harness, error) {
	rec := &recorder{}
	engine := testutil.NewScriptedEngine()
	engine.Observe(func(line string) { rec.add(KindEngine, line) })

	store := testutil.NewFlakyStore()
	if scenario.Snapshot != nil {
		store.Put(inventory.Key, *scenario.Snapshot)
	}

	symbology := capture.NormalizeSymbology(scenario.Symbology)
	if symbology == "" {
		symbology = capture.DefaultSymbology
	}

	a, err := app.New(engine, store,
		capture.Settings{LicenseKey: "scenario", Symbology: symbology},
		app.WithRouterOptions(
			router.WithIDGenerator(idgen.NewSequence("rec")),
			router.WithClock(testutil.NewDeterministicClock()),
		),
		app.WithSessionOptions(
			session.WithSessionIDs(idgen.NewSequence("session")),
			session.WithObserver(func(c session.Change) {
				rec.addf(KindState, "%s -> %s", c.From, c.To)
			}),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to build station: %w", err)
	}

	return &Harness{
		app:       a,
		engine:    engine,
		store:     store,
		rec:       rec,
		result:    NewResult(),
		symbology: symbology,
	}, nil
}

func (h *Harness) execute(ctx context.Context, i int, step FlowStep) {
	switch step.Do {
	case StepDetect:
		h.detect(ctx, i, step)
	case StepFail:
		line := fmt.Sprintf("fail %s: %s", step.Op, step.Error)
		if step.Always {
			line += " always"
			h.engine.FailAlways(step.Op, errors.New(step.Error))
		} else {
			h.engine.FailNext(step.Op, errors.New(step.Error))
		}
		h.rec.add(KindStep, line)
	case StepHeal:
		h.rec.addf(KindStep, "heal %s", step.Op)
		h.engine.FailAlways(step.Op, nil)
	case StepHold:
		h.rec.addf(KindStep, "hold %s", step.Op)
		h.engine.Hold(step.Op)
		h.held = step.Op
	case StepRelease:
		h.rec.addf(KindStep, "release %s", step.Op)
		h.engine.Release(step.Op)
		if h.held == step.Op {
			h.held = ""
		}
		h.awaitPending()
	default:
		h.command(ctx, i, step)
	}
}

// command runs an operator command on its own goroutine. A synchronous
// command is awaited at once. An async one is awaited by the next release
// step, after the harness has seen it block on the held engine call.
func (h *Harness) command(ctx context.Context, i int, step FlowStep) {
	line := step.Do
	if step.Do == StepOpen {
		line += " surface=" + step.Surface
	}
	if step.Async {
		line += " async"
	}
	h.rec.add(KindStep, line)

	pc := &pendingCommand{
		index:  i,
		name:   step.Do,
		expect: expectOrOK(step.Expect),
		done:   make(chan struct{}),
	}
	go func() {
		defer close(pc.done)
		pc.err = h.invoke(ctx, step)
	}()

	if !step.Async {
		h.settle(pc)
		return
	}

	if h.held != "" {
		select {
		case <-h.engine.Held(h.held):
		case <-pc.done:
		case <-time.After(StepTimeout):
		}
	}
	h.pending = append(h.pending, pc)
}

func (h *Harness) invoke(ctx context.Context, step FlowStep) error {
	switch step.Do {
	case StepInitialize:
		return h.app.Initialize(ctx)
	case StepRetry:
		return h.app.Retry(ctx)
	case StepOpen:
		return h.app.Open(ctx, step.Surface)
	case StepPause:
		return h.app.Pause(ctx)
	case StepResume:
		return h.app.Resume(ctx)
	case StepClose:
		return h.app.Close(ctx)
	case StepClear:
		return h.app.ClearInventory(ctx)
	}
	return fmt.Errorf("unknown command %q", step.Do)
}

// settle waits for a command and checks its outcome.
func (h *Harness) settle(pc *pendingCommand) {
	select {
	case <-pc.done:
	case <-time.After(StepTimeout):
		h.rec.addf(KindResult, "%s timeout", pc.name)
		h.result.AddError(fmt.Sprintf("flow[%d] %s: never resolved", pc.index, pc.name))
		return
	}

	got := outcome(pc.err)
	h.rec.addf(KindResult, "%s %s", pc.name, got)
	if got != pc.expect {
		h.result.AddError(fmt.Sprintf("flow[%d] %s: expected %s, got %s (%v)", pc.index, pc.name, pc.expect, got, pc.err))
	}
}

// awaitPending settles async commands in the order they were issued.
func (h *Harness) awaitPending() {
	for _, pc := range h.pending {
		<-waitOrTimeout(pc.done)
	}
	for _, pc := range h.pending {
		h.settle(pc)
	}
	h.pending = nil
}

func waitOrTimeout(done <-chan struct{}) <-chan struct{} {
	out := make(chan struct{})
	go func() {
		defer close(out)
		select {
		case <-done:
		case <-time.After(StepTimeout):
		}
	}()
	return out
}

func (h *Harness) detect(ctx context.Context, i int, step FlowStep) {
	symbology := step.Symbology
	if symbology == "" {
		symbology = h.symbology
	}
	h.rec.addf(KindStep, "detect %s symbology=%s", step.Payload, symbology)

	delivered := h.engine.Emit(step.Payload, symbology)

	syncCtx, cancel := context.WithTimeout(ctx, StepTimeout)
	defer cancel()
	if err := h.app.Sync(syncCtx); err != nil {
		h.result.AddError(fmt.Sprintf("flow[%d] detect: %v", i, err))
		return
	}

	verdict := "ignored"
	if delivered {
		verdict = "delivered"
	}
	h.rec.addf(KindResult, "detect %s inventory=%d", verdict, len(h.app.Inventory()))
}

// describe renders inventory payloads for assertion messages.
func describe(records []inventory.ScanRecord) string {
	parts := make([]string, len(records))
	for i, r := range records {
		parts[i] = r.Payload
	}
	return "[" + strings.Join(parts, ", ") + "]"
}
