package testutil

import (
	"context"
	"fmt"
	"sync"

	"github.com/roach88/stockscan/internal/capture"
)

// Engine operation names used for failure injection, hold gates and counts.
const (
	OpInitialize = "initialize"
	OpAttach     = "attach"
	OpCamera     = "camera"
	OpDetection  = "detection"
	OpDetach     = "detach"
)

// ScriptedEngine is a capture.Engine for tests. It records every call as a
// trace line, can fail or hold any operation on demand, and flags calls that
// overlap.
//
// Trace lines look like:
//
//	initialize symbology=code128
//	attach surface=dock
//	camera on
//	detection off
//	detach view=view-1
//
// A failed call gets " -> error: <msg>" appended.
//
// Thread-safety: all methods are safe for concurrent use.
type ScriptedEngine struct {
	mu        sync.Mutex
	trace     []string
	counts    map[string]int
	failures  map[string][]error
	sticky    map[string]error
	gates     map[string]*gate
	views     int
	inFlight  int
	overlaps  int
	attached  bool
	powered   bool
	detecting bool
	handler   func(capture.Detection)
	observer  func(line string)
}

type gate struct {
	held    chan struct{}
	release chan struct{}
	taken   bool
	once    sync.Once
}

// NewScriptedEngine creates an engine on which every call succeeds.
func NewScriptedEngine() *ScriptedEngine {
	return &ScriptedEngine{
		counts:   make(map[string]int),
		failures: make(map[string][]error),
		sticky:   make(map[string]error),
		gates:    make(map[string]*gate),
	}
}

// FailNext makes the next call to op fail with err. Calls queue up.
func (e *ScriptedEngine) FailNext(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.failures[op] = append(e.failures[op], err)
}

// FailAlways makes every call to op fail with err. Pass nil to heal.
func (e *ScriptedEngine) FailAlways(op string, err error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if err == nil {
		delete(e.sticky, op)
		return
	}
	e.sticky[op] = err
}

// Hold makes the next call to op block until Release(op). Later calls to op
// pass through.
func (e *ScriptedEngine) Hold(op string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.gates[op] = &gate{held: make(chan struct{}), release: make(chan struct{})}
}

// Held returns a channel closed once a call to op is blocked on its gate.
// It returns nil if op has no gate.
func (e *ScriptedEngine) Held(op string) <-chan struct{} {
	e.mu.Lock()
	defer e.mu.Unlock()
	if g, ok := e.gates[op]; ok {
		return g.held
	}
	return nil
}

// Release unblocks a held call to op. Releasing an op without a gate is a no-op.
func (e *ScriptedEngine) Release(op string) {
	e.mu.Lock()
	g, ok := e.gates[op]
	delete(e.gates, op)
	e.mu.Unlock()
	if ok {
		g.once.Do(func() { close(g.release) })
	}
}

// Observe registers fn to receive each trace line as a call completes. fn
// runs on the calling goroutine without the engine lock held.
func (e *ScriptedEngine) Observe(fn func(line string)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.observer = fn
}

// Trace returns a copy of the call trace.
func (e *ScriptedEngine) Trace() []string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return append([]string(nil), e.trace...)
}

// Count returns how many times op was called, failed calls included.
func (e *ScriptedEngine) Count(op string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.counts[op]
}

// Overlaps returns how many calls started while another call was in flight.
func (e *ScriptedEngine) Overlaps() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.overlaps
}

// Scanning reports whether the engine would currently deliver detections.
func (e *ScriptedEngine) Scanning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attached && e.powered && e.detecting
}

// Powered reports whether the camera is on.
func (e *ScriptedEngine) Powered() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.powered
}

// Attached reports whether a view is attached.
func (e *ScriptedEngine) Attached() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attached
}

// Emit delivers a detection if the engine is scanning. It reports whether the
// detection was delivered. The handler runs on the calling goroutine.
func (e *ScriptedEngine) Emit(payload, symbology string) bool {
	e.mu.Lock()
	fn := e.handler
	scanning := e.attached && e.powered && e.detecting
	e.mu.Unlock()
	if !scanning || fn == nil {
		return false
	}
	fn(capture.Detection{Payload: payload, SymbologyTag: symbology})
	return true
}

// call runs one engine operation: trace, gate, failure, then apply on success.
func (e *ScriptedEngine) call(op, line string, apply func()) error {
	e.mu.Lock()
	e.counts[op]++
	if e.inFlight > 0 {
		e.overlaps++
	}
	e.inFlight++
	g := e.gates[op]
	if g != nil && g.taken {
		g = nil
	}
	if g != nil {
		g.taken = true
	}
	e.mu.Unlock()

	if g != nil {
		close(g.held)
		<-g.release
	}

	e.mu.Lock()
	e.inFlight--

	err := e.sticky[op]
	if queued := e.failures[op]; err == nil && len(queued) > 0 {
		err = queued[0]
		e.failures[op] = queued[1:]
	}
	if err != nil {
		line = fmt.Sprintf("%s -> error: %v", line, err)
	} else if apply != nil {
		apply()
	}
	e.trace = append(e.trace, line)
	observer := e.observer
	e.mu.Unlock()

	if observer != nil {
		observer(line)
	}
	return err
}

// Initialize implements capture.Engine.
func (e *ScriptedEngine) Initialize(_ context.Context, settings capture.Settings) error {
	return e.call(OpInitialize, "initialize symbology="+settings.Symbology, nil)
}

// Attach implements capture.Engine. Views are named view-1, view-2, ...
func (e *ScriptedEngine) Attach(_ context.Context, surface string) (capture.ViewHandle, error) {
	var view capture.ViewHandle
	err := e.call(OpAttach, "attach surface="+surface, func() {
		e.views++
		view = capture.ViewHandle(fmt.Sprintf("view-%d", e.views))
		e.attached = true
	})
	return view, err
}

// SetDetectionEnabled implements capture.Engine.
func (e *ScriptedEngine) SetDetectionEnabled(_ context.Context, enabled bool) error {
	return e.call(OpDetection, "detection "+onOff(enabled), func() {
		e.detecting = enabled
	})
}

// SetCameraPower implements capture.Engine.
func (e *ScriptedEngine) SetCameraPower(_ context.Context, on bool) error {
	return e.call(OpCamera, "camera "+onOff(on), func() {
		e.powered = on
	})
}

// Detach implements capture.Engine.
func (e *ScriptedEngine) Detach(_ context.Context, view capture.ViewHandle) error {
	return e.call(OpDetach, "detach view="+string(view), func() {
		e.attached = false
	})
}

// OnDetection implements capture.Engine.
func (e *ScriptedEngine) OnDetection(fn func(capture.Detection)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = fn
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

var _ capture.Engine = (*ScriptedEngine)(nil)
