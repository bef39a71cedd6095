// Package session owns the scan session lifecycle.
//
// ARCHITECTURE:
//
// Single Guard:
// Every lifecycle command runs while holding one guard token, so engine calls
// are totally ordered and never overlap. A command that cannot take the guard
// is rejected at once with a retryable TRANSITION_REJECTED error, except Close,
// which waits for the in-flight command to resolve and then applies. While a
// Close is waiting, new commands are rejected so the Close runs next.
//
// Settled vs Reported State:
// The controller keeps the last settled state (Uninitialized, Ready, Mounted,
// Scanning, Paused). While a command other than initialize is in flight,
// State reports Transitioning. A pending initialize keeps Uninitialized and
// sets Initializing in the snapshot.
//
// No Mid-flight Cancellation:
// Engine calls receive a context detached from the caller's cancellation. The
// caller's context only bounds how long Close waits for the guard.
package session

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/stockscan/internal/capture"
	"github.com/roach88/stockscan/internal/fault"
	"github.com/roach88/stockscan/internal/idgen"
)

// Capture is the part of the capture adapter the controller drives.
// *capture.Adapter satisfies it.
type Capture interface {
	Initialize(ctx context.Context, settings capture.Settings) error
	Attach(ctx context.Context, surface string) (capture.ViewHandle, error)
	SetDetectionEnabled(ctx context.Context, enabled bool) error
	SetCameraPower(ctx context.Context, on bool) error
	Detach(ctx context.Context, view capture.ViewHandle) error
}

// Controller is the session state machine.
//
// Thread-safety model: every method is safe to call from any goroutine.
type Controller struct {
	engine   Capture
	settings capture.Settings
	ids      idgen.Generator
	observer func(Change)

	// guard holds one token while a command is in flight.
	guard        chan struct{}
	closePending atomic.Int32
	rejected     atomic.Int64

	mu           sync.RWMutex
	state        State
	op           Command
	initializing bool
	view         capture.ViewHandle
	surface      string
	sessionID    string
	lastErr      error
}

// Option configures a Controller.
type Option func(*Controller)

// WithSessionIDs sets the generator for per-open session ids.
// Default: idgen.Session.
func WithSessionIDs(g idgen.Generator) Option {
	return func(c *Controller) {
		c.ids = g
	}
}

// WithObserver registers fn to be called after every settled state change.
// fn runs on the goroutine issuing the command, while the guard is held.
func WithObserver(fn func(Change)) Option {
	return func(c *Controller) {
		c.observer = fn
	}
}

// New creates a Controller in the Uninitialized state.
func New(engine Capture, settings capture.Settings, opts ...Option) *Controller {
	c := &Controller{
		engine:   engine,
		settings: settings,
		ids:      idgen.Session{},
		guard:    make(chan struct{}, 1),
		state:    Uninitialized,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// tryAcquire takes the guard without waiting.
func (c *Controller) tryAcquire(cmd Command) (Command, bool) {
	if c.closePending.Load() > 0 {
		return CmdClose, false
	}
	select {
	case c.guard <- struct{}{}:
		c.setOp(cmd)
		return "", true
	default:
		c.mu.RLock()
		inFlight := c.op
		c.mu.RUnlock()
		return inFlight, false
	}
}

// acquire waits for the guard until ctx is done.
func (c *Controller) acquire(ctx context.Context, cmd Command) error {
	select {
	case c.guard <- struct{}{}:
		c.setOp(cmd)
		return nil
	default:
	}

	c.mu.RLock()
	inFlight := c.op
	c.mu.RUnlock()
	slog.Debug("waiting for in-flight transition", "op", cmd, "in_flight", inFlight)

	select {
	case c.guard <- struct{}{}:
		c.setOp(cmd)
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) release() {
	c.setOp("")
	<-c.guard
}

func (c *Controller) setOp(cmd Command) {
	c.mu.Lock()
	c.op = cmd
	c.mu.Unlock()
}

func (c *Controller) reject(cmd, inFlight Command) error {
	c.rejected.Add(1)
	slog.Debug("command rejected", "op", cmd, "in_flight", inFlight)
	return busyError(cmd, inFlight)
}

func (c *Controller) settled() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// setState records a settled state and notifies the observer.
func (c *Controller) setState(to State, cmd Command) {
	c.mu.Lock()
	from := c.state
	c.state = to
	c.mu.Unlock()

	if from == to {
		return
	}
	slog.Info("session state changed", "from", from, "to", to, "op", cmd)
	if c.observer != nil {
		c.observer(Change{From: from, To: to, Op: cmd})
	}
}

func (c *Controller) setLastErr(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}

// Initialize initializes the capture engine. It is a no-op once the engine is
// initialized. A failure leaves the session Uninitialized and is not cached.
func (c *Controller) Initialize(ctx context.Context) error {
	inFlight, ok := c.tryAcquire(CmdInitialize)
	if !ok {
		return c.reject(CmdInitialize, inFlight)
	}
	defer c.release()

	if c.settled() != Uninitialized {
		return nil
	}

	c.mu.Lock()
	c.initializing = true
	c.mu.Unlock()

	slog.Info("initializing capture engine", "symbology", c.settings.Symbology)
	err := c.engine.Initialize(context.WithoutCancel(ctx), c.settings)

	c.mu.Lock()
	c.initializing = false
	c.mu.Unlock()

	if err != nil {
		err = categorize(fault.CodeEngineInit, CmdInitialize, err)
		c.setLastErr(err)
		slog.Error("capture engine initialization failed", "error", err)
		return err
	}
	c.setLastErr(nil)
	c.setState(Ready, CmdInitialize)
	return nil
}

// Retry reissues initialization after a failure.
func (c *Controller) Retry(ctx context.Context) error {
	return c.Initialize(ctx)
}

// Open attaches a view on surface and starts scanning. Any engine failure
// rolls back to Ready.
func (c *Controller) Open(ctx context.Context, surface string) error {
	inFlight, ok := c.tryAcquire(CmdOpen)
	if !ok {
		if c.settled() == Uninitialized {
			return notReadyError(CmdOpen)
		}
		return c.reject(CmdOpen, inFlight)
	}
	defer c.release()

	from := c.settled()
	if from == Uninitialized {
		return notReadyError(CmdOpen)
	}
	if _, ok := target(from, CmdOpen); !ok {
		c.rejected.Add(1)
		return invalidError(CmdOpen, from)
	}

	ectx := context.WithoutCancel(ctx)
	view, err := c.engine.Attach(ectx, surface)
	if err != nil {
		err = categorize(fault.CodeAttach, CmdOpen, err)
		c.setLastErr(err)
		slog.Error("failed to attach view", "surface", surface, "error", err)
		return err
	}

	c.mu.Lock()
	c.view = view
	c.surface = surface
	c.sessionID = c.ids.Generate()
	c.mu.Unlock()
	c.setState(Mounted, CmdOpen)

	if err := c.engine.SetCameraPower(ectx, true); err != nil {
		return c.rollback(ectx, categorize(fault.CodeCamera, CmdOpen, err))
	}
	if err := c.engine.SetDetectionEnabled(ectx, true); err != nil {
		return c.rollback(ectx, categorize(fault.CodeDetection, CmdOpen, err))
	}

	c.setLastErr(nil)
	c.setState(Scanning, CmdOpen)
	return nil
}

// rollback tears down a partially opened session and returns cause.
func (c *Controller) rollback(ctx context.Context, cause error) error {
	slog.Warn("open failed, rolling back", "error", cause)
	if err := c.teardown(ctx, CmdOpen); err != nil {
		slog.Warn("rollback teardown incomplete", "error", err)
	}
	c.setLastErr(cause)
	return cause
}

// Pause suppresses detections. The camera stays powered.
func (c *Controller) Pause(ctx context.Context) error {
	return c.toggle(ctx, CmdPause, false)
}

// Resume re-enables detections after Pause.
func (c *Controller) Resume(ctx context.Context) error {
	return c.toggle(ctx, CmdResume, true)
}

func (c *Controller) toggle(ctx context.Context, cmd Command, enabled bool) error {
	inFlight, ok := c.tryAcquire(cmd)
	if !ok {
		return c.reject(cmd, inFlight)
	}
	defer c.release()

	from := c.settled()
	to, ok := target(from, cmd)
	if !ok {
		c.rejected.Add(1)
		return invalidError(cmd, from)
	}
	if to == from {
		return nil
	}

	if err := c.engine.SetDetectionEnabled(context.WithoutCancel(ctx), enabled); err != nil {
		err = categorize(fault.CodeDetection, cmd, err)
		c.setLastErr(err)
		slog.Warn("failed to toggle detection", "op", cmd, "error", err)
		return err
	}
	c.setState(to, cmd)
	return nil
}

// Close stops scanning and detaches the view. If another command is in
// flight, Close waits for it (bounded by ctx) and then applies. Teardown
// faults are returned as a DETACH error but the session still lands in Ready.
// Close on Ready or Uninitialized is a no-op.
func (c *Controller) Close(ctx context.Context) error {
	c.closePending.Add(1)
	err := c.acquire(ctx, CmdClose)
	c.closePending.Add(-1)
	if err != nil {
		return err
	}
	defer c.release()

	c.mu.RLock()
	from, view := c.state, c.view
	c.mu.RUnlock()

	// A failed teardown can leave a view behind while the state says Ready.
	if (from == Ready || from == Uninitialized) && view == "" {
		return nil
	}

	if err := c.teardown(context.WithoutCancel(ctx), CmdClose); err != nil {
		c.setLastErr(err)
		slog.Error("teardown incomplete", "error", err)
		return err
	}
	return nil
}

// teardown switches detection and camera off and detaches the view. It always
// settles in Ready. Faults are collected into one DETACH error.
func (c *Controller) teardown(ctx context.Context, cmd Command) error {
	c.mu.RLock()
	view := c.view
	c.mu.RUnlock()

	var errs []error
	if err := c.engine.SetDetectionEnabled(ctx, false); err != nil {
		errs = append(errs, err)
	}
	if err := c.engine.SetCameraPower(ctx, false); err != nil {
		errs = append(errs, err)
	}
	if err := c.engine.Detach(ctx, view); err != nil {
		errs = append(errs, err)
	} else {
		c.mu.Lock()
		c.view = ""
		c.surface = ""
		c.mu.Unlock()
	}

	c.setState(Ready, cmd)
	if len(errs) > 0 {
		return &Error{
			Code:    fault.CodeDetach,
			Op:      string(cmd),
			Message: "teardown incomplete",
			Err:     errors.Join(errs...),
		}
	}
	return nil
}

// State returns the reported state: Transitioning while a command other than
// initialize is in flight, otherwise the settled state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.op != "" && c.op != CmdInitialize {
		return Transitioning
	}
	return c.state
}

// Snapshot is a point-in-time view of the controller.
type Snapshot struct {
	State        State  `json:"state"`
	Settled      State  `json:"settled"`
	Busy         bool   `json:"busy"`
	Op           string `json:"op,omitempty"`
	Initializing bool   `json:"initializing"`
	Ready        bool   `json:"ready"`
	Surface      string `json:"surface,omitempty"`
	View         string `json:"view,omitempty"`
	SessionID    string `json:"sessionId,omitempty"`
	Rejected     int64  `json:"rejected"`
	LastError    string `json:"lastError,omitempty"`
}

// Snapshot returns the controller's current state and bookkeeping.
func (c *Controller) Snapshot() Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()

	s := Snapshot{
		State:        c.state,
		Settled:      c.state,
		Busy:         c.op != "",
		Op:           string(c.op),
		Initializing: c.initializing,
		Ready:        c.state != Uninitialized,
		Surface:      c.surface,
		View:         string(c.view),
		SessionID:    c.sessionID,
		Rejected:     c.rejected.Load(),
	}
	if c.op != "" && c.op != CmdInitialize {
		s.State = Transitioning
	}
	if c.lastErr != nil {
		s.LastError = c.lastErr.Error()
	}
	return s
}

// LastError returns the most recent command failure, cleared by the next
// successful Initialize or Open.
func (c *Controller) LastError() error {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lastErr
}
