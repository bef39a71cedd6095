package capture

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/roach88/stockscan/internal/fault"
)

// ErrHandlerRegistered is returned when a second detection callback is registered.
var ErrHandlerRegistered = errors.New("detection callback already registered")

// Adapter wraps one Engine and enforces the lifecycle rules the engine itself
// does not: cached initialization, idempotent attach and toggles, and the
// detection-off, camera-off, detach teardown order.
//
// Thread-safety: field access is mutex protected, but the mutex is never held
// across an engine call. Lifecycle calls must be serialized by the caller
// (the session controller holds its guard around them).
type Adapter struct {
	engine Engine

	mu          sync.Mutex
	initialized bool
	settings    Settings
	attached    bool
	view        ViewHandle
	surface     string
	detecting   bool
	powered     bool

	handlerMu sync.RWMutex
	handler   func(Detection)
}

// NewAdapter wraps engine and installs the adapter as its detection sink.
func NewAdapter(engine Engine) *Adapter {
	a := &Adapter{engine: engine}
	engine.OnDetection(a.dispatch)
	return a
}

// Initialize runs the engine's one-time setup.
//
// A second call after success is a no-op. A failure is not cached, so the next
// call re-invokes the engine.
func (a *Adapter) Initialize(ctx context.Context, settings Settings) error {
	a.mu.Lock()
	done := a.initialized
	a.mu.Unlock()
	if done {
		slog.Debug("capture engine already initialized")
		return nil
	}

	if err := settings.Validate(); err != nil {
		return &fault.Error{Code: fault.CodeEngineInit, Op: "initialize", Err: err}
	}

	if err := a.engine.Initialize(ctx, settings); err != nil {
		return fault.Wrap(fault.CodeEngineInit, "initialize", err)
	}

	a.mu.Lock()
	a.initialized = true
	a.settings = settings
	a.mu.Unlock()

	slog.Info("capture engine initialized", "symbology", settings.Symbology)
	return nil
}

// Attach binds the engine view to surface.
//
// Attaching to the surface already in use returns the existing handle.
// Attaching to a different surface detaches the current view first.
func (a *Adapter) Attach(ctx context.Context, surface string) (ViewHandle, error) {
	a.mu.Lock()
	initialized, attached, view, current := a.initialized, a.attached, a.view, a.surface
	a.mu.Unlock()

	if !initialized {
		return "", fault.New(fault.CodeNotReady, "attach", "capture engine not initialized")
	}
	if surface == "" {
		return "", fault.New(fault.CodeAttach, "attach", "surface is required")
	}
	if attached && current == surface {
		return view, nil
	}
	if attached {
		slog.Debug("moving capture view", "from", current, "to", surface)
		if err := a.Detach(ctx, view); err != nil {
			return "", err
		}
	}

	handle, err := a.engine.Attach(ctx, surface)
	if err != nil {
		return "", fault.Wrap(fault.CodeAttach, "attach", err)
	}

	a.mu.Lock()
	a.attached = true
	a.view = handle
	a.surface = surface
	a.mu.Unlock()

	slog.Debug("capture view attached", "surface", surface, "view", handle)
	return handle, nil
}

// SetDetectionEnabled toggles detection delivery. Camera power is untouched.
// Setting the current value is a no-op.
func (a *Adapter) SetDetectionEnabled(ctx context.Context, enabled bool) error {
	a.mu.Lock()
	attached, current := a.attached, a.detecting
	a.mu.Unlock()

	if current == enabled {
		return nil
	}
	if !attached {
		return fault.New(fault.CodeNotReady, "detection", "no view attached")
	}

	if err := a.engine.SetDetectionEnabled(ctx, enabled); err != nil {
		return fault.Wrap(fault.CodeDetection, "detection", err)
	}

	a.mu.Lock()
	a.detecting = enabled
	a.mu.Unlock()
	return nil
}

// SetCameraPower switches the camera. Setting the current value is a no-op.
func (a *Adapter) SetCameraPower(ctx context.Context, on bool) error {
	a.mu.Lock()
	attached, current := a.attached, a.powered
	a.mu.Unlock()

	if current == on {
		return nil
	}
	if !attached {
		return fault.New(fault.CodeNotReady, "camera", "no view attached")
	}

	if err := a.engine.SetCameraPower(ctx, on); err != nil {
		return fault.Wrap(fault.CodeCamera, "camera", err)
	}

	a.mu.Lock()
	a.powered = on
	a.mu.Unlock()
	return nil
}

// Detach unbinds the view. Detaching when nothing is attached, or with a stale
// handle, is a no-op. Detection and camera are switched off first if needed.
// On failure the view stays attached so a later Detach can finish the job.
func (a *Adapter) Detach(ctx context.Context, view ViewHandle) error {
	a.mu.Lock()
	attached, current, detecting, powered := a.attached, a.view, a.detecting, a.powered
	a.mu.Unlock()

	if !attached {
		return nil
	}
	if view != "" && view != current {
		slog.Debug("ignoring detach of stale view", "view", view, "current", current)
		return nil
	}

	if detecting {
		if err := a.SetDetectionEnabled(ctx, false); err != nil {
			return fault.Wrap(fault.CodeDetach, "detach", err)
		}
	}
	if powered {
		if err := a.SetCameraPower(ctx, false); err != nil {
			return fault.Wrap(fault.CodeDetach, "detach", err)
		}
	}

	if err := a.engine.Detach(ctx, current); err != nil {
		return fault.Wrap(fault.CodeDetach, "detach", err)
	}

	a.mu.Lock()
	a.attached = false
	a.view = ""
	a.surface = ""
	a.mu.Unlock()

	slog.Debug("capture view detached", "view", current)
	return nil
}

// OnDetection registers the single detection callback.
func (a *Adapter) OnDetection(fn func(Detection)) error {
	if fn == nil {
		return errors.New("detection callback is nil")
	}
	a.handlerMu.Lock()
	defer a.handlerMu.Unlock()
	if a.handler != nil {
		return ErrHandlerRegistered
	}
	a.handler = fn
	return nil
}

// dispatch forwards an engine detection to the registered callback.
func (a *Adapter) dispatch(d Detection) {
	a.handlerMu.RLock()
	fn := a.handler
	a.handlerMu.RUnlock()
	if fn == nil {
		slog.Warn("dropping detection: no callback registered", "symbology", d.SymbologyTag)
		return
	}
	fn(d)
}

// Initialized reports whether Initialize has succeeded.
func (a *Adapter) Initialized() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.initialized
}

// Settings returns the settings of the successful initialization.
func (a *Adapter) Settings() Settings {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.settings
}

// View returns the attached view and surface, if any.
func (a *Adapter) View() (ViewHandle, string, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.view, a.surface, a.attached
}

// Detecting reports whether detection delivery is enabled.
func (a *Adapter) Detecting() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.detecting
}

// Powered reports whether the camera is on.
func (a *Adapter) Powered() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.powered
}
