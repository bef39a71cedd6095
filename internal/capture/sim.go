package capture

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// DefaultDedupWindow suppresses an identical payload seen again this soon.
const DefaultDedupWindow = 500 * time.Millisecond

// Simulated engine errors.
var (
	ErrSimNotInitialized = errors.New("sim engine: not initialized")
	ErrSimNotAttached    = errors.New("sim engine: no view attached")
	ErrSimBusyTeardown   = errors.New("sim engine: camera or detection still on")
)

// SimEngine is an in-process Engine. Payloads are fed in with Inject, which
// stands in for the camera seeing a barcode.
//
// A payload is delivered only while a view is attached, the camera is powered
// and detection is enabled, and only when its symbology matches the configured
// one. The same payload repeated within the de-duplication window is dropped,
// as a real engine does for a code held in front of the lens.
type SimEngine struct {
	mu          sync.Mutex
	settings    Settings
	initialized bool
	attached    bool
	view        ViewHandle
	powered     bool
	enabled     bool
	views       int

	handler func(Detection)

	window   time.Duration
	now      func() time.Time
	lastSeen string
	lastAt   time.Time
}

// SimOption configures a SimEngine.
type SimOption func(*SimEngine)

// WithDedupWindow sets the repeat-suppression window. Zero disables it.
func WithDedupWindow(d time.Duration) SimOption {
	return func(e *SimEngine) {
		e.window = d
	}
}

// WithSimClock replaces the wall clock used for de-duplication.
func WithSimClock(now func() time.Time) SimOption {
	return func(e *SimEngine) {
		e.now = now
	}
}

// NewSimEngine creates a simulated engine.
func NewSimEngine(opts ...SimOption) *SimEngine {
	e := &SimEngine{
		window: DefaultDedupWindow,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *SimEngine) Initialize(_ context.Context, settings Settings) error {
	if err := settings.Validate(); err != nil {
		return err
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	e.settings = settings
	e.initialized = true
	return nil
}

func (e *SimEngine) Attach(_ context.Context, surface string) (ViewHandle, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return "", ErrSimNotInitialized
	}
	e.views++
	e.view = ViewHandle(fmt.Sprintf("sim-view-%d", e.views))
	e.attached = true
	return e.view, nil
}

func (e *SimEngine) SetDetectionEnabled(_ context.Context, enabled bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.attached {
		return ErrSimNotAttached
	}
	e.enabled = enabled
	return nil
}

func (e *SimEngine) SetCameraPower(_ context.Context, on bool) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.attached {
		return ErrSimNotAttached
	}
	e.powered = on
	return nil
}

func (e *SimEngine) Detach(_ context.Context, view ViewHandle) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.attached || view != e.view {
		return nil
	}
	if e.powered || e.enabled {
		return ErrSimBusyTeardown
	}
	e.attached = false
	e.view = ""
	return nil
}

func (e *SimEngine) OnDetection(fn func(Detection)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.handler = fn
}

// Inject simulates the camera seeing a barcode. An empty symbology means the
// configured one. Returns true if the detection was delivered.
func (e *SimEngine) Inject(payload, symbology string) bool {
	e.mu.Lock()
	if !e.attached || !e.powered || !e.enabled || e.handler == nil {
		e.mu.Unlock()
		return false
	}
	if symbology == "" {
		symbology = e.settings.Symbology
	}
	if NormalizeSymbology(symbology) != NormalizeSymbology(e.settings.Symbology) {
		e.mu.Unlock()
		return false
	}
	now := e.now()
	if e.window > 0 && payload == e.lastSeen && now.Sub(e.lastAt) < e.window {
		e.mu.Unlock()
		return false
	}
	e.lastSeen = payload
	e.lastAt = now
	fn := e.handler
	e.mu.Unlock()

	fn(Detection{Payload: payload, SymbologyTag: NormalizeSymbology(symbology)})
	return true
}

// Scanning reports whether an injected payload would currently be delivered.
func (e *SimEngine) Scanning() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.attached && e.powered && e.enabled
}
