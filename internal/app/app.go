// Package app wires the capture adapter, session controller, event router and
// inventory log into the single object a UI drives.
//
// An App is created with New, started with Start (loads the inventory and
// launches the router loop) and shut down with Shutdown. Every command returns
// an error; nil means the command resolved.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/roach88/stockscan/internal/capture"
	"github.com/roach88/stockscan/internal/feedback"
	"github.com/roach88/stockscan/internal/inventory"
	"github.com/roach88/stockscan/internal/kv"
	"github.com/roach88/stockscan/internal/router"
	"github.com/roach88/stockscan/internal/session"
)

// ErrNotStarted is returned by ClearInventory and Sync before Start.
var ErrNotStarted = errors.New("app not started")

// App is the station facade.
type App struct {
	adapter  *capture.Adapter
	session  *session.Controller
	log      *inventory.Log
	router   *router.Router
	feedback *feedback.Dispatcher

	mu      sync.Mutex
	started bool
	cancel  context.CancelFunc
	done    chan error
}

type options struct {
	routerOpts  []router.Option
	sessionOpts []session.Option
	notifiers   []feedback.Notifier
	buffer      int
}

// Option configures an App.
type Option func(*options)

// WithRouterOptions passes options to the event router.
func WithRouterOptions(opts ...router.Option) Option {
	return func(o *options) {
		o.routerOpts = append(o.routerOpts, opts...)
	}
}

// WithSessionOptions passes options to the session controller.
func WithSessionOptions(opts ...session.Option) Option {
	return func(o *options) {
		o.sessionOpts = append(o.sessionOpts, opts...)
	}
}

// WithNotifiers adds best-effort feedback notifiers for recorded scans.
func WithNotifiers(n ...feedback.Notifier) Option {
	return func(o *options) {
		o.notifiers = append(o.notifiers, n...)
	}
}

// WithFeedbackBuffer sets how many feedback events may queue before drops.
func WithFeedbackBuffer(n int) Option {
	return func(o *options) {
		o.buffer = n
	}
}

// New builds an App around engine and store.
func New(engine capture.Engine, store kv.Store, settings capture.Settings, opts ...Option) (*App, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	a := &App{
		adapter: capture.NewAdapter(engine),
		log:     inventory.New(store),
	}

	routerOpts := o.routerOpts
	if len(o.notifiers) > 0 {
		a.feedback = feedback.NewDispatcher(o.buffer, o.notifiers...)
		routerOpts = append([]router.Option{router.WithFeedback(a.feedback)}, routerOpts...)
	}
	a.router = router.New(a.log, routerOpts...)

	if err := a.adapter.OnDetection(a.router.Deliver); err != nil {
		return nil, fmt.Errorf("register detection callback: %w", err)
	}
	a.session = session.New(a.adapter, settings, o.sessionOpts...)
	return a, nil
}

// Start loads the persisted inventory and launches the router loop. The
// engine is not initialized here; call Initialize.
func (a *App) Start(ctx context.Context) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.started {
		return errors.New("app already started")
	}

	n := a.log.Load(ctx)
	slog.Info("inventory loaded", "records", n)

	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	if a.feedback != nil {
		a.feedback.Start(runCtx)
	}
	done := make(chan error, 1)
	go func() { done <- a.router.Run(runCtx) }()

	a.cancel = cancel
	a.done = done
	a.started = true
	return nil
}

// Shutdown closes the session, drains the router and stops feedback. ctx
// bounds how long the session close and the drain may take.
func (a *App) Shutdown(ctx context.Context) error {
	closeErr := a.session.Close(ctx)
	if closeErr != nil {
		slog.Warn("session close during shutdown failed", "error", closeErr)
	}

	a.mu.Lock()
	started, cancel, done := a.started, a.cancel, a.done
	a.started = false
	a.mu.Unlock()

	if !started {
		return closeErr
	}

	a.router.Stop()
	var runErr error
	select {
	case runErr = <-done:
	case <-ctx.Done():
		cancel()
		runErr = <-done
	}
	if a.feedback != nil {
		a.feedback.Stop()
	}
	cancel()
	if errors.Is(runErr, context.Canceled) {
		runErr = nil
	}
	return errors.Join(closeErr, runErr)
}

func (a *App) running() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.started
}

// State returns the reported session state.
func (a *App) State() session.State {
	return a.session.State()
}

// Snapshot is a point-in-time view of the whole station.
type Snapshot struct {
	Session       session.Snapshot `json:"session"`
	Inventory     int              `json:"inventory"`
	Router        router.Stats     `json:"router"`
	FeedbackDrops int64            `json:"feedbackDrops"`
	LoadError     string           `json:"loadError,omitempty"`
	StoreError    string           `json:"storeError,omitempty"`
}

// Snapshot returns the station's state and counters.
func (a *App) Snapshot() Snapshot {
	s := Snapshot{
		Session:   a.session.Snapshot(),
		Inventory: a.log.Len(),
		Router:    a.router.Stats(),
	}
	if a.feedback != nil {
		s.FeedbackDrops = a.feedback.Dropped()
	}
	if err := a.log.LoadError(); err != nil {
		s.LoadError = err.Error()
	}
	if err := a.router.LastError(); err != nil {
		s.StoreError = err.Error()
	}
	return s
}

// Inventory returns the recorded scans, newest first.
func (a *App) Inventory() []inventory.ScanRecord {
	return a.log.Records()
}

// Find returns the record with id.
func (a *App) Find(id string) (inventory.ScanRecord, bool) {
	return a.log.Find(id)
}

// Initialize initializes the capture engine.
func (a *App) Initialize(ctx context.Context) error {
	return a.session.Initialize(ctx)
}

// Retry reissues a failed initialization.
func (a *App) Retry(ctx context.Context) error {
	return a.session.Retry(ctx)
}

// Open starts scanning on surface.
func (a *App) Open(ctx context.Context, surface string) error {
	return a.session.Open(ctx, surface)
}

// Pause suppresses detections.
func (a *App) Pause(ctx context.Context) error {
	return a.session.Pause(ctx)
}

// Resume re-enables detections.
func (a *App) Resume(ctx context.Context) error {
	return a.session.Resume(ctx)
}

// Close stops scanning and releases the camera.
func (a *App) Close(ctx context.Context) error {
	return a.session.Close(ctx)
}

// ClearInventory empties the inventory. Detections delivered before the call
// are recorded first.
func (a *App) ClearInventory(ctx context.Context) error {
	if !a.running() {
		return ErrNotStarted
	}
	return a.router.Clear(ctx)
}

// Sync waits until every detection delivered so far has been recorded.
func (a *App) Sync(ctx context.Context) error {
	if !a.running() {
		return ErrNotStarted
	}
	return a.router.Sync(ctx)
}
