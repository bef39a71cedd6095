// Package router turns raw engine detections into inventory records.
//
// ARCHITECTURE:
//
// Single-Writer Event Loop:
// Detections arrive on the capture engine's goroutine. Deliver enqueues them
// on an unbounded FIFO without blocking, and Router.Run, running on exactly one
// goroutine, is the only writer to the inventory log. Clear requests travel
// through the same queue, so a clear is ordered with respect to every detection
// delivered before it.
//
// Event Processing Flow:
//  1. Deliver enqueues the detection (never blocks the engine)
//  2. Run dequeues events one at a time
//  3. The payload is normalised (Unicode NFC, surrounding space trimmed)
//  4. A ScanRecord is built with a fresh id and the current time
//  5. The record is appended to the log (persist-then-confirm)
//  6. The record is offered to best-effort feedback
//
// Failures are logged and processing continues. Feedback can never block or
// fail a recorded scan.
package router

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/roach88/stockscan/internal/capture"
	"github.com/roach88/stockscan/internal/feedback"
	"github.com/roach88/stockscan/internal/idgen"
	"github.com/roach88/stockscan/internal/inventory"
)

// ErrStopped is returned for requests the router can no longer process.
var ErrStopped = errors.New("router stopped")

// Log is the part of the inventory log the router writes to.
type Log interface {
	Append(ctx context.Context, rec inventory.ScanRecord) error
	Clear(ctx context.Context) error
	Len() int
}

// Feedback receives recorded scans without blocking.
type Feedback interface {
	Offer(ev feedback.Event) bool
}

// Clock supplies capture timestamps.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// Router records detections into the inventory log.
//
// Thread-safety model:
//   - Deliver, Clear, Sync, Stop: safe from any goroutine
//   - Run: must be called from exactly one goroutine
type Router struct {
	log      Log
	ids      idgen.Generator
	clock    Clock
	feedback Feedback
	queue    *eventQueue

	running atomic.Bool

	recorded atomic.Int64
	dropped  atomic.Int64
	failed   atomic.Int64

	errMu   sync.Mutex
	lastErr error
}

// Option configures a Router.
type Option func(*Router)

// WithIDGenerator sets the record id generator. Default: UUIDv7.
func WithIDGenerator(g idgen.Generator) Option {
	return func(r *Router) {
		r.ids = g
	}
}

// WithClock sets the capture timestamp source. Default: wall clock.
func WithClock(c Clock) Option {
	return func(r *Router) {
		r.clock = c
	}
}

// WithFeedback sets the feedback sink. Default: none.
func WithFeedback(f Feedback) Option {
	return func(r *Router) {
		r.feedback = f
	}
}

// New creates a Router writing to log.
func New(log Log, opts ...Option) *Router {
	r := &Router{
		log:   log,
		ids:   idgen.UUIDv7{},
		clock: systemClock{},
		queue: newEventQueue(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Deliver enqueues a raw detection. It never blocks, so it can be installed
// directly as the capture adapter's detection callback.
func (r *Router) Deliver(d capture.Detection) {
	if !r.queue.Enqueue(event{typ: eventDetection, detection: d}) {
		r.dropped.Add(1)
		slog.Warn("router stopped, dropping detection", "symbology", d.SymbologyTag)
	}
}

// Clear asks the Run loop to clear the inventory and waits for the outcome.
// Detections delivered before Clear are recorded before the clear happens.
func (r *Router) Clear(ctx context.Context) error {
	return r.request(ctx, eventClear)
}

// Sync waits until every event delivered before the call has been processed.
func (r *Router) Sync(ctx context.Context) error {
	return r.request(ctx, eventBarrier)
}

func (r *Router) request(ctx context.Context, typ eventType) error {
	reply := make(chan error, 1)
	if !r.queue.Enqueue(event{typ: typ, reply: reply}) {
		return ErrStopped
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run processes events until ctx is cancelled or Stop is called.
//
// CRITICAL: Must be called from exactly ONE goroutine.
//
// After Stop, events already queued are still processed before Run returns.
// On cancellation, waiting requests are failed with ErrStopped.
func (r *Router) Run(ctx context.Context) error {
	if !r.running.CompareAndSwap(false, true) {
		return errors.New("router already running")
	}
	slog.Debug("router starting")

	for {
		if ctx.Err() != nil {
			r.failPending()
			slog.Debug("router cancelled")
			return ctx.Err()
		}

		if ev, ok := r.queue.TryDequeue(); ok {
			r.process(ctx, ev)
			continue
		}

		if r.queue.Closed() {
			slog.Debug("router stopped")
			return nil
		}

		select {
		case <-ctx.Done():
			r.failPending()
			slog.Debug("router cancelled")
			return ctx.Err()
		case <-r.queue.Wait():
		}
	}
}

// Stop rejects new events. Run drains what is queued and returns.
func (r *Router) Stop() {
	r.queue.Close()
}

func (r *Router) failPending() {
	r.queue.Close()
	for _, ev := range r.queue.Drain() {
		if ev.reply != nil {
			ev.reply <- ErrStopped
		}
		if ev.typ == eventDetection {
			r.dropped.Add(1)
		}
	}
}

func (r *Router) process(ctx context.Context, ev event) {
	switch ev.typ {
	case eventDetection:
		r.record(ctx, ev.detection)
	case eventClear:
		err := r.log.Clear(ctx)
		if err != nil {
			r.setLastErr(err)
			slog.Error("failed to clear inventory", "error", err)
		} else {
			slog.Info("inventory cleared")
		}
		ev.reply <- err
	case eventBarrier:
		ev.reply <- nil
	}
}

func (r *Router) record(ctx context.Context, d capture.Detection) {
	payload := NormalizePayload(d.Payload)
	if payload == "" {
		r.dropped.Add(1)
		slog.Warn("dropping detection with empty payload", "symbology", d.SymbologyTag)
		return
	}

	rec := inventory.ScanRecord{
		ID:           r.ids.Generate(),
		Payload:      payload,
		SymbologyTag: d.SymbologyTag,
		CapturedAt:   r.clock.Now().UTC(),
	}

	if err := r.log.Append(ctx, rec); err != nil {
		r.failed.Add(1)
		r.setLastErr(err)
		slog.Error("failed to record scan", "id", rec.ID, "payload", rec.Payload, "error", err)
		return
	}
	r.recorded.Add(1)

	if r.feedback != nil {
		r.feedback.Offer(feedback.Event{Record: rec, Total: r.log.Len()})
	}
}

// NormalizePayload applies Unicode NFC and trims surrounding whitespace.
func NormalizePayload(s string) string {
	return strings.TrimSpace(norm.NFC.String(s))
}

func (r *Router) setLastErr(err error) {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	r.lastErr = err
}

// LastError returns the most recent persistence failure, if any.
func (r *Router) LastError() error {
	r.errMu.Lock()
	defer r.errMu.Unlock()
	return r.lastErr
}

// Stats is a point-in-time view of the router's counters.
type Stats struct {
	Recorded int64 `json:"recorded"`
	Dropped  int64 `json:"dropped"`
	Failed   int64 `json:"failed"`
	Pending  int   `json:"pending"`
}

// Stats returns the router's counters.
func (r *Router) Stats() Stats {
	return Stats{
		Recorded: r.recorded.Load(),
		Dropped:  r.dropped.Load(),
		Failed:   r.failed.Load(),
		Pending:  r.queue.Len(),
	}
}
