// Package feedback delivers best-effort operator feedback for recorded scans:
// a terminal bell, a log line, a NATS event for wall displays or handsets.
//
// Feedback never blocks the scan path. The router calls Dispatcher.Offer,
// which drops the event when the buffer is full, and notifier failures are
// logged and swallowed.
package feedback

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/roach88/stockscan/internal/inventory"
)

// TopicScanRecorded is the NATS subject for recorded scans.
const TopicScanRecorded = "stockscan.scan.recorded"

// Event describes one recorded scan.
type Event struct {
	Record inventory.ScanRecord `json:"record"`
	Total  int                  `json:"total"`
}

// Notifier receives feedback events.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(ctx context.Context, ev Event) error

func (f NotifierFunc) Notify(ctx context.Context, ev Event) error {
	return f(ctx, ev)
}

// DefaultBuffer is the number of events a Dispatcher queues before dropping.
const DefaultBuffer = 64

// Dispatcher fans events out to notifiers on its own goroutine.
type Dispatcher struct {
	notifiers []Notifier
	ch        chan Event

	mu      sync.Mutex
	started bool
	closed  bool
	done    chan struct{}

	delivered atomic.Int64
	dropped   atomic.Int64
}

// NewDispatcher creates a dispatcher. A buffer <= 0 means DefaultBuffer.
func NewDispatcher(buffer int, notifiers ...Notifier) *Dispatcher {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &Dispatcher{
		notifiers: notifiers,
		ch:        make(chan Event, buffer),
		done:      make(chan struct{}),
	}
}

// Start launches the delivery goroutine. It stops when ctx is cancelled or
// Stop is called.
func (d *Dispatcher) Start(ctx context.Context) {
	d.mu.Lock()
	if d.started || d.closed {
		d.mu.Unlock()
		return
	}
	d.started = true
	d.mu.Unlock()

	go func() {
		defer close(d.done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-d.ch:
				if !ok {
					return
				}
				d.deliver(ctx, ev)
			}
		}
	}()
}

// Stop closes the dispatcher and waits for queued events to be delivered.
func (d *Dispatcher) Stop() {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.closed = true
	started := d.started
	close(d.ch)
	d.mu.Unlock()

	if started {
		<-d.done
	}
}

// Offer queues ev without blocking. Returns false if the event was dropped.
func (d *Dispatcher) Offer(ev Event) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		d.dropped.Add(1)
		return false
	}
	select {
	case d.ch <- ev:
		return true
	default:
		d.dropped.Add(1)
		slog.Debug("feedback buffer full, dropping event", "id", ev.Record.ID)
		return false
	}
}

// Delivered returns how many events reached every notifier.
func (d *Dispatcher) Delivered() int64 {
	return d.delivered.Load()
}

// Dropped returns how many offered events were discarded.
func (d *Dispatcher) Dropped() int64 {
	return d.dropped.Load()
}

func (d *Dispatcher) deliver(ctx context.Context, ev Event) {
	for _, n := range d.notifiers {
		if err := n.Notify(ctx, ev); err != nil {
			slog.Warn("feedback notifier failed", "id", ev.Record.ID, "error", err)
		}
	}
	d.delivered.Add(1)
}

// LogNotifier logs each recorded scan.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, ev Event) error {
	slog.Info("scan recorded",
		"id", ev.Record.ID,
		"payload", ev.Record.Payload,
		"symbology", ev.Record.SymbologyTag,
		"total", ev.Total,
	)
	return nil
}

// Bell rings the terminal bell, the CLI's stand-in for a haptic pulse.
type Bell struct {
	W io.Writer
}

func (b Bell) Notify(_ context.Context, _ Event) error {
	if b.W == nil {
		return nil
	}
	_, err := fmt.Fprint(b.W, "\a")
	return err
}
