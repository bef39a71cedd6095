package testutil

import (
	"sync"
	"time"
)

// DefaultEpoch is the first instant a DeterministicClock reports.
var DefaultEpoch = time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC)

// DeterministicClock is a thread-safe fake wall clock for tests.
//
// Each call to Now returns the epoch plus n steps, where n counts earlier
// calls, so a run that makes the same calls produces the same timestamps.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	epoch time.Time
	step  time.Duration
	n     int64
}

// NewDeterministicClock starts at DefaultEpoch and advances one second per call.
func NewDeterministicClock() *DeterministicClock {
	return NewDeterministicClockAt(DefaultEpoch, time.Second)
}

// NewDeterministicClockAt starts at epoch and advances step per call.
func NewDeterministicClockAt(epoch time.Time, step time.Duration) *DeterministicClock {
	return &DeterministicClock{epoch: epoch, step: step}
}

// Now returns the next instant.
//
// The first call returns the epoch.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.epoch.Add(time.Duration(c.n) * c.step)
	c.n++
	return t
}

// Calls returns how many times Now has been called.
func (c *DeterministicClock) Calls() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}

// Reset rewinds the clock to its epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n = 0
}
