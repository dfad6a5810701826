package testutil

import (
	"sync"
	"time"
)

// Epoch is the default start of a DeterministicClock.
var Epoch = time.Date(2024, 1, 1, 9, 0, 0, 0, time.UTC)

// DeterministicClock is a manually driven clock for tests.
//
// Now returns the current instant without advancing it, so tests decide
// exactly when time moves. Tick advances by the configured step and is the
// usual way to make successive writes land at distinct instants.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

// NewDeterministicClock creates a clock at Epoch with a one second step.
func NewDeterministicClock() *DeterministicClock {
	return &DeterministicClock{now: Epoch, step: time.Second}
}

// NewDeterministicClockAt creates a clock at start.
func NewDeterministicClockAt(start time.Time) *DeterministicClock {
	return &DeterministicClock{now: start.UTC(), step: time.Second}
}

// Now returns the current instant.
func (c *DeterministicClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Tick advances the clock by one step and returns the new instant.
func (c *DeterministicClock) Tick() time.Time {
	return c.Advance(c.stepSize())
}

// Advance moves the clock forward by d and returns the new instant.
func (c *DeterministicClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

// Set moves the clock to t, which may be in the past.
func (c *DeterministicClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// SetStep changes the Tick step.
func (c *DeterministicClock) SetStep(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.step = d
}

// Reset returns the clock to Epoch.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = Epoch
}

func (c *DeterministicClock) stepSize() time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.step
}
