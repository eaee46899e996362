// Package testutil holds deterministic stand-ins for time, revisions and
// logging used across the database's tests.
package testutil

import "sync"

// DefaultEpoch is the first timestamp a DeterministicClock returns:
// 2024-01-01T00:00:00Z in Unix milliseconds.
const DefaultEpoch int64 = 1704067200000

// DeterministicClock is a stepping millisecond clock for tests.
//
// Its Next method has the edb.NowFunc signature, so tests pass
// clock.Next to edb.WithNow and get the same timestamps on every run.
//
// Thread-safety: All methods are safe for concurrent use via internal mutex.
type DeterministicClock struct {
	mu    sync.Mutex
	start int64
	step  int64
	now   int64
}

// NewDeterministicClock creates a clock whose first reading is DefaultEpoch
// and which advances 1000ms per reading.
func NewDeterministicClock() *DeterministicClock {
	return NewSteppingClock(DefaultEpoch, 1000)
}

// NewSteppingClock creates a clock whose first reading is start and which
// advances step per reading. A step of 0 freezes the clock, which exercises
// the database's own monotonic bump.
func NewSteppingClock(start, step int64) *DeterministicClock {
	return &DeterministicClock{start: start, step: step, now: start - step}
}

// Next advances the clock and returns the new reading.
func (c *DeterministicClock) Next() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now += c.step
	return c.now
}

// Current returns the last reading without advancing.
// Before the first Next it is start - step.
func (c *DeterministicClock) Current() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Set moves the clock so the next reading is ts. Tests use it to make the
// wall clock jump backwards.
func (c *DeterministicClock) Set(ts int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = ts - c.step
}

// Reset restarts the clock at its start.
func (c *DeterministicClock) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.start - c.step
}
