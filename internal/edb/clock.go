package edb

import (
	"sync/atomic"
	"time"
)

// NowFunc returns the current time in Unix milliseconds.
type NowFunc func() int64

// WallClock reads the system clock in Unix milliseconds.
func WallClock() int64 {
	return time.Now().UnixMilli()
}

// Clock assigns commit timestamps.
//
// Every timestamp is max(now, last+1), so timestamps are strictly
// increasing even when the wall clock stalls or steps backwards. Observe
// lets the applier fold in the store's newest timestamp, which keeps
// timestamps unique across processes sharing a store and across restarts.
//
// Thread-safety: Clock is safe for concurrent use (atomic operations).
type Clock struct {
	last atomic.Int64
	now  NowFunc
}

// NewClock creates a clock reading now. A nil now uses WallClock.
func NewClock(now NowFunc) *Clock {
	if now == nil {
		now = WallClock
	}
	return &Clock{now: now}
}

// Next returns a timestamp greater than every timestamp returned or
// observed before. Calls are linearizable.
func (c *Clock) Next() int64 {
	for {
		last := c.last.Load()
		next := max(c.now(), last+1)
		if c.last.CompareAndSwap(last, next) {
			return next
		}
	}
}

// Observe records ts as used, so Next never returns a value <= ts.
func (c *Clock) Observe(ts int64) {
	for {
		last := c.last.Load()
		if ts <= last || c.last.CompareAndSwap(last, ts) {
			return
		}
	}
}

// Current returns the last timestamp handed out or observed.
func (c *Clock) Current() int64 {
	return c.last.Load()
}
