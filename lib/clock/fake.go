// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package clock

import (
	"slices"
	"sync"
	"time"
)

// Fake returns a FakeClock stopped at initial. Time moves only when
// Advance is called.
func Fake(initial time.Time) *FakeClock {
	clock := &FakeClock{current: initial}
	clock.changed = sync.NewCond(&clock.mu)
	return clock
}

// FakeClock is a deterministic Clock for tests. It is safe for
// concurrent use.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
	pending []*fakeTimer
	changed *sync.Cond
}

type fakeTimer struct {
	deadline time.Time
	channel  chan time.Time
	// interval is non-zero for tickers, which are rescheduled after
	// each firing instead of being removed.
	interval time.Duration
	stopped  bool
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// After registers a one-shot timer.
func (c *FakeClock) After(d time.Duration) <-chan time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()

	channel := make(chan time.Time, 1)
	if d <= 0 {
		channel <- c.current
		return channel
	}
	c.addLocked(&fakeTimer{deadline: c.current.Add(d), channel: channel})
	return channel
}

// NewTicker registers a periodic timer.
func (c *FakeClock) NewTicker(d time.Duration) *Ticker {
	if d <= 0 {
		panic("clock: non-positive interval for NewTicker")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	timer := &fakeTimer{
		deadline: c.current.Add(d),
		channel:  make(chan time.Time, 1),
		interval: d,
	}
	c.addLocked(timer)

	return &Ticker{
		C: timer.channel,
		stop: func() {
			c.mu.Lock()
			defer c.mu.Unlock()
			timer.stopped = true
			c.pending = slices.DeleteFunc(c.pending, func(t *fakeTimer) bool { return t == timer })
		},
	}
}

func (c *FakeClock) addLocked(timer *fakeTimer) {
	c.pending = append(c.pending, timer)
	c.changed.Broadcast()
}

// Advance moves the clock forward by d and fires every timer whose
// deadline is at or before the new time, in deadline order. A ticker
// spanning several intervals fires once per interval; ticks that do
// not fit in its channel are dropped.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.current = c.current.Add(d)
	for {
		var due *fakeTimer
		for _, timer := range c.pending {
			if timer.deadline.After(c.current) {
				continue
			}
			if due == nil || timer.deadline.Before(due.deadline) {
				due = timer
			}
		}
		if due == nil {
			return
		}

		select {
		case due.channel <- c.current:
		default:
		}

		if due.interval > 0 {
			due.deadline = due.deadline.Add(due.interval)
		} else {
			c.pending = slices.DeleteFunc(c.pending, func(t *fakeTimer) bool { return t == due })
		}
	}
}

// WaitForTimers blocks until at least n timers or tickers are pending.
// Tests call it between starting a goroutine that waits on the clock
// and advancing the clock, so the advance cannot race the registration.
func (c *FakeClock) WaitForTimers(n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for len(c.pending) < n {
		c.changed.Wait()
	}
}

// PendingCount returns the number of registered, unfired timers.
func (c *FakeClock) PendingCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.pending)
}
