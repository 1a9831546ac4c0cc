// Package schedtest provides a manually advanced clock for tests.
package schedtest

import (
	"sort"
	"sync"
	"time"

	"github.com/WieserchGT/BetaGamers/internal/app/schedule"
)

// FakeClock fires timers only when Advance moves time past their deadline.
type FakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
	seq    int
}

type fakeTimer struct {
	clock   *FakeClock
	seq     int
	due     time.Time
	delay   time.Duration
	fn      func()
	stopped bool
	fired   bool
}

// NewFakeClock returns a clock starting at a fixed instant.
func NewFakeClock() *FakeClock {
	return &FakeClock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
}

// Now returns the fake current time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// AfterFunc registers fn to run once the clock is advanced by d.
func (c *FakeClock) AfterFunc(d time.Duration, fn func()) schedule.Timer {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seq++
	t := &fakeTimer{clock: c, seq: c.seq, due: c.now.Add(d), delay: d, fn: fn}
	c.timers = append(c.timers, t)
	return t
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()

	if t.stopped || t.fired {
		return false
	}
	t.stopped = true
	return true
}

// Advance moves time forward and runs every timer that became due, in deadline order.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	target := c.now.Add(d)
	c.mu.Unlock()

	for {
		c.mu.Lock()
		next := c.nextDueLocked(target)
		if next == nil {
			c.now = target
			c.mu.Unlock()
			return
		}
		next.fired = true
		c.now = next.due
		c.mu.Unlock()

		next.fn()
	}
}

func (c *FakeClock) nextDueLocked(target time.Time) *fakeTimer {
	var due []*fakeTimer
	for _, t := range c.timers {
		if !t.stopped && !t.fired && !t.due.After(target) {
			due = append(due, t)
		}
	}
	if len(due) == 0 {
		return nil
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].due.Equal(due[j].due) {
			return due[i].seq < due[j].seq
		}
		return due[i].due.Before(due[j].due)
	})
	return due[0]
}

// PendingDelays returns the original delay of every timer still waiting to fire.
func (c *FakeClock) PendingDelays() []time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()

	var delays []time.Duration
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			delays = append(delays, t.delay)
		}
	}
	return delays
}

// PendingCount returns the number of timers still waiting to fire.
func (c *FakeClock) PendingCount() int {
	return len(c.PendingDelays())
}
