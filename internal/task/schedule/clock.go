package schedule

import (
	"sync"
	"time"
)

// Clock abstracts the wall clock so tests can jump time.
type Clock interface {
	Now() time.Time
}

// realClock strips the monotonic reading: due-ness and sleep lengths are
// computed on wall time, so a suspend/resume or a clock step is noticed on
// the next watcher pass.
type realClock struct{}

func (realClock) Now() time.Time { return time.Now().Round(0) }

// ManualClock is a Clock that only moves when told to.
type ManualClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewManualClock(start time.Time) *ManualClock {
	return &ManualClock{now: start.Round(0)}
}

func (c *ManualClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward (or backward for negative d) and returns
// the new time.
func (c *ManualClock) Advance(d time.Duration) time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
	return c.now
}

func (c *ManualClock) Set(t time.Time) {
	c.mu.Lock()
	c.now = t.Round(0)
	c.mu.Unlock()
}
