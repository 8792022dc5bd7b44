// Package clock abstracts the wall-clock source so deadline math is
// deterministic under test. Production code uses System; tests use Manual
// and advance it explicitly.
package clock

import (
	"sync"
	"time"
)

// Clock is the time source for all deadline computation and due checks.
type Clock interface {
	Now() time.Time
}

// System reads the real wall clock, truncated to millisecond precision to
// match the store's timestamp resolution.
type System struct{}

// Now returns the current wall-clock time in UTC.
func (System) Now() time.Time {
	return time.Now().UTC().Truncate(time.Millisecond)
}

// Manual is a settable clock for tests.
//
// Thread-safety: all methods are safe for concurrent use via internal
// mutex.
type Manual struct {
	mu  sync.Mutex
	now time.Time
}

// NewManual creates a manual clock pinned at start.
func NewManual(start time.Time) *Manual {
	return &Manual{now: start.UTC()}
}

// Now returns the pinned instant.
func (c *Manual) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d. Negative d is permitted for clock
// drift tests.
func (c *Manual) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set pins the clock at t.
func (c *Manual) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}
