package test_test

import (
	"sync"
	"time"
)

// Clock is manually advanced clock for tests that depend on elapsed time. Clock.Now is meant to be injected as
// `now func() time.Time` of the tested type.
type Clock struct {
	mu  sync.Mutex
	now time.Time
}

// UTCTime returns unix time in UTC so tests do not depend on local timezone.
func UTCTime(sec int64) time.Time {
	return time.Unix(sec, 0).UTC()
}

// NewClock creates clock that starts at given time.
func NewClock(start time.Time) *Clock {
	return &Clock{now: start}
}

// Now returns current time of the clock.
func (c *Clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves clock forward by d.
func (c *Clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}
