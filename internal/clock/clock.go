// Package clock provides a clock abstraction so the telemetry
// broadcaster's snapshot timestamps and freshness checks can read
// deterministic, test-controlled time instead of the wall clock. The
// axis controller and the tick loops themselves use the wall clock.
package clock

import (
	"sync"
	"time"
)

// Clock supplies the current time. Production code uses SystemClock;
// tests use SteppingClock to advance time under their own control.
type Clock interface {
	Now() time.Time
}

// SystemClock satisfies Clock with the real system time.
type SystemClock struct{}

// NewSystemClock returns a Clock backed by the system clock.
func NewSystemClock() Clock {
	return SystemClock{}
}

// Now returns time.Now().
func (SystemClock) Now() time.Time {
	return time.Now()
}

// SteppingClock is a Clock that returns a configured series of time
// values, one per call, holding the last value once exhausted. Useful in
// tests that need to control exactly what "now" reads at each step.
type SteppingClock struct {
	mutex sync.Mutex
	next  int
	times []time.Time
}

var _ Clock = (*SteppingClock)(nil)

// NewSteppingClock creates a SteppingClock that will yield the given times
// in order.
func NewSteppingClock(times []time.Time) *SteppingClock {
	return &SteppingClock{times: times}
}

// SetTimes replaces the list of times to return and resets the cursor.
func (c *SteppingClock) SetTimes(times []time.Time) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	c.times = times
	c.next = 0
}

// Now returns the next configured time value. If the list is empty it
// returns the Unix epoch; once exhausted it repeats the last value.
func (c *SteppingClock) Now() time.Time {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if len(c.times) == 0 {
		return time.Unix(0, 0).UTC()
	}
	if c.next >= len(c.times) {
		return c.times[len(c.times)-1]
	}

	t := c.times[c.next]
	c.next++
	return t
}
