package core

import "time"

// Clock is the time source behind every timed wait in this package: the
// completion wait, the STOP-completion poll and the trace timestamps.
// Tests substitute a simulated clock so timeout paths run without real
// delays.
type Clock interface {
	// Now returns the current time.
	Now() time.Time

	// After returns a channel that delivers the time once d has elapsed.
	After(d time.Duration) <-chan time.Time
}

// wallClock is the default Clock backed by the time package.
type wallClock struct{}

func (wallClock) Now() time.Time                         { return time.Now() }
func (wallClock) After(d time.Duration) <-chan time.Time { return time.After(d) }
