// Package clock is the single time source of the arena. All round deadlines,
// lobby timeouts and ledger timestamps are computed from it so tests can
// drive time with a mock.
package clock

import (
	"time"

	bclock "github.com/benbjohnson/clock"
)

// Clock is the subset of github.com/benbjohnson/clock used by the arena.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) *bclock.Timer
}

// Timer is returned by AfterFunc; Stop reports whether the call prevented
// the function from running.
type Timer = bclock.Timer

// Mock is a manually advanced clock for tests.
type Mock = bclock.Mock

// New returns the wall clock. Go's time.Now carries a monotonic reading, so
// durations computed between two Now calls are immune to wall-clock jumps.
func New() Clock {
	return bclock.New()
}

// NewMock returns a mock clock set to the Unix epoch.
func NewMock() *Mock {
	return bclock.NewMock()
}
