// Package system provides wall clocks for windows and run timestamps.
package system

import "time"

// Clock returns the current time in UTC, the reference zone for every window.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current time.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}

// Fixed always reports the same instant. Handy for replaying a run as of a
// given date.
type Fixed struct {
	At time.Time
}

// Now returns f.At in UTC.
func (f Fixed) Now() time.Time {
	return f.At.UTC()
}
