// Package system provides the wall clock used outside tests.
package system

import "time"

// Clock reports the current time in UTC.
type Clock struct{}

// New creates a new Clock.
func New() *Clock {
	return &Clock{}
}

// Now returns the current UTC time. Snapshot timestamps and run boundaries
// are all taken from here.
func (Clock) Now() time.Time {
	return time.Now().UTC()
}
