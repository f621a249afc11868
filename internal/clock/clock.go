// Package clock abstracts time so scheduling decisions can be tested
// against a fixed instant.
package clock

import "time"

// Clocker returns the current time.
type Clocker interface {
	Now() time.Time
}

// System reads the wall clock.
type System struct{}

// New returns the wall-clock implementation.
func New() System {
	return System{}
}

// Now returns time.Now.
func (System) Now() time.Time {
	return time.Now()
}

// Fixed always returns the same instant. Used by tests and replay tooling.
type Fixed struct {
	At time.Time
}

// Now returns the fixed instant.
func (f *Fixed) Now() time.Time {
	return f.At
}

// Advance moves the fixed instant forward.
func (f *Fixed) Advance(d time.Duration) {
	f.At = f.At.Add(d)
}
