// Package clock delivers one-shot scheduled events. Production code uses Real;
// tests inject a Fake and move time forward explicitly.
package clock

import "time"

// Clock abstracts the time operations the scheduler depends on.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// AfterFunc calls f after d has elapsed. The returned Timer cancels the call.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a pending AfterFunc callback.
type Timer interface {
	// Stop prevents the callback from running. It reports whether the call was stopped.
	Stop() bool
}

// Real implements Clock with the time package.
type Real struct{}

// NewReal creates a Real clock.
func NewReal() Real {
	return Real{}
}

// Now returns time.Now.
func (Real) Now() time.Time {
	return time.Now()
}

// AfterFunc wraps time.AfterFunc.
func (Real) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
