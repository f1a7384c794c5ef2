// Package clock abstracts the time operations used by timer-driven code
// so tests can drive them deterministically.
package clock

import "time"

// Clock is the subset of the time package the collaboration core needs.
type Clock interface {
	Now() time.Time
	// AfterFunc calls f in its own goroutine (real) or during Advance
	// (fake) once d has elapsed.
	AfterFunc(d time.Duration, f func()) *Timer
}

// Timer is a pending AfterFunc call.
type Timer struct {
	stop func() bool
}

// Stop prevents the timer from firing. It reports false if the timer
// already fired or was already stopped.
func (t *Timer) Stop() bool {
	if t == nil || t.stop == nil {
		return false
	}
	return t.stop()
}

// Real returns a Clock backed by the time package.
func Real() Clock { return realClock{} }

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

func (realClock) AfterFunc(d time.Duration, f func()) *Timer {
	timer := time.AfterFunc(d, f)
	return &Timer{stop: timer.Stop}
}
