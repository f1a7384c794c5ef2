// Package debounce coalesces bursts of calls into one execution that runs
// once the calls go quiet, or at the latest a fixed time after the first
// call of the burst.
package debounce

import (
	"sync"
	"time"

	"newsroom/api/internal/clock"
)

// minInterval is the smallest debounce or ceiling interval honoured.
const minInterval = time.Millisecond

type options struct {
	clock clock.Clock
}

// Option configures a Debouncer or Group.
type Option func(*options)

// WithClock makes the debouncer read time and start timers on c.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

func buildOptions(opts []Option) options {
	o := options{clock: clock.Real()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// Debouncer runs fn with the arguments of the latest call. For calls at
// t0 < ... < tn with no Flush in between, fn runs once at
// min(tn+debounce, t0+maxWait).
type Debouncer[T any] struct {
	fn       func(T)
	debounce time.Duration
	maxWait  time.Duration
	clock    clock.Clock

	mu      sync.Mutex
	active  bool
	first   time.Time
	args    T
	pending *clock.Timer
	ceiling *clock.Timer
	// gen changes on every reset so callbacks of stopped timers that were
	// already firing find nothing to do.
	gen uint64
}

// New returns a Debouncer for fn. Intervals below a millisecond are
// raised to one.
func New[T any](fn func(T), debounce, maxWait time.Duration, opts ...Option) *Debouncer[T] {
	o := buildOptions(opts)
	if debounce < minInterval {
		debounce = minInterval
	}
	if maxWait < minInterval {
		maxWait = minInterval
	}
	return &Debouncer[T]{
		fn:       fn,
		debounce: debounce,
		maxWait:  maxWait,
		clock:    o.clock,
	}
}

// Call schedules fn with args, superseding the arguments of earlier calls
// in the same burst. When the ceiling is within one debounce interval, fn
// runs before Call returns.
func (d *Debouncer[T]) Call(args T) {
	d.mu.Lock()
	now := d.clock.Now()
	d.args = args
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
	if !d.active {
		d.active = true
		d.first = now
	}

	remaining := d.maxWait - now.Sub(d.first)
	if remaining <= d.debounce {
		run := d.reset()
		d.mu.Unlock()
		d.fn(run)
		return
	}

	gen := d.gen
	if d.ceiling == nil {
		d.ceiling = d.clock.AfterFunc(remaining, func() { d.fire(gen) })
	}
	d.pending = d.clock.AfterFunc(d.debounce, func() { d.fire(gen) })
	d.mu.Unlock()
}

// Flush runs fn with args right away if a call is pending and reports
// whether it did.
func (d *Debouncer[T]) Flush(args T) bool {
	d.mu.Lock()
	if !d.active {
		d.mu.Unlock()
		return false
	}
	d.args = args
	run := d.reset()
	d.mu.Unlock()
	d.fn(run)
	return true
}

// Pending reports whether a call is waiting to run.
func (d *Debouncer[T]) Pending() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.active
}

func (d *Debouncer[T]) fire(gen uint64) {
	d.mu.Lock()
	if !d.active || gen != d.gen {
		d.mu.Unlock()
		return
	}
	run := d.reset()
	d.mu.Unlock()
	d.fn(run)
}

// reset returns the arguments to run with and puts the debouncer back to
// idle. Callers hold d.mu.
func (d *Debouncer[T]) reset() T {
	if d.pending != nil {
		d.pending.Stop()
		d.pending = nil
	}
	if d.ceiling != nil {
		d.ceiling.Stop()
		d.ceiling = nil
	}
	run := d.args
	var zero T
	d.args = zero
	d.active = false
	d.first = time.Time{}
	d.gen++
	return run
}
