package debounce

import (
	"sync"
	"time"
)

// Group keeps one Debouncer per key. Keys are created on first Call and
// removed by Flush.
type Group[K comparable, T any] struct {
	fn       func(K, T)
	debounce time.Duration
	maxWait  time.Duration
	opts     []Option

	mu   sync.Mutex
	keys map[K]*Debouncer[T]
}

func NewGroup[K comparable, T any](fn func(K, T), debounce, maxWait time.Duration, opts ...Option) *Group[K, T] {
	return &Group[K, T]{
		fn:       fn,
		debounce: debounce,
		maxWait:  maxWait,
		opts:     opts,
		keys:     make(map[K]*Debouncer[T]),
	}
}

func (g *Group[K, T]) Call(key K, args T) {
	g.debouncer(key).Call(args)
}

// Flush removes key and runs its pending call with args, if there is one.
func (g *Group[K, T]) Flush(key K, args T) bool {
	g.mu.Lock()
	d, ok := g.keys[key]
	delete(g.keys, key)
	g.mu.Unlock()
	if !ok {
		return false
	}
	return d.Flush(args)
}

// Pending reports whether key has a call waiting to run.
func (g *Group[K, T]) Pending(key K) bool {
	g.mu.Lock()
	d, ok := g.keys[key]
	g.mu.Unlock()
	return ok && d.Pending()
}

// Len returns the number of keys currently tracked.
func (g *Group[K, T]) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.keys)
}

func (g *Group[K, T]) debouncer(key K) *Debouncer[T] {
	g.mu.Lock()
	defer g.mu.Unlock()
	d, ok := g.keys[key]
	if !ok {
		d = New(func(args T) { g.fn(key, args) }, g.debounce, g.maxWait, g.opts...)
		g.keys[key] = d
	}
	return d
}
