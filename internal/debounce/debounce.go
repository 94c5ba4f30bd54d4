// Package debounce coalesces rapid edits of a single input field into one
// lookup and discards results that belong to superseded edits.
package debounce

import (
	"context"
	"sync"
	"time"
)

// LookupFunc performs the slow operation for input.
type LookupFunc[T any] func(ctx context.Context, input string) (T, error)

// Result is what a lookup produced for one generation of the field.
type Result[T any] struct {
	Input      string
	Generation uint64
	Value      T
	Err        error
}

// Field tracks one editable input. Every edit bumps the generation; a result
// is applied only while its generation is still current.
type Field[T any] struct {
	mu         sync.Mutex
	parent     context.Context
	delay      time.Duration
	lookup     LookupFunc[T]
	apply      func(Result[T])
	generation uint64
	timer      *time.Timer
	cancel     context.CancelFunc
	closed     bool
}

// New creates a field. apply runs with the field locked, so it must not call
// back into the field.
func New[T any](ctx context.Context, delay time.Duration, lookup LookupFunc[T], apply func(Result[T])) *Field[T] {
	if ctx == nil {
		ctx = context.Background()
	}
	return &Field[T]{parent: ctx, delay: delay, lookup: lookup, apply: apply}
}

// Set records an edit and schedules a lookup after the quiet period. Any
// pending timer is dropped and an in-flight lookup loses interest.
func (f *Field[T]) Set(input string) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	gen := f.supersedeLocked()
	if f.closed {
		return gen
	}
	f.timer = time.AfterFunc(f.delay, func() { f.fire(gen, input) })
	return gen
}

// Settle records an edit whose outcome is already known and applies it at
// once, without a lookup.
func (f *Field[T]) Settle(input string, value T, err error) uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	gen := f.supersedeLocked()
	if !f.closed && f.apply != nil {
		f.apply(Result[T]{Input: input, Generation: gen, Value: value, Err: err})
	}
	return gen
}

// Generation returns the current edit generation.
func (f *Field[T]) Generation() uint64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.generation
}

// Close stops the field; later results are dropped.
func (f *Field[T]) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.supersedeLocked()
	f.closed = true
}

func (f *Field[T]) supersedeLocked() uint64 {
	f.generation++
	if f.timer != nil {
		f.timer.Stop()
		f.timer = nil
	}
	if f.cancel != nil {
		f.cancel()
		f.cancel = nil
	}
	return f.generation
}

func (f *Field[T]) fire(gen uint64, input string) {
	f.mu.Lock()
	if gen != f.generation || f.closed {
		f.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(f.parent)
	f.cancel = cancel
	f.timer = nil
	f.mu.Unlock()

	value, err := f.lookup(ctx, input)

	f.mu.Lock()
	defer f.mu.Unlock()
	cancel()
	if gen != f.generation || f.closed {
		return
	}
	f.cancel = nil
	if f.apply != nil {
		f.apply(Result[T]{Input: input, Generation: gen, Value: value, Err: err})
	}
}
