// Package async provides the Future handle used at every suspension point.
//
// A statement, a worker or the engine hands back a *Future instead of
// blocking. The parser driver is the only place that waits on one; the
// state machine itself stays synchronous.
package async

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrAbandoned is the result of a Future whose producer went away.
var ErrAbandoned = errors.New("future abandoned")

// PanicError wraps a value recovered from a panicking producer.
type PanicError struct {
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", e.Value)
}

// Future is a write-once result slot. The first Resolve or Reject wins;
// later calls are ignored.
//
// Thread-safety: all methods are safe for concurrent use.
type Future struct {
	mu        sync.Mutex
	done      chan struct{}
	settled   bool
	val       any
	err       error
	callbacks []func(any, error)
}

// New creates an unsettled Future.
func New() *Future {
	return &Future{done: make(chan struct{})}
}

// Resolved returns a Future already settled with v.
func Resolved(v any) *Future {
	f := New()
	f.Resolve(v)
	return f
}

// Failed returns a Future already settled with err.
func Failed(err error) *Future {
	f := New()
	f.Reject(err)
	return f
}

// Settled returns a Future already settled with v and err. Unlike Failed,
// a nil err resolves it.
func Settled(v any, err error) *Future {
	f := New()
	f.settle(v, err)
	return f
}

// Go runs fn on a new goroutine and settles the returned Future with its
// result. A panic in fn rejects the Future with a *PanicError.
func Go(fn func() (any, error)) *Future {
	f := New()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				f.Reject(&PanicError{Value: r})
			}
		}()
		v, err := fn()
		f.settle(v, err)
	}()
	return f
}

// Resolve settles f with v. Returns false if f was already settled.
func (f *Future) Resolve(v any) bool {
	return f.settle(v, nil)
}

// Reject settles f with err. A nil err is replaced by ErrAbandoned so a
// rejected Future always reports failure.
func (f *Future) Reject(err error) bool {
	if err == nil {
		err = ErrAbandoned
	}
	return f.settle(nil, err)
}

// Settle resolves or rejects f depending on err.
func (f *Future) Settle(v any, err error) bool {
	return f.settle(v, err)
}

func (f *Future) settle(v any, err error) bool {
	f.mu.Lock()
	if f.settled {
		f.mu.Unlock()
		return false
	}
	f.settled = true
	f.val, f.err = v, err
	cbs := f.callbacks
	f.callbacks = nil
	close(f.done)
	f.mu.Unlock()

	for _, cb := range cbs {
		cb(v, err)
	}
	return true
}

// Done returns a channel closed once f is settled.
func (f *Future) Done() <-chan struct{} {
	return f.done
}

// Ready reports whether f is settled.
func (f *Future) Ready() bool {
	select {
	case <-f.done:
		return true
	default:
		return false
	}
}

// Result returns the settled value and error. It must only be called
// after Done is closed; before that it returns (nil, nil).
func (f *Future) Result() (any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.val, f.err
}

// Wait blocks until f settles or ctx is done.
func (f *Future) Wait(ctx context.Context) (any, error) {
	select {
	case <-f.done:
		return f.Result()
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// OnSettle registers cb to run once f settles. If f is already settled, cb
// runs immediately on the calling goroutine; otherwise it runs on the
// goroutine that settles f.
func (f *Future) OnSettle(cb func(any, error)) {
	f.mu.Lock()
	if !f.settled {
		f.callbacks = append(f.callbacks, cb)
		f.mu.Unlock()
		return
	}
	v, err := f.val, f.err
	f.mu.Unlock()
	cb(v, err)
}

// Then returns a Future settled with fn applied to f's result.
func (f *Future) Then(fn func(any, error) (any, error)) *Future {
	next := New()
	f.OnSettle(func(v any, err error) {
		defer func() {
			if r := recover(); r != nil {
				next.Reject(&PanicError{Value: r})
			}
		}()
		next.settle(fn(v, err))
	})
	return next
}

// Forward settles dst with f's result once f settles.
func (f *Future) Forward(dst *Future) {
	f.OnSettle(func(v any, err error) { dst.settle(v, err) })
}
