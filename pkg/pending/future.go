// Package pending turns asynchronous broker events into bounded waits.
package pending

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrTimedOut is returned by Wait when no event settled the future in time.
var ErrTimedOut = errors.New("timed out waiting for broker event")

// Future is settled at most once, by Resolve or Reject. Later calls are
// ignored so duplicate events are harmless.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

func NewFuture[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve settles the future with v. It reports whether this call settled it.
func (f *Future[T]) Resolve(v T) bool {
	settled := false
	f.once.Do(func() {
		f.value = v
		close(f.done)
		settled = true
	})
	return settled
}

func (f *Future[T]) Reject(err error) bool {
	settled := false
	f.once.Do(func() {
		f.err = err
		close(f.done)
		settled = true
	})
	return settled
}

// Done is closed once the future is settled.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the future settles, timeout elapses or ctx ends.
// A non-positive timeout waits only on ctx.
func (f *Future[T]) Wait(ctx context.Context, timeout time.Duration) (T, error) {
	select {
	case <-f.done:
		return f.value, f.err
	default:
	}

	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	select {
	case <-f.done:
		return f.value, f.err
	case <-ctx.Done():
		var zero T
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return zero, ErrTimedOut
		}
		return zero, ctx.Err()
	}
}

// Registry keys futures by order or request id.
type Registry[T any] struct {
	mu      sync.Mutex
	futures map[int64]*Future[T]
}

func NewRegistry[T any]() *Registry[T] {
	return &Registry[T]{futures: make(map[int64]*Future[T])}
}

// Register returns the future waiting on id, creating it if needed.
func (r *Registry[T]) Register(id int64) *Future[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	if f, ok := r.futures[id]; ok {
		return f
	}
	f := NewFuture[T]()
	r.futures[id] = f
	return f
}

// Resolve settles and removes the future for id. It reports whether a
// waiter existed.
func (r *Registry[T]) Resolve(id int64, v T) bool {
	f := r.take(id)
	if f == nil {
		return false
	}
	return f.Resolve(v)
}

func (r *Registry[T]) Reject(id int64, err error) bool {
	f := r.take(id)
	if f == nil {
		return false
	}
	return f.Reject(err)
}

// Forget drops the future for id without settling it.
func (r *Registry[T]) Forget(id int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.futures, id)
}

func (r *Registry[T]) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.futures)
}

func (r *Registry[T]) take(id int64) *Future[T] {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.futures[id]
	if !ok {
		return nil
	}
	delete(r.futures, id)
	return f
}
