// Package await provides a single-assignment future used to suspend a
// caller until a reply arrives from another goroutine.
package await

import (
	"errors"
	"sync"
)

// ErrCanceled is the error of a future that was canceled before it was
// resolved.
var ErrCanceled = errors.New("future canceled")

// Future holds a value that is set exactly once. The first call to Resolve
// or Cancel wins; later calls report false and change nothing.
type Future[T any] struct {
	once  sync.Once
	done  chan struct{}
	value T
	err   error
}

// New returns an unresolved future.
func New[T any]() *Future[T] {
	return &Future[T]{done: make(chan struct{})}
}

// Resolve completes the future with v.
func (f *Future[T]) Resolve(v T) bool {
	return f.complete(v, nil)
}

// Cancel completes the future with ErrCanceled.
func (f *Future[T]) Cancel() bool {
	var zero T
	return f.complete(zero, ErrCanceled)
}

func (f *Future[T]) complete(v T, err error) bool {
	completed := false
	f.once.Do(func() {
		f.value = v
		f.err = err
		completed = true
		close(f.done)
	})
	return completed
}

// Done is closed once the future is completed.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}
