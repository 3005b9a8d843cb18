// Copyright (c) Abstract Machines
// SPDX-License-Identifier: Apache-2.0

package publication

import (
	"context"
	"errors"
)

// ErrResolved is returned when a builder is resolved a second time.
var ErrResolved = errors.New("builder already resolved")

// Resolvable is a deferred operation that takes effect only when resolved,
// either synchronously with Res or through a Future with ResAsync.
type Resolvable[T any] interface {
	Res() (T, error)
	ResAsync() *Future[T]
}

// Future holds the outcome of an asynchronous resolution.
type Future[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// Ready returns a Future that is already complete.
func Ready[T any](val T, err error) *Future[T] {
	f := &Future[T]{
		done: make(chan struct{}),
		val:  val,
		err:  err,
	}
	close(f.done)
	return f
}

// Done is closed once the result is available.
func (f *Future[T]) Done() <-chan struct{} {
	return f.done
}

// Await waits for the result or for ctx to be done, whichever comes first.
// A completed Future returns its result even if ctx is already done.
func (f *Future[T]) Await(ctx context.Context) (T, error) {
	select {
	case <-f.done:
		return f.val, f.err
	default:
	}

	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}
