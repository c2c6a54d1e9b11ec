// Package async provides a small Future helper for running a blocking
// function on its own goroutine and selecting on its completion.
package async

// Future carries the eventual result of an asynchronous function.
// A Future must be created with Async or Ret.
//
// usage:
//
//	f := Async(func() error { return doBlockingWork() })
//	select {
//	case err := <-f.Ch():
//		// done
//	case <-stop:
//	}
type Future[T any] struct {
	ch chan T
}

// Ch exposes the channel of a Future for select.
func (f Future[T]) Ch() <-chan T {
	return f.ch
}

// Await blocks until the Future resolves.
func (f Future[T]) Await() T {
	return <-f.ch
}

// Async runs f on a new goroutine and returns its Future.
func Async[T any](f func() T) Future[T] {
	ret := Future[T]{ch: make(chan T, 1)}
	go func() {
		ret.ch <- f()
	}()
	return ret
}

// Await waits for the result of a Future.
func Await[T any](f Future[T]) T {
	return <-f.ch
}

// Ret returns an already-resolved Future.
func Ret[T any](v T) Future[T] {
	ret := Future[T]{ch: make(chan T, 1)}
	ret.ch <- v
	return ret
}
