package ftp

import "context"

// Call is the eventual result of an operation that was accepted by the
// client. Operations that are refused outright return a nil Call and an
// error instead.
type Call[T any] struct {
	done chan struct{}
	val  T
	err  error
}

func newCall[T any]() *Call[T] {
	return &Call[T]{done: make(chan struct{})}
}

func (c *Call[T]) resolve(v T, err error) {
	c.val, c.err = v, err
	close(c.done)
}

// Done returns a channel that is closed when the result is available.
func (c *Call[T]) Done() <-chan struct{} {
	return c.done
}

// Result blocks until the operation finished and returns its outcome.
func (c *Call[T]) Result() (T, error) {
	<-c.done
	return c.val, c.err
}

// Wait is like Result but gives up when ctx is done. Giving up does not
// cancel the command on the server; the client keeps processing it.
func (c *Call[T]) Wait(ctx context.Context) (T, error) {
	select {
	case <-c.done:
		return c.val, c.err
	case <-ctx.Done():
		var zero T
		return zero, ctx.Err()
	}
}

// startCall runs steps on a new goroutine while holding the client's
// sequence lock, so the commands of one operation are never interleaved
// with those of another.
func startCall[T any](c *Client, steps func() (T, error)) *Call[T] {
	call := newCall[T]()
	go func() {
		c.seq <- struct{}{}
		defer func() { <-c.seq }()
		call.resolve(steps())
	}()
	return call
}

// wait collapses an operation into its error, for internal callers that
// only need to block.
func wait[T any](call *Call[T], err error) error {
	if err != nil {
		return err
	}
	_, err = call.Result()
	return err
}
