// Package background models a long-running process that contexts can be
// tied to, so a single shutdown signal cancels every context derived from
// it with a consistent cause.
package background

import (
	"context"
	"sync"
)

// Background represents a cancellable long-running process.
type Background struct {
	err   error
	done  chan struct{}
	close func()
}

// New creates a Background that reports err as the cancellation cause of any
// context derived via With once Close is called.
func New(err error) *Background {
	done := make(chan struct{})
	return &Background{err, done, sync.OnceFunc(func() { close(done) })}
}

// With derives a context that is cancelled either when ctx is cancelled or
// when the Background is closed.
func (b *Background) With(
	ctx context.Context,
) (context.Context, context.CancelFunc) {
	c, cancel := context.WithCancelCause(ctx)
	go func() {
		select {
		case <-b.done:
			cancel(b.err)
		case <-c.Done():
		}
	}()
	return c, func() { cancel(context.Canceled) }
}

// Close terminates the Background, cancelling every context derived from it.
func (b *Background) Close() {
	b.close()
}

// Done returns a channel closed once Close has been called.
func (b *Background) Done() <-chan struct{} {
	return b.done
}
