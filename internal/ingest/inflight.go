package ingest

import (
	"context"
	"sync"
	"time"
)

// inflightCall is the shared result slot for one key. It is created by the
// first caller, resolved exactly once, and discarded as soon as the result
// lands. Never persisted, never reused across keys.
type inflightCall[T any] struct {
	done chan struct{}
	val  T
	err  error
}

// InFlightGroup collapses concurrent calls sharing the same key into one
// executor and many waiters, eliminating redundant store contention for
// same-process races. It is not a substitute for the store's uniqueness
// invariant: cross-process races, and requests arriving after an entry is
// removed, are resolved by the store alone.
type InFlightGroup[T any] struct {
	mu    sync.Mutex
	calls map[string]*inflightCall[T]

	// ExecTimeout bounds the detached execution of work. Zero means no bound
	// beyond what work imposes on itself.
	ExecTimeout time.Duration
}

// NewInFlightGroup creates an empty in-flight group.
func NewInFlightGroup[T any](execTimeout time.Duration) *InFlightGroup[T] {
	return &InFlightGroup[T]{
		calls:       make(map[string]*inflightCall[T]),
		ExecTimeout: execTimeout,
	}
}

// Do returns the result of work for the given key, executing it at most once
// across all concurrent callers of the same key. The first caller becomes
// the executor; the rest attach as waiters and receive the executor's
// outcome without re-invoking work. shared reports whether this caller
// joined an existing execution.
//
// work runs on a detached context that survives the cancellation of any
// individual caller, so one waiter's deadline never cancels the outcome for
// the others. A caller whose ctx expires gets ctx.Err() while the execution
// continues for the remaining waiters.
func (g *InFlightGroup[T]) Do(ctx context.Context, key string, work func(context.Context) (T, error)) (T, bool, error) {
	g.mu.Lock()
	if c, ok := g.calls[key]; ok {
		g.mu.Unlock()
		return g.wait(ctx, c, true)
	}

	c := &inflightCall[T]{done: make(chan struct{})}
	g.calls[key] = c
	g.mu.Unlock()

	workCtx := context.WithoutCancel(ctx)
	var cancel context.CancelFunc
	if g.ExecTimeout > 0 {
		workCtx, cancel = context.WithTimeout(workCtx, g.ExecTimeout)
	}

	go func() {
		if cancel != nil {
			defer cancel()
		}
		c.val, c.err = work(workCtx)

		// Remove the entry before releasing waiters so a request arriving
		// after resolution starts a fresh execution instead of observing a
		// stale slot.
		g.mu.Lock()
		delete(g.calls, key)
		g.mu.Unlock()
		close(c.done)
	}()

	return g.wait(ctx, c, false)
}

func (g *InFlightGroup[T]) wait(ctx context.Context, c *inflightCall[T], shared bool) (T, bool, error) {
	select {
	case <-c.done:
		return c.val, shared, c.err
	case <-ctx.Done():
		var zero T
		return zero, shared, ctx.Err()
	}
}

// Pending returns the number of keys currently executing (for tests).
func (g *InFlightGroup[T]) Pending() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.calls)
}
