// Package sched provides a cooperative scheduler: tasks driven by a Loop
// run one at a time and yield only at I/O boundaries marked with Await.
// A context carries the loop currently driving it, so code can tell
// whether it is already inside a scheduler.
package sched

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

var (
	// ErrLoopRunning is returned when Run is called on the loop that is
	// already driving the caller's context.
	ErrLoopRunning = errors.New("sched: loop is already running on this context")
	// ErrLoopClosed is returned by Run after Close.
	ErrLoopClosed = errors.New("sched: loop is closed")
	// ErrNoLoop is returned by Await when no loop drives the context.
	ErrNoLoop = errors.New("sched: no loop is driving this context")
)

type loopKey struct{}

// Loop is a single-token cooperative scheduler. The goroutine that calls Run
// drives its task while holding the token; Await hands the token back for
// the duration of blocking I/O so other tasks on the loop can progress.
type Loop struct {
	name  string
	token chan struct{}

	mu     sync.Mutex
	closed bool

	active atomic.Int64
}

// New returns an open loop.
func New(name string) *Loop {
	l := &Loop{name: name, token: make(chan struct{}, 1)}
	l.token <- struct{}{}
	return l
}

// Name returns the loop's label.
func (l *Loop) Name() string { return l.name }

// Current returns the loop driving ctx, or nil.
func Current(ctx context.Context) *Loop {
	l, _ := ctx.Value(loopKey{}).(*Loop)
	return l
}

// Run drives task to completion on the calling goroutine. It fails with
// ErrLoopRunning instead of deadlocking when ctx is already driven by l.
func (l *Loop) Run(ctx context.Context, task func(ctx context.Context) error) error {
	if Current(ctx) == l {
		return ErrLoopRunning
	}

	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return ErrLoopClosed
	}
	l.active.Add(1)
	l.mu.Unlock()
	defer l.active.Add(-1)

	select {
	case <-l.token:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { l.token <- struct{}{} }()

	return task(context.WithValue(ctx, loopKey{}, l))
}

// Active returns the number of Run calls in progress.
func (l *Loop) Active() int64 { return l.active.Load() }

// Closed reports whether Close has been called.
func (l *Loop) Closed() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closed
}

// Close stops the loop from accepting new tasks. Tasks already running
// finish normally. Calling Close more than once is a no-op.
func (l *Loop) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return nil
}

// Await runs blocking I/O outside the loop's token and re-enters the loop
// before returning. It is the only suspension point a task has.
func Await[T any](ctx context.Context, io func(ctx context.Context) (T, error)) (T, error) {
	l := Current(ctx)
	if l == nil {
		var zero T
		return zero, ErrNoLoop
	}
	l.token <- struct{}{}
	defer func() { <-l.token }()
	return io(ctx)
}
