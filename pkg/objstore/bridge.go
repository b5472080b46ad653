package objstore

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/bleepstore/objstore/internal/sched"
	"github.com/bleepstore/objstore/internal/transport"
	objerr "github.com/bleepstore/objstore/pkg/errors"
	"github.com/bleepstore/objstore/pkg/model"
)

// bridge drives cooperative adapter calls from blocking callers. Callers
// outside any loop share one lazily created loop owned by the client;
// callers already inside a loop are offloaded to a worker with its own.
type bridge struct {
	name string

	mu     sync.Mutex
	owned  *sched.Loop
	closed bool
}

func newBridge(name string) *bridge {
	return &bridge{name: name}
}

func (b *bridge) loop() (*sched.Loop, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, errClosed()
	}
	if b.owned == nil {
		b.owned = sched.New(b.name)
	}
	return b.owned, nil
}

// close tears down the owned loop, if one was ever created.
func (b *bridge) close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.owned != nil {
		_ = b.owned.Close()
	}
}

func errClosed() *objerr.Error {
	return objerr.New(objerr.Connection, "client is closed")
}

// runError maps scheduler failures into the taxonomy. Task errors pass
// through.
func runError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, sched.ErrLoopClosed):
		return errClosed()
	case errors.Is(err, sched.ErrLoopRunning):
		return objerr.Wrap(objerr.Server, err, "")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		if _, ok := objerr.As(err); ok {
			return err
		}
		return objerr.FromTransport(err)
	default:
		return err
	}
}

func panicError(p any) *objerr.Error {
	return objerr.Newf(objerr.Server, "bridged call panicked: %v", p)
}

// bridgeCall runs fn to completion under a loop and returns its result.
func bridgeCall[T any](ctx context.Context, b *bridge, fn func(ctx context.Context) (T, error)) (T, error) {
	if sched.Current(ctx) != nil {
		return offload(ctx, b.name, fn)
	}
	var zero T
	l, err := b.loop()
	if err != nil {
		return zero, err
	}
	var out T
	err = l.Run(ctx, func(ctx context.Context) error {
		var err error
		out, err = fn(ctx)
		return err
	})
	if err != nil {
		return zero, runError(err)
	}
	return out, nil
}

// offload runs fn on one worker goroutine driving a fresh loop and blocks
// until it finishes. The worker's loop is closed before offload returns.
func offload[T any](ctx context.Context, name string, fn func(ctx context.Context) (T, error)) (T, error) {
	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		var r result
		defer func() {
			if p := recover(); p != nil {
				r = result{err: panicError(p)}
			}
			done <- r
		}()
		l := sched.New(name + "-worker")
		defer l.Close()
		r.err = runError(l.Run(ctx, func(ctx context.Context) error {
			v, err := fn(ctx)
			r.v = v
			return err
		}))
	}()
	r := <-done
	return r.v, r.err
}

// bridgedAdapter presents a cooperative adapter as a blocking one.
type bridgedAdapter struct {
	inner transport.Adapter
	b     *bridge
}

var _ transport.Adapter = (*bridgedAdapter)(nil)

func newBridgedAdapter(inner transport.Adapter, name string) *bridgedAdapter {
	return &bridgedAdapter{inner: inner, b: newBridge(name)}
}

func (a *bridgedAdapter) Protocol() string { return a.inner.Protocol() }

// Close closes the adapter and then the owned loop.
func (a *bridgedAdapter) Close() error {
	err := a.inner.Close()
	a.b.close()
	return err
}

func (a *bridgedAdapter) Put(ctx context.Context, key string, body io.Reader, md *model.Metadata) (*model.PutResult, error) {
	return bridgeCall(ctx, a.b, func(ctx context.Context) (*model.PutResult, error) {
		return a.inner.Put(ctx, key, body, md)
	})
}

func (a *bridgedAdapter) Get(ctx context.Context, key string) ([]byte, *model.Metadata, error) {
	type got struct {
		data []byte
		md   *model.Metadata
	}
	r, err := bridgeCall(ctx, a.b, func(ctx context.Context) (got, error) {
		data, md, err := a.inner.Get(ctx, key)
		return got{data, md}, err
	})
	return r.data, r.md, err
}

func (a *bridgedAdapter) Delete(ctx context.Context, key string) (*model.DeleteResult, error) {
	return bridgeCall(ctx, a.b, func(ctx context.Context) (*model.DeleteResult, error) {
		return a.inner.Delete(ctx, key)
	})
}

func (a *bridgedAdapter) Exists(ctx context.Context, key string) (bool, error) {
	return bridgeCall(ctx, a.b, func(ctx context.Context) (bool, error) {
		return a.inner.Exists(ctx, key)
	})
}

func (a *bridgedAdapter) List(ctx context.Context, opts model.ListOptions) (*model.ListResult, error) {
	return bridgeCall(ctx, a.b, func(ctx context.Context) (*model.ListResult, error) {
		return a.inner.List(ctx, opts)
	})
}

func (a *bridgedAdapter) GetMetadata(ctx context.Context, key string) (*model.Metadata, error) {
	return bridgeCall(ctx, a.b, func(ctx context.Context) (*model.Metadata, error) {
		return a.inner.GetMetadata(ctx, key)
	})
}

func (a *bridgedAdapter) UpdateMetadata(ctx context.Context, key string, md *model.Metadata) (*model.PolicyResult, error) {
	return bridgeCall(ctx, a.b, func(ctx context.Context) (*model.PolicyResult, error) {
		return a.inner.UpdateMetadata(ctx, key, md)
	})
}

func (a *bridgedAdapter) Health(ctx context.Context) (*model.HealthResult, error) {
	return bridgeCall(ctx, a.b, a.inner.Health)
}

func (a *bridgedAdapter) Archive(ctx context.Context, key, destinationType string, settings map[string]string) (*model.ArchiveResult, error) {
	return bridgeCall(ctx, a.b, func(ctx context.Context) (*model.ArchiveResult, error) {
		return a.inner.Archive(ctx, key, destinationType, settings)
	})
}

func (a *bridgedAdapter) AddPolicy(ctx context.Context, policy model.LifecyclePolicy) (*model.PolicyResult, error) {
	return bridgeCall(ctx, a.b, func(ctx context.Context) (*model.PolicyResult, error) {
		return a.inner.AddPolicy(ctx, policy)
	})
}

func (a *bridgedAdapter) RemovePolicy(ctx context.Context, id string) (*model.PolicyResult, error) {
	return bridgeCall(ctx, a.b, func(ctx context.Context) (*model.PolicyResult, error) {
		return a.inner.RemovePolicy(ctx, id)
	})
}

func (a *bridgedAdapter) GetPolicies(ctx context.Context, prefix string) ([]model.LifecyclePolicy, error) {
	return bridgeCall(ctx, a.b, func(ctx context.Context) ([]model.LifecyclePolicy, error) {
		return a.inner.GetPolicies(ctx, prefix)
	})
}

func (a *bridgedAdapter) ApplyPolicies(ctx context.Context) (*model.ApplyPoliciesResult, error) {
	return bridgeCall(ctx, a.b, a.inner.ApplyPolicies)
}

func (a *bridgedAdapter) AddReplicationPolicy(ctx context.Context, policy model.ReplicationPolicy) (*model.PolicyResult, error) {
	return bridgeCall(ctx, a.b, func(ctx context.Context) (*model.PolicyResult, error) {
		return a.inner.AddReplicationPolicy(ctx, policy)
	})
}

func (a *bridgedAdapter) RemoveReplicationPolicy(ctx context.Context, id string) (*model.PolicyResult, error) {
	return bridgeCall(ctx, a.b, func(ctx context.Context) (*model.PolicyResult, error) {
		return a.inner.RemoveReplicationPolicy(ctx, id)
	})
}

func (a *bridgedAdapter) GetReplicationPolicies(ctx context.Context) ([]model.ReplicationPolicy, error) {
	return bridgeCall(ctx, a.b, a.inner.GetReplicationPolicies)
}

func (a *bridgedAdapter) GetReplicationPolicy(ctx context.Context, id string) (*model.ReplicationPolicy, error) {
	return bridgeCall(ctx, a.b, func(ctx context.Context) (*model.ReplicationPolicy, error) {
		return a.inner.GetReplicationPolicy(ctx, id)
	})
}

func (a *bridgedAdapter) TriggerReplication(ctx context.Context, opts model.TriggerOptions) (*model.SyncResult, error) {
	return bridgeCall(ctx, a.b, func(ctx context.Context) (*model.SyncResult, error) {
		return a.inner.TriggerReplication(ctx, opts)
	})
}

func (a *bridgedAdapter) GetReplicationStatus(ctx context.Context, id string) (*model.ReplicationStatus, error) {
	return bridgeCall(ctx, a.b, func(ctx context.Context) (*model.ReplicationStatus, error) {
		return a.inner.GetReplicationStatus(ctx, id)
	})
}

// GetStream opens the download in one of two modes, fixed for the life of
// the stream: driven on the owned loop one chunk at a time, or pumped by a
// dedicated worker when the caller is already inside a loop.
func (a *bridgedAdapter) GetStream(ctx context.Context, key string) (transport.ChunkIterator, error) {
	if sched.Current(ctx) != nil {
		return openWorkerChunks(ctx, a.b.name, func(ctx context.Context) (transport.ChunkIterator, error) {
			return a.inner.GetStream(ctx, key)
		})
	}
	it, err := bridgeCall(ctx, a.b, func(ctx context.Context) (transport.ChunkIterator, error) {
		return a.inner.GetStream(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return &ownedChunks{b: a.b, it: it}, nil
}

// ownedChunks pulls each chunk with one drive of the owned loop.
type ownedChunks struct {
	b  *bridge
	it transport.ChunkIterator
}

func (o *ownedChunks) Next(ctx context.Context) ([]byte, error) {
	l, err := o.b.loop()
	if err != nil {
		_ = o.it.Close()
		return nil, err
	}
	var chunk []byte
	err = l.Run(ctx, func(ctx context.Context) error {
		var err error
		chunk, err = o.it.Next(ctx)
		return err
	})
	if err != nil && !errors.Is(err, io.EOF) {
		return nil, runError(err)
	}
	return chunk, err
}

func (o *ownedChunks) Close() error { return o.it.Close() }

type chunkResult struct {
	chunk []byte
	err   error
}

// workerChunks hands chunks from a worker goroutine over unbuffered
// channels, one per request.
type workerChunks struct {
	reqs   chan struct{}
	resps  chan chunkResult
	cancel context.CancelFunc
	done   chan struct{}
	// exitErr is set before done is closed.
	exitErr error
	closing atomic.Bool

	mu        sync.Mutex
	closeOnce sync.Once
}

func openWorkerChunks(ctx context.Context, name string, open func(ctx context.Context) (transport.ChunkIterator, error)) (*workerChunks, error) {
	wctx, cancel := context.WithCancel(ctx)
	w := &workerChunks{
		reqs:   make(chan struct{}),
		resps:  make(chan chunkResult),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	opened := make(chan error, 1)

	go func() {
		defer close(w.done)
		l := sched.New(name + "-stream")
		defer l.Close()

		err := l.Run(wctx, func(ctx context.Context) (err error) {
			defer func() {
				if p := recover(); p != nil {
					err = panicError(p)
				}
			}()
			it, err := open(ctx)
			opened <- err
			if err != nil {
				return err
			}
			defer it.Close()
			return w.pump(ctx, it)
		})
		w.exitErr = err
		// Unblocks the opener when the task never ran or panicked while opening.
		select {
		case opened <- runError(err):
		default:
		}
	}()

	if err := <-opened; err != nil {
		cancel()
		<-w.done
		return nil, err
	}
	return w, nil
}

func (w *workerChunks) pump(ctx context.Context, it transport.ChunkIterator) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-w.reqs:
		}
		chunk, err := it.Next(ctx)
		select {
		case w.resps <- chunkResult{chunk, err}:
		case <-ctx.Done():
			return ctx.Err()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
	}
}

func (w *workerChunks) Next(_ context.Context) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	select {
	case w.reqs <- struct{}{}:
	case <-w.done:
		return nil, w.finished()
	}
	var r chunkResult
	select {
	case r = <-w.resps:
	case <-w.done:
		return nil, w.finished()
	}
	if r.err != nil {
		_ = w.Close()
		if !errors.Is(r.err, io.EOF) {
			return nil, runError(r.err)
		}
	}
	return r.chunk, r.err
}

// finished reports why the worker is gone: io.EOF after a clean end or
// Close, otherwise its failure.
func (w *workerChunks) finished() error {
	if w.exitErr == nil || w.closing.Load() {
		return io.EOF
	}
	return runError(w.exitErr)
}

// Close cancels the worker and waits for it to release the iterator and
// its loop. It is safe to call more than once.
func (w *workerChunks) Close() error {
	w.closeOnce.Do(func() {
		w.closing.Store(true)
		w.cancel()
		<-w.done
	})
	return nil
}
