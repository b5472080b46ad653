package objstore

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleepstore/objstore/internal/logging"
	"github.com/bleepstore/objstore/internal/transport"
	"github.com/bleepstore/objstore/pkg/config"
	objerr "github.com/bleepstore/objstore/pkg/errors"
	"github.com/bleepstore/objstore/pkg/model"
	"github.com/bleepstore/objstore/pkg/retry"
)

// fakeAdapter overrides the operations a test needs; anything else panics
// through the nil embedded interface.
type fakeAdapter struct {
	transport.Adapter

	calls  atomic.Int32
	closes atomic.Int32

	get    func(n int32) ([]byte, error)
	exists func(n int32) (bool, error)
	put    func(n int32) error
	stream func(n int32) (transport.ChunkIterator, error)
}

func (f *fakeAdapter) Protocol() string { return "fake" }

func (f *fakeAdapter) Close() error {
	f.closes.Add(1)
	return nil
}

func (f *fakeAdapter) Get(_ context.Context, _ string) ([]byte, *model.Metadata, error) {
	data, err := f.get(f.calls.Add(1))
	if err != nil {
		return nil, nil, err
	}
	return data, &model.Metadata{Size: model.Int64(int64(len(data)))}, nil
}

func (f *fakeAdapter) Exists(_ context.Context, _ string) (bool, error) {
	return f.exists(f.calls.Add(1))
}

func (f *fakeAdapter) Put(_ context.Context, _ string, _ io.Reader, _ *model.Metadata) (*model.PutResult, error) {
	if err := f.put(f.calls.Add(1)); err != nil {
		return nil, err
	}
	return &model.PutResult{Success: true}, nil
}

func (f *fakeAdapter) GetStream(_ context.Context, _ string) (transport.ChunkIterator, error) {
	return f.stream(f.calls.Add(1))
}

func fastPolicy() retry.Policy {
	return retry.Policy{MaxAttempts: 3, Initial: time.Millisecond, Max: 5 * time.Millisecond, Multiplier: 2}
}

func newFakeClient(t *testing.T, a transport.Adapter) *Client {
	t.Helper()
	cfg := config.Default()
	p := fastPolicy()
	c := newClient(cfg, a, options{logger: logging.Discard(), policy: &p})
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestRetryRecoversFromTransientConnectionErrors(t *testing.T) {
	fake := &fakeAdapter{get: func(n int32) ([]byte, error) {
		if n < 3 {
			return nil, objerr.New(objerr.Connection, "connection refused")
		}
		return []byte("payload"), nil
	}}
	c := newFakeClient(t, fake)

	data, md, err := c.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("payload"), data)
	assert.Equal(t, int64(7), model.Deref(md.Size))
	assert.Equal(t, int32(3), fake.calls.Load())
}

func TestRetrySurfacesLastError(t *testing.T) {
	fake := &fakeAdapter{get: func(n int32) ([]byte, error) {
		if n == 3 {
			return nil, objerr.New(objerr.Timeout, "third")
		}
		return nil, objerr.New(objerr.Connection, "earlier")
	}}
	c := newFakeClient(t, fake)

	_, _, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	e, ok := objerr.As(err)
	require.True(t, ok)
	assert.Equal(t, objerr.Timeout, e.Kind)
	assert.Equal(t, "third", e.Message)
	assert.Equal(t, OpGet, e.Op)
	assert.Equal(t, int32(3), fake.calls.Load())
}

func TestValidationErrorIsNotRetried(t *testing.T) {
	fake := &fakeAdapter{get: func(int32) ([]byte, error) {
		return nil, objerr.New(objerr.Validation, "bad key")
	}}
	c := newFakeClient(t, fake)

	_, _, err := c.Get(context.Background(), "k")
	require.Error(t, err)
	assert.Equal(t, objerr.Validation, objerr.KindOf(err))
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestNonRetryableKinds(t *testing.T) {
	for _, kind := range []objerr.Kind{objerr.NotFound, objerr.Authentication, objerr.Server, objerr.Unsupported} {
		t.Run(kind.String(), func(t *testing.T) {
			fake := &fakeAdapter{get: func(int32) ([]byte, error) {
				return nil, objerr.New(kind, "nope")
			}}
			c := newFakeClient(t, fake)
			_, _, err := c.Get(context.Background(), "k")
			assert.True(t, errors.Is(err, &objerr.Error{Kind: kind}))
			assert.Equal(t, int32(1), fake.calls.Load())
		})
	}
}

func TestPutIsNotRetried(t *testing.T) {
	fake := &fakeAdapter{put: func(int32) error {
		return objerr.New(objerr.Connection, "reset")
	}}
	c := newFakeClient(t, fake)

	_, err := c.PutBytes(context.Background(), "k", []byte("x"), nil)
	assert.Equal(t, objerr.Connection, objerr.KindOf(err))
	assert.Equal(t, int32(1), fake.calls.Load())
}

func TestExistsNeverReturnsNotFound(t *testing.T) {
	fake := &fakeAdapter{exists: func(int32) (bool, error) {
		return false, objerr.New(objerr.NotFound, "gone")
	}}
	c := newFakeClient(t, fake)

	ok, err := c.Exists(context.Background(), "k")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestExistsRetriesConnectionFailures(t *testing.T) {
	fake := &fakeAdapter{exists: func(n int32) (bool, error) {
		if n == 1 {
			return false, objerr.New(objerr.Connection, "refused")
		}
		return true, nil
	}}
	c := newFakeClient(t, fake)

	ok, err := c.Exists(context.Background(), "k")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int32(2), fake.calls.Load())
}

func TestCloseIsIdempotentAndFailsLaterCalls(t *testing.T) {
	fake := &fakeAdapter{get: func(int32) ([]byte, error) { return nil, nil }}
	c := newFakeClient(t, fake)

	require.NoError(t, c.Close())
	require.NoError(t, c.Close())
	assert.Equal(t, int32(1), fake.closes.Load())

	_, _, err := c.Get(context.Background(), "k")
	assert.Equal(t, objerr.Connection, objerr.KindOf(err))
	assert.Contains(t, err.Error(), "client is closed")
	assert.Equal(t, int32(0), fake.calls.Load())
}

func TestConcurrentCallsAreNotSerialized(t *testing.T) {
	var inside atomic.Int32
	release := make(chan struct{})
	fake := &fakeAdapter{get: func(int32) ([]byte, error) {
		inside.Add(1)
		<-release
		return []byte("ok"), nil
	}}
	c := newFakeClient(t, fake)

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := c.Get(context.Background(), "k")
			assert.NoError(t, err)
		}()
	}
	require.Eventually(t, func() bool { return inside.Load() == 4 }, 2*time.Second, 5*time.Millisecond)
	close(release)
	wg.Wait()
}

// sliceChunks yields fixed chunks and records Close.
type sliceChunks struct {
	chunks [][]byte
	closed atomic.Int32
}

func (s *sliceChunks) Next(context.Context) ([]byte, error) {
	if len(s.chunks) == 0 {
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}

func (s *sliceChunks) Close() error {
	s.closed.Add(1)
	return nil
}

func TestStreamClosesAtEOFAndOnBreak(t *testing.T) {
	it := &sliceChunks{chunks: [][]byte{[]byte("ab"), []byte("cd"), []byte("ef")}}
	fake := &fakeAdapter{stream: func(int32) (transport.ChunkIterator, error) { return it, nil }}
	c := newFakeClient(t, fake)

	s, err := c.GetStream(context.Background(), "k")
	require.NoError(t, err)
	data, err := s.ReadAll()
	require.NoError(t, err)
	assert.Equal(t, []byte("abcdef"), data)
	assert.Equal(t, int32(1), it.closed.Load())

	it2 := &sliceChunks{chunks: [][]byte{[]byte("ab"), []byte("cd")}}
	fake.stream = func(int32) (transport.ChunkIterator, error) { return it2, nil }
	s, err = c.GetStream(context.Background(), "k")
	require.NoError(t, err)
	var got bytes.Buffer
	for chunk, err := range s.All() {
		require.NoError(t, err)
		got.Write(chunk)
		break
	}
	assert.Equal(t, "ab", got.String())
	assert.Equal(t, int32(1), it2.closed.Load())

	_, err = s.Next()
	assert.ErrorIs(t, err, io.EOF)
	require.NoError(t, s.Close())
	assert.Equal(t, int32(1), it2.closed.Load())
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Protocol = "carrier-pigeon"
	_, err := New(cfg)
	assert.Equal(t, objerr.Validation, objerr.KindOf(err))
}
