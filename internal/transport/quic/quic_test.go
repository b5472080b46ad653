package quic

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bleepstore/objstore/internal/logging"
	"github.com/bleepstore/objstore/internal/sched"
	objerr "github.com/bleepstore/objstore/pkg/errors"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// handlerTransport answers requests in-process through h.
func handlerTransport(h http.HandlerFunc, calls *atomic.Int32) roundTripFunc {
	return func(r *http.Request) (*http.Response, error) {
		if calls != nil {
			calls.Add(1)
		}
		rec := httptest.NewRecorder()
		h(rec, r)
		resp := rec.Result()
		resp.Request = r
		return resp, nil
	}
}

func failing(err error, calls *atomic.Int32) roundTripFunc {
	return func(*http.Request) (*http.Response, error) {
		calls.Add(1)
		return nil, err
	}
}

// echoBody writes the request body back. Client-built requests may carry
// a nil Body since no server sits in between.
func echoBody(w http.ResponseWriter, r *http.Request) {
	if r.Body == nil {
		return
	}
	b, _ := io.ReadAll(r.Body)
	w.Write(b)
}

func TestFallbackEngagesOnFirstFailure(t *testing.T) {
	var h3Calls, h2Calls atomic.Int32
	rt := &fallbackTransport{
		h3:       failing(errors.New("no recent network activity"), &h3Calls),
		fallback: handlerTransport(echoBody, &h2Calls),
		log:      logging.Discard(),
	}
	assert.Equal(t, "h3", rt.negotiated())

	req, _ := http.NewRequest(http.MethodPut, "https://example.test/x", strings.NewReader("payload"))
	resp, err := rt.RoundTrip(req)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	assert.Equal(t, "payload", string(body), "body must be replayed on the fallback")
	assert.Equal(t, "h2", rt.negotiated())

	req, _ = http.NewRequest(http.MethodGet, "https://example.test/y", nil)
	_, err = rt.RoundTrip(req)
	require.NoError(t, err)
	assert.Equal(t, int32(1), h3Calls.Load(), "h3 must not be retried once down")
	assert.Equal(t, int32(2), h2Calls.Load())
}

func TestNoFallbackAfterHTTP3Worked(t *testing.T) {
	var h2Calls atomic.Int32
	var fail atomic.Bool
	rt := &fallbackTransport{
		h3: roundTripFunc(func(r *http.Request) (*http.Response, error) {
			if fail.Load() {
				return nil, errors.New("stream reset")
			}
			return handlerTransport(echoBody, nil)(r)
		}),
		fallback: handlerTransport(echoBody, &h2Calls),
		log:      logging.Discard(),
	}

	req, _ := http.NewRequest(http.MethodGet, "https://example.test/", nil)
	_, err := rt.RoundTrip(req)
	require.NoError(t, err)

	fail.Store(true)
	_, err = rt.RoundTrip(req)
	assert.Error(t, err)
	assert.Equal(t, int32(0), h2Calls.Load())
	assert.Equal(t, "h3", rt.negotiated())
}

func TestNoFallbackWhenCallerCancelled(t *testing.T) {
	var h3Calls, h2Calls atomic.Int32
	rt := &fallbackTransport{
		h3:       failing(context.Canceled, &h3Calls),
		fallback: handlerTransport(echoBody, &h2Calls),
		log:      logging.Discard(),
	}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, "https://example.test/", nil)
	_, err := rt.RoundTrip(req)
	assert.Error(t, err)
	assert.Equal(t, int32(0), h2Calls.Load())
	assert.Equal(t, "h3", rt.negotiated())
}

func TestRewindWithoutGetBody(t *testing.T) {
	req, _ := http.NewRequest(http.MethodPut, "https://example.test/", io.NopCloser(strings.NewReader("x")))
	req.GetBody = nil
	_, err := rewind(req)
	assert.Error(t, err)

	empty, _ := http.NewRequest(http.MethodGet, "https://example.test/", nil)
	same, err := rewind(empty)
	require.NoError(t, err)
	assert.Same(t, empty, same)
}

func newTestAdapter(t *testing.T, h http.HandlerFunc) *Adapter {
	t.Helper()
	a, err := New(Options{
		Endpoint:     "https://objstore.test",
		APIVersion:   "v1",
		Timeout:      5 * time.Second,
		DisableHTTP3: true,
		Fallback:     handlerTransport(h, nil),
		Logger:       logging.Discard(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { a.Close() })
	return a
}

func TestCallsOutsideSchedulerAreUnsupported(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("data"))
	})
	_, _, err := a.Get(context.Background(), "k")
	assert.Equal(t, objerr.Unsupported, objerr.KindOf(err))
}

func TestCallsInsideScheduler(t *testing.T) {
	a := newTestAdapter(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain")
		w.Write([]byte("data for " + strings.TrimPrefix(r.URL.Path, "/api/v1/objects/")))
	})
	assert.Equal(t, "h2", a.Protocol())

	loop := sched.New("test")
	defer loop.Close()
	err := loop.Run(context.Background(), func(ctx context.Context) error {
		data, _, err := a.Get(ctx, "k")
		if err != nil {
			return err
		}
		assert.Equal(t, "data for k", string(data))

		it, err := a.GetStream(ctx, "s")
		if err != nil {
			return err
		}
		defer it.Close()
		chunk, err := it.Next(ctx)
		if err != nil {
			return err
		}
		assert.Equal(t, "data for s", string(chunk))
		_, err = it.Next(ctx)
		assert.ErrorIs(t, err, io.EOF)
		return nil
	})
	require.NoError(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	a := newTestAdapter(t, echoBody)
	require.NoError(t, a.Close())
	require.NoError(t, a.Close())
}
