package quic

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/bleepstore/objstore/internal/metrics"
)

// fallbackTransport tries HTTP/3 first. If HTTP/3 has never produced a
// response and a round trip fails for a reason other than the caller's
// context, HTTP/3 is marked unavailable for the transport's lifetime and
// the request is replayed over the fallback transport.
type fallbackTransport struct {
	h3       http.RoundTripper
	fallback http.RoundTripper
	log      *slog.Logger

	h3Down   atomic.Bool
	h3Proven atomic.Bool
}

func (t *fallbackTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if t.h3 == nil || t.h3Down.Load() {
		return t.fallback.RoundTrip(req)
	}

	resp, err := t.h3.RoundTrip(req)
	if err == nil {
		t.h3Proven.Store(true)
		return resp, nil
	}
	if t.h3Proven.Load() || req.Context().Err() != nil {
		return nil, err
	}

	if t.h3Down.CompareAndSwap(false, true) {
		metrics.TransportFallbacksTotal.Inc()
		t.log.Warn("http/3 unavailable, falling back to http/2", "host", req.URL.Host, "error", err)
	}
	replay, rerr := rewind(req)
	if rerr != nil {
		return nil, errors.Join(err, rerr)
	}
	return t.fallback.RoundTrip(replay)
}

// rewind returns a copy of req with a fresh body.
func rewind(req *http.Request) (*http.Request, error) {
	if req.Body == nil || req.Body == http.NoBody {
		return req, nil
	}
	if req.GetBody == nil {
		return nil, errors.New("request body cannot be replayed")
	}
	body, err := req.GetBody()
	if err != nil {
		return nil, err
	}
	out := req.Clone(req.Context())
	out.Body = body
	return out, nil
}

// negotiated reports the protocol requests currently travel over.
func (t *fallbackTransport) negotiated() string {
	if t.h3 == nil || t.h3Down.Load() {
		return "h2"
	}
	return "h3"
}

func (t *fallbackTransport) close() error {
	var errs []error
	if c, ok := t.h3.(io.Closer); ok {
		errs = append(errs, c.Close())
	}
	if c, ok := t.fallback.(interface{ CloseIdleConnections() }); ok {
		c.CloseIdleConnections()
	}
	return errors.Join(errs...)
}
