// Package quic implements the objstore adapter over HTTP/3, falling back to
// HTTP/2 when the service cannot be reached over QUIC. Its I/O is
// cooperative: every operation must run inside a sched.Loop and yields the
// loop while waiting on the network.
package quic

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	quicgo "github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/net/http2"

	"github.com/bleepstore/objstore/internal/metrics"
	"github.com/bleepstore/objstore/internal/sched"
	"github.com/bleepstore/objstore/internal/transport"
	"github.com/bleepstore/objstore/internal/transport/httpapi"
	objerr "github.com/bleepstore/objstore/pkg/errors"
)

// Protocol is the configuration name of this adapter.
const Protocol = "quic"

// Options configures an Adapter.
type Options struct {
	Endpoint   string
	APIVersion string
	Timeout    time.Duration
	AuthToken  string
	// VerifyTLS enables certificate verification. It is off by default to
	// suit self-signed development servers.
	VerifyTLS bool
	// TLSConfig is the base client TLS configuration, e.g. to supply RootCAs.
	TLSConfig *tls.Config

	HandshakeTimeout time.Duration
	MaxIdleTimeout   time.Duration
	KeepAlive        time.Duration
	// DisableHTTP3 sends every request over the fallback transport.
	DisableHTTP3 bool
	// Fallback replaces the HTTP/2 transport.
	Fallback http.RoundTripper

	Logger *slog.Logger
}

// Adapter speaks the objstore HTTP API over HTTP/3 or HTTP/2.
type Adapter struct {
	*httpapi.Client

	rt *fallbackTransport

	closeOnce sync.Once
	closeErr  error
}

var _ transport.Adapter = (*Adapter)(nil)

// New builds the transports. No connection is made until the first call.
func New(opts Options) (*Adapter, error) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	tlsConf := opts.TLSConfig
	if tlsConf == nil {
		tlsConf = &tls.Config{}
	} else {
		tlsConf = tlsConf.Clone()
	}
	tlsConf.InsecureSkipVerify = !opts.VerifyTLS
	if tlsConf.MinVersion == 0 {
		tlsConf.MinVersion = tls.VersionTLS12
	}

	rt := &fallbackTransport{fallback: opts.Fallback, log: log}
	if rt.fallback == nil {
		rt.fallback = &http2.Transport{TLSClientConfig: tlsConf.Clone()}
	}
	if !opts.DisableHTTP3 {
		rt.h3 = &http3.Transport{
			TLSClientConfig: tlsConf.Clone(),
			QUICConfig: &quicgo.Config{
				HandshakeIdleTimeout: opts.HandshakeTimeout,
				MaxIdleTimeout:       opts.MaxIdleTimeout,
				KeepAlivePeriod:      opts.KeepAlive,
			},
		}
	}

	api, err := httpapi.New(httpapi.Options{
		BaseURL:       opts.Endpoint,
		APIVersion:    opts.APIVersion,
		Timeout:       opts.Timeout,
		AuthToken:     opts.AuthToken,
		BufferUploads: true,
		Logger:        log,
	}, cooperative(rt))
	if err != nil {
		return nil, err
	}
	return &Adapter{Client: api, rt: rt}, nil
}

// cooperative wraps rt so the round trip and every body read run through
// sched.Await on the loop driving the request's context.
func cooperative(rt http.RoundTripper) httpapi.Doer {
	return func(req *http.Request) (*http.Response, error) {
		ctx := req.Context()
		resp, err := sched.Await(ctx, func(context.Context) (*http.Response, error) {
			return rt.RoundTrip(req)
		})
		if errors.Is(err, sched.ErrNoLoop) {
			return nil, objerr.New(objerr.Unsupported, "quic adapter must be called from a running scheduler")
		}
		if err != nil {
			return nil, err
		}
		resp.Body = &awaitBody{ctx: ctx, body: resp.Body}
		return resp, nil
	}
}

// awaitBody yields the loop around each Read.
type awaitBody struct {
	ctx  context.Context
	body io.ReadCloser
}

func (b *awaitBody) Read(p []byte) (int, error) {
	n, err := sched.Await(b.ctx, func(context.Context) (int, error) {
		return b.body.Read(p)
	})
	if errors.Is(err, sched.ErrNoLoop) {
		return n, objerr.New(objerr.Unsupported, "quic adapter must be called from a running scheduler")
	}
	return n, err
}

func (b *awaitBody) Close() error { return b.body.Close() }

// Protocol reports "h3", or "h2" once HTTP/3 has been given up on.
func (a *Adapter) Protocol() string { return a.rt.negotiated() }

// GetStream opens a chunked download.
func (a *Adapter) GetStream(ctx context.Context, key string) (transport.ChunkIterator, error) {
	body, _, err := a.Client.GetStream(ctx, key)
	if err != nil {
		return nil, err
	}
	return &countingChunks{ChunkIterator: body}, nil
}

// Close shuts down both transports. Later calls return the first result.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		if err := a.rt.close(); err != nil {
			a.closeErr = objerr.Wrap(objerr.Connection, err, "closing quic transport")
		}
	})
	return a.closeErr
}

type countingChunks struct {
	transport.ChunkIterator
}

func (c *countingChunks) Next(ctx context.Context) ([]byte, error) {
	chunk, err := c.ChunkIterator.Next(ctx)
	if len(chunk) > 0 {
		metrics.StreamBytesTotal.WithLabelValues(Protocol).Add(float64(len(chunk)))
	}
	return chunk, err
}
