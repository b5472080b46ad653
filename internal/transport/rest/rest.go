// Package rest implements the objstore adapter over plain HTTP/1.1 (or
// whatever the supplied http.Client negotiates).
package rest

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/bleepstore/objstore/internal/metrics"
	"github.com/bleepstore/objstore/internal/transport"
	"github.com/bleepstore/objstore/internal/transport/httpapi"
	objerr "github.com/bleepstore/objstore/pkg/errors"
)

// Protocol is the name reported by Adapter.Protocol.
const Protocol = "rest"

// Options configures an Adapter.
type Options struct {
	Endpoint   string
	APIVersion string
	Timeout    time.Duration
	AuthToken  string
	// HTTPClient overrides the default client. Its Timeout is ignored in
	// favour of the per-call Timeout above.
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// Adapter speaks the objstore HTTP API over net/http.
type Adapter struct {
	*httpapi.Client

	http  *http.Client
	owned bool

	closeOnce sync.Once
}

var _ transport.Adapter = (*Adapter)(nil)

// New returns an Adapter for opts.Endpoint. No connection is made until the
// first call.
func New(opts Options) (*Adapter, error) {
	hc := opts.HTTPClient
	owned := false
	if hc == nil {
		hc = &http.Client{Transport: newTransport()}
		owned = true
	}
	api, err := httpapi.New(httpapi.Options{
		BaseURL:    opts.Endpoint,
		APIVersion: opts.APIVersion,
		Timeout:    opts.Timeout,
		AuthToken:  opts.AuthToken,
		Logger:     opts.Logger,
	}, hc.Do)
	if err != nil {
		return nil, err
	}
	return &Adapter{Client: api, http: hc, owned: owned}, nil
}

func newTransport() *http.Transport {
	t := http.DefaultTransport.(*http.Transport).Clone()
	t.MaxIdleConnsPerHost = 16
	return t
}

// Protocol returns "rest".
func (a *Adapter) Protocol() string { return Protocol }

// GetStream opens a chunked download.
func (a *Adapter) GetStream(ctx context.Context, key string) (transport.ChunkIterator, error) {
	body, _, err := a.Client.GetStream(ctx, key)
	if err != nil {
		return nil, err
	}
	return &countingChunks{ChunkIterator: body}, nil
}

// Close drops idle connections held by an adapter-owned client. A client
// supplied through Options is left alone.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		if a.owned {
			a.http.CloseIdleConnections()
		}
	})
	return nil
}

// countingChunks records delivered bytes.
type countingChunks struct {
	transport.ChunkIterator
}

func (c *countingChunks) Next(ctx context.Context) ([]byte, error) {
	chunk, err := c.ChunkIterator.Next(ctx)
	if len(chunk) > 0 {
		metrics.StreamBytesTotal.WithLabelValues(Protocol).Add(float64(len(chunk)))
	}
	if err != nil && err != io.EOF {
		return chunk, objerr.Normalize(err)
	}
	return chunk, err
}
