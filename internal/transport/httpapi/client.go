// Package httpapi speaks the objstore HTTP API: path-addressed resources
// under /api/{version}/, JSON envelopes, and object bytes as raw bodies.
// The REST and QUIC adapters share it and differ only in how a request
// reaches the wire.
package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"slices"
	"strings"
	"time"

	"github.com/bleepstore/objstore/internal/uid"
	objerr "github.com/bleepstore/objstore/pkg/errors"
)

// maxErrorBody bounds how much of an error response is read.
const maxErrorBody = 64 * 1024

// Doer sends one HTTP request. Implementations decide the transport and may
// suspend cooperatively around the round trip.
type Doer func(req *http.Request) (*http.Response, error)

// Options configures a Client.
type Options struct {
	// BaseURL is the service root, e.g. "http://localhost:8080".
	BaseURL string
	// APIVersion is the versioned path segment, e.g. "v1".
	APIVersion string
	// Timeout bounds each request, including reading its body.
	Timeout time.Duration
	// AuthToken, if set, is sent as a bearer token.
	AuthToken string
	// BufferUploads reads upload bodies into memory so requests can be
	// replayed by a transport that retries at a lower level.
	BufferUploads bool
	// Logger receives per-request debug records.
	Logger *slog.Logger
}

// Client issues objstore API calls through a Doer.
type Client struct {
	base    *url.URL
	version string
	timeout time.Duration
	token   string
	buffer  bool
	do      Doer
	log     *slog.Logger
}

// New validates opts and returns a Client.
func New(opts Options, do Doer) (*Client, error) {
	if do == nil {
		return nil, fmt.Errorf("httpapi: nil doer")
	}
	raw := strings.TrimRight(opts.BaseURL, "/")
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	base, err := url.Parse(raw)
	if err != nil {
		return nil, objerr.Wrap(objerr.Validation, err, fmt.Sprintf("invalid endpoint %q", opts.BaseURL))
	}
	if base.Host == "" {
		return nil, objerr.Newf(objerr.Validation, "invalid endpoint %q: missing host", opts.BaseURL)
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	version := strings.Trim(opts.APIVersion, "/")
	if version == "" {
		version = "v1"
	}
	return &Client{
		base:    base,
		version: version,
		timeout: opts.Timeout,
		token:   opts.AuthToken,
		buffer:  opts.BufferUploads,
		do:      do,
		log:     log,
	}, nil
}

// BaseURL returns the service root.
func (c *Client) BaseURL() string { return c.base.String() }

// APIPath returns the URL for a path under /api/{version}/.
func (c *Client) APIPath(path string) string {
	return c.base.String() + "/api/" + c.version + "/" + strings.TrimLeft(path, "/")
}

// RootPath returns the URL for an unversioned path such as /health.
func (c *Client) RootPath(path string) string {
	return c.base.String() + "/" + strings.TrimLeft(path, "/")
}

// EscapeKey escapes each slash-separated segment of an object key.
func EscapeKey(key string) string {
	parts := strings.Split(key, "/")
	for i, p := range parts {
		parts[i] = url.PathEscape(p)
	}
	return strings.Join(parts, "/")
}

// response is an open HTTP response whose context must be released.
type response struct {
	*http.Response
	cancel context.CancelFunc
}

// release drains a little of the body so the connection can be reused,
// then closes it and releases the request context.
func (r *response) release() {
	if r.Body != nil {
		_, _ = io.CopyN(io.Discard, r.Body, 4096)
		r.Body.Close()
	}
	r.cancel()
}

// send issues a request. On success the caller owns the response and must
// call release (or hand it to a stream that does).
func (c *Client) send(ctx context.Context, method, target string, body io.Reader, hdr http.Header) (*response, error) {
	if body != nil && c.buffer {
		switch body.(type) {
		case *bytes.Reader, *bytes.Buffer, *strings.Reader:
		default:
			b, err := io.ReadAll(body)
			if err != nil {
				return nil, objerr.Wrap(objerr.Validation, err, "reading upload body")
			}
			body = bytes.NewReader(b)
		}
	}

	cctx, cancel := c.withTimeout(ctx)
	req, err := http.NewRequestWithContext(cctx, method, target, body)
	if err != nil {
		cancel()
		return nil, objerr.Wrap(objerr.Validation, err, "building request")
	}
	for k, vs := range hdr {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set(HeaderRequestID, uid.RequestID())
	// Content-Encoding is object metadata here, not a transfer detail.
	if req.Header.Get("Accept-Encoding") == "" {
		req.Header.Set("Accept-Encoding", "identity")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	start := time.Now()
	resp, err := c.do(req)
	if err != nil {
		cancel()
		c.log.Debug("http request failed", "method", method, "url", target, "error", err)
		return nil, objerr.FromTransport(err)
	}
	c.log.Debug("http request", "method", method, "url", target, "status", resp.StatusCode,
		"proto", resp.Proto, "duration", time.Since(start))
	return &response{Response: resp, cancel: cancel}, nil
}

func (c *Client) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if c.timeout > 0 {
		return context.WithTimeout(ctx, c.timeout)
	}
	return context.WithCancel(ctx)
}

// statusError reads the (bounded) body of a failed response and maps it.
func statusError(resp *response) *objerr.Error {
	body, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return objerr.FromHTTPStatus(resp.StatusCode, body)
}

// doJSON sends in as JSON (when non-nil), expects one of ok, and decodes
// the body into out (when non-nil). It returns the status code received.
func (c *Client) doJSON(ctx context.Context, method, target string, in, out any, ok ...int) (int, error) {
	var body io.Reader
	hdr := http.Header{"Accept": {"application/json"}}
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return 0, objerr.Wrap(objerr.Validation, err, "encoding request")
		}
		body = bytes.NewReader(b)
		hdr.Set("Content-Type", "application/json")
	}

	resp, err := c.send(ctx, method, target, body, hdr)
	if err != nil {
		return 0, err
	}
	defer resp.release()

	if !slices.Contains(ok, resp.StatusCode) {
		return resp.StatusCode, statusError(resp)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return resp.StatusCode, objerr.FromTransport(err)
	}
	if err := checkEnvelope(resp.StatusCode, data); err != nil {
		return resp.StatusCode, err
	}
	if out != nil && len(bytes.TrimSpace(data)) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return resp.StatusCode, objerr.WithCode(objerr.Server, resp.StatusCode,
				fmt.Sprintf("decoding response: %v", err))
		}
	}
	return resp.StatusCode, nil
}

// checkEnvelope turns an explicit "success": false into a Server error.
func checkEnvelope(code int, data []byte) error {
	if len(data) == 0 || data[0] != '{' {
		return nil
	}
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil || env.Success == nil || *env.Success {
		return nil
	}
	msg := env.Message
	if msg == "" {
		msg = "operation reported failure"
	}
	return objerr.WithCode(objerr.Server, code, msg)
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}
