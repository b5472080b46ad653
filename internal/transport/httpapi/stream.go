package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"strings"
	"sync"

	"github.com/bleepstore/objstore/internal/transport"
	objerr "github.com/bleepstore/objstore/pkg/errors"
)

// BodyChunks reads a response body in transport.ChunkSize pieces. The body
// and its request context are released on EOF, on error, or on Close,
// whichever comes first.
type BodyChunks struct {
	mu     sync.Mutex
	body   io.ReadCloser
	cancel context.CancelFunc
	buf    []byte
	done   bool
}

func newBodyChunks(body io.ReadCloser, cancel context.CancelFunc) *BodyChunks {
	return &BodyChunks{body: body, cancel: cancel, buf: make([]byte, transport.ChunkSize)}
}

// Next returns the next chunk or io.EOF. The returned slice is owned by
// the caller.
func (b *BodyChunks) Next(_ context.Context) ([]byte, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.done {
		return nil, io.EOF
	}

	n, err := io.ReadFull(b.body, b.buf)
	switch {
	case err == nil:
		return clone(b.buf[:n]), nil
	case errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF):
		b.releaseLocked()
		if n == 0 {
			return nil, io.EOF
		}
		return clone(b.buf[:n]), nil
	default:
		b.releaseLocked()
		return nil, objerr.FromTransport(err)
	}
}

// Close abandons the rest of the body. The connection is closed rather than
// drained, so an abandoned large download does not keep transferring.
func (b *BodyChunks) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.releaseLocked()
	return nil
}

func (b *BodyChunks) releaseLocked() {
	if b.done {
		return
	}
	b.done = true
	b.body.Close()
	b.cancel()
}

func clone(p []byte) []byte {
	out := make([]byte, len(p))
	copy(out, p)
	return out
}

func trimETag(s string) string {
	return strings.Trim(s, `"`)
}

// jsonUnmarshalLenient decodes data when it looks like a JSON object.
// Non-JSON success bodies are tolerated.
func jsonUnmarshalLenient(data []byte, v any) error {
	trimmed := strings.TrimSpace(string(data))
	if !strings.HasPrefix(trimmed, "{") {
		return nil
	}
	return json.Unmarshal([]byte(trimmed), v)
}
