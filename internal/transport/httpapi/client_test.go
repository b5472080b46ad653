package httpapi

import (
	"bytes"
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
	"github.com/bleepstore/objstore/internal/transport"
	objerr "github.com/bleepstore/objstore/pkg/errors"
	"github.com/bleepstore/objstore/pkg/model"
)

func newStubClient(t *testing.T, h http.HandlerFunc, mutate ...func(*Options)) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	opts := Options{BaseURL: srv.URL, APIVersion: "v1", Timeout: 5 * time.Second, Logger: logging.Discard()}
	for _, m := range mutate {
		m(&opts)
	}
	c, err := New(opts, srv.Client().Do)
	require.NoError(t, err)
	return c
}

func TestNewRejectsBadEndpoints(t *testing.T) {
	_, err := New(Options{BaseURL: "http:///no-host"}, http.DefaultClient.Do)
	assert.Equal(t, objerr.Validation, objerr.KindOf(err))

	_, err = New(Options{BaseURL: "localhost:1"}, nil)
	assert.Error(t, err)

	c, err := New(Options{BaseURL: "localhost:8080/"}, http.DefaultClient.Do)
	require.NoError(t, err)
	assert.Equal(t, "http://localhost:8080/api/v1/objects/a", c.APIPath("objects/a"))
	assert.Equal(t, "http://localhost:8080/health", c.RootPath("/health"))
}

func TestEscapeKey(t *testing.T) {
	assert.Equal(t, "dir/a%20b/c%3Fd", EscapeKey("dir/a b/c?d"))
	assert.Equal(t, "plain", EscapeKey("plain"))
}

func TestRequestHeaders(t *testing.T) {
	var got http.Header
	var path string
	c := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		got = r.Header.Clone()
		path = r.URL.EscapedPath()
		w.Write([]byte("data"))
	}, func(o *Options) { o.AuthToken = "tok" })

	_, _, err := c.Get(context.Background(), "a b/c?d")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/objects/a%20b/c%3Fd", path)
	assert.Equal(t, "Bearer tok", got.Get("Authorization"))
	assert.Equal(t, "identity", got.Get("Accept-Encoding"))
	assert.NotEmpty(t, got.Get(HeaderRequestID))
}

func TestPutSendsMetadataAndReadsETag(t *testing.T) {
	var hdr http.Header
	var body []byte
	c := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		hdr = r.Header.Clone()
		body, _ = io.ReadAll(r.Body)
		w.Header().Set("ETag", `"abc123"`)
		w.Write([]byte("stored"))
	})

	res, err := c.Put(context.Background(), "k", strings.NewReader("payload"), &model.Metadata{
		ContentType: model.String("text/csv"),
		Custom:      map[string]string{"team": "infra"},
	})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.Equal(t, "abc123", model.Deref(res.ETag))
	assert.Equal(t, "payload", string(body))
	assert.Equal(t, "text/csv", hdr.Get("Content-Type"))
	assert.JSONEq(t, `{"team":"infra"}`, hdr.Get(HeaderObjectMetadata))
}

func TestPutDefaultsContentType(t *testing.T) {
	var ct string
	c := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		ct = r.Header.Get("Content-Type")
		w.Write([]byte(`{"success":true,"data":{"etag":"e1"}}`))
	})
	res, err := c.Put(context.Background(), "k", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "application/octet-stream", ct)
	assert.Equal(t, "e1", model.Deref(res.ETag))
}

func TestFailureEnvelopeIsServerError(t *testing.T) {
	c := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"success":false,"message":"quota exceeded"}`))
	})
	_, err := c.ApplyPolicies(context.Background())
	require.Error(t, err)
	e, ok := objerr.As(err)
	require.True(t, ok)
	assert.Equal(t, objerr.Server, e.Kind)
	assert.Equal(t, "quota exceeded", e.Message)
}

func TestStatusMapping(t *testing.T) {
	tests := []struct {
		status int
		body   string
		kind   objerr.Kind
		msg    string
	}{
		{http.StatusNotFound, `{"message":"object not found: k"}`, objerr.NotFound, "object not found: k"},
		{http.StatusUnauthorized, `{"error":"bad token"}`, objerr.Authentication, "bad token"},
		{http.StatusBadRequest, "", objerr.Validation, "validation error"},
		{http.StatusRequestTimeout, "", objerr.Timeout, "request timed out"},
		{http.StatusBadGateway, "upstream down", objerr.Server, "upstream down"},
	}
	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			c := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			})
			_, err := c.GetMetadata(context.Background(), "k")
			e, ok := objerr.As(err)
			require.True(t, ok)
			assert.Equal(t, tt.kind, e.Kind)
			assert.Equal(t, tt.status, e.Code)
			assert.Equal(t, tt.msg, e.Message)
		})
	}
}

func TestUpdateMetadataAcceptsCreated(t *testing.T) {
	var method string
	c := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		method = r.Method
		w.WriteHeader(http.StatusCreated)
		w.Write([]byte(`{"success":true,"message":"metadata created"}`))
	})
	res, err := c.UpdateMetadata(context.Background(), "k", &model.Metadata{ContentType: model.String("text/plain")})
	require.NoError(t, err)
	assert.Equal(t, http.MethodPut, method)
	assert.True(t, res.Success)
	assert.Equal(t, "metadata created", res.Message)

	_, err = c.UpdateMetadata(context.Background(), "k", nil)
	assert.Equal(t, objerr.Validation, objerr.KindOf(err))
}

func TestDeleteNotFoundFromServerError(t *testing.T) {
	c := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"message":"Object not found"}`))
	})
	_, err := c.Delete(context.Background(), "k")
	e, ok := objerr.As(err)
	require.True(t, ok)
	assert.Equal(t, objerr.NotFound, e.Kind)
	assert.Equal(t, http.StatusInternalServerError, e.Code)
}

func TestExists(t *testing.T) {
	tests := []struct {
		name     string
		head     int
		ranged   int
		want     bool
		fails    bool
		wantKind objerr.Kind
		gets     int32
	}{
		{"present", http.StatusOK, 0, true, false, objerr.Server, 0},
		{"absent", http.StatusNotFound, 0, false, false, objerr.Server, 0},
		{"unauthorized", http.StatusUnauthorized, 0, false, true, objerr.Authentication, 0},
		{"forbidden", http.StatusForbidden, 0, false, true, objerr.Authentication, 0},
		{"server error", http.StatusInternalServerError, 0, false, true, objerr.Server, 0},
		{"head rejected, present", http.StatusMethodNotAllowed, http.StatusPartialContent, true, false, objerr.Server, 1},
		{"head rejected, empty object", http.StatusMethodNotAllowed, http.StatusRequestedRangeNotSatisfiable, true, false, objerr.Server, 1},
		{"head rejected, absent", http.StatusNotImplemented, http.StatusNotFound, false, false, objerr.Server, 1},
		{"head rejected, unauthorized", http.StatusMethodNotAllowed, http.StatusUnauthorized, false, true, objerr.Authentication, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gets atomic.Int32
			c := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
				if r.Method == http.MethodHead {
					w.WriteHeader(tt.head)
					return
				}
				gets.Add(1)
				assert.Equal(t, "bytes=0-0", r.Header.Get("Range"))
				w.WriteHeader(tt.ranged)
			})
			ok, err := c.Exists(context.Background(), "k")
			if tt.fails {
				require.Error(t, err)
				assert.Equal(t, tt.wantKind, objerr.KindOf(err))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.want, ok)
			assert.Equal(t, tt.gets, gets.Load())
		})
	}
}

func TestExistsTransportFailure(t *testing.T) {
	c, err := New(Options{BaseURL: "http://127.0.0.1:1", Timeout: time.Second, Logger: logging.Discard()}, http.DefaultClient.Do)
	require.NoError(t, err)
	_, err = c.Exists(context.Background(), "k")
	assert.True(t, objerr.IsRetryable(err), "got %v", err)
}

func TestTimeoutIsReported(t *testing.T) {
	release := make(chan struct{})
	c := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}, func(o *Options) { o.Timeout = 50 * time.Millisecond })
	defer close(release)

	_, _, err := c.Get(context.Background(), "slow")
	assert.Equal(t, objerr.Timeout, objerr.KindOf(err))
}

func TestGetStreamChunks(t *testing.T) {
	payload := bytes.Repeat([]byte("0123456789abcdef"), 2*transport.ChunkSize/16+3)
	c := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-test")
		w.Write(payload)
	})

	it, md, err := c.GetStream(context.Background(), "big")
	require.NoError(t, err)
	assert.Equal(t, "application/x-test", model.Deref(md.ContentType))

	var got []byte
	for {
		chunk, err := it.Next(context.Background())
		if errors.Is(err, io.EOF) {
			break
		}
		require.NoError(t, err)
		assert.LessOrEqual(t, len(chunk), transport.ChunkSize)
		assert.NotEmpty(t, chunk)
		got = append(got, chunk...)
	}
	assert.Equal(t, payload, got)

	_, err = it.Next(context.Background())
	assert.ErrorIs(t, err, io.EOF)
	assert.NoError(t, it.Close())
}

func TestGetStreamOpenFailure(t *testing.T) {
	c := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	})
	_, _, err := c.GetStream(context.Background(), "missing")
	assert.Equal(t, objerr.NotFound, objerr.KindOf(err))
}

func TestHealthNotServing(t *testing.T) {
	c := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/health", r.URL.Path)
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"message":"disk full"}`))
	})
	res, err := c.Health(context.Background())
	require.NoError(t, err)
	assert.Equal(t, model.HealthNotServing, res.Status)
	assert.Equal(t, "disk full", res.Message)
}

func TestListEncodesQuery(t *testing.T) {
	var query string
	c := newStubClient(t, func(w http.ResponseWriter, r *http.Request) {
		query = r.URL.RawQuery
		w.Write([]byte(`{"objects":[{"key":"p/a","size":3,"metadata":{"x":"y"}}],"next_token":"p/a","truncated":true}`))
	})
	res, err := c.List(context.Background(), model.ListOptions{Prefix: "p/", Delimiter: "/", MaxResults: 1, ContinuationToken: "p/"})
	require.NoError(t, err)
	assert.Equal(t, "delimiter=%2F&limit=1&prefix=p%2F&token=p%2F", query)
	require.Len(t, res.Objects, 1)
	assert.Equal(t, "p/a", res.Objects[0].Key)
	assert.Equal(t, "y", res.Objects[0].Metadata.Custom["x"])
	assert.True(t, res.Truncated)
	assert.Equal(t, "p/a", model.Deref(res.NextToken))

	_, err = c.List(context.Background(), model.ListOptions{MaxResults: 0})
	assert.Equal(t, objerr.Validation, objerr.KindOf(err))
}
