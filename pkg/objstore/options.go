package objstore

import (
	"log/slog"
	"net/http"

	"google.golang.org/grpc"

	"github.com/bleepstore/objstore/pkg/retry"
)

type options struct {
	logger       *slog.Logger
	policy       *retry.Policy
	httpClient   *http.Client
	roundTripper http.RoundTripper
	dialOptions  []grpc.DialOption
}

// Option customizes a Client.
type Option func(*options)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithRetryPolicy replaces the retry policy derived from Config.MaxRetries.
func WithRetryPolicy(p retry.Policy) Option {
	return func(o *options) { o.policy = &p }
}

// WithHTTPClient sets the client used by the REST adapter.
func WithHTTPClient(c *http.Client) Option {
	return func(o *options) { o.httpClient = c }
}

// WithRoundTripper replaces the HTTP/2 fallback transport of the QUIC adapter.
func WithRoundTripper(rt http.RoundTripper) Option {
	return func(o *options) { o.roundTripper = rt }
}

// WithGRPCDialOptions appends dial options for the gRPC adapter.
func WithGRPCDialOptions(opts ...grpc.DialOption) Option {
	return func(o *options) { o.dialOptions = append(o.dialOptions, opts...) }
}
