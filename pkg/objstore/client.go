// Package objstore is the blocking client façade for the object store. It
// selects one transport adapter at construction (REST, gRPC or QUIC),
// wraps idempotent-safe operations in the retry policy and, for QUIC,
// bridges the adapter's cooperative I/O to ordinary blocking calls.
package objstore

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bleepstore/objstore/internal/logging"
	"github.com/bleepstore/objstore/internal/metrics"
	"github.com/bleepstore/objstore/internal/transport"
	"github.com/bleepstore/objstore/internal/transport/quic"
	"github.com/bleepstore/objstore/internal/transport/rest"
	"github.com/bleepstore/objstore/internal/transport/rpc"
	"github.com/bleepstore/objstore/pkg/config"
	objerr "github.com/bleepstore/objstore/pkg/errors"
	"github.com/bleepstore/objstore/pkg/model"
	"github.com/bleepstore/objstore/pkg/retry"
)

// Operation names used in errors, logs and metrics.
const (
	OpPut                     = "put"
	OpGet                     = "get"
	OpGetStream               = "get_stream"
	OpDelete                  = "delete"
	OpExists                  = "exists"
	OpList                    = "list"
	OpGetMetadata             = "get_metadata"
	OpUpdateMetadata          = "update_metadata"
	OpHealth                  = "health"
	OpArchive                 = "archive"
	OpAddPolicy               = "add_policy"
	OpRemovePolicy            = "remove_policy"
	OpGetPolicies             = "get_policies"
	OpApplyPolicies           = "apply_policies"
	OpAddReplicationPolicy    = "add_replication_policy"
	OpRemoveReplicationPolicy = "remove_replication_policy"
	OpGetReplicationPolicies  = "get_replication_policies"
	OpGetReplicationPolicy    = "get_replication_policy"
	OpTriggerReplication      = "trigger_replication"
	OpGetReplicationStatus    = "get_replication_status"
)

// Client is safe for concurrent use. It owns one adapter and, through it,
// one connection pool, channel or QUIC session.
type Client struct {
	cfg      config.Config
	adapter  transport.Adapter
	protocol string
	policy   retry.Policy
	log      *slog.Logger

	closed    atomic.Bool
	closeOnce sync.Once
	closeErr  error
}

// New validates cfg and builds the adapter it selects. No network traffic
// happens until the first call.
func New(cfg config.Config, opts ...Option) (*Client, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}
	if err := cfg.Validate(); err != nil {
		return nil, objerr.Wrap(objerr.Validation, err, "")
	}
	log := logging.Component(o.logger, "objstore")

	var (
		adapter transport.Adapter
		err     error
	)
	switch cfg.Protocol {
	case config.ProtocolREST:
		adapter, err = rest.New(rest.Options{
			Endpoint:   cfg.Endpoint,
			APIVersion: cfg.APIVersion,
			Timeout:    cfg.Timeout,
			AuthToken:  cfg.AuthToken,
			HTTPClient: o.httpClient,
			Logger:     log,
		})
	case config.ProtocolGRPC:
		adapter, err = rpc.New(rpc.Options{
			Endpoint:       cfg.Endpoint,
			Timeout:        cfg.Timeout,
			AuthToken:      cfg.AuthToken,
			TLS:            cfg.TLS,
			MaxRecvMsgSize: cfg.GRPC.MaxRecvMsgSize,
			MaxSendMsgSize: cfg.GRPC.MaxSendMsgSize,
			DialOptions:    o.dialOptions,
			Logger:         log,
		})
	case config.ProtocolQUIC:
		var qa *quic.Adapter
		qa, err = quic.New(quic.Options{
			Endpoint:         cfg.Endpoint,
			APIVersion:       cfg.APIVersion,
			Timeout:          cfg.Timeout,
			AuthToken:        cfg.AuthToken,
			VerifyTLS:        cfg.VerifyTLS,
			HandshakeTimeout: cfg.QUIC.HandshakeTimeout,
			MaxIdleTimeout:   cfg.QUIC.MaxIdleTimeout,
			KeepAlive:        cfg.QUIC.KeepAlive,
			DisableHTTP3:     cfg.QUIC.DisableHTTP3,
			Fallback:         o.roundTripper,
			Logger:           log,
		})
		if err == nil {
			adapter = newBridgedAdapter(qa, "objstore-quic")
		}
	default:
		return nil, objerr.Newf(objerr.Validation, "unsupported protocol %q", cfg.Protocol)
	}
	if err != nil {
		return nil, err
	}
	log.Info("objstore client created", "protocol", cfg.Protocol, "endpoint", cfg.Endpoint)
	return newClient(cfg, adapter, o), nil
}

func newClient(cfg config.Config, adapter transport.Adapter, o options) *Client {
	policy := retry.Default().WithMaxAttempts(cfg.MaxRetries)
	if o.policy != nil {
		policy = *o.policy
	}
	return &Client{
		cfg:      cfg,
		adapter:  adapter,
		protocol: string(cfg.Protocol),
		policy:   policy,
		log:      logging.Component(o.logger, "objstore"),
	}
}

// Config returns the configuration the client was built with.
func (c *Client) Config() config.Config { return c.cfg }

// Protocol reports the wire protocol in use. For QUIC this is the
// negotiated "h3" or, after a fallback, "h2".
func (c *Client) Protocol() string { return c.adapter.Protocol() }

// Close releases the adapter's connection and any scheduler the client
// owns. It is safe to call more than once.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		c.closeErr = c.adapter.Close()
		c.log.Debug("objstore client closed", "protocol", c.protocol)
	})
	return c.closeErr
}

// call runs one operation, retrying idempotent-safe ones, and records the
// outcome.
func call[T any](ctx context.Context, c *Client, op string, idempotent bool, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	if c.closed.Load() {
		return zero, errClosed().WithOp(op)
	}
	start := time.Now()

	var (
		out T
		err error
	)
	if idempotent {
		p := c.policy
		p.OnRetry = func(attempt int, delay time.Duration, err error) {
			metrics.RetriesTotal.WithLabelValues(op, c.protocol).Inc()
			c.log.Warn("retrying operation", "op", op, "attempt", attempt, "delay", delay, "error", err)
		}
		out, err = retry.Do(ctx, p, fn)
	} else {
		out, err = fn(ctx)
	}

	if err != nil {
		e := objerr.Normalize(err).WithOp(op)
		metrics.ObserveOperation(op, c.protocol, e.Kind.String(), start)
		c.log.Debug("operation failed", "op", op, "kind", e.Kind, "error", e.Message, "duration", time.Since(start))
		return zero, e
	}
	metrics.ObserveOperation(op, c.protocol, "success", start)
	c.log.Debug("operation succeeded", "op", op, "duration", time.Since(start))
	return out, nil
}

// Put uploads body under key. It is not retried.
func (c *Client) Put(ctx context.Context, key string, body io.Reader, md *model.Metadata) (*model.PutResult, error) {
	return call(ctx, c, OpPut, false, func(ctx context.Context) (*model.PutResult, error) {
		return c.adapter.Put(ctx, key, body, md)
	})
}

// PutBytes uploads data under key.
func (c *Client) PutBytes(ctx context.Context, key string, data []byte, md *model.Metadata) (*model.PutResult, error) {
	return c.Put(ctx, key, bytes.NewReader(data), md)
}

// Get downloads the whole object.
func (c *Client) Get(ctx context.Context, key string) ([]byte, *model.Metadata, error) {
	type got struct {
		data []byte
		md   *model.Metadata
	}
	r, err := call(ctx, c, OpGet, true, func(ctx context.Context) (got, error) {
		data, md, err := c.adapter.Get(ctx, key)
		return got{data, md}, err
	})
	return r.data, r.md, err
}

// GetStream opens a chunked download. Opening is retried; reading is not.
// The caller must Close the stream unless it reads it to the end.
func (c *Client) GetStream(ctx context.Context, key string) (*Stream, error) {
	it, err := call(ctx, c, OpGetStream, true, func(ctx context.Context) (transport.ChunkIterator, error) {
		return c.adapter.GetStream(ctx, key)
	})
	if err != nil {
		return nil, err
	}
	return newStream(ctx, it), nil
}

// Delete removes key. Whether an absent key is an error is up to the
// service; its answer is passed through.
func (c *Client) Delete(ctx context.Context, key string) (*model.DeleteResult, error) {
	return call(ctx, c, OpDelete, true, func(ctx context.Context) (*model.DeleteResult, error) {
		return c.adapter.Delete(ctx, key)
	})
}

// Exists reports whether key is present. It never fails with NotFound.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	return call(ctx, c, OpExists, true, func(ctx context.Context) (bool, error) {
		ok, err := c.adapter.Exists(ctx, key)
		if objerr.KindOf(err) == objerr.NotFound {
			return false, nil
		}
		return ok, err
	})
}

// List returns one page of keys.
func (c *Client) List(ctx context.Context, opts model.ListOptions) (*model.ListResult, error) {
	return call(ctx, c, OpList, true, func(ctx context.Context) (*model.ListResult, error) {
		return c.adapter.List(ctx, opts)
	})
}

func (c *Client) GetMetadata(ctx context.Context, key string) (*model.Metadata, error) {
	return call(ctx, c, OpGetMetadata, true, func(ctx context.Context) (*model.Metadata, error) {
		return c.adapter.GetMetadata(ctx, key)
	})
}

func (c *Client) UpdateMetadata(ctx context.Context, key string, md *model.Metadata) (*model.PolicyResult, error) {
	return call(ctx, c, OpUpdateMetadata, false, func(ctx context.Context) (*model.PolicyResult, error) {
		return c.adapter.UpdateMetadata(ctx, key, md)
	})
}

// Health reports the service status. Transport failures are returned, not
// folded into HealthUnknown.
func (c *Client) Health(ctx context.Context) (*model.HealthResult, error) {
	return call(ctx, c, OpHealth, true, c.adapter.Health)
}

func (c *Client) Archive(ctx context.Context, key, destinationType string, settings map[string]string) (*model.ArchiveResult, error) {
	return call(ctx, c, OpArchive, false, func(ctx context.Context) (*model.ArchiveResult, error) {
		return c.adapter.Archive(ctx, key, destinationType, settings)
	})
}

func (c *Client) AddPolicy(ctx context.Context, policy model.LifecyclePolicy) (*model.PolicyResult, error) {
	return call(ctx, c, OpAddPolicy, false, func(ctx context.Context) (*model.PolicyResult, error) {
		return c.adapter.AddPolicy(ctx, policy)
	})
}

func (c *Client) RemovePolicy(ctx context.Context, id string) (*model.PolicyResult, error) {
	return call(ctx, c, OpRemovePolicy, false, func(ctx context.Context) (*model.PolicyResult, error) {
		return c.adapter.RemovePolicy(ctx, id)
	})
}

// GetPolicies lists lifecycle policies whose prefix starts with prefix.
func (c *Client) GetPolicies(ctx context.Context, prefix string) ([]model.LifecyclePolicy, error) {
	return call(ctx, c, OpGetPolicies, false, func(ctx context.Context) ([]model.LifecyclePolicy, error) {
		return c.adapter.GetPolicies(ctx, prefix)
	})
}

func (c *Client) ApplyPolicies(ctx context.Context) (*model.ApplyPoliciesResult, error) {
	return call(ctx, c, OpApplyPolicies, false, c.adapter.ApplyPolicies)
}

func (c *Client) AddReplicationPolicy(ctx context.Context, policy model.ReplicationPolicy) (*model.PolicyResult, error) {
	return call(ctx, c, OpAddReplicationPolicy, false, func(ctx context.Context) (*model.PolicyResult, error) {
		return c.adapter.AddReplicationPolicy(ctx, policy)
	})
}

func (c *Client) RemoveReplicationPolicy(ctx context.Context, id string) (*model.PolicyResult, error) {
	return call(ctx, c, OpRemoveReplicationPolicy, false, func(ctx context.Context) (*model.PolicyResult, error) {
		return c.adapter.RemoveReplicationPolicy(ctx, id)
	})
}

func (c *Client) GetReplicationPolicies(ctx context.Context) ([]model.ReplicationPolicy, error) {
	return call(ctx, c, OpGetReplicationPolicies, false, c.adapter.GetReplicationPolicies)
}

func (c *Client) GetReplicationPolicy(ctx context.Context, id string) (*model.ReplicationPolicy, error) {
	return call(ctx, c, OpGetReplicationPolicy, false, func(ctx context.Context) (*model.ReplicationPolicy, error) {
		return c.adapter.GetReplicationPolicy(ctx, id)
	})
}

// TriggerReplication runs a replication policy now and waits for it.
func (c *Client) TriggerReplication(ctx context.Context, opts model.TriggerOptions) (*model.SyncResult, error) {
	return call(ctx, c, OpTriggerReplication, false, func(ctx context.Context) (*model.SyncResult, error) {
		return c.adapter.TriggerReplication(ctx, opts)
	})
}

func (c *Client) GetReplicationStatus(ctx context.Context, id string) (*model.ReplicationStatus, error) {
	return call(ctx, c, OpGetReplicationStatus, false, func(ctx context.Context) (*model.ReplicationStatus, error) {
		return c.adapter.GetReplicationStatus(ctx, id)
	})
}
