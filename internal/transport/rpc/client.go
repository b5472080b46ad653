// Package rpc implements the objstore adapter over gRPC. Messages are plain
// Go structs exchanged through a JSON codec, so no generated code is needed.
package rpc

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"

	"github.com/bleepstore/objstore/internal/metrics"
	"github.com/bleepstore/objstore/internal/transport"
	"github.com/bleepstore/objstore/internal/uid"
	"github.com/bleepstore/objstore/pkg/config"
	objerr "github.com/bleepstore/objstore/pkg/errors"
	"github.com/bleepstore/objstore/pkg/model"
)

// Protocol is the name reported by Adapter.Protocol.
const Protocol = "grpc"

// Options configures an Adapter.
type Options struct {
	// Endpoint is host:port.
	Endpoint  string
	Timeout   time.Duration
	AuthToken string
	TLS       config.TLSConfig
	// MaxRecvMsgSize and MaxSendMsgSize override the gRPC defaults when positive.
	MaxRecvMsgSize int
	MaxSendMsgSize int
	// DialOptions are appended after the options derived above.
	DialOptions []grpc.DialOption
	Logger      *slog.Logger
}

// Adapter owns one gRPC channel.
type Adapter struct {
	conn     *grpc.ClientConn
	timeout  time.Duration
	token    string
	callOpts []grpc.CallOption
	log      *slog.Logger

	closeOnce sync.Once
	closeErr  error
}

var _ transport.Adapter = (*Adapter)(nil)

// New creates the channel. gRPC connects lazily, so an unreachable endpoint
// surfaces on the first call.
func New(opts Options) (*Adapter, error) {
	if opts.Endpoint == "" {
		return nil, objerr.New(objerr.Validation, "grpc endpoint cannot be empty")
	}
	creds, err := transportCredentials(opts.TLS)
	if err != nil {
		return nil, err
	}

	callOpts := []grpc.CallOption{grpc.CallContentSubtype(CodecName)}
	if opts.MaxRecvMsgSize > 0 {
		callOpts = append(callOpts, grpc.MaxCallRecvMsgSize(opts.MaxRecvMsgSize))
	}
	if opts.MaxSendMsgSize > 0 {
		callOpts = append(callOpts, grpc.MaxCallSendMsgSize(opts.MaxSendMsgSize))
	}
	dialOpts := append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts.DialOptions...)

	conn, err := grpc.NewClient(opts.Endpoint, dialOpts...)
	if err != nil {
		return nil, objerr.Wrap(objerr.Validation, err, fmt.Sprintf("invalid grpc endpoint %q: %v", opts.Endpoint, err))
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Adapter{
		conn:     conn,
		timeout:  opts.Timeout,
		token:    opts.AuthToken,
		callOpts: callOpts,
		log:      log,
	}, nil
}

func transportCredentials(c config.TLSConfig) (credentials.TransportCredentials, error) {
	if !c.Enabled {
		return insecure.NewCredentials(), nil
	}
	tc := &tls.Config{MinVersion: tls.VersionTLS12, InsecureSkipVerify: c.InsecureSkipVerify}
	if c.CAFile != "" {
		pem, err := os.ReadFile(c.CAFile)
		if err != nil {
			return nil, objerr.Wrap(objerr.Validation, err, "reading CA file")
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pem) {
			return nil, objerr.Newf(objerr.Validation, "no certificates found in %s", c.CAFile)
		}
		tc.RootCAs = pool
	}
	if c.CertFile != "" {
		cert, err := tls.LoadX509KeyPair(c.CertFile, c.KeyFile)
		if err != nil {
			return nil, objerr.Wrap(objerr.Validation, err, "loading client certificate")
		}
		tc.Certificates = []tls.Certificate{cert}
	}
	return credentials.NewTLS(tc), nil
}

// Protocol returns "grpc".
func (a *Adapter) Protocol() string { return Protocol }

// Close closes the channel. Later calls return the first result.
func (a *Adapter) Close() error {
	a.closeOnce.Do(func() {
		if err := a.conn.Close(); err != nil {
			a.closeErr = objerr.Wrap(objerr.Connection, err, "closing grpc channel")
		}
	})
	return a.closeErr
}

// callContext applies the per-call deadline and request metadata.
func (a *Adapter) callContext(ctx context.Context) (context.Context, context.CancelFunc) {
	md := []string{"x-request-id", uid.RequestID()}
	if a.token != "" {
		md = append(md, "authorization", "Bearer "+a.token)
	}
	ctx = metadata.AppendToOutgoingContext(ctx, md...)
	if a.timeout > 0 {
		return context.WithTimeout(ctx, a.timeout)
	}
	return context.WithCancel(ctx)
}

func invoke[Res any](ctx context.Context, a *Adapter, method string, req any) (*Res, error) {
	ctx, cancel := a.callContext(ctx)
	defer cancel()
	out := new(Res)
	start := time.Now()
	err := a.conn.Invoke(ctx, FullMethod(method), req, out, a.callOpts...)
	a.log.Debug("grpc call", "method", method, "duration", time.Since(start), "error", err)
	if err != nil {
		return nil, FromStatus(err)
	}
	return out, nil
}

func checkAck(ack Ack, fallback string) error {
	if ack.Success {
		return nil
	}
	return objerr.New(objerr.Server, messageOr(ack.Message, fallback))
}

func messageOr(msg, fallback string) string {
	if msg != "" {
		return msg
	}
	return fallback
}

// Put uploads body in one message.
func (a *Adapter) Put(ctx context.Context, key string, body io.Reader, md *model.Metadata) (*model.PutResult, error) {
	if err := model.ValidateKey(key); err != nil {
		return nil, err
	}
	var data []byte
	if body != nil {
		var err error
		if data, err = io.ReadAll(body); err != nil {
			return nil, objerr.Wrap(objerr.Validation, err, "reading upload body")
		}
	}
	out, err := invoke[PutResponse](ctx, a, MethodPut, &PutRequest{Key: key, Data: data, Metadata: md})
	if err != nil {
		return nil, err
	}
	if err := checkAck(out.Ack, "put failed"); err != nil {
		return nil, err
	}
	return &model.PutResult{
		Success: true,
		Message: messageOr(out.Message, "object uploaded successfully"),
		ETag:    model.String(out.ETag),
	}, nil
}

// Get downloads the whole object over the Get stream.
func (a *Adapter) Get(ctx context.Context, key string) ([]byte, *model.Metadata, error) {
	it, err := a.openStream(ctx, key)
	if err != nil {
		return nil, nil, err
	}
	defer it.Close()

	var buf bytes.Buffer
	for {
		chunk, err := it.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		buf.Write(chunk)
	}
	md := it.metadata()
	if md == nil {
		md = &model.Metadata{}
	}
	if md.Size == nil {
		md.Size = model.Int64(int64(buf.Len()))
	}
	return buf.Bytes(), md, nil
}

// GetStream opens the Get stream. The first message is read before
// returning so that a missing key fails here rather than on Next.
func (a *Adapter) GetStream(ctx context.Context, key string) (transport.ChunkIterator, error) {
	it, err := a.openStream(ctx, key)
	if err != nil {
		return nil, err
	}
	return it, nil
}

func (a *Adapter) openStream(ctx context.Context, key string) (*chunkStream, error) {
	if err := model.ValidateKey(key); err != nil {
		return nil, err
	}
	sctx, cancel := a.callContext(ctx)
	stream, err := a.conn.NewStream(sctx, &getStreamDesc, FullMethod(MethodGet), a.callOpts...)
	if err != nil {
		cancel()
		return nil, FromStatus(err)
	}
	if err := stream.SendMsg(&KeyRequest{Key: key}); err != nil && !errors.Is(err, io.EOF) {
		cancel()
		return nil, FromStatus(err)
	}
	if err := stream.CloseSend(); err != nil {
		cancel()
		return nil, FromStatus(err)
	}

	cs := &chunkStream{stream: stream, cancel: cancel}
	first := new(GetChunk)
	switch err := stream.RecvMsg(first); {
	case errors.Is(err, io.EOF):
		cs.release()
		return cs, nil
	case err != nil:
		cs.release()
		return nil, FromStatus(err)
	}
	cs.accept(first)
	return cs, nil
}

// chunkStream re-chunks Get messages to at most transport.ChunkSize bytes.
type chunkStream struct {
	mu      sync.Mutex
	stream  grpc.ClientStream
	cancel  context.CancelFunc
	pending []byte
	md      *model.Metadata
	done    bool
}

// accept queues msg's data and keeps the first metadata the server sends,
// whichever message carries it.
func (s *chunkStream) accept(msg *GetChunk) {
	s.pending = msg.Data
	if s.md == nil && msg.Metadata != nil {
		s.md = msg.Metadata
	}
}

func (s *chunkStream) metadata() *model.Metadata {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.md
}

func (s *chunkStream) Next(_ context.Context) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for len(s.pending) == 0 {
		if s.done {
			return nil, io.EOF
		}
		msg := new(GetChunk)
		if err := s.stream.RecvMsg(msg); err != nil {
			s.release()
			if errors.Is(err, io.EOF) {
				return nil, io.EOF
			}
			return nil, FromStatus(err)
		}
		s.accept(msg)
	}
	n := min(len(s.pending), transport.ChunkSize)
	chunk := make([]byte, n)
	copy(chunk, s.pending[:n])
	s.pending = s.pending[n:]
	metrics.StreamBytesTotal.WithLabelValues(Protocol).Add(float64(n))
	return chunk, nil
}

func (s *chunkStream) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = nil
	s.release()
	return nil
}

func (s *chunkStream) release() {
	if !s.done {
		s.done = true
		s.cancel()
	}
}

// Delete removes key.
func (a *Adapter) Delete(ctx context.Context, key string) (*model.DeleteResult, error) {
	if err := model.ValidateKey(key); err != nil {
		return nil, err
	}
	out, err := invoke[Ack](ctx, a, MethodDelete, &KeyRequest{Key: key})
	if err != nil {
		return nil, err
	}
	if err := checkAck(*out, "delete failed"); err != nil {
		return nil, err
	}
	return &model.DeleteResult{Success: true, Message: messageOr(out.Message, "object deleted successfully")}, nil
}

// Exists asks the server directly. A NotFound status means false.
func (a *Adapter) Exists(ctx context.Context, key string) (bool, error) {
	if err := model.ValidateKey(key); err != nil {
		return false, err
	}
	out, err := invoke[ExistsResponse](ctx, a, MethodExists, &KeyRequest{Key: key})
	if err != nil {
		if objerr.KindOf(err) == objerr.NotFound {
			return false, nil
		}
		return false, err
	}
	return out.Exists, nil
}

// List returns one page of keys.
func (a *Adapter) List(ctx context.Context, opts model.ListOptions) (*model.ListResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	out, err := invoke[ListResponse](ctx, a, MethodList, &ListRequest{
		Prefix:            opts.Prefix,
		Delimiter:         opts.Delimiter,
		MaxResults:        opts.MaxResults,
		ContinuationToken: opts.ContinuationToken,
	})
	if err != nil {
		return nil, err
	}
	objects := out.Objects
	if objects == nil {
		objects = []model.ObjectInfo{}
	}
	return &model.ListResult{
		Objects:        objects,
		CommonPrefixes: out.CommonPrefixes,
		NextToken:      out.NextToken,
		Truncated:      out.Truncated,
	}, nil
}

// GetMetadata fetches metadata without the body.
func (a *Adapter) GetMetadata(ctx context.Context, key string) (*model.Metadata, error) {
	if err := model.ValidateKey(key); err != nil {
		return nil, err
	}
	out, err := invoke[MetadataResponse](ctx, a, MethodGetMetadata, &KeyRequest{Key: key})
	if err != nil {
		return nil, err
	}
	if out.Metadata == nil {
		return &model.Metadata{}, nil
	}
	return out.Metadata, nil
}

// UpdateMetadata replaces an object's metadata.
func (a *Adapter) UpdateMetadata(ctx context.Context, key string, md *model.Metadata) (*model.PolicyResult, error) {
	if err := model.ValidateKey(key); err != nil {
		return nil, err
	}
	if md == nil {
		return nil, objerr.New(objerr.Validation, "metadata cannot be nil")
	}
	out, err := invoke[Ack](ctx, a, MethodUpdateMetadata, &UpdateMetadataRequest{Key: key, Metadata: md})
	if err != nil {
		return nil, err
	}
	if err := checkAck(*out, "metadata update failed"); err != nil {
		return nil, err
	}
	return &model.PolicyResult{Success: true, Message: messageOr(out.Message, "metadata updated successfully")}, nil
}

// Health probes the service.
func (a *Adapter) Health(ctx context.Context) (*model.HealthResult, error) {
	out, err := invoke[HealthResponse](ctx, a, MethodHealth, &Empty{})
	if err != nil {
		return nil, err
	}
	return &model.HealthResult{Status: model.ParseHealthStatus(out.Status), Message: out.Message}, nil
}

// Archive asks the service to copy key to another backend.
func (a *Adapter) Archive(ctx context.Context, key, destinationType string, settings map[string]string) (*model.ArchiveResult, error) {
	if err := model.ValidateKey(key); err != nil {
		return nil, err
	}
	if destinationType == "" {
		return nil, objerr.New(objerr.Validation, "destination type cannot be empty")
	}
	out, err := invoke[Ack](ctx, a, MethodArchive, &ArchiveRequest{
		Key:                 key,
		DestinationType:     destinationType,
		DestinationSettings: settings,
	})
	if err != nil {
		return nil, err
	}
	if err := checkAck(*out, "archive failed"); err != nil {
		return nil, err
	}
	return &model.ArchiveResult{Success: true, Message: messageOr(out.Message, "object archived successfully")}, nil
}

func (a *Adapter) policyCall(ctx context.Context, method string, req any, ok string) (*model.PolicyResult, error) {
	out, err := invoke[Ack](ctx, a, method, req)
	if err != nil {
		return nil, err
	}
	if err := checkAck(*out, method+" failed"); err != nil {
		return nil, err
	}
	return &model.PolicyResult{Success: true, Message: messageOr(out.Message, ok)}, nil
}

// AddPolicy registers a lifecycle policy.
func (a *Adapter) AddPolicy(ctx context.Context, policy model.LifecyclePolicy) (*model.PolicyResult, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return a.policyCall(ctx, MethodAddPolicy, &AddPolicyRequest{Policy: policy}, "policy added successfully")
}

// RemovePolicy deletes a lifecycle policy.
func (a *Adapter) RemovePolicy(ctx context.Context, id string) (*model.PolicyResult, error) {
	if err := model.ValidatePolicyID(id); err != nil {
		return nil, err
	}
	return a.policyCall(ctx, MethodRemovePolicy, &IDRequest{ID: id}, "policy removed successfully")
}

// GetPolicies lists lifecycle policies.
func (a *Adapter) GetPolicies(ctx context.Context, prefix string) ([]model.LifecyclePolicy, error) {
	out, err := invoke[PoliciesResponse](ctx, a, MethodGetPolicies, &PrefixRequest{Prefix: prefix})
	if err != nil {
		return nil, err
	}
	if out.Policies == nil {
		return []model.LifecyclePolicy{}, nil
	}
	return out.Policies, nil
}

// ApplyPolicies runs every lifecycle policy once.
func (a *Adapter) ApplyPolicies(ctx context.Context) (*model.ApplyPoliciesResult, error) {
	out, err := invoke[ApplyPoliciesResponse](ctx, a, MethodApplyPolicies, &Empty{})
	if err != nil {
		return nil, err
	}
	if err := checkAck(out.Ack, "apply policies failed"); err != nil {
		return nil, err
	}
	return &model.ApplyPoliciesResult{
		Success:          true,
		PoliciesCount:    out.PoliciesCount,
		ObjectsProcessed: out.ObjectsProcessed,
		Message:          messageOr(out.Message, "policies applied successfully"),
	}, nil
}

// AddReplicationPolicy registers a replication policy.
func (a *Adapter) AddReplicationPolicy(ctx context.Context, policy model.ReplicationPolicy) (*model.PolicyResult, error) {
	policy.Normalize()
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	return a.policyCall(ctx, MethodAddReplicationPolicy, &AddReplicationPolicyRequest{Policy: policy},
		"replication policy added successfully")
}

// RemoveReplicationPolicy deletes a replication policy.
func (a *Adapter) RemoveReplicationPolicy(ctx context.Context, id string) (*model.PolicyResult, error) {
	if err := model.ValidatePolicyID(id); err != nil {
		return nil, err
	}
	return a.policyCall(ctx, MethodRemoveReplicationPolicy, &IDRequest{ID: id}, "replication policy removed successfully")
}

// GetReplicationPolicies lists replication policies.
func (a *Adapter) GetReplicationPolicies(ctx context.Context) ([]model.ReplicationPolicy, error) {
	out, err := invoke[ReplicationPoliciesResponse](ctx, a, MethodGetReplicationPolicies, &Empty{})
	if err != nil {
		return nil, err
	}
	if out.Policies == nil {
		return []model.ReplicationPolicy{}, nil
	}
	return out.Policies, nil
}

// GetReplicationPolicy fetches one replication policy.
func (a *Adapter) GetReplicationPolicy(ctx context.Context, id string) (*model.ReplicationPolicy, error) {
	if err := model.ValidatePolicyID(id); err != nil {
		return nil, err
	}
	out, err := invoke[ReplicationPolicyResponse](ctx, a, MethodGetReplicationPolicy, &IDRequest{ID: id})
	if err != nil {
		return nil, err
	}
	if out.Policy == nil {
		return nil, objerr.New(objerr.NotFound, "replication policy not found: "+id)
	}
	return out.Policy, nil
}

// TriggerReplication runs a replication policy now.
func (a *Adapter) TriggerReplication(ctx context.Context, opts model.TriggerOptions) (*model.SyncResult, error) {
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	out, err := invoke[TriggerResponse](ctx, a, MethodTriggerReplication, &opts)
	if err != nil {
		return nil, err
	}
	if out.Result == nil {
		return &model.SyncResult{PolicyID: opts.PolicyID}, nil
	}
	return out.Result, nil
}

// GetReplicationStatus fetches cumulative counters for a policy.
func (a *Adapter) GetReplicationStatus(ctx context.Context, id string) (*model.ReplicationStatus, error) {
	if err := model.ValidatePolicyID(id); err != nil {
		return nil, err
	}
	out, err := invoke[ReplicationStatusResponse](ctx, a, MethodGetReplicationStatus, &IDRequest{ID: id})
	if err != nil {
		return nil, err
	}
	if out.Status == nil {
		return nil, objerr.New(objerr.NotFound, "replication status not found: "+id)
	}
	return out.Status, nil
}
