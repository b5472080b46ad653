package refserver

import (
	"context"
	"log/slog"
	"strings"
	"sync/atomic"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"

	"github.com/bleepstore/objstore/internal/metrics"
	"github.com/bleepstore/objstore/internal/transport/rpc"
	objerr "github.com/bleepstore/objstore/pkg/errors"
	"github.com/bleepstore/objstore/pkg/model"
)

// getChunkSize is the payload size of each Get stream message.
const getChunkSize = 32 * 1024

// GRPCOptions configures the gRPC front end.
type GRPCOptions struct {
	AuthToken string
	Logger    *slog.Logger
	// ServerOptions are appended after the interceptors.
	ServerOptions []grpc.ServerOption
}

// GRPCServer implements rpc.ObjectStoreServer over a Service.
type GRPCServer struct {
	svc *Service
	log *slog.Logger

	activeStreams atomic.Int64
}

var _ rpc.ObjectStoreServer = (*GRPCServer)(nil)

// NewGRPCServer returns a grpc.Server with the object store registered and
// the auth and metrics interceptors installed.
func NewGRPCServer(svc *Service, opts GRPCOptions) (*grpc.Server, *GRPCServer) {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	impl := &GRPCServer{svc: svc, log: log}
	auth := tokenCheck(opts.AuthToken)

	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
				if err := auth(ctx, info.FullMethod); err != nil {
					countRPC(info.FullMethod, err)
					return nil, err
				}
				resp, err := handler(ctx, req)
				err = rpc.ToStatus(err)
				countRPC(info.FullMethod, err)
				return resp, err
			},
		),
		grpc.ChainStreamInterceptor(
			func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
				if err := auth(ss.Context(), info.FullMethod); err != nil {
					countRPC(info.FullMethod, err)
					return err
				}
				err := rpc.ToStatus(handler(srv, ss))
				countRPC(info.FullMethod, err)
				return err
			},
		),
	}
	s := grpc.NewServer(append(serverOpts, opts.ServerOptions...)...)
	rpc.RegisterObjectStoreServer(s, impl)
	return s, impl
}

// ActiveStreams reports Get streams currently being served.
func (g *GRPCServer) ActiveStreams() int64 { return g.activeStreams.Load() }

func tokenCheck(token string) func(ctx context.Context, method string) error {
	healthMethod := rpc.FullMethod(rpc.MethodHealth)
	return func(ctx context.Context, method string) error {
		if token == "" || method == healthMethod {
			return nil
		}
		md, _ := metadata.FromIncomingContext(ctx)
		for _, v := range md.Get("authorization") {
			if v == "Bearer "+token {
				return nil
			}
		}
		return status.Error(codes.Unauthenticated, "missing or invalid bearer token")
	}
}

func countRPC(fullMethod string, err error) {
	method := fullMethod[strings.LastIndex(fullMethod, "/")+1:]
	metrics.RPCRequestsTotal.WithLabelValues(method, status.Code(err).String()).Inc()
}

func (g *GRPCServer) Put(ctx context.Context, req *rpc.PutRequest) (*rpc.PutResponse, error) {
	obj, err := g.svc.Put(ctx, req.Key, req.Data, req.Metadata)
	if err != nil {
		return nil, err
	}
	return &rpc.PutResponse{Ack: rpc.Ack{Success: true, Message: "object uploaded successfully"}, ETag: obj.ETag}, nil
}

// Get streams the object in fixed-size messages. The first message carries
// the metadata; an empty object is a single metadata-only message.
func (g *GRPCServer) Get(req *rpc.KeyRequest, stream grpc.ServerStreamingServer[rpc.GetChunk]) error {
	g.activeStreams.Add(1)
	defer g.activeStreams.Add(-1)

	obj, err := g.svc.Get(stream.Context(), req.Key)
	if err != nil {
		return err
	}
	data := obj.Data
	first := &rpc.GetChunk{Metadata: obj.Metadata()}
	n := min(len(data), getChunkSize)
	first.Data, data = data[:n], data[n:]
	if err := stream.Send(first); err != nil {
		return err
	}
	for len(data) > 0 {
		if err := stream.Context().Err(); err != nil {
			return objerr.FromTransport(err)
		}
		n := min(len(data), getChunkSize)
		if err := stream.Send(&rpc.GetChunk{Data: data[:n]}); err != nil {
			return err
		}
		data = data[n:]
	}
	return nil
}

func (g *GRPCServer) Delete(ctx context.Context, req *rpc.KeyRequest) (*rpc.Ack, error) {
	if err := g.svc.Delete(ctx, req.Key); err != nil {
		return nil, err
	}
	return &rpc.Ack{Success: true, Message: "object deleted successfully"}, nil
}

func (g *GRPCServer) Exists(ctx context.Context, req *rpc.KeyRequest) (*rpc.ExistsResponse, error) {
	_, err := g.svc.Head(ctx, req.Key)
	switch {
	case err == nil:
		return &rpc.ExistsResponse{Exists: true}, nil
	case objerr.KindOf(err) == objerr.NotFound:
		return &rpc.ExistsResponse{Exists: false}, nil
	default:
		return nil, err
	}
}

func (g *GRPCServer) List(ctx context.Context, req *rpc.ListRequest) (*rpc.ListResponse, error) {
	res, err := g.svc.List(ctx, ListOptions{
		Prefix:     req.Prefix,
		Delimiter:  req.Delimiter,
		MaxKeys:    req.MaxResults,
		StartAfter: req.ContinuationToken,
	})
	if err != nil {
		return nil, err
	}
	out := &rpc.ListResponse{
		Objects:        make([]model.ObjectInfo, 0, len(res.Objects)),
		CommonPrefixes: res.CommonPrefixes,
		Truncated:      res.Truncated,
	}
	if res.NextToken != "" {
		out.NextToken = model.String(res.NextToken)
	}
	for i := range res.Objects {
		out.Objects = append(out.Objects, model.ObjectInfo{Key: res.Objects[i].Key, Metadata: res.Objects[i].Metadata()})
	}
	return out, nil
}

func (g *GRPCServer) GetMetadata(ctx context.Context, req *rpc.KeyRequest) (*rpc.MetadataResponse, error) {
	obj, err := g.svc.Head(ctx, req.Key)
	if err != nil {
		return nil, err
	}
	return &rpc.MetadataResponse{Metadata: obj.Metadata()}, nil
}

func (g *GRPCServer) UpdateMetadata(ctx context.Context, req *rpc.UpdateMetadataRequest) (*rpc.Ack, error) {
	md := req.Metadata
	if md == nil {
		md = &model.Metadata{}
	}
	if err := g.svc.UpdateMetadata(ctx, req.Key, md); err != nil {
		return nil, err
	}
	return &rpc.Ack{Success: true, Message: "metadata updated successfully"}, nil
}

func (g *GRPCServer) Health(ctx context.Context, _ *rpc.Empty) (*rpc.HealthResponse, error) {
	st, msg := g.svc.Health(ctx)
	return &rpc.HealthResponse{Status: st.String(), Message: msg}, nil
}

func (g *GRPCServer) Archive(ctx context.Context, req *rpc.ArchiveRequest) (*rpc.Ack, error) {
	if err := g.svc.Archive(ctx, req.Key, req.DestinationType, req.DestinationSettings); err != nil {
		return nil, err
	}
	return &rpc.Ack{Success: true, Message: "object archived successfully"}, nil
}

func (g *GRPCServer) AddPolicy(ctx context.Context, req *rpc.AddPolicyRequest) (*rpc.Ack, error) {
	if err := g.svc.AddPolicy(ctx, req.Policy); err != nil {
		return nil, err
	}
	return &rpc.Ack{Success: true, Message: "policy added successfully"}, nil
}

func (g *GRPCServer) RemovePolicy(ctx context.Context, req *rpc.IDRequest) (*rpc.Ack, error) {
	if err := g.svc.RemovePolicy(ctx, req.ID); err != nil {
		return nil, err
	}
	return &rpc.Ack{Success: true, Message: "policy removed successfully"}, nil
}

func (g *GRPCServer) GetPolicies(ctx context.Context, req *rpc.PrefixRequest) (*rpc.PoliciesResponse, error) {
	policies, err := g.svc.Policies(ctx, req.Prefix)
	if err != nil {
		return nil, err
	}
	return &rpc.PoliciesResponse{Policies: policies}, nil
}

func (g *GRPCServer) ApplyPolicies(ctx context.Context, _ *rpc.Empty) (*rpc.ApplyPoliciesResponse, error) {
	n, processed, err := g.svc.ApplyPolicies(ctx)
	if err != nil {
		return nil, err
	}
	return &rpc.ApplyPoliciesResponse{
		Ack:              rpc.Ack{Success: true, Message: "policies applied successfully"},
		PoliciesCount:    n,
		ObjectsProcessed: processed,
	}, nil
}

func (g *GRPCServer) AddReplicationPolicy(ctx context.Context, req *rpc.AddReplicationPolicyRequest) (*rpc.Ack, error) {
	if err := g.svc.AddReplicationPolicy(ctx, req.Policy); err != nil {
		return nil, err
	}
	return &rpc.Ack{Success: true, Message: "replication policy added successfully"}, nil
}

func (g *GRPCServer) RemoveReplicationPolicy(ctx context.Context, req *rpc.IDRequest) (*rpc.Ack, error) {
	if err := g.svc.RemoveReplicationPolicy(ctx, req.ID); err != nil {
		return nil, err
	}
	return &rpc.Ack{Success: true, Message: "replication policy removed successfully"}, nil
}

func (g *GRPCServer) GetReplicationPolicies(ctx context.Context, _ *rpc.Empty) (*rpc.ReplicationPoliciesResponse, error) {
	policies, err := g.svc.ReplicationPolicies(ctx)
	if err != nil {
		return nil, err
	}
	return &rpc.ReplicationPoliciesResponse{Policies: policies}, nil
}

func (g *GRPCServer) GetReplicationPolicy(ctx context.Context, req *rpc.IDRequest) (*rpc.ReplicationPolicyResponse, error) {
	p, err := g.svc.ReplicationPolicy(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &rpc.ReplicationPolicyResponse{Policy: p}, nil
}

func (g *GRPCServer) TriggerReplication(ctx context.Context, req *model.TriggerOptions) (*rpc.TriggerResponse, error) {
	res, err := g.svc.TriggerReplication(ctx, *req)
	if err != nil {
		return nil, err
	}
	return &rpc.TriggerResponse{Result: res}, nil
}

func (g *GRPCServer) GetReplicationStatus(ctx context.Context, req *rpc.IDRequest) (*rpc.ReplicationStatusResponse, error) {
	st, err := g.svc.ReplicationStatus(ctx, req.ID)
	if err != nil {
		return nil, err
	}
	return &rpc.ReplicationStatusResponse{Status: st}, nil
}
