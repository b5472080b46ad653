package rpc

import (
	"context"

	"google.golang.org/grpc"

	"github.com/bleepstore/objstore/pkg/model"
)

// ServiceName is the fully-qualified gRPC service name.
const ServiceName = "objstore.v1.ObjectStore"

// Method names.
const (
	MethodPut                     = "Put"
	MethodGet                     = "Get"
	MethodDelete                  = "Delete"
	MethodExists                  = "Exists"
	MethodList                    = "List"
	MethodGetMetadata             = "GetMetadata"
	MethodUpdateMetadata          = "UpdateMetadata"
	MethodHealth                  = "Health"
	MethodArchive                 = "Archive"
	MethodAddPolicy               = "AddPolicy"
	MethodRemovePolicy            = "RemovePolicy"
	MethodGetPolicies             = "GetPolicies"
	MethodApplyPolicies           = "ApplyPolicies"
	MethodAddReplicationPolicy    = "AddReplicationPolicy"
	MethodRemoveReplicationPolicy = "RemoveReplicationPolicy"
	MethodGetReplicationPolicies  = "GetReplicationPolicies"
	MethodGetReplicationPolicy    = "GetReplicationPolicy"
	MethodTriggerReplication      = "TriggerReplication"
	MethodGetReplicationStatus    = "GetReplicationStatus"
)

// FullMethod returns "/objstore.v1.ObjectStore/<method>".
func FullMethod(method string) string {
	return "/" + ServiceName + "/" + method
}

// ObjectStoreServer is the server side of the service.
type ObjectStoreServer interface {
	Put(context.Context, *PutRequest) (*PutResponse, error)
	Get(*KeyRequest, grpc.ServerStreamingServer[GetChunk]) error
	Delete(context.Context, *KeyRequest) (*Ack, error)
	Exists(context.Context, *KeyRequest) (*ExistsResponse, error)
	List(context.Context, *ListRequest) (*ListResponse, error)
	GetMetadata(context.Context, *KeyRequest) (*MetadataResponse, error)
	UpdateMetadata(context.Context, *UpdateMetadataRequest) (*Ack, error)
	Health(context.Context, *Empty) (*HealthResponse, error)
	Archive(context.Context, *ArchiveRequest) (*Ack, error)
	AddPolicy(context.Context, *AddPolicyRequest) (*Ack, error)
	RemovePolicy(context.Context, *IDRequest) (*Ack, error)
	GetPolicies(context.Context, *PrefixRequest) (*PoliciesResponse, error)
	ApplyPolicies(context.Context, *Empty) (*ApplyPoliciesResponse, error)
	AddReplicationPolicy(context.Context, *AddReplicationPolicyRequest) (*Ack, error)
	RemoveReplicationPolicy(context.Context, *IDRequest) (*Ack, error)
	GetReplicationPolicies(context.Context, *Empty) (*ReplicationPoliciesResponse, error)
	GetReplicationPolicy(context.Context, *IDRequest) (*ReplicationPolicyResponse, error)
	TriggerReplication(context.Context, *model.TriggerOptions) (*TriggerResponse, error)
	GetReplicationStatus(context.Context, *IDRequest) (*ReplicationStatusResponse, error)
}

// RegisterObjectStoreServer registers srv on s.
func RegisterObjectStoreServer(s grpc.ServiceRegistrar, srv ObjectStoreServer) {
	s.RegisterService(&ServiceDesc, srv)
}

// ServiceDesc describes the service for grpc.Server.
var ServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*ObjectStoreServer)(nil),
	Methods: []grpc.MethodDesc{
		unary(MethodPut, ObjectStoreServer.Put),
		unary(MethodDelete, ObjectStoreServer.Delete),
		unary(MethodExists, ObjectStoreServer.Exists),
		unary(MethodList, ObjectStoreServer.List),
		unary(MethodGetMetadata, ObjectStoreServer.GetMetadata),
		unary(MethodUpdateMetadata, ObjectStoreServer.UpdateMetadata),
		unary(MethodHealth, ObjectStoreServer.Health),
		unary(MethodArchive, ObjectStoreServer.Archive),
		unary(MethodAddPolicy, ObjectStoreServer.AddPolicy),
		unary(MethodRemovePolicy, ObjectStoreServer.RemovePolicy),
		unary(MethodGetPolicies, ObjectStoreServer.GetPolicies),
		unary(MethodApplyPolicies, ObjectStoreServer.ApplyPolicies),
		unary(MethodAddReplicationPolicy, ObjectStoreServer.AddReplicationPolicy),
		unary(MethodRemoveReplicationPolicy, ObjectStoreServer.RemoveReplicationPolicy),
		unary(MethodGetReplicationPolicies, ObjectStoreServer.GetReplicationPolicies),
		unary(MethodGetReplicationPolicy, ObjectStoreServer.GetReplicationPolicy),
		unary(MethodTriggerReplication, ObjectStoreServer.TriggerReplication),
		unary(MethodGetReplicationStatus, ObjectStoreServer.GetReplicationStatus),
	},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    MethodGet,
			Handler:       getHandler,
			ServerStreams: true,
		},
	},
	Metadata: "objstore/v1/objstore.json",
}

// getStreamDesc is the client view of the Get stream.
var getStreamDesc = grpc.StreamDesc{StreamName: MethodGet, ServerStreams: true}

func getHandler(srv any, stream grpc.ServerStream) error {
	in := new(KeyRequest)
	if err := stream.RecvMsg(in); err != nil {
		return err
	}
	return srv.(ObjectStoreServer).Get(in, &grpc.GenericServerStream[KeyRequest, GetChunk]{ServerStream: stream})
}

// unary builds the MethodDesc for one request/response method.
func unary[Req, Res any](name string, call func(ObjectStoreServer, context.Context, *Req) (*Res, error)) grpc.MethodDesc {
	return grpc.MethodDesc{
		MethodName: name,
		Handler: func(srv any, ctx context.Context, dec func(any) error, interceptor grpc.UnaryServerInterceptor) (any, error) {
			in := new(Req)
			if err := dec(in); err != nil {
				return nil, err
			}
			if interceptor == nil {
				return call(srv.(ObjectStoreServer), ctx, in)
			}
			info := &grpc.UnaryServerInfo{Server: srv, FullMethod: FullMethod(name)}
			handler := func(ctx context.Context, req any) (any, error) {
				return call(srv.(ObjectStoreServer), ctx, req.(*Req))
			}
			return interceptor(ctx, in, info, handler)
		},
	}
}
