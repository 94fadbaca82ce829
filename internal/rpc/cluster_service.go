package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// RequestVoteRequest/Reply and AppendEntriesRequest/Reply are the two RPCs
// backing SPEC_FULL.md's cluster leader-election collaborator. Grounded on
// the teacher's internal/raft/transport.go GrpcTransport, which called the
// same two methods (there as pb.RequestVoteRequest/AppendEntriesRequest)
// against the queue's own protobuf service; here they get their own
// service since cluster membership is independent of the node/slave RPCs.
type RequestVoteRequest struct {
	Term        int64
	CandidateID string
}

type RequestVoteReply struct {
	Term        int64
	VoteGranted bool
}

type AppendEntriesRequest struct {
	Term     int64
	LeaderID string
}

type AppendEntriesReply struct {
	Term    int64
	Success bool
}

// ClusterServiceServer is the leader-election RPC surface.
type ClusterServiceServer interface {
	RequestVote(context.Context, *RequestVoteRequest) (*RequestVoteReply, error)
	AppendEntries(context.Context, *AppendEntriesRequest) (*AppendEntriesReply, error)
}

// ClusterServiceClient is the client side of ClusterServiceServer.
type ClusterServiceClient interface {
	RequestVote(ctx context.Context, in *RequestVoteRequest, opts ...grpc.CallOption) (*RequestVoteReply, error)
	AppendEntries(ctx context.Context, in *AppendEntriesRequest, opts ...grpc.CallOption) (*AppendEntriesReply, error)
}

type clusterServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewClusterServiceClient returns a ClusterServiceClient dialed against cc.
func NewClusterServiceClient(cc grpc.ClientConnInterface) ClusterServiceClient {
	return &clusterServiceClient{cc: cc}
}

func (c *clusterServiceClient) RequestVote(ctx context.Context, in *RequestVoteRequest, opts ...grpc.CallOption) (*RequestVoteReply, error) {
	out := new(RequestVoteReply)
	if err := c.cc.Invoke(ctx, "/cocained.ClusterService/RequestVote", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *clusterServiceClient) AppendEntries(ctx context.Context, in *AppendEntriesRequest, opts ...grpc.CallOption) (*AppendEntriesReply, error) {
	out := new(AppendEntriesReply)
	if err := c.cc.Invoke(ctx, "/cocained.ClusterService/AppendEntries", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _ClusterService_RequestVote_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(RequestVoteRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterServiceServer).RequestVote(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/cocained.ClusterService/RequestVote"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClusterServiceServer).RequestVote(ctx, req.(*RequestVoteRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _ClusterService_AppendEntries_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(AppendEntriesRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ClusterServiceServer).AppendEntries(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/cocained.ClusterService/AppendEntries"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ClusterServiceServer).AppendEntries(ctx, req.(*AppendEntriesRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// ClusterService_ServiceDesc is the grpc.ServiceDesc a protoc-gen-go-grpc
// would normally emit for this service.
var ClusterService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "cocained.ClusterService",
	HandlerType: (*ClusterServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "RequestVote", Handler: _ClusterService_RequestVote_Handler},
		{MethodName: "AppendEntries", Handler: _ClusterService_AppendEntries_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/rpc/cluster_service.go",
}

// RegisterClusterServiceServer registers srv on s.
func RegisterClusterServiceServer(s grpc.ServiceRegistrar, srv ClusterServiceServer) {
	s.RegisterService(&ClusterService_ServiceDesc, srv)
}
