package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// NodeServiceServer is the node's control-plane RPC surface: start_app,
// pause_app, list (spec.md §2). Grounded on the teacher's
// pb.FalconQueueServiceServer / internal/server.Server, generalized from
// one fixed job-queue service to the app registry operations this module
// implements.
type NodeServiceServer interface {
	StartApp(context.Context, *StartAppRequest) (*StartAppResponse, error)
	PauseApp(context.Context, *PauseAppRequest) (*PauseAppResponse, error)
	List(context.Context, *ListRequest) (*ListResponse, error)
}

// NodeServiceClient is the client side of NodeServiceServer.
type NodeServiceClient interface {
	StartApp(ctx context.Context, in *StartAppRequest, opts ...grpc.CallOption) (*StartAppResponse, error)
	PauseApp(ctx context.Context, in *PauseAppRequest, opts ...grpc.CallOption) (*PauseAppResponse, error)
	List(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ListResponse, error)
}

type nodeServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewNodeServiceClient returns a NodeServiceClient dialed against cc. Pass
// DialOption() to cc's dial options so calls use this package's codec.
func NewNodeServiceClient(cc grpc.ClientConnInterface) NodeServiceClient {
	return &nodeServiceClient{cc: cc}
}

func (c *nodeServiceClient) StartApp(ctx context.Context, in *StartAppRequest, opts ...grpc.CallOption) (*StartAppResponse, error) {
	out := new(StartAppResponse)
	if err := c.cc.Invoke(ctx, "/cocained.NodeService/StartApp", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *nodeServiceClient) PauseApp(ctx context.Context, in *PauseAppRequest, opts ...grpc.CallOption) (*PauseAppResponse, error) {
	out := new(PauseAppResponse)
	if err := c.cc.Invoke(ctx, "/cocained.NodeService/PauseApp", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *nodeServiceClient) List(ctx context.Context, in *ListRequest, opts ...grpc.CallOption) (*ListResponse, error) {
	out := new(ListResponse)
	if err := c.cc.Invoke(ctx, "/cocained.NodeService/List", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func _NodeService_StartApp_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StartAppRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServiceServer).StartApp(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/cocained.NodeService/StartApp"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServiceServer).StartApp(ctx, req.(*StartAppRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _NodeService_PauseApp_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(PauseAppRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServiceServer).PauseApp(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/cocained.NodeService/PauseApp"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServiceServer).PauseApp(ctx, req.(*PauseAppRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func _NodeService_List_Handler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ListRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(NodeServiceServer).List(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: "/cocained.NodeService/List"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(NodeServiceServer).List(ctx, req.(*ListRequest))
	}
	return interceptor(ctx, in, info, handler)
}

// NodeService_ServiceDesc is the grpc.ServiceDesc a protoc-gen-go-grpc
// would normally emit; hand-written here because this module carries no
// .proto file (see internal/rpc package doc).
var NodeService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "cocained.NodeService",
	HandlerType: (*NodeServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "StartApp", Handler: _NodeService_StartApp_Handler},
		{MethodName: "PauseApp", Handler: _NodeService_PauseApp_Handler},
		{MethodName: "List", Handler: _NodeService_List_Handler},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "internal/rpc/node_service.go",
}

// RegisterNodeServiceServer registers srv on s, mirroring the
// protoc-generated RegisterXxxServer helper.
func RegisterNodeServiceServer(s grpc.ServiceRegistrar, srv NodeServiceServer) {
	s.RegisterService(&NodeService_ServiceDesc, srv)
}
