package rpc

import (
	"context"

	"google.golang.org/grpc"
)

// SlaveServiceServer accepts one bidirectional Frame stream per slave
// connection. It is the gRPC realization of internal/transport.Channel,
// repurposing the teacher's PollJobs/AcknowledgeJob request/response pair
// into a single always-open stream: every frame the worker process would
// send over PollJobs becomes a Recv, every frame the engine pushes back
// (AcknowledgeJob's role) becomes a Send.
type SlaveServiceServer interface {
	Channel(stream SlaveService_ChannelServer) error
}

type SlaveService_ChannelServer interface {
	grpc.ServerStream
	Send(*Frame) error
	Recv() (*Frame, error)
}

type slaveServiceChannelServer struct {
	grpc.ServerStream
}

func (x *slaveServiceChannelServer) Send(m *Frame) error { return x.ServerStream.SendMsg(m) }

func (x *slaveServiceChannelServer) Recv() (*Frame, error) {
	m := new(Frame)
	if err := x.ServerStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}

func _SlaveService_Channel_Handler(srv interface{}, stream grpc.ServerStream) error {
	return srv.(SlaveServiceServer).Channel(&slaveServiceChannelServer{ServerStream: stream})
}

// SlaveService_ServiceDesc is the hand-written equivalent of the
// protoc-gen-go-grpc output for a single bidi-streaming RPC.
var SlaveService_ServiceDesc = grpc.ServiceDesc{
	ServiceName: "cocained.SlaveService",
	HandlerType: (*SlaveServiceServer)(nil),
	Methods:     []grpc.MethodDesc{},
	Streams: []grpc.StreamDesc{
		{
			StreamName:    "Channel",
			Handler:       _SlaveService_Channel_Handler,
			ServerStreams: true,
			ClientStreams: true,
		},
	},
	Metadata: "internal/rpc/slave_service.go",
}

// RegisterSlaveServiceServer registers srv on s.
func RegisterSlaveServiceServer(s grpc.ServiceRegistrar, srv SlaveServiceServer) {
	s.RegisterService(&SlaveService_ServiceDesc, srv)
}

// SlaveServiceClient is the client side dialed by the spawned worker
// process to open its frame channel back to the engine that spawned it.
type SlaveServiceClient interface {
	Channel(ctx context.Context, opts ...grpc.CallOption) (SlaveService_ChannelClient, error)
}

type SlaveService_ChannelClient interface {
	grpc.ClientStream
	Send(*Frame) error
	Recv() (*Frame, error)
}

type slaveServiceClient struct {
	cc grpc.ClientConnInterface
}

// NewSlaveServiceClient returns a SlaveServiceClient dialed against cc.
func NewSlaveServiceClient(cc grpc.ClientConnInterface) SlaveServiceClient {
	return &slaveServiceClient{cc: cc}
}

func (c *slaveServiceClient) Channel(ctx context.Context, opts ...grpc.CallOption) (SlaveService_ChannelClient, error) {
	stream, err := c.cc.NewStream(ctx, &SlaveService_ServiceDesc.Streams[0], "/cocained.SlaveService/Channel", opts...)
	if err != nil {
		return nil, err
	}
	return &slaveServiceChannelClient{ClientStream: stream}, nil
}

type slaveServiceChannelClient struct {
	grpc.ClientStream
}

func (x *slaveServiceChannelClient) Send(m *Frame) error { return x.ClientStream.SendMsg(m) }

func (x *slaveServiceChannelClient) Recv() (*Frame, error) {
	m := new(Frame)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
