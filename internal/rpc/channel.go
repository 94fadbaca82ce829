package rpc

import (
	"context"
	"io"

	"github.com/cocaine-go/cocained/internal/transport"
)

// ServerChannel adapts a SlaveService_ChannelServer (the engine's side of
// one slave's stream) to internal/transport.Channel.
type ServerChannel struct {
	stream SlaveService_ChannelServer
}

func NewServerChannel(stream SlaveService_ChannelServer) *ServerChannel {
	return &ServerChannel{stream: stream}
}

func (c *ServerChannel) ReadFrame(ctx context.Context) (transport.Frame, error) {
	f, err := c.stream.Recv()
	if err != nil {
		if err == io.EOF {
			return transport.Frame{}, transport.ErrStreamEnd
		}
		return transport.Frame{}, err
	}
	return toTransportFrame(f), nil
}

func (c *ServerChannel) WriteFrame(ctx context.Context, f transport.Frame) error {
	return c.stream.Send(fromTransportFrame(f))
}

// Close is a no-op: the stream's lifetime is tied to the RPC handler
// returning, which the caller controls.
func (c *ServerChannel) Close() error { return nil }

// ClientChannel adapts a SlaveService_ChannelClient (the worker process's
// side) to internal/transport.Channel.
type ClientChannel struct {
	stream SlaveService_ChannelClient
}

func NewClientChannel(stream SlaveService_ChannelClient) *ClientChannel {
	return &ClientChannel{stream: stream}
}

func (c *ClientChannel) ReadFrame(ctx context.Context) (transport.Frame, error) {
	f, err := c.stream.Recv()
	if err != nil {
		if err == io.EOF {
			return transport.Frame{}, transport.ErrStreamEnd
		}
		return transport.Frame{}, err
	}
	return toTransportFrame(f), nil
}

func (c *ClientChannel) WriteFrame(ctx context.Context, f transport.Frame) error {
	return c.stream.Send(fromTransportFrame(f))
}

func (c *ClientChannel) Close() error {
	return c.stream.CloseSend()
}

func toTransportFrame(f *Frame) transport.Frame {
	return transport.Frame{
		Kind:    transport.FrameKind(f.Kind),
		Method:  f.Method,
		Payload: f.Payload,
		Code:    f.Code,
		Message: f.Message,
	}
}

func fromTransportFrame(f transport.Frame) *Frame {
	return &Frame{
		Kind:    string(f.Kind),
		Method:  f.Method,
		Payload: f.Payload,
		Code:    f.Code,
		Message: f.Message,
	}
}
