package node

import (
	"context"
	"testing"

	"github.com/cocaine-go/cocained/internal/isolate"
	"github.com/cocaine-go/cocained/internal/rpc"
	"github.com/cocaine-go/cocained/internal/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/metadata"
)

// fakeChannelServer implements rpc.SlaveService_ChannelServer enough to
// drive SlaveServer.Channel's metadata-routing logic, without a real gRPC
// transport underneath.
type fakeChannelServer struct {
	grpc.ServerStream
	ctx context.Context
}

func (f *fakeChannelServer) Context() context.Context { return f.ctx }
func (f *fakeChannelServer) Send(*rpc.Frame) error     { return nil }
func (f *fakeChannelServer) Recv() (*rpc.Frame, error) { return nil, context.Canceled }

func TestSlaveServerChannelRejectsMissingMetadata(t *testing.T) {
	n := New(storage.NewMemory(), isolate.NewFakeIsolate(), "", nil)
	s := NewSlaveServer(n)

	err := s.Channel(&fakeChannelServer{ctx: context.Background()})
	assert.Error(t, err)
}

func TestSlaveServerChannelRejectsMissingAppOrUUID(t *testing.T) {
	n := New(storage.NewMemory(), isolate.NewFakeIsolate(), "", nil)
	s := NewSlaveServer(n)

	md := metadata.Pairs("app", "echo")
	ctx := metadata.NewIncomingContext(context.Background(), md)
	err := s.Channel(&fakeChannelServer{ctx: ctx})
	assert.Error(t, err)
}

func TestSlaveServerChannelRejectsUnknownApp(t *testing.T) {
	n := New(storage.NewMemory(), isolate.NewFakeIsolate(), "", nil)
	s := NewSlaveServer(n)

	md := metadata.Pairs("app", "echo", "uuid", "echo-0")
	ctx := metadata.NewIncomingContext(context.Background(), md)
	err := s.Channel(&fakeChannelServer{ctx: ctx})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no running app")
}
