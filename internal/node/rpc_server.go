package node

import (
	"context"
	"errors"

	"github.com/cocaine-go/cocained/internal/engine"
	"github.com/cocaine-go/cocained/internal/rpc"
	"github.com/cocaine-go/cocained/internal/storage"
)

// RPCServer adapts a Node to rpc.NodeServiceServer, grounded on the
// teacher's internal/server.Server: a thin translation layer between wire
// request/response types and the domain object's own methods.
type RPCServer struct {
	node *Node
}

// NewRPCServer wraps node for gRPC registration via rpc.RegisterNodeServiceServer.
func NewRPCServer(node *Node) *RPCServer {
	return &RPCServer{node: node}
}

func (s *RPCServer) StartApp(ctx context.Context, req *rpc.StartAppRequest) (*rpc.StartAppResponse, error) {
	if err := s.node.StartApp(ctx, req.App, req.Profile); err != nil {
		return &rpc.StartAppResponse{Success: false, Error: errorKind(err)}, nil
	}
	return &rpc.StartAppResponse{Success: true}, nil
}

func (s *RPCServer) PauseApp(ctx context.Context, req *rpc.PauseAppRequest) (*rpc.PauseAppResponse, error) {
	if err := s.node.PauseApp(req.App); err != nil {
		return &rpc.PauseAppResponse{Success: false, Error: errorKind(err)}, nil
	}
	return &rpc.PauseAppResponse{Success: true}, nil
}

func (s *RPCServer) List(ctx context.Context, req *rpc.ListRequest) (*rpc.ListResponse, error) {
	summaries := make([]rpc.AppSummary, 0, len(s.node.List()))
	for _, name := range s.node.List() {
		a, ok := s.node.App(name)
		if !ok {
			continue
		}
		summary := rpc.AppSummary{App: name}
		if engineInfo, ok := a.Info()["engine"].(engine.Info); ok {
			summary.PoolSize = engineInfo.Slaves.Idle + engineInfo.Slaves.Busy + engineInfo.Slaves.Spawning + engineInfo.Slaves.Terminating
			summary.QueueDepth = engineInfo.QueueDepth
		}
		summaries = append(summaries, summary)
	}
	return &rpc.ListResponse{Apps: summaries}, nil
}

// errorKind maps a Node error to the control-plane error kind strings used
// at the RPC boundary (spec.md §7). Anything not recognized as one of the
// admission/control-plane sentinels is an uncaught invariant violation and
// must not leak its raw Go error string across the wire.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrNotLeader):
		return rpc.ErrorKindNotLeader
	case errors.Is(err, ErrAlreadyRunning):
		return rpc.ErrorKindAlreadyExist
	case errors.Is(err, ErrNotRunning):
		return rpc.ErrorKindNotFound
	case errors.Is(err, storage.ErrNotFound):
		return rpc.ErrorKindManifestNotFound
	default:
		return rpc.ErrorKindInternal
	}
}
