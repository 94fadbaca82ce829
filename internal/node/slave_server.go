package node

import (
	"fmt"

	"github.com/cocaine-go/cocained/internal/rpc"
	"google.golang.org/grpc/metadata"
)

// SlaveServer accepts the single bidirectional stream each spawned slave
// process dials back with, routing it to the right running App by the
// "app" and "uuid" gRPC metadata the worker attaches to the call (set from
// the isolate.Spec the engine spawned it with). Grounded on the teacher's
// internal/server.Server, which similarly read a worker's self-reported
// NodeID off the request to route PollJobs/AcknowledgeJob.
type SlaveServer struct {
	node *Node
}

// NewSlaveServer wraps node for gRPC registration via
// rpc.RegisterSlaveServiceServer.
func NewSlaveServer(node *Node) *SlaveServer {
	return &SlaveServer{node: node}
}

func (s *SlaveServer) Channel(stream rpc.SlaveService_ChannelServer) error {
	md, ok := metadata.FromIncomingContext(stream.Context())
	if !ok {
		return fmt.Errorf("node: slave channel missing metadata")
	}

	appName := firstValue(md, "app")
	uuid := firstValue(md, "uuid")
	if appName == "" || uuid == "" {
		return fmt.Errorf("node: slave channel missing app/uuid metadata")
	}

	a, ok := s.node.App(appName)
	if !ok {
		return fmt.Errorf("node: no running app %q for attaching slave %q", appName, uuid)
	}

	ch := rpc.NewServerChannel(stream)
	if err := a.AttachSlave(uuid, ch); err != nil {
		return err
	}

	// The stream's lifetime is the slave's lifetime: block until the
	// engine/slave side closes it or the client disconnects.
	<-stream.Context().Done()
	return stream.Context().Err()
}

func firstValue(md metadata.MD, key string) string {
	values := md.Get(key)
	if len(values) == 0 {
		return ""
	}
	return values[0]
}
