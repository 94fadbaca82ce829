package cluster

import (
	"net"
	"testing"
	"time"

	"github.com/cocaine-go/cocained/internal/rpc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
)

// clusterNode is one real process's worth of cluster wiring: a listening
// gRPC server with ClusterService registered, and the GrpcTransport/Elector
// pair that dials its peers the same way internal/cli's runNode does.
type clusterNode struct {
	id      string
	server  *grpc.Server
	elector *Elector
}

func (n *clusterNode) stop() {
	n.elector.Stop()
	n.server.Stop()
}

// TestElectionConvergesOverRealGRPC drives two real gRPC-connected
// node-style processes through an election: each runs its own listener
// with ClusterService registered exactly as runNode wires it, and a
// GrpcTransport dialing the other over the network. elector_test.go only
// exercises the election state machine via an in-process fakeTransport,
// and runtime_test.go's only cluster case is a single-node "solo" cluster
// that self-elects without ever placing an RPC — neither would have caught
// ClusterService going unregistered on the gRPC server.
func TestElectionConvergesOverRealGRPC(t *testing.T) {
	// Peers must be known up front since each Elector's Config.Peers fixes
	// the cluster's quorum size, so both listeners are opened first and
	// their addresses collected before either node starts.
	lisA, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	lisB, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	peers := []string{lisA.Addr().String(), lisB.Addr().String()}

	nodeA := startNodeOn(t, lisA, peers)
	nodeB := startNodeOn(t, lisB, peers)
	defer nodeA.stop()
	defer nodeB.stop()

	nodeA.elector.Start()
	nodeB.elector.Start()

	require.Eventually(t, func() bool {
		leaders := 0
		if nodeA.elector.IsLeader() {
			leaders++
		}
		if nodeB.elector.IsLeader() {
			leaders++
		}
		return leaders == 1
	}, 3*time.Second, 10*time.Millisecond, "exactly one of the two real gRPC-connected replicas should converge on leadership")

	leader, follower := nodeA, nodeB
	if !nodeA.elector.IsLeader() {
		leader, follower = nodeB, nodeA
	}
	assert.Equal(t, leader.id, leader.elector.Leader())
	require.Eventually(t, func() bool {
		return follower.elector.Leader() == leader.id
	}, time.Second, 10*time.Millisecond, "the follower should learn the leader's id from a real AppendEntries heartbeat")
}

func startNodeOn(t *testing.T, lis net.Listener, peers []string) *clusterNode {
	t.Helper()

	id := lis.Addr().String()
	transport := NewGrpcTransport()
	elector := New(Config{
		ID:                id,
		Peers:             peers,
		ElectionTimeout:   80 * time.Millisecond,
		HeartbeatInterval: 20 * time.Millisecond,
	}, transport, nil)

	server := grpc.NewServer()
	rpc.RegisterClusterServiceServer(server, NewServer(elector))
	go server.Serve(lis)

	return &clusterNode{id: id, server: server, elector: elector}
}
