package cluster

import (
	"context"
	"fmt"
	"sync"

	"github.com/cocaine-go/cocained/internal/rpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

// GrpcTransport implements Transport over internal/rpc's ClusterService,
// grounded on the teacher's internal/raft.GrpcTransport: the same
// dial-and-cache-connections shape, pointed at this module's JSON-codec
// service instead of the teacher's protobuf one.
type GrpcTransport struct {
	mu    sync.Mutex
	conns map[string]*grpc.ClientConn
}

// NewGrpcTransport returns an empty, lazily-dialing transport.
func NewGrpcTransport() *GrpcTransport {
	return &GrpcTransport{conns: make(map[string]*grpc.ClientConn)}
}

func (t *GrpcTransport) client(peer string) (rpc.ClusterServiceClient, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if conn, ok := t.conns[peer]; ok {
		return rpc.NewClusterServiceClient(conn), nil
	}

	conn, err := grpc.NewClient(peer,
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		rpc.DialOption(),
	)
	if err != nil {
		return nil, fmt.Errorf("cluster: dial peer %s: %w", peer, err)
	}
	t.conns[peer] = conn
	return rpc.NewClusterServiceClient(conn), nil
}

func (t *GrpcTransport) RequestVote(ctx context.Context, peer string, term int64, candidateID string) (int64, bool, error) {
	client, err := t.client(peer)
	if err != nil {
		return 0, false, err
	}
	reply, err := client.RequestVote(ctx, &rpc.RequestVoteRequest{Term: term, CandidateID: candidateID})
	if err != nil {
		return 0, false, err
	}
	return reply.Term, reply.VoteGranted, nil
}

func (t *GrpcTransport) AppendEntries(ctx context.Context, peer string, term int64, leaderID string) (int64, bool, error) {
	client, err := t.client(peer)
	if err != nil {
		return 0, false, err
	}
	reply, err := client.AppendEntries(ctx, &rpc.AppendEntriesRequest{Term: term, LeaderID: leaderID})
	if err != nil {
		return 0, false, err
	}
	return reply.Term, reply.Success, nil
}

// Server adapts an Elector to rpc.ClusterServiceServer.
type Server struct {
	elector *Elector
}

func NewServer(e *Elector) *Server {
	return &Server{elector: e}
}

func (s *Server) RequestVote(ctx context.Context, req *rpc.RequestVoteRequest) (*rpc.RequestVoteReply, error) {
	term, granted := s.elector.RequestVote(req.Term, req.CandidateID)
	return &rpc.RequestVoteReply{Term: term, VoteGranted: granted}, nil
}

func (s *Server) AppendEntries(ctx context.Context, req *rpc.AppendEntriesRequest) (*rpc.AppendEntriesReply, error) {
	term, success := s.elector.AppendEntries(req.Term, req.LeaderID)
	return &rpc.AppendEntriesReply{Term: term, Success: success}, nil
}
