// Package cluster provides leader election for a multi-instance node
// deployment (SPEC_FULL.md §10). It is grounded on the teacher's
// internal/raft: the same term/vote/election-timeout state machine, trimmed
// down to election only. The teacher's log replication (LogEntry, LogStore,
// Propose, Snapshot, ApplyMsg) has no SPEC_FULL.md component to serve —
// this package never replicates commands, only decides which replica holds
// write authority over the node's app registry and runlist — so it is
// dropped rather than adapted; see DESIGN.md.
package cluster

import (
	"context"
	"log/slog"
	"math/rand"
	"sync"
	"time"
)

var log = slog.Default()

// Role is this replica's position in the election state machine.
type Role int

const (
	Follower Role = iota
	Candidate
	Leader
)

func (r Role) String() string {
	switch r {
	case Follower:
		return "follower"
	case Candidate:
		return "candidate"
	case Leader:
		return "leader"
	default:
		return "unknown"
	}
}

// Transport sends the two election RPCs to a named peer.
type Transport interface {
	RequestVote(ctx context.Context, peer string, term int64, candidateID string) (replyTerm int64, granted bool, err error)
	AppendEntries(ctx context.Context, peer string, term int64, leaderID string) (replyTerm int64, success bool, err error)
}

// Config configures one Elector replica.
type Config struct {
	ID                string
	Peers             []string
	ElectionTimeout   time.Duration
	HeartbeatInterval time.Duration
}

// Elector runs Raft-style leader election among a fixed peer set, with no
// log to replicate: AppendEntries carries no entries and exists purely as
// the leader heartbeat.
type Elector struct {
	mu sync.Mutex

	config    Config
	transport Transport

	currentTerm int64
	votedFor    string
	role        Role
	leaderID    string

	stopCh          chan struct{}
	electionTimer   *time.Timer
	heartbeatTicker *time.Ticker
	wg              sync.WaitGroup

	onLeader func()
}

// New builds an Elector that starts as a follower. onLeader, if non-nil, is
// called on a new goroutine each time this replica wins an election.
func New(config Config, transport Transport, onLeader func()) *Elector {
	return &Elector{
		config:    config,
		transport: transport,
		role:      Follower,
		onLeader:  onLeader,
	}
}

// Start begins the election and heartbeat loops.
func (e *Elector) Start() {
	e.mu.Lock()
	e.stopCh = make(chan struct{})
	e.electionTimer = time.NewTimer(e.randomElectionTimeout())
	e.heartbeatTicker = time.NewTicker(e.config.HeartbeatInterval)
	// A replica that is its own quorum needs no votes, so it is elected here
	// rather than after the first election timeout.
	if len(e.config.Peers)/2+1 <= 1 {
		e.startElectionLocked()
	}
	e.mu.Unlock()

	e.wg.Add(2)
	go e.electionLoop()
	go e.heartbeatLoop()
}

// Stop halts both loops. A single-replica cluster (len(Peers) == 0) never
// needs to be stopped mid-test since it wins its first election alone.
func (e *Elector) Stop() {
	e.mu.Lock()
	if e.stopCh == nil {
		e.mu.Unlock()
		return
	}
	close(e.stopCh)
	e.stopCh = nil
	e.electionTimer.Stop()
	e.heartbeatTicker.Stop()
	e.mu.Unlock()
	e.wg.Wait()
}

// IsLeader reports whether this replica currently believes it is leader.
func (e *Elector) IsLeader() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.role == Leader
}

// Leader returns the ID of the replica this one currently follows (itself,
// if leader), or "" if no leader has been observed yet.
func (e *Elector) Leader() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.role == Leader {
		return e.config.ID
	}
	return e.leaderID
}

func (e *Elector) electionLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.electionTimer.C:
			e.mu.Lock()
			if e.role != Leader {
				e.startElectionLocked()
			}
			e.resetElectionTimerLocked()
			e.mu.Unlock()
		}
	}
}

func (e *Elector) heartbeatLoop() {
	defer e.wg.Done()
	for {
		select {
		case <-e.stopCh:
			return
		case <-e.heartbeatTicker.C:
			e.mu.Lock()
			isLeader := e.role == Leader
			e.mu.Unlock()
			if isLeader {
				e.broadcastHeartbeats()
			}
		}
	}
}

// startElectionLocked assumes e.mu is held.
func (e *Elector) startElectionLocked() {
	e.role = Candidate
	e.currentTerm++
	e.votedFor = e.config.ID
	term := e.currentTerm

	votes := 1
	needed := len(e.config.Peers)/2 + 1

	log.Info("cluster: starting election", "id", e.config.ID, "term", term)

	if votes >= needed {
		e.convertToLeaderLocked()
		return
	}

	peers := append([]string(nil), e.config.Peers...)
	go e.solicitVotes(term, peers, needed)
}

func (e *Elector) solicitVotes(term int64, peers []string, needed int) {
	var mu sync.Mutex
	votes := 1

	var wg sync.WaitGroup
	for _, peer := range peers {
		if peer == e.config.ID {
			continue
		}
		wg.Add(1)
		go func(peer string) {
			defer wg.Done()
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()

			replyTerm, granted, err := e.transport.RequestVote(ctx, peer, term, e.config.ID)
			if err != nil {
				return
			}

			e.mu.Lock()
			defer e.mu.Unlock()

			if e.role != Candidate || e.currentTerm != term {
				return
			}
			if replyTerm > e.currentTerm {
				e.convertToFollowerLocked(replyTerm)
				return
			}
			if granted {
				mu.Lock()
				votes++
				v := votes
				mu.Unlock()
				if v >= needed {
					e.convertToLeaderLocked()
				}
			}
		}(peer)
	}
	wg.Wait()
}

func (e *Elector) convertToFollowerLocked(term int64) {
	e.role = Follower
	e.currentTerm = term
	e.votedFor = ""
}

func (e *Elector) convertToLeaderLocked() {
	if e.role == Leader {
		return
	}
	e.role = Leader
	e.leaderID = e.config.ID
	log.Info("cluster: elected leader", "id", e.config.ID, "term", e.currentTerm)
	if e.onLeader != nil {
		go e.onLeader()
	}
	go e.broadcastHeartbeats()
}

func (e *Elector) broadcastHeartbeats() {
	e.mu.Lock()
	term := e.currentTerm
	peers := append([]string(nil), e.config.Peers...)
	e.mu.Unlock()

	for _, peer := range peers {
		if peer == e.config.ID {
			continue
		}
		go func(peer string) {
			ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
			defer cancel()
			replyTerm, _, err := e.transport.AppendEntries(ctx, peer, term, e.config.ID)
			if err != nil {
				return
			}
			e.mu.Lock()
			defer e.mu.Unlock()
			if replyTerm > e.currentTerm {
				e.convertToFollowerLocked(replyTerm)
			}
		}(peer)
	}
}

// RequestVote handles an incoming vote request (ClusterServiceServer).
func (e *Elector) RequestVote(term int64, candidateID string) (replyTerm int64, granted bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if term < e.currentTerm {
		return e.currentTerm, false
	}
	if term > e.currentTerm {
		e.convertToFollowerLocked(term)
	}

	if e.votedFor == "" || e.votedFor == candidateID {
		e.votedFor = candidateID
		e.resetElectionTimerLocked()
		return e.currentTerm, true
	}
	return e.currentTerm, false
}

// AppendEntries handles an incoming heartbeat (ClusterServiceServer).
func (e *Elector) AppendEntries(term int64, leaderID string) (replyTerm int64, success bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if term < e.currentTerm {
		return e.currentTerm, false
	}
	if term > e.currentTerm {
		e.convertToFollowerLocked(term)
	}
	e.role = Follower
	e.leaderID = leaderID
	e.resetElectionTimerLocked()
	return e.currentTerm, true
}

// resetElectionTimerLocked assumes e.mu is held and Start has been called.
func (e *Elector) resetElectionTimerLocked() {
	if e.electionTimer == nil {
		return
	}
	if !e.electionTimer.Stop() {
		select {
		case <-e.electionTimer.C:
		default:
		}
	}
	e.electionTimer.Reset(e.randomElectionTimeout())
}

func (e *Elector) randomElectionTimeout() time.Duration {
	if e.config.ElectionTimeout <= 0 {
		return 150 * time.Millisecond
	}
	extra := time.Duration(rand.Int63n(int64(e.config.ElectionTimeout)))
	return e.config.ElectionTimeout + extra
}
