// Package runtime assembles the collaborators a cocained process needs —
// storage, isolate, metrics, audit, and optionally a cluster elector — into
// a single value built once in cmd/cocained and threaded by reference
// through the node and every app it starts (SPEC_FULL.md glossary).
package runtime

import (
	"fmt"
	"time"

	"github.com/cocaine-go/cocained/internal/cluster"
	"github.com/cocaine-go/cocained/internal/engine"
	"github.com/cocaine-go/cocained/internal/isolate"
	"github.com/cocaine-go/cocained/internal/metrics"
	"github.com/cocaine-go/cocained/internal/node"
	"github.com/cocaine-go/cocained/internal/storage"
	"github.com/cocaine-go/cocained/internal/walaudit"
	"github.com/cocaine-go/cocained/pkg/types"
)

// Config carries everything needed to build a Runtime, in the shape of the
// node's YAML config file (see internal/cli).
type Config struct {
	Endpoint       string
	StorageDir     string // empty selects an in-memory store
	AuditLogPath   string // empty disables the audit trail
	MetricsEnabled bool

	Cluster ClusterConfig
}

// ClusterConfig configures optional leader election for a multi-instance
// deployment. Enabled is false in the common single-node case.
type ClusterConfig struct {
	Enabled           bool
	ID                string
	Peers             []string
	ElectionTimeoutMs int
	HeartbeatMs       int
}

// Runtime is the fully wired set of collaborators for one process.
type Runtime struct {
	Node    *node.Node
	Metrics *metrics.Collector
	Audit   *walaudit.Sink // nil if Config.AuditLogPath was empty
	Elector *cluster.Elector // nil if clustering was not enabled

	transport *cluster.GrpcTransport
}

// New builds every collaborator and wires them into one Node. Close must be
// called on shutdown to stop the elector and close the audit log; the
// cluster transport's peer connections are not closed by it.
func New(cfg Config) (*Runtime, error) {
	store, err := buildStorage(cfg.StorageDir)
	if err != nil {
		return nil, err
	}

	var audit *walaudit.Sink
	if cfg.AuditLogPath != "" {
		audit, err = walaudit.Open(cfg.AuditLogPath)
		if err != nil {
			return nil, fmt.Errorf("runtime: opening audit log: %w", err)
		}
	}

	var collector *metrics.Collector
	if cfg.MetricsEnabled {
		collector = metrics.NewCollector()
	}

	n := node.New(store, isolate.NewProcessIsolate(), cfg.Endpoint, combineSinks(audit, collector))

	rt := &Runtime{Node: n, Metrics: collector, Audit: audit}

	if cfg.Cluster.Enabled {
		transport := cluster.NewGrpcTransport()
		elector := cluster.New(cluster.Config{
			ID:                cfg.Cluster.ID,
			Peers:             cfg.Cluster.Peers,
			ElectionTimeout:   millis(cfg.Cluster.ElectionTimeoutMs),
			HeartbeatInterval: millis(cfg.Cluster.HeartbeatMs),
		}, transport, nil)

		n.SetElector(elector)
		rt.Elector = elector
		rt.transport = transport
	}

	return rt, nil
}

// Start begins leader election, if configured. The node itself has no
// background loop of its own — it only reacts to StartApp/PauseApp calls.
func (rt *Runtime) Start() {
	if rt.Elector != nil {
		rt.Elector.Start()
	}
}

// Close stops the elector and flushes the audit log.
func (rt *Runtime) Close() error {
	if rt.Elector != nil {
		rt.Elector.Stop()
	}
	if rt.Audit != nil {
		return rt.Audit.Close()
	}
	return nil
}

func buildStorage(dir string) (storage.Storage, error) {
	if dir == "" {
		return storage.NewMemory(), nil
	}
	return storage.NewFile(dir), nil
}

// multiSink fans an engine.AuditSink event out to the WAL audit trail and
// the metrics collector, whichever are configured.
type multiSink struct {
	audit     *walaudit.Sink
	collector *metrics.Collector
}

func (m *multiSink) Record(app string, event string, jobID types.JobID) {
	if m.audit != nil {
		m.audit.Record(app, event, jobID)
	}
	if m.collector != nil {
		m.collector.Record(app, event, jobID)
	}
}

// combineSinks returns an engine.AuditSink recording to both the WAL audit
// trail and the metrics collector, or whichever of the two is non-nil, or
// nil (the true nil interface, not a typed-nil pointer) if neither is
// configured.
func combineSinks(audit *walaudit.Sink, collector *metrics.Collector) engine.AuditSink {
	if audit == nil && collector == nil {
		return nil
	}
	return &multiSink{audit: audit, collector: collector}
}

func millis(n int) time.Duration {
	return time.Duration(n) * time.Millisecond
}
