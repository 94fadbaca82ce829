// Package node implements the app registry from spec.md §4.5. It is
// grounded on original_source/src/service/node.cpp for control flow
// (start_app/pause_app/list, runlist reconciliation at boot) and on the
// teacher's internal/server.Server for the shape of a transport-facing
// service adapter.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cocaine-go/cocained/internal/app"
	"github.com/cocaine-go/cocained/internal/engine"
	"github.com/cocaine-go/cocained/internal/isolate"
	"github.com/cocaine-go/cocained/internal/storage"
	"github.com/cocaine-go/cocained/pkg/types"
)

var log = slog.Default()

// ErrAlreadyRunning is returned by StartApp when name is already registered.
var ErrAlreadyRunning = errors.New("node: app already running")

// ErrNotRunning is returned by PauseApp when name is not registered.
var ErrNotRunning = errors.New("node: app not running")

// ErrNotLeader is returned by StartApp/PauseApp when this replica does not
// hold write authority over the registry (SPEC_FULL.md §10, cluster HA).
var ErrNotLeader = errors.New("node: not leader")

// LeaderChecker reports whether the calling replica currently holds write
// authority over the registry. Satisfied by *internal/cluster.Elector; kept
// as a narrow interface here so node does not depend on cluster's RPC
// transport wiring.
type LeaderChecker interface {
	IsLeader() bool
}

const (
	manifestsCollection = "manifests"
	profilesCollection  = "profiles"
	runlistsCollection  = "runlists"
)

// Node owns the app registry: the set of currently running apps on this
// process, keyed by name. Registry mutations serialize through a single
// mutex (spec.md §5); each app's own engine still runs its own event loop.
type Node struct {
	storage  storage.Storage
	iso      isolate.Isolate
	endpoint string
	audit    engine.AuditSink

	mu   sync.Mutex
	apps map[string]*app.App

	elector LeaderChecker
}

// New builds an empty, unstarted Node. endpoint is passed through to every
// app's engine as the address spawned slaves dial back to.
func New(store storage.Storage, iso isolate.Isolate, endpoint string, audit engine.AuditSink) *Node {
	return &Node{
		storage:  store,
		iso:      iso,
		endpoint: endpoint,
		audit:    audit,
		apps:     make(map[string]*app.App),
	}
}

// SetElector installs the leader checker used to gate registry mutations in
// a clustered deployment (SPEC_FULL.md §10). Left nil, every replica accepts
// StartApp/PauseApp unconditionally — the single-node case.
func (n *Node) SetElector(elector LeaderChecker) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.elector = elector
}

// StartApp loads name's manifest and profileName's profile from Storage,
// constructs the App, starts it, and inserts it into the registry. Fails
// with ErrAlreadyRunning if name is already present, or ErrNotLeader if this
// replica does not currently hold write authority over the registry.
func (n *Node) StartApp(ctx context.Context, name, profileName string) error {
	n.mu.Lock()
	if n.elector != nil && !n.elector.IsLeader() {
		n.mu.Unlock()
		return ErrNotLeader
	}
	if _, ok := n.apps[name]; ok {
		n.mu.Unlock()
		return ErrAlreadyRunning
	}
	n.mu.Unlock()

	manifest, err := n.loadManifest(ctx, name)
	if err != nil {
		return fmt.Errorf("node: loading manifest for %q: %w", name, err)
	}

	profile, err := n.loadProfile(ctx, profileName)
	if err != nil {
		return fmt.Errorf("node: loading profile %q for %q: %w", profileName, name, err)
	}

	a, err := app.New(manifest, profile, n.iso, n.endpoint, n.audit)
	if err != nil {
		return fmt.Errorf("node: constructing app %q: %w", name, err)
	}

	log.Info("starting app", "app", name, "profile", profileName)

	if err := a.Start(ctx); err != nil {
		return fmt.Errorf("node: starting app %q: %w", name, err)
	}

	n.mu.Lock()
	if _, ok := n.apps[name]; ok {
		n.mu.Unlock()
		a.Stop()
		return ErrAlreadyRunning
	}
	n.apps[name] = a
	n.mu.Unlock()

	return nil
}

// PauseApp removes name from the registry while holding the lock, then
// calls Stop outside the critical section (spec.md §4.5), so a slow
// shutdown never blocks other registry operations. Fails with ErrNotLeader
// on a non-leader replica in a clustered deployment.
func (n *Node) PauseApp(name string) error {
	n.mu.Lock()
	if n.elector != nil && !n.elector.IsLeader() {
		n.mu.Unlock()
		return ErrNotLeader
	}
	a, ok := n.apps[name]
	if !ok {
		n.mu.Unlock()
		return ErrNotRunning
	}
	delete(n.apps, name)
	n.mu.Unlock()

	log.Info("stopping app", "app", name)
	a.Stop()
	return nil
}

// List returns a snapshot of currently running app names.
func (n *Node) List() []string {
	n.mu.Lock()
	defer n.mu.Unlock()

	names := make([]string, 0, len(n.apps))
	for name := range n.apps {
		names = append(names, name)
	}
	return names
}

// App returns the running App registered under name, if any. Used by the
// engine↔slave transport layer to route an attaching connection.
func (n *Node) App(name string) (*app.App, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	a, ok := n.apps[name]
	return a, ok
}

// Reconcile reads runlistName from Storage (a map from app name to profile
// name) and calls StartApp for each entry, logging and continuing past any
// per-app failure. A partially started node is a valid state (spec.md
// §4.5) — there is no rollback.
func (n *Node) Reconcile(ctx context.Context, runlistName string) {
	raw, err := n.storage.Get(ctx, runlistsCollection, runlistName)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			log.Info("no runlist found", "runlist", runlistName)
			return
		}
		log.Warn("unable to read runlist", "runlist", runlistName, "error", err)
		return
	}

	var runlist map[string]string
	if err := json.Unmarshal(raw, &runlist); err != nil {
		log.Warn("malformed runlist", "runlist", runlistName, "error", err)
		return
	}

	if len(runlist) == 0 {
		return
	}

	log.Info("starting apps from runlist", "runlist", runlistName, "count", len(runlist))

	for name, profileName := range runlist {
		if err := n.StartApp(ctx, name, profileName); err != nil {
			log.Error("unable to start app from runlist", "app", name, "profile", profileName, "error", err)
		}
	}
}

func (n *Node) loadManifest(ctx context.Context, name string) (types.Manifest, error) {
	raw, err := n.storage.Get(ctx, manifestsCollection, name)
	if err != nil {
		return types.Manifest{}, err
	}
	var m types.Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return types.Manifest{}, fmt.Errorf("malformed manifest: %w", err)
	}
	return m, nil
}

func (n *Node) loadProfile(ctx context.Context, name string) (types.Profile, error) {
	raw, err := n.storage.Get(ctx, profilesCollection, name)
	if err != nil {
		return types.Profile{}, err
	}
	var p types.Profile
	if err := json.Unmarshal(raw, &p); err != nil {
		return types.Profile{}, fmt.Errorf("malformed profile: %w", err)
	}
	return p, nil
}
