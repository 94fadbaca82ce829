// Package app wraps one Engine together with its registered drivers
// (spec.md §4.4). It is grounded on original_source/src/app.cpp: the
// constructor loads a manifest's driver list and instantiates one driver per
// entry, start() starts the engine then the drivers, and info() merges
// engine info with per-driver info. stop() order is spec.md's, not the
// original's — see Stop.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cocaine-go/cocained/internal/engine"
	"github.com/cocaine-go/cocained/internal/isolate"
	"github.com/cocaine-go/cocained/internal/transport"
	"github.com/cocaine-go/cocained/pkg/types"
)

var log = slog.Default()

// Driver is a secondary event source an app can register (the original's
// api::driver_t): something other than direct RPC invocation that turns
// external events into enqueued jobs, e.g. a timer or a standalone
// listening socket. A Driver's own event loop is opaque to the engine; it
// only ever calls back into the App's Enqueue.
type Driver interface {
	Start(ctx context.Context) error
	Stop(ctx context.Context) error
	Info() map[string]any
}

// DriverFactory builds a Driver of a given kind for an app. Registered
// factories are looked up by the kind string named in the app's manifest.
type DriverFactory func(a *App, name string) (Driver, error)

var (
	driverRegistryMu sync.Mutex
	driverRegistry   = make(map[string]DriverFactory)
)

// RegisterDriver adds a driver kind to the global registry. Intended to be
// called from init() in packages that implement concrete drivers.
func RegisterDriver(kind string, factory DriverFactory) {
	driverRegistryMu.Lock()
	defer driverRegistryMu.Unlock()
	driverRegistry[kind] = factory
}

func lookupDriverFactory(kind string) (DriverFactory, bool) {
	driverRegistryMu.Lock()
	defer driverRegistryMu.Unlock()
	f, ok := driverRegistry[kind]
	return f, ok
}

// App is one running application: its engine plus whatever drivers its
// manifest names.
type App struct {
	manifest types.Manifest
	engine   *engine.Engine

	mu      sync.Mutex
	drivers map[string]Driver
}

// New constructs an App for manifest, wiring its engine and instantiating
// one driver per manifest.Drivers entry. A manifest naming an unregistered
// driver kind fails construction, matching the original's context.get
// throwing when the driver category is unknown.
func New(manifest types.Manifest, profile types.Profile, iso isolate.Isolate, endpoint string, audit engine.AuditSink) (*App, error) {
	a := &App{
		manifest: manifest,
		engine:   engine.New(manifest.App, profile, iso, endpoint, audit),
		drivers:  make(map[string]Driver),
	}

	if len(manifest.Drivers) == 0 {
		return a, nil
	}

	log.Info("initializing drivers", "app", manifest.App, "count", len(manifest.Drivers), "drivers", manifest.Drivers)

	for _, kind := range manifest.Drivers {
		factory, ok := lookupDriverFactory(kind)
		if !ok {
			return nil, fmt.Errorf("app %s: unknown driver kind %q", manifest.App, kind)
		}
		d, err := factory(a, kind)
		if err != nil {
			return nil, fmt.Errorf("app %s: driver %q: %w", manifest.App, kind, err)
		}
		a.drivers[kind] = d
	}

	return a, nil
}

// Start starts the engine, then every registered driver (spec.md §4.4). A
// driver failing to start is logged and the remaining drivers are still
// started; the first error is returned to the caller.
func (a *App) Start(ctx context.Context) error {
	if err := a.engine.Start(); err != nil {
		return err
	}

	a.mu.Lock()
	drivers := make(map[string]Driver, len(a.drivers))
	for k, v := range a.drivers {
		drivers[k] = v
	}
	a.mu.Unlock()

	var firstErr error
	for name, d := range drivers {
		if err := d.Start(ctx); err != nil {
			log.Error("driver start failed", "app", a.manifest.App, "driver", name, "error", err)
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
	}
	return firstErr
}

// Stop stops drivers first, so their outstanding callbacks can still find
// the engine, then stops the engine (spec.md §4.4 — the reverse of the
// original's destructor order).
func (a *App) Stop() {
	a.mu.Lock()
	drivers := make(map[string]Driver, len(a.drivers))
	for k, v := range a.drivers {
		drivers[k] = v
	}
	a.mu.Unlock()

	ctx := context.Background()
	for name, d := range drivers {
		if err := d.Stop(ctx); err != nil {
			log.Warn("driver stop failed", "app", a.manifest.App, "driver", name, "error", err)
		}
	}

	a.engine.Stop()
}

// Info merges engine info with per-driver info.
func (a *App) Info() map[string]any {
	info := map[string]any{
		"engine": a.engine.Info(),
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if len(a.drivers) == 0 {
		return info
	}
	driverInfo := make(map[string]any, len(a.drivers))
	for name, d := range a.drivers {
		driverInfo[name] = d.Info()
	}
	info["drivers"] = driverInfo
	return info
}

// Enqueue delegates to the engine.
func (a *App) Enqueue(job *types.Job) error {
	return a.engine.Enqueue(job)
}

// Cancel delegates to the engine.
func (a *App) Cancel(id types.JobID) bool {
	return a.engine.Cancel(id)
}

// AttachSlave binds an accepted transport connection to the engine's
// pending slave with the matching uuid. Exposed so the gRPC SlaveService
// server can route a freshly-dialed stream without reaching into the
// engine package directly.
func (a *App) AttachSlave(uuid string, ch transport.Channel) error {
	return a.engine.AttachSlave(uuid, ch)
}
