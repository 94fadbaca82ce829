package app

import (
	"context"
	"sync"
	"time"

	"github.com/cocaine-go/cocained/pkg/types"
)

func init() {
	RegisterDriver("recurring", newRecurringDriver)
}

// discardUpstream drops every result a driver-originated job produces; no
// external caller is waiting on it.
type discardUpstream struct{}

func (discardUpstream) Chunk([]byte)                 {}
func (discardUpstream) Complete(types.JobStatus, string) {}

// recurringDriver enqueues a fixed job on a fixed interval, standing in for
// the original's recurring-timer driver: app.cpp instantiates one driver
// per manifest entry but carries no concrete driver implementation in the
// retrieved sources, so this is the one built-in kind this module ships.
type recurringDriver struct {
	app *App

	mu       sync.Mutex
	interval time.Duration
	method   string

	stopCh chan struct{}
	wg     sync.WaitGroup
}

func newRecurringDriver(a *App, name string) (Driver, error) {
	return &recurringDriver{
		app:      a,
		interval: time.Second,
		method:   "tick",
	}, nil
}

func (d *recurringDriver) Start(ctx context.Context) error {
	d.mu.Lock()
	if d.stopCh != nil {
		d.mu.Unlock()
		return nil
	}
	d.stopCh = make(chan struct{})
	d.mu.Unlock()

	d.wg.Add(1)
	go d.loop()
	return nil
}

func (d *recurringDriver) loop() {
	defer d.wg.Done()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-d.stopCh:
			return
		case now := <-ticker.C:
			job := &types.Job{
				ID:        types.JobID(now.Format(time.RFC3339Nano)),
				App:       d.app.manifest.App,
				Method:    d.method,
				Mode:      types.ModeNormal,
				CreatedAt: now,
				Upstream:  discardUpstream{},
			}
			if err := d.app.Enqueue(job); err != nil {
				log.Warn("recurring driver enqueue failed", "app", d.app.manifest.App, "error", err)
			}
		}
	}
}

func (d *recurringDriver) Stop(ctx context.Context) error {
	d.mu.Lock()
	stopCh := d.stopCh
	d.stopCh = nil
	d.mu.Unlock()

	if stopCh == nil {
		return nil
	}
	close(stopCh)
	d.wg.Wait()
	return nil
}

func (d *recurringDriver) Info() map[string]any {
	return map[string]any{
		"type":     "recurring",
		"interval": d.interval.String(),
		"method":   d.method,
	}
}
