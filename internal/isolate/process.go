package isolate

import (
	"context"
	"os/exec"
	"sync"
	"syscall"
	"time"
)

// ProcessIsolate spawns slaves as plain child processes via os/exec. It is
// the production Isolate for single-host deployments; container or cgroup
// backends would satisfy the same interface.
type ProcessIsolate struct{}

// NewProcessIsolate returns an Isolate backed by os/exec.
func NewProcessIsolate() *ProcessIsolate {
	return &ProcessIsolate{}
}

type processHandle struct {
	cmd    *exec.Cmd
	events chan Event

	mu      sync.Mutex
	exited  bool
}

func (h *processHandle) Events() <-chan Event { return h.events }

func (p *ProcessIsolate) Spawn(ctx context.Context, spec Spec) (Handle, error) {
	cmd := exec.Command(spec.Binary, spec.Args...)
	cmd.Env = append(cmd.Env,
		"COCAINE_ENDPOINT="+spec.Endpoint,
		"COCAINE_APP="+spec.App,
		"COCAINE_UUID="+spec.UUID,
	)

	if err := cmd.Start(); err != nil {
		return nil, err
	}

	h := &processHandle{
		cmd:    cmd,
		events: make(chan Event, 1),
	}

	go func() {
		err := cmd.Wait()

		h.mu.Lock()
		h.exited = true
		h.mu.Unlock()

		var ev Event
		if err == nil {
			ev = Event{Kind: EventExited, Code: 0}
		} else if exitErr, ok := err.(*exec.ExitError); ok {
			if status, ok := exitErr.Sys().(syscall.WaitStatus); ok && status.Signaled() {
				ev = Event{Kind: EventCrashed, Sig: int(status.Signal())}
			} else {
				ev = Event{Kind: EventExited, Code: exitErr.ExitCode()}
			}
		} else {
			ev = Event{Kind: EventCrashed}
		}

		h.events <- ev
		close(h.events)
	}()

	return h, nil
}

func (p *ProcessIsolate) Terminate(ctx context.Context, handle Handle, grace time.Duration) error {
	h, ok := handle.(*processHandle)
	if !ok {
		return errNotOurHandle
	}

	h.mu.Lock()
	exited := h.exited
	h.mu.Unlock()
	if exited {
		return nil
	}

	if err := h.cmd.Process.Signal(syscall.SIGTERM); err != nil {
		return h.cmd.Process.Kill()
	}

	timer := time.NewTimer(grace)
	defer timer.Stop()

	select {
	case <-h.events:
		return nil
	case <-timer.C:
		return h.cmd.Process.Kill()
	case <-ctx.Done():
		return h.cmd.Process.Kill()
	}
}

func (p *ProcessIsolate) Status(handle Handle) (bool, error) {
	h, ok := handle.(*processHandle)
	if !ok {
		return false, errNotOurHandle
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	return !h.exited, nil
}
