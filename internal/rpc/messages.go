package rpc

// Frame mirrors internal/transport.Frame on the wire, mapping
// PollJobs/AcknowledgeJob from the teacher's worker-facing surface onto
// read_frame/write_frame for the engine<->slave channel (SPEC_FULL.md
// §6.1).
type Frame struct {
	Kind    string `json:"kind"`
	Method  string `json:"method,omitempty"`
	Payload []byte `json:"payload,omitempty"`
	Code    string `json:"code,omitempty"`
	Message string `json:"message,omitempty"`
}

// StartAppRequest asks the node to start an app from its manifest/profile
// (spec.md §2, node service operation start_app).
type StartAppRequest struct {
	App     string `json:"app"`
	Profile string `json:"profile"`
}

type StartAppResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// PauseAppRequest asks the node to drain and stop a running app.
type PauseAppRequest struct {
	App string `json:"app"`
}

type PauseAppResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error,omitempty"`
}

// ListRequest has no fields; kept as a struct so the RPC surface stays
// uniform and can grow filters later without breaking callers.
type ListRequest struct{}

type AppSummary struct {
	App        string `json:"app"`
	PoolSize   int    `json:"pool_size"`
	QueueDepth int    `json:"queue_depth"`
}

type ListResponse struct {
	Apps []AppSummary `json:"apps"`
}

// ErrorKind* are the "kind" strings set on RPC-boundary errors (spec.md §7);
// internal/node maps its errors onto them, including the not_leader
// rejection a follower replica returns.
const (
	ErrorKindNotLeader    = "not_leader"
	ErrorKindNotFound     = "app_not_running"
	ErrorKindAlreadyExist = "app_already_running"
	// ErrorKindManifestNotFound is start_app's "not_found" (spec.md §2):
	// the named app has no manifest/profile in storage.
	ErrorKindManifestNotFound = "not_found"
	// ErrorKindInternal is spec.md §2's catch-all for an uncaught
	// invariant violation at the RPC boundary.
	ErrorKindInternal = "internal"
)
