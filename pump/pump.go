// Package pump defines the capability that wires a child process to an
// instance's request and response channels.
//
// Two interchangeable topologies exist: native binds the child's stdio
// directly to the FIFOs and detaches it into its own process group, and
// relay gives the child ordinary pipes and copies bytes between the pipes
// and the FIFOs for hosts whose process layer lacks detached FIFO stdio
// semantics. Callers depend only on the observable contract: the channels
// connect, and removing the working directory tears the child down.
package pump

import "context"

// StartRequest describes the child process to wire up. Dir is the instance
// working directory that already contains the request and response FIFOs and
// whose removal signals teardown.
type StartRequest struct {
	Command string
	Args    []string
	Env     []string
	Dir     string
}

// Result describes a finished child process.
type Result struct {
	ExitCode int
	TimeMS   int64
}

// Handle is an opaque reference to a running pump.
type Handle interface {
	// PID returns the child's process ID.
	PID() int

	// Wait blocks until the child exits or ctx is done.
	Wait(ctx context.Context) (*Result, error)
}

// Pump starts the child process of an instance. Implementations must not tie
// the child's lifetime to the calling process; only working-directory removal
// ends it.
type Pump interface {
	Start(ctx context.Context, req StartRequest) (Handle, error)
}
