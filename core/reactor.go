package core

import "github.com/searchktools/static-server/core/pools"

// Reactor owns a worker pool and runs a readiness dispatch loop on it
type Reactor interface {
	Pool() *pools.WorkerPool
	// Dispatch waits for readiness and hands ready connections to the
	// pool until the reactor leaves the running state
	Dispatch() error
}

// State is the reactor lifecycle state
type State int32

const (
	StateInit State = iota
	StateRunning
	StateSuspended
	StateTerminated
	StateError
)

func (s State) String() string {
	switch s {
	case StateInit:
		return "init"
	case StateRunning:
		return "running"
	case StateSuspended:
		return "suspended"
	case StateTerminated:
		return "terminated"
	case StateError:
		return "error"
	}
	return "unknown"
}

// final reports whether no command can leave s
func (s State) final() bool {
	return s == StateTerminated || s == StateError
}
