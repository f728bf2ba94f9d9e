package core

import (
	"errors"
	"time"
)

// Engine defaults
const (
	DefaultHost        = "0.0.0.0"
	DefaultWorkers     = 32
	DefaultMaxClients  = 2048
	DefaultWaitTimeout = 100 * time.Millisecond

	// MinWorkers covers the accept and dispatch loops plus one request
	// worker
	MinWorkers = 3

	listenBacklog = 64
)

// Error definitions
var (
	ErrNoRoot         = errors.New("resource root not set")
	ErrInvalidHost    = errors.New("host is not an IPv4 address")
	ErrTooFewWorkers  = errors.New("too few workers")
	ErrBufferTooSmall = errors.New("buffer cannot hold a request line")
	ErrNotRunning     = errors.New("engine not running")
	ErrFinalState     = errors.New("engine already stopped")
	ErrLoopSubmission = errors.New("cannot schedule engine loop")
)
