package poller

import "errors"

// ErrClosed is returned by operations on a closed Poller
var ErrClosed = errors.New("poller closed")

// Event reports readiness of one registered descriptor
type Event struct {
	Fd       int
	Readable bool
	// Hangup is set on EPOLLHUP or EPOLLERR
	Hangup bool
}

// Poller is the I/O multiplexing interface.
//
// Descriptors are registered one-shot: after an event is delivered for a
// descriptor, nothing more is reported for it until Rearm is called.
type Poller interface {
	Add(fd int) error
	Rearm(fd int) error
	Remove(fd int) error
	// Wait blocks for at most timeout milliseconds (-1 blocks until an
	// event or Wake). The returned slice is reused by the next Wait.
	Wait(timeout int) ([]Event, error)
	// Wake interrupts a blocked Wait
	Wake() error
	Close() error
}
