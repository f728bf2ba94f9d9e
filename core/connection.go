package core

import (
	"sync/atomic"

	"github.com/searchktools/static-server/core/http"
)

// Ownership tags for a Connection
const (
	// connArmed: registered with the poller, owned by the dispatch loop
	connArmed int32 = iota
	// connProcessing: owned by exactly one request task
	connProcessing
	// connClosing: release is in progress
	connClosing
)

// Connection is the engine-side record of an accepted socket
type Connection struct {
	fd     int
	remote string
	owner  atomic.Int32
	ctx    *http.RequestContext
}

func newConnection(fd int, remote string, ctx *http.RequestContext) *Connection {
	return &Connection{fd: fd, remote: remote, ctx: ctx}
}

// transfer moves ownership from one tag to another. Only one caller can
// win a given transfer.
func (c *Connection) transfer(from, to int32) bool {
	return c.owner.CompareAndSwap(from, to)
}
