package http

import (
	"bytes"

	"github.com/sirupsen/logrus"

	"github.com/searchktools/static-server/core/sendfile"
)

// Default limits for request parsing
const (
	DefaultServerName       = "static-server"
	DefaultBufferSize       = 50 << 10
	DefaultMaxMethodLength  = 16
	DefaultMaxURILength     = 2048
	DefaultMaxVersionLength = 16
	DefaultMaxHeaders       = 64
)

// Settings is shared read-only by every connection
type Settings struct {
	Root             string
	ServerName       string
	MaxMethodLength  int
	MaxURILength     int
	MaxVersionLength int
	MaxHeaders       int
	Logger           *logrus.Entry
}

// NewSettings returns settings for root with default limits
func NewSettings(root string) *Settings {
	return &Settings{
		Root:             root,
		ServerName:       DefaultServerName,
		MaxMethodLength:  DefaultMaxMethodLength,
		MaxURILength:     DefaultMaxURILength,
		MaxVersionLength: DefaultMaxVersionLength,
		MaxHeaders:       DefaultMaxHeaders,
		Logger:           logrus.NewEntry(logrus.StandardLogger()),
	}
}

// MinBufferSize is the smallest connection buffer that holds a request
// line at these limits with one byte past the URI bound and the sentinel,
// so an over-long URI is always seen as one.
func (s *Settings) MinBufferSize() int {
	return s.MaxMethodLength + 1 + s.MaxURILength + 1 + s.MaxVersionLength + 2 + 2
}

// RequestContext is the per-connection state threaded through Handle.
//
// It is owned by exactly one task at a time; nothing in it is locked.
// buf[head:tail] holds bytes read but not yet consumed and buf[tail] is
// always a zero sentinel, so tail never exceeds len(buf)-1.
type RequestContext struct {
	fd       int
	settings *Settings
	log      *logrus.Entry

	buf  []byte
	head int
	tail int

	// eof is set when the last read saw the peer close its side
	eof bool
	// broken is set when the socket can no longer carry a response
	broken bool

	Method  string
	URI     string
	Version string
	Headers map[string]string
	Status  StatusCode
}

// NewRequestContext binds a connection buffer to fd. buf must hold at
// least two bytes.
func NewRequestContext(fd int, buf []byte, settings *Settings, remote string) *RequestContext {
	buf[0] = 0
	return &RequestContext{
		fd:       fd,
		settings: settings,
		log:      settings.Logger.WithField("remote", remote),
		buf:      buf,
		Headers:  make(map[string]string),
	}
}

// Buffer returns the backing buffer so it can be recycled after close
func (c *RequestContext) Buffer() []byte {
	return c.buf
}

// Buffered returns the number of unconsumed bytes
func (c *RequestContext) Buffered() int {
	return c.tail - c.head
}

// reset clears everything parsed from the previous request. Buffered
// bytes are kept.
func (c *RequestContext) reset() {
	c.Method = ""
	c.URI = ""
	c.Version = ""
	c.Status = StatusNone
	c.eof = false
	clear(c.Headers)
}

// fail records a terminal status. Only the first failure sticks.
func (c *RequestContext) fail(code StatusCode) {
	if c.Status == StatusNone {
		c.Status = code
	}
}

func (c *RequestContext) failed() bool {
	return c.Status != StatusNone
}

// fill moves unconsumed bytes to the front of the buffer and reads as much
// as fits behind them.
func (c *RequestContext) fill() (int, error) {
	if c.head > 0 {
		n := copy(c.buf, c.buf[c.head:c.tail])
		c.head, c.tail = 0, n
	}

	n := 0
	if room := len(c.buf) - 1 - c.tail; room > 0 {
		var err error
		n, err = sendfile.Read(c.fd, c.buf[c.tail:c.tail+room])
		if err != nil {
			return 0, err
		}
		c.eof = n == 0
		c.tail += n
	}
	c.buf[c.tail] = 0

	return n, nil
}

// full reports whether no byte can be read without consuming first
func (c *RequestContext) full() bool {
	return c.tail >= len(c.buf)-1
}

// complete reports whether the header block terminator has arrived
func (c *RequestContext) complete() bool {
	return bytes.Contains(c.buf[c.head:c.tail], headerTerminator)
}

// discard drops every buffered byte
func (c *RequestContext) discard() {
	c.head, c.tail = 0, 0
	c.buf[0] = 0
}
