package http

import (
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"github.com/searchktools/static-server/core/sendfile"
)

// resolve maps the request URI to a path under the resource root. The
// query and fragment are ignored and ".." cannot climb above the root.
func (c *RequestContext) resolve() (string, bool) {
	p := c.URI
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	p, err := url.PathUnescape(p)
	if err != nil || !strings.HasPrefix(p, "/") || strings.IndexByte(p, 0) >= 0 {
		return "", false
	}
	return filepath.Join(c.settings.Root, filepath.FromSlash(path.Clean(p))), true
}

// respond validates the target and streams it to the client
func (c *RequestContext) respond() {
	if c.failed() {
		return
	}

	target, ok := c.resolve()
	if !ok {
		c.fail(StatusBadRequest)
		return
	}

	if unix.Access(target, unix.F_OK) != nil {
		c.fail(StatusNotFound)
		return
	}
	if unix.Access(target, unix.R_OK) != nil {
		c.fail(StatusForbidden)
		return
	}
	var st unix.Stat_t
	if err := unix.Stat(target, &st); err != nil || st.Mode&unix.S_IFMT != unix.S_IFREG {
		c.fail(StatusForbidden)
		return
	}

	f, err := os.Open(target)
	if err != nil {
		c.log.WithError(err).Warn("open failed")
		c.fail(StatusInternalServerError)
		return
	}
	defer f.Close()

	if err := sendfile.WriteAll(c.fd, c.responseHeader(target, st.Size, int64(st.Mtim.Sec))); err != nil {
		c.log.WithError(err).Warn("send response header failed")
		c.fail(StatusUnknown)
		return
	}
	c.Status = StatusOK

	if c.Method == "HEAD" || st.Size == 0 {
		return
	}
	if _, err := sendfile.SendFile(c.fd, f, st.Size); err != nil {
		// Part of the body may already be on the wire.
		c.log.WithError(err).Warn("send response body failed")
		c.broken = true
	}
}

func (c *RequestContext) responseHeader(target string, size, mtime int64) []byte {
	b := make([]byte, 0, 256)
	b = append(b, c.Version...)
	b = append(b, ' ')
	b = append(b, StatusLine(StatusOK)...)
	b = append(b, crlf...)

	b = appendHeader(b, "Server", c.settings.ServerName)
	b = appendIntHeader(b, "Date", time.Now().Unix())
	b = appendIntHeader(b, "Last-Modified", mtime)
	b = appendIntHeader(b, "Content-Length", size)
	if conn, ok := c.Headers["Connection"]; ok {
		b = appendHeader(b, "Connection", conn)
	}
	b = appendHeader(b, "Content-Type", ContentType(target))

	return append(b, crlf...)
}

// writeError sends the minimal response for a failed request
func (c *RequestContext) writeError() {
	version := c.Version
	if !acceptedVersion(version) {
		version = HTTP11
	}

	if err := sendfile.WriteAll(c.fd, minimalResponse(version, c.Status, c.settings.ServerName)); err != nil {
		c.log.WithError(err).Debug("send error response failed")
		c.broken = true
	}
}

// WriteStatus sends a minimal response with code on fd, for connections
// turned away before a request was parsed.
func WriteStatus(fd int, code StatusCode, settings *Settings) error {
	return sendfile.WriteAll(fd, minimalResponse(HTTP11, code, settings.ServerName))
}

// minimalResponse renders a status line, Date, Server and a zero
// Content-Length
func minimalResponse(version string, code StatusCode, server string) []byte {
	b := make([]byte, 0, 128)
	b = append(b, version...)
	b = append(b, ' ')
	b = append(b, StatusLine(code)...)
	b = append(b, crlf...)
	b = appendIntHeader(b, "Date", time.Now().Unix())
	b = appendHeader(b, "Server", server)
	return append(b, "Content-Length: 0\r\n\r\n"...)
}

func appendHeader(b []byte, name, value string) []byte {
	b = append(b, name...)
	b = append(b, ": "...)
	b = append(b, value...)
	return append(b, crlf...)
}

func appendIntHeader(b []byte, name string, value int64) []byte {
	b = append(b, name...)
	b = append(b, ": "...)
	b = strconv.AppendInt(b, value, 10)
	return append(b, crlf...)
}
