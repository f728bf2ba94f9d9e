package http

import (
	"bytes"

	"golang.org/x/net/http/httpguts"
)

var (
	crlf             = []byte("\r\n")
	headerTerminator = []byte("\r\n\r\n")
)

// Accepted protocol versions
const (
	HTTP10 = "HTTP/1.0"
	HTTP11 = "HTTP/1.1"
)

// knownMethods is read-only after package initialization
var knownMethods = map[string]bool{
	"GET":     true,
	"HEAD":    true,
	"POST":    true,
	"PUT":     true,
	"PATCH":   true,
	"TRACE":   true,
	"DELETE":  true,
	"CONNECT": true,
	"OPTIONS": true,
}

func acceptedVersion(v string) bool {
	return v == HTTP10 || v == HTTP11
}

// scanField returns the index of delim starting at pos. A field longer
// than limit yields tooLong; a line break, an empty field or the end of
// input yields StatusBadRequest.
func (c *RequestContext) scanField(pos int, delim byte, limit int, tooLong StatusCode) (int, StatusCode) {
	for i := pos; i < c.tail; i++ {
		switch b := c.buf[i]; {
		case b == delim:
			if i == pos {
				return i, StatusBadRequest
			}
			return i, StatusNone
		case b == '\r' || b == '\n':
			return i, StatusBadRequest
		case i-pos >= limit:
			return i, tooLong
		}
	}
	return c.tail, StatusBadRequest
}

// parseRequestLine parses METHOD SP URI SP VERSION CRLF
func (c *RequestContext) parseRequestLine() {
	if c.failed() {
		return
	}
	s := c.settings
	pos := c.head

	end, status := c.scanField(pos, ' ', s.MaxMethodLength, StatusBadRequest)
	if status != StatusNone {
		c.fail(status)
		return
	}
	c.Method = string(c.buf[pos:end])
	pos = end + 1

	end, status = c.scanField(pos, ' ', s.MaxURILength, StatusRequestURITooLong)
	if status != StatusNone {
		c.fail(status)
		return
	}
	c.URI = string(c.buf[pos:end])
	pos = end + 1

	end = pos
	for end < c.tail && c.buf[end] != '\r' && c.buf[end] != '\n' {
		if end-pos >= s.MaxVersionLength {
			c.fail(StatusHTTPVersionNotSupported)
			return
		}
		end++
	}
	c.Version = string(c.buf[pos:end])
	if !acceptedVersion(c.Version) {
		c.fail(StatusHTTPVersionNotSupported)
		return
	}
	pos = end

	// buf[tail] is the sentinel, so these reads stay in bounds
	if c.buf[pos] == '\r' {
		pos++
	}
	if c.buf[pos] != '\n' {
		c.fail(StatusBadRequest)
		return
	}
	pos++

	switch {
	case c.Method == "GET" || c.Method == "HEAD":
	case knownMethods[c.Method]:
		c.fail(StatusMethodNotAllowed)
		return
	default:
		c.fail(StatusNotImplemented)
		return
	}

	c.head = pos
}

// parseHeaders parses Name:Value CRLF lines up to the empty line
func (c *RequestContext) parseHeaders() {
	if c.failed() {
		return
	}
	pos := c.head

	for pos < c.tail {
		if c.buf[pos] == '\r' && c.buf[pos+1] == '\n' {
			pos += 2
			break
		}

		lineEnd := bytes.Index(c.buf[pos:c.tail], crlf)
		if lineEnd < 0 {
			// ran out of input inside a header line
			c.fail(StatusBadRequest)
			return
		}
		line := c.buf[pos : pos+lineEnd]

		colon := bytes.IndexByte(line, ':')
		if colon < 0 {
			c.fail(StatusBadRequest)
			return
		}
		key := string(bytes.Trim(line[:colon], " \t\r\n"))
		value := string(bytes.Trim(line[colon+1:], " \t\r\n"))
		if !httpguts.ValidHeaderFieldName(key) || !httpguts.ValidHeaderFieldValue(value) {
			c.fail(StatusBadRequest)
			return
		}

		if _, dup := c.Headers[key]; !dup && len(c.Headers) >= c.settings.MaxHeaders {
			c.fail(StatusRequestHeaderFieldsTooLarge)
			return
		}
		c.Headers[key] = value

		pos += lineEnd + 2
	}

	c.head = pos
}
