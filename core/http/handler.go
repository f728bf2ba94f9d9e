package http

import "github.com/sirupsen/logrus"

// Outcome tells the reactor what to do with a connection after Handle
type Outcome int

const (
	// OutcomeRearm re-enables readiness reporting for the connection
	OutcomeRearm Outcome = iota
	// OutcomeClose tears the connection down
	OutcomeClose
)

func (o Outcome) String() string {
	if o == OutcomeClose {
		return "close"
	}
	return "rearm"
}

// Handle runs one read → parse → respond cycle for a readiness delivery.
// The caller must own c exclusively and may re-arm only after Handle
// returns.
func Handle(c *RequestContext) Outcome {
	c.reset()

	if _, err := c.fill(); err != nil {
		c.log.WithError(err).Debug("read failed")
		return OutcomeClose
	}
	if c.Buffered() == 0 {
		// peer closed, nothing to answer
		return OutcomeClose
	}
	if !c.eof && !c.full() && !c.complete() {
		// the rest of the header block is still in flight
		return OutcomeRearm
	}

	c.parseRequestLine()
	c.parseHeaders()
	c.respond()

	if c.Status != StatusOK {
		c.writeError()
		c.discard()
	}

	c.log.WithFields(logrus.Fields{
		"method": c.Method,
		"uri":    c.URI,
		"status": int(c.Status),
	}).Info("request")

	if c.broken {
		return OutcomeClose
	}
	return OutcomeRearm
}
