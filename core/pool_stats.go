package core

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/searchktools/static-server/core/observability"
	"github.com/searchktools/static-server/core/pools"
)

// Stats is a snapshot of engine activity
type Stats struct {
	State string `json:"state"`

	ActiveConnections int    `json:"active_connections"`
	Accepted          uint64 `json:"accepted"`
	Refused           uint64 `json:"refused"`
	Rejected          uint64 `json:"rejected"`
	Handled           uint64 `json:"handled"`
	Closed            uint64 `json:"closed"`

	Requests []observability.MethodSnapshot `json:"requests"`
	Workers  pools.WorkerPoolStats          `json:"workers"`
	Buffers  pools.BytePoolStats            `json:"buffers"`
}

// Stats returns engine, worker pool and buffer pool counters
func (e *Engine) Stats() Stats {
	return Stats{
		State:             e.State().String(),
		ActiveConnections: e.Active(),
		Accepted:          e.stats.accepted.Load(),
		Refused:           e.stats.refused.Load(),
		Rejected:          e.stats.rejected.Load(),
		Handled:           e.stats.handled.Load(),
		Closed:            e.stats.closed.Load(),
		Requests:          e.monitor.Snapshot(),
		Workers:           e.workerPool.Stats(),
		Buffers:           e.bytePool.Stats(),
	}
}

// StatsJSON returns statistics as a JSON string
func (e *Engine) StatsJSON() string {
	data, _ := json.MarshalIndent(e.Stats(), "", "  ")
	return string(data)
}

// StatsText returns statistics as human-readable text
func (e *Engine) StatsText() string {
	s := e.Stats()

	var methods strings.Builder
	for _, m := range s.Requests {
		fmt.Fprintf(&methods, "  %-6s count=%d 4xx=%d 5xx=%d avg=%v max=%v\n",
			m.Method, m.Count, m.ClientErrors, m.ServerErrors, m.Avg, m.Max)
	}

	return fmt.Sprintf(`Engine Statistics
=================

State: %s

Connections:
  Active:   %d
  Accepted: %d
  Refused:  %d
  Closed:   %d

Requests:
  Handled:  %d
  Rejected: %d
%s
Worker Pool:
  Workers:   %d
  Submitted: %d
  Completed: %d
  Panicked:  %d
  Pending:   %d

Buffers:
  Gets:   %d
  Puts:   %d
  Allocs: %d
`,
		s.State,
		s.ActiveConnections, s.Accepted, s.Refused, s.Closed,
		s.Handled, s.Rejected, methods.String(),
		s.Workers.NumWorkers, s.Workers.TasksSubmitted, s.Workers.TasksCompleted, s.Workers.TasksPanicked, s.Workers.TasksPending,
		s.Buffers.Gets, s.Buffers.Puts, s.Buffers.Allocs,
	)
}
