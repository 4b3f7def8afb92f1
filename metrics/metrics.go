// Package metrics provides lock-free counters for the control-connection
// server. All methods are safe for concurrent use, and a nil *Collector is a
// valid no-op receiver so callers never need to nil-check.
package metrics

import (
	"sync/atomic"
	"time"
)

// Collector tracks runtime statistics of one server.
type Collector struct {
	startTime time.Time

	connectionsActive   atomic.Int64
	connectionsTotal    atomic.Int64
	connectionsRejected atomic.Int64
	acceptErrors        atomic.Int64
	commands            atomic.Int64
	unknownCommands     atomic.Int64
	workerFaults        atomic.Int64

	replies [6]atomic.Int64 // indexed by reply class 1..5
}

// New creates a collector with the start time set to now.
func New() *Collector {
	return &Collector{startTime: time.Now()}
}

// ── Connections ──────────────────────────────────────────────────────

// ConnectionOpened increments both the active and total counters.
func (c *Collector) ConnectionOpened() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(1)
	c.connectionsTotal.Add(1)
}

// ConnectionClosed decrements the active connection counter.
func (c *Collector) ConnectionClosed() {
	if c == nil {
		return
	}
	c.connectionsActive.Add(-1)
}

// ConnectionRejected records a connection turned away at the session bound.
func (c *Collector) ConnectionRejected() {
	if c == nil {
		return
	}
	c.connectionsRejected.Add(1)
}

// AcceptError records a transient accept failure.
func (c *Collector) AcceptError() {
	if c == nil {
		return
	}
	c.acceptErrors.Add(1)
}

// ── Commands ─────────────────────────────────────────────────────────

// CommandDispatched records one command and the class of its reply.
func (c *Collector) CommandDispatched(replyCode int) {
	if c == nil {
		return
	}
	c.commands.Add(1)
	c.ReplySent(replyCode)
}

// ReplySent records a reply outside of command dispatch (greeting, 421).
func (c *Collector) ReplySent(code int) {
	if c == nil {
		return
	}
	if class := code / 100; class >= 1 && class <= 5 {
		c.replies[class].Add(1)
	}
}

// UnknownCommand records a command that had no handler.
func (c *Collector) UnknownCommand() {
	if c == nil {
		return
	}
	c.unknownCommands.Add(1)
}

// WorkerFault records a recovered panic or encode failure in a worker.
func (c *Collector) WorkerFault() {
	if c == nil {
		return
	}
	c.workerFaults.Add(1)
}

// ── Snapshot ─────────────────────────────────────────────────────────

// Snapshot is a point-in-time copy of every counter.
type Snapshot struct {
	Uptime              time.Duration    `json:"uptime"`
	ConnectionsActive   int64            `json:"connections_active"`
	ConnectionsTotal    int64            `json:"connections_total"`
	ConnectionsRejected int64            `json:"connections_rejected"`
	AcceptErrors        int64            `json:"accept_errors"`
	Commands            int64            `json:"commands"`
	UnknownCommands     int64            `json:"unknown_commands"`
	WorkerFaults        int64            `json:"worker_faults"`
	Replies             map[string]int64 `json:"replies"`
}

// Snapshot returns the current counter values. A nil collector returns the
// zero Snapshot.
func (c *Collector) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}

	replies := make(map[string]int64, 5)
	for class := 1; class <= 5; class++ {
		if n := c.replies[class].Load(); n > 0 {
			replies[string(rune('0'+class))+"xx"] = n
		}
	}

	return Snapshot{
		Uptime:              time.Since(c.startTime),
		ConnectionsActive:   c.connectionsActive.Load(),
		ConnectionsTotal:    c.connectionsTotal.Load(),
		ConnectionsRejected: c.connectionsRejected.Load(),
		AcceptErrors:        c.acceptErrors.Load(),
		Commands:            c.commands.Load(),
		UnknownCommands:     c.unknownCommands.Load(),
		WorkerFaults:        c.workerFaults.Load(),
		Replies:             replies,
	}
}
