// Package stats holds the proxy's in-process counters. This is not a
// metrics-formatting surface — there is no exporter, no Prometheus
// registry — just a small set of atomic counters read back by the
// admin INFO handler, grounded on original_source/src/stats.rs's
// request/timeout/ejection/reconnect tally.
package stats

import "sync/atomic"

// Counters is safe for concurrent use; every field is touched from
// whichever goroutine observes the corresponding event (a client
// session dispatching a request, a backend's timer or state machine).
type Counters struct {
	requestsRouted int64
	timeouts       int64
	ejections      int64
	reconnects     int64
}

// New returns a zeroed Counters.
func New() *Counters { return &Counters{} }

// IncRequestsRouted counts one client command successfully handed to
// a backend (not necessarily yet replied to).
func (c *Counters) IncRequestsRouted() {
	if c == nil {
		return
	}
	atomic.AddInt64(&c.requestsRouted, 1)
}

// IncTimeouts counts one request failed by a backend's request-timeout
// timer.
func (c *Counters) IncTimeouts() {
	if c == nil {
		return
	}
	atomic.AddInt64(&c.timeouts, 1)
}

// IncEjections counts one backend crossing its failure limit and
// being marked down.
func (c *Counters) IncEjections() {
	if c == nil {
		return
	}
	atomic.AddInt64(&c.ejections, 1)
}

// IncReconnects counts one backend connect attempt (successful or
// not) after the initial one.
func (c *Counters) IncReconnects() {
	if c == nil {
		return
	}
	atomic.AddInt64(&c.reconnects, 1)
}

// Snapshot is a point-in-time read of every counter.
type Snapshot struct {
	RequestsRouted int64
	Timeouts       int64
	Ejections      int64
	Reconnects     int64
}

// Snapshot reads every counter. A nil receiver returns a zero value,
// so callers that never wired a Counters still get a sane INFO line.
func (c *Counters) Snapshot() Snapshot {
	if c == nil {
		return Snapshot{}
	}
	return Snapshot{
		RequestsRouted: atomic.LoadInt64(&c.requestsRouted),
		Timeouts:       atomic.LoadInt64(&c.timeouts),
		Ejections:      atomic.LoadInt64(&c.ejections),
		Reconnects:     atomic.LoadInt64(&c.reconnects),
	}
}
