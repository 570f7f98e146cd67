// Package backend owns a single connection to one RESP server: a
// writer that serializes outgoing commands, a reader that matches
// replies to requests strictly by arrival order, and the
// connect/reconnect state machine governing both.
package backend

import (
	"context"
	"log/slog"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redishard/redishard/internal/proxyerr"
	"github.com/redishard/redishard/internal/resp"
	"github.com/redishard/redishard/internal/stats"
)

// Config describes one back-end's dial target and policy.
type Config struct {
	ID           int
	Addr         string
	Auth         string
	DB           int
	Weight       int
	Timeout      time.Duration // per-request deadline
	FailureLimit int
	RetryTimeout time.Duration

	// Stats, if non-nil, receives reconnect/ejection/timeout counts.
	// A nil Stats is safe; every increment is a no-op.
	Stats *stats.Counters
}

// Request is one command submitted to a back-end. ClientID identifies
// the originating client and is recorded in the request's FIFO entry.
// Handshake commands are not sent as Requests; see handshake.
type Request struct {
	ClientID int
	Payload  []byte
	Promise  func(reply []byte, err error)
}

type pendingEntry struct {
	clientID int
	deadline time.Time
	promise  func(reply []byte, err error)
}

// Backend is a single server connection. Writes are serialized by the
// goroutine started by Run; Submit and State are safe to call from
// other goroutines.
type Backend struct {
	cfg    Config
	logger *slog.Logger

	// onStateChange is invoked (from Run's goroutine) whenever the
	// state changes, so a pool can rebuild its distribution.
	onStateChange func(id int, s State)

	reqs chan Request
	dead int32

	mu           sync.Mutex
	state        State
	conn         net.Conn
	pending      []pendingEntry
	failureCount int
	generation   int // incremented every reconnect; read loops exit stale

	reqTimer *time.Timer

	// connectAttempts is touched only from Run's goroutine (the only
	// caller of connectAndServe), so it needs no lock.
	connectAttempts int
}

// New constructs a Backend. Call Run to start it.
func New(cfg Config, logger *slog.Logger, onStateChange func(id int, s State)) *Backend {
	return &Backend{
		cfg:           cfg,
		logger:        logger,
		onStateChange: onStateChange,
		reqs:          make(chan Request, 256),
	}
}

// ID returns the back-end's configured identifier.
func (b *Backend) ID() int { return b.cfg.ID }

// Addr returns the back-end's dial address, its stable ring identity.
func (b *Backend) Addr() string { return b.cfg.Addr }

// Weight returns the back-end's configured ring weight.
func (b *Backend) Weight() int { return b.cfg.Weight }

// State returns the current connection state.
func (b *Backend) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Submit enqueues req for writing. It never blocks past the reqs
// channel's buffer; callers run on their own goroutine (a client
// session or the admin surface) and must not assume synchronous
// delivery.
func (b *Backend) Submit(req Request) error {
	if atomic.LoadInt32(&b.dead) == 1 {
		return proxyerr.ErrBackendUnavailable
	}
	select {
	case b.reqs <- req:
		return nil
	default:
		return proxyerr.ErrBackendUnavailable
	}
}

// Run drives the back-end until ctx is canceled: dialing, handshaking,
// reconnecting on failure, and serializing writes against whatever
// connection is currently live. It returns once shut down cleanly.
func (b *Backend) Run(ctx context.Context) {
	defer atomic.StoreInt32(&b.dead, 1)
	defer b.drainAll(proxyerr.ErrBackendUnavailable)

	connDied := make(chan struct{})
	close(connDied) // trigger an immediate first connect attempt

	for {
		select {
		case <-ctx.Done():
			b.closeConn()
			return
		case <-connDied:
			connDied = b.connectAndServe(ctx)
		case req := <-b.reqs:
			b.handleRequest(req)
		}
	}
}

// connectAndServe attempts one connect+handshake cycle; on success it
// starts the reader loop and returns a channel that closes when that
// connection dies (read error or forced close). On failure it waits
// out RetryTimeout (or ctx) and returns a channel that is already
// closed, so Run retries immediately afterward.
func (b *Backend) connectAndServe(ctx context.Context) chan struct{} {
	b.connectAttempts++
	if b.connectAttempts > 1 {
		b.cfg.Stats.IncReconnects()
	}
	b.setState(Connecting)

	conn, err := net.DialTimeout("tcp", b.cfg.Addr, dialTimeout(b.cfg.Timeout))
	if err != nil {
		b.logger.Warn("backend dial failed", "addr", b.cfg.Addr, "err", err)
		return b.backoff(ctx)
	}

	b.mu.Lock()
	b.conn = conn
	b.generation++
	gen := b.generation
	b.mu.Unlock()
	b.setState(Connected)

	if err := b.handshake(ctx, conn); err != nil {
		b.logger.Warn("backend handshake failed", "addr", b.cfg.Addr, "err", err)
		conn.Close()
		b.setState(Disconnected)
		return b.backoff(ctx)
	}

	b.setState(Ready)
	died := make(chan struct{})
	go b.readLoop(conn, gen, died)
	return died
}

func dialTimeout(requestTimeout time.Duration) time.Duration {
	if requestTimeout <= 0 {
		return 5 * time.Second
	}
	return requestTimeout
}

// backoff waits RetryTimeout (or ctx cancellation) and returns a
// closed channel so the caller's select fires again immediately.
func (b *Backend) backoff(ctx context.Context) chan struct{} {
	immediate := make(chan struct{})
	close(immediate)

	retry := b.cfg.RetryTimeout
	if retry <= 0 {
		return immediate
	}
	t := time.NewTimer(retry)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
	return immediate
}

func (b *Backend) setState(s State) {
	b.mu.Lock()
	b.state = s
	b.mu.Unlock()
	if b.onStateChange != nil {
		b.onStateChange(b.cfg.ID, s)
	}
}

func (b *Backend) closeConn() {
	b.mu.Lock()
	conn := b.conn
	b.conn = nil
	b.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// handleRequest is called only from Run's goroutine: it is the single
// writer, preserving the invariant that no byte reaches the socket
// once the back-end has left Ready.
func (b *Backend) handleRequest(req Request) {
	b.mu.Lock()
	state := b.state
	conn := b.conn
	b.mu.Unlock()

	if state != Ready || conn == nil {
		if req.Promise != nil {
			req.Promise(nil, proxyerr.ErrNotConnected)
		}
		return
	}

	var deadline time.Time
	if b.cfg.Timeout > 0 {
		deadline = time.Now().Add(b.cfg.Timeout)
	}
	// Enqueue before writing, so the reader can never see this
	// request's reply ahead of its FIFO entry.
	b.mu.Lock()
	b.pending = append(b.pending, pendingEntry{clientID: req.ClientID, deadline: deadline, promise: req.Promise})
	headChanged := len(b.pending) == 1
	b.mu.Unlock()

	if b.cfg.Timeout > 0 {
		conn.SetWriteDeadline(time.Now().Add(b.cfg.Timeout))
	}
	_, err := conn.Write(req.Payload)
	conn.SetWriteDeadline(time.Time{})
	if err != nil {
		// The reader's disconnect path fails the queued entry with
		// ErrBackendUnavailable once the socket is closed.
		b.failConn(conn)
		return
	}

	if headChanged && !deadline.IsZero() {
		b.armRequestTimer(deadline)
	}
}

// failConn marks the connection dead; the reader goroutine observes
// the same error and transitions state, so this only needs to force
// the socket closed to wake it.
func (b *Backend) failConn(conn net.Conn) {
	conn.Close()
}

// armRequestTimer (re-)schedules the timer that expires the FIFO
// head. It is always re-armed against the current head's deadline
// rather than left to a single long-lived timer, so a later request
// with a tighter deadline is never masked by an earlier one's timer.
func (b *Backend) armRequestTimer(deadline time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.reqTimer != nil {
		b.reqTimer.Stop()
	}
	wait := time.Until(deadline)
	if wait < 0 {
		wait = 0
	}
	b.reqTimer = time.AfterFunc(wait, b.expireHead)
}

// expireHead fires every head entry whose deadline has passed,
// counts each toward the failure limit, and ejects the back-end once
// the limit is crossed.
func (b *Backend) expireHead() {
	var toFail []pendingEntry
	var rearmAt time.Time
	rearmNeeded := false

	b.mu.Lock()
	now := time.Now()
	for len(b.pending) > 0 {
		head := b.pending[0]
		if head.deadline.IsZero() || head.deadline.After(now) {
			if !head.deadline.IsZero() {
				rearmAt = head.deadline
				rearmNeeded = true
			}
			break
		}
		toFail = append(toFail, head)
		b.pending = b.pending[1:]
		b.failureCount++
	}
	ejected := b.failureCount >= b.cfg.FailureLimit && b.cfg.FailureLimit > 0
	conn := b.conn
	b.mu.Unlock()

	for _, e := range toFail {
		b.cfg.Stats.IncTimeouts()
		if e.promise != nil {
			e.promise(nil, proxyerr.ErrRequestTimedOut)
		}
	}

	if ejected && conn != nil {
		b.cfg.Stats.IncEjections()
		b.setState(Disconnected)
		conn.Close()
		return
	}
	if rearmNeeded {
		b.armRequestTimer(rearmAt)
	}
}

// drainAll fails every pending and not-yet-sent request with err,
// used on final shutdown.
func (b *Backend) drainAll(err error) {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	if b.reqTimer != nil {
		b.reqTimer.Stop()
	}
	b.mu.Unlock()

	for _, e := range pending {
		if e.promise != nil {
			e.promise(nil, err)
		}
	}

	for {
		select {
		case req := <-b.reqs:
			if req.Promise != nil {
				req.Promise(nil, err)
			}
		default:
			return
		}
	}
}

// readLoop reads one frame per reply, in order, matching it against
// the FIFO head. gen guards against a stale reader outliving a
// reconnect: if the backend has moved on to a new generation, this
// loop's connection is already being torn down and it exits quietly.
func (b *Backend) readLoop(conn net.Conn, gen int, died chan struct{}) {
	defer close(died)
	defer func() {
		b.mu.Lock()
		stillCurrent := b.generation == gen
		b.mu.Unlock()
		if stillCurrent {
			b.setState(Disconnected)
			b.failPendingOnDisconnect()
		}
	}()

	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		frame, consumed, err := resp.ParseFrame(buf)
		if err == nil {
			buf = buf[consumed:]
			if !b.deliver(frame.Raw) {
				return
			}
			continue
		}
		if err != resp.ErrNeedMore {
			return
		}
		n, rerr := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if rerr != nil {
			return
		}
	}
}

// deliver pops the FIFO head and hands it raw. Returns false if the
// backend has been torn down (no head to deliver to), signaling the
// reader to stop.
func (b *Backend) deliver(raw []byte) bool {
	b.mu.Lock()
	if len(b.pending) == 0 {
		b.mu.Unlock()
		return false
	}
	head := b.pending[0]
	b.pending = b.pending[1:]
	b.failureCount = 0
	if b.reqTimer != nil {
		b.reqTimer.Stop()
	}
	var rearmAt time.Time
	rearmNeeded := false
	if len(b.pending) > 0 && !b.pending[0].deadline.IsZero() {
		rearmAt = b.pending[0].deadline
		rearmNeeded = true
	}
	b.mu.Unlock()

	if rearmNeeded {
		b.armRequestTimer(rearmAt)
	}

	if head.promise != nil {
		// A client that has already disconnected passes a nil promise
		// (or one that discards silently); either way the FIFO slot
		// is still consumed in order.
		head.promise(raw, nil)
	}
	return true
}

func (b *Backend) failPendingOnDisconnect() {
	b.mu.Lock()
	pending := b.pending
	b.pending = nil
	if b.reqTimer != nil {
		b.reqTimer.Stop()
	}
	b.mu.Unlock()

	for _, e := range pending {
		if e.promise != nil {
			e.promise(nil, proxyerr.ErrBackendUnavailable)
		}
	}
}
