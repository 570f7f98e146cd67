package pool

import (
	"context"
	"net"
	"sync"

	"github.com/google/uuid"

	"github.com/redishard/redishard/internal/backend"
	"github.com/redishard/redishard/internal/proxyerr"
	"github.com/redishard/redishard/internal/resp"
)

// pendingReply is one slot in a client's strict reply order. done is
// always buffered by 1 so a backend's promise callback never blocks
// even after the client session has torn down — satisfying the
// "reply discarded silently" boundary behaviour for a client that
// disconnected mid-request.
type pendingReply struct {
	done chan []byte
}

// clientSession owns one accepted client connection: a reader that
// parses and dispatches commands in arrival order, and a writer that
// replies in that same order regardless of which back-end (or how
// many, for a fanned-out MGET) answered first.
type clientSession struct {
	id   int64
	conn net.Conn
	pool *Pool

	// sessionUUID tags every log line this session emits, for log
	// correlation only — it never appears on the wire and is never
	// the identifier routing/registry code keys on (that stays id,
	// the small dense integer).
	sessionUUID string

	order chan *pendingReply

	// writeMu serializes writes to conn between writeLoop and an
	// out-of-band farewell write (sendFarewell), so the two can never
	// interleave into a torn frame on the wire.
	writeMu sync.Mutex
}

func newClientSession(id int64, conn net.Conn, p *Pool) *clientSession {
	return &clientSession{
		id:          id,
		conn:        conn,
		pool:        p,
		sessionUUID: uuid.NewString(),
		order:       make(chan *pendingReply, 4096),
	}
}

func (s *clientSession) run(ctx context.Context) {
	defer s.conn.Close()

	log := s.pool.logger.With("client_session", s.sessionUUID, "client_id", s.id, "remote", s.conn.RemoteAddr())
	log.Debug("client connected")
	defer log.Debug("client disconnected")

	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop()
	}()

	s.readLoop()
	close(s.order)
	<-writerDone
}

func (s *clientSession) writeLoop() {
	for p := range s.order {
		reply, ok := <-p.done
		if !ok {
			return
		}
		s.writeMu.Lock()
		_, err := s.conn.Write(reply)
		s.writeMu.Unlock()
		if err != nil {
			return
		}
	}
}

// sendFarewell writes a single error line directly to the connection,
// outside the normal reply-ordering path: used by SWITCHCONFIG to
// notify a client being dropped, which has no in-flight pendingReply
// of its own. writeMu keeps this from interleaving with writeLoop.
func (s *clientSession) sendFarewell(err error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	s.conn.Write(resp.FormatError(err))
}

func (s *clientSession) readLoop() {
	buf := make([]byte, 0, 4096)
	tmp := make([]byte, 4096)
	for {
		frame, consumed, err := resp.ParseFrame(buf)
		if err == nil {
			buf = buf[consumed:]
			if !s.dispatch(frame) {
				return
			}
			continue
		}
		if err != resp.ErrNeedMore {
			return
		}
		n, rerr := s.conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if rerr != nil {
			return
		}
	}
}

// dispatch admits one parsed command frame, reserving its place in
// reply order before routing it. Returns false if the frame is
// malformed enough that the connection itself should be dropped.
func (s *clientSession) dispatch(frame resp.Frame) bool {
	if frame.Kind != resp.Array || frame.Null {
		s.replyError(proxyerr.ErrProtocol)
		return false
	}

	p := &pendingReply{done: make(chan []byte, 1)}
	s.order <- p

	name, ok := resp.CommandName(frame)
	if ok && name == "MGET" {
		s.handleMGet(frame, p)
	} else {
		s.handleSingle(frame, p)
	}
	return true
}

func (s *clientSession) replyError(err error) {
	p := &pendingReply{done: make(chan []byte, 1)}
	s.order <- p
	p.done <- resp.FormatError(err)
}

func (s *clientSession) hashTagDelims() (string, string) {
	tag := s.pool.cfg.HashTag
	switch len(tag) {
	case 0:
		return "", ""
	case 1:
		return tag, tag
	default:
		return tag[:1], tag[1:2]
	}
}

func (s *clientSession) handleSingle(frame resp.Frame, p *pendingReply) {
	key, err := resp.ExtractRoutingKey(frame)
	if err != nil {
		p.done <- resp.FormatError(err)
		return
	}
	a, b := s.hashTagDelims()
	tagged := resp.HashTag(key, a, b)

	be, err := s.pool.routeSingle(tagged)
	if err != nil {
		p.done <- resp.FormatError(proxyerr.ErrBackendUnavailable)
		return
	}
	s.pool.stats.IncRequestsRouted()

	err = be.Submit(backend.Request{
		ClientID: int(s.id),
		Payload:  frame.Raw,
		Promise: func(reply []byte, err error) {
			if err != nil {
				p.done <- resp.FormatError(err)
				return
			}
			p.done <- reply
		},
	})
	if err != nil {
		p.done <- resp.FormatError(err)
	}
}

// handleMGet fans a multi-key GET out to one GET per key, each
// possibly on a different shard, and gathers the replies back into a
// single RESP array in the client's original key order.
func (s *clientSession) handleMGet(frame resp.Frame, p *pendingReply) {
	keys := frame.Elements[1:]
	if len(keys) == 0 {
		p.done <- resp.FormatError(proxyerr.ErrMalformedCommand)
		return
	}

	replies := make([][]byte, len(keys))
	var mu sync.Mutex
	remaining := len(keys)

	record := func(idx int, data []byte) {
		mu.Lock()
		replies[idx] = data
		remaining--
		done := remaining == 0
		mu.Unlock()
		if done {
			p.done <- resp.EncodeArray(replies)
		}
	}

	a, b := s.hashTagDelims()
	for i, keyFrame := range keys {
		idx := i
		if keyFrame.Kind != resp.Bulk || keyFrame.Null {
			record(idx, resp.FormatError(proxyerr.ErrMalformedCommand))
			continue
		}
		tagged := resp.HashTag(keyFrame.Payload, a, b)
		be, err := s.pool.routeSingle(tagged)
		if err != nil {
			record(idx, resp.FormatError(proxyerr.ErrBackendUnavailable))
			continue
		}
		s.pool.stats.IncRequestsRouted()
		cmd := resp.EncodeCommand("GET", string(keyFrame.Payload))
		submitErr := be.Submit(backend.Request{
			ClientID: int(s.id),
			Payload:  cmd,
			Promise: func(reply []byte, err error) {
				if err != nil {
					record(idx, resp.FormatError(err))
					return
				}
				record(idx, reply)
			},
		})
		if submitErr != nil {
			record(idx, resp.FormatError(submitErr))
		}
	}
}
