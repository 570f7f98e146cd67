package backend

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/redishard/redishard/internal/resp"
)

// handshake runs AUTH (if configured) → SELECT (if db != 0) → PING (if
// a request timeout is configured), synchronously, before the
// connection is handed to the reader loop and marked Ready. Each step
// must see its exact expected reply (+OK for AUTH/SELECT, +PONG for
// PING); any failure (wrong reply, protocol error, I/O error) aborts
// the connection attempt and the back-end is left/returned to
// Disconnected rather than promoted to Ready.
func (b *Backend) handshake(ctx context.Context, conn net.Conn) error {
	if b.cfg.Auth != "" {
		if err := b.handshakeStep(conn, resp.EncodeCommand("AUTH", b.cfg.Auth), "OK"); err != nil {
			return fmt.Errorf("AUTH: %w", err)
		}
	}
	if b.cfg.DB != 0 {
		if err := b.handshakeStep(conn, resp.EncodeCommand("SELECT", fmt.Sprint(b.cfg.DB)), "OK"); err != nil {
			return fmt.Errorf("SELECT: %w", err)
		}
	}
	if b.cfg.Timeout > 0 {
		if err := b.handshakeStep(conn, resp.EncodeCommand("PING"), "PONG"); err != nil {
			return fmt.Errorf("PING: %w", err)
		}
	}
	return nil
}

// handshakeStep writes cmd and reads exactly one frame back, requiring
// it be a simple string whose payload matches want exactly (case
// sensitive, as the wire protocol specifies). Any error reply, any
// other mismatched reply, or a malformed/partial frame fails the step.
func (b *Backend) handshakeStep(conn net.Conn, cmd []byte, want string) error {
	deadline := time.Now().Add(handshakeTimeout(b.cfg.Timeout))
	conn.SetDeadline(deadline)
	defer conn.SetDeadline(time.Time{})

	if _, err := conn.Write(cmd); err != nil {
		return err
	}

	buf := make([]byte, 0, 256)
	tmp := make([]byte, 256)
	for {
		frame, consumed, err := resp.ParseFrame(buf)
		if err == nil {
			buf = buf[consumed:]
			if frame.Kind == resp.ErrorReply {
				return fmt.Errorf("backend replied %s", frame.Payload)
			}
			if frame.Kind != resp.SimpleString || string(frame.Payload) != want {
				return fmt.Errorf("backend replied %q, expected +%s", frame.Raw, want)
			}
			return nil
		}
		if err != resp.ErrNeedMore {
			return err
		}
		n, rerr := conn.Read(tmp)
		if n > 0 {
			buf = append(buf, tmp[:n]...)
		}
		if rerr != nil {
			return rerr
		}
	}
}

func handshakeTimeout(requestTimeout time.Duration) time.Duration {
	if requestTimeout <= 0 {
		return 2 * time.Second
	}
	return requestTimeout
}
