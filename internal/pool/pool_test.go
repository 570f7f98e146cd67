package pool

import (
	"bufio"
	"context"
	"io"
	"log/slog"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/redishard/redishard/internal/config"
)

// fakeRedis answers PING with +PONG (for the backend handshake) and
// every other command with +OK, tracking nothing; enough to exercise
// routing end to end.
func fakeRedis(t *testing.T) string {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				r := bufio.NewReader(conn)
				for {
					line, err := r.ReadString('\n')
					if err != nil {
						return
					}
					if len(line) == 0 || line[0] != '*' {
						continue
					}
					n := 0
					for i := 1; i < len(line); i++ {
						if line[i] == '\r' {
							break
						}
						n = n*10 + int(line[i]-'0')
					}
					var cmd string
					for i := 0; i < n; i++ {
						lenLine, _ := r.ReadString('\n')
						blen := 0
						for j := 1; j < len(lenLine); j++ {
							if lenLine[j] == '\r' {
								break
							}
							blen = blen*10 + int(lenLine[j]-'0')
						}
						payload := make([]byte, blen+2)
						_, _ = io.ReadFull(r, payload)
						if i == 0 {
							cmd = string(payload[:blen])
						}
					}
					if cmd == "PING" {
						conn.Write([]byte("+PONG\r\n"))
						continue
					}
					conn.Write([]byte("+OK\r\n"))
				}
			}(conn)
		}
	}()
	return ln.Addr().String()
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestPoolRoutesClientRequestToBackend(t *testing.T) {
	backendAddr := fakeRedis(t)

	cfg := config.Pool{
		Listen:         "127.0.0.1:0",
		Servers:        []config.Server{{Host: backendAddr, Weight: 1}},
		TimeoutMS:      200,
		FailureLimit:   3,
		RetryTimeoutMS: 50,
		Distribution:   "Modula",
		HashFunction:   "Fnv1a64",
	}

	p, err := New("main", cfg, testLogger(), 100, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	p.listener = ln

	go func() {
		for _, b := range p.backends {
			go b.Run(ctx)
		}
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			p.acceptClient(ctx, conn)
		}
	}()

	require.Eventually(t, func() bool {
		for _, b := range p.backends {
			return b.State().String() == "ready"
		}
		return false
	}, time.Second, 5*time.Millisecond)

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = conn.Write([]byte("*3\r\n$3\r\nSET\r\n$1\r\na\r\n$1\r\n1\r\n"))
	require.NoError(t, err)

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	reply := make([]byte, 5)
	_, err = io.ReadFull(conn, reply)
	require.NoError(t, err)
	require.Equal(t, "+OK\r\n", string(reply))
}

func TestClientSessionsGetDistinctUUIDs(t *testing.T) {
	cfg := config.Pool{
		Listen:       "127.0.0.1:0",
		Servers:      []config.Server{{Host: "127.0.0.1:0", Weight: 1}},
		Distribution: "Modula",
		HashFunction: "Fnv1a64",
	}
	p, err := New("main", cfg, testLogger(), 100, nil)
	require.NoError(t, err)

	_, serverA := net.Pipe()
	_, serverB := net.Pipe()
	defer serverA.Close()
	defer serverB.Close()

	a := newClientSession(1, serverA, p)
	b := newClientSession(2, serverB, p)

	require.NotEmpty(t, a.sessionUUID)
	require.NotEmpty(t, b.sessionUUID)
	require.NotEqual(t, a.sessionUUID, b.sessionUUID)
}

func TestCloseClientsWritesFarewellWhenNotified(t *testing.T) {
	cfg := config.Pool{
		Listen:       "127.0.0.1:0",
		Servers:      []config.Server{{Host: "127.0.0.1:0", Weight: 1}},
		Distribution: "Modula",
		HashFunction: "Fnv1a64",
	}
	p, err := New("main", cfg, testLogger(), 100, nil)
	require.NoError(t, err)

	client, server := net.Pipe()
	defer client.Close()
	sess := newClientSession(1, server, p)
	p.clients[1] = sess

	done := make(chan struct{})
	var got []byte
	go func() {
		defer close(done)
		got, _ = io.ReadAll(client)
	}()

	p.CloseClients(true)
	<-done

	require.Equal(t, "-ERR RustProxy: pool reconfigured, reconnect\r\n", string(got))
}

func TestCloseClientsSilentWhenNotNotified(t *testing.T) {
	cfg := config.Pool{
		Listen:       "127.0.0.1:0",
		Servers:      []config.Server{{Host: "127.0.0.1:0", Weight: 1}},
		Distribution: "Modula",
		HashFunction: "Fnv1a64",
	}
	p, err := New("main", cfg, testLogger(), 100, nil)
	require.NoError(t, err)

	client, server := net.Pipe()
	defer client.Close()
	sess := newClientSession(1, server, p)
	p.clients[1] = sess

	done := make(chan struct{})
	var got []byte
	go func() {
		defer close(done)
		got, _ = io.ReadAll(client)
	}()

	p.CloseClients(false)
	<-done

	require.Empty(t, got)
}
