// Package admin implements the second listener: a line-oriented
// control surface that inspects and hot-swaps the proxy's running
// configuration. It never touches client or back-end sockets
// directly — every mutating command is delegated to a Proxy.
package admin

import (
	"bufio"
	"context"
	"log/slog"
	"net"
	"strings"

	"github.com/google/uuid"

	"github.com/redishard/redishard/internal/netutil"
)

// Proxy is the orchestrator-level surface the admin commands act on.
// Implemented by internal/orchestrator.Orchestrator.
type Proxy interface {
	// Info returns a free-form single-line operational summary.
	Info() string
	// LoadConfig loads and validates a file into the staged slot.
	LoadConfig(path string) error
	// StagedConfig serializes the staged config, or reports none staged.
	StagedConfig() (text string, ok bool)
	// CurrentConfig serializes the running config.
	CurrentConfig() (text string, err error)
	// SwitchConfig atomically replaces the running config with the
	// staged one.
	SwitchConfig() error
	// Shutdown begins a cooperative shutdown of the whole process.
	Shutdown()
}

// Server is the admin listener.
type Server struct {
	proxy  Proxy
	logger *slog.Logger
}

// New constructs an admin Server bound to proxy.
func New(proxy Proxy, logger *slog.Logger) *Server {
	return &Server{proxy: proxy, logger: logger}
}

// Run binds addr and serves admin clients until ctx is canceled.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := netutil.Listen(ctx, addr)
	if err != nil {
		return err
	}
	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			return nil
		}
		go s.serveClient(conn)
	}
}

func (s *Server) serveClient(conn net.Conn) {
	defer conn.Close()
	sessionID := uuid.NewString()
	log := s.logger.With("admin_session", sessionID, "remote", conn.RemoteAddr().String())
	log.Debug("admin client connected")

	r := bufio.NewReader(conn)
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			log.Debug("admin client disconnected")
			return
		}
		cmd := strings.ToUpper(strings.TrimRight(line, "\r\n"))
		if cmd == "" {
			continue
		}
		log.Debug("admin command received", "command", cmd)

		reply, closeAfter := s.dispatch(cmd, r, log)
		if _, err := conn.Write(reply); err != nil {
			return
		}
		if closeAfter {
			return
		}
	}
}

// dispatch executes one admin command and returns its RESP reply line.
// r is positioned just after the command line, so a command that
// takes an argument (LOADCONFIG) can read the next line from it.
func (s *Server) dispatch(cmd string, r *bufio.Reader, log *slog.Logger) (reply []byte, closeAfter bool) {
	switch cmd {
	case "PING":
		return simpleLine("PONG"), false

	case "INFO":
		return simpleLine(s.proxy.Info()), false

	case "LOADCONFIG":
		path, err := r.ReadString('\n')
		if err != nil {
			return errorLine("missing filepath argument"), false
		}
		path = strings.TrimRight(path, "\r\n")
		if path == "" {
			return errorLine("missing filepath argument"), false
		}
		if err := s.proxy.LoadConfig(path); err != nil {
			log.Error("admin loadconfig failed", "path", path, "error", err)
			return errorLine(err.Error()), false
		}
		return simpleLine(path), false

	case "STAGEDCONFIG":
		text, ok := s.proxy.StagedConfig()
		if !ok {
			return simpleLine("No config staged."), false
		}
		return simpleLine(text), false

	case "CONFIGINFO":
		text, err := s.proxy.CurrentConfig()
		if err != nil {
			return errorLine(err.Error()), false
		}
		return simpleLine(text), false

	case "SWITCHCONFIG":
		if err := s.proxy.SwitchConfig(); err != nil {
			log.Error("admin switchconfig failed", "error", err)
			return errorLine(err.Error()), false
		}
		log.Info("admin switchconfig succeeded")
		return simpleLine("OK"), false

	case "SHUTDOWN":
		log.Info("admin shutdown requested")
		s.proxy.Shutdown()
		return simpleLine("OK"), true

	default:
		log.Debug("unknown admin command", "command", cmd)
		return errorLine("Unknown command"), false
	}
}

func simpleLine(s string) []byte {
	out := make([]byte, 0, len(s)+3)
	out = append(out, '+')
	out = append(out, s...)
	return append(out, '\r', '\n')
}

func errorLine(s string) []byte {
	out := make([]byte, 0, len(s)+3)
	out = append(out, '-')
	out = append(out, s...)
	return append(out, '\r', '\n')
}
