// Package logging wires up the proxy's structured logger.
//
// The setup mirrors the "pick a level and format, write to stdout and
// optionally a file" shape used elsewhere in the ecosystem for small
// daemons: a single New that returns a ready-to-use *slog.Logger and an
// io.Closer for whatever backing file was opened.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// New builds a slog.Logger writing to stdout (and, if filePath is
// non-empty, additionally to that file) at the given level and in the
// given format ("json" or "text"; anything else defaults to "text"
// since this proxy's logs are mostly read by a human operator's
// terminal rather than shipped to a log pipeline).
//
// AUTH passwords and admin credentials are scrubbed from logged
// attributes by wrapping the handler in a redactingHandler; see
// redact.go.
func New(level, format, filePath string) (*slog.Logger, io.Closer) {
	opts := &slog.HandlerOptions{Level: parseLevel(level)}

	var w io.Writer = os.Stdout
	closer := io.NopCloser(strings.NewReader(""))

	if filePath != "" {
		f, err := os.OpenFile(filePath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			fmt.Fprintf(os.Stderr, "redishard: could not open log file %q: %v (logging to stdout only)\n", filePath, err)
		} else {
			w = io.MultiWriter(os.Stdout, f)
			closer = f
		}
	}

	var handler slog.Handler
	switch strings.ToLower(format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	return slog.New(newRedactingHandler(handler)), closer
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
