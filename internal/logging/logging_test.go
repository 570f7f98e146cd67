package logging

import (
	"bytes"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewAcceptsUnknownFormat(t *testing.T) {
	logger, closer := New("info", "unknown-format", "")
	defer closer.Close()
	require.NotNil(t, logger)
}

func TestNewWritesToFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "redishard.log")

	logger, closer := New("debug", "text", path)
	logger.Info("hello", "k", "v")
	closer.Close()

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Contains(t, string(data), "hello")
}

func TestNewRedactsAuthAttribute(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(newRedactingHandler(slog.NewTextHandler(&buf, nil)))
	logger.Info("backend connect", "auth", "s3cret", "addr", "127.0.0.1:6379")

	out := buf.String()
	assert.Contains(t, out, "[REDACTED]")
	assert.NotContains(t, out, "s3cret")
	assert.Contains(t, out, "127.0.0.1:6379")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelWarn, parseLevel("warn"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}
