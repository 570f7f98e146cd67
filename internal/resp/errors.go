package resp

import (
	"errors"

	"github.com/redishard/redishard/internal/proxyerr"
)

// FormatError renders err as the RESP error line a client or admin
// caller should see: a line beginning with '-' and terminated with
// "\r\n". This is the single place that formats error lines for pool
// clients; the admin surface formats its own replies (admin.errorLine).
func FormatError(err error) []byte {
	switch {
	case errors.Is(err, proxyerr.ErrNotConnected):
		return []byte("-ERROR: Not connected\r\n")
	case errors.Is(err, proxyerr.ErrRequestTimedOut):
		return []byte("-ERR RustProxy timed out\r\n")
	case errors.Is(err, proxyerr.ErrBackendUnavailable):
		return []byte("-ERR: Unavailable backend.\r\n")
	case errors.Is(err, proxyerr.ErrUnsupportedCommand):
		return []byte("-ERR unsupported command\r\n")
	case errors.Is(err, proxyerr.ErrMalformedCommand):
		return []byte("-ERR malformed command\r\n")
	case errors.Is(err, proxyerr.ErrProtocol):
		return []byte("-ERR protocol error\r\n")
	case errors.Is(err, proxyerr.ErrPoolReconfigured):
		return []byte("-ERR RustProxy: pool reconfigured, reconnect\r\n")
	default:
		return append(append([]byte("-ERR "), err.Error()...), '\r', '\n')
	}
}
