package resp

import (
	"bytes"

	"github.com/redishard/redishard/internal/proxyerr"
)

// keyPosition describes where a command's routing key lives in its
// argument array.
type keyPosition int

const (
	// positionUnsupported commands never reach a backend; the router
	// must answer the client directly with a RESP error.
	positionUnsupported keyPosition = iota
	// positionNext: the key is the array element immediately after
	// the command name (GET k, SET k v, ...).
	positionNext
	// positionEval: the key is the 4th array element, after verifying
	// the numkeys element (3rd) is exactly "1" — EVAL script numkeys
	// key.
	positionEval
)

// commandTable classifies every command this proxy knows how to
// route by the position of its routing key. Command names are
// matched case-insensitively. Anything absent from this table is
// treated as positionUnsupported.
var commandTable = map[string]keyPosition{
	"GET":       positionNext,
	"SET":       positionNext,
	"SETNX":     positionNext,
	"SETEX":     positionNext,
	"PSETEX":    positionNext,
	"APPEND":    positionNext,
	"STRLEN":    positionNext,
	"GETSET":    positionNext,
	"GETDEL":    positionNext,
	"INCR":      positionNext,
	"DECR":      positionNext,
	"INCRBY":    positionNext,
	"DECRBY":    positionNext,
	"INCRBYFLOAT": positionNext,
	"DEL":       positionNext,
	"EXISTS":    positionNext,
	"EXPIRE":    positionNext,
	"PEXPIRE":   positionNext,
	"EXPIREAT":  positionNext,
	"TTL":       positionNext,
	"PTTL":      positionNext,
	"PERSIST":   positionNext,
	"TYPE":      positionNext,

	"HGET":    positionNext,
	"HSET":    positionNext,
	"HDEL":    positionNext,
	"HGETALL": positionNext,
	"HMGET":   positionNext,
	"HMSET":   positionNext,
	"HEXISTS": positionNext,
	"HINCRBY": positionNext,
	"HLEN":    positionNext,
	"HKEYS":   positionNext,
	"HVALS":   positionNext,

	"LPUSH":  positionNext,
	"RPUSH":  positionNext,
	"LPOP":   positionNext,
	"RPOP":   positionNext,
	"LRANGE": positionNext,
	"LLEN":   positionNext,
	"LSET":   positionNext,
	"LINDEX": positionNext,
	"LTRIM":  positionNext,

	"SADD":      positionNext,
	"SREM":      positionNext,
	"SMEMBERS":  positionNext,
	"SISMEMBER": positionNext,
	"SCARD":     positionNext,

	"ZADD":             positionNext,
	"ZREM":             positionNext,
	"ZSCORE":           positionNext,
	"ZRANGE":           positionNext,
	"ZRANGEBYSCORE":    positionNext,
	"ZINCRBY":          positionNext,
	"ZCARD":            positionNext,

	"MGET": positionNext, // handled specially by the multi-key aggregator, see internal/pool

	"EVAL":     positionEval,
	"EVALSHA":  positionEval,

	"PING": positionUnsupported,
	"INFO": positionUnsupported,
}

// ExtractRoutingKey extracts the routing key from a parsed client
// command. f must be the Array frame that is the whole command.
//
// Returns proxyerr.ErrUnsupportedCommand for a command with no table
// entry (or an explicit positionUnsupported entry) — the caller must
// answer the client directly without contacting any backend.
// Returns proxyerr.ErrMalformedCommand for a structurally invalid
// command (too few elements, non-bulk/null key element, or an EVAL
// whose numkeys element isn't exactly "1").
func ExtractRoutingKey(f Frame) ([]byte, error) {
	if f.Kind != Array || f.Null || len(f.Elements) == 0 {
		return nil, proxyerr.ErrMalformedCommand
	}
	cmdEl := f.Elements[0]
	if cmdEl.Kind != Bulk || cmdEl.Null {
		return nil, proxyerr.ErrMalformedCommand
	}
	pos, ok := commandTable[upperASCII(cmdEl.Payload)]
	if !ok {
		pos = positionUnsupported
	}

	switch pos {
	case positionNext:
		if len(f.Elements) < 2 {
			return nil, proxyerr.ErrMalformedCommand
		}
		keyEl := f.Elements[1]
		if keyEl.Kind != Bulk || keyEl.Null {
			return nil, proxyerr.ErrMalformedCommand
		}
		return keyEl.Payload, nil

	case positionEval:
		if len(f.Elements) < 4 {
			return nil, proxyerr.ErrMalformedCommand
		}
		numkeysEl := f.Elements[2]
		if numkeysEl.Kind != Bulk || numkeysEl.Null || string(numkeysEl.Payload) != "1" {
			return nil, proxyerr.ErrMalformedCommand
		}
		keyEl := f.Elements[3]
		if keyEl.Kind != Bulk || keyEl.Null {
			return nil, proxyerr.ErrMalformedCommand
		}
		return keyEl.Payload, nil

	default:
		return nil, proxyerr.ErrUnsupportedCommand
	}
}

// CommandName returns the uppercased command name of f, the array
// frame's first element. ok is false if f isn't a well-formed command
// array.
func CommandName(f Frame) (string, bool) {
	if f.Kind != Array || f.Null || len(f.Elements) == 0 {
		return "", false
	}
	cmdEl := f.Elements[0]
	if cmdEl.Kind != Bulk || cmdEl.Null {
		return "", false
	}
	return upperASCII(cmdEl.Payload), true
}

func upperASCII(b []byte) string {
	out := make([]byte, len(b))
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			c -= 'a' - 'A'
		}
		out[i] = c
	}
	return string(out)
}

// HashTag extracts the hash tag substring from key per the configured
// delimiters. If a is empty, tagging is disabled and key
// is returned unchanged. If b is empty, it defaults to a. If a is not
// found in key, or b is not found after a's occurrence, key is
// returned unchanged.
func HashTag(key []byte, a, b string) []byte {
	if a == "" {
		return key
	}
	if b == "" {
		b = a
	}
	start := bytes.Index(key, []byte(a))
	if start < 0 {
		return key
	}
	start += len(a)
	end := bytes.Index(key[start:], []byte(b))
	if end < 0 {
		return key
	}
	return key[start : start+end]
}
