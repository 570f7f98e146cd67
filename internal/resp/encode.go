package resp

import "strconv"

// EncodeCommand renders args as a RESP array of bulk strings, the wire
// shape every command the proxy issues to a backend (handshake
// commands, CLUSTER SLOTS probes) takes.
func EncodeCommand(args ...string) []byte {
	out := make([]byte, 0, 32)
	out = append(out, '*')
	out = strconv.AppendInt(out, int64(len(args)), 10)
	out = append(out, crlf...)
	for _, a := range args {
		out = append(out, '$')
		out = strconv.AppendInt(out, int64(len(a)), 10)
		out = append(out, crlf...)
		out = append(out, a...)
		out = append(out, crlf...)
	}
	return out
}

// EncodeArray wraps pre-encoded frames into a single RESP array frame
// — used by the multi-key aggregator to reassemble a fanned-out MGET's
// per-shard replies into one reply.
func EncodeArray(elements [][]byte) []byte {
	out := make([]byte, 0, 32)
	out = append(out, '*')
	out = strconv.AppendInt(out, int64(len(elements)), 10)
	out = append(out, crlf...)
	for _, e := range elements {
		out = append(out, e...)
	}
	return out
}
