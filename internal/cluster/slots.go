package cluster

import (
	"fmt"

	"github.com/redishard/redishard/internal/proxyerr"
	"github.com/redishard/redishard/internal/resp"
)

// NumSlots is the fixed Redis Cluster slot count.
const NumSlots = 16384

// ParseSlotsReply decodes a CLUSTER SLOTS reply into a 16384-entry
// slot→"host:port" map. Slots outside any returned range are left
// empty (""), meaning unowned/unknown.
func ParseSlotsReply(f resp.Frame) ([NumSlots]string, error) {
	var slots [NumSlots]string
	if f.Kind != resp.Array || f.Null {
		return slots, proxyerr.ErrProtocol
	}
	for _, rangeFrame := range f.Elements {
		if rangeFrame.Kind != resp.Array || len(rangeFrame.Elements) < 3 {
			return slots, proxyerr.ErrProtocol
		}
		start, err := integerPayload(rangeFrame.Elements[0])
		if err != nil {
			return slots, err
		}
		end, err := integerPayload(rangeFrame.Elements[1])
		if err != nil {
			return slots, err
		}
		master := rangeFrame.Elements[2]
		if master.Kind != resp.Array || len(master.Elements) < 2 {
			return slots, proxyerr.ErrProtocol
		}
		ip := string(master.Elements[0].Payload)
		port, err := integerPayload(master.Elements[1])
		if err != nil {
			return slots, err
		}
		host := fmt.Sprintf("%s:%d", ip, port)
		if start < 0 || end >= NumSlots || start > end {
			return slots, proxyerr.ErrProtocol
		}
		for slot := start; slot <= end; slot++ {
			slots[slot] = host
		}
	}
	return slots, nil
}

func integerPayload(f resp.Frame) (int, error) {
	switch f.Kind {
	case resp.Integer:
		n := 0
		neg := false
		for i, c := range f.Payload {
			if i == 0 && c == '-' {
				neg = true
				continue
			}
			if c < '0' || c > '9' {
				return 0, proxyerr.ErrProtocol
			}
			n = n*10 + int(c-'0')
		}
		if neg {
			n = -n
		}
		return n, nil
	case resp.Bulk:
		n := 0
		for _, c := range f.Payload {
			if c < '0' || c > '9' {
				return 0, proxyerr.ErrProtocol
			}
			n = n*10 + int(c-'0')
		}
		return n, nil
	default:
		return 0, proxyerr.ErrProtocol
	}
}
