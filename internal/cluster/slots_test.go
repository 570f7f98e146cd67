package cluster

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redishard/redishard/internal/resp"
)

func TestParseSlotsReply(t *testing.T) {
	raw := []byte("*2\r\n" +
		"*3\r\n:0\r\n:5460\r\n*2\r\n$9\r\n127.0.0.1\r\n:7000\r\n" +
		"*3\r\n:5461\r\n:10922\r\n*2\r\n$9\r\n127.0.0.1\r\n:7001\r\n")
	frame, consumed, err := resp.ParseFrame(raw)
	require.NoError(t, err)
	assert.Equal(t, len(raw), consumed)

	slots, err := ParseSlotsReply(frame)
	require.NoError(t, err)
	assert.Equal(t, "127.0.0.1:7000", slots[0])
	assert.Equal(t, "127.0.0.1:7000", slots[5460])
	assert.Equal(t, "127.0.0.1:7001", slots[5461])
	assert.Equal(t, "127.0.0.1:7001", slots[10922])
	assert.Equal(t, "", slots[10923])
}

func TestParseSlotsReplyRejectsNonArray(t *testing.T) {
	frame, _, err := resp.ParseFrame([]byte("+OK\r\n"))
	require.NoError(t, err)
	_, err = ParseSlotsReply(frame)
	assert.Error(t, err)
}
