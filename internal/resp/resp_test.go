package resp

import (
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/redishard/redishard/internal/proxyerr"
)

func TestParseFrameRoundTrip(t *testing.T) {
	cases := []struct {
		name string
		enc  []byte
	}{
		{"simple string", []byte("+OK\r\n")},
		{"error", []byte("-ERR bad thing\r\n")},
		{"integer", []byte(":1000\r\n")},
		{"bulk", []byte("$5\r\nhello\r\n")},
		{"empty bulk", []byte("$0\r\n\r\n")},
		{"null bulk", []byte("$-1\r\n")},
		{"array", EncodeCommand("SET", "a", "1")},
		{"nested array", []byte("*2\r\n*1\r\n$1\r\na\r\n$-1\r\n")},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f, n, err := ParseFrame(tc.enc)
			require.NoError(t, err, spew.Sdump(tc.enc))
			assert.Equal(t, len(tc.enc), n)
			assert.Equal(t, tc.enc, f.Raw)
		})
	}
}

func TestParseFrameNeedsMore(t *testing.T) {
	cases := [][]byte{
		{},
		[]byte("+OK"),
		[]byte("$5\r\nhel"),
		[]byte("*2\r\n$1\r\na\r\n"),
	}
	for _, buf := range cases {
		_, n, err := ParseFrame(buf)
		assert.ErrorIs(t, err, ErrNeedMore)
		assert.Equal(t, 0, n)
	}
}

func TestParseFrameMalformed(t *testing.T) {
	cases := [][]byte{
		[]byte("$abc\r\n"),
		[]byte("*abc\r\n"),
		[]byte("$3\r\nabXX"),
		[]byte("!nope\r\n"),
	}
	for _, buf := range cases {
		_, _, err := ParseFrame(buf)
		assert.ErrorIs(t, err, ErrMalformed)
	}
}

func TestExtractRoutingKeyNext(t *testing.T) {
	buf := EncodeCommand("GET", "mykey")
	f, _, err := ParseFrame(buf)
	require.NoError(t, err)

	key, err := ExtractRoutingKey(f)
	require.NoError(t, err)
	assert.Equal(t, "mykey", string(key))
}

func TestExtractRoutingKeyEval(t *testing.T) {
	buf := EncodeCommand("EVAL", "return 1", "1", "thekey")
	f, _, err := ParseFrame(buf)
	require.NoError(t, err)

	key, err := ExtractRoutingKey(f)
	require.NoError(t, err)
	assert.Equal(t, "thekey", string(key))
}

func TestExtractRoutingKeyEvalWrongNumkeys(t *testing.T) {
	buf := EncodeCommand("EVAL", "return 1", "2", "thekey", "otherkey")
	f, _, err := ParseFrame(buf)
	require.NoError(t, err)

	_, err = ExtractRoutingKey(f)
	assert.ErrorIs(t, err, proxyerr.ErrMalformedCommand)
}

func TestExtractRoutingKeyUnsupported(t *testing.T) {
	buf := EncodeCommand("PING")
	f, _, err := ParseFrame(buf)
	require.NoError(t, err)

	_, err = ExtractRoutingKey(f)
	assert.ErrorIs(t, err, proxyerr.ErrUnsupportedCommand)
}

func TestHashTagIdentityOnEmptyDelimiters(t *testing.T) {
	key := []byte("foo{bar}baz")
	assert.Equal(t, key, HashTag(key, "", ""))
}

func TestHashTagIdentityWhenNotFound(t *testing.T) {
	key := []byte("foobarbaz")
	assert.Equal(t, key, HashTag(key, "{", "}"))
}

func TestHashTagExtractsBetweenDelimiters(t *testing.T) {
	assert.Equal(t, "bar", string(HashTag([]byte("foo{bar}baz"), "{", "}")))
	assert.Equal(t, "bar", string(HashTag([]byte("qux{bar}quux"), "{", "}")))
}

func TestHashTagSingleCharDelimiterDefaultsBToA(t *testing.T) {
	assert.Equal(t, "bar", string(HashTag([]byte("foo$bar$baz"), "$", "")))
}
