package hashing

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCRC16X25KnownVector(t *testing.T) {
	// "123456789" is the standard CRC check string; CRC-16/X-25
	// specifies a check value of 0x906E for it.
	assert.Equal(t, uint16(0x906E), CRC16X25([]byte("123456789")))
}

func TestHashDeterministic(t *testing.T) {
	for _, fn := range []Function{Crc16, Crc32, Fnv1a64, Murmur, Jenkins} {
		a := Hash(fn, []byte("somekey"))
		b := Hash(fn, []byte("somekey"))
		assert.Equal(t, a, b)
	}
}

func TestHashDistinguishesKeys(t *testing.T) {
	for _, fn := range []Function{Crc16, Crc32, Fnv1a64, Murmur, Jenkins} {
		a := Hash(fn, []byte("key-one"))
		b := Hash(fn, []byte("key-two"))
		assert.NotEqual(t, a, b)
	}
}

func TestParseFunction(t *testing.T) {
	cases := map[string]Function{
		"Crc16":   Crc16,
		"Crc32":   Crc32,
		"Fnv1a64": Fnv1a64,
		"Murmur":  Murmur,
		"Jenkins": Jenkins,
	}
	for s, want := range cases {
		got, ok := ParseFunction(s)
		assert.True(t, ok)
		assert.Equal(t, want, got)
	}
	_, ok := ParseFunction("Nope")
	assert.False(t, ok)
}
