package ketama

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/redishard/redishard/internal/hashing"
)

func TestLookupEmptyRing(t *testing.T) {
	r := Build(nil, hashing.Fnv1a64)
	_, ok := r.Lookup([]byte("anything"))
	assert.False(t, ok)
}

func TestLookupDeterministic(t *testing.T) {
	entries := []Entry{
		{BackendID: 1, Identity: "10.0.0.1:6379", Weight: 1},
		{BackendID: 2, Identity: "10.0.0.2:6379", Weight: 1},
		{BackendID: 3, Identity: "10.0.0.3:6379", Weight: 1},
	}
	r := Build(entries, hashing.Fnv1a64)

	id1, ok := r.Lookup([]byte("session:42"))
	assert.True(t, ok)
	id2, ok := r.Lookup([]byte("session:42"))
	assert.True(t, ok)
	assert.Equal(t, id1, id2)
}

func TestLookupDistributesAcrossBackends(t *testing.T) {
	entries := []Entry{
		{BackendID: 1, Identity: "10.0.0.1:6379", Weight: 1},
		{BackendID: 2, Identity: "10.0.0.2:6379", Weight: 1},
		{BackendID: 3, Identity: "10.0.0.3:6379", Weight: 1},
	}
	r := Build(entries, hashing.Crc32)

	seen := map[int]bool{}
	for i := 0; i < 200; i++ {
		id, ok := r.Lookup([]byte(fmt.Sprintf("key-%d", i)))
		assert.True(t, ok)
		seen[id] = true
	}
	assert.Len(t, seen, 3)
}

func TestLookupStableAcrossOneBackendLoss(t *testing.T) {
	full := []Entry{
		{BackendID: 1, Identity: "10.0.0.1:6379", Weight: 1},
		{BackendID: 2, Identity: "10.0.0.2:6379", Weight: 1},
		{BackendID: 3, Identity: "10.0.0.3:6379", Weight: 1},
	}
	reduced := full[:2]

	rFull := Build(full, hashing.Murmur)
	rReduced := Build(reduced, hashing.Murmur)

	moved := 0
	const total = 500
	for i := 0; i < total; i++ {
		key := []byte(fmt.Sprintf("k-%d", i))
		before, _ := rFull.Lookup(key)
		after, _ := rReduced.Lookup(key)
		if before != after {
			moved++
		}
	}
	// Only keys owned by the removed backend (~1/3) should move.
	assert.Less(t, moved, total/2)
}

func TestLookupHeavierWeightGetsMoreKeys(t *testing.T) {
	entries := []Entry{
		{BackendID: 1, Identity: "10.0.0.1:6379", Weight: 1},
		{BackendID: 2, Identity: "10.0.0.2:6379", Weight: 9},
	}
	r := Build(entries, hashing.Crc32)

	counts := map[int]int{}
	for i := 0; i < 1000; i++ {
		id, _ := r.Lookup([]byte(fmt.Sprintf("w-%d", i)))
		counts[id]++
	}
	assert.Greater(t, counts[2], counts[1])
}
