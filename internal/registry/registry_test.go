package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyRanges(t *testing.T) {
	r := New(2, 3)

	assert.Equal(t, ClassAdminListener, r.Classify(AdminListenerID))
	assert.Equal(t, ClassAdminClient, r.Classify(5))
	assert.Equal(t, ClassPoolListener, r.Classify(r.PoolListenerID(0)))
	assert.Equal(t, ClassPoolListener, r.Classify(r.PoolListenerID(1)))
	assert.Equal(t, ClassPoolBackend, r.Classify(r.BackendID(0)))
	assert.Equal(t, ClassPoolBackend, r.Classify(r.BackendID(2)))
	assert.Equal(t, ClassReconnectTimer, r.Classify(r.ReconnectTimerID(0)))
	assert.Equal(t, ClassRequestTimeoutTimer, r.Classify(r.RequestTimeoutTimerID(0)))
	assert.Equal(t, ClassClusterBackend, r.Classify(r.ClusterBackendID(0)))
	assert.Equal(t, ClassPoolClient, r.Classify(r.FirstPoolClientID()))
	assert.Equal(t, ClassPoolClient, r.Classify(r.FirstPoolClientID()+100))
}

func TestIndexRoundTrips(t *testing.T) {
	r := New(4, 10)

	for i := 0; i < 4; i++ {
		assert.Equal(t, i, r.PoolListenerIndex(r.PoolListenerID(i)))
	}
	for i := 0; i < 10; i++ {
		assert.Equal(t, i, r.BackendIndex(r.BackendID(i)))
		assert.Equal(t, i, r.ReconnectTimerIndex(r.ReconnectTimerID(i)))
		assert.Equal(t, i, r.RequestTimeoutTimerIndex(r.RequestTimeoutTimerID(i)))
	}
	for i := 0; i < 3; i++ {
		assert.Equal(t, i, r.ClusterBackendIndex(r.ClusterBackendID(i)))
	}
}

func TestRangesAreDisjoint(t *testing.T) {
	r := New(3, 5)

	ids := map[int]Class{}
	add := func(id int, class Class) {
		if existing, ok := ids[id]; ok {
			t.Fatalf("id %d already classified as %s, cannot also be %s", id, existing, class)
		}
		ids[id] = class
	}

	add(AdminListenerID, ClassAdminListener)
	for i := 0; i < 3; i++ {
		add(r.PoolListenerID(i), ClassPoolListener)
	}
	for i := 0; i < 5; i++ {
		add(r.BackendID(i), ClassPoolBackend)
		add(r.ReconnectTimerID(i), ClassReconnectTimer)
		add(r.RequestTimeoutTimerID(i), ClassRequestTimeoutTimer)
	}
	add(r.ClusterBackendID(0), ClassClusterBackend)
	add(r.FirstPoolClientID(), ClassPoolClient)
}
