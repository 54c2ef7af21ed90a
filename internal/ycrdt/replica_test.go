package ycrdt

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLocalInsertAndApply(t *testing.T) {
	client := NewReplicaWithClientID(1)
	update, _ := LocalInsert(client, HeadOpID, 'h')
	assert.Equal(t, "h", client.Text())

	server := NewReplicaWithClientID(99)
	require.NoError(t, server.Apply(update, "conn-a"))
	assert.Equal(t, "h", server.Text())
}

func TestApplyIsIdempotent(t *testing.T) {
	client := NewReplicaWithClientID(1)
	update, _ := LocalInsert(client, HeadOpID, 'x')

	server := NewReplicaWithClientID(2)
	var notifications int
	server.Subscribe(func(update []byte, origin string) { notifications++ })

	require.NoError(t, server.Apply(update, "conn-a"))
	require.NoError(t, server.Apply(update, "conn-a")) // re-apply: no-op

	assert.Equal(t, "x", server.Text())
	assert.Equal(t, 1, notifications, "re-applying the same update must not notify a second time")
}

func TestConvergenceOnConcurrentInserts(t *testing.T) {
	a := NewReplicaWithClientID(10)
	b := NewReplicaWithClientID(20)

	updA, _ := LocalInsert(a, HeadOpID, 'A')
	updB, _ := LocalInsert(b, HeadOpID, 'B')

	// Cross-apply: both converge regardless of delivery order.
	require.NoError(t, a.Apply(updB, "peer-b"))
	require.NoError(t, b.Apply(updA, "peer-a"))

	assert.Equal(t, a.Text(), b.Text())
	assert.Len(t, a.Text(), 2)
}

func TestStateVectorDiff(t *testing.T) {
	a := NewReplicaWithClientID(1)
	id1, op1 := func() (LocalOpID, []byte) {
		u, id := LocalInsert(a, HeadOpID, 'h')
		return id, u
	}()
	_ = op1
	_, _ = LocalInsert(a, id1, 'i')

	emptySV := map[uint64]uint64{}
	full := a.EncodeDiff(encodeStateVector(emptySV))

	b := NewReplicaWithClientID(2)
	require.NoError(t, b.Apply(full, "peer-a"))
	assert.Equal(t, a.Text(), b.Text())

	// Diffing against a's own state vector yields nothing new.
	sv := a.EncodeStateVector()
	ops, err := decodeOps(a.EncodeDiff(sv))
	require.NoError(t, err)
	assert.Empty(t, ops)
}

func TestDeleteTombstones(t *testing.T) {
	a := NewReplicaWithClientID(1)
	_, firstID := LocalInsert(a, HeadOpID, 'h')
	_, secondID := LocalInsert(a, firstID, 'i')
	assert.Equal(t, "hi", a.Text())

	del := LocalDelete(a, secondID)
	assert.Equal(t, "h", a.Text())

	b := NewReplicaWithClientID(2)
	full := a.EncodeStateAsUpdate()
	require.NoError(t, b.Apply(full, "peer-a"))
	assert.Equal(t, "h", b.Text())
	_ = del
}

func TestMergePure(t *testing.T) {
	a := NewReplicaWithClientID(1)
	updA, _ := LocalInsert(a, HeadOpID, 'A')
	b := NewReplicaWithClientID(2)
	updB, _ := LocalInsert(b, HeadOpID, 'B')

	merged := Merge(updA, updB)

	c := NewReplicaWithClientID(3)
	require.NoError(t, c.Apply(merged, "merge"))
	assert.Len(t, c.Text(), 2)
}
