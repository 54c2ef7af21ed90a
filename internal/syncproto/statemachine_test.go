package syncproto

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/polqt/yhub/internal/wire"
)

type fakeReplica struct {
	sv   []byte
	diff []byte
}

func (f fakeReplica) EncodeStateVector() []byte        { return f.sv }
func (f fakeReplica) EncodeDiff(remote []byte) []byte { return f.diff }

func TestHandshakeTransitions(t *testing.T) {
	m := NewMachine()
	assert.Equal(t, Unsynced, m.State())
	assert.False(t, m.AcceptsUpdates())

	payload := BuildAttachStep1(m, fakeReplica{sv: []byte("sv")})
	assert.Equal(t, SyncStep1Sent, m.State())
	step, data, err := wire.DecodeSyncPayload(payload)
	assert.NoError(t, err)
	assert.Equal(t, wire.SyncStep1, step)
	assert.Equal(t, "sv", string(data))
	assert.False(t, m.AcceptsUpdates())

	reply := HandleStep1(m, fakeReplica{diff: []byte("diff")}, []byte("peer-sv"))
	assert.Equal(t, SyncStep2Sent, m.State())
	assert.True(t, m.AcceptsUpdates(), "SYNC_STEP2_SENT already accepts updates")
	step, data, err = wire.DecodeSyncPayload(reply)
	assert.NoError(t, err)
	assert.Equal(t, wire.SyncStep2, step)
	assert.Equal(t, "diff", string(data))

	CompleteStep2(m)
	assert.Equal(t, Synced, m.State())
	assert.True(t, m.AcceptsUpdates())
}
