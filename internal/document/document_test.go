package document

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polqt/yhub/internal/awareness"
	"github.com/polqt/yhub/internal/extension"
	"github.com/polqt/yhub/internal/persistence"
	"github.com/polqt/yhub/internal/wire"
	"github.com/polqt/yhub/internal/ycrdt"
)

// recordingSender captures every frame handed to Send, for assertions.
type recordingSender struct {
	mu     sync.Mutex
	frames [][]byte
}

func (s *recordingSender) Send(frame []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]byte, len(frame))
	copy(cp, frame)
	s.frames = append(s.frames, cp)
	return nil
}

func (s *recordingSender) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.frames)
}

func (s *recordingSender) reset() {
	s.mu.Lock()
	s.frames = nil
	s.mu.Unlock()
}

func (s *recordingSender) last() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.frames) == 0 {
		return nil
	}
	return s.frames[len(s.frames)-1]
}

func newTestDocument(t *testing.T, unloadGrace time.Duration) *Document {
	t.Helper()
	pipeline := extension.New(nil, func(string, error) {}, nil)
	sched := persistence.New(time.Hour, time.Hour, func(ctx context.Context, name string) error {
		return nil
	}, nil, nil)
	replica := ycrdt.NewReplica()
	doc := New("doc-1", replica, pipeline, sched, unloadGrace, time.Second, time.Minute, nil, nil)
	doc.setState(DocActive)
	return doc
}

func TestAttachSendsSyncStep1(t *testing.T) {
	doc := newTestDocument(t, 50*time.Millisecond)
	sender := &recordingSender{}
	conn := NewConnection("conn:1", sender)

	require.NoError(t, doc.Attach(conn))
	require.Equal(t, 1, sender.count())

	name, kind, payload, err := wire.Decode(sender.last(), 0)
	require.NoError(t, err)
	assert.Equal(t, "doc-1", name)
	assert.Equal(t, wire.KindSync, kind)
	step, _, err := wire.DecodeSyncPayload(payload)
	require.NoError(t, err)
	assert.Equal(t, wire.SyncStep1, step)
}

func TestApplyUpdateFansOutExcludingOrigin(t *testing.T) {
	doc := newTestDocument(t, 50*time.Millisecond)
	senderA := &recordingSender{}
	senderB := &recordingSender{}
	connA := NewConnection("conn:a", senderA)
	connB := NewConnection("conn:b", senderB)
	require.NoError(t, doc.Attach(connA))
	require.NoError(t, doc.Attach(connB))

	// connB's SYNC_STEP_1 gets our SYNC_STEP_2 reply, which moves it to
	// SYNC_STEP2_SENT, a state that accepts steady-state fan-out.
	require.NoError(t, doc.HandleSyncMessage("conn:b", wire.EncodeSyncStep1(nil)))

	senderA.reset()
	senderB.reset()

	// A SYNC_STEP_2 frame from connA both applies the update and advances
	// connA past the handshake threshold that accepts fan-out. The update
	// bytes are produced by an independent source replica so doc's own
	// replica has not already marked the op as seen.
	source := ycrdt.NewReplica()
	update, _ := ycrdt.LocalInsert(source, ycrdt.HeadOpID, 'x')
	require.NoError(t, doc.HandleSyncMessage("conn:a", wire.EncodeSyncStep2(update)))

	assert.Equal(t, 0, senderA.count(), "origin connection must not receive its own update")
	assert.Equal(t, 1, senderB.count(), "every other accepting connection must receive the update")
}

func TestDetachStartsUnloadGraceAndEventuallyCloses(t *testing.T) {
	doc := newTestDocument(t, 50*time.Millisecond)
	sender := &recordingSender{}
	conn := NewConnection("conn:1", sender)
	require.NoError(t, doc.Attach(conn))

	doc.Detach("conn:1")

	require.Eventually(t, func() bool {
		return doc.State() == DocClosed
	}, 2*time.Second, 10*time.Millisecond, "document should close after unload grace elapses with no connections")
}

func TestReattachDuringGraceCancelsUnload(t *testing.T) {
	doc := newTestDocument(t, 300*time.Millisecond)
	senderA := &recordingSender{}
	connA := NewConnection("conn:a", senderA)
	require.NoError(t, doc.Attach(connA))
	doc.Detach("conn:a")

	senderB := &recordingSender{}
	connB := NewConnection("conn:b", senderB)
	require.NoError(t, doc.Attach(connB))

	time.Sleep(500 * time.Millisecond)
	assert.Equal(t, DocActive, doc.State(), "re-attaching before grace elapses must cancel the pending unload")
}

func TestAwarenessBroadcastExcludesOriginator(t *testing.T) {
	doc := newTestDocument(t, 50*time.Millisecond)
	senderA := &recordingSender{}
	senderB := &recordingSender{}
	connA := NewConnection("conn:a", senderA)
	connB := NewConnection("conn:b", senderB)
	require.NoError(t, doc.Attach(connA))
	require.NoError(t, doc.Attach(connB))

	senderA.reset()
	senderB.reset()

	changed := doc.ApplyAwareness("conn:a", []awareness.Entry{{ClientID: 1, Clock: 1, Payload: []byte("cursor")}})
	assert.Len(t, changed, 1)
	assert.Equal(t, 0, senderA.count())
	assert.Equal(t, 1, senderB.count())
}
