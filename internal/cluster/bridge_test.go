package cluster

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/polqt/yhub/internal/document"
	"github.com/polqt/yhub/internal/extension"
)

type fakeDoc struct{ name string }

func (f fakeDoc) Name() string { return f.name }

// recordingApply captures every (docName, update) delivered via
// ApplyRemoteFunc, keyed by document name.
type recordingApply struct {
	mu      sync.Mutex
	applied map[string][][]byte
}

func newRecordingApply() *recordingApply {
	return &recordingApply{applied: make(map[string][][]byte)}
}

func (r *recordingApply) fn(name string, update []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applied[name] = append(r.applied[name], update)
	return nil
}

func (r *recordingApply) countFor(name string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.applied[name])
}

func TestBridgePropagatesBetweenTwoInstances(t *testing.T) {
	bus := NewLocalPubSub()
	applyA := newRecordingApply()
	applyB := newRecordingApply()

	bridgeA := NewBridge(bus, "yhub", "instance-a", applyA.fn, nil, 0, nil)
	bridgeB := NewBridge(bus, "yhub", "instance-b", applyB.fn, nil, 0, nil)

	doc := fakeDoc{name: "doc-1"}
	ctx := extension.NewContext()
	require.NoError(t, bridgeA.AfterLoadDocument(doc, ctx))
	require.NoError(t, bridgeB.AfterLoadDocument(doc, ctx))

	require.NoError(t, bridgeA.OnChange(doc, ctx, []byte("update-1"), "conn:1"))

	assert.Equal(t, 1, applyB.countFor("doc-1"), "instance B should receive instance A's publish")
	assert.Equal(t, 0, applyA.countFor("doc-1"), "instance A must not re-apply its own publish")
}

func TestBridgeDoesNotRepublishStorageOrClusterOrigin(t *testing.T) {
	bus := NewLocalPubSub()
	var published int
	_, err := bus.Subscribe("yhub.doc.doc-1", func([]byte) { published++ })
	require.NoError(t, err)

	apply := newRecordingApply()
	bridge := NewBridge(bus, "yhub", "instance-a", apply.fn, nil, 0, nil)
	doc := fakeDoc{name: "doc-1"}
	ctx := extension.NewContext()

	require.NoError(t, bridge.OnChange(doc, ctx, []byte("x"), document.OriginStorage))
	require.NoError(t, bridge.OnChange(doc, ctx, []byte("x"), document.OriginCluster))
	assert.Equal(t, 0, published)

	require.NoError(t, bridge.OnChange(doc, ctx, []byte("x"), "conn:1"))
	assert.Equal(t, 1, published)
}

func TestBridgeUnsubscribesOnUnload(t *testing.T) {
	bus := NewLocalPubSub()
	apply := newRecordingApply()
	bridge := NewBridge(bus, "yhub", "instance-a", apply.fn, nil, 0, nil)
	doc := fakeDoc{name: "doc-1"}
	ctx := extension.NewContext()

	require.NoError(t, bridge.AfterLoadDocument(doc, ctx))
	require.NoError(t, bridge.BeforeUnloadDocument(doc))

	require.NoError(t, bus.Publish("yhub.doc.doc-1", encodeEnvelope("instance-b", []byte("late"))))
	assert.Equal(t, 0, apply.countFor("doc-1"), "unsubscribed bridge must not apply further messages")
}

func TestBridgeResyncOnReconnect(t *testing.T) {
	bus := NewLocalPubSub()
	applyA := newRecordingApply()
	applyB := newRecordingApply()

	bridgeA := NewBridge(bus, "yhub", "instance-a", applyA.fn, func(name string) ([]byte, bool) {
		return []byte("full-state-of-" + name), true
	}, 0, nil)
	bridgeB := NewBridge(bus, "yhub", "instance-b", applyB.fn, nil, 0, nil)

	doc := fakeDoc{name: "doc-1"}
	ctx := extension.NewContext()
	require.NoError(t, bridgeA.AfterLoadDocument(doc, ctx))
	require.NoError(t, bridgeB.AfterLoadDocument(doc, ctx))

	bus.SimulateReconnect()

	require.Equal(t, 1, applyB.countFor("doc-1"), "peer should receive a resync publish after reconnect")
}
