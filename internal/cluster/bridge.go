package cluster

import (
	"sync"

	"go.uber.org/zap"

	"github.com/polqt/yhub/internal/document"
	"github.com/polqt/yhub/internal/extension"
)

// ApplyRemoteFunc delivers a cluster-originated update to the named
// document, tagged with document.OriginCluster so it fans out locally but
// is never re-published.
type ApplyRemoteFunc func(docName string, update []byte) error

// SnapshotFunc returns the current full state of a resident document, used
// to drive the post-reconnect resync. ok is false if the document is no
// longer resident.
type SnapshotFunc func(docName string) (update []byte, ok bool)

// Bridge is the cluster bridge extension: it subscribes to a document's
// cluster subject on load, publishes locally-authored changes on onChange,
// and unsubscribes on unload. It implements extension.AfterLoadDocumentHook,
// extension.ChangeHook, and extension.BeforeUnloadDocumentHook — the
// pipeline wires it in purely by type assertion, same as every other
// Extension.
type Bridge struct {
	pubsub      PubSub
	prefix      string
	instanceID  string
	applyRemote ApplyRemoteFunc
	snapshot    SnapshotFunc
	priority    int
	log         *zap.Logger

	mu   sync.Mutex
	subs map[string]func()
}

// NewBridge constructs a Bridge. prefix namespaces subjects (so multiple
// deployments can share one broker); instanceID distinguishes this
// process's own publishes from peers' for echo suppression.
func NewBridge(pubsub PubSub, prefix, instanceID string, applyRemote ApplyRemoteFunc, snapshot SnapshotFunc, priority int, log *zap.Logger) *Bridge {
	b := &Bridge{
		pubsub:      pubsub,
		prefix:      prefix,
		instanceID:  instanceID,
		applyRemote: applyRemote,
		snapshot:    snapshot,
		priority:    priority,
		log:         log,
		subs:        make(map[string]func()),
	}
	pubsub.OnReconnect(b.resyncAll)
	return b
}

func (b *Bridge) Name() string  { return "cluster-bridge" }
func (b *Bridge) Priority() int { return b.priority }

func (b *Bridge) subject(name string) string {
	return b.prefix + ".doc." + name
}

// AfterLoadDocument subscribes to the document's cluster subject. A
// subscribe failure is returned so the caller can record a degraded-cluster
// state — the document still loads and serves local clients.
func (b *Bridge) AfterLoadDocument(doc extension.DocumentRef, _ *extension.Context) error {
	name := doc.Name()
	unsub, err := b.pubsub.Subscribe(b.subject(name), func(data []byte) {
		b.onMessage(name, data)
	})
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.subs[name] = unsub
	b.mu.Unlock()
	return nil
}

func (b *Bridge) onMessage(name string, data []byte) {
	senderID, update, err := decodeEnvelope(data)
	if err != nil {
		if b.log != nil {
			b.log.Warn("cluster: dropping malformed envelope", zap.String("document", name), zap.Error(err))
		}
		return
	}
	if senderID == b.instanceID {
		return // our own publish, echoed back by the broker
	}
	if err := b.applyRemote(name, update); err != nil && b.log != nil {
		b.log.Warn("cluster: applying remote update failed", zap.String("document", name), zap.Error(err))
	}
}

// OnChange publishes locally-authored changes to the cluster. Updates that
// originated from storage replay or from another cluster member are never
// republished, which also prevents an infinite publish loop between two
// bridges.
func (b *Bridge) OnChange(doc extension.DocumentRef, _ *extension.Context, update []byte, origin string) error {
	if origin == document.OriginStorage || origin == document.OriginCluster {
		return nil
	}
	return b.pubsub.Publish(b.subject(doc.Name()), encodeEnvelope(b.instanceID, update))
}

// BeforeUnloadDocument unsubscribes from the document's cluster subject.
func (b *Bridge) BeforeUnloadDocument(doc extension.DocumentRef) error {
	name := doc.Name()
	b.mu.Lock()
	unsub, ok := b.subs[name]
	delete(b.subs, name)
	b.mu.Unlock()
	if !ok {
		return nil
	}
	unsub()
	return nil
}

// resyncAll republishes the full current state of every document this
// bridge is subscribed to, so peers that missed updates during a broker
// disconnect converge once connectivity returns.
func (b *Bridge) resyncAll() {
	if b.snapshot == nil {
		return
	}
	b.mu.Lock()
	names := make([]string, 0, len(b.subs))
	for name := range b.subs {
		names = append(names, name)
	}
	b.mu.Unlock()

	for _, name := range names {
		state, ok := b.snapshot(name)
		if !ok {
			continue
		}
		if err := b.pubsub.Publish(b.subject(name), encodeEnvelope(b.instanceID, state)); err != nil && b.log != nil {
			b.log.Warn("cluster: resync publish failed", zap.String("document", name), zap.Error(err))
		}
	}
}
