// Package document implements the per-name shared Document entity and the
// per-transport-session ClientConnection entity, including the
// per-document serialized transaction queue that replaces a thread-local
// "active transaction" and deferred-unsubscribe races with a single
// ordered task channel — one dedicated worker goroutine per document
// instead of a fixed-size pool, since documents (not requests) are the
// unit of serialization.
package document

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/polqt/yhub/internal/awareness"
	"github.com/polqt/yhub/internal/extension"
	"github.com/polqt/yhub/internal/persistence"
	"github.com/polqt/yhub/internal/syncproto"
	"github.com/polqt/yhub/internal/wire"
	"github.com/polqt/yhub/internal/ycrdt"
)

// Origin tags. Connection-originated updates are tagged with
// the connection's ID directly; the caller of NewConnection (internal/server)
// prefixes every ID with "conn:" so it can never collide with these two
// reserved tags.
const (
	OriginStorage = "storage"
	OriginCluster = "cluster"
)

// DocState is the Document lifecycle state.
type DocState int32

const (
	DocLoading DocState = iota
	DocActive
	DocUnloading
	DocClosed
)

func (s DocState) String() string {
	switch s {
	case DocLoading:
		return "LOADING"
	case DocActive:
		return "ACTIVE"
	case DocUnloading:
		return "UNLOADING"
	case DocClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// ErrUnloading is returned by Attach when the document is mid-unload; the
// caller is expected to await CLOSED and re-enter the registry.
var ErrUnloading = errors.New("document: unloading, retry via registry")

// ErrDocumentClosed is returned by operations submitted after the document
// has fully closed.
var ErrDocumentClosed = errors.New("document: closed")

// connEntry is the shared state one attached connection holds for one
// document: its sync handshake machine. Pointed to from both Document.conns
// and Connection.subs so both sides observe the same machine.
type connEntry struct {
	conn    *Connection
	machine *syncproto.Machine
}

// Document is the named shared entity: one instance per document name,
// owning the replica, the attached-connection set, and the awareness
// channel.
type Document struct {
	name string
	log  *zap.Logger

	state int32 // DocState, atomic

	replica      ycrdt.Replica
	unsubReplica func()
	awarenessCh  *awareness.Channel

	pipeline  *extension.Pipeline
	scheduler *persistence.Scheduler

	mu        sync.Mutex
	conns     map[string]*connEntry
	taskCh    chan func()
	closed    chan struct{}
	closeOnce sync.Once

	unloadGrace   time.Duration
	unloadTimeout time.Duration
	unloadTimer   *time.Timer

	docCtx   *extension.Context // neutral context for hook calls not tied to one connection
	onClosed func(name string)
}

// New constructs a Document in LOADING state. The caller (internal/registry)
// is responsible for driving it through the load procedure before
// transitioning it to ACTIVE and making it visible to new connections.
func New(name string, replica ycrdt.Replica, pipeline *extension.Pipeline, scheduler *persistence.Scheduler, unloadGrace, unloadTimeout, awarenessTimeout time.Duration, onClosed func(name string), log *zap.Logger) *Document {
	docCtx := extension.NewContext()
	docCtx.Lock()
	d := &Document{
		name:          name,
		log:           log,
		state:         int32(DocLoading),
		replica:       replica,
		awarenessCh:   awareness.New(awarenessTimeout),
		pipeline:      pipeline,
		scheduler:     scheduler,
		conns:         make(map[string]*connEntry),
		taskCh:        make(chan func()),
		closed:        make(chan struct{}),
		unloadGrace:   unloadGrace,
		unloadTimeout: unloadTimeout,
		docCtx:        docCtx,
		onClosed:      onClosed,
	}
	d.unsubReplica = replica.Subscribe(d.onReplicaChange)
	go d.runLoop()
	return d
}

// Name satisfies extension.DocumentRef.
func (d *Document) Name() string { return d.name }

// State returns the current lifecycle state.
func (d *Document) State() DocState { return DocState(atomic.LoadInt32(&d.state)) }

func (d *Document) setState(s DocState) { atomic.StoreInt32(&d.state, int32(s)) }

// Context returns the document-scoped hook context used for lifecycle
// calls not tied to any one connection (load, store, unload). It is
// permanently locked — only the per-connection Context accepts Set calls.
func (d *Document) Context() *extension.Context { return d.docCtx }

// Activate transitions a freshly-loaded Document out of LOADING into
// ACTIVE, making it eligible to accept connections. Called by
// internal/registry once the load procedure completes.
func (d *Document) Activate() { d.setState(DocActive) }

// Replica exposes the owned replica for read-only encoding (e.g. the
// registry's save and cluster snapshot, which call it outside transact and
// rely on the replica's own locking). Never call mutating methods on it
// outside transact; use ApplyUpdate instead.
func (d *Document) Replica() ycrdt.Replica { return d.replica }

func (d *Document) runLoop() {
	for {
		select {
		case fn := <-d.taskCh:
			fn()
		case <-d.closed:
			return
		}
	}
}

// transact runs fn serialized with respect to every other transact call on
// this Document. Returns ErrDocumentClosed if the document has already
// closed.
func (d *Document) transact(fn func()) error {
	done := make(chan struct{})
	select {
	case d.taskCh <- func() { fn(); close(done) }:
		<-done
		return nil
	case <-d.closed:
		return ErrDocumentClosed
	}
}

// ApplyUpdate applies update to the replica under the document's
// transaction, tagging the commit with origin. origin is OriginStorage
// during load replay, OriginCluster for cluster-bridge-delivered updates,
// or a connection id for locally-authored edits.
func (d *Document) ApplyUpdate(update []byte, origin string) error {
	var applyErr error
	if err := d.transact(func() { applyErr = d.replica.Apply(update, origin) }); err != nil {
		return err
	}
	return applyErr
}

// onReplicaChange is the replica's single update observer, invoked
// synchronously from within whatever transact call triggered the Apply —
// so it always runs serialized with respect to every other document
// operation, with no extra locking required to read d.conns.
func (d *Document) onReplicaChange(update []byte, origin string) {
	if origin == OriginStorage {
		return // load replay never fans out, persists, or publishes
	}

	ctx := d.docCtx
	if entry, ok := d.conns[origin]; ok {
		ctx = entry.conn.Ctx
	}
	d.pipeline.RunChange(d, ctx, update, origin)
	d.fanOutLocked(update, origin)
	d.scheduler.NotifyDirty(d.name)
}

// fanOutLocked sends update to every attached connection except the
// originator, restricted to connections whose handshake has progressed far
// enough to accept steady-state updates. Must only be called from within a
// transact closure.
func (d *Document) fanOutLocked(update []byte, origin string) {
	frame := wire.Encode(d.name, wire.KindSync, wire.EncodeUpdate(update))
	for connID, entry := range d.conns {
		if connID == origin {
			continue
		}
		if !entry.machine.AcceptsUpdates() {
			continue
		}
		if err := entry.conn.Send(frame); err != nil && d.log != nil {
			d.log.Debug("fan-out send failed", zap.String("document", d.name), zap.String("connection", connID), zap.Error(err))
		}
	}
}

// ─────────────────────────────────────────────────────────────
// Attach / Detach
// ─────────────────────────────────────────────────────────────

// Attach adds conn to this document's connection set and kicks the sync
// handshake by immediately sending SYNC_STEP_1. Returns ErrUnloading if
// called while the document is mid-unload.
func (d *Document) Attach(conn *Connection) error {
	if d.State() == DocUnloading {
		return ErrUnloading
	}
	var step1 []byte
	err := d.transact(func() {
		if d.unloadTimer != nil {
			d.unloadTimer.Stop()
			d.unloadTimer = nil
		}
		entry := &connEntry{conn: conn, machine: syncproto.NewMachine()}
		d.conns[conn.ID] = entry
		conn.addSubscription(d.name, entry)
		step1 = syncproto.BuildAttachStep1(entry.machine, d.replica)
	})
	if err != nil {
		return err
	}
	frame := wire.Encode(d.name, wire.KindSync, step1)
	return conn.Send(frame)
}

// Detach removes connID from the connection set. If the set becomes empty,
// an unload-grace timer starts; if no connection attaches before it
// fires, the document transitions to UNLOADING.
func (d *Document) Detach(connID string) {
	_ = d.transact(func() {
		if entry, ok := d.conns[connID]; ok {
			entry.conn.forgetSubscription(d.name)
		}
		delete(d.conns, connID)
		if len(d.conns) == 0 && d.State() == DocActive {
			d.unloadTimer = time.AfterFunc(d.unloadGrace, d.onUnloadGraceFired)
		}
		tomb := d.awarenessCh.RemoveConnection(connID)
		if len(tomb) > 0 {
			d.broadcastAwarenessLocked(connID, tomb)
		}
	})
}

func (d *Document) onUnloadGraceFired() {
	proceed := false
	_ = d.transact(func() {
		if len(d.conns) == 0 && d.State() == DocActive {
			d.setState(DocUnloading)
			proceed = true
		}
	})
	if proceed {
		d.unload()
	}
}

// unload drives the UNLOADING → CLOSED shutdown sequence: flush
// pending saves synchronously (bounded), run beforeUnloadDocument hooks,
// release the replica, transition CLOSED, then notify the registry.
func (d *Document) unload() {
	ctx, cancel := context.WithTimeout(context.Background(), d.unloadTimeout)
	defer cancel()
	if err := d.scheduler.Flush(ctx, d.name); err != nil && d.log != nil {
		d.log.Warn("flush on unload failed", zap.String("document", d.name), zap.Error(err))
	}
	d.pipeline.RunBeforeUnloadDocument(d)

	_ = d.transact(func() {
		d.unsubReplica()
		d.setState(DocClosed)
	})
	d.pipeline.RunAfterUnloadDocument(d.name)

	d.closeOnce.Do(func() { close(d.closed) })
	if d.onClosed != nil {
		d.onClosed(d.name)
	}
}

// ForceUnload immediately begins the shutdown sequence regardless of grace
// timers or remaining connections, used by server shutdown and by
// the registry to discard a document whose load failed. It does nothing if
// the document is already UNLOADING or CLOSED.
func (d *Document) ForceUnload() {
	var proceed bool
	_ = d.transact(func() {
		if d.State() == DocClosed || d.State() == DocUnloading {
			return
		}
		if d.unloadTimer != nil {
			d.unloadTimer.Stop()
		}
		d.setState(DocUnloading)
		proceed = true
	})
	if proceed {
		d.unload()
	}
}

// ─────────────────────────────────────────────────────────────
// Awareness
// ─────────────────────────────────────────────────────────────

// ApplyAwareness merges entries advertised by connID and fans out whatever
// was actually adopted to every other attached connection. Runs under the
// document's transaction, the same as any other document mutation.
func (d *Document) ApplyAwareness(connID string, entries []awareness.Entry) []awareness.Entry {
	var changed []awareness.Entry
	_ = d.transact(func() {
		changed = d.awarenessCh.Apply(connID, entries)
		if len(changed) > 0 {
			d.broadcastAwarenessLocked(connID, changed)
		}
	})
	return changed
}

// AwarenessSnapshot returns every current awareness entry, for
// QUERY_AWARENESS and for bootstrapping a newly-attached connection.
func (d *Document) AwarenessSnapshot() []awareness.Entry {
	return d.awarenessCh.Snapshot()
}

// CheckAwarenessStale tombstones and fans out any entry that has gone
// silent past the configured timeout.
func (d *Document) CheckAwarenessStale() {
	_ = d.transact(func() {
		stale := d.awarenessCh.CheckStale()
		if len(stale) > 0 {
			d.broadcastAwarenessLocked("", stale)
		}
	})
}

// broadcastAwarenessLocked must only be called from within a transact
// closure.
func (d *Document) broadcastAwarenessLocked(excludeConnID string, entries []awareness.Entry) {
	frame := wire.Encode(d.name, wire.KindAwareness, wire.EncodeAwarenessPayload(awareness.EncodeUpdate(entries)))
	for connID, entry := range d.conns {
		if connID == excludeConnID {
			continue
		}
		if err := entry.conn.Send(frame); err != nil && d.log != nil {
			d.log.Debug("awareness fan-out send failed", zap.String("document", d.name), zap.String("connection", connID), zap.Error(err))
		}
	}
}

// HandleSyncMessage dispatches a decoded SYNC-kind payload for connID,
// advancing its handshake machine and applying/replying as needed.
func (d *Document) HandleSyncMessage(connID string, payload []byte) error {
	step, data, err := wire.DecodeSyncPayload(payload)
	if err != nil {
		return err
	}

	var reply []byte
	var applyErr error
	var conn *Connection
	txErr := d.transact(func() {
		entry, ok := d.conns[connID]
		if !ok {
			return
		}
		conn = entry.conn
		switch step {
		case wire.SyncStep1:
			reply = syncproto.HandleStep1(entry.machine, d.replica, data)
		case wire.SyncStep2:
			applyErr = d.replica.Apply(data, connID)
			syncproto.CompleteStep2(entry.machine)
		case wire.SyncUpdate:
			applyErr = d.replica.Apply(data, connID)
		}
	})
	if txErr != nil {
		return txErr
	}
	if applyErr != nil {
		return applyErr
	}
	if reply != nil && conn != nil {
		return conn.Send(wire.Encode(d.name, wire.KindSync, reply))
	}
	return nil
}
