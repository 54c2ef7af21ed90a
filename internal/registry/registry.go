// Package registry implements the document registry: the race-free
// "at most one load per name" entry point every connection goes through to
// reach a Document, built on golang.org/x/sync/singleflight the same way a
// cache-stampede guard dedupes concurrent misses for the same key.
package registry

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/polqt/yhub/internal/document"
	"github.com/polqt/yhub/internal/extension"
	"github.com/polqt/yhub/internal/persistence"
	"github.com/polqt/yhub/internal/ycrdt"
)

// Config bundles the lifecycle durations every loaded Document is built
// with.
type Config struct {
	Debounce         time.Duration
	MaxDebounce      time.Duration
	UnloadGrace      time.Duration
	UnloadTimeout    time.Duration
	AwarenessTimeout time.Duration
}

// Registry owns the resident Document set, the shared persistence
// Scheduler, and the shared extension Pipeline every Document is built
// with.
type Registry struct {
	storage  persistence.Storage
	pipeline *extension.Pipeline
	sched    *persistence.Scheduler
	cfg      Config
	log      *zap.Logger

	mu    sync.Mutex
	docs  map[string]*document.Document
	group singleflight.Group
}

// New builds a Registry. onSaveError receives debounced-save failures
// (forwarded from the scheduler).
func New(storage persistence.Storage, pipeline *extension.Pipeline, cfg Config, onSaveError func(name string, err error), log *zap.Logger) *Registry {
	r := &Registry{
		storage:  storage,
		pipeline: pipeline,
		cfg:      cfg,
		log:      log,
		docs:     make(map[string]*document.Document),
	}
	r.sched = persistence.New(cfg.Debounce, cfg.MaxDebounce, r.save, onSaveError, log)
	return r
}

// GetOrCreate returns the resident Document for name, loading it from
// storage if this is the first request to observe it: concurrent callers
// for the same name that race here block on a single in-flight load and
// all observe its result.
//
// If the returned Document is in the UNLOADING state — a race between this
// call and a just-starting shutdown that has not yet removed the name from
// the registry — the caller should treat it like ErrUnloading from
// Document.Attach: wait briefly and call GetOrCreate again, by which point
// the document will have finished closing and a fresh load will start.
func (r *Registry) GetOrCreate(ctx context.Context, name string) (*document.Document, error) {
	if d, ok := r.resident(name); ok {
		return d, nil
	}

	v, err, _ := r.group.Do(name, func() (any, error) {
		if d, ok := r.resident(name); ok {
			return d, nil
		}
		d, err := r.load(ctx, name)
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.docs[name] = d
		r.mu.Unlock()
		return d, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*document.Document), nil
}

// Lookup returns the resident Document for name without triggering a load,
// for callers (e.g. the server orchestrator's disconnect cleanup) that must
// not resurrect a document solely to detach a connection from it.
func (r *Registry) Lookup(name string) (*document.Document, bool) {
	return r.resident(name)
}

func (r *Registry) resident(name string) (*document.Document, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	d, ok := r.docs[name]
	if !ok || d.State() == document.DocClosed {
		return nil, false
	}
	return d, true
}

// load runs the load procedure for a brand-new-to-this-process
// Document: construct it in LOADING, apply any persisted snapshot,
// run the onCreateDocument/onLoadDocument/afterLoadDocument hook stages,
// then activate it.
func (r *Registry) load(ctx context.Context, name string) (*document.Document, error) {
	replica := ycrdt.NewReplica()
	doc := document.New(name, replica, r.pipeline, r.sched,
		r.cfg.UnloadGrace, r.cfg.UnloadTimeout, r.cfg.AwarenessTimeout,
		r.remove, r.log)
	hookCtx := doc.Context()

	data, existed, err := r.storage.Load(ctx, name)
	if err != nil {
		doc.ForceUnload()
		return nil, err
	}

	if !existed {
		r.pipeline.RunCreateDocument(doc, hookCtx)
	} else if err := doc.ApplyUpdate(data, document.OriginStorage); err != nil {
		doc.ForceUnload()
		return nil, err
	}

	applyStoragePayload := func(payload []byte) {
		if err := doc.ApplyUpdate(payload, document.OriginStorage); err != nil && r.log != nil {
			r.log.Warn("onLoadDocument payload failed to apply", zap.String("document", name), zap.Error(err))
		}
	}
	if err := r.pipeline.RunLoadDocument(doc, hookCtx, applyStoragePayload); err != nil {
		doc.ForceUnload()
		return nil, err
	}

	if errs := r.pipeline.RunAfterLoadDocument(doc, hookCtx); len(errs) > 0 && r.log != nil {
		r.log.Warn("afterLoadDocument reported errors", zap.String("document", name), zap.Int("count", len(errs)))
	}

	doc.Activate()
	return doc, nil
}

// save is the scheduler's SaveFunc: encode the replica's current state,
// run it through onStoreDocument's transform chain, persist it, then run
// afterStoreDocument.
func (r *Registry) save(ctx context.Context, name string) error {
	d, ok := r.resident(name)
	if !ok {
		return nil // unloaded before this debounced save fired
	}
	state := d.Replica().EncodeStateAsUpdate()
	state = r.pipeline.RunStoreDocument(d, d.Context(), state)
	if err := r.storage.Store(ctx, name, state); err != nil {
		return err
	}
	r.pipeline.RunAfterStoreDocument(d, d.Context())
	return nil
}

func (r *Registry) remove(name string) {
	r.mu.Lock()
	delete(r.docs, name)
	r.mu.Unlock()
}

// Scheduler exposes the shared persistence Scheduler, e.g. for the server
// orchestrator to flush every resident document at shutdown.
func (r *Registry) Scheduler() *persistence.Scheduler { return r.sched }

// Resident returns every currently-loaded document name, for shutdown
// iteration and diagnostics.
func (r *Registry) Resident() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.docs))
	for name := range r.docs {
		names = append(names, name)
	}
	return names
}

// ForceUnloadAll begins the shutdown unload sequence on every resident
// document.
func (r *Registry) ForceUnloadAll() {
	for _, name := range r.Resident() {
		if d, ok := r.resident(name); ok {
			d.ForceUnload()
		}
	}
}

// ApplyRemoteUpdate delivers a cluster-originated update to a resident
// document, tagged so it fans out locally but is never republished. Used
// as the cluster bridge's ApplyRemoteFunc. A document that is not
// currently resident silently drops the update — it has no local
// connections to fan out to, and the next load will reflect whatever
// storage holds once a peer's debounced save lands.
func (r *Registry) ApplyRemoteUpdate(name string, update []byte) error {
	d, ok := r.resident(name)
	if !ok {
		return nil
	}
	return d.ApplyUpdate(update, document.OriginCluster)
}

// Snapshot returns a resident document's current full state, used as the
// cluster bridge's SnapshotFunc to drive post-reconnect resync.
func (r *Registry) Snapshot(name string) ([]byte, bool) {
	d, ok := r.resident(name)
	if !ok {
		return nil, false
	}
	return d.Replica().EncodeStateAsUpdate(), true
}
